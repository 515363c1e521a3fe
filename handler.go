package chronovoice

import (
	"github.com/bt-bridge/chronovoice/audio"
	"github.com/bt-bridge/chronovoice/live"
	"github.com/bt-bridge/chronovoice/shared"
	"github.com/bt-bridge/chronovoice/tools"
	"go.uber.org/zap"
)

// sessionHandler binds live session callbacks to one lifecycle. Every
// callback is dropped once that lifecycle is no longer current.
type sessionHandler struct {
	c      *Controller
	lc     *lifecycle
	logger shared.LoggerAdapter
}

var _ live.Handler = (*sessionHandler)(nil)

func (h *sessionHandler) OnOpen() {
	graph, session, ok := h.c.connected(h.lc)
	if !ok {
		h.logger.Debug("ignoring open signal of a stale session")
		return
	}
	h.logger.Info("live session open")

	source, err := graph.AttachCapture()
	if err != nil {
		err = &shared.DeviceError{Op: "attach capture", Err: err}
		h.c.fail(h.lc, err, err.Error())
		return
	}
	if !h.c.adopt(h.lc, func() { h.lc.source = source }) {
		source.Disconnect()
		return
	}
	err = source.Start(func(block []float32) {
		h.send(session, block)
	})
	if err != nil {
		err = &shared.DeviceError{Op: "start capture", Err: err}
		h.c.fail(h.lc, err, err.Error())
	}
}

func (h *sessionHandler) send(session live.Session, block []float32) {
	ctx := h.lc.ctx
	if ctx.Err() != nil {
		return
	}
	blob := tools.Encode(block, audio.InputSampleRate)
	if err := session.SendRealtimeInput(ctx, blob); err != nil {
		if ctx.Err() != nil {
			return
		}
		h.c.metrics.SendFailures.Inc()
		h.logger.Warn("sending audio block failed", zap.Error(err))
		return
	}
	h.c.metrics.BlocksSent.Inc()
}

func (h *sessionHandler) OnMessage(msg *live.Message) {
	if msg == nil || h.lc.ctx.Err() != nil {
		return
	}
	for _, blob := range msg.Audio {
		chunk, err := tools.DecodeBlob(blob, audio.OutputSampleRate, 1)
		if err != nil {
			h.c.metrics.CodecErrors.Inc()
			h.logger.Warn("dropping undecodable audio part", zap.Error(err))
			continue
		}
		scheduler := h.c.scheduler(h.lc)
		if scheduler == nil {
			return
		}
		if _, err := scheduler.Enqueue(chunk); err != nil {
			h.logger.Debug("dropping audio chunk", zap.Error(err))
			continue
		}
		h.c.metrics.ChunksEnqueued.Inc()
	}
	for _, text := range msg.Text {
		h.logger.Info("model text", zap.String("text", text))
	}
	if msg.Interrupted {
		if scheduler := h.c.scheduler(h.lc); scheduler != nil {
			stopped := scheduler.Interrupt()
			h.c.metrics.Interruptions.Inc()
			h.logger.Info("playback interrupted", zap.Int("stopped", stopped))
		}
	}
	if msg.TurnComplete {
		h.logger.Debug("model turn complete")
	}
	if msg.GoAway != "" {
		h.logger.Warn("live session ending soon", zap.String("time_left", msg.GoAway))
	}
}

func (h *sessionHandler) OnClose(reason error) {
	if h.c.cleanup(h.lc, StateDisconnected, "", reason) {
		h.logger.Info("live session closed", zap.NamedError("reason", reason))
	}
}

func (h *sessionHandler) OnError(err error) {
	msg := "Connection to the live API failed: " + err.Error()
	h.c.fail(h.lc, err, msg)
}

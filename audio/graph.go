package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/bt-bridge/chronovoice/shared"
	"go.uber.org/zap"
)

// OutputContext is the playback device context: a Mixer rendered by a Sink.
type OutputContext struct {
	*Mixer
	sink Sink
}

func (o *OutputContext) Resume(ctx context.Context) error {
	return o.sink.Resume(ctx)
}

func (o *OutputContext) Close() error {
	sinkErr := o.sink.Close()
	return errors.Join(sinkErr, o.Mixer.Close())
}

type Contexts struct {
	Input  *InputContext
	Output *OutputContext
}

type GraphOption func(*Graph)

func WithBlockSize(n int) GraphOption {
	return func(g *Graph) {
		if n > 0 {
			g.blockSize = n
		}
	}
}

// Graph owns both device contexts of one session lifecycle and the nodes
// between them. A Graph is opened once and closed once.
type Graph struct {
	backend   Backend
	logger    shared.LoggerAdapter
	blockSize int

	mu       sync.Mutex
	input    *InputContext
	output   *OutputContext
	analyser *Analyser
	source   *FrameSource
	opened   bool
	closed   bool
}

func NewGraph(backend Backend, logger shared.LoggerAdapter, opts ...GraphOption) (*Graph, error) {
	if backend == nil {
		return nil, shared.ErrNoAudioBackend
	}
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	g := &Graph{
		backend:   backend,
		logger:    logger.With(zap.String("component", "audio_graph")),
		blockSize: CaptureBlockSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Open creates the 16 kHz input context over stream and the 24 kHz output
// context, then resumes both. Anything created before a failure is released.
func (g *Graph) Open(ctx context.Context, stream Stream) (*Contexts, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, &shared.DeviceError{Op: "open", Err: ErrContextClosed}
	}
	if g.opened {
		return nil, &shared.DeviceError{Op: "open", Err: ErrAlreadyOpen}
	}
	if stream == nil {
		return nil, &shared.DeviceError{Op: "create input context", Err: errors.New("no capture stream")}
	}

	input := newInputContext(stream, InputSampleRate)
	analyser := NewAnalyser(AnalyserFFTSize)
	mixer := NewMixer(OutputSampleRate, analyser)
	sink, err := g.backend.OpenOutput(OutputSampleRate, 1, mixer)
	if err != nil {
		_ = input.Close()
		return nil, &shared.DeviceError{Op: "create output context", Err: err}
	}
	output := &OutputContext{Mixer: mixer, sink: sink}

	if err := output.Resume(ctx); err != nil {
		g.closeQuietly(input, output)
		return nil, &shared.DeviceError{Op: "resume output context", Err: err}
	}
	if err := input.Resume(ctx); err != nil {
		g.closeQuietly(input, output)
		return nil, &shared.DeviceError{Op: "resume input context", Err: err}
	}

	g.input, g.output, g.analyser = input, output, analyser
	g.opened = true
	g.logger.Debug(
		"audio graph opened",
		zap.Int("input_rate", InputSampleRate),
		zap.Int("output_rate", OutputSampleRate),
	)
	return &Contexts{Input: input, Output: output}, nil
}

func (g *Graph) closeQuietly(input *InputContext, output *OutputContext) {
	if err := output.Close(); err != nil {
		g.logger.Warn("closing output context", zap.Error(err))
	}
	if err := input.Close(); err != nil {
		g.logger.Warn("closing input context", zap.Error(err))
	}
}

// AttachCapture wraps the input stream into a frame source of fixed blocks.
func (g *Graph) AttachCapture() (*FrameSource, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.opened || g.closed {
		return nil, ErrNotOpen
	}
	if g.source != nil {
		return g.source, nil
	}
	g.source = newFrameSource(g.input.stream, g.input.rate, g.blockSize, g.logger)
	return g.source, nil
}

// AttachOutputSink wires gain -> analyser -> destination and returns the
// node playback is scheduled on plus a volume sampler over the analyser.
func (g *Graph) AttachOutputSink() (Output, VolumeSampler, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.opened || g.closed {
		return nil, nil, ErrNotOpen
	}
	g.output.SetGain(1)
	analyser := g.analyser
	return g.output, analyser.Volume, nil
}

// Close releases both contexts. Close failures are logged, never returned.
func (g *Graph) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	source, input, output := g.source, g.input, g.output
	g.source, g.input, g.output = nil, nil, nil
	g.mu.Unlock()

	if source != nil {
		source.Disconnect()
	}
	if output != nil {
		if err := output.Close(); err != nil {
			g.logger.Warn("closing output context", zap.Error(err))
		}
	}
	if input != nil {
		if err := input.Close(); err != nil {
			g.logger.Warn("closing input context", zap.Error(err))
		}
	}
	g.logger.Debug("audio graph closed")
}

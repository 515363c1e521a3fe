package devices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bt-bridge/chronovoice/audio"
	"github.com/bt-bridge/chronovoice/shared"
	"github.com/bt-bridge/chronovoice/tools"
	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"
)

const defaultSpeakerBuffer = 100 * time.Millisecond

// oto allows one context per process, so every Speaker shares it.
var process struct {
	once     sync.Once
	ctx      *oto.Context
	ready    chan struct{}
	err      error
	rate     int
	channels int
}

func otoContext(rate, channels int, buffer time.Duration) (*oto.Context, chan struct{}, error) {
	process.once.Do(func() {
		process.rate, process.channels = rate, channels
		process.ctx, process.ready, process.err = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   buffer,
		})
	})
	if process.err != nil {
		return nil, nil, process.err
	}
	if process.rate != rate || process.channels != channels {
		return nil, nil, fmt.Errorf(
			"speaker already opened at %d Hz x%d, cannot reopen at %d Hz x%d",
			process.rate, process.channels, rate, channels,
		)
	}
	return process.ctx, process.ready, nil
}

// Speaker is an audio.Backend that plays through the default output device.
type Speaker struct {
	logger shared.LoggerAdapter
	buffer time.Duration
}

var _ audio.Backend = (*Speaker)(nil)

func NewSpeaker(logger shared.LoggerAdapter, bufferMs int) (*Speaker, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	buffer := time.Duration(bufferMs) * time.Millisecond
	if buffer <= 0 {
		buffer = defaultSpeakerBuffer
	}
	return &Speaker{
		logger: logger.With(zap.String("component", "speaker")),
		buffer: buffer,
	}, nil
}

func (s *Speaker) OpenOutput(sampleRate, channels int, src io.Reader) (audio.Sink, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid output format %d Hz x%d", sampleRate, channels)
	}
	if src == nil {
		return nil, errors.New("no output source")
	}
	ctx, ready, err := otoContext(sampleRate, channels, s.buffer)
	if err != nil {
		return nil, fmt.Errorf("creating oto context: %w", err)
	}
	player := ctx.NewPlayer(src)
	// s16le, two bytes per sample
	player.SetBufferSize(tools.FrameSamples(s.buffer, sampleRate, channels) * 2)
	return &speakerSink{
		ctx:    ctx,
		ready:  ready,
		player: player,
		logger: s.logger,
	}, nil
}

type speakerSink struct {
	ctx    *oto.Context
	ready  chan struct{}
	player *oto.Player
	logger shared.LoggerAdapter

	mu     sync.Mutex
	closed bool
}

// Resume waits for the device, resumes the shared context and starts the
// player pulling from the mixer.
func (s *speakerSink) Resume(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrContextClosed
	}
	if err := s.ctx.Resume(); err != nil {
		return fmt.Errorf("resuming oto context: %w", err)
	}
	s.player.Play()
	s.logger.Debug("speaker playing")
	return nil
}

func (s *speakerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("closing oto player: %w", err)
	}
	return nil
}

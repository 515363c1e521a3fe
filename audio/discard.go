package audio

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/bt-bridge/chronovoice/tools"
)

// DiscardBackend renders the output at real-time cadence and throws the PCM
// away. It keeps the output clock moving when no speaker is attached.
type DiscardBackend struct {
	Period time.Duration
}

func (d DiscardBackend) OpenOutput(sampleRate, channels int, src io.Reader) (Sink, error) {
	period := d.Period
	if period <= 0 {
		period = 20 * time.Millisecond
	}
	return &discardSink{
		src:    src,
		period: period,
		buf:    make([]byte, tools.FrameSamples(period, sampleRate, channels)*2),
	}, nil
}

type discardSink struct {
	src    io.Reader
	period time.Duration
	buf    []byte

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
	closed  bool
}

func (s *discardSink) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrContextClosed
	}
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.pull(s.stop, s.stopped)
	return nil
}

func (s *discardSink) pull(stop, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.src.Read(s.buf); err != nil {
				return
			}
		}
	}
}

func (s *discardSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, stopped := s.stop, s.stopped
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-stopped
	}
	return nil
}

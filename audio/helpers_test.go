package audio

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
)

type fakeStream struct {
	rate    int
	ch      chan []float32
	done    chan struct{}
	once    sync.Once
	stopped atomic.Bool
}

func newFakeStream(rate int) *fakeStream {
	return &fakeStream{
		rate: rate,
		ch:   make(chan []float32, 64),
		done: make(chan struct{}),
	}
}

func (f *fakeStream) Read() ([]float32, error) {
	select {
	case s := <-f.ch:
		return s, nil
	case <-f.done:
		return nil, io.EOF
	}
}

func (f *fakeStream) SampleRate() int {
	return f.rate
}

func (f *fakeStream) Stop() {
	f.once.Do(func() {
		f.stopped.Store(true)
		close(f.done)
	})
}

type fakeSink struct {
	resumeErr error
	resumed   atomic.Bool
	closed    atomic.Int32
}

func (s *fakeSink) Resume(ctx context.Context) error {
	if s.resumeErr != nil {
		return s.resumeErr
	}
	s.resumed.Store(true)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed.Add(1)
	return errors.New("sink already gone")
}

type fakeBackend struct {
	openErr   error
	resumeErr error
	sinks     []*fakeSink
	src       io.Reader
}

func (b *fakeBackend) OpenOutput(sampleRate, channels int, src io.Reader) (Sink, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	s := &fakeSink{resumeErr: b.resumeErr}
	b.sinks = append(b.sinks, s)
	b.src = src
	return s, nil
}

// render pulls seconds of audio from a mixer the way a device would.
func render(m *Mixer, seconds float64) []byte {
	frames := int(math.Round(seconds * float64(m.SampleRate())))
	p := make([]byte, frames*2)
	n, _ := m.Read(p)
	return p[:n]
}

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

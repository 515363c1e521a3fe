package chronovoice

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bt-bridge/chronovoice/audio"
	"github.com/bt-bridge/chronovoice/live"
	"github.com/bt-bridge/chronovoice/metrics"
	"github.com/bt-bridge/chronovoice/shared"
	"github.com/bt-bridge/chronovoice/tools"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeStream struct {
	ch      chan []float32
	done    chan struct{}
	once    sync.Once
	stopped atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{
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
	return audio.InputSampleRate
}

func (f *fakeStream) Stop() {
	f.stopped.Add(1)
	f.once.Do(func() { close(f.done) })
}

type fakeMicrophone struct {
	err     error
	calls   atomic.Int32
	streams []*fakeStream
	mu      sync.Mutex
}

func (m *fakeMicrophone) Request(ctx context.Context) (audio.Stream, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	s := newFakeStream()
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeMicrophone) last() *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[len(m.streams)-1]
}

type fakeSink struct {
	closed atomic.Int32
}

func (s *fakeSink) Resume(ctx context.Context) error { return nil }

func (s *fakeSink) Close() error {
	s.closed.Add(1)
	return nil
}

// fakeBackend never pulls, so the output clock stays at zero and scheduled
// chunks stay pending until stopped.
type fakeBackend struct {
	err   error
	opens atomic.Int32
	mu    sync.Mutex
	sinks []*fakeSink
}

func (b *fakeBackend) OpenOutput(sampleRate, channels int, src io.Reader) (audio.Sink, error) {
	b.opens.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	s := new(fakeSink)
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
	return s, nil
}

func (b *fakeBackend) last() *fakeSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinks[len(b.sinks)-1]
}

type fakeSession struct {
	mu      sync.Mutex
	handler live.Handler
	sendErr error
	sent    chan tools.Blob
	closed  atomic.Int32
}

func (s *fakeSession) Start(h live.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return live.ErrAlreadyStarted
	}
	s.handler = h
	return nil
}

func (s *fakeSession) SendRealtimeInput(ctx context.Context, blob tools.Blob) error {
	s.mu.Lock()
	err := s.sendErr
	s.sendErr = nil
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.sent <- blob
	return nil
}

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

func (s *fakeSession) h() live.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

type fakeDialer struct {
	err      error
	mu       sync.Mutex
	configs  []live.Config
	sessions []*fakeSession
}

func (d *fakeDialer) Dial(ctx context.Context, cfg live.Config) (live.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs = append(d.configs, cfg)
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeSession{sent: make(chan tools.Blob, 64)}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[len(d.sessions)-1]
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.configs)
}

type fixture struct {
	ctrl    *Controller
	mic     *fakeMicrophone
	backend *fakeBackend
	dialer  *fakeDialer
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		mic:     new(fakeMicrophone),
		backend: new(fakeBackend),
		dialer:  new(fakeDialer),
	}
	opts := Options{
		Session: shared.SessionConfig{
			Model:    "gemini-test",
			Voice:    "Fenrir",
			Greeting: "hello",
		},
		Dialer:         f.dialer,
		Microphone:     f.mic,
		Backend:        f.backend,
		Credentials:    shared.StaticCredentials{Key: "test-key"},
		Metrics:        metrics.New(),
		Logger:         shared.NewNopLogger(),
		VolumeInterval: 5 * time.Millisecond,
		Clock: func() time.Time {
			return time.Date(2025, time.July, 20, 20, 17, 0, 0, time.UTC)
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	ctrl, err := NewController(opts)
	require.NoError(t, err)
	t.Cleanup(ctrl.Disconnect)
	f.ctrl = ctrl
	return f
}

// open connects and delivers the session's open signal.
func (f *fixture) open(t *testing.T) *fakeSession {
	t.Helper()
	require.NoError(t, f.ctrl.Connect(context.Background()))
	sess := f.dialer.last()
	sess.h().OnOpen()
	require.Equal(t, StateConnected, f.ctrl.State())
	return sess
}

func (f *fixture) lifecycle() *lifecycle {
	f.ctrl.mu.Lock()
	defer f.ctrl.mu.Unlock()
	return f.ctrl.lc
}

func tone(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if (i/12)%2 == 0 {
			out[i] = 0.5
		} else {
			out[i] = -0.5
		}
	}
	return out
}

type recordedStates struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *recordedStates) record(s Snapshot) {
	r.mu.Lock()
	r.states = append(r.states, s.State)
	r.mu.Unlock()
}

func (r *recordedStates) get() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.states...)
}

var errDenied = errors.New("NotAllowedError: permission denied")

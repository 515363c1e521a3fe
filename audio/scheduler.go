package audio

import (
	"errors"
	"sync"

	"github.com/bt-bridge/chronovoice/shared"
	"github.com/bt-bridge/chronovoice/tools"
	"go.uber.org/zap"
)

// ScheduleObserver is told where each chunk was placed relative to the
// device clock.
type ScheduleObserver func(startAt, now float64)

// PendingObserver receives the pending count after every change. It runs
// under the scheduler lock so counts arrive in order, and must not call back
// into the scheduler.
type PendingObserver func(pending int)

type playback struct {
	handle Handle
}

// Scheduler lays decoded chunks end to end on an Output. Chunks play in
// arrival order without gaps or overlap; Interrupt drops everything queued.
type Scheduler struct {
	mu       sync.Mutex
	out      Output
	logger   shared.LoggerAdapter
	cursor   float64
	pending  map[*playback]struct{}
	observer ScheduleObserver
	onChange PendingObserver
}

func NewScheduler(out Output, logger shared.LoggerAdapter) *Scheduler {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	return &Scheduler{
		out:     out,
		logger:  logger.With(zap.String("component", "scheduler")),
		pending: make(map[*playback]struct{}),
	}
}

func (s *Scheduler) SetObserver(fn ScheduleObserver) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

func (s *Scheduler) SetPendingObserver(fn PendingObserver) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Enqueue schedules chunk at max(cursor, now) and advances the cursor by its
// duration. It returns the start time on the output clock.
func (s *Scheduler) Enqueue(chunk *tools.Chunk) (float64, error) {
	if chunk == nil {
		return 0, errors.New("nil chunk")
	}
	samples := chunk.Mono()
	if s.out != nil && chunk.SampleRate != s.out.SampleRate() {
		samples = tools.Resample(samples, chunk.SampleRate, s.out.SampleRate())
	}

	s.mu.Lock()
	if s.out == nil {
		s.mu.Unlock()
		return 0, ErrNotOpen
	}
	now := s.out.CurrentTime()
	startAt := max(s.cursor, now)

	p := &playback{}
	handle, err := s.out.Schedule(samples, startAt, func() { s.finished(p) })
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	p.handle = handle
	s.pending[p] = struct{}{}
	s.cursor = startAt + chunk.Duration()
	if s.observer != nil {
		s.observer(startAt, now)
	}
	pending := len(s.pending)
	s.notifyPendingLocked()
	s.mu.Unlock()

	s.logger.Trace(
		"chunk scheduled",
		zap.Float64("start_at", startAt),
		zap.Float64("duration", chunk.Duration()),
		zap.Int("pending", pending),
	)
	return startAt, nil
}

func (s *Scheduler) finished(p *playback) {
	s.mu.Lock()
	if _, ok := s.pending[p]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, p)
	s.notifyPendingLocked()
	s.mu.Unlock()
}

func (s *Scheduler) notifyPendingLocked() {
	if s.onChange != nil {
		s.onChange(len(s.pending))
	}
}

// Interrupt stops every pending playback, clears the set and rewinds the
// cursor to zero. It returns how many playbacks were stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	stopped := make([]Handle, 0, len(s.pending))
	for p := range s.pending {
		stopped = append(stopped, p.handle)
	}
	s.pending = make(map[*playback]struct{})
	s.cursor = 0
	s.notifyPendingLocked()
	s.mu.Unlock()

	for _, h := range stopped {
		h.Stop()
	}
	if len(stopped) > 0 {
		s.logger.Debug("playback interrupted", zap.Int("stopped", len(stopped)))
	}
	return len(stopped)
}

// Reset is Interrupt for teardown; it is safe on an empty set or a closed
// output.
func (s *Scheduler) Reset() {
	s.Interrupt()
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

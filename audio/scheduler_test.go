package audio

import (
	"math"
	"testing"

	"github.com/bt-bridge/chronovoice/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkOf(seconds float64) *tools.Chunk {
	return &tools.Chunk{
		Samples:    constant(int(math.Round(seconds*OutputSampleRate)), 0.1),
		SampleRate: OutputSampleRate,
		Channels:   1,
	}
}

func TestSchedulerBackToBack(t *testing.T) {
	m := NewMixer(OutputSampleRate, nil)
	s := NewScheduler(m, nil)

	durations := []float64{0.2, 0.35, 0.1, 0.5}
	var starts []float64
	for _, d := range durations {
		at, err := s.Enqueue(chunkOf(d))
		require.NoError(t, err)
		starts = append(starts, at)
	}

	sum := 0.0
	for i, d := range durations {
		assert.InDelta(t, sum, starts[i]-starts[0], 1e-9, "chunk %d", i)
		sum += d
	}
	assert.InDelta(t, sum, s.Cursor(), 1e-9)
	assert.Equal(t, len(durations), s.Pending())
}

func TestSchedulerStartsAtDeviceTimeAfterIdle(t *testing.T) {
	m := NewMixer(OutputSampleRate, nil)
	s := NewScheduler(m, nil)

	_, err := s.Enqueue(chunkOf(0.1))
	require.NoError(t, err)
	render(m, 1)

	at, err := s.Enqueue(chunkOf(0.1))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, at, 1e-9)
	assert.GreaterOrEqual(t, at, m.CurrentTime())
	assert.InDelta(t, 1.1, s.Cursor(), 1e-9)
}

func TestSchedulerNoGapWhileAhead(t *testing.T) {
	m := NewMixer(OutputSampleRate, nil)
	s := NewScheduler(m, nil)

	_, err := s.Enqueue(chunkOf(0.5))
	require.NoError(t, err)
	render(m, 0.25)

	at, err := s.Enqueue(chunkOf(0.5))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, at, 1e-9)

	// playback is continuous across the chunk boundary
	p := render(m, 0.5)
	for frame := 0; frame < len(p)/2; frame++ {
		require.NotEqual(t, int16(0), sampleAt(p, frame), "gap at frame %d", frame)
	}
}

func TestSchedulerDeregistersOnCompletion(t *testing.T) {
	m := NewMixer(OutputSampleRate, nil)
	s := NewScheduler(m, nil)

	for range 3 {
		_, err := s.Enqueue(chunkOf(0.1))
		require.NoError(t, err)
	}
	render(m, 0.15)
	assert.Equal(t, 2, s.Pending())
	render(m, 0.2)
	assert.Equal(t, 0, s.Pending())
}

func TestSchedulerReportsPendingChanges(t *testing.T) {
	m := NewMixer(OutputSampleRate, nil)
	s := NewScheduler(m, nil)
	var counts []int
	s.SetPendingObserver(func(pending int) { counts = append(counts, pending) })

	for range 2 {
		_, err := s.Enqueue(chunkOf(0.1))
		require.NoError(t, err)
	}
	render(m, 0.15)
	_, err := s.Enqueue(chunkOf(0.1))
	require.NoError(t, err)
	s.Interrupt()

	assert.Equal(t, []int{1, 2, 1, 2, 0}, counts)
}

func TestSchedulerInterrupt(t *testing.T) {
	m := NewMixer(OutputSampleRate, nil)
	s := NewScheduler(m, nil)

	for range 5 {
		_, err := s.Enqueue(chunkOf(0.2))
		require.NoError(t, err)
	}
	render(m, 0.1)

	assert.Equal(t, 5, s.Interrupt())
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 0.0, s.Cursor())
	assert.Equal(t, 0, m.Active())

	p := render(m, 0.1)
	assert.Equal(t, int16(0), sampleAt(p, 0))

	assert.Equal(t, 0, s.Interrupt())
}

func TestSchedulerStartsFreshAfterInterrupt(t *testing.T) {
	m := NewMixer(OutputSampleRate, nil)
	s := NewScheduler(m, nil)

	_, err := s.Enqueue(chunkOf(1))
	require.NoError(t, err)
	render(m, 0.3)
	s.Interrupt()

	at, err := s.Enqueue(chunkOf(0.1))
	require.NoError(t, err)
	assert.InDelta(t, 0.3, at, 1e-9)
}

func TestSchedulerResetOnClosedOutput(t *testing.T) {
	m := NewMixer(OutputSampleRate, nil)
	s := NewScheduler(m, nil)

	s.Reset()
	_, err := s.Enqueue(chunkOf(0.1))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.NotPanics(t, s.Reset)
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 0.0, s.Cursor())

	_, err = s.Enqueue(chunkOf(0.1))
	assert.ErrorIs(t, err, ErrContextClosed)
	assert.Equal(t, 0.0, s.Cursor())
}

func TestSchedulerStopFinishedIsNoop(t *testing.T) {
	m := NewMixer(OutputSampleRate, nil)
	s := NewScheduler(m, nil)

	_, err := s.Enqueue(chunkOf(0.05))
	require.NoError(t, err)
	render(m, 0.1)
	require.Equal(t, 0, s.Pending())
	assert.NotPanics(t, func() { s.Interrupt() })
}

func TestSchedulerResamplesForeignRate(t *testing.T) {
	m := NewMixer(OutputSampleRate, nil)
	s := NewScheduler(m, nil)

	chunk := &tools.Chunk{Samples: constant(1600, 0.1), SampleRate: 16000, Channels: 1}
	_, err := s.Enqueue(chunk)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, s.Cursor(), 1e-9)
}

func TestSchedulerObserver(t *testing.T) {
	m := NewMixer(OutputSampleRate, nil)
	s := NewScheduler(m, nil)
	var ahead []float64
	s.SetObserver(func(startAt, now float64) { ahead = append(ahead, startAt-now) })

	_, err := s.Enqueue(chunkOf(0.2))
	require.NoError(t, err)
	_, err = s.Enqueue(chunkOf(0.2))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.2}, ahead, 1e-9)
}

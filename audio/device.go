package audio

import (
	"context"
	"errors"
	"io"
)

const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	CaptureBlockSize = 4096
	AnalyserFFTSize  = 256
)

var (
	ErrContextClosed = errors.New("audio context closed")
	ErrNotOpen       = errors.New("audio graph not open")
	ErrAlreadyOpen   = errors.New("audio graph already open")
)

// Stream is a live microphone stream.
type Stream interface {
	// Read blocks until more samples are available and returns io.EOF once the
	// stream is stopped.
	Read() ([]float32, error)
	SampleRate() int
	// Stop ends every track of the stream. It is idempotent.
	Stop()
}

// Backend creates the physical output that pulls rendered PCM from src.
type Backend interface {
	OpenOutput(sampleRate, channels int, src io.Reader) (Sink, error)
}

type Sink interface {
	Resume(ctx context.Context) error
	Close() error
}

// Output is the playback side a Scheduler writes to.
type Output interface {
	SampleRate() int
	CurrentTime() float64
	Schedule(samples []float32, at float64, onEnded func()) (Handle, error)
}

// Handle is one scheduled playback. Stop is idempotent.
type Handle interface {
	Stop()
}

// VolumeSampler returns the current playback volume in [0, 1].
type VolumeSampler func() float64

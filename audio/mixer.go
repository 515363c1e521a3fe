package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
)

// Mixer is the software output context. Its clock is the number of frames
// pulled by the device, so CurrentTime only advances while a sink renders.
type Mixer struct {
	mu       sync.Mutex
	rate     int
	frame    int64
	gain     float32
	voices   []*voice
	scratch  []float32
	analyser *Analyser
	closed   bool
}

var _ Output = (*Mixer)(nil)

func NewMixer(sampleRate int, analyser *Analyser) *Mixer {
	return &Mixer{
		rate:     sampleRate,
		gain:     1,
		analyser: analyser,
	}
}

type voice struct {
	m       *Mixer
	samples []float32
	start   int64
	done    bool
	onEnded func()
}

func (v *voice) Stop() {
	v.m.stop(v)
}

func (m *Mixer) SampleRate() int {
	return m.rate
}

func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.frame) / float64(m.rate)
}

func (m *Mixer) SetGain(gain float32) {
	m.mu.Lock()
	m.gain = gain
	m.mu.Unlock()
}

// Active is the number of voices scheduled but not yet finished.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Schedule starts samples at time at (seconds on the mixer clock). A start in
// the past begins at the current frame.
func (m *Mixer) Schedule(samples []float32, at float64, onEnded func()) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrContextClosed
	}
	start := int64(math.Round(at * float64(m.rate)))
	if start < m.frame {
		start = m.frame
	}
	v := &voice{
		m:       m,
		samples: samples,
		start:   start,
		onEnded: onEnded,
	}
	m.voices = append(m.voices, v)
	return v, nil
}

func (m *Mixer) stop(v *voice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.done {
		return
	}
	v.done = true
	for i, other := range m.voices {
		if other == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			break
		}
	}
}

// Read renders mono s16le frames into p. Ended callbacks run after the
// mixer lock is released.
func (m *Mixer) Read(p []byte) (int, error) {
	frames := len(p) / 2
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.EOF
	}
	if frames == 0 {
		m.mu.Unlock()
		return 0, nil
	}
	if cap(m.scratch) < frames {
		m.scratch = make([]float32, frames)
	}
	buf := m.scratch[:frames]
	clear(buf)

	from, to := m.frame, m.frame+int64(frames)
	for _, v := range m.voices {
		lo := max(v.start, from)
		hi := min(v.start+int64(len(v.samples)), to)
		for t := lo; t < hi; t++ {
			buf[t-from] += v.samples[t-v.start]
		}
	}
	for i, s := range buf {
		s *= m.gain
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf[i] = s
		binary.LittleEndian.PutUint16(p[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	if m.analyser != nil {
		m.analyser.write(buf)
	}
	m.frame = to

	var ended []func()
	kept := m.voices[:0]
	for _, v := range m.voices {
		if v.start+int64(len(v.samples)) <= m.frame {
			v.done = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(m.voices[len(kept):])
	m.voices = kept
	m.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
	return frames * 2, nil
}

// Close drops every voice without firing ended callbacks. It is idempotent.
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, v := range m.voices {
		v.done = true
	}
	m.voices = nil
	return nil
}

package devices

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/bt-bridge/chronovoice/shared"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChunkReader struct {
	chunks   []wave.Audio
	errs     []error
	released atomic.Int32
}

func (r *fakeChunkReader) Read() (wave.Audio, func(), error) {
	release := func() { r.released.Add(1) }
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return nil, release, err
	}
	if len(r.chunks) == 0 {
		return nil, release, io.EOF
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	return c, release, nil
}

type fakeCloser struct {
	closed atomic.Int32
}

func (c *fakeCloser) Close() error {
	c.closed.Add(1)
	return nil
}

func TestStreamConvertsInt16Stereo(t *testing.T) {
	reader := &fakeChunkReader{chunks: []wave.Audio{
		&wave.Int16Interleaved{
			Data: []int16{16384, 16384, -32768, 0},
			Size: wave.ChunkInfo{Len: 2, Channels: 2, SamplingRate: 48000},
		},
	}}
	s := newStream(reader, nil, 16000, shared.NewNopLogger())
	assert.Equal(t, 16000, s.SampleRate())

	samples, err := s.Read()
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.InDelta(t, 0.5, samples[0], 1e-6)
	assert.InDelta(t, -0.5, samples[1], 1e-6)
	assert.Equal(t, 48000, s.SampleRate())
	assert.Equal(t, int32(1), reader.released.Load())
}

func TestStreamSkipsUnsupportedChunks(t *testing.T) {
	reader := &fakeChunkReader{chunks: []wave.Audio{
		&wave.Int16Interleaved{Size: wave.ChunkInfo{Len: 0, Channels: 1, SamplingRate: 16000}},
		&wave.Float32Interleaved{
			Data: []float32{0.25, -0.25, 1},
			Size: wave.ChunkInfo{Len: 3, Channels: 1, SamplingRate: 16000},
		},
	}}
	s := newStream(reader, nil, 16000, shared.NewNopLogger())

	samples, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.25, 1}, samples)

	_, err = s.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamReadError(t *testing.T) {
	boom := errors.New("device unplugged")
	reader := &fakeChunkReader{errs: []error{boom}}
	s := newStream(reader, nil, 16000, shared.NewNopLogger())

	_, err := s.Read()
	assert.ErrorIs(t, err, boom)
}

func TestStreamStopClosesTracksOnce(t *testing.T) {
	c1, c2 := new(fakeCloser), new(fakeCloser)
	s := newStream(new(fakeChunkReader), []io.Closer{c1, c2}, 16000, shared.NewNopLogger())

	s.Stop()
	s.Stop()
	assert.Equal(t, int32(1), c1.closed.Load())
	assert.Equal(t, int32(1), c2.closed.Load())

	_, err := s.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewMicrophoneRequiresLogger(t *testing.T) {
	_, err := NewMicrophone(nil)
	assert.ErrorIs(t, err, shared.ErrNoLogger)
}

func TestRequestWithCancelledContext(t *testing.T) {
	m, err := NewMicrophone(shared.NewNopLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.Request(ctx)
	var deviceErr *shared.DeviceError
	require.ErrorAs(t, err, &deviceErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "device", shared.Kind(err))
}

package devices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bt-bridge/chronovoice/audio"
	"github.com/bt-bridge/chronovoice/shared"
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"go.uber.org/zap"
)

// Microphone opens the default capture device through mediadevices.
type Microphone struct {
	logger     shared.LoggerAdapter
	sampleRate int
}

func NewMicrophone(logger shared.LoggerAdapter) (*Microphone, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &Microphone{
		logger:     logger.With(zap.String("component", "microphone")),
		sampleRate: audio.InputSampleRate,
	}, nil
}

// Request asks for a mono 16-bit stream at the capture rate. The driver may
// still deliver another rate; the stream reports what it actually gets.
func (m *Microphone) Request(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &shared.DeviceError{Op: "request microphone", Err: err}
	}
	media, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(m.sampleRate)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
		Codec: mediadevices.NewCodecSelector(),
	})
	if err != nil {
		return nil, &shared.PermissionError{Err: err}
	}

	tracks := media.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, &shared.PermissionError{Err: errors.New("no audio track granted")}
	}
	closers := make([]io.Closer, 0, len(tracks))
	for _, t := range tracks {
		closers = append(closers, t)
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		closeAll(closers, m.logger)
		return nil, &shared.PermissionError{Err: fmt.Errorf("unexpected track type %T", tracks[0])}
	}
	m.logger.Info("microphone granted", zap.String("track", track.ID()), zap.Int("tracks", len(tracks)))
	return newStream(track.NewReader(false), closers, m.sampleRate, m.logger), nil
}

// chunkReader is the read side of a mediadevices audio track.
type chunkReader interface {
	Read() (wave.Audio, func(), error)
}

type stream struct {
	reader  chunkReader
	closers []io.Closer
	logger  shared.LoggerAdapter

	rate    atomic.Int64
	stopped atomic.Bool
	once    sync.Once
}

var _ audio.Stream = (*stream)(nil)

func newStream(reader chunkReader, closers []io.Closer, rate int, logger shared.LoggerAdapter) *stream {
	s := &stream{reader: reader, closers: closers, logger: logger}
	s.rate.Store(int64(rate))
	return s
}

// Read returns the next chunk as mono float32. Multi-channel input is
// averaged down.
func (s *stream) Read() ([]float32, error) {
	for {
		if s.stopped.Load() {
			return nil, io.EOF
		}
		chunk, release, err := s.reader.Read()
		if err != nil {
			if release != nil {
				release()
			}
			if s.stopped.Load() || errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading microphone track: %w", err)
		}
		samples, rate, convErr := toMono(chunk)
		if release != nil {
			release()
		}
		if convErr != nil {
			s.logger.Warn("dropping microphone chunk", zap.Error(convErr))
			continue
		}
		if len(samples) == 0 {
			continue
		}
		if rate > 0 {
			s.rate.Store(int64(rate))
		}
		return samples, nil
	}
}

func (s *stream) SampleRate() int {
	return int(s.rate.Load())
}

func (s *stream) Stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		closeAll(s.closers, s.logger)
		s.logger.Debug("microphone stopped")
	})
}

func toMono(chunk wave.Audio) ([]float32, int, error) {
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		info := c.Size
		return downmix(info, func(i int) float32 {
			return float32(c.Data[i]) / 32768
		}), info.SamplingRate, nil
	case *wave.Float32Interleaved:
		info := c.Size
		return downmix(info, func(i int) float32 {
			return c.Data[i]
		}), info.SamplingRate, nil
	case nil:
		return nil, 0, errors.New("empty chunk")
	default:
		return nil, 0, fmt.Errorf("unsupported sample format %T", chunk)
	}
}

func downmix(info wave.ChunkInfo, at func(i int) float32) []float32 {
	channels := max(info.Channels, 1)
	out := make([]float32, info.Len)
	for i := range out {
		var sum float32
		for ch := range channels {
			sum += at(i*channels + ch)
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func closeAll(closers []io.Closer, logger shared.LoggerAdapter) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("closing microphone track", zap.Error(err))
		}
	}
}

package tools

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"mime"
	"strconv"

	"github.com/bt-bridge/chronovoice/shared"
)

const pcmMimeType = "audio/pcm"

// Blob is one base64 PCM16LE payload as carried by the live session.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Chunk is a decoded, immutable unit of playback audio. Samples are
// interleaved when Channels > 1.
type Chunk struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

func (c *Chunk) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration is the playback length in seconds.
func (c *Chunk) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}

// Mono returns the first channel of the chunk.
func (c *Chunk) Mono() []float32 {
	if c.Channels <= 1 {
		return c.Samples
	}
	out := make([]float32, c.Frames())
	for i := range out {
		out[i] = c.Samples[i*c.Channels]
	}
	return out
}

func MimeType(sampleRate int) string {
	return pcmMimeType + ";rate=" + strconv.Itoa(sampleRate)
}

// ParseRate extracts the rate parameter of an audio/pcm mime type.
func ParseRate(mimeType string) (int, bool) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil || mediaType != pcmMimeType {
		return 0, false
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}

// EncodePCM converts samples in [-1, 1] to 16-bit little-endian PCM.
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * math.MaxInt16)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func Encode(samples []float32, sampleRate int) Blob {
	return Blob{
		MimeType: MimeType(sampleRate),
		Data:     base64.StdEncoding.EncodeToString(EncodePCM(samples)),
	}
}

func Decode(payload []byte, sampleRate, channels int) (*Chunk, error) {
	if sampleRate <= 0 {
		return nil, &shared.CodecError{Reason: fmt.Sprintf("invalid sample rate %d", sampleRate)}
	}
	if channels <= 0 {
		return nil, &shared.CodecError{Reason: fmt.Sprintf("invalid channel count %d", channels)}
	}
	if len(payload)%(2*channels) != 0 {
		return nil, &shared.CodecError{
			Reason: fmt.Sprintf("payload length %d is not a multiple of %d", len(payload), 2*channels),
		}
	}
	samples := make([]float32, len(payload)/2)
	for i := range samples {
		v := float32(int16(binary.LittleEndian.Uint16(payload[i*2:]))) / math.MaxInt16
		if v < -1 {
			v = -1
		}
		samples[i] = v
	}
	return &Chunk{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// DecodeBlob decodes a base64 blob. The rate is taken from the mime type when
// it carries one.
func DecodeBlob(b Blob, fallbackRate, channels int) (*Chunk, error) {
	payload, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, &shared.CodecError{Reason: "invalid base64 payload", Err: err}
	}
	rate := fallbackRate
	if r, ok := ParseRate(b.MimeType); ok {
		rate = r
	}
	return Decode(payload, rate, channels)
}

package tools

import (
	"encoding/base64"
	"math"
	"testing"

	"github.com/bt-bridge/chronovoice/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePCM(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected []byte
	}{
		{name: "silence", samples: []float32{0}, expected: []byte{0x00, 0x00}},
		{name: "full scale positive", samples: []float32{1}, expected: []byte{0xff, 0x7f}},
		{name: "full scale negative", samples: []float32{-1}, expected: []byte{0x01, 0x80}},
		{name: "clamped above", samples: []float32{1.5}, expected: []byte{0xff, 0x7f}},
		{name: "clamped below", samples: []float32{-3}, expected: []byte{0x00, 0x80}},
		{name: "empty", samples: nil, expected: []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EncodePCM(tt.samples))
		})
	}
}

func TestEncodeDeclaresRate(t *testing.T) {
	blob := Encode([]float32{0.25, -0.25}, 16000)
	assert.Equal(t, "audio/pcm;rate=16000", blob.MimeType)

	raw, err := base64.StdEncoding.DecodeString(blob.Data)
	require.NoError(t, err)
	assert.Len(t, raw, 4)
}

func TestRoundTrip(t *testing.T) {
	samples := make([]float32, 0, 2002)
	for i := -1000; i <= 1000; i++ {
		samples = append(samples, float32(i)/1000)
	}
	samples = append(samples, float32(math.Sin(1.234)))

	chunk, err := DecodeBlob(Encode(samples, 16000), 24000, 1)
	require.NoError(t, err)
	require.Len(t, chunk.Samples, len(samples))
	assert.Equal(t, 16000, chunk.SampleRate)
	for i, s := range samples {
		assert.InDelta(t, s, chunk.Samples[i], 1.0/32767, "sample %d", i)
	}
}

func TestDecode(t *testing.T) {
	payload := EncodePCM(make([]float32, 2400))
	chunk, err := Decode(payload, 24000, 1)
	require.NoError(t, err)
	assert.Equal(t, 2400, chunk.Frames())
	assert.InDelta(t, 0.1, chunk.Duration(), 1e-9)

	stereo, err := Decode(EncodePCM([]float32{0.5, -0.5, 0.25, -0.25}), 24000, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stereo.Frames())
	assert.InDeltaSlice(t, []float32{0.5, 0.25}, stereo.Mono(), 1.0/32767)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		rate     int
		channels int
	}{
		{name: "odd length", payload: []byte{0x01, 0x02, 0x03}, rate: 24000, channels: 1},
		{name: "partial stereo frame", payload: []byte{0x01, 0x02}, rate: 24000, channels: 2},
		{name: "zero rate", payload: []byte{0x01, 0x02}, rate: 0, channels: 1},
		{name: "zero channels", payload: []byte{0x01, 0x02}, rate: 24000, channels: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload, tt.rate, tt.channels)
			var codecErr *shared.CodecError
			assert.ErrorAs(t, err, &codecErr)
			assert.Equal(t, "codec", shared.Kind(err))
		})
	}
}

func TestDecodeBlobInvalidBase64(t *testing.T) {
	_, err := DecodeBlob(Blob{MimeType: MimeType(24000), Data: "!!not base64!!"}, 24000, 1)
	var codecErr *shared.CodecError
	require.ErrorAs(t, err, &codecErr)
	assert.Error(t, codecErr.Unwrap())
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		mime string
		rate int
		ok   bool
	}{
		{mime: "audio/pcm;rate=24000", rate: 24000, ok: true},
		{mime: "audio/pcm; rate=16000", rate: 16000, ok: true},
		{mime: "audio/pcm", ok: false},
		{mime: "audio/wav;rate=16000", ok: false},
		{mime: "audio/pcm;rate=abc", ok: false},
		{mime: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			rate, ok := ParseRate(tt.mime)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.rate, rate)
		})
	}
}

// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("ulaw")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), c.PayloadType)
	assert.Equal(t, uint32(8000), c.SampleRate)

	c, err = CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, CodecUlaw, c)

	c, err = CodecByName("slin16")
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), c.SampleRate)

	_, err = CodecByName("g729")
	assert.Error(t, err)
}

func TestUlawRoundTrip(t *testing.T) {
	const samples = 160 // 320 bytes = 160 PCM16 samples, one 20ms frame
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		// Bounded-amplitude sine-ish pattern: keeps the expected mu-law
		// quantization error proportionally small without needing a math.Sin import.
		v := int16((i%64 - 32) * 200)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}

	encoded, err := CodecUlaw.Encode(pcm)
	require.NoError(t, err)
	assert.Len(t, encoded, samples)

	decoded, err := CodecUlaw.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, samples*2)

	// mu-law is lossy; bound the per-sample quantization error relative to
	// amplitude instead of requiring bit-exact equality.
	for i := 0; i < samples; i++ {
		orig := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		got := int16(uint16(decoded[i*2]) | uint16(decoded[i*2+1])<<8)
		diff := int32(orig) - int32(got)
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, int32(300), "sample %d quantization error too large", i)
	}
}

func TestSlin16PassThrough(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}

	encoded, err := CodecSlin16.Encode(pcm)
	require.NoError(t, err)
	assert.Equal(t, pcm, encoded)

	decoded, err := CodecSlin16.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded)
}

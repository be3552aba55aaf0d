// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUlawRoundTrip(t *testing.T) {
	lpcm := make([]byte, 320)
	for i := 0; i < 160; i++ {
		v := int16((i%64 - 32) * 200)
		lpcm[i*2] = byte(v)
		lpcm[i*2+1] = byte(v >> 8)
	}

	ulaw := make([]byte, 160)
	n, err := EncodeUlawTo(ulaw, lpcm)
	require.NoError(t, err)
	assert.Equal(t, 160, n)

	decoded := make([]byte, 320)
	n, err = DecodeUlawTo(decoded, ulaw)
	require.NoError(t, err)
	assert.Equal(t, 320, n)
}

func TestDecodeUlawToNilInput(t *testing.T) {
	decoded := make([]byte, 0)
	n, err := DecodeUlawTo(decoded, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEncodeUlawToShortBuffer(t *testing.T) {
	_, err := EncodeUlawTo(make([]byte, 1), make([]byte, 160))
	assert.Error(t, err)
}

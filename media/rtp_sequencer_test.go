// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendSequencerWraps(t *testing.T) {
	s := SendSequencer{seq: 1<<16 - 1}

	assert.Equal(t, uint16(1<<16-1), s.Next())
	assert.Equal(t, uint16(0), s.Next())
	assert.Equal(t, uint16(1), s.Next())
}

func TestSendSequencerMonotonic(t *testing.T) {
	s := NewSendSequencer()
	first := s.Next()
	for i := 0; i < 100; i++ {
		next := s.Next()
		assert.Equal(t, first+uint16(i)+1, next)
	}
}

// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"encoding/binary"
	"errors"
)

// ErrOddPCMFrame is returned when a buffer's length is not a whole number
// of 16-bit samples. Per spec.md §4.2 this is a ResampleError: callers
// must pass the frame through unresampled and count a warning rather than
// propagate the error up the receive/send path.
var ErrOddPCMFrame = errors.New("media: PCM16 buffer has odd byte length")

// Resampler performs stateful linear-rate conversion of mono PCM16 little
// endian audio between 8 kHz and 16 kHz. Two independent instances are
// needed per session (inbound 8→16, outbound 16→8, spec.md §3): state is
// never shared or reset mid-stream, since doing so would reintroduce the
// frame-boundary artifacts the stateful design exists to avoid.
//
// The filter is intentionally simple (linear interpolation for upsampling,
// pairwise averaging for downsampling) rather than a sinc/FIR design: no
// pure-Go narrowband resampler was available to reach for, and the one
// third-party resampler seen elsewhere (ka9q_ubersdr's
// resampler_libsamplerate.go) requires cgo against a system libsamplerate
// install, which this module cannot depend on. See DESIGN.md.
type Resampler struct {
	up   bool // true: 8k->16k, false: 16k->8k
	init bool

	// upsample state: last raw sample carried from the previous chunk,
	// used as the left anchor for the first interpolated sample.
	lastSample int16

	// downsample state: an odd trailing sample carried from the previous
	// chunk, paired with the next chunk's first sample.
	hasPending bool
	pending    int16
}

// NewUpsampler8to16 returns a Resampler converting 8 kHz PCM16 to 16 kHz.
func NewUpsampler8to16() *Resampler {
	return &Resampler{up: true}
}

// NewDownsampler16to8 returns a Resampler converting 16 kHz PCM16 to 8 kHz.
func NewDownsampler16to8() *Resampler {
	return &Resampler{up: false}
}

// Process converts pcm (little endian PCM16 mono) and returns the
// resampled buffer. Feeding a signal in N consecutive chunks reproduces
// one-shot resampling of the concatenated signal, save for a deterministic
// transient at the very first chunk (spec.md §8 property 5).
func (r *Resampler) Process(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddPCMFrame
	}
	if r.up {
		return r.upsample(pcm), nil
	}
	return r.downsample(pcm), nil
}

func (r *Resampler) upsample(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)

	left := r.lastSample
	if !r.init {
		left = 0
	}

	for i := 0; i < n; i++ {
		cur := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		interp := int16((int32(left) + int32(cur)) / 2)

		binary.LittleEndian.PutUint16(out[i*4:], uint16(interp))
		binary.LittleEndian.PutUint16(out[i*4+2:], uint16(cur))

		left = cur
	}

	if n > 0 {
		r.lastSample = left
		r.init = true
	}
	return out
}

func (r *Resampler) downsample(pcm []byte) []byte {
	n := len(pcm) / 2
	samples := make([]int16, 0, n+1)
	if r.hasPending {
		samples = append(samples, r.pending)
		r.hasPending = false
	}
	for i := 0; i < n; i++ {
		samples = append(samples, int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	pairs := len(samples) / 2
	out := make([]byte, pairs*2)
	for i := 0; i < pairs; i++ {
		a, b := samples[i*2], samples[i*2+1]
		avg := int16((int32(a) + int32(b)) / 2)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(avg))
	}

	if len(samples)%2 == 1 {
		r.pending = samples[len(samples)-1]
		r.hasPending = true
	}
	return out
}

// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"fmt"

	"github.com/himanshujjp/asterisk-rtp-bridge/audio"
)

// Codec identifies the narrowband payload carried on the wire between
// Asterisk and this bridge. No channel-count, ptime or fmtp fields for SDP negotiation:
// the codec is fixed at server construction, per-session negotiation is out
// of scope.
type Codec struct {
	Name        string
	PayloadType uint8
	SampleRate  uint32
}

var (
	CodecUlaw   = Codec{Name: "ulaw", PayloadType: 0, SampleRate: 8000}
	CodecSlin16 = Codec{Name: "slin16", PayloadType: 118, SampleRate: 16000}
)

// CodecByName resolves the server-construction codec name accepted by
// NewServer ("ulaw" or "slin16"). Unknown names are rejected at
// construction time rather than silently falling back, so misconfiguration
// fails fast instead of producing garbled audio.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "ulaw":
		return CodecUlaw, nil
	case "slin16":
		return CodecSlin16, nil
	default:
		return Codec{}, fmt.Errorf("media: unsupported codec %q", name)
	}
}

// Decode converts one payload's worth of wire bytes into PCM16 little
// endian mono at the codec's sample rate.
func (c Codec) Decode(payload []byte) ([]byte, error) {
	switch c.Name {
	case "ulaw":
		pcm := make([]byte, len(payload)*2)
		if _, err := audio.DecodeUlawTo(pcm, payload); err != nil {
			return nil, err
		}
		return pcm, nil
	case "slin16":
		// Already linear PCM16, pass through.
		return payload, nil
	default:
		return nil, fmt.Errorf("media: unsupported codec %q", c.Name)
	}
}

// Encode converts a PCM16 little endian mono frame into wire payload bytes
// for this codec.
func (c Codec) Encode(pcm []byte) ([]byte, error) {
	switch c.Name {
	case "ulaw":
		out := make([]byte, len(pcm)/2)
		if _, err := audio.EncodeUlawTo(out, pcm); err != nil {
			return nil, err
		}
		return out, nil
	case "slin16":
		return pcm, nil
	default:
		return nil, fmt.Errorf("media: unsupported codec %q", c.Name)
	}
}

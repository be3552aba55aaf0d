// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"errors"
	"io"

	"github.com/pion/rtp"
)

// ErrInvalidRTPVersion is returned by ParsePacket when the datagram does
// not carry RTP version 2, per spec.md §4.1: such datagrams are rejected
// with no side effect on session state.
var ErrInvalidRTPVersion = errors.New("media: invalid RTP version")

// NonStandardHeader reports whether a parsed header carried CSRC entries
// or an extension — spec.md §4.1 still accepts these (with proper offset
// adjustment) but asks callers to count them separately.
func NonStandardHeader(p *rtp.Packet) bool {
	return len(p.CSRC) > 0 || p.Extension
}

// ParsePacket unmarshals a single inbound RTP datagram.
//
// ParsePacket wraps pion/rtp's Header.Unmarshal rather than hand-rolling
// big-endian field extraction: CSRC and extension skipping are exactly
// what pion/rtp's Header.Unmarshal already does correctly (padding is
// trimmed here, from the returned header length), and spec.md only
// requires that those headers be "skipped to locate the payload", not that
// we reimplement RFC 3550 offset arithmetic ourselves.
func ParsePacket(buf []byte, p *rtp.Packet) error {
	if len(buf) < 12 {
		return io.ErrShortBuffer
	}

	n, err := p.Header.Unmarshal(buf)
	if err != nil {
		return err
	}
	if p.Version != 2 {
		return ErrInvalidRTPVersion
	}

	end := len(buf)
	if p.Header.Padding {
		if end == 0 {
			return io.ErrShortBuffer
		}
		padLen := int(buf[end-1])
		end -= padLen
		if end < n {
			return io.ErrShortBuffer
		}
	}

	p.Payload = append(p.Payload[:0], buf[n:end]...)
	return nil
}

// BuildHeader assembles an outbound RTP header per spec.md §4.5: version 2,
// no padding, no extension, no CSRC, marker set only on talkspurt start.
func BuildHeader(payloadType uint8, marker bool, sequence uint16, timestamp uint32, ssrc uint32) rtp.Header {
	return rtp.Header{
		Version:        2,
		Padding:        false,
		Extension:      false,
		Marker:         marker,
		PayloadType:    payloadType,
		SequenceNumber: sequence,
		Timestamp:      timestamp,
		SSRC:           ssrc,
	}
}

// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtpbridge

import (
	"fmt"
	"net"
	"time"

	"github.com/himanshujjp/asterisk-rtp-bridge/media"
	"github.com/pion/rtp"
)

// SendAudio accepts PCM16 16 kHz mono audio from the AI pipeline, resamples
// and frames it into 20 ms RTP packets and writes them to the session's
// learned remote endpoint, per spec.md §4.5. Partial trailing samples
// short of one full 160-sample packet are buffered on the session for the
// next call; no short packet is ever sent, and samples still buffered when
// the session is removed are dropped.
func (s *Server) SendAudio(callID string, pcm16_16k []byte) error {
	if !s.running.Load() {
		return ErrServerStopped
	}

	session, ok := s.sessions.lookupByCallID(callID)
	if !ok {
		return ErrUnknownSession
	}
	remote := session.remote()
	if remote == nil {
		return ErrUnknownSession
	}

	pcm8, err := session.outResampler.Process(pcm16_16k)
	if err != nil {
		s.metrics.resampleErrors.Inc()
		s.log.Warn().Err(err).Str("call_id", callID).Msg("rtp: outbound resample failed, passing through")
		pcm8 = pcm16_16k
	}

	buf := append(session.sendPending, pcm8...)
	frameBytes := samplesPerPacket * 2
	full := len(buf) / frameBytes

	now := time.Now()
	for i := 0; i < full; i++ {
		frame := buf[i*frameBytes : (i+1)*frameBytes]
		if err := s.sendFrame(session, frame, remote, now); err != nil {
			s.metrics.sendErrors.Inc()
			return fmt.Errorf("rtpbridge: send frame: %w", err)
		}
	}
	session.sendPending = append(session.sendPending[:0], buf[full*frameBytes:]...)
	return nil
}

func (s *Server) sendFrame(session *Session, pcm8 []byte, remote *net.UDPAddr, now time.Time) error {
	payload, err := s.codec.Encode(pcm8)
	if err != nil {
		return err
	}

	marker := !session.sentFirst || now.Sub(session.lastSendAt) >= talkspurtGap
	session.sentFirst = true
	session.lastSendAt = now

	seq := session.sendSeq.Next()
	header := media.BuildHeader(s.codec.PayloadType, marker, seq, session.sendTimestamp, session.sendSSRC)
	session.sendTimestamp += samplesPerPacket

	pkt := rtp.Packet{Header: header, Payload: payload}
	out, err := pkt.Marshal()
	if err != nil {
		return err
	}

	_, err = s.conn.WriteToUDP(out, remote)
	return err
}

// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtpbridge

import (
	"errors"
	"net"
	"time"

	"github.com/himanshujjp/asterisk-rtp-bridge/media"
	"github.com/pion/rtp"
)

// maxDatagramSize is the read buffer size for the receive loop, per
// spec.md §4.4.
const maxDatagramSize = 1500

// receiveLoop is the only reader of conn until Stop signals it to return;
// it is the single cooperative task spec.md §5 requires reading the socket
// (SendAudio writes on the same conn). It never blocks on the sink:
// dispatch hands each frame to a bounded queue drained by one sinkWorker
// goroutine, so a slow or wedged sink cannot stall subsequent reads.
func (s *Server) receiveLoop() {
	defer s.recvWG.Done()

	var pkt rtp.Packet
	buf := make([]byte, maxDatagramSize)

	for {
		if !s.running.Load() {
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("rtp: read error")
			continue
		}

		s.handleDatagram(buf[:n], addr, &pkt)
	}
}

func (s *Server) handleDatagram(data []byte, addr *net.UDPAddr, pkt *rtp.Packet) {
	if err := media.ParsePacket(data, pkt); err != nil {
		s.metrics.invalidHeaders.Inc()
		s.log.Debug().Err(err).Str("remote", addr.String()).Msg("rtp: dropping invalid packet")
		return
	}
	if media.NonStandardHeader(pkt) {
		s.metrics.nonStandardHeaders.Inc()
		s.log.Debug().Uint32("ssrc", pkt.SSRC).Msg("rtp: non-standard header (csrc/extension present)")
	}

	now := time.Now()
	session, created := s.sessions.createIfAbsent(pkt.SSRC, addr, now)
	if created {
		s.metrics.sessionsCreated.Inc()
		s.log.Info().Str("call_id", session.callID).Uint32("ssrc", pkt.SSRC).Str("remote", addr.String()).Msg("rtp: new session")
	} else if rebound := session.touch(addr, now); rebound {
		s.log.Info().Str("call_id", session.callID).Str("remote", addr.String()).Msg("rtp: remote endpoint changed")
	}

	session.framesReceived++
	s.metrics.framesReceived.Inc()

	lost, reordered := session.updateSequence(pkt.SequenceNumber)
	if lost > 0 {
		s.metrics.packetLoss.Add(float64(lost))
	}
	if reordered {
		s.metrics.packetReorder.Inc()
	}

	pcm8, err := s.codec.Decode(pkt.Payload)
	if err != nil {
		s.log.Warn().Err(err).Str("call_id", session.callID).Msg("rtp: unsupported codec, dropping frame")
		return
	}

	pcm16, err := session.inResampler.Process(pcm8)
	if err != nil {
		s.metrics.resampleErrors.Inc()
		s.log.Warn().Err(err).Str("call_id", session.callID).Msg("rtp: resample failed, passing through")
		pcm16 = pcm8
	}

	session.framesProcessed++
	s.metrics.framesProcessed.Inc()
	s.dispatch(pkt.SSRC, pcm16, session.callID)

	n := s.cfg.StatsEveryNFrames
	if n > 0 && session.framesReceived%uint64(n) == 0 {
		s.logPeriodicStats(session)
	}
}

// dispatch invokes the sink without blocking the receive loop. The sink
// contract (spec.md §6) requires non-blocking steady-state behavior, but
// the receiver cannot trust that in general, so it hands the frame to a
// bounded worker and drops it (counted) rather than risk stalling on a
// sink that is momentarily wedged.
func (s *Server) dispatch(ssrc uint32, frame []byte, callID string) {
	select {
	case s.sinkWork <- sinkJob{ssrc: ssrc, frame: frame}:
	default:
		s.metrics.sinkDrops.Inc()
		s.log.Warn().Str("call_id", callID).Msg("rtp: sink busy, dropping frame")
	}
}

type sinkJob struct {
	ssrc  uint32
	frame []byte
}

// sinkWorker drains sinkWork and invokes the sink, recovering from panics
// so a misbehaving MediaSink can never take down the receive loop.
func (s *Server) sinkWorker() {
	defer s.sinkWG.Done()
	for job := range s.sinkWork {
		s.invokeSink(job.ssrc, job.frame)
	}
}

func (s *Server) invokeSink(ssrc uint32, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.sinkErrors.Inc()
			s.log.Error().Interface("panic", r).Uint32("ssrc", ssrc).Msg("rtp: sink panicked")
		}
	}()
	s.sink(ssrc, frame)
}

func (s *Server) logPeriodicStats(session *Session) {
	s.log.Info().
		Str("call_id", session.callID).
		Uint64("frames_received", session.framesReceived).
		Uint64("frames_processed", session.framesProcessed).
		Uint64("packet_loss_count", session.packetLossCount).
		Msg("rtp: periodic stats")
}

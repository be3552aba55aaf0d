// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

// Package rtpbridge implements the real-time RTP media plane of an
// Asterisk-integrated AI voice agent: a bidirectional RTP server that
// terminates External Media streams from a PBX, demultiplexes them by
// SSRC, transcodes and resamples audio with per-stream continuity, and
// exchanges normalized PCM16 frames with an external AI pipeline.
//
// SDP negotiation, SRTP/DTLS, RTCP and PBX dialplan control are outside
// this package's scope; only the data plane described here is implemented.
package rtpbridge

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/himanshujjp/asterisk-rtp-bridge/media"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MediaSink receives decoded, resampled inbound audio. frame is linear
// PCM16 little endian mono at 16 kHz (nominally 640 bytes per 20 ms
// packet). The sink must be non-blocking in the steady state; the server
// still tolerates a slow sink by dropping frames rather than stalling the
// receive loop.
type MediaSink func(ssrc uint32, frame []byte)

// Server is the bidirectional RTP bridge. Construct with NewServer, drive
// with Start/Stop, and call SendAudio to push synthesized audio out.
type Server struct {
	host  string
	port  int
	sink  MediaSink
	codec media.Codec
	cfg   Config

	log     zerolog.Logger
	metrics *serverMetrics

	sessions *sessionTable

	mu       sync.Mutex // guards conn/running transitions in Start/Stop
	running  atomic.Bool
	conn     *net.UDPConn
	recvWG   sync.WaitGroup // the receive loop alone
	sinkWG   sync.WaitGroup // the sink worker alone
	sinkWork chan sinkJob

	evictStop chan struct{}
}

// NewServer constructs a bridge bound to host:port, decoding/encoding with
// codec ("ulaw" or "slin16", spec.md §6) and delivering inbound frames to
// sink. cfg controls idle eviction and stats cadence; pass DefaultConfig()
// for spec.md's defaults.
func NewServer(host string, port int, sink MediaSink, codec string, cfg Config) (*Server, error) {
	c, err := media.CodecByName(codec)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("rtpbridge: sink must not be nil")
	}

	s := &Server{
		host:     host,
		port:     port,
		sink:     sink,
		codec:    c,
		cfg:      cfg,
		log:      log.With().Str("component", "rtpbridge").Str("codec", c.Name).Logger(),
		metrics:  newServerMetrics("rtpbridge"),
		sessions: newSessionTable(),
		sinkWork: make(chan sinkJob, 256),
	}
	return s, nil
}

// MetricsCollectors returns this server's Prometheus collectors, for
// callers that want to register them with their own registry (see
// cmd/rtpbridged) instead of reaching into the package internals.
func (s *Server) MetricsCollectors() []prometheus.Collector {
	return s.metrics.Collectors()
}

// Start binds the UDP socket and begins the receive loop. Idempotent
// against concurrent calls: a second Start while already running is a
// no-op returning nil.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	addr := &net.UDPAddr{IP: net.ParseIP(s.host), Port: s.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		s.log.Error().Err(err).Str("host", s.host).Int("port", s.port).Msg("rtp: bind failed")
		return fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	s.conn = conn
	s.running.Store(true)
	s.evictStop = make(chan struct{})

	s.recvWG.Add(1)
	go s.receiveLoop()
	s.sinkWG.Add(1)
	go s.sinkWorker()

	go s.evictionLoop()

	s.log.Info().Str("host", s.host).Int("port", s.port).Msg("rtp: server started")
	return nil
}

// Stop signals the receive loop to cease, waits for it to drain, closes
// the socket and evicts all sessions. Idempotent: a second Stop is a
// no-op returning nil. Bounded by the receive loop's own 200ms read
// deadline poll, well under the ≤1s target.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	if s.evictStop != nil {
		close(s.evictStop)
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	// The receive loop must fully exit (and so stop sending to sinkWork)
	// before the channel is closed, or a send-on-closed-channel panic is
	// possible if it is mid-dispatch when Stop runs.
	s.recvWG.Wait()
	close(s.sinkWork)
	s.sinkWG.Wait()
	s.sinkWork = make(chan sinkJob, 256)

	for _, sess := range s.sessions.all() {
		s.sessions.remove(sess.callID)
	}

	s.log.Info().Msg("rtp: server stopped")
	return nil
}

// MapSsrcToCallId pre-binds a call-id for an SSRC before its first packet
// arrives, so external orchestration can name a call deterministically.
func (s *Server) MapSsrcToCallId(ssrc uint32, callID string) {
	s.sessions.bindCallID(ssrc, callID, time.Now())
}

// GetCallIdForSsrc returns the call-id bound to ssrc, if any.
func (s *Server) GetCallIdForSsrc(ssrc uint32) (string, bool) {
	sess, ok := s.sessions.lookupBySSRC(ssrc)
	if !ok {
		return "", false
	}
	return sess.callID, true
}

// CleanupSession removes a session from both indices and frees its
// resampler state. Safe to call multiple times; only the first call has
// effect.
func (s *Server) CleanupSession(callID string) {
	sess, ok := s.sessions.lookupByCallID(callID)
	if !ok {
		return
	}
	if !sess.markCleaned() {
		return
	}
	s.sessions.remove(callID)
	s.metrics.sessionsEvicted.Inc()
	s.log.Info().Str("call_id", callID).
		Uint64("frames_received", sess.framesReceived).
		Uint64("frames_processed", sess.framesProcessed).
		Uint64("packet_loss_count", sess.packetLossCount).
		Msg("rtp: session cleaned up")
}

// GetSessionInfo returns the public session-info view, per spec.md §6.
func (s *Server) GetSessionInfo(callID string) (sessionInfo, bool) {
	sess, ok := s.sessions.lookupByCallID(callID)
	if !ok {
		return sessionInfo{}, false
	}
	return sess.snapshotInfo(time.Now(), s.idleTimeout()), true
}

// GetSessionStats returns GetSessionInfo plus the inbound counters.
func (s *Server) GetSessionStats(callID string) (sessionStats, bool) {
	sess, ok := s.sessions.lookupByCallID(callID)
	if !ok {
		return sessionStats{}, false
	}
	return sess.snapshotStats(time.Now(), s.idleTimeout()), true
}

// ServerStats is the aggregate view returned by GetStats.
type ServerStats struct {
	Running              bool
	Host                 string
	Port                 int
	Codec                string
	TotalSessions        int
	ActiveSessions       int
	TotalFramesReceived  uint64
	TotalFramesProcessed uint64
	TotalPacketLoss      uint64
	SSRCMappings         int
}

// GetStats returns the server-wide aggregate view, per spec.md §6.
func (s *Server) GetStats() ServerStats {
	now := time.Now()
	sessions := s.sessions.all()

	stats := ServerStats{
		Running: s.running.Load(),
		Host:    s.host,
		Port:    s.port,
		Codec:   s.codec.Name,
	}
	stats.TotalSessions = len(sessions)
	stats.SSRCMappings = len(sessions)
	idle := s.idleTimeout()
	for _, sess := range sessions {
		if sess.isActive(now, idle) {
			stats.ActiveSessions++
		}
		stats.TotalFramesReceived += sess.framesReceived
		stats.TotalFramesProcessed += sess.framesProcessed
		stats.TotalPacketLoss += sess.packetLossCount
	}
	return stats
}

func (s *Server) idleTimeout() time.Duration {
	if s.cfg.IdleTimeout > 0 {
		return s.cfg.IdleTimeout
	}
	return DefaultConfig().IdleTimeout
}

// evictionLoop is the optional automatic idle-eviction spec.md §4.6
// permits: it never races with in-flight sink callbacks because
// CleanupSession only touches the session table and counters, not the
// sink invocation itself.
func (s *Server) evictionLoop() {
	ticker := time.NewTicker(s.idleTimeout() / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.evictStop:
			return
		case <-ticker.C:
			now := time.Now()
			idle := s.idleTimeout()
			for _, sess := range s.sessions.all() {
				if !sess.isActive(now, idle) {
					s.CleanupSession(sess.callID)
				}
			}
		}
	}
}

// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtpbridge

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/himanshujjp/asterisk-rtp-bridge/media"
)

// sequenceWindow is the forward window (spec.md §4.3) within which a
// sequence number ahead of expected is treated as loss rather than a wrap
// of the 16-bit space coming back around.
const sequenceWindow = 1 << 15

// samplesPerPacket is SAMPLES_PER_PACKET from spec.md §4.5: 160 8 kHz
// samples, 20 ms, the fixed outbound framing unit.
const samplesPerPacket = 160

// talkspurtGap is the outbound send-side silence gap (spec.md §4.5) after
// which the next packet's marker bit is set to signal a new talkspurt.
const talkspurtGap = 200 * time.Millisecond

// Session is one bidirectional RTP stream, keyed by its inbound SSRC, per
// spec.md §3. Fields are grouped exactly as §5 requires so the receiver
// and sender paths never write the same fields on the hot path:
// inbound-owned fields are touched only from the receive loop, outbound-
// owned fields only from SendAudio, and the small shared group goes
// through mu.
type Session struct {
	// Immutable for the session's lifetime.
	callID    string
	ssrc      uint32
	createdAt time.Time
	sendSSRC  uint32

	// Inbound-owned: written only by the receiver loop (C4).
	framesReceived   uint64
	framesProcessed  uint64
	packetLossCount  uint64
	expectedSequence uint16
	lastSequence     uint16
	sequenceInit     bool
	inResampler      *media.Resampler

	// Outbound-owned: written only by SendAudio (C5).
	outResampler  *media.Resampler
	sendSeq       media.SendSequencer
	sendTimestamp uint32
	sendPending   []byte // trailing PCM16 bytes short of one full packet
	lastSendAt    time.Time
	sentFirst     bool

	// Shared: remote endpoint learning and liveness, touched by both the
	// receiver (learns/updates it) and any caller reading session info.
	mu           sync.Mutex
	remoteAddr   *net.UDPAddr
	lastPacketAt time.Time
	cleaned      bool
}

func newSession(ssrc uint32, remote *net.UDPAddr, now time.Time) *Session {
	return &Session{
		callID:        fmt.Sprintf("call_%d_%d", ssrc, now.Unix()),
		ssrc:          ssrc,
		createdAt:     now,
		sendSSRC:      newDistinctSendSSRC(ssrc),
		inResampler:   media.NewUpsampler8to16(),
		outResampler:  media.NewDownsampler16to8(),
		sendSeq:       media.NewSendSequencer(),
		sendTimestamp: rand.Uint32(),
		remoteAddr:    remote,
		lastPacketAt:  now,
	}
}

// newDistinctSendSSRC picks a random SSRC for the outbound stream that
// never collides with the inbound one, per spec.md §3.
func newDistinctSendSSRC(avoid uint32) uint32 {
	for {
		if v := rand.Uint32(); v != avoid {
			return v
		}
	}
}

// touch records that a datagram just arrived, learning/updating the remote
// endpoint (spec.md §4.3's PBX-rebinding case) and returns whether the
// remote address changed, so the caller can log the rebind.
func (s *Session) touch(remote *net.UDPAddr, now time.Time) (rebound bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPacketAt = now
	if s.remoteAddr == nil || !udpAddrEqual(s.remoteAddr, remote) {
		rebound = s.remoteAddr != nil
		s.remoteAddr = remote
	}
	return rebound
}

func udpAddrEqual(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

func (s *Session) remote() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAddr
}

func (s *Session) isActive(now time.Time, idleTimeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastPacketAt) < idleTimeout
}

func (s *Session) lastPacket() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPacketAt
}

func (s *Session) markCleaned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaned {
		return false
	}
	s.cleaned = true
	return true
}

// updateSequence applies spec.md §4.3's loss/reorder algorithm and returns
// the number of packets newly counted as lost (0 unless this packet opened
// a forward gap). last_sequence always tracks the most recently arrived
// packet; expected_sequence only ever advances forward — a reorder (a
// stale, late-arriving packet behind the current expectation) updates
// neither packet_loss_count nor expected_sequence, otherwise the next
// genuinely in-order packet would be seen as a second gap and double-count
// the same loss.
func (s *Session) updateSequence(seq uint16) (lost uint64, reordered bool) {
	s.lastSequence = seq

	if !s.sequenceInit {
		s.sequenceInit = true
		s.expectedSequence = seq + 1
		return 0, false
	}

	diff := seq - s.expectedSequence // wraps mod 2^16 by uint16 arithmetic
	switch {
	case diff == 0:
		s.expectedSequence = seq + 1
	case diff < sequenceWindow:
		lost = uint64(diff)
		s.packetLossCount += lost
		s.expectedSequence = seq + 1
	default:
		// sequence < expected within the forward window: reorder. Neither
		// packet_loss_count nor expected_sequence move.
		reordered = true
	}
	return lost, reordered
}

// sessionInfo is the immutable-plus-snapshot view behind GetSessionInfo.
type sessionInfo struct {
	CallID       string
	RemoteHost   string
	RemotePort   int
	SSRC         uint32
	CreatedAt    time.Time
	LastPacketAt time.Time
	Active       bool
}

func (s *Session) snapshotInfo(now time.Time, idleTimeout time.Duration) sessionInfo {
	s.mu.Lock()
	remote := s.remoteAddr
	lastPacketAt := s.lastPacketAt
	s.mu.Unlock()

	info := sessionInfo{
		CallID:       s.callID,
		SSRC:         s.ssrc,
		CreatedAt:    s.createdAt,
		LastPacketAt: lastPacketAt,
		Active:       now.Sub(lastPacketAt) < idleTimeout,
	}
	if remote != nil {
		info.RemoteHost = remote.IP.String()
		info.RemotePort = remote.Port
	}
	return info
}

// sessionStats is the GetSessionStats view: info plus the inbound counters.
// Read by callers other than the receiver, so the inbound counter fields
// are snapshotted without synchronization against the receiver — the
// receiver is the sole writer and spec.md does not require read/write
// synchronization on monotonic counters read for observability only.
type sessionStats struct {
	sessionInfo
	FramesReceived   uint64
	FramesProcessed  uint64
	PacketLossCount  uint64
	LastSequence     uint16
	ExpectedSequence uint16
}

func (s *Session) snapshotStats(now time.Time, idleTimeout time.Duration) sessionStats {
	return sessionStats{
		sessionInfo:      s.snapshotInfo(now, idleTimeout),
		FramesReceived:   s.framesReceived,
		FramesProcessed:  s.framesProcessed,
		PacketLossCount:  s.packetLossCount,
		LastSequence:     s.lastSequence,
		ExpectedSequence: s.expectedSequence,
	}
}

// sessionTable indexes sessions by both SSRC and call-id (spec.md §3),
// with a single RWMutex permitting concurrent readers and exclusive
// writers — creation on first packet is the hot path's only writer.
type sessionTable struct {
	mu       sync.RWMutex
	bySSRC   map[uint32]*Session
	byCallID map[string]*Session
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		bySSRC:   make(map[uint32]*Session),
		byCallID: make(map[string]*Session),
	}
}

func (t *sessionTable) lookupBySSRC(ssrc uint32) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.bySSRC[ssrc]
	return s, ok
}

func (t *sessionTable) lookupByCallID(callID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byCallID[callID]
	return s, ok
}

// createIfAbsent returns the existing session for ssrc, or installs a
// freshly created one under both indices (spec.md §4.3 step 1).
func (t *sessionTable) createIfAbsent(ssrc uint32, remote *net.UDPAddr, now time.Time) (s *Session, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.bySSRC[ssrc]; ok {
		return existing, false
	}
	s = newSession(ssrc, remote, now)
	if other, collides := t.byCallID[s.callID]; collides && other.ssrc != ssrc {
		// Two distinct SSRCs producing the same call_<ssrc>_<unix_seconds>
		// string is impossible by construction, but a generated id
		// colliding with a still-live session from a prior, differently
		// formatted pre-binding (MapSsrcToCallId) is not. Fall back to a
		// UUID rather than silently overwriting another call's index entry.
		s.callID = "call_" + uuid.NewString()
	}
	t.bySSRC[ssrc] = s
	t.byCallID[s.callID] = s
	return s, true
}

// bindCallID pre-registers a call-id for an SSRC that has not yet sent a
// packet (MapSsrcToCallId), or renames an existing session's index entry.
func (t *sessionTable) bindCallID(ssrc uint32, callID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.bySSRC[ssrc]
	if !ok {
		s = newSession(ssrc, nil, now)
		s.callID = callID
		t.bySSRC[ssrc] = s
		t.byCallID[callID] = s
		return
	}
	delete(t.byCallID, s.callID)
	s.callID = callID
	t.byCallID[callID] = s
}

func (t *sessionTable) remove(callID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byCallID[callID]
	if !ok {
		return false
	}
	delete(t.byCallID, callID)
	delete(t.bySSRC, s.ssrc)
	return true
}

func (t *sessionTable) all() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.byCallID))
	for _, s := range t.byCallID {
		out = append(out, s)
	}
	return out
}

func (t *sessionTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byCallID)
}

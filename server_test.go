// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtpbridge

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func sendRawPacket(t *testing.T, port int, h rtp.Header, payload []byte) {
	t.Helper()
	pkt := rtp.Packet{Header: h, Payload: payload}
	buf, err := pkt.Marshal()
	require.NoError(t, err)

	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(buf)
	require.NoError(t, err)
}

func ulawSilence(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 0xFF
	}
	return buf
}

// S1 — happy path μ-law inbound.
func TestServerHappyPathMulawInbound(t *testing.T) {
	port := freeUDPPort(t)

	var mu sync.Mutex
	var frames [][]byte
	sink := func(ssrc uint32, frame []byte) {
		mu.Lock()
		defer mu.Unlock()
		cp := append([]byte(nil), frame...)
		frames = append(frames, cp)
	}

	srv, err := NewServer("127.0.0.1", port, sink, "ulaw", DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	const ssrc = uint32(0x11111111)
	for i, seq := range []uint16{100, 101, 102, 103, 104} {
		h := rtp.Header{Version: 2, PayloadType: 0, SequenceNumber: seq, Timestamp: uint32(i * 160), SSRC: ssrc}
		sendRawPacket(t, port, h, ulawSilence(160))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 5
	}, 2*time.Second, 10*time.Millisecond)

	callID, ok := srv.GetCallIdForSsrc(ssrc)
	require.True(t, ok)
	assert.Regexp(t, `^call_286331153_\d+$`, callID)

	stats, ok := srv.GetSessionStats(callID)
	require.True(t, ok)
	assert.Equal(t, uint64(5), stats.FramesReceived)
	assert.Equal(t, uint64(5), stats.FramesProcessed)
	assert.Equal(t, uint64(0), stats.PacketLossCount)

	mu.Lock()
	for _, f := range frames {
		assert.Len(t, f, 640)
	}
	mu.Unlock()
}

// S2 — loss detection.
func TestServerLossDetection(t *testing.T) {
	port := freeUDPPort(t)
	sink := func(uint32, []byte) {}
	srv, err := NewServer("127.0.0.1", port, sink, "ulaw", DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	const ssrc = uint32(0x22222222)
	for _, seq := range []uint16{10, 11, 12, 15, 16} {
		h := rtp.Header{Version: 2, PayloadType: 0, SequenceNumber: seq, SSRC: ssrc}
		sendRawPacket(t, port, h, ulawSilence(160))
	}

	var stats sessionStats
	require.Eventually(t, func() bool {
		callID, ok := srv.GetCallIdForSsrc(ssrc)
		if !ok {
			return false
		}
		stats, ok = srv.GetSessionStats(callID)
		return ok && stats.FramesReceived == 5
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, uint64(2), stats.PacketLossCount)
}

// S3 — reorder.
func TestServerReorder(t *testing.T) {
	port := freeUDPPort(t)
	sink := func(uint32, []byte) {}
	srv, err := NewServer("127.0.0.1", port, sink, "ulaw", DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	const ssrc = uint32(0x33333333)
	for _, seq := range []uint16{50, 51, 53, 52, 54} {
		h := rtp.Header{Version: 2, PayloadType: 0, SequenceNumber: seq, SSRC: ssrc}
		sendRawPacket(t, port, h, ulawSilence(160))
	}

	var stats sessionStats
	require.Eventually(t, func() bool {
		callID, ok := srv.GetCallIdForSsrc(ssrc)
		if !ok {
			return false
		}
		stats, ok = srv.GetSessionStats(callID)
		return ok && stats.FramesReceived == 5
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, uint64(1), stats.PacketLossCount)
	assert.Equal(t, uint16(54), stats.LastSequence)
}

// S4 — outbound framing.
func TestServerOutboundFraming(t *testing.T) {
	serverPort := freeUDPPort(t)
	sink := func(uint32, []byte) {}
	srv, err := NewServer("127.0.0.1", serverPort, sink, "ulaw", DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer clientConn.Close()
	clientPort := clientConn.LocalAddr().(*net.UDPAddr).Port

	const ssrc = uint32(0x44444444)
	h := rtp.Header{Version: 2, PayloadType: 0, SequenceNumber: 1, SSRC: ssrc}
	pkt := rtp.Packet{Header: h, Payload: ulawSilence(160)}
	buf, err := pkt.Marshal()
	require.NoError(t, err)
	_, err = clientConn.WriteToUDP(buf, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: serverPort})
	require.NoError(t, err)

	var callID string
	require.Eventually(t, func() bool {
		var ok bool
		callID, ok = srv.GetCallIdForSsrc(ssrc)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		info, ok := srv.GetSessionInfo(callID)
		return ok && info.RemotePort == clientPort
	}, 2*time.Second, 10*time.Millisecond)

	pcm := make([]byte, 1280) // 40ms @ 16kHz
	err = srv.SendAudio(callID, pcm)
	require.NoError(t, err)

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	readBuf := make([]byte, 1500)

	var received []rtp.Packet
	for i := 0; i < 2; i++ {
		n, _, err := clientConn.ReadFromUDP(readBuf)
		require.NoError(t, err)
		var p rtp.Packet
		require.NoError(t, p.Unmarshal(readBuf[:n]))
		received = append(received, p)
	}

	require.Len(t, received, 2)
	assert.Equal(t, received[0].SequenceNumber+1, received[1].SequenceNumber)
	assert.Equal(t, received[0].Timestamp+160, received[1].Timestamp)
	assert.Len(t, received[0].Payload, 160)
	assert.Len(t, received[1].Payload, 160)
}

// S5 — bind failure.
func TestServerBindFailure(t *testing.T) {
	port := freeUDPPort(t)
	blocker, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer blocker.Close()

	sink := func(uint32, []byte) {}
	srv, err := NewServer("127.0.0.1", port, sink, "ulaw", DefaultConfig())
	require.NoError(t, err)

	err = srv.Start()
	require.ErrorIs(t, err, ErrBindFailed)
	assert.False(t, srv.GetStats().Running)
}

// S6 — stop idempotence.
func TestServerStopIdempotent(t *testing.T) {
	port := freeUDPPort(t)
	sink := func(uint32, []byte) {}
	srv, err := NewServer("127.0.0.1", port, sink, "ulaw", DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())

	err = srv.SendAudio("call_does_not_matter", make([]byte, 320))
	assert.ErrorIs(t, err, ErrServerStopped)
}

func TestCleanupSessionIdempotent(t *testing.T) {
	port := freeUDPPort(t)
	sink := func(uint32, []byte) {}
	srv, err := NewServer("127.0.0.1", port, sink, "ulaw", DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	const ssrc = uint32(0x55555555)
	h := rtp.Header{Version: 2, PayloadType: 0, SequenceNumber: 1, SSRC: ssrc}
	sendRawPacket(t, port, h, ulawSilence(160))

	var callID string
	require.Eventually(t, func() bool {
		var ok bool
		callID, ok = srv.GetCallIdForSsrc(ssrc)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	srv.CleanupSession(callID)
	srv.CleanupSession(callID)

	_, ok := srv.GetSessionInfo(callID)
	assert.False(t, ok)
}

func TestMapSsrcToCallIdPreBinds(t *testing.T) {
	port := freeUDPPort(t)
	sink := func(uint32, []byte) {}
	srv, err := NewServer("127.0.0.1", port, sink, "ulaw", DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	srv.MapSsrcToCallId(0x66666666, "call_fixed_name")
	callID, ok := srv.GetCallIdForSsrc(0x66666666)
	require.True(t, ok)
	assert.Equal(t, "call_fixed_name", callID)
}

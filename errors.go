// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtpbridge

import "errors"

// Error taxonomy per spec.md §7. These are the sentinel errors of the
// public entry points. NewServer also returns plain errors for an unknown
// codec name or a nil sink, and SendAudio returns socket write failures
// wrapped with %w. Faults on the inbound data path (invalid header,
// decode failure, resample failure, sink panic) are logged, never
// returned, because nothing on the data path is allowed to be fatal to
// the server.
var (
	// ErrUnknownSession is returned by SendAudio when call_id has no
	// session, or the session's remote endpoint has not yet been learned.
	ErrUnknownSession = errors.New("rtpbridge: unknown session")

	// ErrServerStopped is returned by SendAudio whenever the server is not
	// running: before Start or after Stop. The other public operations do
	// not report it.
	ErrServerStopped = errors.New("rtpbridge: server stopped")

	// ErrBindFailed is returned by Start when the UDP socket cannot be
	// bound. The server remains not-running.
	ErrBindFailed = errors.New("rtpbridge: failed to bind RTP socket")
)

/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgq

import (
	"context"
	"errors"

	"pgq/internal/conn"
	"pgq/internal/pgproto"
	"pgq/internal/pgtype"
)

// Error types surfaced by the client, re-exported from the internal layers
// so callers can match on them with errors.As.
type (
	// PgError is an error reported by the server, with the full SQLSTATE
	// field set.
	PgError = conn.PgError

	// ProtocolViolationError is a malformed or impossible frame on the wire.
	// The connection is closed when it occurs.
	ProtocolViolationError = pgproto.ProtocolViolationError

	// HandshakeError is an unexpected message ordering during connection
	// establishment.
	HandshakeError = conn.HandshakeError

	// AuthenticationFailedError means the server rejected the credentials.
	AuthenticationFailedError = conn.AuthenticationFailedError

	// TLSRequiredError means the policy demands encryption but the server
	// declined it or the upgrade failed.
	TLSRequiredError = conn.TLSRequiredError

	// UnsupportedAuthError is an authentication challenge this client does
	// not implement.
	UnsupportedAuthError = conn.UnsupportedAuthError

	// DecodeError is a result value the registry could not decode; it
	// carries the OID, format and raw bytes.
	DecodeError = pgtype.DecodeError

	// EncodeError is an argument the registry could not encode for its
	// parameter OID.
	EncodeError = pgtype.EncodeError
)

// ErrPoolClosed is returned by pool operations after Close.
var ErrPoolClosed = errors.New("pool is closed")

// SafeToRetry reports whether err is guaranteed to have occurred before any
// data was sent to the server, so retrying cannot double-execute.
func SafeToRetry(err error) bool {
	return conn.SafeToRetry(err)
}

// Timeout reports whether err was caused by a context deadline, context
// cancellation or a net.Error timeout.
func Timeout(err error) bool {
	return conn.Timeout(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

package conn

import (
	"errors"
	"fmt"
	"strings"

	"pgq/internal/cfg"
	"pgq/internal/pgproto"
)

type writeError struct {
	err         error
	safeToRetry bool
}

func (e *writeError) Error() string {
	return fmt.Sprintf("write failed: %s", e.err.Error())
}

func (e *writeError) SafeToRetry() bool {
	return e.safeToRetry
}

func (e *writeError) Unwrap() error {
	return e.err
}

// errTimeout occurs when an error was caused by a timeout. Specifically, it wraps an error which is
// context.Canceled, context.DeadlineExceeded, or an implementer of net.Error where Timeout() is true.
type errTimeout struct {
	err error
}

func (e *errTimeout) Error() string {
	return fmt.Sprintf("timeout: %s", e.err.Error())
}

func (e *errTimeout) SafeToRetry() bool {
	return SafeToRetry(e.err)
}

func (e *errTimeout) Unwrap() error {
	return e.err
}

type connectError struct {
	config *cfg.Config
	msg    string
	err    error
}

func (e *connectError) Error() string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "failed to connect to `host=%s user=%s database=%s`: %s", e.config.Host, e.config.User, e.config.Database, e.msg)
	if e.err != nil {
		fmt.Fprintf(sb, " (%s)", e.err.Error())
	}
	return sb.String()
}

func (e *connectError) Unwrap() error {
	return e.err
}

// SafeToRetry checks if the err is guaranteed to have occurred before sending any data to the server.
func SafeToRetry(err error) bool {
	if e, ok := err.(interface{ SafeToRetry() bool }); ok {
		return e.SafeToRetry()
	}
	return false
}

// Timeout checks if err was caused by a timeout. To be specific, it is true if err was caused by a
// context.Canceled, context.DeadlineExceeded or an implementer of net.Error where Timeout() is true.
func Timeout(err error) bool {
	var timeoutErr *errTimeout
	return errors.As(err, &timeoutErr)
}

// PgError represents an error reported by the PostgreSQL server. See
// http://www.postgresql.org/docs/11/static/protocol-error-fields.html for
// detailed field description.
type PgError struct {
	Severity         string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int32
	Routine          string
}

func (pe *PgError) Error() string {
	return pe.Severity + ": " + pe.Message + " (SQLSTATE " + pe.Code + ")"
}

// SQLState returns the SQLState of the error.
func (pe *PgError) SQLState() string {
	return pe.Code
}

// ErrorResponseToPgError converts a wire protocol error message to a *PgError.
func ErrorResponseToPgError(msg *pgproto.ErrorResponse) *PgError {
	return &PgError{
		Severity:         msg.Severity,
		Code:             msg.Code,
		Message:          msg.Message,
		Detail:           msg.Detail,
		Hint:             msg.Hint,
		Position:         msg.Position,
		InternalPosition: msg.InternalPosition,
		InternalQuery:    msg.InternalQuery,
		Where:            msg.Where,
		SchemaName:       msg.SchemaName,
		TableName:        msg.TableName,
		ColumnName:       msg.ColumnName,
		DataTypeName:     msg.DataTypeName,
		ConstraintName:   msg.ConstraintName,
		File:             msg.File,
		Line:             msg.Line,
		Routine:          msg.Routine,
	}
}

// txFailedError is the local refusal issued for statements attempted while
// the session's transaction is in the failed state. It mirrors the error the
// server itself would report, without the round trip.
func txFailedError() *PgError {
	return &PgError{
		Severity: "ERROR",
		Code:     "25P02",
		Message:  "current transaction is aborted, commands ignored until end of transaction block",
	}
}

// HandshakeError reports an unexpected message ordering or a fatal error
// frame during connection establishment.
type HandshakeError struct {
	msg string
	err error
}

func (e *HandshakeError) Error() string {
	if e.err == nil {
		return "handshake failed: " + e.msg
	}
	return fmt.Sprintf("handshake failed: %s (%s)", e.msg, e.err.Error())
}

func (e *HandshakeError) Unwrap() error { return e.err }

// AuthenticationFailedError reports credentials the server rejected.
type AuthenticationFailedError struct {
	err *PgError
}

func (e *AuthenticationFailedError) Error() string {
	return "authentication failed: " + e.err.Error()
}

func (e *AuthenticationFailedError) Unwrap() error { return e.err }

// TLSRequiredError reports that the TLS policy demands encryption but the
// server declined it or the upgrade failed.
type TLSRequiredError struct {
	err error
}

func (e *TLSRequiredError) Error() string {
	if e.err == nil {
		return "server refused TLS and the connection requires it"
	}
	return "TLS required but unavailable: " + e.err.Error()
}

func (e *TLSRequiredError) Unwrap() error { return e.err }

// UnsupportedAuthError reports an authentication challenge kind this client
// does not implement.
type UnsupportedAuthError struct {
	TypeCode  int32
	Mechanism string
}

func (e *UnsupportedAuthError) Error() string {
	if e.Mechanism != "" {
		return fmt.Sprintf("unsupported SASL mechanisms %s", e.Mechanism)
	}
	return fmt.Sprintf("unsupported authentication request type %d", e.TypeCode)
}

// isAuthenticationFailure reports whether a server error belongs to SQLSTATE
// class 28, invalid authorization specification.
func isAuthenticationFailure(pgErr *PgError) bool {
	return strings.HasPrefix(pgErr.Code, "28")
}

/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package conn

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"pgq/internal/cfg"
	"pgq/internal/pgproto"
	"pgq/internal/pgtype"
)

// Conn is a single session with a PostgreSQL server. It owns the underlying
// stream and the extended protocol state machine. A Conn is not safe for
// concurrent use; serialization is the caller's job (normally the pool's).
type Conn struct {
	conn              net.Conn // the underlying TCP or unix domain socket connection
	pid               uint32   // backend pid
	secretKey         uint32   // key to use to send a cancel query message to the server
	parameterStatuses map[string]string
	txStatus          byte
	frontend          *pgproto.Frontend
	registry          *pgtype.Registry

	config *cfg.Config

	status byte // one of the status* constants

	statements map[string]*StatementDescription

	peekedMsg pgproto.BackendMessage

	cleanupDone chan struct{}

	// buffers
	wBuf   []byte
	sufBuf []byte
}

// peekMessage peeks at the next backend message without consuming it.
func (c *Conn) peekMessage() (pgproto.BackendMessage, error) {
	if c.peekedMsg != nil {
		return c.peekedMsg, nil
	}

	msg, err := c.frontend.Receive()
	if err != nil {
		// A failed receive leaves an unknown number of response bytes in
		// flight; the stream cannot be resynchronized. Timeouts included,
		// the connection must not be reused.
		c.hardClose()

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			err = &errTimeout{err: err}
		}
		return nil, err
	}

	c.peekedMsg = msg
	return msg, nil
}

// receiveMessage receives a message and updates connection-wide state the
// server reports asynchronously: transaction status, parameter status and
// fatal error frames.
func (c *Conn) receiveMessage() (pgproto.BackendMessage, error) {
	msg, err := c.peekMessage()
	if err != nil {
		return nil, err
	}
	c.peekedMsg = nil

	switch msg := msg.(type) {
	case *pgproto.ReadyForQuery:
		c.txStatus = msg.TxStatus
	case *pgproto.ParameterStatus:
		c.parameterStatuses[msg.Name] = msg.Value
	case *pgproto.ErrorResponse:
		if msg.Severity == "FATAL" {
			err := ErrorResponseToPgError(msg)
			c.hardClose()
			return nil, err
		}
	case *pgproto.NoticeResponse:
		if c.config != nil && c.config.OnWarning != nil {
			c.config.OnWarning(msg.Severity + ": " + msg.Message)
		}
	case *pgproto.NotificationResponse:
		// Async notifications are not surfaced. Discarding keeps the
		// protocol stream consistent.
	}

	return msg, nil
}

// hardClose drops the socket without the Terminate courtesy. Used when the
// protocol stream can no longer be trusted.
func (c *Conn) hardClose() {
	if c.status == statusClosed {
		return
	}
	c.status = statusClosed
	if c.conn != nil {
		c.conn.Close() // Ignore error as the connection is already broken and there is already an error to return.
	}
	if c.cleanupDone != nil {
		close(c.cleanupDone)
		c.cleanupDone = nil
	}
}

// Close performs an orderly shutdown: a Terminate message followed by closing
// the stream. Safe to call more than once.
func (c *Conn) Close() error {
	if c.status == statusClosed {
		return nil
	}
	c.status = statusClosed

	// Best effort. The server closes the session on seeing Terminate; if the
	// write fails the socket close below is all that matters.
	c.conn.SetDeadline(time.Now().Add(time.Second))
	c.conn.Write((&pgproto.Terminate{}).Encode(nil))

	if c.cleanupDone != nil {
		close(c.cleanupDone)
		c.cleanupDone = nil
	}
	return c.conn.Close()
}

// IsClosed reports whether the connection is no longer usable.
func (c *Conn) IsClosed() bool {
	return c.status == statusClosed
}

// IsReady reports whether the connection is established and able to accept a
// new command.
func (c *Conn) IsReady() bool {
	return c.status == statusReady
}

// PID returns the backend process ID, available after the handshake.
func (c *Conn) PID() uint32 {
	return c.pid
}

// SecretKey returns the cancellation key paired with PID.
func (c *Conn) SecretKey() uint32 {
	return c.secretKey
}

// TxStatus returns the last transaction status byte reported by the server:
// 'I' idle, 'T' in transaction, 'E' failed transaction.
func (c *Conn) TxStatus() byte {
	return c.txStatus
}

// ParameterStatus returns the value of a parameter reported by the server,
// e.g. server_version or client_encoding.
func (c *Conn) ParameterStatus(key string) string {
	return c.parameterStatuses[key]
}

// Registry exposes the connection's type codec registry.
func (c *Conn) Registry() *pgtype.Registry {
	return c.registry
}

// CancelRequest sends a cancel request to the server over a separate
// connection, as the protocol requires. It is the only operation that is safe
// to call while another goroutine uses the Conn.
func (c *Conn) CancelRequest(ctx context.Context) error {
	network, address := cfg.NetworkAddress(c.config.Host, c.config.Port)
	cancelConn, err := c.config.DialFunc(network, address)
	if err != nil {
		return err
	}
	defer cancelConn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		cancelConn.SetDeadline(deadline)
	}

	buf := (&pgproto.CancelRequest{ProcessID: c.pid, SecretKey: c.secretKey}).Encode(nil)
	if _, err := cancelConn.Write(buf); err != nil {
		return err
	}

	// The server closes the connection without replying. Wait for EOF as
	// confirmation the request was processed.
	_, err = cancelConn.Read(buf)
	if err != io.EOF {
		return err
	}

	return nil
}

// applyDeadline projects a context deadline onto the socket. The returned
// func restores the unlimited deadline and must be called when the command
// concludes.
func (c *Conn) applyDeadline(ctx context.Context) (restore func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, &errTimeout{err: err}
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return func() {}, nil
	}
	c.conn.SetDeadline(deadline)
	return func() { c.conn.SetDeadline(time.Time{}) }, nil
}

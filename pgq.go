/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

// Package pgq is a PostgreSQL client: a wire-protocol implementation, an
// OID-keyed type codec registry and a bounded FIFO connection pool. Queries
// always travel over the extended protocol, so statement text and arguments
// are never interpolated.
package pgq

import (
	"context"

	"pgq/internal/cfg"
	"pgq/internal/conn"
)

// Config is the connection configuration. Build one with ParseConfig or
// populate it directly for full capability injection.
type Config = cfg.Config

// Conn is a single client session. It is not safe for concurrent use; use a
// Pool to share sessions between goroutines.
type Conn struct {
	c *conn.Conn
}

// Connect parses connString (URL or DSN form, with libpq environment
// fallbacks) and establishes a single connection.
func Connect(ctx context.Context, connString string) (*Conn, error) {
	var config cfg.Config
	if err := config.ParseConfig(connString); err != nil {
		return nil, err
	}
	return ConnectConfig(ctx, &config)
}

// ConnectConfig establishes a single connection from an assembled config.
func ConnectConfig(ctx context.Context, config *cfg.Config) (*Conn, error) {
	c, err := conn.Connect(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// Close sends Terminate and closes the underlying stream.
func (c *Conn) Close() error {
	return c.c.Close()
}

// IsClosed reports whether the session is no longer usable.
func (c *Conn) IsClosed() bool {
	return c.c.IsClosed()
}

// PID returns the backend process ID of the session.
func (c *Conn) PID() uint32 {
	return c.c.PID()
}

// TxStatus returns the server-reported transaction status byte: 'I' idle,
// 'T' in transaction, 'E' failed transaction.
func (c *Conn) TxStatus() byte {
	return c.c.TxStatus()
}

// ParameterStatus returns a server-reported parameter such as
// server_version.
func (c *Conn) ParameterStatus(key string) string {
	return c.c.ParameterStatus(key)
}

// CancelRequest asks the server to abort the command currently executing on
// this session. It opens a separate connection, as the protocol requires,
// and is safe to call from another goroutine.
func (c *Conn) CancelRequest(ctx context.Context) error {
	return c.c.CancelRequest(ctx)
}

// Exec runs sql over the simple query protocol: no parameters, text results.
// This is the path for transaction control statements.
func (c *Conn) Exec(ctx context.Context, sql string) (CommandTag, error) {
	res, err := c.c.Exec(ctx, sql)
	if err != nil {
		return nil, err
	}
	return res.CommandTag(), nil
}

// QueryArray executes sql with positional arguments and returns the rows as
// value slices in server order.
func (c *Conn) QueryArray(ctx context.Context, sql string, args ...interface{}) (*Result, error) {
	res, err := c.c.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return materializeArray(res, c.c.Registry())
}

// QueryArrayConfig is QueryArray with the query expressed as a Query value.
func (c *Conn) QueryArrayConfig(ctx context.Context, q Query) (*Result, error) {
	return c.QueryArray(ctx, q.Text, q.Args...)
}

// QueryObject executes q and returns the rows as field-keyed maps. Explicit
// q.Fields override the server's column aliases positionally; the list is
// validated against the row shape before any row is materialized.
func (c *Conn) QueryObject(ctx context.Context, q Query) (*ObjectResult, error) {
	res, err := c.c.Query(ctx, q.Text, q.Args...)
	if err != nil {
		return nil, err
	}
	return materializeObject(res, c.c.Registry(), q.Fields)
}

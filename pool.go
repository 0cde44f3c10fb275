/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgq

import (
	"container/list"
	"context"
	"sync"

	"pgq/internal/cfg"
)

// Pool is a bounded set of connections handed out one at a time. Connections
// are created lazily up to the bound; when all are lent, Acquire parks the
// caller in a FIFO queue. A conn is owned by exactly one side at any moment:
// the pool (idle) or one borrower (lent). The pool never touches a lent conn.
type Pool struct {
	config   *cfg.Config
	maxConns int

	mu      sync.Mutex
	idle    []*Conn
	total   int // idle + lent, never exceeds maxConns
	waiters *list.List
	closed  bool
}

// waiter is handed either a conn or nil (pool closed) through its buffered
// channel, so the sender never blocks.
type waiter chan *Conn

// NewPool creates a pool bounded to maxConns connections over config. No
// connection is made until the first Acquire.
func NewPool(config *cfg.Config, maxConns int) *Pool {
	if maxConns < 1 {
		maxConns = 1
	}
	return &Pool{
		config:   config,
		maxConns: maxConns,
		waiters:  list.New(),
	}
}

// Acquire returns a connection for exclusive use: an idle one if available,
// a new one if capacity remains, otherwise it waits its turn in FIFO order.
// Cancellation of ctx abandons the wait.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}

	if p.total < p.maxConns {
		p.total++
		p.mu.Unlock()

		c, err := ConnectConfig(ctx, p.config)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil, err
		}
		return c, nil
	}

	w := make(waiter, 1)
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case c := <-w:
		if c == nil {
			return nil, ErrPoolClosed
		}
		return c, nil
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case c := <-w:
			// Something was handed over concurrently with the cancellation:
			// a conn from a releaser, or nil from Close. A conn under a live
			// pool is passed on rather than leaking the slot; under a closed
			// pool its slot is gone, so it is shut instead.
			switch {
			case c == nil:
			case p.closed:
				p.total--
				defer c.Close()
			default:
				p.releaseLocked(c)
			}
		default:
			p.waiters.Remove(elem)
		}
		p.mu.Unlock()
		return nil, &timeoutError{err: ctx.Err()}
	}
}

// Release returns a lent connection. Broken connections are discarded and
// their capacity freed; healthy ones go to the oldest waiter first, then to
// the idle set.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.total--
		p.mu.Unlock()
		c.Close()
		return
	}
	if c.IsClosed() {
		p.total--
		p.mu.Unlock()
		return
	}
	p.releaseLocked(c)
	p.mu.Unlock()
}

// releaseLocked hands c to the oldest waiter or parks it idle. Caller holds
// p.mu.
func (p *Pool) releaseLocked(c *Conn) {
	if e := p.waiters.Front(); e != nil {
		p.waiters.Remove(e)
		e.Value.(waiter) <- c
		return
	}
	p.idle = append(p.idle, c)
}

// Close shuts the pool: idle connections are closed, waiters fail with
// ErrPoolClosed, and lent connections are closed as they are released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(waiter) <- nil
	}
	p.waiters.Init()

	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
}

// Stat reports the pool's occupancy: open connections and how many of them
// are idle.
func (p *Pool) Stat() (total, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total, len(p.idle)
}

// Exec acquires a connection, runs sql over the simple protocol and releases
// the connection.
func (p *Pool) Exec(ctx context.Context, sql string) (CommandTag, error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(c)
	return c.Exec(ctx, sql)
}

// QueryArray acquires a connection, runs the query and releases the
// connection.
func (p *Pool) QueryArray(ctx context.Context, sql string, args ...interface{}) (*Result, error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(c)
	return c.QueryArray(ctx, sql, args...)
}

// QueryObject acquires a connection, runs the query and releases the
// connection.
func (p *Pool) QueryObject(ctx context.Context, q Query) (*ObjectResult, error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(c)
	return c.QueryObject(ctx, q)
}

// timeoutError makes pool waits report through the Timeout helper like every
// other deadline failure.
type timeoutError struct {
	err error
}

func (e *timeoutError) Error() string {
	return "acquire timeout: " + e.err.Error()
}

func (e *timeoutError) Unwrap() error { return e.err }

func (e *timeoutError) SafeToRetry() bool { return true }

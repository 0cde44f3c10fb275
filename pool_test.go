package pgq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitersLen(p *Pool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.Len()
}

func TestPoolLazyCreation(t *testing.T) {
	fs := newFakeServer(t)
	p := NewPool(fs.config(), 4)
	defer p.Close()

	total, idle := p.Stat()
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, idle)
	assert.Equal(t, 0, fs.dialCount())

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fs.dialCount())

	total, idle = p.Stat()
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, idle)

	p.Release(c)
	total, idle = p.Stat()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, idle)

	// idle conn reused, no new dial
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, c, c2)
	assert.Equal(t, 1, fs.dialCount())
	p.Release(c2)
}

func TestPoolBoundAndFIFO(t *testing.T) {
	fs := newFakeServer(t)
	p := NewPool(fs.config(), 1)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	acquireNth := func(n int) {
		defer wg.Done()
		got, err := p.Acquire(context.Background())
		require.NoError(t, err)
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		p.Release(got)
	}

	// Park two waiters in a known order.
	wg.Add(1)
	go acquireNth(1)
	require.Eventually(t, func() bool { return waitersLen(p) == 1 }, time.Second, time.Millisecond)
	wg.Add(1)
	go acquireNth(2)
	require.Eventually(t, func() bool { return waitersLen(p) == 2 }, time.Second, time.Millisecond)

	// Only one conn ever existed.
	assert.Equal(t, 1, fs.dialCount())

	p.Release(c)
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 1, fs.dialCount())

	total, idle := p.Stat()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, idle)
}

func TestPoolAcquireCancellation(t *testing.T) {
	fs := newFakeServer(t)
	p := NewPool(fs.config(), 1)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return waitersLen(p) == 1 }, time.Second, time.Millisecond)
	cancel()

	err = <-errCh
	require.Error(t, err)
	assert.True(t, Timeout(err))
	assert.Equal(t, 0, waitersLen(p), "cancelled waiter must leave the queue")

	p.Release(c)
}

func TestPoolCloseRaceOnCancelledAcquire(t *testing.T) {
	fs := newFakeServer(t)
	p := NewPool(fs.config(), 1)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return waitersLen(p) == 1 }, time.Second, time.Millisecond)

	// Hold the lock so the cancelled waiter cannot clean up yet, then hand
	// it the conn and close the pool, the interleaving a concurrent Release
	// and Close would produce.
	p.mu.Lock()
	cancel()
	time.Sleep(100 * time.Millisecond)
	elem := p.waiters.Front()
	p.waiters.Remove(elem)
	elem.Value.(waiter) <- c
	p.closed = true
	p.mu.Unlock()

	err = <-errCh
	require.Error(t, err)
	assert.True(t, Timeout(err))

	assert.True(t, c.IsClosed(), "a conn handed to a dead waiter of a closed pool must be shut")
	total, idle := p.Stat()
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, idle)
}

func TestPoolCancelledAcquireDropsClosedToken(t *testing.T) {
	fs := newFakeServer(t)
	p := NewPool(fs.config(), 1)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return waitersLen(p) == 1 }, time.Second, time.Millisecond)

	p.mu.Lock()
	cancel()
	time.Sleep(100 * time.Millisecond)
	elem := p.waiters.Front()
	p.waiters.Remove(elem)
	elem.Value.(waiter) <- nil
	p.closed = true
	p.mu.Unlock()

	err = <-errCh
	require.Error(t, err)
	assert.True(t, Timeout(err))

	_, idle := p.Stat()
	assert.Equal(t, 0, idle, "the closed token must not enter the idle set")

	p.Release(c)
	assert.True(t, c.IsClosed())
	total, _ := p.Stat()
	assert.Equal(t, 0, total)
}

func TestPoolReleaseBrokenConn(t *testing.T) {
	fs := newFakeServer(t)
	p := NewPool(fs.config(), 1)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	c.Close()
	p.Release(c)

	total, idle := p.Stat()
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, idle)

	// capacity was freed, a fresh conn can be made
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, c2.IsClosed())
	assert.Equal(t, 2, fs.dialCount())
	p.Release(c2)
}

func TestPoolCloseFailsWaiters(t *testing.T) {
	fs := newFakeServer(t)
	p := NewPool(fs.config(), 1)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return waitersLen(p) == 1 }, time.Second, time.Millisecond)

	p.Close()
	assert.ErrorIs(t, <-errCh, ErrPoolClosed)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	// a conn still lent at Close time is closed on release
	p.Release(c)
	assert.True(t, c.IsClosed())
	total, _ := p.Stat()
	assert.Equal(t, 0, total)
}

func TestPoolQueryConvenience(t *testing.T) {
	fs := newFakeServer(t,
		prepareResponse([]uint32{23}, usersFields()),
		executeResponse(usersBoundFields(), usersRows(), "SELECT 2"),
	)
	p := NewPool(fs.config(), 2)
	defer p.Close()

	result, err := p.QueryArray(context.Background(), "select id, name from users where id >= $1", 1)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)

	// the conn went back to the idle set
	total, idle := p.Stat()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, idle)
}

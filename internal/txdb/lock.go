package txdb

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// SerialLock serialises all mutations of one index. Waiters are granted the
// lock strictly FIFO. A force acquisition asserts the lock is already held
// by an ancestor frame (recursive removal paths) and yields a no-op release.
//
// The lock also tracks the set of transaction hashes with queued or running
// inserts; when that set drains to empty, one-shot drain waiters fire.
type SerialLock struct {
	mu        sync.Mutex
	held      bool
	destroyed bool
	waiters   []chan error

	pending map[chainhash.Hash]int
	drain   []chan struct{}
}

func NewSerialLock() *SerialLock {
	return &SerialLock{
		pending: make(map[chainhash.Hash]int),
	}
}

// Acquire blocks until the lock is granted and returns a one-shot release
// token. Granting order is FIFO. Acquire fails if the context is cancelled
// or the lock is destroyed while waiting.
func (l *SerialLock) Acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return nil, ErrDestroyed
	}
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return l.releaseToken(), nil
	}

	ch := make(chan error, 1)
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case err := <-ch:
		if err != nil {
			return nil, err
		}
		return l.releaseToken(), nil
	case <-ctx.Done():
		l.abandonWaiter(ch)
		return nil, ctx.Err()
	}
}

// AcquireForce asserts the lock is already held and returns a no-op release
// token. Forcing an idle lock is a programming error.
func (l *SerialLock) AcquireForce() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		panic("txdb: force acquisition of an idle lock")
	}
	return func() {}
}

func (l *SerialLock) releaseToken() func() {
	released := false
	return func() {
		l.mu.Lock()
		if released {
			l.mu.Unlock()
			panic("txdb: lock released twice")
		}
		released = true
		if len(l.waiters) > 0 {
			next := l.waiters[0]
			l.waiters = l.waiters[1:]
			l.mu.Unlock()
			next <- nil
			return
		}
		l.held = false
		l.mu.Unlock()
	}
}

// abandonWaiter removes ch from the queue; if the grant raced the
// cancellation, the grant is passed on.
func (l *SerialLock) abandonWaiter(ch chan error) {
	l.mu.Lock()
	for i, w := range l.waiters {
		if w == ch {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			l.mu.Unlock()
			return
		}
	}
	l.mu.Unlock()

	// Not queued anymore: a grant is in flight. Accept and re-release.
	if err := <-ch; err == nil {
		l.releaseToken()()
	}
}

// AddPending registers a queued insert for hash.
func (l *SerialLock) AddPending(hash *chainhash.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return
	}
	l.pending[*hash]++
}

// RemovePending unregisters an insert; the last removal fires all drain
// waiters.
func (l *SerialLock) RemovePending(hash *chainhash.Hash) {
	l.mu.Lock()
	n, ok := l.pending[*hash]
	if ok {
		if n <= 1 {
			delete(l.pending, *hash)
		} else {
			l.pending[*hash] = n - 1
		}
	}
	var fire []chan struct{}
	if len(l.pending) == 0 && len(l.drain) > 0 {
		fire = l.drain
		l.drain = nil
	}
	l.mu.Unlock()

	for _, ch := range fire {
		close(ch)
	}
}

// HasPending reports whether hash has a queued or running insert.
func (l *SerialLock) HasPending(hash *chainhash.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[*hash]
	return ok
}

// OnDrain returns a channel closed the next time the pending insert set
// becomes empty. If it is already empty the channel is closed immediately.
func (l *SerialLock) OnDrain() <-chan struct{} {
	ch := make(chan struct{})
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		close(ch)
		return ch
	}
	l.drain = append(l.drain, ch)
	l.mu.Unlock()
	return ch
}

// Destroy fails every queued waiter and clears the pending set. The current
// holder, if any, runs to completion; its release becomes a no-op handoff
// to nobody.
func (l *SerialLock) Destroy() {
	l.mu.Lock()
	l.destroyed = true
	waiters := l.waiters
	l.waiters = nil
	l.pending = make(map[chainhash.Hash]int)
	drain := l.drain
	l.drain = nil
	l.mu.Unlock()

	for _, ch := range waiters {
		ch <- ErrDestroyed
	}
	for _, ch := range drain {
		close(ch)
	}
}

package db

import (
	"context"
	"sync"
)

// Subscription is a cancellable stream of full snapshots of one path.
//
// Only the most recent undelivered snapshot is kept: a slow reader skips
// intermediate states but always ends up at the latest one.
type Subscription struct {
	path   string
	c      chan Snapshot
	done   chan struct{}
	cancel context.CancelFunc

	mu       sync.Mutex
	err      error
	finished bool
}

func newSubscription(path string, cancel context.CancelFunc) *Subscription {
	return &Subscription{
		path:   path,
		c:      make(chan Snapshot, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Path returns the subscribed path.
func (s *Subscription) Path() string {
	return s.path
}

// C returns the snapshot channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Snapshot {
	return s.c
}

// Done is closed once the subscription has stopped delivering.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops delivery and releases the underlying store subscription. Safe to call twice.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) deliver(snap Snapshot) {
	// Drop a stale pending snapshot; only this goroutine sends, so the send cannot block.
	select {
	case <-s.c:
	default:
	}
	s.c <- snap
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Subscription) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.cancel()
	close(s.c)
	close(s.done)
}

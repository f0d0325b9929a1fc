package history

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

var ErrSubscriptionFailed = errors.New("history subscription failed")

// SubscriptionError is reported to a subscriber's error callback when the
// change feed can no longer deliver history. The subscription is terminated.
type SubscriptionError struct {
	UserID string
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("history subscription for %s failed: %v", e.UserID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

func (e *SubscriptionError) Is(target error) bool { return target == ErrSubscriptionFailed }

// Subscription is the handle of a running history feed.
//
// Unsubscribe is idempotent and may be called from inside the change
// callback; it does not wait for a callback that is already running.
// UnsubscribeAndWait also waits for that callback to return, so once it
// returns no callback is running and none will start. It must not be called
// from inside the callback.
type Subscription struct {
	mu     sync.Mutex
	closed bool
	err    error

	// held by Deliver from the closed check until the callback returns
	deliverMu sync.Mutex

	release     func()
	releaseOnce sync.Once
	done        chan struct{}
	doneOnce    sync.Once
}

// NewSubscription returns a handle that calls release exactly once when the
// subscription ends, however it ends.
func NewSubscription(release func()) *Subscription {
	if release == nil {
		release = func() {}
	}
	return &Subscription{
		release: release,
		done:    make(chan struct{}),
	}
}

// Deliver runs fn unless the subscription is closed. It reports whether fn ran.
// Deliveries are serialized.
func (s *Subscription) Deliver(fn func()) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.Closed() {
		return false
	}
	fn()
	return true
}

func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.finish()
}

// UnsubscribeAndWait unsubscribes and waits for a callback in progress.
func (s *Subscription) UnsubscribeAndWait() {
	s.Unsubscribe()
	s.deliverMu.Lock()
	//nolint:staticcheck // empty critical section, only waits for Deliver
	s.deliverMu.Unlock()
}

// Terminate closes the subscription with err. It reports false if the
// subscription was already closed, in which case err is dropped.
func (s *Subscription) Terminate(err error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()
	s.finish()
	return true
}

func (s *Subscription) finish() {
	s.releaseOnce.Do(s.release)
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that terminated the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

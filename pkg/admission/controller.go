package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tradecore/pkg/exchange"
)

// Limit is the configured budget for one (account, request type) bucket:
// at most Requests admissions per Per window.
type Limit struct {
	Requests int
	Per      time.Duration
}

// Rate converts the window form into a token replenishment rate.
func (l Limit) Rate() rate.Limit {
	return rate.Limit(float64(l.Requests) / l.Per.Seconds())
}

// waiter states. Only the caller moves pending to cancelled; only the
// dispatcher moves pending to granted, so a racing grant always wins.
const (
	waiterPending int32 = iota
	waiterGranted
	waiterCancelled
)

type waiter struct {
	ctx   context.Context
	state atomic.Int32
	done  chan struct{} // closed on grant
}

func newWaiter(ctx context.Context) *waiter {
	return &waiter{ctx: ctx, done: make(chan struct{})}
}

// queueDepth bounds how many callers can be parked per bucket before
// enqueueing itself blocks. In-flight strategies number in the hundreds at
// most, so this is effectively unbounded.
const queueDepth = 4096

type bucketKey struct {
	account exchange.AccountID
	kind    RequestType
}

type bucket struct {
	key      bucketKey
	limiter  *rate.Limiter
	requests chan *waiter
	closed   chan struct{}
}

// Controller grants rate-limited admission slots per (account, request
// type). Waiting callers for the same bucket are served strictly first
// come, first served; buckets proceed independently of each other.
//
// The controller only admits: it never retries and never issues the venue
// request itself.
type Controller struct {
	mu      sync.RWMutex
	buckets map[bucketKey]*bucket
	groups  map[GroupID]*group

	closeOnce sync.Once
}

// NewController constructs an empty controller. Accounts must be registered
// before any Reserve call for them.
func NewController() *Controller {
	return &Controller{
		buckets: make(map[bucketKey]*bucket),
		groups:  make(map[GroupID]*group),
	}
}

// RegisterAccount installs the budget buckets for one account. Request
// types missing from limits get no bucket; reserving them later is a
// programming error.
func (c *Controller) RegisterAccount(account exchange.AccountID, limits map[RequestType]Limit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for kind, limit := range limits {
		if limit.Requests <= 0 || limit.Per <= 0 {
			panic(fmt.Sprintf("admission: invalid limit %+v for %s/%s", limit, account, kind))
		}
		key := bucketKey{account: account, kind: kind}
		if _, exists := c.buckets[key]; exists {
			continue
		}
		b := &bucket{
			key:      key,
			limiter:  rate.NewLimiter(limit.Rate(), limit.Requests),
			requests: make(chan *waiter, queueDepth),
			closed:   make(chan struct{}),
		}
		c.buckets[key] = b
		go b.dispatch()
	}
}

// Reserve blocks until the caller is authorized to issue exactly one
// request of the given type for the account, or until ctx is cancelled.
// Cancellation while waiting releases the queue position without consuming
// a slot; cancellation is never retroactive once granted.
func (c *Controller) Reserve(ctx context.Context, account exchange.AccountID, kind RequestType) error {
	b := c.mustBucket(account, kind)
	return b.await(ctx, newWaiter(ctx))
}

func (c *Controller) mustBucket(account exchange.AccountID, kind RequestType) *bucket {
	c.mu.RLock()
	b, ok := c.buckets[bucketKey{account: account, kind: kind}]
	c.mu.RUnlock()
	if !ok {
		// Unknown bucket means the caller reserved a request type the
		// account was never configured for: a precondition violation, not a
		// runtime condition to retry.
		panic(fmt.Sprintf("admission: no bucket registered for %s/%s", account, kind))
	}
	return b
}

func (b *bucket) await(ctx context.Context, w *waiter) error {
	select {
	case b.requests <- w:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		if w.state.CompareAndSwap(waiterPending, waiterCancelled) {
			return ctx.Err()
		}
		// Grant raced the cancellation and won; the slot is ours.
		<-w.done
		return nil
	}
}

// dispatch serves one bucket's queue in arrival order. Channel order is the
// FIFO guarantee: a waiter only consumes a token once it reaches the head.
func (b *bucket) dispatch() {
	for {
		select {
		case <-b.closed:
			return
		case w := <-b.requests:
			b.serve(w)
		}
	}
}

func (b *bucket) serve(w *waiter) {
	if w.state.Load() == waiterCancelled {
		return
	}
	r := b.limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-w.ctx.Done():
			timer.Stop()
			r.Cancel()
			return
		case <-b.closed:
			timer.Stop()
			r.Cancel()
			return
		}
	}
	if w.state.CompareAndSwap(waiterPending, waiterGranted) {
		close(w.done)
		return
	}
	// Cancelled while we slept; hand the token back.
	r.Cancel()
}

// Close stops all bucket dispatchers. Pending waiters are abandoned and
// observe their own context cancellation.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, b := range c.buckets {
			close(b.closed)
		}
	})
}

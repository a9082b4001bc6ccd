package admission

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tradecore/pkg/exchange"
)

// GroupID identifies a pre-reserved batch of admission slots.
type GroupID string

// group holds slots booked ahead of time against one bucket. Requests that
// join the group consume booked slots without queueing; unused slots are
// handed back when the group closes.
type group struct {
	mu           sync.Mutex
	bucket       *bucket
	reservations []*rate.Reservation
	used         int
}

// BookGroup pre-reserves up to n immediately available slots in the
// (account, kind) bucket and returns the group handle plus the number of
// slots actually booked. Slots that would require waiting are not booked;
// batched callers fall back to the normal queue for the remainder.
func (c *Controller) BookGroup(account exchange.AccountID, kind RequestType, n int) (GroupID, int) {
	b := c.mustBucket(account, kind)

	g := &group{bucket: b}
	for i := 0; i < n; i++ {
		r := b.limiter.Reserve()
		if r.Delay() > 0 {
			r.Cancel()
			break
		}
		g.reservations = append(g.reservations, r)
	}

	id := GroupID(uuid.NewString())
	c.mu.Lock()
	c.groups[id] = g
	c.mu.Unlock()
	return id, len(g.reservations)
}

// ReserveInGroup consumes one pre-booked slot from the group if any remain,
// otherwise falls back to a normal FIFO reservation on the same bucket.
func (c *Controller) ReserveInGroup(ctx context.Context, account exchange.AccountID, kind RequestType, id GroupID) error {
	c.mu.RLock()
	g, ok := c.groups[id]
	c.mu.RUnlock()
	if ok && g.take() {
		return nil
	}
	return c.Reserve(ctx, account, kind)
}

func (g *group) take() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used >= len(g.reservations) {
		return false
	}
	g.used++
	return true
}

// CloseGroup releases a group's unused slots back to its bucket.
func (c *Controller) CloseGroup(id GroupID) {
	c.mu.Lock()
	g, ok := c.groups[id]
	delete(c.groups, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.reservations[g.used:] {
		r.Cancel()
	}
	g.reservations = g.reservations[:g.used]
}

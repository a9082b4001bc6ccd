package connectivity

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"

	"tradecore/pkg/exchange"
)

const defaultReconnectWait = 5 * time.Second

// MessageHandler receives raw frames from an owned connection. Parsing into
// canonical events is the adapter's job, outside this package.
type MessageHandler func(role Role, payload []byte)

// Owner is the task that owns one stream's connection lifecycle. It calls
// the resolver on every (re)connection attempt, dials the resolved
// parameters, and pumps frames to the handler until the connection drops.
type Owner struct {
	account       exchange.AccountID
	resolver      *Resolver
	role          Role
	handler       MessageHandler
	dialer        *websocket.Dialer
	reconnectWait time.Duration
}

// OwnerOption customises an Owner.
type OwnerOption func(*Owner)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) OwnerOption {
	return func(o *Owner) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithReconnectWait overrides the pause between connection attempts.
func WithReconnectWait(d time.Duration) OwnerOption {
	return func(o *Owner) {
		if d > 0 {
			o.reconnectWait = d
		}
	}
}

// NewOwner constructs a connection owner for one account and role.
func NewOwner(account exchange.AccountID, resolver *Resolver, role Role, handler MessageHandler, opts ...OwnerOption) *Owner {
	o := &Owner{
		account:       account,
		resolver:      resolver,
		role:          role,
		handler:       handler,
		dialer:        websocket.DefaultDialer,
		reconnectWait: defaultReconnectWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dial resolves the role and opens a connection. The bool mirrors the
// resolver: false means the role does not resolve right now.
func (o *Owner) Dial(ctx context.Context) (*websocket.Conn, bool, error) {
	params, ok := o.resolver.Resolve(o.role)
	if !ok {
		return nil, false, nil
	}
	conn, _, err := o.dialer.DialContext(ctx, params.URL.String(), nil)
	if err != nil {
		return nil, true, fmt.Errorf("connectivity %s/%s: dial %s: %w", o.account, o.role, params.URL, err)
	}
	return conn, true, nil
}

// Run keeps the stream connected until ctx is cancelled. Each attempt
// re-resolves the connection parameters, so instrument and session changes
// take effect on the next reconnect. A role that does not resolve is
// retried after the reconnect wait — the session manager may still be
// acquiring a token.
func (o *Owner) Run(ctx context.Context) error {
	for {
		conn, resolved, err := o.Dial(ctx)
		switch {
		case err != nil:
			logx.Errorf("connectivity %s/%s: %v", o.account, o.role, err)
		case !resolved:
			logx.Slowf("connectivity %s/%s: role did not resolve, waiting", o.account, o.role)
		default:
			o.pump(ctx, conn)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.reconnectWait):
		}
	}
}

// pump reads frames until the connection drops or ctx is cancelled.
func (o *Owner) pump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logx.Slowf("connectivity %s/%s: connection dropped: %v", o.account, o.role, err)
			}
			return
		}
		if o.handler != nil {
			o.handler(o.role, payload)
		}
	}
}

package connectivity

import (
	"net/url"

	"tradecore/pkg/exchange"
)

// Role names a logical websocket stream. Primary is the market-data feed;
// Secondary is the private/user-data feed, which not every account has.
type Role int

const (
	RolePrimary Role = iota
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	}
	return "role(?)"
}

// Params are the concrete connection parameters for one stream.
type Params struct {
	URL *url.URL
}

// SessionSource exposes the current private-channel session token.
// Satisfied by session.Manager.
type SessionSource interface {
	Current() (string, bool)
}

// Resolver maps a requested stream role to connection parameters for one
// account. It holds no network state: every call recomputes the answer
// from current instrument and session state, so a reconnection attempt
// always picks up the latest configuration. It never blocks.
type Resolver struct {
	account  exchange.AccountID
	support  exchange.Support
	pairs    []exchange.CurrencyPair
	channels []string
	sessions SessionSource
}

// NewResolver constructs a resolver. sessions may be nil for accounts with
// no private channel.
func NewResolver(
	account exchange.AccountID,
	support exchange.Support,
	pairs []exchange.CurrencyPair,
	channels []string,
	sessions SessionSource,
) *Resolver {
	return &Resolver{
		account:  account,
		support:  support,
		pairs:    pairs,
		channels: channels,
		sessions: sessions,
	}
}

// Resolve answers a role with connection parameters, or declines. A false
// return is not an error: an account without a secondary feed, or without
// a live session token yet, is a valid configuration and the caller simply
// retries on the next connection attempt.
func (r *Resolver) Resolve(role Role) (*Params, bool) {
	switch role {
	case RolePrimary:
		return r.buildParams(r.support.BuildWsMainPath(r.pairs, r.channels))
	case RoleSecondary:
		if !r.support.IsWsSecondarySupported() {
			return nil, false
		}
		if r.sessions == nil {
			return nil, false
		}
		key, ok := r.sessions.Current()
		if !ok {
			return nil, false
		}
		return r.buildParams(r.support.BuildWsSecondaryPath(key))
	}
	return nil, false
}

func (r *Resolver) buildParams(path string) (*Params, bool) {
	u, err := url.Parse(r.support.WsHost() + path)
	if err != nil {
		return nil, false
	}
	return &Params{URL: u}, true
}

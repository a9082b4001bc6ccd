package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradecore/pkg/admission"
	"tradecore/pkg/exchange"
)

// maxAcquireAttempts bounds listen-key acquisition. The loop performs
// exactly this many attempts before the failure is surfaced.
const maxAcquireAttempts = 10

// defaultRenewInterval matches the common venue requirement of refreshing
// a listen key well inside its 60-minute validity.
const defaultRenewInterval = 30 * time.Minute

// State is the session lifecycle for one account's private push channel.
type State string

const (
	StateNoSession State = "no_session"
	StateAcquiring State = "acquiring"
	StateActive    State = "active"
	StateRenewing  State = "renewing"
	StateExpired   State = "expired"
)

// ExhaustedError reports that listen-key acquisition failed on every
// attempt. It is unrecoverable for this account's push channel and must be
// escalated by the caller — never swallowed, never a process abort.
type ExhaustedError struct {
	Account  exchange.AccountID
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("session %s: listen key acquisition failed after %d attempts: %v",
		e.Account, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Manager owns one account's session token. The token is replaced, never
// mutated, on renewal; readers get the current value through Current.
type Manager struct {
	account   exchange.AccountID
	support   exchange.Support
	admission *admission.Controller

	renewEvery time.Duration

	mu    sync.RWMutex
	key   string
	state State
}

// Option customises the manager.
type Option func(*Manager)

// WithRenewInterval overrides the renewal tick period.
func WithRenewInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.renewEvery = d
		}
	}
}

// NewManager constructs a session manager for one account.
func NewManager(account exchange.AccountID, support exchange.Support, ctrl *admission.Controller, opts ...Option) *Manager {
	m := &Manager{
		account:    account,
		support:    support,
		admission:  ctrl,
		renewEvery: defaultRenewInterval,
		state:      StateNoSession,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current returns the live session token, if one exists.
func (m *Manager) Current() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key, m.key != ""
}

// Acquire obtains a fresh listen key, retrying up to the attempt ceiling.
// Every attempt requests admission first so retries stay rate-limit
// compliant. Failed attempts below the ceiling log a warning; exhausting
// the ceiling returns an *ExhaustedError for the caller's supervisor to
// act on.
func (m *Manager) Acquire(ctx context.Context) (string, error) {
	m.setState(StateAcquiring)

	var lastErr error
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		if err := m.admission.Reserve(ctx, m.account, admission.RequestTypeGetListenKey); err != nil {
			m.setState(StateNoSession)
			return "", fmt.Errorf("session %s: admission: %w", m.account, err)
		}

		key, err := m.support.RequestListenKey(ctx)
		if err == nil {
			m.mu.Lock()
			m.key = key
			m.state = StateActive
			m.mu.Unlock()
			return key, nil
		}
		lastErr = err
		logx.Slowf("session %s: listen key attempt %d failed: %v", m.account, attempt+1, err)
	}

	m.setState(StateNoSession)
	return "", &ExhaustedError{Account: m.account, Attempts: maxAcquireAttempts, Last: lastErr}
}

// Renew refreshes the current listen key. With no live session this is a
// no-op: a not-yet-connected account is not a failure, so nothing is
// requested and no error is raised. A failed renewal keeps the existing
// key, which stays valid until its server-side expiry.
func (m *Manager) Renew(ctx context.Context) error {
	m.mu.RLock()
	key := m.key
	m.mu.RUnlock()
	if key == "" {
		logx.Slowf("session %s: skipping listen key renewal, no session", m.account)
		return nil
	}

	m.setState(StateRenewing)
	if err := m.admission.Reserve(ctx, m.account, admission.RequestTypeUpdateListenKey); err != nil {
		m.setState(StateActive)
		return fmt.Errorf("session %s: admission: %w", m.account, err)
	}

	// Re-read: the connection may have been torn down while we waited.
	m.mu.RLock()
	key = m.key
	m.mu.RUnlock()
	if key == "" {
		m.setState(StateNoSession)
		logx.Slowf("session %s: skipping listen key renewal, session dropped while waiting", m.account)
		return nil
	}

	if err := m.support.RenewListenKey(ctx, key); err != nil {
		m.setState(StateActive)
		logx.Slowf("session %s: listen key renewal failed: %v", m.account, err)
		return nil
	}
	m.setState(StateActive)
	return nil
}

// Invalidate drops the session after an explicit connection teardown.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = ""
	m.state = StateExpired
}

// Run acquires a session and keeps it renewed until ctx is cancelled.
// Acquisition exhaustion is returned to the caller; renewal failures are
// absorbed (see Renew).
func (m *Manager) Run(ctx context.Context) error {
	if _, err := m.Acquire(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(m.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Renew(ctx); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

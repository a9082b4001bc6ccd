package exchange

import (
	"fmt"
	"time"
)

// EventSource tags which channel an order action outcome or update came
// from. REST-derived state is authoritative for the trading core; push
// events are out-of-band confirmations.
type EventSource string

const (
	SourceRest EventSource = "rest"
	SourcePush EventSource = "websocket"
)

// ErrorKind classifies adapter and engine failures.
type ErrorKind string

const (
	// ErrKindTransport covers network and protocol failures: the adapter
	// could not complete the call at all.
	ErrKindTransport ErrorKind = "transport"
	// ErrKindParsing marks an unparseable venue payload. Kept distinct from
	// a business rejection because it signals contract drift between the
	// adapter and the venue.
	ErrKindParsing ErrorKind = "parsing"
	// ErrKindRejected is an explicit business refusal by the venue.
	ErrKindRejected ErrorKind = "rejected"
	// ErrKindCancelled reports a cooperative cancellation while waiting for
	// admission; not a failure of the venue or the adapter.
	ErrKindCancelled ErrorKind = "cancelled"
	// ErrKindUnknown is everything the adapter could not classify.
	ErrKindUnknown ErrorKind = "unknown"
)

// Error is the typed failure adapters and the engine surface to callers.
type Error struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration // optional venue-provided backoff hint
}

func (e *Error) Error() string {
	return fmt.Sprintf("exchange error (%s): %s", e.Kind, e.Message)
}

// NewError constructs a typed exchange error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf constructs a typed exchange error with formatting.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError coerces an arbitrary adapter error into a typed one. Typed
// errors pass through unchanged.
func WrapError(kind ErrorKind, err error) *Error {
	if err == nil {
		return nil
	}
	if typed, ok := err.(*Error); ok {
		return typed
	}
	return &Error{Kind: kind, Message: err.Error()}
}

// Outcome is the tagged result of a capability call: either a value or a
// typed error, never both.
type Outcome[T any] struct {
	Value T
	Err   *Error
}

// Succeed wraps a value in a successful outcome.
func Succeed[T any](value T) Outcome[T] {
	return Outcome[T]{Value: value}
}

// Fail wraps a typed error in a failed outcome.
func Fail[T any](err *Error) Outcome[T] {
	return Outcome[T]{Err: err}
}

// Ok reports whether the outcome carries a value.
func (o Outcome[T]) Ok() bool { return o.Err == nil }

// CreateOrderResult is the normalized result of an order placement, tagged
// with the channel that produced it.
type CreateOrderResult struct {
	ClientOrderID   ClientOrderID
	ExchangeOrderID ExchangeOrderID
	Source          EventSource
	Err             *Error
}

// CreateOrderSucceeded builds a successful placement result.
func CreateOrderSucceeded(clientID ClientOrderID, exchangeID ExchangeOrderID, source EventSource) CreateOrderResult {
	return CreateOrderResult{ClientOrderID: clientID, ExchangeOrderID: exchangeID, Source: source}
}

// CreateOrderFailed builds a failed placement result.
func CreateOrderFailed(clientID ClientOrderID, err *Error, source EventSource) CreateOrderResult {
	return CreateOrderResult{ClientOrderID: clientID, Source: source, Err: err}
}

// Ok reports whether the placement succeeded.
func (r CreateOrderResult) Ok() bool { return r.Err == nil }

// CancelOrderResult is the normalized result of an order cancellation.
type CancelOrderResult struct {
	ClientOrderID ClientOrderID
	Source        EventSource
	Err           *Error
}

// CancelOrderSucceeded builds a successful cancellation result.
func CancelOrderSucceeded(clientID ClientOrderID, source EventSource) CancelOrderResult {
	return CancelOrderResult{ClientOrderID: clientID, Source: source}
}

// CancelOrderFailed builds a failed cancellation result.
func CancelOrderFailed(clientID ClientOrderID, err *Error, source EventSource) CancelOrderResult {
	return CancelOrderResult{ClientOrderID: clientID, Source: source, Err: err}
}

// Ok reports whether the cancellation succeeded.
func (r CancelOrderResult) Ok() bool { return r.Err == nil }

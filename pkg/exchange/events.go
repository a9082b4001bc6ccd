package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical events broadcast on the engine's fan-out bus. Events are
// immutable once published; subscribers must treat them as read-only.

// Event is the common surface of every canonical exchange event.
type Event interface {
	EventAccount() AccountID
	EventTime() time.Time
}

// BalanceUpdate reports an observed account balance snapshot.
type BalanceUpdate struct {
	Account  AccountID
	Time     time.Time
	Balances []Balance
}

func (e BalanceUpdate) EventAccount() AccountID { return e.Account }
func (e BalanceUpdate) EventTime() time.Time    { return e.Time }

// PositionUpdate reports an observed position snapshot.
type PositionUpdate struct {
	Account   AccountID
	Time      time.Time
	Positions []Position
}

func (e PositionUpdate) EventAccount() AccountID { return e.Account }
func (e PositionUpdate) EventTime() time.Time    { return e.Time }

// OrderUpdate reports an order state change observed on either channel.
type OrderUpdate struct {
	Account         AccountID
	Time            time.Time
	ClientOrderID   ClientOrderID
	ExchangeOrderID ExchangeOrderID
	Status          OrderStatus
	FilledAmount    decimal.Decimal
	Source          EventSource
}

func (e OrderUpdate) EventAccount() AccountID { return e.Account }
func (e OrderUpdate) EventTime() time.Time    { return e.Time }

package exchange

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Core trading domain types shared across exchange implementations.
// These structures stay exchange-agnostic so the engine-facing interface is
// consistent no matter which venue an adapter talks to.

// AccountID identifies one configured connection to one exchange: exchange
// identity plus a sub-account ordinal. Textual form is "Binance0".
type AccountID struct {
	Exchange string
	Number   int
}

// NewAccountID constructs an AccountID from an exchange name and ordinal.
func NewAccountID(exchange string, number int) AccountID {
	return AccountID{Exchange: strings.TrimSpace(exchange), Number: number}
}

// ParseAccountID parses the "Binance0" textual form.
func ParseAccountID(s string) (AccountID, error) {
	s = strings.TrimSpace(s)
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == 0 || i == len(s) {
		return AccountID{}, fmt.Errorf("exchange: invalid account id %q", s)
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return AccountID{}, fmt.Errorf("exchange: invalid account id %q: %w", s, err)
	}
	return AccountID{Exchange: s[:i], Number: n}, nil
}

func (a AccountID) String() string {
	return a.Exchange + strconv.Itoa(a.Number)
}

// IsZero reports whether the account id is unset.
func (a AccountID) IsZero() bool {
	return a.Exchange == "" && a.Number == 0
}

// CurrencyPair is a canonical base/quote instrument identifier.
type CurrencyPair struct {
	Base  string
	Quote string
}

// NewCurrencyPair normalises currency codes to upper case.
func NewCurrencyPair(base, quote string) CurrencyPair {
	return CurrencyPair{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

func (p CurrencyPair) String() string { return p.Base + p.Quote }

// IsZero reports whether the pair is unset.
func (p CurrencyPair) IsZero() bool { return p.Base == "" && p.Quote == "" }

// OrderSide represents order direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType distinguishes limit and market execution.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus tracks the canonical order lifecycle.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusPlaced          OrderStatus = "placed"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether no further transitions are expected.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// ClientOrderID is the engine-assigned order identifier.
type ClientOrderID string

// NewClientOrderID generates a unique client order id.
func NewClientOrderID() ClientOrderID {
	return ClientOrderID(uuid.NewString())
}

// ExchangeOrderID is the venue-assigned order identifier.
type ExchangeOrderID string

// OrderHeader carries the immutable part of an order. It is fixed at
// creation time; everything that can change lives behind the Order mutex.
type OrderHeader struct {
	ClientOrderID ClientOrderID
	Account       AccountID
	Pair          CurrencyPair
	Side          OrderSide
	Type          OrderType
	Price         decimal.Decimal
	Amount        decimal.Decimal
	CreatedAt     time.Time
}

// Order is the shared handle for one order's canonical state. The trading
// logic creates it and the engine updates it from both REST responses and
// push events; all mutation goes through the handle's mutex so the two
// sources cannot race on the same fields.
type Order struct {
	Header OrderHeader

	mu           sync.Mutex
	exchangeID   ExchangeOrderID
	status       OrderStatus
	filledAmount decimal.Decimal
}

// NewOrder constructs an order handle in Created status. A missing client
// order id is assigned automatically.
func NewOrder(header OrderHeader) *Order {
	if header.ClientOrderID == "" {
		header.ClientOrderID = NewClientOrderID()
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now()
	}
	return &Order{Header: header, status: OrderStatusCreated}
}

// ApplyPlaced records the venue-assigned id after a successful placement.
func (o *Order) ApplyPlaced(id ExchangeOrderID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exchangeID = id
	if !o.status.IsTerminal() {
		o.status = OrderStatusPlaced
	}
}

// ApplyUpdate merges an observed status change into the handle. Updates are
// applied in arrival order regardless of source; terminal states stick.
func (o *Order) ApplyUpdate(status OrderStatus, filled decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.IsTerminal() {
		return
	}
	o.status = status
	if filled.GreaterThan(o.filledAmount) {
		o.filledAmount = filled
	}
}

// Snapshot returns a consistent copy of the mutable state.
func (o *Order) Snapshot() OrderInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OrderInfo{
		ClientOrderID:   o.Header.ClientOrderID,
		ExchangeOrderID: o.exchangeID,
		Pair:            o.Header.Pair,
		Side:            o.Header.Side,
		Price:           o.Header.Price,
		Amount:          o.Header.Amount,
		FilledAmount:    o.filledAmount,
		Status:          o.status,
	}
}

// Status returns the current lifecycle status.
func (o *Order) Status() OrderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// ExchangeID returns the venue-assigned id, if known yet.
func (o *Order) ExchangeID() ExchangeOrderID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exchangeID
}

// OrderInfo is an immutable view of one order as reported by a venue or
// snapshotted from a handle.
type OrderInfo struct {
	ClientOrderID   ClientOrderID
	ExchangeOrderID ExchangeOrderID
	Pair            CurrencyPair
	Side            OrderSide
	Price           decimal.Decimal
	Amount          decimal.Decimal
	FilledAmount    decimal.Decimal
	Status          OrderStatus
}

// Balance is one currency's holding on an account.
type Balance struct {
	Currency string
	Amount   decimal.Decimal
}

// Position captures one open position. Amount is signed: positive long,
// negative short.
type Position struct {
	Pair       CurrencyPair
	Amount     decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   decimal.Decimal
}

// ClosedPosition reports the closing order issued for a position.
type ClosedPosition struct {
	ExchangeOrderID ExchangeOrderID
	Amount          decimal.Decimal
}

// BalancesAndPositions is the combined account snapshot a venue returns.
type BalancesAndPositions struct {
	Balances  []Balance
	Positions []Position
}

// Trade is one fill executed against an order.
type Trade struct {
	ExchangeOrderID ExchangeOrderID
	TradeID         string
	Pair            CurrencyPair
	Side            OrderSide
	Price           decimal.Decimal
	Amount          decimal.Decimal
	Fee             decimal.Decimal
	Time            time.Time
}

// Symbol describes one tradable instrument's metadata.
type Symbol struct {
	Pair            CurrencyPair
	PricePrecision  int32
	AmountPrecision int32
	MinAmount       decimal.Decimal
}

// Package sim is an in-memory paper-trading adapter. It implements the
// full capability contract against a book kept under one mutex, which
// makes it both the default venue for dry runs and the test double for
// the engine packages.
package sim

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradecore/pkg/exchange"
)

var defaultInitialCash = decimal.NewFromInt(100000)

// Client is the paper-trading adapter for one account.
type Client struct {
	account exchange.AccountID
	pairs   []exchange.CurrencyPair

	wsHost         string
	privateChannel bool

	mu          sync.Mutex
	nextOrderID int
	resting     map[exchange.ExchangeOrderID]exchange.OrderInfo
	positions   map[exchange.CurrencyPair]*exchange.Position
	trades      []exchange.Trade
	markPx      map[exchange.CurrencyPair]decimal.Decimal
	cash        decimal.Decimal

	listenKeys      map[string]bool
	listenKeyFails  int
	listenKeyIssued int
	renewCalls      int
}

// Option customises the sim client.
type Option func(*Client)

// WithPrivateChannel toggles secondary (user-data) stream support.
func WithPrivateChannel(enabled bool) Option {
	return func(c *Client) { c.privateChannel = enabled }
}

// WithInitialCash overrides the starting quote balance.
func WithInitialCash(cash decimal.Decimal) Option {
	return func(c *Client) {
		if cash.IsPositive() {
			c.cash = cash
		}
	}
}

// WithWsHost overrides the advertised websocket host.
func WithWsHost(host string) Option {
	return func(c *Client) {
		if host != "" {
			c.wsHost = host
		}
	}
}

// New constructs a sim adapter trading the given instruments.
func New(account exchange.AccountID, pairs []exchange.CurrencyPair, opts ...Option) *Client {
	c := &Client{
		account:        account,
		pairs:          pairs,
		wsHost:         "wss://sim.exchange.test",
		privateChannel: true,
		nextOrderID:    1,
		resting:        make(map[exchange.ExchangeOrderID]exchange.OrderInfo),
		positions:      make(map[exchange.CurrencyPair]*exchange.Position),
		markPx:         make(map[exchange.CurrencyPair]decimal.Decimal),
		cash:           defaultInitialCash,
		listenKeys:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func init() {
	exchange.RegisterClient("sim", func(account exchange.AccountID, cfg *exchange.AccountConfig) (exchange.Client, error) {
		pairs, err := cfg.CurrencyPairs()
		if err != nil {
			return nil, err
		}
		return New(account, pairs), nil
	})
}

// SetMarkPrice updates the reference price used for market fills and
// position closes.
func (c *Client) SetMarkPrice(pair exchange.CurrencyPair, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("sim: mark price must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markPx[pair] = price
	return nil
}

// CreateOrder places an order. Market orders fill immediately at the mark
// price; limit orders rest on the book.
func (c *Client) CreateOrder(ctx context.Context, order *exchange.Order) exchange.CreateOrderResult {
	header := order.Header
	if !header.Amount.IsPositive() {
		return exchange.CreateOrderFailed(header.ClientOrderID,
			exchange.Errorf(exchange.ErrKindRejected, "sim: order amount must be positive, got %s", header.Amount),
			exchange.SourceRest)
	}
	if !c.knownPair(header.Pair) {
		return exchange.CreateOrderFailed(header.ClientOrderID,
			exchange.Errorf(exchange.ErrKindRejected, "sim: unknown instrument %s", header.Pair),
			exchange.SourceRest)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextExchangeIDLocked()
	switch header.Type {
	case exchange.OrderTypeMarket:
		price, ok := c.markPx[header.Pair]
		if !ok {
			return exchange.CreateOrderFailed(header.ClientOrderID,
				exchange.Errorf(exchange.ErrKindRejected, "sim: no mark price for %s", header.Pair),
				exchange.SourceRest)
		}
		c.fillLocked(id, header, price)
	default:
		c.resting[id] = exchange.OrderInfo{
			ClientOrderID:   header.ClientOrderID,
			ExchangeOrderID: id,
			Pair:            header.Pair,
			Side:            header.Side,
			Price:           header.Price,
			Amount:          header.Amount,
			Status:          exchange.OrderStatusPlaced,
		}
	}
	return exchange.CreateOrderSucceeded(header.ClientOrderID, id, exchange.SourceRest)
}

// CancelOrder removes a resting order from the book.
func (c *Client) CancelOrder(ctx context.Context, order *exchange.Order) exchange.CancelOrderResult {
	clientID := order.Header.ClientOrderID
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, info := range c.resting {
		if info.ClientOrderID == clientID {
			delete(c.resting, id)
			return exchange.CancelOrderSucceeded(clientID, exchange.SourceRest)
		}
	}
	return exchange.CancelOrderFailed(clientID,
		exchange.Errorf(exchange.ErrKindRejected, "sim: no resting order for %s", clientID),
		exchange.SourceRest)
}

// CancelAllOrders drops every resting order on the instrument.
func (c *Client) CancelAllOrders(ctx context.Context, pair exchange.CurrencyPair) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, info := range c.resting {
		if info.Pair == pair {
			delete(c.resting, id)
		}
	}
	return nil
}

// OpenOrders lists all resting orders, oldest first.
func (c *Client) OpenOrders(ctx context.Context) ([]exchange.OrderInfo, error) {
	return c.openOrders(func(exchange.OrderInfo) bool { return true }), nil
}

// OpenOrdersByPair lists resting orders for one instrument.
func (c *Client) OpenOrdersByPair(ctx context.Context, pair exchange.CurrencyPair) ([]exchange.OrderInfo, error) {
	return c.openOrders(func(info exchange.OrderInfo) bool { return info.Pair == pair }), nil
}

func (c *Client) openOrders(keep func(exchange.OrderInfo) bool) []exchange.OrderInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	orders := make([]exchange.OrderInfo, 0, len(c.resting))
	for _, info := range c.resting {
		if keep(info) {
			orders = append(orders, info)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ExchangeOrderID < orders[j].ExchangeOrderID
	})
	return orders
}

// OrderInfo reports one order's state: resting if on the book, otherwise
// derived from the fill history.
func (c *Client) OrderInfo(ctx context.Context, order *exchange.Order) (*exchange.OrderInfo, *exchange.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, info := range c.resting {
		if info.ClientOrderID == order.Header.ClientOrderID {
			out := info
			return &out, nil
		}
	}
	id := order.ExchangeID()
	for _, trade := range c.trades {
		if trade.ExchangeOrderID == id && id != "" {
			info := order.Snapshot()
			info.Status = exchange.OrderStatusFilled
			info.FilledAmount = info.Amount
			return &info, nil
		}
	}
	return nil, exchange.Errorf(exchange.ErrKindRejected, "sim: unknown order %s", order.Header.ClientOrderID)
}

// Balances reports the cash balance plus open positions.
func (c *Client) Balances(ctx context.Context, spot bool) (*exchange.BalancesAndPositions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := &exchange.BalancesAndPositions{
		Balances: []exchange.Balance{{Currency: "USDT", Amount: c.cash}},
	}
	if !spot {
		out.Positions = c.positionsLocked()
	}
	return out, nil
}

// ActivePositions lists open positions.
func (c *Client) ActivePositions(ctx context.Context) ([]exchange.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionsLocked(), nil
}

// ClosePosition issues the closing order at the given price, or the mark
// price when nil.
func (c *Client) ClosePosition(ctx context.Context, position exchange.Position, price *decimal.Decimal) (*exchange.ClosedPosition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	open, ok := c.positions[position.Pair]
	if !ok {
		return nil, fmt.Errorf("sim: no open position for %s", position.Pair)
	}
	px := decimal.Decimal{}
	if price != nil {
		px = *price
	} else if mark, found := c.markPx[position.Pair]; found {
		px = mark
	} else {
		px = open.EntryPrice
	}

	amount := open.Amount.Abs()
	side := exchange.OrderSideSell
	if open.Amount.IsNegative() {
		side = exchange.OrderSideBuy
	}
	id := c.nextExchangeIDLocked()
	c.fillLocked(id, exchange.OrderHeader{
		ClientOrderID: exchange.NewClientOrderID(),
		Pair:          position.Pair,
		Side:          side,
		Type:          exchange.OrderTypeMarket,
		Amount:        amount,
	}, px)

	return &exchange.ClosedPosition{ExchangeOrderID: id, Amount: amount}, nil
}

// MyTrades reports fills on the instrument since the given time.
func (c *Client) MyTrades(ctx context.Context, symbol exchange.Symbol, since time.Time) exchange.Outcome[[]exchange.Trade] {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []exchange.Trade
	for _, trade := range c.trades {
		if trade.Pair == symbol.Pair && !trade.Time.Before(since) {
			out = append(out, trade)
		}
	}
	return exchange.Succeed(out)
}

// BuildSymbols derives instrument metadata from the configured pairs.
func (c *Client) BuildSymbols(ctx context.Context) ([]exchange.Symbol, error) {
	symbols := make([]exchange.Symbol, 0, len(c.pairs))
	for _, pair := range c.pairs {
		symbols = append(symbols, exchange.Symbol{
			Pair:            pair,
			PricePrecision:  8,
			AmountPrecision: 8,
			MinAmount:       decimal.New(1, -8),
		})
	}
	return symbols, nil
}

// WsHost returns the advertised websocket host.
func (c *Client) WsHost() string { return c.wsHost }

// BuildWsMainPath joins lowercase pair/channel streams, binance style.
func (c *Client) BuildWsMainPath(pairs []exchange.CurrencyPair, channels []string) string {
	streams := make([]string, 0, len(pairs)*len(channels))
	for _, pair := range pairs {
		for _, channel := range channels {
			streams = append(streams, strings.ToLower(pair.String())+"@"+channel)
		}
	}
	return "/stream?streams=" + strings.Join(streams, "/")
}

// BuildWsSecondaryPath scopes the user-data stream to a listen key.
func (c *Client) BuildWsSecondaryPath(listenKey string) string {
	return "/ws/" + listenKey
}

// IsWsSecondarySupported reports private channel availability.
func (c *Client) IsWsSecondarySupported() bool { return c.privateChannel }

// FailNextListenKeys makes the next n listen key requests fail; used to
// exercise the session retry path.
func (c *Client) FailNextListenKeys(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listenKeyFails = n
}

// ListenKeysIssued reports how many listen keys have been granted.
func (c *Client) ListenKeysIssued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listenKeyIssued
}

// RequestListenKey issues a fresh session token.
func (c *Client) RequestListenKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listenKeyFails > 0 {
		c.listenKeyFails--
		return "", fmt.Errorf("sim: listen key unavailable")
	}
	key := uuid.NewString()
	c.listenKeys[key] = true
	c.listenKeyIssued++
	return key, nil
}

// RenewCalls reports how many renewals have been attempted.
func (c *Client) RenewCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renewCalls
}

// RenewListenKey refreshes a previously issued token.
func (c *Client) RenewListenKey(ctx context.Context, listenKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renewCalls++
	if !c.listenKeys[listenKey] {
		return fmt.Errorf("sim: unknown listen key")
	}
	return nil
}

func (c *Client) positionsLocked() []exchange.Position {
	positions := make([]exchange.Position, 0, len(c.positions))
	for _, pos := range c.positions {
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Pair.String() < positions[j].Pair.String()
	})
	return positions
}

func (c *Client) knownPair(pair exchange.CurrencyPair) bool {
	for _, p := range c.pairs {
		if p == pair {
			return true
		}
	}
	return false
}

func (c *Client) nextExchangeIDLocked() exchange.ExchangeOrderID {
	id := exchange.ExchangeOrderID(fmt.Sprintf("sim-%06d", c.nextOrderID))
	c.nextOrderID++
	return id
}

// fillLocked executes a full fill and books the position change.
func (c *Client) fillLocked(id exchange.ExchangeOrderID, header exchange.OrderHeader, price decimal.Decimal) {
	signed := header.Amount
	if header.Side == exchange.OrderSideSell {
		signed = signed.Neg()
	}

	pos, ok := c.positions[header.Pair]
	if !ok {
		pos = &exchange.Position{Pair: header.Pair, EntryPrice: price}
		c.positions[header.Pair] = pos
	}
	pos.Amount = pos.Amount.Add(signed)
	if pos.Amount.IsZero() {
		delete(c.positions, header.Pair)
	} else if ok && signed.Sign() == pos.Amount.Sign() {
		// Weighted average entry while adding to the position.
		total := pos.Amount
		prev := total.Sub(signed)
		pos.EntryPrice = pos.EntryPrice.Mul(prev).Add(price.Mul(signed)).Div(total)
	}

	c.cash = c.cash.Sub(signed.Mul(price))
	c.trades = append(c.trades, exchange.Trade{
		ExchangeOrderID: id,
		TradeID:         uuid.NewString(),
		Pair:            header.Pair,
		Side:            header.Side,
		Price:           price,
		Amount:          header.Amount,
		Time:            time.Now(),
	})
}

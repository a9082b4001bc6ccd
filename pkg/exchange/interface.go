package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Client is the capability contract every exchange adapter satisfies. The
// engine never sees a venue's wire format: adapters parse their own
// payloads and return canonical types or a typed failure. Order action
// results are tagged with SourceRest by construction; push-channel
// confirmations arrive separately through the event bus.
type Client interface {
	Support

	CreateOrder(ctx context.Context, order *Order) CreateOrderResult
	CancelOrder(ctx context.Context, order *Order) CancelOrderResult
	// CancelAllOrders is fire-and-forget: terminal states for the affected
	// orders are confirmed later via the push channel.
	CancelAllOrders(ctx context.Context, pair CurrencyPair) error

	OpenOrders(ctx context.Context) ([]OrderInfo, error)
	OpenOrdersByPair(ctx context.Context, pair CurrencyPair) ([]OrderInfo, error)
	OrderInfo(ctx context.Context, order *Order) (*OrderInfo, *Error)

	Balances(ctx context.Context, spot bool) (*BalancesAndPositions, error)
	ActivePositions(ctx context.Context) ([]Position, error)
	ClosePosition(ctx context.Context, position Position, price *decimal.Decimal) (*ClosedPosition, error)

	MyTrades(ctx context.Context, symbol Symbol, since time.Time) Outcome[[]Trade]
	BuildSymbols(ctx context.Context) ([]Symbol, error)
}

// Support covers the connectivity and session capabilities an adapter
// provides alongside trading: push-channel path construction and the
// private-channel session token (listen key) requests.
type Support interface {
	// WsHost returns the websocket host, scheme included (wss://...).
	WsHost() string
	// BuildWsMainPath derives the market-data stream path from the
	// account's instruments and subscribed channels. Pure function.
	BuildWsMainPath(pairs []CurrencyPair, channels []string) string
	// BuildWsSecondaryPath derives the private stream path from a live
	// session token. Only meaningful when IsWsSecondarySupported.
	BuildWsSecondaryPath(listenKey string) string
	// IsWsSecondarySupported reports whether this adapter/account exposes a
	// private push channel at all.
	IsWsSecondarySupported() bool

	RequestListenKey(ctx context.Context) (string, error)
	RenewListenKey(ctx context.Context, listenKey string) error
}

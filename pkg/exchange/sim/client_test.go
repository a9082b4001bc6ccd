package sim

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/exchange"
)

var (
	testAccount = exchange.NewAccountID("Sim", 0)
	btcUSDT     = exchange.NewCurrencyPair("BTC", "USDT")
	ethUSDT     = exchange.NewCurrencyPair("ETH", "USDT")
)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c := New(testAccount, []exchange.CurrencyPair{btcUSDT, ethUSDT}, opts...)
	require.NoError(t, c.SetMarkPrice(btcUSDT, decimal.NewFromInt(50000)))
	require.NoError(t, c.SetMarkPrice(ethUSDT, decimal.NewFromInt(4000)))
	return c
}

func marketOrder(pair exchange.CurrencyPair, side exchange.OrderSide, amount string) *exchange.Order {
	return exchange.NewOrder(exchange.OrderHeader{
		Account: testAccount,
		Pair:    pair,
		Side:    side,
		Type:    exchange.OrderTypeMarket,
		Amount:  decimal.RequireFromString(amount),
	})
}

func restingOrder(pair exchange.CurrencyPair, amount string) *exchange.Order {
	return exchange.NewOrder(exchange.OrderHeader{
		Account: testAccount,
		Pair:    pair,
		Side:    exchange.OrderSideBuy,
		Type:    exchange.OrderTypeLimit,
		Price:   decimal.NewFromInt(45000),
		Amount:  decimal.RequireFromString(amount),
	})
}

func TestClient_MarketOrderFillsAndBooksPosition(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	result := c.CreateOrder(ctx, marketOrder(btcUSDT, exchange.OrderSideBuy, "0.5"))
	require.True(t, result.Ok(), "market order should fill: %v", result.Err)
	assert.NotEmpty(t, result.ExchangeOrderID)

	positions, err := c.ActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Amount.Equal(decimal.RequireFromString("0.5")), "long position should be signed positive")
	assert.True(t, positions[0].EntryPrice.Equal(decimal.NewFromInt(50000)))

	trades := c.MyTrades(ctx, exchange.Symbol{Pair: btcUSDT}, time.Time{})
	require.True(t, trades.Ok())
	require.Len(t, trades.Value, 1)
	assert.Equal(t, result.ExchangeOrderID, trades.Value[0].ExchangeOrderID)
}

func TestClient_SellOpensShort(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.True(t, c.CreateOrder(ctx, marketOrder(ethUSDT, exchange.OrderSideSell, "2")).Ok())

	positions, err := c.ActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Amount.Equal(decimal.NewFromInt(-2)), "short position should be signed negative")
}

func TestClient_ZeroAmountRejected(t *testing.T) {
	c := newTestClient(t)

	result := c.CreateOrder(context.Background(), marketOrder(btcUSDT, exchange.OrderSideBuy, "0"))
	require.False(t, result.Ok())
	assert.Equal(t, exchange.ErrKindRejected, result.Err.Kind, "a zero amount is a business rejection")
	assert.Equal(t, exchange.SourceRest, result.Source)
}

func TestClient_UnknownPairRejected(t *testing.T) {
	c := newTestClient(t)

	result := c.CreateOrder(context.Background(), marketOrder(exchange.NewCurrencyPair("DOGE", "USDT"), exchange.OrderSideBuy, "1"))
	require.False(t, result.Ok())
	assert.Equal(t, exchange.ErrKindRejected, result.Err.Kind)
}

func TestClient_LimitOrderRestsAndCancels(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	order := restingOrder(btcUSDT, "0.3")
	result := c.CreateOrder(ctx, order)
	require.True(t, result.Ok())

	open, err := c.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, exchange.OrderStatusPlaced, open[0].Status)

	info, infoErr := c.OrderInfo(ctx, order)
	require.Nil(t, infoErr)
	assert.Equal(t, order.Header.ClientOrderID, info.ClientOrderID)

	cancel := c.CancelOrder(ctx, order)
	require.True(t, cancel.Ok())

	open, err = c.OpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open, "cancelled order should leave the book")

	cancel = c.CancelOrder(ctx, order)
	assert.False(t, cancel.Ok(), "cancelling twice should be refused")
}

func TestClient_CancelAllOrdersScopedToPair(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.True(t, c.CreateOrder(ctx, restingOrder(btcUSDT, "0.1")).Ok())
	require.True(t, c.CreateOrder(ctx, restingOrder(btcUSDT, "0.2")).Ok())
	require.True(t, c.CreateOrder(ctx, restingOrder(ethUSDT, "1")).Ok())

	require.NoError(t, c.CancelAllOrders(ctx, btcUSDT))

	open, err := c.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1, "only the other instrument's order survives")
	assert.Equal(t, ethUSDT, open[0].Pair)

	byPair, err := c.OpenOrdersByPair(ctx, btcUSDT)
	require.NoError(t, err)
	assert.Empty(t, byPair)
}

func TestClient_ClosePosition(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.True(t, c.CreateOrder(ctx, marketOrder(btcUSDT, exchange.OrderSideBuy, "0.5")).Ok())

	positions, err := c.ActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	closed, err := c.ClosePosition(ctx, positions[0], nil)
	require.NoError(t, err, "close at mark should succeed")
	assert.True(t, closed.Amount.Equal(decimal.RequireFromString("0.5")))

	positions, err = c.ActivePositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions, "the position should be flat after closing")
}

func TestClient_ClosePositionWithoutOpenFails(t *testing.T) {
	c := newTestClient(t)

	_, err := c.ClosePosition(context.Background(), exchange.Position{Pair: btcUSDT}, nil)
	assert.Error(t, err)
}

func TestClient_BalancesReflectFills(t *testing.T) {
	c := newTestClient(t, WithInitialCash(decimal.NewFromInt(100000)))
	ctx := context.Background()

	require.True(t, c.CreateOrder(ctx, marketOrder(btcUSDT, exchange.OrderSideBuy, "1")).Ok())

	snapshot, err := c.Balances(ctx, false)
	require.NoError(t, err)
	require.Len(t, snapshot.Balances, 1)
	assert.True(t, snapshot.Balances[0].Amount.Equal(decimal.NewFromInt(50000)),
		"cash should be debited by the fill notional")
	assert.Len(t, snapshot.Positions, 1)

	spot, err := c.Balances(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, spot.Positions, "the spot view carries no derivative positions")
}

func TestClient_MyTradesSinceFilter(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.True(t, c.CreateOrder(ctx, marketOrder(btcUSDT, exchange.OrderSideBuy, "0.1")).Ok())
	cutoff := time.Now().Add(time.Minute)

	trades := c.MyTrades(ctx, exchange.Symbol{Pair: btcUSDT}, cutoff)
	require.True(t, trades.Ok())
	assert.Empty(t, trades.Value, "fills before the cutoff are excluded")
}

func TestClient_BuildSymbols(t *testing.T) {
	c := newTestClient(t)

	symbols, err := c.BuildSymbols(context.Background())
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.Equal(t, btcUSDT, symbols[0].Pair)
	assert.True(t, symbols[0].MinAmount.IsPositive())
}

func TestClient_ListenKeyLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	key, err := c.RequestListenKey(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.Equal(t, 1, c.ListenKeysIssued())

	require.NoError(t, c.RenewListenKey(ctx, key))
	assert.Error(t, c.RenewListenKey(ctx, "never-issued"), "unknown keys cannot be renewed")
	assert.Equal(t, 2, c.RenewCalls())
}

func TestClient_ListenKeyFailureInjection(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	c.FailNextListenKeys(2)
	_, err := c.RequestListenKey(ctx)
	assert.Error(t, err)
	_, err = c.RequestListenKey(ctx)
	assert.Error(t, err)

	key, err := c.RequestListenKey(ctx)
	require.NoError(t, err, "failures should stop after the injected count")
	assert.NotEmpty(t, key)
}

func TestClient_WebsocketPaths(t *testing.T) {
	c := newTestClient(t)

	assert.Equal(t, "wss://sim.exchange.test", c.WsHost())
	path := c.BuildWsMainPath([]exchange.CurrencyPair{btcUSDT}, []string{"depth", "trade"})
	assert.Equal(t, "/stream?streams=btcusdt@depth/btcusdt@trade", path)
	assert.Equal(t, "/ws/key-1", c.BuildWsSecondaryPath("key-1"))
	assert.True(t, c.IsWsSecondarySupported())

	private := New(testAccount, nil, WithPrivateChannel(false))
	assert.False(t, private.IsWsSecondarySupported())
}

func TestClient_SetMarkPriceValidation(t *testing.T) {
	c := New(testAccount, []exchange.CurrencyPair{btcUSDT})
	assert.Error(t, c.SetMarkPrice(btcUSDT, decimal.Zero), "a non-positive mark is refused")

	// No mark price set: market orders cannot fill.
	result := c.CreateOrder(context.Background(), marketOrder(btcUSDT, exchange.OrderSideBuy, "1"))
	require.False(t, result.Ok())
	assert.Equal(t, exchange.ErrKindRejected, result.Err.Kind)
}

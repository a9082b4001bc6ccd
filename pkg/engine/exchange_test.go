package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/admission"
	"tradecore/pkg/events"
	"tradecore/pkg/exchange"
	"tradecore/pkg/exchange/sim"
)

var (
	testAccount = exchange.NewAccountID("Sim", 0)
	btcUSDT     = exchange.NewCurrencyPair("BTC", "USDT")
)

func generousLimits() map[admission.RequestType]admission.Limit {
	limits := make(map[admission.RequestType]admission.Limit)
	for _, kind := range admission.AllRequestTypes() {
		limits[kind] = admission.Limit{Requests: 100, Per: time.Second}
	}
	return limits
}

func newTestExchange(t *testing.T, limits map[admission.RequestType]admission.Limit) (*Exchange, *sim.Client, *events.Bus) {
	t.Helper()
	client := sim.New(testAccount, []exchange.CurrencyPair{btcUSDT})
	require.NoError(t, client.SetMarkPrice(btcUSDT, decimal.NewFromInt(50000)))

	ctrl := admission.NewController()
	ctrl.RegisterAccount(testAccount, limits)
	t.Cleanup(ctrl.Close)

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	return New(testAccount, client, ctrl, bus), client, bus
}

func limitOrder(amount decimal.Decimal) *exchange.Order {
	return exchange.NewOrder(exchange.OrderHeader{
		Account: testAccount,
		Pair:    btcUSDT,
		Side:    exchange.OrderSideBuy,
		Type:    exchange.OrderTypeLimit,
		Price:   decimal.NewFromInt(49000),
		Amount:  amount,
	})
}

func TestExchange_CreateOrderTracksHandle(t *testing.T) {
	e, _, _ := newTestExchange(t, generousLimits())

	order := limitOrder(decimal.NewFromFloat(0.5))
	result := e.CreateOrder(context.Background(), order)
	require.True(t, result.Ok(), "placement should succeed: %v", result.Err)
	assert.Equal(t, exchange.SourceRest, result.Source, "direct placement outcomes are REST-derived")
	assert.NotEmpty(t, result.ExchangeOrderID, "venue id should be recorded")
	assert.Equal(t, exchange.OrderStatusPlaced, order.Status())
	assert.Equal(t, result.ExchangeOrderID, order.ExchangeID())
	assert.Equal(t, 1, e.TrackedOrders(), "placed order should await push confirmation")
}

func TestExchange_CreateOrderZeroAmountRejected(t *testing.T) {
	e, _, bus := newTestExchange(t, generousLimits())
	sub := bus.Subscribe()
	defer sub.Close()

	order := limitOrder(decimal.Zero)
	result := e.CreateOrder(context.Background(), order)
	require.False(t, result.Ok(), "zero amount must be refused")
	assert.Equal(t, exchange.ErrKindRejected, result.Err.Kind, "a business refusal, not a transport failure")
	assert.Equal(t, exchange.SourceRest, result.Source)
	assert.Equal(t, exchange.OrderStatusRejected, order.Status())
	assert.Zero(t, e.TrackedOrders(), "rejected order must not linger in the pool")

	select {
	case ev := <-sub.Events():
		t.Fatalf("rejection is a REST outcome only, got bus event %T", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExchange_CancelOrder(t *testing.T) {
	e, _, _ := newTestExchange(t, generousLimits())

	order := limitOrder(decimal.NewFromFloat(0.5))
	require.True(t, e.CreateOrder(context.Background(), order).Ok())

	result := e.CancelOrder(context.Background(), order)
	require.True(t, result.Ok(), "cancellation should succeed: %v", result.Err)
	assert.Equal(t, exchange.OrderStatusCanceled, order.Status())
	assert.Zero(t, e.TrackedOrders())
}

func TestExchange_CancelAllOrders(t *testing.T) {
	e, client, _ := newTestExchange(t, generousLimits())

	require.True(t, e.CreateOrder(context.Background(), limitOrder(decimal.NewFromFloat(0.1))).Ok())
	require.True(t, e.CreateOrder(context.Background(), limitOrder(decimal.NewFromFloat(0.2))).Ok())

	require.NoError(t, e.CancelAllOrders(context.Background(), btcUSDT))

	open, err := client.OpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open, "the venue book should be clear")
}

func TestExchange_AdmissionPacesOrders(t *testing.T) {
	limits := generousLimits()
	limits[admission.RequestTypeCreateOrder] = admission.Limit{Requests: 1, Per: 150 * time.Millisecond}
	e, _, _ := newTestExchange(t, limits)

	start := time.Now()
	require.True(t, e.CreateOrder(context.Background(), limitOrder(decimal.NewFromFloat(0.1))).Ok())
	require.True(t, e.CreateOrder(context.Background(), limitOrder(decimal.NewFromFloat(0.2))).Ok())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"the second placement must wait for the budget window")
}

func TestExchange_ConcurrentCreatesAdmitSequentially(t *testing.T) {
	limits := generousLimits()
	limits[admission.RequestTypeCreateOrder] = admission.Limit{Requests: 1, Per: 150 * time.Millisecond}
	e, _, _ := newTestExchange(t, limits)

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(amount float64) {
			defer wg.Done()
			result := e.CreateOrder(context.Background(), limitOrder(decimal.NewFromFloat(amount)))
			assert.True(t, result.Ok(), "both placements should eventually be admitted")
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}(0.1 * float64(i+1))
	}
	wg.Wait()

	require.Len(t, times, 2)
	gap := times[1].Sub(times[0])
	if gap < 0 {
		gap = -gap
	}
	assert.GreaterOrEqual(t, gap, 100*time.Millisecond,
		"concurrent placements must be spaced by the budget window")
}

func TestExchange_AdmissionCancellation(t *testing.T) {
	limits := generousLimits()
	limits[admission.RequestTypeCreateOrder] = admission.Limit{Requests: 1, Per: time.Hour}
	e, _, _ := newTestExchange(t, limits)

	require.True(t, e.CreateOrder(context.Background(), limitOrder(decimal.NewFromFloat(0.1))).Ok())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result := e.CreateOrder(ctx, limitOrder(decimal.NewFromFloat(0.2)))
	require.False(t, result.Ok())
	assert.Equal(t, exchange.ErrKindCancelled, result.Err.Kind,
		"an abandoned wait is a cancellation, not a venue failure")
}

func TestExchange_RunAppliesPushUpdates(t *testing.T) {
	e, _, bus := newTestExchange(t, generousLimits())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	order := limitOrder(decimal.NewFromFloat(0.5))
	require.True(t, e.CreateOrder(context.Background(), order).Ok())

	bus.Publish(exchange.OrderUpdate{
		Account:         testAccount,
		Time:            time.Now(),
		ClientOrderID:   order.Header.ClientOrderID,
		ExchangeOrderID: order.ExchangeID(),
		Status:          exchange.OrderStatusFilled,
		FilledAmount:    order.Header.Amount,
		Source:          exchange.SourcePush,
	})

	assert.Eventually(t, func() bool {
		return order.Status() == exchange.OrderStatusFilled
	}, time.Second, 5*time.Millisecond, "the push confirmation should reach the handle")
	assert.Eventually(t, func() bool {
		return e.TrackedOrders() == 0
	}, time.Second, 5*time.Millisecond, "terminal orders leave the pool")
}

func TestExchange_RunMatchesByExchangeID(t *testing.T) {
	e, _, bus := newTestExchange(t, generousLimits())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	order := limitOrder(decimal.NewFromFloat(0.5))
	require.True(t, e.CreateOrder(context.Background(), order).Ok())

	// Venue update carrying only the exchange-side id.
	bus.Publish(exchange.OrderUpdate{
		Account:         testAccount,
		Time:            time.Now(),
		ExchangeOrderID: order.ExchangeID(),
		Status:          exchange.OrderStatusPartiallyFilled,
		FilledAmount:    decimal.NewFromFloat(0.2),
		Source:          exchange.SourcePush,
	})

	assert.Eventually(t, func() bool {
		return order.Status() == exchange.OrderStatusPartiallyFilled
	}, time.Second, 5*time.Millisecond, "updates should match through the exchange id index")
	assert.Equal(t, 1, e.TrackedOrders(), "a partial fill is not terminal")
}

func TestExchange_RunIgnoresOtherAccounts(t *testing.T) {
	e, _, bus := newTestExchange(t, generousLimits())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	order := limitOrder(decimal.NewFromFloat(0.5))
	require.True(t, e.CreateOrder(context.Background(), order).Ok())

	bus.Publish(exchange.OrderUpdate{
		Account:       exchange.NewAccountID("Other", 1),
		Time:          time.Now(),
		ClientOrderID: order.Header.ClientOrderID,
		Status:        exchange.OrderStatusCanceled,
		Source:        exchange.SourcePush,
	})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, exchange.OrderStatusPlaced, order.Status(),
		"another account's events must not touch this surface")
}

func TestExchange_QueriesPassThrough(t *testing.T) {
	e, _, _ := newTestExchange(t, generousLimits())
	ctx := context.Background()

	require.True(t, e.CreateOrder(ctx, limitOrder(decimal.NewFromFloat(0.3))).Ok())

	open, err := e.OpenOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	byPair, err := e.OpenOrdersByPair(ctx, btcUSDT)
	require.NoError(t, err)
	assert.Len(t, byPair, 1)

	balances, err := e.Balances(ctx, true)
	require.NoError(t, err)
	assert.NotEmpty(t, balances.Balances)

	symbols, err := e.BuildSymbols(ctx)
	require.NoError(t, err)
	assert.Len(t, symbols, 1)
}

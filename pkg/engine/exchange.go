package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"tradecore/pkg/admission"
	"tradecore/pkg/events"
	"tradecore/pkg/exchange"
	"tradecore/pkg/journal"
)

// Exchange is the uniform capability surface the trading logic calls. It
// wraps one account's adapter: every call requests admission for the
// matching request type, invokes the adapter, and normalizes the result
// into a REST-tagged outcome. Push-channel confirmations arrive through
// the event bus and are reconciled against the same order handles.
type Exchange struct {
	account exchange.AccountID
	client  exchange.Client
	ctrl    *admission.Controller
	bus     *events.Bus
	journal *journal.Writer

	mu        sync.RWMutex
	orders    map[exchange.ClientOrderID]*exchange.Order
	exchIndex map[exchange.ExchangeOrderID]exchange.ClientOrderID
}

// Option customises the engine exchange.
type Option func(*Exchange)

// WithJournal attaches an event journal; observed account events are
// appended to it from Run.
func WithJournal(w *journal.Writer) Option {
	return func(e *Exchange) { e.journal = w }
}

// New constructs the capability surface for one account.
func New(account exchange.AccountID, client exchange.Client, ctrl *admission.Controller, bus *events.Bus, opts ...Option) *Exchange {
	e := &Exchange{
		account:   account,
		client:    client,
		ctrl:      ctrl,
		bus:       bus,
		orders:    make(map[exchange.ClientOrderID]*exchange.Order),
		exchIndex: make(map[exchange.ExchangeOrderID]exchange.ClientOrderID),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Account returns the account this surface serves.
func (e *Exchange) Account() exchange.AccountID { return e.account }

// reserve wraps admission, mapping context cancellation into the
// cancellation outcome kind. Cancellations are caller-observable but not
// failures, so they are not logged as errors.
func (e *Exchange) reserve(ctx context.Context, kind admission.RequestType) *exchange.Error {
	if err := e.ctrl.Reserve(ctx, e.account, kind); err != nil {
		return exchange.Errorf(exchange.ErrKindCancelled, "admission for %s: %v", kind, err)
	}
	return nil
}

// CreateOrder places an order through the adapter. The handle is tracked
// for later push-side reconciliation regardless of the REST outcome.
func (e *Exchange) CreateOrder(ctx context.Context, order *exchange.Order) exchange.CreateOrderResult {
	clientID := order.Header.ClientOrderID
	if err := e.reserve(ctx, admission.RequestTypeCreateOrder); err != nil {
		return exchange.CreateOrderFailed(clientID, err, exchange.SourceRest)
	}

	e.track(order)
	result := e.client.CreateOrder(ctx, order)
	if result.Ok() {
		order.ApplyPlaced(result.ExchangeOrderID)
		e.index(result.ExchangeOrderID, clientID)
	} else if result.Err.Kind == exchange.ErrKindRejected {
		order.ApplyUpdate(exchange.OrderStatusRejected, decimal.Zero)
		e.untrack(clientID)
	}
	return result
}

// CancelOrder cancels a tracked order through the adapter.
func (e *Exchange) CancelOrder(ctx context.Context, order *exchange.Order) exchange.CancelOrderResult {
	clientID := order.Header.ClientOrderID
	if err := e.reserve(ctx, admission.RequestTypeCancelOrder); err != nil {
		return exchange.CancelOrderFailed(clientID, err, exchange.SourceRest)
	}

	result := e.client.CancelOrder(ctx, order)
	if result.Ok() {
		order.ApplyUpdate(exchange.OrderStatusCanceled, decimal.Zero)
		e.untrack(clientID)
	}
	return result
}

// CancelAllOrders cancels every resting order on the instrument. It is
// fire-and-forget: in-flight cancellations are not tracked here, and each
// order's terminal state is confirmed later via the push channel. The
// trading logic reconciles its handles against that stream.
func (e *Exchange) CancelAllOrders(ctx context.Context, pair exchange.CurrencyPair) error {
	if err := e.reserve(ctx, admission.RequestTypeCancelAllOrders); err != nil {
		return err
	}
	return e.client.CancelAllOrders(ctx, pair)
}

// OpenOrders lists all resting orders on the account.
func (e *Exchange) OpenOrders(ctx context.Context) ([]exchange.OrderInfo, error) {
	if err := e.reserve(ctx, admission.RequestTypeGetOpenOrders); err != nil {
		return nil, err
	}
	return e.client.OpenOrders(ctx)
}

// OpenOrdersByPair lists resting orders on one instrument.
func (e *Exchange) OpenOrdersByPair(ctx context.Context, pair exchange.CurrencyPair) ([]exchange.OrderInfo, error) {
	if err := e.reserve(ctx, admission.RequestTypeGetOpenOrders); err != nil {
		return nil, err
	}
	return e.client.OpenOrdersByPair(ctx, pair)
}

// OrderInfo queries a single order's venue-side state.
func (e *Exchange) OrderInfo(ctx context.Context, order *exchange.Order) (*exchange.OrderInfo, *exchange.Error) {
	if err := e.reserve(ctx, admission.RequestTypeGetOrderInfo); err != nil {
		return nil, err
	}
	return e.client.OrderInfo(ctx, order)
}

// Balances queries the spot or derivative balance snapshot.
func (e *Exchange) Balances(ctx context.Context, spot bool) (*exchange.BalancesAndPositions, error) {
	if err := e.reserve(ctx, admission.RequestTypeGetBalance); err != nil {
		return nil, err
	}
	return e.client.Balances(ctx, spot)
}

// ActivePositions queries currently open positions.
func (e *Exchange) ActivePositions(ctx context.Context) ([]exchange.Position, error) {
	if err := e.reserve(ctx, admission.RequestTypeGetActivePositions); err != nil {
		return nil, err
	}
	return e.client.ActivePositions(ctx)
}

// ClosePosition issues the closing order for a position. Price nil means
// close at market.
func (e *Exchange) ClosePosition(ctx context.Context, position exchange.Position, price *decimal.Decimal) (*exchange.ClosedPosition, error) {
	if err := e.reserve(ctx, admission.RequestTypeCreateOrder); err != nil {
		return nil, err
	}
	return e.client.ClosePosition(ctx, position, price)
}

// MyTrades queries fills on the instrument since the given time.
func (e *Exchange) MyTrades(ctx context.Context, symbol exchange.Symbol, since time.Time) exchange.Outcome[[]exchange.Trade] {
	if err := e.reserve(ctx, admission.RequestTypeGetMyTrades); err != nil {
		return exchange.Fail[[]exchange.Trade](err)
	}
	return e.client.MyTrades(ctx, symbol, since)
}

// BuildSymbols builds the tradable-instrument set.
func (e *Exchange) BuildSymbols(ctx context.Context) ([]exchange.Symbol, error) {
	if err := e.reserve(ctx, admission.RequestTypeBuildMetadata); err != nil {
		return nil, err
	}
	return e.client.BuildSymbols(ctx)
}

// Run consumes the event bus and reconciles push-derived order updates
// against tracked handles until ctx is cancelled. Handle mutation goes
// through the handle's own mutex, so REST callers and this loop never race
// on the same fields.
func (e *Exchange) Run(ctx context.Context) error {
	sub := e.bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if ev.EventAccount() != e.account {
				continue
			}
			e.record(ev)
			update, isOrder := ev.(exchange.OrderUpdate)
			if !isOrder {
				continue
			}
			e.applyOrderUpdate(update)
		}
	}
}

func (e *Exchange) applyOrderUpdate(update exchange.OrderUpdate) {
	order, ok := e.lookup(update)
	if !ok {
		logx.Slowf("engine %s: order update for unknown order %s/%s",
			e.account, update.ClientOrderID, update.ExchangeOrderID)
		return
	}
	if update.ExchangeOrderID != "" && order.ExchangeID() == "" {
		order.ApplyPlaced(update.ExchangeOrderID)
		e.index(update.ExchangeOrderID, order.Header.ClientOrderID)
	}
	order.ApplyUpdate(update.Status, update.FilledAmount)
	if update.Status.IsTerminal() {
		e.untrack(order.Header.ClientOrderID)
	}
}

func (e *Exchange) record(ev exchange.Event) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(ev); err != nil {
		logx.Errorf("engine %s: journal append: %v", e.account, err)
	}
}

// track registers a handle for push-side reconciliation.
func (e *Exchange) track(order *exchange.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders[order.Header.ClientOrderID] = order
}

func (e *Exchange) untrack(clientID exchange.ClientOrderID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if order, ok := e.orders[clientID]; ok {
		if id := order.ExchangeID(); id != "" {
			delete(e.exchIndex, id)
		}
		delete(e.orders, clientID)
	}
}

func (e *Exchange) index(id exchange.ExchangeOrderID, clientID exchange.ClientOrderID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exchIndex[id] = clientID
}

func (e *Exchange) lookup(update exchange.OrderUpdate) (*exchange.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	clientID := update.ClientOrderID
	if clientID == "" {
		var ok bool
		clientID, ok = e.exchIndex[update.ExchangeOrderID]
		if !ok {
			return nil, false
		}
	}
	order, ok := e.orders[clientID]
	return order, ok
}

// TrackedOrders reports how many handles await terminal confirmation.
func (e *Exchange) TrackedOrders() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.orders)
}

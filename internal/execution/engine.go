// Package execution matches pending orders against live quotes: per-pair
// locking, quote validation, the slippage model, VWAP fills and FIFO
// netting with balance updates in one durable transaction.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"optionsim/internal/domain"
	"optionsim/internal/ports"
)

const (
	defaultLockTTL = time.Second

	// Staleness allowance scales with spread width: ATM options tick far
	// faster than deep OTM ones, so one fixed threshold either starves ATM
	// fills or trusts dead OTM quotes.
	staleTight          = 3 * time.Second
	staleWide           = 15 * time.Second
	wideSpreadThreshold = 10.0 // spread_pct above this gets the wide allowance
	warnSpreadPct       = 20.0
)

// Engine executes orders against the quote store. All dependencies are
// injected; the engine holds no global state.
type Engine struct {
	store    ports.Store
	quotes   ports.QuoteStore
	locker   ports.Locker
	catalog  ports.InstrumentCatalog
	slippage *SlippageModel
	logger   ports.Logger
	lockTTL  time.Duration
	now      func() time.Time
}

// Config holds the engine's dependencies.
type Config struct {
	Store    ports.Store
	Quotes   ports.QuoteStore
	Locker   ports.Locker
	Catalog  ports.InstrumentCatalog
	Slippage *SlippageModel
	Logger   ports.Logger
	// LockTTL bounds how long one execution attempt can exclude others;
	// defaults to one second.
	LockTTL time.Duration
}

// NewEngine creates an execution engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Quotes == nil || cfg.Locker == nil || cfg.Catalog == nil || cfg.Slippage == nil {
		return nil, fmt.Errorf("store, quotes, locker, catalog and slippage model are required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for execution engine")
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Engine{
		store:    cfg.Store,
		quotes:   cfg.Quotes,
		locker:   cfg.Locker,
		catalog:  cfg.Catalog,
		slippage: cfg.Slippage,
		logger:   cfg.Logger,
		lockTTL:  ttl,
		now:      time.Now,
	}, nil
}

// CheckInstrument re-evaluates every matchable order on one instrument.
// Called by the monitor; individual failures are logged, never propagated.
func (e *Engine) CheckInstrument(ctx context.Context, instrumentKey string) {
	orders, err := e.store.FindMatchableOrders(ctx, instrumentKey)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to load matchable orders", map[string]interface{}{"instrument": instrumentKey})
		return
	}
	for _, order := range orders {
		e.ExecuteOrder(ctx, order, nil)
	}
}

// ExecuteOrder attempts to fill one order. It never returns an error: every
// failure aborts just this attempt and the next monitor cycle retries.
// simulatedPrice overrides pricing only when no usable live quote exists
// (manual or backtest exits).
func (e *Engine) ExecuteOrder(ctx context.Context, order *domain.Order, simulatedPrice *float64) {
	lockKey := fmt.Sprintf("lock:order:%d:%s", order.UserID, order.InstrumentKey)
	acquired, err := e.locker.TryAcquire(ctx, lockKey, e.lockTTL)
	if err != nil {
		e.logger.Error(ctx, err, "Lock acquisition failed", map[string]interface{}{"key": lockKey})
		return
	}
	if !acquired {
		// Another attempt is already processing this pair. Not an error.
		return
	}
	defer func() {
		if err := e.locker.Release(ctx, lockKey); err != nil {
			e.logger.Warn(ctx, "Lock release failed", map[string]interface{}{"key": lockKey, "error": err.Error()})
		}
	}()

	if err := e.execute(ctx, order, simulatedPrice); err != nil {
		switch {
		case errors.Is(err, ports.ErrNoMarketData), errors.Is(err, ports.ErrStaleQuote):
			e.logger.Debug(ctx, "Execution attempt skipped", map[string]interface{}{
				"orderID": order.ID, "instrument": order.InstrumentKey, "reason": err.Error()})
		default:
			e.logger.Error(ctx, err, "Execution attempt failed", map[string]interface{}{
				"orderID": order.ID, "instrument": order.InstrumentKey})
		}
	}
}

func (e *Engine) execute(ctx context.Context, order *domain.Order, simulatedPrice *float64) error {
	if !order.Status.Matchable() {
		return nil
	}

	px, err := e.priceOrder(ctx, order, simulatedPrice)
	if err != nil {
		return err
	}
	if px == nil {
		// Limit not marketable yet.
		return nil
	}

	now := e.now()
	return e.store.Transact(ctx, func(ctx context.Context, tx ports.Store) error {
		// Reload under the transaction: a concurrent path may have advanced
		// the order between lock acquisition and here.
		current, err := tx.FindOrderByID(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to reload order %d: %w", order.ID, err)
		}
		if current == nil || !current.Status.Matchable() {
			return nil
		}

		fillQty := current.RemainingQty()
		if fillQty <= 0 {
			return nil
		}

		if current.ExpectedPrice.IsZero() {
			current.ExpectedPrice = px.reference
		}
		current.Slippage = signedSlippage(current.Side, px.fill, current.ExpectedPrice)
		current.ApplyFill(px.fill, fillQty, now)
		if err := tx.UpdateOrder(ctx, current); err != nil {
			return fmt.Errorf("failed to persist fill for order %d: %w", current.ID, err)
		}

		if current.Status == domain.OrderFilled {
			if err := e.applyNetting(ctx, tx, current, px.fill, fillQty, now); err != nil {
				return err
			}
		}

		e.logger.Info(ctx, "Order filled", map[string]interface{}{
			"orderID":    current.ID,
			"instrument": current.InstrumentKey,
			"side":       current.Side,
			"qty":        fillQty,
			"price":      px.fill.String(),
			"slippage":   current.Slippage.String(),
		})
		*order = *current
		return nil
	})
}

// pricing is the outcome of quote sourcing + slippage for one attempt.
type pricing struct {
	reference decimal.Decimal // price the fill was derived from (ask/bid/ltp)
	fill      decimal.Decimal
}

// priceOrder sources a quote, validates it and produces the fill price.
// A nil result with nil error means the order is not marketable right now.
func (e *Engine) priceOrder(ctx context.Context, order *domain.Order, simulatedPrice *float64) (*pricing, error) {
	quote, err := e.quotes.Get(ctx, order.InstrumentKey)
	if err != nil {
		return nil, fmt.Errorf("quote store read failed: %w", err)
	}

	if quote == nil || quote.LTP == 0 {
		// The override is honored only when live data is absent.
		if simulatedPrice != nil && *simulatedPrice > 0 {
			// Zero spread: the override fills exactly at the given price.
			return e.buildPricing(order, *simulatedPrice, 0, 0, nil)
		}
		return nil, fmt.Errorf("instrument %s: %w", order.InstrumentKey, ports.ErrNoMarketData)
	}

	if quote.Crossed() {
		return nil, fmt.Errorf("instrument %s bid %.2f above ask %.2f: %w",
			order.InstrumentKey, quote.Bid, quote.Ask, ports.ErrCrossedBook)
	}

	useDepth := quote.HasDepth() && !quote.MixedBook()
	if useDepth && !quote.BidSimulated && !quote.AskSimulated {
		allowance := staleTight
		if quote.SpreadPct > wideSpreadThreshold {
			allowance = staleWide
		}
		if age := quote.SideAge(order.Side, e.now()); age > allowance {
			return nil, fmt.Errorf("instrument %s depth age %s exceeds %s: %w",
				order.InstrumentKey, age.Truncate(time.Millisecond), allowance, ports.ErrStaleQuote)
		}
	}

	if quote.SpreadPct > warnSpreadPct {
		e.logger.Warn(ctx, "Executing against a very wide spread", map[string]interface{}{
			"instrument": order.InstrumentKey, "spreadPct": quote.SpreadPct})
	}

	bid, ask, spread := quote.Bid, quote.Ask, quote.Spread
	if !useDepth {
		// One-sided or mixed books are never traded; price off LTP alone.
		bid, ask, spread = quote.LTP, quote.LTP, 0
	}

	ref := ask
	topQty := quote.AskQty
	if order.Side == domain.Sell {
		ref = bid
		topQty = quote.BidQty
	}
	return e.buildPricing(order, ref, spread, quote.IV, &topQty)
}

// buildPricing applies the limit gate and the slippage model.
func (e *Engine) buildPricing(order *domain.Order, ref, spread, ivPct float64, topQty *int64) (*pricing, error) {
	var limit float64
	if order.Type == domain.Limit {
		limit = order.LimitPrice.InexactFloat64()
		if limit <= 0 {
			return nil, fmt.Errorf("limit order %d has no limit price: %w", order.ID, ports.ErrInvalidRequest)
		}
		// Not marketable: a BUY needs the ask at or under the limit, a SELL
		// needs the bid at or over it.
		if order.Side == domain.Buy && ref > limit {
			return nil, nil
		}
		if order.Side == domain.Sell && ref < limit {
			return nil, nil
		}
	}

	isStock := false
	if details, err := e.catalog.Details(order.InstrumentKey); err == nil && details != nil {
		isStock = details.IsStock
	}

	var top int64
	if topQty != nil {
		top = *topQty
	}
	slip := e.slippage.Compute(SlippageInputs{
		Price:        ref,
		Spread:       spread,
		AnnualIVPct:  ivPct,
		OrderQty:     order.RemainingQty(),
		TopOfBookQty: top,
		IsStock:      isStock,
	})

	fill := ref + slip
	if order.Side == domain.Sell {
		fill = ref - slip
	}
	// The trader's stated worst price bounds the simulated adverse move.
	if limit > 0 {
		if order.Side == domain.Buy && fill > limit {
			fill = limit
		}
		if order.Side == domain.Sell && fill < limit {
			fill = limit
		}
	}

	return &pricing{
		reference: decimal.NewFromFloat(ref),
		fill:      decimal.NewFromFloat(fill),
	}, nil
}

// signedSlippage reports fill-vs-expected with adverse positive for either
// side.
func signedSlippage(side domain.OrderSide, fill, expected decimal.Decimal) decimal.Decimal {
	if expected.IsZero() {
		return decimal.Zero
	}
	if side == domain.Buy {
		return fill.Sub(expected)
	}
	return expected.Sub(fill)
}

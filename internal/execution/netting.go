package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"optionsim/internal/domain"
	"optionsim/internal/ports"
)

// shortMarginMultiple triggers the advisory warning when a fresh short's
// notional exceeds this multiple of the balance. Margin is virtual and
// warn-only; nothing is ever rejected.
const shortMarginMultiple = 5

// applyNetting nets a completed fill against open opposite-side trades,
// oldest first, applying balance effects as it goes. Runs inside the caller's
// transaction; any error rolls the whole fill back.
func (e *Engine) applyNetting(ctx context.Context, tx ports.Store, order *domain.Order, fillPrice decimal.Decimal, fillQty int64, now time.Time) error {
	remaining := fillQty

	open, err := tx.FindOpenTradesFIFO(ctx, order.UserID, order.InstrumentKey, order.Side.Opposite())
	if err != nil {
		return fmt.Errorf("failed to load open trades for netting: %w", err)
	}

	for _, trade := range open {
		if remaining <= 0 {
			break
		}
		closeQty := trade.Qty
		if remaining < closeQty {
			closeQty = remaining
		}
		pnl := trade.RealizePnL(fillPrice, closeQty)

		if closeQty == trade.Qty {
			trade.ExitPrice = fillPrice
			trade.ExitOrderID = order.ID
			trade.Status = domain.TradeClosed
			trade.RealizedPnL = pnl
			trade.ClosedAt = now
			if err := tx.UpdateTrade(ctx, trade); err != nil {
				return fmt.Errorf("failed to close trade %d: %w", trade.ID, err)
			}
		} else {
			// Partial close: shrink the open trade and record the closed
			// slice as its own row so every closed lot stays auditable.
			trade.Qty -= closeQty
			if err := tx.UpdateTrade(ctx, trade); err != nil {
				return fmt.Errorf("failed to reduce trade %d: %w", trade.ID, err)
			}
			slice := &domain.Trade{
				UserID:        trade.UserID,
				OrderID:       trade.OrderID,
				InstrumentKey: trade.InstrumentKey,
				Side:          trade.Side,
				Qty:           closeQty,
				EntryPrice:    trade.EntryPrice,
				ExitPrice:     fillPrice,
				ExitOrderID:   order.ID,
				Status:        domain.TradeClosed,
				RealizedPnL:   pnl,
				CreatedAt:     trade.CreatedAt,
				ClosedAt:      now,
			}
			if _, err := tx.CreateTrade(ctx, slice); err != nil {
				return fmt.Errorf("failed to record closed slice of trade %d: %w", trade.ID, err)
			}
		}

		notional := fillPrice.Mul(decimal.NewFromInt(closeQty))
		delta := notional // closing a long: credit the exit notional
		if trade.Side == domain.Sell {
			delta = notional.Neg() // buying back a short: debit
		}
		if err := tx.AdjustBalance(ctx, order.UserID, delta); err != nil {
			return fmt.Errorf("failed to apply closing balance effect: %w", err)
		}
		e.logger.Info(ctx, "Trade netted", map[string]interface{}{
			"tradeID":    trade.ID,
			"instrument": order.InstrumentKey,
			"closedQty":  closeQty,
			"pnl":        pnl.String(),
		})

		remaining -= closeQty
	}

	if remaining > 0 {
		if err := e.openTrade(ctx, tx, order, fillPrice, remaining, now); err != nil {
			return err
		}
	}
	return nil
}

// openTrade records new exposure left after netting and applies its balance
// effect: debit for a new long, credit for a new short (premium received).
func (e *Engine) openTrade(ctx context.Context, tx ports.Store, order *domain.Order, fillPrice decimal.Decimal, qty int64, now time.Time) error {
	trade := &domain.Trade{
		UserID:        order.UserID,
		OrderID:       order.ID,
		InstrumentKey: order.InstrumentKey,
		Side:          order.Side,
		Qty:           qty,
		EntryPrice:    fillPrice,
		Status:        domain.TradeOpen,
		CreatedAt:     now,
	}
	if _, err := tx.CreateTrade(ctx, trade); err != nil {
		return fmt.Errorf("failed to open trade: %w", err)
	}

	notional := fillPrice.Mul(decimal.NewFromInt(qty))
	delta := notional.Neg()
	if order.Side == domain.Sell {
		delta = notional
	}
	if err := tx.AdjustBalance(ctx, order.UserID, delta); err != nil {
		return fmt.Errorf("failed to apply opening balance effect: %w", err)
	}

	if order.Side == domain.Sell {
		balance, err := tx.GetBalance(ctx, order.UserID)
		if err != nil {
			return fmt.Errorf("failed to read balance for margin check: %w", err)
		}
		required := notional.Mul(decimal.NewFromInt(shortMarginMultiple))
		if balance.LessThan(required) {
			e.logger.Warn(ctx, "Short position under advisory margin", map[string]interface{}{
				"userID":     order.UserID,
				"instrument": order.InstrumentKey,
				"balance":    balance.String(),
				"advisory":   required.String(),
			})
		}
	}

	e.logger.Info(ctx, "Trade opened", map[string]interface{}{
		"instrument": order.InstrumentKey,
		"side":       order.Side,
		"qty":        qty,
		"entry":      fillPrice.String(),
	})
	return nil
}

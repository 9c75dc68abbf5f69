package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"optionsim/internal/domain"
)

// OrderRepository stores and retrieves orders. Orders are never deleted;
// they remain as the audit trail of every fill.
type OrderRepository interface {
	// CreateOrder saves a new order and returns its assigned ID.
	CreateOrder(ctx context.Context, order *domain.Order) (int64, error)
	// UpdateOrder persists mutations to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
	// FindOrderByID retrieves an order by ID. Returns nil, nil if not found.
	FindOrderByID(ctx context.Context, id int64) (*domain.Order, error)
	// FindMatchableOrders retrieves all OPEN/PARTIAL orders for an instrument,
	// oldest first.
	FindMatchableOrders(ctx context.Context, instrumentKey string) ([]*domain.Order, error)
	// InstrumentsWithOpenOrders returns the distinct instrument keys that have
	// at least one OPEN/PARTIAL order. Used by the execution monitor.
	InstrumentsWithOpenOrders(ctx context.Context) ([]string, error)
}

// TradeRepository stores and retrieves netted positions.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// UpdateTrade persists mutations to an existing trade.
	UpdateTrade(ctx context.Context, trade *domain.Trade) error
	// FindOpenTradesFIFO retrieves OPEN trades for user+instrument+side,
	// oldest first. FIFO order here is a hard invariant of netting.
	FindOpenTradesFIFO(ctx context.Context, userID int64, instrumentKey string, side domain.OrderSide) ([]*domain.Trade, error)
	// FindClosedTrades retrieves CLOSED trades for user+instrument, most
	// recently closed first. Used for trade history.
	FindClosedTrades(ctx context.Context, userID int64, instrumentKey string) ([]*domain.Trade, error)
}

// BalanceRepository manages the simulated cash balance per user.
type BalanceRepository interface {
	// GetBalance returns the user's virtual balance.
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	// AdjustBalance applies a signed delta to the user's virtual balance.
	AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) error
}

// Store is the durable order/trade/balance store: the single source of truth.
// Transact runs fn against a transactional view of the store; every mutation
// made through that view commits atomically or not at all.
type Store interface {
	OrderRepository
	TradeRepository
	BalanceRepository

	Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

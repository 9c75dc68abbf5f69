package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"optionsim/internal/domain"
	"optionsim/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx. The
// repository runs every statement through it, so the same code serves both
// direct calls and the transactional view handed to Transact callbacks.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository implements ports.Store using SQLite.
type Repository struct {
	db              *sql.DB // nil on transactional views
	q               querier
	logger          ports.Logger
	startingBalance decimal.Decimal
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath          string
	Logger          ports.Logger
	StartingBalance decimal.Decimal
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/optionsim.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally, but the Go driver benefits from
	// limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, q: db, logger: cfg.Logger, startingBalance: cfg.StartingBalance}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// Monetary columns are stored as TEXT so decimal values round-trip exactly.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		instrument_key TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		qty INTEGER NOT NULL,
		filled_qty INTEGER NOT NULL DEFAULT 0,
		avg_fill_price TEXT NOT NULL DEFAULT '0',
		limit_price TEXT DEFAULT NULL,
		expected_price TEXT NOT NULL DEFAULT '0',
		slippage TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		order_id INTEGER NOT NULL,
		instrument_key TEXT NOT NULL,
		side TEXT NOT NULL,
		qty INTEGER NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price TEXT DEFAULT NULL,
		exit_order_id INTEGER DEFAULT NULL,
		status TEXT NOT NULL,
		realized_pnl TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS balances (
		user_id INTEGER PRIMARY KEY,
		balance TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_instrument_status ON orders (instrument_key, status);
	CREATE INDEX IF NOT EXISTS idx_trades_user_instrument_status ON trades (user_id, instrument_key, status);
	`
	_, err := r.q.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Transact runs fn against a transactional view of the store. The view shares
// the repository's configuration but routes every statement through the
// transaction; fn returning an error rolls everything back.
func (r *Repository) Transact(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	if r.db == nil {
		// Nested Transact inside a callback: already inside a transaction.
		return fn(ctx, r)
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w (%w)", err, ports.ErrTxFailed)
	}

	view := &Repository{q: sqlTx, logger: r.logger, startingBalance: r.startingBalance}
	if err := fn(ctx, view); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			r.logger.Error(ctx, rbErr, "Transaction rollback failed")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w (%w)", err, ports.ErrTxFailed)
	}
	return nil
}

// --- OrderRepository Implementation ---

// CreateOrder saves a new order and returns its assigned ID.
func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) (int64, error) {
	const query = `
	INSERT INTO orders (user_id, instrument_key, side, order_type, qty, filled_qty,
	                    avg_fill_price, limit_price, expected_price, slippage, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var limitPrice sql.NullString
	if !order.LimitPrice.IsZero() || order.Type == domain.Limit {
		limitPrice = sql.NullString{String: order.LimitPrice.String(), Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		order.UserID, order.InstrumentKey, order.Side, order.Type, order.Qty, order.FilledQty,
		order.AvgFillPrice.String(), limitPrice, order.ExpectedPrice.String(), order.Slippage.String(),
		order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order for instrument %s: %w", order.InstrumentKey, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for order %s: %w", order.InstrumentKey, err)
	}
	order.ID = id
	r.logger.Debug(ctx, "Order created", map[string]interface{}{"orderID": id, "instrument": order.InstrumentKey, "side": order.Side})
	return id, nil
}

// UpdateOrder persists mutations to an existing order.
func (r *Repository) UpdateOrder(ctx context.Context, order *domain.Order) error {
	const query = `
	UPDATE orders
	SET filled_qty = ?, avg_fill_price = ?, expected_price = ?, slippage = ?,
	    status = ?, updated_at = ?
	WHERE id = ?`

	result, err := r.q.ExecContext(ctx, query,
		order.FilledQty, order.AvgFillPrice.String(), order.ExpectedPrice.String(), order.Slippage.String(),
		order.Status, order.UpdatedAt, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order ID %d: %w", order.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update order ID %d: %w", order.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("order ID %d not found for update: %w", order.ID, ports.ErrNotFound)
	}
	return nil
}

// FindOrderByID retrieves an order by ID.
func (r *Repository) FindOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	const query = orderSelect + ` WHERE id = ?`

	row := r.q.QueryRowContext(ctx, query, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query order by ID %d: %w", id, err)
	}
	return order, nil
}

// FindMatchableOrders retrieves all OPEN/PARTIAL orders for an instrument, oldest first.
func (r *Repository) FindMatchableOrders(ctx context.Context, instrumentKey string) ([]*domain.Order, error) {
	const query = orderSelect + `
	WHERE instrument_key = ? AND status IN (?, ?)
	ORDER BY created_at ASC, id ASC`

	rows, err := r.q.QueryContext(ctx, query, instrumentKey, domain.OrderOpen, domain.OrderPartial)
	if err != nil {
		return nil, fmt.Errorf("failed to query matchable orders for instrument %s: %w", instrumentKey, err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order during FindMatchableOrders: %w", err)
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return orders, nil
}

// InstrumentsWithOpenOrders returns the distinct instrument keys with OPEN/PARTIAL orders.
func (r *Repository) InstrumentsWithOpenOrders(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT instrument_key FROM orders WHERE status IN (?, ?)`

	rows, err := r.q.QueryContext(ctx, query, domain.OrderOpen, domain.OrderPartial)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments with open orders: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan instrument key: %w", err)
		}
		keys = append(keys, key)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instrument key rows: %w", err)
	}
	return keys, nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (user_id, order_id, instrument_key, side, qty, entry_price,
	                    exit_price, exit_order_id, status, realized_pnl, created_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	exitPrice, exitOrderID, closedAt := tradeNullables(trade)

	result, err := r.q.ExecContext(ctx, query,
		trade.UserID, trade.OrderID, trade.InstrumentKey, trade.Side, trade.Qty, trade.EntryPrice.String(),
		exitPrice, exitOrderID, trade.Status, trade.RealizedPnL.String(), trade.CreatedAt, closedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for instrument %s: %w", trade.InstrumentKey, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.InstrumentKey, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "instrument": trade.InstrumentKey, "side": trade.Side, "qty": trade.Qty})
	return id, nil
}

// UpdateTrade persists mutations to an existing trade.
func (r *Repository) UpdateTrade(ctx context.Context, trade *domain.Trade) error {
	const query = `
	UPDATE trades
	SET qty = ?, exit_price = ?, exit_order_id = ?, status = ?, realized_pnl = ?, closed_at = ?
	WHERE id = ?`

	exitPrice, exitOrderID, closedAt := tradeNullables(trade)

	result, err := r.q.ExecContext(ctx, query,
		trade.Qty, exitPrice, exitOrderID, trade.Status, trade.RealizedPnL.String(), closedAt, trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w", trade.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update trade ID %d: %w", trade.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", trade.ID, ports.ErrNotFound)
	}
	return nil
}

// FindOpenTradesFIFO retrieves OPEN trades for user+instrument+side, oldest first.
func (r *Repository) FindOpenTradesFIFO(ctx context.Context, userID int64, instrumentKey string, side domain.OrderSide) ([]*domain.Trade, error) {
	const query = tradeSelect + `
	WHERE user_id = ? AND instrument_key = ? AND side = ? AND status = ?
	ORDER BY created_at ASC, id ASC`

	rows, err := r.q.QueryContext(ctx, query, userID, instrumentKey, side, domain.TradeOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades for instrument %s: %w", instrumentKey, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindOpenTradesFIFO: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// FindClosedTrades retrieves CLOSED trades for user+instrument, most recently
// closed first.
func (r *Repository) FindClosedTrades(ctx context.Context, userID int64, instrumentKey string) ([]*domain.Trade, error) {
	const query = tradeSelect + `
	WHERE user_id = ? AND instrument_key = ? AND status = ?
	ORDER BY closed_at DESC, id DESC`

	rows, err := r.q.QueryContext(ctx, query, userID, instrumentKey, domain.TradeClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades for instrument %s: %w", instrumentKey, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindClosedTrades: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// --- BalanceRepository Implementation ---

// GetBalance returns the user's virtual balance, seeding the starting balance
// on first access.
func (r *Repository) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	const query = `SELECT balance FROM balances WHERE user_id = ?`

	var raw string
	err := r.q.QueryRowContext(ctx, query, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		const insert = `INSERT INTO balances (user_id, balance) VALUES (?, ?)`
		if _, err := r.q.ExecContext(ctx, insert, userID, r.startingBalance.String()); err != nil {
			return decimal.Zero, fmt.Errorf("failed to seed balance for user %d: %w", userID, err)
		}
		r.logger.Info(ctx, "Seeded starting balance", map[string]interface{}{"userID": userID, "balance": r.startingBalance.String()})
		return r.startingBalance, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query balance for user %d: %w", userID, err)
	}

	bal, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt balance value %q for user %d: %w", raw, userID, err)
	}
	return bal, nil
}

// AdjustBalance applies a signed delta to the user's virtual balance. The
// arithmetic happens in Go so decimal precision survives; callers needing
// atomicity run this inside Transact.
func (r *Repository) AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) error {
	current, err := r.GetBalance(ctx, userID)
	if err != nil {
		return err
	}
	newBalance := current.Add(delta)

	const query = `UPDATE balances SET balance = ? WHERE user_id = ?`
	if _, err := r.q.ExecContext(ctx, query, newBalance.String(), userID); err != nil {
		return fmt.Errorf("failed to update balance for user %d: %w", userID, err)
	}
	r.logger.Debug(ctx, "Balance adjusted", map[string]interface{}{"userID": userID, "delta": delta.String(), "balance": newBalance.String()})
	return nil
}

// --- Helper Scan Functions ---

const orderSelect = `
	SELECT id, user_id, instrument_key, side, order_type, qty, filled_qty,
	       avg_fill_price, limit_price, expected_price, slippage, status, created_at, updated_at
	FROM orders`

const tradeSelect = `
	SELECT id, user_id, order_id, instrument_key, side, qty, entry_price,
	       exit_price, exit_order_id, status, realized_pnl, created_at, closed_at
	FROM trades`

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanOrder scans a row into a domain.Order struct.
func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var side, orderType, status string
	var avgFill, expected, slippage string
	var limitPrice sql.NullString
	err := s.Scan(
		&o.ID, &o.UserID, &o.InstrumentKey, &side, &orderType, &o.Qty, &o.FilledQty,
		&avgFill, &limitPrice, &expected, &slippage, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	if o.AvgFillPrice, err = decimal.NewFromString(avgFill); err != nil {
		return nil, fmt.Errorf("corrupt avg_fill_price %q: %w", avgFill, err)
	}
	if o.ExpectedPrice, err = decimal.NewFromString(expected); err != nil {
		return nil, fmt.Errorf("corrupt expected_price %q: %w", expected, err)
	}
	if o.Slippage, err = decimal.NewFromString(slippage); err != nil {
		return nil, fmt.Errorf("corrupt slippage %q: %w", slippage, err)
	}
	if limitPrice.Valid {
		if o.LimitPrice, err = decimal.NewFromString(limitPrice.String); err != nil {
			return nil, fmt.Errorf("corrupt limit_price %q: %w", limitPrice.String, err)
		}
	}
	return o, nil
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, status string
	var entry, pnl string
	var exitPrice sql.NullString
	var exitOrderID sql.NullInt64
	var closedAt sql.NullTime
	err := s.Scan(
		&t.ID, &t.UserID, &t.OrderID, &t.InstrumentKey, &side, &t.Qty, &entry,
		&exitPrice, &exitOrderID, &status, &pnl, &t.CreatedAt, &closedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Side = domain.OrderSide(side)
	t.Status = domain.TradeStatus(status)
	if t.EntryPrice, err = decimal.NewFromString(entry); err != nil {
		return nil, fmt.Errorf("corrupt entry_price %q: %w", entry, err)
	}
	if t.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
		return nil, fmt.Errorf("corrupt realized_pnl %q: %w", pnl, err)
	}
	if exitPrice.Valid {
		if t.ExitPrice, err = decimal.NewFromString(exitPrice.String); err != nil {
			return nil, fmt.Errorf("corrupt exit_price %q: %w", exitPrice.String, err)
		}
	}
	if exitOrderID.Valid {
		t.ExitOrderID = exitOrderID.Int64
	}
	if closedAt.Valid {
		t.ClosedAt = closedAt.Time
	}
	return t, nil
}

// tradeNullables converts the optional trade fields to their SQL forms.
func tradeNullables(trade *domain.Trade) (sql.NullString, sql.NullInt64, sql.NullTime) {
	var exitPrice sql.NullString
	var exitOrderID sql.NullInt64
	var closedAt sql.NullTime
	if trade.Status == domain.TradeClosed {
		exitPrice = sql.NullString{String: trade.ExitPrice.String(), Valid: true}
	}
	if trade.ExitOrderID != 0 {
		exitOrderID = sql.NullInt64{Int64: trade.ExitOrderID, Valid: true}
	}
	if !trade.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: trade.ClosedAt, Valid: true}
	}
	return exitPrice, exitOrderID, closedAt
}

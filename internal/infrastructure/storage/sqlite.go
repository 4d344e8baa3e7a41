package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/paper_signal_engine/internal/domain"
)

const defaultListLimit = 100

type SQLiteStore struct {
	db *sql.DB
}

var _ domain.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; sqlite serialises anyway.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			time DATETIME NOT NULL,
			price REAL NOT NULL,
			classification TEXT NOT NULL,
			weighted_score REAL NOT NULL,
			confidence REAL NOT NULL,
			reasoning TEXT NOT NULL,
			scores TEXT NOT NULL,
			indicators TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol_time ON signals(symbol, time);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			kind TEXT NOT NULL,
			purpose TEXT NOT NULL,
			quantity REAL NOT NULL,
			filled_quantity REAL NOT NULL DEFAULT 0,
			avg_fill_price REAL NOT NULL DEFAULT 0,
			limit_price REAL NOT NULL DEFAULT 0,
			trigger_price REAL NOT NULL DEFAULT 0,
			signal_id TEXT,
			linked_order_id TEXT,
			state TEXT NOT NULL,
			reason TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			expires_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			commission REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			time DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);`,
		`CREATE TABLE IF NOT EXISTS portfolio (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			initial_capital REAL NOT NULL,
			cash REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			day_loss REAL NOT NULL,
			session_date TEXT NOT NULL,
			total_trades INTEGER NOT NULL,
			winning_trades INTEGER NOT NULL,
			losing_trades INTEGER NOT NULL,
			positions TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// SignalRepository Implementation

func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	scores, err := json.Marshal(sig.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	var set []byte
	if sig.Indicators != nil {
		if set, err = json.Marshal(sig.Indicators); err != nil {
			return fmt.Errorf("marshal indicators: %w", err)
		}
	}
	query := `INSERT OR REPLACE INTO signals (id, symbol, time, price, classification, weighted_score, confidence, reasoning, scores, indicators)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		sig.ID, sig.Symbol, sig.Time, sig.Price, sig.Classification, sig.WeightedScore,
		sig.Confidence, sig.Reasoning, string(scores), nullString(set))
	return err
}

// ListSignals returns the newest signals first. An empty symbol lists all.
func (s *SQLiteStore) ListSignals(ctx context.Context, symbol string, limit int) ([]*domain.Signal, error) {
	query := `SELECT id, symbol, time, price, classification, weighted_score, confidence, reasoning, scores, indicators
			  FROM signals WHERE (? = '' OR symbol = ?) ORDER BY time DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, symbol, symbol, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var scores string
		var set sql.NullString
		if err := rows.Scan(&sig.ID, &sig.Symbol, &sig.Time, &sig.Price, &sig.Classification, &sig.WeightedScore,
			&sig.Confidence, &sig.Reasoning, &scores, &set); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scores), &sig.Scores); err != nil {
			return nil, fmt.Errorf("decode scores of %s: %w", sig.ID, err)
		}
		if set.Valid {
			sig.Indicators = &domain.IndicatorSet{}
			if err := json.Unmarshal([]byte(set.String), sig.Indicators); err != nil {
				return nil, fmt.Errorf("decode indicators of %s: %w", sig.ID, err)
			}
		}
		signals = append(signals, &sig)
	}
	return signals, rows.Err()
}

// OrderRepository Implementation

func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (id, symbol, side, kind, purpose, quantity, filled_quantity, avg_fill_price, limit_price, trigger_price, signal_id, linked_order_id, state, reason, created_at, updated_at, expires_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  quantity=excluded.quantity,
			  filled_quantity=excluded.filled_quantity,
			  avg_fill_price=excluded.avg_fill_price,
			  linked_order_id=excluded.linked_order_id,
			  state=excluded.state,
			  reason=excluded.reason,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.Symbol, o.Side, o.Kind, o.Purpose, o.Quantity, o.FilledQuantity, o.AvgFillPrice,
		o.LimitPrice, o.TriggerPrice, o.SignalID, o.LinkedOrderID, o.State, o.Reason,
		o.CreatedAt, o.UpdatedAt, nullTime(o))
	return err
}

const orderColumns = `id, symbol, side, kind, purpose, quantity, filled_quantity, avg_fill_price, limit_price, trigger_price, signal_id, linked_order_id, state, reason, created_at, updated_at, expires_at`

func (s *SQLiteStore) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
			  FROM orders ORDER BY created_at DESC, id DESC LIMIT ?`
	return s.queryOrders(ctx, query, limitOrDefault(limit))
}

func (s *SQLiteStore) ListLiveOrders(ctx context.Context) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
			  FROM orders WHERE state IN (?, ?) ORDER BY created_at, id`
	return s.queryOrders(ctx, query, domain.StatePending, domain.StatePartiallyFilled)
}

func (s *SQLiteStore) queryOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var o domain.Order
		var signalID, linked, reason sql.NullString
		var expires sql.NullTime
		if err := rows.Scan(&o.ID, &o.Symbol, &o.Side, &o.Kind, &o.Purpose, &o.Quantity, &o.FilledQuantity, &o.AvgFillPrice,
			&o.LimitPrice, &o.TriggerPrice, &signalID, &linked, &o.State, &reason, &o.CreatedAt, &o.UpdatedAt, &expires); err != nil {
			return nil, err
		}
		o.SignalID, o.LinkedOrderID, o.Reason = signalID.String, linked.String, reason.String
		if expires.Valid {
			o.ExpiresAt = expires.Time
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, t *domain.Trade) error {
	query := `INSERT OR IGNORE INTO trades (id, order_id, symbol, side, price, quantity, commission, realized_pnl, time)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.OrderID, t.Symbol, t.Side, t.Price, t.Quantity, t.Commission, t.RealizedPnL, t.Time)
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `SELECT id, order_id, symbol, side, price, quantity, commission, realized_pnl, time
			  FROM trades ORDER BY time DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &t.Side, &t.Price, &t.Quantity, &t.Commission, &t.RealizedPnL, &t.Time); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) ListTradeIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM trades`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PortfolioRepository Implementation

func (s *SQLiteStore) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	positions, err := json.Marshal(p.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}
	query := `INSERT INTO portfolio (id, initial_capital, cash, realized_pnl, day_loss, session_date, total_trades, winning_trades, losing_trades, positions, updated_at)
			  VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  initial_capital=excluded.initial_capital,
			  cash=excluded.cash,
			  realized_pnl=excluded.realized_pnl,
			  day_loss=excluded.day_loss,
			  session_date=excluded.session_date,
			  total_trades=excluded.total_trades,
			  winning_trades=excluded.winning_trades,
			  losing_trades=excluded.losing_trades,
			  positions=excluded.positions,
			  updated_at=excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		p.InitialCapital, p.Cash, p.RealizedPnL, p.DayLoss, p.SessionDate,
		p.TotalTrades, p.WinningTrades, p.LosingTrades, string(positions), p.UpdatedAt)
	return err
}

func (s *SQLiteStore) LoadPortfolio(ctx context.Context) (*domain.Portfolio, error) {
	query := `SELECT initial_capital, cash, realized_pnl, day_loss, session_date, total_trades, winning_trades, losing_trades, positions, updated_at
			  FROM portfolio WHERE id = 1`
	row := s.db.QueryRowContext(ctx, query)

	var p domain.Portfolio
	var positions string
	err := row.Scan(&p.InitialCapital, &p.Cash, &p.RealizedPnL, &p.DayLoss, &p.SessionDate,
		&p.TotalTrades, &p.WinningTrades, &p.LosingTrades, &positions, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoPortfolio
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(positions), &p.Positions); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	if p.Positions == nil {
		p.Positions = make(map[string]*domain.Position)
	}
	return &p, nil
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullTime(o *domain.Order) sql.NullTime {
	if o.ExpiresAt.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: o.ExpiresAt, Valid: true}
}

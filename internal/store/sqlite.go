package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per executed decision
	CREATE TABLE IF NOT EXISTS trade_decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		market_timestamp DATETIME,
		symbol TEXT NOT NULL,
		decision TEXT NOT NULL,
		aggregate_confidence REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL,
		profit_loss REAL,
		holding_period_seconds INTEGER,
		node_votes TEXT NOT NULL DEFAULT '[]',
		mode TEXT NOT NULL,
		order_id TEXT NOT NULL
	);

	-- Operator-adjustable runtime settings
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Simulated holdings
	CREATE TABLE IF NOT EXISTS virtual_positions (
		symbol TEXT PRIMARY KEY,
		quantity REAL NOT NULL,
		avg_price REAL NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trade_decisions_symbol ON trade_decisions(symbol);
	CREATE INDEX IF NOT EXISTS idx_trade_decisions_timestamp ON trade_decisions(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ============================================================================
// Trade Log Methods
// ============================================================================

// Record appends a trade to the log and returns its row id.
func (s *SQLiteStore) Record(ctx context.Context, rec models.TradeRecord) (int64, error) {
	votes := rec.AdvisorVotes
	if votes == nil {
		votes = []models.AdvisorVote{}
	}
	votesJSON, err := json.Marshal(votes)
	if err != nil {
		return 0, fmt.Errorf("failed to encode node votes: %w", err)
	}

	var holding *int64
	if rec.HoldingPeriod > 0 {
		secs := int64(rec.HoldingPeriod / time.Second)
		holding = &secs
	}
	var marketTS *time.Time
	if !rec.MarketTimestamp.IsZero() {
		ts := rec.MarketTimestamp.UTC()
		marketTS = &ts
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_decisions (timestamp, market_timestamp, symbol, decision, aggregate_confidence, entry_price, exit_price, profit_loss, holding_period_seconds, node_votes, mode, order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Timestamp.UTC(), marketTS, rec.Symbol, string(rec.Decision), rec.Confidence, rec.EntryPrice, rec.ExitPrice, rec.PnL, holding, string(votesJSON), string(rec.Mode), rec.OrderID)
	if err != nil {
		return 0, fmt.Errorf("failed to log trade: %w: %w", apperrors.ErrDatabaseError, err)
	}
	return res.LastInsertId()
}

// RecentTrades returns logged trades newest first.
func (s *SQLiteStore) RecentTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error) {
	query := "SELECT id, timestamp, market_timestamp, symbol, decision, aggregate_confidence, entry_price, exit_price, profit_loss, holding_period_seconds, node_votes, mode, order_id FROM trade_decisions WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, string(filter.Mode))
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultTradeLimit
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w: %w", apperrors.ErrDatabaseError, err)
	}
	defer rows.Close()

	trades := []models.TradeRecord{}
	for rows.Next() {
		var (
			t         models.TradeRecord
			marketTS  sql.NullTime
			holding   sql.NullInt64
			votesJSON string
			decision  string
			mode      string
		)
		if err := rows.Scan(&t.ID, &t.Timestamp, &marketTS, &t.Symbol, &decision, &t.Confidence, &t.EntryPrice, &t.ExitPrice, &t.PnL, &holding, &votesJSON, &mode, &t.OrderID); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Decision = models.Vote(decision)
		t.Mode = models.ExecutionMode(mode)
		if marketTS.Valid {
			t.MarketTimestamp = marketTS.Time
		}
		if holding.Valid {
			t.HoldingPeriod = time.Duration(holding.Int64) * time.Second
		}
		if err := json.Unmarshal([]byte(votesJSON), &t.AdvisorVotes); err != nil {
			return nil, fmt.Errorf("failed to decode node votes for trade %d: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ============================================================================
// Settings Methods
// ============================================================================

// Get returns the stored value for key, or def when unset.
func (s *SQLiteStore) Get(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w: %w", key, apperrors.ErrDatabaseError, err)
	}
	return value, nil
}

// Set stores value under key.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w: %w", key, apperrors.ErrDatabaseError, err)
	}
	return nil
}

// ============================================================================
// Virtual Position Methods
// ============================================================================

// GetPosition returns the position for symbol, or nil when there is none.
func (s *SQLiteStore) GetPosition(ctx context.Context, symbol string) (*models.VirtualPosition, error) {
	var p models.VirtualPosition
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, quantity, avg_price, updated_at FROM virtual_positions WHERE symbol = ?
	`, symbol).Scan(&p.Symbol, &p.Quantity, &p.AverageCost, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s: %w: %w", symbol, apperrors.ErrDatabaseError, err)
	}
	return &p, nil
}

// UpsertPosition inserts or replaces a position.
func (s *SQLiteStore) UpsertPosition(ctx context.Context, pos models.VirtualPosition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO virtual_positions (symbol, quantity, avg_price, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET quantity = excluded.quantity, avg_price = excluded.avg_price, updated_at = excluded.updated_at
	`, pos.Symbol, pos.Quantity, pos.AverageCost, pos.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w: %w", pos.Symbol, apperrors.ErrDatabaseError, err)
	}
	return nil
}

// UpdateQuantity changes the quantity of an existing position.
func (s *SQLiteStore) UpdateQuantity(ctx context.Context, symbol string, quantity float64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE virtual_positions SET quantity = ?, updated_at = ? WHERE symbol = ?
	`, quantity, at.UTC(), symbol)
	if err != nil {
		return fmt.Errorf("failed to update position %s: %w: %w", symbol, apperrors.ErrDatabaseError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update position %s: %w", symbol, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", symbol, apperrors.ErrPositionNotFound)
	}
	return nil
}

// DeletePosition removes a position.
func (s *SQLiteStore) DeletePosition(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM virtual_positions WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete position %s: %w: %w", symbol, apperrors.ErrDatabaseError, err)
	}
	return nil
}

// ListPositions returns all positions ordered by symbol.
func (s *SQLiteStore) ListPositions(ctx context.Context) ([]models.VirtualPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, quantity, avg_price, updated_at FROM virtual_positions ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w: %w", apperrors.ErrDatabaseError, err)
	}
	defer rows.Close()

	positions := []models.VirtualPosition{}
	for rows.Next() {
		var p models.VirtualPosition
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AverageCost, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

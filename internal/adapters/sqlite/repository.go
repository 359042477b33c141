package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// Repository implements ports.PositionStore and ports.EventStore using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/positions.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Single writer; transactions stay short.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist. The partial unique
// index keeps a single open record per symbol and direction.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		quantity REAL NOT NULL,
		original_quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		atr REAL NOT NULL DEFAULT 0,
		tp1_hit INTEGER NOT NULL DEFAULT 0,
		tp2_hit INTEGER NOT NULL DEFAULT 0,
		tp2_count INTEGER NOT NULL DEFAULT 0,
		last_known_size REAL NOT NULL,
		status TEXT NOT NULL,
		close_reason TEXT DEFAULT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		event_type TEXT NOT NULL,
		direction TEXT NOT NULL,
		event_time TIMESTAMP NOT NULL,
		details TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS ux_positions_open ON positions (symbol, direction) WHERE status = 'open';
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status, closed_at);
	CREATE INDEX IF NOT EXISTS idx_trade_events_lookup ON trade_events (symbol, event_type, event_time);
	`
	_, err := r.db.ExecContext(ctx, schema)
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

// --- PositionStore Implementation ---

const positionColumns = `id, symbol, direction, quantity, original_quantity, entry_price, atr,
	tp1_hit, tp2_hit, tp2_count, last_known_size, status, close_reason, opened_at, closed_at, updated_at`

// GetOpen returns the open record for symbol and direction, or nil.
func (r *Repository) GetOpen(ctx context.Context, symbol string, dir domain.Direction) (*domain.PositionRecord, error) {
	const query = `SELECT ` + positionColumns + ` FROM positions WHERE symbol = ? AND direction = ? AND status = ?`

	row := r.db.QueryRowContext(ctx, query, symbol, dir, domain.StatusOpen)
	rec, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open position %s %s: %w", symbol, dir, err)
	}
	return rec, nil
}

// ListOpen returns every open record ordered by symbol and direction.
func (r *Repository) ListOpen(ctx context.Context) ([]*domain.PositionRecord, error) {
	const query = `SELECT ` + positionColumns + ` FROM positions WHERE status = ? ORDER BY symbol, direction`
	return r.queryPositions(ctx, query, domain.StatusOpen)
}

// ListClosed returns up to limit closed records, newest first.
func (r *Repository) ListClosed(ctx context.Context, limit int) ([]*domain.PositionRecord, error) {
	const query = `SELECT ` + positionColumns + ` FROM positions WHERE status = ? ORDER BY closed_at DESC, id DESC LIMIT ?`
	return r.queryPositions(ctx, query, domain.StatusClosed, limit)
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.PositionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.PositionRecord, 0)
	for rows.Next() {
		rec, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return records, nil
}

// Create saves a new record and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, rec *domain.PositionRecord) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, direction, quantity, original_quantity, entry_price, atr,
	                       tp1_hit, tp2_hit, tp2_count, last_known_size, status, close_reason,
	                       opened_at, closed_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = domain.StatusOpen
	}
	rec.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		rec.Symbol, rec.Direction, rec.Quantity, rec.OriginalQuantity, rec.EntryPrice, rec.ATR,
		rec.TP1Hit, rec.TP2Hit, rec.TP2Count, rec.LastKnownSize, rec.Status, nullString(string(rec.CloseReason)),
		rec.OpenedAt.UTC(), nullTime(rec.ClosedAt), rec.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("open position %s %s already exists: %w", rec.Symbol, rec.Direction, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert position for symbol %s: %w", rec.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", rec.Symbol, err)
	}
	rec.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": rec.Symbol, "direction": rec.Direction})
	return id, nil
}

// Update overwrites rec and appends events atomically.
func (r *Repository) Update(ctx context.Context, rec *domain.PositionRecord, events ...*domain.TradeEvent) error {
	const query = `
	UPDATE positions
	SET quantity = ?, original_quantity = ?, entry_price = ?, atr = ?, tp1_hit = ?, tp2_hit = ?,
	    tp2_count = ?, last_known_size = ?, status = ?, close_reason = ?, closed_at = ?, updated_at = ?
	WHERE id = ?`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for position ID %d: %w", rec.ID, err)
	}
	defer tx.Rollback()

	rec.UpdatedAt = time.Now()
	result, err := tx.ExecContext(ctx, query,
		rec.Quantity, rec.OriginalQuantity, rec.EntryPrice, rec.ATR, rec.TP1Hit, rec.TP2Hit,
		rec.TP2Count, rec.LastKnownSize, rec.Status, nullString(string(rec.CloseReason)), nullTime(rec.ClosedAt),
		rec.UpdatedAt.UTC(), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", rec.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", rec.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", rec.ID, ports.ErrNotFound)
	}

	for _, ev := range events {
		if _, err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update of position ID %d: %w", rec.ID, err)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{
		"positionID": rec.ID, "symbol": rec.Symbol, "status": rec.Status, "events": len(events),
	})
	return nil
}

// CloseOpen closes the open record of (symbol, dir), if any.
func (r *Repository) CloseOpen(ctx context.Context, symbol string, dir domain.Direction, reason domain.CloseReason, at time.Time) (int64, error) {
	const query = `
	UPDATE positions SET status = ?, close_reason = ?, closed_at = ?, updated_at = ?
	WHERE symbol = ? AND direction = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		domain.StatusClosed, string(reason), at.UTC(), time.Now().UTC(), symbol, dir, domain.StatusOpen)
	if err != nil {
		return 0, fmt.Errorf("failed to close %s %s position: %w", symbol, dir, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected closing %s %s: %w", symbol, dir, err)
	}
	r.logger.Debug(ctx, "Position closed", map[string]interface{}{"symbol": symbol, "direction": dir, "reason": reason, "count": n})
	return n, nil
}

// --- EventStore Implementation ---

// AppendEvent stores ev and returns its ID.
func (r *Repository) AppendEvent(ctx context.Context, ev *domain.TradeEvent) (int64, error) {
	return insertEvent(ctx, r.db, ev)
}

// LatestEvent returns the newest matching event at or after since, or nil.
func (r *Repository) LatestEvent(ctx context.Context, symbol string, dir domain.Direction, typ domain.EventType, since time.Time) (*domain.TradeEvent, error) {
	const query = `
	SELECT id, symbol, event_type, direction, event_time, details
	FROM trade_events
	WHERE symbol = ? AND event_type = ? AND event_time >= ? AND (? = '' OR direction = ?)
	ORDER BY event_time DESC, id DESC LIMIT 1`

	ev := &domain.TradeEvent{}
	var typeStr, dirStr string
	err := r.db.QueryRowContext(ctx, query, symbol, typ, since.UTC(), dir, dir).
		Scan(&ev.ID, &ev.Symbol, &typeStr, &dirStr, &ev.Time, &ev.Details)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest %s event for %s: %w", typ, symbol, err)
	}
	ev.Type = domain.EventType(typeStr)
	ev.Direction = domain.Direction(dirStr)
	return ev, nil
}

// CountEvents counts matching events at or after since.
func (r *Repository) CountEvents(ctx context.Context, symbol string, dir domain.Direction, typ domain.EventType, since time.Time) (int, error) {
	const query = `
	SELECT COUNT(*) FROM trade_events
	WHERE symbol = ? AND event_type = ? AND event_time >= ? AND (? = '' OR direction = ?)`

	var count int
	if err := r.db.QueryRowContext(ctx, query, symbol, typ, since.UTC(), dir, dir).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s events for %s: %w", typ, symbol, err)
	}
	return count, nil
}

// DeleteEvents removes every event of typ for symbol.
func (r *Repository) DeleteEvents(ctx context.Context, symbol string, typ domain.EventType) (int64, error) {
	const query = `DELETE FROM trade_events WHERE symbol = ? AND event_type = ?`

	result, err := r.db.ExecContext(ctx, query, symbol, typ)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s events for %s: %w: %w", typ, symbol, ports.ErrDeleteFailed, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected deleting events for %s: %w", symbol, err)
	}
	return n, nil
}

// --- Helpers ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, ev *domain.TradeEvent) (int64, error) {
	const query = `
	INSERT INTO trade_events (symbol, event_type, direction, event_time, details)
	VALUES (?, ?, ?, ?, ?)`

	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	result, err := db.ExecContext(ctx, query, ev.Symbol, ev.Type, ev.Direction, ev.Time.UTC(), ev.Details)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s event for %s: %w", ev.Type, ev.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for event %s: %w", ev.Symbol, err)
	}
	ev.ID = id
	return id, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.PositionRecord, error) {
	p := &domain.PositionRecord{}
	var direction, status string
	var closeReason sql.NullString
	var closedAt sql.NullTime
	err := s.Scan(
		&p.ID, &p.Symbol, &direction, &p.Quantity, &p.OriginalQuantity, &p.EntryPrice, &p.ATR,
		&p.TP1Hit, &p.TP2Hit, &p.TP2Count, &p.LastKnownSize, &status, &closeReason,
		&p.OpenedAt, &closedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err // sql.ErrNoRows handled by the caller
	}
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	if closeReason.Valid {
		p.CloseReason = domain.CloseReason(closeReason.String)
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

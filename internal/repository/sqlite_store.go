package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/logger"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable signal store. WAL mode keeps readers
// (dashboards, Grafana) off the writers' backs; a single writer
// connection sidesteps SQLITE_BUSY under concurrent workers.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(lgr *logger.Logger, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, log: lgr}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id                TEXT PRIMARY KEY,
			source            TEXT NOT NULL,
			external_alert_id TEXT NOT NULL,
			idempotency_key   TEXT NOT NULL,
			symbol            TEXT NOT NULL,
			action            TEXT NOT NULL,
			size              REAL NOT NULL,
			strategy_tag      TEXT,
			account           TEXT NOT NULL,
			status            TEXT NOT NULL,
			cancel_requested  INTEGER NOT NULL DEFAULT 0,
			retry_count       INTEGER NOT NULL DEFAULT 0,
			last_error        TEXT,
			broker_ticket_id  TEXT,
			fill_price        REAL,
			fencing_token     INTEGER NOT NULL DEFAULT 0,
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL
		)`,
		// only non-terminal signals hold the idempotency key; a terminal
		// signal frees it for re-delivery of the same external alert
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_idem ON signals(idempotency_key)
			WHERE status IN ('received','queued','claimed','dispatched','partially_filled')`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status)`,

		`CREATE TABLE IF NOT EXISTS signal_audit (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			signal_id   TEXT NOT NULL,
			prev_status TEXT NOT NULL,
			new_status  TEXT NOT NULL,
			actor       TEXT NOT NULL,
			at          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_signal ON signal_audit(signal_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Init is a no-op; migration runs at construction.
func (s *SQLiteStore) Init(ctx context.Context) error {
	return s.Health(ctx)
}

// CreateSignal persists a new signal plus its initial audit record.
func (s *SQLiteStore) CreateSignal(ctx context.Context, sig *models.Signal) error {
	now := time.Now()
	sig.CreatedAt = now
	sig.UpdatedAt = now
	if sig.Status == "" {
		sig.Status = models.StatusReceived
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO signals
		(id, source, external_alert_id, idempotency_key, symbol, action, size,
		 strategy_tag, account, status, cancel_requested, retry_count,
		 last_error, broker_ticket_id, fill_price, fencing_token, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,0,0,'','',0,0,?,?)`,
		sig.ID, sig.Source, sig.ExternalAlertID, sig.IdempotencyKey,
		sig.Symbol, string(sig.Action), sig.Size, sig.StrategyTag, sig.Account,
		string(sig.Status), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicateSignal
		}
		return fmt.Errorf("insert signal: %w", err)
	}

	if err := appendAudit(ctx, tx, &models.AuditRecord{
		SignalID:       sig.ID,
		PreviousStatus: "",
		NewStatus:      sig.Status,
		Actor:          "intake",
		At:             now,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// SignalByID fetches one signal.
func (s *SQLiteStore) SignalByID(ctx context.Context, id string) (*models.Signal, error) {
	return s.scanSignal(s.db.QueryRowContext(ctx, selectSignal+` WHERE id = ?`, id))
}

// SignalByIdempotencyKey fetches the newest signal holding the key.
func (s *SQLiteStore) SignalByIdempotencyKey(ctx context.Context, key string) (*models.Signal, error) {
	return s.scanSignal(s.db.QueryRowContext(ctx,
		selectSignal+` WHERE idempotency_key = ? ORDER BY created_at DESC LIMIT 1`, key))
}

// Transition applies a CAS writeback plus audit append in one
// transaction. token == 0 means "no lease involved" and keeps the
// persisted fencing token; a positive token below the persisted one is a
// stale write from an expired lease and is rejected.
func (s *SQLiteStore) Transition(ctx context.Context, id string, to models.Status, token int64, actor string, apply func(*models.Signal)) (*models.Signal, models.Status, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sig, err := s.scanSignal(tx.QueryRowContext(ctx, selectSignal+` WHERE id = ?`, id))
	if err != nil {
		return nil, "", err
	}

	if token > 0 && token < sig.FencingToken {
		return nil, "", models.ErrFencingConflict
	}
	if sig.Status.Terminal() {
		return nil, "", models.ErrTerminalStatus
	}
	if !sig.Status.CanTransition(to) {
		return nil, "", fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, sig.Status, to)
	}

	prev := sig.Status
	sig.Status = to
	if token > 0 {
		sig.FencingToken = token
	}
	if apply != nil {
		apply(sig)
	}
	now := time.Now()
	sig.UpdatedAt = now

	res, err := tx.ExecContext(ctx, `UPDATE signals SET
			status = ?, retry_count = ?, last_error = ?, broker_ticket_id = ?,
			fill_price = ?, fencing_token = ?, updated_at = ?
		WHERE id = ? AND status = ? AND fencing_token <= ?`,
		string(sig.Status), sig.RetryCount, sig.LastError, sig.BrokerTicketID,
		sig.FillPrice, sig.FencingToken, now.UnixNano(),
		id, string(prev), sig.FencingToken,
	)
	if err != nil {
		return nil, "", fmt.Errorf("update signal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, "", models.ErrFencingConflict
	}

	if err := appendAudit(ctx, tx, &models.AuditRecord{
		SignalID:       id,
		PreviousStatus: prev,
		NewStatus:      to,
		Actor:          actor,
		At:             now,
	}); err != nil {
		return nil, "", err
	}
	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("commit: %w", err)
	}
	return sig, prev, nil
}

// RequestCancel flags a not-yet-dispatched signal for cancellation.
func (s *SQLiteStore) RequestCancel(ctx context.Context, id string) (*models.Signal, error) {
	sig, err := s.SignalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sig.Status.Terminal() {
		return nil, models.ErrTerminalStatus
	}
	if sig.Status == models.StatusDispatched {
		// the external side effect already happened; only reconciliation
		// can finish this signal now
		return nil, models.ErrInvalidTransition
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE signals SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
		time.Now().UnixNano(), id); err != nil {
		return nil, fmt.Errorf("flag cancel: %w", err)
	}
	sig.CancelRequested = true
	return sig, nil
}

// AuditTrail returns the signal's transitions in append order.
func (s *SQLiteStore) AuditTrail(ctx context.Context, signalID string) ([]*models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT signal_id, prev_status, new_status, actor, at
		 FROM signal_audit WHERE signal_id = ? ORDER BY id ASC`, signalID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var prev, next string
		var at int64
		if err := rows.Scan(&rec.SignalID, &prev, &next, &rec.Actor, &at); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		rec.PreviousStatus = models.Status(prev)
		rec.NewStatus = models.Status(next)
		rec.At = time.Unix(0, at)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Health pings the database.
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectSignal = `SELECT id, source, external_alert_id, idempotency_key,
	symbol, action, size, strategy_tag, account, status, cancel_requested,
	retry_count, last_error, broker_ticket_id, fill_price, fencing_token,
	created_at, updated_at FROM signals`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanSignal(row rowScanner) (*models.Signal, error) {
	var sig models.Signal
	var action, status string
	var cancel int
	var createdAt, updatedAt int64
	err := row.Scan(&sig.ID, &sig.Source, &sig.ExternalAlertID, &sig.IdempotencyKey,
		&sig.Symbol, &action, &sig.Size, &sig.StrategyTag, &sig.Account,
		&status, &cancel, &sig.RetryCount, &sig.LastError, &sig.BrokerTicketID,
		&sig.FillPrice, &sig.FencingToken, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSignalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan signal: %w", err)
	}
	sig.Action = models.Action(action)
	sig.Status = models.Status(status)
	sig.CancelRequested = cancel != 0
	sig.CreatedAt = time.Unix(0, createdAt)
	sig.UpdatedAt = time.Unix(0, updatedAt)
	return &sig, nil
}

func appendAudit(ctx context.Context, tx *sql.Tx, rec *models.AuditRecord) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO signal_audit (signal_id, prev_status, new_status, actor, at)
		 VALUES (?,?,?,?,?)`,
		rec.SignalID, string(rec.PreviousStatus), string(rec.NewStatus),
		rec.Actor, rec.At.UnixNano()); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

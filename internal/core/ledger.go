package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	reservationHeld      = "held"
	reservationCommitted = "committed"
	reservationReleased  = "released"
)

// Ledger places holds against user balances and page quotas for the
// lifetime of a job. Reserve debits both up front; Commit finalizes the
// hold with no further balance change; Release refunds it. Commit and
// Release are idempotent so a replayed scheduler tick cannot double-charge
// or double-refund.
//
// Reserve calls for the same user are serialized through a per-user mutex
// on top of a conditional UPDATE, so two concurrent reservations can never
// both pass a balance check only one could satisfy.
type Ledger struct {
	db  *sql.DB
	log *zap.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewLedger(conn *sql.DB, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		db:    conn,
		log:   log,
		locks: make(map[int64]*sync.Mutex),
	}
}

func (l *Ledger) userLock(userID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	return lock
}

// Reserve atomically checks balance >= cost and quota >= pages, debits
// both, and records a held reservation keyed by job id. On insufficiency
// it fails without mutating anything. A job id can only ever hold one
// reservation.
func (l *Ledger) Reserve(ctx context.Context, userID int64, jobID string, costCents int64, pages int) error {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reserve transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reservations WHERE job_id = ?", jobID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check existing reservation: %w", err)
	}
	if exists > 0 {
		return ErrAlreadyReserved
	}

	var balance int64
	var quota int
	err = tx.QueryRowContext(ctx,
		"SELECT balance_cents, page_quota FROM users WHERE id = ?", userID).Scan(&balance, &quota)
	if err == sql.ErrNoRows {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read user account: %w", err)
	}

	if balance < costCents {
		return ErrInsufficientFunds
	}
	if quota < pages {
		return ErrInsufficientQuota
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET balance_cents = balance_cents - ?, page_quota = page_quota - ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND balance_cents >= ? AND page_quota >= ?
	`, costCents, pages, userID, costCents, pages)
	if err != nil {
		return fmt.Errorf("failed to debit user account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		// The guarded update lost a race the mutex should have
		// prevented; treat it as insufficiency rather than corrupt state.
		return ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reservations (job_id, user_id, amount_cents, pages, state)
		VALUES (?, ?, ?, ?, ?)
	`, jobID, userID, costCents, pages, reservationHeld); err != nil {
		return fmt.Errorf("failed to record reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}

	l.log.Debug("reservation held",
		zap.String("job_id", jobID),
		zap.Int64("user_id", userID),
		zap.Int64("amount_cents", costCents),
		zap.Int("pages", pages))
	return nil
}

// Commit finalizes the hold for jobID. The debit already happened at
// reserve time, so this only flips the reservation state. Committing a
// reservation that is not held is a no-op.
func (l *Ledger) Commit(ctx context.Context, jobID string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE reservations SET state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE job_id = ? AND state = ?
	`, reservationCommitted, jobID, reservationHeld)
	if err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}
	return nil
}

// Release refunds the held balance and pages back to the user. Releasing
// a reservation that is not held is a no-op.
func (l *Ledger) Release(ctx context.Context, jobID string) error {
	var userID int64
	err := l.db.QueryRowContext(ctx,
		"SELECT user_id FROM reservations WHERE job_id = ?", jobID).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up reservation: %w", err)
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE reservations SET state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE job_id = ? AND state = ?
	`, reservationReleased, jobID, reservationHeld)
	if err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		// Already committed or released.
		return nil
	}

	var amount int64
	var pages int
	if err := tx.QueryRowContext(ctx,
		"SELECT amount_cents, pages FROM reservations WHERE job_id = ?", jobID).Scan(&amount, &pages); err != nil {
		return fmt.Errorf("failed to read reservation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET balance_cents = balance_cents + ?, page_quota = page_quota + ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, amount, pages, userID); err != nil {
		return fmt.Errorf("failed to refund user account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit release: %w", err)
	}

	l.log.Debug("reservation released",
		zap.String("job_id", jobID),
		zap.Int64("user_id", userID),
		zap.Int64("amount_cents", amount),
		zap.Int("pages", pages))
	return nil
}

// Account returns the user's current balance and remaining page quota.
func (l *Ledger) Account(ctx context.Context, userID int64) (balanceCents int64, pageQuota int, err error) {
	err = l.db.QueryRowContext(ctx,
		"SELECT balance_cents, page_quota FROM users WHERE id = ?", userID).Scan(&balanceCents, &pageQuota)
	if err == sql.ErrNoRows {
		return 0, 0, ErrUserNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read user account: %w", err)
	}
	return balanceCents, pageQuota, nil
}

package core

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"printdesk/internal/db"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func seedUser(t *testing.T, conn *sql.DB, username string, balanceCents int64, pageQuota int, role, department string) int64 {
	t.Helper()
	result, err := conn.Exec(`
		INSERT INTO users (username, password_hash, role, department, balance_cents, page_quota)
		VALUES (?, ?, ?, ?, ?, ?)
	`, username, "x", role, department, balanceCents, pageQuota)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func account(t *testing.T, conn *sql.DB, userID int64) (int64, int) {
	t.Helper()
	var balance int64
	var quota int
	err := conn.QueryRow("SELECT balance_cents, page_quota FROM users WHERE id = ?", userID).
		Scan(&balance, &quota)
	require.NoError(t, err)
	return balance, quota
}

func reservationState(t *testing.T, conn *sql.DB, jobID string) string {
	t.Helper()
	var state string
	err := conn.QueryRow("SELECT state FROM reservations WHERE job_id = ?", jobID).Scan(&state)
	require.NoError(t, err)
	return state
}

// fakeClock is a hand-advanced time source for scheduler tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testCtx = context.Background()

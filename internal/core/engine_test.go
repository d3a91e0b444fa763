package core

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type engineFixture struct {
	conn   *sql.DB
	engine *Engine
	ledger *Ledger
	store  *JobStore
	clock  *fakeClock
	userID int64
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	conn := newTestDB(t)
	clock := newFakeClock()
	store := NewJobStore(conn)
	ledger := NewLedger(conn, zap.NewNop())
	engine := NewEngine(store, ledger, NewSQLUserSource(conn), NewSQLPolicySource(conn), EngineConfig{
		Rates:            Rates{GrayscaleCents: 5, ColorCents: 15},
		AllowedMimeTypes: []string{"application/pdf", "text/plain"},
	}, zap.NewNop()).WithClock(clock.Now)
	userID := seedUser(t, conn, "alice", 1000, 500, "user", "engineering")
	return &engineFixture{
		conn:   conn,
		engine: engine,
		ledger: ledger,
		store:  store,
		clock:  clock,
		userID: userID,
	}
}

func (f *engineFixture) insertRule(t *testing.T, rule PolicyRule) {
	t.Helper()
	_, err := f.conn.Exec(`
		INSERT INTO policy_rules (scope, scope_value, max_pages, max_copies, force_duplex_above_pages,
			color_allowed, color_page_limit, cost_multiplier, window_start_hour, window_end_hour)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.Scope, rule.ScopeValue, rule.MaxPages, rule.MaxCopies, rule.ForceDuplexAbovePages,
		rule.ColorAllowed, rule.ColorPageLimit, rule.CostMultiplier, rule.WindowStartHour, rule.WindowEndHour)
	require.NoError(t, err)
}

func (f *engineFixture) jobCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.conn.QueryRow("SELECT COUNT(*) FROM print_jobs").Scan(&n))
	return n
}

func pdfFile(pages int) FileMeta {
	return FileMeta{
		FileName:  "report.pdf",
		PageCount: pages,
		SizeBytes: 2048,
		MimeType:  "application/pdf",
	}
}

func TestEngineSubmitJob(t *testing.T) {
	f := newEngineFixture(t)

	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{})
	require.NoError(t, err)

	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, int64(50), job.CostCents)
	assert.Equal(t, 1, job.Settings.Copies)
	assert.Equal(t, ColorModeGrayscale, job.Settings.ColorMode)
	assert.Equal(t, PaperSizeA4, job.Settings.PaperSize)
	assert.Equal(t, PriorityNormal, job.Settings.Priority)

	// Funds and quota are held up front.
	balance, quota := account(t, f.conn, f.userID)
	assert.Equal(t, int64(950), balance)
	assert.Equal(t, 490, quota)
	assert.Equal(t, reservationHeld, reservationState(t, f.conn, job.ID))

	got, err := f.store.GetByID(testCtx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.CostCents, got.CostCents)
}

func TestEngineSubmitColorJob(t *testing.T) {
	f := newEngineFixture(t)

	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{ColorMode: ColorModeColor})
	require.NoError(t, err)
	assert.Equal(t, int64(150), job.CostCents)
}

func TestEngineSubmitRejectsInvalidPageCount(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(0), PrintSettings{})
	assert.Error(t, err)
	assert.Equal(t, 0, f.jobCount(t))
}

func TestEngineSubmitRejectsNegativeCopies(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{Copies: -1})
	assert.Error(t, err)
	assert.Equal(t, 0, f.jobCount(t))

	// Omitted copies still defaults to a single copy.
	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{})
	require.NoError(t, err)
	assert.Equal(t, 1, job.Settings.Copies)
}

func TestEngineSubmitRejectsUnsupportedMimeType(t *testing.T) {
	f := newEngineFixture(t)

	file := pdfFile(10)
	file.MimeType = "application/x-msdownload"
	_, err := f.engine.SubmitJob(testCtx, f.userID, file, PrintSettings{})

	var rejected *PolicyRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonUnsupportedMimeType, rejected.Reason)
	assert.Equal(t, 0, f.jobCount(t))
}

func TestEngineSubmitUnknownUser(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.SubmitJob(testCtx, 9999, pdfFile(10), PrintSettings{})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestEngineSubmitPolicyRejectionLeavesNoTrace(t *testing.T) {
	f := newEngineFixture(t)
	f.insertRule(t, PolicyRule{Scope: ScopeGlobal, MaxPages: 5, ColorAllowed: true})

	_, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{})

	var rejected *PolicyRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonMaxPagesExceeded, rejected.Reason)

	// Rejection is pre-reservation: nothing was written or debited.
	assert.Equal(t, 0, f.jobCount(t))
	balance, quota := account(t, f.conn, f.userID)
	assert.Equal(t, int64(1000), balance)
	assert.Equal(t, 500, quota)
}

func TestEngineSubmitForcedDuplexFlowsIntoCost(t *testing.T) {
	f := newEngineFixture(t)
	f.insertRule(t, PolicyRule{Scope: ScopeGlobal, ForceDuplexAbovePages: 20, ColorAllowed: true})

	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(25), PrintSettings{})
	require.NoError(t, err)

	// 25 duplex pages occupy 13 sheets.
	assert.True(t, job.Settings.Duplex)
	assert.Equal(t, int64(65), job.CostCents)
}

func TestEngineCostRecomputesFromStoredSettings(t *testing.T) {
	f := newEngineFixture(t)
	f.insertRule(t, PolicyRule{Scope: ScopeGlobal, ForceDuplexAbovePages: 20, CostMultiplier: 1.25, ColorAllowed: true})

	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(25), PrintSettings{Copies: 2})
	require.NoError(t, err)

	// The stored cost must match what the calculator yields from the
	// job's own frozen settings.
	stored, err := f.store.GetByID(testCtx, job.ID)
	require.NoError(t, err)
	recomputed := ComputeCost(stored.File.PageCount, stored.Settings.Copies,
		stored.Settings.ColorMode, stored.Settings.Duplex, 1.25,
		Rates{GrayscaleCents: 5, ColorCents: 15})
	assert.Equal(t, recomputed, stored.CostCents)
}

func TestEngineSubmitAppliesCostMultiplier(t *testing.T) {
	f := newEngineFixture(t)
	f.insertRule(t, PolicyRule{Scope: ScopeDepartment, ScopeValue: "engineering", CostMultiplier: 1.5, ColorAllowed: true})

	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{})
	require.NoError(t, err)
	assert.Equal(t, int64(75), job.CostCents)

	balance, _ := account(t, f.conn, f.userID)
	assert.Equal(t, int64(925), balance)
}

func TestEngineSubmitColorDenied(t *testing.T) {
	f := newEngineFixture(t)
	f.insertRule(t, PolicyRule{Scope: ScopeRole, ScopeValue: "user", ColorAllowed: false})

	_, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{ColorMode: ColorModeColor})

	var rejected *PolicyRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonColorNotAllowed, rejected.Reason)
}

func TestEngineSubmitOutsideAllowedHours(t *testing.T) {
	f := newEngineFixture(t)
	f.insertRule(t, PolicyRule{Scope: ScopeGlobal, ColorAllowed: true, WindowStartHour: 9, WindowEndHour: 17})

	// The fixture clock starts at 10:00; inside the window.
	_, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(2), PrintSettings{})
	require.NoError(t, err)

	f.clock.Advance(8 * time.Hour)
	_, err = f.engine.SubmitJob(testCtx, f.userID, pdfFile(2), PrintSettings{})

	var rejected *PolicyRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonOutsideAllowedHours, rejected.Reason)
}

func TestEngineSubmitInsufficientFunds(t *testing.T) {
	f := newEngineFixture(t)
	poorID := seedUser(t, f.conn, "bob", 20, 500, "user", "")

	_, err := f.engine.SubmitJob(testCtx, poorID, pdfFile(10), PrintSettings{})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 0, f.jobCount(t))

	balance, quota := account(t, f.conn, poorID)
	assert.Equal(t, int64(20), balance)
	assert.Equal(t, 500, quota)
}

func TestEngineSubmitInsufficientQuota(t *testing.T) {
	f := newEngineFixture(t)
	lowQuotaID := seedUser(t, f.conn, "bob", 1000, 5, "user", "")

	_, err := f.engine.SubmitJob(testCtx, lowQuotaID, pdfFile(10), PrintSettings{})
	assert.ErrorIs(t, err, ErrInsufficientQuota)
	assert.Equal(t, 0, f.jobCount(t))
}

func TestEngineSubmitQuotaCountsCopies(t *testing.T) {
	f := newEngineFixture(t)
	// 6 pages x 2 copies needs 12 quota pages; only 10 remain.
	lowQuotaID := seedUser(t, f.conn, "bob", 1000, 10, "user", "")

	_, err := f.engine.SubmitJob(testCtx, lowQuotaID, pdfFile(6), PrintSettings{Copies: 2})
	assert.ErrorIs(t, err, ErrInsufficientQuota)
}

func TestEngineCancelJobByOwner(t *testing.T) {
	f := newEngineFixture(t)
	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{})
	require.NoError(t, err)

	require.NoError(t, f.engine.CancelJob(testCtx, job.ID, f.userID))

	got, err := f.store.GetByID(testCtx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, got.Status)
	assert.Equal(t, reservationReleased, reservationState(t, f.conn, job.ID))

	// Full refund.
	balance, quota := account(t, f.conn, f.userID)
	assert.Equal(t, int64(1000), balance)
	assert.Equal(t, 500, quota)
}

func TestEngineCancelJobAuthorization(t *testing.T) {
	f := newEngineFixture(t)
	strangerID := seedUser(t, f.conn, "bob", 1000, 500, "user", "")
	adminID := seedUser(t, f.conn, "carol", 1000, 500, "admin", "")

	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{})
	require.NoError(t, err)

	err = f.engine.CancelJob(testCtx, job.ID, strangerID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, f.engine.CancelJob(testCtx, job.ID, adminID))
}

func TestEngineCancelJobAlreadyTerminal(t *testing.T) {
	f := newEngineFixture(t)
	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{})
	require.NoError(t, err)

	require.NoError(t, f.engine.CancelJob(testCtx, job.ID, f.userID))
	err = f.engine.CancelJob(testCtx, job.ID, f.userID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	// The refund from the first cancel is not repeated.
	balance, _ := account(t, f.conn, f.userID)
	assert.Equal(t, int64(1000), balance)
}

func TestEngineCancelPrintingJob(t *testing.T) {
	f := newEngineFixture(t)
	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{})
	require.NoError(t, err)

	ok, err := f.store.UpdateStatus(testCtx, job.ID, JobStatusPending, JobStatusPrinting, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.engine.CancelJob(testCtx, job.ID, f.userID))

	got, err := f.store.GetByID(testCtx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, got.Status)
}

func TestEngineCancelUnknownJob(t *testing.T) {
	f := newEngineFixture(t)
	err := f.engine.CancelJob(testCtx, "nope", f.userID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEngineGetJobStatus(t *testing.T) {
	f := newEngineFixture(t)
	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{})
	require.NoError(t, err)

	info, err := f.engine.GetJobStatus(testCtx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, info.Status)
	assert.Equal(t, int64(50), info.CostCents)
	assert.Empty(t, info.FailureReason)

	_, err = f.engine.GetJobStatus(testCtx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEngineGetUserBalanceAndQuota(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(10), PrintSettings{})
	require.NoError(t, err)

	info, err := f.engine.GetUserBalanceAndQuota(testCtx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, int64(950), info.BalanceCents)
	assert.Equal(t, 490, info.PageQuota)
}

func TestEngineQueueStats(t *testing.T) {
	f := newEngineFixture(t)
	job, err := f.engine.SubmitJob(testCtx, f.userID, pdfFile(2), PrintSettings{})
	require.NoError(t, err)
	_, err = f.engine.SubmitJob(testCtx, f.userID, pdfFile(2), PrintSettings{})
	require.NoError(t, err)
	require.NoError(t, f.engine.CancelJob(testCtx, job.ID, f.userID))

	stats, err := f.engine.QueueStats(testCtx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[JobStatusPending])
	assert.Equal(t, 1, stats[JobStatusCancelled])
}

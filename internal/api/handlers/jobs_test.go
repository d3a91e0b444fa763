package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"printdesk/internal/api/middleware"
	"printdesk/internal/core"
	"printdesk/internal/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestConn(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func seedTestUser(t *testing.T, conn *sql.DB, username, role string) int64 {
	t.Helper()
	u := &db.User{
		Username:     username,
		PasswordHash: "x",
		Role:         role,
		BalanceCents: 1000,
		PageQuota:    500,
	}
	require.NoError(t, db.NewUserStore(conn).CreateUser(context.Background(), u))
	return u.ID
}

func newJobTestEnv(t *testing.T) (*JobHandler, *core.Engine, *sql.DB) {
	t.Helper()
	conn := newTestConn(t)
	store := core.NewJobStore(conn)
	ledger := core.NewLedger(conn, zap.NewNop())
	engine := core.NewEngine(store, ledger,
		core.NewSQLUserSource(conn), core.NewSQLPolicySource(conn),
		core.EngineConfig{Rates: core.Rates{GrayscaleCents: 5, ColorCents: 15}},
		zap.NewNop())
	return NewJobHandler(engine), engine, conn
}

// authedContext builds a request context the way RequireAuth leaves it.
func authedContext(jobID string, userID int64, role string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if jobID != "" {
		c.Params = gin.Params{{Key: "id", Value: jobID}}
	}
	c.Set(middleware.ContextKeyUserID, userID)
	c.Set(middleware.ContextKeyRole, role)
	return c, w
}

func TestJobStatusEnforcesOwnership(t *testing.T) {
	h, engine, conn := newJobTestEnv(t)
	aliceID := seedTestUser(t, conn, "alice", "user")
	bobID := seedTestUser(t, conn, "bob", "user")
	adminID := seedTestUser(t, conn, "carol", "admin")

	job, err := engine.SubmitJob(context.Background(), aliceID,
		core.FileMeta{FileName: "report.pdf", PageCount: 10, MimeType: "application/pdf"},
		core.PrintSettings{})
	require.NoError(t, err)

	c, w := authedContext(job.ID, aliceID, "user")
	h.Status(c)
	require.Equal(t, http.StatusOK, w.Code)

	var info core.JobStatusInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, core.JobStatusPending, info.Status)
	assert.Equal(t, int64(50), info.CostCents)

	// Another user's job id is forbidden, not leaked.
	c, w = authedContext(job.ID, bobID, "user")
	h.Status(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	c, w = authedContext(job.ID, adminID, "admin")
	h.Status(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJobGetEnforcesOwnership(t *testing.T) {
	h, engine, conn := newJobTestEnv(t)
	aliceID := seedTestUser(t, conn, "alice", "user")
	bobID := seedTestUser(t, conn, "bob", "user")

	job, err := engine.SubmitJob(context.Background(), aliceID,
		core.FileMeta{FileName: "report.pdf", PageCount: 10, MimeType: "application/pdf"},
		core.PrintSettings{})
	require.NoError(t, err)

	c, w := authedContext(job.ID, bobID, "user")
	h.Get(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	c, w = authedContext(job.ID, aliceID, "user")
	h.Get(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJobStatusUnknownJob(t *testing.T) {
	h, _, conn := newJobTestEnv(t)
	userID := seedTestUser(t, conn, "alice", "user")

	c, w := authedContext("nope", userID, "user")
	h.Status(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

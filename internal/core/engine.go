package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PolicySource supplies the rule snapshot a submission is evaluated
// against. Evaluation itself is pure over the returned slice.
type PolicySource interface {
	Snapshot(ctx context.Context) ([]PolicyRule, error)
}

// UserSource supplies the account snapshot for a submitting user.
type UserSource interface {
	Snapshot(ctx context.Context, userID int64) (*User, error)
}

// EngineConfig carries the pricing and admission configuration of the
// submission path.
type EngineConfig struct {
	Rates            Rates
	AllowedMimeTypes []string
}

// Engine orchestrates the submission path: policy evaluation, cost
// calculation, ledger reservation, and job creation, in that order and
// all-or-nothing. It also owns the external boundary operations (cancel,
// status, listings).
type Engine struct {
	store    *JobStore
	ledger   *Ledger
	users    UserSource
	policies PolicySource
	cfg      EngineConfig
	now      Clock
	events   EventSink
	log      *zap.Logger
}

func NewEngine(store *JobStore, ledger *Ledger, users UserSource, policies PolicySource, cfg EngineConfig, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:    store,
		ledger:   ledger,
		users:    users,
		policies: policies,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
	}
}

func (e *Engine) WithClock(now Clock) *Engine {
	e.now = now
	return e
}

func (e *Engine) WithEvents(sink EventSink) *Engine {
	e.events = sink
	return e
}

// SubmitJob admits a document for printing. No job row is written until
// policy and ledger checks have fully passed; a failed job insert rolls
// the reservation back, so submission never partially applies.
//
// The returned job's cost is frozen: nothing recomputes it afterwards.
func (e *Engine) SubmitJob(ctx context.Context, userID int64, file FileMeta, settings PrintSettings) (*Job, error) {
	if file.PageCount < 1 {
		return nil, fmt.Errorf("page count must be at least 1, got %d", file.PageCount)
	}
	if settings.Copies < 0 {
		return nil, fmt.Errorf("copies must be non-negative, got %d", settings.Copies)
	}
	if settings.Copies == 0 {
		settings.Copies = 1
	}
	if settings.ColorMode == "" {
		settings.ColorMode = ColorModeGrayscale
	}
	if settings.PaperSize == "" {
		settings.PaperSize = PaperSizeA4
	}
	if settings.Priority == "" {
		settings.Priority = PriorityNormal
	}

	if !e.mimeAllowed(file.MimeType) {
		return nil, &PolicyRejectedError{Reason: ReasonUnsupportedMimeType}
	}

	user, err := e.users.Snapshot(ctx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	rules, err := e.policies.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy snapshot: %w", err)
	}

	allowed, multiplier, err := EvaluatePolicy(user, rules, settings, file.PageCount, e.now())
	if err != nil {
		return nil, err
	}

	cost := ComputeCost(file.PageCount, allowed.Copies, allowed.ColorMode, allowed.Duplex, multiplier, e.cfg.Rates)
	pages := file.PageCount * allowed.Copies

	jobID := uuid.NewString()
	if err := e.ledger.Reserve(ctx, userID, jobID, cost, pages); err != nil {
		return nil, err
	}

	now := e.now()
	job := &Job{
		ID:        jobID,
		UserID:    userID,
		File:      file,
		Settings:  allowed,
		CostCents: cost,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(ctx, job); err != nil {
		if relErr := e.ledger.Release(ctx, jobID); relErr != nil {
			e.log.Error("failed to roll back reservation",
				zap.String("job_id", jobID), zap.Error(relErr))
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	e.log.Info("job submitted",
		zap.String("job_id", jobID),
		zap.Int64("user_id", userID),
		zap.Int("pages", file.PageCount),
		zap.Int("copies", allowed.Copies),
		zap.Int64("cost_cents", cost))
	return job, nil
}

func (e *Engine) mimeAllowed(mimeType string) bool {
	if len(e.cfg.AllowedMimeTypes) == 0 {
		return true
	}
	for _, allowed := range e.cfg.AllowedMimeTypes {
		if allowed == mimeType {
			return true
		}
	}
	return false
}

// CancelJob retires a non-terminal job on behalf of its owner or an
// admin and refunds the hold. A job the scheduler already retired
// reports ErrAlreadyTerminal rather than being silently ignored.
func (e *Engine) CancelJob(ctx context.Context, jobID string, requesterID int64) error {
	job, err := e.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	if job.UserID != requesterID {
		requester, err := e.users.Snapshot(ctx, requesterID)
		if err != nil || requester.Role != "admin" {
			return ErrNotAuthorized
		}
	}

	for _, from := range []JobStatus{JobStatusPending, JobStatusPrinting} {
		ok, err := e.store.UpdateStatus(ctx, jobID, from, JobStatusCancelled, e.now())
		if err != nil {
			return err
		}
		if ok {
			if err := e.ledger.Release(ctx, jobID); err != nil {
				return fmt.Errorf("failed to release reservation: %w", err)
			}
			e.log.Info("job cancelled",
				zap.String("job_id", jobID),
				zap.Int64("requester_id", requesterID))
			if e.events != nil {
				snapshot := *job
				snapshot.Status = JobStatusCancelled
				e.events.JobEvent(EventJobCancelled, &snapshot)
			}
			return nil
		}
	}

	return ErrAlreadyTerminal
}

// JobStatusInfo is the query-side view of a job.
type JobStatusInfo struct {
	Status        JobStatus `json:"status"`
	CostCents     int64     `json:"cost_cents"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

func (e *Engine) GetJobStatus(ctx context.Context, jobID string) (*JobStatusInfo, error) {
	job, err := e.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatusInfo{
		Status:        job.Status,
		CostCents:     job.CostCents,
		FailureReason: job.FailureReason,
	}, nil
}

func (e *Engine) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return e.store.GetByID(ctx, jobID)
}

func (e *Engine) ListJobsForUser(ctx context.Context, userID int64, limit, offset int) ([]*Job, error) {
	return e.store.ListByUser(ctx, userID, limit, offset)
}

// AccountInfo is the polling view of a user's balance and quota.
type AccountInfo struct {
	BalanceCents int64 `json:"balance_cents"`
	PageQuota    int   `json:"page_quota"`
}

func (e *Engine) GetUserBalanceAndQuota(ctx context.Context, userID int64) (*AccountInfo, error) {
	balance, quota, err := e.ledger.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &AccountInfo{BalanceCents: balance, PageQuota: quota}, nil
}

func (e *Engine) QueueStats(ctx context.Context) (map[JobStatus]int, error) {
	return e.store.CountByStatus(ctx)
}

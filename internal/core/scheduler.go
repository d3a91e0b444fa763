package core

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock supplies the scheduler's notion of now; tests substitute a fake
// to advance virtual time instead of sleeping.
type Clock func() time.Time

// PrintFunc simulates the device step once a job's processing timer has
// elapsed. A non-nil error is treated as a transient failure and feeds
// the retry policy.
type PrintFunc func(job *Job) error

// SimulatedPrinter returns a PrintFunc that fails a configurable fraction
// of jobs, standing in for a flaky device.
func SimulatedPrinter(failureRate float64) PrintFunc {
	return func(job *Job) error {
		if failureRate > 0 && rand.Float64() < failureRate {
			return fmt.Errorf("simulated device error")
		}
		return nil
	}
}

// EventSink receives job lifecycle notifications. Delivery is best
// effort; sinks must not block.
type EventSink interface {
	JobEvent(event string, job *Job)
}

// Job lifecycle events emitted to the EventSink.
const (
	EventJobPrinting  = "job_printing"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
	EventJobRequeued  = "job_requeued"
	EventJobCancelled = "job_cancelled"
)

type SchedulerConfig struct {
	TickInterval      time.Duration
	WorkerCount       int
	MaxAttempts       int
	PerPageTime       time.Duration
	MaxProcessingTime time.Duration
	PrintingTimeout   time.Duration
}

func (c *SchedulerConfig) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Second
	}
	if c.WorkerCount < 1 {
		c.WorkerCount = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.PerPageTime <= 0 {
		c.PerPageTime = 500 * time.Millisecond
	}
	if c.MaxProcessingTime <= 0 {
		c.MaxProcessingTime = 30 * time.Second
	}
	if c.PrintingTimeout <= 0 {
		c.PrintingTimeout = 2 * time.Minute
	}
}

// Scheduler is the recurring background driver that advances jobs
// through the state machine. Each tick is independent and idempotent:
// every mutation is compare-and-set guarded, so a job already moved by a
// concurrent tick is simply skipped.
type Scheduler struct {
	store  *JobStore
	ledger *Ledger
	cfg    SchedulerConfig
	now    Clock
	print  PrintFunc
	events EventSink
	log    *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(store *JobStore, ledger *Ledger, cfg SchedulerConfig, log *zap.Logger) *Scheduler {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		store:  store,
		ledger: ledger,
		cfg:    cfg,
		now:    time.Now,
		print:  SimulatedPrinter(0),
		log:    log,
	}
}

// WithClock replaces the scheduler's time source.
func (s *Scheduler) WithClock(now Clock) *Scheduler {
	s.now = now
	return s
}

// WithPrinter replaces the simulated device step.
func (s *Scheduler) WithPrinter(fn PrintFunc) *Scheduler {
	s.print = fn
	return s
}

// WithEvents attaches a lifecycle event sink.
func (s *Scheduler) WithEvents(sink EventSink) *Scheduler {
	s.events = sink
	return s
}

// Start recovers jobs orphaned in printing by a previous run, settles
// holds left behind by a crash mid-finalization, and begins ticking in
// the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	recovered, err := s.recoverOrphaned(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover orphaned jobs: %w", err)
	}
	if recovered > 0 {
		s.log.Info("recovered orphaned printing jobs", zap.Int("count", recovered))
	}

	if err := s.settleTerminalHolds(ctx); err != nil {
		return fmt.Errorf("failed to settle reservations: %w", err)
	}

	s.wg.Add(1)
	go s.run()
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// recoverOrphaned resets jobs left in printing by a crashed run. Their
// reservations stay held; the next tick restarts their timers.
func (s *Scheduler) recoverOrphaned(ctx context.Context) (int, error) {
	result, err := s.db().ExecContext(ctx, `
		UPDATE print_jobs SET status = ?, started_at = NULL, updated_at = ?
		WHERE status = ?
	`, JobStatusPending, s.now(), JobStatusPrinting)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

// settleTerminalHolds finalizes reservations still held on jobs that
// already reached a terminal state, which happens when a previous run
// died between the terminal transition and the ledger call. Commit and
// Release are idempotent, so replaying them here is safe.
func (s *Scheduler) settleTerminalHolds(ctx context.Context) error {
	rows, err := s.db().QueryContext(ctx, `
		SELECT r.job_id, j.status FROM reservations r
		JOIN print_jobs j ON j.id = r.job_id
		WHERE r.state = ? AND j.status IN (?, ?, ?)
	`, reservationHeld, JobStatusCompleted, JobStatusFailed, JobStatusCancelled)
	if err != nil {
		return err
	}
	defer rows.Close()

	type stranded struct {
		jobID  string
		status JobStatus
	}
	var holds []stranded
	for rows.Next() {
		var h stranded
		if err := rows.Scan(&h.jobID, &h.status); err != nil {
			return err
		}
		holds = append(holds, h)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, h := range holds {
		if h.status == JobStatusCompleted {
			err = s.ledger.Commit(ctx, h.jobID)
		} else {
			err = s.ledger.Release(ctx, h.jobID)
		}
		if err != nil {
			return err
		}
		s.log.Info("settled stranded reservation",
			zap.String("job_id", h.jobID),
			zap.String("status", string(h.status)))
	}
	return nil
}

func (s *Scheduler) db() *sql.DB {
	return s.store.db
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick runs one scheduling pass: claim pending jobs, then advance
// printing jobs whose timers have elapsed or that have stalled. Jobs are
// processed concurrently within the pass; no cross-job ordering exists.
func (s *Scheduler) Tick(ctx context.Context) {
	s.forEachConcurrently(ctx, JobStatusPending, func(job *Job) {
		s.claim(ctx, job)
	})
	s.forEachConcurrently(ctx, JobStatusPrinting, func(job *Job) {
		s.advance(ctx, job)
	})
}

func (s *Scheduler) forEachConcurrently(ctx context.Context, status JobStatus, fn func(*Job)) {
	var jobs []*Job
	err := s.store.ForEachByStatus(ctx, status, func(job *Job) error {
		jobs = append(jobs, job)
		return nil
	})
	if err != nil {
		s.log.Error("failed to list jobs", zap.String("status", string(status)), zap.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	ch := make(chan *Job)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range ch {
				fn(job)
			}
		}()
	}
	for _, job := range jobs {
		ch <- job
	}
	close(ch)
	wg.Wait()
}

func (s *Scheduler) claim(ctx context.Context, job *Job) {
	ok, err := s.store.UpdateStatus(ctx, job.ID, JobStatusPending, JobStatusPrinting, s.now())
	if err != nil {
		s.log.Error("failed to claim job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !ok {
		// Moved by a concurrent tick or cancelled; nothing to do.
		return
	}
	s.log.Debug("job claimed for printing", zap.String("job_id", job.ID))
	s.emit(EventJobPrinting, job, JobStatusPrinting)
}

func (s *Scheduler) advance(ctx context.Context, job *Job) {
	now := s.now()

	if job.StartedAt == nil {
		// No processing timer on record: stalled if it has sat in
		// printing past the timeout, otherwise wait for the claim to
		// settle.
		if now.Sub(job.UpdatedAt) >= s.cfg.PrintingTimeout {
			s.retryOrFail(ctx, job, ReasonPrintingTimeout)
		}
		return
	}

	elapsed := now.Sub(*job.StartedAt)
	if elapsed >= s.processingDuration(job) {
		if err := s.print(job); err != nil {
			s.log.Warn("simulated print failed",
				zap.String("job_id", job.ID), zap.Error(err))
			s.retryOrFail(ctx, job, err.Error())
			return
		}
		s.complete(ctx, job)
		return
	}

	if elapsed >= s.cfg.PrintingTimeout {
		s.retryOrFail(ctx, job, ReasonPrintingTimeout)
	}
}

func (s *Scheduler) complete(ctx context.Context, job *Job) {
	ok, err := s.store.UpdateStatus(ctx, job.ID, JobStatusPrinting, JobStatusCompleted, s.now())
	if err != nil {
		s.log.Error("failed to complete job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if err := s.ledger.Commit(ctx, job.ID); err != nil {
		s.log.Error("failed to commit reservation", zap.String("job_id", job.ID), zap.Error(err))
	}
	s.log.Info("job completed",
		zap.String("job_id", job.ID),
		zap.Int64("user_id", job.UserID),
		zap.Int64("cost_cents", job.CostCents))
	s.emit(EventJobCompleted, job, JobStatusCompleted)
}

// retryOrFail applies the retry policy: requeue with the reservation
// still held while attempts remain, otherwise retire the job as failed
// and release the hold exactly once.
func (s *Scheduler) retryOrFail(ctx context.Context, job *Job, reason string) {
	if job.Attempts >= s.cfg.MaxAttempts {
		ok, err := s.store.MarkFailed(ctx, job.ID, JobStatusPrinting, ReasonMaxAttemptsExceeded, s.now())
		if err != nil {
			s.log.Error("failed to fail job", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		if !ok {
			return
		}
		if err := s.ledger.Release(ctx, job.ID); err != nil {
			s.log.Error("failed to release reservation", zap.String("job_id", job.ID), zap.Error(err))
		}
		s.log.Warn("job failed permanently",
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.String("reason", reason))
		s.emit(EventJobFailed, job, JobStatusFailed)
		return
	}

	ok, err := s.store.Requeue(ctx, job.ID, s.now())
	if err != nil {
		s.log.Error("failed to requeue job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	s.log.Info("job requeued",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempts+1),
		zap.String("reason", reason))
	s.emit(EventJobRequeued, job, JobStatusPending)
}

// processingDuration derives the simulated printing time from the job's
// volume and priority.
func (s *Scheduler) processingDuration(job *Job) time.Duration {
	d := time.Duration(job.File.PageCount*job.Settings.Copies) * s.cfg.PerPageTime
	switch job.Settings.Priority {
	case PriorityHigh:
		d = d * 7 / 10
	case PriorityLow:
		d = d * 13 / 10
	}
	if d > s.cfg.MaxProcessingTime {
		d = s.cfg.MaxProcessingTime
	}
	return d
}

func (s *Scheduler) emit(event string, job *Job, status JobStatus) {
	if s.events == nil {
		return
	}
	snapshot := *job
	snapshot.Status = status
	s.events.JobEvent(event, &snapshot)
}

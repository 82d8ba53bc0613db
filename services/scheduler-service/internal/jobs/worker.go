package jobs

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/events"
	otelx "github.com/md-rashed-zaman/upachar/libs/otel"
	"github.com/md-rashed-zaman/upachar/libs/outbox"
)

const aggregateType = "reminder_job"

// DeadLetter is published once a job exhausts its attempts.
type DeadLetter struct {
	events.ReminderDuePayload
	Reason   string `json:"error_reason"`
	FailedAt string `json:"failed_at"`
}

type Worker struct {
	pool       db.Conn
	repo       *Repository
	outbox     *outbox.Repository
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	backoff    time.Duration
	maxBackoff time.Duration
	now        func() time.Time
}

type WorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Now        func() time.Time
}

func NewWorker(pool db.Conn, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = 30 * cfg.Backoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Worker{
		pool:       pool,
		repo:       repo,
		outbox:     outboxRepo,
		logger:     logger,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		now:        cfg.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.logger.Error("scheduler batch failed", "err", err)
			}
		}
	}
}

// ProcessBatch publishes due reminders and returns how many were handed to the outbox.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, tx.Commit(ctx)
	}

	var ids []int64
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		if err := w.enqueue(jobCtx, tx, job); err != nil {
			w.logger.Error("reminder enqueue failed", "err", err, "job_id", job.ID, "attempts", job.Attempts+1)
			if err := w.fail(jobCtx, tx, job, err.Error()); err != nil {
				return 0, err
			}
			continue
		}
		ids = append(ids, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// enqueue writes the due event inside a savepoint so one bad job does not abort the batch.
func (w *Worker) enqueue(ctx context.Context, tx pgx.Tx, job Job) error {
	evt, err := outbox.NewEvent(aggregateType, strconv.FormatInt(job.AppointmentID, 10), events.ReminderDue, duePayload(job))
	if err != nil {
		return err
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := w.outbox.Insert(ctx, sp, evt); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (w *Worker) fail(ctx context.Context, tx pgx.Tx, job Job, reason string) error {
	attempts := job.Attempts + 1
	if err := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, w.now().UTC().Add(w.Backoff(attempts)), reason); err != nil {
		return err
	}
	if attempts < job.MaxAttempts {
		return nil
	}
	evt, err := outbox.NewEvent(aggregateType, strconv.FormatInt(job.AppointmentID, 10), events.ReminderDLQ, DeadLetter{
		ReminderDuePayload: duePayload(job),
		Reason:             reason,
		FailedAt:           w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, evt)
}

// Backoff doubles per attempt, capped at the configured maximum.
func (w *Worker) Backoff(attempts int) time.Duration {
	d := w.backoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.maxBackoff {
			return w.maxBackoff
		}
	}
	return d
}

func duePayload(job Job) events.ReminderDuePayload {
	return events.ReminderDuePayload{
		JobID:         job.ID,
		AppointmentID: job.AppointmentID,
		Channel:       job.Channel,
		Recipient:     job.Recipient,
		RemindAt:      job.RemindAt.UTC().Format(time.RFC3339),
		TemplateData:  job.TemplateData,
	}
}

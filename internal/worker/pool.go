package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"PaceMail/internal/db"
	"PaceMail/internal/metrics"
	"PaceMail/internal/models"
	"PaceMail/internal/queue"
	"PaceMail/internal/ratelimit"
)

type Queue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Reschedule(ctx context.Context, id string, at time.Time) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) (queue.FailResult, error)
}

type Store interface {
	Status(ctx context.Context, id string) (models.EmailStatus, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, errorMsg string) (bool, error)
}

type Limiter interface {
	Acquire(ctx context.Context, userID string) (ratelimit.Decision, error)
}

type Transport interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeDeferred Outcome = "deferred"
	OutcomeRetrying Outcome = "retrying"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
	// OutcomeAbandoned means the job could not be settled; its lease expires
	// and the queue redelivers it.
	OutcomeAbandoned Outcome = "abandoned"
)

type Config struct {
	Workers int
	// Throttle is the pause before every send, independent of the schedule.
	Throttle time.Duration
	// DeferFor is how far a job over the hourly cap is pushed back.
	DeferFor     time.Duration
	PollInterval time.Duration
	// Throughput caps SMTP sends per second across the pool. Optional.
	Throughput *rate.Limiter
	Clock      func() time.Time
}

func (c *Config) setDefaults() {
	if c.Workers < 1 {
		c.Workers = 5
	}
	if c.Throttle < 0 {
		c.Throttle = 0
	}
	if c.DeferFor <= 0 {
		c.DeferFor = time.Hour
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type Pool struct {
	cfg       Config
	queue     Queue
	store     Store
	limiter   Limiter
	transport Transport
	logger    *zap.Logger
}

func NewPool(
	cfg Config,
	q Queue,
	store Store,
	limiter Limiter,
	transport Transport,
	logger *zap.Logger,
) *Pool {
	cfg.setDefaults()
	return &Pool{
		cfg:       cfg,
		queue:     q,
		store:     store,
		limiter:   limiter,
		transport: transport,
		logger:    logger,
	}
}

// Start runs the releaser and cfg.Workers executors until ctx is cancelled.
// Jobs already handed to an executor run to completion.
func (p *Pool) Start(ctx context.Context, wg *sync.WaitGroup) {
	jobs := make(chan *queue.Job)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		p.release(ctx, jobs)
	}()

	runCtx := context.WithoutCancel(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			p.logger.Info("worker started", zap.Int("worker_id", id))

			for job := range jobs {
				outcome := p.Process(runCtx, job)
				p.logger.Debug("job processed",
					zap.Int("worker_id", id),
					zap.String("job_id", job.ID),
					zap.String("outcome", string(outcome)),
				)
			}

			p.logger.Info("worker shutting down", zap.Int("worker_id", id))
		}(i)
	}
}

// release polls the queue for due jobs and hands each to a free executor.
func (p *Pool) release(ctx context.Context, jobs chan<- *queue.Job) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrEmpty) && ctx.Err() == nil {
				p.logger.Error("dequeue failed", zap.Error(err))
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		select {
		case jobs <- job:
		case <-ctx.Done():
			// Hand the lease back so the job is not stuck until it expires.
			if err := p.queue.Reschedule(context.WithoutCancel(ctx), job.ID, p.cfg.Clock()); err != nil {
				p.logger.Warn("failed to return job on shutdown",
					zap.String("job_id", job.ID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// Process runs one dispatch attempt for job.
func (p *Pool) Process(ctx context.Context, job *queue.Job) Outcome {
	log := p.logger.With(
		zap.String("job_id", job.ID),
		zap.String("user_id", job.Data.UserID),
		zap.Int("attempts_made", job.AttemptsMade),
	)

	// ----------------------------
	// Claim
	// ----------------------------
	status, err := p.store.Status(ctx, job.ID)
	switch {
	case errors.Is(err, db.ErrNotFound), err == nil && status.Terminal():
		log.Warn("job record is not pending, dropping delivery",
			zap.String("status", string(status)),
		)
		metrics.DuplicateDeliveriesSkipped.Inc()
		if err := p.queue.Complete(ctx, job.ID); err != nil {
			log.Error("failed to complete skipped job", zap.Error(err))
		}
		return OutcomeSkipped
	case err != nil:
		return p.fail(ctx, log, job, err)
	}

	// ----------------------------
	// Hourly cap
	// ----------------------------
	decision, err := p.limiter.Acquire(ctx, job.Data.UserID)
	if err != nil {
		return p.fail(ctx, log, job, err)
	}
	if !decision.Allowed {
		// Defer from the clock that chose the bucket so host skew cannot
		// release the job back into the same hour.
		from := decision.Now
		if from.IsZero() {
			from = p.cfg.Clock()
		}
		at := from.Add(p.cfg.DeferFor)
		if err := p.queue.Reschedule(ctx, job.ID, at); err != nil {
			log.Error("failed to defer rate limited job", zap.Error(err))
			return OutcomeAbandoned
		}

		log.Info("hourly limit reached, job deferred",
			zap.String("bucket", decision.Bucket),
			zap.Int64("count", decision.Count),
			zap.Time("release_at", at),
		)
		metrics.RateLimitDeferrals.Inc()
		return OutcomeDeferred
	}

	// ----------------------------
	// Throttle
	// ----------------------------
	if err := sleep(ctx, p.cfg.Throttle); err != nil {
		return p.fail(ctx, log, job, err)
	}
	if p.cfg.Throughput != nil {
		if err := p.cfg.Throughput.Wait(ctx); err != nil {
			return p.fail(ctx, log, job, err)
		}
	}

	// ----------------------------
	// Send Email
	// ----------------------------
	if err := p.transport.Send(ctx, job.Data.Recipient, job.Data.Subject, job.Data.Body); err != nil {
		return p.fail(ctx, log, job, err)
	}

	// ----------------------------
	// Mark as Sent
	// ----------------------------
	changed, err := p.store.MarkSent(ctx, job.ID, p.cfg.Clock().UTC())
	if err != nil {
		log.Error("failed to update sent status", zap.Error(err))
		return OutcomeAbandoned
	}
	if !changed {
		log.Warn("sent status not recorded, job was no longer pending")
	}

	if err := p.queue.Complete(ctx, job.ID); err != nil {
		log.Error("failed to complete job", zap.Error(err))
	}

	log.Info("email sent successfully", zap.String("to", job.Data.Recipient))
	metrics.EmailsSent.Inc()
	return OutcomeSent
}

// fail hands a failed attempt to the queue's retry policy. Only the final
// attempt writes FAILED to the store.
func (p *Pool) fail(ctx context.Context, log *zap.Logger, job *queue.Job, cause error) Outcome {
	metrics.SendAttemptErrors.Inc()

	res, err := p.queue.Fail(ctx, job.ID, cause)
	if err != nil {
		log.Error("failed to record failed attempt",
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return OutcomeAbandoned
	}

	if !res.Final {
		log.Warn("email send attempt failed, will retry",
			zap.Int("attempt", res.Attempts),
			zap.Time("retry_at", res.RetryAt),
			zap.Error(cause),
		)
		return OutcomeRetrying
	}

	log.Error("email send failed",
		zap.String("to", job.Data.Recipient),
		zap.Int("attempts", res.Attempts),
		zap.Error(cause),
	)

	if _, err := p.store.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		log.Error("failed to update failure status", zap.Error(err))
	}

	metrics.EmailFailures.Inc()
	return OutcomeFailed
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package scheduler accepts a batch request, computes send times and records
// one job per recipient in the store and the delayed queue.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"PaceMail/internal/metrics"
	"PaceMail/internal/models"
	"PaceMail/internal/schedule"
)

type Store interface {
	InsertEmail(ctx context.Context, job *models.EmailJob) error
	MarkFailed(ctx context.Context, id string, errorMsg string) (bool, error)
	ListScheduled(ctx context.Context, userID string) ([]models.EmailJob, error)
	ListSent(ctx context.Context, userID string) ([]models.EmailJob, error)
}

type Queue interface {
	Enqueue(ctx context.Context, payload models.JobPayload, delay time.Duration) (bool, error)
}

type Result struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

type Service struct {
	Store Store
	Queue Queue
	Log   *zap.Logger
	Clock func() time.Time
	NewID func() string
}

func New(store Store, q Queue, logger *zap.Logger) *Service {
	return &Service{
		Store: store,
		Queue: q,
		Log:   logger,
		Clock: time.Now,
		NewID: uuid.NewString,
	}
}

// Schedule validates req and queues one send per recipient. Records created
// before a failure stay scheduled; the failing record is marked FAILED.
func (s *Service) Schedule(ctx context.Context, userID string, req models.ScheduleRequest) (Result, error) {
	if err := schedule.Validate(req); err != nil {
		return Result{}, err
	}

	plan := schedule.Compute(req.Recipients, req.StartTime, req.Delay(), req.HourlyLimit)

	res := Result{IDs: make([]string, 0, len(plan))}

	for _, entry := range plan {
		job := &models.EmailJob{
			ID:          s.NewID(),
			Recipient:   entry.Recipient,
			Subject:     req.Subject,
			Body:        req.Body,
			UserID:      userID,
			ScheduledAt: entry.SendAt,
		}

		if err := s.Store.InsertEmail(ctx, job); err != nil {
			return res, fmt.Errorf("store job for %s: %w", entry.Recipient, err)
		}

		delay := entry.SendAt.Sub(s.Clock())
		if delay < 0 {
			delay = 0
		}

		if _, err := s.Queue.Enqueue(ctx, job.Payload(), delay); err != nil {
			if _, markErr := s.Store.MarkFailed(context.WithoutCancel(ctx), job.ID, "enqueue failed: "+err.Error()); markErr != nil {
				s.Log.Error("failed to mark unqueued job",
					zap.String("job_id", job.ID),
					zap.Error(markErr),
				)
			}
			return res, fmt.Errorf("enqueue job %s: %w", job.ID, err)
		}

		res.IDs = append(res.IDs, job.ID)
		res.Count++
		metrics.EmailsScheduled.Inc()
	}

	s.Log.Info("batch scheduled",
		zap.String("user_id", userID),
		zap.Int("count", res.Count),
		zap.Time("first_send", plan[0].SendAt),
		zap.Time("last_send", plan[len(plan)-1].SendAt),
	)

	return res, nil
}

func (s *Service) Scheduled(ctx context.Context, userID string) ([]models.EmailJob, error) {
	return s.Store.ListScheduled(ctx, userID)
}

func (s *Service) Sent(ctx context.Context, userID string) ([]models.EmailJob, error) {
	return s.Store.ListSent(ctx, userID)
}

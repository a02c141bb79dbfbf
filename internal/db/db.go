package db

import (
	"context"
	"errors"
	"time"

	"PaceMail/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("email job not found")

const Schema = `
CREATE TABLE IF NOT EXISTS email_jobs (
	id           UUID PRIMARY KEY,
	recipient    TEXT        NOT NULL,
	subject      TEXT        NOT NULL,
	body         TEXT        NOT NULL,
	user_id      TEXT        NOT NULL,
	status       TEXT        NOT NULL DEFAULT 'PENDING',
	error_msg    TEXT,
	scheduled_at TIMESTAMPTZ NOT NULL,
	sent_at      TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS email_jobs_user_status_idx ON email_jobs (user_id, status);
`

type Store struct {
	Pool *pgxpool.Pool
}

func New(conn string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), conn)
	if err != nil {
		return nil, err
	}

	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, Schema)
	return err
}

func (s *Store) InsertEmail(ctx context.Context, job *models.EmailJob) error {
	job.Status = models.StatusPending

	return s.Pool.QueryRow(ctx,
		`INSERT INTO email_jobs
		 (id, recipient, subject, body, user_id, status, scheduled_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
		 RETURNING created_at, updated_at`,
		job.ID,
		job.Recipient,
		job.Subject,
		job.Body,
		job.UserID,
		job.Status,
		job.ScheduledAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (s *Store) Status(ctx context.Context, id string) (models.EmailStatus, error) {
	var status models.EmailStatus

	err := s.Pool.QueryRow(ctx,
		`SELECT status FROM email_jobs WHERE id=$1`,
		id,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}

	return status, err
}

// MarkSent records a delivery. It only moves a PENDING job and reports
// whether the row changed.
func (s *Store) MarkSent(
	ctx context.Context,
	id string,
	sentAt time.Time,
) (bool, error) {

	tag, err := s.Pool.Exec(ctx,
		`UPDATE email_jobs
		 SET status=$1,
		     sent_at=$2,
		     error_msg=NULL,
		     updated_at=NOW()
		 WHERE id=$3 AND status=$4`,
		models.StatusSent,
		sentAt,
		id,
		models.StatusPending,
	)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

// MarkFailed records a permanent failure. It only moves a PENDING job.
func (s *Store) MarkFailed(
	ctx context.Context,
	id string,
	errorMsg string,
) (bool, error) {

	tag, err := s.Pool.Exec(ctx,
		`UPDATE email_jobs
		 SET status=$1,
		     error_msg=$2,
		     updated_at=NOW()
		 WHERE id=$3 AND status=$4`,
		models.StatusFailed,
		errorMsg,
		id,
		models.StatusPending,
	)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

// ListScheduled returns the user's pending jobs, earliest first.
func (s *Store) ListScheduled(ctx context.Context, userID string) ([]models.EmailJob, error) {
	return s.list(ctx,
		`SELECT id, recipient, subject, body, user_id, status, COALESCE(error_msg, ''),
		        scheduled_at, sent_at, created_at, updated_at
		 FROM email_jobs
		 WHERE user_id=$1 AND status=$2
		 ORDER BY scheduled_at ASC`,
		userID, models.StatusPending,
	)
}

// ListSent returns the user's finished jobs, most recent delivery first.
func (s *Store) ListSent(ctx context.Context, userID string) ([]models.EmailJob, error) {
	return s.list(ctx,
		`SELECT id, recipient, subject, body, user_id, status, COALESCE(error_msg, ''),
		        scheduled_at, sent_at, created_at, updated_at
		 FROM email_jobs
		 WHERE user_id=$1 AND status IN ($2, $3)
		 ORDER BY sent_at DESC NULLS LAST, updated_at DESC`,
		userID, models.StatusSent, models.StatusFailed,
	)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]models.EmailJob, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]models.EmailJob, 0)
	for rows.Next() {
		var j models.EmailJob
		if err := rows.Scan(
			&j.ID,
			&j.Recipient,
			&j.Subject,
			&j.Body,
			&j.UserID,
			&j.Status,
			&j.ErrorMsg,
			&j.ScheduledAt,
			&j.SentAt,
			&j.CreatedAt,
			&j.UpdatedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}

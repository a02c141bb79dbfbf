package models

import "time"

type EmailStatus string

const (
	StatusPending EmailStatus = "PENDING"
	StatusSent    EmailStatus = "SENT"
	StatusFailed  EmailStatus = "FAILED"
)

// Terminal reports whether no further transition is defined from s.
func (s EmailStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// EmailJob is the durable record of one scheduled send.
// SentAt is set iff Status is StatusSent.
type EmailJob struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	UserID    string `json:"userId"`

	Status   EmailStatus `json:"status"`
	ErrorMsg string      `json:"errorMsg,omitempty"`

	ScheduledAt time.Time  `json:"scheduledAt"`
	SentAt      *time.Time `json:"sentAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Payload returns the data handed to the delivery queue for this job.
func (j *EmailJob) Payload() JobPayload {
	return JobPayload{
		ID:        j.ID,
		Recipient: j.Recipient,
		Subject:   j.Subject,
		Body:      j.Body,
		UserID:    j.UserID,
	}
}

// JobPayload is what a delivery worker receives when a job is released.
type JobPayload struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	UserID    string `json:"userId"`
}

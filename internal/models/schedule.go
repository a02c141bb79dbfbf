package models

import "time"

const (
	DefaultDelaySeconds = 2
	DefaultHourlyLimit  = 100
)

// ScheduleRequest is a caller supplied batch. Recipient order is send order.
type ScheduleRequest struct {
	Recipients   []string  `json:"recipients"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	StartTime    time.Time `json:"startTime"`
	DelaySeconds int       `json:"delaySeconds"`
	HourlyLimit  int       `json:"hourlyLimit"`
}

func (r ScheduleRequest) Delay() time.Duration {
	return time.Duration(r.DelaySeconds) * time.Second
}

type ScheduledSend struct {
	Recipient string    `json:"recipient"`
	SendAt    time.Time `json:"sendAt"`
}

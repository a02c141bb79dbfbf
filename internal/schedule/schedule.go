// Package schedule turns a recipient list into absolute send times that
// respect a per-email delay and an hourly cap.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"PaceMail/internal/models"
)

const (
	Window = time.Hour

	// MaxDelaySeconds bounds the spacing between two sends.
	MaxDelaySeconds = 7 * 24 * 60 * 60
	// MaxHorizon bounds how far past the start time a batch may extend.
	MaxHorizon = 366 * 24 * time.Hour
)

var ErrValidation = errors.New("invalid schedule request")

// Compute assigns a send time to every recipient, in input order.
//
// Sends are spaced by delay starting at start. Windows are contiguous hours
// anchored at start; once a window holds hourlyCap sends the cursor jumps to
// the top of the next window. When accumulated delay alone carries the cursor
// past one or more windows, the window start catches up by whole hours.
func Compute(recipients []string, start time.Time, delay time.Duration, hourlyCap int) []models.ScheduledSend {
	if hourlyCap < 1 {
		hourlyCap = 1
	}
	if delay < 0 {
		delay = 0
	}

	out := make([]models.ScheduledSend, 0, len(recipients))

	sendTime := start
	windowStart := start
	count := 0

	for _, r := range recipients {
		if !sendTime.Before(windowStart.Add(Window)) {
			elapsed := sendTime.Sub(windowStart)
			windowStart = windowStart.Add(elapsed.Truncate(Window))
			count = 0
		}

		if count >= hourlyCap {
			windowStart = windowStart.Add(Window)
			sendTime = windowStart
			count = 0
		}

		out = append(out, models.ScheduledSend{
			Recipient: r,
			SendAt:    sendTime,
		})

		sendTime = sendTime.Add(delay)
		count++
	}

	return out
}

// Validate rejects requests that must not reach the scheduler.
func Validate(req models.ScheduleRequest) error {
	if req.StartTime.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrValidation)
	}
	if len(req.Recipients) == 0 {
		return fmt.Errorf("%w: recipient list is empty", ErrValidation)
	}
	for i, r := range req.Recipients {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("%w: recipient %d is blank", ErrValidation, i)
		}
	}
	if req.DelaySeconds < 1 {
		return fmt.Errorf("%w: delaySeconds must be at least 1", ErrValidation)
	}
	if req.DelaySeconds > MaxDelaySeconds {
		return fmt.Errorf("%w: delaySeconds must be at most %d", ErrValidation, MaxDelaySeconds)
	}
	if req.HourlyLimit < 1 {
		return fmt.Errorf("%w: hourlyLimit must be at least 1", ErrValidation)
	}
	if horizon(len(req.Recipients), req.DelaySeconds, req.HourlyLimit) > MaxHorizon {
		return fmt.Errorf("%w: schedule would extend more than %s past the start time", ErrValidation, MaxHorizon)
	}
	return nil
}

// horizon is an upper bound on the offset of the last send from the start:
// every gap is at most one delay, plus one forced jump per full window.
func horizon(n, delaySeconds, hourlyLimit int) time.Duration {
	if n == 0 {
		return 0
	}
	secs := int64(n-1)*int64(delaySeconds) + int64(n/hourlyLimit)*int64(Window/time.Second)
	if secs > int64(MaxHorizon/time.Second) {
		return MaxHorizon + time.Second
	}
	return time.Duration(secs) * time.Second
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"PaceMail/internal/csvparser"
	"PaceMail/internal/models"
	"PaceMail/internal/schedule"
	"PaceMail/internal/scheduler"
)

// UserHeader carries the authenticated user id, set by the auth proxy in front of the API.
const UserHeader = "X-User-ID"

const maxUploadBytes = 10 << 20

type Scheduler interface {
	Schedule(ctx context.Context, userID string, req models.ScheduleRequest) (scheduler.Result, error)
	Scheduled(ctx context.Context, userID string) ([]models.EmailJob, error)
	Sent(ctx context.Context, userID string) ([]models.EmailJob, error)
}

type Handler struct {
	Scheduler  Scheduler
	Log        *zap.Logger
	CSVMaxRows int
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("POST /api/schedule", h.Schedule)
	mux.HandleFunc("GET /api/scheduled-emails", h.ScheduledEmails)
	mux.HandleFunc("GET /api/sent-emails", h.SentEmails)
	mux.HandleFunc("POST /api/parse-csv", h.ParseCSV)
	return mux
}

type scheduleBody struct {
	Recipients []string `json:"recipients"`
	// Emails is accepted as an alias of Recipients.
	Emails       []string `json:"emails"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	StartTime    string   `json:"startTime"`
	DelaySeconds *int     `json:"delaySeconds"`
	HourlyLimit  *int     `json:"hourlyLimit"`
}

var startTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func parseStartTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("startTime is required")
	}
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("startTime must be an ISO-8601 timestamp")
}

func (b scheduleBody) request() (models.ScheduleRequest, error) {
	start, err := parseStartTime(b.StartTime)
	if err != nil {
		return models.ScheduleRequest{}, err
	}

	req := models.ScheduleRequest{
		Recipients:   b.Recipients,
		Subject:      b.Subject,
		Body:         b.Body,
		StartTime:    start,
		DelaySeconds: models.DefaultDelaySeconds,
		HourlyLimit:  models.DefaultHourlyLimit,
	}
	if len(req.Recipients) == 0 {
		req.Recipients = b.Emails
	}
	if b.DelaySeconds != nil {
		req.DelaySeconds = *b.DelaySeconds
	}
	if b.HourlyLimit != nil {
		req.HourlyLimit = *b.HourlyLimit
	}
	return req, nil
}

func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var body scheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req, err := body.request()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.Scheduler.Schedule(r.Context(), userID, req)
	if errors.Is(err, schedule.ErrValidation) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.Log.Error("schedule failed",
			zap.String("user_id", userID),
			zap.Int("scheduled", res.Count),
			zap.Error(err),
		)
		http.Error(w, "failed to schedule emails", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Scheduled successfully",
		"count":   res.Count,
		"ids":     res.IDs,
	})
}

func (h *Handler) ScheduledEmails(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.Scheduler.Scheduled)
}

func (h *Handler) SentEmails(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.Scheduler.Sent)
}

func (h *Handler) list(
	w http.ResponseWriter,
	r *http.Request,
	fetch func(context.Context, string) ([]models.EmailJob, error),
) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	jobs, err := fetch(r.Context(), userID)
	if err != nil {
		h.Log.Error("list emails failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "failed to list emails", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) ParseCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	res, err := csvparser.ParseRecipients(file, h.CSVMaxRows)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if res.Truncated {
		h.Log.Warn("csv upload truncated",
			zap.Int("max_rows", h.maxRows()),
			zap.Int("emails", len(res.Emails)),
		)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(res.Emails),
		"emails":    res.Emails,
		"truncated": res.Truncated,
		"maxRows":   h.maxRows(),
	})
}

func (h *Handler) maxRows() int {
	if h.CSVMaxRows <= 0 {
		return csvparser.DefaultMaxRows
	}
	return h.CSVMaxRows
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

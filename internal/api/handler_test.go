package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"PaceMail/internal/models"
	"PaceMail/internal/schedule"
	"PaceMail/internal/scheduler"
)

type fakeScheduler struct {
	gotUser string
	gotReq  models.ScheduleRequest
	err     error
	jobs    []models.EmailJob
}

func (f *fakeScheduler) Schedule(_ context.Context, userID string, req models.ScheduleRequest) (scheduler.Result, error) {
	f.gotUser = userID
	f.gotReq = req
	if f.err != nil {
		return scheduler.Result{}, f.err
	}
	if err := schedule.Validate(req); err != nil {
		return scheduler.Result{}, err
	}
	ids := make([]string, len(req.Recipients))
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	return scheduler.Result{Count: len(ids), IDs: ids}, nil
}

func (f *fakeScheduler) Scheduled(_ context.Context, userID string) ([]models.EmailJob, error) {
	f.gotUser = userID
	return f.jobs, f.err
}

func (f *fakeScheduler) Sent(_ context.Context, userID string) ([]models.EmailJob, error) {
	f.gotUser = userID
	return f.jobs, f.err
}

func newTestHandler(f *fakeScheduler) http.Handler {
	h := &Handler{Scheduler: f, Log: zap.NewNop(), CSVMaxRows: 100}
	return h.Routes()
}

func do(t *testing.T, srv http.Handler, method, path, user string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestSchedule_AppliesDefaults(t *testing.T) {
	f := &fakeScheduler{}
	srv := newTestHandler(f)

	rec := do(t, srv, http.MethodPost, "/api/schedule", "u1", []byte(`{
		"emails": ["a@x.io", "b@x.io"],
		"subject": "Hi",
		"body": "<p>hello</p>",
		"startTime": "2024-03-10T09:00:00.000Z"
	}`))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "u1", f.gotUser)
	assert.Equal(t, []string{"a@x.io", "b@x.io"}, f.gotReq.Recipients)
	assert.Equal(t, 2, f.gotReq.DelaySeconds)
	assert.Equal(t, 100, f.gotReq.HourlyLimit)
	assert.Equal(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), f.gotReq.StartTime)

	var resp struct {
		Message string   `json:"message"`
		Count   int      `json:"count"`
		IDs     []string `json:"ids"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Scheduled successfully", resp.Message)
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.IDs, 2)
}

func TestSchedule_ExplicitTiming(t *testing.T) {
	f := &fakeScheduler{}
	srv := newTestHandler(f)

	rec := do(t, srv, http.MethodPost, "/api/schedule", "u1", []byte(`{
		"recipients": ["a@x.io"],
		"startTime": "2024-03-10T11:00:00+02:00",
		"delaySeconds": 30,
		"hourlyLimit": 5
	}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, f.gotReq.DelaySeconds)
	assert.Equal(t, 5, f.gotReq.HourlyLimit)
	assert.Equal(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), f.gotReq.StartTime)
}

func TestSchedule_Rejections(t *testing.T) {
	tests := []struct {
		name string
		user string
		body string
		code int
	}{
		{name: "no user", user: "", body: `{}`, code: http.StatusUnauthorized},
		{name: "bad json", user: "u1", body: `{`, code: http.StatusBadRequest},
		{name: "missing start", user: "u1", body: `{"recipients":["a@x.io"]}`, code: http.StatusBadRequest},
		{name: "bad start", user: "u1", body: `{"recipients":["a@x.io"],"startTime":"tomorrow"}`, code: http.StatusBadRequest},
		{name: "no recipients", user: "u1", body: `{"startTime":"2024-03-10T09:00:00Z"}`, code: http.StatusBadRequest},
		{name: "zero delay", user: "u1", body: `{"recipients":["a@x.io"],"startTime":"2024-03-10T09:00:00Z","delaySeconds":0}`, code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestHandler(&fakeScheduler{}), http.MethodPost, "/api/schedule", tt.user, []byte(tt.body))
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestSchedule_BackendErrorIs500(t *testing.T) {
	f := &fakeScheduler{err: errors.New("redis down")}
	rec := do(t, newTestHandler(f), http.MethodPost, "/api/schedule", "u1",
		[]byte(`{"recipients":["a@x.io"],"startTime":"2024-03-10T09:00:00Z"}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis")
}

func TestListEndpoints(t *testing.T) {
	sentAt := time.Date(2024, 3, 10, 9, 5, 0, 0, time.UTC)
	f := &fakeScheduler{jobs: []models.EmailJob{
		{ID: "j1", Recipient: "a@x.io", Status: models.StatusSent, SentAt: &sentAt},
	}}
	srv := newTestHandler(f)

	for _, path := range []string{"/api/scheduled-emails", "/api/sent-emails"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, path, "u9", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "u9", f.gotUser)

			var jobs []models.EmailJob
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobs))
			require.Len(t, jobs, 1)
			assert.Equal(t, "j1", jobs[0].ID)
		})
	}

	rec := do(t, srv, http.MethodGet, "/api/sent-emails", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParseCSV(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "list.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("name,email\nAda,ada@x.io\nBob,bob@x.io\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/parse-csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	newTestHandler(&fakeScheduler{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp csvResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, []string{"ada@x.io", "bob@x.io"}, resp.Emails)
	assert.False(t, resp.Truncated)
	assert.Equal(t, 100, resp.MaxRows)
}

type csvResponse struct {
	Count     int      `json:"count"`
	Emails    []string `json:"emails"`
	Truncated bool     `json:"truncated"`
	MaxRows   int      `json:"maxRows"`
}

func uploadCSV(t *testing.T, srv http.Handler, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "list.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/parse-csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestParseCSV_ReportsTruncation(t *testing.T) {
	h := &Handler{Scheduler: &fakeScheduler{}, Log: zap.NewNop(), CSVMaxRows: 2}

	rec := uploadCSV(t, h.Routes(), "email\na@x.io\nb@x.io\nc@x.io\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp csvResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"a@x.io", "b@x.io"}, resp.Emails)
	assert.True(t, resp.Truncated)
	assert.Equal(t, 2, resp.MaxRows)
}

func TestParseCSV_NoFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/parse-csv", strings.NewReader(""))
	rec := httptest.NewRecorder()
	newTestHandler(&fakeScheduler{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestHandler(&fakeScheduler{}), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"news_sync/internal/domain"
	"news_sync/internal/service"
)

type MockController struct {
	mock.Mock
}

func (m *MockController) StartSync(ctx context.Context, req domain.SyncRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockController) SyncAndWait(ctx context.Context, req domain.SyncRequest) (*domain.SyncJob, error) {
	args := m.Called(ctx, req)
	job, _ := args.Get(0).(*domain.SyncJob)
	return job, args.Error(1)
}

func (m *MockController) Cancel(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockController) Retry(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockController) RetryAndWait(ctx context.Context, id string) (*domain.SyncJob, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*domain.SyncJob)
	return job, args.Error(1)
}

func (m *MockController) Get(ctx context.Context, id string) (*domain.SyncJob, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*domain.SyncJob)
	return job, args.Error(1)
}

func (m *MockController) History(ctx context.Context, filter domain.HistoryFilter) ([]domain.SyncJob, error) {
	args := m.Called(ctx, filter)
	jobs, _ := args.Get(0).([]domain.SyncJob)
	return jobs, args.Error(1)
}

func newTestServer(ctrl Controller) *echo.Echo {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	})
	return NewServer(NewHandler(ctrl, logger, time.Second), metrics, "/metrics", logger)
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSyncNews(t *testing.T) {
	t.Run("waits for the job and returns counters", func(t *testing.T) {
		ctrl := new(MockController)
		want := domain.SyncRequest{Categories: []string{"tech"}, Language: "ENGLISH", Limit: 10}
		ctrl.On("SyncAndWait", mock.Anything, want).Return(&domain.SyncJob{
			ID:          "job-1",
			Status:      domain.JobStatusSuccess,
			TotalSynced: 10,
			NewArticles: 10,
		}, nil)

		rec := do(newTestServer(ctrl), http.MethodPost, "/admin/sync-news",
			`{"categories":["tech"],"language":"ENGLISH","limit":10}`)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, float64(10), body["totalSynced"])
		assert.Equal(t, float64(10), body["newArticles"])
		assert.Equal(t, float64(0), body["duplicates"])
		assert.Nil(t, body["errors"])
		assert.Equal(t, "job-1", body["id"])
		assert.Equal(t, "success", body["status"])
		ctrl.AssertExpectations(t)
	})

	t.Run("partial job returns its errors inline", func(t *testing.T) {
		ctrl := new(MockController)
		ctrl.On("SyncAndWait", mock.Anything, mock.Anything).Return(&domain.SyncJob{
			ID:          "job-2",
			Status:      domain.JobStatusPartial,
			TotalSynced: 3,
			NewArticles: 3,
			Errors:      []string{"a", "b"},
		}, nil)

		rec := do(newTestServer(ctrl), http.MethodPost, "/admin/sync-news",
			`{"categories":["tech"],"language":"ENGLISH"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []interface{}{"a", "b"}, decode(t, rec)["errors"])
	})

	t.Run("async returns the job handle", func(t *testing.T) {
		ctrl := new(MockController)
		ctrl.On("StartSync", mock.Anything, mock.Anything).Return("job-3", nil)

		rec := do(newTestServer(ctrl), http.MethodPost, "/admin/sync-news?async=true",
			`{"categories":["tech"],"language":"ENGLISH"}`)

		require.Equal(t, http.StatusAccepted, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "job-3", body["id"])
		assert.Equal(t, "pending", body["status"])
		ctrl.AssertNotCalled(t, "SyncAndWait", mock.Anything, mock.Anything)
	})

	t.Run("explicit zero limit is rejected", func(t *testing.T) {
		ctrl := new(MockController)
		rec := do(newTestServer(ctrl), http.MethodPost, "/admin/sync-news",
			`{"categories":["tech"],"language":"ENGLISH","limit":0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		ctrl.AssertNotCalled(t, "SyncAndWait", mock.Anything, mock.Anything)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(newTestServer(new(MockController)), http.MethodPost, "/admin/sync-news", `{"categories":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation errors map to 400", func(t *testing.T) {
		ctrl := new(MockController)
		ctrl.On("SyncAndWait", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: categories must not be empty", domain.ErrInvalidRequest))

		rec := do(newTestServer(ctrl), http.MethodPost, "/admin/sync-news", `{"language":"ENGLISH"}`)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode(t, rec)["message"], "categories must not be empty")
	})

	t.Run("shutdown maps to 503", func(t *testing.T) {
		ctrl := new(MockController)
		ctrl.On("SyncAndWait", mock.Anything, mock.Anything).Return(nil, service.ErrShuttingDown)

		rec := do(newTestServer(ctrl), http.MethodPost, "/admin/sync-news",
			`{"categories":["tech"],"language":"ENGLISH"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestSyncHistory(t *testing.T) {
	finished := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	created := finished.Add(-time.Minute)

	ctrl := new(MockController)
	ctrl.On("History", mock.Anything, domain.HistoryFilter{Status: "cancelled", Language: "english", Limit: 5, Offset: 10}).
		Return([]domain.SyncJob{
			{
				ID:          "c1",
				Request:     domain.SyncRequest{Categories: []string{"tech"}, Language: domain.LanguageEnglish},
				Status:      domain.JobStatusCancelled,
				CreatedAt:   created,
				FinishedAt:  &finished,
				TotalSynced: 4,
			},
			{
				ID:        "c2",
				Request:   domain.SyncRequest{Language: domain.LanguageEnglish},
				Status:    domain.JobStatusCancelled,
				CreatedAt: created,
			},
		}, nil)

	rec := do(newTestServer(ctrl), http.MethodGet,
		"/admin/sync-history?status=cancelled&language=english&limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []historyItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)

	assert.Equal(t, "partial", body.Data[0].Status)
	assert.Equal(t, "cancelled", body.Data[0].State)
	assert.True(t, body.Data[0].SyncedAt.Equal(finished))
	assert.Equal(t, []string{"tech"}, body.Data[0].Categories)
	assert.Equal(t, "ENGLISH", body.Data[0].Language)

	assert.Equal(t, "failed", body.Data[1].Status)
	assert.True(t, body.Data[1].SyncedAt.Equal(created))
	assert.Equal(t, []string{}, body.Data[1].Categories)
}

func TestSyncHistory_Empty(t *testing.T) {
	ctrl := new(MockController)
	ctrl.On("History", mock.Anything, domain.HistoryFilter{}).Return([]domain.SyncJob{}, nil)

	rec := do(newTestServer(ctrl), http.MethodGet, "/admin/sync-history", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestSyncHistory_BadQuery(t *testing.T) {
	rec := do(newTestServer(new(MockController)), http.MethodGet, "/admin/sync-history?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryStatus(t *testing.T) {
	tests := []struct {
		status domain.JobStatus
		total  int
		want   string
	}{
		{domain.JobStatusSuccess, 3, "success"},
		{domain.JobStatusPartial, 3, "partial"},
		{domain.JobStatusFailed, 0, "failed"},
		{domain.JobStatusCancelled, 2, "partial"},
		{domain.JobStatusCancelled, 0, "failed"},
		{domain.JobStatusRunning, 0, "partial"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.status, tt.total), func(t *testing.T) {
			assert.Equal(t, tt.want, historyStatus(domain.SyncJob{Status: tt.status, TotalSynced: tt.total}))
		})
	}
}

func TestCancelJob(t *testing.T) {
	ctrl := new(MockController)
	ctrl.On("Cancel", mock.Anything, "job-1").Return(nil)
	ctrl.On("Cancel", mock.Anything, "missing").Return(fmt.Errorf("job missing: %w", domain.ErrNotFound))
	e := newTestServer(ctrl)

	rec := do(e, http.MethodPost, "/admin/sync/job-1/cancel", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(e, http.MethodPost, "/admin/sync/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryJob(t *testing.T) {
	ctrl := new(MockController)
	ctrl.On("RetryAndWait", mock.Anything, "failed-job").Return(&domain.SyncJob{
		ID:          "new-job",
		Status:      domain.JobStatusSuccess,
		RetryOf:     "failed-job",
		TotalSynced: 2,
		Duplicates:  2,
	}, nil)
	ctrl.On("RetryAndWait", mock.Anything, "running-job").
		Return(nil, fmt.Errorf("job running-job is running: %w", domain.ErrInvalidState))
	ctrl.On("Retry", mock.Anything, "failed-job").Return("async-job", nil)
	e := newTestServer(ctrl)

	rec := do(e, http.MethodPost, "/admin/sync/failed-job/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "new-job", body["id"])
	assert.Equal(t, float64(2), body["duplicates"])

	rec = do(e, http.MethodPost, "/admin/sync/running-job/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(e, http.MethodPost, "/admin/sync/failed-job/retry?async=true", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "async-job", decode(t, rec)["id"])
}

func TestGetJob(t *testing.T) {
	ctrl := new(MockController)
	ctrl.On("Get", mock.Anything, "job-1").Return(&domain.SyncJob{
		ID:      "job-1",
		Status:  domain.JobStatusRunning,
		Request: domain.SyncRequest{Categories: []string{"tech"}, Language: domain.LanguageEnglish, Limit: 5},
	}, nil)
	ctrl.On("Get", mock.Anything, "boom").Return(nil, errors.New("connection reset"))
	e := newTestServer(ctrl)

	rec := do(e, http.MethodGet, "/admin/sync/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Nil(t, body["finishedAt"])

	rec = do(e, http.MethodGet, "/admin/sync/boom", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestServer(new(MockController))

	rec := do(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestMapError(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, mapError(context.DeadlineExceeded).Code)
	assert.Equal(t, http.StatusInternalServerError, mapError(domain.ErrStorageFailure).Code)
}

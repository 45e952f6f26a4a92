package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, authorize AuthorizeFunc) (*mux.Router, *FileLog) {
	t.Helper()
	log := newTestFileLog(t, FileLogConfig{})
	if authorize == nil {
		authorize = func(*http.Request, string) error { return nil }
	}
	router := mux.NewRouter()
	NewHandlers(log, authorize).RegisterRoutes(router)
	return router, log
}

func TestHandleQueryReturnsEvents(t *testing.T) {
	router, log := newTestRouter(t, nil)
	ctx := context.Background()

	require.NoError(t, log.Log(ctx, &Event{ID: "ev-1", UserID: "u1", Action: ActionRead, Severity: SeverityInfo}))
	require.NoError(t, log.Log(ctx, &Event{ID: "ev-2", UserID: "u2", Action: ActionWrite, Severity: SeverityWarning}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/events?user_id=u1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []*Event `json:"events"`
		Count  int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "ev-1", body.Events[0].ID)
}

func TestHandleQueryForbidden(t *testing.T) {
	router, _ := newTestRouter(t, func(*http.Request, string) error {
		return errors.New("nope")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/events", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleQueryBadTimeRange(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/events?start=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSummary(t *testing.T) {
	router, log := newTestRouter(t, nil)
	ctx := context.Background()

	require.NoError(t, log.Log(ctx, &Event{UserID: "u1", Action: ActionRead, Severity: SeverityInfo, Success: true}))
	require.NoError(t, log.Log(ctx, &Event{UserID: "u1", Action: ActionAccessDenied, Severity: SeverityCritical}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/summary", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var summary Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.FailedCount)
}

func TestHandleExportFormats(t *testing.T) {
	router, log := newTestRouter(t, nil)
	require.NoError(t, log.Log(context.Background(), &Event{
		ID: "ev-1", Timestamp: time.Now().UTC(), Action: ActionRead, Severity: SeverityInfo,
	}))

	tests := []struct {
		query       string
		contentType string
	}{
		{"", "application/json"},
		{"?format=csv", "text/csv"},
		{"?format=ndjson", "application/x-ndjson"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export"+tt.query, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
	}
}

func TestHandleExportRequiresExportPermission(t *testing.T) {
	var asked []string
	router, _ := newTestRouter(t, func(_ *http.Request, permission string) error {
		asked = append(asked, permission)
		return errors.New("denied")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, []string{"audit_export"}, asked)
}

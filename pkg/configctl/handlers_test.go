package configctl

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/confgate/pkg/observability"
)

func newHandlerFixture(t *testing.T) (*serviceFixture, *mux.Router) {
	t.Helper()
	fx := newServiceFixture(t, "development")
	router := mux.NewRouter()
	router.Use(RequestLogging(observability.NewLogger(observability.ErrorLevel, io.Discard)))
	NewHandlers(fx.service, HeaderIdentity).RegisterRoutes(router)
	return fx, router
}

func doRequest(router *mux.Router, method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

var (
	viewerHeaders = map[string]string{"X-Confgate-User": "viewer-1"}
	adminHeaders  = map[string]string{"X-Confgate-User": "admin-1", "X-Confgate-Admin": "true"}
	superHeaders  = map[string]string{"X-Confgate-User": "root-1", "X-Confgate-Super-Admin": "true"}
)

func TestHandlersRequireIdentity(t *testing.T) {
	_, router := newHandlerFixture(t)

	rec := doRequest(router, http.MethodGet, "/config", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestLoggingStampsRequestID(t *testing.T) {
	fx, router := newHandlerFixture(t)

	rec := doRequest(router, http.MethodGet, "/config/app_name", "", viewerHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	headers := map[string]string{"X-Confgate-User": "viewer-1", "X-Request-Id": "req-42"}
	rec = doRequest(router, http.MethodGet, "/config/app_name", "", headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))

	events := fx.sink.all()
	require.NotEmpty(t, events)
	assert.Equal(t, "req-42", events[len(events)-1].RequestID)
}

func TestHandleReadField(t *testing.T) {
	_, router := newHandlerFixture(t)

	rec := doRequest(router, http.MethodGet, "/config/app_name", "", viewerHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "app_name", body["field"])
	assert.Equal(t, "confgate", body["value"])

	rec = doRequest(router, http.MethodGet, "/config/no_such_field", "", adminHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReadDeniedIsForbidden(t *testing.T) {
	_, router := newHandlerFixture(t)

	rec := doRequest(router, http.MethodGet, "/config/jwt_secret", "", viewerHeaders)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleWriteField(t *testing.T) {
	fx, router := newHandlerFixture(t)

	rec := doRequest(router, http.MethodPut, "/config/log_level", `{"value":"debug"}`, adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	value, err := fx.settings.Get("log_level")
	require.NoError(t, err)
	assert.Equal(t, "debug", value)

	// Validator rejection surfaces as 422.
	rec = doRequest(router, http.MethodPut, "/config/log_level", `{"value":42}`, adminHeaders)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(router, http.MethodPut, "/config/log_level", `not json`, adminHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReadAllAndExport(t *testing.T) {
	_, router := newHandlerFixture(t)

	rec := doRequest(router, http.MethodGet, "/config", "", viewerHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.NotEmpty(t, entries)

	rec = doRequest(router, http.MethodGet, "/config/export", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))

	masked := false
	for _, e := range entries {
		if e["name"] == "jwt_secret" {
			assert.Equal(t, "ol...ue", e["value"])
			masked = true
		}
	}
	assert.True(t, masked)

	// Export without the global permission is forbidden.
	rec = doRequest(router, http.MethodGet, "/config/export", "", viewerHeaders)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleValidate(t *testing.T) {
	_, router := newHandlerFixture(t)

	rec := doRequest(router, http.MethodPost, "/config/validate", `{"log_level":42}`, adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var result ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "log_level")
}

func TestHandleAccessSummary(t *testing.T) {
	_, router := newHandlerFixture(t)

	rec := doRequest(router, http.MethodGet, "/config/access", "", viewerHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "viewer-1", summary["user_id"])
}

func TestHandleRotationEndpoints(t *testing.T) {
	_, router := newHandlerFixture(t)

	// Admin lacks the rotate global permission.
	rec := doRequest(router, http.MethodPost, "/secrets/jwt_secret/rotate", `{"value":"fresh"}`, adminHeaders)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Missing body value.
	rec = doRequest(router, http.MethodPost, "/secrets/jwt_secret/rotate", `{}`, superHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// First-time rotation completes immediately.
	rec = doRequest(router, http.MethodPost, "/secrets/jwt_secret/rotate", `{"value":"first"}`, superHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "completed", status["state"])

	// Second rotation enters the grace period, visible via status.
	rec = doRequest(router, http.MethodPost, "/secrets/jwt_secret/rotate", `{"value":"second"}`, superHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/secrets/jwt_secret/rotation", "", superHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "grace_period", status["state"])

	// Status endpoint is admin-only.
	rec = doRequest(router, http.MethodGet, "/secrets/jwt_secret/rotation", "", viewerHeaders)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(router, http.MethodPost, "/secrets/jwt_secret/rotation/cancel", "", superHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "rolled_back", status["state"])
}

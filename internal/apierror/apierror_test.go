package apierror

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-capture/internal/observability"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestResponderMapsKindsToStatus(t *testing.T) {
	responder := NewResponder(observability.NewLoggerTo(&bytes.Buffer{}), true)

	cases := []struct {
		err    error
		status int
		code   Kind
	}{
		{Validation("invalid input", map[string]string{"name": "required"}), http.StatusBadRequest, KindValidation},
		{Authentication("invalid or expired token"), http.StatusUnauthorized, KindAuthentication},
		{Authorization("insufficient role"), http.StatusForbidden, KindAuthorization},
		{CSRF("invalid csrf token"), http.StatusForbidden, KindCSRF},
		{NotFound("lead not found"), http.StatusNotFound, KindNotFound},
		{RateLimited(1500 * time.Millisecond), http.StatusTooManyRequests, KindRateLimited},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		responder.Error(rec, req, tc.err)

		assert.Equal(t, tc.status, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, string(tc.code), out["code"])
	}
}

func TestResponderRateLimitedSetsRetryAfter(t *testing.T) {
	responder := NewResponder(nil, true)
	rec := httptest.NewRecorder()
	responder.Error(rec, httptest.NewRequest(http.MethodPost, "/leads", nil), RateLimited(1500*time.Millisecond))

	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	out := decode(t, rec)
	assert.EqualValues(t, 2, out["retryAfter"])
}

func TestResponderRedactsInternalErrorsInProduction(t *testing.T) {
	var logs bytes.Buffer
	responder := NewResponder(observability.NewLoggerTo(&logs), true)
	rec := httptest.NewRecorder()
	responder.Error(rec, httptest.NewRequest(http.MethodGet, "/admin/leads", nil), errors.New("pq: relation does not exist"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "internal server error", out["error"])
	assert.Contains(t, logs.String(), "pq: relation does not exist")
	assert.Contains(t, logs.String(), "/admin/leads")
}

func TestResponderShowsInternalDetailInDevelopment(t *testing.T) {
	responder := NewResponder(observability.NewLoggerTo(&bytes.Buffer{}), false)
	rec := httptest.NewRecorder()
	responder.Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom"))

	out := decode(t, rec)
	assert.Equal(t, "boom", out["error"])
}

func TestWrappedErrorKeepsKind(t *testing.T) {
	err := errors.Join(errors.New("context"), NotFound("lead not found"))
	rec := httptest.NewRecorder()
	NewResponder(nil, true).Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), err)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryAfterSecondsFloor(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 60, RetryAfterSeconds(time.Minute))
}

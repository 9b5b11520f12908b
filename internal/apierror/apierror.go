// Package apierror is the error taxonomy shared by every handler and
// middleware. Each kind maps to one HTTP status and one stable code so that
// clients can tell a CSRF rejection from an authorization failure.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"lead-capture/internal/observability"
)

type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindAuthentication Kind = "AUTHENTICATION_REQUIRED"
	KindAuthorization  Kind = "FORBIDDEN"
	KindCSRF           Kind = "CSRF_INVALID"
	KindRateLimited    Kind = "RATE_LIMITED"
	KindNotFound       Kind = "NOT_FOUND"
	KindInternal       Kind = "INTERNAL_ERROR"
)

type Error struct {
	Kind       Kind
	Status     int
	Message    string
	Fields     map[string]string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: message, Fields: fields}
}

func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Status: http.StatusUnauthorized, Message: message}
}

func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Status: http.StatusForbidden, Message: message}
}

func CSRF(message string) *Error {
	return &Error{Kind: KindCSRF, Status: http.StatusForbidden, Message: message}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Status: http.StatusTooManyRequests, Message: "too many requests", RetryAfter: retryAfter}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: message}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: "internal server error", Err: err}
}

// RetryAfterSeconds rounds up and never returns less than one second, so a
// client told to wait always waits.
func RetryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

type body struct {
	Error      string            `json:"error"`
	Code       Kind              `json:"code"`
	Fields     map[string]string `json:"fields,omitempty"`
	RetryAfter int               `json:"retryAfter,omitempty"`
}

// Responder writes JSON responses and translates errors at the route boundary.
type Responder struct {
	logger     *observability.Logger
	production bool
}

func NewResponder(logger *observability.Logger, production bool) *Responder {
	return &Responder{logger: logger, production: production}
}

func (p *Responder) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (p *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal(err)
	}

	out := body{Error: apiErr.Message, Code: apiErr.Kind, Fields: apiErr.Fields}

	switch apiErr.Kind {
	case KindRateLimited:
		seconds := RetryAfterSeconds(apiErr.RetryAfter)
		out.RetryAfter = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	case KindInternal:
		p.logInternal(r, apiErr)
		if !p.production && apiErr.Err != nil {
			out.Error = apiErr.Err.Error()
		}
	}

	p.JSON(w, apiErr.Status, out)
}

func (p *Responder) logInternal(r *http.Request, apiErr *Error) {
	fields := map[string]any{}
	if apiErr.Err != nil {
		fields["error"] = apiErr.Err.Error()
	}
	if r != nil {
		fields["method"] = r.Method
		fields["path"] = r.URL.Path
	}
	p.logger.Error("internal_error", fields)
	observability.CaptureRequestError(r, apiErr.Err)
}

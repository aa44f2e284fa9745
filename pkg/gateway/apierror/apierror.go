package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots"
)

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrUnavailable    ErrorType = "unavailable_error"
)

type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

type Envelope struct {
	Error *Error `json:"error"`
}

// CapacityRetryAfter is the Retry-After hint (seconds) for a full room.
const CapacityRetryAfter = 5

func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Already canonical.
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, statusFromType(apiErr.Type)
	}

	if errors.Is(err, bots.ErrCapacityExceeded) {
		retry := CapacityRetryAfter
		return &Error{
			Type:       ErrRateLimit,
			Message:    "room already has the maximum number of active bots",
			Code:       "capacity_exceeded",
			RequestID:  requestID,
			RetryAfter: &retry,
		}, http.StatusTooManyRequests
	}
	if errors.Is(err, bots.ErrWorkerNotFound) {
		return &Error{
			Type:      ErrNotFound,
			Message:   "bot not found",
			Code:      "worker_not_found",
			RequestID: requestID,
		}, http.StatusNotFound
	}
	if errors.Is(err, bots.ErrDraining) {
		return &Error{
			Type:      ErrOverloaded,
			Message:   "server is shutting down",
			Code:      "draining",
			RequestID: requestID,
		}, http.StatusServiceUnavailable
	}

	var provErr *bots.ProvisioningError
	if errors.As(err, &provErr) && provErr != nil {
		return &Error{
			Type:      ErrAPI,
			Message:   fmt.Sprintf("failed to provision %s", provErr.Stage),
			Code:      "provisioning_" + string(provErr.Stage) + "_failed",
			RequestID: requestID,
		}, http.StatusInternalServerError
	}

	var launchErr *bots.LaunchError
	if errors.As(err, &launchErr) && launchErr != nil {
		return &Error{
			Type:      ErrAPI,
			Message:   "failed to start bot",
			Code:      "launch_failed",
			RequestID: requestID,
		}, http.StatusInternalServerError
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &Error{
		Type:      ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrOverloaded, ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Write encodes the envelope and sets Retry-After when the error carries one.
func Write(w http.ResponseWriter, status int, e *Error) {
	if e != nil && e.RetryAfter != nil && *e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(*e.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: e})
}

// WriteError maps err and writes it.
func WriteError(w http.ResponseWriter, requestID string, err error) {
	e, status := FromError(err, requestID)
	Write(w, status, e)
}

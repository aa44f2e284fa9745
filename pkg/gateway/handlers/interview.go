package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-rooms/pkg/gateway/apierror"
	"github.com/vango-go/vai-rooms/pkg/gateway/interview"
)

// InterviewService is implemented by *interview.Service.
type InterviewService interface {
	Chat(ctx context.Context, req interview.Request) (string, error)
	Feedback(ctx context.Context, req interview.Request) (string, error)
}

type InterviewMode int

const (
	InterviewChat InterviewMode = iota
	InterviewFeedback
)

// InterviewHandler serves POST /chat and POST /feedback.
type InterviewHandler struct {
	Service InterviewService
	Mode    InterviewMode
	Logger  *slog.Logger
}

type interviewResponse struct {
	Content string `json:"content"`
}

func (h InterviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req interview.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIError(w, r, http.StatusRequestEntityTooLarge, &apierror.Error{
				Type:    apierror.ErrInvalidRequest,
				Message: "request body too large",
			})
			return
		}
		writeAPIError(w, r, http.StatusBadRequest, &apierror.Error{
			Type:    apierror.ErrInvalidRequest,
			Message: "request body must be a JSON object with resume and messages",
		})
		return
	}

	var (
		content string
		err     error
	)
	switch h.Mode {
	case InterviewFeedback:
		content, err = h.Service.Feedback(r.Context(), req)
	default:
		content, err = h.Service.Chat(r.Context(), req)
	}
	if err != nil {
		h.writeInterviewErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interviewResponse{Content: content})
}

func (h InterviewHandler) writeInterviewErr(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *interview.InvalidMessageError
	switch {
	case errors.Is(err, interview.ErrNotConfigured):
		writeAPIError(w, r, http.StatusServiceUnavailable, &apierror.Error{
			Type:    apierror.ErrUnavailable,
			Message: "interview model is not configured",
			Code:    "interview_disabled",
		})
	case errors.Is(err, interview.ErrEmptyResume):
		writeAPIError(w, r, http.StatusBadRequest, &apierror.Error{
			Type:    apierror.ErrInvalidRequest,
			Message: "resume is required",
			Param:   "resume",
		})
	case errors.As(err, &invalid):
		writeAPIError(w, r, http.StatusBadRequest, &apierror.Error{
			Type:    apierror.ErrInvalidRequest,
			Message: invalid.Reason,
			Param:   "messages",
		})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeErr(w, r, err)
	default:
		if h.Logger != nil {
			h.Logger.Error("interview completion failed", "path", r.URL.Path, "error", err)
		}
		writeAPIError(w, r, http.StatusBadGateway, &apierror.Error{
			Type:    apierror.ErrAPI,
			Message: "language model request failed",
			Code:    "upstream_error",
		})
	}
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-rooms/pkg/gateway/apierror"
	"github.com/vango-go/vai-rooms/pkg/gateway/mw"
)

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.WriteError(w, reqID, err)
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, e *apierror.Error) {
	if e != nil && e.RequestID == "" {
		e.RequestID, _ = mw.RequestIDFrom(r.Context())
	}
	apierror.Write(w, status, e)
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeAPIError(w, r, http.StatusMethodNotAllowed, &apierror.Error{
		Type:    apierror.ErrInvalidRequest,
		Message: "method not allowed",
		Code:    "method_not_allowed",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

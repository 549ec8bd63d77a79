package errors

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	ClientError(w, r, http.StatusBadRequest, err, clientMessage)
}

// ClientError logs a rejected request at warn level and sends the client
// message with status.
func ClientError(w http.ResponseWriter, r *http.Request, status int, err error, clientMessage string) {
	slog.WarnContext(r.Context(), "request rejected",
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	http.Error(w, clientMessage, status)
}

func LogError(r *http.Request, message string, err error) {
	slog.ErrorContext(r.Context(), message,
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
}

func LogInfo(r *http.Request, message string) {
	slog.InfoContext(r.Context(), message, "request_id", middleware.GetReqID(r.Context()))
}

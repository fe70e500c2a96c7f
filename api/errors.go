package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"insightpdf/pdfprocessor"
	"insightpdf/pipeline"
	"insightpdf/tasks"
	"insightpdf/vision"
)

// Machine-readable error codes.
const (
	CodeBadRequest      = "bad_request"
	CodeInvalidParam    = "invalid_parameter"
	CodeMissingFile     = "missing_file"
	CodeFileTooLarge    = "file_too_large"
	CodeUnknownProvider = "unknown_provider"
	CodeNotFound        = "not_found"
	CodeWrongKind       = "wrong_task_kind"
	CodeNotReady        = "not_ready"
	CodeUploadNotReady  = "upload_not_ready"
	CodeTaskBusy        = "task_busy"
	CodeAlreadyFinished = "already_finished"
	CodeQueueFull       = "queue_full"
	CodeQueueClosed     = "queue_closed"
	CodeInternal        = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Status  string `json:"status,omitempty"` // current task status for not_ready
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
	})
}

// writeErr maps a domain error to its HTTP status and code. Unknown errors
// are logged and reported as 500 without their details.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, code, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	if verr, ok := pdfprocessor.AsValidationError(err); ok {
		if verr.Reason == pdfprocessor.ReasonOversize {
			return http.StatusRequestEntityTooLarge, CodeFileTooLarge
		}
		return http.StatusBadRequest, verr.Reason
	}

	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, tasks.ErrWrongKind):
		return http.StatusBadRequest, CodeWrongKind
	case errors.Is(err, tasks.ErrInvalidTask):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, vision.ErrUnknownProvider), errors.Is(err, vision.ErrProviderNotConfigured):
		return http.StatusBadRequest, CodeUnknownProvider
	case errors.Is(err, pipeline.ErrUploadNotReady):
		return http.StatusConflict, CodeUploadNotReady
	case errors.Is(err, pipeline.ErrInvalidSelection), errors.Is(err, pipeline.ErrNoImages):
		return http.StatusBadRequest, CodeInvalidParam
	case errors.Is(err, pipeline.ErrTaskBusy):
		return http.StatusConflict, CodeTaskBusy
	case errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusServiceUnavailable, CodeQueueFull
	case errors.Is(err, pipeline.ErrQueueClosed):
		return http.StatusServiceUnavailable, CodeQueueClosed
	}
	return http.StatusInternalServerError, CodeInternal
}

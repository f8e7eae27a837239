package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/validation"
)

// ErrorResponse is the body of 4xx and 5xx replies that are not validation failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vstore.ErrSessionNotFound),
		errors.Is(err, vstore.ErrObjectNotFound),
		errors.Is(err, vstore.ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, vstore.ErrMemoryLimited),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, vstore.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, vstore.ErrInvalidUploadRequest),
		errors.Is(err, vstore.ErrEmptyUpload),
		errors.Is(err, vstore.ErrMultipleFiles),
		errors.Is(err, vstore.ErrNonFileSection),
		errors.Is(err, vstore.ErrInvalidPreviewRequest),
		errors.Is(err, vstore.ErrInvalidTemplate),
		errors.Is(err, vstore.ErrInvalidObject),
		errors.Is(err, vstore.ErrLanguageNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, vstore.ErrSessionCannotBeCreated),
		errors.Is(err, vstore.ErrInvalidTemplateCode),
		errors.Is(err, vstore.ErrUploadClosed),
		errors.Is(err, vstore.ErrImageDecode):
		return http.StatusUnprocessableEntity
	}
	var verr validation.Error
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// validationBody builds the {errors, elements} body of a 422 reply, or nil when err
// carries no validation details.
func validationBody(err error, templateCode int) *validation.InvalidObjectError {
	var objErr *validation.InvalidObjectError
	if errors.As(err, &objErr) {
		return objErr
	}
	var elemErr *validation.ElementError
	if errors.As(err, &elemErr) {
		return &validation.InvalidObjectError{Elements: []*validation.ElementError{elemErr}}
	}
	var verr validation.Error
	if errors.As(err, &verr) {
		return &validation.InvalidObjectError{Elements: []*validation.ElementError{validation.NewElementError(templateCode, verr)}}
	}
	if errors.Is(err, vstore.ErrImageDecode) {
		return &validation.InvalidObjectError{Elements: []*validation.ElementError{
			validation.NewElementError(templateCode, &validation.InvalidImageError{}),
		}}
	}
	return nil
}

// writeError replies with the status mapped from err. templateCode attributes bare
// validation errors to an element and is zero when there is none.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, templateCode int) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	case http.StatusTooManyRequests:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(h.retryAfter)))
		h.logger.WarnContext(r.Context(), "request throttled", "path", r.URL.Path, "err", err)
	default:
		h.logger.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "err", err)
	}

	render.Status(r, status)
	if status == http.StatusUnprocessableEntity {
		if body := validationBody(err, templateCode); body != nil {
			render.JSON(w, r, body)
			return
		}
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	render.JSON(w, r, ErrorResponse{Error: msg})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

// retryAfterSeconds rounds d up to whole seconds, never below 1.
func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/transfa/wallet-service/internal/domain"
)

// statusForError maps a domain error kind onto an HTTP status. Errors without a kind are 500.
func statusForError(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindInvalidState, domain.KindInsufficientFunds, domain.KindDuplicatePendingRequest, domain.KindConflict:
		return http.StatusConflict
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err with its mapped status. Internal failures are logged and
// replaced with a generic message.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := statusForError(err)
	code := string(domain.KindOf(err))
	message := domain.MessageOf(err)

	entry := h.log.WithError(err).WithField("endpoint", endpoint)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
		if status == http.StatusInternalServerError {
			code = "internal"
			message = "Internal server error"
		}
	} else {
		entry.WithField("status", status).Debug("request refused")
	}

	var rateErr *domain.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
	}
	writeError(w, status, code, message)
}

package web

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"academy/internal/adapters/storage"
	"academy/internal/application/orchestrators"
	"academy/internal/application/projections"
	"academy/internal/domain/account"
	"academy/internal/domain/course"
	"academy/internal/domain/drip"
	"academy/internal/domain/outbox"
	"academy/internal/domain/verification"
	"academy/internal/domain/video"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response_encode_failed", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// internalError logs the error and returns a generic 500 response.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeValid decodes and validates a request body, writing a 400 when either fails.
func decodeValid(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := strictDecode(r, v); err != nil {
		if errors.Is(err, io.EOF) {
			writeMessage(w, http.StatusBadRequest, "request body is empty")
		} else {
			writeMessage(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		}
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": fieldErrors(verrs),
			})
			return false
		}
		internalError(w, err)
		return false
	}
	return true
}

// clientErrors maps domain errors onto response statuses; the message shown is err.Error().
var clientErrors = []struct {
	err    error
	status int
}{
	{sql.ErrNoRows, http.StatusNotFound},
	{orchestrators.ErrLessonNotInCourse, http.StatusNotFound},
	{orchestrators.ErrChapterNotInCourse, http.StatusNotFound},

	{orchestrators.ErrInvalidCredentials, http.StatusUnauthorized},
	{orchestrators.ErrNoCourseAccess, http.StatusForbidden},
	{projections.ErrNoClassroomAccess, http.StatusForbidden},
	{orchestrators.ErrNotMember, http.StatusForbidden},

	{orchestrators.ErrAccountLocked, http.StatusTooManyRequests},
	{verification.ErrRateLimited, http.StatusTooManyRequests},
	{verification.ErrLocked, http.StatusTooManyRequests},

	{drip.ErrAlreadySubscribed, http.StatusConflict},
	{drip.ErrAlreadyUnsubscribed, http.StatusConflict},
	{drip.ErrInvalidTransition, http.StatusConflict},
	{orchestrators.ErrEmailAlreadyExists, http.StatusConflict},
	{storage.ErrConflict, http.StatusConflict},
	{outbox.ErrInvalidStatus, http.StatusConflict},
	{course.ErrDeleted, http.StatusConflict},

	{verification.ErrNoCode, http.StatusUnprocessableEntity},
	{verification.ErrExpired, http.StatusUnprocessableEntity},
	{verification.ErrMismatch, http.StatusUnprocessableEntity},
	{verification.ErrEmptyEmail, http.StatusUnprocessableEntity},
	{orchestrators.ErrTermsRequired, http.StatusUnprocessableEntity},
	{orchestrators.ErrReorderMismatch, http.StatusUnprocessableEntity},
	{orchestrators.ErrCurrentPasswordWrong, http.StatusUnprocessableEntity},
	{orchestrators.ErrNewPasswordSame, http.StatusUnprocessableEntity},
	{account.ErrPasswordTooShort, http.StatusUnprocessableEntity},
	{account.ErrInvalidEmail, http.StatusUnprocessableEntity},
	{drip.ErrNotDripCourse, http.StatusUnprocessableEntity},
	{drip.ErrSelfConversion, http.StatusUnprocessableEntity},
	{video.ErrUnsupportedURL, http.StatusUnprocessableEntity},
	{course.ErrEmptyName, http.StatusUnprocessableEntity},
	{course.ErrEmptyTitle, http.StatusUnprocessableEntity},
	{course.ErrNegativePrice, http.StatusUnprocessableEntity},
	{course.ErrInvalidStatus, http.StatusUnprocessableEntity},
	{course.ErrInvalidCourseType, http.StatusUnprocessableEntity},
	{course.ErrDripIntervalRequired, http.StatusUnprocessableEntity},
	{course.ErrDripIntervalOnly, http.StatusUnprocessableEntity},
}

// writeError maps known domain errors to client responses and everything else to a 500.
func writeError(w http.ResponseWriter, err error) {
	var wait *verification.WaitError
	if errors.As(err, &wait) {
		w.Header().Set("Retry-After", strconv.Itoa(int(wait.Wait.Seconds())+1))
	}
	for _, ce := range clientErrors {
		if errors.Is(err, ce.err) {
			msg := err.Error()
			if ce.status == http.StatusNotFound && errors.Is(err, sql.ErrNoRows) {
				msg = "not found"
			}
			writeMessage(w, ce.status, msg)
			return
		}
	}
	internalError(w, err)
}

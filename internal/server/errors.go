package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/leaguetracker/internal/audit/domain"
	registrationdomain "github.com/smallbiznis/leaguetracker/internal/registration/domain"
	trackerdomain "github.com/smallbiznis/leaguetracker/internal/tracker/domain"
	trackerurl "github.com/smallbiznis/leaguetracker/internal/trackerurl/domain"
	"github.com/smallbiznis/leaguetracker/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var conflict *registrationdomain.ConflictError
	if errors.As(err, &conflict) {
		code := "conflict"
		if reason, ok := trackerurl.ReasonOf(err); ok {
			code = string(reason)
		}
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflict.Message,
			Errors: []ValidationError{{
				Field:   conflict.Field,
				Code:    code,
				Message: conflict.Message,
			}},
		}
	}

	var urlErr *trackerurl.ValidationError
	if errors.As(err, &urlErr) {
		status, errType := http.StatusBadRequest, "validation_error"
		if urlErr.Reason == trackerurl.ReasonNotUnique {
			status, errType = http.StatusConflict, "conflict"
		}
		return status, errorPayload{
			Type:    errType,
			Message: urlErr.Message,
			Errors: []ValidationError{{
				Field:   urlErrorField(urlErr.Reason),
				Code:    string(urlErr.Reason),
				Message: urlErr.Message,
			}},
		}
	}

	var stateErr *registrationdomain.InvalidStateError
	if errors.As(err, &stateErr) {
		return http.StatusConflict, errorPayload{
			Type:    "invalid_state",
			Message: "registration is " + strings.ToLower(string(stateErr.Current)),
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden), errors.Is(err, registrationdomain.ErrSelfReview):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, registrationdomain.ErrMalformedRegistration):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "malformed_registration",
			Message: "registration is missing platform or username",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, registrationdomain.ErrRegistrationFailed):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "failed to register tracker",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code recorded on request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, registrationdomain.ErrInvalidID),
		errors.Is(err, registrationdomain.ErrInvalidGuild),
		errors.Is(err, registrationdomain.ErrInvalidUser),
		errors.Is(err, registrationdomain.ErrInvalidStatus),
		errors.Is(err, registrationdomain.ErrInvalidPageToken),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, trackerdomain.ErrInvalidID),
		errors.Is(err, trackerdomain.ErrInvalidUser),
		errors.Is(err, trackerdomain.ErrInvalidScrapingStatus),
		errors.Is(err, auditdomain.ErrInvalidGuild),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, registrationdomain.ErrNotFound),
		errors.Is(err, trackerdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func urlErrorField(reason trackerurl.Reason) string {
	switch reason {
	case trackerurl.ReasonBatchSize, trackerurl.ReasonDuplicateInBatch:
		return "urls"
	case trackerurl.ReasonLimitExceeded:
		return "user_id"
	default:
		return "url"
	}
}

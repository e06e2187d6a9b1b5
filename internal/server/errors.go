package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lead_scraper/internal/domain"
)

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return e.Message
}

func invalidRequestError(msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: msg}
}

// abortWithError renders err as {"error": code, "message": text}. Domain
// errors map to their HTTP status; anything else is a 500 with a generic
// message.
func abortWithError(c *gin.Context, err error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		apiErr = fromDomain(err)
	}
	if apiErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(apiErr.Status, apiErr)
}

func fromDomain(err error) *apiError {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return &apiError{Status: http.StatusNotFound, Code: "job_not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrResultNotFound):
		return &apiError{Status: http.StatusNotFound, Code: "result_not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrAccountNotFound):
		return &apiError{Status: http.StatusNotFound, Code: "account_not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrRunInProgress):
		return &apiError{Status: http.StatusConflict, Code: "run_in_progress", Message: err.Error()}
	case errors.Is(err, domain.ErrRunLimitReached):
		return &apiError{Status: http.StatusTooManyRequests, Code: "run_limit_reached", Message: err.Error()}
	case errors.Is(err, domain.ErrIllegalTransition):
		return &apiError{Status: http.StatusConflict, Code: "illegal_transition", Message: err.Error()}
	default:
		return &apiError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal server error"}
	}
}

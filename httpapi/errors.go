package httpapi

import (
	"errors"
	"net/http"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/MrEthical07/goOTP/password"
	"github.com/labstack/echo/v4"
)

// Error codes returned in the "error" field.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeWeakPassword      = "weak_password"
	CodeAlreadyRegistered = "already_registered"
	CodeDeliveryFailed    = "delivery_failed"
	CodeMismatch          = "code_mismatch"
	CodeRequestNewCode    = "request_new_code"
	CodeFinalizeFailed    = "finalize_failed"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
	Ticket            string `json:"ticket,omitempty"`
}

// statusFor maps engine errors onto an HTTP status and response body.
func statusFor(err error) (int, ErrorResponse) {
	var mismatch *goOTP.MismatchError
	var finalize *goOTP.FinalizeError

	switch {
	case errors.As(err, &finalize):
		switch {
		case errors.Is(finalize.Cause, goOTP.ErrAlreadyRegistered):
			return http.StatusConflict, ErrorResponse{Error: CodeAlreadyRegistered, Message: "This email is already registered."}
		case finalize.Ticket != "":
			return http.StatusServiceUnavailable, ErrorResponse{
				Error:   CodeFinalizeFailed,
				Message: "Your code was accepted but the change could not be saved. Retry with the ticket.",
				Ticket:  finalize.Ticket,
			}
		default:
			return http.StatusGone, ErrorResponse{Error: CodeRequestNewCode, Message: "Please request a new code."}
		}
	case errors.As(err, &mismatch):
		remaining := mismatch.Remaining
		return http.StatusBadRequest, ErrorResponse{
			Error:             CodeMismatch,
			Message:           "Invalid code.",
			AttemptsRemaining: &remaining,
		}
	case errors.Is(err, goOTP.ErrNoActiveChallenge), errors.Is(err, goOTP.ErrAttemptsExhausted):
		return http.StatusGone, ErrorResponse{Error: CodeRequestNewCode, Message: "Please request a new code."}
	case errors.Is(err, goOTP.ErrAlreadyRegistered):
		return http.StatusConflict, ErrorResponse{Error: CodeAlreadyRegistered, Message: "This email is already registered."}
	case errors.Is(err, goOTP.ErrDeliveryFailed):
		return http.StatusBadGateway, ErrorResponse{Error: CodeDeliveryFailed, Message: "The code could not be sent. Please try again."}
	case errors.Is(err, password.ErrWeakSecret):
		return http.StatusBadRequest, ErrorResponse{Error: CodeWeakPassword, Message: err.Error()}
	case errors.Is(err, goOTP.ErrInvalidSubject),
		errors.Is(err, goOTP.ErrInvalidPurpose),
		errors.Is(err, goOTP.ErrInvalidPayload):
		return http.StatusBadRequest, ErrorResponse{Error: CodeInvalidRequest, Message: "Invalid request."}
	case errors.Is(err, goOTP.ErrStoreUnavailable),
		errors.Is(err, goOTP.ErrIdentityUnavailable),
		errors.Is(err, goOTP.ErrEngineNotReady):
		return http.StatusServiceUnavailable, ErrorResponse{Error: CodeUnavailable, Message: "Service temporarily unavailable."}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: CodeInternal, Message: "Internal error."}
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: CodeInvalidRequest, Message: msg})
}

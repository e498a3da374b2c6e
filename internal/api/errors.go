package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/davidahmann/surety/internal/surety"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, surety.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, surety.ErrNotOperational):
		return http.StatusServiceUnavailable
	case errors.Is(err, surety.ErrAlreadyRegistered),
		errors.Is(err, surety.ErrDuplicateFlight),
		errors.Is(err, surety.ErrAlreadyInsured),
		errors.Is(err, surety.ErrDuplicateVote),
		errors.Is(err, surety.ErrDuplicateResponse),
		errors.Is(err, surety.ErrFlightResolved),
		errors.Is(err, surety.ErrAlreadyBootstrapped):
		return http.StatusConflict
	case errors.Is(err, surety.ErrUnknownFlight),
		errors.Is(err, surety.ErrUnknownAirline),
		errors.Is(err, surety.ErrUnknownOracle),
		errors.Is(err, surety.ErrUnknownPolicy),
		errors.Is(err, surety.ErrUnknownPayout),
		errors.Is(err, surety.ErrRequestNotFound),
		errors.Is(err, surety.ErrReceiptNotFound),
		errors.Is(err, surety.ErrNoOpenRound):
		return http.StatusNotFound
	case errors.Is(err, surety.ErrInvalidArgument),
		errors.Is(err, surety.ErrInvalidAmount),
		errors.Is(err, surety.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, surety.ErrInsufficientFunds),
		errors.Is(err, surety.ErrInsufficientStake),
		errors.Is(err, surety.ErrExceedsCap),
		errors.Is(err, surety.ErrIndexMismatch),
		errors.Is(err, surety.ErrNoCredit),
		errors.Is(err, surety.ErrNotFunded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, surety.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an ErrorBody. Store failures are logged and hidden from the caller.
func (h *Handler) fail(c echo.Context, err error) error {
	status := statusFor(err)
	body := ErrorBody{Error: surety.Code(err), Message: err.Error()}
	switch status {
	case http.StatusBadGateway:
		body.Error = "transfer_failed"
	case http.StatusInternalServerError:
		h.log().Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		body = ErrorBody{Error: "internal", Message: "internal error"}
	}
	return c.JSON(status, body)
}

func (h *Handler) badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorBody{Error: surety.Code(surety.ErrInvalidArgument), Message: msg})
}

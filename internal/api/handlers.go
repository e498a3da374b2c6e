package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/holiman/uint256"
	"github.com/labstack/echo/v4"

	"github.com/davidahmann/surety/internal/auth"
	"github.com/davidahmann/surety/internal/logger"
	"github.com/davidahmann/surety/internal/params"
	"github.com/davidahmann/surety/internal/surety"
)

type Handler struct {
	Auth    auth.Authenticator
	Service *surety.Service
	Log     logger.Logger
}

const claimsKey = "surety.claims"

func (h *Handler) log() logger.Logger {
	if h.Log == nil {
		return logger.NewNop()
	}
	return h.Log
}

// RequireAuth rejects requests without valid credentials and stores the claims on the context.
func (h *Handler) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := h.Auth.Authenticate(c.Request())
		if err != nil {
			return c.JSON(http.StatusUnauthorized, ErrorBody{Error: "unauthenticated", Message: err.Error()})
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

func caller(c echo.Context) string {
	claims, _ := c.Get(claimsKey).(auth.Claims)
	return claims.Subject
}

func parseAmount(s string) (*uint256.Int, error) {
	a, err := params.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", surety.ErrInvalidAmount, err)
	}
	return a.Big(), nil
}

func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (h *Handler) GetOperational(c echo.Context) error {
	open, err := h.Service.IsOperational(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, OperationalBody{Operational: open})
}

func (h *Handler) PutOperational(c echo.Context) error {
	var req OperationalBody
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid json")
	}
	if err := h.Service.SetOperatingStatus(c.Request().Context(), req.Operational, caller(c)); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) RegisterAirline(c echo.Context) error {
	var req AirlineRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid json")
	}
	res, err := h.Service.RegisterAirline(c.Request().Context(), req.Address, req.Name, caller(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(registrationStatus(res), res)
}

func (h *Handler) VoteForAirline(c echo.Context) error {
	res, err := h.Service.VoteForAirline(c.Request().Context(), c.Param("address"), caller(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(registrationStatus(res), res)
}

func (h *Handler) CancelRegistrationRound(c echo.Context) error {
	if err := h.Service.CancelRegistrationRound(c.Request().Context(), c.Param("address"), caller(c)); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// registrationStatus is 201 once the candidate is admitted and 202 while votes are pending.
func registrationStatus(res surety.RegistrationResult) int {
	if res.Registered {
		return http.StatusCreated
	}
	return http.StatusAccepted
}

func (h *Handler) FundAirline(c echo.Context) error {
	var req FundRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid json")
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return h.fail(c, err)
	}
	rec, err := h.Service.FundAirline(c.Request().Context(), caller(c), amount)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, airlineView(rec))
}

func (h *Handler) GetAirline(c echo.Context) error {
	rec, err := h.Service.GetAirline(c.Request().Context(), c.Param("address"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, airlineView(rec))
}

func (h *Handler) RegisterFlight(c echo.Context) error {
	var req FlightRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid json")
	}
	rec, err := h.Service.RegisterFlight(c.Request().Context(), req.Name, req.Timestamp, caller(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, flightView(rec))
}

func (h *Handler) GetFlight(c echo.Context) error {
	rec, err := h.Service.GetFlight(c.Request().Context(), c.Param("key"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, flightView(rec))
}

func (h *Handler) BuyInsurance(c echo.Context) error {
	var req InsuranceRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid json")
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return h.fail(c, err)
	}
	rec, err := h.Service.BuyInsurance(c.Request().Context(), caller(c), req.FlightKey, amount)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, policyView(rec))
}

func (h *Handler) GetPolicy(c echo.Context) error {
	rec, err := h.Service.GetPolicy(c.Request().Context(), caller(c), c.Param("key"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, policyView(rec))
}

func (h *Handler) Withdraw(c echo.Context) error {
	w, err := h.Service.Withdraw(c.Request().Context(), caller(c), c.Param("key"))
	if errors.Is(err, surety.ErrPayoutUnrecorded) {
		h.log().Warn("payout sent but not recorded", "payout_id", w.PayoutID, "error", err)
		view := withdrawalView(w)
		view.Unrecorded = true
		return c.JSON(http.StatusOK, view)
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, withdrawalView(w))
}

func (h *Handler) RegisterOracle(c echo.Context) error {
	var req OracleRegistration
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid json")
	}
	stake, err := parseAmount(req.Stake)
	if err != nil {
		return h.fail(c, err)
	}
	rec, err := h.Service.RegisterOracle(c.Request().Context(), caller(c), stake)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, oracleView(rec))
}

func (h *Handler) MyIndexes(c echo.Context) error {
	oracle := caller(c)
	idx, err := h.Service.GetMyIndexes(c.Request().Context(), oracle)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, IndexesView{Oracle: oracle, Indexes: toInts(idx)})
}

func (h *Handler) FetchFlightStatus(c echo.Context) error {
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid json")
	}
	rec, err := h.Service.FetchFlightStatus(c.Request().Context(), req.Airline, req.Flight, req.Timestamp, caller(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, oracleRequestView(rec))
}

func (h *Handler) GetOracleRequest(c echo.Context) error {
	rec, err := h.Service.GetOracleRequest(c.Request().Context(), c.Param("key"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, oracleRequestView(rec))
}

func (h *Handler) SubmitOracleResponse(c echo.Context) error {
	var req OracleResponse
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid json")
	}
	sub, err := h.Service.SubmitOracleResponse(c.Request().Context(), caller(c), req.Index, req.Airline, req.Flight, req.Timestamp, req.StatusCode)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) GetReceipt(c echo.Context) error {
	rec, err := h.Service.GetReceipt(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, receiptView(rec))
}

func (h *Handler) VerifyReceipt(c echo.Context) error {
	check, err := h.Service.VerifyReceipt(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, check)
}

func (h *Handler) VerifyJournal(c echo.Context) error {
	n, err := h.Service.VerifyJournal(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusOK, echo.Map{"valid": false, "receipts": n, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true, "receipts": n})
}

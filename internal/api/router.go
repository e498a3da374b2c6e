package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the marketplace API. /health and /metrics are public.
func NewRouter(h *Handler, reg *prometheus.Registry, idem *IdempotencyStore) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/health", Health)
	if reg != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	g := e.Group("/v1", h.RequireAuth)
	if idem != nil {
		g.Use(idem.Middleware)
	}

	g.GET("/operational", h.GetOperational)
	g.PUT("/operational", h.PutOperational)

	g.POST("/airlines", h.RegisterAirline)
	g.POST("/airlines/fund", h.FundAirline)
	g.GET("/airlines/:address", h.GetAirline)
	g.POST("/airlines/:address/votes", h.VoteForAirline)
	g.DELETE("/airlines/:address/votes", h.CancelRegistrationRound)

	g.POST("/flights", h.RegisterFlight)
	g.GET("/flights/:key", h.GetFlight)

	g.POST("/insurance", h.BuyInsurance)
	g.GET("/insurance/:key", h.GetPolicy)
	g.POST("/insurance/:key/withdraw", h.Withdraw)

	g.POST("/oracles", h.RegisterOracle)
	g.GET("/oracles/me/indexes", h.MyIndexes)
	g.POST("/oracle-requests", h.FetchFlightStatus)
	g.GET("/oracle-requests/:key", h.GetOracleRequest)
	g.POST("/oracle-responses", h.SubmitOracleResponse)

	g.GET("/receipts/:id", h.GetReceipt)
	g.GET("/receipts/:id/verify", h.VerifyReceipt)
	g.GET("/journal/verify", h.VerifyJournal)

	return e
}

package oraclenode

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidahmann/surety/internal/api"
	"github.com/davidahmann/surety/internal/auth"
	"github.com/davidahmann/surety/internal/params"
	"github.com/davidahmann/surety/internal/surety"
	"github.com/davidahmann/surety/pkg/types"
)

func gateway(t *testing.T, m *market, a auth.Authenticator) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(api.NewRouter(&api.Handler{Auth: a, Service: m.svc}, nil, nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPLedgerResolvesThroughGateway(t *testing.T) {
	m := newMarket(t)
	srv := gateway(t, m, auth.NewAuthenticator("dev", ""))

	n := newNode(t, NewHTTPLedger(srv.URL+"/", DevCredentials("dev")), FixedStatus(types.StatusLateAirline))
	require.NoError(t, n.Register(m.ctx))
	require.Equal(t, []uint8{7, 1, 2}, n.Indexes("0xo1"))

	accepted, err := n.HandleRequest(m.ctx, m.request(t))
	require.NoError(t, err)
	require.Equal(t, 3, accepted)

	status, err := m.svc.GetFlightStatus(m.ctx, m.key)
	require.NoError(t, err)
	require.Equal(t, types.StatusLateAirline, status)
}

func TestHTTPLedgerMapsRejections(t *testing.T) {
	m := newMarket(t)
	jwtAuth := auth.NewAuthenticator("", "s3cret")
	srv := gateway(t, m, jwtAuth)
	l := NewHTTPLedger(srv.URL, JWTCredentials(jwtAuth.JWT, time.Minute))

	rec, err := l.RegisterOracle(m.ctx, "0xo1", params.EtherAmount(1).Big())
	require.NoError(t, err)
	require.Equal(t, "0xo1", rec.Address)
	require.Equal(t, params.EtherAmount(1).Big().Dec(), rec.Stake.Dec())

	_, err = l.RegisterOracle(m.ctx, "0xo1", params.EtherAmount(1).Big())
	require.ErrorIs(t, err, surety.ErrAlreadyRegistered)

	idx, err := l.GetMyIndexes(m.ctx, "0xo1")
	require.NoError(t, err)
	require.Equal(t, rec.Indexes, idx)

	_, err = l.SubmitOracleResponse(m.ctx, "0xo1", 9, airline, flight, departure, types.StatusOnTime)
	require.ErrorIs(t, err, surety.ErrIndexMismatch)
	require.True(t, surety.IsRejection(err))

	_, err = NewHTTPLedger(srv.URL, DevCredentials("wrong")).GetMyIndexes(m.ctx, "0xo1")
	require.Error(t, err)
	require.False(t, surety.IsRejection(err))
}

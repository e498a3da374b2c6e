package surety

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/params"
	"github.com/davidahmann/surety/pkg/types"
)

const flightName = "X/1000"
const departure = int64(1000)

// oracleHarness registers n oracles that all hold index 7, a funded airline with
// flight X/1000 and an open status request on index 7.
func oracleHarness(t *testing.T, n int, opts ...harnessOption) (*harness, []string, ledger.OracleRequestRecord) {
	t.Helper()
	var seq []uint8
	for i := 0; i < n; i++ {
		seq = append(seq, 7, uint8(i%7), 8+uint8(i%2))
	}
	seq = append(seq, 7)
	opts = append([]harnessOption{withIndexes(NewSequenceIndexSource(seq...))}, opts...)
	h := bootstrapped(t, opts...)

	_, err := h.svc.RegisterFlight(h.ctx, flightName, departure, airlineA)
	require.NoError(t, err)

	oracles := make([]string, n)
	for i := range oracles {
		oracles[i] = "0xo" + string(rune('a'+i))
		h.registerOracle(oracles[i])
	}
	req, err := h.svc.FetchFlightStatus(h.ctx, airlineA, flightName, departure, passenger)
	require.NoError(t, err)
	require.Equal(t, uint8(7), req.Index)
	return h, oracles, req
}

func (h *harness) submit(oracle string, index uint8, code types.StatusCode) (Submission, error) {
	return h.svc.SubmitOracleResponse(h.ctx, oracle, index, airlineA, flightName, departure, code)
}

func TestRegisterOracle(t *testing.T) {
	h := bootstrapped(t, withIndexes(NewSequenceIndexSource(3, 3, 5, 9)))
	require := require.New(t)

	_, err := h.svc.RegisterOracle(h.ctx, "0xo1", ether(0))
	require.ErrorIs(err, ErrInsufficientStake)
	_, err = h.svc.RegisterOracle(h.ctx, "0xo1", nil)
	require.ErrorIs(err, ErrInsufficientStake)

	rec := h.registerOracle("0xo1")
	require.Equal([]uint8{3, 5, 9}, rec.Indexes, "duplicate draw is redrawn")

	indexes, err := h.svc.GetMyIndexes(h.ctx, "0xO1")
	require.NoError(err)
	require.Equal([]uint8{3, 5, 9}, indexes)

	_, err = h.svc.RegisterOracle(h.ctx, "0xo1", ether(2))
	require.ErrorIs(err, ErrAlreadyRegistered)

	_, err = h.svc.GetMyIndexes(h.ctx, "0xnobody")
	require.ErrorIs(err, ErrUnknownOracle)
}

func TestRegisterOracleKeepsDuplicatesWhenAllowed(t *testing.T) {
	h := bootstrapped(t,
		withIndexes(NewSequenceIndexSource(4)),
		withParams(func(p *params.Params) { p.DistinctIndexes = false }),
	)
	rec := h.registerOracle("0xo1")
	require.Equal(t, []uint8{4, 4, 4}, rec.Indexes)
}

func TestRegisterOracleGivesUpOnDegenerateSource(t *testing.T) {
	h := bootstrapped(t, withIndexes(NewSequenceIndexSource(4)))
	_, err := h.svc.RegisterOracle(h.ctx, "0xo1", ether(1))
	require.Error(t, err)
	_, err = h.svc.GetOracle(h.ctx, "0xo1")
	require.ErrorIs(t, err, ErrUnknownOracle)
}

func TestRegisterOracleDistinctWithRealSources(t *testing.T) {
	for name, src := range map[string]IndexSource{
		"keccak": KeccakIndexSource{},
		"seeded": NewSeededIndexSource(42),
	} {
		t.Run(name, func(t *testing.T) {
			h := bootstrapped(t, withIndexes(src))
			for i := 0; i < 20; i++ {
				rec := h.registerOracle("0xoracle" + string(rune('a'+i)))
				require.Len(t, rec.Indexes, 3)
				seen := map[uint8]bool{}
				for _, idx := range rec.Indexes {
					require.Less(t, idx, uint8(10))
					require.False(t, seen[idx], "indexes %v", rec.Indexes)
					seen[idx] = true
				}
			}
		})
	}
}

func TestFetchFlightStatusRequiresRegisteredFlight(t *testing.T) {
	h := bootstrapped(t)
	_, err := h.svc.FetchFlightStatus(h.ctx, airlineA, "nope", 1, passenger)
	require.ErrorIs(t, err, ErrUnknownFlight)

	_, err = h.svc.GetOracleRequest(h.ctx, FlightKeyFor(airlineA, "nope", 1))
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestSubmitOracleResponseRejections(t *testing.T) {
	h, oracles, _ := oracleHarness(t, 3)
	require := require.New(t)

	_, err := h.submit(oracles[0], 7, types.StatusUnknown)
	require.ErrorIs(err, ErrInvalidStatus)
	_, err = h.submit(oracles[0], 7, types.StatusCode(25))
	require.ErrorIs(err, ErrInvalidStatus)

	// Index not held by the oracle.
	_, err = h.submit(oracles[0], 5, types.StatusOnTime)
	require.ErrorIs(err, ErrIndexMismatch)
	// Unknown oracle.
	_, err = h.submit("0xghost", 7, types.StatusOnTime)
	require.ErrorIs(err, ErrIndexMismatch)

	// Held index, but the open request was tagged with 7.
	_, err = h.submit(oracles[0], 0, types.StatusOnTime)
	require.ErrorIs(err, ErrRequestNotFound)
	// Mismatched tuple.
	_, err = h.svc.SubmitOracleResponse(h.ctx, oracles[0], 7, airlineA, flightName, departure+1, types.StatusOnTime)
	require.ErrorIs(err, ErrRequestNotFound)

	_, err = h.submit(oracles[0], 7, types.StatusOnTime)
	require.NoError(err)
	_, err = h.submit(oracles[0], 7, types.StatusLateWeather)
	require.ErrorIs(err, ErrDuplicateResponse)
}

func TestFirstCodeToReachQuorumWins(t *testing.T) {
	h, oracles, req := oracleHarness(t, 6)
	require := require.New(t)

	plan := []types.StatusCode{
		types.StatusLateWeather,
		types.StatusLateAirline,
		types.StatusLateWeather,
		types.StatusLateAirline,
		types.StatusLateWeather, // third weather vote resolves
		types.StatusLateAirline, // third airline vote arrives after resolution
	}
	for i, code := range plan {
		sub, err := h.submit(oracles[i], 7, code)
		require.NoError(err)
		require.Equal(i == 4, sub.Resolved, "submission %d", i)
	}

	status, err := h.svc.GetFlightStatus(h.ctx, req.FlightKey)
	require.NoError(err)
	require.Equal(types.StatusLateWeather, status)

	got, err := h.svc.GetOracleRequest(h.ctx, req.FlightKey)
	require.NoError(err)
	require.Equal(ledger.RequestResolved, got.Status)
	require.Equal(int(types.StatusLateWeather), got.StatusCode)
	require.NotNil(got.ClosedAt)

	// Late responses are recorded but change nothing.
	require.NoError(h.store.View(h.ctx, func(tx ledger.Tx) error {
		n, err := tx.CountOracleResponses(req.RequestID, int(types.StatusLateAirline))
		require.Equal(3, n)
		return err
	}))

	_, err = h.svc.FetchFlightStatus(h.ctx, airlineA, flightName, departure, passenger)
	require.ErrorIs(err, ErrFlightResolved)
}

func TestConcurrentSubmissionsResolveOnce(t *testing.T) {
	h, oracles, req := oracleHarness(t, 8)

	var wg sync.WaitGroup
	results := make(chan Submission, len(oracles))
	errs := make(chan error, len(oracles))
	for _, o := range oracles {
		wg.Add(1)
		go func(o string) {
			defer wg.Done()
			sub, err := h.submit(o, 7, types.StatusLateAirline)
			if err != nil {
				errs <- err
				return
			}
			results <- sub
		}(o)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	resolved := 0
	for sub := range results {
		if sub.Resolved {
			resolved++
			require.Equal(t, 3, sub.Responses)
		}
	}
	require.Equal(t, 1, resolved)
	count := 0
	for _, kind := range h.outboxKinds() {
		if kind == string(types.EventFlightStatus) {
			count++
		}
	}
	require.Equal(t, 1, count)

	flight, err := h.svc.GetFlight(h.ctx, req.FlightKey)
	require.NoError(t, err)
	require.True(t, flight.Credited)
}

func TestNewRequestSupersedesOpenOne(t *testing.T) {
	h, oracles, first := oracleHarness(t, 3)
	require := require.New(t)

	// The sequence wraps: the next draw is 7 again, so the new request shares the index.
	second, err := h.svc.FetchFlightStatus(h.ctx, airlineA, flightName, departure, passenger)
	require.NoError(err)
	require.Equal(2, second.Round)
	require.NotEqual(first.RequestID, second.RequestID)

	require.NoError(h.store.View(h.ctx, func(tx ledger.Tx) error {
		old, ok, err := tx.GetOracleRequest(first.RequestID)
		require.True(ok)
		require.Equal(ledger.RequestSuperseded, old.Status)
		return err
	}))

	sub, err := h.submit(oracles[0], 7, types.StatusOnTime)
	require.NoError(err)
	require.Equal(second.RequestID, sub.RequestID)
}

func TestSupersededIndexNoLongerAccepted(t *testing.T) {
	h := bootstrapped(t, withIndexes(NewSequenceIndexSource(7, 1, 2, 7, 1)))
	require := require.New(t)

	_, err := h.svc.RegisterFlight(h.ctx, flightName, departure, airlineA)
	require.NoError(err)
	h.registerOracle("0xo1") // 7, 1, 2

	first, err := h.svc.FetchFlightStatus(h.ctx, airlineA, flightName, departure, passenger)
	require.NoError(err)
	require.Equal(uint8(7), first.Index)
	second, err := h.svc.FetchFlightStatus(h.ctx, airlineA, flightName, departure, passenger)
	require.NoError(err)
	require.Equal(uint8(1), second.Index)

	_, err = h.submit("0xo1", 7, types.StatusOnTime)
	require.ErrorIs(err, ErrRequestNotFound)
	_, err = h.submit("0xo1", 1, types.StatusOnTime)
	require.NoError(err)
}

func TestExpireStaleRequests(t *testing.T) {
	h, oracles, req := oracleHarness(t, 3, withParams(func(p *params.Params) { p.RequestTTL = time.Hour }))
	require := require.New(t)

	n, err := h.svc.ExpireStaleRequests(h.ctx)
	require.NoError(err)
	require.Zero(n)
	before := len(h.receipts())

	h.clock.Advance(2 * time.Hour)
	n, err = h.svc.ExpireStaleRequests(h.ctx)
	require.NoError(err)
	require.Equal(1, n)
	require.Len(h.receipts(), before+1)

	got, err := h.svc.GetOracleRequest(h.ctx, req.FlightKey)
	require.NoError(err)
	require.Equal(ledger.RequestExpired, got.Status)

	_, err = h.submit(oracles[0], 7, types.StatusOnTime)
	require.ErrorIs(err, ErrRequestNotFound)
	require.Contains(h.outboxKinds(), string(types.EventOracleRequestExpired))

	// A fresh request can be opened after expiry.
	next, err := h.svc.FetchFlightStatus(h.ctx, airlineA, flightName, departure, passenger)
	require.NoError(err)
	require.Equal(2, next.Round)
}

func TestExpiryDisabledByDefault(t *testing.T) {
	h, _, req := oracleHarness(t, 3)
	h.clock.Advance(1000 * time.Hour)

	n, err := h.svc.ExpireStaleRequests(h.ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := h.svc.GetOracleRequest(h.ctx, req.FlightKey)
	require.NoError(t, err)
	require.Equal(t, ledger.RequestOpen, got.Status)
}

func TestExpirySkippedWhileGateClosed(t *testing.T) {
	h, _, req := oracleHarness(t, 3, withParams(func(p *params.Params) { p.RequestTTL = time.Minute }))
	require.NoError(t, h.svc.SetOperatingStatus(h.ctx, false, owner))
	h.clock.Advance(time.Hour)

	n, err := h.svc.ExpireStaleRequests(h.ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := h.svc.GetOracleRequest(h.ctx, req.FlightKey)
	require.NoError(t, err)
	require.Equal(t, ledger.RequestOpen, got.Status)
}

package surety

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/holiman/uint256"

	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/pkg/types"
)

// SystemActor signs journal entries written by background workers.
const SystemActor = "system"

// maxRedrawsPerIndex bounds redraws when distinct indexes are required.
const maxRedrawsPerIndex = 64

// Submission reports what an accepted oracle response did to its request.
type Submission struct {
	RequestID string `json:"request_id"`
	// Responses is the number of oracles that reported this status code for the request.
	Responses        int              `json:"responses"`
	Resolved         bool             `json:"resolved"`
	StatusCode       types.StatusCode `json:"status_code"`
	CreditedPolicies int              `json:"credited_policies"`
	ReceiptID        string           `json:"receipt_id"`
}

func readNonce(tx ledger.Tx) (uint64, error) {
	v, ok, err := tx.GetSetting(ledger.SettingOracleNonce)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt %s setting: %w", ledger.SettingOracleNonce, err)
	}
	return n, nil
}

func writeNonce(tx ledger.Tx, n uint64) error {
	return tx.PutSetting(ledger.SettingOracleNonce, strconv.FormatUint(n, 10))
}

// drawIndexes assigns indexes_per_oracle indexes, redrawing duplicates when distinct_indexes is set.
func (s *Service) drawIndexes(address string, nonce uint64) ([]uint8, uint64, error) {
	want := s.params.IndexesPerOracle
	out := make([]uint8, 0, want)
	redraws := 0
	for len(out) < want {
		idx := s.indexes.Index(address, nonce, s.params.IndexSpace)
		nonce++
		if s.params.DistinctIndexes && containsIndex(out, idx) {
			redraws++
			if redraws > maxRedrawsPerIndex*want {
				return nil, nonce, fmt.Errorf("could not draw %d distinct indexes from space %d", want, s.params.IndexSpace)
			}
			continue
		}
		out = append(out, idx)
	}
	return out, nonce, nil
}

func containsIndex(set []uint8, idx uint8) bool {
	for _, v := range set {
		if v == idx {
			return true
		}
	}
	return false
}

// RegisterOracle stakes address as an oracle and assigns its immutable indexes.
func (s *Service) RegisterOracle(ctx context.Context, address string, stake *uint256.Int) (ledger.OracleRecord, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return ledger.OracleRecord{}, err
	}

	var out ledger.OracleRecord
	_, err = s.mutate(ctx, types.OpRegisterOracle, address, address, true, func(tx ledger.Tx, m *mutation) error {
		if stake == nil || stake.Lt(s.params.OracleRegistrationFee.Big()) {
			return ErrInsufficientStake
		}
		if _, ok, err := tx.GetOracle(address); err != nil {
			return err
		} else if ok {
			return ErrAlreadyRegistered
		}
		nonce, err := readNonce(tx)
		if err != nil {
			return err
		}
		indexes, next, err := s.drawIndexes(address, nonce)
		if err != nil {
			return err
		}
		if err := writeNonce(tx, next); err != nil {
			return err
		}
		rec := ledger.OracleRecord{Address: address, Indexes: indexes, Stake: *stake, RegisteredAt: m.now}
		if err := tx.PutOracle(rec); err != nil {
			return err
		}
		m.set("indexes", indexes)
		m.set("stake", stake.Dec())
		m.set("nonce", nonce)
		out = rec
		return nil
	})
	return out, err
}

// FetchFlightStatus opens a status request for a registered, unresolved flight and
// broadcasts it to the holders of one drawn index. An open request for the same
// flight is superseded.
func (s *Service) FetchFlightStatus(ctx context.Context, airline, flightName string, timestamp int64, requester string) (ledger.OracleRequestRecord, error) {
	airline, err := normalizeAddress(airline)
	if err != nil {
		return ledger.OracleRequestRecord{}, err
	}
	requester, err = normalizeAddress(requester)
	if err != nil {
		return ledger.OracleRequestRecord{}, err
	}
	key := FlightKeyFor(airline, flightName, timestamp)

	var out ledger.OracleRequestRecord
	_, err = s.mutate(ctx, types.OpFetchFlightStatus, requester, key, true, func(tx ledger.Tx, m *mutation) error {
		flight, err := loadFlight(tx, key)
		if err != nil {
			return err
		}
		if flight.StatusCode != int(types.StatusUnknown) {
			return ErrFlightResolved
		}

		round := 1
		latest, ok, err := tx.GetLatestOracleRequest(key)
		if err != nil {
			return err
		}
		if ok {
			round = latest.Round + 1
			if latest.Status == ledger.RequestOpen {
				latest.Status = ledger.RequestSuperseded
				closed := m.now
				latest.ClosedAt = &closed
				if err := tx.PutOracleRequest(latest); err != nil {
					return err
				}
				m.set("superseded", latest.RequestID)
			}
		}

		nonce, err := readNonce(tx)
		if err != nil {
			return err
		}
		index := s.indexes.Index(requester, nonce, s.params.IndexSpace)
		if err := writeNonce(tx, nonce+1); err != nil {
			return err
		}

		req := ledger.OracleRequestRecord{
			RequestID: fmt.Sprintf("%s:%d", key, round),
			FlightKey: key,
			Round:     round,
			Airline:   airline,
			Flight:    flightName,
			Timestamp: timestamp,
			Index:     index,
			Requester: requester,
			Status:    ledger.RequestOpen,
			OpenedAt:  m.now,
		}
		if err := tx.PutOracleRequest(req); err != nil {
			return err
		}
		m.set("request_id", req.RequestID)
		m.set("index", index)
		m.emit(types.EventOracleRequest, types.OracleRequestEvent{
			RequestID: req.RequestID,
			Index:     index,
			Airline:   airline,
			Flight:    flightName,
			Timestamp: timestamp,
			FlightKey: key,
		})
		out = req
		return nil
	})
	return out, err
}

// SubmitOracleResponse records oracle's status report for the request matching
// (index, airline, flight, timestamp). The first status code reported by quorum
// distinct oracles resolves the request and the flight in the same transaction.
func (s *Service) SubmitOracleResponse(ctx context.Context, oracle string, index uint8, airline, flightName string, timestamp int64, code types.StatusCode) (Submission, error) {
	oracle, err := normalizeAddress(oracle)
	if err != nil {
		return Submission{}, err
	}
	airline, err = normalizeAddress(airline)
	if err != nil {
		return Submission{}, err
	}
	key := FlightKeyFor(airline, flightName, timestamp)

	var res Submission
	m, err := s.mutate(ctx, types.OpSubmitOracleResult, oracle, key, true, func(tx ledger.Tx, m *mutation) error {
		if !code.Reportable() {
			return ErrInvalidStatus
		}
		rec, ok, err := tx.GetOracle(oracle)
		if err != nil {
			return err
		}
		if !ok || !rec.Holds(index) {
			return ErrIndexMismatch
		}

		req, ok, err := tx.GetLatestOracleRequest(key)
		if err != nil {
			return err
		}
		if !ok || req.Index != index {
			return ErrRequestNotFound
		}
		if req.Status != ledger.RequestOpen && req.Status != ledger.RequestResolved {
			return ErrRequestNotFound
		}

		answered, err := tx.HasOracleResponse(req.RequestID, oracle)
		if err != nil {
			return err
		}
		if answered {
			return ErrDuplicateResponse
		}
		if err := tx.PutOracleResponse(ledger.OracleResponseRecord{
			RequestID:   req.RequestID,
			Oracle:      oracle,
			StatusCode:  int(code),
			RespondedAt: m.now,
		}); err != nil {
			return err
		}
		count, err := tx.CountOracleResponses(req.RequestID, int(code))
		if err != nil {
			return err
		}

		res = Submission{RequestID: req.RequestID, Responses: count, StatusCode: code}
		m.set("request_id", req.RequestID)
		m.set("index", index)
		m.set("status_code", int(code))
		m.set("responses", count)

		if req.Status != ledger.RequestOpen || count < s.params.Quorum {
			return nil
		}
		credited, err := s.resolve(tx, m, req, code)
		if err != nil {
			return err
		}
		res.Resolved = true
		res.CreditedPolicies = credited
		return nil
	})
	if err != nil {
		return Submission{}, err
	}

	if s.metrics != nil {
		s.metrics.OracleResponses.WithLabelValues(code.String()).Inc()
		if res.Resolved {
			s.metrics.Resolutions.WithLabelValues(code.String()).Inc()
			s.metrics.PayoutsCredited.Add(float64(res.CreditedPolicies))
		}
	}
	res.ReceiptID = m.receipt.ReceiptID
	return res, nil
}

// resolve closes req with code, finalizes the flight status and runs the credit pass.
func (s *Service) resolve(tx ledger.Tx, m *mutation, req ledger.OracleRequestRecord, code types.StatusCode) (int, error) {
	closed := m.now
	req.Status = ledger.RequestResolved
	req.StatusCode = int(code)
	req.ClosedAt = &closed
	if err := tx.PutOracleRequest(req); err != nil {
		return 0, err
	}

	flight, err := loadFlight(tx, req.FlightKey)
	if err != nil {
		return 0, err
	}
	flight.StatusCode = int(code)
	flight.UpdatedAt = m.now
	credited, err := s.creditInsurees(tx, m, &flight, code)
	if err != nil {
		return 0, err
	}
	if err := tx.PutFlight(flight); err != nil {
		return 0, err
	}

	m.set("resolved", true)
	m.emit(types.EventFlightStatus, types.FlightStatusEvent{
		RequestID:  req.RequestID,
		Airline:    req.Airline,
		Flight:     req.Flight,
		Timestamp:  req.Timestamp,
		FlightKey:  req.FlightKey,
		StatusCode: code,
	})
	return credited, nil
}

// expireBatch caps how many requests one sweep closes.
const expireBatch = 500

// ExpireStaleRequests closes open requests older than request_ttl. It does nothing when
// the TTL is zero or the gate is closed.
func (s *Service) ExpireStaleRequests(ctx context.Context) (int, error) {
	ttl := s.params.RequestTTL
	if ttl <= 0 {
		return 0, nil
	}

	expired := 0
	_, err := s.mutate(ctx, types.OpExpireRequests, SystemActor, "", true, func(tx ledger.Tx, m *mutation) error {
		cutoff := ledger.FormatTime(m.at.Add(-ttl))
		stale, err := tx.ListOpenOracleRequests(cutoff, expireBatch)
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			return errNoop
		}
		ids := make([]string, 0, len(stale))
		for _, req := range stale {
			closed := m.now
			req.Status = ledger.RequestExpired
			req.ClosedAt = &closed
			if err := tx.PutOracleRequest(req); err != nil {
				return err
			}
			ids = append(ids, req.RequestID)
			m.emit(types.EventOracleRequestExpired, types.OracleRequestExpiredEvent{
				RequestID: req.RequestID,
				FlightKey: req.FlightKey,
				Index:     req.Index,
			})
		}
		m.set("request_ids", ids)
		m.set("cutoff", cutoff)
		expired = len(ids)
		return nil
	})
	if errors.Is(err, ErrNotOperational) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if s.metrics != nil && expired > 0 {
		s.metrics.RequestsExpired.Add(float64(expired))
	}
	return expired, nil
}

// RunExpirySweeper calls ExpireStaleRequests every interval until ctx is cancelled.
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if s.params.RequestTTL <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStaleRequests(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("expire oracle requests", "error", err)
			}
		}
	}
}

// GetMyIndexes returns the indexes assigned to oracle.
func (s *Service) GetMyIndexes(ctx context.Context, oracle string) ([]uint8, error) {
	rec, err := s.GetOracle(ctx, oracle)
	if err != nil {
		return nil, err
	}
	return rec.Indexes, nil
}

func (s *Service) GetOracle(ctx context.Context, oracle string) (ledger.OracleRecord, error) {
	oracle, err := normalizeAddress(oracle)
	if err != nil {
		return ledger.OracleRecord{}, err
	}
	var rec ledger.OracleRecord
	err = s.view(ctx, func(tx ledger.Tx) error {
		r, ok, err := tx.GetOracle(oracle)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownOracle
		}
		rec = r
		return nil
	})
	return rec, err
}

// GetOracleRequest returns the latest status request for a flight.
func (s *Service) GetOracleRequest(ctx context.Context, flightKey string) (ledger.OracleRequestRecord, error) {
	var rec ledger.OracleRequestRecord
	err := s.view(ctx, func(tx ledger.Tx) error {
		r, ok, err := tx.GetLatestOracleRequest(flightKey)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRequestNotFound
		}
		rec = r
		return nil
	})
	return rec, err
}

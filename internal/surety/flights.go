package surety

import (
	"context"
	"fmt"

	"github.com/davidahmann/surety/internal/crypto"
	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/pkg/types"
)

// FlightKeyFor derives the flight identity from (airline, name, departure timestamp).
func FlightKeyFor(airline, name string, timestamp int64) string {
	return crypto.Keccak256Hex(
		[]byte(airline), []byte{0},
		[]byte(name), []byte{0},
		crypto.Uint64Bytes(uint64(timestamp)),
	)
}

// RegisterFlight records a flight owned by requester, which must be a funded airline.
func (s *Service) RegisterFlight(ctx context.Context, name string, timestamp int64, requester string) (ledger.FlightRecord, error) {
	requester, err := normalizeAddress(requester)
	if err != nil {
		return ledger.FlightRecord{}, err
	}
	if name == "" {
		return ledger.FlightRecord{}, fmt.Errorf("%w: empty flight name", ErrInvalidArgument)
	}
	key := FlightKeyFor(requester, name, timestamp)

	var out ledger.FlightRecord
	_, err = s.mutate(ctx, types.OpRegisterFlight, requester, key, true, func(tx ledger.Tx, m *mutation) error {
		if _, err := requireFundedAirline(tx, requester, ErrNotFunded); err != nil {
			return err
		}
		if _, ok, err := tx.GetFlight(key); err != nil {
			return err
		} else if ok {
			return ErrDuplicateFlight
		}
		rec := ledger.FlightRecord{
			Key:        key,
			Airline:    requester,
			Name:       name,
			Timestamp:  timestamp,
			StatusCode: int(types.StatusUnknown),
			Registered: true,
			CreatedAt:  m.now,
			UpdatedAt:  m.now,
		}
		if err := tx.PutFlight(rec); err != nil {
			return err
		}
		m.set("name", name)
		m.set("timestamp", timestamp)
		out = rec
		return nil
	})
	return out, err
}

// GetFlightStatus returns the flight's current status code.
func (s *Service) GetFlightStatus(ctx context.Context, key string) (types.StatusCode, error) {
	rec, err := s.GetFlight(ctx, key)
	if err != nil {
		return types.StatusUnknown, err
	}
	return types.StatusCode(rec.StatusCode), nil
}

func (s *Service) GetFlight(ctx context.Context, key string) (ledger.FlightRecord, error) {
	var rec ledger.FlightRecord
	err := s.view(ctx, func(tx ledger.Tx) error {
		r, err := loadFlight(tx, key)
		rec = r
		return err
	})
	return rec, err
}

func loadFlight(tx ledger.Tx, key string) (ledger.FlightRecord, error) {
	rec, ok, err := tx.GetFlight(key)
	if err != nil {
		return ledger.FlightRecord{}, err
	}
	if !ok || !rec.Registered {
		return ledger.FlightRecord{}, ErrUnknownFlight
	}
	return rec, nil
}

package surety

import (
	"context"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"

	"github.com/davidahmann/surety/internal/crypto"
	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/logger"
	"github.com/davidahmann/surety/pkg/types"
)

// Payer moves value out of the marketplace to a passenger.
type Payer interface {
	Transfer(ctx context.Context, to string, amount *uint256.Int) error
}

type PayerFunc func(ctx context.Context, to string, amount *uint256.Int) error

func (f PayerFunc) Transfer(ctx context.Context, to string, amount *uint256.Int) error {
	return f(ctx, to, amount)
}

// LoggingPayer records transfers without moving anything. Settlement happens off-ledger.
type LoggingPayer struct {
	Log logger.Logger
}

func (p LoggingPayer) Transfer(_ context.Context, to string, amount *uint256.Int) error {
	p.Log.Info("payout transfer", "to", to, "amount", amount.Dec())
	return nil
}

// Withdrawal is the result of a completed payout.
type Withdrawal struct {
	PayoutID  string       `json:"payout_id"`
	FlightKey string       `json:"flight_key"`
	Passenger string       `json:"passenger"`
	Amount    *uint256.Int `json:"amount"`
	ReceiptID string       `json:"receipt_id"`
}

// BuyInsurance opens a policy for passenger on a registered, unresolved flight.
func (s *Service) BuyInsurance(ctx context.Context, passenger, flightKey string, amount *uint256.Int) (ledger.PolicyRecord, error) {
	passenger, err := normalizeAddress(passenger)
	if err != nil {
		return ledger.PolicyRecord{}, err
	}

	var out ledger.PolicyRecord
	_, err = s.mutate(ctx, types.OpBuyInsurance, passenger, flightKey, true, func(tx ledger.Tx, m *mutation) error {
		flight, err := loadFlight(tx, flightKey)
		if err != nil {
			return err
		}
		if amount == nil || amount.IsZero() {
			return ErrInvalidAmount
		}
		if amount.Gt(s.params.MaxInsurance.Big()) {
			return ErrExceedsCap
		}
		if flight.StatusCode != int(types.StatusUnknown) || flight.Credited {
			return ErrFlightResolved
		}
		if _, ok, err := tx.GetPolicy(flightKey, passenger); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInsured
		}
		rec := ledger.PolicyRecord{
			FlightKey: flightKey,
			Passenger: passenger,
			Amount:    *amount,
			CreatedAt: m.now,
			UpdatedAt: m.now,
		}
		if err := tx.PutPolicy(rec); err != nil {
			return err
		}
		m.set("amount", amount.Dec())
		out = rec
		return nil
	})
	return out, err
}

// creditInsurees runs the flight's one credit pass. Only an airline-caused delay credits
// policies; any resolution marks the flight processed.
func (s *Service) creditInsurees(tx ledger.Tx, m *mutation, flight *ledger.FlightRecord, code types.StatusCode) (int, error) {
	if flight.Credited {
		return 0, nil
	}
	credited := 0
	if code.TriggersPayout() {
		policies, err := tx.ListPoliciesByFlight(flight.Key)
		if err != nil {
			return 0, err
		}
		for _, p := range policies {
			if p.Withdrawn || !p.PayoutCredit.IsZero() {
				continue
			}
			credit, err := s.params.Payout(&p.Amount)
			if err != nil {
				return 0, err
			}
			p.PayoutCredit = *credit
			p.UpdatedAt = m.now
			if err := tx.PutPolicy(p); err != nil {
				return 0, err
			}
			m.emit(types.EventInsuranceCredited, types.InsuranceEvent{
				FlightKey: flight.Key,
				Passenger: p.Passenger,
				Amount:    credit.Dec(),
			})
			credited++
		}
	}
	flight.Credited = true
	m.set("credited_policies", credited)
	return credited, nil
}

// Withdraw pays out a passenger's credit. The credit is cleared and a pending payout is
// committed before the transfer. A failed transfer is compensated by restoring the credit.
func (s *Service) Withdraw(ctx context.Context, passenger, flightKey string) (Withdrawal, error) {
	passenger, err := normalizeAddress(passenger)
	if err != nil {
		return Withdrawal{}, err
	}

	var payout ledger.PayoutRecord
	_, err = s.mutate(ctx, types.OpWithdraw, passenger, flightKey, true, func(tx ledger.Tx, m *mutation) error {
		policy, ok, err := tx.GetPolicy(flightKey, passenger)
		if err != nil {
			return err
		}
		if !ok || policy.Withdrawn || policy.PayoutCredit.IsZero() {
			return ErrNoCredit
		}
		head, _, err := tx.LatestReceipt()
		if err != nil {
			return err
		}
		payout = ledger.PayoutRecord{
			PayoutID:  payoutID(flightKey, passenger, head.Seq+1),
			FlightKey: flightKey,
			Passenger: passenger,
			Amount:    policy.PayoutCredit,
			Status:    ledger.PayoutPending,
			CreatedAt: m.now,
			UpdatedAt: m.now,
		}
		policy.PayoutCredit.Clear()
		policy.Withdrawn = true
		policy.UpdatedAt = m.now
		if err := tx.PutPolicy(policy); err != nil {
			return err
		}
		if err := tx.PutPayout(payout); err != nil {
			return err
		}
		m.set("payout_id", payout.PayoutID)
		m.set("amount", payout.Amount.Dec())
		return nil
	})
	if err != nil {
		return Withdrawal{}, err
	}

	amount := payout.Amount.Clone()
	if terr := s.payer.Transfer(ctx, passenger, amount); terr != nil {
		s.countWithdrawal("failed")
		if cerr := s.revertWithdrawal(context.WithoutCancel(ctx), payout, terr); cerr != nil {
			return Withdrawal{}, fmt.Errorf("%w: %v (compensation failed: %v)", ErrTransferFailed, terr, cerr)
		}
		return Withdrawal{}, fmt.Errorf("%w: %v", ErrTransferFailed, terr)
	}
	s.countWithdrawal("sent")

	w := Withdrawal{PayoutID: payout.PayoutID, FlightKey: flightKey, Passenger: passenger, Amount: amount}
	m, err := s.mutate(context.WithoutCancel(ctx), types.OpPayoutSent, passenger, flightKey, false, func(tx ledger.Tx, m *mutation) error {
		rec, ok, err := tx.GetPayout(payout.PayoutID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("payout %s vanished", payout.PayoutID)
		}
		rec.Status = ledger.PayoutSent
		rec.UpdatedAt = m.now
		if err := tx.PutPayout(rec); err != nil {
			return err
		}
		m.set("payout_id", rec.PayoutID)
		m.set("amount", rec.Amount.Dec())
		m.emit(types.EventInsuranceWithdrawn, types.InsuranceEvent{
			FlightKey: flightKey,
			Passenger: passenger,
			Amount:    rec.Amount.Dec(),
		})
		return nil
	})
	if err != nil {
		// The value has moved; the payout stays pending until reconciled.
		return w, fmt.Errorf("%w: payout %s: %v", ErrPayoutUnrecorded, payout.PayoutID, err)
	}
	w.ReceiptID = m.receipt.ReceiptID
	return w, nil
}

func (s *Service) revertWithdrawal(ctx context.Context, payout ledger.PayoutRecord, cause error) error {
	_, err := s.mutate(ctx, types.OpWithdrawReverted, payout.Passenger, payout.FlightKey, false, func(tx ledger.Tx, m *mutation) error {
		policy, ok, err := tx.GetPolicy(payout.FlightKey, payout.Passenger)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("policy for payout %s vanished", payout.PayoutID)
		}
		policy.PayoutCredit = payout.Amount
		policy.Withdrawn = false
		policy.UpdatedAt = m.now
		if err := tx.PutPolicy(policy); err != nil {
			return err
		}
		msg := cause.Error()
		payout.Status = ledger.PayoutFailed
		payout.LastError = &msg
		payout.UpdatedAt = m.now
		if err := tx.PutPayout(payout); err != nil {
			return err
		}
		m.set("payout_id", payout.PayoutID)
		m.set("amount", payout.Amount.Dec())
		m.set("error", msg)
		return nil
	})
	return err
}

func (s *Service) countWithdrawal(result string) {
	if s.metrics != nil {
		s.metrics.Withdrawals.WithLabelValues(result).Inc()
	}
}

func payoutID(flightKey, passenger string, seq int64) string {
	return "payout-" + crypto.Keccak256Hex([]byte(flightKey), []byte{0}, []byte(passenger), []byte{0}, []byte(strconv.FormatInt(seq, 10)))[2:18]
}

// GetPolicy returns passenger's policy on flightKey.
func (s *Service) GetPolicy(ctx context.Context, passenger, flightKey string) (ledger.PolicyRecord, error) {
	passenger, err := normalizeAddress(passenger)
	if err != nil {
		return ledger.PolicyRecord{}, err
	}
	var rec ledger.PolicyRecord
	err = s.view(ctx, func(tx ledger.Tx) error {
		p, ok, err := tx.GetPolicy(flightKey, passenger)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownPolicy
		}
		rec = p
		return nil
	})
	return rec, err
}

// GetPayout returns a payout record by id.
func (s *Service) GetPayout(ctx context.Context, payoutID string) (ledger.PayoutRecord, error) {
	var rec ledger.PayoutRecord
	err := s.view(ctx, func(tx ledger.Tx) error {
		p, ok, err := tx.GetPayout(payoutID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownPayout
		}
		rec = p
		return nil
	})
	return rec, err
}

package surety

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/pkg/types"
)

// RegistrationResult describes where a candidate stands after a proposal or vote.
type RegistrationResult struct {
	Candidate  string `json:"candidate"`
	Registered bool   `json:"registered"`
	Votes      int    `json:"votes"`
	// Needed is the vote count that would register the candidate against the current membership.
	Needed    int    `json:"needed"`
	ReceiptID string `json:"receipt_id"`
}

// votesNeeded is the smallest v with v*2 > registered.
func votesNeeded(registered int) int {
	return registered/2 + 1
}

// requireFundedAirline fails with notAllowed unless addr is a registered, funded airline.
func requireFundedAirline(tx ledger.Tx, addr string, notAllowed error) (ledger.AirlineRecord, error) {
	rec, ok, err := tx.GetAirline(addr)
	if err != nil {
		return ledger.AirlineRecord{}, err
	}
	if !ok || !rec.Registered || !rec.Funded {
		return ledger.AirlineRecord{}, notAllowed
	}
	return rec, nil
}

// RegisterAirline admits candidate directly while membership is below the bootstrap
// threshold. Past it, the call proposes candidate and casts requester's vote.
func (s *Service) RegisterAirline(ctx context.Context, candidate, name, requester string) (RegistrationResult, error) {
	candidate, err := normalizeAddress(candidate)
	if err != nil {
		return RegistrationResult{}, err
	}
	requester, err = normalizeAddress(requester)
	if err != nil {
		return RegistrationResult{}, err
	}

	var res RegistrationResult
	m, err := s.mutate(ctx, types.OpRegisterAirline, requester, candidate, true, func(tx ledger.Tx, m *mutation) error {
		if _, err := requireFundedAirline(tx, requester, ErrUnauthorized); err != nil {
			return err
		}
		if err := s.requireNotRegistered(tx, candidate); err != nil {
			return err
		}
		count, err := tx.CountRegisteredAirlines()
		if err != nil {
			return err
		}
		m.set("name", name)

		if count < s.params.BootstrapAirlines {
			if err := s.admit(tx, m, candidate, name, 0); err != nil {
				return err
			}
			res = RegistrationResult{Candidate: candidate, Registered: true}
			m.set("registered", true)
			return nil
		}

		round, ok, err := tx.GetCandidate(candidate)
		if err != nil {
			return err
		}
		if !ok {
			round = ledger.CandidateRecord{Address: candidate, Name: name, ProposedBy: requester, OpenedAt: m.now}
			if err := tx.PutCandidate(round); err != nil {
				return err
			}
		}
		res, err = s.castVote(tx, m, round, requester, count)
		return err
	})
	if err != nil {
		return RegistrationResult{}, err
	}
	res.ReceiptID = m.receipt.ReceiptID
	return res, nil
}

// VoteForAirline adds voter's vote to candidate's open round.
func (s *Service) VoteForAirline(ctx context.Context, candidate, voter string) (RegistrationResult, error) {
	candidate, err := normalizeAddress(candidate)
	if err != nil {
		return RegistrationResult{}, err
	}
	voter, err = normalizeAddress(voter)
	if err != nil {
		return RegistrationResult{}, err
	}

	var res RegistrationResult
	m, err := s.mutate(ctx, types.OpVoteAirline, voter, candidate, true, func(tx ledger.Tx, m *mutation) error {
		if _, err := requireFundedAirline(tx, voter, ErrUnauthorized); err != nil {
			return err
		}
		if err := s.requireNotRegistered(tx, candidate); err != nil {
			return err
		}
		round, ok, err := tx.GetCandidate(candidate)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoOpenRound
		}
		count, err := tx.CountRegisteredAirlines()
		if err != nil {
			return err
		}
		res, err = s.castVote(tx, m, round, voter, count)
		return err
	})
	if err != nil {
		return RegistrationResult{}, err
	}
	res.ReceiptID = m.receipt.ReceiptID
	return res, nil
}

// castVote records one vote and admits the candidate once votes strictly exceed half
// of the live registered count.
func (s *Service) castVote(tx ledger.Tx, m *mutation, round ledger.CandidateRecord, voter string, registered int) (RegistrationResult, error) {
	voted, err := tx.HasVote(round.Address, voter)
	if err != nil {
		return RegistrationResult{}, err
	}
	if voted {
		return RegistrationResult{}, ErrDuplicateVote
	}
	if err := tx.PutVote(ledger.VoteRecord{Candidate: round.Address, Voter: voter, CastAt: m.now}); err != nil {
		return RegistrationResult{}, err
	}
	votes, err := tx.CountVotes(round.Address)
	if err != nil {
		return RegistrationResult{}, err
	}

	res := RegistrationResult{Candidate: round.Address, Votes: votes, Needed: votesNeeded(registered)}
	m.set("votes", votes)
	m.set("registered_airlines", registered)

	if votes*2 > registered {
		if err := s.admit(tx, m, round.Address, round.Name, votes); err != nil {
			return RegistrationResult{}, err
		}
		if err := tx.DeleteVotes(round.Address); err != nil {
			return RegistrationResult{}, err
		}
		if err := tx.DeleteCandidate(round.Address); err != nil {
			return RegistrationResult{}, err
		}
		res.Registered = true
	}
	m.set("registered", res.Registered)
	return res, nil
}

func (s *Service) requireNotRegistered(tx ledger.Tx, candidate string) error {
	existing, ok, err := tx.GetAirline(candidate)
	if err != nil {
		return err
	}
	if ok && existing.Registered {
		return ErrAlreadyRegistered
	}
	return nil
}

func (s *Service) admit(tx ledger.Tx, m *mutation, address, name string, votes int) error {
	rec, ok, err := tx.GetAirline(address)
	if err != nil {
		return err
	}
	if !ok {
		rec = ledger.AirlineRecord{Address: address, CreatedAt: m.now}
	}
	rec.Name = name
	rec.Registered = true
	rec.UpdatedAt = m.now
	if err := tx.PutAirline(rec); err != nil {
		return err
	}
	m.emit(types.EventAirlineRegistered, types.AirlineRegisteredEvent{Address: address, Name: name, Votes: votes})
	return nil
}

// CancelRegistrationRound abandons candidate's open round and discards its votes. Owner only.
func (s *Service) CancelRegistrationRound(ctx context.Context, candidate, authority string) error {
	candidate, err := normalizeAddress(candidate)
	if err != nil {
		return err
	}
	authority, err = normalizeAddress(authority)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, types.OpCancelRound, authority, candidate, true, func(tx ledger.Tx, m *mutation) error {
		if err := requireOwner(tx, authority); err != nil {
			return err
		}
		if _, ok, err := tx.GetCandidate(candidate); err != nil {
			return err
		} else if !ok {
			return ErrNoOpenRound
		}
		votes, err := tx.CountVotes(candidate)
		if err != nil {
			return err
		}
		if err := tx.DeleteVotes(candidate); err != nil {
			return err
		}
		if err := tx.DeleteCandidate(candidate); err != nil {
			return err
		}
		m.set("discarded_votes", votes)
		return nil
	})
	return err
}

// FundAirline adds a deposit of at least min_airline_funding to a registered airline.
func (s *Service) FundAirline(ctx context.Context, requester string, amount *uint256.Int) (ledger.AirlineRecord, error) {
	requester, err := normalizeAddress(requester)
	if err != nil {
		return ledger.AirlineRecord{}, err
	}
	if amount == nil {
		return ledger.AirlineRecord{}, fmt.Errorf("%w: missing amount", ErrInvalidAmount)
	}

	var out ledger.AirlineRecord
	_, err = s.mutate(ctx, types.OpFundAirline, requester, requester, true, func(tx ledger.Tx, m *mutation) error {
		rec, ok, err := tx.GetAirline(requester)
		if err != nil {
			return err
		}
		if !ok || !rec.Registered {
			return ErrUnauthorized
		}
		if amount.Lt(s.params.MinAirlineFunding.Big()) {
			return ErrInsufficientFunds
		}
		total, overflow := new(uint256.Int).AddOverflow(&rec.FundedAmount, amount)
		if overflow {
			return fmt.Errorf("%w: funded amount overflows", ErrInvalidAmount)
		}
		rec.FundedAmount = *total
		rec.Funded = true
		rec.UpdatedAt = m.now
		if err := tx.PutAirline(rec); err != nil {
			return err
		}
		m.set("amount", amount.Dec())
		m.set("funded_total", total.Dec())
		out = rec
		return nil
	})
	return out, err
}

// IsAirline reports whether address is a registered airline.
func (s *Service) IsAirline(ctx context.Context, address string) (bool, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return false, err
	}
	var registered bool
	err = s.view(ctx, func(tx ledger.Tx) error {
		rec, ok, err := tx.GetAirline(address)
		registered = ok && rec.Registered
		return err
	})
	return registered, err
}

func (s *Service) GetAirline(ctx context.Context, address string) (ledger.AirlineRecord, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return ledger.AirlineRecord{}, err
	}
	var rec ledger.AirlineRecord
	err = s.view(ctx, func(tx ledger.Tx) error {
		r, ok, err := tx.GetAirline(address)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownAirline
		}
		rec = r
		return nil
	})
	return rec, err
}

package surety

import (
	"context"
	"strconv"

	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/pkg/types"
)

// operational reads the gate. A store that was never bootstrapped is closed.
func operational(tx ledger.Tx) (bool, error) {
	v, ok, err := tx.GetSetting(ledger.SettingOperational)
	if err != nil || !ok {
		return false, err
	}
	return strconv.ParseBool(v)
}

func requireOperational(tx ledger.Tx) error {
	open, err := operational(tx)
	if err != nil {
		return err
	}
	if !open {
		return ErrNotOperational
	}
	return nil
}

func requireOwner(tx ledger.Tx, authority string) error {
	owner, ok, err := tx.GetSetting(ledger.SettingOwner)
	if err != nil {
		return err
	}
	if !ok || owner != authority {
		return ErrUnauthorized
	}
	return nil
}

// IsOperational reports whether mutating operations are accepted.
func (s *Service) IsOperational(ctx context.Context) (bool, error) {
	var open bool
	err := s.view(ctx, func(tx ledger.Tx) error {
		v, err := operational(tx)
		open = v
		return err
	})
	return open, err
}

// SetOperatingStatus opens or closes the gate. Only the owner may call it, and it
// works while the gate is closed.
func (s *Service) SetOperatingStatus(ctx context.Context, open bool, authority string) error {
	authority, err := normalizeAddress(authority)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, types.OpSetOperating, authority, "", false, func(tx ledger.Tx, m *mutation) error {
		if err := requireOwner(tx, authority); err != nil {
			return err
		}
		if err := tx.PutSetting(ledger.SettingOperational, strconv.FormatBool(open)); err != nil {
			return err
		}
		m.set("operational", open)
		return nil
	})
	return err
}

package surety

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/logger"
	"github.com/davidahmann/surety/internal/metrics"
	"github.com/davidahmann/surety/internal/params"
	"github.com/davidahmann/surety/pkg/types"
)

// Signer signs journal receipts and exposes its public key for verification.
type Signer interface {
	ledger.Signer
	PublicKey() ed25519.PublicKey
}

type Options struct {
	Store   ledger.Store
	Params  params.Params
	Signer  Signer
	Indexes IndexSource
	Payer   Payer
	Logger  logger.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	// Notify is called after a commit that queued outbox events.
	Notify func()
}

// Service applies marketplace operations to a ledger.Store. Every mutation runs in
// one store transaction and appends a signed receipt to the journal.
type Service struct {
	store   ledger.Store
	params  params.Params
	signer  Signer
	indexes IndexSource
	payer   Payer
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	notify  func()
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("surety: store is required")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("surety: signer is required")
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("surety: params: %w", err)
	}
	s := &Service{
		store:   opts.Store,
		params:  opts.Params,
		signer:  opts.Signer,
		indexes: opts.Indexes,
		payer:   opts.Payer,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		notify:  opts.Notify,
	}
	if s.indexes == nil {
		s.indexes = KeccakIndexSource{}
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.payer == nil {
		s.payer = LoggingPayer{Log: s.log}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Service) Params() params.Params {
	return s.params
}

// errNoop rolls a transaction back without reporting a failure.
var errNoop = errors.New("no-op")

type pendingEvent struct {
	kind types.EventKind
	body any
}

// mutation collects what an operation wants journaled alongside its writes.
type mutation struct {
	at      time.Time
	now     string
	payload map[string]any
	events  []pendingEvent
	receipt ledger.ReceiptRecord
}

func (m *mutation) set(key string, value any) {
	m.payload[key] = value
}

func (m *mutation) emit(kind types.EventKind, body any) {
	m.events = append(m.events, pendingEvent{kind: kind, body: body})
}

// mutate runs fn in a store transaction, then appends the receipt and outbox rows
// in the same transaction. gated operations fail while the marketplace is paused.
func (s *Service) mutate(ctx context.Context, op types.Op, actor, subject string, gated bool, fn func(ledger.Tx, *mutation) error) (*mutation, error) {
	began := time.Now()
	at := s.now().UTC()
	m := &mutation{at: at, now: ledger.FormatTime(at), payload: map[string]any{}}

	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if gated {
			if err := requireOperational(tx); err != nil {
				return err
			}
		}
		if err := fn(tx, m); err != nil {
			return err
		}
		if err := s.registerSigningKey(tx, m.now); err != nil {
			return err
		}
		rec, err := ledger.AppendSigned(tx, s.signer, op, actor, subject, m.payload, m.now)
		if err != nil {
			return fmt.Errorf("append receipt: %w", err)
		}
		m.receipt = rec
		for i, ev := range m.events {
			body, err := json.Marshal(ev.body)
			if err != nil {
				return fmt.Errorf("encode %s event: %w", ev.kind, err)
			}
			if err := tx.PutOutbox(ledger.OutboxRecord{
				EventID:       fmt.Sprintf("evt-%012d-%02d", rec.Seq, i),
				Kind:          string(ev.kind),
				PayloadJSON:   body,
				Status:        ledger.OutboxPending,
				NextAttemptAt: m.now,
				CreatedAt:     m.now,
				UpdatedAt:     m.now,
			}); err != nil {
				return fmt.Errorf("queue %s event: %w", ev.kind, err)
			}
		}
		return nil
	})

	if errors.Is(err, errNoop) {
		return m, nil
	}
	s.metrics.Observe(string(op), time.Since(began).Seconds(), err)
	if err != nil {
		if IsRejection(err) {
			s.log.Debug("operation rejected", "op", op, "actor", actor, "subject", subject, "error", err)
		} else {
			s.log.Error("operation failed", "op", op, "actor", actor, "subject", subject, "error", err)
		}
		return nil, err
	}

	s.log.Info("operation applied", "op", op, "actor", actor, "subject", subject, "seq", m.receipt.Seq)
	if len(m.events) > 0 && s.notify != nil {
		s.notify()
	}
	return m, nil
}

// registerSigningKey records the signer's public key the first time it signs
// into this store, so receipts from a rotated or ephemeral key stay verifiable.
// A key id already bound to a different public key is refused.
func (s *Service) registerSigningKey(tx ledger.Tx, now string) error {
	pub := s.signer.PublicKey()
	existing, ok, err := tx.GetKey(s.signer.KeyID())
	if err != nil {
		return err
	}
	if ok {
		if !bytes.Equal(existing.PublicKey, pub) {
			return fmt.Errorf("%w: %s", ErrKeyConflict, s.signer.KeyID())
		}
		return nil
	}
	return tx.PutKey(ledger.KeyRecord{KeyID: s.signer.KeyID(), PublicKey: pub, CreatedAt: now})
}

// view runs fn against a read-only snapshot of the store.
func (s *Service) view(ctx context.Context, fn func(ledger.Tx) error) error {
	return s.store.View(ctx, fn)
}

func normalizeAddress(addr string) (string, error) {
	a := strings.ToLower(strings.TrimSpace(addr))
	if a == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidArgument)
	}
	return a, nil
}

// Bootstrap records the owner, registers the first airline unfunded and opens the gate.
// Re-running it with the same owner is a no-op.
func (s *Service) Bootstrap(ctx context.Context, owner, firstAirline, name string) error {
	owner, err := normalizeAddress(owner)
	if err != nil {
		return err
	}
	first, err := normalizeAddress(firstAirline)
	if err != nil {
		return err
	}

	_, err = s.mutate(ctx, types.OpBootstrap, owner, first, false, func(tx ledger.Tx, m *mutation) error {
		existing, ok, err := tx.GetSetting(ledger.SettingOwner)
		if err != nil {
			return err
		}
		if ok {
			if existing == owner {
				return errNoop
			}
			return ErrAlreadyBootstrapped
		}

		if err := tx.PutSetting(ledger.SettingOwner, owner); err != nil {
			return err
		}
		if err := tx.PutAirline(ledger.AirlineRecord{
			Address:    first,
			Name:       name,
			Registered: true,
			CreatedAt:  m.now,
			UpdatedAt:  m.now,
		}); err != nil {
			return err
		}
		if err := tx.PutSetting(ledger.SettingOperational, "true"); err != nil {
			return err
		}
		if err := tx.PutSetting(ledger.SettingOracleNonce, "0"); err != nil {
			return err
		}

		m.set("owner", owner)
		m.set("first_airline", first)
		m.set("name", name)
		m.set("params_id", s.params.ParamsID)
		m.set("params_version", s.params.ParamsVersion)
		m.emit(types.EventAirlineRegistered, types.AirlineRegisteredEvent{Address: first, Name: name})
		return nil
	})
	return err
}

// GetReceipt returns a journal entry by id.
func (s *Service) GetReceipt(ctx context.Context, receiptID string) (ledger.ReceiptRecord, error) {
	var rec ledger.ReceiptRecord
	err := s.view(ctx, func(tx ledger.Tx) error {
		r, ok, err := tx.GetReceipt(receiptID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrReceiptNotFound
		}
		rec = r
		return nil
	})
	return rec, err
}

// VerifyJournal checks every receipt's signature and chain link and returns the count.
func (s *Service) VerifyJournal(ctx context.Context) (int64, error) {
	var n int64
	err := s.view(ctx, func(tx ledger.Tx) error {
		count, err := ledger.VerifyJournal(tx, ledger.TxKeyLookup(tx))
		n = count
		return err
	})
	return n, err
}

// ReceiptCheck is the outcome of verifying one journal entry against its key and predecessor.
type ReceiptCheck struct {
	ReceiptID string `json:"receipt_id"`
	Seq       int64  `json:"seq"`
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
}

// VerifyReceipt checks a receipt's signature and its link to the previous receipt.
func (s *Service) VerifyReceipt(ctx context.Context, receiptID string) (ReceiptCheck, error) {
	var out ReceiptCheck
	err := s.view(ctx, func(tx ledger.Tx) error {
		rec, ok, err := tx.GetReceipt(receiptID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrReceiptNotFound
		}
		out = ReceiptCheck{ReceiptID: rec.ReceiptID, Seq: rec.Seq}

		var prev *ledger.ReceiptRecord
		if rec.PrevReceiptID != "" {
			p, ok, err := tx.GetReceipt(rec.PrevReceiptID)
			if err != nil {
				return err
			}
			if ok {
				prev = &p
			}
		}
		if verr := ledger.VerifyChain(prev, []ledger.ReceiptRecord{rec}, ledger.TxKeyLookup(tx)); verr != nil {
			out.Error = verr.Error()
			return nil
		}
		out.Valid = true
		return nil
	})
	return out, err
}

package surety

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/davidahmann/surety/internal/crypto"
	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/metrics"
	"github.com/davidahmann/surety/internal/params"
)

const (
	owner     = "0xowner"
	airlineA  = "0xa1"
	airlineB  = "0xa2"
	airlineC  = "0xa3"
	airlineD  = "0xa4"
	airlineE  = "0xa5"
	airlineF  = "0xa6"
	passenger = "0xp1"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	svc     *Service
	store   *ledger.InMemoryStore
	clock   *fakeClock
	metrics *metrics.Metrics
	signer  *crypto.Signer
}

type harnessOption func(*Options)

func withParams(fn func(*params.Params)) harnessOption {
	return func(o *Options) { fn(&o.Params) }
}

func withIndexes(src IndexSource) harnessOption {
	return func(o *Options) { o.Indexes = src }
}

func withPayer(p Payer) harnessOption {
	return func(o *Options) { o.Payer = p }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	signer, err := crypto.NewSignerFromSeed("", bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)

	h := &harness{
		t:       t,
		ctx:     context.Background(),
		store:   ledger.NewInMemoryStore(),
		clock:   &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		metrics: metrics.New(),
		signer:  signer,
	}
	o := Options{
		Store:   h.store,
		Params:  params.Default(),
		Signer:  signer,
		Metrics: h.metrics,
		Now:     h.clock.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h.svc, err = New(o)
	require.NoError(t, err)
	return h
}

// bootstrapped returns a harness with airline A registered and funded.
func bootstrapped(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := newHarness(t, opts...)
	require.NoError(t, h.svc.Bootstrap(h.ctx, owner, airlineA, "Alpha Air"))
	h.fund(airlineA)
	return h
}

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), params.Ether)
}

func (h *harness) fund(addr string) {
	h.t.Helper()
	_, err := h.svc.FundAirline(h.ctx, addr, ether(10))
	require.NoError(h.t, err)
}

// withMembers registers and funds airlines B, C and D through the bootstrap phase.
func (h *harness) withMembers() {
	h.t.Helper()
	for _, addr := range []string{airlineB, airlineC, airlineD} {
		res, err := h.svc.RegisterAirline(h.ctx, addr, "member "+addr, airlineA)
		require.NoError(h.t, err)
		require.True(h.t, res.Registered)
		h.fund(addr)
	}
}

func (h *harness) registerOracle(addr string) ledger.OracleRecord {
	h.t.Helper()
	rec, err := h.svc.RegisterOracle(h.ctx, addr, ether(1))
	require.NoError(h.t, err)
	return rec
}

func (h *harness) receipts() []ledger.ReceiptRecord {
	h.t.Helper()
	var out []ledger.ReceiptRecord
	require.NoError(h.t, h.store.View(h.ctx, func(tx ledger.Tx) error {
		recs, err := tx.ListReceipts(0, 10000)
		out = recs
		return err
	}))
	return out
}

func (h *harness) outbox() []ledger.OutboxRecord {
	h.t.Helper()
	var out []ledger.OutboxRecord
	require.NoError(h.t, h.store.View(h.ctx, func(tx ledger.Tx) error {
		recs, err := tx.ListOutboxDue("9999", 10000)
		out = recs
		return err
	}))
	return out
}

func (h *harness) outboxKinds() []string {
	h.t.Helper()
	kinds := []string{}
	for _, rec := range h.outbox() {
		kinds = append(kinds, rec.Kind)
	}
	return kinds
}

// Package oraclenode runs a fleet of oracles that answer oracle.request events.
package oraclenode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/davidahmann/surety/internal/events"
	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/logger"
	"github.com/davidahmann/surety/internal/surety"
	"github.com/davidahmann/surety/pkg/types"
)

// Ledger is the part of the marketplace an oracle talks to. *surety.Service
// satisfies it in process and HTTPLedger over the gateway API.
type Ledger interface {
	RegisterOracle(ctx context.Context, address string, stake *uint256.Int) (ledger.OracleRecord, error)
	GetMyIndexes(ctx context.Context, oracle string) ([]uint8, error)
	SubmitOracleResponse(ctx context.Context, oracle string, index uint8, airline, flight string, timestamp int64, code types.StatusCode) (surety.Submission, error)
}

type Options struct {
	// Addresses are the oracle identities this node operates.
	Addresses []string
	Stake     *uint256.Int
	Chooser   StatusChooser
	Log       logger.Logger
	// Retries bounds resubmission after transport errors. Rejections are never retried.
	Retries    int
	RetryDelay time.Duration
}

type Node struct {
	ledger  Ledger
	opts    Options
	log     logger.Logger
	chooser StatusChooser

	mu      sync.RWMutex
	indexes map[string][]uint8
}

func New(l Ledger, opts Options) (*Node, error) {
	if l == nil {
		return nil, fmt.Errorf("missing ledger")
	}
	if len(opts.Addresses) == 0 {
		return nil, fmt.Errorf("no oracle addresses")
	}
	if opts.Stake == nil {
		return nil, fmt.Errorf("missing stake")
	}
	if opts.Chooser == nil {
		opts.Chooser = NewRandomStatus(uint64(time.Now().UnixNano()), nil)
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	return &Node{
		ledger:  l,
		opts:    opts,
		log:     opts.Log,
		chooser: opts.Chooser,
		indexes: make(map[string][]uint8, len(opts.Addresses)),
	}, nil
}

// Register stakes every oracle that is not yet registered and loads the
// indexes of those that are.
func (n *Node) Register(ctx context.Context) error {
	for _, addr := range n.opts.Addresses {
		rec, err := n.ledger.RegisterOracle(ctx, addr, n.opts.Stake)
		var idx []uint8
		switch {
		case err == nil:
			idx = rec.Indexes
		case errors.Is(err, surety.ErrAlreadyRegistered):
			idx, err = n.ledger.GetMyIndexes(ctx, addr)
			if err != nil {
				return fmt.Errorf("load indexes for %s: %w", addr, err)
			}
		default:
			return fmt.Errorf("register oracle %s: %w", addr, err)
		}

		n.mu.Lock()
		n.indexes[addr] = idx
		n.mu.Unlock()
		n.log.Info("oracle ready", "oracle", addr, "indexes", idx)
	}
	return nil
}

// Indexes returns the indexes held by oracle after Register.
func (n *Node) Indexes(oracle string) []uint8 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]uint8(nil), n.indexes[oracle]...)
}

func (n *Node) holders(index uint8) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []string
	for addr, idx := range n.indexes {
		for _, i := range idx {
			if i == index {
				out = append(out, addr)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// HandleRequest submits one response per oracle holding the request index and
// returns how many were accepted.
func (n *Node) HandleRequest(ctx context.Context, req types.OracleRequestEvent) (int, error) {
	accepted := 0
	var errs []error
	for _, oracle := range n.holders(req.Index) {
		code := n.chooser.Choose(oracle, req)
		sub, err := n.submit(ctx, oracle, req, code)
		switch {
		case err == nil:
			accepted++
			n.log.Debug("oracle response accepted", "oracle", oracle, "request_id", req.RequestID, "status_code", int(code), "resolved", sub.Resolved)
		case surety.IsRejection(err):
			n.log.Debug("oracle response rejected", "oracle", oracle, "request_id", req.RequestID, "error", err)
		default:
			errs = append(errs, fmt.Errorf("oracle %s: %w", oracle, err))
		}
	}
	return accepted, errors.Join(errs...)
}

func (n *Node) submit(ctx context.Context, oracle string, req types.OracleRequestEvent, code types.StatusCode) (surety.Submission, error) {
	var lastErr error
	for attempt := 0; attempt <= n.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return surety.Submission{}, ctx.Err()
			case <-time.After(n.opts.RetryDelay << (attempt - 1)):
			}
		}
		sub, err := n.ledger.SubmitOracleResponse(ctx, oracle, req.Index, req.Airline, req.Flight, req.Timestamp, code)
		if err == nil || surety.IsRejection(err) {
			return sub, err
		}
		lastErr = err
		n.log.Warn("oracle submit failed", "oracle", oracle, "request_id", req.RequestID, "attempt", attempt+1, "error", err)
	}
	return surety.Submission{}, lastErr
}

// Handle adapts the node to an events.Subscriber.
func (n *Node) Handle(ctx context.Context, ev events.Event) error {
	if ev.Kind != types.EventOracleRequest {
		return nil
	}
	req, err := events.Decode[types.OracleRequestEvent](ev)
	if err != nil {
		return err
	}
	_, err = n.HandleRequest(ctx, req)
	return err
}

// Run answers oracle.request events from sub until ctx is cancelled.
func (n *Node) Run(ctx context.Context, sub events.Subscriber) error {
	return sub.Subscribe(ctx, []types.EventKind{types.EventOracleRequest}, n.Handle)
}

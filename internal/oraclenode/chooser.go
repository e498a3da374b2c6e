package oraclenode

import (
	"math/rand/v2"
	"sync"

	"github.com/davidahmann/surety/pkg/types"
)

// StatusChooser decides what an oracle reports for a request.
type StatusChooser interface {
	Choose(oracle string, req types.OracleRequestEvent) types.StatusCode
}

// FixedStatus reports the same code for every request.
type FixedStatus types.StatusCode

func (f FixedStatus) Choose(string, types.OracleRequestEvent) types.StatusCode {
	return types.StatusCode(f)
}

// RandomStatus picks uniformly from Codes, the way a simulated oracle fleet does.
type RandomStatus struct {
	mu    sync.Mutex
	rng   *rand.Rand
	codes []types.StatusCode
}

// NewRandomStatus seeds the chooser. An empty codes list uses every reportable status.
func NewRandomStatus(seed uint64, codes []types.StatusCode) *RandomStatus {
	if len(codes) == 0 {
		codes = types.ReportableStatuses
	}
	return &RandomStatus{
		rng:   rand.New(rand.NewPCG(seed, seed^0x5eed)),
		codes: append([]types.StatusCode(nil), codes...),
	}
}

func (r *RandomStatus) Choose(string, types.OracleRequestEvent) types.StatusCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codes[r.rng.IntN(len(r.codes))]
}

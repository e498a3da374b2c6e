package surety

import (
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"github.com/davidahmann/surety/internal/crypto"
)

// IndexSource draws one oracle index in [0, space). nonce advances on every draw
// across the whole marketplace.
type IndexSource interface {
	Index(address string, nonce uint64, space int) uint8
}

// KeccakIndexSource hashes (address, nonce). Draws are reproducible from the journal.
type KeccakIndexSource struct{}

func (KeccakIndexSource) Index(address string, nonce uint64, space int) uint8 {
	sum := crypto.Keccak256([]byte(address), crypto.Uint64Bytes(nonce))
	v := binary.BigEndian.Uint64(sum[len(sum)-8:])
	return uint8(v % uint64(space))
}

// SeededIndexSource draws from a seeded PCG stream and ignores address and nonce.
type SeededIndexSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSeededIndexSource(seed uint64) *SeededIndexSource {
	return &SeededIndexSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SeededIndexSource) Index(_ string, _ uint64, space int) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint8(s.rng.IntN(space))
}

// SequenceIndexSource replays a fixed list of indexes, wrapping around.
type SequenceIndexSource struct {
	mu   sync.Mutex
	seq  []uint8
	next int
}

func NewSequenceIndexSource(seq ...uint8) *SequenceIndexSource {
	return &SequenceIndexSource{seq: seq}
}

func (s *SequenceIndexSource) Index(_ string, _ uint64, space int) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seq) == 0 {
		return 0
	}
	v := s.seq[s.next%len(s.seq)]
	s.next++
	return uint8(int(v) % space)
}

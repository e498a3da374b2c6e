package ledger

import (
	"context"
	"sort"
	"sync"
)

type InMemoryStore struct {
	mu sync.Mutex

	settings   map[string]string
	airlines   map[string]AirlineRecord
	candidates map[string]CandidateRecord
	votes      map[voteKey]VoteRecord
	flights    map[string]FlightRecord
	policies   map[policyKey]PolicyRecord
	oracles    map[string]OracleRecord
	requests   map[string]OracleRequestRecord
	responses  map[responseKey]OracleResponseRecord
	payouts    map[string]PayoutRecord
	keys       map[string]KeyRecord
	outbox     map[string]OutboxRecord
	idem       map[string]IdempotencyRecord

	receipts     []ReceiptRecord
	receiptIndex map[string]int
}

type voteKey struct{ candidate, voter string }

type policyKey struct{ flightKey, passenger string }

type responseKey struct{ requestID, oracle string }

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		settings:     make(map[string]string),
		airlines:     make(map[string]AirlineRecord),
		candidates:   make(map[string]CandidateRecord),
		votes:        make(map[voteKey]VoteRecord),
		flights:      make(map[string]FlightRecord),
		policies:     make(map[policyKey]PolicyRecord),
		oracles:      make(map[string]OracleRecord),
		requests:     make(map[string]OracleRequestRecord),
		responses:    make(map[responseKey]OracleResponseRecord),
		payouts:      make(map[string]PayoutRecord),
		keys:         make(map[string]KeyRecord),
		outbox:       make(map[string]OutboxRecord),
		idem:         make(map[string]IdempotencyRecord),
		receiptIndex: make(map[string]int),
	}
}

// WithTx holds the store lock for the whole transaction and replays the undo log
// when fn fails.
func (s *InMemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *InMemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer tx.rollback()
	return fn(tx)
}

func (s *InMemoryStore) Close() error { return nil }

type memTx struct {
	s    *InMemoryStore
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func setUndo[K comparable, V any](t *memTx, m map[K]V, k K, v V) {
	old, had := m[k]
	t.undo = append(t.undo, func() {
		if had {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

func deleteUndo[K comparable, V any](t *memTx, m map[K]V, k K) {
	old, had := m[k]
	if !had {
		return
	}
	t.undo = append(t.undo, func() { m[k] = old })
	delete(m, k)
}

func (t *memTx) GetSetting(key string) (string, bool, error) {
	v, ok := t.s.settings[key]
	return v, ok, nil
}

func (t *memTx) PutSetting(key, value string) error {
	setUndo(t, t.s.settings, key, value)
	return nil
}

func (t *memTx) GetAirline(address string) (AirlineRecord, bool, error) {
	rec, ok := t.s.airlines[address]
	return rec, ok, nil
}

func (t *memTx) PutAirline(rec AirlineRecord) error {
	if rec.Address == "" {
		return ErrMissingID
	}
	setUndo(t, t.s.airlines, rec.Address, rec)
	return nil
}

func (t *memTx) CountRegisteredAirlines() (int, error) {
	n := 0
	for _, rec := range t.s.airlines {
		if rec.Registered {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetCandidate(address string) (CandidateRecord, bool, error) {
	rec, ok := t.s.candidates[address]
	return rec, ok, nil
}

func (t *memTx) PutCandidate(rec CandidateRecord) error {
	if rec.Address == "" {
		return ErrMissingID
	}
	setUndo(t, t.s.candidates, rec.Address, rec)
	return nil
}

func (t *memTx) DeleteCandidate(address string) error {
	deleteUndo(t, t.s.candidates, address)
	return nil
}

func (t *memTx) PutVote(rec VoteRecord) error {
	setUndo(t, t.s.votes, voteKey{rec.Candidate, rec.Voter}, rec)
	return nil
}

func (t *memTx) HasVote(candidate, voter string) (bool, error) {
	_, ok := t.s.votes[voteKey{candidate, voter}]
	return ok, nil
}

func (t *memTx) CountVotes(candidate string) (int, error) {
	n := 0
	for k := range t.s.votes {
		if k.candidate == candidate {
			n++
		}
	}
	return n, nil
}

func (t *memTx) DeleteVotes(candidate string) error {
	for k := range t.s.votes {
		if k.candidate == candidate {
			deleteUndo(t, t.s.votes, k)
		}
	}
	return nil
}

func (t *memTx) GetFlight(key string) (FlightRecord, bool, error) {
	rec, ok := t.s.flights[key]
	return rec, ok, nil
}

func (t *memTx) PutFlight(rec FlightRecord) error {
	if rec.Key == "" {
		return ErrMissingID
	}
	setUndo(t, t.s.flights, rec.Key, rec)
	return nil
}

func (t *memTx) GetPolicy(flightKey, passenger string) (PolicyRecord, bool, error) {
	rec, ok := t.s.policies[policyKey{flightKey, passenger}]
	return rec, ok, nil
}

func (t *memTx) PutPolicy(rec PolicyRecord) error {
	if rec.FlightKey == "" || rec.Passenger == "" {
		return ErrMissingID
	}
	setUndo(t, t.s.policies, policyKey{rec.FlightKey, rec.Passenger}, rec)
	return nil
}

func (t *memTx) ListPoliciesByFlight(flightKey string) ([]PolicyRecord, error) {
	out := []PolicyRecord{}
	for k, rec := range t.s.policies {
		if k.flightKey == flightKey {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Passenger < out[j].Passenger
	})
	return out, nil
}

func (t *memTx) GetOracle(address string) (OracleRecord, bool, error) {
	rec, ok := t.s.oracles[address]
	if ok {
		rec.Indexes = append([]uint8(nil), rec.Indexes...)
	}
	return rec, ok, nil
}

func (t *memTx) PutOracle(rec OracleRecord) error {
	if rec.Address == "" {
		return ErrMissingID
	}
	rec.Indexes = append([]uint8(nil), rec.Indexes...)
	setUndo(t, t.s.oracles, rec.Address, rec)
	return nil
}

func (t *memTx) GetOracleRequest(requestID string) (OracleRequestRecord, bool, error) {
	rec, ok := t.s.requests[requestID]
	return rec, ok, nil
}

func (t *memTx) GetLatestOracleRequest(flightKey string) (OracleRequestRecord, bool, error) {
	var (
		latest OracleRequestRecord
		found  bool
	)
	for _, rec := range t.s.requests {
		if rec.FlightKey != flightKey {
			continue
		}
		if !found || rec.Round > latest.Round {
			latest = rec
			found = true
		}
	}
	return latest, found, nil
}

func (t *memTx) PutOracleRequest(rec OracleRequestRecord) error {
	if rec.RequestID == "" {
		return ErrMissingID
	}
	setUndo(t, t.s.requests, rec.RequestID, rec)
	return nil
}

func (t *memTx) ListOpenOracleRequests(openedBefore string, limit int) ([]OracleRequestRecord, error) {
	out := []OracleRequestRecord{}
	for _, rec := range t.s.requests {
		if rec.Status != RequestOpen || rec.OpenedAt >= openedBefore {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt != out[j].OpenedAt {
			return out[i].OpenedAt < out[j].OpenedAt
		}
		return out[i].RequestID < out[j].RequestID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) PutOracleResponse(rec OracleResponseRecord) error {
	setUndo(t, t.s.responses, responseKey{rec.RequestID, rec.Oracle}, rec)
	return nil
}

func (t *memTx) HasOracleResponse(requestID, oracle string) (bool, error) {
	_, ok := t.s.responses[responseKey{requestID, oracle}]
	return ok, nil
}

func (t *memTx) CountOracleResponses(requestID string, statusCode int) (int, error) {
	n := 0
	for k, rec := range t.s.responses {
		if k.requestID == requestID && rec.StatusCode == statusCode {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetPayout(payoutID string) (PayoutRecord, bool, error) {
	rec, ok := t.s.payouts[payoutID]
	return rec, ok, nil
}

func (t *memTx) PutPayout(rec PayoutRecord) error {
	if rec.PayoutID == "" {
		return ErrMissingID
	}
	setUndo(t, t.s.payouts, rec.PayoutID, rec)
	return nil
}

func (t *memTx) AppendReceipt(rec ReceiptRecord) error {
	if rec.ReceiptID == "" {
		return ErrMissingID
	}
	if rec.Seq != int64(len(t.s.receipts))+1 {
		return ErrReceiptSeq
	}
	t.s.receipts = append(t.s.receipts, rec)
	t.s.receiptIndex[rec.ReceiptID] = len(t.s.receipts) - 1
	t.undo = append(t.undo, func() {
		t.s.receipts = t.s.receipts[:len(t.s.receipts)-1]
		delete(t.s.receiptIndex, rec.ReceiptID)
	})
	return nil
}

func (t *memTx) GetReceipt(receiptID string) (ReceiptRecord, bool, error) {
	i, ok := t.s.receiptIndex[receiptID]
	if !ok {
		return ReceiptRecord{}, false, nil
	}
	return t.s.receipts[i], true, nil
}

func (t *memTx) LatestReceipt() (ReceiptRecord, bool, error) {
	if len(t.s.receipts) == 0 {
		return ReceiptRecord{}, false, nil
	}
	return t.s.receipts[len(t.s.receipts)-1], true, nil
}

func (t *memTx) ListReceipts(afterSeq int64, limit int) ([]ReceiptRecord, error) {
	out := []ReceiptRecord{}
	for _, rec := range t.s.receipts {
		if rec.Seq <= afterSeq {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) PutKey(key KeyRecord) error {
	setUndo(t, t.s.keys, key.KeyID, key)
	return nil
}

func (t *memTx) GetKey(keyID string) (KeyRecord, bool, error) {
	key, ok := t.s.keys[keyID]
	return key, ok, nil
}

func (t *memTx) PutOutbox(rec OutboxRecord) error {
	if rec.EventID == "" {
		return ErrMissingID
	}
	setUndo(t, t.s.outbox, rec.EventID, rec)
	return nil
}

func (t *memTx) GetOutbox(eventID string) (OutboxRecord, bool, error) {
	rec, ok := t.s.outbox[eventID]
	return rec, ok, nil
}

func (t *memTx) ListOutboxDue(now string, limit int) ([]OutboxRecord, error) {
	out := []OutboxRecord{}
	for _, rec := range t.s.outbox {
		if rec.Status != OutboxPending {
			continue
		}
		if rec.NextAttemptAt > now {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].EventID < out[j].EventID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) PutIdempotencyKey(rec IdempotencyRecord) error {
	if rec.IdemKey == "" {
		return ErrMissingID
	}
	rec.Body = append([]byte(nil), rec.Body...)
	setUndo(t, t.s.idem, rec.IdemKey, rec)
	return nil
}

func (t *memTx) GetIdempotencyKey(key string) (IdempotencyRecord, bool, error) {
	rec, ok := t.s.idem[key]
	return rec, ok, nil
}

func (t *memTx) DeleteIdempotencyKey(key string) error {
	deleteUndo(t, t.s.idem, key)
	return nil
}

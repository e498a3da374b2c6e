package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/holiman/uint256"
)

// Store provides serialized, all-or-nothing transactions over the marketplace state.
// WithTx commits when fn returns nil and rolls back otherwise. View always rolls back.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx is the transactional view of the ledger. Getters report whether the record exists.
type Tx interface {
	GetSetting(key string) (string, bool, error)
	PutSetting(key, value string) error

	GetAirline(address string) (AirlineRecord, bool, error)
	PutAirline(rec AirlineRecord) error
	CountRegisteredAirlines() (int, error)

	GetCandidate(address string) (CandidateRecord, bool, error)
	PutCandidate(rec CandidateRecord) error
	DeleteCandidate(address string) error

	PutVote(rec VoteRecord) error
	HasVote(candidate, voter string) (bool, error)
	CountVotes(candidate string) (int, error)
	DeleteVotes(candidate string) error

	GetFlight(key string) (FlightRecord, bool, error)
	PutFlight(rec FlightRecord) error

	GetPolicy(flightKey, passenger string) (PolicyRecord, bool, error)
	PutPolicy(rec PolicyRecord) error
	ListPoliciesByFlight(flightKey string) ([]PolicyRecord, error)

	GetOracle(address string) (OracleRecord, bool, error)
	PutOracle(rec OracleRecord) error

	GetOracleRequest(requestID string) (OracleRequestRecord, bool, error)
	GetLatestOracleRequest(flightKey string) (OracleRequestRecord, bool, error)
	PutOracleRequest(rec OracleRequestRecord) error
	ListOpenOracleRequests(openedBefore string, limit int) ([]OracleRequestRecord, error)

	PutOracleResponse(rec OracleResponseRecord) error
	HasOracleResponse(requestID, oracle string) (bool, error)
	CountOracleResponses(requestID string, statusCode int) (int, error)

	GetPayout(payoutID string) (PayoutRecord, bool, error)
	PutPayout(rec PayoutRecord) error

	AppendReceipt(rec ReceiptRecord) error
	GetReceipt(receiptID string) (ReceiptRecord, bool, error)
	LatestReceipt() (ReceiptRecord, bool, error)
	ListReceipts(afterSeq int64, limit int) ([]ReceiptRecord, error)

	PutKey(key KeyRecord) error
	GetKey(keyID string) (KeyRecord, bool, error)

	PutOutbox(rec OutboxRecord) error
	GetOutbox(eventID string) (OutboxRecord, bool, error)
	ListOutboxDue(now string, limit int) ([]OutboxRecord, error)

	PutIdempotencyKey(rec IdempotencyRecord) error
	GetIdempotencyKey(key string) (IdempotencyRecord, bool, error)
	DeleteIdempotencyKey(key string) error
}

var (
	ErrReceiptSeq = errors.New("receipt sequence out of order")
	ErrMissingID  = errors.New("missing record id")
)

const (
	SettingOperational = "operational"
	SettingOracleNonce = "oracle_nonce"
	SettingOwner       = "owner"
)

const (
	RequestOpen       = "open"
	RequestResolved   = "resolved"
	RequestSuperseded = "superseded"
	RequestExpired    = "expired"
)

const (
	PayoutPending = "pending"
	PayoutSent    = "sent"
	PayoutFailed  = "failed"
)

const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
)

// TimeLayout is fixed-width so stored timestamps compare lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

type AirlineRecord struct {
	Address      string
	Name         string
	Registered   bool
	Funded       bool
	FundedAmount uint256.Int
	CreatedAt    string
	UpdatedAt    string
}

type CandidateRecord struct {
	Address    string
	Name       string
	ProposedBy string
	OpenedAt   string
}

type VoteRecord struct {
	Candidate string
	Voter     string
	CastAt    string
}

type FlightRecord struct {
	Key        string
	Airline    string
	Name       string
	Timestamp  int64
	StatusCode int
	Registered bool
	Credited   bool
	CreatedAt  string
	UpdatedAt  string
}

type PolicyRecord struct {
	FlightKey    string
	Passenger    string
	Amount       uint256.Int
	PayoutCredit uint256.Int
	Withdrawn    bool
	CreatedAt    string
	UpdatedAt    string
}

type OracleRecord struct {
	Address      string
	Indexes      []uint8
	Stake        uint256.Int
	RegisteredAt string
}

// Holds reports whether index is one of the oracle's assigned indexes.
func (o OracleRecord) Holds(index uint8) bool {
	for _, i := range o.Indexes {
		if i == index {
			return true
		}
	}
	return false
}

type OracleRequestRecord struct {
	RequestID  string
	FlightKey  string
	Round      int
	Airline    string
	Flight     string
	Timestamp  int64
	Index      uint8
	Requester  string
	Status     string // open | resolved | superseded | expired
	StatusCode int
	OpenedAt   string
	ClosedAt   *string
}

type OracleResponseRecord struct {
	RequestID   string
	Oracle      string
	StatusCode  int
	RespondedAt string
}

type PayoutRecord struct {
	PayoutID  string
	FlightKey string
	Passenger string
	Amount    uint256.Int
	Status    string // pending | sent | failed
	LastError *string
	CreatedAt string
	UpdatedAt string
}

type ReceiptRecord struct {
	Seq           int64
	ReceiptID     string
	PrevReceiptID string
	Op            string
	Actor         string
	BodyJSON      []byte
	BodyDigest    string
	KeyID         string
	Sig           []byte
	CreatedAt     string
}

type KeyRecord struct {
	KeyID     string
	PublicKey []byte
	CreatedAt string
}

type OutboxRecord struct {
	EventID       string
	Kind          string
	PayloadJSON   []byte
	Status        string // pending | sent
	AttemptCount  int
	NextAttemptAt string
	LastError     *string
	SentAt        *string
	CreatedAt     string
	UpdatedAt     string
}

// IdempotencyRecord holds the stored response for a client-supplied
// idempotency key. Records past ExpiresAt are treated as absent.
type IdempotencyRecord struct {
	IdemKey     string
	Status      string // in_flight | completed
	StatusCode  int
	ContentType string
	Body        []byte
	CreatedAt   string
	UpdatedAt   string
	ExpiresAt   string
}

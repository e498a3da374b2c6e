package surety

import "errors"

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotOperational    = errors.New("marketplace is not operational")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientStake = errors.New("insufficient stake")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrDuplicateFlight   = errors.New("duplicate flight")
	ErrAlreadyInsured    = errors.New("already insured")
	ErrDuplicateVote     = errors.New("duplicate vote")
	ErrExceedsCap        = errors.New("amount exceeds insurance cap")
	ErrUnknownFlight     = errors.New("unknown flight")
	ErrRequestNotFound   = errors.New("oracle request not found")
	ErrIndexMismatch     = errors.New("index mismatch")
	ErrNoCredit          = errors.New("no credit")

	ErrNotFunded           = errors.New("airline is not funded")
	ErrNoOpenRound         = errors.New("no open registration round")
	ErrDuplicateResponse   = errors.New("duplicate oracle response")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidStatus       = errors.New("invalid status code")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrFlightResolved      = errors.New("flight status already resolved")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrUnknownAirline      = errors.New("unknown airline")
	ErrUnknownOracle       = errors.New("unknown oracle")
	ErrUnknownPolicy       = errors.New("unknown policy")
	ErrUnknownPayout       = errors.New("unknown payout")
	ErrReceiptNotFound     = errors.New("receipt not found")
	ErrAlreadyBootstrapped = errors.New("marketplace already bootstrapped")
)

// Failures that are not rejections and carry no wire code.
var (
	// ErrPayoutUnrecorded means the transfer went through but marking the payout sent failed.
	ErrPayoutUnrecorded = errors.New("payout sent but not recorded")
	ErrKeyConflict      = errors.New("signing key id bound to a different public key")
)

// codes names every rejection for transport over the HTTP API. Errors without a
// code are store or transport failures.
var codes = map[error]string{
	ErrUnauthorized:        "unauthorized",
	ErrNotOperational:      "not_operational",
	ErrInsufficientFunds:   "insufficient_funds",
	ErrInsufficientStake:   "insufficient_stake",
	ErrAlreadyRegistered:   "already_registered",
	ErrDuplicateFlight:     "duplicate_flight",
	ErrAlreadyInsured:      "already_insured",
	ErrDuplicateVote:       "duplicate_vote",
	ErrExceedsCap:          "exceeds_cap",
	ErrUnknownFlight:       "unknown_flight",
	ErrRequestNotFound:     "request_not_found",
	ErrIndexMismatch:       "index_mismatch",
	ErrNoCredit:            "no_credit",
	ErrNotFunded:           "not_funded",
	ErrNoOpenRound:         "no_open_round",
	ErrDuplicateResponse:   "duplicate_response",
	ErrInvalidAmount:       "invalid_amount",
	ErrInvalidStatus:       "invalid_status",
	ErrInvalidArgument:     "invalid_argument",
	ErrFlightResolved:      "flight_resolved",
	ErrUnknownAirline:      "unknown_airline",
	ErrUnknownOracle:       "unknown_oracle",
	ErrUnknownPolicy:       "unknown_policy",
	ErrUnknownPayout:       "unknown_payout",
	ErrReceiptNotFound:     "receipt_not_found",
	ErrAlreadyBootstrapped: "already_bootstrapped",
}

// Code returns the stable name of the rejection wrapped in err, or "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for target, code := range codes {
		if errors.Is(err, target) {
			return code
		}
	}
	return ""
}

// FromCode maps a rejection name back to its sentinel. Unknown names yield nil.
func FromCode(code string) error {
	for target, c := range codes {
		if c == code {
			return target
		}
	}
	return nil
}

// IsRejection reports whether err is a domain rejection rather than a store or transport failure.
func IsRejection(err error) bool {
	return Code(err) != ""
}

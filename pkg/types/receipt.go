package types

// Op names the ledger mutation a receipt attests to.
type Op string

const (
	OpBootstrap          Op = "bootstrap"
	OpSetOperating       Op = "set_operating_status"
	OpRegisterAirline    Op = "register_airline"
	OpVoteAirline        Op = "vote_airline"
	OpCancelRound        Op = "cancel_registration_round"
	OpFundAirline        Op = "fund_airline"
	OpRegisterFlight     Op = "register_flight"
	OpBuyInsurance       Op = "buy_insurance"
	OpWithdraw           Op = "withdraw"
	OpWithdrawReverted   Op = "withdraw_reverted"
	OpPayoutSent         Op = "payout_sent"
	OpRegisterOracle     Op = "register_oracle"
	OpFetchFlightStatus  Op = "fetch_flight_status"
	OpSubmitOracleResult Op = "submit_oracle_response"
	OpExpireRequests     Op = "expire_oracle_requests"
)

// ReceiptBody is the signed, canonicalized content of a journal entry.
type ReceiptBody struct {
	Schema        string         `json:"schema"`
	Seq           int64          `json:"seq"`
	PrevReceiptID string         `json:"prev_receipt_id,omitempty"`
	Op            Op             `json:"op"`
	Actor         string         `json:"actor"`
	Subject       string         `json:"subject,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

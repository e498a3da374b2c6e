package api

import (
	"encoding/json"

	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/surety"
	"github.com/davidahmann/surety/pkg/types"
)

// Amounts travel as strings: decimal wei or "<n> ether".

type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type OperationalBody struct {
	Operational bool `json:"operational"`
}

type AirlineRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type FundRequest struct {
	Amount string `json:"amount"`
}

type FlightRequest struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

type InsuranceRequest struct {
	FlightKey string `json:"flight_key"`
	Amount    string `json:"amount"`
}

type OracleRegistration struct {
	Stake string `json:"stake"`
}

type StatusRequest struct {
	Airline   string `json:"airline"`
	Flight    string `json:"flight"`
	Timestamp int64  `json:"timestamp"`
}

type OracleResponse struct {
	Index      uint8            `json:"index"`
	Airline    string           `json:"airline"`
	Flight     string           `json:"flight"`
	Timestamp  int64            `json:"timestamp"`
	StatusCode types.StatusCode `json:"status_code"`
}

type AirlineView struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	Registered   bool   `json:"registered"`
	Funded       bool   `json:"funded"`
	FundedAmount string `json:"funded_amount"`
}

func airlineView(rec ledger.AirlineRecord) AirlineView {
	return AirlineView{
		Address:      rec.Address,
		Name:         rec.Name,
		Registered:   rec.Registered,
		Funded:       rec.Funded,
		FundedAmount: rec.FundedAmount.Dec(),
	}
}

type FlightView struct {
	Key        string           `json:"key"`
	Airline    string           `json:"airline"`
	Name       string           `json:"name"`
	Timestamp  int64            `json:"timestamp"`
	StatusCode types.StatusCode `json:"status_code"`
	Status     string           `json:"status"`
	Credited   bool             `json:"credited"`
}

func flightView(rec ledger.FlightRecord) FlightView {
	code := types.StatusCode(rec.StatusCode)
	return FlightView{
		Key:        rec.Key,
		Airline:    rec.Airline,
		Name:       rec.Name,
		Timestamp:  rec.Timestamp,
		StatusCode: code,
		Status:     code.String(),
		Credited:   rec.Credited,
	}
}

type PolicyView struct {
	FlightKey    string `json:"flight_key"`
	Passenger    string `json:"passenger"`
	Amount       string `json:"amount"`
	PayoutCredit string `json:"payout_credit"`
	Withdrawn    bool   `json:"withdrawn"`
}

func policyView(rec ledger.PolicyRecord) PolicyView {
	return PolicyView{
		FlightKey:    rec.FlightKey,
		Passenger:    rec.Passenger,
		Amount:       rec.Amount.Dec(),
		PayoutCredit: rec.PayoutCredit.Dec(),
		Withdrawn:    rec.Withdrawn,
	}
}

type WithdrawalView struct {
	PayoutID  string `json:"payout_id"`
	FlightKey string `json:"flight_key"`
	Passenger string `json:"passenger"`
	Amount    string `json:"amount"`
	ReceiptID string `json:"receipt_id"`

	// Unrecorded marks a transfer that succeeded while its payout is still pending in the ledger.
	Unrecorded bool `json:"unrecorded,omitempty"`
}

func withdrawalView(w surety.Withdrawal) WithdrawalView {
	return WithdrawalView{
		PayoutID:  w.PayoutID,
		FlightKey: w.FlightKey,
		Passenger: w.Passenger,
		Amount:    w.Amount.Dec(),
		ReceiptID: w.ReceiptID,
	}
}

// IndexesView lists oracle indexes as numbers; a []uint8 would encode as base64.
type IndexesView struct {
	Oracle  string `json:"oracle"`
	Indexes []int  `json:"indexes"`
}

func toInts(idx []uint8) []int {
	out := make([]int, len(idx))
	for i, v := range idx {
		out[i] = int(v)
	}
	return out
}

// ToIndexes converts indexes decoded from an IndexesView.
func ToIndexes(in []int) []uint8 {
	out := make([]uint8, len(in))
	for i, v := range in {
		out[i] = uint8(v)
	}
	return out
}

type OracleView struct {
	Address      string `json:"address"`
	Indexes      []int  `json:"indexes"`
	Stake        string `json:"stake"`
	RegisteredAt string `json:"registered_at"`
}

func oracleView(rec ledger.OracleRecord) OracleView {
	return OracleView{
		Address:      rec.Address,
		Indexes:      toInts(rec.Indexes),
		Stake:        rec.Stake.Dec(),
		RegisteredAt: rec.RegisteredAt,
	}
}

type OracleRequestView struct {
	RequestID  string           `json:"request_id"`
	FlightKey  string           `json:"flight_key"`
	Round      int              `json:"round"`
	Index      int              `json:"index"`
	Requester  string           `json:"requester"`
	Status     string           `json:"status"`
	StatusCode types.StatusCode `json:"status_code"`
	OpenedAt   string           `json:"opened_at"`
	ClosedAt   *string          `json:"closed_at,omitempty"`
}

func oracleRequestView(rec ledger.OracleRequestRecord) OracleRequestView {
	return OracleRequestView{
		RequestID:  rec.RequestID,
		FlightKey:  rec.FlightKey,
		Round:      rec.Round,
		Index:      int(rec.Index),
		Requester:  rec.Requester,
		Status:     rec.Status,
		StatusCode: types.StatusCode(rec.StatusCode),
		OpenedAt:   rec.OpenedAt,
		ClosedAt:   rec.ClosedAt,
	}
}

type ReceiptView struct {
	Seq           int64           `json:"seq"`
	ReceiptID     string          `json:"receipt_id"`
	PrevReceiptID string          `json:"prev_receipt_id,omitempty"`
	Op            string          `json:"op"`
	Actor         string          `json:"actor"`
	Body          json.RawMessage `json:"body"`
	BodyDigest    string          `json:"body_digest"`
	KeyID         string          `json:"key_id"`
	Sig           []byte          `json:"sig"`
	CreatedAt     string          `json:"created_at"`
}

func receiptView(rec ledger.ReceiptRecord) ReceiptView {
	return ReceiptView{
		Seq:           rec.Seq,
		ReceiptID:     rec.ReceiptID,
		PrevReceiptID: rec.PrevReceiptID,
		Op:            rec.Op,
		Actor:         rec.Actor,
		Body:          json.RawMessage(rec.BodyJSON),
		BodyDigest:    rec.BodyDigest,
		KeyID:         rec.KeyID,
		Sig:           rec.Sig,
		CreatedAt:     rec.CreatedAt,
	}
}

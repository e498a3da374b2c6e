package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/davidahmann/surety/internal/ledger"
)

type Tx struct {
	ctx    context.Context
	tx     *sql.Tx
	driver ledger.DBDriver
}

func (t *Tx) exec(query string, args ...any) error {
	_, err := t.tx.ExecContext(t.ctx, rebind(t.driver, query), args...)
	return err
}

func (t *Tx) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, rebind(t.driver, query), args...)
}

func (t *Tx) query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, rebind(t.driver, query), args...)
}

func (t *Tx) upsert(table string, cols, keys, update []string, args ...any) error {
	return t.exec(upsertSQL(t.driver, table, cols, keys, update), args...)
}

func (t *Tx) count(query string, args ...any) (int, error) {
	var n int
	if err := t.queryRow(query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// found converts sql.ErrNoRows into a (false, nil) lookup result.
func found(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, err
}

func (t *Tx) GetSetting(key string) (string, bool, error) {
	var value string
	ok, err := found(t.queryRow(`SELECT setting_value FROM settings WHERE setting_key = ?`, key).Scan(&value))
	return value, ok, err
}

func (t *Tx) PutSetting(key, value string) error {
	return t.upsert("settings",
		[]string{"setting_key", "setting_value"},
		[]string{"setting_key"},
		[]string{"setting_value"},
		key, value,
	)
}

const airlineCols = `address, name, registered, funded, funded_amount, created_at, updated_at`

func scanAirline(row interface{ Scan(...any) error }) (ledger.AirlineRecord, error) {
	var (
		rec                ledger.AirlineRecord
		registered, funded int
	)
	err := row.Scan(&rec.Address, &rec.Name, &registered, &funded, &rec.FundedAmount, &rec.CreatedAt, &rec.UpdatedAt)
	rec.Registered = registered != 0
	rec.Funded = funded != 0
	return rec, err
}

func (t *Tx) GetAirline(address string) (ledger.AirlineRecord, bool, error) {
	rec, err := scanAirline(t.queryRow(`SELECT `+airlineCols+` FROM airlines WHERE address = ?`, address))
	ok, err := found(err)
	if !ok {
		return ledger.AirlineRecord{}, false, err
	}
	return rec, true, nil
}

func (t *Tx) PutAirline(rec ledger.AirlineRecord) error {
	if rec.Address == "" {
		return ledger.ErrMissingID
	}
	return t.upsert("airlines",
		[]string{"address", "name", "registered", "funded", "funded_amount", "created_at", "updated_at"},
		[]string{"address"},
		[]string{"name", "registered", "funded", "funded_amount", "updated_at"},
		rec.Address, rec.Name, boolToInt(rec.Registered), boolToInt(rec.Funded), &rec.FundedAmount, rec.CreatedAt, rec.UpdatedAt,
	)
}

func (t *Tx) CountRegisteredAirlines() (int, error) {
	return t.count(`SELECT COUNT(*) FROM airlines WHERE registered = 1`)
}

func (t *Tx) GetCandidate(address string) (ledger.CandidateRecord, bool, error) {
	var rec ledger.CandidateRecord
	err := t.queryRow(`SELECT address, name, proposed_by, opened_at FROM candidates WHERE address = ?`, address).
		Scan(&rec.Address, &rec.Name, &rec.ProposedBy, &rec.OpenedAt)
	ok, err := found(err)
	if !ok {
		return ledger.CandidateRecord{}, false, err
	}
	return rec, true, nil
}

func (t *Tx) PutCandidate(rec ledger.CandidateRecord) error {
	if rec.Address == "" {
		return ledger.ErrMissingID
	}
	return t.upsert("candidates",
		[]string{"address", "name", "proposed_by", "opened_at"},
		[]string{"address"},
		[]string{"name", "proposed_by", "opened_at"},
		rec.Address, rec.Name, rec.ProposedBy, rec.OpenedAt,
	)
}

func (t *Tx) DeleteCandidate(address string) error {
	return t.exec(`DELETE FROM candidates WHERE address = ?`, address)
}

func (t *Tx) PutVote(rec ledger.VoteRecord) error {
	return t.upsert("votes",
		[]string{"candidate", "voter", "cast_at"},
		[]string{"candidate", "voter"},
		nil,
		rec.Candidate, rec.Voter, rec.CastAt,
	)
}

func (t *Tx) HasVote(candidate, voter string) (bool, error) {
	n, err := t.count(`SELECT COUNT(*) FROM votes WHERE candidate = ? AND voter = ?`, candidate, voter)
	return n > 0, err
}

func (t *Tx) CountVotes(candidate string) (int, error) {
	return t.count(`SELECT COUNT(*) FROM votes WHERE candidate = ?`, candidate)
}

func (t *Tx) DeleteVotes(candidate string) error {
	return t.exec(`DELETE FROM votes WHERE candidate = ?`, candidate)
}

func (t *Tx) GetFlight(key string) (ledger.FlightRecord, bool, error) {
	var (
		rec                  ledger.FlightRecord
		registered, credited int
	)
	err := t.queryRow(`SELECT flight_key, airline, name, departure, status_code, registered, credited, created_at, updated_at FROM flights WHERE flight_key = ?`, key).
		Scan(&rec.Key, &rec.Airline, &rec.Name, &rec.Timestamp, &rec.StatusCode, &registered, &credited, &rec.CreatedAt, &rec.UpdatedAt)
	ok, err := found(err)
	if !ok {
		return ledger.FlightRecord{}, false, err
	}
	rec.Registered = registered != 0
	rec.Credited = credited != 0
	return rec, true, nil
}

func (t *Tx) PutFlight(rec ledger.FlightRecord) error {
	if rec.Key == "" {
		return ledger.ErrMissingID
	}
	return t.upsert("flights",
		[]string{"flight_key", "airline", "name", "departure", "status_code", "registered", "credited", "created_at", "updated_at"},
		[]string{"flight_key"},
		[]string{"status_code", "registered", "credited", "updated_at"},
		rec.Key, rec.Airline, rec.Name, rec.Timestamp, rec.StatusCode, boolToInt(rec.Registered), boolToInt(rec.Credited), rec.CreatedAt, rec.UpdatedAt,
	)
}

const policyCols = `flight_key, passenger, amount, payout_credit, withdrawn, created_at, updated_at`

func scanPolicy(row interface{ Scan(...any) error }) (ledger.PolicyRecord, error) {
	var (
		rec       ledger.PolicyRecord
		withdrawn int
	)
	err := row.Scan(&rec.FlightKey, &rec.Passenger, &rec.Amount, &rec.PayoutCredit, &withdrawn, &rec.CreatedAt, &rec.UpdatedAt)
	rec.Withdrawn = withdrawn != 0
	return rec, err
}

func (t *Tx) GetPolicy(flightKey, passenger string) (ledger.PolicyRecord, bool, error) {
	rec, err := scanPolicy(t.queryRow(`SELECT `+policyCols+` FROM policies WHERE flight_key = ? AND passenger = ?`, flightKey, passenger))
	ok, err := found(err)
	if !ok {
		return ledger.PolicyRecord{}, false, err
	}
	return rec, true, nil
}

func (t *Tx) PutPolicy(rec ledger.PolicyRecord) error {
	if rec.FlightKey == "" || rec.Passenger == "" {
		return ledger.ErrMissingID
	}
	return t.upsert("policies",
		[]string{"flight_key", "passenger", "amount", "payout_credit", "withdrawn", "created_at", "updated_at"},
		[]string{"flight_key", "passenger"},
		[]string{"amount", "payout_credit", "withdrawn", "updated_at"},
		rec.FlightKey, rec.Passenger, &rec.Amount, &rec.PayoutCredit, boolToInt(rec.Withdrawn), rec.CreatedAt, rec.UpdatedAt,
	)
}

func (t *Tx) ListPoliciesByFlight(flightKey string) ([]ledger.PolicyRecord, error) {
	rows, err := t.query(`SELECT `+policyCols+` FROM policies WHERE flight_key = ? ORDER BY created_at ASC, passenger ASC`, flightKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.PolicyRecord{}
	for rows.Next() {
		rec, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *Tx) GetOracle(address string) (ledger.OracleRecord, bool, error) {
	var (
		rec     ledger.OracleRecord
		indexes string
	)
	err := t.queryRow(`SELECT address, indexes, stake, registered_at FROM oracles WHERE address = ?`, address).
		Scan(&rec.Address, &indexes, &rec.Stake, &rec.RegisteredAt)
	ok, err := found(err)
	if !ok {
		return ledger.OracleRecord{}, false, err
	}
	var ints []int
	if err := json.Unmarshal([]byte(indexes), &ints); err != nil {
		return ledger.OracleRecord{}, false, fmt.Errorf("decode oracle indexes: %w", err)
	}
	rec.Indexes = make([]uint8, len(ints))
	for i, v := range ints {
		rec.Indexes[i] = uint8(v)
	}
	return rec, true, nil
}

func (t *Tx) PutOracle(rec ledger.OracleRecord) error {
	if rec.Address == "" {
		return ledger.ErrMissingID
	}
	// Encoded as numbers; []uint8 would marshal to base64.
	ints := make([]int, len(rec.Indexes))
	for i, v := range rec.Indexes {
		ints[i] = int(v)
	}
	indexes, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	return t.upsert("oracles",
		[]string{"address", "indexes", "stake", "registered_at"},
		[]string{"address"},
		[]string{"indexes", "stake"},
		rec.Address, string(indexes), &rec.Stake, rec.RegisteredAt,
	)
}

const requestCols = `request_id, flight_key, round_no, airline, flight, departure, idx, requester, status, status_code, opened_at, closed_at`

func scanRequest(row interface{ Scan(...any) error }) (ledger.OracleRequestRecord, error) {
	var (
		rec ledger.OracleRequestRecord
		idx int
	)
	err := row.Scan(&rec.RequestID, &rec.FlightKey, &rec.Round, &rec.Airline, &rec.Flight, &rec.Timestamp, &idx, &rec.Requester, &rec.Status, &rec.StatusCode, &rec.OpenedAt, &rec.ClosedAt)
	rec.Index = uint8(idx)
	return rec, err
}

func (t *Tx) GetOracleRequest(requestID string) (ledger.OracleRequestRecord, bool, error) {
	rec, err := scanRequest(t.queryRow(`SELECT `+requestCols+` FROM oracle_requests WHERE request_id = ?`, requestID))
	ok, err := found(err)
	if !ok {
		return ledger.OracleRequestRecord{}, false, err
	}
	return rec, true, nil
}

func (t *Tx) GetLatestOracleRequest(flightKey string) (ledger.OracleRequestRecord, bool, error) {
	rec, err := scanRequest(t.queryRow(`SELECT `+requestCols+` FROM oracle_requests WHERE flight_key = ? ORDER BY round_no DESC LIMIT 1`, flightKey))
	ok, err := found(err)
	if !ok {
		return ledger.OracleRequestRecord{}, false, err
	}
	return rec, true, nil
}

func (t *Tx) PutOracleRequest(rec ledger.OracleRequestRecord) error {
	if rec.RequestID == "" {
		return ledger.ErrMissingID
	}
	return t.upsert("oracle_requests",
		[]string{"request_id", "flight_key", "round_no", "airline", "flight", "departure", "idx", "requester", "status", "status_code", "opened_at", "closed_at"},
		[]string{"request_id"},
		[]string{"status", "status_code", "closed_at"},
		rec.RequestID, rec.FlightKey, rec.Round, rec.Airline, rec.Flight, rec.Timestamp, int(rec.Index), rec.Requester, rec.Status, rec.StatusCode, rec.OpenedAt, rec.ClosedAt,
	)
}

func (t *Tx) ListOpenOracleRequests(openedBefore string, limit int) ([]ledger.OracleRequestRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.query(`SELECT `+requestCols+` FROM oracle_requests
WHERE status = ? AND opened_at < ?
ORDER BY opened_at ASC, request_id ASC
LIMIT ?`, ledger.RequestOpen, openedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.OracleRequestRecord{}
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *Tx) PutOracleResponse(rec ledger.OracleResponseRecord) error {
	return t.upsert("oracle_responses",
		[]string{"request_id", "oracle", "status_code", "responded_at"},
		[]string{"request_id", "oracle"},
		nil,
		rec.RequestID, rec.Oracle, rec.StatusCode, rec.RespondedAt,
	)
}

func (t *Tx) HasOracleResponse(requestID, oracle string) (bool, error) {
	n, err := t.count(`SELECT COUNT(*) FROM oracle_responses WHERE request_id = ? AND oracle = ?`, requestID, oracle)
	return n > 0, err
}

func (t *Tx) CountOracleResponses(requestID string, statusCode int) (int, error) {
	return t.count(`SELECT COUNT(*) FROM oracle_responses WHERE request_id = ? AND status_code = ?`, requestID, statusCode)
}

func (t *Tx) GetPayout(payoutID string) (ledger.PayoutRecord, bool, error) {
	var rec ledger.PayoutRecord
	err := t.queryRow(`SELECT payout_id, flight_key, passenger, amount, status, last_error, created_at, updated_at FROM payouts WHERE payout_id = ?`, payoutID).
		Scan(&rec.PayoutID, &rec.FlightKey, &rec.Passenger, &rec.Amount, &rec.Status, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt)
	ok, err := found(err)
	if !ok {
		return ledger.PayoutRecord{}, false, err
	}
	return rec, true, nil
}

func (t *Tx) PutPayout(rec ledger.PayoutRecord) error {
	if rec.PayoutID == "" {
		return ledger.ErrMissingID
	}
	return t.upsert("payouts",
		[]string{"payout_id", "flight_key", "passenger", "amount", "status", "last_error", "created_at", "updated_at"},
		[]string{"payout_id"},
		[]string{"status", "last_error", "updated_at"},
		rec.PayoutID, rec.FlightKey, rec.Passenger, &rec.Amount, rec.Status, rec.LastError, rec.CreatedAt, rec.UpdatedAt,
	)
}

const receiptCols = `seq, receipt_id, prev_receipt_id, op, actor, body_json, body_digest, key_id, sig, created_at`

func scanReceipt(row interface{ Scan(...any) error }) (ledger.ReceiptRecord, error) {
	var (
		rec  ledger.ReceiptRecord
		body string
	)
	err := row.Scan(&rec.Seq, &rec.ReceiptID, &rec.PrevReceiptID, &rec.Op, &rec.Actor, &body, &rec.BodyDigest, &rec.KeyID, &rec.Sig, &rec.CreatedAt)
	rec.BodyJSON = []byte(body)
	return rec, err
}

func (t *Tx) AppendReceipt(rec ledger.ReceiptRecord) error {
	if rec.ReceiptID == "" {
		return ledger.ErrMissingID
	}
	var head int64
	if err := t.queryRow(`SELECT COALESCE(MAX(seq), 0) FROM receipts`).Scan(&head); err != nil {
		return err
	}
	if rec.Seq != head+1 {
		return ledger.ErrReceiptSeq
	}
	return t.exec(`INSERT INTO receipts(`+receiptCols+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.Seq, rec.ReceiptID, rec.PrevReceiptID, rec.Op, rec.Actor, string(rec.BodyJSON), rec.BodyDigest, rec.KeyID, rec.Sig, rec.CreatedAt,
	)
}

func (t *Tx) GetReceipt(receiptID string) (ledger.ReceiptRecord, bool, error) {
	rec, err := scanReceipt(t.queryRow(`SELECT `+receiptCols+` FROM receipts WHERE receipt_id = ?`, receiptID))
	ok, err := found(err)
	if !ok {
		return ledger.ReceiptRecord{}, false, err
	}
	return rec, true, nil
}

func (t *Tx) LatestReceipt() (ledger.ReceiptRecord, bool, error) {
	rec, err := scanReceipt(t.queryRow(`SELECT ` + receiptCols + ` FROM receipts ORDER BY seq DESC LIMIT 1`))
	ok, err := found(err)
	if !ok {
		return ledger.ReceiptRecord{}, false, err
	}
	return rec, true, nil
}

func (t *Tx) ListReceipts(afterSeq int64, limit int) ([]ledger.ReceiptRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := t.query(`SELECT `+receiptCols+` FROM receipts WHERE seq > ? ORDER BY seq ASC LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.ReceiptRecord{}
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *Tx) PutKey(key ledger.KeyRecord) error {
	return t.upsert("signing_keys",
		[]string{"key_id", "public_key", "created_at"},
		[]string{"key_id"},
		nil,
		key.KeyID, key.PublicKey, key.CreatedAt,
	)
}

func (t *Tx) GetKey(keyID string) (ledger.KeyRecord, bool, error) {
	var rec ledger.KeyRecord
	err := t.queryRow(`SELECT key_id, public_key, created_at FROM signing_keys WHERE key_id = ?`, keyID).
		Scan(&rec.KeyID, &rec.PublicKey, &rec.CreatedAt)
	ok, err := found(err)
	if !ok {
		return ledger.KeyRecord{}, false, err
	}
	return rec, true, nil
}

const outboxCols = `event_id, kind, payload_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at`

func scanOutbox(row interface{ Scan(...any) error }) (ledger.OutboxRecord, error) {
	var (
		rec     ledger.OutboxRecord
		payload string
	)
	err := row.Scan(&rec.EventID, &rec.Kind, &payload, &rec.Status, &rec.AttemptCount, &rec.NextAttemptAt, &rec.LastError, &rec.SentAt, &rec.CreatedAt, &rec.UpdatedAt)
	rec.PayloadJSON = []byte(payload)
	return rec, err
}

func (t *Tx) PutOutbox(rec ledger.OutboxRecord) error {
	if rec.EventID == "" {
		return ledger.ErrMissingID
	}
	if !json.Valid(rec.PayloadJSON) {
		return fmt.Errorf("invalid outbox payload for %s", rec.EventID)
	}
	return t.upsert("outbox",
		[]string{"event_id", "kind", "payload_json", "status", "attempt_count", "next_attempt_at", "last_error", "sent_at", "created_at", "updated_at"},
		[]string{"event_id"},
		[]string{"status", "attempt_count", "next_attempt_at", "last_error", "sent_at", "updated_at"},
		rec.EventID, rec.Kind, string(rec.PayloadJSON), rec.Status, rec.AttemptCount, rec.NextAttemptAt, rec.LastError, rec.SentAt, rec.CreatedAt, rec.UpdatedAt,
	)
}

func (t *Tx) GetOutbox(eventID string) (ledger.OutboxRecord, bool, error) {
	rec, err := scanOutbox(t.queryRow(`SELECT `+outboxCols+` FROM outbox WHERE event_id = ?`, eventID))
	ok, err := found(err)
	if !ok {
		return ledger.OutboxRecord{}, false, err
	}
	return rec, true, nil
}

func (t *Tx) ListOutboxDue(now string, limit int) ([]ledger.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.query(`SELECT `+outboxCols+` FROM outbox
WHERE status = ? AND next_attempt_at <= ?
ORDER BY created_at ASC, event_id ASC
LIMIT ?`, ledger.OutboxPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.OutboxRecord{}
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *Tx) PutIdempotencyKey(rec ledger.IdempotencyRecord) error {
	if rec.IdemKey == "" {
		return ledger.ErrMissingID
	}
	return t.upsert("idempotency_keys",
		[]string{"idem_key", "status", "status_code", "content_type", "body", "created_at", "updated_at", "expires_at"},
		[]string{"idem_key"},
		[]string{"status", "status_code", "content_type", "body", "updated_at", "expires_at"},
		rec.IdemKey, rec.Status, rec.StatusCode, rec.ContentType, rec.Body, rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt,
	)
}

func (t *Tx) GetIdempotencyKey(key string) (ledger.IdempotencyRecord, bool, error) {
	var rec ledger.IdempotencyRecord
	err := t.queryRow(`SELECT idem_key, status, status_code, content_type, body, created_at, updated_at, expires_at
FROM idempotency_keys WHERE idem_key = ?`, key).
		Scan(&rec.IdemKey, &rec.Status, &rec.StatusCode, &rec.ContentType, &rec.Body, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt)
	ok, err := found(err)
	if !ok {
		return ledger.IdempotencyRecord{}, false, err
	}
	return rec, true, nil
}

func (t *Tx) DeleteIdempotencyKey(key string) error {
	return t.exec(`DELETE FROM idempotency_keys WHERE idem_key = ?`, key)
}

package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/davidahmann/surety/internal/ledger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	s, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStoreCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.PutSetting(ledger.SettingOperational, "true"); err != nil {
			return err
		}
		if err := tx.PutSetting(ledger.SettingOperational, "false"); err != nil {
			return err
		}

		airline := ledger.AirlineRecord{Address: "0xa1", Name: "Alpha", Registered: true, Funded: true, CreatedAt: "t0", UpdatedAt: "t0"}
		if err := airline.FundedAmount.SetFromDecimal("10000000000000000000"); err != nil {
			return err
		}
		if err := tx.PutAirline(airline); err != nil {
			return err
		}
		if err := tx.PutAirline(ledger.AirlineRecord{Address: "0xa2", Name: "Beta", CreatedAt: "t0", UpdatedAt: "t0"}); err != nil {
			return err
		}

		if err := tx.PutCandidate(ledger.CandidateRecord{Address: "0xa5", Name: "Echo", ProposedBy: "0xa1", OpenedAt: "t1"}); err != nil {
			return err
		}
		if err := tx.PutVote(ledger.VoteRecord{Candidate: "0xa5", Voter: "0xa1", CastAt: "t1"}); err != nil {
			return err
		}
		// Duplicate votes are ignored at the storage layer.
		if err := tx.PutVote(ledger.VoteRecord{Candidate: "0xa5", Voter: "0xa1", CastAt: "t2"}); err != nil {
			return err
		}

		if err := tx.PutFlight(ledger.FlightRecord{Key: "0xf1", Airline: "0xa1", Name: "X/1000", Timestamp: 1000, Registered: true, CreatedAt: "t2", UpdatedAt: "t2"}); err != nil {
			return err
		}
		policy := ledger.PolicyRecord{FlightKey: "0xf1", Passenger: "0xp1", CreatedAt: "t3", UpdatedAt: "t3"}
		policy.Amount.SetUint64(1000)
		if err := tx.PutPolicy(policy); err != nil {
			return err
		}
		return tx.PutOracle(ledger.OracleRecord{Address: "0xo1", Indexes: []uint8{2, 5, 9}, RegisteredAt: "t4"})
	})
	if err != nil {
		t.Fatalf("withtx: %v", err)
	}

	err = s.View(ctx, func(tx ledger.Tx) error {
		if v, ok, err := tx.GetSetting(ledger.SettingOperational); err != nil || !ok || v != "false" {
			t.Fatalf("setting mismatch: v=%q ok=%v err=%v", v, ok, err)
		}
		got, ok, err := tx.GetAirline("0xa1")
		if err != nil || !ok || !got.Funded || got.FundedAmount.Dec() != "10000000000000000000" {
			t.Fatalf("airline mismatch: ok=%v err=%v got=%+v", ok, err, got)
		}
		if _, ok, err := tx.GetAirline("0xnone"); err != nil || ok {
			t.Fatalf("expected missing airline: ok=%v err=%v", ok, err)
		}
		if n, err := tx.CountRegisteredAirlines(); err != nil || n != 1 {
			t.Fatalf("expected 1 registered, got %d (%v)", n, err)
		}
		if n, err := tx.CountVotes("0xa5"); err != nil || n != 1 {
			t.Fatalf("expected 1 vote, got %d (%v)", n, err)
		}
		if has, _ := tx.HasVote("0xa5", "0xa1"); !has {
			t.Fatalf("expected vote")
		}
		cand, ok, _ := tx.GetCandidate("0xa5")
		if !ok || cand.Name != "Echo" {
			t.Fatalf("candidate mismatch: %+v", cand)
		}
		flight, ok, _ := tx.GetFlight("0xf1")
		if !ok || !flight.Registered || flight.Timestamp != 1000 || flight.StatusCode != 0 {
			t.Fatalf("flight mismatch: %+v", flight)
		}
		policies, err := tx.ListPoliciesByFlight("0xf1")
		if err != nil || len(policies) != 1 || policies[0].Amount.Uint64() != 1000 || !policies[0].PayoutCredit.IsZero() {
			t.Fatalf("policies mismatch: err=%v %+v", err, policies)
		}
		oracle, ok, err := tx.GetOracle("0xo1")
		if err != nil || !ok || len(oracle.Indexes) != 3 || !oracle.Holds(9) {
			t.Fatalf("oracle mismatch: err=%v %+v", err, oracle)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestStoreRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.PutAirline(ledger.AirlineRecord{Address: "0xa1", Name: "Alpha", CreatedAt: "t0", UpdatedAt: "t0"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_ = s.View(ctx, func(tx ledger.Tx) error {
		if _, ok, _ := tx.GetAirline("0xa1"); ok {
			t.Fatalf("expected rollback")
		}
		return nil
	})
}

func TestOracleRequestsAndResponses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		closed := "2026-01-01T00:05:00.000000Z"
		if err := tx.PutOracleRequest(ledger.OracleRequestRecord{RequestID: "0xf1:1", FlightKey: "0xf1", Round: 1, Airline: "0xa1", Flight: "X/1000", Timestamp: 1000, Index: 3, Requester: "0xp1", Status: ledger.RequestSuperseded, OpenedAt: "2026-01-01T00:00:00.000000Z", ClosedAt: &closed}); err != nil {
			return err
		}
		if err := tx.PutOracleRequest(ledger.OracleRequestRecord{RequestID: "0xf1:2", FlightKey: "0xf1", Round: 2, Airline: "0xa1", Flight: "X/1000", Timestamp: 1000, Index: 7, Requester: "0xp1", Status: ledger.RequestOpen, OpenedAt: "2026-01-01T00:05:00.000000Z"}); err != nil {
			return err
		}
		for _, o := range []string{"0xo1", "0xo2"} {
			if err := tx.PutOracleResponse(ledger.OracleResponseRecord{RequestID: "0xf1:2", Oracle: o, StatusCode: 20, RespondedAt: "t"}); err != nil {
				return err
			}
		}
		return tx.PutOracleResponse(ledger.OracleResponseRecord{RequestID: "0xf1:2", Oracle: "0xo3", StatusCode: 10, RespondedAt: "t"})
	})
	if err != nil {
		t.Fatalf("withtx: %v", err)
	}

	_ = s.View(ctx, func(tx ledger.Tx) error {
		latest, ok, err := tx.GetLatestOracleRequest("0xf1")
		if err != nil || !ok || latest.RequestID != "0xf1:2" || latest.Index != 7 || latest.ClosedAt != nil {
			t.Fatalf("latest mismatch: ok=%v err=%v %+v", ok, err, latest)
		}
		first, _, _ := tx.GetOracleRequest("0xf1:1")
		if first.ClosedAt == nil || first.Status != ledger.RequestSuperseded {
			t.Fatalf("expected closed superseded request: %+v", first)
		}
		if n, _ := tx.CountOracleResponses("0xf1:2", 20); n != 2 {
			t.Fatalf("expected 2, got %d", n)
		}
		if has, _ := tx.HasOracleResponse("0xf1:2", "0xo3"); !has {
			t.Fatalf("expected response")
		}
		open, err := tx.ListOpenOracleRequests("2026-01-01T01:00:00.000000Z", 10)
		if err != nil || len(open) != 1 || open[0].RequestID != "0xf1:2" {
			t.Fatalf("open mismatch: err=%v %+v", err, open)
		}
		return nil
	})
}

func TestReceiptsAndKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.PutKey(ledger.KeyRecord{KeyID: "kid", PublicKey: []byte("pub"), CreatedAt: "t0"}); err != nil {
			return err
		}
		if err := tx.AppendReceipt(ledger.ReceiptRecord{Seq: 1, ReceiptID: "r1", Op: "bootstrap", BodyJSON: []byte(`{"seq":1}`), BodyDigest: "r1", KeyID: "kid", Sig: []byte("sig"), CreatedAt: "t0"}); err != nil {
			return err
		}
		return tx.AppendReceipt(ledger.ReceiptRecord{Seq: 2, ReceiptID: "r2", PrevReceiptID: "r1", Op: "fund_airline", BodyJSON: []byte(`{"seq":2}`), BodyDigest: "r2", KeyID: "kid", Sig: []byte("sig"), CreatedAt: "t1"})
	})
	if err != nil {
		t.Fatalf("withtx: %v", err)
	}

	err = s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.AppendReceipt(ledger.ReceiptRecord{Seq: 5, ReceiptID: "r5"})
	})
	if !errors.Is(err, ledger.ErrReceiptSeq) {
		t.Fatalf("expected ErrReceiptSeq, got %v", err)
	}

	_ = s.View(ctx, func(tx ledger.Tx) error {
		head, ok, err := tx.LatestReceipt()
		if err != nil || !ok || head.ReceiptID != "r2" || head.PrevReceiptID != "r1" {
			t.Fatalf("head mismatch: ok=%v err=%v %+v", ok, err, head)
		}
		got, ok, _ := tx.GetReceipt("r1")
		if !ok || string(got.BodyJSON) != `{"seq":1}` || string(got.Sig) != "sig" {
			t.Fatalf("receipt mismatch: %+v", got)
		}
		list, err := tx.ListReceipts(1, 10)
		if err != nil || len(list) != 1 || list[0].Seq != 2 {
			t.Fatalf("list mismatch: err=%v %+v", err, list)
		}
		key, ok, _ := tx.GetKey("kid")
		if !ok || string(key.PublicKey) != "pub" {
			t.Fatalf("key mismatch: %+v", key)
		}
		return nil
	})
}

func TestOutboxAndPayouts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		payout := ledger.PayoutRecord{PayoutID: "pay-1", FlightKey: "0xf1", Passenger: "0xp1", Status: ledger.PayoutPending, CreatedAt: "t0", UpdatedAt: "t0"}
		payout.Amount.SetUint64(1500)
		if err := tx.PutPayout(payout); err != nil {
			return err
		}
		msg := "transfer failed"
		payout.Status = ledger.PayoutFailed
		payout.LastError = &msg
		if err := tx.PutPayout(payout); err != nil {
			return err
		}

		if err := tx.PutOutbox(ledger.OutboxRecord{EventID: "evt-2", Kind: "flight.status", PayloadJSON: []byte(`{"a":1}`), Status: ledger.OutboxPending, NextAttemptAt: "t1", CreatedAt: "t0", UpdatedAt: "t0"}); err != nil {
			return err
		}
		if err := tx.PutOutbox(ledger.OutboxRecord{EventID: "evt-1", Kind: "oracle.request", PayloadJSON: []byte(`{"a":2}`), Status: ledger.OutboxPending, NextAttemptAt: "t1", CreatedAt: "t0", UpdatedAt: "t0"}); err != nil {
			return err
		}
		return tx.PutOutbox(ledger.OutboxRecord{EventID: "evt-3", Kind: "oracle.request", PayloadJSON: []byte(`{}`), Status: ledger.OutboxPending, NextAttemptAt: "t9", CreatedAt: "t0", UpdatedAt: "t0"})
	})
	if err != nil {
		t.Fatalf("withtx: %v", err)
	}

	err = s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.PutOutbox(ledger.OutboxRecord{EventID: "bad", PayloadJSON: []byte("not json")})
	})
	if err == nil {
		t.Fatalf("expected invalid payload error")
	}

	_ = s.View(ctx, func(tx ledger.Tx) error {
		payout, ok, _ := tx.GetPayout("pay-1")
		if !ok || payout.Status != ledger.PayoutFailed || payout.LastError == nil || payout.Amount.Uint64() != 1500 {
			t.Fatalf("payout mismatch: %+v", payout)
		}
		due, err := tx.ListOutboxDue("t5", 10)
		if err != nil || len(due) != 2 || due[0].EventID != "evt-1" || due[1].EventID != "evt-2" {
			t.Fatalf("due mismatch: err=%v %+v", err, due)
		}
		return nil
	})
}

func TestIdempotencyKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.PutIdempotencyKey(ledger.IdempotencyRecord{IdemKey: "k1", Status: "in_flight", CreatedAt: "t0", UpdatedAt: "t0", ExpiresAt: "t1"}); err != nil {
			return err
		}
		return tx.PutIdempotencyKey(ledger.IdempotencyRecord{
			IdemKey: "k1", Status: "completed", StatusCode: 201, ContentType: "application/json",
			Body: []byte(`{"ok":true}`), CreatedAt: "t0", UpdatedAt: "t2", ExpiresAt: "t9",
		})
	})
	if err != nil {
		t.Fatalf("withtx: %v", err)
	}

	_ = s.View(ctx, func(tx ledger.Tx) error {
		rec, ok, err := tx.GetIdempotencyKey("k1")
		if err != nil || !ok || rec.Status != "completed" || rec.StatusCode != 201 || string(rec.Body) != `{"ok":true}` || rec.ExpiresAt != "t9" {
			t.Fatalf("idempotency mismatch: ok=%v err=%v %+v", ok, err, rec)
		}
		return nil
	})

	if err := s.WithTx(ctx, func(tx ledger.Tx) error { return tx.DeleteIdempotencyKey("k1") }); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = s.View(ctx, func(tx ledger.Tx) error {
		if _, ok, err := tx.GetIdempotencyKey("k1"); ok || err != nil {
			t.Fatalf("expected deleted key: ok=%v err=%v", ok, err)
		}
		return nil
	})
}

func TestRebind(t *testing.T) {
	got := rebind(ledger.DBPostgres, "SELECT a FROM t WHERE b = ? AND c = ?")
	if got != "SELECT a FROM t WHERE b = $1 AND c = $2" {
		t.Fatalf("unexpected rebind: %s", got)
	}
	if rebind(ledger.DBMySQL, "x = ?") != "x = ?" {
		t.Fatalf("mysql should keep ? placeholders")
	}
}

func TestUpsertSQL(t *testing.T) {
	cols := []string{"k", "v"}
	keys := []string{"k"}

	got := upsertSQL(ledger.DBSQLite, "t", cols, keys, []string{"v"})
	if got != "INSERT INTO t(k, v) VALUES(?,?) ON CONFLICT(k) DO UPDATE SET v=excluded.v" {
		t.Fatalf("unexpected sqlite upsert: %s", got)
	}
	got = upsertSQL(ledger.DBMySQL, "t", cols, keys, []string{"v"})
	if got != "INSERT INTO t(k, v) VALUES(?,?) ON DUPLICATE KEY UPDATE v=VALUES(v)" {
		t.Fatalf("unexpected mysql upsert: %s", got)
	}
	got = upsertSQL(ledger.DBMySQL, "t", cols, keys, nil)
	if got != "INSERT IGNORE INTO t(k, v) VALUES(?,?)" {
		t.Fatalf("unexpected mysql insert ignore: %s", got)
	}
	got = upsertSQL(ledger.DBPostgres, "t", cols, keys, nil)
	if got != "INSERT INTO t(k, v) VALUES(?,?) ON CONFLICT(k) DO NOTHING" {
		t.Fatalf("unexpected postgres insert: %s", got)
	}
}

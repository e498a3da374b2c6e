package ledger

import (
	"fmt"

	"github.com/davidahmann/surety/internal/crypto"
	"github.com/davidahmann/surety/pkg/types"
)

const ReceiptSchema = "surety.receipt.v1"

type Signer interface {
	KeyID() string
	Sign(digest []byte) ([]byte, error)
}

type MakeReceiptInput struct {
	Seq           int64
	PrevReceiptID string
	Op            types.Op
	Actor         string
	Subject       string
	Payload       map[string]any
	CreatedAt     string
}

// MakeReceipt canonicalizes + hashes + signs a journal entry. The previous
// receipt id is part of the signed body, chaining every entry to its predecessor.
func MakeReceipt(in MakeReceiptInput, signer Signer) (ReceiptRecord, error) {
	if in.Seq < 1 {
		return ReceiptRecord{}, fmt.Errorf("invalid receipt seq: %d", in.Seq)
	}
	if in.Seq > 1 && in.PrevReceiptID == "" {
		return ReceiptRecord{}, fmt.Errorf("receipt %d missing prev_receipt_id", in.Seq)
	}
	if in.Op == "" || in.CreatedAt == "" {
		return ReceiptRecord{}, fmt.Errorf("missing required receipt fields")
	}

	body := map[string]any{
		"schema":     ReceiptSchema,
		"seq":        in.Seq,
		"op":         string(in.Op),
		"actor":      in.Actor,
		"created_at": in.CreatedAt,
		"payload":    in.Payload,
	}
	if in.PrevReceiptID != "" {
		body["prev_receipt_id"] = in.PrevReceiptID
	}
	if in.Subject != "" {
		body["subject"] = in.Subject
	}

	canonical, err := crypto.Canonicalize(body)
	if err != nil {
		return ReceiptRecord{}, err
	}

	digestBytes := crypto.DigestBytes(canonical)
	bodyDigest := crypto.DigestWithPrefix(canonical)

	sig, err := signer.Sign(digestBytes)
	if err != nil {
		return ReceiptRecord{}, err
	}

	return ReceiptRecord{
		Seq:           in.Seq,
		ReceiptID:     bodyDigest,
		PrevReceiptID: in.PrevReceiptID,
		Op:            string(in.Op),
		Actor:         in.Actor,
		BodyJSON:      canonical,
		BodyDigest:    bodyDigest,
		KeyID:         signer.KeyID(),
		Sig:           sig,
		CreatedAt:     in.CreatedAt,
	}, nil
}

// AppendSigned builds the next receipt on top of the journal head and appends it.
func AppendSigned(tx Tx, signer Signer, op types.Op, actor, subject string, payload map[string]any, createdAt string) (ReceiptRecord, error) {
	head, ok, err := tx.LatestReceipt()
	if err != nil {
		return ReceiptRecord{}, err
	}
	in := MakeReceiptInput{
		Seq:       1,
		Op:        op,
		Actor:     actor,
		Subject:   subject,
		Payload:   payload,
		CreatedAt: createdAt,
	}
	if ok {
		in.Seq = head.Seq + 1
		in.PrevReceiptID = head.ReceiptID
	}
	rec, err := MakeReceipt(in, signer)
	if err != nil {
		return ReceiptRecord{}, err
	}
	if err := tx.AppendReceipt(rec); err != nil {
		return ReceiptRecord{}, err
	}
	return rec, nil
}

package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/davidahmann/surety/internal/crypto"
	"github.com/davidahmann/surety/pkg/types"
)

var (
	ErrReceiptDigestMismatch = errors.New("receipt digest mismatch")
	ErrReceiptSignature      = errors.New("receipt signature invalid")
	ErrReceiptChainBroken    = errors.New("receipt chain broken")
	ErrUnknownKey            = errors.New("unknown signing key")
)

// VerifyReceipt validates digest consistency and signature.
func VerifyReceipt(receipt ReceiptRecord, publicKey ed25519.PublicKey) error {
	claimed, err := crypto.ParseDigest(receipt.ReceiptID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReceiptDigestMismatch, err)
	}
	digest := crypto.DigestBytes(receipt.BodyJSON)
	if !bytes.Equal(claimed, digest) || receipt.BodyDigest != receipt.ReceiptID {
		return ErrReceiptDigestMismatch
	}

	ok, err := crypto.VerifyEd25519(publicKey, digest, receipt.Sig)
	if err != nil {
		return err
	}
	if !ok {
		return ErrReceiptSignature
	}
	return nil
}

// KeyLookup resolves a key id to its public key.
type KeyLookup func(keyID string) (ed25519.PublicKey, bool)

// VerifyChain checks every receipt and that each one links to its predecessor.
// receipts must be ordered by Seq; prev is the receipt preceding the first one, if any.
func VerifyChain(prev *ReceiptRecord, receipts []ReceiptRecord, keys KeyLookup) error {
	for _, rec := range receipts {
		pub, ok := keys(rec.KeyID)
		if !ok {
			return fmt.Errorf("receipt %d: %w: %s", rec.Seq, ErrUnknownKey, rec.KeyID)
		}
		if err := VerifyReceipt(rec, pub); err != nil {
			return fmt.Errorf("receipt %d: %w", rec.Seq, err)
		}

		var body types.ReceiptBody
		if err := json.Unmarshal(rec.BodyJSON, &body); err != nil {
			return fmt.Errorf("receipt %d: decode body: %w", rec.Seq, err)
		}
		if body.Seq != rec.Seq || body.PrevReceiptID != rec.PrevReceiptID {
			return fmt.Errorf("receipt %d: %w: body does not match record", rec.Seq, ErrReceiptChainBroken)
		}

		switch {
		case prev == nil && rec.Seq != 1:
			return fmt.Errorf("receipt %d: %w: missing predecessor", rec.Seq, ErrReceiptChainBroken)
		case prev == nil && rec.PrevReceiptID != "":
			return fmt.Errorf("receipt %d: %w: genesis links to %s", rec.Seq, ErrReceiptChainBroken, rec.PrevReceiptID)
		case prev != nil && (rec.Seq != prev.Seq+1 || rec.PrevReceiptID != prev.ReceiptID):
			return fmt.Errorf("receipt %d: %w: expected link to %s", rec.Seq, ErrReceiptChainBroken, prev.ReceiptID)
		}

		current := rec
		prev = &current
	}
	return nil
}

// VerifyJournal walks the whole journal of a store in pages.
func VerifyJournal(tx Tx, keys KeyLookup) (int64, error) {
	var (
		prev  *ReceiptRecord
		after int64
		count int64
	)
	for {
		page, err := tx.ListReceipts(after, 500)
		if err != nil {
			return count, err
		}
		if len(page) == 0 {
			return count, nil
		}
		if err := VerifyChain(prev, page, keys); err != nil {
			return count, err
		}
		last := page[len(page)-1]
		prev = &last
		after = last.Seq
		count += int64(len(page))
	}
}

// TxKeyLookup resolves keys from the ledger's key table.
func TxKeyLookup(tx Tx) KeyLookup {
	return func(keyID string) (ed25519.PublicKey, bool) {
		rec, ok, err := tx.GetKey(keyID)
		if err != nil || !ok {
			return nil, false
		}
		return ed25519.PublicKey(rec.PublicKey), true
	}
}

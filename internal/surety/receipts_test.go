package surety

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidahmann/surety/internal/crypto"
	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/params"
)

func TestVerifyReceipt(t *testing.T) {
	h := bootstrapped(t)
	require := require.New(t)

	receipts := h.receipts()
	require.Len(receipts, 2)

	for _, r := range receipts {
		check, err := h.svc.VerifyReceipt(h.ctx, r.ReceiptID)
		require.NoError(err)
		require.True(check.Valid, check.Error)
		require.Equal(r.Seq, check.Seq)
	}

	_, err := h.svc.VerifyReceipt(h.ctx, "sha256:missing")
	require.ErrorIs(err, ErrReceiptNotFound)

	rec, err := h.svc.GetReceipt(h.ctx, receipts[1].ReceiptID)
	require.NoError(err)
	require.Equal(receipts[0].ReceiptID, rec.PrevReceiptID)
}

// restarted opens a second service over the harness ledger with a new signer.
func (h *harness) restarted(signer *crypto.Signer) *Service {
	h.t.Helper()
	svc, err := New(Options{Store: h.store, Params: params.Default(), Signer: signer, Now: h.clock.Now})
	require.NoError(h.t, err)
	require.NoError(h.t, svc.Bootstrap(h.ctx, owner, airlineA, "Alpha Air"))
	return svc
}

func TestJournalVerifiesAcrossKeyRotation(t *testing.T) {
	h := bootstrapped(t)
	require := require.New(t)

	rotated, err := crypto.NewSignerFromSeed("", bytes.Repeat([]byte{0x09}, 32))
	require.NoError(err)
	require.NotEqual(h.signer.KeyID(), rotated.KeyID())

	svc := h.restarted(rotated)
	_, err = svc.FundAirline(h.ctx, airlineA, ether(1))
	require.NoError(err)

	n, err := svc.VerifyJournal(h.ctx)
	require.NoError(err)
	require.Equal(int64(3), n)

	receipts := h.receipts()
	require.Equal(rotated.KeyID(), receipts[len(receipts)-1].KeyID)
	require.NoError(h.store.View(h.ctx, func(tx ledger.Tx) error {
		for _, id := range []string{h.signer.KeyID(), rotated.KeyID()} {
			_, ok, err := tx.GetKey(id)
			require.NoError(err)
			require.True(ok, id)
		}
		return nil
	}))

	check, err := h.svc.VerifyReceipt(h.ctx, receipts[len(receipts)-1].ReceiptID)
	require.NoError(err)
	require.True(check.Valid, check.Error)
}

func TestReusedKeyIDWithNewKeyIsRefused(t *testing.T) {
	h := bootstrapped(t)
	require := require.New(t)

	impostor, err := crypto.NewSignerFromSeed(h.signer.KeyID(), bytes.Repeat([]byte{0x09}, 32))
	require.NoError(err)

	svc := h.restarted(impostor)
	_, err = svc.FundAirline(h.ctx, airlineA, ether(1))
	require.ErrorIs(err, ErrKeyConflict)
	require.Len(h.receipts(), 2)

	_, err = h.svc.VerifyJournal(h.ctx)
	require.NoError(err)
}

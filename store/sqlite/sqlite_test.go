/*
sqlite_test.go - Tests for the SQLite store

Tests for:
- Round-tripping invoices, claims and receipts (decimals, times, items)
- Schema-level uniqueness surfacing as billing.ErrDuplicate
- WithTx rollback, and giving up on a queued transaction when ctx ends
- Tenant scoping of lookups
- Persistence across reopen of a file database
*/
package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leadsbox/billing-engine/billing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, time.March, 1, 9, 0, 0, 123456789, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store) billing.Invoice {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveOrganization(ctx, billing.Organization{ID: "org-a", Name: "Ada Fabrics", CreatedAt: t0}))
	require.NoError(t, s.SaveOrganization(ctx, billing.Organization{ID: "org-b", Name: "Bolu Foods", CreatedAt: t0}))

	total := decimal.RequireFromString("1234.56")
	inv := billing.Invoice{
		ID:       "inv-1",
		TenantID: "org-a",
		Code:     "INV-AB12",
		Currency: "NGN",
		Items: []billing.LineItem{
			{Name: "Lace", Qty: 2, UnitPrice: decimal.RequireFromString("617.28")},
		},
		Subtotal:     total,
		Total:        total,
		Status:       billing.InvoiceSent,
		ContactPhone: "+2348000000001",
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	require.NoError(t, s.InsertInvoice(ctx, inv))
	return inv
}

func TestInvoice_RoundTrip(t *testing.T) {
	s := newStore(t)
	want := seed(t, s)

	got, err := s.GetInvoiceByCode(context.Background(), "org-a", "INV-AB12")
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.True(t, got.Total.Equal(want.Total), "total = %s", got.Total)
	assert.True(t, got.CreatedAt.Equal(t0), "nanoseconds survive: %s", got.CreatedAt)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Lace", got.Items[0].Name)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("617.28")))
	assert.Equal(t, billing.InvoiceSent, got.Status)

	exists, err := s.InvoiceCodeExists(context.Background(), "org-a", "INV-AB12")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.InvoiceCodeExists(context.Background(), "org-b", "INV-AB12")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInvoice_TenantScoped(t *testing.T) {
	s := newStore(t)
	inv := seed(t, s)
	ctx := context.Background()

	_, err := s.GetInvoice(ctx, "org-b", inv.ID)
	var nf *billing.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "invoice", nf.Kind)

	_, err = s.GetInvoiceByCode(ctx, "org-b", inv.Code)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	// Code is unique per tenant only
	other := inv
	other.ID, other.TenantID = "inv-2", "org-b"
	require.NoError(t, s.InsertInvoice(ctx, other))

	dup := inv
	dup.ID = "inv-3"
	assert.ErrorIs(t, s.InsertInvoice(ctx, dup), billing.ErrDuplicate)

	found, err := s.FindInvoicesByCode(ctx, inv.Code)
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestTransitionInvoice(t *testing.T) {
	s := newStore(t)
	inv := seed(t, s)
	ctx := context.Background()

	viewedAt := t0.Add(time.Hour)
	ok, err := s.TransitionInvoice(ctx, "org-a", inv.ID, []billing.InvoiceStatus{billing.InvoiceSent}, billing.InvoiceViewed, viewedAt)
	require.NoError(t, err)
	assert.True(t, ok)

	// UpdatedAt is the caller's clock, not the wall clock
	got, err := s.GetInvoice(ctx, "org-a", inv.ID)
	require.NoError(t, err)
	assert.True(t, viewedAt.Equal(got.UpdatedAt), "updated_at = %s", got.UpdatedAt)

	// Stale from-set: no row matched
	ok, err = s.TransitionInvoice(ctx, "org-a", inv.ID, []billing.InvoiceStatus{billing.InvoiceSent}, billing.InvoiceCancelled, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	// Never to PAID outside settlement
	ok, err = s.TransitionInvoice(ctx, "org-a", inv.ID, []billing.InvoiceStatus{billing.InvoiceViewed}, billing.InvoicePaid, t0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, billing.ErrInvalidStateTransition)

	// Wrong tenant: no row matched
	ok, err = s.TransitionInvoice(ctx, "org-b", inv.ID, []billing.InvoiceStatus{billing.InvoiceViewed}, billing.InvoiceCancelled, t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithTx_SettleAndReceipt(t *testing.T) {
	s := newStore(t)
	inv := seed(t, s)
	ctx := context.Background()

	rc := billing.Receipt{
		ID:            "rc-1",
		TenantID:      "org-a",
		InvoiceID:     inv.ID,
		ReceiptNumber: "RCPT-ZZ99",
		Amount:        inv.Total,
		SellerName:    "Ada Fabrics",
		BuyerName:     "Customer",
		CreatedAt:     t0,
	}
	err := s.WithTx(ctx, func(tx billing.Tx) error {
		ok, err := tx.SettleInvoice(ctx, "org-a", inv.ID, []billing.InvoiceStatus{billing.InvoiceSent}, t0.Add(time.Hour))
		if err != nil {
			return err
		}
		require.True(t, ok)
		return tx.InsertReceipt(ctx, rc)
	})
	require.NoError(t, err)

	got, err := s.GetInvoice(ctx, "org-a", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePaid, got.Status)
	assert.True(t, t0.Add(time.Hour).Equal(got.UpdatedAt))

	view, err := s.GetReceipt(ctx, "rc-1")
	require.NoError(t, err)
	assert.Equal(t, "INV-AB12", view.InvoiceCode)
	assert.Equal(t, "NGN", view.Currency)
	assert.True(t, view.Amount.Equal(inv.Total))

	taken, err := s.ReceiptNumberExists(ctx, "RCPT-ZZ99")
	require.NoError(t, err)
	assert.True(t, taken)

	// A second receipt for the same invoice is rejected by the schema
	err = s.WithTx(ctx, func(tx billing.Tx) error {
		second := rc
		second.ID, second.ReceiptNumber = "rc-2", "RCPT-ZZ98"
		return tx.InsertReceipt(ctx, second)
	})
	assert.ErrorIs(t, err, billing.ErrDuplicate)

	// Settling again matches no row
	err = s.WithTx(ctx, func(tx billing.Tx) error {
		ok, err := tx.SettleInvoice(ctx, "org-a", inv.ID, []billing.InvoiceStatus{billing.InvoiceSent}, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	inv := seed(t, s)
	ctx := context.Background()
	boom := errors.New("receipt generation failed")

	err := s.WithTx(ctx, func(tx billing.Tx) error {
		ok, err := tx.SettleInvoice(ctx, "org-a", inv.ID, []billing.InvoiceStatus{billing.InvoiceSent}, t0.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetInvoice(ctx, "org-a", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceSent, got.Status)
}

func TestWithTx_QueuedGivesUpWhenContextEnds(t *testing.T) {
	// GIVEN: A transaction holding the store
	s := newStore(t)
	inv := seed(t, s)
	held := make(chan struct{})
	releaseHolder := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		holderDone <- s.WithTx(context.Background(), func(billing.Tx) error {
			close(held)
			<-releaseHolder
			return nil
		})
	}()
	<-held

	// WHEN: Another unit queues behind it with a short deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	ran := false
	err := s.WithTx(ctx, func(tx billing.Tx) error {
		ran = true
		_, err := tx.SettleInvoice(ctx, "org-a", inv.ID, []billing.InvoiceStatus{billing.InvoiceSent}, t0)
		return err
	})

	// THEN: It returns the deadline promptly without running
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, ran)

	close(releaseHolder)
	require.NoError(t, <-holderDone)

	// AND: The store is usable again
	require.NoError(t, s.WithTx(context.Background(), func(billing.Tx) error { return nil }))
	got, err := s.GetInvoice(context.Background(), "org-a", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceSent, got.Status)
}

func TestWithTx_ExpiredWhileRunningDoesNotCommit(t *testing.T) {
	s := newStore(t)
	inv := seed(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.WithTx(ctx, func(tx billing.Tx) error {
		ok, err := tx.SettleInvoice(ctx, "org-a", inv.ID, []billing.InvoiceStatus{billing.InvoiceSent}, t0)
		require.NoError(t, err)
		require.True(t, ok)
		<-ctx.Done()
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := s.GetInvoice(context.Background(), "org-a", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceSent, got.Status)
}

func TestIsUniqueConstraintError(t *testing.T) {
	s := newStore(t)
	inv := seed(t, s)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, "INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)", "org-a", "again", "x")
	require.Error(t, err)
	assert.True(t, isUniqueConstraintError(err))

	// Other constraint failures are not duplicates
	_, err = s.db.ExecContext(ctx, "UPDATE invoices SET tenant_id = ? WHERE id = ?", "ghost", inv.ID)
	require.Error(t, err)
	assert.False(t, isUniqueConstraintError(err))

	assert.False(t, isUniqueConstraintError(errors.New("duplicate key value violates unique constraint")))
	assert.False(t, isUniqueConstraintError(nil))
}

func TestClaims_ListAndReview(t *testing.T) {
	s := newStore(t)
	inv := seed(t, s)
	ctx := context.Background()

	for i, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, s.InsertClaim(ctx, billing.Claim{
			ID:            id,
			TenantID:      "org-a",
			InvoiceID:     inv.ID,
			AmountClaimed: decimal.RequireFromString("1234.56"),
			RefText:       "TRF/" + id,
			Source:        billing.SourceBuyer,
			Status:        billing.ClaimPending,
			CreatedAt:     t0.Add(time.Duration(i) * time.Second),
			UpdatedAt:     t0,
		}))
	}

	reviewed := t0.Add(time.Hour)
	c2, err := s.GetClaim(ctx, "org-a", "c2")
	require.NoError(t, err)
	assert.Nil(t, c2.ReviewedAt)
	c2.Status = billing.ClaimRejected
	c2.ReviewedBy = "staff-1"
	c2.ReviewedAt = &reviewed
	c2.ReviewNote = "no credit"
	require.NoError(t, s.UpdateClaimReview(ctx, *c2))

	pending, err := s.ListClaims(ctx, "org-a", billing.ClaimFilter{Status: billing.ClaimPending, Limit: 10})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "c3", pending[0].ID)
	assert.Equal(t, "c1", pending[1].ID)

	all, err := s.ListClaims(ctx, "org-a", billing.ClaimFilter{InvoiceID: inv.ID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := s.GetClaim(ctx, "org-a", "c2")
	require.NoError(t, err)
	assert.Equal(t, billing.ClaimRejected, got.Status)
	require.NotNil(t, got.ReviewedAt)
	assert.True(t, got.ReviewedAt.Equal(reviewed))
	assert.Equal(t, "no credit", got.ReviewNote)

	_, err = s.GetClaim(ctx, "org-b", "c2")
	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.ErrorIs(t, s.UpdateClaimReview(ctx, billing.Claim{ID: "c1", TenantID: "org-b"}), billing.ErrNotFound)
}

func TestBankAccounts_DefaultIndex(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	acct := func(id string, def bool) billing.BankAccount {
		return billing.BankAccount{
			ID: id, TenantID: "org-a", BankName: "GTBank", AccountName: "Ada", AccountNumber: id,
			IsDefault: def, CreatedAt: t0, UpdatedAt: t0,
		}
	}
	require.NoError(t, s.InsertBankAccount(ctx, acct("b1", true)))
	assert.ErrorIs(t, s.InsertBankAccount(ctx, acct("b2", true)), billing.ErrDuplicate)

	require.NoError(t, s.ClearDefaultBankAccounts(ctx, "org-a", ""))
	require.NoError(t, s.InsertBankAccount(ctx, acct("b2", true)))

	def, err := s.DefaultBankAccount(ctx, "org-a")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "b2", def.ID)

	none, err := s.DefaultBankAccount(ctx, "org-b")
	require.NoError(t, err)
	assert.Nil(t, none)

	assert.ErrorIs(t, s.DeleteBankAccount(ctx, "org-b", "b2"), billing.ErrNotFound)
	require.NoError(t, s.DeleteBankAccount(ctx, "org-a", "b2"))
}

func TestContacts_LatestWins(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.SaveContact(ctx, billing.Contact{ID: "k1", TenantID: "org-a", Name: "Old Name", Phone: "+1", CreatedAt: t0}))
	require.NoError(t, s.SaveContact(ctx, billing.Contact{ID: "k2", TenantID: "org-a", Name: "New Name", Phone: "+1", CreatedAt: t0.Add(time.Minute)}))

	name, err := s.LookupContactName(ctx, "org-a", "+1")
	require.NoError(t, err)
	assert.Equal(t, "New Name", name)

	name, err = s.LookupContactName(ctx, "org-b", "+1")
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestFileDatabase_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.db")

	s, err := New(path)
	require.NoError(t, err)
	seed(t, s)
	require.NoError(t, s.Close())

	// Reopen: schema migration is idempotent and data survives
	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))

	got, err := s.GetInvoiceByCode(context.Background(), "org-a", "INV-AB12")
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("1234.56")))
}

package billing_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leadsbox/billing-engine/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reminders(d *recordingDispatcher) []sentMessage {
	var out []sentMessage
	for _, m := range d.messages() {
		if strings.HasPrefix(m.Body, "Reminder from") {
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// PAYMENT REMINDERS
// =============================================================================

func TestSendPaymentReminders_OncePerInvoice(t *testing.T) {
	forEachStore(t, func(t *testing.T, st billing.TxStore) {
		// GIVEN: two outstanding invoices in different tenants
		f := newFixture(t, st)
		ctx := context.Background()
		a := f.createInvoice(t, tenantA)
		b := f.createInvoice(t, tenantB)

		// WHEN: a sweep runs with no age threshold
		run, err := f.engine.SendPaymentReminders(ctx, 0, 0)
		require.NoError(t, err)

		// THEN: each buyer got one reminder
		assert.Equal(t, &billing.ReminderRun{Checked: 2, Sent: 2}, run)
		sent := reminders(f.dispatcher)
		require.Len(t, sent, 2)
		assert.Contains(t, sent[0].Body, "Reminder from Ada Fabrics")
		assert.Contains(t, sent[0].Body, "Invoice "+a.Code+" for ₦1500.00 is still awaiting payment.")
		assert.Contains(t, sent[0].Body, "https://app.test/invoice/"+a.Code)
		assert.Contains(t, sent[1].Body, "Reminder from Bolu Foods")
		assert.Contains(t, sent[1].Body, b.Code)

		// AND: the invoice is marked but its status is untouched
		got, err := f.engine.GetInvoice(ctx, tenantA, a.Code)
		require.NoError(t, err)
		assert.NotNil(t, got.Invoice.RemindedAt)
		assert.Equal(t, billing.InvoiceSent, got.Invoice.Status)

		// WHEN: the sweep runs again
		run, err = f.engine.SendPaymentReminders(ctx, 0, 0)
		require.NoError(t, err)

		// THEN: nothing is due
		assert.Equal(t, 0, run.Checked)
		assert.Len(t, reminders(f.dispatcher), 2)
	})
}

func TestSendPaymentReminders_OnlyOutstandingInvoices(t *testing.T) {
	forEachStore(t, func(t *testing.T, st billing.TxStore) {
		// GIVEN: invoices in every interesting state
		f := newFixture(t, st)
		ctx := context.Background()

		confirmed := f.createInvoice(t, tenantA)
		_, err := f.engine.ConfirmPayment(ctx, tenantA, confirmed.Code)
		require.NoError(t, err)

		paid := f.createInvoice(t, tenantA)
		claim := f.fileClaim(t, tenantA, paid.Code)
		_, err = f.engine.ApproveClaim(ctx, tenantA, claim.ID, "staff-1")
		require.NoError(t, err)

		cancelled := f.createInvoice(t, tenantA)
		_, err = f.engine.CancelInvoice(ctx, tenantA, cancelled.Code)
		require.NoError(t, err)

		viewed := f.createInvoice(t, tenantA)
		_, err = f.engine.MarkViewed(ctx, tenantA, viewed.Code)
		require.NoError(t, err)

		_, err = f.engine.CreateInvoice(ctx, billing.CreateInvoiceInput{
			TenantID: tenantA,
			Items:    []billing.LineItem{{Name: "Walk-in", Qty: 1, UnitPrice: dec("100")}},
		}, false)
		require.NoError(t, err)

		// WHEN: a sweep runs
		run, err := f.engine.SendPaymentReminders(ctx, 0, 0)
		require.NoError(t, err)

		// THEN: only the viewed invoice with a phone is reminded
		assert.Equal(t, 1, run.Sent)
		sent := reminders(f.dispatcher)
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].Body, viewed.Code)
	})
}

func TestSendPaymentReminders_RespectsAge(t *testing.T) {
	forEachStore(t, func(t *testing.T, st billing.TxStore) {
		// GIVEN: an invoice created moments ago
		f := newFixture(t, st)
		f.createInvoice(t, tenantA)

		// WHEN: reminders are due only after a day
		run, err := f.engine.SendPaymentReminders(context.Background(), 24*time.Hour, 0)

		// THEN: nothing is sent
		require.NoError(t, err)
		assert.Equal(t, 0, run.Checked)
		assert.Empty(t, reminders(f.dispatcher))
	})
}

func TestSendPaymentReminders_BatchLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, st billing.TxStore) {
		// GIVEN: three outstanding invoices
		f := newFixture(t, st)
		ctx := context.Background()
		first := f.createInvoice(t, tenantA)
		f.createInvoice(t, tenantA)
		f.createInvoice(t, tenantA)

		// WHEN: sweeps run with a batch of two
		run, err := f.engine.SendPaymentReminders(ctx, 0, 2)
		require.NoError(t, err)

		// THEN: the oldest go first and the rest follow next sweep
		assert.Equal(t, 2, run.Sent)
		assert.Contains(t, reminders(f.dispatcher)[0].Body, first.Code)

		run, err = f.engine.SendPaymentReminders(ctx, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, run.Sent)
	})
}

func TestSendPaymentReminders_FailedSendNotRetried(t *testing.T) {
	forEachStore(t, func(t *testing.T, st billing.TxStore) {
		// GIVEN: messaging is down
		f := newFixture(t, st)
		ctx := context.Background()
		f.createInvoice(t, tenantA)
		f.dispatcher.err = errDeliveryDown

		// WHEN: a sweep runs
		run, err := f.engine.SendPaymentReminders(ctx, 0, 0)

		// THEN: the failure is counted, not returned
		require.NoError(t, err)
		assert.Equal(t, &billing.ReminderRun{Checked: 1, Failed: 1}, run)

		// AND: the invoice is not reminded twice once messaging recovers
		f.dispatcher.err = nil
		run, err = f.engine.SendPaymentReminders(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, run.Checked)
	})
}

func TestSendPaymentReminders_NegativeAfter(t *testing.T) {
	f := newFixture(t, storeFactories(t)["memory"]())

	_, err := f.engine.SendPaymentReminders(context.Background(), -time.Minute, 0)

	var verr *billing.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "after", verr.Field)
}

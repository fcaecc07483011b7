/*
remind.go - Payment reminders for outstanding invoices

PURPOSE:
  An invoice the buyer has not confirmed or paid gets exactly one
  reminder message once it has been outstanding for a while. Reminders
  are a nudge only: they never change invoice status.

SELECTION:
  status SENT or VIEWED, contact phone present, never reminded, created at
  or before now - After. PENDING_CONFIRMATION is excluded since the buyer
  already said they paid; staff owe the next step there.

DELIVERY:
  The invoice is marked reminded before the message goes out, so two
  sweeps racing over the same invoice send at most one reminder. A failed
  send is counted and logged but not retried.

SEE ALSO:
  - api/scheduler.go: periodic sweep
*/
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultReminderBatch bounds one sweep.
const DefaultReminderBatch = 50

// ReminderRun summarises one sweep.
type ReminderRun struct {
	Checked int
	Sent    int
	Failed  int
	Skipped int // already marked by a concurrent sweep
}

// SendPaymentReminders messages every buyer whose invoice has been
// outstanding longer than after. batch <= 0 uses DefaultReminderBatch.
func (e *Engine) SendPaymentReminders(ctx context.Context, after time.Duration, batch int) (*ReminderRun, error) {
	if after < 0 {
		return nil, invalid("after", "must not be negative")
	}
	if batch <= 0 {
		batch = DefaultReminderBatch
	}
	now := e.now().UTC()
	due, err := e.store.ListInvoicesDueReminder(ctx, now.Add(-after), batch)
	if err != nil {
		return nil, fmt.Errorf("list invoices due reminder: %w", err)
	}

	run := &ReminderRun{Checked: len(due)}
	for i := range due {
		inv := &due[i]
		claimed, err := e.store.MarkInvoiceReminded(ctx, inv.TenantID, inv.ID, now)
		if err != nil {
			return run, fmt.Errorf("mark invoice %s reminded: %w", inv.Code, err)
		}
		if !claimed {
			run.Skipped++
			continue
		}

		org, err := e.store.GetOrganization(ctx, inv.TenantID)
		if err != nil {
			return run, err
		}
		var post PostCommit
		post.Enqueue(Notification{
			To:   inv.ContactPhone,
			Body: reminderMessage(org, inv, e.cfg.PublicURL+"/invoice/"+inv.Code),
			Ref:  inv.Code,
		})
		if warnings := post.Flush(ctx, e.dispatcher, e.Coordinator.cfg.NotifyTimeout, e.log); len(warnings) > 0 {
			run.Failed++
			continue
		}
		run.Sent++
	}

	if run.Checked > 0 {
		e.log.Info().
			Int("checked", run.Checked).
			Int("sent", run.Sent).
			Int("failed", run.Failed).
			Int("skipped", run.Skipped).
			Msg("payment reminders sent")
	}
	return run, nil
}

func reminderMessage(org *Organization, inv *Invoice, confirmURL string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reminder from %s\n", sellerName(org))
	fmt.Fprintf(&sb, "Invoice %s for %s is still awaiting payment.\n",
		inv.Code, FormatMoney(inv.Currency, inv.Total))
	if confirmURL != "" {
		fmt.Fprintf(&sb, "Already paid? Confirm here: %s\n", confirmURL)
	}
	return sb.String()
}

/*
notify.go - Post-commit notification queue

PURPOSE:
  Settlement messages are enqueued while the atomic unit runs and only
  delivered after it commits. A rolled-back unit discards its queue, so a
  buyer is never told about a settlement that did not happen.

DELIVERY:
  Best effort. Each message gets its own timeout detached from the request
  context. Failures are logged and returned as warnings; they never undo
  the settlement and never fail the call. Retries/backoff can be added in
  Flush without touching the transactional code.
*/
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification is one queued outbound message.
type Notification struct {
	To   string
	Body string
	// Ref identifies what the message is about, for logs (receipt number,
	// invoice code).
	Ref string
}

// PostCommit collects notifications during a unit of work.
type PostCommit struct {
	queue []Notification
}

// Enqueue adds a message. Empty destinations are dropped.
func (p *PostCommit) Enqueue(n Notification) {
	if strings.TrimSpace(n.To) == "" {
		return
	}
	p.queue = append(p.queue, n)
}

// Len returns the number of queued messages.
func (p *PostCommit) Len() int { return len(p.queue) }

// Flush delivers every queued message and returns one warning string per
// failure. The queue is emptied.
func (p *PostCommit) Flush(ctx context.Context, d Dispatcher, timeout time.Duration, log zerolog.Logger) []string {
	queue := p.queue
	p.queue = nil
	if d == nil || len(queue) == 0 {
		return nil
	}

	var warnings []string
	base := context.WithoutCancel(ctx)
	for _, n := range queue {
		sendCtx, cancel := context.WithTimeout(base, timeout)
		err := d.SendText(sendCtx, n.To, n.Body)
		cancel()
		if err == nil {
			log.Info().Str("ref", n.Ref).Msg("settlement notification sent")
			continue
		}
		derr := &DispatchError{To: n.To, Err: err}
		log.Warn().Err(derr).Str("ref", n.Ref).Msg("settlement notification failed")
		warnings = append(warnings, fmt.Sprintf("notification for %s not delivered: %v", n.Ref, err))
	}
	return warnings
}

// =============================================================================
// MESSAGE BODIES
// =============================================================================

func receiptMessage(inv *Invoice, rc *Receipt, receiptURL string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Payment Receipt: %s*\n\n", rc.ReceiptNumber)
	fmt.Fprintf(&sb, "Dear %s,\n\n", rc.BuyerName)
	fmt.Fprintf(&sb, "Your payment of %s to %s for invoice %s has been confirmed.\n\n",
		FormatMoney(inv.Currency, rc.Amount), rc.SellerName, inv.Code)
	if receiptURL != "" {
		fmt.Fprintf(&sb, "View your receipt: %s\n\n", receiptURL)
	}
	sb.WriteString("Thank you for your business!")
	return sb.String()
}

func invoiceMessage(org *Organization, inv *Invoice, bank *BankAccount, confirmURL string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Payment Invoice for: %s\n", sellerName(org))
	fmt.Fprintf(&sb, "Invoice: %s\n", inv.Code)
	fmt.Fprintf(&sb, "Invoice Amount: %s\n", FormatMoney(inv.Currency, inv.Total))
	sb.WriteString("Items:\n")
	for _, it := range inv.Items {
		fmt.Fprintf(&sb, "  %s x%d - %s\n", it.Name, it.Qty, FormatMoney(inv.Currency, it.UnitPrice))
	}
	if bank != nil {
		fmt.Fprintf(&sb, "Pay to: %s • %s • %s\n", bank.BankName, bank.AccountName, bank.AccountNumber)
	} else {
		sb.WriteString("Pay to: your bank details\n")
	}
	if confirmURL != "" {
		fmt.Fprintf(&sb, "Confirm: %s\n", confirmURL)
	}
	return sb.String()
}

func sellerName(org *Organization) string {
	if org == nil || strings.TrimSpace(org.Name) == "" {
		return DefaultSellerName
	}
	return org.Name
}

var currencySymbols = map[string]string{
	"NGN": "₦",
	"USD": "$",
	"GBP": "£",
	"EUR": "€",
}

// FormatMoney renders an amount with two decimals and the currency symbol
// when known, otherwise the ISO code.
func FormatMoney(currency string, amount decimal.Decimal) string {
	if sym, ok := currencySymbols[currency]; ok {
		return sym + amount.StringFixed(2)
	}
	return currency + " " + amount.StringFixed(2)
}

/*
invoice.go - Invoice creation and lifecycle

PURPOSE:
  Creates invoices with a tenant-unique code and moves them through the
  buyer-driven and staff-driven parts of the lifecycle. Settlement (-> PAID)
  is NOT here as a public operation; see settle() and reconcile.go.

STATE MACHINE:

    DRAFT ──▶ SENT ──▶ VIEWED ──▶ PENDING_CONFIRMATION ──▶ PAID
               │         │                │
               └─────────┴────────────────┴──▶ CANCELLED | VOID

  - Create:          (new) -> SENT
  - MarkViewed:      SENT -> VIEWED
  - ConfirmPayment:  SENT|VIEWED -> PENDING_CONFIRMATION (buyer self-report)
  - settle:          SENT|VIEWED|PENDING_CONFIRMATION -> PAID (coordinator only)
  - Cancel / Void:   any non-terminal -> CANCELLED / VOID
  - PARTIAL is a valid stored value but nothing produces it.
*/
package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// settleableFrom are the statuses an approval may settle from.
var settleableFrom = []InvoiceStatus{InvoiceSent, InvoiceViewed, InvoicePendingConfirmation}

// nonTerminal are the statuses Cancel and Void accept.
var nonTerminal = []InvoiceStatus{InvoiceDraft, InvoiceSent, InvoiceViewed, InvoicePendingConfirmation, InvoicePartial}

const (
	DefaultCurrency   = "NGN"
	maxInsertAttempts = 3
)

// CreateInvoiceInput is what a tenant supplies to bill a contact.
type CreateInvoiceInput struct {
	TenantID     string
	Items        []LineItem
	Currency     string
	ContactPhone string
}

// InvoiceService owns invoice records.
type InvoiceService struct {
	store TxStore
	codes *CodeGenerator
	now   func() time.Time
}

func NewInvoiceService(store TxStore, codes *CodeGenerator, now func() time.Time) *InvoiceService {
	if now == nil {
		now = time.Now
	}
	return &InvoiceService{store: store, codes: codes, now: now}
}

// Create validates the items, computes totals once and persists the
// invoice in SENT with a fresh INV-XXXX code.
func (s *InvoiceService) Create(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return nil, invalid("tenant_id", "required")
	}
	if err := validateItems(in.Items); err != nil {
		return nil, err
	}
	if _, err := s.store.GetOrganization(ctx, in.TenantID); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	items := make([]LineItem, len(in.Items))
	copy(items, in.Items)
	total := SumItems(items)
	now := s.now().UTC()

	exists := func(ctx context.Context, code string) (bool, error) {
		return s.store.InvoiceCodeExists(ctx, in.TenantID, code)
	}

	// The existence check and the insert are not atomic; a concurrent
	// create can take the same code in between. The unique index catches
	// that and we draw again.
	for attempt := 0; ; attempt++ {
		code, err := s.codes.Generate(ctx, InvoiceCodePrefix, InvoiceCodeScope(in.TenantID), exists)
		if err != nil {
			return nil, err
		}
		inv := Invoice{
			ID:           uuid.NewString(),
			TenantID:     in.TenantID,
			Code:         code,
			Currency:     currency,
			Items:        items,
			Subtotal:     total,
			Total:        total,
			Status:       InvoiceSent,
			ContactPhone: strings.TrimSpace(in.ContactPhone),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err = s.store.InsertInvoice(ctx, inv)
		if err == nil {
			return &inv, nil
		}
		if !errors.Is(err, ErrDuplicate) || attempt+1 >= maxInsertAttempts {
			return nil, err
		}
	}
}

func validateItems(items []LineItem) error {
	if len(items) == 0 {
		return invalid("items", "at least one line item is required")
	}
	for i, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return invalid("items", "item %d: name is required", i)
		}
		if it.Qty < 1 {
			return invalid("items", "item %d: qty must be at least 1", i)
		}
		if it.UnitPrice.IsNegative() {
			return invalid("items", "item %d: unit price must not be negative", i)
		}
	}
	return nil
}

// Get returns the invoice and the tenant's default bank account (nil if none).
func (s *InvoiceService) Get(ctx context.Context, tenantID, code string) (*Invoice, *BankAccount, error) {
	inv, err := s.store.GetInvoiceByCode(ctx, tenantID, code)
	if err != nil {
		return nil, nil, err
	}
	bank, err := s.store.DefaultBankAccount(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return inv, bank, nil
}

// List returns the tenant's invoices, newest first.
func (s *InvoiceService) List(ctx context.Context, tenantID string, limit int) ([]Invoice, error) {
	if limit <= 0 || limit > MaxListSize {
		limit = MaxListSize
	}
	return s.store.ListInvoices(ctx, tenantID, limit)
}

// resolveCode finds the invoice for a buyer-facing call. tenantID is
// optional; without it the code must be unambiguous across tenants.
func (s *InvoiceService) resolveCode(ctx context.Context, tenantID, code string) (*Invoice, error) {
	if tenantID != "" {
		return s.store.GetInvoiceByCode(ctx, tenantID, code)
	}
	matches, err := s.store.FindInvoicesByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, notFound("invoice", code)
	case 1:
		return &matches[0], nil
	default:
		return nil, invalid("tenant_id", "invoice code %s is ambiguous, tenant required", code)
	}
}

// ConfirmPayment records the buyer's claim that they paid. Informational
// only: no receipt, no settlement.
func (s *InvoiceService) ConfirmPayment(ctx context.Context, tenantID, code string) (*Invoice, error) {
	inv, err := s.resolveCode(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	if inv.Status == InvoicePendingConfirmation {
		return inv, nil
	}
	return s.transition(ctx, inv, []InvoiceStatus{InvoiceSent, InvoiceViewed}, InvoicePendingConfirmation)
}

// MarkViewed records that the buyer opened the invoice. Any status other
// than SENT is left as is.
func (s *InvoiceService) MarkViewed(ctx context.Context, tenantID, code string) (*Invoice, error) {
	inv, err := s.resolveCode(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoiceSent {
		return inv, nil
	}
	now := s.now().UTC()
	ok, err := s.store.TransitionInvoice(ctx, inv.TenantID, inv.ID, []InvoiceStatus{InvoiceSent}, InvoiceViewed, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.store.GetInvoice(ctx, inv.TenantID, inv.ID)
	}
	inv.Status = InvoiceViewed
	inv.UpdatedAt = now
	return inv, nil
}

// Cancel withdraws an unpaid invoice.
func (s *InvoiceService) Cancel(ctx context.Context, tenantID, code string) (*Invoice, error) {
	inv, err := s.store.GetInvoiceByCode(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, inv, nonTerminal, InvoiceCancelled)
}

// Void invalidates an unpaid invoice issued in error.
func (s *InvoiceService) Void(ctx context.Context, tenantID, code string) (*Invoice, error) {
	inv, err := s.store.GetInvoiceByCode(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, inv, nonTerminal, InvoiceVoid)
}

func (s *InvoiceService) transition(ctx context.Context, inv *Invoice, from []InvoiceStatus, to InvoiceStatus) (*Invoice, error) {
	if !statusIn(inv.Status, from) {
		return nil, &TransitionError{Entity: "invoice", ID: inv.Code, From: string(inv.Status), To: string(to)}
	}
	now := s.now().UTC()
	ok, err := s.store.TransitionInvoice(ctx, inv.TenantID, inv.ID, from, to, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race; report against what is there now.
		current, err := s.store.GetInvoice(ctx, inv.TenantID, inv.ID)
		if err != nil {
			return nil, err
		}
		return nil, &TransitionError{Entity: "invoice", ID: inv.Code, From: string(current.Status), To: string(to)}
	}
	inv.Status = to
	inv.UpdatedAt = now
	return inv, nil
}

// settle is the single guarded path to PAID. It must run inside a Tx.
// from restricts which statuses this entry point may settle from.
func settle(ctx context.Context, tx Tx, inv *Invoice, from []InvoiceStatus, now time.Time) error {
	if !statusIn(inv.Status, from) {
		return &TransitionError{Entity: "invoice", ID: inv.Code, From: string(inv.Status), To: string(InvoicePaid)}
	}
	ok, err := tx.SettleInvoice(ctx, inv.TenantID, inv.ID, from, now)
	if err != nil {
		return err
	}
	if !ok {
		current, err := tx.GetInvoice(ctx, inv.TenantID, inv.ID)
		if err != nil {
			return err
		}
		return &TransitionError{Entity: "invoice", ID: inv.Code, From: string(current.Status), To: string(InvoicePaid)}
	}
	inv.Status = InvoicePaid
	inv.UpdatedAt = now
	return nil
}

func statusIn(s InvoiceStatus, set []InvoiceStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

/*
Package billing provides the invoice and payment-claim reconciliation engine.

PURPOSE:
  Turns a commercial invoice into a verified, receipted payment. Tenants
  create invoices, buyers or staff file payment claims against them, and
  staff adjudicate those claims. A successful approval settles the invoice
  and issues exactly one immutable receipt in the same atomic unit.

KEY CONCEPTS IN THIS FILE (types.go):
  - Organization/BankAccount: The tenant and its payment instructions
  - Invoice/LineItem:         Billing document with an immutable item snapshot
  - Claim:                    Assertion that a payment was made, pending review
  - Receipt:                  Immutable proof of settlement

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal, never float64
  2. Tenant scoping: Every record carries TenantID; cross-tenant reads are
     indistinguishable from missing records
  3. Settlement bijection: Invoice is PAID if and only if one receipt exists
  4. Audit: Claims are never deleted, receipts never change

SEE ALSO:
  - invoice.go:   Invoice lifecycle and state machine
  - claim.go:     Claim filing and listing
  - reconcile.go: Approval, rejection and direct confirmation
  - receipt.go:   Receipt issuing
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ORGANIZATION - The tenant
// =============================================================================

type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// BankAccount holds payment instructions shown to buyers.
// At most one account per organization has IsDefault set.
type BankAccount struct {
	ID            string
	TenantID      string
	BankName      string
	AccountName   string
	AccountNumber string
	Notes         string
	IsDefault     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Contact is a lead known to the tenant, used to resolve buyer names.
type Contact struct {
	ID        string
	TenantID  string
	Name      string
	Phone     string
	CreatedAt time.Time
}

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	InvoiceDraft               InvoiceStatus = "DRAFT"
	InvoiceSent                InvoiceStatus = "SENT"
	InvoiceViewed              InvoiceStatus = "VIEWED"
	InvoicePendingConfirmation InvoiceStatus = "PENDING_CONFIRMATION"
	InvoicePaid                InvoiceStatus = "PAID"
	InvoicePartial             InvoiceStatus = "PARTIAL" // reserved, never produced
	InvoiceCancelled           InvoiceStatus = "CANCELLED"
	InvoiceVoid                InvoiceStatus = "VOID"
)

// IsTerminal reports whether no further transition is possible.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoicePaid || s == InvoiceCancelled || s == InvoiceVoid
}

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoiceViewed, InvoicePendingConfirmation,
		InvoicePaid, InvoicePartial, InvoiceCancelled, InvoiceVoid:
		return true
	}
	return false
}

// LineItem is one billed line. Items are frozen once the invoice exists.
type LineItem struct {
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal returns Qty * UnitPrice.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Qty)))
}

type Invoice struct {
	ID           string
	TenantID     string
	Code         string
	Currency     string
	Items        []LineItem
	Subtotal     decimal.Decimal
	Total        decimal.Decimal
	Status       InvoiceStatus
	ContactPhone string
	// RemindedAt is set once the single payment reminder went out.
	RemindedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SumItems returns Σ qty*unitPrice.
func SumItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// =============================================================================
// PAYMENT CLAIM
// =============================================================================

type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
)

type ClaimSource string

const (
	SourceBuyer ClaimSource = "buyer"
	SourceStaff ClaimSource = "staff"
)

// ClaimMetadata is what the submitter tells us about the payment.
type ClaimMetadata struct {
	RefText   string
	PayerBank string
	PayerName string
	ProofRef  string
	Source    ClaimSource
}

type Claim struct {
	ID            string
	TenantID      string
	InvoiceID     string
	AmountClaimed decimal.Decimal
	RefText       string
	PayerBank     string
	PayerName     string
	ProofRef      string
	Source        ClaimSource
	Status        ClaimStatus
	ReviewedBy    string
	ReviewedAt    *time.Time
	ReviewNote    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// RECEIPT
// =============================================================================

// Receipt is immutable once written.
type Receipt struct {
	ID            string
	TenantID      string
	InvoiceID     string
	ReceiptNumber string
	Amount        decimal.Decimal
	SellerName    string
	BuyerName     string
	CreatedAt     time.Time
}

// ReceiptView is a receipt joined with the code of the invoice it settles.
type ReceiptView struct {
	Receipt
	InvoiceCode string
	Currency    string
}

// DefaultBuyerName is used when neither the claim nor the contact
// directory knows who paid.
const DefaultBuyerName = "Customer"

// DefaultSellerName is used when the organization has no name.
const DefaultSellerName = "Your Business"

/*
store.go - Persistence interfaces for the billing engine

PURPOSE:
  Defines the boundary between the engine and the database. Two
  implementations exist: store/sqlite (production) and billing/store
  (in-memory, for tests and demos).

KEY INTERFACES:
  Store:   Reads plus the writes any caller may perform
  Tx:      Store plus the settlement-only writes (SettleInvoice, InsertReceipt)
  TxStore: Store that can open a Tx

SETTLEMENT CAPABILITY:
  Marking an invoice PAID and writing a receipt exist ONLY on Tx. The only
  way to obtain a Tx is TxStore.WithTx, and the only code in this module
  that opens one for settlement is the Coordinator. There is no generic
  "update invoice status" path that can reach PAID.

CONCURRENCY CONTRACT:
  Implementations serialise write transactions, and SettleInvoice is a
  compare-and-set on the current status. WithTx waits for its turn only
  as long as ctx allows and commits nothing once ctx is done. Two racing settlements of the
  same invoice produce exactly one winner; the loser sees the PAID status
  and gets ErrAlreadySettled.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation
  - store/memory.go: In-memory implementation
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store is the non-settlement persistence surface.
// Lookups return an error wrapping ErrNotFound when nothing matches.
type Store interface {
	Directory
	ContactDirectory

	// Organizations
	SaveOrganization(ctx context.Context, org Organization) error

	// Bank accounts
	InsertBankAccount(ctx context.Context, acct BankAccount) error
	UpdateBankAccount(ctx context.Context, acct BankAccount) error
	DeleteBankAccount(ctx context.Context, tenantID, accountID string) error
	GetBankAccount(ctx context.Context, tenantID, accountID string) (*BankAccount, error)
	ListBankAccounts(ctx context.Context, tenantID string) ([]BankAccount, error)
	// ClearDefaultBankAccounts unsets IsDefault on every account of the
	// tenant except exceptID (which may be empty).
	ClearDefaultBankAccounts(ctx context.Context, tenantID, exceptID string) error

	// Contacts
	SaveContact(ctx context.Context, c Contact) error

	// Invoices
	InsertInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error)
	GetInvoiceByCode(ctx context.Context, tenantID, code string) (*Invoice, error)
	// FindInvoicesByCode searches every tenant. Used by the buyer-facing
	// confirmation, which only knows the code.
	FindInvoicesByCode(ctx context.Context, code string) ([]Invoice, error)
	ListInvoices(ctx context.Context, tenantID string, limit int) ([]Invoice, error)
	InvoiceCodeExists(ctx context.Context, tenantID, code string) (bool, error)
	// TransitionInvoice moves the invoice to `to` only if its current status
	// is one of `from`. Returns false when no row matched. Implementations
	// refuse to = InvoicePaid; that move belongs to Tx.SettleInvoice. now
	// becomes the invoice's UpdatedAt.
	TransitionInvoice(ctx context.Context, tenantID, invoiceID string, from []InvoiceStatus, to InvoiceStatus, now time.Time) (bool, error)
	// ListInvoicesDueReminder searches every tenant for SENT or VIEWED
	// invoices with a contact phone, created at or before cutoff and never
	// reminded. Oldest first.
	ListInvoicesDueReminder(ctx context.Context, cutoff time.Time, limit int) ([]Invoice, error)
	// MarkInvoiceReminded sets RemindedAt when it is unset. Returns false
	// if another caller got there first.
	MarkInvoiceReminded(ctx context.Context, tenantID, invoiceID string, at time.Time) (bool, error)

	// Claims
	InsertClaim(ctx context.Context, c Claim) error
	GetClaim(ctx context.Context, tenantID, claimID string) (*Claim, error)
	// ListClaims returns claims newest first. Empty status means any status,
	// empty invoiceID means any invoice.
	ListClaims(ctx context.Context, tenantID string, filter ClaimFilter) ([]Claim, error)
	UpdateClaimReview(ctx context.Context, c Claim) error

	// Receipts (read-only outside a Tx)
	GetReceipt(ctx context.Context, receiptID string) (*ReceiptView, error)
	ListReceiptsForInvoice(ctx context.Context, tenantID, invoiceID string) ([]Receipt, error)
	ReceiptNumberExists(ctx context.Context, number string) (bool, error)
}

// ClaimFilter narrows ListClaims.
type ClaimFilter struct {
	Status    ClaimStatus
	InvoiceID string
	Limit     int
}

// Tx is the view handed to WithTx callbacks.
type Tx interface {
	Store

	// SettleInvoice moves the invoice to PAID if its status is one of from.
	// Returns false when no row matched: already paid, voided or missing.
	SettleInvoice(ctx context.Context, tenantID, invoiceID string, from []InvoiceStatus, now time.Time) (bool, error)

	// InsertReceipt writes the receipt. Fails with ErrDuplicate if the
	// invoice already has one or the number is taken.
	InsertReceipt(ctx context.Context, r Receipt) error
}

// TxStore can run a function atomically.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// Directory resolves tenants.
type Directory interface {
	GetOrganization(ctx context.Context, tenantID string) (*Organization, error)
	// DefaultBankAccount returns nil, nil when the tenant has no default.
	DefaultBankAccount(ctx context.Context, tenantID string) (*BankAccount, error)
}

// ContactDirectory resolves a buyer name from a phone number. A miss
// returns "", nil and never blocks settlement.
type ContactDirectory interface {
	LookupContactName(ctx context.Context, tenantID, phone string) (string, error)
}

// Dispatcher delivers a text message to a buyer's messaging address.
type Dispatcher interface {
	SendText(ctx context.Context, to, body string) error
}

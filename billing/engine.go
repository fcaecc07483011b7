/*
engine.go - Facade over the billing components

PURPOSE:
  One object exposing the produced interface (create/get invoice, confirm
  payment, file/list/approve/reject claims, get receipt) plus the
  supporting operations (organizations, contacts, bank accounts, invoice
  lifecycle extras). The HTTP layer depends only on this type.

WIRING:
  Engine ─┬─ InvoiceService ─── CodeGenerator (INV, tenant scope)
          ├─ ClaimService
          ├─ Coordinator ─────── ReceiptIssuer ── CodeGenerator (RCPT, global)
          │                 └─── Dispatcher (post-commit)
          ├─ ReceiptReader
          └─ BankAccountService
*/
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config tunes the Engine.
type Config struct {
	MaxCodeAttempts   int
	SettlementTimeout time.Duration
	NotifyTimeout     time.Duration
	PublicURL         string
	StrictRejection   bool
}

// Engine is the billing facade.
type Engine struct {
	Invoices     *InvoiceService
	Claims       *ClaimService
	Coordinator  *Coordinator
	Receipts     *ReceiptReader
	BankAccounts *BankAccountService

	store      TxStore
	codes      *CodeGenerator
	dispatcher Dispatcher
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithCodeGenerator replaces the generator used for both invoice codes and
// receipt numbers.
func WithCodeGenerator(g *CodeGenerator) Option {
	return func(e *Engine) { e.codes = g }
}

// NewEngine wires the components over store. dispatcher may be nil, in
// which case no messages are sent.
func NewEngine(store TxStore, dispatcher Dispatcher, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.codes == nil {
		e.codes = NewCodeGenerator(cfg.MaxCodeAttempts)
	}
	e.cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	e.Invoices = NewInvoiceService(store, e.codes, e.now)
	e.Claims = NewClaimService(store, e.now)
	e.Receipts = NewReceiptReader(store)
	e.BankAccounts = NewBankAccountService(store, e.now)
	e.Coordinator = NewCoordinator(store, NewReceiptIssuer(e.codes, e.now), dispatcher, CoordinatorConfig{
		SettlementTimeout: cfg.SettlementTimeout,
		NotifyTimeout:     cfg.NotifyTimeout,
		PublicURL:         cfg.PublicURL,
		StrictRejection:   cfg.StrictRejection,
	}, e.log, e.now)
	return e
}

// =============================================================================
// ORGANIZATIONS & CONTACTS
// =============================================================================

// CreateOrganization registers a tenant. An empty id is generated.
func (e *Engine) CreateOrganization(ctx context.Context, id, name string) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	org := Organization{ID: id, Name: name, CreatedAt: e.now().UTC()}
	if err := e.store.SaveOrganization(ctx, org); err != nil {
		return nil, err
	}
	return &org, nil
}

// GetOrganization returns the tenant.
func (e *Engine) GetOrganization(ctx context.Context, tenantID string) (*Organization, error) {
	return e.store.GetOrganization(ctx, tenantID)
}

// AddContact records a lead so receipts can carry the buyer's name.
func (e *Engine) AddContact(ctx context.Context, tenantID, name, phone string) (*Contact, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalid("name", "required")
	}
	if strings.TrimSpace(phone) == "" {
		return nil, invalid("phone", "required")
	}
	if _, err := e.store.GetOrganization(ctx, tenantID); err != nil {
		return nil, err
	}
	c := Contact{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      strings.TrimSpace(name),
		Phone:     strings.TrimSpace(phone),
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.SaveContact(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// =============================================================================
// INVOICES
// =============================================================================

// InvoiceCreated is the result of CreateInvoice.
type InvoiceCreated struct {
	Invoice  *Invoice
	Warnings []string
}

// CreateInvoice issues an invoice. With sendText set and a contact phone
// present, the invoice summary is messaged to the buyer best-effort.
func (e *Engine) CreateInvoice(ctx context.Context, in CreateInvoiceInput, sendText bool) (*InvoiceCreated, error) {
	inv, err := e.Invoices.Create(ctx, in)
	if err != nil {
		if !IsClientError(err) {
			e.log.Error().Err(err).Str("tenant_id", in.TenantID).Msg("invoice creation failed")
		}
		return nil, err
	}
	out := &InvoiceCreated{Invoice: inv}
	if !sendText || inv.ContactPhone == "" {
		return out, nil
	}

	// The invoice is already stored; a failed lookup only costs the message.
	org, err := e.store.GetOrganization(ctx, inv.TenantID)
	if err != nil {
		return e.invoiceMessageSkipped(out, err), nil
	}
	bank, err := e.store.DefaultBankAccount(ctx, inv.TenantID)
	if err != nil {
		return e.invoiceMessageSkipped(out, err), nil
	}
	var post PostCommit
	post.Enqueue(Notification{
		To:   inv.ContactPhone,
		Body: invoiceMessage(org, inv, bank, e.cfg.PublicURL+"/invoice/"+inv.Code),
		Ref:  inv.Code,
	})
	out.Warnings = post.Flush(ctx, e.dispatcher, e.Coordinator.cfg.NotifyTimeout, e.log)
	return out, nil
}

func (e *Engine) invoiceMessageSkipped(out *InvoiceCreated, err error) *InvoiceCreated {
	e.log.Warn().Err(err).Str("invoice", out.Invoice.Code).Msg("invoice message not sent")
	out.Warnings = append(out.Warnings, fmt.Sprintf("invoice message for %s not sent: %v", out.Invoice.Code, err))
	return out
}

// InvoiceDetails is an invoice with the payment instructions to show.
type InvoiceDetails struct {
	Invoice            *Invoice
	DefaultBankAccount *BankAccount
	Organization       *Organization
}

// GetInvoice returns the invoice and the tenant's default bank account.
func (e *Engine) GetInvoice(ctx context.Context, tenantID, code string) (*InvoiceDetails, error) {
	inv, bank, err := e.Invoices.Get(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	org, err := e.store.GetOrganization(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &InvoiceDetails{Invoice: inv, DefaultBankAccount: bank, Organization: org}, nil
}

// ConfirmPayment is the buyer's "I have paid". tenantID may be empty.
func (e *Engine) ConfirmPayment(ctx context.Context, tenantID, code string) (*Invoice, error) {
	return e.Invoices.ConfirmPayment(ctx, tenantID, code)
}

// ListInvoices returns the tenant's invoices, newest first.
func (e *Engine) ListInvoices(ctx context.Context, tenantID string, limit int) ([]Invoice, error) {
	return e.Invoices.List(ctx, tenantID, limit)
}

// MarkViewed records that the buyer opened the invoice.
func (e *Engine) MarkViewed(ctx context.Context, tenantID, code string) (*Invoice, error) {
	return e.Invoices.MarkViewed(ctx, tenantID, code)
}

// CancelInvoice withdraws an unpaid invoice.
func (e *Engine) CancelInvoice(ctx context.Context, tenantID, code string) (*Invoice, error) {
	return e.Invoices.Cancel(ctx, tenantID, code)
}

// VoidInvoice invalidates an unpaid invoice.
func (e *Engine) VoidInvoice(ctx context.Context, tenantID, code string) (*Invoice, error) {
	return e.Invoices.Void(ctx, tenantID, code)
}

// PaymentStatus reports what has been received against the invoice.
func (e *Engine) PaymentStatus(ctx context.Context, tenantID, code string) (*PaymentStatus, error) {
	return e.Receipts.PaymentStatus(ctx, tenantID, code)
}

// VerifyPayment is the staff side of ConfirmPayment: settle and receipt.
func (e *Engine) VerifyPayment(ctx context.Context, tenantID, code, verifiedBy string) (*Settlement, error) {
	return e.Coordinator.DirectConfirm(ctx, tenantID, code, verifiedBy)
}

// =============================================================================
// CLAIMS
// =============================================================================

// CreateClaim files a payment claim against an invoice code.
func (e *Engine) CreateClaim(ctx context.Context, tenantID, invoiceCode string, amount decimal.Decimal, meta ClaimMetadata) (*Claim, error) {
	return e.Claims.Create(ctx, tenantID, invoiceCode, amount, meta)
}

// ListPendingClaims returns the verification queue.
func (e *Engine) ListPendingClaims(ctx context.Context, tenantID string) ([]Claim, error) {
	return e.Claims.ListPending(ctx, tenantID)
}

// GetClaim returns one of the tenant's claims.
func (e *Engine) GetClaim(ctx context.Context, tenantID, claimID string) (*Claim, error) {
	return e.Claims.Get(ctx, tenantID, claimID)
}

// ListClaimsForInvoice returns every claim filed against the invoice.
func (e *Engine) ListClaimsForInvoice(ctx context.Context, tenantID, code string) ([]Claim, error) {
	return e.Claims.ListForInvoice(ctx, tenantID, code)
}

// ApproveClaim settles the claim's invoice.
func (e *Engine) ApproveClaim(ctx context.Context, tenantID, claimID, approvedBy string) (*Settlement, error) {
	return e.Coordinator.Approve(ctx, tenantID, claimID, approvedBy)
}

// RejectClaim marks the claim rejected.
func (e *Engine) RejectClaim(ctx context.Context, tenantID, claimID, rejectedBy, reason string) (*Claim, error) {
	return e.Coordinator.Reject(ctx, tenantID, claimID, rejectedBy, reason)
}

// =============================================================================
// RECEIPTS
// =============================================================================

// GetReceipt returns a receipt with its invoice code.
func (e *Engine) GetReceipt(ctx context.Context, receiptID string) (*ReceiptView, error) {
	return e.Receipts.Get(ctx, receiptID)
}

// ReceiptURL is the public link for a receipt.
func (e *Engine) ReceiptURL(receiptID string) string {
	return e.Coordinator.ReceiptURL(receiptID)
}

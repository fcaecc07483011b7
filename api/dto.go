/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal.Decimal and serialise as JSON strings ("1500.00")
  so no client ever parses money through a float. Requests accept either
  a string or a number.

VALIDATION:
  Validation is done in the billing services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/leadsbox/billing-engine/billing"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ORGANIZATIONS, CONTACTS, BANK ACCOUNTS
// =============================================================================

type CreateOrganizationRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type OrganizationDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateContactRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type ContactDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// BankAccountRequest is used for create and update. On update, omitted
// fields keep their value.
type BankAccountRequest struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Notes         string `json:"notes,omitempty"`
	IsDefault     *bool  `json:"is_default,omitempty"`
}

type BankAccountDTO struct {
	ID            string    `json:"id"`
	BankName      string    `json:"bank_name"`
	AccountName   string    `json:"account_name"`
	AccountNumber string    `json:"account_number"`
	Notes         string    `json:"notes,omitempty"`
	IsDefault     bool      `json:"is_default"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// =============================================================================
// INVOICES
// =============================================================================

type CreateInvoiceRequest struct {
	Items        []billing.LineItem `json:"items"`
	Currency     string             `json:"currency,omitempty"`
	ContactPhone string             `json:"contact_phone,omitempty"`
	SendText     bool               `json:"send_text,omitempty"`
}

type InvoiceDTO struct {
	ID           string             `json:"id"`
	Code         string             `json:"code"`
	Currency     string             `json:"currency"`
	Items        []billing.LineItem `json:"items"`
	Subtotal     decimal.Decimal    `json:"subtotal"`
	Total        decimal.Decimal    `json:"total"`
	Status       string             `json:"status"`
	ContactPhone string             `json:"contact_phone,omitempty"`
	RemindedAt   *time.Time         `json:"reminded_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// CreateInvoiceResponse carries delivery warnings for the optional message.
type CreateInvoiceResponse struct {
	Invoice  InvoiceDTO `json:"invoice"`
	Warnings []string   `json:"warnings,omitempty"`
}

// InvoiceDetailsDTO is the invoice as the buyer sees it.
type InvoiceDetailsDTO struct {
	Invoice            InvoiceDTO      `json:"invoice"`
	DefaultBankAccount *BankAccountDTO `json:"default_bank_account"`
	HTML               string          `json:"html,omitempty"`
}

type VerifyPaymentRequest struct {
	VerifiedBy string `json:"verified_by"`
}

type PaymentStatusDTO struct {
	InvoiceCode string          `json:"invoice_code"`
	Status      string          `json:"status"`
	IsPaid      bool            `json:"is_paid"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Receipt     *ReceiptDTO     `json:"receipt,omitempty"`
}

// =============================================================================
// CLAIMS
// =============================================================================

type CreateClaimRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	RefText   string          `json:"ref_text,omitempty"`
	PayerBank string          `json:"payer_bank,omitempty"`
	PayerName string          `json:"payer_name,omitempty"`
	ProofRef  string          `json:"proof_ref,omitempty"`
	Source    string          `json:"source,omitempty"`
}

type ClaimDTO struct {
	ID            string          `json:"id"`
	InvoiceID     string          `json:"invoice_id"`
	AmountClaimed decimal.Decimal `json:"amount_claimed"`
	RefText       string          `json:"ref_text,omitempty"`
	PayerBank     string          `json:"payer_bank,omitempty"`
	PayerName     string          `json:"payer_name,omitempty"`
	ProofRef      string          `json:"proof_ref,omitempty"`
	Source        string          `json:"source"`
	Status        string          `json:"status"`
	ReviewedBy    string          `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNote    string          `json:"review_note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ApproveClaimRequest struct {
	ApprovedBy string `json:"approved_by"`
}

type RejectClaimRequest struct {
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason,omitempty"`
}

// SettlementDTO is returned by approve and verify.
type SettlementDTO struct {
	Claim      *ClaimDTO  `json:"claim,omitempty"`
	Invoice    InvoiceDTO `json:"invoice"`
	Receipt    ReceiptDTO `json:"receipt"`
	ReceiptURL string     `json:"receipt_url"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// =============================================================================
// RECEIPTS
// =============================================================================

type ReceiptDTO struct {
	ID            string          `json:"id"`
	ReceiptNumber string          `json:"receipt_number"`
	InvoiceID     string          `json:"invoice_id"`
	InvoiceCode   string          `json:"invoice_code,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	SellerName    string          `json:"seller_name"`
	BuyerName     string          `json:"buyer_name"`
	CreatedAt     time.Time       `json:"created_at"`
}

// =============================================================================
// REMINDERS
// =============================================================================

type ReminderRunDTO struct {
	Checked int `json:"checked"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadedScenarioDTO struct {
	Scenario     ScenarioDTO `json:"scenario"`
	OrgID        string      `json:"org_id"`
	InvoiceCodes []string    `json:"invoice_codes"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toOrganizationDTO(o *billing.Organization) OrganizationDTO {
	return OrganizationDTO{ID: o.ID, Name: o.Name, CreatedAt: o.CreatedAt}
}

func toBankAccountDTO(a *billing.BankAccount) *BankAccountDTO {
	if a == nil {
		return nil
	}
	return &BankAccountDTO{
		ID:            a.ID,
		BankName:      a.BankName,
		AccountName:   a.AccountName,
		AccountNumber: a.AccountNumber,
		Notes:         a.Notes,
		IsDefault:     a.IsDefault,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toInvoiceDTO(inv *billing.Invoice) InvoiceDTO {
	items := inv.Items
	if items == nil {
		items = []billing.LineItem{}
	}
	return InvoiceDTO{
		ID:           inv.ID,
		Code:         inv.Code,
		Currency:     inv.Currency,
		Items:        items,
		Subtotal:     inv.Subtotal,
		Total:        inv.Total,
		Status:       string(inv.Status),
		ContactPhone: inv.ContactPhone,
		RemindedAt:   inv.RemindedAt,
		CreatedAt:    inv.CreatedAt,
		UpdatedAt:    inv.UpdatedAt,
	}
}

func toClaimDTO(c *billing.Claim) ClaimDTO {
	return ClaimDTO{
		ID:            c.ID,
		InvoiceID:     c.InvoiceID,
		AmountClaimed: c.AmountClaimed,
		RefText:       c.RefText,
		PayerBank:     c.PayerBank,
		PayerName:     c.PayerName,
		ProofRef:      c.ProofRef,
		Source:        string(c.Source),
		Status:        string(c.Status),
		ReviewedBy:    c.ReviewedBy,
		ReviewedAt:    c.ReviewedAt,
		ReviewNote:    c.ReviewNote,
		CreatedAt:     c.CreatedAt,
	}
}

func toClaimDTOs(claims []billing.Claim) []ClaimDTO {
	out := make([]ClaimDTO, 0, len(claims))
	for i := range claims {
		out = append(out, toClaimDTO(&claims[i]))
	}
	return out
}

func toReceiptDTO(r *billing.Receipt) ReceiptDTO {
	return ReceiptDTO{
		ID:            r.ID,
		ReceiptNumber: r.ReceiptNumber,
		InvoiceID:     r.InvoiceID,
		Amount:        r.Amount,
		SellerName:    r.SellerName,
		BuyerName:     r.BuyerName,
		CreatedAt:     r.CreatedAt,
	}
}

func toSettlementDTO(s *billing.Settlement) SettlementDTO {
	out := SettlementDTO{
		Invoice:    toInvoiceDTO(s.Invoice),
		Receipt:    toReceiptDTO(s.Receipt),
		ReceiptURL: s.ReceiptURL,
		Warnings:   s.Warnings,
	}
	out.Receipt.InvoiceCode = s.Invoice.Code
	out.Receipt.Currency = s.Invoice.Currency
	if s.Claim != nil {
		c := toClaimDTO(s.Claim)
		out.Claim = &c
	}
	return out
}

package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReceiptIssuer writes receipts. Issue takes a Tx, so it can only run
// inside an open settlement unit.
type ReceiptIssuer struct {
	codes *CodeGenerator
	now   func() time.Time
}

func NewReceiptIssuer(codes *CodeGenerator, now func() time.Time) *ReceiptIssuer {
	if now == nil {
		now = time.Now
	}
	return &ReceiptIssuer{codes: codes, now: now}
}

// IssueInput describes the settlement being receipted.
type IssueInput struct {
	TenantID   string
	InvoiceID  string
	Amount     decimal.Decimal
	SellerName string
	BuyerName  string
}

// Issue creates the receipt with a globally unique RCPT-XXXX number.
func (r *ReceiptIssuer) Issue(ctx context.Context, tx Tx, in IssueInput) (*Receipt, error) {
	number, err := r.codes.Generate(ctx, ReceiptCodePrefix, ReceiptCodeScope, tx.ReceiptNumberExists)
	if err != nil {
		return nil, err
	}
	rc := Receipt{
		ID:            uuid.NewString(),
		TenantID:      in.TenantID,
		InvoiceID:     in.InvoiceID,
		ReceiptNumber: number,
		Amount:        in.Amount,
		SellerName:    in.SellerName,
		BuyerName:     in.BuyerName,
		CreatedAt:     r.now().UTC(),
	}
	if err := tx.InsertReceipt(ctx, rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// =============================================================================
// READ SIDE
// =============================================================================

// ReceiptReader serves the public receipt lookup and payment status.
type ReceiptReader struct {
	store Store
}

func NewReceiptReader(store Store) *ReceiptReader {
	return &ReceiptReader{store: store}
}

// Get returns the receipt together with its invoice code.
func (r *ReceiptReader) Get(ctx context.Context, receiptID string) (*ReceiptView, error) {
	return r.store.GetReceipt(ctx, receiptID)
}

type PaymentState string

const (
	PaymentPending PaymentState = "PENDING"
	PaymentPaid    PaymentState = "PAID"
)

// PaymentStatus summarises what has been received against an invoice.
type PaymentStatus struct {
	Invoice   *Invoice
	State     PaymentState
	IsPaid    bool
	TotalPaid decimal.Decimal
	Receipt   *Receipt // latest, nil when unpaid
}

// PaymentStatus computes paid/unpaid from the receipts on file.
func (r *ReceiptReader) PaymentStatus(ctx context.Context, tenantID, code string) (*PaymentStatus, error) {
	inv, err := r.store.GetInvoiceByCode(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	receipts, err := r.store.ListReceiptsForInvoice(ctx, tenantID, inv.ID)
	if err != nil {
		return nil, err
	}

	st := &PaymentStatus{Invoice: inv, State: PaymentPending, TotalPaid: decimal.Zero}
	for i := range receipts {
		st.TotalPaid = st.TotalPaid.Add(receipts[i].Amount)
		if st.Receipt == nil || receipts[i].CreatedAt.After(st.Receipt.CreatedAt) {
			st.Receipt = &receipts[i]
		}
	}
	if len(receipts) > 0 && st.TotalPaid.GreaterThanOrEqual(inv.Total) {
		st.State = PaymentPaid
		st.IsPaid = true
	}
	return st, nil
}

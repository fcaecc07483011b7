package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxListSize caps list responses.
const MaxListSize = 100

// ClaimService files and lists payment claims. Review (approve/reject)
// lives in the Coordinator.
type ClaimService struct {
	store Store
	now   func() time.Time
}

func NewClaimService(store Store, now func() time.Time) *ClaimService {
	if now == nil {
		now = time.Now
	}
	return &ClaimService{store: store, now: now}
}

// Create files a pending claim against the tenant's invoice with the given
// code. Claims against a PAID invoice are accepted for the audit trail and
// will fail at approval.
func (s *ClaimService) Create(ctx context.Context, tenantID, invoiceCode string, amount decimal.Decimal, meta ClaimMetadata) (*Claim, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, invalid("tenant_id", "required")
	}
	if strings.TrimSpace(invoiceCode) == "" {
		return nil, invalid("invoice_code", "required")
	}
	if !amount.IsPositive() {
		return nil, invalid("amount", "must be greater than zero")
	}
	source := meta.Source
	if source == "" {
		source = SourceBuyer
	}
	if source != SourceBuyer && source != SourceStaff {
		return nil, invalid("source", "must be buyer or staff, got %q", source)
	}

	inv, err := s.store.GetInvoiceByCode(ctx, tenantID, invoiceCode)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := Claim{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		InvoiceID:     inv.ID,
		AmountClaimed: amount,
		RefText:       strings.TrimSpace(meta.RefText),
		PayerBank:     strings.TrimSpace(meta.PayerBank),
		PayerName:     strings.TrimSpace(meta.PayerName),
		ProofRef:      strings.TrimSpace(meta.ProofRef),
		Source:        source,
		Status:        ClaimPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertClaim(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Get returns the tenant's claim. Another tenant's claim is NotFound.
func (s *ClaimService) Get(ctx context.Context, tenantID, claimID string) (*Claim, error) {
	return s.store.GetClaim(ctx, tenantID, claimID)
}

// ListPending returns the verification queue, newest first, at most
// MaxListSize entries.
func (s *ClaimService) ListPending(ctx context.Context, tenantID string) ([]Claim, error) {
	return s.store.ListClaims(ctx, tenantID, ClaimFilter{Status: ClaimPending, Limit: MaxListSize})
}

// ListForInvoice returns every claim ever filed against the invoice.
func (s *ClaimService) ListForInvoice(ctx context.Context, tenantID, invoiceCode string) ([]Claim, error) {
	inv, err := s.store.GetInvoiceByCode(ctx, tenantID, invoiceCode)
	if err != nil {
		return nil, err
	}
	return s.store.ListClaims(ctx, tenantID, ClaimFilter{InvoiceID: inv.ID, Limit: MaxListSize})
}

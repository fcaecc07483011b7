/*
reconcile.go - Claim adjudication and settlement

PURPOSE:
  The Coordinator is the only component that settles invoices. It runs the
  multi-record transition (claim -> approved, invoice -> PAID, receipt ->
  created) as one atomic unit, then delivers the settlement message.

APPROVAL FLOW:
  ┌──────────────────────────── WithTx (SettlementTimeout) ─────────────────┐
  │ load claim (tenant scoped) ─▶ load invoice ─▶ settle (CAS to PAID)      │
  │        ─▶ claim approved ─▶ issue receipt ─▶ enqueue notification       │
  └──────────────────────────────────────────────────────────────────────────┘
                                     │ commit
                                     ▼
                      flush notifications (NotifyTimeout each)

  If settle fails the unit rolls back: the claim stays pending and no
  receipt exists. A concurrent loser sees PAID and gets ErrAlreadySettled.

ENTRY POINTS:
  Approve:       claim-driven settlement from SENT|VIEWED|PENDING_CONFIRMATION
  DirectConfirm: staff verifies a buyer self-report, PENDING_CONFIRMATION only
  Reject:        claim bookkeeping only, never touches invoices or receipts

SEE ALSO:
  - invoice.go: settle(), the shared guarded transition
  - notify.go:  PostCommit queue
*/
package billing

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultSettlementTimeout = 10 * time.Second
	DefaultNotifyTimeout     = 10 * time.Second
)

// CoordinatorConfig tunes the Coordinator.
type CoordinatorConfig struct {
	SettlementTimeout time.Duration
	NotifyTimeout     time.Duration
	// PublicURL prefixes receipt links, e.g. https://app.example.com
	PublicURL string
	// StrictRejection refuses to reject claims that are not pending.
	// When false, re-rejecting a rejected claim overwrites reviewer data.
	StrictRejection bool
}

// Coordinator adjudicates claims.
type Coordinator struct {
	store      TxStore
	receipts   *ReceiptIssuer
	dispatcher Dispatcher
	cfg        CoordinatorConfig
	log        zerolog.Logger
	now        func() time.Time
}

func NewCoordinator(store TxStore, receipts *ReceiptIssuer, dispatcher Dispatcher, cfg CoordinatorConfig, log zerolog.Logger, now func() time.Time) *Coordinator {
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = DefaultSettlementTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		store:      store,
		receipts:   receipts,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log.With().Str("component", "coordinator").Logger(),
		now:        now,
	}
}

// Settlement is the outcome of a successful approval or confirmation.
type Settlement struct {
	Claim      *Claim // nil for DirectConfirm
	Invoice    *Invoice
	Receipt    *Receipt
	ReceiptURL string
	// Warnings lists notification failures. The settlement stands regardless.
	Warnings []string
}

// ReceiptURL builds the public link for a receipt.
func (c *Coordinator) ReceiptURL(receiptID string) string {
	return c.cfg.PublicURL + "/api/receipts/" + receiptID
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve settles the claim's invoice and issues its receipt.
func (c *Coordinator) Approve(ctx context.Context, tenantID, claimID, approvedBy string) (*Settlement, error) {
	if strings.TrimSpace(approvedBy) == "" {
		return nil, invalid("approved_by", "required")
	}

	var (
		out  Settlement
		post PostCommit
	)
	err := c.inUnit(ctx, func(ctx context.Context, tx Tx) error {
		claim, err := tx.GetClaim(ctx, tenantID, claimID)
		if err != nil {
			return err
		}
		inv, err := tx.GetInvoice(ctx, tenantID, claim.InvoiceID)
		if err != nil {
			return err
		}
		// A paid invoice reports AlreadySettled whatever the claim's state,
		// so racing approvals of the same claim see the same error.
		if inv.Status == InvoicePaid {
			return &TransitionError{Entity: "invoice", ID: inv.Code, From: string(inv.Status), To: string(InvoicePaid)}
		}
		if claim.Status != ClaimPending {
			return &TransitionError{Entity: "claim", ID: claim.ID, From: string(claim.Status), To: string(ClaimApproved)}
		}

		now := c.now().UTC()
		if err := settle(ctx, tx, inv, settleableFrom, now); err != nil {
			return err
		}

		claim.Status = ClaimApproved
		claim.ReviewedBy = approvedBy
		claim.ReviewedAt = &now
		claim.UpdatedAt = now
		if err := tx.UpdateClaimReview(ctx, *claim); err != nil {
			return err
		}

		rc, err := c.issue(ctx, tx, inv, claim.PayerName)
		if err != nil {
			return err
		}

		out.Claim, out.Invoice, out.Receipt = claim, inv, rc
		out.ReceiptURL = c.ReceiptURL(rc.ID)
		post.Enqueue(Notification{To: inv.ContactPhone, Body: receiptMessage(inv, rc, out.ReceiptURL), Ref: rc.ReceiptNumber})
		return nil
	})
	if err != nil {
		c.logFailure(err, "approve", claimID)
		return nil, err
	}

	c.log.Info().
		Str("tenant_id", tenantID).
		Str("claim_id", claimID).
		Str("invoice", out.Invoice.Code).
		Str("receipt", out.Receipt.ReceiptNumber).
		Str("approved_by", approvedBy).
		Msg("claim approved, invoice settled")

	out.Warnings = post.Flush(ctx, c.dispatcher, c.cfg.NotifyTimeout, c.log)
	return &out, nil
}

// =============================================================================
// DIRECT CONFIRM
// =============================================================================

// DirectConfirm settles an invoice the buyer has confirmed, without a
// claim record.
func (c *Coordinator) DirectConfirm(ctx context.Context, tenantID, invoiceCode, verifiedBy string) (*Settlement, error) {
	if strings.TrimSpace(verifiedBy) == "" {
		return nil, invalid("verified_by", "required")
	}

	var (
		out  Settlement
		post PostCommit
	)
	err := c.inUnit(ctx, func(ctx context.Context, tx Tx) error {
		inv, err := tx.GetInvoiceByCode(ctx, tenantID, invoiceCode)
		if err != nil {
			return err
		}
		if err := settle(ctx, tx, inv, []InvoiceStatus{InvoicePendingConfirmation}, c.now().UTC()); err != nil {
			return err
		}
		rc, err := c.issue(ctx, tx, inv, "")
		if err != nil {
			return err
		}
		out.Invoice, out.Receipt = inv, rc
		out.ReceiptURL = c.ReceiptURL(rc.ID)
		post.Enqueue(Notification{To: inv.ContactPhone, Body: receiptMessage(inv, rc, out.ReceiptURL), Ref: rc.ReceiptNumber})
		return nil
	})
	if err != nil {
		c.logFailure(err, "direct_confirm", invoiceCode)
		return nil, err
	}

	c.log.Info().
		Str("tenant_id", tenantID).
		Str("invoice", out.Invoice.Code).
		Str("receipt", out.Receipt.ReceiptNumber).
		Str("verified_by", verifiedBy).
		Msg("payment verified, invoice settled")

	out.Warnings = post.Flush(ctx, c.dispatcher, c.cfg.NotifyTimeout, c.log)
	return &out, nil
}

// =============================================================================
// REJECT
// =============================================================================

// Reject marks the claim rejected. Invoices and receipts are untouched.
func (c *Coordinator) Reject(ctx context.Context, tenantID, claimID, rejectedBy, reason string) (*Claim, error) {
	if strings.TrimSpace(rejectedBy) == "" {
		return nil, invalid("rejected_by", "required")
	}

	var out *Claim
	err := c.inUnit(ctx, func(ctx context.Context, tx Tx) error {
		claim, err := tx.GetClaim(ctx, tenantID, claimID)
		if err != nil {
			return err
		}
		switch {
		case claim.Status == ClaimApproved:
			// The invoice was settled on this claim's strength.
			return &TransitionError{Entity: "claim", ID: claim.ID, From: string(claim.Status), To: string(ClaimRejected)}
		case claim.Status == ClaimRejected && c.cfg.StrictRejection:
			return &TransitionError{Entity: "claim", ID: claim.ID, From: string(claim.Status), To: string(ClaimRejected)}
		}

		now := c.now().UTC()
		claim.Status = ClaimRejected
		claim.ReviewedBy = rejectedBy
		claim.ReviewedAt = &now
		claim.ReviewNote = strings.TrimSpace(reason)
		claim.UpdatedAt = now
		if err := tx.UpdateClaimReview(ctx, *claim); err != nil {
			return err
		}
		out = claim
		return nil
	})
	if err != nil {
		c.logFailure(err, "reject", claimID)
		return nil, err
	}
	c.log.Info().Str("tenant_id", tenantID).Str("claim_id", claimID).Str("rejected_by", rejectedBy).Msg("claim rejected")
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// inUnit runs fn in a transaction bounded by SettlementTimeout.
func (c *Coordinator) inUnit(ctx context.Context, fn func(context.Context, Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SettlementTimeout)
	defer cancel()
	return c.store.WithTx(ctx, func(tx Tx) error {
		return fn(ctx, tx)
	})
}

func (c *Coordinator) issue(ctx context.Context, tx Tx, inv *Invoice, payerName string) (*Receipt, error) {
	org, err := tx.GetOrganization(ctx, inv.TenantID)
	if err != nil {
		return nil, err
	}
	buyer := strings.TrimSpace(payerName)
	if buyer == "" && inv.ContactPhone != "" {
		// Enrichment only; a lookup failure falls back to the placeholder.
		name, err := tx.LookupContactName(ctx, inv.TenantID, inv.ContactPhone)
		if err != nil {
			c.log.Debug().Err(err).Str("invoice", inv.Code).Msg("contact lookup failed")
		}
		buyer = strings.TrimSpace(name)
	}
	if buyer == "" {
		buyer = DefaultBuyerName
	}
	return c.receipts.Issue(ctx, tx, IssueInput{
		TenantID:   inv.TenantID,
		InvoiceID:  inv.ID,
		Amount:     inv.Total,
		SellerName: sellerName(org),
		BuyerName:  buyer,
	})
}

func (c *Coordinator) logFailure(err error, op, key string) {
	switch {
	case IsClientError(err):
		c.log.Debug().Err(err).Str("op", op).Str("key", key).Msg("request refused")
	default:
		// Includes ErrGenerationExhausted, which needs an operator.
		c.log.Error().Err(err).Str("op", op).Str("key", key).Msg("settlement unit failed")
	}
}

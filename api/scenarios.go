/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate a fresh demo organization
	with realistic billing data. Each scenario creates the seller, its bank
	accounts and contacts, then walks invoices and claims through the
	engine so the data shows a specific part of the reconciliation flow.

AVAILABLE SCENARIOS:

	awaiting-payment:     Invoices sent and viewed, nothing paid yet
	verification-queue:   Buyer confirmed, several claims pending review
	settled:              Approved claim, receipt issued, rival claim refused
	lifecycle:            Cancelled, voided and staff-verified invoices

HOW SCENARIOS WORK:
 1. Create a new organization (demo-<scenario>-<suffix>)
 2. Add bank accounts and contacts
 3. Create invoices
 4. File, approve or reject claims through the engine

Everything goes through billing.Engine, so a loaded scenario obeys the
same rules as live traffic: one receipt per paid invoice, claims against
settled invoices refused.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "verification-queue"}

	The response carries the org_id to send as X-Org-Id.

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, orgID)
 3. Add it to the loaders map

NOTE:

	Scenarios never touch existing organizations, but they do send the
	buyer messages a live invoice would. Point WHATSAPP_ACCESS_TOKEN at
	nothing in demo environments.

SEE ALSO:
  - handlers.go: Handler
  - billing/engine.go: the operations each loader calls
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/leadsbox/billing-engine/billing"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "awaiting-payment",
		Name:        "Awaiting Payment",
		Description: "Two invoices sent to buyers, one opened, none paid",
		Category:    "invoices",
	},
	{
		ID:          "verification-queue",
		Name:        "Verification Queue",
		Description: "Buyer pressed I have paid and three claims wait for staff review",
		Category:    "claims",
	},
	{
		ID:          "settled",
		Name:        "Settled Invoice",
		Description: "Approved claim with receipt, a second claim on the paid invoice and a rejected claim",
		Category:    "claims",
	},
	{
		ID:          "lifecycle",
		Name:        "Invoice Lifecycle",
		Description: "Cancelled, voided and staff-verified invoices side by side",
		Category:    "invoices",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, orgID string) ([]string, error)

var loaders = map[string]scenarioLoader{
	"awaiting-payment":   (*Handler).loadAwaitingPaymentScenario,
	"verification-queue": (*Handler).loadVerificationQueueScenario,
	"settled":            (*Handler).loadSettledScenario,
	"lifecycle":          (*Handler).loadLifecycleScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	if current == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// LoadScenario seeds a new demo organization with a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", "validation_failed",
			map[string]string{"field": "scenario_id"})
		return
	}
	var def ScenarioDTO
	for _, s := range scenarios {
		if s.ID == req.ScenarioID {
			def = s
		}
	}

	ctx := r.Context()
	orgID := fmt.Sprintf("demo-%s-%s", req.ScenarioID, strings.SplitN(uuid.NewString(), "-", 2)[0])
	if _, err := h.Engine.CreateOrganization(ctx, orgID, def.Name+" Store"); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	codes, err := load(h, ctx, orgID)
	if err != nil {
		h.log.Error().Err(err).Str("scenario", req.ScenarioID).Str("org_id", orgID).Msg("scenario load failed")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), "internal", nil)
		return
	}

	loaded := &LoadedScenarioDTO{Scenario: def, OrgID: orgID, InvoiceCodes: codes}
	h.scenarioMu.Lock()
	h.currentScenario = loaded
	h.scenarioMu.Unlock()

	h.log.Info().Str("scenario", req.ScenarioID).Str("org_id", orgID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, loaded)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seedSeller adds the default bank account, a backup account and two
// known buyers.
func (h *Handler) seedSeller(ctx context.Context, orgID string) error {
	yes := true
	if _, err := h.Engine.BankAccounts.Add(ctx, orgID, billing.BankAccountInput{
		BankName:      "GTBank",
		AccountName:   "Demo Fabrics Ltd",
		AccountNumber: "0123456789",
		IsDefault:     &yes,
	}); err != nil {
		return err
	}
	if _, err := h.Engine.BankAccounts.Add(ctx, orgID, billing.BankAccountInput{
		BankName:      "Access Bank",
		AccountName:   "Demo Fabrics Ltd",
		AccountNumber: "9876543210",
		Notes:         "Use for transfers above ₦1,000,000",
	}); err != nil {
		return err
	}
	for _, c := range []struct{ name, phone string }{
		{"Chioma Obi", "+2348030000001"},
		{"Tunde Bello", "+2348030000002"},
	} {
		if _, err := h.Engine.AddContact(ctx, orgID, c.name, c.phone); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) demoInvoice(ctx context.Context, orgID, phone string, items ...billing.LineItem) (*billing.Invoice, error) {
	res, err := h.Engine.CreateInvoice(ctx, billing.CreateInvoiceInput{
		TenantID:     orgID,
		Items:        items,
		ContactPhone: phone,
	}, false)
	if err != nil {
		return nil, err
	}
	return res.Invoice, nil
}

func item(name string, qty int, price string) billing.LineItem {
	return billing.LineItem{Name: name, Qty: qty, UnitPrice: decimal.RequireFromString(price)}
}

func (h *Handler) loadAwaitingPaymentScenario(ctx context.Context, orgID string) ([]string, error) {
	if err := h.seedSeller(ctx, orgID); err != nil {
		return nil, err
	}

	fabric, err := h.demoInvoice(ctx, orgID, "+2348030000001",
		item("Ankara fabric (6 yards)", 2, "12500"),
		item("Delivery, Lekki", 1, "3000"))
	if err != nil {
		return nil, err
	}
	lace, err := h.demoInvoice(ctx, orgID, "+2348030000002",
		item("Swiss lace", 1, "45000"))
	if err != nil {
		return nil, err
	}
	// The buyer opened the second link
	if _, err := h.Engine.MarkViewed(ctx, orgID, lace.Code); err != nil {
		return nil, err
	}
	return []string{fabric.Code, lace.Code}, nil
}

func (h *Handler) loadVerificationQueueScenario(ctx context.Context, orgID string) ([]string, error) {
	if err := h.seedSeller(ctx, orgID); err != nil {
		return nil, err
	}

	inv, err := h.demoInvoice(ctx, orgID, "+2348030000001",
		item("Aso-oke set", 1, "60000"),
		item("Gele", 2, "7500"))
	if err != nil {
		return nil, err
	}
	if _, err := h.Engine.ConfirmPayment(ctx, orgID, inv.Code); err != nil {
		return nil, err
	}

	// Three competing claims: exact transfer, a short one and a staff entry
	claims := []struct {
		amount string
		meta   billing.ClaimMetadata
	}{
		{"75000", billing.ClaimMetadata{RefText: "NIP/2291/TRF", PayerBank: "GTBank", PayerName: "Chioma Obi"}},
		{"70000", billing.ClaimMetadata{RefText: "USSD 737", PayerBank: "Zenith", PayerName: "C. Obi"}},
		{"75000", billing.ClaimMetadata{RefText: "cash at shop", Source: billing.SourceStaff}},
	}
	for _, c := range claims {
		if _, err := h.Engine.CreateClaim(ctx, orgID, inv.Code, decimal.RequireFromString(c.amount), c.meta); err != nil {
			return nil, err
		}
	}

	other, err := h.demoInvoice(ctx, orgID, "+2348030000002", item("Tailoring", 1, "15000"))
	if err != nil {
		return nil, err
	}
	if _, err := h.Engine.CreateClaim(ctx, orgID, other.Code, decimal.RequireFromString("15000"),
		billing.ClaimMetadata{RefText: "TRF 88213", PayerBank: "Kuda"}); err != nil {
		return nil, err
	}
	return []string{inv.Code, other.Code}, nil
}

func (h *Handler) loadSettledScenario(ctx context.Context, orgID string) ([]string, error) {
	if err := h.seedSeller(ctx, orgID); err != nil {
		return nil, err
	}

	paid, err := h.demoInvoice(ctx, orgID, "+2348030000001", item("Adire throw pillows", 4, "8000"))
	if err != nil {
		return nil, err
	}
	winner, err := h.Engine.CreateClaim(ctx, orgID, paid.Code, decimal.RequireFromString("32000"),
		billing.ClaimMetadata{RefText: "NIP/7781", PayerBank: "GTBank"})
	if err != nil {
		return nil, err
	}
	// Filed before approval; stays pending and is refused if approved later
	if _, err := h.Engine.CreateClaim(ctx, orgID, paid.Code, decimal.RequireFromString("32000"),
		billing.ClaimMetadata{RefText: "duplicate screenshot", PayerBank: "GTBank"}); err != nil {
		return nil, err
	}
	if _, err := h.Engine.ApproveClaim(ctx, orgID, winner.ID, "demo-staff"); err != nil {
		return nil, err
	}

	disputed, err := h.demoInvoice(ctx, orgID, "+2348030000002", item("Kaftan", 1, "25000"))
	if err != nil {
		return nil, err
	}
	wrong, err := h.Engine.CreateClaim(ctx, orgID, disputed.Code, decimal.RequireFromString("2500"),
		billing.ClaimMetadata{RefText: "TRF 0001", PayerBank: "Opay"})
	if err != nil {
		return nil, err
	}
	if _, err := h.Engine.RejectClaim(ctx, orgID, wrong.ID, "demo-staff", "amount does not match invoice"); err != nil {
		return nil, err
	}
	return []string{paid.Code, disputed.Code}, nil
}

func (h *Handler) loadLifecycleScenario(ctx context.Context, orgID string) ([]string, error) {
	if err := h.seedSeller(ctx, orgID); err != nil {
		return nil, err
	}

	cancelled, err := h.demoInvoice(ctx, orgID, "+2348030000001", item("Wrong size shoes", 1, "18000"))
	if err != nil {
		return nil, err
	}
	if _, err := h.Engine.CancelInvoice(ctx, orgID, cancelled.Code); err != nil {
		return nil, err
	}

	voided, err := h.demoInvoice(ctx, orgID, "+2348030000002", item("Duplicate order", 1, "9000"))
	if err != nil {
		return nil, err
	}
	if _, err := h.Engine.VoidInvoice(ctx, orgID, voided.Code); err != nil {
		return nil, err
	}

	verified, err := h.demoInvoice(ctx, orgID, "+2348030000001", item("Beaded bag", 1, "22000"))
	if err != nil {
		return nil, err
	}
	if _, err := h.Engine.ConfirmPayment(ctx, orgID, verified.Code); err != nil {
		return nil, err
	}
	if _, err := h.Engine.VerifyPayment(ctx, orgID, verified.Code, "demo-staff"); err != nil {
		return nil, err
	}
	return []string{cancelled.Code, voided.Code, verified.Code}, nil
}

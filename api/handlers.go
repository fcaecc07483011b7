/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to billing.Engine.

ENDPOINTS:
  Organizations:
    POST   /api/orgs                         Create organization
    GET    /api/orgs/{orgID}                 Get organization

  Tenant-scoped (X-Org-Id header or ?org= query):
    POST   /api/contacts                     Add contact
    GET    /api/bank-accounts                List bank accounts
    POST   /api/bank-accounts                Add bank account
    PUT    /api/bank-accounts/{id}           Update bank account
    DELETE /api/bank-accounts/{id}           Remove bank account

    GET    /api/invoices                     List invoices
    POST   /api/invoices                     Create invoice
    GET    /api/invoices/{code}              Invoice + default bank (?format=html)
    POST   /api/invoices/{code}/view         Mark viewed
    POST   /api/invoices/{code}/confirm      Buyer "I have paid" (tenant optional)
    POST   /api/invoices/{code}/verify       Staff settles a confirmed invoice
    POST   /api/invoices/{code}/cancel       Cancel
    POST   /api/invoices/{code}/void         Void
    GET    /api/invoices/{code}/payment-status
    GET    /api/invoices/{code}/claims       Claims for invoice
    POST   /api/invoices/{code}/claims       File claim

    GET    /api/claims/pending               Verification queue
    GET    /api/claims/{id}                  Get claim
    POST   /api/claims/{id}/approve          Approve (settles invoice)
    POST   /api/claims/{id}/reject           Reject

    POST   /api/reminders/run                Payment reminder sweep (?after=48h)

  Demo:
    GET    /api/scenarios                    List scenarios
    GET    /api/scenarios/current            Last loaded scenario
    POST   /api/scenarios/load               Seed a new demo organization

  Public:
    GET    /api/receipts/{id}                Receipt (JSON, or HTML for browsers)

ACTOR:
  approve/reject/verify take the staff identity from the body or, when the
  body omits it, from the X-Actor-Id header.

ERROR HANDLING:
  Domain errors are mapped by writeDomainError:
  - 400: validation_failed
  - 404: not_found (also any cross-tenant access)
  - 409: already_settled, invalid_state_transition, duplicate
  - 500: everything else, including code generation exhaustion

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scenarios.go: Demo data loaders
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leadsbox/billing-engine/billing"
	"github.com/rs/zerolog"
)

const (
	tenantHeader = "X-Org-Id"
	actorHeader  = "X-Actor-Id"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the dependencies of every endpoint.
type Handler struct {
	Engine *billing.Engine
	log    zerolog.Logger

	scenarioMu      sync.Mutex
	currentScenario *LoadedScenarioDTO
}

// NewHandler creates a handler over the engine.
func NewHandler(engine *billing.Engine, log zerolog.Logger) *Handler {
	return &Handler{Engine: engine, log: log.With().Str("component", "api").Logger()}
}

// tenant returns the caller's organization id, or writes 400 and false.
func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	if id := optionalTenant(r); id != "" {
		return id, true
	}
	writeError(w, http.StatusBadRequest, "Organization required", "validation_failed",
		map[string]string{"field": tenantHeader})
	return "", false
}

func optionalTenant(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(tenantHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("org"))
}

func actor(r *http.Request, fromBody string) string {
	if s := strings.TrimSpace(fromBody); s != "" {
		return s
	}
	return strings.TrimSpace(r.Header.Get(actorHeader))
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "Invalid request body", "validation_failed", err.Error())
	return false
}

func wantsHTML(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return f == "html"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ORGANIZATION ENDPOINTS
// =============================================================================

func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganizationRequest
	if !decode(w, r, &req) {
		return
	}
	org, err := h.Engine.CreateOrganization(r.Context(), strings.TrimSpace(req.ID), req.Name)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrganizationDTO(org))
}

func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := h.Engine.GetOrganization(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrganizationDTO(org))
}

func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req CreateContactRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Engine.AddContact(r.Context(), tenantID, req.Name, req.Phone)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ContactDTO{ID: c.ID, Name: c.Name, Phone: c.Phone})
}

// =============================================================================
// BANK ACCOUNT ENDPOINTS
// =============================================================================

func (h *Handler) ListBankAccounts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	accts, err := h.Engine.BankAccounts.List(r.Context(), tenantID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]*BankAccountDTO, 0, len(accts))
	for i := range accts {
		out = append(out, toBankAccountDTO(&accts[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateBankAccount(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req BankAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := h.Engine.BankAccounts.Add(r.Context(), tenantID, bankInput(req))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBankAccountDTO(acct))
}

func (h *Handler) UpdateBankAccount(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req BankAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := h.Engine.BankAccounts.Update(r.Context(), tenantID, chi.URLParam(r, "id"), bankInput(req))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBankAccountDTO(acct))
}

func (h *Handler) DeleteBankAccount(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	if err := h.Engine.BankAccounts.Remove(r.Context(), tenantID, chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func bankInput(req BankAccountRequest) billing.BankAccountInput {
	return billing.BankAccountInput{
		BankName:      req.BankName,
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
		Notes:         req.Notes,
		IsDefault:     req.IsDefault,
	}
}

// =============================================================================
// INVOICE ENDPOINTS
// =============================================================================

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req CreateInvoiceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.CreateInvoice(r.Context(), billing.CreateInvoiceInput{
		TenantID:     tenantID,
		Items:        req.Items,
		Currency:     req.Currency,
		ContactPhone: req.ContactPhone,
	}, req.SendText)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateInvoiceResponse{
		Invoice:  toInvoiceDTO(res.Invoice),
		Warnings: res.Warnings,
	})
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	invs, err := h.Engine.ListInvoices(r.Context(), tenantID, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]InvoiceDTO, 0, len(invs))
	for i := range invs {
		out = append(out, toInvoiceDTO(&invs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	details, err := h.Engine.GetInvoice(r.Context(), tenantID, chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	page, err := billing.RenderInvoiceHTML(details.Invoice, details.Organization, details.DefaultBankAccount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if wantsHTML(r) {
		writeHTML(w, page)
		return
	}
	writeJSON(w, http.StatusOK, InvoiceDetailsDTO{
		Invoice:            toInvoiceDTO(details.Invoice),
		DefaultBankAccount: toBankAccountDTO(details.DefaultBankAccount),
		HTML:               page,
	})
}

func (h *Handler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	h.invoiceTransition(w, r, optionalTenant(r), h.Engine.MarkViewed)
}

// ConfirmPayment accepts calls without a tenant; the code must then be
// unambiguous.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	h.invoiceTransition(w, r, optionalTenant(r), h.Engine.ConfirmPayment)
}

func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	h.invoiceTransition(w, r, tenantID, h.Engine.CancelInvoice)
}

func (h *Handler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	h.invoiceTransition(w, r, tenantID, h.Engine.VoidInvoice)
}

func (h *Handler) invoiceTransition(w http.ResponseWriter, r *http.Request, tenantID string,
	fn func(ctx context.Context, tenantID, code string) (*billing.Invoice, error)) {
	inv, err := fn(r.Context(), tenantID, chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req VerifyPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.Engine.VerifyPayment(r.Context(), tenantID, chi.URLParam(r, "code"), actor(r, req.VerifiedBy))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

func (h *Handler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	st, err := h.Engine.PaymentStatus(r.Context(), tenantID, chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := PaymentStatusDTO{
		InvoiceCode: st.Invoice.Code,
		Status:      string(st.State),
		IsPaid:      st.IsPaid,
		TotalPaid:   st.TotalPaid,
	}
	if st.Receipt != nil {
		rc := toReceiptDTO(st.Receipt)
		rc.InvoiceCode = st.Invoice.Code
		rc.Currency = st.Invoice.Currency
		out.Receipt = &rc
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// CLAIM ENDPOINTS
// =============================================================================

func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req CreateClaimRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Engine.CreateClaim(r.Context(), tenantID, chi.URLParam(r, "code"), req.Amount, billing.ClaimMetadata{
		RefText:   req.RefText,
		PayerBank: req.PayerBank,
		PayerName: req.PayerName,
		ProofRef:  req.ProofRef,
		Source:    billing.ClaimSource(strings.ToLower(strings.TrimSpace(req.Source))),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimDTO(c))
}

func (h *Handler) ListInvoiceClaims(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	claims, err := h.Engine.ListClaimsForInvoice(r.Context(), tenantID, chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTOs(claims))
}

func (h *Handler) ListPendingClaims(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	claims, err := h.Engine.ListPendingClaims(r.Context(), tenantID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTOs(claims))
}

func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	c, err := h.Engine.GetClaim(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

func (h *Handler) ApproveClaim(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req ApproveClaimRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.Engine.ApproveClaim(r.Context(), tenantID, chi.URLParam(r, "id"), actor(r, req.ApprovedBy))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(s))
}

func (h *Handler) RejectClaim(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req RejectClaimRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Engine.RejectClaim(r.Context(), tenantID, chi.URLParam(r, "id"), actor(r, req.RejectedBy), req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

// =============================================================================
// REMINDER ENDPOINTS
// =============================================================================

// RunReminders triggers a reminder sweep across all tenants, the same one
// the scheduler runs.
func (h *Handler) RunReminders(w http.ResponseWriter, r *http.Request) {
	after := 48 * time.Hour
	if v := r.URL.Query().Get("after"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid after duration", "validation_failed",
				map[string]string{"field": "after"})
			return
		}
		after = d
	}
	batch, _ := strconv.Atoi(r.URL.Query().Get("batch"))

	run, err := h.Engine.SendPaymentReminders(r.Context(), after, batch)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReminderRunDTO{
		Checked: run.Checked,
		Sent:    run.Sent,
		Failed:  run.Failed,
		Skipped: run.Skipped,
	})
}

// =============================================================================
// RECEIPT ENDPOINTS
// =============================================================================

// GetReceipt is public: the receipt id is the capability.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	rv, err := h.Engine.GetReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if wantsHTML(r) {
		page, err := billing.RenderReceiptHTML(rv)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		writeHTML(w, page)
		return
	}
	out := toReceiptDTO(&rv.Receipt)
	out.InvoiceCode = rv.InvoiceCode
	out.Currency = rv.Currency
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeHTML(w http.ResponseWriter, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, page)
}

func writeError(w http.ResponseWriter, status int, message, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeDomainError maps billing errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *billing.ValidationError
		terr *billing.TransitionError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error(), "validation_failed", map[string]string{"field": verr.Field})
	case errors.Is(err, billing.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), "validation_failed", nil)
	case errors.Is(err, billing.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "not_found", nil)
	case errors.Is(err, billing.ErrAlreadySettled):
		writeError(w, http.StatusConflict, err.Error(), "already_settled", nil)
	case errors.As(err, &terr):
		writeError(w, http.StatusConflict, err.Error(), "invalid_state_transition",
			map[string]string{"entity": terr.Entity, "from": terr.From, "to": terr.To})
	case errors.Is(err, billing.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, err.Error(), "invalid_state_transition", nil)
	case errors.Is(err, billing.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error(), "duplicate", nil)
	case errors.Is(err, context.DeadlineExceeded):
		// Nothing was committed; the client may retry.
		h.log.Warn().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request timed out")
		writeError(w, http.StatusServiceUnavailable, "Timed out waiting for the database, retry", "timeout", nil)
	default:
		h.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		code := "internal"
		if errors.Is(err, billing.ErrGenerationExhausted) {
			code = "generation_exhausted"
		}
		writeError(w, http.StatusInternalServerError, "Internal error", code, nil)
	}
}

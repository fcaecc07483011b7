/*
handlers_test.go - HTTP tests for the billing API

Tests for:
- Invoice creation, lookup and buyer confirmation
- Claim approval and the status/error code of every refusal
- Tenant isolation over HTTP
- Receipt rendering (JSON and HTML)
- Manual reminder sweep
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leadsbox/billing-engine/billing"
	"github.com/leadsbox/billing-engine/store/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu   sync.Mutex
	sent []string
}

func (o *outbox) SendText(_ context.Context, to, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, to+": "+body)
	return nil
}

type testServer struct {
	t      *testing.T
	router http.Handler
	engine *billing.Engine
	store  *sqlite.Store
	outbox *outbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, billing.Config{})
}

func newTestServerWithConfig(t *testing.T, cfg billing.Config) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ob := &outbox{}
	cfg.PublicURL = "https://app.test"
	engine := billing.NewEngine(store, ob, cfg)
	router := NewRouter(NewHandler(engine, zerolog.Nop()), []string{"*"})
	ts := &testServer{t: t, router: router, engine: engine, store: store, outbox: ob}

	ts.do(http.MethodPost, "/api/orgs", "", map[string]string{"id": "org-a", "name": "Ada Fabrics"}).expect(http.StatusCreated)
	ts.do(http.MethodPost, "/api/orgs", "", map[string]string{"id": "org-b", "name": "Bolu Foods"}).expect(http.StatusCreated)
	return ts
}

type response struct {
	t   *testing.T
	rec *httptest.ResponseRecorder
}

func (ts *testServer) do(method, path, tenant string, body any, headers ...string) *response {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(tenantHeader, tenant)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return &response{t: ts.t, rec: rec}
}

func (r *response) expect(status int) *response {
	r.t.Helper()
	require.Equal(r.t, status, r.rec.Code, "body: %s", r.rec.Body.String())
	return r
}

func (r *response) decode(v any) {
	r.t.Helper()
	require.NoError(r.t, json.Unmarshal(r.rec.Body.Bytes(), v))
}

func (r *response) errorCode() string {
	r.t.Helper()
	var e ErrorResponse
	r.decode(&e)
	return e.Code
}

func (ts *testServer) createInvoice(tenant string) InvoiceDTO {
	ts.t.Helper()
	var out CreateInvoiceResponse
	ts.do(http.MethodPost, "/api/invoices", tenant, map[string]any{
		"items": []map[string]any{
			{"name": "Ankara fabric", "qty": 2, "unit_price": "500"},
			{"name": "Delivery", "qty": 1, "unit_price": 500},
		},
		"contact_phone": "+2348000000001",
	}).expect(http.StatusCreated).decode(&out)
	return out.Invoice
}

func (ts *testServer) fileClaim(tenant, code string) ClaimDTO {
	ts.t.Helper()
	var out ClaimDTO
	ts.do(http.MethodPost, "/api/invoices/"+code+"/claims", tenant, map[string]any{
		"amount":   "1500",
		"ref_text": "TRF/123",
	}).expect(http.StatusCreated).decode(&out)
	return out
}

// =============================================================================
// TESTS
// =============================================================================

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodGet, "/health", "", nil).expect(http.StatusOK)
}

func TestCreateAndGetInvoice(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: A default bank account
	ts.do(http.MethodPost, "/api/bank-accounts", "org-a", map[string]any{
		"bank_name": "GTBank", "account_name": "Ada Fabrics", "account_number": "0123456789", "is_default": true,
	}).expect(http.StatusCreated)

	// WHEN: Creating an invoice
	inv := ts.createInvoice("org-a")

	// THEN: Totals are strings, status SENT
	assert.Equal(t, "SENT", inv.Status)
	assert.Equal(t, "1500", inv.Total.String())
	assert.True(t, strings.HasPrefix(inv.Code, "INV-"))

	var details InvoiceDetailsDTO
	ts.do(http.MethodGet, "/api/invoices/"+inv.Code, "org-a", nil).expect(http.StatusOK).decode(&details)
	assert.Equal(t, inv.ID, details.Invoice.ID)
	require.NotNil(t, details.DefaultBankAccount)
	assert.Equal(t, "0123456789", details.DefaultBankAccount.AccountNumber)
	assert.Contains(t, details.HTML, inv.Code)

	// HTML on request
	res := ts.do(http.MethodGet, "/api/invoices/"+inv.Code+"?format=html", "org-a", nil).expect(http.StatusOK)
	assert.Contains(t, res.rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, res.rec.Body.String(), "GTBank")
}

func TestCreateInvoice_Errors(t *testing.T) {
	ts := newTestServer(t)

	res := ts.do(http.MethodPost, "/api/invoices", "", map[string]any{"items": []any{}}).expect(http.StatusBadRequest)
	assert.Equal(t, "validation_failed", res.errorCode())

	res = ts.do(http.MethodPost, "/api/invoices", "org-a", map[string]any{"items": []any{}}).expect(http.StatusBadRequest)
	assert.Equal(t, "validation_failed", res.errorCode())

	res = ts.do(http.MethodPost, "/api/invoices", "ghost", map[string]any{
		"items": []map[string]any{{"name": "x", "qty": 1, "unit_price": "1"}},
	}).expect(http.StatusNotFound)
	assert.Equal(t, "not_found", res.errorCode())

	ts.do(http.MethodPost, "/api/invoices", "org-a", nil).expect(http.StatusBadRequest)
}

func TestApproveFlow(t *testing.T) {
	ts := newTestServer(t)
	inv := ts.createInvoice("org-a")
	claim := ts.fileClaim("org-a", inv.Code)
	assert.Equal(t, "pending", claim.Status)

	var queue []ClaimDTO
	ts.do(http.MethodGet, "/api/claims/pending", "org-a", nil).expect(http.StatusOK).decode(&queue)
	require.Len(t, queue, 1)

	// WHEN: Approving with the actor header
	var s SettlementDTO
	ts.do(http.MethodPost, "/api/claims/"+claim.ID+"/approve", "org-a", nil, actorHeader, "staff-1").
		expect(http.StatusOK).decode(&s)

	// THEN: Invoice paid, receipt issued, buyer messaged
	assert.Equal(t, "PAID", s.Invoice.Status)
	require.NotNil(t, s.Claim)
	assert.Equal(t, "approved", s.Claim.Status)
	assert.Equal(t, "staff-1", s.Claim.ReviewedBy)
	assert.Equal(t, inv.Code, s.Receipt.InvoiceCode)
	assert.Equal(t, "https://app.test/api/receipts/"+s.Receipt.ID, s.ReceiptURL)
	assert.Len(t, ts.outbox.sent, 1)

	// AND: A second approval is a conflict
	res := ts.do(http.MethodPost, "/api/claims/"+claim.ID+"/approve", "org-a", map[string]string{"approved_by": "staff-2"}).
		expect(http.StatusConflict)
	assert.Equal(t, "already_settled", res.errorCode())

	// AND: Payment status reflects the receipt
	var ps PaymentStatusDTO
	ts.do(http.MethodGet, "/api/invoices/"+inv.Code+"/payment-status", "org-a", nil).expect(http.StatusOK).decode(&ps)
	assert.True(t, ps.IsPaid)
	assert.Equal(t, "PAID", ps.Status)
	require.NotNil(t, ps.Receipt)

	// AND: The receipt is public
	var rc ReceiptDTO
	ts.do(http.MethodGet, "/api/receipts/"+s.Receipt.ID, "", nil).expect(http.StatusOK).decode(&rc)
	assert.Equal(t, s.Receipt.ReceiptNumber, rc.ReceiptNumber)
	assert.Equal(t, "NGN", rc.Currency)

	page := ts.do(http.MethodGet, "/api/receipts/"+s.Receipt.ID, "", nil, "Accept", "text/html").expect(http.StatusOK)
	assert.Contains(t, page.rec.Body.String(), "Transaction Receipt")
}

func TestApprove_Refusals(t *testing.T) {
	ts := newTestServer(t)
	inv := ts.createInvoice("org-a")
	claim := ts.fileClaim("org-a", inv.Code)

	// No approver
	res := ts.do(http.MethodPost, "/api/claims/"+claim.ID+"/approve", "org-a", nil).expect(http.StatusBadRequest)
	assert.Equal(t, "validation_failed", res.errorCode())

	// Wrong tenant looks like a missing claim
	res = ts.do(http.MethodPost, "/api/claims/"+claim.ID+"/approve", "org-b", nil, actorHeader, "x").expect(http.StatusNotFound)
	assert.Equal(t, "not_found", res.errorCode())
	ts.do(http.MethodGet, "/api/claims/"+claim.ID, "org-b", nil).expect(http.StatusNotFound)
	ts.do(http.MethodGet, "/api/invoices/"+inv.Code, "org-b", nil).expect(http.StatusNotFound)

	// Rejected claims cannot be approved
	var rejected ClaimDTO
	ts.do(http.MethodPost, "/api/claims/"+claim.ID+"/reject", "org-a", map[string]string{
		"rejected_by": "staff", "reason": "no credit",
	}).expect(http.StatusOK).decode(&rejected)
	assert.Equal(t, "rejected", rejected.Status)
	assert.Equal(t, "no credit", rejected.ReviewNote)

	res = ts.do(http.MethodPost, "/api/claims/"+claim.ID+"/approve", "org-a", nil, actorHeader, "staff").expect(http.StatusConflict)
	assert.Equal(t, "invalid_state_transition", res.errorCode())
	var e struct {
		Details map[string]string `json:"details"`
	}
	res.decode(&e)
	assert.Equal(t, "claim", e.Details["entity"])
	assert.Equal(t, "rejected", e.Details["from"])

	// Invoice untouched
	var details InvoiceDetailsDTO
	ts.do(http.MethodGet, "/api/invoices/"+inv.Code, "org-a", nil).expect(http.StatusOK).decode(&details)
	assert.Equal(t, "SENT", details.Invoice.Status)
	assert.Empty(t, ts.outbox.sent)
}

func TestApprove_TimeoutWhileQueued(t *testing.T) {
	// GIVEN: A short settlement budget and a transaction holding the database
	ts := newTestServerWithConfig(t, billing.Config{SettlementTimeout: 100 * time.Millisecond})
	inv := ts.createInvoice("org-a")
	claim := ts.fileClaim("org-a", inv.Code)

	held := make(chan struct{})
	release := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		holderDone <- ts.store.WithTx(context.Background(), func(billing.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	// WHEN: Approving behind it
	res := ts.do(http.MethodPost, "/api/claims/"+claim.ID+"/approve", "org-a",
		map[string]string{"approved_by": "staff-1"})

	// THEN: A retryable 503, not a generic 500
	res.expect(http.StatusServiceUnavailable)
	assert.Equal(t, "timeout", res.errorCode())

	close(release)
	require.NoError(t, <-holderDone)

	// AND: The retry succeeds
	ts.do(http.MethodPost, "/api/claims/"+claim.ID+"/approve", "org-a",
		map[string]string{"approved_by": "staff-1"}).expect(http.StatusOK)
}

func TestCreateClaim_Errors(t *testing.T) {
	ts := newTestServer(t)
	inv := ts.createInvoice("org-a")

	res := ts.do(http.MethodPost, "/api/invoices/"+inv.Code+"/claims", "org-a", map[string]any{"amount": 0}).
		expect(http.StatusBadRequest)
	assert.Equal(t, "validation_failed", res.errorCode())

	res = ts.do(http.MethodPost, "/api/invoices/INV-NOPE/claims", "org-a", map[string]any{"amount": "10"}).
		expect(http.StatusNotFound)
	assert.Equal(t, "not_found", res.errorCode())

	res = ts.do(http.MethodPost, "/api/invoices/"+inv.Code+"/claims", "org-b", map[string]any{"amount": "10"}).
		expect(http.StatusNotFound)
	assert.Equal(t, "not_found", res.errorCode())
}

func TestConfirmThenVerify(t *testing.T) {
	ts := newTestServer(t)
	inv := ts.createInvoice("org-a")

	// Verify before confirmation is a state conflict
	res := ts.do(http.MethodPost, "/api/invoices/"+inv.Code+"/verify", "org-a", map[string]string{"verified_by": "staff"}).
		expect(http.StatusConflict)
	assert.Equal(t, "invalid_state_transition", res.errorCode())

	// Buyer confirms without a tenant header
	var confirmed InvoiceDTO
	ts.do(http.MethodPost, "/api/invoices/"+inv.Code+"/confirm", "", nil).expect(http.StatusOK).decode(&confirmed)
	assert.Equal(t, "PENDING_CONFIRMATION", confirmed.Status)

	var s SettlementDTO
	ts.do(http.MethodPost, "/api/invoices/"+inv.Code+"/verify", "org-a", map[string]string{"verified_by": "staff"}).
		expect(http.StatusOK).decode(&s)
	assert.Nil(t, s.Claim)
	assert.Equal(t, "PAID", s.Invoice.Status)

	res = ts.do(http.MethodPost, "/api/invoices/"+inv.Code+"/cancel", "org-a", nil).expect(http.StatusConflict)
	assert.Equal(t, "already_settled", res.errorCode())
}

func TestBankAccountEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var acct BankAccountDTO
	ts.do(http.MethodPost, "/api/bank-accounts", "org-a", map[string]any{
		"bank_name": "GTBank", "account_name": "Ada", "account_number": "111",
	}).expect(http.StatusCreated).decode(&acct)
	assert.False(t, acct.IsDefault)

	var updated BankAccountDTO
	ts.do(http.MethodPut, "/api/bank-accounts/"+acct.ID, "org-a", map[string]any{"is_default": true}).
		expect(http.StatusOK).decode(&updated)
	assert.True(t, updated.IsDefault)
	assert.Equal(t, "GTBank", updated.BankName)

	var list []BankAccountDTO
	ts.do(http.MethodGet, "/api/bank-accounts", "org-a", nil).expect(http.StatusOK).decode(&list)
	assert.Len(t, list, 1)

	ts.do(http.MethodDelete, "/api/bank-accounts/"+acct.ID, "org-b", nil).expect(http.StatusNotFound)
	ts.do(http.MethodDelete, "/api/bank-accounts/"+acct.ID, "org-a", nil).expect(http.StatusNoContent)
}

func TestListInvoicesAndClaims(t *testing.T) {
	ts := newTestServer(t)
	first := ts.createInvoice("org-a")
	ts.createInvoice("org-a")
	ts.fileClaim("org-a", first.Code)
	ts.fileClaim("org-a", first.Code)

	var invs []InvoiceDTO
	ts.do(http.MethodGet, "/api/invoices?limit=1", "org-a", nil).expect(http.StatusOK).decode(&invs)
	assert.Len(t, invs, 1)

	var claims []ClaimDTO
	ts.do(http.MethodGet, "/api/invoices/"+first.Code+"/claims?org=org-a", "", nil).expect(http.StatusOK).decode(&claims)
	assert.Len(t, claims, 2)

	ts.do(http.MethodGet, "/api/invoices", "org-b", nil).expect(http.StatusOK).decode(&invs)
	assert.Empty(t, invs)
}

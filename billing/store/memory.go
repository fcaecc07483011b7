// Package store provides an in-memory billing.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/leadsbox/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a billing.TxStore backed by maps. A one-slot semaphore
// serialises writers, which gives WithTx the same one-winner guarantee as
// SQLite's immediate transactions. Waiting for the slot honours ctx, so a
// queued unit gives up when its deadline passes.
//
// WithTx works on a private copy of the tables and swaps it in on commit.
// Readers keep seeing the last committed state until then.
type Memory struct {
	writer chan struct{}
	mu     sync.RWMutex // guards d
	d      *tables
}

func NewMemory() *Memory {
	return &Memory{writer: make(chan struct{}, 1), d: newTables()}
}

var _ billing.TxStore = (*Memory)(nil)

// WithTx executes fn within a transaction. Nothing fn writes is visible
// until it returns nil; an error, a panic or an expired ctx discards it.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Tx) error) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	m.mu.RLock()
	work := m.d.clone()
	m.mu.RUnlock()

	if err := fn(&txView{tables: work}); err != nil {
		return err
	}
	// Deadline passed while fn ran: treat as a failed commit.
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.d = work
	m.mu.Unlock()
	return nil
}

func (m *Memory) acquire(ctx context.Context) error {
	select {
	case m.writer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Both cases may be ready; never start work on a dead context.
	if err := ctx.Err(); err != nil {
		m.release()
		return err
	}
	return nil
}

func (m *Memory) release() { <-m.writer }

// txView exposes the settlement writes over the transaction's private
// copy of the tables.
type txView struct {
	*tables
}

// =============================================================================
// LOCKED WRAPPERS
// =============================================================================

func (m *Memory) read() (*tables, func()) {
	m.mu.RLock()
	return m.d, m.mu.RUnlock
}

// write takes the writer slot, then the table lock.
func (m *Memory) write(ctx context.Context) (*tables, func(), error) {
	if err := m.acquire(ctx); err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	return m.d, func() {
		m.mu.Unlock()
		m.release()
	}, nil
}

func (m *Memory) GetOrganization(ctx context.Context, tenantID string) (*billing.Organization, error) {
	d, done := m.read()
	defer done()
	return d.GetOrganization(ctx, tenantID)
}

func (m *Memory) DefaultBankAccount(ctx context.Context, tenantID string) (*billing.BankAccount, error) {
	d, done := m.read()
	defer done()
	return d.DefaultBankAccount(ctx, tenantID)
}

func (m *Memory) LookupContactName(ctx context.Context, tenantID, phone string) (string, error) {
	d, done := m.read()
	defer done()
	return d.LookupContactName(ctx, tenantID, phone)
}

func (m *Memory) SaveOrganization(ctx context.Context, org billing.Organization) error {
	d, done, err := m.write(ctx)
	if err != nil {
		return err
	}
	defer done()
	return d.SaveOrganization(ctx, org)
}

func (m *Memory) InsertBankAccount(ctx context.Context, acct billing.BankAccount) error {
	d, done, err := m.write(ctx)
	if err != nil {
		return err
	}
	defer done()
	return d.InsertBankAccount(ctx, acct)
}

func (m *Memory) UpdateBankAccount(ctx context.Context, acct billing.BankAccount) error {
	d, done, err := m.write(ctx)
	if err != nil {
		return err
	}
	defer done()
	return d.UpdateBankAccount(ctx, acct)
}

func (m *Memory) DeleteBankAccount(ctx context.Context, tenantID, accountID string) error {
	d, done, err := m.write(ctx)
	if err != nil {
		return err
	}
	defer done()
	return d.DeleteBankAccount(ctx, tenantID, accountID)
}

func (m *Memory) GetBankAccount(ctx context.Context, tenantID, accountID string) (*billing.BankAccount, error) {
	d, done := m.read()
	defer done()
	return d.GetBankAccount(ctx, tenantID, accountID)
}

func (m *Memory) ListBankAccounts(ctx context.Context, tenantID string) ([]billing.BankAccount, error) {
	d, done := m.read()
	defer done()
	return d.ListBankAccounts(ctx, tenantID)
}

func (m *Memory) ClearDefaultBankAccounts(ctx context.Context, tenantID, exceptID string) error {
	d, done, err := m.write(ctx)
	if err != nil {
		return err
	}
	defer done()
	return d.ClearDefaultBankAccounts(ctx, tenantID, exceptID)
}

func (m *Memory) SaveContact(ctx context.Context, c billing.Contact) error {
	d, done, err := m.write(ctx)
	if err != nil {
		return err
	}
	defer done()
	return d.SaveContact(ctx, c)
}

func (m *Memory) InsertInvoice(ctx context.Context, inv billing.Invoice) error {
	d, done, err := m.write(ctx)
	if err != nil {
		return err
	}
	defer done()
	return d.InsertInvoice(ctx, inv)
}

func (m *Memory) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*billing.Invoice, error) {
	d, done := m.read()
	defer done()
	return d.GetInvoice(ctx, tenantID, invoiceID)
}

func (m *Memory) GetInvoiceByCode(ctx context.Context, tenantID, code string) (*billing.Invoice, error) {
	d, done := m.read()
	defer done()
	return d.GetInvoiceByCode(ctx, tenantID, code)
}

func (m *Memory) FindInvoicesByCode(ctx context.Context, code string) ([]billing.Invoice, error) {
	d, done := m.read()
	defer done()
	return d.FindInvoicesByCode(ctx, code)
}

func (m *Memory) ListInvoices(ctx context.Context, tenantID string, limit int) ([]billing.Invoice, error) {
	d, done := m.read()
	defer done()
	return d.ListInvoices(ctx, tenantID, limit)
}

func (m *Memory) InvoiceCodeExists(ctx context.Context, tenantID, code string) (bool, error) {
	d, done := m.read()
	defer done()
	return d.InvoiceCodeExists(ctx, tenantID, code)
}

func (m *Memory) TransitionInvoice(ctx context.Context, tenantID, invoiceID string, from []billing.InvoiceStatus, to billing.InvoiceStatus, now time.Time) (bool, error) {
	d, done, err := m.write(ctx)
	if err != nil {
		return false, err
	}
	defer done()
	return d.TransitionInvoice(ctx, tenantID, invoiceID, from, to, now)
}

func (m *Memory) ListInvoicesDueReminder(ctx context.Context, cutoff time.Time, limit int) ([]billing.Invoice, error) {
	d, done := m.read()
	defer done()
	return d.ListInvoicesDueReminder(ctx, cutoff, limit)
}

func (m *Memory) MarkInvoiceReminded(ctx context.Context, tenantID, invoiceID string, at time.Time) (bool, error) {
	d, done, err := m.write(ctx)
	if err != nil {
		return false, err
	}
	defer done()
	return d.MarkInvoiceReminded(ctx, tenantID, invoiceID, at)
}

func (m *Memory) InsertClaim(ctx context.Context, c billing.Claim) error {
	d, done, err := m.write(ctx)
	if err != nil {
		return err
	}
	defer done()
	return d.InsertClaim(ctx, c)
}

func (m *Memory) GetClaim(ctx context.Context, tenantID, claimID string) (*billing.Claim, error) {
	d, done := m.read()
	defer done()
	return d.GetClaim(ctx, tenantID, claimID)
}

func (m *Memory) ListClaims(ctx context.Context, tenantID string, filter billing.ClaimFilter) ([]billing.Claim, error) {
	d, done := m.read()
	defer done()
	return d.ListClaims(ctx, tenantID, filter)
}

func (m *Memory) UpdateClaimReview(ctx context.Context, c billing.Claim) error {
	d, done, err := m.write(ctx)
	if err != nil {
		return err
	}
	defer done()
	return d.UpdateClaimReview(ctx, c)
}

func (m *Memory) GetReceipt(ctx context.Context, receiptID string) (*billing.ReceiptView, error) {
	d, done := m.read()
	defer done()
	return d.GetReceipt(ctx, receiptID)
}

func (m *Memory) ListReceiptsForInvoice(ctx context.Context, tenantID, invoiceID string) ([]billing.Receipt, error) {
	d, done := m.read()
	defer done()
	return d.ListReceiptsForInvoice(ctx, tenantID, invoiceID)
}

func (m *Memory) ReceiptNumberExists(ctx context.Context, number string) (bool, error) {
	d, done := m.read()
	defer done()
	return d.ReceiptNumberExists(ctx, number)
}

// =============================================================================
// TABLES - Unlocked implementation shared by Memory and txView
// =============================================================================

type tables struct {
	orgs     map[string]billing.Organization
	banks    map[string]billing.BankAccount
	contacts []billing.Contact
	invoices map[string]billing.Invoice
	claims   map[string]billing.Claim
	receipts map[string]billing.Receipt
}

func newTables() *tables {
	return &tables{
		orgs:     make(map[string]billing.Organization),
		banks:    make(map[string]billing.BankAccount),
		invoices: make(map[string]billing.Invoice),
		claims:   make(map[string]billing.Claim),
		receipts: make(map[string]billing.Receipt),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.orgs {
		c.orgs[k] = v
	}
	for k, v := range t.banks {
		c.banks[k] = v
	}
	c.contacts = append(c.contacts, t.contacts...)
	for k, v := range t.invoices {
		c.invoices[k] = v
	}
	for k, v := range t.claims {
		c.claims[k] = v
	}
	for k, v := range t.receipts {
		c.receipts[k] = v
	}
	return c
}

func duplicate(what string) error {
	return fmt.Errorf("%s: %w", what, billing.ErrDuplicate)
}

func missing(kind, key string) error {
	return &billing.NotFoundError{Kind: kind, Key: key}
}

// --- organizations, contacts ---

func (t *tables) SaveOrganization(_ context.Context, org billing.Organization) error {
	t.orgs[org.ID] = org
	return nil
}

func (t *tables) GetOrganization(_ context.Context, tenantID string) (*billing.Organization, error) {
	org, ok := t.orgs[tenantID]
	if !ok {
		return nil, missing("organization", tenantID)
	}
	return &org, nil
}

func (t *tables) SaveContact(_ context.Context, c billing.Contact) error {
	t.contacts = append(t.contacts, c)
	return nil
}

// LookupContactName returns the most recently saved name for the phone.
func (t *tables) LookupContactName(_ context.Context, tenantID, phone string) (string, error) {
	for i := len(t.contacts) - 1; i >= 0; i-- {
		c := t.contacts[i]
		if c.TenantID == tenantID && c.Phone == phone {
			return c.Name, nil
		}
	}
	return "", nil
}

// --- bank accounts ---

func (t *tables) InsertBankAccount(_ context.Context, acct billing.BankAccount) error {
	if _, ok := t.banks[acct.ID]; ok {
		return duplicate("bank account " + acct.ID)
	}
	if acct.IsDefault && t.hasDefault(acct.TenantID, acct.ID) {
		return duplicate("default bank account for " + acct.TenantID)
	}
	t.banks[acct.ID] = acct
	return nil
}

func (t *tables) UpdateBankAccount(_ context.Context, acct billing.BankAccount) error {
	cur, ok := t.banks[acct.ID]
	if !ok || cur.TenantID != acct.TenantID {
		return missing("bank account", acct.ID)
	}
	if acct.IsDefault && t.hasDefault(acct.TenantID, acct.ID) {
		return duplicate("default bank account for " + acct.TenantID)
	}
	t.banks[acct.ID] = acct
	return nil
}

func (t *tables) hasDefault(tenantID, exceptID string) bool {
	for _, b := range t.banks {
		if b.TenantID == tenantID && b.IsDefault && b.ID != exceptID {
			return true
		}
	}
	return false
}

func (t *tables) DeleteBankAccount(_ context.Context, tenantID, accountID string) error {
	cur, ok := t.banks[accountID]
	if !ok || cur.TenantID != tenantID {
		return missing("bank account", accountID)
	}
	delete(t.banks, accountID)
	return nil
}

func (t *tables) GetBankAccount(_ context.Context, tenantID, accountID string) (*billing.BankAccount, error) {
	b, ok := t.banks[accountID]
	if !ok || b.TenantID != tenantID {
		return nil, missing("bank account", accountID)
	}
	return &b, nil
}

func (t *tables) ListBankAccounts(_ context.Context, tenantID string) ([]billing.BankAccount, error) {
	var out []billing.BankAccount
	for _, b := range t.banks {
		if b.TenantID == tenantID {
			out = append(out, b)
		}
	}
	// Default first, then oldest first.
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tables) ClearDefaultBankAccounts(_ context.Context, tenantID, exceptID string) error {
	for id, b := range t.banks {
		if b.TenantID == tenantID && b.ID != exceptID && b.IsDefault {
			b.IsDefault = false
			t.banks[id] = b
		}
	}
	return nil
}

func (t *tables) DefaultBankAccount(_ context.Context, tenantID string) (*billing.BankAccount, error) {
	for _, b := range t.banks {
		if b.TenantID == tenantID && b.IsDefault {
			return &b, nil
		}
	}
	return nil, nil
}

// --- invoices ---

func cloneInvoice(inv billing.Invoice) *billing.Invoice {
	inv.Items = append([]billing.LineItem(nil), inv.Items...)
	return &inv
}

func (t *tables) InsertInvoice(_ context.Context, inv billing.Invoice) error {
	if _, ok := t.invoices[inv.ID]; ok {
		return duplicate("invoice " + inv.ID)
	}
	for _, other := range t.invoices {
		if other.TenantID == inv.TenantID && other.Code == inv.Code {
			return duplicate("invoice code " + inv.Code)
		}
	}
	t.invoices[inv.ID] = *cloneInvoice(inv)
	return nil
}

func (t *tables) GetInvoice(_ context.Context, tenantID, invoiceID string) (*billing.Invoice, error) {
	inv, ok := t.invoices[invoiceID]
	if !ok || inv.TenantID != tenantID {
		return nil, missing("invoice", invoiceID)
	}
	return cloneInvoice(inv), nil
}

func (t *tables) GetInvoiceByCode(_ context.Context, tenantID, code string) (*billing.Invoice, error) {
	for _, inv := range t.invoices {
		if inv.TenantID == tenantID && inv.Code == code {
			return cloneInvoice(inv), nil
		}
	}
	return nil, missing("invoice", code)
}

func (t *tables) FindInvoicesByCode(_ context.Context, code string) ([]billing.Invoice, error) {
	var out []billing.Invoice
	for _, inv := range t.invoices {
		if inv.Code == code {
			out = append(out, *cloneInvoice(inv))
		}
	}
	return out, nil
}

func (t *tables) ListInvoices(_ context.Context, tenantID string, limit int) ([]billing.Invoice, error) {
	var out []billing.Invoice
	for _, inv := range t.invoices {
		if inv.TenantID == tenantID {
			out = append(out, *cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tables) InvoiceCodeExists(_ context.Context, tenantID, code string) (bool, error) {
	for _, inv := range t.invoices {
		if inv.TenantID == tenantID && inv.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (t *tables) TransitionInvoice(_ context.Context, tenantID, invoiceID string, from []billing.InvoiceStatus, to billing.InvoiceStatus, now time.Time) (bool, error) {
	if to == billing.InvoicePaid {
		return false, fmt.Errorf("invoice %s: PAID is reachable only through settlement: %w", invoiceID, billing.ErrInvalidStateTransition)
	}
	return t.casInvoice(tenantID, invoiceID, from, to, now)
}

func (t *tables) casInvoice(tenantID, invoiceID string, from []billing.InvoiceStatus, to billing.InvoiceStatus, now time.Time) (bool, error) {
	inv, ok := t.invoices[invoiceID]
	if !ok || inv.TenantID != tenantID {
		return false, nil
	}
	for _, s := range from {
		if inv.Status == s {
			inv.Status = to
			inv.UpdatedAt = now
			t.invoices[invoiceID] = inv
			return true, nil
		}
	}
	return false, nil
}

func (t *tables) ListInvoicesDueReminder(_ context.Context, cutoff time.Time, limit int) ([]billing.Invoice, error) {
	var out []billing.Invoice
	for _, inv := range t.invoices {
		if inv.Status != billing.InvoiceSent && inv.Status != billing.InvoiceViewed {
			continue
		}
		if inv.ContactPhone == "" || inv.RemindedAt != nil || inv.CreatedAt.After(cutoff) {
			continue
		}
		out = append(out, *cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tables) MarkInvoiceReminded(_ context.Context, tenantID, invoiceID string, at time.Time) (bool, error) {
	inv, ok := t.invoices[invoiceID]
	if !ok || inv.TenantID != tenantID || inv.RemindedAt != nil {
		return false, nil
	}
	inv.RemindedAt = &at
	t.invoices[invoiceID] = inv
	return true, nil
}

// --- claims ---

func (t *tables) InsertClaim(_ context.Context, c billing.Claim) error {
	if _, ok := t.claims[c.ID]; ok {
		return duplicate("claim " + c.ID)
	}
	t.claims[c.ID] = c
	return nil
}

func (t *tables) GetClaim(_ context.Context, tenantID, claimID string) (*billing.Claim, error) {
	c, ok := t.claims[claimID]
	if !ok || c.TenantID != tenantID {
		return nil, missing("claim", claimID)
	}
	return &c, nil
}

func (t *tables) ListClaims(_ context.Context, tenantID string, f billing.ClaimFilter) ([]billing.Claim, error) {
	var out []billing.Claim
	for _, c := range t.claims {
		if c.TenantID != tenantID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.InvoiceID != "" && c.InvoiceID != f.InvoiceID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *tables) UpdateClaimReview(_ context.Context, c billing.Claim) error {
	cur, ok := t.claims[c.ID]
	if !ok || cur.TenantID != c.TenantID {
		return missing("claim", c.ID)
	}
	cur.Status = c.Status
	cur.ReviewedBy = c.ReviewedBy
	cur.ReviewedAt = c.ReviewedAt
	cur.ReviewNote = c.ReviewNote
	cur.UpdatedAt = c.UpdatedAt
	t.claims[c.ID] = cur
	return nil
}

// --- receipts ---

func (t *tables) GetReceipt(_ context.Context, receiptID string) (*billing.ReceiptView, error) {
	r, ok := t.receipts[receiptID]
	if !ok {
		return nil, missing("receipt", receiptID)
	}
	view := &billing.ReceiptView{Receipt: r}
	if inv, ok := t.invoices[r.InvoiceID]; ok {
		view.InvoiceCode = inv.Code
		view.Currency = inv.Currency
	}
	return view, nil
}

func (t *tables) ListReceiptsForInvoice(_ context.Context, tenantID, invoiceID string) ([]billing.Receipt, error) {
	var out []billing.Receipt
	for _, r := range t.receipts {
		if r.TenantID == tenantID && r.InvoiceID == invoiceID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *tables) ReceiptNumberExists(_ context.Context, number string) (bool, error) {
	for _, r := range t.receipts {
		if r.ReceiptNumber == number {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// SETTLEMENT WRITES - reachable only through txView
// =============================================================================

func (tv *txView) SettleInvoice(_ context.Context, tenantID, invoiceID string, from []billing.InvoiceStatus, now time.Time) (bool, error) {
	return tv.casInvoice(tenantID, invoiceID, from, billing.InvoicePaid, now)
}

func (tv *txView) InsertReceipt(_ context.Context, r billing.Receipt) error {
	if _, ok := tv.receipts[r.ID]; ok {
		return duplicate("receipt " + r.ID)
	}
	for _, other := range tv.receipts {
		if other.InvoiceID == r.InvoiceID {
			return duplicate("receipt for invoice " + r.InvoiceID)
		}
		if other.ReceiptNumber == r.ReceiptNumber {
			return duplicate("receipt number " + r.ReceiptNumber)
		}
	}
	tv.receipts[r.ID] = r
	return nil
}

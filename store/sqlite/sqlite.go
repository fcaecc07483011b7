/*
Package sqlite provides a SQLite-backed implementation of billing.TxStore.

PURPOSE:
  Persists organizations, bank accounts, contacts, invoices, payment claims
  and receipts.

KEY TABLES:
  organizations:   Tenants
  bank_accounts:   Payment instructions, at most one default per tenant
  contacts:        Leads, used to resolve buyer names on receipts
  invoices:        Billing documents, items frozen as JSON
  payment_claims:  Claims awaiting or past review (never deleted)
  receipts:        Immutable settlement proof

INTEGRITY:
  The schema backs the engine's invariants so a bug upstream cannot
  corrupt data silently:
  - idx_invoices_tenant_code:   invoice codes unique per tenant
  - receipts.invoice_id UNIQUE: one receipt per invoice
  - receipts.receipt_number UNIQUE: receipt numbers unique globally
  - idx_bank_accounts_default:  one default account per tenant
  Violations surface as billing.ErrDuplicate.

CONCURRENCY:
  WithTx holds a one-slot semaphore for the life of the transaction and
  opens it with BEGIN IMMEDIATE (_txlock=immediate), so settlement units
  never interleave. Waiting for the slot honours ctx: a queued unit
  returns ctx.Err() once its deadline passes instead of blocking behind
  the current holder. SettleInvoice is additionally a compare-and-set UPDATE.
  Statements outside WithTx are single autocommit statements.

  Inside WithTx every read and write goes through the *sql.Tx. Calling
  back into the parent Store from fn would wait on the same connection.

MONEY AND TIME:
  Decimals are stored as TEXT and scanned straight into decimal.Decimal.
  Times are stored as fixed-width UTC strings so ORDER BY created_at is
  chronological.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := billing.NewEngine(store, dispatcher, cfg)

MIGRATION:
  Schema is auto-migrated on New(). Every statement is idempotent.

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leadsbox/billing-engine/billing"
	"github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width so lexical order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements billing.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
	// tx is a one-slot semaphore held by WithTx.
	tx chan struct{}
}

var _ billing.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every new connection to :memory: is a fresh, empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{queries: queries{db: db}, db: db, tx: make(chan struct{}, 1)}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the database schema. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bank_accounts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES organizations(id),
		bank_name TEXT NOT NULL,
		account_name TEXT NOT NULL,
		account_number TEXT NOT NULL,
		notes TEXT,
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bank_accounts_tenant
		ON bank_accounts(tenant_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bank_accounts_default
		ON bank_accounts(tenant_id) WHERE is_default = 1;

	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contacts_tenant_phone
		ON contacts(tenant_id, phone, created_at DESC);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES organizations(id),
		code TEXT NOT NULL,
		currency TEXT NOT NULL,
		items_json TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		total TEXT NOT NULL,
		status TEXT NOT NULL,
		contact_phone TEXT,
		reminded_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_tenant_code
		ON invoices(tenant_id, code);
	CREATE INDEX IF NOT EXISTS idx_invoices_code
		ON invoices(code);
	CREATE INDEX IF NOT EXISTS idx_invoices_tenant_created
		ON invoices(tenant_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_invoices_reminder
		ON invoices(status, created_at) WHERE reminded_at IS NULL;

	CREATE TABLE IF NOT EXISTS payment_claims (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES organizations(id),
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		amount_claimed TEXT NOT NULL,
		ref_text TEXT,
		payer_bank TEXT,
		payer_name TEXT,
		proof_ref TEXT,
		source TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reviewed_by TEXT,
		reviewed_at TEXT,
		review_note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Verification queue (hot path)
	CREATE INDEX IF NOT EXISTS idx_claims_tenant_status_created
		ON payment_claims(tenant_id, status, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_claims_invoice
		ON payment_claims(invoice_id);

	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES organizations(id),
		invoice_id TEXT NOT NULL UNIQUE REFERENCES invoices(id),
		receipt_number TEXT NOT NULL UNIQUE,
		amount TEXT NOT NULL,
		seller_name TEXT NOT NULL,
		buyer_name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. It waits for
// the previous transaction only as long as ctx allows.
func (s *Store) WithTx(ctx context.Context, fn func(tx billing.Tx) error) error {
	select {
	case s.tx <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.tx }()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{db: sqlTx}}); err != nil {
		return err
	}
	// database/sql rolls back on cancel; report the cause, not ErrTxDone.
	if err := ctx.Err(); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore adds the settlement writes on top of the shared queries.
type txStore struct {
	queries
}

// SettleInvoice is a compare-and-set on status.
func (ts *txStore) SettleInvoice(ctx context.Context, tenantID, invoiceID string, from []billing.InvoiceStatus, now time.Time) (bool, error) {
	return ts.casInvoice(ctx, tenantID, invoiceID, from, billing.InvoicePaid, now)
}

func (ts *txStore) InsertReceipt(ctx context.Context, r billing.Receipt) error {
	_, err := ts.db.ExecContext(ctx, `
		INSERT INTO receipts
		(id, tenant_id, invoice_id, receipt_number, amount, seller_name, buyer_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.TenantID, r.InvoiceID, r.ReceiptNumber, r.Amount.String(),
		r.SellerName, r.BuyerName, formatTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("receipt for invoice %s: %w", r.InvoiceID, billing.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES - shared by Store (autocommit) and txStore
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// =============================================================================
// ORGANIZATIONS & CONTACTS
// =============================================================================

func (q queries) SaveOrganization(ctx context.Context, org billing.Organization) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, org.ID, org.Name, formatTime(org.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save organization: %w", err)
	}
	return nil
}

func (q queries) GetOrganization(ctx context.Context, tenantID string) (*billing.Organization, error) {
	var (
		org       billing.Organization
		createdAt string
	)
	err := q.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM organizations WHERE id = ?", tenantID,
	).Scan(&org.ID, &org.Name, &createdAt)
	if err != nil {
		return nil, lookupError(err, "organization", tenantID)
	}
	org.CreatedAt = parseTime(createdAt)
	return &org, nil
}

func (q queries) SaveContact(ctx context.Context, c billing.Contact) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO contacts (id, tenant_id, name, phone, created_at) VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.TenantID, c.Name, c.Phone, formatTime(c.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("contact %s: %w", c.ID, billing.ErrDuplicate)
		}
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

// LookupContactName returns the most recent name for the phone, or "".
func (q queries) LookupContactName(ctx context.Context, tenantID, phone string) (string, error) {
	var name string
	err := q.db.QueryRowContext(ctx, `
		SELECT name FROM contacts WHERE tenant_id = ? AND phone = ?
		ORDER BY created_at DESC LIMIT 1
	`, tenantID, phone).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up contact: %w", err)
	}
	return name, nil
}

// =============================================================================
// BANK ACCOUNTS
// =============================================================================

const bankColumns = `id, tenant_id, bank_name, account_name, account_number, notes, is_default, created_at, updated_at`

func (q queries) InsertBankAccount(ctx context.Context, a billing.BankAccount) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bank_accounts (`+bankColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.TenantID, a.BankName, a.AccountName, a.AccountNumber,
		nullString(a.Notes), a.IsDefault, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("bank account %s: %w", a.ID, billing.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert bank account: %w", err)
	}
	return nil
}

func (q queries) UpdateBankAccount(ctx context.Context, a billing.BankAccount) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE bank_accounts
		SET bank_name = ?, account_name = ?, account_number = ?, notes = ?, is_default = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?
	`,
		a.BankName, a.AccountName, a.AccountNumber, nullString(a.Notes), a.IsDefault,
		formatTime(a.UpdatedAt), a.ID, a.TenantID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("default bank account for %s: %w", a.TenantID, billing.ErrDuplicate)
		}
		return fmt.Errorf("failed to update bank account: %w", err)
	}
	return requireRow(res, "bank account", a.ID)
}

func (q queries) DeleteBankAccount(ctx context.Context, tenantID, accountID string) error {
	res, err := q.db.ExecContext(ctx,
		"DELETE FROM bank_accounts WHERE id = ? AND tenant_id = ?", accountID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete bank account: %w", err)
	}
	return requireRow(res, "bank account", accountID)
}

func (q queries) GetBankAccount(ctx context.Context, tenantID, accountID string) (*billing.BankAccount, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+bankColumns+" FROM bank_accounts WHERE id = ? AND tenant_id = ?", accountID, tenantID)
	a, err := scanBankAccount(row)
	if err != nil {
		return nil, lookupError(err, "bank account", accountID)
	}
	return a, nil
}

func (q queries) DefaultBankAccount(ctx context.Context, tenantID string) (*billing.BankAccount, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+bankColumns+" FROM bank_accounts WHERE tenant_id = ? AND is_default = 1", tenantID)
	a, err := scanBankAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load default bank account: %w", err)
	}
	return a, nil
}

func (q queries) ListBankAccounts(ctx context.Context, tenantID string) ([]billing.BankAccount, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+bankColumns+` FROM bank_accounts WHERE tenant_id = ?
		ORDER BY is_default DESC, created_at ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank accounts: %w", err)
	}
	defer rows.Close()

	var out []billing.BankAccount
	for rows.Next() {
		a, err := scanBankAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (q queries) ClearDefaultBankAccounts(ctx context.Context, tenantID, exceptID string) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE bank_accounts SET is_default = 0 WHERE tenant_id = ? AND id != ? AND is_default = 1",
		tenantID, exceptID)
	if err != nil {
		return fmt.Errorf("failed to clear default bank accounts: %w", err)
	}
	return nil
}

func scanBankAccount(row scanner) (*billing.BankAccount, error) {
	var (
		a                    billing.BankAccount
		notes                sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &a.TenantID, &a.BankName, &a.AccountName, &a.AccountNumber,
		&notes, &a.IsDefault, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.Notes = notes.String
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, tenant_id, code, currency, items_json, subtotal, total, status, contact_phone, reminded_at, created_at, updated_at`

func (q queries) InsertInvoice(ctx context.Context, inv billing.Invoice) error {
	itemsJSON, err := json.Marshal(inv.Items)
	if err != nil {
		return fmt.Errorf("failed to encode invoice items: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inv.ID, inv.TenantID, inv.Code, inv.Currency, string(itemsJSON),
		inv.Subtotal.String(), inv.Total.String(), inv.Status, nullString(inv.ContactPhone),
		nullTime(inv.RemindedAt), formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("invoice code %s: %w", inv.Code, billing.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

func (q queries) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*billing.Invoice, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = ? AND tenant_id = ?", invoiceID, tenantID)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, lookupError(err, "invoice", invoiceID)
	}
	return inv, nil
}

func (q queries) GetInvoiceByCode(ctx context.Context, tenantID, code string) (*billing.Invoice, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE code = ? AND tenant_id = ?", code, tenantID)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, lookupError(err, "invoice", code)
	}
	return inv, nil
}

func (q queries) FindInvoicesByCode(ctx context.Context, code string) ([]billing.Invoice, error) {
	return q.queryInvoices(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE code = ? ORDER BY created_at DESC", code)
}

func (q queries) ListInvoices(ctx context.Context, tenantID string, limit int) ([]billing.Invoice, error) {
	if limit <= 0 {
		limit = -1
	}
	return q.queryInvoices(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?",
		tenantID, limit)
}

func (q queries) InvoiceCodeExists(ctx context.Context, tenantID, code string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM invoices WHERE tenant_id = ? AND code = ?", tenantID, code,
	).Scan(&count)
	return count > 0, err
}

// TransitionInvoice refuses PAID; only txStore.SettleInvoice may set it.
func (q queries) TransitionInvoice(ctx context.Context, tenantID, invoiceID string, from []billing.InvoiceStatus, to billing.InvoiceStatus, now time.Time) (bool, error) {
	if to == billing.InvoicePaid {
		return false, fmt.Errorf("invoice %s: PAID is reachable only through settlement: %w", invoiceID, billing.ErrInvalidStateTransition)
	}
	return q.casInvoice(ctx, tenantID, invoiceID, from, to, now)
}

func (q queries) ListInvoicesDueReminder(ctx context.Context, cutoff time.Time, limit int) ([]billing.Invoice, error) {
	if limit <= 0 {
		limit = -1
	}
	return q.queryInvoices(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE status IN (?, ?) AND reminded_at IS NULL
		  AND contact_phone IS NOT NULL AND contact_phone != ''
		  AND created_at <= ?
		ORDER BY created_at ASC LIMIT ?
	`, billing.InvoiceSent, billing.InvoiceViewed, formatTime(cutoff), limit)
}

func (q queries) MarkInvoiceReminded(ctx context.Context, tenantID, invoiceID string, at time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		"UPDATE invoices SET reminded_at = ? WHERE id = ? AND tenant_id = ? AND reminded_at IS NULL",
		formatTime(at), invoiceID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to mark invoice reminded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (q queries) casInvoice(ctx context.Context, tenantID, invoiceID string, from []billing.InvoiceStatus, to billing.InvoiceStatus, now time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{to, formatTime(now), invoiceID, tenantID}
	for _, s := range from {
		args = append(args, s)
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE invoices SET status = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND status IN (`+placeholders(len(from))+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update invoice status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (q queries) queryInvoices(ctx context.Context, query string, args ...any) ([]billing.Invoice, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func scanInvoice(row scanner) (*billing.Invoice, error) {
	var (
		inv                  billing.Invoice
		itemsJSON            string
		contactPhone         sql.NullString
		remindedAt           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.Code, &inv.Currency, &itemsJSON,
		&inv.Subtotal, &inv.Total, &inv.Status, &contactPhone, &remindedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(itemsJSON), &inv.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items of invoice %s: %w", inv.ID, err)
	}
	inv.ContactPhone = contactPhone.String
	if remindedAt.Valid {
		t := parseTime(remindedAt.String)
		inv.RemindedAt = &t
	}
	inv.CreatedAt = parseTime(createdAt)
	inv.UpdatedAt = parseTime(updatedAt)
	return &inv, nil
}

// =============================================================================
// PAYMENT CLAIMS
// =============================================================================

const claimColumns = `id, tenant_id, invoice_id, amount_claimed, ref_text, payer_bank, payer_name, proof_ref,
	source, status, reviewed_by, reviewed_at, review_note, created_at, updated_at`

func (q queries) InsertClaim(ctx context.Context, c billing.Claim) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payment_claims (`+claimColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.TenantID, c.InvoiceID, c.AmountClaimed.String(),
		nullString(c.RefText), nullString(c.PayerBank), nullString(c.PayerName), nullString(c.ProofRef),
		c.Source, c.Status, nullString(c.ReviewedBy), nullTime(c.ReviewedAt), nullString(c.ReviewNote),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("claim %s: %w", c.ID, billing.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

func (q queries) GetClaim(ctx context.Context, tenantID, claimID string) (*billing.Claim, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+claimColumns+" FROM payment_claims WHERE id = ? AND tenant_id = ?", claimID, tenantID)
	c, err := scanClaim(row)
	if err != nil {
		return nil, lookupError(err, "claim", claimID)
	}
	return c, nil
}

func (q queries) ListClaims(ctx context.Context, tenantID string, f billing.ClaimFilter) ([]billing.Claim, error) {
	query := "SELECT " + claimColumns + " FROM payment_claims WHERE tenant_id = ?"
	args := []any{tenantID}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.InvoiceID != "" {
		query += " AND invoice_id = ?"
		args = append(args, f.InvoiceID)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var out []billing.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateClaimReview writes the review fields only. Claims are never deleted.
func (q queries) UpdateClaimReview(ctx context.Context, c billing.Claim) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payment_claims
		SET status = ?, reviewed_by = ?, reviewed_at = ?, review_note = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?
	`,
		c.Status, nullString(c.ReviewedBy), nullTime(c.ReviewedAt), nullString(c.ReviewNote),
		formatTime(c.UpdatedAt), c.ID, c.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}
	return requireRow(res, "claim", c.ID)
}

func scanClaim(row scanner) (*billing.Claim, error) {
	var (
		c                                       billing.Claim
		refText, payerBank, payerName, proofRef sql.NullString
		reviewedBy, reviewedAt, reviewNote      sql.NullString
		createdAt, updatedAt                    string
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.InvoiceID, &c.AmountClaimed,
		&refText, &payerBank, &payerName, &proofRef,
		&c.Source, &c.Status, &reviewedBy, &reviewedAt, &reviewNote, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.RefText = refText.String
	c.PayerBank = payerBank.String
	c.PayerName = payerName.String
	c.ProofRef = proofRef.String
	c.ReviewedBy = reviewedBy.String
	c.ReviewNote = reviewNote.String
	if reviewedAt.Valid {
		t := parseTime(reviewedAt.String)
		c.ReviewedAt = &t
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// =============================================================================
// RECEIPTS
// =============================================================================

func (q queries) GetReceipt(ctx context.Context, receiptID string) (*billing.ReceiptView, error) {
	var (
		v         billing.ReceiptView
		createdAt string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT r.id, r.tenant_id, r.invoice_id, r.receipt_number, r.amount, r.seller_name,
		       r.buyer_name, r.created_at, i.code, i.currency
		FROM receipts r JOIN invoices i ON i.id = r.invoice_id
		WHERE r.id = ?
	`, receiptID).Scan(&v.ID, &v.TenantID, &v.InvoiceID, &v.ReceiptNumber, &v.Amount,
		&v.SellerName, &v.BuyerName, &createdAt, &v.InvoiceCode, &v.Currency)
	if err != nil {
		return nil, lookupError(err, "receipt", receiptID)
	}
	v.CreatedAt = parseTime(createdAt)
	return &v, nil
}

func (q queries) ListReceiptsForInvoice(ctx context.Context, tenantID, invoiceID string) ([]billing.Receipt, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, invoice_id, receipt_number, amount, seller_name, buyer_name, created_at
		FROM receipts WHERE tenant_id = ? AND invoice_id = ?
		ORDER BY created_at DESC
	`, tenantID, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var out []billing.Receipt
	for rows.Next() {
		var (
			r         billing.Receipt
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.InvoiceID, &r.ReceiptNumber, &r.Amount,
			&r.SellerName, &r.BuyerName, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q queries) ReceiptNumberExists(ctx context.Context, number string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM receipts WHERE receipt_number = ?", number,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// lookupError maps sql.ErrNoRows to a billing NotFoundError.
func lookupError(err error, kind, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &billing.NotFoundError{Kind: kind, Key: key}
	}
	return fmt.Errorf("failed to load %s: %w", kind, err)
}

func requireRow(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &billing.NotFoundError{Kind: kind, Key: key}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

package billing_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leadsbox/billing-engine/billing"
	"github.com/leadsbox/billing-engine/billing/store"
	"github.com/leadsbox/billing-engine/store/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	tenantA = "org-a"
	tenantB = "org-b"
)

// sentMessage is one SendText call.
type sentMessage struct {
	To   string
	Body string
}

// recordingDispatcher captures messages and can be told to fail.
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (d *recordingDispatcher) SendText(_ context.Context, to, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, sentMessage{To: to, Body: body})
	return nil
}

func (d *recordingDispatcher) messages() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMessage(nil), d.sent...)
}

var errDeliveryDown = errors.New("upstream unavailable")

// steppingClock advances one millisecond per call so "newest first"
// orderings are deterministic.
func steppingClock() func() time.Time {
	base := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	var n int64
	return func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Millisecond)
	}
}

// storeFactories lists every TxStore implementation the engine runs on.
func storeFactories(t *testing.T) map[string]func() billing.TxStore {
	return map[string]func() billing.TxStore{
		"memory": func() billing.TxStore { return store.NewMemory() },
		"sqlite": func() billing.TxStore {
			s, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

// forEachStore runs fn once per store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, st billing.TxStore)) {
	for name, factory := range storeFactories(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			fn(t, factory())
		})
	}
}

type fixture struct {
	store      billing.TxStore
	engine     *billing.Engine
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T, st billing.TxStore, opts ...billing.Option) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, st, billing.Config{}, opts...)
}

// newFixtureWithConfig is newFixture with engine tuning; PublicURL is fixed.
func newFixtureWithConfig(t *testing.T, st billing.TxStore, cfg billing.Config, opts ...billing.Option) *fixture {
	t.Helper()
	d := &recordingDispatcher{}
	opts = append([]billing.Option{billing.WithClock(steppingClock())}, opts...)
	cfg.PublicURL = "https://app.test"
	e := billing.NewEngine(st, d, cfg, opts...)

	ctx := context.Background()
	_, err := e.CreateOrganization(ctx, tenantA, "Ada Fabrics")
	require.NoError(t, err)
	_, err = e.CreateOrganization(ctx, tenantB, "Bolu Foods")
	require.NoError(t, err)

	return &fixture{store: st, engine: e, dispatcher: d}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// createInvoice bills 2 x 500 + 1 x 500 = 1500 to +2348000000001.
func (f *fixture) createInvoice(t *testing.T, tenantID string) *billing.Invoice {
	t.Helper()
	res, err := f.engine.CreateInvoice(context.Background(), billing.CreateInvoiceInput{
		TenantID: tenantID,
		Items: []billing.LineItem{
			{Name: "Ankara fabric", Qty: 2, UnitPrice: dec("500")},
			{Name: "Delivery", Qty: 1, UnitPrice: dec("500")},
		},
		ContactPhone: "+2348000000001",
	}, false)
	require.NoError(t, err)
	return res.Invoice
}

func (f *fixture) fileClaim(t *testing.T, tenantID, code string) *billing.Claim {
	t.Helper()
	c, err := f.engine.CreateClaim(context.Background(), tenantID, code, dec("1500"), billing.ClaimMetadata{
		RefText:   "TRF/123",
		PayerBank: "GTBank",
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) receiptsFor(t *testing.T, inv *billing.Invoice) []billing.Receipt {
	t.Helper()
	rs, err := f.store.ListReceiptsForInvoice(context.Background(), inv.TenantID, inv.ID)
	require.NoError(t, err)
	return rs
}

// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
	"coursepay/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// -----------------------------
// memLedger
// -----------------------------

// memLedger mirrors the Postgres ledger: one row per (gateway, transaction id),
// merged under a single lock.
type memLedger struct {
	mu        sync.Mutex
	rows      map[string]*model.PaymentRecord
	writes    int
	upsertErr error
	now       func() time.Time
}

func newMemLedger(now func() time.Time) *memLedger {
	return &memLedger{rows: map[string]*model.PaymentRecord{}, now: now}
}

var _ repository.PaymentLedger = (*memLedger)(nil)

func ledgerKey(gateway, id string) string { return gateway + "|" + id }

func (m *memLedger) UpsertByTransactionID(ctx context.Context, gateway, transactionID string, f model.LedgerFields) (*model.UpsertResult, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	now := m.now()
	cur, ok := m.rows[ledgerKey(gateway, transactionID)]
	if !ok {
		rec := f.MergeInto(model.PaymentRecord{ID: transactionID, Gateway: gateway, CreatedAt: now}, now)
		stored := rec
		m.rows[ledgerKey(gateway, transactionID)] = &stored
		return &model.UpsertResult{Record: &rec, Inserted: true}, nil
	}
	prev := cur.NormalizedStatus
	merged := f.MergeInto(*cur, now)
	stored := merged
	m.rows[ledgerKey(gateway, transactionID)] = &stored
	return &model.UpsertResult{Record: &merged, PreviousStatus: prev}, nil
}

func (m *memLedger) FindByTransactionID(ctx context.Context, tx repository.Tx, gateway, transactionID string) (*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[ledgerKey(gateway, transactionID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *cur
	return &cp, nil
}

func (m *memLedger) MarkGrant(ctx context.Context, tx repository.Tx, gateway, transactionID string, state model.GrantState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[ledgerKey(gateway, transactionID)]
	if !ok || cur.NormalizedStatus != model.PaymentStatusSucceeded || cur.GrantState != model.GrantStatePending {
		return false, nil
	}
	cur.GrantState = state
	return true, nil
}

func (m *memLedger) ReopenGrant(ctx context.Context, tx repository.Tx, gateway, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[ledgerKey(gateway, transactionID)]
	if !ok || cur.NormalizedStatus != model.PaymentStatusSucceeded || cur.GrantState != model.GrantStateUndecodable {
		return false, nil
	}
	cur.GrantState = model.GrantStatePending
	return true, nil
}

func (m *memLedger) ListPendingGrants(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentRecord
	for _, r := range m.rows {
		if r.NormalizedStatus == model.PaymentStatusSucceeded && r.GrantState == model.GrantStatePending && r.UpdatedAt.Before(olderThan) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memLedger) get(gateway, id string) *model.PaymentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[ledgerKey(gateway, id)]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// -----------------------------
// memUsers
// -----------------------------

// memUsers is a versioned user store. forcedConflicts simulates concurrent
// writers by bumping the version before failing an update.
type memUsers struct {
	mu              sync.Mutex
	users           map[string]*model.User
	findErr         error
	forcedConflicts int
	updates         int
}

func newMemUsers(users ...*model.User) *memUsers {
	m := &memUsers{users: map[string]*model.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

var _ repository.UserDirectory = (*memUsers)(nil)

func cloneUser(u *model.User) *model.User {
	cp := *u
	cp.PurchasedCourses = append(model.Entitlements(nil), u.PurchasedCourses...)
	cp.AppliedPaymentIDs = append([]string(nil), u.AppliedPaymentIDs...)
	return &cp
}

func (m *memUsers) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *memUsers) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUsers) FindIDBySuffix(ctx context.Context, tx repository.Tx, suffix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uniqueSuffix(keysOf(m.users), suffix)
}

func (m *memUsers) UpdateEntitlements(ctx context.Context, tx repository.Tx, userID string, expectedVersion int64, ents model.Entitlements, applied []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	if m.forcedConflicts > 0 {
		m.forcedConflicts--
		u.Version++
		return domain.ErrVersionConflict
	}
	if u.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	u.PurchasedCourses = append(model.Entitlements(nil), ents...)
	u.AppliedPaymentIDs = append([]string(nil), applied...)
	u.Version++
	m.updates++
	return nil
}

func (m *memUsers) snapshot(id string) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneUser(m.users[id])
}

// -----------------------------
// memCatalog
// -----------------------------

type memCatalog struct {
	courses map[string]*model.Course
	listErr error
}

func newMemCatalog(ids ...string) *memCatalog {
	c := &memCatalog{courses: map[string]*model.Course{}}
	for _, id := range ids {
		c.courses[id] = &model.Course{ID: id, Title: "Course " + id, PriceIDR: 150000, Published: true}
	}
	return c
}

var _ repository.CourseCatalog = (*memCatalog)(nil)

func (c *memCatalog) FindByID(ctx context.Context, id string) (*model.Course, error) {
	cr, ok := c.courses[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *cr
	return &cp, nil
}

func (c *memCatalog) ListIDs(ctx context.Context) ([]string, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	var ids []string
	for id, cr := range c.courses {
		if cr.Published {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *memCatalog) FindIDBySuffix(ctx context.Context, suffix string) (string, error) {
	return uniqueSuffix(keysOf(c.courses), suffix)
}

func keysOf[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func uniqueSuffix(ids []string, suffix string) (string, error) {
	var found []string
	for _, id := range ids {
		tail := id
		if len(tail) > model.CompactSuffixLen {
			tail = tail[len(tail)-model.CompactSuffixLen:]
		}
		if tail == suffix {
			found = append(found, id)
		}
	}
	if len(found) != 1 {
		return "", domain.ErrNotFound
	}
	return found[0], nil
}

// -----------------------------
// alerts and session gateways
// -----------------------------

type recordingAlerter struct {
	mu  sync.Mutex
	got []adapter.ReconciliationAlert
}

func (r *recordingAlerter) Raise(ctx context.Context, a adapter.ReconciliationAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
	return nil
}

type fakeSessionGateway struct {
	name   string
	maxRef int
	got    []adapter.SessionRequest
	err    error
}

func (g *fakeSessionGateway) Name() string         { return g.name }
func (g *fakeSessionGateway) MaxReferenceLen() int { return g.maxRef }
func (g *fakeSessionGateway) CreateSession(ctx context.Context, req adapter.SessionRequest) (adapter.SessionResult, error) {
	if g.err != nil {
		return adapter.SessionResult{}, g.err
	}
	g.got = append(g.got, req)
	return adapter.SessionResult{SessionID: "sess-1", RedirectURL: "https://pay.example/" + req.ReferenceID}, nil
}

func toPaymentGateways(gws []*fakeSessionGateway) []adapter.PaymentGateway {
	out := make([]adapter.PaymentGateway, 0, len(gws))
	for _, g := range gws {
		out = append(out, g)
	}
	return out
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DefaultAccessPeriod is how long one successful payment extends access.
const DefaultAccessPeriod = 30 * 24 * time.Hour

// CourseEntitlement is a time-boxed grant of access to one course.
type CourseEntitlement struct {
	CourseID        string    `json:"courseId"`
	PurchaseDate    time.Time `json:"purchaseDate"`
	ExpiryDate      time.Time `json:"expiryDate"`
	IsActive        bool      `json:"isActive"`
	SourcePaymentID string    `json:"sourcePaymentId"`
}

// Entitlements is the ordered per-user collection, unique by CourseID.
type Entitlements []CourseEntitlement

// Find returns the index of courseID or -1.
func (es Entitlements) Find(courseID string) int {
	for i := range es {
		if es[i].CourseID == courseID {
			return i
		}
	}
	return -1
}

// ActiveAt reports whether the user may access courseID at t. Expiry is only
// ever enforced here, at read time; records are never deleted.
func (es Entitlements) ActiveAt(courseID string, t time.Time) bool {
	i := es.Find(courseID)
	return i >= 0 && es[i].IsActive && es[i].ExpiryDate.After(t)
}

// Grant is a verified, decoded successful payment ready to be materialised.
type Grant struct {
	PaymentID string // ledger key, "<gateway>:<transaction id>"
	Kind      ReferenceKind
	CourseIDs []string // one id for COURSE, the whole catalog for SUBSCRIPTION
}

// GrantKey builds the ledger key stored in the applied set and SourcePaymentID.
func GrantKey(gateway, transactionID string) string {
	return gateway + ":" + transactionID
}

// ResolveGrant maps current entitlement state plus a grant to the new state.
// It is pure: the input slice is not modified. The bool is false when the grant
// was already applied (its payment is in applied), in which case current is
// returned unchanged.
//
// For every target course: expiry = max(existing expiry, now) + period, updated in
// place when present and appended otherwise.
func ResolveGrant(current Entitlements, applied []string, g Grant, now time.Time, period time.Duration) (Entitlements, []string, bool) {
	for _, id := range applied {
		if id == g.PaymentID {
			return current, applied, false
		}
	}
	if period <= 0 {
		period = DefaultAccessPeriod
	}
	out := make(Entitlements, len(current), len(current)+len(g.CourseIDs))
	copy(out, current)
	for _, courseID := range g.CourseIDs {
		if i := out.Find(courseID); i >= 0 {
			base := out[i].ExpiryDate
			if base.Before(now) {
				base = now
			}
			out[i].ExpiryDate = base.Add(period)
			out[i].IsActive = true
			out[i].SourcePaymentID = g.PaymentID
			continue
		}
		out = append(out, CourseEntitlement{
			CourseID:        courseID,
			PurchaseDate:    now,
			ExpiryDate:      now.Add(period),
			IsActive:        true,
			SourcePaymentID: g.PaymentID,
		})
	}
	nextApplied := make([]string, 0, len(applied)+1)
	nextApplied = append(nextApplied, applied...)
	nextApplied = append(nextApplied, g.PaymentID)
	return out, nextApplied, true
}

// DecodeEntitlements reads stored purchased courses. Besides the list shape it
// accepts the legacy object shape keyed by course id and migrates it to a list
// ordered by purchase date then course id.
func DecodeEntitlements(raw []byte) (Entitlements, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Entitlements{}, nil
	}
	switch raw[0] {
	case '[':
		var list Entitlements
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode purchased courses: %w", err)
		}
		return list, nil
	case '{':
		var legacy map[string]CourseEntitlement
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("decode legacy purchased courses: %w", err)
		}
		list := make(Entitlements, 0, len(legacy))
		for courseID, e := range legacy {
			if e.CourseID == "" {
				e.CourseID = courseID
			}
			list = append(list, e)
		}
		sort.Slice(list, func(i, j int) bool {
			if !list[i].PurchaseDate.Equal(list[j].PurchaseDate) {
				return list[i].PurchaseDate.Before(list[j].PurchaseDate)
			}
			return list[i].CourseID < list[j].CourseID
		})
		return list, nil
	default:
		return nil, fmt.Errorf("decode purchased courses: unexpected json %q", raw[:1])
	}
}

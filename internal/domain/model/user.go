package model

import "time"

// User is a learner as seen by the payment core. PurchasedCourses is the
// entitlement store; Version guards it with optimistic concurrency.
type User struct {
	ID                string
	Email             string
	Name              string
	PurchasedCourses  Entitlements
	AppliedPaymentIDs []string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

// Course is a catalog entry.
type Course struct {
	ID        string
	Title     string
	PriceIDR  int64
	Published bool
	CreatedAt time.Time
}

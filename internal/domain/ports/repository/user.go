package repository

import (
	"context"

	"coursepay/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

// UserDirectory is the user store. Its PurchasedCourses field is the entitlement store.
type UserDirectory interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	FindByEmail(ctx context.Context, tx Tx, email string) (*model.User, error)
	// FindIDBySuffix resolves the id suffix carried by a compact reference.
	// It returns domain.ErrNotFound when zero or more than one user matches.
	FindIDBySuffix(ctx context.Context, tx Tx, suffix string) (string, error)
	// UpdateEntitlements is a conditional partial update: it succeeds only when the
	// stored version equals expectedVersion, otherwise domain.ErrVersionConflict.
	UpdateEntitlements(ctx context.Context, tx Tx, userID string, expectedVersion int64, ents model.Entitlements, appliedPaymentIDs []string) error
}

// File: internal/usecase/entitlement_uc_test.go
package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
)

func newTestEntitlementUC(users *memUsers, retries int) *entitlementUC {
	uc := NewEntitlementUseCase(users, EntitlementOptions{ConflictRetries: retries, StorageTimeout: time.Second}, newTestLogger())
	uc.now = func() time.Time { return testNow }
	return uc
}

func TestEntitlementUC_Apply(t *testing.T) {
	grant := model.Grant{PaymentID: "ipaymu:tx-1", Kind: model.ReferenceKindCourse, CourseIDs: []string{"driver-bis"}}

	t.Run("new entitlement", func(t *testing.T) {
		users := newMemUsers(&model.User{ID: "u42"})
		uc := newTestEntitlementUC(users, 3)

		applied, err := uc.Apply(context.Background(), "u42", grant)
		if err != nil || !applied {
			t.Fatalf("Apply = %v, %v", applied, err)
		}
		u := users.snapshot("u42")
		if u.Version != 1 || len(u.AppliedPaymentIDs) != 1 || u.AppliedPaymentIDs[0] != "ipaymu:tx-1" {
			t.Fatalf("unexpected user state: %+v", u)
		}
		if !u.PurchasedCourses[0].PurchaseDate.Equal(testNow) {
			t.Errorf("purchase date = %v", u.PurchasedCourses[0].PurchaseDate)
		}
	})

	t.Run("already applied payment is a no-op", func(t *testing.T) {
		users := newMemUsers(&model.User{ID: "u42"})
		uc := newTestEntitlementUC(users, 3)
		_, _ = uc.Apply(context.Background(), "u42", grant)

		applied, err := uc.Apply(context.Background(), "u42", grant)
		if err != nil || applied {
			t.Fatalf("second Apply = %v, %v", applied, err)
		}
		if users.updates != 1 {
			t.Errorf("updates = %d, want 1", users.updates)
		}
	})

	t.Run("conflicts are retried", func(t *testing.T) {
		users := newMemUsers(&model.User{ID: "u42"})
		users.forcedConflicts = 2
		uc := newTestEntitlementUC(users, 3)

		applied, err := uc.Apply(context.Background(), "u42", grant)
		if err != nil || !applied {
			t.Fatalf("Apply = %v, %v", applied, err)
		}
		if users.forcedConflicts != 0 {
			t.Errorf("forcedConflicts left = %d", users.forcedConflicts)
		}
	})

	t.Run("retries exhausted", func(t *testing.T) {
		users := newMemUsers(&model.User{ID: "u42"})
		users.forcedConflicts = 4
		uc := newTestEntitlementUC(users, 3)

		_, err := uc.Apply(context.Background(), "u42", grant)
		if !errors.Is(err, domain.ErrStorageConflict) {
			t.Fatalf("want ErrStorageConflict, got %v", err)
		}
		if users.forcedConflicts != 0 || users.updates != 0 {
			t.Errorf("want exactly 4 attempts and no write, left=%d updates=%d", users.forcedConflicts, users.updates)
		}
	})

	t.Run("zero retries means one attempt", func(t *testing.T) {
		users := newMemUsers(&model.User{ID: "u42"})
		users.forcedConflicts = 1
		uc := newTestEntitlementUC(users, 0)

		if _, err := uc.Apply(context.Background(), "u42", grant); !errors.Is(err, domain.ErrStorageConflict) {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		uc := newTestEntitlementUC(newMemUsers(), 3)
		if _, err := uc.Apply(context.Background(), "ghost", grant); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("storage errors pass through", func(t *testing.T) {
		users := newMemUsers(&model.User{ID: "u42"})
		users.findErr = domain.ErrStorageUnavailable
		uc := newTestEntitlementUC(users, 3)
		if _, err := uc.Apply(context.Background(), "u42", grant); !errors.Is(err, domain.ErrStorageUnavailable) {
			t.Fatalf("got %v", err)
		}
	})
}

func TestEntitlementUC_HasAccess(t *testing.T) {
	users := newMemUsers(&model.User{ID: "u42", PurchasedCourses: model.Entitlements{
		{CourseID: "active", ExpiryDate: testNow.Add(time.Hour), IsActive: true},
		{CourseID: "lapsed", ExpiryDate: testNow.Add(-time.Hour), IsActive: true},
		{CourseID: "revoked", ExpiryDate: testNow.Add(time.Hour), IsActive: false},
	}})
	uc := newTestEntitlementUC(users, 3)

	cases := map[string]bool{"active": true, "lapsed": false, "revoked": false, "never-bought": false}
	for courseID, want := range cases {
		got, err := uc.HasAccess(context.Background(), "u42", courseID)
		if err != nil {
			t.Fatalf("%s: %v", courseID, err)
		}
		if got != want {
			t.Errorf("HasAccess(%s) = %v, want %v", courseID, got, want)
		}
	}

	if _, err := uc.HasAccess(context.Background(), "ghost", "active"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown user: %v", err)
	}
}

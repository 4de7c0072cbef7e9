// File: internal/usecase/ingest_uc_test.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/infra/payment"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type ingestFixture struct {
	uc      *ingestUC
	ents    *entitlementUC
	ledger  *memLedger
	users   *memUsers
	catalog *memCatalog
	alerts  *recordingAlerter
	reg     *payment.Registry
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	f := &ingestFixture{
		ledger:  newMemLedger(clock),
		users:   newMemUsers(&model.User{ID: "u42", Email: "u42@example.com", Name: "Dewi"}),
		catalog: newMemCatalog("driver-bis", "driver-truck", "forklift"),
		alerts:  &recordingAlerter{},
	}
	f.reg = payment.NewRegistryFromConfig(payment.NewVerifier(newTestLogger()), config.PaymentConfig{
		Currency: "IDR",
		IPaymu:   config.GatewayConfig{Enabled: true, MerchantKey: "VA-0001", Secret: "ipaymu-secret"},
		Midtrans: config.GatewayConfig{Enabled: true, MerchantKey: "M-1", Secret: "midtrans-secret"},
	})
	f.ents = NewEntitlementUseCase(f.users, EntitlementOptions{ConflictRetries: 3, StorageTimeout: time.Second}, newTestLogger())
	f.ents.now = clock
	f.uc = NewIngestUseCase(f.reg, f.ledger, f.users, f.catalog, f.ents, f.alerts, time.Second, newTestLogger())
	return f
}

// notify builds a correctly signed notification for gateway.
func (f *ingestFixture) notify(t *testing.T, gateway string, payload map[string]any) model.PaymentNotification {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	b, err := f.reg.Binding(gateway)
	if err != nil {
		t.Fatalf("binding: %v", err)
	}
	headers, body, err := b.Scheme().Sign(http.MethodPost, raw)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return model.PaymentNotification{Gateway: gateway, Method: http.MethodPost, Headers: headers, Body: body, ReceivedAt: testNow}
}

func ipaymuPaid(txID, ref string) map[string]any {
	return map[string]any{"status": "paid", "transaction_id": txID, "reference_id": ref, "amount": 150000}
}

func mustHandle(t *testing.T, f *ingestFixture, n model.PaymentNotification, want IngestOutcome) {
	t.Helper()
	got, err := f.uc.Handle(context.Background(), n)
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if got != want {
		t.Fatalf("outcome = %s, want %s", got, want)
	}
}

func TestIngest_PaidCourseIsAppliedOnceAndDuplicateIgnored(t *testing.T) {
	f := newIngestFixture(t)
	n := f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-1", "COURSE_u42_driver-bis_1700000000"))

	mustHandle(t, f, n, OutcomeApplied)

	u := f.users.snapshot("u42")
	if len(u.PurchasedCourses) != 1 {
		t.Fatalf("want 1 entitlement, got %d", len(u.PurchasedCourses))
	}
	e := u.PurchasedCourses[0]
	if e.CourseID != "driver-bis" || !e.IsActive {
		t.Fatalf("unexpected entitlement: %+v", e)
	}
	if want := testNow.Add(30 * 24 * time.Hour); !e.ExpiryDate.Equal(want) {
		t.Errorf("expiry = %v, want %v", e.ExpiryDate, want)
	}
	if e.SourcePaymentID != "ipaymu:tx-1" {
		t.Errorf("source payment = %q", e.SourcePaymentID)
	}
	rec := f.ledger.get(payment.GatewayIPaymu, "tx-1")
	if rec.NormalizedStatus != model.PaymentStatusSucceeded || rec.GrantState != model.GrantStateApplied {
		t.Fatalf("ledger row = %s/%s", rec.NormalizedStatus, rec.GrantState)
	}

	// identical redelivery
	mustHandle(t, f, n, OutcomeDuplicateIgnored)
	after := f.users.snapshot("u42")
	if after.Version != u.Version || !after.PurchasedCourses[0].ExpiryDate.Equal(e.ExpiryDate) {
		t.Errorf("redelivery changed entitlement: %+v", after.PurchasedCourses)
	}
	if len(f.ledger.rows) != 1 {
		t.Errorf("want exactly one ledger row, got %d", len(f.ledger.rows))
	}
}

func TestIngest_GarbageReferenceIsRecordedAndFlagged(t *testing.T) {
	f := newIngestFixture(t)
	n := f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-9", "GARBAGE"))

	mustHandle(t, f, n, OutcomeRejectedUndecodable)

	rec := f.ledger.get(payment.GatewayIPaymu, "tx-9")
	if rec == nil || rec.NormalizedStatus != model.PaymentStatusSucceeded {
		t.Fatalf("ledger row should be SUCCEEDED, got %+v", rec)
	}
	if rec.GrantState != model.GrantStateUndecodable {
		t.Errorf("grant state = %q", rec.GrantState)
	}
	if f.users.updates != 0 {
		t.Errorf("entitlement store must be untouched, got %d updates", f.users.updates)
	}
	if len(f.alerts.got) != 1 || f.alerts.got[0].ReferenceID != "GARBAGE" || f.alerts.got[0].TransactionID != "tx-9" {
		t.Fatalf("want one alert carrying the raw reference, got %+v", f.alerts.got)
	}

	// redelivery neither re-alerts nor grants
	mustHandle(t, f, n, OutcomeDuplicateIgnored)
	if len(f.alerts.got) != 1 {
		t.Errorf("redelivery raised another alert")
	}
}

func TestIngest_InvalidSignatureWritesNothing(t *testing.T) {
	f := newIngestFixture(t)
	n := f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-1", "COURSE_u42_driver-bis_1700000000"))

	t.Run("every body byte", func(t *testing.T) {
		for i := range n.Body {
			m := n
			m.Body = append([]byte(nil), n.Body...)
			m.Body[i] ^= 0x20
			mustHandle(t, f, m, OutcomeRejectedInvalidSignature)
		}
	})

	t.Run("signature header", func(t *testing.T) {
		m := n
		m.Headers = n.Headers.Clone()
		sig := []byte(m.Headers.Get("signature"))
		if sig[0] == 'a' {
			sig[0] = 'b'
		} else {
			sig[0] = 'a'
		}
		m.Headers.Set("signature", string(sig))
		mustHandle(t, f, m, OutcomeRejectedInvalidSignature)
	})

	t.Run("signed for another gateway", func(t *testing.T) {
		m := n
		m.Gateway = payment.GatewayMidtrans
		mustHandle(t, f, m, OutcomeRejectedInvalidSignature)
	})

	if f.ledger.writes != 0 {
		t.Fatalf("rejected notifications wrote %d ledger rows", f.ledger.writes)
	}
	if f.users.updates != 0 {
		t.Fatalf("rejected notifications touched entitlements")
	}
}

func TestIngest_ExpiryExtension(t *testing.T) {
	cases := []struct {
		name     string
		existing time.Time
		want     time.Time
	}{
		{"active access extends from current expiry", testNow.Add(10 * 24 * time.Hour), testNow.Add(40 * 24 * time.Hour)},
		{"lapsed access restarts from now", testNow.Add(-5 * 24 * time.Hour), testNow.Add(30 * 24 * time.Hour)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newIngestFixture(t)
			purchased := testNow.Add(-60 * 24 * time.Hour)
			f.users.users["u42"].PurchasedCourses = model.Entitlements{{
				CourseID: "driver-bis", PurchaseDate: purchased, ExpiryDate: c.existing, IsActive: c.existing.After(testNow), SourcePaymentID: "ipaymu:old",
			}}

			mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-2", "COURSE_u42_driver-bis_1700000000")), OutcomeApplied)

			e := f.users.snapshot("u42").PurchasedCourses
			if len(e) != 1 {
				t.Fatalf("entitlement should be updated in place, got %d", len(e))
			}
			if !e[0].ExpiryDate.Equal(c.want) {
				t.Errorf("expiry = %v, want %v", e[0].ExpiryDate, c.want)
			}
			if !e[0].PurchaseDate.Equal(purchased) {
				t.Errorf("purchase date changed to %v", e[0].PurchaseDate)
			}
			if !e[0].IsActive {
				t.Errorf("entitlement should be active")
			}
		})
	}
}

func TestIngest_NonSuccessStatuses(t *testing.T) {
	for _, raw := range []string{"pending", "expired", "gagal", "batal", "refunded", "PAID-ish"} {
		t.Run(raw, func(t *testing.T) {
			f := newIngestFixture(t)
			p := ipaymuPaid("tx-3", "COURSE_u42_driver-bis_1700000000")
			p["status"] = raw
			mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, p), OutcomeNoOpStatus)
			if f.users.updates != 0 {
				t.Fatalf("status %q mutated entitlement", raw)
			}
			if f.ledger.get(payment.GatewayIPaymu, "tx-3") == nil {
				t.Fatalf("status %q was not recorded", raw)
			}
		})
	}

	t.Run("unknown status is recorded as UNKNOWN", func(t *testing.T) {
		f := newIngestFixture(t)
		p := ipaymuPaid("tx-4", "COURSE_u42_driver-bis_1700000000")
		p["status"] = "refunded"
		mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, p), OutcomeNoOpStatus)
		if got := f.ledger.get(payment.GatewayIPaymu, "tx-4").NormalizedStatus; got != model.PaymentStatusUnknown {
			t.Errorf("normalized = %s", got)
		}
	})
}

func TestIngest_OutOfOrderDeliveries(t *testing.T) {
	t.Run("pending then paid", func(t *testing.T) {
		f := newIngestFixture(t)
		p := ipaymuPaid("tx-5", "COURSE_u42_driver-bis_1700000000")
		p["status"] = "pending"
		mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, p), OutcomeNoOpStatus)
		mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-5", "COURSE_u42_driver-bis_1700000000")), OutcomeApplied)
	})

	t.Run("paid then late pending does not regress", func(t *testing.T) {
		f := newIngestFixture(t)
		mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-6", "COURSE_u42_driver-bis_1700000000")), OutcomeApplied)
		p := ipaymuPaid("tx-6", "COURSE_u42_driver-bis_1700000000")
		p["status"] = "pending"
		mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, p), OutcomeNoOpStatus)

		rec := f.ledger.get(payment.GatewayIPaymu, "tx-6")
		if rec.NormalizedStatus != model.PaymentStatusSucceeded {
			t.Fatalf("ledger regressed to %s", rec.NormalizedStatus)
		}
		if rec.GatewayStatus != "paid" {
			t.Errorf("raw status overwritten by stale delivery: %q", rec.GatewayStatus)
		}
		// and a later paid redelivery is still a duplicate
		mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-6", "COURSE_u42_driver-bis_1700000000")), OutcomeDuplicateIgnored)
	})
}

func TestIngest_SubscriptionGrantsWholeCatalog(t *testing.T) {
	f := newIngestFixture(t)
	mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-7", "SUBSCRIPTION_u42_1700000000")), OutcomeApplied)

	ents := f.users.snapshot("u42").PurchasedCourses
	if len(ents) != 3 {
		t.Fatalf("want all 3 catalog courses, got %d", len(ents))
	}
	for _, e := range ents {
		if !e.ExpiryDate.Equal(testNow.Add(30 * 24 * time.Hour)) {
			t.Errorf("%s expiry = %v", e.CourseID, e.ExpiryDate)
		}
	}
	if rec := f.ledger.get(payment.GatewayIPaymu, "tx-7"); rec.CourseID != nil {
		t.Errorf("subscription ledger row should have no course, got %q", *rec.CourseID)
	}
}

func TestIngest_CompactReferenceResolvesSuffixes(t *testing.T) {
	f := newIngestFixture(t)
	userID := "usr-2f6c1e0b-7d2a-4b8e-9c51-aa03e5b1c9d7"
	courseID := "course-defensive-driving-heavy-vehicles"
	f.users.users[userID] = &model.User{ID: userID, Email: "long@example.com"}
	f.catalog.courses[courseID] = &model.Course{ID: courseID, Published: true}

	ref, err := model.EncodeReferenceWithin(model.ReferenceKindCourse, userID, courseID, testNow, 50)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(ref) > 50 {
		t.Fatalf("reference %q exceeds budget", ref)
	}

	n := f.notify(t, payment.GatewayMidtrans, map[string]any{
		"transaction_status": "settlement",
		"order_id":           ref,
		"transaction_id":     "mt-77",
		"gross_amount":       "150000.00",
	})
	mustHandle(t, f, n, OutcomeApplied)

	ents := f.users.snapshot(userID).PurchasedCourses
	if len(ents) != 1 || ents[0].CourseID != courseID {
		t.Fatalf("compact reference granted %+v", ents)
	}
	rec := f.ledger.get(payment.GatewayMidtrans, "mt-77")
	if rec.UserID != userID || rec.CourseID == nil || *rec.CourseID != courseID {
		t.Errorf("ledger should carry resolved ids, got user=%q course=%v", rec.UserID, rec.CourseID)
	}
}

func TestIngest_UnresolvableTargetsAreFlagged(t *testing.T) {
	t.Run("unknown user", func(t *testing.T) {
		f := newIngestFixture(t)
		mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-8", "COURSE_ghost_driver-bis_1700000000")), OutcomeRejectedUndecodable)
		if len(f.alerts.got) != 1 || f.alerts.got[0].Reason != reasonUnknownUser {
			t.Fatalf("alerts = %+v", f.alerts.got)
		}
	})

	t.Run("unknown course", func(t *testing.T) {
		f := newIngestFixture(t)
		mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-8", "COURSE_u42_sailing_1700000000")), OutcomeRejectedUndecodable)
		if len(f.alerts.got) != 1 || f.alerts.got[0].Reason != reasonUnknownCourse {
			t.Fatalf("alerts = %+v", f.alerts.got)
		}
	})

	t.Run("compact suffix without a match", func(t *testing.T) {
		f := newIngestFixture(t)
		mustHandle(t, f, f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-8", "C1_nobody_driver-bis_lrr5c0")), OutcomeRejectedUndecodable)
		if f.ledger.get(payment.GatewayIPaymu, "tx-8").GrantState != model.GrantStateUndecodable {
			t.Fatal("row should wait for manual reconciliation")
		}
	})
}

func TestIngest_ResumeAfterCrash(t *testing.T) {
	f := newIngestFixture(t)
	n := f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-10", "COURSE_u42_forklift_1700000000"))

	f.users.findErr = domain.ErrStorageUnavailable
	_, err := f.uc.Handle(context.Background(), n)
	if !errors.Is(err, domain.ErrStorageUnavailable) || !domain.IsRetryable(err) {
		t.Fatalf("want retryable storage error, got %v", err)
	}
	rec := f.ledger.get(payment.GatewayIPaymu, "tx-10")
	if rec.NormalizedStatus != model.PaymentStatusSucceeded || rec.GrantState != model.GrantStatePending {
		t.Fatalf("ledger should hold SUCCEEDED+pending, got %s/%s", rec.NormalizedStatus, rec.GrantState)
	}
	f.users.findErr = nil

	out, err := f.uc.Resume(context.Background(), payment.GatewayIPaymu, "tx-10")
	if err != nil || out != OutcomeApplied {
		t.Fatalf("Resume = %s, %v", out, err)
	}
	out, err = f.uc.Resume(context.Background(), payment.GatewayIPaymu, "tx-10")
	if err != nil || out != OutcomeDuplicateIgnored {
		t.Fatalf("second Resume = %s, %v", out, err)
	}
	// redelivery after resume is a duplicate as well
	mustHandle(t, f, n, OutcomeDuplicateIgnored)
	if got := len(f.users.snapshot("u42").PurchasedCourses); got != 1 {
		t.Fatalf("want 1 entitlement, got %d", got)
	}
}

func TestIngest_RedeliveryCompletesPendingGrant(t *testing.T) {
	f := newIngestFixture(t)
	n := f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-11", "COURSE_u42_forklift_1700000000"))

	f.users.findErr = domain.ErrStorageUnavailable
	if _, err := f.uc.Handle(context.Background(), n); err == nil {
		t.Fatal("expected error while storage is down")
	}
	f.users.findErr = nil
	mustHandle(t, f, n, OutcomeApplied)
}

func TestIngest_ReopenParkedGrant(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)
	n := f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-12", "COURSE_newcomer_forklift_1700000000"))
	mustHandle(t, f, n, OutcomeRejectedUndecodable)

	// plain resume leaves a parked row alone
	if out, err := f.uc.Resume(ctx, payment.GatewayIPaymu, "tx-12"); err != nil || out != OutcomeDuplicateIgnored {
		t.Fatalf("Resume = %s, %v", out, err)
	}

	// still unknown: parked again with a fresh alert
	if out, err := f.uc.Reopen(ctx, payment.GatewayIPaymu, "tx-12"); err != nil || out != OutcomeRejectedUndecodable {
		t.Fatalf("Reopen before fix = %s, %v", out, err)
	}
	if len(f.alerts.got) != 2 {
		t.Fatalf("want a second alert, got %d", len(f.alerts.got))
	}

	f.users.users["newcomer"] = &model.User{ID: "newcomer", Email: "newcomer@example.com"}
	out, err := f.uc.Reopen(ctx, payment.GatewayIPaymu, "tx-12")
	if err != nil || out != OutcomeApplied {
		t.Fatalf("Reopen after fix = %s, %v", out, err)
	}
	if !f.users.snapshot("newcomer").PurchasedCourses.ActiveAt("forklift", testNow) {
		t.Fatal("reopened grant did not reach the user")
	}
	if got := f.ledger.get(payment.GatewayIPaymu, "tx-12").GrantState; got != model.GrantStateApplied {
		t.Fatalf("grant state = %s", got)
	}

	// applied rows are not reopened
	if out, err := f.uc.Reopen(ctx, payment.GatewayIPaymu, "tx-12"); err != nil || out != OutcomeDuplicateIgnored {
		t.Fatalf("second Reopen = %s, %v", out, err)
	}
	if _, err := f.uc.Reopen(ctx, payment.GatewayIPaymu, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing row: %v", err)
	}
}

func TestIngest_StorageAndInputErrors(t *testing.T) {
	t.Run("ledger unavailable", func(t *testing.T) {
		f := newIngestFixture(t)
		f.ledger.upsertErr = domain.ErrStorageUnavailable
		_, err := f.uc.Handle(context.Background(), f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-1", "COURSE_u42_driver-bis_1700000000")))
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("conflict retries exhausted", func(t *testing.T) {
		f := newIngestFixture(t)
		f.users.forcedConflicts = 10
		_, err := f.uc.Handle(context.Background(), f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-1", "COURSE_u42_driver-bis_1700000000")))
		if !errors.Is(err, domain.ErrStorageConflict) {
			t.Fatalf("got %v", err)
		}
		if f.users.forcedConflicts != 6 {
			t.Errorf("want 1 attempt + 3 retries, %d conflicts left", f.users.forcedConflicts)
		}
	})

	t.Run("signed but malformed body", func(t *testing.T) {
		f := newIngestFixture(t)
		_, err := f.uc.Handle(context.Background(), f.notify(t, payment.GatewayIPaymu, map[string]any{"status": "paid"}))
		if !errors.Is(err, domain.ErrMalformedNotification) {
			t.Fatalf("got %v", err)
		}
		if f.ledger.writes != 0 {
			t.Errorf("malformed notification wrote the ledger")
		}
	})

	t.Run("unknown gateway", func(t *testing.T) {
		f := newIngestFixture(t)
		_, err := f.uc.Handle(context.Background(), model.PaymentNotification{Gateway: "paypal", Body: []byte(`{}`)})
		if !errors.Is(err, domain.ErrUnknownGateway) {
			t.Fatalf("got %v", err)
		}
	})
}

func TestIngest_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	f := newIngestFixture(t)
	n := f.notify(t, payment.GatewayIPaymu, ipaymuPaid("tx-12", "COURSE_u42_driver-bis_1700000000"))

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[IngestOutcome]int{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.uc.Handle(context.Background(), n)
			if err != nil {
				t.Errorf("Handle: %v", err)
				return
			}
			mu.Lock()
			outcomes[out]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if outcomes[OutcomeApplied] != 1 || outcomes[OutcomeDuplicateIgnored] != workers-1 {
		t.Fatalf("outcomes = %v", outcomes)
	}
	u := f.users.snapshot("u42")
	if len(u.PurchasedCourses) != 1 || !u.PurchasedCourses[0].ExpiryDate.Equal(testNow.Add(30*24*time.Hour)) {
		t.Fatalf("entitlement applied more than once: %+v", u.PurchasedCourses)
	}
	if f.users.updates != 1 {
		t.Errorf("want one entitlement write, got %d", f.users.updates)
	}
}

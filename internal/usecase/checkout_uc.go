// File: internal/usecase/checkout_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/adapter"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/infra/logging"
)

// Compile-time check
var _ CheckoutUseCase = (*checkoutUC)(nil)

type CheckoutRequest struct {
	UserID   string
	Kind     model.ReferenceKind
	CourseID string // COURSE only
	Gateway  string
}

type CheckoutResult struct {
	IntentID    string
	Gateway     string
	ReferenceID string
	SessionID   string
	RedirectURL string
	Amount      decimal.Decimal
	Currency    string
}

type CheckoutUseCase interface {
	// Start encodes a reference that fits the gateway and opens a hosted payment session.
	Start(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
}

type CheckoutOptions struct {
	Currency          string
	SubscriptionPrice int64
	PublicBaseURL     string // webhook callbacks go to <base>/webhooks/<gateway>
	ReturnURL         string
}

type checkoutUC struct {
	users    repository.UserDirectory
	catalog  repository.CourseCatalog
	gateways map[string]adapter.PaymentGateway
	opts     CheckoutOptions
	now      func() time.Time
	log      *zerolog.Logger
}

func NewCheckoutUseCase(users repository.UserDirectory, catalog repository.CourseCatalog, gateways []adapter.PaymentGateway, opts CheckoutOptions, logger *zerolog.Logger) *checkoutUC {
	byName := make(map[string]adapter.PaymentGateway, len(gateways))
	for _, g := range gateways {
		byName[strings.ToLower(g.Name())] = g
	}
	l := logger.With().Str("component", "CheckoutUseCase").Logger()
	return &checkoutUC{users: users, catalog: catalog, gateways: byName, opts: opts, now: time.Now, log: &l}
}

func (u *checkoutUC) Start(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	defer logging.TraceDuration(u.log, "CheckoutUC.Start")()

	gw, ok := u.gateways[strings.ToLower(req.Gateway)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", req.Gateway, domain.ErrUnknownGateway)
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, req.UserID)
	if err != nil {
		return nil, err
	}

	var (
		price int64
		desc  string
	)
	switch req.Kind {
	case model.ReferenceKindCourse:
		course, err := u.catalog.FindByID(ctx, req.CourseID)
		if err != nil {
			return nil, err
		}
		if !course.Published {
			return nil, fmt.Errorf("course %s: %w", course.ID, domain.ErrNotFound)
		}
		price, desc = course.PriceIDR, course.Title
	case model.ReferenceKindSubscription:
		if u.opts.SubscriptionPrice <= 0 || req.CourseID != "" {
			return nil, fmt.Errorf("subscription checkout: %w", domain.ErrInvalidArgument)
		}
		price, desc = u.opts.SubscriptionPrice, "All courses pass"
	default:
		return nil, fmt.Errorf("kind %q: %w", req.Kind, domain.ErrInvalidArgument)
	}

	ref, err := model.EncodeReferenceWithin(req.Kind, user.ID, req.CourseID, u.now(), gw.MaxReferenceLen())
	if err != nil {
		return nil, err
	}

	amount := decimal.NewFromInt(price)
	sess, err := gw.CreateSession(ctx, adapter.SessionRequest{
		ReferenceID: ref,
		Amount:      amount,
		Currency:    u.opts.Currency,
		BuyerName:   user.Name,
		BuyerEmail:  user.Email,
		Description: desc,
		ReturnURL:   u.opts.ReturnURL,
		NotifyURL:   strings.TrimRight(u.opts.PublicBaseURL, "/") + "/webhooks/" + gw.Name(),
	})
	if err != nil {
		return nil, fmt.Errorf("create %s session: %w", gw.Name(), err)
	}

	res := &CheckoutResult{
		IntentID:    ulid.Make().String(),
		Gateway:     gw.Name(),
		ReferenceID: ref,
		SessionID:   sess.SessionID,
		RedirectURL: sess.RedirectURL,
		Amount:      amount,
		Currency:    u.opts.Currency,
	}
	u.log.Info().
		Str("intent_id", res.IntentID).
		Str("gateway", res.Gateway).
		Str("reference_id", ref).
		Str("user_id", user.ID).
		Str("buyer", logging.Redact(user.Email)).
		Msg("checkout started")
	return res, nil
}

package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/oapi-codegen/runtime"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/infra/logging"
	"coursepay/internal/infra/metrics"
	red "coursepay/internal/infra/redis"
	"coursepay/internal/usecase"
)

// maxNotificationBytes bounds webhook bodies; gateways send a few KB at most.
const maxNotificationBytes = 1 << 20

// RateLimiter is the fixed-window limiter in front of the webhook.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Options struct {
	WebhookRateLimit int // per gateway+remote per minute, 0 disables
}

type Server struct {
	ingest   usecase.IngestUseCase
	checkout usecase.CheckoutUseCase
	ents     usecase.EntitlementUseCase
	auth     *AuthManager
	limiter  RateLimiter
	opts     Options
	log      *zerolog.Logger
}

func NewServer(
	ingest usecase.IngestUseCase,
	checkout usecase.CheckoutUseCase,
	ents usecase.EntitlementUseCase,
	auth *AuthManager,
	limiter RateLimiter,
	opts Options,
	logger *zerolog.Logger,
) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "apiv1").Logger()
	return &Server{
		ingest:   ingest,
		checkout: checkout,
		ents:     ents,
		auth:     auth,
		limiter:  limiter,
		opts:     opts,
		log:      &l,
	}
}

// RegisterAPIV1 mounts the webhook, user and admin routes on r.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Post("/webhooks/{gateway}", s.PostWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Require(RoleUser))
		r.Post("/api/v1/checkout", s.PostCheckout)
		r.Get("/api/v1/courses/{courseId}/access", s.GetCourseAccess)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Require(RoleAdmin))
		r.Post("/admin/payments/{gateway}/{transactionId}/resume", s.PostResume)
		r.Post("/admin/payments/{gateway}/{transactionId}/reopen", s.PostReopen)
	})
}

// ---------- DTOs ----------

type WebhookResponse struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
}

type CheckoutBody struct {
	Kind     string `json:"kind" validate:"required,oneof=COURSE SUBSCRIPTION"`
	CourseID string `json:"course_id" validate:"required_if=Kind COURSE,excluded_if=Kind SUBSCRIPTION"`
	Gateway  string `json:"gateway" validate:"required"`
}

type CheckoutResponse struct {
	IntentID    string          `json:"intent_id"`
	Gateway     string          `json:"gateway"`
	ReferenceID string          `json:"reference_id"`
	SessionID   string          `json:"session_id"`
	RedirectURL string          `json:"redirect_url"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

type AccessResponse struct {
	CourseID string `json:"course_id"`
	Active   bool   `json:"active"`
}

type ResumeResponse struct {
	Gateway       string `json:"gateway"`
	TransactionID string `json:"transaction_id"`
	Outcome       string `json:"outcome"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

var validate = validator.New()

// ---------- handlers ----------

// PostWebhook ingests one gateway notification. Every handled outcome is a 200
// except an invalid signature (401); storage trouble is a 503 so the gateway
// redelivers.
func (s *Server) PostWebhook(w http.ResponseWriter, r *http.Request) {
	var gateway string
	if err := bindPath("gateway", &gateway, r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	code := http.StatusOK
	defer func() {
		metrics.WebhookRequests.WithLabelValues(gateway, strconv.Itoa(code)).Inc()
		metrics.WebhookDuration.WithLabelValues(gateway).Observe(time.Since(start).Seconds())
	}()

	ctx := logging.WithGateway(r.Context(), gateway)
	log := logging.With(ctx, s.log)
	remote := remoteHost(r)

	if s.limiter != nil && s.opts.WebhookRateLimit > 0 {
		ok, err := s.limiter.Allow(ctx, red.WebhookKey(gateway, remote), s.opts.WebhookRateLimit, time.Minute)
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable; letting notification through")
		} else if !ok {
			code = http.StatusTooManyRequests
			writeError(w, code, "rate limited")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBytes))
	if err != nil {
		code = http.StatusBadRequest
		writeError(w, code, "unreadable body")
		return
	}

	outcome, err := s.ingest.Handle(ctx, model.PaymentNotification{
		Gateway:    gateway,
		Method:     r.Method,
		Headers:    r.Header,
		Body:       body,
		RemoteAddr: remote,
		ReceivedAt: start,
	})
	if err != nil {
		code = statusFor(err)
		if code >= 500 {
			log.Error().Err(err).Int("status", code).Msg("notification not handled; gateway will redeliver")
		} else {
			log.Warn().Err(err).Int("status", code).Msg("notification refused")
		}
		writeError(w, code, http.StatusText(code))
		return
	}

	if outcome == usecase.OutcomeRejectedInvalidSignature {
		code = http.StatusUnauthorized
		writeJSON(w, code, WebhookResponse{Status: "rejected", Outcome: string(outcome)})
		return
	}
	writeJSON(w, code, WebhookResponse{Status: "ok", Outcome: string(outcome)})
}

func (s *Server) PostCheckout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var in CheckoutBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := validate.Struct(in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.checkout.Start(r.Context(), usecase.CheckoutRequest{
		UserID:   claims.Subject,
		Kind:     model.ReferenceKind(in.Kind),
		CourseID: in.CourseID,
		Gateway:  in.Gateway,
	})
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadGateway
		}
		if errors.Is(err, domain.ErrUnknownGateway) {
			code = http.StatusBadRequest
		}
		logging.With(r.Context(), s.log).Warn().Err(err).Int("status", code).Msg("checkout failed")
		writeError(w, code, http.StatusText(code))
		return
	}
	writeJSON(w, http.StatusCreated, CheckoutResponse{
		IntentID:    res.IntentID,
		Gateway:     res.Gateway,
		ReferenceID: res.ReferenceID,
		SessionID:   res.SessionID,
		RedirectURL: res.RedirectURL,
		Amount:      res.Amount,
		Currency:    res.Currency,
	})
}

func (s *Server) GetCourseAccess(w http.ResponseWriter, r *http.Request) {
	var courseID string
	if err := bindPath("courseId", &courseID, r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.ents.HasAccess(r.Context(), claimsFrom(r.Context()).Subject, courseID)
	if err != nil {
		code := statusFor(err)
		writeError(w, code, http.StatusText(code))
		return
	}
	writeJSON(w, http.StatusOK, AccessResponse{CourseID: courseID, Active: ok})
}

// PostResume finishes a paid ledger row whose entitlement was never written.
func (s *Server) PostResume(w http.ResponseWriter, r *http.Request) {
	s.driveRow(w, r, "resume", s.ingest.Resume)
}

// PostReopen re-drives a row parked for manual reconciliation, after the
// missing user or course has been created.
func (s *Server) PostReopen(w http.ResponseWriter, r *http.Request) {
	s.driveRow(w, r, "reopen", s.ingest.Reopen)
}

func (s *Server) driveRow(w http.ResponseWriter, r *http.Request, action string, fn func(ctx context.Context, gateway, txID string) (usecase.IngestOutcome, error)) {
	var gateway, txID string
	if err := bindPath("gateway", &gateway, r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := bindPath("transactionId", &txID, r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log := logging.With(r.Context(), s.log)
	outcome, err := fn(r.Context(), gateway, txID)
	if err != nil {
		code := statusFor(err)
		log.Warn().Err(err).Str("gateway", gateway).Str("transaction_id", txID).Msg(action + " failed")
		writeError(w, code, http.StatusText(code))
		return
	}
	log.Info().
		Str("admin", claimsFrom(r.Context()).Subject).
		Str("action", action).
		Str("gateway", gateway).
		Str("transaction_id", txID).
		Str("outcome", string(outcome)).
		Msg("manual ledger action")
	writeJSON(w, http.StatusOK, ResumeResponse{Gateway: gateway, TransactionID: txID, Outcome: string(outcome)})
}

// ---------- helpers ----------

func bindPath(name string, dest *string, r *http.Request) error {
	return runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownGateway), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMalformedNotification), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case domain.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

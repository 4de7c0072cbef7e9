// Package alert delivers reconciliation alerts to operators.
package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"coursepay/internal/domain/ports/adapter"
	"coursepay/internal/infra/metrics"
	red "coursepay/internal/infra/redis"
)

// Fanout stamps an alert, logs it, then hands it to every sink. Sink errors
// are joined; one failing sink does not skip the others.
type Fanout struct {
	log   *zerolog.Logger
	sinks []adapter.Alerter
	now   func() time.Time
}

var _ adapter.Alerter = (*Fanout)(nil)

func NewFanout(logger *zerolog.Logger, sinks ...adapter.Alerter) *Fanout {
	l := logger.With().Str("component", "Alerts").Logger()
	return &Fanout{log: &l, sinks: sinks, now: time.Now}
}

func (f *Fanout) Raise(ctx context.Context, a adapter.ReconciliationAlert) error {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	if a.RaisedAt.IsZero() {
		a.RaisedAt = f.now().UTC()
	}
	metrics.IncReconciliationAlert(a.Gateway, a.Reason)
	f.log.Error().
		Str("alert_id", a.ID).
		Str("gateway", a.Gateway).
		Str("transaction_id", a.TransactionID).
		Str("reference_id", a.ReferenceID).
		Str("reason", a.Reason).
		Str("trace_id", a.TraceID).
		Msg("payment needs manual reconciliation")

	var errs []error
	for _, s := range f.sinks {
		if err := s.Raise(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Queue pushes alerts onto a Redis list for the back-office to pick up.
type Queue struct {
	q *red.ListQueue
}

func NewQueue(q *red.ListQueue) *Queue { return &Queue{q: q} }

type queuedAlert struct {
	ID            string    `json:"id"`
	Gateway       string    `json:"gateway"`
	TransactionID string    `json:"transactionId"`
	ReferenceID   string    `json:"referenceId"`
	Reason        string    `json:"reason"`
	TraceID       string    `json:"traceId,omitempty"`
	RaisedAt      time.Time `json:"raisedAt"`
}

func (q *Queue) Raise(ctx context.Context, a adapter.ReconciliationAlert) error {
	if err := q.q.Push(ctx, queuedAlert(a)); err != nil {
		return fmt.Errorf("queue alert %s: %w", a.ID, err)
	}
	return nil
}

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram messages every configured admin chat.
type Telegram struct {
	bot     botSender
	chatIDs []int64
}

// NewTelegram bounds every Bot API call, getMe included, by timeout
// (default 5s). Send takes no context, so the client timeout is what ends a
// hung request.
func NewTelegram(token string, chatIDs []int64, timeout time.Duration) (*Telegram, error) {
	return newTelegram(token, tgbotapi.APIEndpoint, chatIDs, timeout)
}

func newTelegram(token, endpoint string, chatIDs []int64, timeout time.Duration) (*Telegram, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatIDs: chatIDs}, nil
}

// Raise returns when every chat was tried or ctx is done, whichever is first.
// A send still in flight at that point finishes in the background within the
// client timeout.
func (t *Telegram) Raise(ctx context.Context, a adapter.ReconciliationAlert) error {
	text := formatAlert(a)
	var errs []error
	for _, id := range t.chatIDs {
		if err := t.send(ctx, id, text); err != nil {
			if ctx.Err() != nil {
				return errors.Join(append(errs, err)...)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("chat %d: %w", chatID, err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("chat %d: %w", chatID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat %d: %w", chatID, ctx.Err())
	}
}

func formatAlert(a adapter.ReconciliationAlert) string {
	var b strings.Builder
	b.WriteString("Payment needs manual reconciliation\n")
	fmt.Fprintf(&b, "gateway: %s\n", a.Gateway)
	fmt.Fprintf(&b, "transaction: %s\n", a.TransactionID)
	fmt.Fprintf(&b, "reference: %s\n", a.ReferenceID)
	fmt.Fprintf(&b, "reason: %s\n", a.Reason)
	fmt.Fprintf(&b, "alert: %s", a.ID)
	return b.String()
}

package api

import (
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"coursepay/internal/infra/api/apiv1"
)

// NewRouter builds the full HTTP surface: webhooks and API routes from apiv1
// plus health, metrics and the buyer return page.
func NewRouter(v1 *apiv1.Server, requestTimeout time.Duration, logger *zerolog.Logger) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		RequestLog(logger),
		Recover(logger),
		Timeout(requestTimeout),
	)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/payment/return", renderReturn)
	apiv1.RegisterAPIV1(r, v1)
	return r
}

// renderReturn is where gateways send the buyer back. It never grants anything:
// access follows the signed notification, which may arrive a little later.
func renderReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := q.Get("reference_id")
	if ref == "" {
		ref = q.Get("order_id")
	}
	status := q.Get("status")
	if status == "" {
		status = q.Get("transaction_status")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = page.Execute(w, struct {
		Reference string
		Status    string
	}{Reference: ref, Status: status})
}

var page = template.Must(template.New("return").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>Payment received</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.small{font-size:12px;color:#666}
</style>
</head>
<body>
<div class="card">
  <h2>Thanks, we are confirming your payment</h2>
  <p>Your course access is activated as soon as the payment provider confirms the transaction. This usually takes a few seconds.</p>
  {{if .Reference}}<div class="small">Reference: {{.Reference}}{{if .Status}} ({{.Status}}){{end}}</div>{{end}}
</div>
</body>
</html>`))

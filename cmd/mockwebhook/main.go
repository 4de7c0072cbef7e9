// mockwebhook signs a gateway notification with the configured secret and posts
// it to a running server, the way the real gateway would.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/domain/model"
	verify "coursepay/internal/infra/payment"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	target := flag.String("url", "http://localhost:8080", "server base url")
	gateway := flag.String("gateway", verify.GatewayIPaymu, "ipaymu or midtrans")
	txID := flag.String("tx", "", "gateway transaction id (default: generated)")
	status := flag.String("status", "", "raw gateway status (default: the gateway's success status)")
	userID := flag.String("user", "u42", "buyer id")
	courseID := flag.String("course", "driver-bis", "course id, empty for a subscription")
	amount := flag.String("amount", "250000", "paid amount")
	ref := flag.String("ref", "", "reference id override (default: encoded from -user/-course)")
	tamper := flag.Bool("tamper", false, "flip a body byte after signing")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	registry := verify.NewRegistryFromConfig(nil, cfg.Payment)
	binding, err := registry.Binding(*gateway)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	now := time.Now()
	if *txID == "" {
		*txID = fmt.Sprintf("mock-%d", now.UnixNano())
	}
	if *ref == "" {
		kind := model.ReferenceKindCourse
		if *courseID == "" {
			kind = model.ReferenceKindSubscription
		}
		maxLen := cfg.Payment.IPaymu.MaxReferenceLen
		if binding.Name() == verify.GatewayMidtrans {
			maxLen = cfg.Payment.Midtrans.MaxReferenceLen
		}
		*ref, err = model.EncodeReferenceWithin(kind, *userID, *courseID, now, maxLen)
		if err != nil {
			log.Fatalf("encode reference: %v", err)
		}
	}

	payload := notificationBody(binding.Name(), *txID, *ref, *status, *amount)
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("encode body: %v", err)
	}
	headers, body, err := binding.Scheme().Sign(http.MethodPost, raw)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	if *tamper && len(body) > 0 {
		body[len(body)/2] ^= 0x01
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url := strings.TrimRight(*target, "/") + "/webhooks/" + binding.Name()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("request: %v", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("POST %s\nreference: %s\ntransaction: %s\n-> %d %s\n", url, *ref, *txID, resp.StatusCode, strings.TrimSpace(string(out)))
}

func notificationBody(gateway, txID, ref, status, amount string) map[string]any {
	if gateway == verify.GatewayMidtrans {
		if status == "" {
			status = "settlement"
		}
		return map[string]any{
			"transaction_id":     txID,
			"order_id":           ref,
			"transaction_status": status,
			"gross_amount":       amount + ".00",
			"currency":           "IDR",
		}
	}
	if status == "" {
		status = "berhasil"
	}
	return map[string]any{
		"trx_id":       txID,
		"reference_id": ref,
		"status":       status,
		"amount":       amount,
	}
}

package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"coursepay/internal/domain"
)

// SigningScheme binds a gateway's canonicalization and secret material to the
// shared HMAC construction.
type SigningScheme interface {
	// Extract pulls the claimed signature out of the request and returns the
	// canonical body it must cover. Any missing piece is an error.
	Extract(headers http.Header, body []byte) (signature string, canonical []byte, err error)
	// Sign produces the headers and body a genuine gateway would send.
	Sign(method string, body []byte) (http.Header, []byte, error)
	MerchantKey() string
	Secret() string
}

// ComputeSignature returns hex(HMAC-SHA256(secret, METHOD:MERCHANT_KEY:BODY_HASH:SECRET))
// where BODY_HASH is the hex SHA-256 of canonicalBody.
func ComputeSignature(method, merchantKey, secret string, canonicalBody []byte) string {
	sum := sha256.Sum256(canonicalBody)
	stringToSign := strings.Join([]string{
		strings.ToUpper(method),
		merchantKey,
		hex.EncodeToString(sum[:]),
		secret,
	}, ":")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stringToSign))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier authenticates inbound notifications. It fails closed.
type Verifier struct {
	log *zerolog.Logger
}

func NewVerifier(logger *zerolog.Logger) *Verifier {
	l := logger.With().Str("component", "SignatureVerifier").Logger()
	return &Verifier{log: &l}
}

// Verify returns nil only when the signature carried by the request matches the
// one computed from scheme's secret material. Every failure wraps
// domain.ErrInvalidSignature.
func (v *Verifier) Verify(scheme SigningScheme, method string, headers http.Header, body []byte) error {
	if scheme == nil || scheme.Secret() == "" {
		return fmt.Errorf("no secret configured: %w", domain.ErrInvalidSignature)
	}
	claimed, canonical, err := scheme.Extract(headers, body)
	if err != nil {
		v.log.Debug().Err(err).Msg("signature extraction failed")
		return fmt.Errorf("%v: %w", err, domain.ErrInvalidSignature)
	}
	got, err := hex.DecodeString(strings.TrimSpace(claimed))
	if err != nil || len(got) != sha256.Size {
		return fmt.Errorf("signature is not a hex sha256 digest: %w", domain.ErrInvalidSignature)
	}
	want, _ := hex.DecodeString(ComputeSignature(method, scheme.MerchantKey(), scheme.Secret(), canonical))
	if !hmac.Equal(got, want) {
		return fmt.Errorf("signature mismatch: %w", domain.ErrInvalidSignature)
	}
	return nil
}

var errMissingSignature = errors.New("missing signature")

// HeaderScheme carries the signature in a header and the merchant key in a
// second header that must match the configured key. The signed body is the
// compacted JSON, so insignificant whitespace in transit does not matter.
type HeaderScheme struct {
	merchantKey     string
	secret          string
	SignatureHeader string
	MerchantHeader  string
}

func NewHeaderScheme(merchantKey, secret string) *HeaderScheme {
	return &HeaderScheme{
		merchantKey:     merchantKey,
		secret:          secret,
		SignatureHeader: "signature",
		MerchantHeader:  "va",
	}
}

func (s *HeaderScheme) MerchantKey() string { return s.merchantKey }
func (s *HeaderScheme) Secret() string      { return s.secret }

func (s *HeaderScheme) Extract(headers http.Header, body []byte) (string, []byte, error) {
	sig := headers.Get(s.SignatureHeader)
	if sig == "" {
		return "", nil, errMissingSignature
	}
	va := headers.Get(s.MerchantHeader)
	if va == "" {
		return "", nil, fmt.Errorf("missing %s header", s.MerchantHeader)
	}
	if !hmac.Equal([]byte(va), []byte(s.merchantKey)) {
		return "", nil, fmt.Errorf("%s header does not match merchant", s.MerchantHeader)
	}
	canonical, err := compactJSON(body)
	if err != nil {
		return "", nil, err
	}
	return sig, canonical, nil
}

func (s *HeaderScheme) Sign(method string, body []byte) (http.Header, []byte, error) {
	canonical, err := compactJSON(body)
	if err != nil {
		return nil, nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(s.MerchantHeader, s.merchantKey)
	h.Set(s.SignatureHeader, ComputeSignature(method, s.merchantKey, s.secret, canonical))
	return h, canonical, nil
}

// BodyFieldScheme carries the signature inside the JSON body. The canonical body
// is the object without that field, with keys sorted.
type BodyFieldScheme struct {
	merchantKey string
	secret      string
	Field       string
}

func NewBodyFieldScheme(merchantKey, secret string) *BodyFieldScheme {
	return &BodyFieldScheme{merchantKey: merchantKey, secret: secret, Field: "signature_key"}
}

func (s *BodyFieldScheme) MerchantKey() string { return s.merchantKey }
func (s *BodyFieldScheme) Secret() string      { return s.secret }

func (s *BodyFieldScheme) Extract(_ http.Header, body []byte) (string, []byte, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return "", nil, err
	}
	raw, ok := obj[s.Field]
	if !ok {
		return "", nil, errMissingSignature
	}
	var sig string
	if err := json.Unmarshal(raw, &sig); err != nil || sig == "" {
		return "", nil, fmt.Errorf("%s is not a string", s.Field)
	}
	delete(obj, s.Field)
	canonical, err := json.Marshal(obj)
	if err != nil {
		return "", nil, err
	}
	return sig, canonical, nil
}

func (s *BodyFieldScheme) Sign(method string, body []byte) (http.Header, []byte, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, nil, err
	}
	delete(obj, s.Field)
	canonical, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, err
	}
	sig, _ := json.Marshal(ComputeSignature(method, s.merchantKey, s.secret, canonical))
	obj[s.Field] = json.RawMessage(sig)
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h, out, nil
}

// compactJSON returns body without insignificant whitespace. An empty body stays
// empty so it hashes to the empty-string digest.
func compactJSON(body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return nil, fmt.Errorf("body is not valid json: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeObject parses a JSON object keeping values verbatim. encoding/json
// marshals map keys in sorted order, which gives the canonical form.
func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("body is not a json object: %w", err)
	}
	if obj == nil {
		return nil, errors.New("body is not a json object")
	}
	return obj, nil
}

package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/shopspring/decimal"

	"erp/ecommerce/internal/platform/config"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/money"
)

// SignatureHeader carries the hex HMAC-SHA512 of a webhook body.
const SignatureHeader = "X-Paystack-Signature"

// Gateway is an online card and transfer processor.
type Gateway interface {
	Name() string
	Initialize(ctx context.Context, req InitRequest) (InitResult, error)
	Verify(ctx context.Context, reference string) (Verification, error)
	VerifySignature(body []byte, signature string) bool
	ParseEvent(body []byte) (GatewayEvent, error)
}

type InitRequest struct {
	Reference   string
	Email       string
	Amount      decimal.Decimal
	Currency    string
	CallbackURL string
	Metadata    map[string]string
}

type InitResult struct {
	AuthorizationURL string
	AccessCode       string
}

// Verification is the gateway's current view of a transaction.
type Verification struct {
	Reference string
	Outcome
}

// GatewayEvent is a parsed webhook delivery.
type GatewayEvent struct {
	ID        string
	Type      string
	Reference string
	Outcome
}

// HTTPGateway speaks the Paystack transaction API.
type HTTPGateway struct {
	BaseURL   string
	SecretKey string
	Client    *http.Client
}

var _ Gateway = (*HTTPGateway)(nil)

func NewHTTPGateway(cfg config.Payment) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGateway{
		BaseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		SecretKey: cfg.SecretKey,
		Client:    &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Name() string { return "paystack" }

func (g *HTTPGateway) Initialize(ctx context.Context, req InitRequest) (InitResult, error) {
	payload := map[string]any{
		"reference": req.Reference,
		"email":     req.Email,
		"amount":    money.MinorUnits(req.Amount),
		"currency":  req.Currency,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return InitResult{}, err
	}
	resp, err := g.do(ctx, http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return InitResult{}, err
	}
	authURL, err := jsonparser.GetString(resp, "data", "authorization_url")
	if err != nil {
		return InitResult{}, errors.New(errors.EUnavailable, "payment gateway returned no authorization_url")
	}
	code, _ := jsonparser.GetString(resp, "data", "access_code")
	return InitResult{AuthorizationURL: authURL, AccessCode: code}, nil
}

func (g *HTTPGateway) Verify(ctx context.Context, reference string) (Verification, error) {
	resp, err := g.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return Verification{}, err
	}
	data, _, _, err := jsonparser.Get(resp, "data")
	if err != nil {
		return Verification{}, errors.New(errors.EUnavailable, "payment gateway returned no transaction data")
	}
	v := Verification{Reference: reference, Outcome: parseTransaction(data)}
	if ref, err := jsonparser.GetString(data, "reference"); err == nil && ref != "" {
		v.Reference = ref
	}
	return v, nil
}

// VerifySignature checks the HMAC-SHA512 of body keyed with the secret key.
func (g *HTTPGateway) VerifySignature(body []byte, signature string) bool {
	if g.SecretKey == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(g.SecretKey))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign returns the signature the gateway sends for body.
func (g *HTTPGateway) Sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(g.SecretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent reads charge.success, charge.failed and refund.processed deliveries.
// Other event types parse with an empty status and are ignored by the service.
func (g *HTTPGateway) ParseEvent(body []byte) (GatewayEvent, error) {
	typ, err := jsonparser.GetString(body, "event")
	if err != nil {
		return GatewayEvent{}, errors.New(errors.EInvalid, "webhook payload has no event")
	}
	data, _, _, err := jsonparser.Get(body, "data")
	if err != nil {
		return GatewayEvent{}, errors.New(errors.EInvalid, "webhook payload has no data")
	}
	id, _, _, err := jsonparser.Get(data, "id")
	if err != nil || len(id) == 0 {
		return GatewayEvent{}, errors.New(errors.EInvalid, "webhook payload has no data.id")
	}
	ev := GatewayEvent{ID: typ + ":" + string(id), Type: typ}
	switch typ {
	case "charge.success", "charge.failed":
		ev.Reference, _ = jsonparser.GetString(data, "reference")
		ev.Outcome = parseTransaction(data)
		if typ == "charge.failed" && ev.Status != StatusAbandoned {
			ev.Status = StatusFailed
		}
	case "refund.processed":
		ev.Reference, _ = jsonparser.GetString(data, "transaction_reference")
		ev.Outcome = parseTransaction(data)
		ev.Status = StatusRefunded
		ev.Refunded, ev.Amount = ev.Amount, decimal.Zero
	}
	if ev.Reference == "" && ev.Status != "" {
		return GatewayEvent{}, errors.New(errors.EInvalid, "webhook payload has no reference")
	}
	return ev, nil
}

func parseTransaction(data []byte) Outcome {
	o := Outcome{Status: mapStatus(str(data, "status"))}
	if n, err := jsonparser.GetInt(data, "amount"); err == nil {
		o.Amount = money.FromMinorUnits(n)
	}
	o.Currency = strings.ToUpper(str(data, "currency"))
	if id, _, _, err := jsonparser.Get(data, "id"); err == nil {
		o.ProviderTxnID = string(id)
	}
	o.Channel = str(data, "channel")
	if at, err := time.Parse(time.RFC3339, str(data, "paid_at")); err == nil {
		o.PaidAt = at.UTC()
	}
	o.Reason = str(data, "gateway_response")
	return o
}

func str(data []byte, keys ...string) string {
	s, _ := jsonparser.GetString(data, keys...)
	return s
}

func mapStatus(s string) string {
	switch strings.ToLower(s) {
	case "success":
		return StatusSucceeded
	case "failed":
		return StatusFailed
	case "abandoned":
		return StatusAbandoned
	case "reversed", "processed":
		return StatusRefunded
	default:
		return StatusPending
	}
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if g.SecretKey == "" {
		return nil, errors.New(errors.EUnavailable, "payment gateway is not configured")
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, &errors.Error{Code: errors.EUnavailable, Msg: "payment gateway unreachable", Err: err}
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &errors.Error{Code: errors.EUnavailable, Msg: "payment gateway response unreadable", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := jsonparser.GetString(out, "message")
		if msg == "" {
			msg = resp.Status
		}
		code := errors.EUnavailable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			code = errors.EUnprocessableEntity
		}
		return nil, errors.New(code, fmt.Sprintf("payment gateway: %s", msg))
	}
	if ok, err := jsonparser.GetBoolean(out, "status"); err == nil && !ok {
		msg, _ := jsonparser.GetString(out, "message")
		return nil, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("payment gateway: %s", msg))
	}
	return out, nil
}

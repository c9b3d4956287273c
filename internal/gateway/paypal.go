package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/shopspring/decimal"
)

const (
	SandboxURL = "https://api-m.sandbox.paypal.com"

	issueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
	statusCompleted      = "COMPLETED"
)

type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	ReturnURL    string
	CancelURL    string
	Currency     Currency
	HTTPClient   *http.Client
}

// PayPal talks to the Orders v2 REST API.
type PayPal struct {
	cfg  PayPalConfig
	http *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

var _ payments.Gateway = (*PayPal)(nil)

func NewPayPal(cfg PayPalConfig) *PayPal {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := cfg.HTTPClient
	if c == nil {
		c = &http.Client{Timeout: 15 * time.Second}
	}
	return &PayPal{cfg: cfg, http: c}
}

// ---- wire types ----

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type ppItem struct {
	Name        string `json:"name"`
	Quantity    string `json:"quantity"`
	UnitAmount  money  `json:"unit_amount"`
	SKU         string `json:"sku,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	Amount      struct {
		money
		Breakdown struct {
			ItemTotal money `json:"item_total"`
		} `json:"breakdown"`
	} `json:"amount"`
	Items []ppItem `json:"items"`
}

type experienceContext struct {
	ReturnURL  string `json:"return_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
	UserAction string `json:"user_action"`
}

type paymentSource struct {
	PayPal struct {
		ExperienceContext experienceContext `json:"experience_context"`
	} `json:"paypal"`
}

type createOrderReq struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	PaymentSource *paymentSource `json:"payment_source,omitempty"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResp struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e apiError) issue() string {
	if len(e.Details) > 0 {
		return e.Details[0].Issue
	}
	return e.Name
}

// ---- operations ----

func (p *PayPal) CreateIntent(ctx context.Context, in payments.Intent) (payments.IntentResult, error) {
	req, err := p.buildOrder(in)
	if err != nil {
		return payments.IntentResult{}, err
	}
	var out orderResp
	status, apiErr, err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", "intent-"+in.Reference, req, &out)
	if err != nil {
		return payments.IntentResult{}, err
	}
	if status >= 300 {
		return payments.IntentResult{}, fmt.Errorf("paypal create order: %d %s", status, apiErr.issue())
	}
	res := payments.IntentResult{ID: out.ID}
	for _, l := range out.Links {
		if l.Rel == "payer-action" || l.Rel == "approve" {
			res.ApprovalURL = l.Href
			break
		}
	}
	return res, nil
}

// Capture captures an approved order. The request id is derived from the
// order id, so PayPal treats retries as the same capture.
func (p *PayPal) Capture(ctx context.Context, ref string) (payments.CaptureResult, error) {
	var out orderResp
	path := "/v2/checkout/orders/" + url.PathEscape(ref) + "/capture"
	status, apiErr, err := p.do(ctx, http.MethodPost, path, "capture-"+ref, struct{}{}, &out)
	if err != nil {
		return payments.CaptureResult{}, err
	}
	switch {
	case status < 300:
		return captureResult(out), nil
	case status == http.StatusUnprocessableEntity && apiErr.issue() == issueAlreadyCaptured:
		return p.lookupCapture(ctx, ref)
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusUnauthorized:
		return payments.CaptureResult{}, fmt.Errorf("paypal capture: status %d", status)
	default:
		return payments.CaptureResult{Status: apiErr.issue()}, nil
	}
}

func (p *PayPal) lookupCapture(ctx context.Context, ref string) (payments.CaptureResult, error) {
	var out orderResp
	status, apiErr, err := p.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(ref), "", nil, &out)
	if err != nil {
		return payments.CaptureResult{}, err
	}
	if status >= 300 {
		return payments.CaptureResult{}, fmt.Errorf("paypal get order: %d %s", status, apiErr.issue())
	}
	return captureResult(out), nil
}

func captureResult(o orderResp) payments.CaptureResult {
	res := payments.CaptureResult{Status: o.Status}
	for _, pu := range o.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			res.CaptureID = c.ID
			if c.Status != "" {
				res.Status = c.Status
			}
		}
	}
	res.Completed = o.Status == statusCompleted && res.CaptureID != ""
	return res
}

func (p *PayPal) buildOrder(in payments.Intent) (createOrderReq, error) {
	cur := p.cfg.Currency
	unit := purchaseUnit{ReferenceID: in.Reference}
	total := decimal.Zero
	for _, it := range in.Items {
		price := cur.Convert(it.UnitPrice)
		total = total.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		unit.Items = append(unit.Items, ppItem{
			Name:        truncate(it.Name, 127),
			Quantity:    strconv.Itoa(it.Quantity),
			UnitAmount:  money{CurrencyCode: cur.Code, Value: cur.Format(price)},
			SKU:         it.SKU,
			Description: truncate(it.Description, 127),
			URL:         it.URL,
			ImageURL:    it.ImageURL,
		})
	}
	if !total.IsPositive() {
		return createOrderReq{}, fmt.Errorf("%w: amount %d converts to %s %s", orders.ErrValidation, in.Amount, cur.Format(total), cur.Code)
	}
	unit.Amount.money = money{CurrencyCode: cur.Code, Value: cur.Format(total)}
	unit.Amount.Breakdown.ItemTotal = unit.Amount.money

	req := createOrderReq{Intent: "CAPTURE", PurchaseUnits: []purchaseUnit{unit}}
	if p.cfg.ReturnURL != "" || p.cfg.CancelURL != "" {
		req.PaymentSource = &paymentSource{}
		req.PaymentSource.PayPal.ExperienceContext = experienceContext{
			ReturnURL:  p.cfg.ReturnURL,
			CancelURL:  p.cfg.CancelURL,
			UserAction: "PAY_NOW",
		}
	}
	return req, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// do sends one authenticated request. Transport failures return err; API
// errors come back as status plus the decoded error body.
func (p *PayPal) do(ctx context.Context, method, path, requestID string, body, out any) (int, apiError, error) {
	var apiErr apiError
	token, err := p.accessToken(ctx)
	if err != nil {
		return 0, apiErr, err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, apiErr, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, rd)
	if err != nil {
		return 0, apiErr, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, apiErr, fmt.Errorf("paypal %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, apiErr, fmt.Errorf("paypal read body: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		p.resetToken()
	}
	if resp.StatusCode >= 300 {
		_ = json.Unmarshal(raw, &apiErr)
		return resp.StatusCode, apiErr, nil
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return 0, apiErr, fmt.Errorf("paypal decode: %w", err)
		}
	}
	return resp.StatusCode, apiErr, nil
}

var errNoCredentials = errors.New("paypal: missing client credentials")

// accessToken returns a cached client-credentials token, refreshing it a
// minute before it expires.
func (p *PayPal) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Now().Before(p.expires) {
		return p.token, nil
	}
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return "", errNoCredentials
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token: status %d", resp.StatusCode)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("paypal token decode: %w", err)
	}
	p.token = tok.AccessToken
	p.expires = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return p.token, nil
}

func (p *PayPal) resetToken() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}

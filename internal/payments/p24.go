package payments

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-shop-checkout/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"io"
	"net/http"
	"strings"
	"time"
)

const Currency = "PLN"

// Registration is what the shop sends to open a P24 transaction.
type Registration struct {
	SessionID   string
	Amount      int
	Description string
	Email       string
	Method      int
	URLReturn   string
	URLStatus   string
}

// Notification is the body P24 posts to urlStatus once the customer paid.
type Notification struct {
	MerchantID   int    `json:"merchantId"`
	PosID        int    `json:"posId"`
	SessionID    string `json:"sessionId"`
	Amount       int    `json:"amount"`
	OriginAmount int    `json:"originAmount"`
	Currency     string `json:"currency"`
	OrderID      int64  `json:"orderId"`
	MethodID     int    `json:"methodId"`
	Statement    string `json:"statement"`
	Sign         string `json:"sign"`
}

// Verification confirms a notified transaction back to P24.
type Verification struct {
	SessionID string
	Amount    int
	OrderID   int64
}

type Method struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Status    bool   `json:"status"`
	ImgURL    string `json:"imgUrl,omitempty"`
	MobileURL string `json:"mobileImgUrl,omitempty"`
	Mobile    bool   `json:"mobile"`
}

// Client talks to the Przelewy24 REST API.
type Client struct {
	BaseURL    string
	MerchantID int
	PosID      int
	CRC        string
	APIKey     string
	Timeout    time.Duration
	HTTP       *http.Client
}

func NewClient(cfg config.P24) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		MerchantID: cfg.MerchantID,
		PosID:      cfg.PosID,
		CRC:        cfg.CRC,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.Timeout,
		HTTP:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type registerRequest struct {
	MerchantID  int    `json:"merchantId"`
	PosID       int    `json:"posId"`
	SessionID   string `json:"sessionId"`
	Amount      int    `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Language    string `json:"language"`
	Method      int    `json:"method,omitempty"`
	URLReturn   string `json:"urlReturn"`
	URLStatus   string `json:"urlStatus"`
	Sign        string `json:"sign"`
}

// RegisterTransaction opens a transaction and returns its token.
func (c *Client) RegisterTransaction(ctx context.Context, r Registration) (string, error) {
	sign, err := c.sign(struct {
		SessionID  string `json:"sessionId"`
		MerchantID int    `json:"merchantId"`
		Amount     int    `json:"amount"`
		Currency   string `json:"currency"`
		CRC        string `json:"crc"`
	}{r.SessionID, c.MerchantID, r.Amount, Currency, c.CRC})
	if err != nil {
		return "", err
	}
	body := registerRequest{
		MerchantID:  c.MerchantID,
		PosID:       c.PosID,
		SessionID:   r.SessionID,
		Amount:      r.Amount,
		Currency:    Currency,
		Description: r.Description,
		Email:       r.Email,
		Country:     "PL",
		Language:    "pl",
		Method:      r.Method,
		URLReturn:   r.URLReturn,
		URLStatus:   r.URLStatus,
		Sign:        sign,
	}
	var out struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/transaction/register", body, &out); err != nil {
		return "", fmt.Errorf("p24 register: %w", err)
	}
	if out.Data.Token == "" {
		return "", errors.New("p24 register: empty token")
	}
	return out.Data.Token, nil
}

// RedirectURL is where the customer pays for a registered transaction.
func (c *Client) RedirectURL(token string) string {
	return c.BaseURL + "/trnRequest/" + token
}

// VerifyNotification checks that n was signed with our CRC and addressed to
// this merchant.
func (c *Client) VerifyNotification(n Notification) bool {
	if n.MerchantID != c.MerchantID || n.PosID != c.PosID {
		return false
	}
	want, err := c.sign(struct {
		MerchantID   int    `json:"merchantId"`
		PosID        int    `json:"posId"`
		SessionID    string `json:"sessionId"`
		Amount       int    `json:"amount"`
		OriginAmount int    `json:"originAmount"`
		Currency     string `json:"currency"`
		OrderID      int64  `json:"orderId"`
		MethodID     int    `json:"methodId"`
		Statement    string `json:"statement"`
		CRC          string `json:"crc"`
	}{n.MerchantID, n.PosID, n.SessionID, n.Amount, n.OriginAmount, n.Currency, n.OrderID, n.MethodID, n.Statement, c.CRC})
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(n.Sign))) == 1
}

// VerifyTransaction confirms the transaction with P24. The call is bounded
// by the client timeout.
func (c *Client) VerifyTransaction(ctx context.Context, v Verification) error {
	sign, err := c.sign(struct {
		SessionID string `json:"sessionId"`
		OrderID   int64  `json:"orderId"`
		Amount    int    `json:"amount"`
		Currency  string `json:"currency"`
		CRC       string `json:"crc"`
	}{v.SessionID, v.OrderID, v.Amount, Currency, c.CRC})
	if err != nil {
		return err
	}
	body := map[string]any{
		"merchantId": c.MerchantID,
		"posId":      c.PosID,
		"sessionId":  v.SessionID,
		"amount":     v.Amount,
		"currency":   Currency,
		"orderId":    v.OrderID,
		"sign":       sign,
	}
	var out struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/v1/transaction/verify", body, &out); err != nil {
		return fmt.Errorf("p24 verify: %w", err)
	}
	if out.Data.Status != "success" {
		return fmt.Errorf("p24 verify: status %q", out.Data.Status)
	}
	return nil
}

// PaymentMethods lists the methods available to this merchant.
func (c *Client) PaymentMethods(ctx context.Context, lang string) ([]Method, error) {
	var out struct {
		Data []Method `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/payment/methods/"+lang, nil, &out); err != nil {
		return nil, fmt.Errorf("p24 methods: %w", err)
	}
	return out.Data, nil
}

// sign is the hex SHA-384 of v encoded as compact JSON without HTML
// escaping, which is how P24 computes it.
func (c *Client) sign(v any) (string, error) {
	b, err := compactJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha512.Sum384(b)
	return hex.EncodeToString(sum[:]), nil
}

func compactJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		b, err := compactJSON(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(fmt.Sprint(c.PosID), c.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/zulandar/orderbot/internal/outbound"
)

const defaultTimeout = 5 * time.Second

// ClientOpts configures a Client.
type ClientOpts struct {
	BaseURL string
	// TokenURL enables the OAuth2 client-credentials flow. Empty sends
	// unauthenticated requests.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
	// HTTPClient is the base transport; tests inject httptest clients.
	HTTPClient *http.Client
}

// Client is a JSON courier API client:
//
//	POST {base}/quotes  -> {"id", "fee", "currency", "expires_at"}
//	POST {base}/orders  -> {"id", "status"}
//
// Amounts travel as major-unit decimal strings.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient returns a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("delivery: client: base url is required")
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	hc := base
	if opts.TokenURL != "" {
		if opts.ClientID == "" {
			return nil, fmt.Errorf("delivery: client: client id is required with a token url")
		}
		cc := &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			Scopes:       opts.Scopes,
		}
		// The token source caches and refreshes the access token.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		hc = cc.Client(ctx)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{baseURL: strings.TrimRight(opts.BaseURL, "/"), http: hc, timeout: timeout}, nil
}

type quoteBody struct {
	Pickup     Place  `json:"pickup"`
	Dropoff    Place  `json:"dropoff"`
	Currency   string `json:"currency"`
	OrderValue string `json:"order_value"`
	Reference  string `json:"reference"`
}

type quoteResponse struct {
	ID        string    `json:"id"`
	Fee       string    `json:"fee"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expires_at"`
}

type orderBody struct {
	QuoteID     string            `json:"quote_id"`
	ExternalRef string            `json:"external_ref"`
	Pickup      Place             `json:"pickup"`
	Dropoff     Place             `json:"dropoff"`
	Contact     map[string]string `json:"contact,omitempty"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Quote implements QuoteProvider.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	body := quoteBody{
		Pickup:     req.Pickup,
		Dropoff:    req.Dropoff,
		Currency:   req.Currency,
		OrderValue: outbound.Decimal(req.Subtotal, req.Currency),
		Reference:  req.TenantID,
	}
	var resp quoteResponse
	if err := c.post(ctx, "/quotes", body, &resp); err != nil {
		return Quote{}, fmt.Errorf("delivery: quote: %w", err)
	}
	if resp.Currency != "" && !strings.EqualFold(resp.Currency, req.Currency) {
		return Quote{}, fmt.Errorf("delivery: quote: currency %s does not match %s", resp.Currency, req.Currency)
	}
	fee, err := outbound.ParseMoney(resp.Fee, req.Currency)
	if err != nil {
		return Quote{}, fmt.Errorf("delivery: quote: %w", err)
	}
	if resp.ID == "" {
		return Quote{}, errors.New("delivery: quote: response has no id")
	}
	return Quote{Fee: fee, Ref: resp.ID, ExpiresAt: resp.ExpiresAt}, nil
}

// Book implements DeliveryOrderProvider.
func (c *Client) Book(ctx context.Context, req BookingRequest) (Booking, error) {
	body := orderBody{
		QuoteID:     req.QuoteRef,
		ExternalRef: req.OrderRef,
		Pickup:      req.Pickup,
		Dropoff:     req.Dropoff,
		Contact:     req.Contact,
	}
	var resp orderResponse
	if err := c.post(ctx, "/orders", body, &resp); err != nil {
		return Booking{}, fmt.Errorf("delivery: book %s: %w", req.OrderRef, err)
	}
	return Booking{Ref: resp.ID}, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode/100 != 2 {
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		if resp.StatusCode == http.StatusUnprocessableEntity {
			return fmt.Errorf("%w: %s", ErrUnserviceable, ae.Message)
		}
		return fmt.Errorf("status %d: %s %s", resp.StatusCode, ae.Code, ae.Message)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package pesapal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
)

const (
	sandboxBaseURL       = "https://cybqa.pesapal.com/pesapalv3"
	productionBaseURL    = "https://pay.pesapal.com/v3"
	pathRequestToken     = "/api/Auth/RequestToken"
	pathSubmitOrder      = "/api/Transactions/SubmitOrderRequest"
	pathTransactionState = "/api/Transactions/GetTransactionStatus"
	pathRegisterIPN      = "/api/URLSetup/RegisterIPN"

	// DefaultNotificationType is the IPN delivery style registered with the
	// provider.
	DefaultNotificationType = "GET"

	responseBodyReadLimit int64 = 2048
	tokenExpiryLayout           = "2006-01-02T15:04:05.999Z"
)

// Client wraps the Pesapal API v3 endpoints used by the payments core. All
// calls except the token exchange carry a cached bearer token and retry
// exactly once after a 401, never for any other failure class.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	consumerKey    string
	consumerSecret string
	tokens         *TokenCache
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the environment-derived base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the gateway client from config and a shared token cache.
func NewClient(cfg config.PesapalConfig, tokens *TokenCache, opts ...Option) (*Client, error) {
	key := strings.TrimSpace(cfg.ConsumerKey)
	secret := strings.TrimSpace(cfg.ConsumerSecret)
	if key == "" || secret == "" {
		return nil, fmt.Errorf("pesapal consumer credentials are required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token cache is required")
	}

	baseURL := sandboxBaseURL
	if cfg.Environment() == "production" {
		baseURL = productionBaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	client := &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        baseURL,
		consumerKey:    key,
		consumerSecret: secret,
		tokens:         tokens,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// RequestToken exchanges the consumer credentials for a short-lived bearer
// token. Exposed for the token cache; most callers never touch it directly.
func (c *Client) RequestToken(ctx context.Context) (string, time.Time, error) {
	payload := map[string]string{
		"consumer_key":    c.consumerKey,
		"consumer_secret": c.consumerSecret,
	}

	var resp tokenResponse
	if err := c.post(ctx, pathRequestToken, "", payload, &resp); err != nil {
		return "", time.Time{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pesapal token exchange failed")
	}
	if resp.Error != nil || strings.TrimSpace(resp.Token) == "" {
		detail := resp.Error.describe()
		if detail == "" {
			detail = resp.Message
		}
		return "", time.Time{}, pkgerrors.New(pkgerrors.CodeDependency, "pesapal token exchange rejected: "+detail)
	}

	expiry, err := time.Parse(tokenExpiryLayout, resp.ExpiryDate)
	if err != nil {
		// Missing or unparseable expiry falls back to the cache's own TTL.
		expiry = time.Time{}
	}
	return resp.Token, expiry, nil
}

// SubmitOrder registers a payment order with the provider and returns the
// tracking id and hosted-page redirect URL.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order merchant reference is required")
	}

	var resp OrderResponse
	if err := c.doAuthed(ctx, http.MethodPost, pathSubmitOrder, "", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pesapal rejected order: "+resp.Error.describe())
	}
	if strings.TrimSpace(resp.OrderTrackingID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pesapal response missing order tracking id")
	}
	return &resp, nil
}

// GetTransactionStatus fetches the provider's authoritative status for the
// tracking id.
func (c *Client) GetTransactionStatus(ctx context.Context, trackingID string) (*TransactionStatus, error) {
	trimmed := strings.TrimSpace(trackingID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking id is required")
	}

	query := url.Values{"orderTrackingId": {trimmed}}.Encode()
	var resp TransactionStatus
	if err := c.doAuthed(ctx, http.MethodGet, pathTransactionState, query, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil && strings.TrimSpace(resp.Error.Message) != "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pesapal status lookup failed: "+resp.Error.describe())
	}
	return &resp, nil
}

// RegisterIPN registers the webhook URL with the provider. Administrative,
// outside the payment hot path.
func (c *Client) RegisterIPN(ctx context.Context, ipnURL, notificationType string) (*IPNRegistration, error) {
	trimmed := strings.TrimSpace(ipnURL)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ipn url is required")
	}
	if strings.TrimSpace(notificationType) == "" {
		notificationType = DefaultNotificationType
	}

	payload := map[string]string{
		"url":                   trimmed,
		"ipn_notification_type": notificationType,
	}

	var resp IPNRegistration
	if err := c.doAuthed(ctx, http.MethodPost, pathRegisterIPN, "", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pesapal ipn registration failed: "+resp.Error.describe())
	}
	if strings.TrimSpace(resp.IPNID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pesapal response missing ipn id")
	}
	return &resp, nil
}

// doAuthed performs a bearer-authenticated call, retrying once after a 401
// with a freshly fetched token. No other failure class is retried; a blind
// retry on SubmitOrder could double-submit an order.
func (c *Client) doAuthed(ctx context.Context, method, path, query string, body, out any) error {
	token, err := c.tokens.Token(ctx, c.RequestToken)
	if err != nil {
		return err
	}

	err = c.doOnce(ctx, method, path, query, token, body, out)
	if !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		return err
	}

	c.tokens.Invalidate(ctx)
	token, err = c.tokens.Token(ctx, c.RequestToken)
	if err != nil {
		return err
	}
	return c.doOnce(ctx, method, path, query, token, body, out)
}

func (c *Client) doOnce(ctx context.Context, method, path, query, token string, body, out any) error {
	endpoint := c.buildURL(path)
	if query != "" {
		endpoint += "?" + query
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal pesapal request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build pesapal request")
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute pesapal request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "pesapal token rejected")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("pesapal status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode pesapal response")
	}
	return nil
}

// post performs an unauthenticated POST, used only for the token exchange.
func (c *Client) post(ctx context.Context, path, query string, body, out any) error {
	return c.doOnce(ctx, http.MethodPost, path, query, "", body, out)
}

func (c *Client) buildURL(path string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

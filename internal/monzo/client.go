// Package monzo implements the banking collaborator against the Monzo API.
package monzo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/service"
)

// DefaultBaseURL is the production Monzo API endpoint.
const DefaultBaseURL = "https://api.monzo.com"

const (
	authURL          = "https://auth.monzo.com/"
	defaultRateLimit = 5.0
	defaultTimeout   = 30 * time.Second
	maxErrorBody     = 4096
)

// Config holds the settings needed to talk to Monzo.
type Config struct {
	BaseURL      string
	AccountID    string
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	// RateLimit is the maximum number of requests per second.
	RateLimit float64
	Timeout   time.Duration
}

// Client implements service.Bank for Monzo.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	baseURL    string
	accountID  string
	retry      service.RetryOptions
	mu         sync.Mutex
}

var _ service.Bank = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithRetryOptions overrides the retry policy for API calls.
func WithRetryOptions(opts service.RetryOptions) Option {
	return func(c *Client) {
		c.retry = opts
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Monzo client. With a client ID and refresh token the
// access token is refreshed automatically; otherwise the access token is used as-is.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.AccessToken == "" && cfg.RefreshToken == "" {
		return nil, fmt.Errorf("%w: monzo access token or refresh token", common.ErrMissingConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	token := &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		TokenType:    "Bearer",
	}

	var tokenSource oauth2.TokenSource
	if cfg.ClientID != "" && cfg.RefreshToken != "" {
		oauthConfig := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  baseURL + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		tokenSource = oauthConfig.TokenSource(ctx, token)
	} else {
		tokenSource = oauth2.StaticTokenSource(token)
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	httpClient.Timeout = cfg.Timeout

	c := &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		logger:     slog.Default().With("component", "monzo"),
		baseURL:    baseURL,
		accountID:  cfg.AccountID,
		retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DefaultAccountID returns the configured account, discovering the first open
// current account when none is configured.
func (c *Client) DefaultAccountID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accountID != "" {
		return c.accountID, nil
	}

	var resp accountList
	if err := c.do(ctx, http.MethodGet, "/accounts", nil, nil, &resp); err != nil {
		return "", fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, acct := range resp.Accounts {
		if !acct.Closed && acct.Type == "uk_retail" {
			c.accountID = acct.ID
			return c.accountID, nil
		}
	}
	for _, acct := range resp.Accounts {
		if !acct.Closed {
			c.accountID = acct.ID
			return c.accountID, nil
		}
	}
	return "", fmt.Errorf("no open account: %w", common.ErrNotFound)
}

func (c *Client) resolveAccount(ctx context.Context, accountID string) (string, error) {
	if accountID != "" {
		return accountID, nil
	}
	return c.DefaultAccountID(ctx)
}

// AccountBalance returns the main account balance.
func (c *Client) AccountBalance(ctx context.Context, accountID string) (money.Money, error) {
	accountID, err := c.resolveAccount(ctx, accountID)
	if err != nil {
		return money.Zero, err
	}

	var resp balanceResponse
	query := url.Values{"account_id": {accountID}}
	if err := c.do(ctx, http.MethodGet, "/balance", query, nil, &resp); err != nil {
		return money.Zero, fmt.Errorf("failed to get balance for %s: %w", accountID, err)
	}
	return money.FromMinor(resp.Balance), nil
}

// ListPots returns the pots attached to the default account.
func (c *Client) ListPots(ctx context.Context) ([]model.PotInfo, error) {
	accountID, err := c.DefaultAccountID(ctx)
	if err != nil {
		return nil, err
	}

	var resp potList
	query := url.Values{"current_account_id": {accountID}}
	if err := c.do(ctx, http.MethodGet, "/pots", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list pots: %w", err)
	}

	pots := make([]model.PotInfo, 0, len(resp.Pots))
	for _, p := range resp.Pots {
		pots = append(pots, p.toModel())
	}
	return pots, nil
}

// PotBalance returns a single pot's balance.
func (c *Client) PotBalance(ctx context.Context, potID string) (money.Money, error) {
	pots, err := c.ListPots(ctx)
	if err != nil {
		return money.Zero, err
	}
	for _, p := range pots {
		if p.ID == potID && !p.Deleted {
			return p.Balance, nil
		}
	}
	return money.Zero, fmt.Errorf("pot %s: %w", potID, common.ErrNotFound)
}

// RecentTransactions returns settled, non-declined transactions since the given time.
func (c *Client) RecentTransactions(ctx context.Context, accountID string, since time.Time) ([]model.Transaction, error) {
	accountID, err := c.resolveAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var resp transactionList
	query := url.Values{
		"account_id": {accountID},
		"since":      {since.UTC().Format(time.RFC3339)},
	}
	if err := c.do(ctx, http.MethodGet, "/transactions", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	txns := make([]model.Transaction, 0, len(resp.Transactions))
	for _, t := range resp.Transactions {
		if t.DeclineReason != "" {
			continue
		}
		txns = append(txns, t.toModel())
	}
	return txns, nil
}

// do performs a request with throttling and retries. Monzo honours
// dedupe_id on pot movements, so retrying a PUT cannot move money twice.
func (c *Client) do(ctx context.Context, method, path string, query, form url.Values, out any) error {
	return common.WithRetry(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.send(ctx, method, path, query, form, out)
	}, c.retry)
}

func (c *Client) send(ctx context.Context, method, path string, query, form url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.logger.Debug("monzo request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrAPI, err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: failed to decode response: %w", common.ErrAPI, err)
		}
		return nil
	}

	return classifyError(resp)
}

// classifyError maps an unsuccessful response onto the error taxonomy.
func classifyError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)
	detail := apiErr.Message
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	base := fmt.Errorf("%w: status %d: %s", common.ErrAPI, resp.StatusCode, detail)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &common.RetryableError{
			Err:        fmt.Errorf("%w: %w", common.ErrRateLimit, base),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Retryable:  true,
		}
	case resp.StatusCode >= 500:
		return &common.RetryableError{Err: base, Retryable: true}
	case strings.Contains(apiErr.Code, "insufficient_funds"):
		return fmt.Errorf("%w: %s", common.ErrInsufficientFunds, detail)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", common.ErrNotFound, base)
	default:
		return base
	}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

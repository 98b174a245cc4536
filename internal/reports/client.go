// Package reports provides the HTTP client for the report pricing and
// generation API.
package reports

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

	"github.com/rs/zerolog"

	"github.com/helixir/research-session-service/internal/domain"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default maximum requests per second.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the default base delay between retries.
	DefaultRetryDelay = time.Second

	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "Helixir-ResearchSessionService/1.0"

	// apiName labels errors from this API.
	apiName = "reports"

	// maxResponseBytes caps response bodies to prevent resource exhaustion.
	maxResponseBytes = 10 << 20
)

// Config contains configuration options for the reports client.
type Config struct {
	// BaseURL is the base URL of the reports API. Required.
	BaseURL string

	// APIKey is the bearer token for authenticated requests. Optional.
	APIKey string

	// Timeout is the HTTP request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit if zero.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	// Defaults to DefaultBurstSize if zero.
	BurstSize int

	// MaxRetries is the maximum number of retry attempts.
	// Defaults to DefaultMaxRetries if zero.
	MaxRetries int

	// RetryDelay is the base delay between retries.
	// Defaults to DefaultRetryDelay if zero.
	RetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	// Defaults to DefaultUserAgent if empty.
	UserAgent string
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

// PriceRequest holds the parameters for pricing a report.
type PriceRequest struct {
	// SessionID is the session requesting the quote.
	SessionID string

	// ConversationID is the conversation the report covers.
	ConversationID string

	// Tier is the session's stated tier, used for tier-dependent pricing.
	Tier string

	// Sources is the selection set the report will be built from.
	Sources []domain.SelectedSource
}

// Quote is a priced offer for a report.
type Quote struct {
	// QuoteID identifies the quote for the subsequent generate call.
	QuoteID string `json:"quote_id"`

	// Total is the full price of the report including source unlock costs.
	Total float64 `json:"total"`

	// Currency is the ISO 4217 currency code of the total.
	Currency string `json:"currency"`
}

// GenerateRequest holds the parameters for generating a report.
type GenerateRequest struct {
	// SessionID is the session requesting the report.
	SessionID string

	// ConversationID is the conversation the report covers.
	ConversationID string

	// Tier is the session's stated tier.
	Tier string

	// QuoteID references the accepted quote.
	QuoteID string

	// Sources is the selection set the report is built from.
	Sources []domain.SelectedSource

	// History is the conversation history providing report context.
	History []domain.Message
}

// GeneratedReport is the result of a generate call.
type GeneratedReport struct {
	// Document is the raw JSON report document.
	Document json.RawMessage `json:"document"`
}

// Client calls the report pricing and generation API.
type Client struct {
	baseURL string
	http    *httpClient
	logger  zerolog.Logger
}

// NewClient creates a new reports API client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("reports API base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid reports API base URL: %w", err)
	}
	cfg = cfg.withDefaults()

	clientLogger := logger.With().Str("component", "reports_client").Logger()
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    newHTTPClient(cfg, clientLogger),
		logger:  clientLogger,
	}, nil
}

// PriceReport requests a quote for a report over the given selection set.
func (c *Client) PriceReport(ctx context.Context, req PriceRequest) (*Quote, error) {
	payload := pricePayload{
		SessionID:      req.SessionID,
		ConversationID: req.ConversationID,
		Tier:           req.Tier,
		Sources:        toSourcePayloads(req.Sources),
	}

	var quote Quote
	if err := c.postJSON(ctx, "/v1/reports/price", payload, &quote); err != nil {
		return nil, fmt.Errorf("pricing report: %w", err)
	}
	return &quote, nil
}

// GenerateReport generates the report for an accepted quote.
func (c *Client) GenerateReport(ctx context.Context, req GenerateRequest) (*GeneratedReport, error) {
	payload := generatePayload{
		SessionID:      req.SessionID,
		ConversationID: req.ConversationID,
		Tier:           req.Tier,
		QuoteID:        req.QuoteID,
		Sources:        toSourcePayloads(req.Sources),
		History:        toMessagePayloads(req.History),
	}

	var generated GeneratedReport
	if err := c.postJSON(ctx, "/v1/reports/generate", payload, &generated); err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}
	return &generated, nil
}

// postJSON executes a JSON POST and decodes the response into out.
func (c *Client) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	c.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("reports API call succeeded")
	return nil
}

// ErrorResponse is the error body the reports API returns.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleErrorResponse converts non-2xx responses into domain errors.
func handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read the error body (limit to 1MB to prevent resource exhaustion)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewExternalAPIError(apiName, resp.StatusCode, "failed to read error response", err)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		message := errResp.Error
		if message == "" {
			message = errResp.Message
		}
		if message == "" {
			message = string(body)
		}
		return domain.NewExternalAPIError(apiName, resp.StatusCode, message, nil)
	}

	return domain.NewExternalAPIError(apiName, resp.StatusCode, string(body), nil)
}

// Wire payloads carry only what the API consumes.

type pricePayload struct {
	SessionID      string          `json:"session_id"`
	ConversationID string          `json:"conversation_id"`
	Tier           string          `json:"tier"`
	Sources        []sourcePayload `json:"sources"`
}

type generatePayload struct {
	SessionID      string           `json:"session_id"`
	ConversationID string           `json:"conversation_id"`
	Tier           string           `json:"tier"`
	QuoteID        string           `json:"quote_id"`
	Sources        []sourcePayload  `json:"sources"`
	History        []messagePayload `json:"history"`
}

type sourcePayload struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	UnlockPrice *float64 `json:"unlock_price,omitempty"`
	Price       *float64 `json:"price,omitempty"`
}

type messagePayload struct {
	Sender  string    `json:"sender"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

func toSourcePayloads(srcs []domain.SelectedSource) []sourcePayload {
	out := make([]sourcePayload, 0, len(srcs))
	for _, src := range srcs {
		out = append(out, sourcePayload{
			ID:          src.ID,
			Title:       src.Title,
			UnlockPrice: src.UnlockPrice,
			Price:       src.Price,
		})
	}
	return out
}

func toMessagePayloads(msgs []domain.Message) []messagePayload {
	out := make([]messagePayload, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messagePayload{
			Sender:  string(msg.Sender),
			Content: msg.Content,
			SentAt:  msg.SentAt,
		})
	}
	return out
}

package reports

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-session-service/internal/domain"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		RateLimit:  100, // High rate to avoid test delays
		BurstSize:  10,
		RetryDelay: 10 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(testConfig(baseURL), zerolog.Nop())
	require.NoError(t, err)
	return client
}

func floatPtr(v float64) *float64 {
	return &v
}

func TestNewClient(t *testing.T) {
	t.Run("requires base URL", func(t *testing.T) {
		_, err := NewClient(Config{}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "base URL")
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		client, err := NewClient(testConfig("http://reports.local/"), zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "http://reports.local", client.baseURL)
	})

	t.Run("applies default values", func(t *testing.T) {
		cfg := Config{BaseURL: "http://reports.local"}.withDefaults()

		assert.Equal(t, DefaultTimeout, cfg.Timeout)
		assert.Equal(t, DefaultRateLimit, cfg.RateLimit)
		assert.Equal(t, DefaultBurstSize, cfg.BurstSize)
		assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
		assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
		assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	})
}

func TestPriceReport(t *testing.T) {
	t.Run("posts the selection set and decodes the quote", func(t *testing.T) {
		var (
			receivedPath string
			receivedAuth string
			receivedBody pricePayload
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedPath = r.URL.Path
			receivedAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&receivedBody))

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"quote_id":"q-1","total":5.5,"currency":"USD"}`))
		}))
		defer server.Close()

		cfg := testConfig(server.URL)
		cfg.APIKey = "secret-token"
		client, err := NewClient(cfg, zerolog.Nop())
		require.NoError(t, err)

		quote, err := client.PriceReport(context.Background(), PriceRequest{
			SessionID:      "sess-1",
			ConversationID: "conv-1",
			Tier:           "basic",
			Sources: []domain.SelectedSource{
				{ID: "src-1", Title: "Paper A", UnlockPrice: floatPtr(2.0)},
				{ID: "src-2", Price: floatPtr(1.5)},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, "/v1/reports/price", receivedPath)
		assert.Equal(t, "Bearer secret-token", receivedAuth)
		assert.Equal(t, "sess-1", receivedBody.SessionID)
		assert.Equal(t, "conv-1", receivedBody.ConversationID)
		assert.Equal(t, "basic", receivedBody.Tier)
		require.Len(t, receivedBody.Sources, 2)
		assert.Equal(t, "src-1", receivedBody.Sources[0].ID)
		assert.Equal(t, "Paper A", receivedBody.Sources[0].Title)

		assert.Equal(t, "q-1", quote.QuoteID)
		assert.Equal(t, 5.5, quote.Total)
		assert.Equal(t, "USD", quote.Currency)
	})

	t.Run("returns an external API error on failure status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"empty selection set"}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)

		_, err := client.PriceReport(context.Background(), PriceRequest{SessionID: "sess-1"})
		require.Error(t, err)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Contains(t, apiErr.Message, "empty selection set")
	})
}

func TestGenerateReport(t *testing.T) {
	t.Run("posts quote and history and decodes the document", func(t *testing.T) {
		var receivedBody generatePayload
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/reports/generate", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&receivedBody))

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"document":{"title":"Findings","sections":[]}}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)

		generated, err := client.GenerateReport(context.Background(), GenerateRequest{
			SessionID:      "sess-1",
			ConversationID: "conv-1",
			Tier:           "premium",
			QuoteID:        "q-9",
			Sources:        []domain.SelectedSource{{ID: "src-1"}},
			History: []domain.Message{
				{Sender: domain.SenderUser, Content: "summarize the field"},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, "q-9", receivedBody.QuoteID)
		require.Len(t, receivedBody.History, 1)
		assert.Equal(t, "user", receivedBody.History[0].Sender)
		assert.Equal(t, "summarize the field", receivedBody.History[0].Content)

		assert.JSONEq(t, `{"title":"Findings","sections":[]}`, string(generated.Document))
	})
}

func TestClientRetries(t *testing.T) {
	t.Run("retries on 429 honoring Retry-After", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{"quote_id":"q-1","total":1,"currency":"USD"}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)

		quote, err := client.PriceReport(context.Background(), PriceRequest{SessionID: "sess-1"})
		require.NoError(t, err)
		assert.Equal(t, "q-1", quote.QuoteID)
		assert.Equal(t, int32(2), attempts.Load())
	})

	t.Run("retries on 5xx and resends the body", func(t *testing.T) {
		var bodies []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			bodies = append(bodies, string(body))
			if len(bodies) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"quote_id":"q-1","total":1,"currency":"USD"}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)

		_, err := client.PriceReport(context.Background(), PriceRequest{SessionID: "sess-1"})
		require.NoError(t, err)

		require.Len(t, bodies, 3)
		assert.Equal(t, bodies[0], bodies[1])
		assert.Equal(t, bodies[1], bodies[2])
		assert.NotEmpty(t, bodies[0])
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		cfg := testConfig(server.URL)
		cfg.MaxRetries = 2
		client, err := NewClient(cfg, zerolog.Nop())
		require.NoError(t, err)

		_, err = client.PriceReport(context.Background(), PriceRequest{SessionID: "sess-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max retries exhausted")
		assert.Equal(t, int32(3), attempts.Load())
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		cfg := testConfig(server.URL)
		cfg.RetryDelay = time.Minute
		client, err := NewClient(cfg, zerolog.Nop())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err = client.PriceReport(ctx, PriceRequest{SessionID: "sess-1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRetryDelayFrom(t *testing.T) {
	fallback := 2 * time.Second

	tests := []struct {
		name       string
		retryAfter string
		expected   time.Duration
	}{
		{
			name:       "no header uses fallback",
			retryAfter: "",
			expected:   fallback,
		},
		{
			name:       "seconds value",
			retryAfter: "5",
			expected:   5 * time.Second,
		},
		{
			name:       "zero seconds uses fallback",
			retryAfter: "0",
			expected:   fallback,
		},
		{
			name:       "garbage uses fallback",
			retryAfter: "not-a-delay",
			expected:   fallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.retryAfter != "" {
				resp.Header.Set("Retry-After", tt.retryAfter)
			}
			assert.Equal(t, tt.expected, retryDelayFrom(resp, fallback))
		})
	}
}

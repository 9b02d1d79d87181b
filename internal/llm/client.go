// Package llm provides a provider-agnostic completion interface plus an
// OpenAI-compatible chat-completions client with JSON output mode.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Completer is what the pipeline stages depend on: a single structured
// completion call that returns the model's JSON content.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error)
}

// Config for the HTTP client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxRetries  int
	Timeout     time.Duration
}

// Client calls an OpenAI-compatible /chat/completions endpoint, requesting
// JSON mode and retrying transient failures with exponential backoff.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient builds a client. A nil logger falls back to slog.Default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
	}
}

// Model reports the configured model name, recorded alongside extractions.
func (c *Client) Model() string { return c.cfg.Model }

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion and returns the parsed JSON content.
// Rate limits, 5xx responses, and malformed JSON are retried up to
// MaxRetries with jittered exponential backoff; 4xx responses are not.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error) {
	rid := uuid.New().String()
	start := time.Now()

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		raw, status, err := c.post(ctx, body)
		switch {
		case err != nil && status == 0:
			// Transport error; the context may simply be done.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = fmt.Errorf("llm status %d: %s", status, truncate(string(raw), 200))
		case err != nil:
			// Non-retryable API error (auth, bad request).
			return nil, fmt.Errorf("llm status %d: %s", status, truncate(string(raw), 200))
		default:
			content, perr := parseContent(raw)
			if perr == nil {
				c.log.Info("llm.complete.ok",
					"req_id", rid,
					"model", c.cfg.Model,
					"attempt", attempt,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
				return content, nil
			}
			lastErr = perr
		}

		c.log.Warn("llm.complete.retry",
			"req_id", rid,
			"attempt", attempt,
			"max_retries", c.cfg.MaxRetries,
			"error", lastErr,
		)
		if attempt < c.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffWithJitter(time.Second, 30*time.Second, attempt)):
			}
		}
	}

	c.log.Error("llm.complete.failed",
		"req_id", rid,
		"error", lastErr,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if lastErr == nil {
		lastErr = errors.New("llm call failed")
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, body map[string]any) ([]byte, int, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bs))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return raw, resp.StatusCode, nil
}

func parseContent(raw []byte) (json.RawMessage, error) {
	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}
	content := strings.TrimSpace(cr.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("invalid JSON from model: %s", truncate(content, 120))
	}
	return json.RawMessage(content), nil
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

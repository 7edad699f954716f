// Package llm wraps the generation service (OpenAI wire format) with a
// plain HTTP client, bounded retries, and backoff.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kfilewski/conversbot/internal/logger"
)

// Message is one role-tagged entry of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client is the boundary to the generation service. Complete returns the
// generated text for a message sequence; Embed returns one vector per input.
type Client interface {
	Complete(ctx context.Context, model string, messages []Message, temperature float32) (string, error)
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type httpClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	embedModel string
	client     *http.Client
	maxRetries int
}

// Options tune the HTTP client; zero values fall back to environment
// variables and defaults.
type Options struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	Timeout    time.Duration
	MaxRetries int
}

func NewClient(log *logger.Logger, opts Options) (Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("missing generation service API key")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com"
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = envOr("OPENAI_EMBED_MODEL", "text-embedding-3-small")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
		if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
			if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
				opts.Timeout = time.Duration(parsed) * time.Second
			}
		}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &httpClient{
		log:        log.With("service", "llm"),
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		embedModel: opts.EmbedModel,
		client:     &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("generation service http %d: %s", e.StatusCode, e.Body)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var he *httpError
	if errors.As(err, &he) {
		return he.StatusCode == 408 || he.StatusCode == 429 || (he.StatusCode >= 500 && he.StatusCode <= 599)
	}
	return false
}

func jitter(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	v := base.Seconds() - delta + rand.Float64()*2*delta
	return time.Duration(v * float64(time.Second))
}

func (c *httpClient) doOnce(ctx context.Context, path string, body any) ([]byte, *http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, resp, nil
}

func (c *httpClient) do(ctx context.Context, path string, body, out any) error {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw, resp, err := c.doOnce(ctx, path, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("decode response: %w", uErr)
			}
			return nil
		}
		if !isRetryable(err) || attempt == c.maxRetries {
			return err
		}
		sleep := backoff
		if resp != nil {
			if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
					sleep = time.Duration(secs) * time.Second
				}
			}
		}
		if sleep > 10*time.Second {
			sleep = 10 * time.Second
		}
		sleep = jitter(sleep)
		c.log.Warn("generation service retrying",
			"path", path, "attempt", attempt+1, "sleep", sleep.String(), "error", err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *httpClient) Complete(ctx context.Context, model string, messages []Message, temperature float32) (string, error) {
	req := chatRequest{Model: model, Messages: messages, Temperature: temperature}
	var resp chatResponse
	if err := c.do(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generation service returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *httpClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	req := embeddingsRequest{Model: c.embedModel, Input: inputs}
	var resp embeddingsResponse
	if err := c.do(ctx, "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}
	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

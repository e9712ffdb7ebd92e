// Package ollama provides an HTTP client for the Ollama generate API.
package ollama

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

	"golang.org/x/time/rate"

	"github.com/Strob0t/TabForge/internal/resilience"
)

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("ollama API error")

// Options controls generation parameters and client behavior.
type Options struct {
	Model             string
	Temperature       float64
	NumPredict        int
	Timeout           time.Duration     // whole-request deadline
	RequestsPerSecond float64           // 0 disables pacing
	Burst             int
	Transport         http.RoundTripper // nil uses http.DefaultTransport
}

// Model is a locally available model as listed by /api/tags.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Client talks to an Ollama server. It implements completion.Completer.
type Client struct {
	baseURL    string
	opts       Options
	httpClient *http.Client
	breaker    *resilience.Breaker
	limiter    *rate.Limiter
}

// NewClient creates a new Ollama client.
func NewClient(baseURL string, opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(opts.Burst, 1))
	}
	return c
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.opts.Model }

// Complete sends prompt to /api/generate with streaming disabled and
// returns the reply text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.opts.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: c.opts.Temperature,
			NumPredict:  c.opts.NumPredict,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("ollama rate wait: %w", err)
		}
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/api/generate", body)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal generate: %w", err)
	}
	return resp.Response, nil
}

// ListModels returns the models available on the server.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	var result struct {
		Models []Model `json:"models"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal models: %w", err)
	}
	return result.Models, nil
}

// Health reports whether the server answers and has the configured model.
func (c *Client) Health(ctx context.Context) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.Name == c.opts.Model || strings.TrimSuffix(m.Name, ":latest") == c.opts.Model {
			return true, nil
		}
	}
	return false, fmt.Errorf("model %q not pulled", c.opts.Model)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(data)))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.ExecuteContext(ctx, call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

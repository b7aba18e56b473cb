// Package formatter rewrites raw transcripts into tidy notes using a language model.
package formatter

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
)

const (
	// DefaultEndpoint is a local Ollama server.
	DefaultEndpoint = "http://localhost:11434"
	// DefaultModel is the Ollama model tag used when none is configured.
	DefaultModel = "mistral:7b"
	// DefaultTimeout bounds one formatting request.
	DefaultTimeout = 5 * time.Minute
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("formatter returned an empty response")

// httpStatusError reports a non-2xx answer.
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("formatter status %d: %s", e.StatusCode, e.Body)
}

// Ollama formats text through the /api/generate endpoint of an Ollama server.
type Ollama struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

// Option configures a formatter backend.
type Option func(*options)

type options struct {
	httpClient *http.Client
	timeout    time.Duration
	apiKey     string
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithAPIKey sets the bearer key for OpenAI-compatible endpoints.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

func buildOptions(opts []Option) options {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}
	return o
}

// NewOllama creates an Ollama backend.
func NewOllama(endpoint, model string, opts ...Option) *Ollama {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if model == "" {
		model = DefaultModel
	}
	o := buildOptions(opts)
	return &Ollama{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		httpClient: o.httpClient,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Format sends the instruction and transcript as one prompt and returns the model's answer.
func (c *Ollama) Format(ctx context.Context, instruction, text string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: BuildPrompt(instruction, text),
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &httpStatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 300)}
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("formatter error: %s", out.Error)
	}

	formatted := strings.TrimSpace(out.Response)
	if formatted == "" {
		return "", ErrEmptyResponse
	}
	return formatted, nil
}

// Ping checks that the server is up and lists its models.
func (c *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Endpoint returns the server base URL.
func (c *Ollama) Endpoint() string { return c.endpoint }

// BuildPrompt frames the transcript beneath the instruction.
func BuildPrompt(instruction, text string) string {
	return fmt.Sprintf("%s\n\nHere is the transcription:\n---\n%s\n---", instruction, strings.TrimSpace(text))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

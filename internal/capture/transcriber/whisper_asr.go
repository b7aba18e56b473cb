// Package transcriber provides speech-to-text backends for the capture pipeline.
package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// OutputFormat specifies the response format from the whisper-asr webservice.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// DefaultTimeout bounds one transcription request or process run.
const DefaultTimeout = 10 * time.Minute

// WhisperASR transcribes through an onerahmet/openai-whisper-asr-webservice instance.
type WhisperASR struct {
	baseURL    string
	language   string
	httpClient *http.Client
	output     OutputFormat
}

// WhisperASROption configures WhisperASR.
type WhisperASROption func(*WhisperASR)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) WhisperASROption {
	return func(c *WhisperASR) {
		c.httpClient.Timeout = d
	}
}

// WithOutputFormat sets the response format (text or json).
func WithOutputFormat(format OutputFormat) WhisperASROption {
	return func(c *WhisperASR) {
		c.output = format
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WhisperASROption {
	return func(c *WhisperASR) {
		c.httpClient = client
	}
}

// WithASRLanguage sets the spoken language; "auto" or "" lets the service detect it.
func WithASRLanguage(lang string) WhisperASROption {
	return func(c *WhisperASR) {
		c.language = lang
	}
}

// NewWhisperASR creates a client for the webservice at baseURL.
func NewWhisperASR(baseURL string, opts ...WhisperASROption) *WhisperASR {
	c := &WhisperASR{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		output:     OutputFormatJSON,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe uploads the audio file and returns the transcript.
func (c *WhisperASR) Transcribe(ctx context.Context, audioPath string) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	reqURL, err := c.buildURL()
	if err != nil {
		return "", fmt.Errorf("build URL: %w", err)
	}

	// Stream the multipart body instead of buffering whole recordings.
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("audio_file", filepath.Base(audioPath))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return c.parseResponse(resp.Body)
}

// Ping checks that the webservice answers at all.
func (c *WhisperASR) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (c *WhisperASR) buildURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/asr"
	}

	q := u.Query()
	q.Set("output", string(c.output))
	if c.language != "" && c.language != "auto" {
		q.Set("language", c.language)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *WhisperASR) parseResponse(body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if c.output == OutputFormatText {
		return strings.TrimSpace(string(data)), nil
	}

	var resp whisperASRResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parse JSON response: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

type whisperASRResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

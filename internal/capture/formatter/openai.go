package formatter

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI formats text through any OpenAI-compatible chat completions API,
// including Ollama's /v1 endpoint and llama.cpp's server.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-compatible backend rooted at baseURL.
func NewOpenAI(baseURL, model string, opts ...Option) *OpenAI {
	o := buildOptions(opts)

	reqOpts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(o.httpClient),
		option.WithMaxRetries(0),
	}
	// Local servers ignore the key but the SDK insists on one.
	apiKey := o.apiKey
	if apiKey == "" {
		apiKey = "local"
	}
	reqOpts = append(reqOpts, option.WithAPIKey(apiKey))

	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}
}

// Format sends the instruction as the system message and the transcript as the user message.
func (c *OpenAI) Format(ctx context.Context, instruction, text string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instruction),
			openai.UserMessage(strings.TrimSpace(text)),
		},
		Temperature: openai.Float(0.3),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	formatted := strings.TrimSpace(resp.Choices[0].Message.Content)
	if formatted == "" {
		return "", ErrEmptyResponse
	}
	return formatted, nil
}

// Ping lists models to confirm the endpoint answers.
func (c *OpenAI) Ping(ctx context.Context) error {
	_, err := c.client.Models.List(ctx)
	return err
}

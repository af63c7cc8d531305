// Package inference generates the photo commentary by calling an
// OpenAI-compatible multimodal chat-completion endpoint.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"meowroast/internal/config"
)

var (
	// ErrUnreachable covers transport-level failures: network errors and
	// non-2xx responses.
	ErrUnreachable = errors.New("inference endpoint unreachable")
	// ErrInvalidResponse covers 2xx responses whose body deviates from the
	// expected shape: provider error objects, empty choices, empty content.
	ErrInvalidResponse = errors.New("inference response invalid")
)

const (
	defaultBaseURL     = "https://openrouter.ai/api/v1"
	defaultHTTPTimeout = 60 * time.Second
	appTitle           = "Meow Roast"

	// Generation parameters are fixed; they are part of the product voice,
	// not user configuration.
	model       = "openai/gpt-4o-2024-11-20"
	temperature = 0.7
	maxTokens   = 500
	topP        = 0.9

	systemPrompt = "You are a witty, sharp-tongued cat critic. You roast the cat " +
		"in the photo with playful snark. Keep the commentary under 200 words, " +
		"with no headings and no markdown formatting."
	userPrompt = "In a sarcastic tone, briefly describe this cat's posture, " +
		"expression and what it is probably thinking. Stay under 200 words."
)

// Client wraps the chat-completion API. One synchronous request per call, no
// retries, no streaming.
type Client struct {
	apiKey     string
	baseURL    string
	referer    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the default API base (useful for tests/mocks).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimSpace(base)
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// NewClient constructs the inference client. referer feeds the attribution
// headers OpenRouter expects.
func NewClient(cfg config.InferenceConfig, referer string, opts ...Option) *Client {
	client := &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    defaultBaseURL,
		referer:    referer,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	if cfg.BaseURL != "" {
		WithBaseURL(cfg.BaseURL)(client)
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Annotate sends the stored image URL with the fixed persona prompts and
// returns the generated commentary.
func (c *Client) Annotate(ctx context.Context, imageURL string) (string, error) {
	if strings.TrimSpace(imageURL) == "" {
		return "", errors.New("annotate: image url required")
	}
	if c.apiKey == "" {
		return "", errors.New("annotate: api key required")
	}
	endpoint, err := url.JoinPath(c.baseURL, "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("annotate: build url: %w", err)
	}
	encoded, err := json.Marshal(buildChatRequest(imageURL))
	if err != nil {
		return "", fmt.Errorf("annotate: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("annotate: request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", appTitle)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%w: http %d: %s", ErrUnreachable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrInvalidResponse, err)
	}
	if completion.Error != nil {
		return "", fmt.Errorf("%w: api error: %s", ErrInvalidResponse, strings.TrimSpace(completion.Error.Message))
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrInvalidResponse)
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}
	return content, nil
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
}

// chatMessage content is either a plain string (system) or content parts
// (user text + image attachment).
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func buildChatRequest(imageURL string) chatCompletionRequest {
	return chatCompletionRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: userPrompt},
				{Type: "image_url", ImageURL: &imageRef{URL: imageURL}},
			}},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		TopP:        topP,
	}
}

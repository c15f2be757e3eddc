package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// ErrEmptyResponse is returned when the server answers without any choice.
var ErrEmptyResponse = errors.New("llm: empty response")

// ProviderError is a non-200 answer from the chat completions API.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client talks to any OpenAI-compatible chat completions endpoint
// (Ollama, llama.cpp, vLLM, OpenAI).
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxTokens  int

	failing atomic.Bool
}

type Options struct {
	BaseURL   string
	APIKey    string
	MaxTokens int
	Timeout   time.Duration
}

func NewClient(opts Options) *Client {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		maxTokens:  opts.MaxTokens,
	}
}

// Completion is one generated answer.
type Completion struct {
	Text         string
	FinishReason string
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete generates text for a single user prompt.
func (c *Client) Complete(ctx context.Context, model, prompt string) (Completion, error) {
	return c.chat(ctx, chatRequest{
		Model:     model,
		MaxTokens: c.maxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	})
}

// Describe asks a vision-language model about an image.
func (c *Client) Describe(ctx context.Context, model, prompt string, image []byte) (Completion, error) {
	dataURL := "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
	return c.chat(ctx, chatRequest{
		Model:     model,
		MaxTokens: c.maxTokens,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
	})
}

func (c *Client) chat(ctx context.Context, request chatRequest) (Completion, error) {
	completion, err := c.doChat(ctx, request)
	c.failing.Store(err != nil && ctx.Err() == nil)
	return completion, err
}

func (c *Client) doChat(ctx context.Context, request chatRequest) (Completion, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return Completion{}, fmt.Errorf("llm: marshaling request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("llm: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return Completion{}, fmt.Errorf("llm: sending request: %w", err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		return Completion{}, readProviderError(httpResponse)
	}

	var wire chatResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&wire); err != nil {
		return Completion{}, fmt.Errorf("llm: decoding response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return Completion{}, ErrEmptyResponse
	}
	return Completion{
		Text:         strings.TrimSpace(wire.Choices[0].Message.Content),
		FinishReason: wire.Choices[0].FinishReason,
	}, nil
}

func readProviderError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}
	return &ProviderError{
		StatusCode: httpResponse.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

// Healthy reports whether the last request succeeded (or none was made).
func (c *Client) Healthy() bool {
	return !c.failing.Load()
}

// Package openai talks to an OpenAI-compatible chat completions endpoint
// (Groq by default) for image description and conversation summaries.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	gopenai "github.com/sashabaranov/go-openai"

	"vision-agent/internal/domain"
	"vision-agent/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "meta-llama/llama-4-scout-17b-16e-instruct"

	summaryMaxTokens   = 256
	summaryTemperature = 0.2
)

// ErrNotConfigured is returned when no API key can be resolved.
var ErrNotConfigured = fmt.Errorf("openai: %w", domain.ErrInferenceNotConfigured)

// tokenPayload is the JSON shape accepted for keys stored in SSM.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

// Client is a focused OpenAI-compatible client for vision completions.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	model        string
	summaryModel string
	keys         Getter
	keyName      string

	mu  sync.RWMutex
	api *gopenai.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = strings.TrimSpace(model)
	}
}

// WithSummaryModel sets the model used by Summarize. It defaults to the
// vision model.
func WithSummaryModel(model string) Option {
	return func(c *Client) {
		c.summaryModel = strings.TrimSpace(model)
	}
}

// NewClient creates a Client that resolves its API key through keys on first
// use. A key that fails to resolve is retried on the next call.
func NewClient(keys Getter, keyName string, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("openai: key getter must not be nil")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		model:      DefaultModel,
		keys:       keys,
		keyName:    strings.TrimSpace(keyName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	if c.summaryModel == "" {
		c.summaryModel = c.model
	}
	return c, nil
}

func (c *Client) resolveAPI(ctx context.Context) (*gopenai.Client, error) {
	c.mu.RLock()
	api := c.api
	c.mu.RUnlock()
	if api != nil {
		return api, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}

	raw, err := c.keys.GetParameter(ctx, c.keyName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	key, err := parseAPIKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}

	cfg := gopenai.DefaultConfig(key)
	cfg.BaseURL = normalizeBaseURL(c.baseURL)
	cfg.HTTPClient = c.resolvedHTTPClient()
	c.api = gopenai.NewClientWithConfig(cfg)
	return c.api, nil
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 60s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func normalizeBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return DefaultBaseURL
	}
	return base
}

// Describe sends the prompt and image as one user message and returns the
// model's reply.
func (c *Client) Describe(ctx context.Context, in domain.InferenceRequest) (out string, err error) {
	if len(in.Image.Data) == 0 {
		return "", errors.New("openai: image must not be empty")
	}
	defer observe("describe", time.Now(), &err)

	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}

	resp, err := api.CreateChatCompletion(ctx, gopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []gopenai.ChatCompletionMessage{{
			Role: gopenai.ChatMessageRoleUser,
			MultiContent: []gopenai.ChatMessagePart{
				{Type: gopenai.ChatMessagePartTypeText, Text: in.Prompt},
				{Type: gopenai.ChatMessagePartTypeImageURL, ImageURL: &gopenai.ChatMessageImageURL{URL: dataURL(in.Image)}},
			},
		}},
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", statusError(err))
	}
	return firstChoice(resp)
}

// Summarize folds turn into previous and returns the new rolling summary.
func (c *Client) Summarize(ctx context.Context, previous string, turn domain.Turn) (out string, err error) {
	defer observe("summarize", time.Now(), &err)

	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}

	resp, err := api.CreateChatCompletion(ctx, gopenai.ChatCompletionRequest{
		Model: c.summaryModel,
		Messages: []gopenai.ChatCompletionMessage{
			{Role: gopenai.ChatMessageRoleSystem, Content: summaryInstructions},
			{Role: gopenai.ChatMessageRoleUser, Content: summaryInput(previous, turn)},
		},
		MaxTokens:   summaryMaxTokens,
		Temperature: summaryTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai: summary request failed: %w", statusError(err))
	}
	return firstChoice(resp)
}

const summaryInstructions = "You maintain a running summary of a conversation about images. " +
	"Extend the current summary with the new lines, keep names, facts and answers the user may ask about again, " +
	"and return only the updated summary in a few sentences."

func summaryInput(previous string, turn domain.Turn) string {
	prev := strings.TrimSpace(previous)
	if prev == "" {
		prev = "(empty)"
	}
	return fmt.Sprintf("Current summary:\n%s\n\nNew lines of conversation:\nHuman: %s\nAI: %s\n\nNew summary:",
		prev, strings.TrimSpace(turn.Human), strings.TrimSpace(turn.AI))
}

func firstChoice(resp gopenai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// dataURL inlines the image as base64, keeping the uploaded content type and
// sniffing one from the bytes when it is missing.
func dataURL(img domain.Image) string {
	contentType := strings.TrimSpace(img.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(img.Data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// statusError converts go-openai's error types into HTTPStatusError so callers
// can branch on the upstream status code.
func statusError(err error) error {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *gopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return err
}

func parseAPIKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("openai: unmarshal token value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("openai: API token is empty")
	}
	return raw, nil
}

func observe(call string, start time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = "error"
	}
	metrics.InferenceDuration.WithLabelValues(call, outcome).Observe(time.Since(start).Seconds())
}

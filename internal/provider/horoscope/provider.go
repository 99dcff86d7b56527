package horoscope

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

	"github.com/sethvargo/go-retry"
	"github.com/zodiaclab/starledger/internal/tarot"
	"github.com/zodiaclab/starledger/pkg/billing"
	"go.uber.org/zap"
)

const (
	defaultBaseURL        = "https://generativelanguage.googleapis.com"
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryBase      = 500 * time.Millisecond
	defaultRetryAttempts  = 3
	generatePathTemplate  = "%s/v1beta/models/%s:generateContent"
	headerAPIKey          = "x-goog-api-key"
	maxResponseBodyLength = 1 << 20
)

// Error values surfaced by the client.
var (
	ErrInvalidClientConfig = errors.New("invalid client config")
	ErrAllModelsFailed     = errors.New("all models failed")
	ErrEmptyCompletion     = errors.New("empty completion")
)

// DefaultModels is the model priority list: the first model that
// answers wins, the rest are fallbacks for outages and deprecations.
func DefaultModels() []string {
	return []string{
		"gemini-2.0-flash-001",
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite-001",
		"gemini-2.5-flash",
	}
}

// Config carries the client settings.
type Config struct {
	BaseURL       string
	APIKey        string
	Models        []string
	HTTPTimeout   time.Duration
	RetryAttempts uint64
}

// Validate applies defaults and rejects unusable configs.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalidClientConfig)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	return nil
}

// Client generates astrology content through a generative-language API.
// It implements billing.ContentProvider.
type Client struct {
	cfg        Config
	httpClient *http.Client
	deck       *tarot.Deck
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client (used by tests).
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithDeck swaps the tarot deck (used by tests for deterministic draws).
func WithDeck(deck *tarot.Deck) ClientOption {
	return func(client *Client) {
		if deck != nil {
			client.deck = deck
		}
	}
}

// WithLogger wires a zap logger for model fallback diagnostics.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config, options ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		deck:       tarot.NewDeck(nil),
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// Generate builds the prompt for the requested service and walks the
// model priority list until one answers. Transient failures (5xx,
// network errors) are retried with fibonacci backoff per model; other
// failures skip straight to the next model.
func (client *Client) Generate(ctx context.Context, kind billing.ServiceKind, params billing.Params) (string, error) {
	prompt, preamble, err := client.buildPrompt(kind, params)
	if err != nil {
		return "", err
	}

	var lastErr error
	for _, model := range client.cfg.Models {
		completion, modelErr := client.generateWithModel(ctx, model, prompt)
		if modelErr == nil {
			return preamble + completion, nil
		}
		lastErr = modelErr
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		client.logger.Warn("model unavailable, falling back",
			zap.String("model", model),
			zap.Error(modelErr),
		)
	}
	return "", fmt.Errorf("%w: %v", ErrAllModelsFailed, lastErr)
}

func (client *Client) generateWithModel(ctx context.Context, model string, prompt string) (string, error) {
	backoff := retry.WithMaxRetries(client.cfg.RetryAttempts, retry.NewFibonacci(defaultRetryBase))
	var completion string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		text, requestErr := client.doRequest(ctx, model, prompt)
		if requestErr != nil {
			return requestErr
		}
		completion = text
		return nil
	})
	return completion, err
}

func (client *Client) doRequest(ctx context.Context, model string, prompt string) (string, error) {
	payload := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf(generatePathTemplate, client.cfg.BaseURL, model)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(headerAPIKey, client.cfg.APIKey)

	response, err := client.httpClient.Do(request)
	if err != nil {
		// Network-level failures are worth retrying.
		return "", retry.RetryableError(err)
	}
	defer func() { _ = response.Body.Close() }()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyLength))
	if err != nil {
		return "", retry.RetryableError(err)
	}
	if response.StatusCode >= http.StatusInternalServerError || response.StatusCode == http.StatusTooManyRequests {
		return "", retry.RetryableError(fmt.Errorf("model %s: status %d", model, response.StatusCode))
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model %s: status %d: %s", model, response.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	var parsed generateResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return "", fmt.Errorf("model %s: decode response: %w", model, err)
	}
	text := parsed.firstText()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("model %s: %w", model, ErrEmptyCompletion)
	}
	return text, nil
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (response generateResponse) firstText() string {
	for _, candidate := range response.Candidates {
		for _, candidatePart := range candidate.Content.Parts {
			if candidatePart.Text != "" {
				return candidatePart.Text
			}
		}
	}
	return ""
}

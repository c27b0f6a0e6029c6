// Package gemini is the gateway to the generative model used for chart
// grading and mentor chat.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trade-journal-go/internal/config"
	"trade-journal-go/internal/tracing"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	roleModel = "model"
)

var (
	// ErrAuth means the API key was rejected.
	ErrAuth = errors.New("gemini: authentication failed")
	// ErrQuota means the request was rate limited or the quota is exhausted.
	ErrQuota = errors.New("gemini: quota exceeded")
	// ErrNetwork means the service could not be reached.
	ErrNetwork = errors.New("gemini: network error")
	// ErrUpstream covers every other failed or empty response.
	ErrUpstream = errors.New("gemini: upstream error")
)

// Turn is one message of a chat history.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"content"`
}

// Gateway is what the services need from the model.
type Gateway interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (string, error)
	Converse(ctx context.Context, message string, history []Turn) (string, error)
}

// Client calls the generateContent endpoint.
type Client struct {
	client      *resty.Client
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
	limiter     *rate.Limiter
}

// ensure Client implements the interface
var _ Gateway = (*Client)(nil)

// NewClient creates a gateway client from configuration.
func NewClient(cfg config.Gemini, logger *zap.Logger) *Client {
	logger = logger.Named("gemini")
	if cfg.ApiKey == "" {
		logger.Warn("No Gemini API key configured, model calls will fail")
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		client:      client,
		apiKey:      cfg.ApiKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxAttempts: max(1, cfg.MaxAttempts),
		backoff:     time.Second,
		logger:      logger,
		limiter:     rate.NewLimiter(limit, burst),
	}
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// Analyze sends the image with the grading prompt and returns the raw completion.
func (c *Client) Analyze(ctx context.Context, image []byte, mimeType string) (text string, err error) {
	ctx, span := tracing.StartSpan(ctx, "gemini.analyze", trace.WithAttributes(
		attribute.String("gemini.model", c.model),
		attribute.String("image.mime_type", mimeType),
		attribute.Int("image.bytes", len(image)),
	))
	defer func() { tracing.End(span, err) }()

	body := generateRequest{
		Contents: []content{{
			Role: RoleUser,
			Parts: []part{
				{Text: VisionPrompt},
				{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
			},
		}},
		GenerationConfig: c.generationConfig(),
	}

	text, err = c.generate(ctx, body)
	if err != nil {
		c.logger.Error("Chart analysis failed", append(tracing.Fields(ctx), zap.Error(err))...)
		return "", fmt.Errorf("failed to analyze chart: %w", err)
	}
	return text, nil
}

// Converse continues a mentor conversation. The persona prompt and its
// acknowledgement are prepended to history; assistant turns map to the
// model role.
func (c *Client) Converse(ctx context.Context, message string, history []Turn) (text string, err error) {
	ctx, span := tracing.StartSpan(ctx, "gemini.converse", trace.WithAttributes(
		attribute.String("gemini.model", c.model),
		attribute.Int("chat.history_turns", len(history)),
	))
	defer func() { tracing.End(span, err) }()

	contents := make([]content, 0, len(history)+3)
	contents = append(contents,
		content{Role: RoleUser, Parts: []part{{Text: ChatPrompt}}},
		content{Role: roleModel, Parts: []part{{Text: chatAcknowledgement}}},
	)
	for _, turn := range history {
		role := RoleUser
		if turn.Role == RoleAssistant {
			role = roleModel
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: turn.Text}}})
	}
	contents = append(contents, content{Role: RoleUser, Parts: []part{{Text: message}}})

	text, err = c.generate(ctx, generateRequest{Contents: contents, GenerationConfig: c.generationConfig()})
	if err != nil {
		c.logger.Error("Chat completion failed", append(tracing.Fields(ctx), zap.Error(err))...)
		return "", fmt.Errorf("failed to get chat reply: %w", err)
	}
	return text, nil
}

func (c *Client) generationConfig() generationConfig {
	return generationConfig{Temperature: c.temperature, MaxOutputTokens: c.maxTokens}
}

func (c *Client) generate(ctx context.Context, body generateRequest) (string, error) {
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", c.apiKey).
		SetBody(body).
		SetResult(&generateResponse{})

	resp, err := c.doRequest(ctx, http.MethodPost, "/models/"+c.model+":generateContent", req)
	if err != nil {
		return "", err
	}

	result := resp.Result().(*generateResponse)
	if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", ErrUpstream, result.PromptFeedback.BlockReason)
	}
	var sb strings.Builder
	for _, cand := range result.Candidates {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUpstream)
	}
	return sb.String(), nil
}

// doRequest handles request execution with rate limiting and bounded retries.
// Only quota, server and network failures are retried, and only while
// attempts remain.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var lastErr error

	for i := 0; i < c.maxAttempts; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err := req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		var retryAfter time.Duration
		shouldRetry := false

		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = fmt.Errorf("%w: %v", ErrNetwork, err)
			shouldRetry = true
		case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
			return nil, fmt.Errorf("%w: status %s", ErrAuth, resp.Status())
		case resp.StatusCode() == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%w: status %s", ErrQuota, resp.Status())
			shouldRetry = true
			if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		case resp.StatusCode() >= 500:
			lastErr = fmt.Errorf("%w: status %s: %s", ErrUpstream, resp.Status(), resp.String())
			shouldRetry = true
		default:
			return nil, fmt.Errorf("%w: status %s: %s", ErrUpstream, resp.Status(), resp.String())
		}

		if !shouldRetry || i == c.maxAttempts-1 {
			break
		}

		if retryAfter == 0 {
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

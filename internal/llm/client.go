// Package llm wraps an OpenAI-compatible chat-completions endpoint behind the
// one interface the pipeline services consume. Every call forces JSON output;
// services own the typed decode of the returned payload.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/utils"
)

// ErrInvalidJSON marks model output that did not parse as a JSON object.
// Callers treat it as a retryable analysis failure; nothing is persisted
// until parsing succeeds.
var ErrInvalidJSON = errors.New("model output is not valid JSON")

type Client interface {
	CompleteJSON(ctx context.Context, req CompletionRequest) (json.RawMessage, error)
}

type CompletionRequest struct {
	// CallType labels the pipeline step for call logging (e.g. "extraction").
	CallType    string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// CallRecord is handed to the observer after each completed call, success or
// failure, with retries already folded in.
type CallRecord struct {
	CallType string
	Model    string
	Prompt   string
	Response string
	Usage    json.RawMessage
	Err      error
	Elapsed  time.Duration
}

type CallObserver func(ctx context.Context, rec CallRecord)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	CallTimeout time.Duration
	MaxRetries  int
}

func LoadConfig(log *logger.Logger) Config {
	timeoutSec := utils.GetEnvAsInt("LLM_TIMEOUT_SECONDS", 90, log)
	if timeoutSec < 1 {
		timeoutSec = 90
	}
	return Config{
		BaseURL:     utils.GetEnv("LLM_BASE_URL", "https://api.openai.com", log),
		APIKey:      utils.GetEnv("LLM_API_KEY", "", log),
		Model:       utils.GetEnv("LLM_MODEL", "gpt-4o-mini", log),
		CallTimeout: time.Duration(timeoutSec) * time.Second,
		MaxRetries:  utils.GetEnvAsInt("LLM_MAX_RETRIES", 3, log),
	}
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, e.Body)
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
	observe    CallObserver
}

func NewClient(log *logger.Logger, cfg Config, observe CallObserver) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing LLM_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 90 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &client{
		log:        log.With("service", "LLMClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.CallTimeout},
		observe:    observe,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage,omitempty"`
}

func (c *client) CompleteJSON(ctx context.Context, req CompletionRequest) (json.RawMessage, error) {
	start := time.Now()
	raw, usage, err := c.completeOnceWithRetry(ctx, req)
	if c.observe != nil {
		rec := CallRecord{
			CallType: req.CallType,
			Model:    c.cfg.Model,
			Prompt:   req.System + "\n\n" + req.User,
			Usage:    usage,
			Err:      err,
			Elapsed:  time.Since(start),
		}
		if raw != nil {
			rec.Response = string(raw)
		}
		c.observe(ctx, rec)
	}
	return raw, err
}

func (c *client) completeOnceWithRetry(ctx context.Context, req CompletionRequest) (json.RawMessage, json.RawMessage, error) {
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: map[string]any{"type": "json_object"},
	}

	backoff := 1 * time.Second
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		resp, raw, err := c.doOnce(callCtx, body)
		cancel()
		if err == nil {
			var parsed chatResponse
			if uErr := json.Unmarshal(raw, &parsed); uErr != nil {
				return nil, nil, fmt.Errorf("llm decode error: %w; raw=%s", uErr, truncate(string(raw), 512))
			}
			if len(parsed.Choices) == 0 {
				return nil, nil, fmt.Errorf("llm response has no choices")
			}
			choice := parsed.Choices[0]
			if choice.Message.Refusal != "" {
				return nil, nil, fmt.Errorf("model refused: %s", choice.Message.Refusal)
			}
			content := []byte(choice.Message.Content)
			if !json.Valid(content) {
				return nil, parsed.Usage, fmt.Errorf("%w: %s", ErrInvalidJSON, truncate(choice.Message.Content, 512))
			}
			return json.RawMessage(content), parsed.Usage, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, nil, err
		}
		if attempt == c.cfg.MaxRetries {
			return nil, nil, err
		}

		sleepFor := retryDelay(resp, backoff, 10*time.Second)

		c.log.Warn("LLM request retrying",
			"call_type", req.CallType,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}
	return nil, nil, lastErr
}

func (c *client) doOnce(ctx context.Context, body chatRequest) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	return resp, raw, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

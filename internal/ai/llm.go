package ai

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

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/mdollan-source/payg/types"
	"github.com/mdollan-source/payg/types/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	anthropicVersion = "2023-06-01"
	maxHTTPRetries   = 3
	maxBodyBytes     = 4 << 20
)

var ErrEmptyCompletion = errors.New("empty completion")

// Completer sends a single user prompt to a chat model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, Usage, error)
	Model() string
}

// StatusError is a non-2xx answer from the model API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model API returned %d: %s", e.StatusCode, e.Body)
}

// ChatClient talks to the Anthropic messages API or an OpenAI compatible chat completions API.
// Calls are rate limited per process and retried on 429, 5xx and network errors.
type ChatClient struct {
	http      *http.Client
	provider  string
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	limiter   *rate.Limiter
	logger    *zap.Logger
}

func NewChatClient(cfg config.LLMConfig, logger *zap.Logger) *ChatClient {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderAnthropic
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		if provider == ProviderOpenAI {
			baseURL = "https://api.openai.com"
		} else {
			baseURL = "https://api.anthropic.com"
		}
	}
	perMin := cfg.RatePerMin
	if perMin <= 0 {
		perMin = config.DefaultLLMRatePerMin
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	timeout := cfg.RequestLimit
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ChatClient{
		http:      &http.Client{Timeout: timeout},
		provider:  provider,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		baseURL:   baseURL,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
		logger:    logger.Named("llm"),
	}
}

func (c *ChatClient) Model() string {
	return c.model
}

func (c *ChatClient) Complete(ctx context.Context, prompt string) (string, Usage, error) {
	var (
		text  string
		usage Usage
	)
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		text, usage, err = c.do(ctx, prompt)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			if statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError {
				return err
			}
			return backoff.Permanent(err)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return err
		}
		return backoff.Permanent(err)
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = time.Second
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("model call failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(boff, maxHTTPRetries), ctx), notify); err != nil {
		return "", Usage{}, err
	}
	return text, usage, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *ChatClient) do(ctx context.Context, prompt string) (string, Usage, error) {
	body, err := sonic.Marshal(chatRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", Usage{}, err
	}

	path := "/v1/messages"
	if c.provider == ProviderOpenAI {
		path = "/v1/chat/completions"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.provider == ProviderOpenAI {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", Usage{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", Usage{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", Usage{}, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(payload), 512)}
	}

	if c.provider == ProviderOpenAI {
		var out openAIResponse
		if err := sonic.Unmarshal(payload, &out); err != nil {
			return "", Usage{}, fmt.Errorf("failed to decode completion: %w", err)
		}
		if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
			return "", Usage{}, ErrEmptyCompletion
		}
		return out.Choices[0].Message.Content, Usage{InputTokens: out.Usage.PromptTokens, OutputTokens: out.Usage.CompletionTokens}, nil
	}

	var out anthropicResponse
	if err := sonic.Unmarshal(payload, &out); err != nil {
		return "", Usage{}, fmt.Errorf("failed to decode completion: %w", err)
	}
	for _, block := range out.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, Usage{InputTokens: out.Usage.InputTokens, OutputTokens: out.Usage.OutputTokens}, nil
		}
	}
	return "", Usage{}, ErrEmptyCompletion
}

const LLMGeneratorName = "llm"

// LLMGenerator asks a chat model for specs and seeds. A response that is not valid JSON or fails
// validation is retried with the problems appended to the prompt.
type LLMGenerator struct {
	client      Completer
	maxAttempts int
	logger      *zap.Logger
}

func NewLLMGenerator(client Completer, logger *zap.Logger) *LLMGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMGenerator{client: client, maxAttempts: 3, logger: logger.Named("llm")}
}

func (g *LLMGenerator) GenerateSpec(ctx context.Context, tenant *types.Tenant, answers json.RawMessage) (*Result, error) {
	var in OnboardingAnswers
	if len(answers) > 0 {
		_ = sonic.Unmarshal(answers, &in)
	}
	plan := planFor(tenant, in)
	return g.generate(ctx, "spec", specPrompt(answers, plan), func(raw json.RawMessage) error {
		_, err := ValidateSpec(raw, plan)
		return err
	})
}

func (g *LLMGenerator) GenerateSeed(ctx context.Context, tenant *types.Tenant, spec json.RawMessage) (*Result, error) {
	plan := planFor(tenant, OnboardingAnswers{})
	return g.generate(ctx, "seed", seedPrompt(spec, plan), func(raw json.RawMessage) error {
		_, err := ValidateSeed(raw, plan)
		return err
	})
}

func (g *LLMGenerator) generate(ctx context.Context, kind, prompt string, validate func(json.RawMessage) error) (*Result, error) {
	var (
		total   Usage
		lastErr string
	)
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		text, usage, err := g.client.Complete(ctx, withFeedback(prompt, lastErr))
		total.InputTokens += usage.InputTokens
		total.OutputTokens += usage.OutputTokens
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err.Error()
			g.logger.Warn("generation attempt failed", zap.String("kind", kind), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		raw, err := ParseJSON(text)
		if err == nil {
			err = validate(raw)
		}
		if err != nil {
			lastErr = err.Error()
			g.logger.Warn("generation rejected", zap.String("kind", kind), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		return &Result{Output: raw, Generator: LLMGeneratorName, Model: g.client.Model(), Usage: total}, nil
	}
	return nil, fmt.Errorf("failed to generate %s after %d attempts: %s", kind, g.maxAttempts, lastErr)
}

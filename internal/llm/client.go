package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/josh5210/writefully/internal/model"
)

// OperationCategory selects the timeout budget for a generation call.
// Story-level planning gets a longer budget than per-page work; everything
// else (critique) uses the default.
type OperationCategory string

const (
	CategoryStoryPlanning  OperationCategory = "storyPlanning"
	CategoryPageGeneration OperationCategory = "pageGeneration"
	CategoryDefault        OperationCategory = "default"
)

// UsageInfo holds token usage and estimated cost for one request.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64
}

// Response is the result of one generation call.
type Response struct {
	Content string
	Model   string
	Usage   UsageInfo
}

// Client is the narrow contract the stage executors depend on. Timeout-kind
// failures are wrapped in model.ErrGenerationTimeout so callers can
// distinguish them from other errors.
type Client interface {
	GenerateContent(ctx context.Context, userPrompt, systemPrompt string, category OperationCategory) (*Response, error)
	ModelName() string
}

// Config holds the settings for one OpenAI-compatible client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int

	StoryPlanTimeout time.Duration
	PageTimeout      time.Duration
	DefaultTimeout   time.Duration
}

// openAIClient implements Client using go-openai against any
// OpenAI-compatible endpoint (OpenRouter in the default configuration).
type openAIClient struct {
	client *openaigo.Client
	cfg    Config
	logger *zap.Logger
}

// NewClient creates an OpenAI-compatible generation client.
func NewClient(cfg Config, logger *zap.Logger) Client {
	apiCfg := openaigo.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	// No timeout on the http.Client; deadlines come from per-call contexts so
	// each category keeps its own budget.
	apiCfg.HTTPClient = &http.Client{}

	return &openAIClient{
		client: openaigo.NewClientWithConfig(apiCfg),
		cfg:    cfg,
		logger: logger.Named("LLMClient").With(zap.String("model", cfg.Model)),
	}
}

func (c *openAIClient) ModelName() string {
	return c.cfg.Model
}

func (c *openAIClient) timeoutFor(category OperationCategory) time.Duration {
	switch category {
	case CategoryStoryPlanning:
		return c.cfg.StoryPlanTimeout
	case CategoryPageGeneration:
		return c.cfg.PageTimeout
	default:
		return c.cfg.DefaultTimeout
	}
}

// GenerateContent sends one chat completion request and returns the generated
// text with usage accounting.
func (c *openAIClient) GenerateContent(ctx context.Context, userPrompt, systemPrompt string, category OperationCategory) (*Response, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.cfg.Model, "category": string(category), "status": "error"}).Inc()
		return nil, fmt.Errorf("%w: system prompt is empty", model.ErrGenerationFailed)
	}

	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userPrompt != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role: openaigo.ChatMessageRoleUser, Content: userPrompt,
		})
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeoutFor(category))
	defer cancel()

	startTime := time.Now()
	c.logger.Debug("Sending AI request",
		zap.String("category", string(category)),
		zap.Int("systemPromptBytes", len(systemPrompt)),
		zap.Int("userPromptBytes", len(userPrompt)),
	)

	resp, err := c.client.CreateChatCompletion(requestCtx, openaigo.ChatCompletionRequest{
		Model:     c.cfg.Model,
		Messages:  messages,
		MaxTokens: c.cfg.MaxTokens,
	})
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || requestCtx.Err() != nil {
			c.logger.Warn("AI request timed out", zap.Duration("after", duration), zap.String("category", string(category)))
			aiRequestsTotal.With(prometheus.Labels{"model": c.cfg.Model, "category": string(category), "status": "timeout"}).Inc()
			return nil, fmt.Errorf("%w: operation timed out after %v", model.ErrGenerationTimeout, duration)
		}
		c.logger.Error("AI request failed", zap.Error(err), zap.Duration("after", duration))
		aiRequestsTotal.With(prometheus.Labels{"model": c.cfg.Model, "category": string(category), "status": "error"}).Inc()
		return nil, fmt.Errorf("%w: %v", model.ErrGenerationFailed, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.cfg.Model, "category": string(category), "status": "error_empty_response"}).Inc()
		return nil, fmt.Errorf("%w: received empty response", model.ErrGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.cfg.Model, "category": string(category), "status": "success"}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": c.cfg.Model, "category": string(category)}).Observe(duration.Seconds())

	content := resp.Choices[0].Message.Content
	usage := c.usageFrom(resp.Usage, systemPrompt, userPrompt, content)

	aiPromptTokens.With(prometheus.Labels{"model": c.cfg.Model, "category": string(category)}).Observe(float64(usage.PromptTokens))
	aiCompletionTokens.With(prometheus.Labels{"model": c.cfg.Model, "category": string(category)}).Observe(float64(usage.CompletionTokens))
	if usage.EstimatedCostUSD > 0 {
		aiEstimatedCostUSD.With(prometheus.Labels{"model": c.cfg.Model, "category": string(category)}).Add(usage.EstimatedCostUSD)
	}

	c.logger.Debug("AI response received",
		zap.Duration("duration", duration),
		zap.Int("contentLength", len(content)),
		zap.Int("totalTokens", usage.TotalTokens),
	)
	return &Response{Content: content, Model: c.cfg.Model, Usage: usage}, nil
}

// usageFrom prefers the usage block the API returned; some providers omit it,
// in which case token counts are estimated with tiktoken.
func (c *openAIClient) usageFrom(apiUsage openaigo.Usage, systemPrompt, userPrompt, content string) UsageInfo {
	if apiUsage.TotalTokens > 0 {
		return UsageInfo{
			PromptTokens:     apiUsage.PromptTokens,
			CompletionTokens: apiUsage.CompletionTokens,
			TotalTokens:      apiUsage.TotalTokens,
			EstimatedCostUSD: calculateCost(apiUsage.PromptTokens, apiUsage.CompletionTokens),
		}
	}

	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		c.logger.Warn("Could not get tokenizer for usage estimation", zap.Error(err))
		return UsageInfo{}
	}
	promptTokens := len(tke.Encode(systemPrompt, nil, nil)) + len(tke.Encode(userPrompt, nil, nil))
	completionTokens := len(tke.Encode(content, nil, nil))
	return UsageInfo{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		EstimatedCostUSD: calculateCost(promptTokens, completionTokens),
	}
}

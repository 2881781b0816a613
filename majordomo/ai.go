package majordomo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// CompletionClient defines the methods used from [openai.Client], to
// enable testing/mocking.
type CompletionClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// OpenAI proxies chat completion requests for the /ai command. Requests
// are rate limited, and each configured model is tried in order until one
// answers within the request timeout.
type OpenAI struct {
	client         CompletionClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
	md             *MajorDomo

	mu *sync.RWMutex // primarily just protects requestLimiter
}

func newOpenAI(md *MajorDomo, httpClient *http.Client) *OpenAI {
	config := md.config.OpenAI
	o := &OpenAI{
		config: config,
		md:     md,
		mu:     &sync.RWMutex{},
	}
	o.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "openai")

	maxRPS := config.MaxRequestsPerSecond
	if maxRPS <= 0 {
		maxRPS = DefaultOpenAIMaxRequestsPerSecond
	}
	o.requestLimiter = rate.NewLimiter(rate.Limit(maxRPS), maxRPS)

	clientCfg := openai.DefaultConfig(config.Token)
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	o.client = openai.NewClientWithConfig(clientCfg)

	return o
}

// setMaxRequestsPerSecond replaces the request limiter. Called when the
// runtime config changes.
func (o *OpenAI) setMaxRequestsPerSecond(maxRPS int) {
	if maxRPS <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requestLimiter = rate.NewLimiter(rate.Limit(maxRPS), maxRPS)
}

func (o *OpenAI) limiter() *rate.Limiter {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.requestLimiter
}

// Complete sends the prompt to each configured model in order, returning
// the first answer. Each attempt gets its own timeout, so one slow or
// failing model falls through to the next instead of eating the whole
// interaction window. The answer is truncated to Discord's message limit.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	log, ok := ContextLogger(ctx)
	if !ok || log == nil {
		log = o.logger
	}

	if prompt = strings.TrimSpace(prompt); prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	config := o.md.RuntimeConfig()
	models := config.AIModels
	if len(models) == 0 {
		models = DefaultOpenAIModels
	}

	if err := o.limiter().Wait(ctx); err != nil {
		return "", fmt.Errorf("error waiting for rate limiter: %w", err)
	}

	messages := []openai.ChatCompletionMessage{}
	if config.AISystemPrompt != "" {
		messages = append(
			messages,
			openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: config.AISystemPrompt,
			},
		)
	}
	messages = append(
		messages,
		openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		},
	)

	timeout := o.config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultOpenAIRequestTimeout
	}

	var errs []error
	for _, model := range models {
		answer, err := o.completeWithModel(
			ctx,
			model,
			messages,
			config.AIMaxTokens,
			timeout,
		)
		if err == nil {
			return truncate(answer, DefaultAIResponseMaxLen), nil
		}
		log.WarnContext(
			ctx,
			"completion attempt failed",
			tint.Err(err),
			"model", model,
		)
		errs = append(errs, fmt.Errorf("%s: %w", model, err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("all completion models failed: %w", errors.Join(errs...))
}

func (o *OpenAI) completeWithModel(
	ctx context.Context,
	model string,
	messages []openai.ChatCompletionMessage,
	maxTokens int,
	timeout time.Duration,
) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	resp, err := o.client.CreateChatCompletion(
		attemptCtx,
		openai.ChatCompletionRequest{
			Model:     model,
			Messages:  messages,
			MaxTokens: maxTokens,
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}

	o.logger.Info(
		"completion succeeded",
		"model", model,
		"duration", time.Since(started),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

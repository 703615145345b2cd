package openai_provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsbrief/config"
	"github.com/mohammad-safakhou/newsbrief/provider"
)

const defaultMaxToolRounds = 4

// client implements provider.Generator on top of the chat completions API
type client struct {
	api           *openai.Client
	model         string
	temperature   float32
	maxTokens     int
	maxToolRounds int
	logger        *zap.Logger
}

// NewOpenAIClient creates a new OpenAI generator from the llm config section.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) provider.Generator {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = defaultMaxToolRounds
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &client{
		api:           openai.NewClientWithConfig(oc),
		model:         cfg.Model,
		temperature:   float32(cfg.Temperature),
		maxTokens:     cfg.MaxTokens,
		maxToolRounds: rounds,
		logger:        logger.Named("openai"),
	}
}

// Generate runs one chat completion, executing tool calls the model requests
// for at most maxToolRounds rounds. After the last round tools are withheld
// so the model has to answer; a reply that still calls tools then ends the
// generation with its text content, or a hard error when it has none.
func (c *client) Generate(ctx context.Context, p provider.Prompt) (string, error) {
	var messages []openai.ChatCompletionMessage
	if p.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.Instructions})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.Input})

	defs, byName := toolDefinitions(p.Tools)

	for round := 0; ; round++ {
		req := openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		}
		if round < c.maxToolRounds {
			req.Tools = defs
		}

		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", classify(err)
		}
		if len(resp.Choices) == 0 {
			return "", provider.Hard("chat completion", errors.New("no choices in response"))
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}
		if round >= c.maxToolRounds {
			if strings.TrimSpace(msg.Content) != "" {
				return msg.Content, nil
			}
			return "", provider.Hard("chat completion", errors.New("model kept calling tools after the last round"))
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			out := c.invoke(ctx, byName, call)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    out,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
		}
	}
}

// invoke runs one tool call. Failures are reported back to the model as
// {"error": "..."} content instead of aborting the generation.
func (c *client) invoke(ctx context.Context, tools map[string]provider.Tool, call openai.ToolCall) string {
	tool, ok := tools[call.Function.Name]
	if !ok || tool.Call == nil {
		return toolError(fmt.Errorf("unknown tool %q", call.Function.Name))
	}
	start := time.Now()
	out, err := tool.Call(ctx, json.RawMessage(call.Function.Arguments))
	if err != nil {
		c.logger.Warn("tool call failed",
			zap.String("tool", call.Function.Name),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return toolError(err)
	}
	c.logger.Debug("tool call",
		zap.String("tool", call.Function.Name),
		zap.Duration("took", time.Since(start)),
		zap.Int("bytes", len(out)))
	return out
}

func toolError(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

func toolDefinitions(tools []provider.Tool) ([]openai.Tool, map[string]provider.Tool) {
	if len(tools) == 0 {
		return nil, nil
	}
	defs := make([]openai.Tool, 0, len(tools))
	byName := make(map[string]provider.Tool, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
		byName[t.Name] = t
	}
	return defs, byName
}

// classify maps client errors to provider error kinds.
func classify(err error) error {
	const op = "chat completion"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return provider.Hard(op, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return byStatus(op, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return byStatus(op, reqErr.HTTPStatusCode, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return provider.Transient(op, err)
	}
	return provider.Hard(op, err)
}

func byStatus(op string, status int, err error) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return provider.Transient(op, err)
	}
	return provider.Hard(op, err)
}

package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"spec-rag/internal/config"
	"spec-rag/internal/models"
)

const systemPrompt = "You are a careful construction administration assistant. Answer only from the supplied specification excerpts."

var thinkRe = regexp.MustCompile(models.ThinkTag)

// Client drafts text with a chat model.
type Client struct {
	llm   llms.Model
	model string
}

// New connects to the generation model named in llmConfig.
func New(llmConfig *config.LLMConfig) (*Client, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("model", llmConfig.Model).Msg("Creating generation client")

	var (
		llm llms.Model
		err error
	)
	switch llmConfig.Provider {
	case "ollama", "":
		llm, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", llmConfig.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s client: %w", llmConfig.Provider, err)
	}
	return NewClient(llm, llmConfig.Model), nil
}

// NewClient wraps any langchaingo model.
func NewClient(llm llms.Model, model string) *Client {
	return &Client{llm: llm, model: model}
}

func (c *Client) Model() string {
	return c.model
}

// GenerateContent sends messages as-is and returns the raw response.
func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	return c.llm.GenerateContent(ctx, messages, opts...)
}

// Generate answers a single prompt. Reasoning blocks some models emit are
// stripped from the reply.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}
	resp, err := c.GenerateContent(ctx, messages, llms.WithTemperature(0.2))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return StripThinking(resp.Choices[0].Content), nil
}

// StripThinking removes <think>...</think> blocks.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}

// Package langchain implements the capability interfaces on top of
// langchaingo model providers.
package langchain

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/orderguardian/internal/capability"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderCohere Provider = "cohere"
	ProviderOllama Provider = "ollama"
)

// Options configures a Client.
type Options struct {
	Provider       Provider `koanf:"provider"`
	APIKey         string   `koanf:"api_key"`
	BaseURL        string   `koanf:"base_url"`
	Model          string   `koanf:"model"`
	VisionModel    string   `koanf:"vision_model"`
	EmbeddingModel string   `koanf:"embedding_model"`
	Temperature    float64  `koanf:"temperature"`
	MaxTokens      int      `koanf:"max_tokens"`
}

// Client serves completion, vision and, when the provider supports it,
// embeddings.
type Client struct {
	provider Provider
	llm      llms.Model
	embedder embeddings.Embedder
	options  Options
}

// New creates a client for the configured provider.
func New(ctx context.Context, options Options) (*Client, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Float64("temperature", options.Temperature).
		Msg("Creating capability client")

	switch options.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(options)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, options)
	case ProviderClaude:
		model, err = createAnthropicModel(options)
	case ProviderCohere:
		model, err = createCohereModel(options)
	case ProviderOllama:
		model, err = createOllamaModel(options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	c := &Client{provider: options.Provider, llm: model, options: options}

	if ec, ok := model.(embeddings.EmbedderClient); ok {
		emb, err := embeddings.NewEmbedder(ec)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder for provider %s: %w", options.Provider, err)
		}
		c.embedder = emb
	} else {
		log.Debug().Str("provider", string(options.Provider)).Msg("Provider has no embedding support")
	}

	return c, nil
}

// NewWithModel wraps an existing model, mainly for tests.
func NewWithModel(model llms.Model, options Options) *Client {
	c := &Client{provider: options.Provider, llm: model, options: options}
	if ec, ok := model.(embeddings.EmbedderClient); ok {
		if emb, err := embeddings.NewEmbedder(ec); err == nil {
			c.embedder = emb
		}
	}
	return c
}

func createOpenAIModel(options Options) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.Model),
		openai.WithToken(options.APIKey),
	}
	if options.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(options.EmbeddingModel))
	}
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}
	return openai.New(opts...)
}

func createGeminiModel(ctx context.Context, options Options) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(options.APIKey),
	}
	if options.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(options.Model))
	}
	if options.EmbeddingModel != "" {
		opts = append(opts, googleai.WithDefaultEmbeddingModel(options.EmbeddingModel))
	}
	return googleai.New(ctx, opts...)
}

func createAnthropicModel(options Options) (llms.Model, error) {
	return anthropic.New(
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.Model),
	)
}

func createCohereModel(options Options) (llms.Model, error) {
	opts := []cohere.Option{
		cohere.WithToken(options.APIKey),
		cohere.WithModel(options.Model),
	}
	if options.BaseURL != "" {
		opts = append(opts, cohere.WithBaseURL(options.BaseURL))
	}
	return cohere.New(opts...)
}

func createOllamaModel(options Options) (llms.Model, error) {
	if options.BaseURL == "" {
		options.BaseURL = "http://localhost:11434"
	}
	return ollama.New(
		ollama.WithServerURL(options.BaseURL),
		ollama.WithModel(options.Model),
	)
}

func (c *Client) callOptions(temperature float64, maxTokens int) []llms.CallOption {
	if temperature == 0 {
		temperature = c.options.Temperature
	}
	if maxTokens == 0 {
		maxTokens = c.options.MaxTokens
	}
	opts := []llms.CallOption{llms.WithTemperature(temperature)}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}
	return opts
}

// Complete implements capability.Completer.
func (c *Client) Complete(ctx context.Context, req capability.CompletionRequest) (capability.Completion, error) {
	var msgs []llms.MessageContent
	if req.SystemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.UserPrompt))

	opts := c.callOptions(req.Temperature, req.MaxTokens)
	if len(req.Tools) > 0 {
		tools := make([]llms.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		opts = append(opts, llms.WithTools(tools))
	}

	resp, err := c.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return capability.Completion{}, err
	}
	return toCompletion(c.provider, resp)
}

func toCompletion(provider Provider, resp *llms.ContentResponse) (capability.Completion, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return capability.Completion{}, capability.Validationf("empty response from %s", provider)
	}
	choice := resp.Choices[0]
	out := capability.Completion{Text: choice.Content}

	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall != nil {
			out.ToolCall = &capability.ToolCall{Name: tc.FunctionCall.Name, Arguments: tc.FunctionCall.Arguments}
			break
		}
	}
	if out.ToolCall == nil && choice.FuncCall != nil {
		out.ToolCall = &capability.ToolCall{Name: choice.FuncCall.Name, Arguments: choice.FuncCall.Arguments}
	}
	return out, nil
}

// Embed implements capability.Embedder. Providers without an embedding
// endpoint report capability.ErrUnavailable.
func (c *Client) Embed(ctx context.Context, text string, dimensions int) ([]float32, error) {
	if c.embedder == nil {
		return nil, fmt.Errorf("%w: %s has no embeddings", capability.ErrUnavailable, c.provider)
	}
	return c.embedder.EmbedQuery(ctx, text)
}

// SupportsEmbeddings reports whether Embed can succeed.
func (c *Client) SupportsEmbeddings() bool { return c.embedder != nil }

// AnalyzeImage implements capability.ImageAnalyzer.
func (c *Client) AnalyzeImage(ctx context.Context, image []byte, prompt string) (string, error) {
	msgs := []llms.MessageContent{{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.BinaryPart(http.DetectContentType(image), image),
			llms.TextPart(prompt),
		},
	}}

	opts := c.callOptions(0.2, 0)
	if c.options.VisionModel != "" {
		opts = append(opts, llms.WithModel(c.options.VisionModel))
	}

	resp, err := c.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}
	out, err := toCompletion(c.provider, resp)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// Ping issues a minimal completion to check provider reachability.
func (c *Client) Ping(ctx context.Context) error {
	_, err := llms.GenerateFromSinglePrompt(ctx, c.llm, "ping", llms.WithMaxTokens(1))
	return err
}

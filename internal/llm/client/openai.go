package llmclient

import (
	"context"
	"errors"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"promptloop/internal/llm"
)

// OpenAIClient calls any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	cli            *openai.Client
	name           string
	model          string
	embeddingModel string
}

// NewOpenAIClient creates a client. BaseURL should be the full API base URL
// (e.g. "https://api.openai.com/v1").
func NewOpenAIClient(opts Options) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	cfg.HTTPClient = opts.httpClient()
	name := opts.Provider
	if name == "" {
		name = "openai"
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	embedding := opts.EmbeddingModel
	if embedding == "" {
		embedding = string(openai.SmallEmbedding3)
	}
	return &OpenAIClient{
		cli:            openai.NewClientWithConfig(cfg),
		name:           name,
		model:          model,
		embeddingModel: embedding,
	}
}

func (c *OpenAIClient) Name() string { return c.name + ":" + c.model }

func (c *OpenAIClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", llm.NewProviderError(c.Name(), llm.KindMalformed, err)
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	temp := float32(req.Temperature)
	if temp == 0 {
		// temperature is omitempty in the SDK; a zero would silently become the server default.
		temp = math.SmallestNonzeroFloat32
	}
	resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: temp,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", c.classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", llm.NewProviderError(c.Name(), llm.KindMalformed, errors.New("empty choice"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed implements llm.Embedder.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, c.classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, llm.NewProviderError(c.Name(), llm.KindMalformed, errors.New("embedding count mismatch"))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, llm.NewProviderError(c.Name(), llm.KindMalformed, errors.New("embedding index out of range"))
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *OpenAIClient) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := llm.KindFromStatus(apiErr.HTTPStatusCode); ok {
			return llm.NewProviderError(c.Name(), kind, err)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if kind, ok := llm.KindFromStatus(reqErr.HTTPStatusCode); ok {
			return llm.NewProviderError(c.Name(), kind, err)
		}
	}
	return llm.AsProviderError(c.Name(), err)
}

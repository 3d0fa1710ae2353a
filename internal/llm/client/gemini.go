package llmclient

import (
	"context"
	"errors"
	"strings"

	genai "google.golang.org/genai"

	"promptloop/internal/llm"
)

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient creates a client for the Gemini API. An empty apiKey lets
// genai read GEMINI_API_KEY / GOOGLE_API_KEY from the environment.
func NewGeminiClient(ctx context.Context, opts Options) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.httpClient(),
	}
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Name() string { return "gemini:" + g.model }

// Complete maps system messages onto the system instruction and the rest of
// the conversation onto user/model turns.
func (g *GeminiClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", llm.NewProviderError(g.Name(), llm.KindMalformed, err)
	}
	model := req.Model
	if model == "" {
		model = g.model
	}

	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}

	resp, err := g.cli.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", g.classify(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", llm.NewProviderError(g.Name(), llm.KindMalformed, errors.New("no candidates"))
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", llm.NewProviderError(g.Name(), llm.KindMalformed, errors.New("empty candidate"))
	}
	return b.String(), nil
}

func (g *GeminiClient) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := llm.KindFromStatus(apiErr.Code); ok {
			return llm.NewProviderError(g.Name(), kind, err)
		}
	}
	return llm.AsProviderError(g.Name(), err)
}

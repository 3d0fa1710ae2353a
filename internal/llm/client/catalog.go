package llmclient

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"promptloop/internal/llm"
)

// Factory builds a provider from options.
type Factory func(ctx context.Context, opts Options) (llm.Provider, error)

var factories = map[string]Factory{
	"openai": func(_ context.Context, opts Options) (llm.Provider, error) {
		if opts.APIKey == "" {
			opts.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAIClient(opts), nil
	},
	"groq": func(_ context.Context, opts Options) (llm.Provider, error) {
		return NewGroqClient(opts), nil
	},
	"gemini": func(ctx context.Context, opts Options) (llm.Provider, error) {
		if opts.APIKey == "" {
			opts.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		return NewGeminiClient(ctx, opts)
	},
}

// Providers lists the registered provider names.
func Providers() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds the provider named by opts.Provider.
func New(ctx context.Context, opts Options) (llm.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Provider))
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("llmclient: unknown provider %q (known: %s)", opts.Provider, strings.Join(Providers(), ", "))
	}
	opts.Provider = name
	return f(ctx, opts)
}

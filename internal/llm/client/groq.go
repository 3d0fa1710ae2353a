package llmclient

import "os"

const groqBaseURL = "https://api.groq.com/openai/v1"

// NewGroqClient returns an OpenAI-compatible client pointed at Groq. If the
// API key is empty it falls back to GROQ_API_KEY.
func NewGroqClient(opts Options) *OpenAIClient {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("GROQ_API_KEY")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = groqBaseURL
	}
	if opts.Model == "" {
		opts.Model = "llama-3.3-70b-versatile"
	}
	opts.Provider = "groq"
	return NewOpenAIClient(opts)
}

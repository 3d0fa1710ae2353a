// Package llmclient holds the concrete completion providers. Each client is a
// thin wrapper around a vendor SDK and only performs the API call itself;
// retries, logging, caching and tracing are applied via llm.Middleware.
package llmclient

import (
	"net/http"
	"time"
)

// Options configures a provider built through the catalog.
type Options struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// EmbeddingModel is used by providers that also implement llm.Embedder.
	EmbeddingModel string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

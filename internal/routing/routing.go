// Package routing picks the handler whose description is semantically
// closest to a query, using embedding cosine similarity.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"promptloop/internal/llm"
)

var (
	ErrNoRoutes   = errors.New("routing: no routes")
	ErrNoEmbedder = errors.New("routing: missing embedder")
)

// HandlerFunc answers a query routed to it.
type HandlerFunc func(ctx context.Context, query string) (string, error)

// Route is one destination.
type Route struct {
	Name        string
	Description string
	Handle      HandlerFunc
}

// Decision is the chosen route and every route's score, in registration order.
type Decision struct {
	Route  string    `json:"route"`
	Score  float64   `json:"score"`
	Scores []float64 `json:"scores"`
}

// Router embeds route descriptions once, on first use, and reuses them.
type Router struct {
	embedder llm.Embedder
	routes   []Route
	log      zerolog.Logger

	mu      sync.Mutex
	vectors [][]float32
}

// New builds a Router over routes.
func New(embedder llm.Embedder, logger zerolog.Logger, routes ...Route) *Router {
	return &Router{embedder: embedder, routes: append([]Route(nil), routes...), log: logger}
}

// Routes returns the registered routes in order.
func (r *Router) Routes() []Route { return append([]Route(nil), r.routes...) }

// Select returns the best route for query. Ties go to the route registered
// first.
func (r *Router) Select(ctx context.Context, query string) (Decision, error) {
	if len(r.routes) == 0 {
		return Decision{}, ErrNoRoutes
	}
	if r.embedder == nil {
		return Decision{}, ErrNoEmbedder
	}
	routeVecs, err := r.descriptionVectors(ctx)
	if err != nil {
		return Decision{}, err
	}
	q, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return Decision{}, fmt.Errorf("routing: embed query: %w", err)
	}
	if len(q) != 1 {
		return Decision{}, fmt.Errorf("routing: embed query: got %d vectors", len(q))
	}

	d := Decision{Scores: make([]float64, len(routeVecs))}
	best := -1
	for i, v := range routeVecs {
		s := Cosine(q[0], v)
		d.Scores[i] = s
		if best < 0 || s > d.Score {
			best, d.Score = i, s
		}
	}
	d.Route = r.routes[best].Name
	r.log.Debug().Str("route", d.Route).Float64("score", d.Score).Msg("query routed")
	return d, nil
}

// Dispatch selects a route and calls its handler.
func (r *Router) Dispatch(ctx context.Context, query string) (Decision, string, error) {
	d, err := r.Select(ctx, query)
	if err != nil {
		return d, "", err
	}
	for _, rt := range r.routes {
		if rt.Name != d.Route {
			continue
		}
		if rt.Handle == nil {
			return d, "", fmt.Errorf("routing: route %q has no handler", rt.Name)
		}
		out, err := rt.Handle(ctx, query)
		return d, out, err
	}
	return d, "", fmt.Errorf("routing: route %q vanished", d.Route)
}

func (r *Router) descriptionVectors(ctx context.Context) ([][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vectors != nil {
		return r.vectors, nil
	}
	texts := make([]string, len(r.routes))
	for i, rt := range r.routes {
		texts[i] = rt.Description
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("routing: embed routes: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("routing: embed routes: got %d vectors for %d routes", len(vecs), len(texts))
	}
	r.vectors = vecs
	return vecs, nil
}

// Cosine returns the cosine similarity of a and b. A zero-norm vector scores
// 0; vectors of different length are compared over their common prefix.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

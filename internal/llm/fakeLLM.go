package llm

import (
	"context"
	"sync"
)

// Reply is one scripted outcome of FakeProvider.
type Reply struct {
	Text string
	Err  error
}

// FakeProvider replays scripted replies in order for offline runs and tests.
// Once the script is exhausted the last reply repeats; an empty script
// answers with a malformed-response error.
type FakeProvider struct {
	mu       sync.Mutex
	replies  []Reply
	next     int
	requests []Request
}

// NewFakeProvider returns a provider that answers with replies in order.
func NewFakeProvider(replies ...Reply) *FakeProvider {
	return &FakeProvider{replies: replies}
}

// Texts is a shorthand for successful replies.
func Texts(texts ...string) []Reply {
	out := make([]Reply, len(texts))
	for i, t := range texts {
		out[i] = Reply{Text: t}
	}
	return out
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.Clone())
	if len(f.replies) == 0 {
		return "", NewProviderError(f.Name(), KindMalformed, nil)
	}
	idx := f.next
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	} else {
		f.next++
	}
	r := f.replies[idx]
	return r.Text, r.Err
}

// Requests returns copies of every request received so far.
func (f *FakeProvider) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.Clone()
	}
	return out
}

// Calls returns the number of Complete invocations.
func (f *FakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

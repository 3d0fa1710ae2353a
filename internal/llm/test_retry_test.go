package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userReq(text string) Request {
	return Request{Model: "m", Messages: []Message{User(text)}}
}

func TestRetry_RecoversAfterTransientFailures(t *testing.T) {
	fake := NewFakeProvider(
		Reply{Err: NewProviderError("fake", KindTimeout, nil)},
		Reply{Err: NewProviderError("fake", KindRateLimit, nil)},
		Reply{Text: "ok"},
	)
	var notified []ErrorKind
	p := Wrap(fake, Retry(3, 0, func(_ int, err *ProviderError) { notified = append(notified, err.Kind) }))

	out, err := p.Complete(context.Background(), userReq("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, fake.Calls())
	assert.Equal(t, []ErrorKind{KindTimeout, KindRateLimit}, notified)
}

func TestRetry_SameRequestEachAttempt(t *testing.T) {
	fake := NewFakeProvider(Reply{Err: NewProviderError("fake", KindTimeout, nil)}, Reply{Text: "ok"})
	p := Wrap(fake, Retry(3, 0, nil))
	_, err := p.Complete(context.Background(), userReq("same"))
	require.NoError(t, err)
	reqs := fake.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0], reqs[1])
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := NewFakeProvider(Reply{Err: errors.New("boom")})
	p := Wrap(fake, Retry(3, 0, nil))
	_, err := p.Complete(context.Background(), userReq("hi"))
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindMalformed, pe.Kind)
	assert.Equal(t, 3, fake.Calls())
}

func TestRetry_AuthErrorIsNotRetried(t *testing.T) {
	fake := NewFakeProvider(Reply{Err: NewProviderError("fake", KindAuth, errors.New("bad key"))}, Reply{Text: "never"})
	p := Wrap(fake, Retry(3, 0, nil))
	_, err := p.Complete(context.Background(), userReq("hi"))
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindAuth, pe.Kind)
	assert.Equal(t, 1, fake.Calls())
}

func TestRetry_BlankCompletionIsMalformed(t *testing.T) {
	fake := NewFakeProvider(Texts("  ", "", "done")...)
	p := Wrap(fake, Retry(3, 0, nil))
	out, err := p.Complete(context.Background(), userReq("hi"))
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 3, fake.Calls())
}

func TestRetry_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := NewFakeProvider(Reply{Text: "x"})
	p := Wrap(fake, Retry(3, 0, nil))
	_, err := p.Complete(ctx, userReq("hi"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWrap_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Provider) Provider {
			return ProviderFunc(func(ctx context.Context, req Request) (string, error) {
				order = append(order, name)
				return next.Complete(ctx, req)
			})
		}
	}
	p := Wrap(NewFakeProvider(Texts("x")...), mark("a"), mark("b"))
	_, err := p.Complete(context.Background(), userReq("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRequestValidate(t *testing.T) {
	assert.ErrorIs(t, Request{}.Validate(), ErrNoMessages)
	r := userReq("x")
	r.Temperature = 2.5
	assert.ErrorIs(t, r.Validate(), ErrInvalidTemperature)
	r.Temperature = 0.7
	assert.NoError(t, r.Validate())
}

func TestKindFromStatus(t *testing.T) {
	cases := map[int]ErrorKind{401: KindAuth, 403: KindAuth, 429: KindRateLimit, 503: KindTimeout, 400: KindMalformed}
	for status, want := range cases {
		got, ok := KindFromStatus(status)
		assert.True(t, ok, status)
		assert.Equal(t, want, got, status)
	}
	_, ok := KindFromStatus(200)
	assert.False(t, ok)
}

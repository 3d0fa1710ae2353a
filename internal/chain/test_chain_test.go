package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptloop/internal/audit"
	"promptloop/internal/llm"
	"promptloop/internal/prompt"
	"promptloop/internal/schema"
)

type memorySink struct{ entries []audit.Entry }

func (m *memorySink) Record(_ context.Context, e audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}
func (m *memorySink) Close() error { return nil }

var severitySchema = &schema.Schema{Fields: []schema.Field{
	{Name: "severity", Kind: schema.KindString, Required: true},
	{Name: "est_cost", Kind: schema.KindFloat, Required: true},
}}

func costInRange(rec schema.Record) error {
	limits := map[string][2]float64{"Low": {100, 1000}, "Medium": {1000, 5000}, "High": {5000, 50000}}
	sev, _ := rec["severity"].(string)
	cost, _ := rec["est_cost"].(float64)
	r, ok := limits[sev]
	if !ok {
		return fmt.Errorf("unknown severity %q", sev)
	}
	if cost < r[0] || cost > r[1] {
		return fmt.Errorf("cost %.0f out of range for %s severity", cost, sev)
	}
	return nil
}

func claimChain(p llm.Provider, sink audit.Sink) *Chain {
	return &Chain{
		Name:     "claims",
		Provider: p,
		Sink:     sink,
		Steps: []Step{
			{Name: "summary", Prompt: Template(prompt.Structured{Purpose: "Summarize the claim."}), Gate: NonEmpty},
			{
				Name:   "severity",
				Prompt: Template(prompt.Structured{Purpose: "Assess the claim severity."}),
				Gate:   SchemaGate(nil, severitySchema, costInRange),
			},
			{Name: "reply", Prompt: func(input string, prev []Output) (string, error) {
				return "Write a reply for:\n" + Describe(prev), nil
			}},
		},
	}
}

func TestChain_RunsStepsInOrder(t *testing.T) {
	fake := llm.NewFakeProvider(llm.Texts(
		"  Rear bumper damage.  ",
		"```json\n{\"severity\":\"Low\",\"est_cost\":450}\n```",
		"Dear customer, ...",
	)...)
	sink := &memorySink{}

	out, err := claimChain(fake, sink).Run(context.Background(), "My bumper was hit.")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "Rear bumper damage.", out[0].Value)
	assert.Equal(t, schema.Record{"severity": "Low", "est_cost": 450.0}, out[1].Value)
	assert.Equal(t, "Dear customer, ...", Last(out))

	reqs := fake.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[0].Messages[0].Content, "[INPUT]\nMy bumper was hit.")
	assert.Contains(t, reqs[1].Messages[0].Content, `"summary": "Rear bumper damage."`)
	assert.Equal(t, "Write a reply for:\nsummary: \"Rear bumper damage.\"\nseverity: {\"est_cost\":450,\"severity\":\"Low\"}", reqs[2].Messages[0].Content)

	require.Len(t, sink.entries, 3)
	for i, e := range sink.entries {
		assert.Equal(t, audit.KindChainStep, e.Kind)
		assert.Equal(t, i, e.Index)
		assert.Equal(t, "passed", e.Status)
	}
}

func TestChain_GateFailureStops(t *testing.T) {
	fake := llm.NewFakeProvider(llm.Texts(
		"summary",
		`{"severity":"Low","est_cost":9000}`,
		"never sent",
	)...)
	sink := &memorySink{}

	out, err := claimChain(fake, sink).Run(context.Background(), "claim")
	var ge *GateError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "severity", ge.Step)
	assert.Equal(t, 1, ge.Index)
	assert.Contains(t, err.Error(), "out of range for Low severity")
	assert.Len(t, out, 2)
	assert.Equal(t, 2, fake.Calls())
	assert.Equal(t, "gate_failed", sink.entries[1].Status)
}

func TestChain_SchemaGateErrors(t *testing.T) {
	gate := SchemaGate(nil, severitySchema)
	_, err := gate(context.Background(), "no json here")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = gate(context.Background(), `{"severity":"Low"}`)
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "est_cost", verr.Errors[0].Path)

	_, err = NonEmpty(context.Background(), " \n")
	assert.Error(t, err)
}

func TestChain_ProviderFailure(t *testing.T) {
	fake := llm.NewFakeProvider(llm.Reply{Err: llm.NewProviderError("fake", llm.KindAuth, nil)})
	out, err := claimChain(fake, nil).Run(context.Background(), "claim")
	require.Error(t, err)
	var pe *llm.ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Empty(t, out)

	_, err = (&Chain{Provider: fake}).Run(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoSteps)
	_, err = (&Chain{Steps: []Step{{}}}).Run(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoProvider)
}

package llmtool

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"promptloop/internal/extract"
	"promptloop/internal/util/jsonutil"
)

var ErrMalformedAction = errors.New("llmtool: malformed action")

// ActionKind is either a tool call or a final answer.
type ActionKind string

const (
	ActionTool  ActionKind = "tool"
	ActionFinal ActionKind = "final"
)

// Action is a parsed model response.
type Action struct {
	Kind  ActionKind
	Call  ToolCall
	Final string
}

// ActionEnvelope is the JSON response shape the tool prompt asks for.
type ActionEnvelope struct {
	Action    string          `json:"action,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Final     json.RawMessage `json:"final,omitempty"`
}

var (
	reAction      = regexp.MustCompile(`(?m)^[ \t]*Action:[ \t]*(.+?)[ \t]*$`)
	reActionInput = regexp.MustCompile(`(?s)Action Input:[ \t]*(.*?)(?:\n[ \t]*Observation:|\z)`)
	reFinalAnswer = regexp.MustCompile(`(?s)Final Answer:[ \t]*(.*)`)
)

// ParseAction reads either ReAct text ("Action:" / "Action Input:" /
// "Final Answer:") or a JSON action envelope. When ReAct text carries both an
// action and a final answer the action wins.
func ParseAction(text string) (Action, error) {
	if m := reAction.FindStringSubmatch(text); m != nil {
		return parseReActCall(text, m[1])
	}
	if m := reFinalAnswer.FindStringSubmatch(text); m != nil {
		final := strings.TrimSpace(m[1])
		if final == "" {
			return Action{}, fmt.Errorf("%w: empty final answer", ErrMalformedAction)
		}
		return Action{Kind: ActionFinal, Final: final}, nil
	}

	res := extract.Extract(text)
	obj, ok := res.Value.(map[string]any)
	if !res.Found || !ok {
		return Action{}, fmt.Errorf("%w: no action, final answer or JSON object found", ErrMalformedAction)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	var env ActionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	return env.action(raw)
}

func (env ActionEnvelope) action(raw json.RawMessage) (Action, error) {
	args := env.Arguments
	if len(args) == 0 {
		args = env.ToolInput
	}
	// An object without any envelope field is a direct answer.
	if env.Action == "" && env.ToolName == "" && len(env.Final) == 0 {
		return Action{Kind: ActionFinal, Final: string(raw)}, nil
	}
	if env.Action == "" {
		switch {
		case len(env.Final) > 0:
			env.Action = string(ActionFinal)
		case env.ToolName != "":
			env.Action = string(ActionTool)
		}
	}
	switch ActionKind(env.Action) {
	case ActionFinal:
		return Action{Kind: ActionFinal, Final: finalText(env.Final)}, nil
	case ActionTool:
		name := strings.TrimSpace(env.ToolName)
		if name == "" {
			return Action{}, fmt.Errorf("%w: tool_name required", ErrMalformedAction)
		}
		m, err := decodeArguments(args)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionTool, Call: ToolCall{Name: name, Arguments: m}}, nil
	default:
		return Action{}, fmt.Errorf("%w: invalid action %q", ErrMalformedAction, env.Action)
	}
}

func parseReActCall(text, name string) (Action, error) {
	name = strings.Trim(strings.TrimSpace(name), "`\"'")
	if name == "" {
		return Action{}, fmt.Errorf("%w: empty action name", ErrMalformedAction)
	}
	var input string
	if m := reActionInput.FindStringSubmatch(text); m != nil {
		input = strings.TrimSpace(m[1])
		if block, ok := extract.CodeBlock(input); ok {
			input = block
		}
	}
	args, err := decodeArguments(json.RawMessage(input))
	if err != nil {
		return Action{}, err
	}
	return Action{Kind: ActionTool, Call: ToolCall{Name: name, Arguments: args}}, nil
}

// decodeArguments accepts an object; any other JSON value is passed as
// {"input": value}. Empty input means no arguments.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: arguments are not JSON: %v", ErrMalformedAction, err)
	}
	switch x := v.(type) {
	case map[string]any:
		return x, nil
	case nil:
		return map[string]any{}, nil
	default:
		return map[string]any{"input": x}, nil
	}
}

func finalText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return jsonutil.Compact(v)
	}
	return string(raw)
}

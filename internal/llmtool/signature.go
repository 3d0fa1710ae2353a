package llmtool

import "promptloop/internal/util/jsonutil"

// ToolCall is a tool name with decoded arguments.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Signature identifies a call by name and canonical argument JSON (sorted
// keys, no HTML escaping), so {"b":1,"a":2} and {"a":2,"b":1} collide.
func (c ToolCall) Signature() string {
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	norm, err := jsonutil.Normalize(args)
	if err != nil {
		return c.Name + "(" + jsonutil.Compact(args) + ")"
	}
	return c.Name + "(" + jsonutil.Compact(norm) + ")"
}

// repeated reports whether sig matches one of the last window entries of
// history.
func repeated(history []string, sig string, window int) bool {
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	for _, h := range history[start:] {
		if h == sig {
			return true
		}
	}
	return false
}

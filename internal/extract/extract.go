// Package extract normalizes free-form LLM text into a single JSON value.
//
// The pipeline is staged; every stage is a no-op when its marker is absent:
//
//  1. trim surrounding whitespace
//  2. keep the text after the last section marker ("FINAL OUTPUT:")
//  3. keep the interior of the first fenced block (structured-data tags win)
//  4. parse JSON, then unwrap the final-output key one level or drop the
//     scratch key
//
// Extraction never fails: a Result without a value records in Path where the
// pipeline gave up.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config names the markers the pipeline looks for.
type Config struct {
	SectionMarker string
	DataTags      []string
	FinalKey      string
	ScratchKey    string
}

// DefaultConfig returns the markers used by the prompt templates.
func DefaultConfig() Config {
	return Config{
		SectionMarker: "FINAL OUTPUT:",
		DataTags:      []string{"json"},
		FinalKey:      "FINAL_OUTPUT",
		ScratchKey:    "ANALYSIS",
	}
}

// Result is the outcome of one extraction.
type Result struct {
	Raw   string
	Value any
	Found bool
	// Path lists the transformations applied, in order.
	Path []string
}

// Extractor runs the pipeline with a fixed configuration.
type Extractor struct {
	cfg Config
}

// New builds an Extractor. Empty config fields fall back to DefaultConfig.
func New(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.SectionMarker == "" {
		cfg.SectionMarker = def.SectionMarker
	}
	if len(cfg.DataTags) == 0 {
		cfg.DataTags = def.DataTags
	}
	if cfg.FinalKey == "" {
		cfg.FinalKey = def.FinalKey
	}
	if cfg.ScratchKey == "" {
		cfg.ScratchKey = def.ScratchKey
	}
	return &Extractor{cfg: cfg}
}

var std = New(DefaultConfig())

// Extract runs the default pipeline.
func Extract(raw string) Result { return std.Extract(raw) }

// Extract runs the pipeline over raw.
func (e *Extractor) Extract(raw string) Result {
	res := Result{Raw: raw}
	text := strings.TrimSpace(raw)
	if text != raw {
		res.Path = append(res.Path, "trimmed whitespace")
	}
	if text == "" {
		res.Path = append(res.Path, "empty input")
		return res
	}

	if after, ok := e.afterLastMarker(text); ok {
		text = after
		res.Path = append(res.Path, fmt.Sprintf("kept text after last %q", e.cfg.SectionMarker))
	}

	if block, ok := firstBlock(text, e.cfg.DataTags); ok {
		text = block.body
		res.Path = append(res.Path, "stripped markdown fence"+tagSuffix(block.tag))
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		res.Path = append(res.Path, "json parse failed: "+err.Error())
		return res
	}
	res.Path = append(res.Path, "parsed json")

	if obj, ok := v.(map[string]any); ok {
		if inner, ok := obj[e.cfg.FinalKey]; ok {
			v = inner
			res.Path = append(res.Path, "unwrapped key "+e.cfg.FinalKey)
		} else if _, ok := obj[e.cfg.ScratchKey]; ok && len(obj) > 1 {
			rest := make(map[string]any, len(obj)-1)
			for k, val := range obj {
				if k != e.cfg.ScratchKey {
					rest[k] = val
				}
			}
			v = rest
			res.Path = append(res.Path, "dropped key "+e.cfg.ScratchKey)
		}
	}

	if s, ok := v.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &inner); err == nil && isContainer(inner) {
			v = inner
			res.Path = append(res.Path, "decoded embedded json string")
		}
	}
	if !isContainer(v) {
		res.Path = append(res.Path, fmt.Sprintf("value is %s, not an object or array", kindOf(v)))
		return res
	}
	res.Value = v
	res.Found = true
	return res
}

// afterLastMarker matches the marker literally, case included.
func (e *Extractor) afterLastMarker(text string) (string, bool) {
	i := strings.LastIndex(text, e.cfg.SectionMarker)
	if i < 0 {
		return "", false
	}
	return strings.TrimSpace(text[i+len(e.cfg.SectionMarker):]), true
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

func tagSuffix(tag string) string {
	if tag == "" {
		return ""
	}
	return " (" + tag + ")"
}

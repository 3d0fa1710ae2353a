package extract

import (
	"regexp"
	"strings"
)

// reFence matches a closed markdown fence; group 1 is the info string's
// language tag, group 2 the body. The body starts after the info line, or
// after the tag on a single-line fence such as ```json {"a": 1}```.
var reFence = regexp.MustCompile("(?s)```[ \\t]*([A-Za-z0-9_+.-]*)(?:[^\\n`]*\\n|[ \\t]+|)(.*?)```")

type block struct {
	tag  string
	body string
}

func blocks(text string) []block {
	matches := reFence.FindAllStringSubmatch(text, -1)
	out := make([]block, 0, len(matches))
	for _, m := range matches {
		out = append(out, block{tag: strings.ToLower(m[1]), body: strings.TrimSpace(m[2])})
	}
	return out
}

// firstBlock returns the first block tagged with one of tags, else the first
// block of any tag. Only the first candidate is ever considered; no attempt
// is made to pick the "best" block.
func firstBlock(text string, tags []string) (block, bool) {
	all := blocks(text)
	if len(all) == 0 {
		return block{}, false
	}
	for _, b := range all {
		for _, t := range tags {
			if b.tag == strings.ToLower(t) {
				return b, true
			}
		}
	}
	return all[0], true
}

// CodeBlock returns the interior of the first fenced block tagged with one of
// langs, else of the first fenced block. ok is false when text has no fence.
func CodeBlock(text string, langs ...string) (string, bool) {
	b, ok := firstBlock(text, langs)
	if !ok {
		return "", false
	}
	return b.body, true
}

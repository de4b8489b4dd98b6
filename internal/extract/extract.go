// Package extract pulls fenced code blocks out of raw assistant text.
//
// The generation service is instructed to answer with exactly one ```jsx
// block and one ```css block, but nothing here assumes the instruction is
// honored: missing or mistagged fences simply yield empty results.
package extract

import "regexp"

var (
	markupFence = regexp.MustCompile("(?s)```(?:jsx|tsx)[ \t]*\n(.*?)\n?```")
	styleFence  = regexp.MustCompile("(?s)```css[ \t]*\n(.*?)\n?```")
)

// Result holds the contents of the first matching fenced block per language.
// An empty string means no block of that language was found.
type Result struct {
	Markup string
	Style  string
}

// HasMarkup reports whether a jsx/tsx block was extracted.
func (r Result) HasMarkup() bool { return r.Markup != "" }

// HasStyle reports whether a css block was extracted.
func (r Result) HasStyle() bool { return r.Style != "" }

// Extract scans text for the first fenced block tagged jsx or tsx and,
// independently, the first tagged css. Matching is non-greedy: each capture
// stops at the nearest closing fence, so only the first block per language
// counts. Inner content is returned verbatim with the fence markers stripped.
// Malformed input never errors, it just produces no match.
func Extract(text string) Result {
	var res Result
	if m := markupFence.FindStringSubmatch(text); m != nil {
		res.Markup = m[1]
	}
	if m := styleFence.FindStringSubmatch(text); m != nil {
		res.Style = m[1]
	}
	return res
}

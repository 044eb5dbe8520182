// Package codemode implements the Codemode processor: it detects
// <codemode>...</codemode> blocks in assistant output, evaluates them in a
// sandboxed JavaScript runtime populated with capabilities and registered
// tools, surfaces results back into the log as developer messages, and
// polls deferred blocks on clock ticks (spec.md §4.6).
package codemode

import "strings"

const (
	openTag  = "<codemode>"
	closeTag = "</codemode>"
)

// ExtractBlocks finds every <codemode>...</codemode> block in text, in
// left-to-right order, returning the source between the delimiters
// (exclusive) for each (spec.md §4.6.1). An unterminated final block is
// ignored: it may still be accumulating via text-delta events.
func ExtractBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		start := strings.Index(rest, openTag)
		if start < 0 {
			return blocks
		}
		rest = rest[start+len(openTag):]
		end := strings.Index(rest, closeTag)
		if end < 0 {
			return blocks
		}
		blocks = append(blocks, rest[:end])
		rest = rest[end+len(closeTag):]
	}
}

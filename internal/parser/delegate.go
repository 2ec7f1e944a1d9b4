package parser

import (
	"regexp"
	"sort"
	"strings"
)

// Delegation is one extracted @delegate command.
type Delegation struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

var (
	delegateDoubleRe = regexp.MustCompile(`@delegate\(\s*([^,]+?)\s*,\s*"((?:[^"\\]|\\.)*)"\s*\)`)
	delegateSingleRe = regexp.MustCompile(`@delegate\(\s*([^,]+?)\s*,\s*'((?:[^'\\]|\\.)*)'\s*\)`)

	fencedBlockRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe  = regexp.MustCompile("`[^`\n]*`")
	openFenceRe   = regexp.MustCompile("(?s)```.*$")
)

// ParseDelegations extracts @delegate(Agent, "task") commands in textual
// order. Text inside fenced code blocks and inline code spans is excluded, so
// documentation and examples in the model's prose never trigger delegations.
//
// In the streaming path this is called on a monotonically growing prefix of
// the output; the caller acts only on indices it has not dispatched yet. An
// unterminated fence excludes everything after its opening, which keeps
// earlier indices stable once the fence closes.
func ParseDelegations(text string) []Delegation {
	masked := maskCode(text)

	type posMatch struct {
		start int
		d     Delegation
	}
	var found []posMatch
	for _, re := range []*regexp.Regexp{delegateDoubleRe, delegateSingleRe} {
		for _, m := range re.FindAllStringSubmatchIndex(masked, -1) {
			found = append(found, posMatch{
				start: m[0],
				d: Delegation{
					Agent: strings.TrimSpace(masked[m[2]:m[3]]),
					Task:  unescape(masked[m[4]:m[5]]),
				},
			})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].start < found[j].start })

	out := make([]Delegation, 0, len(found))
	for _, f := range found {
		out = append(out, f.d)
	}
	return out
}

// maskCode blanks fenced blocks and inline code spans with spaces, keeping
// every remaining character at its original offset.
func maskCode(text string) string {
	masked := fencedBlockRe.ReplaceAllStringFunc(text, blank)
	masked = openFenceRe.ReplaceAllStringFunc(masked, blank)
	masked = inlineCodeRe.ReplaceAllStringFunc(masked, blank)
	return masked
}

func blank(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] != '\n' {
			b[i] = ' '
		}
	}
	return string(b)
}

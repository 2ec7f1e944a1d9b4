// Package parser extracts tool invocations and delegation commands from
// free-form model output. The wire protocol with the model is plain text, so
// both parsers stay string-level, pure, and total: no input produces an error
// or a partial result.
package parser

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// Tool names the dispatcher understands.
const (
	ToolReadFile    = "read_file"
	ToolWriteFile   = "write_file"
	ToolAppendFile  = "append_file"
	ToolListDir     = "list_dir"
	ToolSearchFiles = "search_files"
	ToolRunCommand  = "run_command"
	ToolReportError = "report_error"
)

// ToolCall is one extracted tool invocation with a positional argument vector.
type ToolCall struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// argKeys maps each tool to the named-argument aliases used to build its
// positional vector from JSON blocks.
var argKeys = map[string][][]string{
	ToolReadFile:    {{"path", "file", "filename"}},
	ToolWriteFile:   {{"path", "file", "filename"}, {"content"}},
	ToolAppendFile:  {{"path", "file", "filename"}, {"content"}},
	ToolListDir:     {{"path", "file", "filename"}},
	ToolSearchFiles: {{"pattern", "glob"}, {"query", "search"}},
	ToolRunCommand:  {{"command", "cmd"}},
	ToolReportError: {{"description", "message", "error"}},
}

var (
	jsonBlockRe = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

	// Inline sub-forms, in priority order. Multiline triple-quoted content
	// first so its body is never re-scanned by the narrower forms.
	multilineRe    = regexp.MustCompile(`@(write_file|append_file)\(\s*([^,\n]+?)\s*,\s*"""((?s:.*?))"""\s*\)`)
	searchRe       = regexp.MustCompile(`@search_files\(\s*([^,()\n]+?)\s*,\s*([^)\n]+?)\s*\)`)
	doubleQuotedRe = regexp.MustCompile(`@(read_file|list_dir|run_command|report_error)\(\s*"((?:[^"\\]|\\.)*)"\s*\)`)
	singleQuotedRe = regexp.MustCompile(`@(read_file|list_dir|run_command|report_error)\(\s*'((?:[^'\\]|\\.)*)'\s*\)`)
	unquotedRe     = regexp.MustCompile(`@(read_file|list_dir|run_command|report_error)\(([^)\n]*)\)`)
)

// Wrapper prefixes some models emit around inline invocations.
var wrapperPrefixes = []string{
	"<tool_call>", "</tool_call>", "<|tool_call|>", "<tool_use>",
	"[TOOL_CALL]", "[TOOL_CALLS]",
}

type spanMatch struct {
	start  int
	end    int
	call   ToolCall
	quoted bool
}

// ParseToolCalls extracts tool invocations in textual order. JSON blocks are
// consumed first; whatever they leave behind is scanned for inline @tool
// forms. The function never fails: malformed blocks and unknown names are
// skipped.
func ParseToolCalls(text string) []ToolCall {
	var matches []spanMatch

	// Phase 1: <tool_call> JSON blocks. Parsed blocks are blanked out so
	// phase 2 does not rescan their bodies; malformed blocks fall through.
	buf := []byte(text)
	for _, m := range jsonBlockRe.FindAllStringSubmatchIndex(text, -1) {
		call, ok := parseJSONBlock(text[m[2]:m[3]])
		if !ok {
			continue
		}
		matches = append(matches, spanMatch{start: m[0], end: m[1], call: call, quoted: true})
		for i := m[0]; i < m[1]; i++ {
			buf[i] = ' '
		}
	}
	remainder := string(buf)

	// Wrapper prefixes are blanked in place so inline spans keep their
	// offsets relative to the original text.
	for _, prefix := range wrapperPrefixes {
		for {
			idx := strings.Index(remainder, prefix)
			if idx < 0 {
				break
			}
			remainder = remainder[:idx] + strings.Repeat(" ", len(prefix)) + remainder[idx+len(prefix):]
		}
	}

	// Phase 2: inline invocations, collected with spans so higher-priority
	// forms shadow the overlapping narrower ones.
	consumed := func(start, end int) bool {
		for _, m := range matches {
			if start < m.end && end > m.start {
				return true
			}
		}
		return false
	}

	for _, m := range multilineRe.FindAllStringSubmatchIndex(remainder, -1) {
		matches = append(matches, spanMatch{
			start: m[0], end: m[1], quoted: true,
			call: ToolCall{
				Name: remainder[m[2]:m[3]],
				Args: []string{trimArg(remainder[m[4]:m[5]]), remainder[m[6]:m[7]]},
			},
		})
	}
	for _, m := range searchRe.FindAllStringSubmatchIndex(remainder, -1) {
		if consumed(m[0], m[1]) {
			continue
		}
		matches = append(matches, spanMatch{
			start: m[0], end: m[1], quoted: true,
			call: ToolCall{
				Name: ToolSearchFiles,
				Args: []string{trimArg(remainder[m[2]:m[3]]), trimArg(remainder[m[4]:m[5]])},
			},
		})
	}
	for _, re := range []*regexp.Regexp{doubleQuotedRe, singleQuotedRe} {
		for _, m := range re.FindAllStringSubmatchIndex(remainder, -1) {
			if consumed(m[0], m[1]) {
				continue
			}
			matches = append(matches, spanMatch{
				start: m[0], end: m[1], quoted: true,
				call: ToolCall{
					Name: remainder[m[2]:m[3]],
					Args: []string{unescape(remainder[m[4]:m[5]])},
				},
			})
		}
	}
	for _, m := range unquotedRe.FindAllStringSubmatchIndex(remainder, -1) {
		if consumed(m[0], m[1]) {
			continue
		}
		matches = append(matches, spanMatch{
			start: m[0], end: m[1], quoted: false,
			call: ToolCall{
				Name: remainder[m[2]:m[3]],
				Args: []string{trimArg(remainder[m[4]:m[5]])},
			},
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	// A later unquoted match duplicating an earlier quoted (tool, arg) pair
	// is the quoted call echoed without its quotes; suppress it.
	var calls []ToolCall
	seenQuoted := make(map[string]bool, len(matches))
	for _, m := range matches {
		key := m.call.Name + "\x00" + strings.Join(m.call.Args, "\x00")
		if !m.quoted && seenQuoted[key] {
			continue
		}
		if m.quoted {
			seenQuoted[key] = true
		}
		calls = append(calls, m.call)
	}
	return calls
}

// parseJSONBlock decodes one <tool_call> body. arguments may be a JSON object
// or a stringified one.
func parseJSONBlock(inner string) (ToolCall, bool) {
	var block struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner)), &block); err != nil {
		return ToolCall{}, false
	}
	keys, known := argKeys[block.Name]
	if !known {
		return ToolCall{}, false
	}

	args := map[string]any{}
	if len(block.Arguments) > 0 {
		if err := json.Unmarshal(block.Arguments, &args); err != nil {
			// Stringified JSON: unquote, then decode.
			var s string
			if err := json.Unmarshal(block.Arguments, &s); err != nil {
				return ToolCall{}, false
			}
			if err := json.Unmarshal([]byte(s), &args); err != nil {
				return ToolCall{}, false
			}
		}
	}

	vector := make([]string, 0, len(keys))
	for _, aliases := range keys {
		var val string
		for _, k := range aliases {
			if v, ok := args[k]; ok {
				if s, ok := v.(string); ok {
					val = s
				}
				break
			}
		}
		vector = append(vector, val)
	}
	return ToolCall{Name: block.Name, Args: vector}, true
}

// trimArg trims whitespace and surrounding quotes from an unquoted argument.
func trimArg(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, `'`} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// unescape resolves backslash escapes inside a quoted argument.
func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// FormatToolCall renders a call in the documented inline form. Parsing the
// output yields the original call back.
func FormatToolCall(call ToolCall) string {
	switch call.Name {
	case ToolWriteFile, ToolAppendFile:
		path, content := "", ""
		if len(call.Args) > 0 {
			path = call.Args[0]
		}
		if len(call.Args) > 1 {
			content = call.Args[1]
		}
		return "@" + call.Name + "(" + path + `, """` + content + `""")`
	case ToolSearchFiles:
		pattern, query := "", ""
		if len(call.Args) > 0 {
			pattern = call.Args[0]
		}
		if len(call.Args) > 1 {
			query = call.Args[1]
		}
		return "@" + call.Name + "(" + pattern + ", " + query + ")"
	default:
		arg := ""
		if len(call.Args) > 0 {
			arg = call.Args[0]
		}
		escaped := strings.ReplaceAll(arg, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		return "@" + call.Name + `("` + escaped + `")`
	}
}

package parser

import (
	"reflect"
	"testing"
)

func TestParseDelegationsBasic(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Delegation
	}{
		{
			name: "double quoted",
			text: `I'll split this up. @delegate(Developer, "implement the parser")`,
			want: []Delegation{{Agent: "Developer", Task: "implement the parser"}},
		},
		{
			name: "single quoted",
			text: `@delegate(QA, 'run the test suite')`,
			want: []Delegation{{Agent: "QA", Task: "run the test suite"}},
		},
		{
			name: "escaped quotes in task",
			text: `@delegate(Dev, "fix the \"flaky\" test")`,
			want: []Delegation{{Agent: "Dev", Task: `fix the "flaky" test`}},
		},
		{
			name: "agent name trimmed up to first comma",
			text: `@delegate(  Senior Developer ,"refactor storage")`,
			want: []Delegation{{Agent: "Senior Developer", Task: "refactor storage"}},
		},
		{
			name: "multiple in textual order",
			text: `@delegate(A, "first") then @delegate(B, "second") and @delegate(A, "third")`,
			want: []Delegation{
				{Agent: "A", Task: "first"},
				{Agent: "B", Task: "second"},
				{Agent: "A", Task: "third"},
			},
		},
		{
			name: "trailing junk after quote rejects match",
			text: `@delegate(A, "task" extra)`,
			want: []Delegation{},
		},
		{
			name: "no delegations",
			text: "Nothing to hand off here.",
			want: []Delegation{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDelegations(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseDelegations(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseDelegationsFencedBlockExcluded(t *testing.T) {
	text := "Here is how delegation works:\n" +
		"```\n@delegate(Developer, \"example task\")\n```\n" +
		"Now for real: @delegate(QA, \"run tests\")"
	got := ParseDelegations(text)
	want := []Delegation{{Agent: "QA", Task: "run tests"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestParseDelegationsInlineCodeExcluded(t *testing.T) {
	text := "Use `@delegate(X, \"doc\")` syntax. @delegate(Y, \"real\")"
	got := ParseDelegations(text)
	want := []Delegation{{Agent: "Y", Task: "real"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestParseDelegationsPrependedFenceInvariant(t *testing.T) {
	// Prepending any fenced block must not change the result.
	base := `@delegate(Dev, "build it") prose @delegate(QA, "check it")`
	prefix := "```\n@delegate(Phantom, \"never\")\n@delegate(Ghost, 'nope')\n```\n"

	got := ParseDelegations(prefix + base)
	want := ParseDelegations(base)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("with fence = %+v, without = %+v", got, want)
	}
}

func TestParseDelegationsUnterminatedFenceExcludesTail(t *testing.T) {
	text := "so far so good @delegate(A, \"one\")\n```\n@delegate(B, \"inside\")"
	got := ParseDelegations(text)
	want := []Delegation{{Agent: "A", Task: "one"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestParseDelegationsIncrementalPrefixStability(t *testing.T) {
	full := `first @delegate(A, "one") middle @delegate(B, "two") end`

	// Feed growing prefixes; delegations already seen must keep their index
	// and content at every step.
	var prev []Delegation
	for i := 0; i <= len(full); i++ {
		cur := ParseDelegations(full[:i])
		if len(cur) < len(prev) {
			t.Fatalf("prefix %d: delegation count shrank from %d to %d", i, len(prev), len(cur))
		}
		for j := range prev {
			if cur[j] != prev[j] {
				t.Fatalf("prefix %d: index %d changed from %+v to %+v", i, j, prev[j], cur[j])
			}
		}
		prev = cur
	}
	if len(prev) != 2 {
		t.Fatalf("final count = %d, want 2", len(prev))
	}
}

// Package tools executes the fixed tool vocabulary against a bound project
// root. Every call returns a Result; only tool-internal errors (filesystem
// failures, timeouts, containment violations) mark it unsuccessful.
package tools

// Result is the unified return type from tool execution.
type Result struct {
	Tool    string   `json:"tool"`
	Args    []string `json:"args"`
	Success bool     `json:"success"`
	Output  string   `json:"output,omitempty"`
	Error   string   `json:"error,omitempty"`

	// IsErrorReport distinguishes the report_error channel from real failures.
	IsErrorReport bool `json:"is_error_report,omitempty"`
	// Truncated is set when run_command output exceeded the cap.
	Truncated bool `json:"truncated,omitempty"`
	// Size is the byte count for read_file results.
	Size int `json:"size,omitempty"`
}

func successResult(tool string, args []string, output string) *Result {
	return &Result{Tool: tool, Args: args, Success: true, Output: output}
}

func errorResult(tool string, args []string, msg string) *Result {
	return &Result{Tool: tool, Args: args, Success: false, Error: msg}
}

package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func (d *Dispatcher) readFile(root, path string, args []string) *Result {
	resolved, err := resolvePath(root, path)
	if err != nil {
		return errorResult("read_file", args, err.Error())
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return errorResult("read_file", args, fmt.Sprintf("failed to read file: %v", err))
	}

	res := successResult("read_file", args, string(data))
	res.Size = len(data)
	return res
}

func (d *Dispatcher) writeFile(root, path, content string, args []string) *Result {
	resolved, err := resolvePath(root, path)
	if err != nil {
		return errorResult("write_file", args, err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return errorResult("write_file", args, fmt.Sprintf("failed to create directories: %v", err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return errorResult("write_file", args, fmt.Sprintf("failed to write file: %v", err))
	}
	return successResult("write_file", args, fmt.Sprintf("Wrote %d bytes to %s", len(content), path))
}

func (d *Dispatcher) appendFile(root, path, content string, args []string) *Result {
	resolved, err := resolvePath(root, path)
	if err != nil {
		return errorResult("append_file", args, err.Error())
	}

	// Separate from existing content with a newline when it lacks one.
	existing, err := os.ReadFile(resolved)
	if err != nil && !os.IsNotExist(err) {
		return errorResult("append_file", args, fmt.Sprintf("failed to read file: %v", err))
	}
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		content = "\n" + content
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return errorResult("append_file", args, fmt.Sprintf("failed to create directories: %v", err))
	}
	f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errorResult("append_file", args, fmt.Sprintf("failed to open file: %v", err))
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return errorResult("append_file", args, fmt.Sprintf("failed to append: %v", err))
	}
	return successResult("append_file", args, fmt.Sprintf("Appended %d bytes to %s", len(content), path))
}

func (d *Dispatcher) listDir(root, path string, args []string) *Result {
	resolved, err := resolvePath(root, path)
	if err != nil {
		return errorResult("list_dir", args, err.Error())
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return errorResult("list_dir", args, fmt.Sprintf("failed to list directory: %v", err))
	}

	var visible []os.DirEntry
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		visible = append(visible, e)
	}
	// Directories first, then lexical by name.
	sort.Slice(visible, func(i, j int) bool {
		if visible[i].IsDir() != visible[j].IsDir() {
			return visible[i].IsDir()
		}
		return visible[i].Name() < visible[j].Name()
	})

	var b strings.Builder
	for _, e := range visible {
		if e.IsDir() {
			b.WriteString(e.Name() + "/\n")
		} else {
			b.WriteString(e.Name() + "\n")
		}
	}
	out := b.String()
	if out == "" {
		out = "(empty directory)"
	}
	return successResult("list_dir", args, out)
}

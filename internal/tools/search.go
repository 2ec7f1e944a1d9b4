package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	searchMaxFiles       = 20
	searchMaxLinesPer    = 5
	searchWalkTimeout    = 10 * time.Second
	searchPerFileTimeout = 5 * time.Second
)

// searchFiles runs a case-insensitive substring search across files whose
// relative path matches the glob pattern.
func (d *Dispatcher) searchFiles(ctx context.Context, root, pattern, query string, args []string) *Result {
	if pattern == "" || query == "" {
		return errorResult("search_files", args, "search_files requires a glob pattern and a query")
	}

	ctx, cancel := context.WithTimeout(ctx, searchWalkTimeout)
	defer cancel()

	needle := strings.ToLower(query)
	var b strings.Builder
	matched := 0

	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil || matched >= searchMaxFiles {
			return filepath.SkipAll
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			if entry.IsDir() && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		if !globMatch(pattern, rel) {
			return nil
		}

		lines := scanFile(ctx, p, needle)
		if len(lines) == 0 {
			return nil
		}
		matched++
		b.WriteString(rel + ":\n")
		for _, l := range lines {
			b.WriteString("  " + l + "\n")
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return errorResult("search_files", args, fmt.Sprintf("search failed: %v", err))
	}

	if matched == 0 {
		return successResult("search_files", args, "No matches found")
	}
	return successResult("search_files", args, strings.TrimRight(b.String(), "\n"))
}

// globMatch matches the pattern against the relative path or its base name,
// so "*.go" finds files in subdirectories too.
func globMatch(pattern, rel string) bool {
	if ok, _ := path.Match(pattern, filepath.ToSlash(rel)); ok {
		return true
	}
	ok, _ := path.Match(pattern, filepath.Base(rel))
	return ok
}

// scanFile returns up to searchMaxLinesPer matching lines.
func scanFile(ctx context.Context, p, needle string) []string {
	ctx, cancel := context.WithTimeout(ctx, searchPerFileTimeout)
	defer cancel()

	f, err := os.Open(p)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if ctx.Err() != nil {
			break
		}
		line := scanner.Text()
		if strings.Contains(strings.ToLower(line), needle) {
			out = append(out, fmt.Sprintf("%d: %s", lineNo, strings.TrimSpace(line)))
			if len(out) >= searchMaxLinesPer {
				break
			}
		}
	}
	return out
}

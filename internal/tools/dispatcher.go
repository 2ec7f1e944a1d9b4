package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openswarm-dev/swarmgate/internal/parser"
)

const sharedProjectsBase = "/projects/"

// Dispatcher executes one ToolCall against a bound project root.
type Dispatcher struct {
	projectsRoot string
}

// NewDispatcher creates a dispatcher. projectsRoot is the base path under
// which bound project directories live.
func NewDispatcher(projectsRoot string) *Dispatcher {
	return &Dispatcher{projectsRoot: projectsRoot}
}

// ProjectRoot resolves a project binding to its absolute directory.
func (d *Dispatcher) ProjectRoot(project string) string {
	return filepath.Join(d.projectsRoot, project)
}

// Dispatch runs call with all I/O bounded by the project directory.
func (d *Dispatcher) Dispatch(ctx context.Context, project string, call parser.ToolCall) *Result {
	ctx, span := otel.Tracer("swarmgate/tools").Start(ctx, "tool.exec")
	span.SetAttributes(attribute.String("tool.name", call.Name), attribute.String("tool.project", project))
	defer span.End()

	root := d.ProjectRoot(project)
	if _, err := os.Stat(root); err != nil {
		return errorResult(call.Name, call.Args, "project path not accessible")
	}

	res := d.dispatch(ctx, root, call)
	if !res.Success {
		slog.Warn("tool failed", "tool", call.Name, "project", project, "error", res.Error)
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, root string, call parser.ToolCall) *Result {
	arg := func(i int) string {
		if i < len(call.Args) {
			return call.Args[i]
		}
		return ""
	}

	switch call.Name {
	case parser.ToolReadFile:
		return d.readFile(root, arg(0), call.Args)
	case parser.ToolWriteFile:
		return d.writeFile(root, arg(0), arg(1), call.Args)
	case parser.ToolAppendFile:
		return d.appendFile(root, arg(0), arg(1), call.Args)
	case parser.ToolListDir:
		return d.listDir(root, arg(0), call.Args)
	case parser.ToolSearchFiles:
		return d.searchFiles(ctx, root, arg(0), arg(1), call.Args)
	case parser.ToolRunCommand:
		return d.runCommand(ctx, root, arg(0), call.Args)
	case parser.ToolReportError:
		// No side effect: the engine publishes the report; the dispatcher
		// just tags the result so callers can tell it from a failure.
		return &Result{Tool: call.Name, Args: call.Args, Success: true, Output: arg(0), IsErrorReport: true}
	default:
		return errorResult(call.Name, call.Args, fmt.Sprintf("unknown tool %q", call.Name))
	}
}

// resolvePath normalises a model-supplied path and confines it to root.
// Surrounding quotes are stripped; absolute paths are coerced to
// project-relative by dropping the project-root (or shared /projects/)
// prefix; the canonical result must stay under root.
func resolvePath(root, path string) (string, error) {
	path = strings.TrimSpace(path)
	for _, q := range []string{`"`, `'`} {
		if len(path) >= 2 && strings.HasPrefix(path, q) && strings.HasSuffix(path, q) {
			path = path[1 : len(path)-1]
		}
	}

	if filepath.IsAbs(path) {
		switch {
		case strings.HasPrefix(path, root+string(filepath.Separator)) || path == root:
			path = strings.TrimPrefix(strings.TrimPrefix(path, root), string(filepath.Separator))
		case strings.HasPrefix(path, sharedProjectsBase):
			// /projects/<name>/… → strip base and project segment.
			rel := strings.TrimPrefix(path, sharedProjectsBase)
			if _, after, found := strings.Cut(rel, "/"); found {
				path = after
			} else {
				path = ""
			}
		default:
			return "", fmt.Errorf("path traversal not allowed")
		}
	}

	resolved := filepath.Clean(filepath.Join(root, path))
	canonical := canonicalize(resolved)
	rootCanonical := canonicalize(root)
	if canonical != rootCanonical && !strings.HasPrefix(canonical, rootCanonical+string(filepath.Separator)) {
		slog.Warn("security.path_escape", "path", path, "resolved", canonical, "root", rootCanonical)
		return "", fmt.Errorf("path traversal not allowed")
	}
	return resolved, nil
}

// canonicalize resolves symlinks through the deepest existing ancestor so a
// link inside the project cannot smuggle I/O outside it.
func canonicalize(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	dir, base := filepath.Dir(path), filepath.Base(path)
	if dir == path {
		return path
	}
	return filepath.Join(canonicalize(dir), base)
}

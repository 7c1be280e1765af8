// Package coretools registers the baseline filesystem and runtime tools every
// deployment gets: workspace-scoped file access plus a clock.
package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/drover-ai/drover/pkg/tool"
)

const defaultReadLimit = 200000

// Options configures core tool registration.
type Options struct {
	WorkspaceRoot string
}

// Register adds the core tools to the registry.
func Register(registry *tool.Registry, opts Options) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	if strings.TrimSpace(opts.WorkspaceRoot) == "" {
		return errors.New("workspace root is required")
	}
	root := filepath.Clean(opts.WorkspaceRoot)

	registrations := []tool.Registration{
		funcRegistration("read_file", tool.FuncConfig{
			Description: "Read a file from the workspace.",
			Parameters: []tool.Parameter{
				{Name: "path", Type: "string", Description: "Relative file path", Required: true},
				{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read (default 200000)", Default: defaultReadLimit},
			},
		}, readFileHandler(root)),

		funcRegistration("write_file", tool.FuncConfig{
			Description: "Write content to a file in the workspace.",
			Parameters: []tool.Parameter{
				{Name: "path", Type: "string", Description: "Relative file path", Required: true},
				{Name: "content", Type: "string", Description: "File content", Required: true},
				{Name: "append", Type: "boolean", Description: "Append to file (default false)"},
			},
		}, writeFileHandler(root)),

		funcRegistration("edit_file", tool.FuncConfig{
			Description: "Replace text in a workspace file.",
			Parameters: []tool.Parameter{
				{Name: "path", Type: "string", Description: "Relative file path", Required: true},
				{Name: "search", Type: "string", Description: "Text to search for", Required: true},
				{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
				{Name: "replace_all", Type: "boolean", Description: "Replace all occurrences (default false)"},
			},
		}, editFileHandler(root)),

		funcRegistration("list_dir", tool.FuncConfig{
			Description: "List the entries of a workspace directory.",
			Parameters: []tool.Parameter{
				{Name: "path", Type: "string", Description: "Relative directory path (default workspace root)"},
			},
		}, listDirHandler(root)),

		funcRegistration("clock", tool.FuncConfig{
			Description: "Return the current date and time.",
			Parameters: []tool.Parameter{
				{Name: "timezone", Type: "string", Description: "IANA timezone name (default UTC)"},
			},
		}, clockHandler()),
	}

	for _, reg := range registrations {
		if err := registry.Register(reg); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", reg.Name, err)
		}
	}
	return nil
}

func funcRegistration(name string, cfg tool.FuncConfig, handler tool.Handler) tool.Registration {
	return tool.Registration{
		Name: name,
		NewConfig: func() interface{} {
			c := cfg
			return &c
		},
		Construct: func(ctx context.Context, config interface{}, rt tool.Runtime) (tool.Tool, error) {
			built, ok := config.(*tool.FuncConfig)
			if !ok {
				return nil, &tool.ConfigurationError{
					Reason: fmt.Sprintf("tool %s: unexpected config type %T", name, config),
				}
			}
			return tool.NewFuncTool(name, *built, handler)
		},
	}
}

func readFileHandler(root string) tool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		pathValue, _ := args["path"].(string)
		target, err := resolvePathInWorkspace(root, pathValue)
		if err != nil {
			return "", err
		}

		limit := int64(defaultReadLimit)
		if raw, ok := args["max_bytes"].(float64); ok && raw > 0 {
			limit = int64(raw)
		}

		data, truncated, err := readFileWithLimit(target, limit)
		if err != nil {
			return "", err
		}
		if truncated {
			return string(data) + "\n[truncated]", nil
		}
		return string(data), nil
	}
}

func writeFileHandler(root string) tool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		pathValue, _ := args["path"].(string)
		target, err := resolvePathInWorkspace(root, pathValue)
		if err != nil {
			return "", err
		}
		content, _ := args["content"].(string)
		appendMode, _ := args["append"].(bool)

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return "", err
		}

		flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if appendMode {
			flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		file, err := os.OpenFile(target, flag, 0644)
		if err != nil {
			return "", err
		}
		defer file.Close()

		if _, err := file.WriteString(content); err != nil {
			return "", err
		}

		return fmt.Sprintf("wrote %d bytes to %s", len(content), pathValue), nil
	}
}

func editFileHandler(root string) tool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		pathValue, _ := args["path"].(string)
		target, err := resolvePathInWorkspace(root, pathValue)
		if err != nil {
			return "", err
		}
		search, _ := args["search"].(string)
		replace, _ := args["replace"].(string)
		replaceAll, _ := args["replace_all"].(bool)
		if search == "" {
			return "", fmt.Errorf("search is required")
		}

		data, err := os.ReadFile(target)
		if err != nil {
			return "", err
		}
		content := string(data)

		occurrences := 0
		var updated string
		if replaceAll {
			occurrences = strings.Count(content, search)
			updated = strings.ReplaceAll(content, search, replace)
		} else if idx := strings.Index(content, search); idx >= 0 {
			occurrences = 1
			updated = content[:idx] + replace + content[idx+len(search):]
		}
		if occurrences == 0 {
			return "", fmt.Errorf("search text not found")
		}

		if err := os.WriteFile(target, []byte(updated), 0644); err != nil {
			return "", err
		}
		return fmt.Sprintf("replaced %d occurrence(s) in %s", occurrences, pathValue), nil
	}
}

func listDirHandler(root string) tool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		pathValue, _ := args["path"].(string)
		target := root
		if strings.TrimSpace(pathValue) != "" {
			resolved, err := resolvePathInWorkspace(root, pathValue)
			if err != nil {
				return "", err
			}
			target = resolved
		}

		entries, err := os.ReadDir(target)
		if err != nil {
			return "", err
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		return strings.Join(names, "\n"), nil
	}
}

func clockHandler() tool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		loc := time.UTC
		if tz, ok := args["timezone"].(string); ok && tz != "" {
			parsed, err := time.LoadLocation(tz)
			if err != nil {
				return "", fmt.Errorf("unknown timezone %q", tz)
			}
			loc = parsed
		}
		return time.Now().In(loc).Format(time.RFC1123), nil
	}
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	var buf bytes.Buffer
	if limit <= 0 {
		limit = defaultReadLimit
	}
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}

	extra := make([]byte, 1)
	truncated := false
	if _, err := file.Read(extra); err == nil {
		truncated = true
	}
	return buf.Bytes(), truncated, nil
}

// resolvePathInWorkspace confines tool file access to the workspace root.
func resolvePathInWorkspace(workspaceRoot string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}

	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(workspaceRoot, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside workspace root", pathValue)
	}
	return candidate, nil
}

package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/42atom/msgcode/pkg/protocol"
)

// ReadFileTool implements `read_file`, operating under the request's
// workspacePath (spec §4.9). Grounded on the teacher's ReadFileTool
// (internal/tools/filesystem.go), stripped of sandbox/virtual-fs routing —
// msgcode has no container sandbox or managed-mode interceptors.
type ReadFileTool struct {
	workspacePath string
}

func NewReadFileTool(workspacePath string) *ReadFileTool {
	return &ReadFileTool{workspacePath: workspacePath}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return Fail(protocol.ErrToolArgInvalid, "path is required")
	}
	resolved, err := resolvePath(path, t.workspacePath)
	if err != nil {
		return Fail(protocol.ErrPathOutOfRoot, err.Error())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Fail(protocol.ErrToolExecFailed, fmt.Sprintf("read %s: %v", path, err))
	}
	return Ok(string(data))
}

// WriteFileTool implements `write_file`.
type WriteFileTool struct {
	workspacePath string
}

func NewWriteFileTool(workspacePath string) *WriteFileTool {
	return &WriteFileTool{workspacePath: workspacePath}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	content, hasContent := args["content"].(string)
	if path == "" || !hasContent {
		return Fail(protocol.ErrToolArgInvalid, "path and content are required")
	}
	resolved, err := resolvePath(path, t.workspacePath)
	if err != nil {
		return Fail(protocol.ErrPathOutOfRoot, err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Fail(protocol.ErrToolExecFailed, fmt.Sprintf("mkdir for %s: %v", path, err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Fail(protocol.ErrToolExecFailed, fmt.Sprintf("write %s: %v", path, err))
	}
	return Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// Patch is one ordered old/new text replacement for `edit_file`.
type Patch struct {
	OldText string
	NewText string
}

// EditFileTool implements `edit_file`: ordered `[{oldText, newText}]`
// patches applied against the file's current contents, reporting
// `not-found`/`ambiguous-match` as structured errors rather than a silent
// no-op (spec §4.9).
type EditFileTool struct {
	workspacePath string
}

func NewEditFileTool(workspacePath string) *EditFileTool {
	return &EditFileTool{workspacePath: workspacePath}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return Fail(protocol.ErrToolArgInvalid, "path is required")
	}
	rawPatches, ok := args["patches"].([]any)
	if !ok || len(rawPatches) == 0 {
		return Fail(protocol.ErrToolArgInvalid, "patches is required")
	}

	resolved, err := resolvePath(path, t.workspacePath)
	if err != nil {
		return Fail(protocol.ErrPathOutOfRoot, err.Error())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Fail(protocol.ErrToolExecFailed, fmt.Sprintf("read %s: %v", path, err))
	}
	content := string(data)

	for i, raw := range rawPatches {
		m, ok := raw.(map[string]any)
		if !ok {
			return Fail(protocol.ErrToolArgInvalid, fmt.Sprintf("patch %d is not an object", i))
		}
		oldText, _ := m["oldText"].(string)
		newText, _ := m["newText"].(string)
		count := strings.Count(content, oldText)
		switch count {
		case 0:
			return Fail(protocol.ErrToolExecFailed, fmt.Sprintf("not-found: patch %d oldText not present", i))
		case 1:
			content = strings.Replace(content, oldText, newText, 1)
		default:
			return Fail(protocol.ErrToolExecFailed, fmt.Sprintf("ambiguous-match: patch %d oldText occurs %d times", i, count))
		}
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Fail(protocol.ErrToolExecFailed, fmt.Sprintf("write %s: %v", path, err))
	}
	return Ok(fmt.Sprintf("applied %d patch(es) to %s", len(rawPatches), path))
}

// resolvePath resolves path relative to workspacePath and rejects any
// result that escapes the workspace after symlink resolution — hardened
// against symlink/hardlink/TOCTOU escapes exactly as the teacher's
// resolvePath does (internal/tools/filesystem.go), simplified since msgcode
// always restricts to the workspace (no `restrict_to_workspace=false` mode).
func resolvePath(path, workspacePath string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspacePath, path))
	}

	absWorkspace, _ := filepath.Abs(workspacePath)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
		parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absResolved))
		if parentErr != nil {
			return "", fmt.Errorf("access denied: cannot resolve parent of %s", path)
		}
		real = filepath.Join(parentReal, filepath.Base(absResolved))
	}

	if !isPathInside(real, wsReal) {
		return "", fmt.Errorf("access denied: %s is outside the workspace", path)
	}
	if hasMutableSymlinkParent(real) {
		return "", fmt.Errorf("access denied: %s has a mutable symlink component", path)
	}
	if err := checkHardlink(real); err != nil {
		return "", err
	}
	return real, nil
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// hasMutableSymlinkParent rejects a path whose resolved form still contains
// a symlink component sitting under a world/owner-writable directory — such
// a symlink can be rebound between resolution and the actual syscall
// (TOCTOU), matching the teacher's check of the same name.
func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

// checkHardlink rejects regular files with nlink > 1, the same hardlink
// escape defense as the teacher's implementation.
func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok && stat.Nlink > 1 {
		return fmt.Errorf("access denied: %s is a hardlinked file", path)
	}
	return nil
}

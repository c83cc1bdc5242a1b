package tools

import (
	"context"
	"fmt"

	"github.com/42atom/msgcode/pkg/protocol"
)

// SessionCaller is the narrow slice of the Session Pool the desktop tool
// needs: one request/response round-trip against a (workspacePath,
// kind="desktop") subprocess (spec §4.12). Defined here rather than
// imported from internal/sessionpool to keep the Tool Bus free of a
// dependency on session-pool internals.
type SessionCaller interface {
	Call(ctx context.Context, workspacePath, kind, method string, params map[string]any) (map[string]any, error)
}

// DesktopTool implements `desktop`, multiplexed over the Session Pool
// (spec §4.9, §4.16). It is always a UI tool requiring a confirm token
// (see policy.go's uiTools).
type DesktopTool struct {
	workspacePath string
	caller        SessionCaller
}

func NewDesktopTool(workspacePath string, caller SessionCaller) *DesktopTool {
	return &DesktopTool{workspacePath: workspacePath, caller: caller}
}

func (t *DesktopTool) Name() string { return "desktop" }

func (t *DesktopTool) RequiresConfirm(args map[string]any) bool { return true }

func (t *DesktopTool) Execute(ctx context.Context, args map[string]any) *Result {
	method, _ := args["method"].(string)
	if method == "" {
		return Fail(protocol.ErrToolArgInvalid, "method is required")
	}
	params, _ := args["params"].(map[string]any)

	data, err := t.caller.Call(ctx, t.workspacePath, "desktop", method, params)
	if err != nil {
		return Fail(protocol.ErrDesktopTimeout, fmt.Sprintf("desktop.%s: %v", method, err))
	}
	return OkData(data)
}

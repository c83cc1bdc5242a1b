package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"

	"github.com/42atom/msgcode/pkg/protocol"
)

// defaultDenyPatterns blocks command shapes with no legitimate place in an
// assistant-driven shell session, defense-in-depth alongside the policy
// gate's egress-class check. Grounded on the teacher's
// internal/tools/shell.go `defaultDenyPatterns`, trimmed of Docker-sandbox
// -specific entries (msgcode has no container sandbox to escape).
var defaultDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--recursive`),
	regexp.MustCompile(`\brm\s+.*--force`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b|\bformat\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb

	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`/dev/tcp/`),

	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsocat\b`),

	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),

	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`\bBASH_ENV\s*=`),

	regexp.MustCompile(`\b(killall|pkill)\b`),
	regexp.MustCompile(`\bkill\s+-9\s`),

	regexp.MustCompile(`^\s*env\s*$`),
	regexp.MustCompile(`^\s*env\s*\|`),
	regexp.MustCompile(`\bprintenv\b`),
	regexp.MustCompile(`^\s*(set|export\s+-p|declare\s+-x)\s*($|\|)`),
}

// BashTool implements `bash`: runs with cwd=workspacePath under a bounded
// timeout, capturing stdout/stderr/exitCode. The invocation is
// parameterized through `sh -c <command>` as a single argv element — never
// string-interpolated into a larger shell line (spec §4.9).
type BashTool struct {
	workspacePath string
}

func NewBashTool(workspacePath string) *BashTool {
	return &BashTool{workspacePath: workspacePath}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Execute(ctx context.Context, args map[string]any) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return Fail(protocol.ErrToolArgInvalid, "command is required")
	}
	for _, pattern := range defaultDenyPatterns {
		if pattern.MatchString(command) {
			return Fail(protocol.ErrToolNotAllowed, "command denied by safety policy")
		}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workspacePath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Data:   map[string]any{"exitCode": exitCodeOf(cmd, runErr)},
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return Fail(protocol.ErrToolTimeout, fmt.Sprintf("command timed out: %s", command))
		}
	}
	return result
}

func exitCodeOf(cmd *exec.Cmd, runErr error) int {
	if runErr == nil {
		return 0
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

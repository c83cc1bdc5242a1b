// Package journal implements the Thread Journal: the append-only
// Markdown-with-frontmatter transcript of a chat thread, per spec §3 and
// §4.15. Grounded on the teacher's workspace-file handling idiom
// (internal/bootstrap/seed.go's read/write of Markdown context files),
// adapted to per-thread append-only transcripts.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Meta carries the frontmatter fields that are fixed at thread creation.
type Meta struct {
	ChatID        string
	Workspace     string
	WorkspacePath string
	RuntimeKind   string
	AgentProvider string // mutually exclusive with TmuxClient
	TmuxClient    string
}

// Journal manages thread files for one workspace.
type Journal struct {
	mu            sync.Mutex
	threadsDir    string
	activeByChatID map[string]string // chatId -> threadId
	pathByThreadID map[string]string // threadId -> file path
}

// Open prepares a Journal rooted at `<ws>/.msgcode/threads/`.
func Open(workspacePath string) (*Journal, error) {
	dir := filepath.Join(workspacePath, ".msgcode", "threads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create threads dir: %w", err)
	}
	return &Journal{
		threadsDir:     dir,
		activeByChatID: make(map[string]string),
		pathByThreadID: make(map[string]string),
	}, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9-_]+`)

func titleFromText(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > 24 {
		runes = runes[:24]
	}
	title := unsafeChars.ReplaceAllString(string(runes), "-")
	title = strings.Trim(title, "-")
	if title == "" {
		return "untitled"
	}
	return title
}

// EnsureThread resolves the active thread for chatID, or creates one if
// none exists — on first message, after /clear, or after a process restart
// with no active-thread mapping, per spec §3.
func (j *Journal) EnsureThread(chatID, workspacePath, firstUserText string, meta Meta) (threadID string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if tid, ok := j.activeByChatID[chatID]; ok {
		return tid, nil
	}

	title := titleFromText(firstUserText)
	date := time.Now().UTC().Format("2006-01-02")

	path, suffix := j.uniquePathLocked(date, title)
	tid := uuid.NewString()

	var front strings.Builder
	fmt.Fprintf(&front, "---\nthreadId: %s\nchatId: %s\nworkspace: %s\nworkspacePath: %s\ncreatedAt: %s\nruntimeKind: %s\n",
		tid, chatID, meta.Workspace, workspacePath, time.Now().UTC().Format(time.RFC3339), meta.RuntimeKind)
	if meta.AgentProvider != "" {
		fmt.Fprintf(&front, "agentProvider: %s\n", meta.AgentProvider)
	}
	if meta.TmuxClient != "" {
		fmt.Fprintf(&front, "tmuxClient: %s\n", meta.TmuxClient)
	}
	front.WriteString("---\n")

	if err := os.WriteFile(path, []byte(front.String()), 0o644); err != nil {
		return "", fmt.Errorf("create thread file: %w", err)
	}

	_ = suffix
	j.activeByChatID[chatID] = tid
	j.pathByThreadID[tid] = path
	return tid, nil
}

// uniquePathLocked finds a non-colliding `<date>_<title>[-N].md` filename,
// per spec §3's title-collision rule.
func (j *Journal) uniquePathLocked(date, title string) (string, int) {
	base := fmt.Sprintf("%s_%s", date, title)
	path := filepath.Join(j.threadsDir, base+".md")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, 1
	}
	for n := 2; ; n++ {
		candidate := filepath.Join(j.threadsDir, fmt.Sprintf("%s-%d.md", base, n))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, n
		}
	}
}

// AppendTurn appends one `## Turn N` block. Writing happens after reply
// success; a failure here is logged by the caller but never fails the
// reply (spec §4.15).
func (j *Journal) AppendTurn(threadID, userText, assistantText string, ts time.Time, turnNumber int) error {
	j.mu.Lock()
	path, ok := j.pathByThreadID[threadID]
	j.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown threadId %s", threadID)
	}

	var block strings.Builder
	fmt.Fprintf(&block, "\n## Turn %d - %s\n\n### User\n%s\n\n### Assistant\n%s\n",
		turnNumber, ts.UTC().Format(time.RFC3339), userText, assistantText)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open thread for append: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(block.String())
	return err
}

// ResetThread causes the next write for chatID to create a new thread
// (`/clear`).
func (j *Journal) ResetThread(chatID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.activeByChatID, chatID)
}

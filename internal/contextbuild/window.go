package contextbuild

import "sync"

const defaultMaxWindowTurnPairs = 10
const maxSummaryChars = 4000

// Window holds the bounded per-chat FIFO of recent turns plus the rolling
// summary that absorbs whatever falls off the front, per spec §3's
// "Conversation window & summary": short-term context, cleared by /clear,
// never holding long-term memory. One Window is shared by every chat bound
// to a workspace; state is keyed by chatID.
type Window struct {
	mu        sync.Mutex
	maxTurns  int
	turns     map[string][]WindowTurn
	summaries map[string]string
}

// NewWindow constructs a Window holding at most maxTurnPairs user/assistant
// pairs per chat before the oldest pair folds into the rolling summary.
func NewWindow(maxTurnPairs int) *Window {
	if maxTurnPairs <= 0 {
		maxTurnPairs = defaultMaxWindowTurnPairs
	}
	return &Window{
		maxTurns:  maxTurnPairs,
		turns:     make(map[string][]WindowTurn),
		summaries: make(map[string]string),
	}
}

// Turns returns a copy of chatID's current window, oldest first.
func (w *Window) Turns(chatID string) []WindowTurn {
	w.mu.Lock()
	defer w.mu.Unlock()
	src := w.turns[chatID]
	out := make([]WindowTurn, len(src))
	copy(out, src)
	return out
}

// Summary returns chatID's rolling summary, empty if none has accumulated.
func (w *Window) Summary(chatID string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summaries[chatID]
}

// Append records one completed turn's user/assistant pair, folding the
// oldest pair into the rolling summary once the window exceeds its cap.
func (w *Window) Append(chatID, userText, assistantText string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	turns := append(w.turns[chatID],
		WindowTurn{Role: "user", Content: userText},
		WindowTurn{Role: "assistant", Content: assistantText},
	)
	for len(turns) > w.maxTurns*2 {
		w.summaries[chatID] = foldIntoSummary(w.summaries[chatID], turns[0])
		turns = turns[1:]
	}
	w.turns[chatID] = turns
}

func foldIntoSummary(summary string, dropped WindowTurn) string {
	summary += dropped.Role + ": " + dropped.Content + "\n"
	if len(summary) > maxSummaryChars {
		summary = summary[len(summary)-maxSummaryChars:]
	}
	return summary
}

// Reset clears both the window and the rolling summary for chatID, backing
// /clear (spec §3: "Cleared by /clear"; scenario 6: "window starts empty").
func (w *Window) Reset(chatID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.turns, chatID)
	delete(w.summaries, chatID)
}

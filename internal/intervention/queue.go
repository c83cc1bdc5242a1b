// Package intervention implements the Intervention Queue: per-chat `steer`
// (in-turn) and `followUp` (post-turn) FIFO lists, per spec §3 and §4.14.
// No direct teacher analog exists; built in the teacher's in-memory
// coordination-map idiom (internal/tools/delegate_state.go's mutex-guarded
// per-key maps).
package intervention

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two intervention lists.
type Kind string

const (
	KindSteer    Kind = "steer"
	KindFollowUp Kind = "followUp"
)

// Item is a single queued intervention, per spec §3.
type Item struct {
	ID         string
	Kind       Kind
	ChatID     string
	Message    string
	EnqueuedAt time.Time
}

// Queue holds two per-chat FIFOs: steer and followUp.
type Queue struct {
	mu       sync.Mutex
	steer    map[string][]Item
	followUp map[string][]Item
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{
		steer:    make(map[string][]Item),
		followUp: make(map[string][]Item),
	}
}

// EnqueueSteer implements `/steer <msg>`.
func (q *Queue) EnqueueSteer(chatID, message string) Item {
	return q.enqueue(chatID, KindSteer, message)
}

// EnqueueFollowUp implements `/next <msg>`.
func (q *Queue) EnqueueFollowUp(chatID, message string) Item {
	return q.enqueue(chatID, KindFollowUp, message)
}

func (q *Queue) enqueue(chatID string, kind Kind, message string) Item {
	item := Item{
		ID:         uuid.NewString(),
		Kind:       kind,
		ChatID:     chatID,
		Message:    message,
		EnqueuedAt: time.Now(),
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	switch kind {
	case KindSteer:
		q.steer[chatID] = append(q.steer[chatID], item)
	case KindFollowUp:
		q.followUp[chatID] = append(q.followUp[chatID], item)
	}
	return item
}

// DrainSteer pops the next steer item for chatID, if any. The Tool Loop
// calls this between tool executions within the current turn.
func (q *Queue) DrainSteer(chatID string) (Item, bool) {
	return q.pop(chatID, KindSteer)
}

// DrainFollowUp pops the next followUp item for chatID, if any. The
// Orchestrator calls this after a turn completes.
func (q *Queue) DrainFollowUp(chatID string) (Item, bool) {
	return q.pop(chatID, KindFollowUp)
}

func (q *Queue) pop(chatID string, kind Kind) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var list []Item
	switch kind {
	case KindSteer:
		list = q.steer[chatID]
	case KindFollowUp:
		list = q.followUp[chatID]
	}
	if len(list) == 0 {
		return Item{}, false
	}
	item := list[0]
	list = list[1:]
	switch kind {
	case KindSteer:
		q.steer[chatID] = list
	case KindFollowUp:
		q.followUp[chatID] = list
	}
	return item, true
}

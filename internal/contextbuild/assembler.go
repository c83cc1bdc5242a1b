// Package contextbuild implements the Context Assembler: fixed-order
// provider message composition with a per-section character budget, per
// spec §4.7. Grounded on the teacher's bootstrap/persona-injection ordering
// (internal/bootstrap, the system-prompt assembly once performed inline in
// internal/agent/loop.go before this spec's narrowing), rebuilt here as its
// own pure-ish component so the Runtime Orchestrator can log its
// provenance fields independently of the Tool Loop.
package contextbuild

import (
	"log/slog"

	"github.com/42atom/msgcode/internal/providers"
	"github.com/42atom/msgcode/pkg/soul"
)

// Budgets caps each section's character contribution. Soul, summary, memory
// and window are each cut to their own cap independently; Total is not
// enforced as a combined cap, and no section is cut to make room for another.
// A Total of zero or less selects DefaultBudgets.
type Budgets struct {
	SoulChars    int
	SummaryChars int
	MemoryChars  int
	WindowChars  int
	Total        int
}

func DefaultBudgets() Budgets {
	return Budgets{
		SoulChars:    4000,
		SummaryChars: 2000,
		MemoryChars:  3000,
		WindowChars:  8000,
		Total:        24000,
	}
}

// WindowTurn is one short-term conversation turn.
type WindowTurn struct {
	Role    string
	Content string
}

// MemoryHit is one long-term recall result admitted into the prompt.
type MemoryHit struct {
	Text  string
	Score float64
}

// Input is everything the assembler needs for one turn.
type Input struct {
	Soul            soul.Soul
	Summary         string
	MemoryInjected  bool
	MemoryHits      []MemoryHit
	Window          []WindowTurn
	CurrentUserText string
	ToolSection     string // capability/tool description, included only when pi.enabled
	PiEnabled       bool
	Budgets         Budgets
}

// Assembled is the resulting message list plus the logged provenance
// fields (spec §4.7: "soulSource, soulPath, soulChars, memoryInjected,
// memoryHitCount, memoryInjectedChars, windowTurns").
type Assembled struct {
	Messages            []providers.Message
	SoulSource          string
	SoulPath            string
	SoulChars           int
	MemoryInjected       bool
	MemoryHitCount       int
	MemoryInjectedChars  int
	WindowTurns          int
}

// Assemble builds the message list in the fixed order: soul, summary,
// memory, window, current turn, tool section.
func Assemble(in Input) Assembled {
	b := in.Budgets
	if b.Total <= 0 {
		b = DefaultBudgets()
	}

	var messages []providers.Message
	out := Assembled{
		SoulSource: string(in.Soul.Source),
		SoulPath:   in.Soul.Path,
	}

	if in.Soul.Content != "" {
		soulText := truncate(in.Soul.Content, b.SoulChars)
		out.SoulChars = len(soulText)
		messages = append(messages, providers.Message{Role: "system", Content: soulText})
	}

	if in.Summary != "" {
		messages = append(messages, providers.Message{Role: "system", Content: truncate(in.Summary, b.SummaryChars)})
	}

	if in.MemoryInjected && len(in.MemoryHits) > 0 {
		memText := joinMemoryHits(in.MemoryHits, b.MemoryChars)
		out.MemoryInjected = true
		out.MemoryHitCount = len(in.MemoryHits)
		out.MemoryInjectedChars = len(memText)
		messages = append(messages, providers.Message{Role: "system", Content: "Relevant memory:\n" + memText})
	}

	windowBudget := b.WindowChars
	for _, turn := range in.Window {
		content := turn.Content
		if len(content) > windowBudget {
			if windowBudget <= 0 {
				continue
			}
			content = content[:windowBudget]
		}
		windowBudget -= len(content)
		messages = append(messages, providers.Message{Role: turn.Role, Content: content})
		out.WindowTurns++
	}

	messages = append(messages, providers.Message{Role: "user", Content: in.CurrentUserText})

	if in.PiEnabled && in.ToolSection != "" {
		messages = append(messages, providers.Message{Role: "system", Content: in.ToolSection})
	}

	out.Messages = messages

	slog.Info("context_assembled",
		"soulSource", out.SoulSource,
		"soulPath", out.SoulPath,
		"soulChars", out.SoulChars,
		"memoryInjected", out.MemoryInjected,
		"memoryHitCount", out.MemoryHitCount,
		"memoryInjectedChars", out.MemoryInjectedChars,
		"windowTurns", out.WindowTurns,
	)
	return out
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

func joinMemoryHits(hits []MemoryHit, max int) string {
	var out []byte
	for _, h := range hits {
		if len(out)+len(h.Text)+1 > max {
			break
		}
		out = append(out, h.Text...)
		out = append(out, '\n')
	}
	return string(out)
}

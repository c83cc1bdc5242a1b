// Package agent implements the Tool Loop: the finite-round provider/tool
// round-trip described in spec §4.10. Grounded on the teacher's agent
// execution loop (internal/agent/loop.go's Think→Act→Observe cycle and its
// parallel-tool-execution goroutine fan-out), narrowed to the single
// OpenAI-compatible provider contract and the fail-short semantics the
// spec mandates in place of the teacher's loop-detector/async-spawn
// machinery.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/42atom/msgcode/internal/intervention"
	"github.com/42atom/msgcode/internal/providers"
	"github.com/42atom/msgcode/internal/tools"
	"github.com/42atom/msgcode/pkg/protocol"
)

const defaultMaxRounds = 8

// TraceHook is called once per LLM round and once per tool call when
// tracing is enabled (internal/tracing wires a real implementation; nil
// disables tracing entirely).
type TraceHook func(kind string, name string, start time.Time, err error)

// Loop runs the bounded provider/tool round-trip for one turn.
type Loop struct {
	provider providers.Provider
	bus      *tools.Bus
	steerQ   *intervention.Queue
	maxRounds int
	trace    TraceHook
}

// Config parameterizes Loop construction.
type Config struct {
	Provider  providers.Provider
	Bus       *tools.Bus
	Steer     *intervention.Queue
	MaxRounds int // default 8
	Trace     TraceHook
}

func New(cfg Config) *Loop {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	return &Loop{
		provider:  cfg.Provider,
		bus:       cfg.Bus,
		steerQ:    cfg.Steer,
		maxRounds: cfg.MaxRounds,
		trace:     cfg.Trace,
	}
}

// Request is one turn's input to the loop.
type Request struct {
	ChatID        string
	WorkspacePath string
	Messages      []providers.Message // includes the assembled system/context turns
	Tools         []providers.ToolDefinition
	Gate          tools.GateConfig
}

// Result is the loop's outcome: either a final reply or a structured
// failure, never both (spec §4.10: "fail-short").
type Result struct {
	Content      string
	RoundsUsed   int
	Usage        providers.Usage
	FailedCode   string
	FailedDetail string
}

func (r *Result) Failed() bool { return r.FailedCode != "" }

// Run executes the bounded round loop.
func (l *Loop) Run(ctx context.Context, req Request) (*Result, error) {
	messages := append([]providers.Message(nil), req.Messages...)
	result := &Result{}

	for round := 1; round <= l.maxRounds; round++ {
		result.RoundsUsed = round

		chatReq := providers.ChatRequest{
			Messages:    messages,
			Tools:       req.Tools,
			Temperature: 0,
		}

		start := time.Now()
		resp, err := l.provider.Chat(ctx, chatReq)
		l.traceEvent("llm_round", l.provider.Name(), start, err)
		if err != nil {
			var malformed *providers.MalformedToolCallError
			if errors.As(err, &malformed) {
				result.FailedCode = protocol.ErrToolArgInvalid
				result.FailedDetail = malformed.Error()
				return result, nil
			}
			return nil, fmt.Errorf("tool loop round %d: %w", round, err)
		}
		if resp.Usage != nil {
			result.Usage.PromptTokens += resp.Usage.PromptTokens
			result.Usage.CompletionTokens += resp.Usage.CompletionTokens
			result.Usage.TotalTokens += resp.Usage.TotalTokens
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				result.FailedCode = protocol.ErrEmptyResponse
				result.FailedDetail = "provider returned no content and no tool calls"
				return result, nil
			}
			result.Content = resp.Content
			return result, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		toolResults := l.executeToolCalls(ctx, req, resp.ToolCalls)
		for _, tr := range toolResults {
			if tr.response.Error != nil {
				result.FailedCode = tr.response.Error.Code
				result.FailedDetail = tr.response.Error.Message
				return result, nil
			}
		}
		for _, tr := range toolResults {
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    toolContent(tr.response),
				ToolCallID: tr.call.ID,
			})
		}

		if item, ok := l.steerQ.DrainSteer(req.ChatID); ok {
			messages = append(messages, providers.Message{Role: "user", Content: item.Message})
		}
	}

	result.FailedCode = protocol.ErrToolExecFailed
	result.FailedDetail = fmt.Sprintf("exceeded %d-round ceiling without a final reply", l.maxRounds)
	return result, nil
}

type toolCallResult struct {
	call     providers.ToolCall
	response protocol.ToolCallResponse
}

// executeToolCalls runs all of one round's tool calls concurrently (the
// teacher's parallel-goroutine pattern, internal/agent/loop.go's
// indexedResult fan-out), then restores original order so the appended
// tool-result messages are deterministic.
func (l *Loop) executeToolCalls(ctx context.Context, req Request, calls []providers.ToolCall) []toolCallResult {
	type indexed struct {
		idx int
		res toolCallResult
	}
	ch := make(chan indexed, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			defer wg.Done()
			start := time.Now()
			toolReq := protocol.ToolCallRequest{
				Tool:   tc.Name,
				Params: tc.Args,
				Meta: protocol.ToolCallMeta{
					WorkspacePath: req.WorkspacePath,
					RequestID:     tc.ID,
				},
			}
			resp := l.bus.Dispatch(ctx, toolReq, req.Gate, "user")
			var errCode string
			if resp.Error != nil {
				errCode = resp.Error.Code
			}
			l.traceEvent("tool_call", tc.Name, start, errorFromCode(errCode))
			ch <- indexed{idx: idx, res: toolCallResult{call: tc, response: resp}}
		}(i, tc)
	}
	go func() { wg.Wait(); close(ch) }()

	collected := make([]indexed, 0, len(calls))
	for r := range ch {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	out := make([]toolCallResult, len(collected))
	for i, c := range collected {
		out[i] = c.res
	}
	return out
}

func (l *Loop) traceEvent(kind, name string, start time.Time, err error) {
	if l.trace == nil {
		return
	}
	l.trace(kind, name, start, err)
}

func errorFromCode(code string) error {
	if code == "" {
		return nil
	}
	return fmt.Errorf("%s", code)
}

func toolContent(resp protocol.ToolCallResponse) string {
	if resp.Data == nil {
		return ""
	}
	if resp.Data.Stdout != "" {
		return resp.Data.Stdout
	}
	return ""
}

package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements Provider against any OpenAI-compatible
// `/chat/completions` endpoint. Grounded on the teacher's OpenAIProvider
// (internal/providers/openai.go), trimmed of Gemini/DashScope/OpenRouter
// vendor-specific branches — msgcode's adapter contract is the three pure
// functions spec §4.10 names, with no provider-identity branching in the
// Tool Loop.
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string        { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := buildChatCompletionRequest(p.resolveModel(req.Model), req, false)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				return nil, err
			}
			continue
		}
		data, err := io.ReadAll(respBody)
		respBody.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return parseChatCompletionResponse(data)
	}
	return nil, fmt.Errorf("%s: exhausted retries: %w", p.name, lastErr)
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body := buildChatCompletionRequest(p.resolveModel(req.Model), req, true)

	respBody, err := p.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{FinishReason: "stop"}
	accumulators := make(map[int]*toolCallAccumulator)

	scanner := bufio.NewScanner(respBody)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			result.Content += delta.Content
			if onChunk != nil {
				onChunk(StreamChunk{Content: delta.Content})
			}
		}
		for _, tc := range delta.ToolCalls {
			acc, ok := accumulators[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{id: tc.ID}
				accumulators[tc.Index] = acc
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.rawArgs += tc.Function.Arguments
		}
		if chunk.Choices[0].FinishReason != "" {
			result.FinishReason = chunk.Choices[0].FinishReason
		}
	}

	calls, err := normalizeToolCalls(accumulators)
	if err != nil {
		slog.Warn("stream tool call normalization failed", "provider", p.name, "error", err)
		return nil, err
	}
	result.ToolCalls = calls
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return result, nil
}

func (p *OpenAIProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		respData, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &httpStatusError{status: resp.StatusCode, body: string(respData), provider: p.name}
	}
	return resp.Body, nil
}

type httpStatusError struct {
	status   int
	body     string
	provider string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.provider, e.status, e.body)
}

func isRetryable(err error) bool {
	if hse, ok := err.(*httpStatusError); ok {
		return hse.status == http.StatusTooManyRequests || hse.status >= 500
	}
	return false
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * 500 * time.Millisecond
	if d > 8*time.Second {
		d = 8 * time.Second
	}
	return d
}

// --- wire shapes ---

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string               `json:"content"`
			ToolCalls []openAIWireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIWireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type toolCallAccumulator struct {
	id      string
	name    string
	rawArgs string
}

// buildChatCompletionRequest is the first of the three pure adapter
// functions spec §4.10 names. It never branches on provider identity.
func buildChatCompletionRequest(model string, req ChatRequest, stream bool) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]any{"role": m.Role}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				calls[i] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = calls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		msgs = append(msgs, msg)
	}

	temperature := req.Temperature
	body := map[string]any{
		"model":       model,
		"messages":    msgs,
		"stream":      stream,
		"temperature": temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		defs := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			defs[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			}
		}
		body["tools"] = defs
		body["tool_choice"] = "auto"
	}
	return body
}

// MalformedToolCallError marks a tool_calls entry whose arguments failed to
// parse as JSON. The Tool Loop converts this into a TOOL_ARG_INVALID
// fail-short instead of treating it as a hard provider error (spec §8:
// malformed tool-call args is a named boundary case, not a transport
// failure).
type MalformedToolCallError struct {
	ToolName string
	Err      error
}

func (e *MalformedToolCallError) Error() string {
	return fmt.Sprintf("malformed tool call %s args: %v", e.ToolName, e.Err)
}

func (e *MalformedToolCallError) Unwrap() error { return e.Err }

// parseChatCompletionResponse is the second pure adapter function (spec
// §4.10): `parseChatCompletionResponse(body) -> {content, toolCalls}`.
func parseChatCompletionResponse(body []byte) (*ChatResponse, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode chat completion response: %w", err)
	}
	result := &ChatResponse{FinishReason: "stop"}
	if len(resp.Choices) == 0 {
		return result, nil
	}
	choice := resp.Choices[0]
	result.Content = choice.Message.Content
	result.FinishReason = choice.FinishReason

	calls, err := normalizeWireToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}
	result.ToolCalls = calls
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	if resp.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// normalizeToolCalls is the third pure adapter function (spec §4.10):
// `normalizeToolCalls(raw) -> [{id, name, args}]`, applied to a streamed
// response's accumulated deltas.
func normalizeToolCalls(accumulators map[int]*toolCallAccumulator) ([]ToolCall, error) {
	calls := make([]ToolCall, 0, len(accumulators))
	for i := 0; i < len(accumulators); i++ {
		acc, ok := accumulators[i]
		if !ok {
			continue
		}
		args := make(map[string]any)
		if acc.rawArgs != "" {
			if err := json.Unmarshal([]byte(acc.rawArgs), &args); err != nil {
				return calls, &MalformedToolCallError{ToolName: acc.name, Err: err}
			}
		}
		calls = append(calls, ToolCall{ID: acc.id, Name: strings.TrimSpace(acc.name), Args: args})
	}
	return calls, nil
}

func normalizeWireToolCalls(raw []openAIWireToolCall) ([]ToolCall, error) {
	calls := make([]ToolCall, 0, len(raw))
	for _, tc := range raw {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return calls, &MalformedToolCallError{ToolName: tc.Function.Name, Err: err}
			}
		}
		calls = append(calls, ToolCall{ID: tc.ID, Name: strings.TrimSpace(tc.Function.Name), Args: args})
	}
	return calls, nil
}

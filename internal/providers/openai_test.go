package providers

import (
	"errors"
	"testing"
)

func TestBuildChatCompletionRequestOmitsToolsWhenAbsent(t *testing.T) {
	req := ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}
	body := buildChatCompletionRequest("gpt-test", req, false)
	if _, ok := body["tools"]; ok {
		t.Fatalf("expected no tools key when ChatRequest.Tools is empty")
	}
	if body["model"] != "gpt-test" {
		t.Fatalf("unexpected model %v", body["model"])
	}
}

func TestParseChatCompletionResponseToolCalls(t *testing.T) {
	body := []byte(`{
		"choices": [{
			"message": {"content": "", "tool_calls": [{"id": "call_1", "function": {"name": "bash", "arguments": "{\"command\":\"ls\"}"}}]},
			"finish_reason": "tool_calls"
		}]
	}`)
	resp, err := parseChatCompletionResponse(body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "bash" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Args["command"] != "ls" {
		t.Fatalf("unexpected args: %+v", resp.ToolCalls[0].Args)
	}
}

func TestParseChatCompletionResponsePlainContent(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`)
	resp, err := parseChatCompletionResponse(body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if resp.Content != "hello" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestParseChatCompletionResponseMalformedToolArgsFailsShort(t *testing.T) {
	body := []byte(`{
		"choices": [{
			"message": {"content": "", "tool_calls": [{"id": "call_1", "function": {"name": "bash", "arguments": "{not json"}}]},
			"finish_reason": "tool_calls"
		}]
	}`)
	_, err := parseChatCompletionResponse(body)
	if err == nil {
		t.Fatalf("expected an error for malformed tool_calls arguments")
	}
	var malformed *MalformedToolCallError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected a MalformedToolCallError, got %T: %v", err, err)
	}
	if malformed.ToolName != "bash" {
		t.Fatalf("unexpected tool name: %q", malformed.ToolName)
	}
}

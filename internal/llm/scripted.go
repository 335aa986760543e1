package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

// ScriptedClient plays back canned completions in order, for exercising the
// full tool loop without API keys. Once the script runs out the last response
// repeats. The offline self-check drives a whole turn through it.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []*domain.CompletionResponse
	calls     int
}

// NewScriptedClient returns a client that replays the given responses.
// Returns an error if responses is empty.
func NewScriptedClient(responses ...*domain.CompletionResponse) (*ScriptedClient, error) {
	if len(responses) == 0 {
		return nil, fmt.Errorf("scripted client: at least one response is required")
	}
	return &ScriptedClient{responses: responses}, nil
}

// Calls returns how many Complete calls the client has served.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Complete implements domain.CompletionClient.
func (s *ScriptedClient) Complete(ctx context.Context, messages []domain.Message, system string, tools []domain.ToolDefinition) (*domain.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return s.responses[idx], nil
}

// ScriptedText builds an end_turn response with a single text block.
func ScriptedText(text string) (*domain.CompletionResponse, error) {
	return scriptedResponse(map[string]any{
		"role":        "assistant",
		"stop_reason": string(domain.StopEndTurn),
		"content":     []map[string]any{{"type": "text", "text": text}},
	})
}

// ScriptedToolUse builds a tool_use response invoking a single tool.
func ScriptedToolUse(id, name string, input map[string]any) (*domain.CompletionResponse, error) {
	if input == nil {
		input = map[string]any{}
	}
	return scriptedResponse(map[string]any{
		"role":        "assistant",
		"stop_reason": string(domain.StopToolUse),
		"content":     []map[string]any{{"type": "tool_use", "id": id, "name": name, "input": input}},
	})
}

// scriptedResponse round-trips the document through JSON so the result carries
// the same decoded blocks and verbatim body a real upstream reply would.
func scriptedResponse(doc map[string]any) (*domain.CompletionResponse, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("scripted response: %w", err)
	}
	var resp domain.CompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("scripted response: %w", err)
	}
	resp.Raw = raw
	return &resp, nil
}

// Ensure ScriptedClient implements domain.CompletionClient at compile time.
var _ domain.CompletionClient = (*ScriptedClient)(nil)

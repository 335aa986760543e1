package history

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

// Window implements domain.HistoryWindow with a sliding-window strategy: it
// reserves tokens for the system prompt, then walks messages newest to oldest,
// keeping as many recent messages as fit.
type Window struct {
	tokenizer domain.Tokenizer
	maxTokens int
}

var _ domain.HistoryWindow = (*Window)(nil)

// NewWindow creates a Window with the given tokenizer and token budget. Panics
// if tokenizer is nil or maxTokens <= 0.
func NewWindow(tokenizer domain.Tokenizer, maxTokens int) *Window {
	if tokenizer == nil {
		panic("history: tokenizer must not be nil")
	}
	if maxTokens <= 0 {
		panic("history: maxTokens must be > 0")
	}
	return &Window{tokenizer: tokenizer, maxTokens: maxTokens}
}

// FitToWindow returns the newest suffix of messages that fits the budget once
// the system prompt is reserved. The suffix is then advanced to a clean
// opening: the wire protocol requires the list to start with a plain user
// message, never a tool_result whose tool_use was trimmed away. If nothing
// fits, the newest message is kept alone rather than sending an empty list.
func (w *Window) FitToWindow(messages []domain.Message, systemPrompt string) ([]domain.Message, error) {
	if len(messages) == 0 {
		return []domain.Message{}, nil
	}

	sysTokens, err := w.countPrompt(systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("history: counting system prompt tokens: %w", err)
	}
	if sysTokens > w.maxTokens {
		return nil, fmt.Errorf("history: system prompt (%d tokens) exceeds limit (%d tokens)", sysTokens, w.maxTokens)
	}
	budget := w.maxTokens - sysTokens

	counts := make([]int, len(messages))
	for i, msg := range messages {
		n, err := w.tokenizer.CountTokens(messageText(msg))
		if err != nil {
			return nil, fmt.Errorf("history: counting tokens for message %d: %w", i, err)
		}
		counts[i] = n
	}

	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		if total+counts[i] > budget {
			break
		}
		total += counts[i]
		start = i
	}

	for start < len(messages) && !cleanStart(messages[start]) {
		start++
	}

	if start >= len(messages) {
		return messages[len(messages)-1:], nil
	}
	return messages[start:], nil
}

func (w *Window) countPrompt(prompt string) (int, error) {
	if prompt == "" {
		return 0, nil
	}
	return w.tokenizer.CountTokens(prompt)
}

// cleanStart reports whether a message can legally open the list: a user
// message that carries no tool results.
func cleanStart(msg domain.Message) bool {
	if msg.Role != domain.RoleUser {
		return false
	}
	for _, b := range msg.ContentBlocks {
		if _, ok := b.(domain.ToolResultBlock); ok {
			return false
		}
	}
	return true
}

// messageText extracts a text rendition of a message for token counting. It
// prefers parsed blocks and falls back to the raw content JSON.
func messageText(msg domain.Message) string {
	if len(msg.ContentBlocks) > 0 {
		return blocksToText(msg.ContentBlocks)
	}
	return rawToText(msg.RawContent)
}

func blocksToText(blocks []domain.ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		switch b := block.(type) {
		case domain.TextBlock:
			parts = append(parts, b.Text)
		case domain.ToolUseBlock:
			parts = append(parts, b.Name+" "+string(b.Input))
		case domain.ToolResultBlock:
			parts = append(parts, b.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func rawToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

package domain

import "context"

// CompletionClient performs exactly one upstream completion per call: the full
// message history goes up, one response comes back. No streaming, no retry,
// no state between calls.
type CompletionClient interface {
	Complete(ctx context.Context, messages []Message, system string, tools []ToolDefinition) (*CompletionResponse, error)
}

// PromptProvider assembles the system prompt for a prospect. The caller treats
// the result as an opaque string; persona content lives outside the core.
type PromptProvider interface {
	SystemPrompt(prospectID string) (string, error)
}

// ConversationStore persists per-prospect conversation documents.
type ConversationStore interface {
	// LoadConversation returns the stored document, or an empty document
	// (not an error) when none exists yet.
	LoadConversation(prospectID string) (*Conversation, error)

	// SaveConversation replaces the stored document atomically.
	SaveConversation(prospectID string, conv *Conversation) error
}

// TurnRecorder receives audit records for completed chat turns. Recording is
// best effort and must never fail a turn.
type TurnRecorder interface {
	Record(ctx context.Context, rec TurnRecord)
}

// Tokenizer counts tokens in a string for context window management.
type Tokenizer interface {
	// CountTokens returns the number of tokens in the given text.
	CountTokens(text string) (int, error)
}

// HistoryWindow fits inbound messages into a token budget before a turn
// starts. The turn's own message list is never trimmed mid-run.
type HistoryWindow interface {
	// FitToWindow returns the newest suffix of messages that fits within the
	// configured token limit once the system prompt is reserved.
	FitToWindow(messages []Message, systemPrompt string) ([]Message, error)
}

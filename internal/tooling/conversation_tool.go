package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/prospect"
)

// ConversationInput is the input for read_conversation.
type ConversationInput struct {
	UserID string `json:"userId" jsonschema:"minLength=1" jsonschema_description:"Prospect folder id whose conversation history to load"`
}

// ConversationResult is the exact JSON the model receives from
// read_conversation.
type ConversationResult struct {
	Success   bool             `json:"success"`
	Messages  []domain.Message `json:"messages"`
	Count     int              `json:"count"`
	UpdatedAt string           `json:"updatedAt,omitempty"`
}

// ConversationTool reads the persisted conversation document so the model can
// recall earlier sessions with the prospect.
type ConversationTool struct {
	source ConversationSource
}

// NewConversationTool creates a ConversationTool backed by the given store.
func NewConversationTool(source ConversationSource) *ConversationTool {
	return &ConversationTool{source: source}
}

// Name returns the tool name used in function-calling.
func (t *ConversationTool) Name() string { return "read_conversation" }

// Description returns a human-readable description for the model.
func (t *ConversationTool) Description() string {
	return "Loads the saved conversation history with this prospect from previous sessions."
}

// Definition returns the JSON Schema for conversation input.
func (t *ConversationTool) Definition() string {
	return GenerateSchema(ConversationInput{})
}

// Call validates the input and loads the conversation document. A prospect
// with no saved conversation yields an empty result, not an error.
func (t *ConversationTool) Call(ctx context.Context, args json.RawMessage) (any, error) {
	if err := ValidateAgainstSchema(args, t.Definition()); err != nil {
		return nil, err
	}
	var input ConversationInput
	if err := unmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	conv, err := t.source.LoadConversation(input.UserID)
	if err != nil {
		if errors.Is(err, prospect.ErrNotFound) {
			conv = &domain.Conversation{}
		} else {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
	}

	msgs := conv.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	res := &ConversationResult{
		Success:  true,
		Messages: msgs,
		Count:    len(msgs),
	}
	if !conv.UpdatedAt.IsZero() {
		res.UpdatedAt = conv.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return res, nil
}

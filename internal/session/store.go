package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/prospect"
)

// ConversationFiles is the slice of the prospect store the session layer
// needs: raw conversation.json bytes in, raw bytes out.
type ConversationFiles interface {
	ReadConversationFile(userID string) ([]byte, error)
	WriteConversationFile(userID string, data []byte) error
}

// Store persists conversation documents through the prospect filesystem API.
// One document per prospect, replaced whole on every save.
type Store struct {
	files     ConversationFiles
	marshalFn func(v any) ([]byte, error) // nil means json.MarshalIndent
	nowFunc   func() time.Time            // nil means time.Now
}

var _ domain.ConversationStore = (*Store)(nil)

// NewStore returns a Store backed by the given conversation files.
func NewStore(files ConversationFiles) *Store {
	if files == nil {
		panic("session: conversation files must not be nil")
	}
	return &Store{files: files}
}

func (s *Store) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

// LoadConversation returns the stored document for a prospect. A prospect that
// has never chatted gets an empty document, not an error; a document that
// exists but does not parse is an error, so history is never silently reset.
func (s *Store) LoadConversation(prospectID string) (*domain.Conversation, error) {
	data, err := s.files.ReadConversationFile(prospectID)
	if err != nil {
		if errors.Is(err, prospect.ErrNotFound) {
			return &domain.Conversation{Messages: []domain.Message{}}, nil
		}
		return nil, fmt.Errorf("session: load conversation: %w", err)
	}

	var conv domain.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("session: parse conversation for %q: %w", prospectID, err)
	}
	if conv.Messages == nil {
		conv.Messages = []domain.Message{}
	}
	return &conv, nil
}

// SaveConversation stamps UpdatedAt on the document and replaces the stored
// file. The stamp mutates conv so callers can echo the time back to clients.
func (s *Store) SaveConversation(prospectID string, conv *domain.Conversation) error {
	if conv == nil {
		return fmt.Errorf("session: conversation must not be nil")
	}
	conv.UpdatedAt = s.now().UTC()

	marshal := s.marshalFn
	if marshal == nil {
		marshal = func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
	}
	data, err := marshal(conv)
	if err != nil {
		return fmt.Errorf("session: marshal conversation: %w", err)
	}
	if err := s.files.WriteConversationFile(prospectID, data); err != nil {
		return fmt.Errorf("session: save conversation: %w", err)
	}
	return nil
}

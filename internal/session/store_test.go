package session

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/prospect"
)

// memFiles keeps conversation documents in memory.
type memFiles struct {
	docs     map[string][]byte
	readErr  error
	writeErr error
}

func newMemFiles() *memFiles {
	return &memFiles{docs: make(map[string][]byte)}
}

func (m *memFiles) ReadConversationFile(userID string) ([]byte, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	data, ok := m.docs[userID]
	if !ok {
		return nil, prospect.ErrNotFound
	}
	return data, nil
}

func (m *memFiles) WriteConversationFile(userID string, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.docs[userID] = data
	return nil
}

func TestNewStore_WhenFilesIsNil_ShouldPanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for nil files")
		}
	}()
	NewStore(nil)
}

func TestStore_LoadConversation_WhenNoDocument_ShouldReturnEmptyDoc(t *testing.T) {
	s := NewStore(newMemFiles())

	conv, err := s.LoadConversation("acme")
	if err != nil {
		t.Fatalf("a fresh prospect must not error: %v", err)
	}
	if conv == nil || conv.Messages == nil {
		t.Fatal("want an empty document with non-nil messages")
	}
	if len(conv.Messages) != 0 {
		t.Errorf("want 0 messages, got %d", len(conv.Messages))
	}
	if !conv.UpdatedAt.IsZero() {
		t.Errorf("fresh document should carry no timestamp, got %v", conv.UpdatedAt)
	}
}

func TestStore_LoadConversation_WhenDocumentExists_ShouldParseIt(t *testing.T) {
	files := newMemFiles()
	files.docs["acme"] = []byte(`{"messages":[{"role":"user","content":"hello"}],"updatedAt":"2026-08-20T10:00:00Z"}`)
	s := NewStore(files)

	conv, err := s.LoadConversation("acme")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Text() != "hello" {
		t.Errorf("unexpected messages: %+v", conv.Messages)
	}
	if conv.UpdatedAt.IsZero() {
		t.Error("updatedAt should be parsed")
	}
}

func TestStore_LoadConversation_WhenMessagesIsNull_ShouldNormalizeToEmpty(t *testing.T) {
	files := newMemFiles()
	files.docs["acme"] = []byte(`{"messages":null}`)
	s := NewStore(files)

	conv, err := s.LoadConversation("acme")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if conv.Messages == nil {
		t.Error("null messages should normalize to an empty slice")
	}
}

func TestStore_LoadConversation_WhenDocumentIsCorrupt_ShouldReturnError(t *testing.T) {
	files := newMemFiles()
	files.docs["acme"] = []byte(`{broken`)
	s := NewStore(files)

	_, err := s.LoadConversation("acme")
	if err == nil {
		t.Fatal("corrupt document must surface, not silently reset history")
	}
	if !strings.Contains(err.Error(), "acme") {
		t.Errorf("error should name the prospect: %v", err)
	}
}

func TestStore_LoadConversation_WhenReadFails_ShouldWrapError(t *testing.T) {
	files := newMemFiles()
	files.readErr = fmt.Errorf("disk gone")
	s := NewStore(files)

	_, err := s.LoadConversation("acme")
	if err == nil || !strings.Contains(err.Error(), "disk gone") {
		t.Errorf("want wrapped read error, got %v", err)
	}
}

func TestStore_SaveConversation_ShouldStampAndPersist(t *testing.T) {
	files := newMemFiles()
	s := NewStore(files)
	fixed := time.Date(2026, 8, 21, 9, 30, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }

	conv := &domain.Conversation{Messages: []domain.Message{
		domain.NewTextMessage(domain.RoleUser, "hi"),
		domain.NewTextMessage(domain.RoleAssistant, "hello"),
	}}
	if err := s.SaveConversation("acme", conv); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	if !conv.UpdatedAt.Equal(fixed) {
		t.Errorf("UpdatedAt should be stamped, got %v", conv.UpdatedAt)
	}

	// Round trip through the stored bytes.
	loaded, err := s.LoadConversation("acme")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("want 2 messages, got %d", len(loaded.Messages))
	}
	if loaded.Messages[1].Text() != "hello" {
		t.Errorf("unexpected reloaded message: %q", loaded.Messages[1].Text())
	}
	if !loaded.UpdatedAt.Equal(fixed) {
		t.Errorf("persisted UpdatedAt should round trip, got %v", loaded.UpdatedAt)
	}
}

func TestStore_SaveConversation_WhenConversationIsNil_ShouldReturnError(t *testing.T) {
	s := NewStore(newMemFiles())
	if err := s.SaveConversation("acme", nil); err == nil {
		t.Fatal("expected error for nil conversation")
	}
}

func TestStore_SaveConversation_WhenMarshalFails_ShouldReturnError(t *testing.T) {
	s := NewStore(newMemFiles())
	s.marshalFn = func(v any) ([]byte, error) { return nil, fmt.Errorf("marshal exploded") }

	err := s.SaveConversation("acme", &domain.Conversation{})
	if err == nil || !strings.Contains(err.Error(), "marshal exploded") {
		t.Errorf("want marshal error, got %v", err)
	}
}

func TestStore_SaveConversation_WhenWriteFails_ShouldWrapError(t *testing.T) {
	files := newMemFiles()
	files.writeErr = errors.New("read-only filesystem")
	s := NewStore(files)

	err := s.SaveConversation("acme", &domain.Conversation{})
	if err == nil || !strings.Contains(err.Error(), "read-only filesystem") {
		t.Errorf("want wrapped write error, got %v", err)
	}
}

func TestStore_RoundTrip_ShouldPreserveToolBlocks(t *testing.T) {
	files := newMemFiles()
	s := NewStore(files)

	assistant := domain.NewBlockMessage(domain.RoleAssistant,
		domain.TextBlock{Text: "checking"},
		domain.ToolUseBlock{ToolUseID: "toolu_9", Name: "read_metadata", Input: []byte(`{"userId":"acme"}`)},
	)
	toolMsg := domain.NewBlockMessage(domain.RoleUser,
		domain.ToolResultBlock{ToolUseID: "toolu_9", Content: `{"success":true}`},
	)
	conv := &domain.Conversation{Messages: []domain.Message{assistant, toolMsg}}
	if err := s.SaveConversation("acme", conv); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	loaded, err := s.LoadConversation("acme")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	blocks := loaded.Messages[0].ContentBlocks
	if len(blocks) != 2 {
		t.Fatalf("want 2 blocks on the assistant message, got %d", len(blocks))
	}
	tu, ok := blocks[1].(domain.ToolUseBlock)
	if !ok || tu.ToolUseID != "toolu_9" {
		t.Errorf("tool_use block should survive the round trip: %+v", blocks[1])
	}
	tr, ok := loaded.Messages[1].ContentBlocks[0].(domain.ToolResultBlock)
	if !ok || tr.ToolUseID != "toolu_9" {
		t.Errorf("tool_result block should survive the round trip: %+v", loaded.Messages[1].ContentBlocks)
	}
}

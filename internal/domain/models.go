package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Core Configuration
// =============================================================================

type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Prospects ProspectsConfig `json:"prospects"`
	Model     ModelConfig     `json:"model"`
	Audit     AuditConfig     `json:"audit"`
	Infra     InfraConfig     `json:"infra"`
	Retry     RetryConfig     `json:"retry"`
}

type GatewayConfig struct {
	Port           int        `json:"port"`
	Auth           AuthConfig `json:"auth"`
	AllowedOrigins []string   `json:"allowedOrigins"` // CORS origins for the frontend; empty allows any
	StaticDir      string     `json:"staticDir"`      // Frontend bundle served at /
}

type AuthConfig struct {
	Mode      string `json:"mode"`                // "token" | "none"
	AuthToken string `json:"authToken,omitempty"` // When set, gateway requires Authorization: Bearer <authToken>
}

// ProspectsConfig locates per-prospect state on disk. Every prospect owns one
// folder under Root holding assets/, conversation.json, metadata.json,
// sitemap.json and styles.css.
type ProspectsConfig struct {
	Root        string `json:"root"`
	DefaultID   string `json:"defaultId"`   // Prospect used when a chat request omits userId
	MaxUploadMB int    `json:"maxUploadMb"` // Per-file upload cap for assets
}

type ModelConfig struct {
	Model            string `json:"model"`
	MaxTokens        int    `json:"maxTokens"`        // max_tokens sent upstream per completion
	MaxHistoryTokens int    `json:"maxHistoryTokens"` // Inbound history budget before a turn starts
	PromptDir        string `json:"promptDir"`        // Directory of persona module JSON files
}

// AuditConfig controls the turn log. Database accepts a local file path or a
// libsql:// URL.
type AuditConfig struct {
	Database      string `json:"database"`
	RetentionDays int    `json:"retentionDays"`
	SweepSchedule string `json:"sweepSchedule"` // cron spec for the retention sweep
}

type InfraConfig struct {
	LogFormat string `json:"logFormat"` // "json" | "text"
	LogLevel  string `json:"logLevel"`
}

// RetryConfig controls backoff for the upstream connectivity probe. The chat
// turn itself never retries: a failed completion fails the turn.
type RetryConfig struct {
	MaxRetries     int `json:"maxRetries"`     // Maximum retry attempts (0 = no retries)
	InitialBackoff int `json:"initialBackoff"` // Initial backoff in milliseconds
	MaxBackoff     int `json:"maxBackoff"`     // Maximum backoff in milliseconds
	Multiplier     int `json:"multiplier"`     // Backoff multiplier (e.g. 2 for exponential doubling)
}

// =============================================================================
// Messaging Protocol
// =============================================================================

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is the canonical chat message. RawContent holds the wire JSON;
// ContentBlocks is populated after UnmarshalJSON for polymorphic content
// (text, tool_use, tool_result). Marshal emits RawContent verbatim when
// present so a decoded message re-encodes byte for byte.
type Message struct {
	Role MessageRole `json:"role"`

	// Polymorphic content: string or []ContentBlock (stored as raw JSON)
	RawContent json.RawMessage `json:"content"`
	// Parsed blocks (populated after Unmarshal)
	ContentBlocks []ContentBlock `json:"-"`
}

// NewTextMessage builds a message whose content is a plain string.
func NewTextMessage(role MessageRole, text string) Message {
	raw, _ := json.Marshal(text)
	return Message{
		Role:          role,
		RawContent:    raw,
		ContentBlocks: []ContentBlock{TextBlock{Text: text}},
	}
}

// NewBlockMessage builds a message whose content is an array of blocks.
// RawContent is left nil; MarshalJSON renders the blocks.
func NewBlockMessage(role MessageRole, blocks ...ContentBlock) Message {
	return Message{Role: role, ContentBlocks: blocks}
}

// UnmarshalJSON implements custom unmarshaling for polymorphic content.
// If content is a string, it becomes a single TextBlock; if an array, each
// element is decoded by its "type" field into the appropriate ContentBlock
// implementation.
func (m *Message) UnmarshalJSON(data []byte) error {
	var a struct {
		Role    MessageRole     `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.Role = a.Role
	m.RawContent = a.Content
	m.ContentBlocks = nil

	if len(a.Content) == 0 {
		return nil
	}
	blocks, err := parseContent(a.Content)
	if err != nil {
		return err
	}
	m.ContentBlocks = blocks
	return nil
}

// MarshalJSON renders {role, content}. RawContent wins when set so messages
// decoded from the wire or from conversation.json round-trip unchanged;
// otherwise the parsed blocks are encoded.
func (m Message) MarshalJSON() ([]byte, error) {
	content := m.RawContent
	if content == nil {
		if len(m.ContentBlocks) > 0 {
			b, err := json.Marshal(m.ContentBlocks)
			if err != nil {
				return nil, err
			}
			content = b
		} else {
			content = json.RawMessage(`""`)
		}
	}
	return json.Marshal(struct {
		Role    MessageRole     `json:"role"`
		Content json.RawMessage `json:"content"`
	}{m.Role, content})
}

// Text concatenates the text blocks of the message. Tool blocks are skipped.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.ContentBlocks {
		if tb, ok := b.(TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// parseContent decodes content (string or array of blocks) into ContentBlocks.
// Elements with unknown or malformed types are skipped, not fatal: upstream
// may grow new block kinds and old conversations must keep loading.
func parseContent(content json.RawMessage) ([]ContentBlock, error) {
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return []ContentBlock{TextBlock{Text: s}}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("message content must be a string or block array: %w", err)
	}
	blocks := make([]ContentBlock, 0, len(raw))
	for _, r := range raw {
		var typeOnly struct {
			Type BlockType `json:"type"`
		}
		if err := json.Unmarshal(r, &typeOnly); err != nil {
			continue
		}
		switch typeOnly.Type {
		case BlockText:
			var b TextBlock
			if err := json.Unmarshal(r, &b); err == nil {
				blocks = append(blocks, b)
			}
		case BlockToolUse:
			var b ToolUseBlock
			if err := json.Unmarshal(r, &b); err == nil {
				blocks = append(blocks, b)
			}
		case BlockToolResult:
			var b ToolResultBlock
			if err := json.Unmarshal(r, &b); err == nil {
				blocks = append(blocks, b)
			}
		}
	}
	return blocks, nil
}

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

type ContentBlock interface {
	Type() BlockType
}

type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) Type() BlockType { return BlockText }

func (b TextBlock) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type BlockType `json:"type"`
		Text string    `json:"text"`
	}
	return json.Marshal(wire{BlockText, b.Text})
}

// ToolUseBlock is the model asking for one tool invocation. Input is the raw
// JSON argument object validated against the tool's schema before execution.
type ToolUseBlock struct {
	ToolUseID string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

func (ToolUseBlock) Type() BlockType { return BlockToolUse }

func (b ToolUseBlock) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type      BlockType       `json:"type"`
		ToolUseID string          `json:"id"`
		Name      string          `json:"name"`
		Input     json.RawMessage `json:"input"`
	}
	return json.Marshal(wire{BlockToolUse, b.ToolUseID, b.Name, b.Input})
}

// ToolResultBlock carries one tool outcome back to the model. ToolUseID must
// reference a ToolUseBlock id from the immediately preceding assistant
// message. Content is the serialized result JSON (or an error payload when
// IsError is set).
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (ToolResultBlock) Type() BlockType { return BlockToolResult }

func (b ToolResultBlock) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type      BlockType `json:"type"`
		ToolUseID string    `json:"tool_use_id"`
		Content   string    `json:"content"`
		IsError   bool      `json:"is_error,omitempty"`
	}
	return json.Marshal(wire{BlockToolResult, b.ToolUseID, b.Content, b.IsError})
}

// =============================================================================
// Completion Protocol
// =============================================================================

// StopReason explains why the model stopped emitting content.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// CompletionResponse is one upstream completion. Raw preserves the verbatim
// response body so the HTTP boundary can return exactly what upstream sent.
type CompletionResponse struct {
	ID         string      `json:"id,omitempty"`
	Role       MessageRole `json:"role,omitempty"`
	Model      string      `json:"model,omitempty"`
	StopReason StopReason  `json:"stop_reason"`
	Usage      *Usage      `json:"usage,omitempty"`

	RawContent json.RawMessage `json:"content"`
	// Parsed blocks (populated after Unmarshal)
	Content []ContentBlock `json:"-"`
	// Verbatim upstream body (not part of the JSON shape itself)
	Raw json.RawMessage `json:"-"`
}

func (r *CompletionResponse) UnmarshalJSON(data []byte) error {
	type completionAlias CompletionResponse
	var a completionAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = CompletionResponse(a)
	r.Content = nil
	if len(r.RawContent) == 0 {
		return nil
	}
	blocks, err := parseContent(r.RawContent)
	if err != nil {
		return err
	}
	r.Content = blocks
	return nil
}

// ToolUses returns the tool_use blocks of the response in emission order.
func (r *CompletionResponse) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, b := range r.Content {
		if tu, ok := b.(ToolUseBlock); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}

// Text concatenates the text blocks of the response.
func (r *CompletionResponse) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if tb, ok := b.(TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// AssistantMessage wraps the response content as an assistant message,
// preserving the original block order byte for byte.
func (r *CompletionResponse) AssistantMessage() Message {
	return Message{
		Role:          RoleAssistant,
		RawContent:    r.RawContent,
		ContentBlocks: r.Content,
	}
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// =============================================================================
// Tooling
// =============================================================================

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// =============================================================================
// Conversation Persistence
// =============================================================================

// Conversation is the conversation.json document of one prospect.
type Conversation struct {
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// =============================================================================
// Audit
// =============================================================================

// TurnRecord summarizes one orchestrated chat turn for the audit log.
type TurnRecord struct {
	Prospect        string
	CompletionCalls int
	ToolCalls       int
	StopReason      StopReason
	Duration        time.Duration
	LimitHit        bool
	Err             string
	CreatedAt       time.Time
}

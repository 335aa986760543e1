package tooling

import (
	"context"
	"encoding/json"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/prospect"
)

// ProspectTool is a read-only tool whose input is described by a JSON Schema
// generated from a Go struct via invopop/jsonschema. The orchestrator passes
// Definition() to the model (function-calling API) and validates returned
// arguments before calling Call(). Every input schema requires userId so a
// tool can never be invoked without knowing whose folder to read.
type ProspectTool interface {
	// Name returns the unique tool name used in function-calling (e.g. "read_sitemap").
	Name() string
	// Description returns a human-readable description for the model.
	Description() string
	// Definition returns the JSON Schema string for the tool's input struct.
	Definition() string
	// Call executes the tool with the given JSON arguments and returns the
	// tool's concrete result value. Implementations must validate args against
	// the schema before touching the filesystem.
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// ProspectReader is the slice of the prospect store the tools need. Narrow on
// purpose: tools only ever read.
type ProspectReader interface {
	ListAssets(userID string) ([]string, error)
	ReadMetadata(userID string) (*prospect.Metadata, error)
	ReadSitemap(userID string) (*prospect.Sitemap, error)
	ReadStylesheet(userID string) (string, error)
}

// ConversationSource loads persisted conversation documents for the
// read_conversation tool.
type ConversationSource interface {
	LoadConversation(prospectID string) (*domain.Conversation, error)
}

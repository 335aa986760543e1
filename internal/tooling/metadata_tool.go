package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/prospect"
)

// MetadataInput is the input for read_metadata.
type MetadataInput struct {
	UserID string `json:"userId" jsonschema:"minLength=1" jsonschema_description:"Prospect folder id whose site metadata to load"`
}

// MetadataResult is the exact JSON the model receives from read_metadata.
// hasLogo and hasHeroImage are capability flags so the model can tell what
// the prospect already provided without inspecting asset listings.
type MetadataResult struct {
	Success      bool           `json:"success"`
	Metadata     map[string]any `json:"metadata"`
	HasLogo      bool           `json:"hasLogo"`
	HasHeroImage bool           `json:"hasHeroImage"`
}

// MetadataTool reads the prospect's site metadata document.
type MetadataTool struct {
	reader ProspectReader
}

// NewMetadataTool creates a MetadataTool reading from the given prospect store.
func NewMetadataTool(reader ProspectReader) *MetadataTool {
	return &MetadataTool{reader: reader}
}

// Name returns the tool name used in function-calling.
func (t *MetadataTool) Name() string { return "read_metadata" }

// Description returns a human-readable description for the model.
func (t *MetadataTool) Description() string {
	return "Loads the prospect's site metadata (business name, tagline, contact details) plus flags for whether a logo and hero image exist."
}

// Definition returns the JSON Schema for metadata input.
func (t *MetadataTool) Definition() string {
	return GenerateSchema(MetadataInput{})
}

// Call validates the input and loads metadata.json. A missing document yields
// an empty metadata object with both flags false.
func (t *MetadataTool) Call(ctx context.Context, args json.RawMessage) (any, error) {
	if err := ValidateAgainstSchema(args, t.Definition()); err != nil {
		return nil, err
	}
	var input MetadataInput
	if err := unmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	md, err := t.reader.ReadMetadata(input.UserID)
	if err != nil {
		if errors.Is(err, prospect.ErrNotFound) {
			return &MetadataResult{Success: true, Metadata: map[string]any{}}, nil
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	fields := md.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return &MetadataResult{
		Success:      true,
		Metadata:     fields,
		HasLogo:      md.HasLogo,
		HasHeroImage: md.HasHeroImage,
	}, nil
}

package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/prospect"
)

// SitemapInput is the input for read_sitemap.
type SitemapInput struct {
	UserID string `json:"userId" jsonschema:"minLength=1" jsonschema_description:"Prospect folder id whose sitemap to load"`
}

// SitemapResult is the exact JSON the model receives from read_sitemap. Pages
// keep their document order.
type SitemapResult struct {
	Success bool             `json:"success"`
	Pages   []map[string]any `json:"pages"`
	Count   int              `json:"count"`
}

// SitemapTool reads the prospect's planned page structure.
type SitemapTool struct {
	reader ProspectReader
}

// NewSitemapTool creates a SitemapTool reading from the given prospect store.
func NewSitemapTool(reader ProspectReader) *SitemapTool {
	return &SitemapTool{reader: reader}
}

// Name returns the tool name used in function-calling.
func (t *SitemapTool) Name() string { return "read_sitemap" }

// Description returns a human-readable description for the model.
func (t *SitemapTool) Description() string {
	return "Loads the prospect's planned site structure: the ordered list of pages with titles and slugs."
}

// Definition returns the JSON Schema for sitemap input.
func (t *SitemapTool) Definition() string {
	return GenerateSchema(SitemapInput{})
}

// Call validates the input and loads sitemap.json. A missing document yields
// an empty page list.
func (t *SitemapTool) Call(ctx context.Context, args json.RawMessage) (any, error) {
	if err := ValidateAgainstSchema(args, t.Definition()); err != nil {
		return nil, err
	}
	var input SitemapInput
	if err := unmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	sm, err := t.reader.ReadSitemap(input.UserID)
	if err != nil {
		if errors.Is(err, prospect.ErrNotFound) {
			return &SitemapResult{Success: true, Pages: []map[string]any{}}, nil
		}
		return nil, fmt.Errorf("read sitemap: %w", err)
	}

	pages := sm.Pages
	if pages == nil {
		pages = []map[string]any{}
	}
	return &SitemapResult{
		Success: true,
		Pages:   pages,
		Count:   len(pages),
	}, nil
}

package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AssetsInput is the input for read_user_assets.
type AssetsInput struct {
	UserID string `json:"userId" jsonschema:"minLength=1" jsonschema_description:"Prospect folder id whose uploaded assets to list"`
}

// AssetsResult is the exact JSON the model receives from read_user_assets.
// Field names are a compatibility contract with the deployed prompt; renaming
// them changes model behavior.
type AssetsResult struct {
	Success bool     `json:"success"`
	Files   []string `json:"files"`
	Count   int      `json:"count"`
	Message string   `json:"message"`
}

// AssetsTool lists the image files a prospect has uploaded.
type AssetsTool struct {
	reader ProspectReader
}

// NewAssetsTool creates an AssetsTool reading from the given prospect store.
func NewAssetsTool(reader ProspectReader) *AssetsTool {
	return &AssetsTool{reader: reader}
}

// Name returns the tool name used in function-calling.
func (t *AssetsTool) Name() string { return "read_user_assets" }

// Description returns a human-readable description for the model.
func (t *AssetsTool) Description() string {
	return "Lists the image files the prospect has uploaded (logos, photos, hero images). Use this before referencing any uploaded asset."
}

// Definition returns the JSON Schema for assets input.
func (t *AssetsTool) Definition() string {
	return GenerateSchema(AssetsInput{})
}

// Call validates the input and lists the prospect's assets. A prospect with
// no uploads (or no folder at all) is a normal empty result, not an error.
func (t *AssetsTool) Call(ctx context.Context, args json.RawMessage) (any, error) {
	if err := ValidateAgainstSchema(args, t.Definition()); err != nil {
		return nil, err
	}
	var input AssetsInput
	if err := unmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	files, err := t.reader.ListAssets(input.UserID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	if files == nil {
		files = []string{}
	}

	msg := "No assets uploaded yet."
	if len(files) > 0 {
		msg = fmt.Sprintf("Found %d file(s): %s", len(files), strings.Join(files, ", "))
	}
	return &AssetsResult{
		Success: true,
		Files:   files,
		Count:   len(files),
		Message: msg,
	}, nil
}

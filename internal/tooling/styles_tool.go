package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/prospect"
)

// StylesInput is the input for read_styles.
type StylesInput struct {
	UserID string `json:"userId" jsonschema:"minLength=1" jsonschema_description:"Prospect folder id whose stylesheet to summarize"`
}

// StylesResult is the exact JSON the model receives from read_styles. The
// stylesheet itself stays on disk; the model gets the design tokens and the
// designer's reference note.
type StylesResult struct {
	Success      bool   `json:"success"`
	Exists       bool   `json:"exists"`
	PrimaryColor string `json:"primaryColor"`
	FontHeading  string `json:"fontHeading"`
	Reference    string `json:"reference"`
	Size         int    `json:"size"`
}

// StylesTool summarizes the prospect's styles.css.
type StylesTool struct {
	reader ProspectReader
}

// NewStylesTool creates a StylesTool reading from the given prospect store.
func NewStylesTool(reader ProspectReader) *StylesTool {
	return &StylesTool{reader: reader}
}

// Name returns the tool name used in function-calling.
func (t *StylesTool) Name() string { return "read_styles" }

// Description returns a human-readable description for the model.
func (t *StylesTool) Description() string {
	return "Summarizes the prospect's current stylesheet: primary color, heading font, and the designer's reference note."
}

// Definition returns the JSON Schema for styles input.
func (t *StylesTool) Definition() string {
	return GenerateSchema(StylesInput{})
}

// Call validates the input and summarizes styles.css. A missing stylesheet
// yields exists:false with empty tokens.
func (t *StylesTool) Call(ctx context.Context, args json.RawMessage) (any, error) {
	if err := ValidateAgainstSchema(args, t.Definition()); err != nil {
		return nil, err
	}
	var input StylesInput
	if err := unmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	css, err := t.reader.ReadStylesheet(input.UserID)
	if err != nil {
		if errors.Is(err, prospect.ErrNotFound) {
			return &StylesResult{Success: true}, nil
		}
		return nil, fmt.Errorf("read stylesheet: %w", err)
	}

	sum := prospect.ParseStyleSummary(css)
	return &StylesResult{
		Success:      true,
		Exists:       true,
		PrimaryColor: sum.PrimaryColor,
		FontHeading:  sum.FontHeading,
		Reference:    sum.Reference,
		Size:         len(css),
	}, nil
}

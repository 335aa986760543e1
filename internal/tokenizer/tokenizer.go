package tokenizer

import (
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used for history budgeting. The upstream
// model tokenizes differently; counts here are an approximation good enough to
// keep requests under the window, never a billing figure.
const DefaultEncoding = "cl100k_base"

// TikToken wraps tiktoken-go to implement domain.Tokenizer.
type TikToken struct {
	encoding *tiktoken.Tiktoken
}

// NewTikToken returns a tokenizer for the given encoding name. Returns an
// error if the encoding is not recognized.
func NewTikToken(encodingName string) (*TikToken, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: unknown encoding %q: %w", encodingName, err)
	}
	return &TikToken{encoding: enc}, nil
}

// NewDefault returns a tokenizer with DefaultEncoding.
func NewDefault() (*TikToken, error) {
	return NewTikToken(DefaultEncoding)
}

// CountTokens returns the number of tokens in the given text.
func (t *TikToken) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	tokens := t.encoding.Encode(text, nil, nil)
	return len(tokens), nil
}

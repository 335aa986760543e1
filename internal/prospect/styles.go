package prospect

import (
	"regexp"
	"strings"
)

// StyleSummary is what the model needs to know about styles.css without
// reading the whole sheet: the design-token custom properties and the
// reference note a designer left behind.
type StyleSummary struct {
	PrimaryColor string
	FontHeading  string
	Reference    string
}

var (
	primaryColorRe = regexp.MustCompile(`--primary-color\s*:\s*([^;}]+)`)
	fontHeadingRe  = regexp.MustCompile(`--font-heading\s*:\s*([^;}]+)`)
	referenceRe    = regexp.MustCompile(`(?s)/\*\s*Reference:\s*(.*?)\s*\*/`)
)

// ParseStyleSummary extracts the known custom properties and the
// "/* Reference: ... */" comment from raw CSS. Absent values stay empty;
// the first occurrence wins when a property repeats.
func ParseStyleSummary(css string) StyleSummary {
	var sum StyleSummary
	if m := primaryColorRe.FindStringSubmatch(css); m != nil {
		sum.PrimaryColor = strings.TrimSpace(m[1])
	}
	if m := fontHeadingRe.FindStringSubmatch(css); m != nil {
		sum.FontHeading = strings.TrimSpace(m[1])
	}
	if m := referenceRe.FindStringSubmatch(css); m != nil {
		sum.Reference = strings.TrimSpace(m[1])
	}
	return sum
}

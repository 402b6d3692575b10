package source

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Record is the canonical result of one extraction.
type Record struct {
	Title          string
	Installment    int
	InstallmentURL string
	ImageURL       string // empty when the page has no cover
}

// Extractor parses one site family's document. Implementations are stateless
// and must report each missing required field with its own sentinel error.
type Extractor interface {
	Extract(ctx context.Context, pageURL string, body []byte) (Record, error)
}

// cleanText collapses whitespace and applies NFC so titles compare byte-equal
// regardless of how the site composed its characters.
func cleanText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

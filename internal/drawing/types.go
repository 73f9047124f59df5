// Package drawing holds the canonical drawing-post record, its packed
// pixel payload codec, and the decoders for the two legacy payload
// generations.
package drawing

import "strings"

// LegacySize is the grid edge length every legacy drawing used.
const LegacySize = 16

// LegacyPalette is the fixed 8-color palette of the legacy client, in its
// historical order. Legacy pixel data indexes into this slice.
var LegacyPalette = []string{
	"#FFFFFF", // white
	"#000000", // black
	"#FF4500", // red
	"#FFA800", // orange
	"#FFD635", // yellow
	"#00A368", // green
	"#2450A4", // blue
	"#811E9F", // purple
}

// Payload is the canonical drawing payload: palette indices packed two per
// byte and base64-encoded, plus the palette itself.
type Payload struct {
	Data       string   `json:"data"`
	Colors     []string `json:"colors"`
	Background int      `json:"background"`
	Size       int      `json:"size"`
}

// Record is the canonical (generation 3) drawing post.
type Record struct {
	ID             string
	Word           string
	NormalizedWord string
	Dictionary     string
	Drawing        Payload
	AuthorID       string
	AuthorName     string
	CreatedAt      int64 // epoch millis
}

// DefaultDictionary names the word list assumed for records that predate
// per-dictionary tracking.
const DefaultDictionary = "main"

// NormalizeWord canonicalizes a word for index lookups.
func NormalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

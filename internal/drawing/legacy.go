package drawing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Legacy payloads are loosely typed; both decoders validate the raw form
// against a schema at the boundary so everything downstream works on typed
// structs, never raw maps.

const v1PayloadSchema = `{
	"type": "object",
	"required": ["word", "data"],
	"properties": {
		"word": {"type": "string", "minLength": 1},
		"data": {"type": "array", "items": {"type": "integer"}},
		"authorId": {"type": "string"},
		"author": {"type": "string"},
		"date": {"type": ["string", "number"]}
	}
}`

const pixelArraySchema = `{
	"type": "array",
	"items": {"type": "integer"}
}`

// LegacyV1 is the generation-1 payload: a JSON blob in a scalar key with a
// flat per-pixel array and author info as either a resolved id or a raw
// username. The date field's type was never reliable.
type LegacyV1 struct {
	Word     string          `json:"word"`
	Data     []int           `json:"data"`
	AuthorID string          `json:"authorId"`
	Author   string          `json:"author"`
	Date     json.RawMessage `json:"date"`
}

// CreatedAt extracts the record's creation time in epoch millis, if the
// date field parses under any of its historical encodings.
func (r *LegacyV1) CreatedAt() (int64, bool) {
	return parseEpochMillis(r.Date)
}

// DecodeV1 validates and decodes a generation-1 scalar payload.
func DecodeV1(raw string) (*LegacyV1, error) {
	res, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(v1PayloadSchema),
		gojsonschema.NewStringLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("parse v1 payload: %w", err)
	}
	if !res.Valid() {
		return nil, fmt.Errorf("invalid v1 payload: %s", schemaErrors(res))
	}
	var out LegacyV1
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode v1 payload: %w", err)
	}
	return &out, nil
}

// LegacyV2 is the generation-2 record, stored as hash fields with the
// pixel array JSON-encoded inside the data field. V2 only ever stored a
// username, never an author id.
type LegacyV2 struct {
	Word           string
	AuthorUsername string
	Dictionary     string
	Data           []int
	Date           int64 // epoch millis, 0 when unparseable
}

// DecodeV2 validates and decodes a generation-2 hash record.
func DecodeV2(fields map[string]string) (*LegacyV2, error) {
	word := strings.TrimSpace(fields["word"])
	if word == "" {
		return nil, fmt.Errorf("invalid v2 record: missing word")
	}
	rawData := fields["data"]
	if strings.TrimSpace(rawData) == "" {
		return nil, fmt.Errorf("invalid v2 record: missing data")
	}
	res, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(pixelArraySchema),
		gojsonschema.NewStringLoader(rawData),
	)
	if err != nil {
		return nil, fmt.Errorf("parse v2 pixel data: %w", err)
	}
	if !res.Valid() {
		return nil, fmt.Errorf("invalid v2 pixel data: %s", schemaErrors(res))
	}
	var pixels []int
	if err := json.Unmarshal([]byte(rawData), &pixels); err != nil {
		return nil, fmt.Errorf("decode v2 pixel data: %w", err)
	}

	out := &LegacyV2{
		Word:           word,
		AuthorUsername: strings.TrimSpace(fields["authorUsername"]),
		Dictionary:     strings.TrimSpace(fields["dictionaryName"]),
		Data:           pixels,
	}
	if ms, err := strconv.ParseInt(strings.TrimSpace(fields["date"]), 10, 64); err == nil {
		out.Date = ms
	}
	return out, nil
}

// parseEpochMillis copes with every date encoding the legacy clients
// produced: a JSON number of millis, a numeric string, or a date string.
func parseEpochMillis(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return int64(num), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), true
	}
	return 0, false
}

func schemaErrors(res *gojsonschema.Result) string {
	parts := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}

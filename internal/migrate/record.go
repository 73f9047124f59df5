package migrate

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/doodlery/doodlery/internal/drawing"
)

// Canonical hash field names.
const (
	fieldID             = "id"
	fieldWord           = "word"
	fieldNormalizedWord = "normalizedWord"
	fieldDictionary     = "dictionary"
	fieldDrawing        = "drawing"
	fieldAuthorID       = "authorId"
	fieldAuthorName     = "authorName"
	fieldCreatedAt      = "createdAt"
)

// recordFields flattens a canonical record into hash fields.
func recordFields(rec *drawing.Record) (map[string]string, error) {
	payload, err := json.Marshal(rec.Drawing)
	if err != nil {
		return nil, fmt.Errorf("encode drawing payload: %w", err)
	}
	return map[string]string{
		fieldType:           typeDrawing,
		fieldID:             rec.ID,
		fieldWord:           rec.Word,
		fieldNormalizedWord: rec.NormalizedWord,
		fieldDictionary:     rec.Dictionary,
		fieldDrawing:        string(payload),
		fieldAuthorID:       rec.AuthorID,
		fieldAuthorName:     rec.AuthorName,
		fieldCreatedAt:      strconv.FormatInt(rec.CreatedAt, 10),
	}, nil
}

// recordFromFields rebuilds a canonical record from its hash fields.
func recordFromFields(id string, fields map[string]string) (*drawing.Record, error) {
	if fields[fieldType] != typeDrawing {
		return nil, fmt.Errorf("record %q is not a drawing", id)
	}
	rec := &drawing.Record{
		ID:             id,
		Word:           fields[fieldWord],
		NormalizedWord: fields[fieldNormalizedWord],
		Dictionary:     fields[fieldDictionary],
		AuthorID:       fields[fieldAuthorID],
		AuthorName:     fields[fieldAuthorName],
	}
	if rec.Word == "" || rec.AuthorID == "" {
		return nil, fmt.Errorf("record %q has incomplete canonical fields", id)
	}
	ms, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("record %q createdAt: %w", id, err)
	}
	rec.CreatedAt = ms
	if err := json.Unmarshal([]byte(fields[fieldDrawing]), &rec.Drawing); err != nil {
		return nil, fmt.Errorf("record %q drawing payload: %w", id, err)
	}
	return rec, nil
}

// postDataFor builds the denormalized post-data bag mirroring a record.
func postDataFor(rec *drawing.Record) map[string]any {
	return map[string]any{
		fieldType:           typeDrawing,
		fieldID:             rec.ID,
		fieldWord:           rec.Word,
		fieldNormalizedWord: rec.NormalizedWord,
		fieldDictionary:     rec.Dictionary,
		fieldAuthorID:       rec.AuthorID,
		fieldAuthorName:     rec.AuthorName,
		fieldCreatedAt:      rec.CreatedAt,
		fieldDrawing: map[string]any{
			"data":       rec.Drawing.Data,
			"colors":     toAnySlice(rec.Drawing.Colors),
			"background": rec.Drawing.Background,
			"size":       rec.Drawing.Size,
		},
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

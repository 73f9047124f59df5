package migrate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"

	"github.com/xeipuuv/gojsonschema"

	"github.com/doodlery/doodlery/internal/drawing"
	"github.com/doodlery/doodlery/internal/host"
	"github.com/doodlery/doodlery/internal/store"
)

// postDataSchema is the declared shape of a drawing post's denormalized
// data bag. Validation round-trips the loosely-typed bag through this
// schema before any field is trusted.
const postDataSchema = `{
	"type": "object",
	"required": ["type", "id", "word", "normalizedWord", "dictionary", "authorId", "authorName", "createdAt", "drawing"],
	"properties": {
		"type": {"const": "drawing"},
		"id": {"type": "string", "minLength": 1},
		"word": {"type": "string", "minLength": 1},
		"normalizedWord": {"type": "string", "minLength": 1},
		"dictionary": {"type": "string"},
		"authorId": {"type": "string", "minLength": 1},
		"authorName": {"type": "string", "minLength": 1},
		"createdAt": {"type": "number"},
		"drawing": {
			"type": "object",
			"required": ["data", "colors", "background", "size"],
			"properties": {
				"data": {"type": "string"},
				"colors": {"type": "array", "items": {"type": "string"}},
				"background": {"type": "integer"},
				"size": {"type": "integer"}
			}
		}
	}
}`

type checkMode int

const (
	// preCheck runs before migration, where "not yet migrated" is the
	// expected outcome; failures stay quiet.
	preCheck checkMode = iota
	// postCheck runs after a write; any failure is diagnostic-worthy.
	postCheck
)

// Validate reports whether a post's canonical record, denormalized data,
// and all derived indexes are mutually consistent.
func (e *Engine) Validate(ctx context.Context, post *host.Post) bool {
	return e.validate(ctx, post, preCheck)
}

// validate performs the consistency checks in order, short-circuiting on
// the first failure. In postCheck mode the failing check is logged with
// detail; the detail messages are mutually exclusive by construction.
func (e *Engine) validate(ctx context.Context, post *host.Post, mode checkMode) bool {
	if post == nil {
		return e.flag(mode, "", "no host post")
	}

	// Host metadata carries complete author identity.
	if post.AuthorID == "" || post.AuthorName == "" {
		return e.flag(mode, post.ID, "incomplete author identity on host post")
	}

	// Denormalized data round-trips through the declared schema.
	if post.Data == nil {
		return e.flag(mode, post.ID, "no denormalized post data")
	}
	raw, err := json.Marshal(post.Data)
	if err != nil {
		return e.flag(mode, post.ID, "post data not encodable", "error", err)
	}
	res, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(postDataSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil || !res.Valid() {
		detail := "schema validation error"
		if err == nil {
			detail = schemaResultDetail(res)
		}
		return e.flag(mode, post.ID, "post data fails record schema", "detail", detail)
	}
	if dataString(post.Data, fieldAuthorID) != post.AuthorID ||
		dataString(post.Data, fieldAuthorName) != post.AuthorName {
		return e.flag(mode, post.ID, "post data author differs from host post author")
	}

	// Canonical hash matches the parsed post data exactly.
	fields, err := e.store.HGetAll(ctx, e.scope, postKey(post.ID))
	if err != nil || len(fields) == 0 {
		return e.flag(mode, post.ID, "canonical record missing", "error", err)
	}
	for _, f := range []string{fieldID, fieldWord, fieldNormalizedWord, fieldDictionary, fieldAuthorID, fieldAuthorName} {
		if fields[f] != dataString(post.Data, f) {
			return e.flag(mode, post.ID, "canonical field differs from post data",
				"field", f, "canonical", fields[f], "post_data", dataString(post.Data, f))
		}
	}
	createdAt, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil || createdAt != dataInt64(post.Data, fieldCreatedAt) {
		return e.flag(mode, post.ID, "createdAt differs from post data",
			"canonical", fields[fieldCreatedAt])
	}

	// Drawing payloads agree (palette order-independent).
	var canonical drawing.Payload
	if err := json.Unmarshal([]byte(fields[fieldDrawing]), &canonical); err != nil {
		return e.flag(mode, post.ID, "canonical drawing payload unparseable", "error", err)
	}
	var hostPayload drawing.Payload
	if rawDrawing, err := json.Marshal(post.Data[fieldDrawing]); err != nil {
		return e.flag(mode, post.ID, "post data drawing not encodable", "error", err)
	} else if err := json.Unmarshal(rawDrawing, &hostPayload); err != nil {
		return e.flag(mode, post.ID, "post data drawing unparseable", "error", err)
	}
	if !payloadsEqual(canonical, hostPayload) {
		return e.flag(mode, post.ID, "drawing payloads differ")
	}

	// All four index entries exist (score 0 is valid; the checks are
	// existence, never truthiness) plus the gallery snapshot.
	authorID := fields[fieldAuthorID]
	indexes := []struct {
		key    string
		member string
	}{
		{wordIndexKey(fields[fieldNormalizedWord]), post.ID},
		{authorIndexKey(authorID), post.ID},
		{globalIndexKey, post.ID},
		{galleryKey(authorID), galleryMember(post.ID)},
	}
	for _, idx := range indexes {
		_, found, err := e.store.ZScore(ctx, e.scope, idx.key, idx.member)
		if err != nil || !found {
			return e.flag(mode, post.ID, "index entry missing", "index", idx.key, "error", err)
		}
	}
	kind, err := e.store.Type(ctx, e.scope, galleryItemKey(galleryMember(post.ID)))
	if err != nil || kind != store.KindHash {
		return e.flag(mode, post.ID, "gallery snapshot missing", "error", err)
	}

	return true
}

// flag records a failed check: silent in preCheck, logged in postCheck.
func (e *Engine) flag(mode checkMode, id, reason string, attrs ...any) bool {
	if mode == postCheck {
		slog.Warn("post-migration validation failed",
			append([]any{"post_id", id, "reason", reason}, attrs...)...)
	}
	return false
}

func payloadsEqual(a, b drawing.Payload) bool {
	if a.Data != b.Data || a.Background != b.Background || a.Size != b.Size {
		return false
	}
	if len(a.Colors) != len(b.Colors) {
		return false
	}
	ac := append([]string(nil), a.Colors...)
	bc := append([]string(nil), b.Colors...)
	sort.Strings(ac)
	sort.Strings(bc)
	for i := range ac {
		if ac[i] != bc[i] {
			return false
		}
	}
	return true
}

func dataString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func dataInt64(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

func schemaResultDetail(res *gojsonschema.Result) string {
	if len(res.Errors()) == 0 {
		return ""
	}
	return res.Errors()[0].String()
}

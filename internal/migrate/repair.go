package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/doodlery/doodlery/internal/drawing"
	"github.com/doodlery/doodlery/internal/store"
)

// RepairIndexes converges the four derived indexes and the gallery snapshot
// for an already-canonical record, creating only what is missing. It is
// pure idempotent convergence: safe to run at any time on any valid record,
// including records migrated before a newer index existed.
func (e *Engine) RepairIndexes(ctx context.Context, rec *drawing.Record) error {
	score := float64(rec.CreatedAt)
	member := galleryMember(rec.ID)

	entries := []struct {
		key    string
		member string
	}{
		{wordIndexKey(rec.NormalizedWord), rec.ID},
		{authorIndexKey(rec.AuthorID), rec.ID},
		{globalIndexKey, rec.ID},
		{galleryKey(rec.AuthorID), member},
	}
	for _, entry := range entries {
		_, found, err := e.store.ZScore(ctx, e.scope, entry.key, entry.member)
		if err != nil {
			return fmt.Errorf("check index %q: %w", entry.key, err)
		}
		if found {
			continue
		}
		if err := e.store.ZAdd(ctx, e.scope, entry.key, entry.member, score); err != nil {
			return fmt.Errorf("write index %q: %w", entry.key, err)
		}
	}

	// Gallery snapshot: a denormalized copy for listing without reading the
	// canonical record.
	itemKey := galleryItemKey(member)
	kind, err := e.store.Type(ctx, e.scope, itemKey)
	if err != nil {
		return fmt.Errorf("check gallery snapshot: %w", err)
	}
	if kind == store.KindHash {
		return nil
	}
	payload, err := json.Marshal(rec.Drawing)
	if err != nil {
		return fmt.Errorf("encode gallery snapshot drawing: %w", err)
	}
	if err := e.store.HSet(ctx, e.scope, itemKey, map[string]string{
		fieldType:      typeDrawing,
		fieldID:        rec.ID,
		fieldDrawing:   string(payload),
		fieldCreatedAt: strconv.FormatInt(rec.CreatedAt, 10),
	}); err != nil {
		return fmt.Errorf("write gallery snapshot: %w", err)
	}
	return nil
}

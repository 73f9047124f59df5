package migrate

import (
	"context"
	"fmt"

	"github.com/doodlery/doodlery/internal/store"
)

// Version identifies which on-store generation a record uses.
type Version int

const (
	// VersionNone means no drawing record exists under any generation's
	// key: either nothing is stored or the keys belong to another record
	// kind.
	VersionNone Version = 0
	Version1    Version = 1
	Version2    Version = 2
	Version3    Version = 3
)

func (v Version) String() string {
	switch v {
	case Version1, Version2, Version3:
		return fmt.Sprintf("v%d", int(v))
	default:
		return "none"
	}
}

// DetectSchemaVersion classifies a record id by probing the generation keys
// newest-first. The ordering is load-bearing: a record mid-migration (V3
// written, legacy keys not yet cleaned up) must classify as V3 so it is
// never re-migrated.
func (e *Engine) DetectSchemaVersion(ctx context.Context, id string) (Version, error) {
	// Generation 3: canonical hash with a discriminator field.
	isDrawing, present, err := e.drawingHash(ctx, postKey(id))
	if err != nil {
		return VersionNone, err
	}
	if present {
		if isDrawing {
			return Version3, nil
		}
		return VersionNone, nil // some other record kind owns the key
	}

	// Generation 2.
	isDrawing, present, err = e.drawingHash(ctx, drawingV2Key(id))
	if err != nil {
		return VersionNone, err
	}
	if present {
		if isDrawing {
			return Version2, nil
		}
		return VersionNone, nil
	}

	// Generation 1: a scalar under the bare id was only ever a drawing. A
	// hash under the bare id is a v2-shaped record left behind by an old
	// in-place migration; honor its discriminator.
	kind, err := e.store.Type(ctx, e.scope, v1Key(id))
	if err != nil {
		return VersionNone, err
	}
	switch kind {
	case store.KindString:
		return Version1, nil
	case store.KindHash:
		isDrawing, _, err := e.drawingHash(ctx, v1Key(id))
		if err != nil {
			return VersionNone, err
		}
		if isDrawing {
			return Version2, nil
		}
	}
	return VersionNone, nil
}

// drawingHash reports whether key is a hash (present) and whether its
// discriminator marks it as a drawing.
func (e *Engine) drawingHash(ctx context.Context, key string) (isDrawing, present bool, err error) {
	kind, err := e.store.Type(ctx, e.scope, key)
	if err != nil || kind != store.KindHash {
		return false, false, err
	}
	disc, _, err := e.store.HGet(ctx, e.scope, key, fieldType)
	if err != nil {
		return false, true, err
	}
	return disc == typeDrawing, true, nil
}

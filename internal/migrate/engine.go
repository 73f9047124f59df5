// Package migrate is the drawing-post schema migration engine: it detects
// which on-store generation a record uses, converts legacy records to the
// canonical form, and repairs the derived indexes — lazily, on first touch,
// under a per-record TTL lock.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/doodlery/doodlery/internal/drawing"
	"github.com/doodlery/doodlery/internal/host"
	"github.com/doodlery/doodlery/internal/identity"
	"github.com/doodlery/doodlery/internal/store"
)

// DefaultLockTTL bounds how long a crashed migration can block other
// attempts. Set comfortably above worst-case migration latency: a holder
// that outlives the TTL risks a second migrator running concurrently
// (tolerable, since every write is idempotent, but worth avoiding).
const DefaultLockTTL = 60 * time.Second

// migrationComment is pinned on a post after its record is upgraded.
const migrationComment = "This drawing was made with an earlier version of the game and has been upgraded automatically. Guesses and gallery listings work as usual."

// Config wires an Engine.
type Config struct {
	Store   store.Store
	Scope   store.Scope
	Host    host.Platform
	LockTTL time.Duration // 0 means DefaultLockTTL
	Now     func() time.Time
}

// Engine is the migration orchestrator. All coordination happens through
// the store (lock keys plus a double-check after acquisition); the Engine
// itself holds no mutable state and is safe for concurrent use.
type Engine struct {
	store   store.Store
	scope   store.Scope
	host    host.Platform
	locks   *store.LockManager
	ledger  *Ledger
	lockTTL time.Duration
	now     func() time.Time
	tracer  trace.Tracer
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ledger := NewLedger(cfg.Store, cfg.Scope)
	ledger.now = cfg.Now
	return &Engine{
		store:   cfg.Store,
		scope:   cfg.Scope,
		host:    cfg.Host,
		locks:   store.NewLockManager(cfg.Store, cfg.Scope),
		ledger:  ledger,
		lockTTL: cfg.LockTTL,
		now:     cfg.Now,
		tracer:  otel.Tracer("doodlery/migrate"),
	}
}

// Ledger exposes the outcome ledger for dashboards and admin tooling.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// sideEffectResult captures one best-effort step. Side effects never change
// the operation's outcome; keeping them separate from the critical result
// stops logs and tests from conflating the two.
type sideEffectResult struct {
	name string
	err  error
}

// migrationResult separates the critical write outcome from best-effort
// side effects.
type migrationResult struct {
	critical    error
	raced       bool // canonical record appeared after lock acquisition
	sideEffects []sideEffectResult
}

// MigrateByID fetches the post from the host and migrates it. A host fetch
// failure returns false without a ledger entry: it says nothing about the
// record, and the caller retries on next access.
func (e *Engine) MigrateByID(ctx context.Context, id string) bool {
	post, err := e.host.PostByID(ctx, id)
	if err != nil {
		slog.Warn("host post fetch failed, migration deferred", "post_id", id, "error", err)
		return false
	}
	return e.Migrate(ctx, post)
}

// Migrate brings one record to the canonical generation, returning whether
// the record is known-good afterwards. False means "not migrated this
// time": the caller keeps serving the record through its legacy path and
// retries on next access. No error or panic ever escapes.
func (e *Engine) Migrate(ctx context.Context, post *host.Post) (migrated bool) {
	if post == nil || post.ID == "" {
		return false
	}
	id := post.ID

	ctx, span := e.tracer.Start(ctx, "migrate.record",
		trace.WithAttributes(attribute.String("post.id", id)))
	defer span.End()
	defer func() {
		span.SetAttributes(attribute.Bool("migrate.ok", migrated))
		if r := recover(); r != nil {
			slog.Error("migration panicked", "post_id", id, "panic", r)
			e.recordFailed(ctx, id)
			migrated = false
		}
	}()

	// Fast path: already canonical and consistent. After the corpus has
	// been fully migrated this is the only path that runs.
	if e.validate(ctx, post, preCheck) {
		return true
	}

	version, err := e.DetectSchemaVersion(ctx, id)
	if err != nil {
		slog.Warn("schema detection failed", "post_id", id, "error", err)
		return false
	}
	span.SetAttributes(attribute.String("migrate.detected", version.String()))

	switch version {
	case VersionNone:
		if err := e.ledger.RecordSkipped(ctx, id); err != nil {
			slog.Warn("skipped ledger write failed", "post_id", id, "error", err)
		}
		return false

	case Version3:
		// Canonical record exists but validation failed: indexes or
		// denormalized metadata drifted. Converge and re-check.
		return e.repairCanonical(ctx, post)

	default:
		return e.migrateLegacy(ctx, post, version)
	}
}

// repairCanonical handles a valid V3 record whose derived state drifted.
func (e *Engine) repairCanonical(ctx context.Context, post *host.Post) bool {
	fields, err := e.store.HGetAll(ctx, e.scope, postKey(post.ID))
	if err != nil {
		slog.Warn("canonical read failed", "post_id", post.ID, "error", err)
		return false
	}
	rec, err := recordFromFields(post.ID, fields)
	if err != nil {
		slog.Warn("canonical record unreadable", "post_id", post.ID, "error", err)
		e.recordFailed(ctx, post.ID)
		return false
	}
	if err := e.RepairIndexes(ctx, rec); err != nil {
		slog.Warn("index repair failed", "post_id", post.ID, "error", err)
		e.recordFailed(ctx, post.ID)
		return false
	}
	// Drifted denormalized metadata is pushed best-effort; the re-check
	// below decides whether the record is consistent now.
	e.bestEffort("refresh post data", func() error {
		return e.host.SetPostData(ctx, post.ID, postDataFor(rec))
	})

	fresh := e.refetch(ctx, post)
	if e.validate(ctx, fresh, postCheck) {
		return true
	}
	e.recordFailed(ctx, post.ID)
	return false
}

// migrateLegacy runs the locked conversion of a V1/V2 record, then the
// post-migration validation pass.
func (e *Engine) migrateLegacy(ctx context.Context, post *host.Post, version Version) bool {
	id := post.ID
	token, ok, err := e.locks.TryAcquire(ctx, lockKey(id), e.lockTTL)
	if err != nil {
		slog.Warn("migration lock error", "post_id", id, "error", err)
		return false
	}
	if !ok {
		// Another process is migrating this record; not an error.
		slog.Debug("migration lock contended", "post_id", id)
		return false
	}

	var res migrationResult
	func() {
		// Release must run even if conversion panics; the panic then
		// surfaces to Migrate's recover.
		defer func() {
			if err := e.locks.Release(ctx, lockKey(id), token); err != nil {
				slog.Warn("migration lock release failed", "post_id", id, "error", err)
			}
		}()
		res = e.convertLocked(ctx, post, version)
	}()

	for _, se := range res.sideEffects {
		if se.err != nil {
			slog.Warn("migration side effect failed", "post_id", id, "step", se.name, "error", se.err)
		}
	}
	if res.raced {
		// A racer finished between detection and our lock; same handling
		// as contention.
		slog.Debug("record already migrated by racer", "post_id", id)
		return false
	}
	if res.critical != nil {
		slog.Warn("migration failed", "post_id", id, "error", res.critical)
		e.recordFailed(ctx, id)
		return false
	}

	// Post-migration validation. Failure here is the most serious outcome:
	// the written state itself may be wrong. The record stays written
	// (forward-only); the failed ledger flags it and the next access
	// re-enters repair.
	fresh := e.refetch(ctx, post)
	if !e.validate(ctx, fresh, postCheck) {
		e.recordFailed(ctx, id)
		return false
	}
	if _, err := e.ledger.MarkSucceeded(ctx); err != nil {
		slog.Warn("succeeded counter write failed", "post_id", id, "error", err)
	}
	return true
}

// convertLocked performs the conversion while the per-record lock is held.
// Only the canonical write and the index writes are critical; everything
// touching external systems is individually wrapped as a side effect.
func (e *Engine) convertLocked(ctx context.Context, post *host.Post, version Version) migrationResult {
	var res migrationResult
	id := post.ID

	// Double-check under the lock: detection and locking are not atomic,
	// so a racer may have finished in between.
	if exists, err := e.store.Exists(ctx, e.scope, postKey(id)); err != nil {
		res.critical = fmt.Errorf("double-check canonical key: %w", err)
		return res
	} else if exists {
		res.raced = true
		return res
	}

	rec, err := e.loadLegacy(ctx, post, version)
	if err != nil {
		res.critical = err
		return res
	}

	fields, err := recordFields(rec)
	if err != nil {
		res.critical = err
		return res
	}
	// The canonical hash goes in as one atomic multi-field write.
	if err := e.store.HSet(ctx, e.scope, postKey(id), fields); err != nil {
		res.critical = fmt.Errorf("write canonical record: %w", err)
		return res
	}

	res.sideEffects = append(res.sideEffects, sideEffectResult{
		name: "write post data",
		err:  e.host.SetPostData(ctx, id, postDataFor(rec)),
	})

	// Index writes key off a read-back of the just-written hash, so index
	// keys always match the stored canonical data.
	stored, err := e.store.HGetAll(ctx, e.scope, postKey(id))
	if err == nil {
		rec, err = recordFromFields(id, stored)
	}
	if err != nil {
		res.critical = fmt.Errorf("read back canonical record: %w", err)
		return res
	}
	if err := e.RepairIndexes(ctx, rec); err != nil {
		res.critical = err
		return res
	}

	res.sideEffects = append(res.sideEffects, sideEffectResult{
		name: "pin info comment",
		err:  e.host.CreateComment(ctx, id, migrationComment),
	})
	// Cleanup is the last, irreversible step: legacy keys go only after
	// the canonical and index writes are all in.
	res.sideEffects = append(res.sideEffects, sideEffectResult{
		name: "delete legacy keys",
		err:  e.store.Del(ctx, e.scope, v1Key(id), drawingV2Key(id)),
	})
	return res
}

// loadLegacy reads, validates, and converts the legacy payload into a
// canonical record.
func (e *Engine) loadLegacy(ctx context.Context, post *host.Post, version Version) (*drawing.Record, error) {
	id := post.ID
	rec := &drawing.Record{ID: id, Dictionary: drawing.DefaultDictionary}

	switch version {
	case Version1:
		raw, found, err := e.store.Get(ctx, e.scope, v1Key(id))
		if err != nil {
			return nil, fmt.Errorf("read v1 payload: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("v1 payload vanished before conversion")
		}
		legacy, err := drawing.DecodeV1(raw)
		if err != nil {
			return nil, err
		}
		author, err := identity.Resolve(ctx, e.host, legacy.AuthorID, legacy.Author)
		if err != nil {
			return nil, err
		}
		rec.Word = legacy.Word
		rec.Drawing = drawing.FromLegacyPixels(legacy.Data)
		rec.AuthorID = author.ID
		rec.AuthorName = author.Name
		if ms, ok := legacy.CreatedAt(); ok {
			rec.CreatedAt = ms
		}

	case Version2:
		fields, err := e.store.HGetAll(ctx, e.scope, drawingV2Key(id))
		if err != nil {
			return nil, fmt.Errorf("read v2 record: %w", err)
		}
		if len(fields) == 0 {
			// The in-place variant: v2 hash left under the bare id.
			fields, err = e.store.HGetAll(ctx, e.scope, v1Key(id))
			if err != nil {
				return nil, fmt.Errorf("read v2 record: %w", err)
			}
		}
		legacy, err := drawing.DecodeV2(fields)
		if err != nil {
			return nil, err
		}
		author, err := identity.Resolve(ctx, e.host, "", legacy.AuthorUsername)
		if err != nil {
			return nil, err
		}
		rec.Word = legacy.Word
		rec.Drawing = drawing.FromLegacyPixels(legacy.Data)
		rec.AuthorID = author.ID
		rec.AuthorName = author.Name
		rec.CreatedAt = legacy.Date
		if legacy.Dictionary != "" {
			rec.Dictionary = legacy.Dictionary
		}

	default:
		return nil, fmt.Errorf("no legacy loader for %s", version)
	}

	rec.NormalizedWord = drawing.NormalizeWord(rec.Word)
	if rec.CreatedAt == 0 {
		if !post.CreatedAt.IsZero() {
			rec.CreatedAt = post.CreatedAt.UnixMilli()
		} else {
			rec.CreatedAt = e.now().UnixMilli()
		}
	}
	return rec, nil
}

// refetch re-reads the post so post-validation sees the denormalized data
// written during conversion; falls back to the stale post on failure.
func (e *Engine) refetch(ctx context.Context, post *host.Post) *host.Post {
	fresh, err := e.host.PostByID(ctx, post.ID)
	if err != nil || fresh == nil {
		slog.Warn("post refetch failed, validating against stale post", "post_id", post.ID, "error", err)
		return post
	}
	if fresh.AuthorID == "" {
		fresh.AuthorID = post.AuthorID
	}
	if fresh.AuthorName == "" {
		fresh.AuthorName = post.AuthorName
	}
	return fresh
}

func (e *Engine) recordFailed(ctx context.Context, id string) {
	if err := e.ledger.RecordFailed(ctx, id); err != nil {
		slog.Warn("failed ledger write failed", "post_id", id, "error", err)
	}
}

// bestEffort runs fn and logs on failure; the outcome is discarded.
func (e *Engine) bestEffort(name string, fn func() error) {
	if err := fn(); err != nil {
		slog.Warn("best-effort step failed", "step", name, "error", err)
	}
}

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/doodlery/doodlery/internal/kv"
)

// Pebble is the alternate Store backend for deployments already running
// Pebble. Pebble has no native TTL, so every scalar value carries an 8-byte
// big-endian expiry header (unix nanos, 0 = no expiry) that is checked
// lazily on read and swept by SweepExpired. Check-then-write operations are
// serialized by an in-process mutex; Pebble batches give hash writes their
// multi-key atomicity.
type Pebble struct {
	db   *pebble.DB
	mu   sync.Mutex
	sync *pebble.WriteOptions
	now  func() time.Time
}

// OpenPebble opens (or creates) a Pebble-backed store under dir.
func OpenPebble(dir string, syncWrites bool) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		MemTableSize:          16 << 20,
		L0CompactionThreshold: 8,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	s := &Pebble{db: db, sync: pebble.NoSync, now: time.Now}
	if syncWrites {
		s.sync = pebble.Sync
	}
	return s, nil
}

func (s *Pebble) Close() error {
	return s.db.Close()
}

func encodeScalar(value string, expiresNs uint64) []byte {
	v := kv.PutUint64BE(make([]byte, 0, 8+len(value)), expiresNs)
	return append(v, value...)
}

func decodeScalar(v []byte) (string, uint64, error) {
	if len(v) < 8 {
		return "", 0, fmt.Errorf("scalar value too short: %d bytes", len(v))
	}
	return string(v[8:]), kv.GetUint64BE(v), nil
}

func (s *Pebble) expiresAt(ttl time.Duration) uint64 {
	if ttl <= 0 {
		return 0
	}
	return uint64(s.now().Add(ttl).UnixNano())
}

// getScalar reads a scalar key, treating an expired entry as absent.
func (s *Pebble) getScalar(k []byte) (string, bool, error) {
	v, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer func() { _ = closer.Close() }()
	val, expNs, err := decodeScalar(v)
	if err != nil {
		return "", false, err
	}
	if expNs != 0 && uint64(s.now().UnixNano()) >= expNs {
		return "", false, nil
	}
	return val, true, nil
}

func (s *Pebble) Get(ctx context.Context, scope Scope, key string) (string, bool, error) {
	return s.getScalar(kv.StringKey(string(scope), key))
}

func (s *Pebble) Set(ctx context.Context, scope Scope, key, value string, ttl time.Duration) error {
	return s.db.Set(kv.StringKey(string(scope), key), encodeScalar(value, s.expiresAt(ttl)), s.sync)
}

func (s *Pebble) SetNX(ctx context.Context, scope Scope, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := kv.StringKey(string(scope), key)
	if _, found, err := s.getScalar(k); err != nil {
		return false, err
	} else if found {
		return false, nil
	}
	if err := s.db.Set(k, encodeScalar(value, s.expiresAt(ttl)), s.sync); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Pebble) DelIfEquals(ctx context.Context, scope Scope, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := kv.StringKey(string(scope), key)
	val, found, err := s.getScalar(k)
	if err != nil || !found || val != expected {
		return false, err
	}
	if err := s.db.Delete(k, s.sync); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Pebble) Del(ctx context.Context, scope Scope, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()
	for _, key := range keys {
		if err := batch.Delete(kv.StringKey(string(scope), key), nil); err != nil {
			return err
		}
		for _, prefix := range [][]byte{
			kv.HashPrefix(string(scope), key),
			kv.MemberPrefix(string(scope), key),
			kv.ScorePrefix(string(scope), key),
		} {
			if err := batch.DeleteRange(prefix, kv.PrefixUpperBound(prefix), nil); err != nil {
				return err
			}
		}
	}
	return batch.Commit(s.sync)
}

func (s *Pebble) Exists(ctx context.Context, scope Scope, key string) (bool, error) {
	kind, err := s.Type(ctx, scope, key)
	if err != nil {
		return false, err
	}
	return kind != KindNone, nil
}

func (s *Pebble) Type(ctx context.Context, scope Scope, key string) (Kind, error) {
	if _, found, err := s.getScalar(kv.StringKey(string(scope), key)); err != nil {
		return KindNone, err
	} else if found {
		return KindString, nil
	}
	for prefix, kind := range map[string]Kind{
		string(kv.HashPrefix(string(scope), key)):   KindHash,
		string(kv.MemberPrefix(string(scope), key)): KindZSet,
	} {
		nonEmpty, err := s.prefixNonEmpty([]byte(prefix))
		if err != nil {
			return KindNone, err
		}
		if nonEmpty {
			return kind, nil
		}
	}
	return KindNone, nil
}

func (s *Pebble) prefixNonEmpty(prefix []byte) (bool, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: kv.PrefixUpperBound(prefix)})
	if err != nil {
		return false, err
	}
	defer func() { _ = iter.Close() }()
	return iter.First(), iter.Error()
}

func (s *Pebble) Expire(ctx context.Context, scope Scope, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := kv.StringKey(string(scope), key)
	val, found, err := s.getScalar(k)
	if err != nil {
		return false, err
	}
	if !found {
		kind, err := s.Type(ctx, scope, key)
		if err != nil {
			return false, err
		}
		if kind != KindNone {
			return false, ErrWrongType // TTL is scalar-only in this store
		}
		return false, nil
	}
	if err := s.db.Set(k, encodeScalar(val, s.expiresAt(ttl)), s.sync); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Pebble) Incr(ctx context.Context, scope Scope, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := kv.StringKey(string(scope), key)
	val, found, err := s.getScalar(k)
	if err != nil {
		return 0, err
	}
	cur := int64(0)
	if found {
		n, perr := strconv.ParseInt(val, 10, 64)
		if perr != nil {
			return 0, ErrNotInteger
		}
		cur = n
	}
	next := cur + 1
	if err := s.db.Set(k, encodeScalar(strconv.FormatInt(next, 10), 0), s.sync); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Pebble) HGet(ctx context.Context, scope Scope, key, field string) (string, bool, error) {
	v, closer, err := s.db.Get(kv.HashFieldKey(string(scope), key, field))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer func() { _ = closer.Close() }()
	return string(v), true, nil
}

func (s *Pebble) HGetAll(ctx context.Context, scope Scope, key string) (map[string]string, error) {
	prefix := kv.HashPrefix(string(scope), key)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: kv.PrefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer func() { _ = iter.Close() }()
	out := make(map[string]string)
	for iter.First(); iter.Valid(); iter.Next() {
		out[kv.HashFieldFromKey(prefix, iter.Key())] = string(iter.Value())
	}
	return out, iter.Error()
}

func (s *Pebble) HSet(ctx context.Context, scope Scope, key string, fields map[string]string) error {
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()
	for f, v := range fields {
		if err := batch.Set(kv.HashFieldKey(string(scope), key, f), []byte(v), nil); err != nil {
			return err
		}
	}
	return batch.Commit(s.sync)
}

func (s *Pebble) HDel(ctx context.Context, scope Scope, key string, fields ...string) error {
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()
	for _, f := range fields {
		if err := batch.Delete(kv.HashFieldKey(string(scope), key, f), nil); err != nil {
			return err
		}
	}
	return batch.Commit(s.sync)
}

func (s *Pebble) ZAdd(ctx context.Context, scope Scope, key, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mk := kv.MemberKey(string(scope), key, member)
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()

	v, closer, err := s.db.Get(mk)
	if err == nil {
		old := kv.GetScore(v)
		_ = closer.Close()
		if old == score {
			return nil // idempotent re-add
		}
		if err := batch.Delete(kv.ScoreKey(string(scope), key, old, member), nil); err != nil {
			return err
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	if err := batch.Set(mk, kv.PutScore(nil, score), nil); err != nil {
		return err
	}
	if err := batch.Set(kv.ScoreKey(string(scope), key, score, member), nil, nil); err != nil {
		return err
	}
	return batch.Commit(s.sync)
}

func (s *Pebble) ZRem(ctx context.Context, scope Scope, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()
	for _, member := range members {
		mk := kv.MemberKey(string(scope), key, member)
		v, closer, err := s.db.Get(mk)
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		score := kv.GetScore(v)
		_ = closer.Close()
		if err := batch.Delete(mk, nil); err != nil {
			return err
		}
		if err := batch.Delete(kv.ScoreKey(string(scope), key, score, member), nil); err != nil {
			return err
		}
	}
	return batch.Commit(s.sync)
}

func (s *Pebble) ZScore(ctx context.Context, scope Scope, key, member string) (float64, bool, error) {
	v, closer, err := s.db.Get(kv.MemberKey(string(scope), key, member))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = closer.Close() }()
	return kv.GetScore(v), true, nil
}

func (s *Pebble) ZCard(ctx context.Context, scope Scope, key string) (int64, error) {
	prefix := kv.MemberPrefix(string(scope), key)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: kv.PrefixUpperBound(prefix)})
	if err != nil {
		return 0, err
	}
	defer func() { _ = iter.Close() }()
	var n int64
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

func (s *Pebble) ZRange(ctx context.Context, scope Scope, key string, start, stop int64, reverse bool) ([]ZEntry, error) {
	card, err := s.ZCard(ctx, scope, key)
	if err != nil {
		return nil, err
	}
	lo, hi := rangeBounds(start, stop, card)
	if lo == hi {
		return nil, nil
	}

	prefix := kv.ScorePrefix(string(scope), key)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: kv.PrefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer func() { _ = iter.Close() }()

	var out []ZEntry
	rank := int64(0)
	advance := func() bool {
		if reverse {
			return iter.Prev()
		}
		return iter.Next()
	}
	valid := iter.First()
	if reverse {
		valid = iter.Last()
	}
	for ; valid && rank < hi; valid = advance() {
		if rank >= lo {
			score, member, ok := kv.ScoreEntryFromKey(prefix, iter.Key())
			if ok {
				out = append(out, ZEntry{Member: member, Score: score})
			}
		}
		rank++
	}
	return out, iter.Error()
}

// SweepExpired deletes scalar entries whose expiry header has passed. The
// maintenance loop calls this periodically; reads already treat such
// entries as absent.
func (s *Pebble) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := []byte(kv.PrefixString)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: kv.PrefixUpperBound(prefix)})
	if err != nil {
		return 0, err
	}
	nowNs := uint64(s.now().UnixNano())
	var doomed [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			_ = iter.Close()
			return 0, err
		}
		if _, expNs, err := decodeScalar(iter.Value()); err == nil && expNs != 0 && nowNs >= expNs {
			doomed = append(doomed, bytes.Clone(iter.Key()))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()
	for _, k := range doomed {
		if err := batch.Delete(k, nil); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(s.sync); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

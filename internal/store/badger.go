package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/doodlery/doodlery/internal/kv"
)

// Badger is the primary Store backend. Key expiry uses Badger's native
// entry TTL; SetNX, DelIfEquals and Incr lean on Badger's SSI transactions
// for their check-then-write steps.
type Badger struct {
	db *badger.DB
}

// incrRetries bounds optimistic retries when concurrent Incr calls conflict.
const incrRetries = 16

// OpenBadger opens (or creates) a Badger-backed store under dir.
func OpenBadger(dir string, syncWrites bool) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = syncWrites
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Badger{db: db}, nil
}

func (s *Badger) Close() error {
	return s.db.Close()
}

// SweepExpired runs value-log garbage collection. Badger drops expired
// entries itself, so the return count is always zero; the call still
// reclaims disk space and satisfies the maintenance loop's sweeper.
func (s *Badger) SweepExpired(ctx context.Context) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("badger value log gc: %w", err)
		}
	}
}

func (s *Badger) Get(ctx context.Context, scope Scope, key string) (string, bool, error) {
	var out string
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(kv.StringKey(string(scope), key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			out = string(v)
			found = true
			return nil
		})
	})
	return out, found, err
}

func (s *Badger) Set(ctx context.Context, scope Scope, key, value string, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(kv.StringKey(string(scope), key), []byte(value))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (s *Badger) SetNX(ctx context.Context, scope Scope, key, value string, ttl time.Duration) (bool, error) {
	k := kv.StringKey(string(scope), key)
	wrote := false
	err := s.db.Update(func(txn *badger.Txn) error {
		wrote = false
		_, err := txn.Get(k)
		if err == nil {
			return nil // present (Badger hides expired entries)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		e := badger.NewEntry(k, []byte(value))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		wrote = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil // a racer wrote first
	}
	if err != nil {
		return false, err
	}
	return wrote, nil
}

func (s *Badger) DelIfEquals(ctx context.Context, scope Scope, key, expected string) (bool, error) {
	k := kv.StringKey(string(scope), key)
	deleted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		deleted = false
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		match := false
		if err := item.Value(func(v []byte) error {
			match = string(v) == expected
			return nil
		}); err != nil {
			return err
		}
		if !match {
			return nil
		}
		if err := txn.Delete(k); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *Badger) Del(ctx context.Context, scope Scope, keys ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(kv.StringKey(string(scope), key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := deletePrefix(txn, kv.HashPrefix(string(scope), key)); err != nil {
				return err
			}
			if err := deletePrefix(txn, kv.MemberPrefix(string(scope), key)); err != nil {
				return err
			}
			if err := deletePrefix(txn, kv.ScorePrefix(string(scope), key)); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	var doomed [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		doomed = append(doomed, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range doomed {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Badger) Exists(ctx context.Context, scope Scope, key string) (bool, error) {
	kind, err := s.Type(ctx, scope, key)
	if err != nil {
		return false, err
	}
	return kind != KindNone, nil
}

func (s *Badger) Type(ctx context.Context, scope Scope, key string) (Kind, error) {
	kind := KindNone
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(kv.StringKey(string(scope), key)); err == nil {
			kind = KindString
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if prefixNonEmpty(txn, kv.HashPrefix(string(scope), key)) {
			kind = KindHash
			return nil
		}
		if prefixNonEmpty(txn, kv.MemberPrefix(string(scope), key)) {
			kind = KindZSet
		}
		return nil
	})
	return kind, err
}

func prefixNonEmpty(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.Valid()
}

func (s *Badger) Expire(ctx context.Context, scope Scope, key string, ttl time.Duration) (bool, error) {
	applied := false
	err := s.db.Update(func(txn *badger.Txn) error {
		applied = false
		item, err := txn.Get(kv.StringKey(string(scope), key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			if prefixNonEmpty(txn, kv.HashPrefix(string(scope), key)) || prefixNonEmpty(txn, kv.MemberPrefix(string(scope), key)) {
				return ErrWrongType // TTL is scalar-only in this store
			}
			return nil
		}
		if err != nil {
			return err
		}
		var val []byte
		if err := item.Value(func(v []byte) error {
			val = append([]byte(nil), v...)
			return nil
		}); err != nil {
			return err
		}
		e := badger.NewEntry(kv.StringKey(string(scope), key), val).WithTTL(ttl)
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (s *Badger) Incr(ctx context.Context, scope Scope, key string) (int64, error) {
	k := kv.StringKey(string(scope), key)
	var out int64
	for attempt := 0; attempt < incrRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			cur := int64(0)
			item, err := txn.Get(k)
			if err == nil {
				if err := item.Value(func(v []byte) error {
					n, perr := strconv.ParseInt(string(v), 10, 64)
					if perr != nil {
						return ErrNotInteger
					}
					cur = n
					return nil
				}); err != nil {
					return err
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			out = cur + 1
			return txn.Set(k, []byte(strconv.FormatInt(out, 10)))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return out, err
	}
	return 0, fmt.Errorf("incr %q: too much contention", key)
}

func (s *Badger) HGet(ctx context.Context, scope Scope, key, field string) (string, bool, error) {
	var out string
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(kv.HashFieldKey(string(scope), key, field))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			out = string(v)
			found = true
			return nil
		})
	})
	return out, found, err
}

func (s *Badger) HGetAll(ctx context.Context, scope Scope, key string) (map[string]string, error) {
	out := make(map[string]string)
	prefix := kv.HashPrefix(string(scope), key)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			field := kv.HashFieldFromKey(prefix, item.Key())
			if err := item.Value(func(v []byte) error {
				out[field] = string(v)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Badger) HSet(ctx context.Context, scope Scope, key string, fields map[string]string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for f, v := range fields {
			if err := txn.Set(kv.HashFieldKey(string(scope), key, f), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Badger) HDel(ctx context.Context, scope Scope, key string, fields ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, f := range fields {
			if err := txn.Delete(kv.HashFieldKey(string(scope), key, f)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
}

func (s *Badger) ZAdd(ctx context.Context, scope Scope, key, member string, score float64) error {
	mk := kv.MemberKey(string(scope), key, member)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(mk)
		if err == nil {
			var old float64
			if err := item.Value(func(v []byte) error {
				old = kv.GetScore(v)
				return nil
			}); err != nil {
				return err
			}
			if old == score {
				return nil // idempotent re-add
			}
			if err := txn.Delete(kv.ScoreKey(string(scope), key, old, member)); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(mk, kv.PutScore(nil, score)); err != nil {
			return err
		}
		return txn.Set(kv.ScoreKey(string(scope), key, score, member), nil)
	})
}

func (s *Badger) ZRem(ctx context.Context, scope Scope, key string, members ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, member := range members {
			mk := kv.MemberKey(string(scope), key, member)
			item, err := txn.Get(mk)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var score float64
			if err := item.Value(func(v []byte) error {
				score = kv.GetScore(v)
				return nil
			}); err != nil {
				return err
			}
			if err := txn.Delete(mk); err != nil {
				return err
			}
			if err := txn.Delete(kv.ScoreKey(string(scope), key, score, member)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Badger) ZScore(ctx context.Context, scope Scope, key, member string) (float64, bool, error) {
	var score float64
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(kv.MemberKey(string(scope), key, member))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			score = kv.GetScore(v)
			found = true
			return nil
		})
	})
	return score, found, err
}

func (s *Badger) ZCard(ctx context.Context, scope Scope, key string) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = kv.MemberPrefix(string(scope), key)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *Badger) ZRange(ctx context.Context, scope Scope, key string, start, stop int64, reverse bool) ([]ZEntry, error) {
	card, err := s.ZCard(ctx, scope, key)
	if err != nil {
		return nil, err
	}
	lo, hi := rangeBounds(start, stop, card)
	if lo == hi {
		return nil, nil
	}

	prefix := kv.ScorePrefix(string(scope), key)
	var out []ZEntry
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if reverse {
			// Position past the last prefixed key, then walk backwards.
			// Sibling logical keys sharing this key as a name prefix sort
			// between our last entry and the seek point, so skip them.
			seek = append(append([]byte(nil), prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		}
		rank := int64(0)
		for it.Seek(seek); it.Valid(); it.Next() {
			k := it.Item().Key()
			if !bytes.HasPrefix(k, prefix) {
				if reverse && bytes.Compare(k, prefix) > 0 {
					continue
				}
				break
			}
			if rank >= hi {
				break
			}
			if rank >= lo {
				score, member, ok := kv.ScoreEntryFromKey(prefix, k)
				if ok {
					out = append(out, ZEntry{Member: member, Score: score})
				}
			}
			rank++
		}
		return nil
	})
	return out, err
}

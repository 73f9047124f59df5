package kv

// Physical key layout. Each prefix ends with '|' as a separator and every
// key is namespaced by scope before the logical key name.
const (
	PrefixString    = "s|" // s|{scope}\x00{key}
	PrefixHashField = "h|" // h|{scope}\x00{key}\x00{field}
	PrefixMember    = "z|" // z|{scope}\x00{key}\x00{member} => score (8B order-preserving)
	PrefixScore     = "o|" // o|{scope}\x00{key}\x00{score:8B}{member} => ""
)

const sep = '\x00'

// StringKey returns the physical key for a scalar value: s|{scope}\x00{key}
func StringKey(scope, key string) []byte {
	k := append([]byte(PrefixString), scope...)
	k = append(k, sep)
	return append(k, key...)
}

// HashFieldKey returns the physical key for one hash field:
// h|{scope}\x00{key}\x00{field}
func HashFieldKey(scope, key, field string) []byte {
	k := append([]byte(PrefixHashField), scope...)
	k = append(k, sep)
	k = append(k, key...)
	k = append(k, sep)
	return append(k, field...)
}

// HashPrefix returns the scan prefix for all fields of a hash: h|{scope}\x00{key}\x00
func HashPrefix(scope, key string) []byte {
	k := append([]byte(PrefixHashField), scope...)
	k = append(k, sep)
	k = append(k, key...)
	return append(k, sep)
}

// HashFieldFromKey extracts the field name from a physical hash-field key,
// given the scan prefix it was found under.
func HashFieldFromKey(prefix, k []byte) string {
	if len(k) <= len(prefix) {
		return ""
	}
	return string(k[len(prefix):])
}

// MemberKey returns the member->score key of a sorted set:
// z|{scope}\x00{key}\x00{member}
func MemberKey(scope, key, member string) []byte {
	k := append([]byte(PrefixMember), scope...)
	k = append(k, sep)
	k = append(k, key...)
	k = append(k, sep)
	return append(k, member...)
}

// MemberPrefix returns the scan prefix for all members of a sorted set.
func MemberPrefix(scope, key string) []byte {
	k := append([]byte(PrefixMember), scope...)
	k = append(k, sep)
	k = append(k, key...)
	return append(k, sep)
}

// ScoreKey returns the score-ordered mirror key of a sorted set entry:
// o|{scope}\x00{key}\x00{score:8B}{member}
// Entries under one ScorePrefix sort by score, then member.
func ScoreKey(scope, key string, score float64, member string) []byte {
	k := append([]byte(PrefixScore), scope...)
	k = append(k, sep)
	k = append(k, key...)
	k = append(k, sep)
	k = PutScore(k, score)
	return append(k, member...)
}

// ScorePrefix returns the scan prefix for the score-ordered mirror.
func ScorePrefix(scope, key string) []byte {
	k := append([]byte(PrefixScore), scope...)
	k = append(k, sep)
	k = append(k, key...)
	return append(k, sep)
}

// ScoreEntryFromKey splits a score-mirror key back into score and member,
// given the scan prefix it was found under.
func ScoreEntryFromKey(prefix, k []byte) (score float64, member string, ok bool) {
	if len(k) < len(prefix)+8 {
		return 0, "", false
	}
	rest := k[len(prefix):]
	return GetScore(rest), string(rest[8:]), true
}

// PrefixUpperBound returns the smallest key greater than every key with the
// given prefix, for use as an iterator upper bound.
func PrefixUpperBound(prefix []byte) []byte {
	b := append([]byte(nil), prefix...)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}

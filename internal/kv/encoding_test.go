package kv

import (
	"bytes"
	"testing"
)

func TestScoreRoundTrip(t *testing.T) {
	scores := []float64{0, 1, -1, 0.5, -0.5, 1700000000000, -1700000000000, 1e308}
	for _, s := range scores {
		enc := PutScore(nil, s)
		if got := GetScore(enc); got != s {
			t.Errorf("round trip %v = %v", s, got)
		}
	}
}

func TestScoreEncodingPreservesOrder(t *testing.T) {
	ordered := []float64{-1e12, -5, -0.25, 0, 0.25, 5, 1700000000000}
	for i := 1; i < len(ordered); i++ {
		a := PutScore(nil, ordered[i-1])
		b := PutScore(nil, ordered[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("encoding of %v not below %v", ordered[i-1], ordered[i])
		}
	}
}

func TestUint64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 1 << 40, ^uint64(0)} {
		if got := GetUint64BE(PutUint64BE(nil, v)); got != v {
			t.Errorf("round trip %d = %d", v, got)
		}
	}
}

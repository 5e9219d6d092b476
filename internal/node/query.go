package node

import (
	"bytes"
	"slices"

	"github.com/mesh-intelligence/weird/pkg/types"
)

// Matches reports whether key is selected by a query of the given kind.
func Matches(kind types.QueryKind, want, key []byte) bool {
	switch kind {
	case types.QueryKindKeyExact:
		return bytes.Equal(key, want)
	case types.QueryKindKeyPrefix:
		return bytes.HasPrefix(key, want)
	default:
		return true
	}
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists (prefix is empty or all 0xFF).
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// SortEntries orders entries by key, then author.
func SortEntries(entries []types.Entry) {
	slices.SortFunc(entries, func(a, b types.Entry) int {
		if c := bytes.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return bytes.Compare(a.Author[:], b.Author[:])
	})
}

// newer reports whether a should win over b for the same key.
func newer(a, b types.Entry) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	if c := bytes.Compare(a.Author[:], b.Author[:]); c != 0 {
		return c > 0
	}
	return bytes.Compare(a.Hash[:], b.Hash[:]) > 0
}

// Select applies the latest-per-key, tombstone, offset, and limit parts of q
// to entries already matched by key and sorted with SortEntries.
func Select(entries []types.Entry, q types.Query) []types.Entry {
	out := entries
	if q.LatestPerKey {
		out = make([]types.Entry, 0, len(entries))
		for _, e := range entries {
			if n := len(out); n > 0 && bytes.Equal(out[n-1].Key, e.Key) {
				if newer(e, out[n-1]) {
					out[n-1] = e
				}
				continue
			}
			out = append(out, e)
		}
	}
	if !q.IncludeEmpty {
		out = slices.DeleteFunc(slices.Clone(out), types.Entry.IsEmpty)
	}
	if q.Offset >= uint64(len(out)) {
		return nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < uint64(len(out)) {
		out = out[:q.Limit]
	}
	return out
}

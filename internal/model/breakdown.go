package model

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Breakdown holds totals keyed by a topic value. Logs that do not carry the
// grouped topic are kept under the zero hash.
type Breakdown map[common.Hash]Result

// Merge adds other into b.
func (b Breakdown) Merge(other Breakdown) {
	for key, res := range other {
		b[key] = b[key].Add(res)
	}
}

// Total sums every group.
func (b Breakdown) Total() Result {
	total := NewResult()
	for _, res := range b {
		total = total.Add(res)
	}
	return total
}

// Keys returns the group keys ordered by event count, largest first. Ties are
// ordered by key.
func (b Breakdown) Keys() []common.Hash {
	keys := make([]common.Hash, 0, len(b))
	for key := range b {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := b[keys[i]].EventCount, b[keys[j]].EventCount
		if ci != cj {
			return ci > cj
		}
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}

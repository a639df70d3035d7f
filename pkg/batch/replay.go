package batch

import (
	"math/big"

	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/transcript"
	"github.com/0xzex/zex-core/pkg/tree"
)

// ReplayRecords re-applies every transaction's recorded leaf writes, in
// commit order, onto a tree — the cold-start path that rebuilds the
// in-memory superficial overlay without re-running any transaction's
// business logic (spec §4.4 "replay the most recent transcript against a
// fresh superficial tree").
func ReplayRecords(t *tree.Superficial, recs []transcript.Record) {
	for _, rec := range recs {
		writes, _ := rec["leaf_writes"].([]any)
		for _, raw := range writes {
			w, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			slot := uint64(asFloat(w["slot"]))
			typ := leafTypeFromName(asString(w["leaf_type"]))
			n, ok := new(big.Int).SetString(asString(w["hash"]), 10)
			if !ok {
				continue
			}
			t.UpdateLeaf(slot, typ, field.FromBigInt(n))
		}
	}
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func leafTypeFromName(name string) tree.LeafType {
	switch name {
	case "note":
		return tree.LeafNote
	case "position":
		return tree.LeafPosition
	case "order_tab":
		return tree.LeafOrderTab
	default:
		return tree.LeafEmpty
	}
}

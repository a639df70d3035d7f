package execution

import (
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/transcript"
	"github.com/0xzex/zex-core/pkg/tree"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// ExecuteSplitNotes destroys a set of existing notes and creates a new set
// of the same total value, letting a user re-denominate or consolidate
// change without touching the bridge. Grounded on
// original_source/invisible_backend/src/transactions/transaction_helpers/
// split_notes.rs.
type SplitResult struct {
	NewIndices []uint64
	NewHashes  []field.Element
}

// ExecuteSplitNotes validates the value and token conservation across the
// input/output sets, verifies each input note's existence, zeros the inputs
// and materializes the outputs at fresh slots.
func ExecuteSplitNotes(ctx *Ctx, requestToken string, notesIn []entities.Note, notesOut []entities.Note) (SplitResult, error) {
	if len(notesIn) == 0 || len(notesOut) == 0 {
		return SplitResult{}, xerrors.Validation("split needs at least one input and one output note")
	}
	if err := requireDistinctIndices(notesIn); err != nil {
		return SplitResult{}, err
	}
	token := notesIn[0].Token
	if err := requireSameToken(notesIn, token); err != nil {
		return SplitResult{}, err
	}
	if err := requireSameToken(notesOut, token); err != nil {
		return SplitResult{}, err
	}
	for _, n := range notesIn {
		if err := verifyNote(ctx.Tree, n); err != nil {
			return SplitResult{}, err
		}
	}
	if sumNoteAmounts(notesIn) != sumNoteAmounts(notesOut) {
		return SplitResult{}, xerrors.Validation("split notes value mismatch: in=%d out=%d", sumNoteAmounts(notesIn), sumNoteAmounts(notesOut))
	}

	u := ctx.begin(requestToken)
	for _, n := range notesIn {
		u.write(n.Index, tree.LeafNote, field.Zero)
	}

	result := SplitResult{}
	for _, n := range notesOut {
		idx := ctx.Tree.FirstZeroIdx()
		n.Index = idx
		h := n.Hash()
		u.write(idx, tree.LeafNote, h)
		result.NewIndices = append(result.NewIndices, idx)
		result.NewHashes = append(result.NewHashes, h)
	}
	u.commit()

	rec := transcript.Record{
		"transaction_type": "split_notes",
		"token":            token,
		"new_indices":      result.NewIndices,
	}
	appendLeafWrites(rec, u.writes)
	if err := ctx.Log.Append(rec); err != nil {
		return SplitResult{}, err
	}
	return result, nil
}

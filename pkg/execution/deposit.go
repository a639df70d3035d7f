package execution

import (
	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/transcript"
	"github.com/0xzex/zex-core/pkg/tree"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// DepositResult is what a successful deposit hands back to the caller
// (spec §6's execute_deposit RPC).
type DepositResult struct {
	NoteIndex uint64
	NoteHash  field.Element
}

// ExecuteDeposit materializes one newly bridged-in note at a fresh tree
// slot. The outer wallet signature (EIP-712 BridgeRequest, pkg/cryptoring)
// is verified by the API layer before this is called -- the core itself
// only needs the validated (token, amount, owner, blinding) tuple.
// Grounded on original_source/invisible_backend/src/transactions/deposit.rs.
func ExecuteDeposit(ctx *Ctx, requestToken string, tokenID uint32, amount uint64, owner cryptoring.Point, blinding field.Element) (DepositResult, error) {
	if amount == 0 {
		return DepositResult{}, xerrors.Validation("deposit amount must be positive")
	}

	u := ctx.begin(requestToken)
	idx := ctx.Tree.FirstZeroIdx()
	n := entities.Note{Index: idx, Address: owner, Token: tokenID, Amount: amount, Blinding: blinding}
	h := n.Hash()
	u.write(idx, tree.LeafNote, h)
	u.commit()

	rec := transcript.Record{
		"transaction_type": "deposit",
		"token":            tokenID,
		"amount":           amount,
		"note_index":       idx,
		"note_hash":        h.String(),
	}
	appendLeafWrites(rec, u.writes)
	if err := ctx.Log.Append(rec); err != nil {
		return DepositResult{}, err
	}
	return DepositResult{NoteIndex: idx, NoteHash: h}, nil
}

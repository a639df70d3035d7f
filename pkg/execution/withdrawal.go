package execution

import (
	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/transcript"
	"github.com/0xzex/zex-core/pkg/tree"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// WithdrawalRequest spends a set of existing notes to bridge value back out.
// Grounded on original_source/invisible_backend/src/transactions/withdrawal.rs.
type WithdrawalRequest struct {
	Token        uint32
	Amount       uint64
	NotesIn      []entities.Note
	RefundAddr   cryptoring.Point // owner key for the change note, if any
	RefundBlind  field.Element
	Signature    cryptoring.Signature
}

type WithdrawalResult struct {
	RefundNoteIndex *uint64
	RefundNoteHash  *field.Element
}

// ExecuteWithdrawal verifies the aggregated note-owner signature and each
// note's existence, checks the sum covers the requested amount, zeros the
// spent notes and emits a change note for any leftover.
func ExecuteWithdrawal(ctx *Ctx, requestToken string, req WithdrawalRequest) (WithdrawalResult, error) {
	if len(req.NotesIn) == 0 {
		return WithdrawalResult{}, xerrors.Validation("withdrawal needs at least one input note")
	}
	if err := requireDistinctIndices(req.NotesIn); err != nil {
		return WithdrawalResult{}, err
	}
	if err := requireSameToken(req.NotesIn, req.Token); err != nil {
		return WithdrawalResult{}, err
	}
	for _, n := range req.NotesIn {
		if err := verifyNote(ctx.Tree, n); err != nil {
			return WithdrawalResult{}, err
		}
	}

	msg := field.H(field.FromUint64(uint64(req.Token)), field.FromUint64(req.Amount))
	if err := aggregateNoteSignature(req.NotesIn, msg, req.Signature); err != nil {
		return WithdrawalResult{}, err
	}

	total := sumNoteAmounts(req.NotesIn)
	if total < req.Amount {
		return WithdrawalResult{}, xerrors.Validation("input notes sum %d below withdrawal amount %d", total, req.Amount)
	}
	change := total - req.Amount

	// A refund note, if any, is written to the first input slot; the
	// remaining input slots go to zero (spec §4.3.2).
	var result WithdrawalResult
	hasRefund := change > 0 && !(entities.Note{Amount: change}).IsDust(ctx.Params.dust(req.Token))

	u := ctx.begin(requestToken)
	if hasRefund {
		idx := req.NotesIn[0].Index
		refund := entities.Note{Index: idx, Address: req.RefundAddr, Token: req.Token, Amount: change, Blinding: req.RefundBlind}
		h := refund.Hash()
		u.write(idx, tree.LeafNote, h)
		result.RefundNoteIndex = &idx
		result.RefundNoteHash = &h
		for _, n := range req.NotesIn[1:] {
			u.write(n.Index, tree.LeafNote, field.Zero)
		}
	} else {
		for _, n := range req.NotesIn {
			u.write(n.Index, tree.LeafNote, field.Zero)
		}
	}
	u.commit()

	rec := transcript.Record{
		"transaction_type": "withdrawal",
		"token":            req.Token,
		"amount":           req.Amount,
		"change":           change,
	}
	appendLeafWrites(rec, u.writes)
	if err := ctx.Log.Append(rec); err != nil {
		return WithdrawalResult{}, err
	}
	return result, nil
}

package ledger

import (
	"context"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/store"
)

// WithdrawRecord flags one record as collected and removes its contribution
// from the tray. Calling it again reports AlreadyWithdrawn and changes
// nothing.
func (l *Ledger) WithdrawRecord(ctx context.Context, id string, by string) (domain.WithdrawRecordResult, error) {
	rec, err := l.repo.GetDailyRecord(ctx, id)
	if err != nil {
		return domain.WithdrawRecordResult{}, err
	}

	var result domain.WithdrawRecordResult
	err = l.InBranch(ctx, rec.Branch, func(ctx context.Context, tx store.BranchTx) error {
		result = domain.WithdrawRecordResult{RecordID: id, Branch: rec.Branch}

		current, err := tx.RecordByID(ctx, id)
		if err != nil {
			return err
		}
		if current.IsWithdrawn {
			tray, err := l.currentTray(ctx, tx)
			if err != nil {
				return err
			}
			result.AlreadyWithdrawn = true
			result.Tray = tray.Status()
			return nil
		}

		current.MarkWithdrawn(by, l.now())
		if err := tx.UpdateRecord(ctx, *current); err != nil {
			return err
		}
		tray, err := l.ApplyDelta(ctx, tx, current.Delta(), -1)
		if err != nil {
			return err
		}
		result.AmountRemoved = current.NetAmount()
		result.Tray = tray.Status()
		return nil
	})
	return result, err
}

// WithdrawBranch flags every non-withdrawn record of the branch and zeroes
// the tray in one transaction.
func (l *Ledger) WithdrawBranch(ctx context.Context, branch string, by string) (domain.BranchWithdrawal, error) {
	var result domain.BranchWithdrawal
	err := l.InBranch(ctx, branch, func(ctx context.Context, tx store.BranchTx) error {
		result = domain.BranchWithdrawal{Branch: branch}

		tray, err := tx.Tray(ctx)
		if err != nil {
			return err
		}
		records, err := tx.ActiveRecords(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 && tray.IsEmpty() {
			result.AlreadyEmpty = true
			result.Tray = tray.Status()
			return nil
		}

		at := l.now()
		for _, rec := range records {
			rec.MarkWithdrawn(by, at)
			if err := tx.UpdateRecord(ctx, rec); err != nil {
				return err
			}
		}
		result.RecordsWithdrawn = len(records)
		result.AmountRemoved = tray.Total()

		emptied, err := l.Empty(ctx, tx)
		if err != nil {
			return err
		}
		result.Tray = emptied.Status()
		return nil
	})
	return result, err
}

// WithdrawAll empties every branch independently and reports a tally.
func (l *Ledger) WithdrawAll(ctx context.Context, by string) (domain.BulkResult, error) {
	branches, err := l.repo.ListBranches(ctx)
	if err != nil {
		return domain.BulkResult{}, err
	}

	result := l.forEachBranch(ctx, "withdraw_all", branches, func(ctx context.Context, branch string) (domain.BranchOutcome, error) {
		withdrawal, err := l.WithdrawBranch(ctx, branch, by)
		if err != nil {
			return domain.BranchOutcome{}, err
		}
		return domain.BranchOutcome{Records: withdrawal.RecordsWithdrawn, Amount: withdrawal.AmountRemoved}, nil
	})
	return result, nil
}

package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/store"
)

// RecomputeTx overwrites the locked tray with the sums of every
// non-withdrawn record of the branch.
func (l *Ledger) RecomputeTx(ctx context.Context, tx store.BranchTx) (domain.CashTray, error) {
	records, err := tx.ActiveRecords(ctx)
	if err != nil {
		return domain.CashTray{}, err
	}
	tray, err := tx.Tray(ctx)
	if err != nil {
		return domain.CashTray{}, err
	}
	tray.Overwrite(domain.SumRecords(records), l.now())
	if err := tx.SaveTray(ctx, *tray); err != nil {
		return domain.CashTray{}, err
	}
	return *tray, nil
}

func (l *Ledger) Recompute(ctx context.Context, branch string) (domain.CashTray, error) {
	var tray domain.CashTray
	err := l.InBranch(ctx, branch, func(ctx context.Context, tx store.BranchTx) error {
		var err error
		tray, err = l.RecomputeTx(ctx, tx)
		return err
	})
	return tray, err
}

// RecomputeAll rebuilds every branch in its own transaction.
func (l *Ledger) RecomputeAll(ctx context.Context) (domain.BulkResult, error) {
	branches, err := l.repo.ListBranches(ctx)
	if err != nil {
		return domain.BulkResult{}, err
	}

	result := l.forEachBranch(ctx, "recompute_all", branches, func(ctx context.Context, branch string) (domain.BranchOutcome, error) {
		tray, err := l.Recompute(ctx, branch)
		if err != nil {
			return domain.BranchOutcome{}, err
		}
		return domain.BranchOutcome{Amount: tray.Total()}, nil
	})
	return result, nil
}

// Check compares the stored tray against a fresh sum and never changes a
// balance. It holds the branch lock so records and tray are read as one
// snapshot; like GetOrCreate, a branch without a tray row gets a zeroed one.
// A divergence is returned as *ConsistencyError.
func (l *Ledger) Check(ctx context.Context, branch string) error {
	var divergence *domain.TrayDivergence
	err := l.InBranch(ctx, branch, func(ctx context.Context, tx store.BranchTx) error {
		records, err := tx.ActiveRecords(ctx)
		if err != nil {
			return err
		}
		tray, err := tx.Tray(ctx)
		if err != nil {
			return err
		}
		expected := domain.SumRecords(records)
		if fields := tray.Diverging(expected); len(fields) > 0 {
			divergence = &domain.TrayDivergence{
				Branch:   branch,
				Stored:   tray.Balances(),
				Expected: expected,
				Fields:   fields,
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if divergence != nil {
		return &ConsistencyError{Divergence: *divergence}
	}
	return nil
}

func (l *Ledger) CheckAll(ctx context.Context) (domain.ConsistencyReport, error) {
	branches, err := l.repo.ListBranches(ctx)
	if err != nil {
		return domain.ConsistencyReport{}, err
	}

	report := domain.ConsistencyReport{
		CheckedBranches: len(branches),
		Divergent:       []domain.TrayDivergence{},
		CheckedAt:       l.now(),
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for _, branch := range branches {
		g.Go(func() error {
			err := l.Check(ctx, branch)
			if err == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			var cerr *ConsistencyError
			if errors.As(err, &cerr) {
				report.Divergent = append(report.Divergent, cerr.Divergence)
				return nil
			}
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[branch] = err.Error()
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

// forEachBranch runs fn for every branch with bounded parallelism. One
// branch failing never stops the others; failures land in the tally.
func (l *Ledger) forEachBranch(ctx context.Context, operation string, branches []string, fn func(ctx context.Context, branch string) (domain.BranchOutcome, error)) domain.BulkResult {
	outcomes := make([]domain.BranchOutcome, len(branches))

	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for i, branch := range branches {
		g.Go(func() error {
			outcome, err := fn(ctx, branch)
			outcome.Branch = branch
			if err != nil {
				outcome = domain.BranchOutcome{Branch: branch, Error: err.Error()}
				l.log.Error().Err(err).Str("branch", branch).Str("operation", operation).Msg("branch failed in bulk operation")
			} else {
				outcome.OK = true
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	result := domain.BulkResult{
		Operation:   operation,
		Branches:    outcomes,
		TotalAmount: decimal.Zero,
	}
	for _, outcome := range outcomes {
		if !outcome.OK {
			result.Failed++
			continue
		}
		result.Succeeded++
		result.TotalAmount = result.TotalAmount.Add(outcome.Amount)
	}

	l.log.Info().
		Str("operation", operation).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Str("total_amount", result.TotalAmount.StringFixed(2)).
		Msg("bulk operation finished")
	return result
}

package service

import (
	"context"
	"fmt"

	"branchledger/backend/internal/cache"
	"branchledger/backend/internal/domain"
)

// TrayStatus returns the branch tray, creating a zeroed one on first access.
func (s *Service) TrayStatus(ctx context.Context, branch string) (domain.TrayStatus, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.TrayStatus{}, err
	}
	if branch, err = resolveBranch(actor, branch); err != nil {
		return domain.TrayStatus{}, err
	}

	tray, err := s.repo.GetCashTray(ctx, branch)
	if isNotFound(err) {
		created, err := s.ledger.GetOrCreate(ctx, branch)
		if err != nil {
			return domain.TrayStatus{}, err
		}
		return created.Status(), nil
	}
	if err != nil {
		return domain.TrayStatus{}, err
	}
	return tray.Status(), nil
}

// TraySummary aggregates every tray. The result is cached until the next tray
// mutation or the cache TTL, whichever comes first.
func (s *Service) TraySummary(ctx context.Context) (domain.TraySummary, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.TraySummary{}, err
	}

	cached, ok, err := s.summaries.Get(ctx, cache.SummaryKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("tray summary cache read failed")
	}
	if ok && cached != nil {
		return *cached, nil
	}

	trays, err := s.repo.ListCashTrays(ctx)
	if err != nil {
		return domain.TraySummary{}, err
	}
	summary := domain.Summarize(trays, s.now())
	if err := s.summaries.Set(ctx, cache.SummaryKey, &summary, s.summaryTTL); err != nil {
		s.log.Warn().Err(err).Msg("tray summary cache write failed")
	}
	return summary, nil
}

func (s *Service) Recompute(ctx context.Context, branch string) (domain.TrayStatus, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.TrayStatus{}, err
	}
	if branch, err = resolveBranch(actor, branch); err != nil {
		return domain.TrayStatus{}, err
	}

	tray, err := s.ledger.Recompute(ctx, branch)
	if err != nil {
		return domain.TrayStatus{}, err
	}

	s.logAudit(ctx, branch, "tray_recompute", "cash_tray", branch, fmt.Sprintf("total=%s", tray.Total().StringFixed(2)))
	s.invalidateSummary(ctx)
	return tray.Status(), nil
}

func (s *Service) RecomputeAll(ctx context.Context) (domain.BulkResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.BulkResult{}, err
	}

	result, err := s.ledger.RecomputeAll(ctx)
	if err != nil {
		return domain.BulkResult{}, err
	}

	s.logAudit(ctx, "", "tray_recompute_all", "cash_tray", "*", fmt.Sprintf("succeeded=%d,failed=%d", result.Succeeded, result.Failed))
	s.invalidateSummary(ctx)
	return result, nil
}

// CheckConsistency compares every tray with its records without repairing
// anything.
func (s *Service) CheckConsistency(ctx context.Context) (domain.ConsistencyReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ConsistencyReport{}, err
	}
	return s.ledger.CheckAll(ctx)
}

func (s *Service) WithdrawRecord(ctx context.Context, id string) (domain.WithdrawRecordResult, error) {
	actor, rec, err := s.authorizedRecord(ctx, id)
	if err != nil {
		return domain.WithdrawRecordResult{}, err
	}

	result, err := s.ledger.WithdrawRecord(ctx, rec.ID, actor.Username)
	if err != nil {
		return domain.WithdrawRecordResult{}, err
	}
	if result.AlreadyWithdrawn {
		return result, nil
	}

	s.logAudit(ctx, result.Branch, "record_withdraw", "daily_record", result.RecordID, fmt.Sprintf("amount=%s", result.AmountRemoved.StringFixed(2)))
	s.invalidateSummary(ctx)
	return result, nil
}

// WithdrawBranch empties one branch tray. The branch operator and admins may
// call it.
func (s *Service) WithdrawBranch(ctx context.Context, branch string) (domain.BranchWithdrawal, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BranchWithdrawal{}, err
	}
	if branch, err = resolveBranch(actor, branch); err != nil {
		return domain.BranchWithdrawal{}, err
	}

	result, err := s.ledger.WithdrawBranch(ctx, branch, actor.Username)
	if err != nil {
		return domain.BranchWithdrawal{}, err
	}
	if result.AlreadyEmpty {
		return result, nil
	}

	s.logAudit(ctx, branch, "tray_withdraw", "cash_tray", branch, fmt.Sprintf("records=%d,amount=%s", result.RecordsWithdrawn, result.AmountRemoved.StringFixed(2)))
	s.invalidateSummary(ctx)
	return result, nil
}

// WithdrawAll empties every branch tray. The manager PIN is checked by the
// caller before this runs.
func (s *Service) WithdrawAll(ctx context.Context) (domain.BulkResult, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.BulkResult{}, err
	}

	result, err := s.ledger.WithdrawAll(ctx, actor.Username)
	if err != nil {
		return domain.BulkResult{}, err
	}

	for _, outcome := range result.Branches {
		if !outcome.OK || (outcome.Records == 0 && outcome.Amount.IsZero()) {
			continue
		}
		s.logAudit(ctx, outcome.Branch, "tray_withdraw_all", "cash_tray", outcome.Branch,
			fmt.Sprintf("records=%d,amount=%s", outcome.Records, outcome.Amount.StringFixed(2)))
	}
	s.invalidateSummary(ctx)
	return result, nil
}

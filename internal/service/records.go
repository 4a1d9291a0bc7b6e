package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/ledger"
	"branchledger/backend/internal/store"
	"branchledger/backend/internal/xid"
)

func (s *Service) CreateDailyRecord(ctx context.Context, req domain.DailyRecordCreateRequest) (domain.DailyRecordMutation, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DailyRecordMutation{}, err
	}
	branch, err := resolveBranch(actor, req.Branch)
	if err != nil {
		return domain.DailyRecordMutation{}, err
	}

	day := s.today()
	if strings.TrimSpace(req.Date) != "" {
		if day, err = parseDay(req.Date); err != nil {
			return domain.DailyRecordMutation{}, err
		}
	}
	if day.After(s.today()) {
		return domain.DailyRecordMutation{}, fmt.Errorf("%w: date %s is in the future", store.ErrInvalidInput, day.Format(domain.DateLayout))
	}

	now := s.now()
	rec := domain.DailyRecord{
		ID:            xid.New("rec"),
		Branch:        branch,
		Date:          day,
		CashSales:     req.CashSales,
		AltSales:      req.AltSales,
		DebitSales:    req.DebitSales,
		CreditSales:   req.CreditSales,
		TotalExpenses: req.TotalExpenses,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedBy:     actor.Username,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := validateRecordAmounts(rec); err != nil {
		return domain.DailyRecordMutation{}, err
	}
	rec.CalculateTotal()

	var tray domain.CashTray
	err = s.ledger.InBranch(ctx, branch, func(ctx context.Context, tx store.BranchTx) error {
		if _, err := tx.RecordByDate(ctx, day); err == nil {
			return fmt.Errorf("%w: %s already has a record for %s", store.ErrDuplicate, branch, day.Format(domain.DateLayout))
		} else if !isNotFound(err) {
			return err
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		tray, err = s.ledger.RecordCreated(ctx, tx, rec)
		return err
	})
	if err != nil {
		return domain.DailyRecordMutation{}, err
	}

	s.logAudit(ctx, branch, "record_create", "daily_record", rec.ID, fmt.Sprintf("date=%s,total_sales=%s,total_expenses=%s",
		rec.Date.Format(domain.DateLayout), rec.TotalSales.StringFixed(2), rec.TotalExpenses.StringFixed(2)))
	s.invalidateSummary(ctx)
	return domain.DailyRecordMutation{Record: rec, Tray: tray.Status()}, nil
}

// UpdateDailyRecord edits a record and rebuilds its branch tray in the same
// transaction. An operator edit clears a previous verification.
func (s *Service) UpdateDailyRecord(ctx context.Context, id string, req domain.DailyRecordUpdateRequest) (domain.DailyRecordMutation, error) {
	actor, existing, err := s.authorizedRecord(ctx, id)
	if err != nil {
		return domain.DailyRecordMutation{}, err
	}

	var newDay *time.Time
	if req.Date != nil {
		day, err := parseDay(*req.Date)
		if err != nil {
			return domain.DailyRecordMutation{}, err
		}
		if day.After(s.today()) {
			return domain.DailyRecordMutation{}, fmt.Errorf("%w: date %s is in the future", store.ErrInvalidInput, day.Format(domain.DateLayout))
		}
		newDay = &day
	}

	var (
		updated domain.DailyRecord
		tray    domain.CashTray
	)
	err = s.ledger.InBranch(ctx, existing.Branch, func(ctx context.Context, tx store.BranchTx) error {
		current, err := tx.RecordByID(ctx, id)
		if err != nil {
			return err
		}
		rec := *current
		if newDay != nil && !newDay.Equal(rec.Date) {
			if _, err := tx.RecordByDate(ctx, *newDay); err == nil {
				return fmt.Errorf("%w: %s already has a record for %s", store.ErrDuplicate, rec.Branch, newDay.Format(domain.DateLayout))
			} else if !isNotFound(err) {
				return err
			}
			rec.Date = *newDay
		}
		if req.CashSales != nil {
			rec.CashSales = *req.CashSales
		}
		if req.AltSales != nil {
			rec.AltSales = *req.AltSales
		}
		if req.DebitSales != nil {
			rec.DebitSales = *req.DebitSales
		}
		if req.CreditSales != nil {
			rec.CreditSales = *req.CreditSales
		}
		if req.TotalExpenses != nil {
			rec.TotalExpenses = *req.TotalExpenses
		}
		if req.Notes != nil {
			rec.Notes = strings.TrimSpace(*req.Notes)
		}
		if err := validateRecordAmounts(rec); err != nil {
			return err
		}
		rec.CalculateTotal()
		rec.UpdatedAt = s.now()
		if !actor.IsAdmin() && rec.IsVerified {
			rec.Unverify()
		}

		if err := tx.UpdateRecord(ctx, rec); err != nil {
			return err
		}
		tray, err = s.ledger.RecordEdited(ctx, tx)
		if err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return domain.DailyRecordMutation{}, err
	}

	s.logAudit(ctx, updated.Branch, "record_update", "daily_record", updated.ID, fmt.Sprintf("date=%s,total_sales=%s,total_expenses=%s,verified=%t",
		updated.Date.Format(domain.DateLayout), updated.TotalSales.StringFixed(2), updated.TotalExpenses.StringFixed(2), updated.IsVerified))
	s.invalidateSummary(ctx)
	return domain.DailyRecordMutation{Record: updated, Tray: tray.Status()}, nil
}

// DeleteDailyRecord removes a record and its tray contribution. Operators may
// only delete unverified records of their own branch.
func (s *Service) DeleteDailyRecord(ctx context.Context, id string) (domain.TrayStatus, error) {
	actor, existing, err := s.authorizedRecord(ctx, id)
	if err != nil {
		return domain.TrayStatus{}, err
	}
	if !actor.IsAdmin() && existing.IsVerified {
		return domain.TrayStatus{}, fmt.Errorf("%w: verified records can only be deleted by an admin", ledger.ErrPermission)
	}

	var (
		captured domain.DailyRecord
		tray     domain.CashTray
	)
	err = s.ledger.InBranch(ctx, existing.Branch, func(ctx context.Context, tx store.BranchTx) error {
		current, err := tx.RecordByID(ctx, id)
		if err != nil {
			return err
		}
		captured = *current
		if err := tx.DeleteRecord(ctx, id); err != nil {
			return err
		}
		tray, err = s.ledger.RecordDeleted(ctx, tx, captured)
		return err
	})
	if err != nil {
		return domain.TrayStatus{}, err
	}

	s.logAudit(ctx, captured.Branch, "record_delete", "daily_record", captured.ID, fmt.Sprintf("date=%s,total_sales=%s,withdrawn=%t",
		captured.Date.Format(domain.DateLayout), captured.TotalSales.StringFixed(2), captured.IsWithdrawn))
	s.invalidateSummary(ctx)
	return tray.Status(), nil
}

func (s *Service) GetDailyRecord(ctx context.Context, id string) (domain.DailyRecord, error) {
	_, rec, err := s.authorizedRecord(ctx, id)
	if err != nil {
		return domain.DailyRecord{}, err
	}
	return rec, nil
}

// ListDailyRecords lists records newest first. Operators always see only
// their own branch; an admin with no branch sees every branch.
func (s *Service) ListDailyRecords(ctx context.Context, branch string, from string, to string, includeWithdrawn bool, limit int) ([]domain.DailyRecord, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	filter := domain.RecordFilter{IncludeWithdrawn: includeWithdrawn, Limit: limit}
	if branch != "" || !actor.IsAdmin() {
		if filter.Branch, err = resolveBranch(actor, branch); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(from) != "" {
		day, err := parseDay(from)
		if err != nil {
			return nil, err
		}
		filter.From = &day
	}
	if strings.TrimSpace(to) != "" {
		day, err := parseDay(to)
		if err != nil {
			return nil, err
		}
		filter.To = &day
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: to must not be before from", store.ErrInvalidInput)
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	return s.repo.ListDailyRecords(ctx, filter)
}

// BranchStatus lists which branches have filed a record for a day, today by
// default. Branches come from existing records and trays plus every active
// operator account, so a branch that never reported still shows as pending.
func (s *Service) BranchStatus(ctx context.Context, date string) (domain.BranchStatusReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.BranchStatusReport{}, err
	}
	day := s.today()
	if strings.TrimSpace(date) != "" {
		parsed, err := parseDay(date)
		if err != nil {
			return domain.BranchStatusReport{}, err
		}
		day = parsed
	}

	known := make(map[string]struct{})
	branches, err := s.repo.ListBranches(ctx)
	if err != nil {
		return domain.BranchStatusReport{}, err
	}
	for _, branch := range branches {
		known[branch] = struct{}{}
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.BranchStatusReport{}, err
	}
	for _, user := range users {
		if user.Active && user.Role == domain.RoleOperator && user.Branch != "" {
			known[user.Branch] = struct{}{}
		}
	}

	records, err := s.repo.ListDailyRecords(ctx, domain.RecordFilter{From: &day, To: &day, IncludeWithdrawn: true})
	if err != nil {
		return domain.BranchStatusReport{}, err
	}
	filed := make(map[string]domain.DailyRecord, len(records))
	for _, rec := range records {
		filed[rec.Branch] = rec
		known[rec.Branch] = struct{}{}
	}

	report := domain.BranchStatusReport{
		Date:     day.Format(domain.DateLayout),
		Branches: make([]domain.BranchDayStatus, 0, len(known)),
	}
	for _, branch := range slices.Sorted(maps.Keys(known)) {
		status := domain.BranchDayStatus{Branch: branch, Status: domain.DayStatusPending}
		if rec, ok := filed[branch]; ok {
			total := rec.TotalSales
			status.HasReported = true
			status.Status = domain.DayStatusReported
			status.RecordID = rec.ID
			status.TotalSales = &total
			status.IsVerified = rec.IsVerified
			report.TotalReported++
		}
		report.Branches = append(report.Branches, status)
	}
	report.TotalBranches = len(report.Branches)
	return report, nil
}

// ToggleVerify flips the verification flag. It has no tray effect.
func (s *Service) ToggleVerify(ctx context.Context, id string) (domain.DailyRecord, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.DailyRecord{}, err
	}
	existing, err := s.repo.GetDailyRecord(ctx, id)
	if err != nil {
		return domain.DailyRecord{}, err
	}

	var updated domain.DailyRecord
	err = s.ledger.InBranch(ctx, existing.Branch, func(ctx context.Context, tx store.BranchTx) error {
		current, err := tx.RecordByID(ctx, id)
		if err != nil {
			return err
		}
		if current.IsVerified {
			current.Unverify()
		} else {
			current.Verify(actor.Username, s.now())
		}
		if err := tx.UpdateRecord(ctx, *current); err != nil {
			return err
		}
		updated = *current
		return nil
	})
	if err != nil {
		return domain.DailyRecord{}, err
	}

	s.logAudit(ctx, updated.Branch, "record_verify", "daily_record", updated.ID, fmt.Sprintf("verified=%t", updated.IsVerified))
	return updated, nil
}

func (s *Service) authorizedRecord(ctx context.Context, id string) (domain.Actor, domain.DailyRecord, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, domain.DailyRecord{}, err
	}
	if strings.TrimSpace(id) == "" {
		return domain.Actor{}, domain.DailyRecord{}, fmt.Errorf("%w: record id is required", store.ErrInvalidInput)
	}
	rec, err := s.repo.GetDailyRecord(ctx, id)
	if err != nil {
		return domain.Actor{}, domain.DailyRecord{}, err
	}
	if err := authorizeBranch(actor, rec.Branch); err != nil {
		return domain.Actor{}, domain.DailyRecord{}, err
	}
	return actor, *rec, nil
}

func validateRecordAmounts(rec domain.DailyRecord) error {
	fields := []struct {
		name   string
		amount decimal.Decimal
	}{
		{"cash_sales", rec.CashSales},
		{"alt_sales", rec.AltSales},
		{"debit_sales", rec.DebitSales},
		{"credit_sales", rec.CreditSales},
		{"total_expenses", rec.TotalExpenses},
	}
	for _, field := range fields {
		if err := requireAmount(field.name, field.amount); err != nil {
			return err
		}
	}
	return nil
}

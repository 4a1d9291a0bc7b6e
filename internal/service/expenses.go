package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/ledger"
	"branchledger/backend/internal/store"
	"branchledger/backend/internal/xid"
)

// SaveBranchExpense creates the month item for (category, description) or
// updates its amount while it is still unpaid.
func (s *Service) SaveBranchExpense(ctx context.Context, req domain.ExpenseSaveRequest) (domain.BranchExpense, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BranchExpense{}, err
	}
	branch, err := resolveBranch(actor, req.Branch)
	if err != nil {
		return domain.BranchExpense{}, err
	}
	year, month, err := s.resolveMonth(req.Year, req.Month)
	if err != nil {
		return domain.BranchExpense{}, err
	}

	category := strings.ToUpper(strings.TrimSpace(req.Category))
	if !domain.IsExpenseCategory(category) {
		return domain.BranchExpense{}, fmt.Errorf("%w: unknown expense category %q", store.ErrInvalidInput, req.Category)
	}
	description := domain.FixedDescription
	if category == domain.CategoryOther {
		description = strings.TrimSpace(req.Description)
		if description == "" {
			return domain.BranchExpense{}, fmt.Errorf("%w: description is required for %s", store.ErrInvalidInput, domain.CategoryOther)
		}
	}
	if err := requireAmount("amount", req.Amount); err != nil {
		return domain.BranchExpense{}, err
	}
	if !actor.IsAdmin() && !domain.OperatorMayEdit(branch, category) {
		return domain.BranchExpense{}, fmt.Errorf("%w: %s expenses are managed by an admin", ledger.ErrPermission, category)
	}

	var saved domain.BranchExpense
	err = s.ledger.InBranch(ctx, branch, func(ctx context.Context, tx store.BranchTx) error {
		now := s.now()
		existing, err := tx.FindExpense(ctx, year, month, category, description)
		if err == nil {
			if existing.IsPaid {
				return fmt.Errorf("%w: %s %d-%02d is already paid", ledger.ErrPrecondition, category, year, month)
			}
			existing.Amount = req.Amount
			existing.UpdatedAt = now
			if err := tx.UpdateExpense(ctx, *existing); err != nil {
				return err
			}
			saved = *existing
			return nil
		}
		if !isNotFound(err) {
			return err
		}

		saved = domain.BranchExpense{
			ID:          xid.New("exp"),
			Branch:      branch,
			Year:        year,
			Month:       month,
			Category:    category,
			Description: description,
			Amount:      req.Amount,
			CreatedBy:   actor.Username,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.InsertExpense(ctx, saved)
	})
	if err != nil {
		return domain.BranchExpense{}, err
	}

	s.logAudit(ctx, branch, "expense_save", "branch_expense", saved.ID, fmt.Sprintf("period=%d-%02d,category=%s,amount=%s",
		saved.Year, saved.Month, saved.Category, saved.Amount.StringFixed(2)))
	return saved, nil
}

func (s *Service) ListBranchExpenses(ctx context.Context, branch string, year int, month int) (domain.ExpenseMonth, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ExpenseMonth{}, err
	}
	if branch, err = resolveBranch(actor, branch); err != nil {
		return domain.ExpenseMonth{}, err
	}
	if year, month, err = s.resolveMonth(year, month); err != nil {
		return domain.ExpenseMonth{}, err
	}

	items, err := s.repo.ListBranchExpenses(ctx, branch, year, month)
	if err != nil {
		return domain.ExpenseMonth{}, err
	}
	return domain.SummarizeMonth(branch, year, month, items), nil
}

// MarkExpensePaid moves an item to PAID. When a branch operator pays, the
// amount is posted into today's record of the branch and into the tray's
// cash-expense balance; that record must already exist.
func (s *Service) MarkExpensePaid(ctx context.Context, id string) (domain.ExpensePaymentResponse, error) {
	actor, expense, err := s.authorizedExpense(ctx, id)
	if err != nil {
		return domain.ExpensePaymentResponse{}, err
	}
	if !actor.IsAdmin() && !domain.OperatorMayEdit(expense.Branch, expense.Category) {
		return domain.ExpensePaymentResponse{}, fmt.Errorf("%w: %s expenses are paid by an admin", ledger.ErrPermission, expense.Category)
	}

	var resp domain.ExpensePaymentResponse
	err = s.ledger.InBranch(ctx, expense.Branch, func(ctx context.Context, tx store.BranchTx) error {
		resp = domain.ExpensePaymentResponse{}
		current, err := tx.ExpenseByID(ctx, id)
		if err != nil {
			return err
		}
		if current.IsPaid {
			return fmt.Errorf("%w: expense is already paid", ledger.ErrPrecondition)
		}

		now := s.now()
		current.IsPaid = true
		current.PaidAt = &now
		current.PaidBy = actor.Username
		current.UpdatedAt = now

		if !actor.IsAdmin() {
			today := s.today()
			rec, err := tx.RecordByDate(ctx, today)
			if isNotFound(err) {
				return fmt.Errorf("%w: record today's sales for %s (%s) before paying expenses",
					ledger.ErrPrecondition, expense.Branch, today.Format(domain.DateLayout))
			}
			if err != nil {
				return err
			}
			if rec.IsWithdrawn {
				return fmt.Errorf("%w: today's record of %s was already withdrawn", ledger.ErrPrecondition, expense.Branch)
			}

			rec.TotalExpenses = rec.TotalExpenses.Add(current.Amount)
			rec.UpdatedAt = now
			if err := tx.UpdateRecord(ctx, *rec); err != nil {
				return err
			}
			tray, err := s.ledger.ExpensePosted(ctx, tx, current.Amount)
			if err != nil {
				return err
			}
			current.PostedRecordID = rec.ID
			status := tray.Status()
			resp.Tray = &status
		}

		if err := tx.UpdateExpense(ctx, *current); err != nil {
			return err
		}
		resp.Expense = *current
		return nil
	})
	if err != nil {
		return domain.ExpensePaymentResponse{}, err
	}

	s.logAudit(ctx, expense.Branch, "expense_pay", "branch_expense", id, fmt.Sprintf("amount=%s,posted_record=%s",
		resp.Expense.Amount.StringFixed(2), resp.Expense.PostedRecordID))
	if resp.Tray != nil {
		s.invalidateSummary(ctx)
	}
	return resp, nil
}

// MarkExpenseUnpaid is the admin correction PAID -> UNPAID. A payment that
// was posted to a daily record is reversed on both the record and the tray
// in one transaction; a withdrawn record blocks the reversal.
func (s *Service) MarkExpenseUnpaid(ctx context.Context, id string) (domain.ExpensePaymentResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ExpensePaymentResponse{}, err
	}
	_, expense, err := s.authorizedExpense(ctx, id)
	if err != nil {
		return domain.ExpensePaymentResponse{}, err
	}

	var (
		resp     domain.ExpensePaymentResponse
		reversed decimal.Decimal
	)
	err = s.ledger.InBranch(ctx, expense.Branch, func(ctx context.Context, tx store.BranchTx) error {
		resp = domain.ExpensePaymentResponse{}
		reversed = decimal.Zero
		current, err := tx.ExpenseByID(ctx, id)
		if err != nil {
			return err
		}
		if !current.IsPaid {
			return fmt.Errorf("%w: expense is not paid", ledger.ErrPrecondition)
		}

		now := s.now()
		if current.PostedRecordID != "" {
			rec, err := tx.RecordByID(ctx, current.PostedRecordID)
			switch {
			case isNotFound(err):
				// record deleted since; its contribution already left the tray
			case err != nil:
				return err
			case rec.IsWithdrawn:
				return fmt.Errorf("%w: the record this payment was posted to has been withdrawn", ledger.ErrPrecondition)
			default:
				reversed = decimal.Min(current.Amount, rec.TotalExpenses)
				rec.TotalExpenses = rec.TotalExpenses.Sub(reversed)
				rec.UpdatedAt = now
				if err := tx.UpdateRecord(ctx, *rec); err != nil {
					return err
				}
				tray, err := s.ledger.ExpenseReversed(ctx, tx, reversed)
				if err != nil {
					return err
				}
				status := tray.Status()
				resp.Tray = &status
			}
		}

		current.IsPaid = false
		current.PaidAt = nil
		current.PaidBy = ""
		current.PostedRecordID = ""
		current.UpdatedAt = now
		if err := tx.UpdateExpense(ctx, *current); err != nil {
			return err
		}
		resp.Expense = *current
		return nil
	})
	if err != nil {
		return domain.ExpensePaymentResponse{}, err
	}

	s.logAudit(ctx, expense.Branch, "expense_unpay", "branch_expense", id, fmt.Sprintf("reversed=%s", reversed.StringFixed(2)))
	if resp.Tray != nil {
		s.invalidateSummary(ctx)
	}
	return resp, nil
}

func (s *Service) authorizedExpense(ctx context.Context, id string) (domain.Actor, domain.BranchExpense, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, domain.BranchExpense{}, err
	}
	if strings.TrimSpace(id) == "" {
		return domain.Actor{}, domain.BranchExpense{}, fmt.Errorf("%w: expense id is required", store.ErrInvalidInput)
	}
	expense, err := s.repo.GetBranchExpense(ctx, id)
	if err != nil {
		return domain.Actor{}, domain.BranchExpense{}, err
	}
	if err := authorizeBranch(actor, expense.Branch); err != nil {
		return domain.Actor{}, domain.BranchExpense{}, err
	}
	return actor, *expense, nil
}

// resolveMonth defaults a zero year or month to the current one in the
// ledger timezone.
func (s *Service) resolveMonth(year int, month int) (int, int, error) {
	now := s.now().In(s.loc)
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = int(now.Month())
	}
	if year < 2000 || year > 2100 || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: invalid period %d-%02d", store.ErrInvalidInput, year, month)
	}
	return year, month, nil
}

package domain

import (
	"slices"

	"github.com/shopspring/decimal"
)

const (
	CategoryRent     = "ALQUILER"
	CategorySalary   = "SUELDO"
	CategoryPower    = "LUZ"
	CategoryWater    = "AGUA"
	CategoryInternet = "INTERNET"
	CategoryGuard    = "SERENO"
	CategoryOther    = "OTROS"
)

// FixedDescription is stored for every category except OTROS so that the
// (branch, year, month, category, description) key stays unique per month.
const FixedDescription = "-"

// guardBranch is the one branch that also pays a night guard every month.
const guardBranch = "tacuari"

var expenseCategories = []string{
	CategoryRent,
	CategorySalary,
	CategoryPower,
	CategoryWater,
	CategoryInternet,
	CategoryGuard,
	CategoryOther,
}

func ExpenseCategories() []string {
	return slices.Clone(expenseCategories)
}

func IsExpenseCategory(category string) bool {
	return slices.Contains(expenseCategories, category)
}

func RequiredCategories(branch string) []string {
	required := []string{CategoryRent, CategorySalary, CategoryPower, CategoryWater, CategoryInternet}
	if branch == guardBranch {
		required = append(required, CategoryGuard)
	}
	return required
}

// OperatorMayEdit reports whether a branch operator may save or pay items of
// category on their own branch.
func OperatorMayEdit(branch string, category string) bool {
	switch category {
	case CategoryPower, CategoryWater, CategoryInternet, CategoryOther:
		return true
	case CategoryGuard:
		return branch == guardBranch
	default:
		return false
	}
}

// SummarizeMonth computes the month status of a branch's expense items.
// A month with no items is pending.
func SummarizeMonth(branch string, year int, month int, items []BranchExpense) ExpenseMonth {
	required := RequiredCategories(branch)
	out := ExpenseMonth{
		Branch:             branch,
		Year:               year,
		Month:              month,
		Items:              items,
		RequiredCategories: required,
		MissingCategories:  []string{},
		TotalAmount:        decimal.Zero,
		PaidAmount:         decimal.Zero,
	}
	if out.Items == nil {
		out.Items = []BranchExpense{}
	}

	paid := make(map[string]bool, len(items))
	anyUnpaid := false
	for _, item := range items {
		out.TotalAmount = out.TotalAmount.Add(item.Amount)
		if item.IsPaid {
			paid[item.Category] = true
			out.PaidAmount = out.PaidAmount.Add(item.Amount)
		} else {
			anyUnpaid = true
		}
	}
	for _, category := range required {
		if !paid[category] {
			out.MissingCategories = append(out.MissingCategories, category)
		}
	}
	out.IsComplete = len(items) > 0 && !anyUnpaid && len(out.MissingCategories) == 0
	return out
}

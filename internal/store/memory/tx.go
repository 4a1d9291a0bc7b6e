package memory

import (
	"context"
	"slices"
	"time"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/store"
)

type memTx struct {
	branch  string
	data    *branchData
	deleted map[string]struct{}
}

func (t *memTx) Branch() string {
	return t.branch
}

func (t *memTx) Tray(_ context.Context) (*domain.CashTray, error) {
	tray := *t.data.tray
	return &tray, nil
}

func (t *memTx) SaveTray(_ context.Context, tray domain.CashTray) error {
	if tray.Branch != t.branch {
		return store.ErrInvalidInput
	}
	// Mirrors the >= 0 check constraints of the cash_trays table.
	if tray.Cash.IsNegative() || tray.Alt.IsNegative() || tray.Debit.IsNegative() ||
		tray.Credit.IsNegative() || tray.CashExpense.IsNegative() {
		return store.ErrInvalidInput
	}
	t.data.tray = &tray
	return nil
}

func (t *memTx) ActiveRecords(_ context.Context) ([]domain.DailyRecord, error) {
	records := make([]domain.DailyRecord, 0, len(t.data.records))
	for _, rec := range t.data.records {
		if rec.IsWithdrawn {
			continue
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b domain.DailyRecord) int {
		return a.Date.Compare(b.Date)
	})
	return records, nil
}

func (t *memTx) RecordByID(_ context.Context, id string) (*domain.DailyRecord, error) {
	rec, ok := t.data.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (t *memTx) RecordByDate(_ context.Context, date time.Time) (*domain.DailyRecord, error) {
	for _, rec := range t.data.records {
		if rec.Date.Equal(date) {
			found := rec
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) InsertRecord(ctx context.Context, record domain.DailyRecord) error {
	if record.ID == "" || record.Branch != t.branch {
		return store.ErrInvalidInput
	}
	if _, exists := t.data.records[record.ID]; exists {
		return store.ErrDuplicate
	}
	if _, err := t.RecordByDate(ctx, record.Date); err == nil {
		return store.ErrDuplicate
	}
	t.data.records[record.ID] = record
	return nil
}

func (t *memTx) UpdateRecord(_ context.Context, record domain.DailyRecord) error {
	if _, exists := t.data.records[record.ID]; !exists {
		return store.ErrNotFound
	}
	for id, other := range t.data.records {
		if id != record.ID && other.Date.Equal(record.Date) {
			return store.ErrDuplicate
		}
	}
	t.data.records[record.ID] = record
	return nil
}

func (t *memTx) DeleteRecord(_ context.Context, id string) error {
	if _, exists := t.data.records[id]; !exists {
		return store.ErrNotFound
	}
	delete(t.data.records, id)
	t.deleted[id] = struct{}{}
	return nil
}

func (t *memTx) ExpenseByID(_ context.Context, id string) (*domain.BranchExpense, error) {
	expense, ok := t.data.expenses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &expense, nil
}

func (t *memTx) FindExpense(_ context.Context, year int, month int, category string, description string) (*domain.BranchExpense, error) {
	for _, expense := range t.data.expenses {
		if expense.Year == year && expense.Month == month && expense.Category == category && expense.Description == description {
			found := expense
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) InsertExpense(ctx context.Context, expense domain.BranchExpense) error {
	if expense.ID == "" || expense.Branch != t.branch {
		return store.ErrInvalidInput
	}
	if _, err := t.FindExpense(ctx, expense.Year, expense.Month, expense.Category, expense.Description); err == nil {
		return store.ErrDuplicate
	}
	t.data.expenses[expense.ID] = expense
	return nil
}

func (t *memTx) UpdateExpense(_ context.Context, expense domain.BranchExpense) error {
	if _, exists := t.data.expenses[expense.ID]; !exists {
		return store.ErrNotFound
	}
	t.data.expenses[expense.ID] = expense
	return nil
}

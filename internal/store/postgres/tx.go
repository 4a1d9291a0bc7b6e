package postgres

import (
	"context"
	"database/sql"
	"time"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/store"
)

const recordColumns = `id, branch, record_date, cash_sales, alt_sales, debit_sales, credit_sales,
	total_sales, total_expenses, notes, created_by, created_at, updated_at,
	is_withdrawn, COALESCE(withdrawn_by, ''), withdrawn_at,
	is_verified, COALESCE(verified_by, ''), verified_at`

const expenseColumns = `id, branch, year, month, category, description, amount,
	is_paid, paid_at, COALESCE(paid_by, ''), COALESCE(posted_record_id, ''),
	COALESCE(created_by, ''), created_at, updated_at`

const trayColumns = `branch, cash, alt, debit, credit, cash_expense, last_updated, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.DailyRecord, error) {
	var (
		rec         domain.DailyRecord
		withdrawnAt sql.NullTime
		verifiedAt  sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.Branch, &rec.Date, &rec.CashSales, &rec.AltSales, &rec.DebitSales, &rec.CreditSales,
		&rec.TotalSales, &rec.TotalExpenses, &rec.Notes, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.IsWithdrawn, &rec.WithdrawnBy, &withdrawnAt,
		&rec.IsVerified, &rec.VerifiedBy, &verifiedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Date = dateOnly(rec.Date)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if withdrawnAt.Valid {
		at := withdrawnAt.Time.UTC()
		rec.WithdrawnAt = &at
	}
	if verifiedAt.Valid {
		at := verifiedAt.Time.UTC()
		rec.VerifiedAt = &at
	}
	return &rec, nil
}

func scanExpense(row rowScanner) (*domain.BranchExpense, error) {
	var (
		expense domain.BranchExpense
		paidAt  sql.NullTime
	)
	err := row.Scan(
		&expense.ID, &expense.Branch, &expense.Year, &expense.Month, &expense.Category, &expense.Description, &expense.Amount,
		&expense.IsPaid, &paidAt, &expense.PaidBy, &expense.PostedRecordID,
		&expense.CreatedBy, &expense.CreatedAt, &expense.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	expense.CreatedAt = expense.CreatedAt.UTC()
	expense.UpdatedAt = expense.UpdatedAt.UTC()
	if paidAt.Valid {
		at := paidAt.Time.UTC()
		expense.PaidAt = &at
	}
	return &expense, nil
}

func scanTray(row rowScanner) (*domain.CashTray, error) {
	var tray domain.CashTray
	err := row.Scan(&tray.Branch, &tray.Cash, &tray.Alt, &tray.Debit, &tray.Credit, &tray.CashExpense, &tray.LastUpdated, &tray.CreatedAt)
	if err != nil {
		return nil, err
	}
	tray.LastUpdated = tray.LastUpdated.UTC()
	tray.CreatedAt = tray.CreatedAt.UTC()
	return &tray, nil
}

// pgTx implements store.BranchTx on top of a transaction that already holds
// the FOR UPDATE lock on the branch's cash_trays row.
type pgTx struct {
	tx     *sql.Tx
	branch string
	tray   domain.CashTray
}

func (t *pgTx) Branch() string {
	return t.branch
}

func (t *pgTx) Tray(_ context.Context) (*domain.CashTray, error) {
	tray := t.tray
	return &tray, nil
}

func (t *pgTx) SaveTray(ctx context.Context, tray domain.CashTray) error {
	if tray.Branch != t.branch {
		return store.ErrInvalidInput
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE cash_trays
		SET cash = $2, alt = $3, debit = $4, credit = $5, cash_expense = $6, last_updated = $7
		WHERE branch = $1
	`, tray.Branch, tray.Cash, tray.Alt, tray.Debit, tray.Credit, tray.CashExpense, tray.LastUpdated)
	if err != nil {
		return mapError(err)
	}
	t.tray = tray
	return nil
}

func (t *pgTx) ActiveRecords(ctx context.Context) ([]domain.DailyRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM daily_records
		WHERE branch = $1 AND NOT is_withdrawn
		ORDER BY record_date ASC
	`, t.branch)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	records := make([]domain.DailyRecord, 0, 32)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return records, nil
}

func (t *pgTx) RecordByID(ctx context.Context, id string) (*domain.DailyRecord, error) {
	rec, err := scanRecord(t.tx.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM daily_records
		WHERE id = $1 AND branch = $2
		FOR UPDATE
	`, id, t.branch))
	if err != nil {
		return nil, mapError(err)
	}
	return rec, nil
}

func (t *pgTx) RecordByDate(ctx context.Context, date time.Time) (*domain.DailyRecord, error) {
	rec, err := scanRecord(t.tx.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM daily_records
		WHERE branch = $1 AND record_date = $2
		FOR UPDATE
	`, t.branch, dateOnly(date)))
	if err != nil {
		return nil, mapError(err)
	}
	return rec, nil
}

func (t *pgTx) InsertRecord(ctx context.Context, rec domain.DailyRecord) error {
	if rec.ID == "" || rec.Branch != t.branch {
		return store.ErrInvalidInput
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO daily_records (
			id, branch, record_date, cash_sales, alt_sales, debit_sales, credit_sales,
			total_sales, total_expenses, notes, created_by, created_at, updated_at,
			is_withdrawn, withdrawn_by, withdrawn_at, is_verified, verified_by, verified_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, rec.ID, rec.Branch, dateOnly(rec.Date), rec.CashSales, rec.AltSales, rec.DebitSales, rec.CreditSales,
		rec.TotalSales, rec.TotalExpenses, rec.Notes, rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt,
		rec.IsWithdrawn, nullIfEmpty(rec.WithdrawnBy), nullTime(rec.WithdrawnAt),
		rec.IsVerified, nullIfEmpty(rec.VerifiedBy), nullTime(rec.VerifiedAt))
	return mapError(err)
}

func (t *pgTx) UpdateRecord(ctx context.Context, rec domain.DailyRecord) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE daily_records
		SET record_date = $3, cash_sales = $4, alt_sales = $5, debit_sales = $6, credit_sales = $7,
			total_sales = $8, total_expenses = $9, notes = $10, updated_at = $11,
			is_withdrawn = $12, withdrawn_by = $13, withdrawn_at = $14,
			is_verified = $15, verified_by = $16, verified_at = $17
		WHERE id = $1 AND branch = $2
	`, rec.ID, t.branch, dateOnly(rec.Date), rec.CashSales, rec.AltSales, rec.DebitSales, rec.CreditSales,
		rec.TotalSales, rec.TotalExpenses, rec.Notes, rec.UpdatedAt,
		rec.IsWithdrawn, nullIfEmpty(rec.WithdrawnBy), nullTime(rec.WithdrawnAt),
		rec.IsVerified, nullIfEmpty(rec.VerifiedBy), nullTime(rec.VerifiedAt))
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) DeleteRecord(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM daily_records WHERE id = $1 AND branch = $2`, id, t.branch)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func (t *pgTx) ExpenseByID(ctx context.Context, id string) (*domain.BranchExpense, error) {
	expense, err := scanExpense(t.tx.QueryRowContext(ctx, `
		SELECT `+expenseColumns+`
		FROM branch_expenses
		WHERE id = $1 AND branch = $2
		FOR UPDATE
	`, id, t.branch))
	if err != nil {
		return nil, mapError(err)
	}
	return expense, nil
}

func (t *pgTx) FindExpense(ctx context.Context, year int, month int, category string, description string) (*domain.BranchExpense, error) {
	expense, err := scanExpense(t.tx.QueryRowContext(ctx, `
		SELECT `+expenseColumns+`
		FROM branch_expenses
		WHERE branch = $1 AND year = $2 AND month = $3 AND category = $4 AND description = $5
		FOR UPDATE
	`, t.branch, year, month, category, description))
	if err != nil {
		return nil, mapError(err)
	}
	return expense, nil
}

func (t *pgTx) InsertExpense(ctx context.Context, expense domain.BranchExpense) error {
	if expense.ID == "" || expense.Branch != t.branch {
		return store.ErrInvalidInput
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO branch_expenses (
			id, branch, year, month, category, description, amount,
			is_paid, paid_at, paid_by, posted_record_id, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, expense.ID, expense.Branch, expense.Year, expense.Month, expense.Category, expense.Description, expense.Amount,
		expense.IsPaid, nullTime(expense.PaidAt), nullIfEmpty(expense.PaidBy), nullIfEmpty(expense.PostedRecordID),
		nullIfEmpty(expense.CreatedBy), expense.CreatedAt, expense.UpdatedAt)
	return mapError(err)
}

func (t *pgTx) UpdateExpense(ctx context.Context, expense domain.BranchExpense) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE branch_expenses
		SET amount = $3, is_paid = $4, paid_at = $5, paid_by = $6, posted_record_id = $7, updated_at = $8
		WHERE id = $1 AND branch = $2
	`, expense.ID, t.branch, expense.Amount, expense.IsPaid, nullTime(expense.PaidAt), nullIfEmpty(expense.PaidBy),
		nullIfEmpty(expense.PostedRecordID), expense.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

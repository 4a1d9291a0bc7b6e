package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const defaultLockTimeout = 3 * time.Second

type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, lockTimeout: defaultLockTimeout}, nil
}

// SetLockTimeout bounds how long a branch transaction waits for the tray row
// lock before failing with store.ErrRetryable.
func (s *Store) SetLockTimeout(d time.Duration) {
	if d > 0 {
		s.lockTimeout = d
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the ledger tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) InBranchTx(ctx context.Context, branch string, fn func(ctx context.Context, tx store.BranchTx) error) error {
	if branch == "" {
		return store.ErrInvalidInput
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if _, err := sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return mapError(err)
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO cash_trays (branch, last_updated, created_at)
		VALUES ($1, now(), now())
		ON CONFLICT (branch) DO NOTHING
	`, branch)
	if err != nil {
		return mapError(err)
	}

	tray, err := scanTray(sqlTx.QueryRowContext(ctx, `
		SELECT `+trayColumns+`
		FROM cash_trays
		WHERE branch = $1
		FOR UPDATE
	`, branch))
	if err != nil {
		return mapError(err)
	}

	if err := fn(ctx, &pgTx{tx: sqlTx, branch: branch, tray: *tray}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) GetDailyRecord(ctx context.Context, id string) (*domain.DailyRecord, error) {
	record, err := scanRecord(s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM daily_records
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return record, nil
}

func (s *Store) ListDailyRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.DailyRecord, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM daily_records
		WHERE ($1 = '' OR branch = $1)
			AND ($2::date IS NULL OR record_date >= $2::date)
			AND ($3::date IS NULL OR record_date <= $3::date)
			AND ($4 OR NOT is_withdrawn)
		ORDER BY record_date DESC, branch ASC
		LIMIT $5
	`, filter.Branch, nullDate(filter.From), nullDate(filter.To), filter.IncludeWithdrawn, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.DailyRecord, 0, 64)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) GetBranchExpense(ctx context.Context, id string) (*domain.BranchExpense, error) {
	expense, err := scanExpense(s.db.QueryRowContext(ctx, `
		SELECT `+expenseColumns+`
		FROM branch_expenses
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return expense, nil
}

func (s *Store) ListBranchExpenses(ctx context.Context, branch string, year int, month int) ([]domain.BranchExpense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+expenseColumns+`
		FROM branch_expenses
		WHERE branch = $1 AND year = $2 AND ($3 = 0 OR month = $3)
		ORDER BY month ASC, category ASC, created_at ASC
	`, branch, year, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.BranchExpense, 0, 16)
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetCashTray(ctx context.Context, branch string) (*domain.CashTray, error) {
	tray, err := scanTray(s.db.QueryRowContext(ctx, `
		SELECT `+trayColumns+`
		FROM cash_trays
		WHERE branch = $1
	`, branch))
	if err != nil {
		return nil, mapError(err)
	}
	return tray, nil
}

func (s *Store) ListCashTrays(ctx context.Context) ([]domain.CashTray, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+trayColumns+`
		FROM cash_trays
		ORDER BY branch ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trays := make([]domain.CashTray, 0, 16)
	for rows.Next() {
		tray, err := scanTray(rows)
		if err != nil {
			return nil, err
		}
		trays = append(trays, *tray)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trays, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT branch FROM daily_records
		UNION
		SELECT branch FROM cash_trays
		ORDER BY branch ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]string, 0, 16)
	for rows.Next() {
		var branch string
		if err := rows.Scan(&branch); err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, branch, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.Branch, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branch string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, branch, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Branch, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, branch, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, nullIfEmpty(user.Branch), user.Active, user.CreatedAt)
	return mapError(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, COALESCE(branch, ''), active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Branch, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapError translates driver errors into store sentinels. Unknown errors are
// returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
		case "23514", "23503", "22003":
			return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.Message)
		case "55P03", "40001", "40P01":
			return fmt.Errorf("%w: %s", store.ErrRetryable, pgErr.Message)
		}
	}
	return err
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return dateOnly(*val)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"branchledger/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = fmt.Errorf("%w: already exists", ErrInvalidInput)
	// ErrRetryable marks lock contention and serialization failures that may
	// succeed when the transaction is run again.
	ErrRetryable = errors.New("transient lock contention")
)

// BranchTx is a unit of work scoped to one branch. The branch tray row is
// held under an exclusive lock for the lifetime of the transaction.
type BranchTx interface {
	Branch() string
	Tray(ctx context.Context) (*domain.CashTray, error)
	SaveTray(ctx context.Context, tray domain.CashTray) error
	ActiveRecords(ctx context.Context) ([]domain.DailyRecord, error)
	RecordByID(ctx context.Context, id string) (*domain.DailyRecord, error)
	RecordByDate(ctx context.Context, date time.Time) (*domain.DailyRecord, error)
	InsertRecord(ctx context.Context, record domain.DailyRecord) error
	UpdateRecord(ctx context.Context, record domain.DailyRecord) error
	DeleteRecord(ctx context.Context, id string) error
	ExpenseByID(ctx context.Context, id string) (*domain.BranchExpense, error)
	FindExpense(ctx context.Context, year int, month int, category string, description string) (*domain.BranchExpense, error)
	InsertExpense(ctx context.Context, expense domain.BranchExpense) error
	UpdateExpense(ctx context.Context, expense domain.BranchExpense) error
}

type Repository interface {
	// InBranchTx runs fn in a transaction holding the branch lock. The tray
	// row is created zeroed when missing. Any error from fn rolls back every
	// write made through the BranchTx.
	InBranchTx(ctx context.Context, branch string, fn func(ctx context.Context, tx BranchTx) error) error

	GetDailyRecord(ctx context.Context, id string) (*domain.DailyRecord, error)
	ListDailyRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.DailyRecord, error)
	GetBranchExpense(ctx context.Context, id string) (*domain.BranchExpense, error)
	ListBranchExpenses(ctx context.Context, branch string, year int, month int) ([]domain.BranchExpense, error)
	GetCashTray(ctx context.Context, branch string) (*domain.CashTray, error)
	ListCashTrays(ctx context.Context) ([]domain.CashTray, error)
	// ListBranches returns every branch that owns a daily record or a tray.
	ListBranches(ctx context.Context) ([]string, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branch string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/store"
)

func TestMapErrorTranslatesSQLState(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"23505", store.ErrDuplicate},
		{"23514", store.ErrInvalidInput},
		{"55P03", store.ErrRetryable},
		{"40001", store.ErrRetryable},
		{"40P01", store.ErrRetryable},
	}
	for _, tc := range cases {
		err := mapError(fmt.Errorf("exec: %w", &pgconn.PgError{Code: tc.code}))
		if !errors.Is(err, tc.want) {
			t.Fatalf("code %s: expected %v, got %v", tc.code, tc.want, err)
		}
	}

	plain := errors.New("connection reset")
	if got := mapError(plain); got != plain {
		t.Fatalf("expected unknown errors to pass through, got %v", got)
	}
}

func TestBranchTxCommitAndRollback(t *testing.T) {
	databaseURL := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set LEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	branch := fmt.Sprintf("it-%d", stamp)
	username := fmt.Sprintf("it-user-%d", stamp)
	recordID := fmt.Sprintf("rec-it-%d", stamp)
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM daily_records WHERE branch = $1`, branch)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_trays WHERE branch = $1`, branch)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM app_users WHERE username = $1`, username)
	})

	if err := s.CreateUser(ctx, domain.UserAccount{Username: username, Password: "x", Role: domain.RoleOperator, Branch: branch, Active: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	rec := domain.DailyRecord{
		ID:        recordID,
		Branch:    branch,
		Date:      day,
		CashSales: decimal.NewFromInt(100),
		AltSales:  decimal.NewFromInt(50),
		CreatedBy: username,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	rec.CalculateTotal()

	err = s.InBranchTx(ctx, branch, func(ctx context.Context, tx store.BranchTx) error {
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		tray, err := tx.Tray(ctx)
		if err != nil {
			return err
		}
		tray.Apply(rec.Delta(), 1, time.Now().UTC())
		return tx.SaveTray(ctx, *tray)
	})
	if err != nil {
		t.Fatalf("commit tx: %v", err)
	}

	tray, err := s.GetCashTray(ctx, branch)
	if err != nil {
		t.Fatalf("get tray: %v", err)
	}
	if !tray.Total().Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected tray total 150, got %s", tray.Total())
	}

	boom := errors.New("induced failure")
	err = s.InBranchTx(ctx, branch, func(ctx context.Context, tx store.BranchTx) error {
		tray, _ := tx.Tray(ctx)
		tray.Empty(time.Now().UTC())
		if err := tx.SaveTray(ctx, *tray); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected induced failure, got %v", err)
	}

	tray, _ = s.GetCashTray(ctx, branch)
	if !tray.Total().Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected rollback to keep total 150, got %s", tray.Total())
	}

	err = s.InBranchTx(ctx, branch, func(ctx context.Context, tx store.BranchTx) error {
		dup := rec
		dup.ID = recordID + "-dup"
		return tx.InsertRecord(ctx, dup)
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate branch+date to be rejected, got %v", err)
	}
}

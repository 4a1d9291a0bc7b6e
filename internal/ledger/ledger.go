package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/store"
)

type Options struct {
	Logger zerolog.Logger
	Now    func() time.Time
	// MaxRetries bounds how many times a contended branch transaction is
	// run again before ErrConflict is returned.
	MaxRetries  int
	RetryBase   time.Duration
	Concurrency int
}

// Ledger owns every change to the cash trays. Record and expense mutations
// call its hooks from inside their own branch transaction.
type Ledger struct {
	repo        store.Repository
	log         zerolog.Logger
	now         func() time.Time
	maxRetries  int
	retryBase   time.Duration
	concurrency int
}

func New(repo store.Repository, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 25 * time.Millisecond
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}

	return &Ledger{
		repo:        repo,
		log:         opts.Logger.With().Str("component", "ledger").Logger(),
		now:         opts.Now,
		maxRetries:  opts.MaxRetries,
		retryBase:   opts.RetryBase,
		concurrency: opts.Concurrency,
	}
}

// InBranch runs fn in a branch transaction, retrying with exponential
// backoff while the store reports lock contention.
func (l *Ledger) InBranch(ctx context.Context, branch string, fn func(ctx context.Context, tx store.BranchTx) error) error {
	attempts := 0
	operation := func() error {
		attempts++
		err := l.repo.InBranchTx(ctx, branch, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrRetryable) {
			l.log.Debug().Err(err).Str("branch", branch).Int("attempt", attempts).Msg("branch transaction contended")
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(l.newBackOff(), uint64(l.maxRetries)), ctx)
	err := backoff.Retry(operation, policy)
	if err != nil && errors.Is(err, store.ErrRetryable) {
		return fmt.Errorf("%w: branch %s after %d attempts: %v", ErrConflict, branch, attempts, err)
	}
	return err
}

func (l *Ledger) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.retryBase
	b.MaxInterval = 40 * l.retryBase
	b.MaxElapsedTime = 0
	return b
}

func (l *Ledger) GetOrCreate(ctx context.Context, branch string) (domain.CashTray, error) {
	var tray domain.CashTray
	err := l.InBranch(ctx, branch, func(ctx context.Context, tx store.BranchTx) error {
		current, err := tx.Tray(ctx)
		if err != nil {
			return err
		}
		tray = *current
		return nil
	})
	return tray, err
}

// ApplyDelta adds sign*delta to the locked tray and persists it.
func (l *Ledger) ApplyDelta(ctx context.Context, tx store.BranchTx, delta domain.TrayDelta, sign int) (domain.CashTray, error) {
	tray, err := tx.Tray(ctx)
	if err != nil {
		return domain.CashTray{}, err
	}
	if clamped := tray.Apply(delta, sign, l.now()); len(clamped) > 0 {
		l.log.Warn().
			Str("branch", tx.Branch()).
			Strs("fields", clamped).
			Int("sign", sign).
			Msg("tray balance clamped at zero")
	}
	if err := tx.SaveTray(ctx, *tray); err != nil {
		return domain.CashTray{}, err
	}
	return *tray, nil
}

// Empty zeroes every balance of the locked tray.
func (l *Ledger) Empty(ctx context.Context, tx store.BranchTx) (domain.CashTray, error) {
	tray, err := tx.Tray(ctx)
	if err != nil {
		return domain.CashTray{}, err
	}
	tray.Empty(l.now())
	if err := tx.SaveTray(ctx, *tray); err != nil {
		return domain.CashTray{}, err
	}
	return *tray, nil
}

func (l *Ledger) RecordCreated(ctx context.Context, tx store.BranchTx, rec domain.DailyRecord) (domain.CashTray, error) {
	if rec.IsWithdrawn {
		return l.currentTray(ctx, tx)
	}
	return l.ApplyDelta(ctx, tx, rec.Delta(), 1)
}

// RecordDeleted takes the amounts captured before the row was removed.
func (l *Ledger) RecordDeleted(ctx context.Context, tx store.BranchTx, rec domain.DailyRecord) (domain.CashTray, error) {
	if rec.IsWithdrawn {
		return l.currentTray(ctx, tx)
	}
	return l.ApplyDelta(ctx, tx, rec.Delta(), -1)
}

// RecordEdited rebuilds the tray from scratch instead of diffing fields.
func (l *Ledger) RecordEdited(ctx context.Context, tx store.BranchTx) (domain.CashTray, error) {
	return l.RecomputeTx(ctx, tx)
}

func (l *Ledger) ExpensePosted(ctx context.Context, tx store.BranchTx, amount decimal.Decimal) (domain.CashTray, error) {
	return l.ApplyDelta(ctx, tx, domain.TrayDelta{CashExpense: amount}, 1)
}

func (l *Ledger) ExpenseReversed(ctx context.Context, tx store.BranchTx, amount decimal.Decimal) (domain.CashTray, error) {
	return l.ApplyDelta(ctx, tx, domain.TrayDelta{CashExpense: amount}, -1)
}

func (l *Ledger) currentTray(ctx context.Context, tx store.BranchTx) (domain.CashTray, error) {
	tray, err := tx.Tray(ctx)
	if err != nil {
		return domain.CashTray{}, err
	}
	return *tray, nil
}

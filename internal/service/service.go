package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"branchledger/backend/internal/cache"
	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/ledger"
	"branchledger/backend/internal/store"
	"branchledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Logger zerolog.Logger
	// Location decides which calendar day "today" is.
	Location   *time.Location
	Now        func() time.Time
	SummaryTTL time.Duration
}

type Service struct {
	repo       store.Repository
	ledger     *ledger.Ledger
	summaries  cache.TraySummaryCache
	summaryTTL time.Duration
	loc        *time.Location
	now        func() time.Time
	log        zerolog.Logger
}

func New(repo store.Repository, l *ledger.Ledger, summaries cache.TraySummaryCache, opts Options) *Service {
	if summaries == nil {
		summaries = cache.NoopTraySummaryCache{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 30 * time.Second
	}

	return &Service{
		repo:       repo,
		ledger:     l,
		summaries:  summaries,
		summaryTTL: opts.SummaryTTL,
		loc:        opts.Location,
		now:        opts.Now,
		log:        opts.Logger.With().Str("component", "service").Logger(),
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", ledger.ErrPermission)
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.IsAdmin() {
		return domain.Actor{}, fmt.Errorf("%w: admin role required", ledger.ErrPermission)
	}
	return actor, nil
}

func authorizeBranch(actor domain.Actor, branch string) error {
	if !actor.CanAccessBranch(branch) {
		return fmt.Errorf("%w: no access to branch %s", ledger.ErrPermission, branch)
	}
	return nil
}

// resolveBranch turns user input into a canonical branch key the actor may
// use. Operators default to their own branch.
func resolveBranch(actor domain.Actor, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" && !actor.IsAdmin() {
		raw = actor.Branch
	}
	branch, ok := domain.NormalizeBranch(raw)
	if !ok {
		return "", fmt.Errorf("%w: invalid branch %q", store.ErrInvalidInput, raw)
	}
	if err := authorizeBranch(actor, branch); err != nil {
		return "", err
	}
	return branch, nil
}

// today is the current calendar day in the ledger timezone, as a UTC date.
func (s *Service) today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func parseDay(raw string) (time.Time, error) {
	day, err := time.Parse(domain.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	return day.UTC(), nil
}

// requireAmount accepts non-negative money with at most two decimals; the
// postgres columns are NUMERIC(12,2) and would round anything finer.
func requireAmount(name string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", store.ErrInvalidInput, name)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s must have at most two decimals", store.ErrInvalidInput, name)
	}
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, branch string, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if branch != "" {
		normalized, ok := domain.NormalizeBranch(branch)
		if !ok {
			return nil, fmt.Errorf("%w: invalid branch %q", store.ErrInvalidInput, branch)
		}
		branch = normalized
	}
	if limit < 1 {
		limit = 100
	}

	// the window is [from, to); the default one ends just after now
	now := s.now()
	from, to := now.Add(-24*time.Hour), now.Add(time.Second)
	if strings.TrimSpace(date) != "" {
		day, err := parseDay(date)
		if err != nil {
			return nil, err
		}
		from = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
		to = from.Add(24 * time.Hour)
	}

	return s.repo.ListAuditLogs(ctx, branch, from, to, limit)
}

// RecordDivergence writes the audit trail for a tray the consistency checker
// found out of step with its records.
func (s *Service) RecordDivergence(ctx context.Context, cerr *ledger.ConsistencyError) {
	d := cerr.Divergence
	s.logAudit(ctx, d.Branch, "tray_divergence", "cash_tray", d.Branch, fmt.Sprintf(
		"fields=%s,stored_cash=%s,expected_cash=%s,stored_cash_expense=%s,expected_cash_expense=%s",
		strings.Join(d.Fields, "|"),
		d.Stored.Cash.StringFixed(2), d.Expected.Cash.StringFixed(2),
		d.Stored.CashExpense.StringFixed(2), d.Expected.CashExpense.StringFixed(2),
	))
}

func (s *Service) logAudit(ctx context.Context, branch string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		Branch:        branch,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.log.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}

// invalidateSummary drops the cached cross-branch summary after any tray
// mutation. A cache failure only costs freshness until the TTL expires.
func (s *Service) invalidateSummary(ctx context.Context) {
	if err := s.summaries.Invalidate(ctx, cache.SummaryKey); err != nil {
		s.log.Warn().Err(err).Msg("failed to invalidate tray summary cache")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"branchledger/backend/internal/domain"
)

// Checker periodically recomputes every tray in memory and compares it with
// the stored balances. Divergences are reported, never corrected.
type Checker struct {
	ledger       *Ledger
	interval     time.Duration
	log          zerolog.Logger
	onDivergence func(ctx context.Context, err *ConsistencyError)
}

func NewChecker(l *Ledger, interval time.Duration, onDivergence func(ctx context.Context, err *ConsistencyError)) *Checker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Checker{
		ledger:       l,
		interval:     interval,
		log:          l.log.With().Str("component", "consistency-checker").Logger(),
		onDivergence: onDivergence,
	}
}

// Run blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log.Info().Dur("interval", c.interval).Msg("consistency checker started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("consistency checker stopped")
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

func (c *Checker) RunOnce(ctx context.Context) domain.ConsistencyReport {
	report, err := c.ledger.CheckAll(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("consistency check failed")
		return report
	}

	for branch, msg := range report.Errors {
		c.log.Error().Str("branch", branch).Str("error", msg).Msg("consistency check could not read branch")
	}
	for _, divergence := range report.Divergent {
		cerr := &ConsistencyError{Divergence: divergence}
		c.log.Error().
			Err(cerr).
			Str("branch", divergence.Branch).
			Strs("fields", divergence.Fields).
			Msg("cash tray diverges from records")
		if c.onDivergence != nil {
			c.onDivergence(ctx, cerr)
		}
	}
	if len(report.Divergent) == 0 && len(report.Errors) == 0 {
		c.log.Debug().Int("branches", report.CheckedBranches).Msg("all trays consistent")
	}
	return report
}

package ledger

import (
	"errors"
	"fmt"
	"strings"

	"branchledger/backend/internal/domain"
)

var (
	ErrPermission   = errors.New("permission denied")
	ErrPrecondition = errors.New("precondition failed")
	// ErrConflict is returned when a branch stayed locked by concurrent
	// writers for every retry attempt.
	ErrConflict = errors.New("branch is busy, try again")
)

// ConsistencyError reports a tray whose stored balances no longer match the
// sum of the branch's non-withdrawn records.
type ConsistencyError struct {
	Divergence domain.TrayDivergence
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("tray %s diverges from its records on %s", e.Divergence.Branch, strings.Join(e.Divergence.Fields, ","))
}

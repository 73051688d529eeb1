// Package staging implements the IFRS9 stage transition state machine.
package staging

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlaslending/provisioning/internal/shared"
)

// StageCode is the credit-deterioration bucket of a case.
type StageCode string

const (
	Stage1 StageCode = "STAGE_1"
	Stage2 StageCode = "STAGE_2"
	Stage3 StageCode = "STAGE_3"
	// POCI cases are purchased or originated credit-impaired. The stage is
	// terminal: nothing transitions into or out of it after case creation.
	POCI StageCode = "POCI"
)

// ParseStageCode validates a stage code string.
func ParseStageCode(s string) (StageCode, error) {
	switch StageCode(s) {
	case Stage1, Stage2, Stage3, POCI:
		return StageCode(s), nil
	}
	return "", fmt.Errorf("%w: unknown stage code %q", shared.ErrInvalidTransition, s)
}

// Transition is an accepted stage move. The engine only returns the record;
// the coordinator persists it atomically with the case update.
type Transition struct {
	OldStage    StageCode
	NewStage    StageCode
	ECLAtChange decimal.Decimal
	Reason      string
	ChangedBy   string
	ChangedAt   time.Time
}

// ProposeTransition applies the transition rules:
//
//   - any move from POCI fails; so does a move into POCI, which exists only
//     at origination
//   - a move to the current stage is an idempotent no-op: success, nil
//     transition, no history row
//   - every STAGE_1/STAGE_2/STAGE_3 move in either direction is allowed
//     (deterioration or cure) as long as a reason is given
func ProposeTransition(current, next StageCode, eclAmount decimal.Decimal, reason, actor string, at time.Time) (*Transition, error) {
	if _, err := ParseStageCode(string(current)); err != nil {
		return nil, err
	}
	if _, err := ParseStageCode(string(next)); err != nil {
		return nil, err
	}
	if current == next {
		return nil, nil
	}
	if current == POCI {
		return nil, fmt.Errorf("%w: %s is terminal", shared.ErrInvalidTransition, POCI)
	}
	if next == POCI {
		return nil, fmt.Errorf("%w: cannot move into %s after origination", shared.ErrInvalidTransition, POCI)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: reason required for %s -> %s", shared.ErrInvalidTransition, current, next)
	}
	return &Transition{
		OldStage:    current,
		NewStage:    next,
		ECLAtChange: eclAmount,
		Reason:      reason,
		ChangedBy:   actor,
		ChangedAt:   at.UTC(),
	}, nil
}

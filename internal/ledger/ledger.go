package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlaslending/provisioning/internal/shared"
)

// PostDelta produces the single non-reversal posting for a calculation:
// the delta between its final ECL and the case's previously posted ECL.
//
// A zero delta fails with the zero-delta sentinel, which callers treat as
// "nothing to post". A calculation that already has a live posting fails
// with the duplicate-posting sentinel; the correction path is a reversal
// plus a new calculation, never a second posting.
//
// The function is pure: existing is the case's journal as read inside the
// unit of work, and the returned entry is persisted by the coordinator.
func PostDelta(calcID uuid.UUID, finalECL, previousPostedECL decimal.Decimal, existing []JournalEntry, now time.Time) (JournalEntry, error) {
	if HasLivePosting(existing, calcID) {
		return JournalEntry{}, fmt.Errorf("%w: calculation %s", shared.ErrDuplicatePosting, calcID)
	}
	delta := finalECL.Sub(previousPostedECL)
	if delta.IsZero() {
		return JournalEntry{}, shared.ErrZeroDelta
	}
	return JournalEntry{
		ID:            uuid.New(),
		CalculationID: calcID,
		Amount:        delta,
		PostedAt:      now.UTC(),
		Description:   deltaDescription(delta, previousPostedECL, finalECL),
		IsReversal:    false,
	}, nil
}

// Reverse produces the negated entry cancelling a prior posting. The original
// entry is never edited. Reversing a reversal, or a posting that already has
// one, fails with the already-reversed sentinel.
func Reverse(entry JournalEntry, existing []JournalEntry, now time.Time) (JournalEntry, error) {
	if entry.IsReversal {
		return JournalEntry{}, fmt.Errorf("%w: entry %s is a reversal", shared.ErrAlreadyReversed, entry.ID)
	}
	for _, e := range existing {
		if e.IsReversal && e.ReversedEntryID != nil && *e.ReversedEntryID == entry.ID {
			return JournalEntry{}, fmt.Errorf("%w: entry %s", shared.ErrAlreadyReversed, entry.ID)
		}
	}
	reversedID := entry.ID
	return JournalEntry{
		ID:              uuid.New(),
		CalculationID:   entry.CalculationID,
		Amount:          entry.Amount.Neg(),
		PostedAt:        now.UTC(),
		Description:     fmt.Sprintf("Reversal of posting %s (%s)", entry.ID, FormatAmount(entry.Amount.Neg())),
		IsReversal:      true,
		ReversedEntryID: &reversedID,
	}, nil
}

func deltaDescription(delta, from, to decimal.Decimal) string {
	direction := "increase"
	if delta.IsNegative() {
		direction = "release"
	}
	return fmt.Sprintf("Provision %s of %s (posted ECL %s -> %s)",
		direction, FormatAmount(delta.Abs()), FormatAmount(from), FormatAmount(to))
}

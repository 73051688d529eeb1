// Package ledger reconciles calculation results into journal postings.
// Postings are append-only; reversal is the only correction path.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalEntry records one change in provision amount for a calculation,
// paired with a reference into the external accounting system.
type JournalEntry struct {
	ID                uuid.UUID
	CalculationID     uuid.UUID
	AccountingEntryID uuid.UUID
	Amount            decimal.Decimal
	PostedAt          time.Time
	Description       string
	IsReversal        bool
	ReversedEntryID   *uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NetPosted sums the provision change across entries, reversals included.
// For a single calculation's entries the result is either zero (fully
// reversed) or the original posted delta.
func NetPosted(entries []JournalEntry) decimal.Decimal {
	net := decimal.Zero
	for _, e := range entries {
		net = net.Add(e.Amount)
	}
	return net
}

// livePosting returns the non-reversal entry for calcID that has not been
// cancelled by a reversal, if any.
func livePosting(entries []JournalEntry, calcID uuid.UUID) *JournalEntry {
	reversed := make(map[uuid.UUID]bool)
	for _, e := range entries {
		if e.IsReversal && e.ReversedEntryID != nil {
			reversed[*e.ReversedEntryID] = true
		}
	}
	for i := range entries {
		e := entries[i]
		if e.CalculationID == calcID && !e.IsReversal && !reversed[e.ID] {
			return &entries[i]
		}
	}
	return nil
}

// HasLivePosting reports whether calcID already carries an unreversed posting.
func HasLivePosting(entries []JournalEntry, calcID uuid.UUID) bool {
	return livePosting(entries, calcID) != nil
}

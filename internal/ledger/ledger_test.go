package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlaslending/provisioning/internal/shared"
)

var postingTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPostDeltaFirstPosting(t *testing.T) {
	calcID := uuid.New()

	entry, err := PostDelta(calcID, dec("225.00"), decimal.Zero, nil, postingTime)
	require.NoError(t, err)
	require.Equal(t, calcID, entry.CalculationID)
	require.True(t, entry.Amount.Equal(dec("225.00")))
	require.False(t, entry.IsReversal)
	require.Nil(t, entry.ReversedEntryID)
	require.Contains(t, entry.Description, "increase")
}

func TestPostDeltaSubsequentCalculationPostsOnlyTheDelta(t *testing.T) {
	firstCalc := uuid.New()
	first, err := PostDelta(firstCalc, dec("225.00"), decimal.Zero, nil, postingTime)
	require.NoError(t, err)

	journal := []JournalEntry{first}
	second, err := PostDelta(uuid.New(), dec("500.00"), NetPosted(journal), journal, postingTime)
	require.NoError(t, err)
	require.True(t, second.Amount.Equal(dec("275.00")))

	journal = append(journal, second)
	require.True(t, NetPosted(journal).Equal(dec("500.00")))
}

func TestPostDeltaRelease(t *testing.T) {
	firstCalc := uuid.New()
	first, err := PostDelta(firstCalc, dec("500.00"), decimal.Zero, nil, postingTime)
	require.NoError(t, err)

	journal := []JournalEntry{first}
	release, err := PostDelta(uuid.New(), dec("225.00"), NetPosted(journal), journal, postingTime)
	require.NoError(t, err)
	require.True(t, release.Amount.Equal(dec("-275.00")))
	require.Contains(t, release.Description, "release")
}

func TestPostDeltaZeroDelta(t *testing.T) {
	_, err := PostDelta(uuid.New(), dec("225.00"), dec("225.00"), nil, postingTime)
	require.ErrorIs(t, err, shared.ErrZeroDelta)
}

func TestPostDeltaAtMostOncePerCalculation(t *testing.T) {
	calcID := uuid.New()
	first, err := PostDelta(calcID, dec("225.00"), decimal.Zero, nil, postingTime)
	require.NoError(t, err)

	_, err = PostDelta(calcID, dec("300.00"), dec("225.00"), []JournalEntry{first}, postingTime)
	require.ErrorIs(t, err, shared.ErrDuplicatePosting)
}

func TestPostDeltaAllowedAgainAfterReversal(t *testing.T) {
	calcID := uuid.New()
	first, err := PostDelta(calcID, dec("225.00"), decimal.Zero, nil, postingTime)
	require.NoError(t, err)
	reversal, err := Reverse(first, []JournalEntry{first}, postingTime)
	require.NoError(t, err)

	journal := []JournalEntry{first, reversal}
	require.False(t, HasLivePosting(journal, calcID))

	again, err := PostDelta(calcID, dec("225.00"), NetPosted(journal), journal, postingTime)
	require.NoError(t, err)
	require.True(t, again.Amount.Equal(dec("225.00")))
}

func TestReverseConservation(t *testing.T) {
	calcID := uuid.New()
	posting, err := PostDelta(calcID, dec("225.00"), decimal.Zero, nil, postingTime)
	require.NoError(t, err)

	reversal, err := Reverse(posting, []JournalEntry{posting}, postingTime)
	require.NoError(t, err)
	require.True(t, reversal.IsReversal)
	require.NotNil(t, reversal.ReversedEntryID)
	require.Equal(t, posting.ID, *reversal.ReversedEntryID)
	require.True(t, reversal.Amount.Equal(dec("-225.00")))
	require.True(t, NetPosted([]JournalEntry{posting, reversal}).IsZero())
}

func TestReverseTwiceRejected(t *testing.T) {
	posting, err := PostDelta(uuid.New(), dec("225.00"), decimal.Zero, nil, postingTime)
	require.NoError(t, err)
	reversal, err := Reverse(posting, []JournalEntry{posting}, postingTime)
	require.NoError(t, err)

	_, err = Reverse(posting, []JournalEntry{posting, reversal}, postingTime)
	require.ErrorIs(t, err, shared.ErrAlreadyReversed)
}

func TestReverseAReversalRejected(t *testing.T) {
	posting, err := PostDelta(uuid.New(), dec("225.00"), decimal.Zero, nil, postingTime)
	require.NoError(t, err)
	reversal, err := Reverse(posting, []JournalEntry{posting}, postingTime)
	require.NoError(t, err)

	_, err = Reverse(reversal, []JournalEntry{posting, reversal}, postingTime)
	require.ErrorIs(t, err, shared.ErrAlreadyReversed)
}

func TestFormatAmountGroupsThousands(t *testing.T) {
	require.Equal(t, "12,500.25", FormatAmount(dec("12500.25")))
	require.Equal(t, "0.00", FormatAmount(decimal.Zero))
	require.Equal(t, "-275.00", FormatAmount(dec("-275")))
}

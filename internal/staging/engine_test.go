package staging

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlaslending/provisioning/internal/shared"
)

var testECL = decimal.RequireFromString("225.00")

func TestProposeTransitionBetweenRegularStages(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	pairs := []struct{ from, to StageCode }{
		{Stage1, Stage2},
		{Stage2, Stage3},
		{Stage1, Stage3},
		{Stage3, Stage2},
		{Stage2, Stage1},
		{Stage3, Stage1},
	}
	for _, p := range pairs {
		transition, err := ProposeTransition(p.from, p.to, testECL, "30 days past due", "analyst", at)
		require.NoError(t, err)
		require.NotNil(t, transition)
		require.Equal(t, p.from, transition.OldStage)
		require.Equal(t, p.to, transition.NewStage)
		require.True(t, transition.ECLAtChange.Equal(testECL))
		require.Equal(t, at, transition.ChangedAt)
	}
}

func TestProposeTransitionSameStageIsNoOp(t *testing.T) {
	for _, stage := range []StageCode{Stage1, Stage2, Stage3, POCI} {
		transition, err := ProposeTransition(stage, stage, testECL, "", "analyst", time.Now())
		require.NoError(t, err)
		require.Nil(t, transition)
	}
}

func TestProposeTransitionPOCIIsTerminal(t *testing.T) {
	for _, next := range []StageCode{Stage1, Stage2, Stage3} {
		_, err := ProposeTransition(POCI, next, testECL, "cure attempt", "analyst", time.Now())
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
	}
}

func TestProposeTransitionIntoPOCIRejected(t *testing.T) {
	for _, current := range []StageCode{Stage1, Stage2, Stage3} {
		_, err := ProposeTransition(current, POCI, testECL, "impaired purchase", "analyst", time.Now())
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
	}
}

func TestProposeTransitionRequiresReason(t *testing.T) {
	_, err := ProposeTransition(Stage1, Stage2, testECL, "", "analyst", time.Now())
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestProposeTransitionRejectsUnknownStage(t *testing.T) {
	_, err := ProposeTransition(StageCode("STAGE_4"), Stage1, testECL, "typo", "analyst", time.Now())
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = ProposeTransition(Stage1, StageCode(""), testECL, "typo", "analyst", time.Now())
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

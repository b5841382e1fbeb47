package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState(t *testing.T) {
	st := NewState("sess-1", "demo-project")

	assert.Equal(t, "sess-1", st.SessionID)
	assert.Equal(t, "demo-project", st.Target)
	assert.Equal(t, PhaseDiscover, st.CurrentPhase)
	assert.Equal(t, StatusPending, st.Status)
	assert.False(t, st.Terminal())
	assert.Empty(t, st.CompletedPhases)
}

func TestBegin(t *testing.T) {
	t.Run("marks pending phase in progress", func(t *testing.T) {
		st := NewState("s", "t")
		require.NoError(t, st.Begin(PhaseDiscover))
		assert.Equal(t, StatusInProgress, st.Status)
	})

	t.Run("idempotent while in progress", func(t *testing.T) {
		st := NewState("s", "t")
		require.NoError(t, st.Begin(PhaseDiscover))
		require.NoError(t, st.Begin(PhaseDiscover))
		assert.Equal(t, StatusInProgress, st.Status)
	})

	t.Run("rejects wrong phase without mutation", func(t *testing.T) {
		st := NewState("s", "t")
		err := st.Begin(PhaseApply)

		var seqErr *PhaseSequenceError
		require.ErrorAs(t, err, &seqErr)
		assert.Equal(t, PhaseApply, seqErr.Requested)
		assert.Equal(t, PhaseDiscover, seqErr.Current)
		assert.Equal(t, StatusPending, st.Status, "rejected evidence must not mutate state")
	})
}

// passPhase drives one phase from pending to passed.
func passPhase(t *testing.T, st *WorkflowState, phase Phase) {
	t.Helper()
	require.NoError(t, st.Begin(phase))
	_, err := st.ApplyVerdict(StatusPassed, PhaseRule{RetryBudget: 1})
	require.NoError(t, err)
}

func TestFullLifecycle(t *testing.T) {
	st := NewState("s", "t")

	for _, phase := range AllPhases() {
		assert.Equal(t, phase, st.CurrentPhase)
		passPhase(t, st, phase)
	}

	assert.True(t, st.Terminal())
	assert.Equal(t, StatusPassed, st.Status)
	assert.Equal(t, PhaseFinalize, st.CurrentPhase)
	assert.Equal(t, AllPhases(), st.CompletedPhases)
}

func TestRetryBudget(t *testing.T) {
	t.Run("failure within budget stays in progress", func(t *testing.T) {
		st := NewState("s", "t")
		require.NoError(t, st.Begin(PhaseDiscover))

		status, err := st.ApplyVerdict(StatusFailed, PhaseRule{RetryBudget: 1})
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, status)
		assert.Equal(t, 1, st.Attempts[PhaseDiscover])
		assert.False(t, st.Terminal())
	})

	t.Run("exhausted budget fails terminally", func(t *testing.T) {
		st := NewState("s", "t")
		require.NoError(t, st.Begin(PhaseDiscover))

		_, err := st.ApplyVerdict(StatusFailed, PhaseRule{RetryBudget: 1})
		require.NoError(t, err)
		require.NoError(t, st.Begin(PhaseDiscover), "retry submission is allowed")

		status, err := st.ApplyVerdict(StatusFailed, PhaseRule{RetryBudget: 1})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, status)
		assert.True(t, st.Terminal())
		assert.Equal(t, 2, st.Attempts[PhaseDiscover])
	})

	t.Run("terminal session rejects further evidence", func(t *testing.T) {
		st := NewState("s", "t")
		require.NoError(t, st.Begin(PhaseDiscover))
		_, err := st.ApplyVerdict(StatusFailed, PhaseRule{RetryBudget: 0})
		require.NoError(t, err)
		require.True(t, st.Terminal())

		assert.ErrorIs(t, st.Begin(PhaseDiscover), ErrSessionTerminal)
	})
}

func TestPhaseMonotonicity(t *testing.T) {
	st := NewState("s", "t")
	seen := []Phase{st.CurrentPhase}

	passPhase(t, st, PhaseDiscover)
	seen = append(seen, st.CurrentPhase)
	passPhase(t, st, PhaseSnapshot)
	seen = append(seen, st.CurrentPhase)

	require.NoError(t, st.Begin(PhaseApply))
	_, err := st.ApplyVerdict(StatusFailed, PhaseRule{RetryBudget: 2})
	require.NoError(t, err)
	seen = append(seen, st.CurrentPhase)

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, int(seen[i]), int(seen[i-1]),
			"phase index must never decrease without rollback")
	}
}

func TestSkip(t *testing.T) {
	t.Run("optional phase skips and advances", func(t *testing.T) {
		st := NewState("s", "t")
		require.NoError(t, st.Skip(PhaseDiscover, PhaseRule{Optional: true}))
		assert.Equal(t, PhaseSnapshot, st.CurrentPhase)
		assert.Equal(t, StatusPending, st.Status)
		assert.NotContains(t, st.CompletedPhases, PhaseDiscover)
	})

	t.Run("required phase cannot be skipped", func(t *testing.T) {
		st := NewState("s", "t")
		var invErr *InvalidTransitionError
		assert.ErrorAs(t, st.Skip(PhaseDiscover, PhaseRule{Optional: false}), &invErr)
		assert.Equal(t, StatusPending, st.Status)
	})

	t.Run("in-progress phase cannot be skipped", func(t *testing.T) {
		st := NewState("s", "t")
		require.NoError(t, st.Begin(PhaseDiscover))
		var invErr *InvalidTransitionError
		assert.ErrorAs(t, st.Skip(PhaseDiscover, PhaseRule{Optional: true}), &invErr)
	})

	t.Run("skipping the final phase completes the session", func(t *testing.T) {
		st := NewState("s", "t")
		for _, phase := range AllPhases()[:5] {
			passPhase(t, st, phase)
		}
		require.NoError(t, st.Skip(PhaseFinalize, PhaseRule{Optional: true}))
		assert.True(t, st.Terminal())
		assert.Equal(t, StatusPassed, st.Status)
	})
}

func TestMarkRolledBack(t *testing.T) {
	st := NewState("s", "t")
	passPhase(t, st, PhaseDiscover)
	passPhase(t, st, PhaseSnapshot)

	require.NoError(t, st.MarkRolledBack("verify failed twice"))

	assert.True(t, st.RolledBack)
	assert.True(t, st.Terminal())
	assert.Equal(t, StatusRolledBack, st.Status)
	assert.Equal(t, PhaseDiscover, st.CurrentPhase, "rollback resets phase index")

	assert.ErrorIs(t, st.MarkRolledBack("again"), ErrSessionTerminal)
}

func TestMarkRolledBackFromFailed(t *testing.T) {
	st := NewState("s", "t")
	require.NoError(t, st.Begin(PhaseDiscover))
	_, err := st.ApplyVerdict(StatusFailed, PhaseRule{RetryBudget: 0})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, st.Status)

	require.NoError(t, st.MarkRolledBack("recover from failure"))
	assert.Equal(t, StatusRolledBack, st.Status)
	assert.True(t, st.RolledBack)
}

func TestRollbackAllowed(t *testing.T) {
	t.Run("pending and in-progress sessions may roll back", func(t *testing.T) {
		st := NewState("s", "t")
		assert.True(t, st.RollbackAllowed())

		require.NoError(t, st.Begin(PhaseDiscover))
		assert.True(t, st.RollbackAllowed())
	})

	t.Run("failed session may roll back", func(t *testing.T) {
		st := NewState("s", "t")
		require.NoError(t, st.Begin(PhaseDiscover))
		_, err := st.ApplyVerdict(StatusFailed, PhaseRule{RetryBudget: 0})
		require.NoError(t, err)
		require.True(t, st.Terminal())

		assert.True(t, st.RollbackAllowed(), "retry exhaustion is the rollback case")
	})

	t.Run("rolled back session may not", func(t *testing.T) {
		st := NewState("s", "t")
		require.NoError(t, st.MarkRolledBack("done"))
		assert.False(t, st.RollbackAllowed())
	})

	t.Run("completed session may not", func(t *testing.T) {
		st := NewState("s", "t")
		for _, phase := range AllPhases() {
			passPhase(t, st, phase)
		}
		assert.False(t, st.RollbackAllowed())
	})
}

func TestGateDoesNotMutate(t *testing.T) {
	st := NewState("s", "t")

	require.NoError(t, st.Gate(PhaseDiscover))
	assert.Equal(t, StatusPending, st.Status, "gate is a pure precondition check")
	assert.Empty(t, st.Transitions)

	var seqErr *PhaseSequenceError
	assert.ErrorAs(t, st.Gate(PhaseBuild), &seqErr)
	assert.Empty(t, st.Transitions)
}

func TestTransitionAudit(t *testing.T) {
	st := NewState("s", "t")
	passPhase(t, st, PhaseDiscover)

	require.NotEmpty(t, st.Transitions)
	first := st.Transitions[0]
	assert.Equal(t, StatusPending, first.From)
	assert.Equal(t, StatusInProgress, first.To)

	// Every transition chains from the previous one's target status,
	// except across phase boundaries where the phase index moves.
	for i := 1; i < len(st.Transitions); i++ {
		assert.Equal(t, st.Transitions[i-1].To, st.Transitions[i].From)
	}
}

func TestRecordHistory(t *testing.T) {
	st := NewState("s", "t")
	st.RecordCommands(CommandExecution{Command: "npm install", ExitCode: 0})
	st.RecordCommands(CommandExecution{Command: "npm test", ExitCode: 1})
	st.RecordArtifacts(PhaseDiscover, PhaseArtifact{Name: "dependency-graph", Phase: PhaseDiscover})

	assert.Len(t, st.History, 2)
	assert.Len(t, st.Artifacts[PhaseDiscover], 1)
}

func TestVerdictRequiresInProgress(t *testing.T) {
	st := NewState("s", "t")
	_, err := st.ApplyVerdict(StatusPassed, PhaseRule{})

	var invErr *InvalidTransitionError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, StatusPending, invErr.Status)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "discover", PhaseDiscover.String())
	assert.Equal(t, "finalize", PhaseFinalize.String())
	assert.Equal(t, "unknown", Phase(9).String())
	assert.False(t, Phase(9).Valid())
	assert.True(t, errors.Is(ErrSessionTerminal, ErrSessionTerminal))
}

package jobstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/orcherr"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	registry, err := config.Init("")
	require.NoError(t, err)
	t.Cleanup(config.Teardown)
	return New(registry, nil)
}

func TestCreateAndGet(t *testing.T) {
	s := testStore(t)
	s.Create("job_1", "")
	j, err := s.Get("job_1")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, j.Status)
}

func TestLegalTransitionSequence(t *testing.T) {
	s := testStore(t)
	s.Create("job_1", "")
	_, err := s.Transition("job_1", model.JobRunning, "started")
	require.NoError(t, err)
	_, err = s.Transition("job_1", model.JobPaused, "paused")
	require.NoError(t, err)
	_, err = s.Transition("job_1", model.JobRunning, "resumed")
	require.NoError(t, err)
	_, err = s.Transition("job_1", model.JobCompleted, "done")
	require.NoError(t, err)

	j, _ := s.Get("job_1")
	assert.Equal(t, model.JobCompleted, j.Status)
	assert.NotNil(t, j.CompletedAt)
}

func TestIllegalTransitionRejected(t *testing.T) {
	s := testStore(t)
	s.Create("job_1", "")
	_, err := s.Transition("job_1", model.JobCompleted, "skip ahead")
	require.Error(t, err)
	assert.True(t, orcherr.IsKind(err, orcherr.KindState))
}

func TestTerminalJobRejectsFurtherTransitions(t *testing.T) {
	s := testStore(t)
	s.Create("job_1", "")
	_, err := s.Transition("job_1", model.JobRunning, "")
	require.NoError(t, err)
	_, err = s.Transition("job_1", model.JobCancelled, "")
	require.NoError(t, err)

	_, err = s.Transition("job_1", model.JobRunning, "")
	require.Error(t, err)
}

func TestProgressMonotonicityInvariant(t *testing.T) {
	s := testStore(t)
	s.Create("job_1", "")
	require.NoError(t, s.SetProgress("job_1", 50))
	err := s.SetProgress("job_1", 100)
	require.Error(t, err) // status is still pending, not completed

	_, err = s.Transition("job_1", model.JobRunning, "")
	require.NoError(t, err)
	_, err = s.Transition("job_1", model.JobCompleted, "")
	require.NoError(t, err)
	require.NoError(t, s.SetProgress("job_1", 100))
}

func TestProgressCannotDecrease(t *testing.T) {
	s := testStore(t)
	s.Create("job_1", "")
	require.NoError(t, s.SetProgress("job_1", 50))
	err := s.SetProgress("job_1", 10)
	require.Error(t, err)
}

func TestTransitionLogIsAppendOnly(t *testing.T) {
	s := testStore(t)
	s.Create("job_1", "")
	_, _ = s.Transition("job_1", model.JobRunning, "started")
	_, _ = s.Transition("job_1", model.JobCompleted, "done")

	log := s.TransitionLog("job_1")
	require.Len(t, log, 2)
	assert.Equal(t, model.JobPending, log[0].From)
	assert.Equal(t, model.JobRunning, log[0].To)
	assert.Equal(t, model.JobCompleted, log[1].To)
}

func TestPruneRemovesOldTerminalJobs(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	s.clock = func() time.Time { return now }
	s.Create("job_old", "")
	_, _ = s.Transition("job_old", model.JobRunning, "")
	_, _ = s.Transition("job_old", model.JobCompleted, "")

	s.clock = func() time.Time { return now.Add(48 * time.Hour) }
	s.prune()

	_, err := s.Get("job_old")
	require.Error(t, err)
}

func TestPruneKeepsRecentAndNonTerminalJobs(t *testing.T) {
	s := testStore(t)
	s.Create("job_pending", "")
	s.prune()
	_, err := s.Get("job_pending")
	require.NoError(t, err)
}

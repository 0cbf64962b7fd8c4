package scheduler

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	name string
	err  error
	runs int
}

func (j *fakeJob) Name() string { return j.name }

func (j *fakeJob) Run() error {
	j.runs++
	return j.err
}

func TestAddJobRegistersStatusRow(t *testing.T) {
	s := New(zerolog.Nop())

	require.NoError(t, s.AddJob("@every 1h", &fakeJob{name: "store_cleanup"}))

	statuses := s.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "store_cleanup", statuses[0].Name)
	assert.Equal(t, "@every 1h", statuses[0].Schedule)
	assert.Zero(t, statuses[0].RunCount)
}

func TestAddJobRejectsDuplicateName(t *testing.T) {
	s := New(zerolog.Nop())

	require.NoError(t, s.AddJob("@every 1h", &fakeJob{name: "store_cleanup"}))
	err := s.AddJob("@every 2h", &fakeJob{name: "store_cleanup"})
	require.Error(t, err)

	assert.Len(t, s.Statuses(), 1)
}

func TestAddJobInvalidScheduleLeavesNoStatusRow(t *testing.T) {
	s := New(zerolog.Nop())

	err := s.AddJob("not a schedule", &fakeJob{name: "store_cleanup"})
	require.Error(t, err)
	assert.Empty(t, s.Statuses())
}

func TestRunNowRecordsSuccessfulRun(t *testing.T) {
	s := New(zerolog.Nop())
	job := &fakeJob{name: "store_backup"}
	require.NoError(t, s.AddJob("@every 1h", job))

	require.NoError(t, s.RunNow(job))

	statuses := s.Statuses()
	require.Len(t, statuses, 1)
	assert.EqualValues(t, 1, statuses[0].RunCount)
	assert.False(t, statuses[0].LastRun.IsZero())
	assert.Empty(t, statuses[0].LastError)
	assert.Equal(t, 1, job.runs)
}

func TestRunNowRecordsFailureAndClearsOnRecovery(t *testing.T) {
	s := New(zerolog.Nop())
	job := &fakeJob{name: "store_backup", err: errors.New("bucket unreachable")}
	require.NoError(t, s.AddJob("@every 1h", job))

	require.Error(t, s.RunNow(job))
	statuses := s.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "bucket unreachable", statuses[0].LastError)

	job.err = nil
	require.NoError(t, s.RunNow(job))
	statuses = s.Statuses()
	assert.Empty(t, statuses[0].LastError, "a successful run clears the last error")
	assert.EqualValues(t, 2, statuses[0].RunCount)
}

func TestRunNowOnUnregisteredJobStillRecords(t *testing.T) {
	s := New(zerolog.Nop())
	job := &fakeJob{name: "one_off"}

	require.NoError(t, s.RunNow(job))

	statuses := s.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "one_off", statuses[0].Name)
	assert.Empty(t, statuses[0].Schedule)
}

func TestStatusesOrderedByName(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.AddJob("@every 1h", &fakeJob{name: "store_cleanup"}))
	require.NoError(t, s.AddJob("@every 1h", &fakeJob{name: "store_backup"}))

	statuses := s.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "store_backup", statuses[0].Name)
	assert.Equal(t, "store_cleanup", statuses[1].Name)
}

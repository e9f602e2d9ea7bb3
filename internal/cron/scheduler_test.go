package cron

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xPuncker/pos-scheduler/internal/registry"
	"github.com/0xPuncker/pos-scheduler/internal/store"
	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store     *store.Store
	scheduler *Scheduler
	tasks     *TaskTable
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newHarness(t *testing.T, seeds []types.JobSeed, register func(*TaskTable), opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.SeedJobs(ctx, seeds)
	require.NoError(t, err)

	tasks := NewTaskTable()
	if register != nil {
		register(tasks)
	}

	logger := quietLogger()
	s := NewScheduler(registry.New(st, logger), st, tasks, logger, opts...)
	require.NoError(t, s.Initialize(ctx))

	return &harness{store: st, scheduler: s, tasks: tasks}
}

func seed(name, schedule string, enabled bool) types.JobSeed {
	return types.JobSeed{Name: name, Description: name, TableName: "products", Schedule: schedule, Enabled: enabled}
}

func succeed(records int64) WorkFunc {
	return func(ctx context.Context, job types.JobDefinition) (int64, error) {
		return records, nil
	}
}

func fail(msg string) WorkFunc {
	return func(ctx context.Context, job types.JobDefinition) (int64, error) {
		return 0, errors.New(msg)
	}
}

func (h *harness) job(t *testing.T, name string) types.JobDefinition {
	t.Helper()
	job, err := h.store.GetJobByName(context.Background(), name)
	require.NoError(t, err)
	return *job
}

func (h *harness) logsFor(t *testing.T, jobID int64) []types.JobExecutionLog {
	t.Helper()
	logs, err := h.store.ListLogs(context.Background(), types.LogQuery{JobID: jobID})
	require.NoError(t, err)
	return logs
}

func (h *harness) status(t *testing.T, name string) types.JobWithStatus {
	t.Helper()
	status, err := h.scheduler.GetJob(context.Background(), name)
	require.NoError(t, err)
	return *status
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  int
	finished map[types.JobStatus]int
	rejected map[string]int
	gauge    int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{finished: map[types.JobStatus]int{}, rejected: map[string]int{}}
}

func (r *fakeRecorder) RunStarted(string, types.Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *fakeRecorder) RunFinished(_ string, status types.JobStatus, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[status]++
}

func (r *fakeRecorder) RunRejected(_ string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[reason]++
}

func (r *fakeRecorder) SetScheduled(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauge = count
}

type fakeNotifier struct {
	failures chan types.RunOutcome
}

func (n *fakeNotifier) JobFailed(ctx context.Context, job types.JobDefinition, outcome types.RunOutcome) error {
	n.failures <- outcome
	return nil
}

func TestTaskTableRegister(t *testing.T) {
	tasks := NewTaskTable()
	require.NoError(t, tasks.Register("daily-sales", succeed(1)))
	assert.Error(t, tasks.Register("daily-sales", succeed(2)))
	assert.Error(t, tasks.Register("", succeed(1)))
	assert.Error(t, tasks.Register("nil-task", nil))

	_, ok := tasks.Lookup("daily-sales")
	assert.True(t, ok)
	_, ok = tasks.Lookup("missing")
	assert.False(t, ok)

	require.NoError(t, tasks.Register("analyze", succeed(0)))
	assert.Equal(t, []string{"analyze", "daily-sales"}, tasks.Names())
	assert.Panics(t, func() { tasks.MustRegister("analyze", succeed(0)) })
}

func TestInitializeRegistersEnabledJobs(t *testing.T) {
	h := newHarness(t,
		[]types.JobSeed{
			seed("daily-sales", "0 6 * * *", true),
			seed("legacy-export", "0 1 * * *", false),
			seed("no-task", "*/5 * * * *", true),
		},
		func(tasks *TaskTable) {
			tasks.MustRegister("daily-sales", succeed(1))
			tasks.MustRegister("legacy-export", succeed(1))
		},
	)

	assert.Equal(t, 1, h.scheduler.ScheduledCount())
	assert.True(t, h.status(t, "daily-sales").Scheduled)
	assert.False(t, h.status(t, "legacy-export").Scheduled)

	orphan := h.status(t, "no-task")
	assert.False(t, orphan.Scheduled)
	assert.Contains(t, orphan.ConfigError, "no task registered")
}

func TestInitializeLeavesMalformedScheduleUnscheduled(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = st.SeedJobs(ctx, []types.JobSeed{seed("daily-sales", "0 6 * * *", true)})
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, "UPDATE jobs SET schedule = '61 * * * *' WHERE name = 'daily-sales'")
	require.NoError(t, err)

	tasks := NewTaskTable()
	tasks.MustRegister("daily-sales", succeed(1))
	logger := quietLogger()
	s := NewScheduler(registry.New(st, logger), st, tasks, logger)
	require.NoError(t, s.Initialize(ctx))

	status, err := s.GetJob(ctx, "daily-sales")
	require.NoError(t, err)
	assert.False(t, status.Scheduled)
	assert.Contains(t, status.ConfigError, "minute")
	assert.Nil(t, status.NextRun)

	_, err = st.DB().ExecContext(ctx, "UPDATE jobs SET schedule = '0 7 * * *' WHERE name = 'daily-sales'")
	require.NoError(t, err)
	require.NoError(t, s.Reload(ctx))

	status, err = s.GetJob(ctx, "daily-sales")
	require.NoError(t, err)
	assert.True(t, status.Scheduled)
	assert.Empty(t, status.ConfigError)
}

func TestInitializeRecoversInterruptedRuns(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = st.SeedJobs(ctx, []types.JobSeed{seed("daily-sales", "0 6 * * *", true)})
	require.NoError(t, err)
	job, err := st.GetJobByName(ctx, "daily-sales")
	require.NoError(t, err)
	_, err = st.StartRun(ctx, job.ID, types.TriggerSchedule)
	require.NoError(t, err)

	tasks := NewTaskTable()
	tasks.MustRegister("daily-sales", succeed(3))
	logger := quietLogger()
	s := NewScheduler(registry.New(st, logger), st, tasks, logger)
	require.NoError(t, s.Initialize(ctx))

	outcome, err := s.RunJob(ctx, "daily-sales")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, outcome.Status)

	logs, err := st.ListLogs(ctx, types.LogQuery{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, types.StatusSuccess, logs[0].Status)
	assert.Equal(t, types.StatusFailed, logs[1].Status)
}

func TestRunJobSuccess(t *testing.T) {
	recorder := newFakeRecorder()
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "0 6 * * *", true)},
		func(tasks *TaskTable) { tasks.MustRegister("daily-sales", succeed(42)) },
		WithRecorder(recorder),
	)

	outcome, err := h.scheduler.RunJob(context.Background(), "daily-sales")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, outcome.Status)
	assert.Equal(t, int64(42), outcome.Records)
	assert.Empty(t, outcome.Error)

	logs := h.logsFor(t, h.job(t, "daily-sales").ID)
	require.Len(t, logs, 1)
	assert.Equal(t, outcome.LogID, logs[0].ID)
	assert.Equal(t, types.TriggerManual, logs[0].Trigger)
	require.NotNil(t, logs[0].Records)
	assert.Equal(t, int64(42), *logs[0].Records)
	require.NotNil(t, logs[0].Message)
	assert.Equal(t, "processed 42 records", *logs[0].Message)

	assert.Equal(t, 1, recorder.started)
	assert.Equal(t, 1, recorder.finished[types.StatusSuccess])
}

func TestRunJobFailureIsRecorded(t *testing.T) {
	notifier := &fakeNotifier{failures: make(chan types.RunOutcome, 1)}
	h := newHarness(t,
		[]types.JobSeed{
			seed("daily-sales", "0 6 * * *", true),
			seed("sync-inventory", "*/5 * * * *", true),
		},
		func(tasks *TaskTable) {
			tasks.MustRegister("daily-sales", fail("boom"))
			tasks.MustRegister("sync-inventory", succeed(7))
		},
		WithNotifier(notifier),
	)
	ctx := context.Background()

	outcome, err := h.scheduler.RunJob(ctx, "daily-sales")
	require.Error(t, err)

	var execErr *types.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "daily-sales", execErr.JobName)
	assert.Equal(t, types.StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "boom")

	logs := h.logsFor(t, h.job(t, "daily-sales").ID)
	require.Len(t, logs, 1)
	assert.Equal(t, types.StatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].Error)
	assert.Contains(t, *logs[0].Error, "boom")
	assert.NotNil(t, logs[0].EndTime)
	require.NotNil(t, logs[0].Duration)
	assert.GreaterOrEqual(t, *logs[0].Duration, int64(0))

	select {
	case notified := <-notifier.failures:
		assert.Equal(t, outcome.LogID, notified.LogID)
	case <-time.After(2 * time.Second):
		t.Fatal("failure notification was not sent")
	}

	// other jobs are unaffected
	other, err := h.scheduler.RunJob(ctx, "sync-inventory")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, other.Status)
	assert.True(t, h.status(t, "daily-sales").Scheduled)
}

func TestRunJobRecoversPanic(t *testing.T) {
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "0 6 * * *", true)},
		func(tasks *TaskTable) {
			tasks.MustRegister("daily-sales", func(ctx context.Context, job types.JobDefinition) (int64, error) {
				panic("nil map write")
			})
		},
	)

	outcome, err := h.scheduler.RunJob(context.Background(), "daily-sales")
	require.Error(t, err)
	assert.Equal(t, types.StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "nil map write")

	// the guard is released after a panic
	_, err = h.scheduler.RunJob(context.Background(), "daily-sales")
	assert.False(t, errors.Is(err, types.ErrAlreadyRunning))
	assert.Len(t, h.logsFor(t, h.job(t, "daily-sales").ID), 2)
}

func TestRunJobUnknownOrUnregistered(t *testing.T) {
	h := newHarness(t,
		[]types.JobSeed{seed("no-task", "0 6 * * *", true)},
		nil,
	)
	ctx := context.Background()

	_, err := h.scheduler.RunJob(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrJobNotFound)

	_, err = h.scheduler.RunJob(ctx, "no-task")
	assert.ErrorIs(t, err, types.ErrTaskNotRegistered)
	assert.Empty(t, h.logsFor(t, h.job(t, "no-task").ID))
}

func TestRunJobConcurrentTriggerRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	recorder := newFakeRecorder()

	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "0 6 * * *", true)},
		func(tasks *TaskTable) {
			tasks.MustRegister("daily-sales", func(ctx context.Context, job types.JobDefinition) (int64, error) {
				close(started)
				<-release
				return 5, nil
			})
		},
		WithRecorder(recorder),
	)
	ctx := context.Background()

	var (
		wg         sync.WaitGroup
		firstErr   error
		firstState types.JobStatus
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcome, err := h.scheduler.RunJob(ctx, "daily-sales")
		firstErr = err
		firstState = outcome.Status
	}()

	<-started
	assert.True(t, h.status(t, "daily-sales").Running)

	_, err := h.scheduler.RunJob(ctx, "daily-sales")
	assert.ErrorIs(t, err, types.ErrAlreadyRunning)

	// a timer fire during the manual run is rejected the same way
	h.scheduler.fire(h.job(t, "daily-sales").ID)

	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.Equal(t, types.StatusSuccess, firstState)

	logs := h.logsFor(t, h.job(t, "daily-sales").ID)
	require.Len(t, logs, 1)
	assert.Equal(t, types.StatusSuccess, logs[0].Status)
	assert.Equal(t, 2, recorder.rejected[rejectAlreadyRunning])
	assert.False(t, h.status(t, "daily-sales").Running)
}

func TestScheduledFire(t *testing.T) {
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "0 6 * * *", true)},
		func(tasks *TaskTable) { tasks.MustRegister("daily-sales", succeed(3)) },
	)
	id := h.job(t, "daily-sales").ID

	h.scheduler.fire(id)

	logs := h.logsFor(t, id)
	require.Len(t, logs, 1)
	assert.Equal(t, types.TriggerSchedule, logs[0].Trigger)
	assert.Equal(t, types.StatusSuccess, logs[0].Status)
}

func TestDisableCancelsTimer(t *testing.T) {
	recorder := newFakeRecorder()
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "*/5 * * * *", true)},
		func(tasks *TaskTable) { tasks.MustRegister("daily-sales", succeed(1)) },
		WithRecorder(recorder),
	)
	ctx := context.Background()
	job := h.job(t, "daily-sales")

	disabled := false
	updated, err := h.scheduler.UpdateJobConfig(ctx, job.ID, types.JobUpdate{IsEnabled: &disabled})
	require.NoError(t, err)
	assert.False(t, updated.IsEnabled)

	jobs, err := h.scheduler.GetAllJobsWithStatus(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Scheduled)
	assert.Nil(t, jobs[0].NextRun)
	assert.Equal(t, 0, recorder.gauge)

	// a timer that was already armed finds the job disabled and does nothing
	h.scheduler.fire(job.ID)
	assert.Empty(t, h.logsFor(t, job.ID))
	assert.Equal(t, 1, recorder.rejected[rejectDisabled])

	// manual runs are still allowed
	_, err = h.scheduler.RunJob(ctx, "daily-sales")
	require.NoError(t, err)

	enabled := true
	_, err = h.scheduler.UpdateJobConfig(ctx, job.ID, types.JobUpdate{IsEnabled: &enabled})
	require.NoError(t, err)
	assert.True(t, h.status(t, "daily-sales").Scheduled)
	assert.Equal(t, 1, recorder.gauge)
}

func TestScheduleUpdateMovesNextRun(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 2, 30, 0, time.UTC)
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "*/5 * * * *", true)},
		func(tasks *TaskTable) { tasks.MustRegister("daily-sales", succeed(1)) },
		WithLocation(time.UTC),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	before := h.status(t, "daily-sales")
	require.NotNil(t, before.NextRun)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 5, 0, 0, time.UTC), *before.NextRun)
	assert.Equal(t, "Every 5 minutes", before.ScheduleDescription)

	schedule := "0 6 * * *"
	_, err := h.scheduler.UpdateJobConfig(ctx, before.ID, types.JobUpdate{Schedule: &schedule})
	require.NoError(t, err)

	after := h.status(t, "daily-sales")
	require.NotNil(t, after.NextRun)
	assert.Equal(t, time.Date(2025, 1, 2, 6, 0, 0, 0, time.UTC), *after.NextRun)
	assert.Equal(t, "Daily at 6:00 AM", after.ScheduleDescription)
	assert.True(t, after.Scheduled)
}

func TestUpdateJobConfigRejectsInvalidSchedule(t *testing.T) {
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "0 6 * * *", true)},
		func(tasks *TaskTable) { tasks.MustRegister("daily-sales", succeed(1)) },
	)
	job := h.job(t, "daily-sales")

	bad := "*/0 * * * *"
	_, err := h.scheduler.UpdateJobConfig(context.Background(), job.ID, types.JobUpdate{Schedule: &bad})
	var validationErr *types.ValidationError
	require.True(t, errors.As(err, &validationErr))

	assert.Equal(t, "0 6 * * *", h.job(t, "daily-sales").Schedule)
	assert.True(t, h.status(t, "daily-sales").Scheduled)
}

func TestSchedulerStats(t *testing.T) {
	h := newHarness(t,
		[]types.JobSeed{
			seed("daily-sales", "0 6 * * *", true),
			seed("sync-inventory", "*/5 * * * *", true),
			seed("reconcile-payments", "0 2 * * *", true),
			seed("legacy-export", "0 1 * * *", false),
		},
		func(tasks *TaskTable) {
			tasks.MustRegister("daily-sales", succeed(10))
			tasks.MustRegister("sync-inventory", succeed(20))
			tasks.MustRegister("reconcile-payments", fail("gateway timeout"))
			tasks.MustRegister("legacy-export", succeed(0))
		},
	)
	ctx := context.Background()

	_, err := h.scheduler.RunJob(ctx, "daily-sales")
	require.NoError(t, err)
	_, err = h.scheduler.RunJob(ctx, "sync-inventory")
	require.NoError(t, err)
	_, err = h.scheduler.RunJob(ctx, "reconcile-payments")
	require.Error(t, err)

	summary, err := h.scheduler.GetSchedulerStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSummary{
		TotalJobs:    4,
		ActiveJobs:   3,
		DisabledJobs: 1,
		SuccessJobs:  2,
		FailedJobs:   1,
	}, summary)

	logs, err := h.scheduler.ListLogs(ctx, types.LogQuery{})
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, nil, nil)

	assert.False(t, h.scheduler.IsRunning())
	require.NoError(t, h.scheduler.Start())
	assert.True(t, h.scheduler.IsRunning())
	assert.Error(t, h.scheduler.Start())

	h.scheduler.Stop()
	assert.False(t, h.scheduler.IsRunning())
	h.scheduler.Stop()

	require.NoError(t, h.scheduler.Start())
	h.scheduler.Stop()
}

func TestStopCancelsWorkContext(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "0 6 * * *", true)},
		func(tasks *TaskTable) {
			tasks.MustRegister("daily-sales", func(ctx context.Context, job types.JobDefinition) (int64, error) {
				close(started)
				<-ctx.Done()
				return 0, ctx.Err()
			})
		},
	)
	require.NoError(t, h.scheduler.Start())

	done := make(chan types.RunOutcome, 1)
	go func() {
		outcome, _ := h.scheduler.RunJob(context.Background(), "daily-sales")
		done <- outcome
	}()

	<-started
	h.scheduler.Stop()

	select {
	case outcome := <-done:
		assert.Equal(t, types.StatusFailed, outcome.Status)
		assert.Contains(t, outcome.Error, "context canceled")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not observe scheduler stop")
	}
}

// flakyLogStore fails the next `failures` CompleteRun calls before passing
// through to the real store.
type flakyLogStore struct {
	*store.Store

	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyLogStore) CompleteRun(ctx context.Context, handle types.RunHandle, result types.RunResult) error {
	f.mu.Lock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("transient write failure")
	}
	f.mu.Unlock()
	return f.Store.CompleteRun(ctx, handle, result)
}

func (f *flakyLogStore) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func withFlakyLogs(h *harness) *flakyLogStore {
	flaky := &flakyLogStore{Store: h.store}
	h.scheduler.logs = flaky
	h.scheduler.completeBackoff = time.Millisecond
	return flaky
}

func TestCompleteRunRetriesTransientFailure(t *testing.T) {
	recorder := newFakeRecorder()
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "0 6 * * *", true)},
		func(tasks *TaskTable) { tasks.MustRegister("daily-sales", succeed(5)) },
		WithRecorder(recorder),
	)
	flaky := withFlakyLogs(h)
	flaky.failNext(1)
	ctx := context.Background()

	outcome, err := h.scheduler.RunJob(ctx, "daily-sales")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, outcome.Status)
	assert.Equal(t, 2, flaky.calls)

	logs := h.logsFor(t, h.job(t, "daily-sales").ID)
	require.Len(t, logs, 1)
	assert.Equal(t, types.StatusSuccess, logs[0].Status)

	_, err = h.scheduler.RunJob(ctx, "daily-sales")
	require.NoError(t, err)
	assert.Equal(t, 2, recorder.finished[types.StatusSuccess])
}

func TestUnrecordedRunIsWrittenByNextRun(t *testing.T) {
	recorder := newFakeRecorder()
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "0 6 * * *", true)},
		func(tasks *TaskTable) { tasks.MustRegister("daily-sales", succeed(5)) },
		WithRecorder(recorder),
	)
	flaky := withFlakyLogs(h)
	flaky.failNext(completeAttempts)
	ctx := context.Background()
	jobID := h.job(t, "daily-sales").ID

	first, err := h.scheduler.RunJob(ctx, "daily-sales")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient write failure")
	assert.False(t, errors.Is(err, types.ErrAlreadyRunning))

	// the run finished even though its row still says RUNNING
	assert.Equal(t, 1, recorder.finished[types.StatusSuccess])
	assert.False(t, h.status(t, "daily-sales").Running)

	second, err := h.scheduler.RunJob(ctx, "daily-sales")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, second.Status)

	logs := h.logsFor(t, jobID)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, types.StatusSuccess, l.Status, "log %d", l.ID)
	}
	assert.Contains(t, []int64{logs[0].ID, logs[1].ID}, first.LogID)
}

func TestReloadWritesUnrecordedRun(t *testing.T) {
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "0 6 * * *", true)},
		func(tasks *TaskTable) { tasks.MustRegister("daily-sales", fail("boom")) },
	)
	flaky := withFlakyLogs(h)
	flaky.failNext(completeAttempts)
	ctx := context.Background()

	_, err := h.scheduler.RunJob(ctx, "daily-sales")
	require.Error(t, err)

	require.NoError(t, h.scheduler.Reload(ctx))

	status := h.status(t, "daily-sales")
	assert.False(t, status.Running)
	require.NotNil(t, status.LastLog)
	assert.Equal(t, types.StatusFailed, status.LastLog.Status)
	require.NotNil(t, status.LastLog.Error)
	assert.Contains(t, *status.LastLog.Error, "boom")
}

// pausingRegistry holds one GetAll call after it has read its snapshot.
type pausingRegistry struct {
	JobRegistry

	pause   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (r *pausingRegistry) GetAll(ctx context.Context) ([]types.JobDefinition, error) {
	jobs, err := r.JobRegistry.GetAll(ctx)
	if r.pause.CompareAndSwap(true, false) {
		close(r.entered)
		<-r.release
	}
	return jobs, err
}

func TestReloadDoesNotResurrectDisabledJob(t *testing.T) {
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "*/5 * * * *", true)},
		func(tasks *TaskTable) { tasks.MustRegister("daily-sales", succeed(1)) },
	)
	reg := &pausingRegistry{
		JobRegistry: h.scheduler.registry,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	reg.pause.Store(true)
	h.scheduler.registry = reg
	ctx := context.Background()
	job := h.job(t, "daily-sales")

	reloaded := make(chan error, 1)
	go func() { reloaded <- h.scheduler.Reload(ctx) }()
	<-reg.entered

	updated := make(chan error, 1)
	go func() {
		disabled := false
		_, err := h.scheduler.UpdateJobConfig(ctx, job.ID, types.JobUpdate{IsEnabled: &disabled})
		updated <- err
	}()

	// let the update reach the scheduler while the sync holds its old snapshot
	time.Sleep(50 * time.Millisecond)
	close(reg.release)

	require.NoError(t, <-reloaded)
	require.NoError(t, <-updated)

	status := h.status(t, "daily-sales")
	assert.False(t, status.IsEnabled)
	assert.False(t, status.Scheduled)
	assert.Nil(t, status.NextRun)
	assert.Equal(t, 0, h.scheduler.ScheduledCount())
}

// gatedNotifier blocks its first delivery until gate is closed.
type gatedNotifier struct {
	mu        sync.Mutex
	calls     int
	delivered []int64
	gate      chan struct{}
}

func (n *gatedNotifier) JobFailed(ctx context.Context, job types.JobDefinition, outcome types.RunOutcome) error {
	n.mu.Lock()
	n.calls++
	first := n.calls == 1
	n.mu.Unlock()

	if first {
		<-n.gate
	}

	n.mu.Lock()
	n.delivered = append(n.delivered, outcome.LogID)
	n.mu.Unlock()
	return nil
}

func (n *gatedNotifier) deliveredIDs() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.delivered...)
}

func TestFailureDuringStopIsStillNotified(t *testing.T) {
	notifier := &gatedNotifier{gate: make(chan struct{})}
	h := newHarness(t,
		[]types.JobSeed{seed("daily-sales", "0 6 * * *", true)},
		func(tasks *TaskTable) { tasks.MustRegister("daily-sales", fail("boom")) },
		WithNotifier(notifier),
	)
	ctx := context.Background()

	first, err := h.scheduler.RunJob(ctx, "daily-sales")
	require.Error(t, err)
	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return notifier.calls == 1
	}, 2*time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		h.scheduler.Stop()
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		h.scheduler.mu.RLock()
		defer h.scheduler.mu.RUnlock()
		return h.scheduler.stopping > 0
	}, 2*time.Second, time.Millisecond)

	// a run failing while Stop drains is delivered before RunJob returns
	second, err := h.scheduler.RunJob(ctx, "daily-sales")
	require.Error(t, err)
	assert.Equal(t, []int64{second.LogID}, notifier.deliveredIDs())

	select {
	case <-stopped:
		t.Fatal("Stop returned before the pending notification was sent")
	default:
	}

	close(notifier.gate)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.ElementsMatch(t, []int64{first.LogID, second.LogID}, notifier.deliveredIDs())
}

package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xPuncker/pos-scheduler/internal/stats"
	"github.com/0xPuncker/pos-scheduler/pkg/cronexpr"
	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// JobRegistry is the configuration side the scheduler reads and updates.
type JobRegistry interface {
	GetAll(ctx context.Context) ([]types.JobDefinition, error)
	GetByName(ctx context.Context, name string) (*types.JobDefinition, error)
	GetByID(ctx context.Context, id int64) (*types.JobDefinition, error)
	UpdateConfig(ctx context.Context, id int64, update types.JobUpdate) (*types.JobDefinition, error)
}

// LogStore is the execution history the scheduler writes through.
type LogStore interface {
	StartRun(ctx context.Context, jobID int64, trigger types.Trigger) (types.RunHandle, error)
	CompleteRun(ctx context.Context, handle types.RunHandle, result types.RunResult) error
	LatestForJob(ctx context.Context, jobID int64) (*types.JobExecutionLog, error)
	LatestPerJob(ctx context.Context) (map[int64]types.JobExecutionLog, error)
	ListLogs(ctx context.Context, q types.LogQuery) ([]types.JobExecutionLog, error)
	RecoverInterruptedRuns(ctx context.Context) (int, error)
}

const completeAttempts = 3

// registration is the live timer held for one job id.
type registration struct {
	entryID  cron.EntryID
	schedule string
	expr     *cronexpr.Expression
}

// unrecordedRun is a finished run whose terminal row could not be written yet.
type unrecordedRun struct {
	handle types.RunHandle
	result types.RunResult
}

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		s.notifier = n
	}
}

// WithRunRecovery controls whether Initialize closes out RUNNING rows left by
// a previous process. One-off CLI invocations turn it off so they never touch
// runs owned by a live server.
func WithRunRecovery(enabled bool) Option {
	return func(s *Scheduler) {
		s.recoverRuns = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

type Scheduler struct {
	cron     *cron.Cron
	registry JobRegistry
	logs     LogStore
	tasks    *TaskTable
	logger   *logrus.Logger
	location *time.Location
	recorder Recorder
	notifier Notifier
	now      func() time.Time

	recoverRuns     bool
	completeBackoff time.Duration

	// reconcileMu spans a definition read and the reconcile that follows it.
	reconcileMu sync.Mutex

	mu           sync.RWMutex
	entries      map[int64]*registration
	configErrors map[int64]string
	started      bool
	stopping     int
	runCtx       context.Context
	cancelRuns   context.CancelFunc

	execMu     sync.Mutex
	executing  map[int64]bool
	unrecorded map[int64]unrecordedRun

	notifyWG sync.WaitGroup
}

func NewScheduler(registry JobRegistry, logs LogStore, tasks *TaskTable, logger *logrus.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:        registry,
		logs:            logs,
		tasks:           tasks,
		logger:          logger,
		location:        time.Local,
		recorder:        nopRecorder{},
		now:             time.Now,
		recoverRuns:     true,
		completeBackoff: 100 * time.Millisecond,
		entries:         make(map[int64]*registration),
		configErrors:    make(map[int64]string),
		executing:       make(map[int64]bool),
		unrecorded:      make(map[int64]unrecordedRun),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cronLogger{logger: logger}),
		cron.WithChain(cron.Recover(cronLogger{logger: logger})),
	)
	return s
}

// Initialize closes out runs a previous process left open and registers a
// timer for every enabled job. Jobs with a bad schedule or no task are left
// unscheduled with a warning; only a registry read failure is returned.
func (s *Scheduler) Initialize(ctx context.Context) error {
	if s.recoverRuns {
		recovered, err := s.logs.RecoverInterruptedRuns(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover interrupted runs: %w", err)
		}
		if recovered > 0 {
			s.logger.WithField("count", recovered).Warn("Marked interrupted runs as failed")
		}
	}

	s.reconcileMu.Lock()
	jobs, err := s.registry.GetAll(ctx)
	if err != nil {
		s.reconcileMu.Unlock()
		return fmt.Errorf("failed to load jobs: %w", err)
	}
	for _, job := range jobs {
		s.reconcile(job)
	}
	s.reconcileMu.Unlock()

	s.mu.RLock()
	scheduled := len(s.entries)
	s.mu.RUnlock()
	s.recorder.SetScheduled(scheduled)

	s.logger.WithFields(logrus.Fields{
		"jobs":      len(jobs),
		"scheduled": scheduled,
		"tasks":     len(s.tasks.Names()),
	}).Info("Scheduler initialized")
	return nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if s.runCtx.Err() != nil {
		s.runCtx, s.cancelRuns = context.WithCancel(context.Background())
	}

	s.cron.Start()
	s.started = true
	s.logger.Info("Scheduler started...")

	return nil
}

// Stop halts the timers, cancels the context handed to running work and waits
// for in-flight scheduled runs to write their terminal log. Pending failure
// notifications are waited for even if the scheduler was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasStarted := s.started
	s.started = false
	s.stopping++
	var stopped context.Context
	if wasStarted {
		stopped = s.cron.Stop()
	}
	cancel := s.cancelRuns
	s.mu.Unlock()

	if wasStarted {
		cancel()
		<-stopped.Done()
	}
	s.notifyWG.Wait()

	s.mu.Lock()
	s.stopping--
	s.mu.Unlock()

	if wasStarted {
		s.logger.Info("Scheduler stopped")
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// RunJob executes a job immediately on behalf of a caller. Disabled jobs can
// still be run by hand. A work failure is recorded and returned as an
// *types.ExecutionError together with the outcome.
func (s *Scheduler) RunJob(ctx context.Context, name string) (types.RunOutcome, error) {
	job, err := s.registry.GetByName(ctx, name)
	if err != nil {
		return types.RunOutcome{}, err
	}
	return s.execute(ctx, *job, types.TriggerManual)
}

func (s *Scheduler) fireFunc(jobID int64) cron.FuncJob {
	return func() {
		s.fire(jobID)
	}
}

// fire is the timer path. The definition is re-read so a job disabled after
// the timer was armed is dropped.
func (s *Scheduler) fire(jobID int64) {
	ctx := s.workContext()

	job, err := s.registry.GetByID(ctx, jobID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"error":  err.Error(),
		}).Error("Failed to load job for scheduled run")
		return
	}
	if !job.IsEnabled {
		s.recorder.RunRejected(job.Name, rejectDisabled)
		s.logger.WithField("job_name", job.Name).Debug("Skipping scheduled run of disabled job")
		return
	}

	if _, err := s.execute(ctx, *job, types.TriggerSchedule); err != nil {
		if errors.Is(err, types.ErrAlreadyRunning) {
			s.logger.WithField("job_name", job.Name).Warn("Previous run still in progress, skipping scheduled run")
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job types.JobDefinition, trigger types.Trigger) (types.RunOutcome, error) {
	work, ok := s.tasks.Lookup(job.Name)
	if !ok {
		return types.RunOutcome{}, fmt.Errorf("%w: %s", types.ErrTaskNotRegistered, job.Name)
	}

	if !s.acquire(job.ID) {
		s.recorder.RunRejected(job.Name, rejectAlreadyRunning)
		return types.RunOutcome{}, fmt.Errorf("%w: %s", types.ErrAlreadyRunning, job.Name)
	}
	defer s.release(job.ID)

	if err := s.flushUnrecorded(ctx, job.ID); err != nil {
		return types.RunOutcome{}, fmt.Errorf("previous run of %s is still unrecorded: %w", job.Name, err)
	}

	handle, err := s.logs.StartRun(ctx, job.ID, trigger)
	if err != nil {
		if errors.Is(err, types.ErrAlreadyRunning) {
			s.recorder.RunRejected(job.Name, rejectAlreadyRunning)
		}
		return types.RunOutcome{}, err
	}

	s.recorder.RunStarted(job.Name, trigger)
	s.logger.WithFields(logrus.Fields{
		"job_name": job.Name,
		"job_id":   job.ID,
		"log_id":   handle.LogID,
		"trigger":  trigger,
	}).Info("Starting job execution")

	start := time.Now()
	records, runErr := invoke(s.workContext(), work, job)
	elapsed := time.Since(start)

	result := types.RunResult{Status: types.StatusSuccess, Records: &records}
	if runErr != nil {
		result = types.RunResult{
			Status:  types.StatusFailed,
			Message: "job failed",
			Error:   runErr.Error(),
		}
	} else {
		result.Message = fmt.Sprintf("processed %d records", records)
	}

	completeErr := s.completeRun(ctx, handle, result)
	s.recorder.RunFinished(job.Name, result.Status, elapsed)

	outcome := types.RunOutcome{
		LogID:    handle.LogID,
		Status:   result.Status,
		Duration: elapsed.Milliseconds(),
		Error:    result.Error,
	}
	if completeErr != nil {
		if retryable(completeErr) {
			// Held until a later run of this job or the next Reload writes it.
			s.execMu.Lock()
			s.unrecorded[job.ID] = unrecordedRun{handle: handle, result: result}
			s.execMu.Unlock()
		}
		s.logger.WithFields(logrus.Fields{
			"job_name": job.Name,
			"log_id":   handle.LogID,
			"status":   result.Status,
			"error":    completeErr.Error(),
		}).Error("Failed to record job completion")
		if runErr != nil {
			s.notifyFailure(job, outcome)
		}
		return outcome, fmt.Errorf("failed to complete run %d of %s: %w", handle.LogID, job.Name, completeErr)
	}

	if runErr != nil {
		s.logger.WithFields(logrus.Fields{
			"job_name": job.Name,
			"trigger":  trigger,
			"error":    runErr.Error(),
			"duration": elapsed.String(),
		}).Error("Job execution failed")
		s.notifyFailure(job, outcome)
		return outcome, &types.ExecutionError{JobName: job.Name, Err: runErr}
	}

	outcome.Records = records
	s.logger.WithFields(logrus.Fields{
		"job_name": job.Name,
		"trigger":  trigger,
		"records":  records,
		"duration": elapsed.String(),
	}).Info("Job execution completed successfully")
	return outcome, nil
}

func invoke(ctx context.Context, work WorkFunc, job types.JobDefinition) (records int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = 0
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(ctx, job)
}

// completeRun writes the terminal row on a context the caller cannot cancel,
// retrying transient store errors with backoff.
func (s *Scheduler) completeRun(ctx context.Context, handle types.RunHandle, result types.RunResult) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 0; attempt < completeAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(s.completeBackoff << (attempt - 1))
		}
		err = s.logs.CompleteRun(ctx, handle, result)
		if err == nil {
			return nil
		}
		if errors.Is(err, types.ErrInvalidState) && attempt > 0 {
			// an earlier attempt was applied before its error came back
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	return !errors.Is(err, types.ErrInvalidState) && !errors.Is(err, types.ErrLogNotFound)
}

// flushUnrecorded writes a held terminal row for jobID. The caller must own
// the job's execution flag.
func (s *Scheduler) flushUnrecorded(ctx context.Context, jobID int64) error {
	s.execMu.Lock()
	run, ok := s.unrecorded[jobID]
	s.execMu.Unlock()
	if !ok {
		return nil
	}

	err := s.logs.CompleteRun(context.WithoutCancel(ctx), run.handle, run.result)
	if err != nil && retryable(err) {
		return err
	}

	s.execMu.Lock()
	delete(s.unrecorded, jobID)
	s.execMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"log_id": run.handle.LogID,
		"status": run.result.Status,
	}).Info("Recorded completion of earlier run")
	return nil
}

func (s *Scheduler) flushAllUnrecorded(ctx context.Context) {
	s.execMu.Lock()
	ids := make([]int64, 0, len(s.unrecorded))
	for id := range s.unrecorded {
		ids = append(ids, id)
	}
	s.execMu.Unlock()

	for _, id := range ids {
		if !s.acquire(id) {
			continue
		}
		if err := s.flushUnrecorded(ctx, id); err != nil {
			s.logger.WithFields(logrus.Fields{
				"job_id": id,
				"error":  err.Error(),
			}).Warn("Still unable to record completion of earlier run")
		}
		s.release(id)
	}
}

// notifyFailure sends asynchronously, except while Stop is draining
// notifications, when it sends inline so Stop never races a new Add.
func (s *Scheduler) notifyFailure(job types.JobDefinition, outcome types.RunOutcome) {
	if s.notifier == nil {
		return
	}

	s.mu.RLock()
	if s.stopping > 0 {
		s.mu.RUnlock()
		s.sendFailure(job, outcome)
		return
	}
	s.notifyWG.Add(1)
	s.mu.RUnlock()

	go func() {
		defer s.notifyWG.Done()
		s.sendFailure(job, outcome)
	}()
}

func (s *Scheduler) sendFailure(job types.JobDefinition, outcome types.RunOutcome) {
	if err := s.notifier.JobFailed(context.Background(), job, outcome); err != nil {
		s.logger.WithFields(logrus.Fields{
			"job_name": job.Name,
			"error":    err.Error(),
		}).Warn("Failed to send failure notification")
	}
}

func (s *Scheduler) acquire(jobID int64) bool {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	if s.executing[jobID] {
		return false
	}
	s.executing[jobID] = true
	return true
}

func (s *Scheduler) release(jobID int64) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	delete(s.executing, jobID)
}

func (s *Scheduler) isExecuting(jobID int64) bool {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	return s.executing[jobID]
}

func (s *Scheduler) hasUnrecorded(jobID int64) bool {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	_, ok := s.unrecorded[jobID]
	return ok
}

func (s *Scheduler) workContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runCtx
}

// UpdateJobConfig persists a configuration change and re-arms the job's
// timer to match. A run already in flight is left to finish.
func (s *Scheduler) UpdateJobConfig(ctx context.Context, id int64, update types.JobUpdate) (*types.JobDefinition, error) {
	s.reconcileMu.Lock()
	job, err := s.registry.UpdateConfig(ctx, id, update)
	if err != nil {
		s.reconcileMu.Unlock()
		return nil, err
	}
	s.reconcile(*job)
	s.reconcileMu.Unlock()

	s.recorder.SetScheduled(s.ScheduledCount())
	return job, nil
}

// Reload reconciles every timer against the stored definitions, picking up
// changes written to the store by other means. It also retries terminal rows
// that could not be written when their run finished.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.flushAllUnrecorded(ctx)

	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	jobs, err := s.registry.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	known := make(map[int64]bool, len(jobs))
	for _, job := range jobs {
		known[job.ID] = true
		s.reconcile(job)
	}

	s.mu.Lock()
	for id := range s.entries {
		if !known[id] {
			s.unregisterLocked(id)
		}
	}
	for id := range s.configErrors {
		if !known[id] {
			delete(s.configErrors, id)
		}
	}
	scheduled := len(s.entries)
	s.mu.Unlock()

	s.recorder.SetScheduled(scheduled)
	return nil
}

// reconcile brings the timer for one job in line with its definition.
func (s *Scheduler) reconcile(job types.JobDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !job.IsEnabled {
		if s.entries[job.ID] != nil {
			s.logger.WithField("job_name", job.Name).Info("Job disabled, timer cancelled")
		}
		s.unregisterLocked(job.ID)
		delete(s.configErrors, job.ID)
		return
	}

	expr, err := cronexpr.Parse(job.Schedule)
	if err != nil {
		s.unregisterLocked(job.ID)
		s.configErrors[job.ID] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"job_name": job.Name,
			"schedule": job.Schedule,
			"error":    err.Error(),
		}).Warn("Invalid schedule, job left unscheduled")
		return
	}

	if _, ok := s.tasks.Lookup(job.Name); !ok {
		s.unregisterLocked(job.ID)
		s.configErrors[job.ID] = fmt.Sprintf("no task registered for job %s", job.Name)
		s.logger.WithField("job_name", job.Name).Warn("No task registered, job left unscheduled")
		return
	}

	delete(s.configErrors, job.ID)
	if existing := s.entries[job.ID]; existing != nil && existing.schedule == job.Schedule {
		return
	}

	s.unregisterLocked(job.ID)
	entryID := s.cron.Schedule(expr, s.fireFunc(job.ID))
	s.entries[job.ID] = &registration{
		entryID:  entryID,
		schedule: job.Schedule,
		expr:     expr,
	}

	s.logger.WithFields(logrus.Fields{
		"job_name":    job.Name,
		"schedule":    job.Schedule,
		"description": cronexpr.Describe(job.Schedule),
	}).Info("Job scheduled successfully")
}

func (s *Scheduler) unregisterLocked(jobID int64) {
	reg, ok := s.entries[jobID]
	if !ok {
		return
	}
	s.cron.Remove(reg.entryID)
	delete(s.entries, jobID)
}

func (s *Scheduler) ScheduledCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// GetAllJobsWithStatus joins every definition with its latest log and the
// live timer state.
func (s *Scheduler) GetAllJobsWithStatus(ctx context.Context) ([]types.JobWithStatus, error) {
	jobs, err := s.registry.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.logs.LatestPerJob(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]types.JobWithStatus, 0, len(jobs))
	for _, job := range jobs {
		var last *types.JobExecutionLog
		if entry, ok := latest[job.ID]; ok {
			last = &entry
		}
		result = append(result, s.statusOf(job, last))
	}
	return result, nil
}

func (s *Scheduler) GetJob(ctx context.Context, name string) (*types.JobWithStatus, error) {
	job, err := s.registry.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	last, err := s.logs.LatestForJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	status := s.statusOf(*job, last)
	return &status, nil
}

func (s *Scheduler) statusOf(job types.JobDefinition, last *types.JobExecutionLog) types.JobWithStatus {
	status := types.JobWithStatus{
		JobDefinition:       job,
		LastLog:             last,
		ScheduleDescription: cronexpr.Describe(job.Schedule),
		Running:             s.isExecuting(job.ID),
	}

	if last != nil {
		startedAt := last.StartTime
		status.LastRun = &startedAt
		if last.Status == types.StatusRunning && !s.hasUnrecorded(job.ID) {
			status.Running = true
		}
	}

	s.mu.RLock()
	reg := s.entries[job.ID]
	status.ConfigError = s.configErrors[job.ID]
	s.mu.RUnlock()

	if reg != nil {
		status.Scheduled = true
		if next := reg.expr.Next(s.now().In(s.location)); !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

func (s *Scheduler) GetSchedulerStats(ctx context.Context) (types.JobStatusSummary, error) {
	jobs, err := s.GetAllJobsWithStatus(ctx)
	if err != nil {
		return types.JobStatusSummary{}, err
	}
	return stats.Summarize(jobs), nil
}

func (s *Scheduler) ListLogs(ctx context.Context, q types.LogQuery) ([]types.JobExecutionLog, error) {
	return s.logs.ListLogs(ctx, q.Normalize())
}

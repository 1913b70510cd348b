// Package scheduler decides when each sync job runs. It owns the per-job
// state machine, a bounded worker pool, failure backoff and crash recovery;
// the actual fetching lives in the executor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/semaphore"

	"klinesync/internal/lock"
	"klinesync/internal/logger"
	"klinesync/internal/planner"
	"klinesync/internal/store/model"
)

// JobState is the scheduler-side lifecycle of one job.
type JobState string

const (
	StateScheduled JobState = "scheduled"
	StateRunning   JobState = "running"
	StatePaused    JobState = "paused"
	StateDisabled  JobState = "disabled"
)

// jobExecutor runs one job to completion and reports the recorded run.
type jobExecutor interface {
	Run(ctx context.Context, job *model.SyncJob) (*model.JobRun, error)
}

// jobStore is the persistence surface the scheduler needs.
type jobStore interface {
	ListJobs(ctx context.Context) ([]model.SyncJob, error)
	SaveJob(ctx context.Context, job *model.SyncJob) error
	DeleteJob(ctx context.Context, id int64) error
	SetJobEnabled(ctx context.Context, id int64, enabled bool) error
	DisableJob(ctx context.Context, id int64, reason string) error
	LatestIncompleteRun(ctx context.Context, jobID int64) (*model.JobRun, error)
	FinishRun(ctx context.Context, run *model.JobRun) error
}

// entry is the in-memory state for one scheduled job.
type entry struct {
	job     model.SyncJob
	cadence Cadence
	state   JobState
	nextAt  time.Time

	// retry holds the per-job failure backoff; reset on any run that makes
	// progress.
	retry        *backoff.Backoff
	consecFails  int
	lastOutcome  model.RunOutcome
	lastRunAt    time.Time
	lastRunError string
	removed      bool
}

// JobStatus is an operator-facing snapshot of one entry.
type JobStatus struct {
	Job                 model.SyncJob    `json:"job"`
	State               JobState         `json:"state"`
	NextRunAt           time.Time        `json:"next_run_at,omitempty"`
	LastRunAt           time.Time        `json:"last_run_at,omitempty"`
	LastOutcome         model.RunOutcome `json:"last_outcome,omitempty"`
	LastError           string           `json:"last_error,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
}

type Options struct {
	// MaxConcurrent bounds how many jobs run at once. Default 2: the upstream
	// rate limit is shared, so wide pools only queue on the limiter.
	MaxConcurrent int64
	// LeaseTTL is how long a job's lock lease lives; it must outlast the
	// longest plausible run.
	LeaseTTL time.Duration
	// FailureBackoffMin/Max bound the per-job retry delay after failed runs.
	FailureBackoffMin time.Duration
	FailureBackoffMax time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 2
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 30 * time.Minute
	}
	if o.FailureBackoffMin <= 0 {
		o.FailureBackoffMin = 30 * time.Second
	}
	if o.FailureBackoffMax < o.FailureBackoffMin {
		o.FailureBackoffMax = 30 * time.Minute
	}
}

type Scheduler struct {
	store  jobStore
	exec   jobExecutor
	locker lock.Locker
	opts   Options

	sem   *semaphore.Weighted
	nowFn func() time.Time

	mu      sync.Mutex
	entries map[int64]*entry
	wake    chan struct{}
	started bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(s jobStore, exec jobExecutor, locker lock.Locker, opts Options) *Scheduler {
	opts.withDefaults()
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	return &Scheduler{
		store:   s,
		exec:    exec,
		locker:  locker,
		opts:    opts,
		sem:     semaphore.NewWeighted(opts.MaxConcurrent),
		nowFn:   time.Now,
		entries: make(map[int64]*entry),
		wake:    make(chan struct{}, 1),
	}
}

// Start recovers interrupted runs, loads the persisted jobs and launches the
// tick loop. It returns once the loop is running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.recoverInterrupted(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)
	return nil
}

// Stop cancels the loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Reload re-reads jobs from the store: new ones are added, removed ones
// dropped, and existing entries pick up cadence and enabled changes.
// In-flight runs keep their entry until they finish.
func (s *Scheduler) Reload(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	now := s.nowFn().UTC()

	// Persisting a disable reason happens outside the mutex.
	unschedulable := make(map[int64]string)

	s.mu.Lock()
	seen := make(map[int64]bool, len(jobs))
	for i := range jobs {
		job := jobs[i]
		seen[job.ID] = true
		if e, ok := s.entries[job.ID]; ok {
			if reason := s.refreshEntry(e, job, now); reason != "" {
				unschedulable[job.ID] = reason
			}
			continue
		}
		e, err := s.newEntry(job, now)
		if err != nil {
			logger.Warnf("scheduler: job %s unschedulable: %v", job.Name, err)
			continue
		}
		s.entries[job.ID] = e
	}
	for id, e := range s.entries {
		if seen[id] {
			continue
		}
		if e.state == StateRunning {
			// Let the in-flight run finish; applyOutcome drops the entry.
			e.removed = true
			continue
		}
		delete(s.entries, id)
	}
	count := len(s.entries)
	s.mu.Unlock()

	for id, reason := range unschedulable {
		if err := s.store.DisableJob(ctx, id, reason); err != nil {
			logger.Errorf("scheduler: disable job %d: %v", id, err)
		}
	}
	s.wakeLoop()
	logger.Infof("scheduler: loaded %d job(s)", count)
	return nil
}

// refreshEntry applies a reloaded job definition to an existing entry: a
// cadence edit re-anchors the next firing, an enabled flip moves the state
// machine. A run already in flight is never disturbed. Returns a non-empty
// reason when the new cadence does not parse and the job must be disabled.
// Caller holds s.mu.
func (s *Scheduler) refreshEntry(e *entry, job model.SyncJob, now time.Time) string {
	if job.Cadence != e.job.Cadence {
		cad, err := ParseCadence(job.Cadence)
		if err != nil {
			reason := fmt.Sprintf("invalid cadence %q: %v", job.Cadence, err)
			logger.Warnf("scheduler: job %s: %s", job.Name, reason)
			job.Enabled = false
			job.DisabledReason = reason
			e.job = job
			if e.state != StateRunning {
				e.state = StateDisabled
			}
			return reason
		}
		e.cadence = cad
		if e.state == StateScheduled {
			e.nextAt = cad.Next(now)
		}
	}
	wasHeld := e.state == StatePaused || e.state == StateDisabled
	e.job = job
	if !job.Enabled {
		if e.state != StateRunning {
			e.state = StateDisabled
		}
		return ""
	}
	if wasHeld {
		e.state = StateScheduled
		e.nextAt = now
		e.retry.Reset()
		e.consecFails = 0
	}
	return ""
}

func (s *Scheduler) newEntry(job model.SyncJob, now time.Time) (*entry, error) {
	cad, err := ParseCadence(job.Cadence)
	if err != nil {
		return nil, err
	}
	e := &entry{
		job:     job,
		cadence: cad,
		state:   StateScheduled,
		// First run fires immediately so a fresh deployment starts filling
		// without waiting for a boundary.
		nextAt: now,
		// Jitter stays off: consecutive failure delays must grow, and the
		// gateway's own retry policy already spreads request timing.
		retry: &backoff.Backoff{
			Min:    s.opts.FailureBackoffMin,
			Max:    s.opts.FailureBackoffMax,
			Factor: 2,
			Jitter: false,
		},
	}
	if !job.Enabled {
		e.state = StateDisabled
	}
	return e, nil
}

// recoverInterrupted finalizes runs left in "running" by a crash and brings
// their jobs forward so the unfinished window is re-planned right away.
func (s *Scheduler) recoverInterrupted(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	now := s.nowFn().UTC()
	for _, id := range ids {
		run, err := s.store.LatestIncompleteRun(ctx, id)
		if err != nil {
			logger.Errorf("scheduler: recovery lookup for job %d: %v", id, err)
			continue
		}
		if run == nil {
			continue
		}
		run.Outcome = model.RunOutcomeFailed
		run.Error = "interrupted by shutdown"
		if err := s.store.FinishRun(ctx, run); err != nil {
			logger.Errorf("scheduler: finalize interrupted run %s: %v", run.ID, err)
			continue
		}
		logger.Warnf("scheduler: job %d run %s was interrupted, rescheduling now", id, run.ID)
		s.mu.Lock()
		if e, ok := s.entries[id]; ok && e.state == StateScheduled {
			e.nextAt = now
		}
		s.mu.Unlock()
	}
}

// AddJob persists a new job and schedules it. The cadence is validated before
// anything is written.
func (s *Scheduler) AddJob(ctx context.Context, job *model.SyncJob) error {
	if _, err := ParseCadence(job.Cadence); err != nil {
		return err
	}
	job.Enabled = true
	if err := s.store.SaveJob(ctx, job); err != nil {
		return err
	}
	e, err := s.newEntry(*job, s.nowFn().UTC())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[job.ID] = e
	s.mu.Unlock()
	s.wakeLoop()
	logger.Infof("scheduler: added job %s cadence=%s", job.Name, job.Cadence)
	return nil
}

// RemoveJob deletes the job. A run already in flight finishes; it just never
// fires again.
func (s *Scheduler) RemoveJob(ctx context.Context, id int64) error {
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Pause stops future firings without touching stored data.
func (s *Scheduler) Pause(ctx context.Context, id int64) error {
	if err := s.store.SetJobEnabled(ctx, id, false); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("job %d not scheduled", id)
	}
	e.job.Enabled = false
	if e.state != StateRunning {
		e.state = StatePaused
	}
	return nil
}

// Resume re-enables a paused or disabled job and fires it immediately.
func (s *Scheduler) Resume(ctx context.Context, id int64) error {
	if err := s.store.SetJobEnabled(ctx, id, true); err != nil {
		return err
	}
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %d not scheduled", id)
	}
	e.job.Enabled = true
	e.job.DisabledReason = ""
	if e.state != StateRunning {
		e.state = StateScheduled
		e.nextAt = s.nowFn().UTC()
	}
	e.retry.Reset()
	e.consecFails = 0
	s.mu.Unlock()
	s.wakeLoop()
	return nil
}

// TriggerNow pulls the job's next firing to the present. A job already
// running is left alone; the store re-plans whatever is still missing on the
// next cadence tick anyway.
func (s *Scheduler) TriggerNow(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("job %d not scheduled", id)
	}
	switch e.state {
	case StateRunning:
		return nil
	case StatePaused, StateDisabled:
		return fmt.Errorf("job %d is %s", id, e.state)
	}
	e.nextAt = s.nowFn().UTC()
	s.wakeLoop()
	return nil
}

// Jobs returns a snapshot of every entry, ordered by job ID.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, JobStatus{
			Job:                 e.job,
			State:               e.state,
			NextRunAt:           e.nextAt,
			LastRunAt:           e.lastRunAt,
			LastOutcome:         e.lastOutcome,
			LastError:           e.lastRunError,
			ConsecutiveFailures: e.consecFails,
		})
	}
	sortStatuses(out)
	return out
}

func sortStatuses(st []JobStatus) {
	for i := 1; i < len(st); i++ {
		for j := i; j > 0 && st[j].Job.ID < st[j-1].Job.ID; j-- {
			st[j], st[j-1] = st[j-1], st[j]
		}
	}
}

func (s *Scheduler) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop sleeps until the earliest nextAt, dispatches due jobs and repeats.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.dispatchDue(ctx)

		wait := s.untilNext()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("scheduler: stopping")
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// untilNext returns how long until the earliest scheduled firing, capped so a
// clock jump or missed wake never stalls the loop for good.
func (s *Scheduler) untilNext() time.Duration {
	const idleWait = time.Minute
	now := s.nowFn().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	wait := idleWait
	for _, e := range s.entries {
		if e.state != StateScheduled {
			continue
		}
		if d := e.nextAt.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.nowFn().UTC()
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if e.state == StateScheduled && !e.nextAt.After(now) {
			e.state = StateRunning
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		e := e
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.sem.Acquire(ctx, 1); err != nil {
				s.requeue(e, s.nowFn().UTC())
				return
			}
			defer s.sem.Release(1)
			s.runJob(ctx, e)
		}()
	}
}

// requeue puts an entry back on its cadence without recording an outcome.
func (s *Scheduler) requeue(e *entry, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.state = StateScheduled
	e.nextAt = e.cadence.Next(now)
	if !e.job.Enabled {
		e.state = StatePaused
	}
}

// runJob executes one firing under the job's lock lease and applies the
// outcome to the entry's schedule.
func (s *Scheduler) runJob(ctx context.Context, e *entry) {
	key := fmt.Sprintf("sync:job:%d", e.job.ID)
	lease, ok, err := s.locker.Acquire(ctx, key, s.opts.LeaseTTL)
	if err != nil {
		logger.Errorf("scheduler: job %s: acquire lease: %v", e.job.Name, err)
		s.requeue(e, s.nowFn().UTC())
		s.wakeLoop()
		return
	}
	if !ok {
		// Another instance holds the series. Skip this firing; the next one
		// re-plans whatever that instance leaves behind.
		logger.Infof("scheduler: job %s held elsewhere, skipping", e.job.Name)
		s.requeue(e, s.nowFn().UTC())
		s.wakeLoop()
		return
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf("scheduler: job %s: release lease: %v", e.job.Name, err)
		}
	}()

	job := e.job
	run, runErr := s.exec.Run(ctx, &job)
	s.applyOutcome(ctx, e, run, runErr)
	s.wakeLoop()
}

func (s *Scheduler) applyOutcome(ctx context.Context, e *entry, run *model.JobRun, runErr error) {
	now := s.nowFn().UTC()

	s.mu.Lock()
	if s.entries[e.job.ID] != e {
		s.mu.Unlock()
		return
	}
	if e.removed {
		// Removed while running; the run's results are persisted, the entry
		// just never fires again. This covers bad-job failures too: a deleted
		// job is dropped, not disabled.
		delete(s.entries, e.job.ID)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if errors.Is(runErr, planner.ErrBadJob) {
		reason := runErr.Error()
		if err := s.store.DisableJob(ctx, e.job.ID, reason); err != nil {
			logger.Errorf("scheduler: disable job %d: %v", e.job.ID, err)
		}
		s.mu.Lock()
		e.state = StateDisabled
		e.job.Enabled = false
		e.job.DisabledReason = reason
		e.lastRunAt = now
		e.lastOutcome = model.RunOutcomeFailed
		e.lastRunError = reason
		s.mu.Unlock()
		logger.Warnf("scheduler: job %s disabled: %s", e.job.Name, reason)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[e.job.ID] != e || e.removed {
		return
	}
	e.lastRunAt = now
	switch {
	case runErr != nil:
		e.lastOutcome = model.RunOutcomeFailed
		e.lastRunError = runErr.Error()
	case run != nil:
		e.lastOutcome = run.Outcome
		e.lastRunError = run.Error
	}

	failed := runErr != nil || (run != nil && run.Outcome == model.RunOutcomeFailed)
	if failed {
		e.consecFails++
		delay := e.retry.Duration()
		e.nextAt = now.Add(delay)
		e.state = StateScheduled
		logger.Warnf("scheduler: job %s failed (%d in a row), retrying in %s",
			e.job.Name, e.consecFails, delay.Truncate(time.Second))
	} else {
		// Partial counts as progress: completed ranges are durable and the
		// next cadence tick re-plans only what is still missing.
		e.consecFails = 0
		e.retry.Reset()
		e.nextAt = e.cadence.Next(now)
		e.state = StateScheduled
	}
	if !e.job.Enabled {
		e.state = StatePaused
	}
}

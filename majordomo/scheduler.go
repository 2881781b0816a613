package majordomo

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrDuplicateJobID = errors.New("a job with that ID is already scheduled")

// ScheduledJob is a unit of work the scheduler fires at RunAt. Recurring
// jobs are re-queued at RunAt+Interval after each firing; one-shot jobs
// are removed.
type ScheduledJob struct {
	// ID uniquely identifies the job, for removal and rescheduling
	ID string

	// RunAt is the next firing time
	RunAt time.Time

	// Recurring jobs re-queue themselves after firing
	Recurring bool

	// Interval between firings for recurring jobs
	Interval time.Duration

	// Fire is invoked in its own goroutine at (or shortly after) RunAt
	Fire func(ctx context.Context, job ScheduledJob)

	index int
}

func (j *ScheduledJob) LogValue() slog.Value {
	if j == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("id", j.ID),
		slog.Time("run_at", j.RunAt),
		slog.Bool("recurring", j.Recurring),
		slog.Duration("interval", j.Interval),
	)
}

// jobQueue is a min-heap of jobs ordered by RunAt
type jobQueue []*ScheduledJob

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	return q[i].RunAt.Before(q[j].RunAt)
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	job := x.(*ScheduledJob)
	job.index = len(*q)
	*q = append(*q, job)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*q = old[:n-1]
	return job
}

// Scheduler runs jobs at their scheduled times. A single goroutine sleeps
// until the earliest job is due; adding or removing a job wakes it so the
// timer is always armed against the true head of the queue.
type Scheduler struct {
	logger *slog.Logger

	mu    sync.Mutex
	queue *jobQueue
	jobs  map[string]*ScheduledJob

	wake    chan struct{}
	stopped chan struct{}
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	q := &jobQueue{}
	heap.Init(q)
	return &Scheduler{
		logger:  logger,
		queue:   q,
		jobs:    map[string]*ScheduledJob{},
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

func (s *Scheduler) wakeRunner() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// AddJob schedules a job. Adding a job whose ID is already scheduled is
// rejected; remove or reschedule it instead.
func (s *Scheduler) AddJob(job *ScheduledJob) error {
	if job.ID == "" {
		return errors.New("job ID must be set")
	}
	if job.Fire == nil {
		return errors.New("job must have a Fire func")
	}
	if job.Recurring && job.Interval <= 0 {
		return fmt.Errorf("recurring job %q must have a positive interval", job.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJobID, job.ID)
	}
	s.jobs[job.ID] = job
	heap.Push(s.queue, job)
	s.logger.Info("scheduled job", "job", job)

	s.wakeRunner()
	return nil
}

// RemoveJob unschedules a job by ID. Removing an unknown job is a no-op,
// so callers can remove unconditionally.
func (s *Scheduler) RemoveJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return
	}
	delete(s.jobs, id)
	if job.index >= 0 {
		heap.Remove(s.queue, job.index)
	}
	s.logger.Info("removed job", "job", job)

	s.wakeRunner()
}

// RescheduleJob replaces any existing job with the same ID
func (s *Scheduler) RescheduleJob(job *ScheduledJob) error {
	s.RemoveJob(job.ID)
	return s.AddJob(job)
}

// JobIDs returns the IDs of all currently scheduled jobs
func (s *Scheduler) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// NextRun returns the next firing time for the given job ID
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.jobs[id]
	if !exists {
		return time.Time{}, false
	}
	return job.RunAt, true
}

// popDue removes and returns all jobs due at or before now. Recurring jobs
// are immediately re-queued at their next future firing time, skipping any
// occurrences missed while the process was busy or suspended.
func (s *Scheduler) popDue(now time.Time) []*ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*ScheduledJob
	for s.queue.Len() > 0 {
		head := (*s.queue)[0]
		if head.RunAt.After(now) {
			break
		}
		job := heap.Pop(s.queue).(*ScheduledJob)
		fired := *job
		due = append(due, &fired)

		if job.Recurring {
			next := job.RunAt.Add(job.Interval)
			for !next.After(now) {
				next = next.Add(job.Interval)
			}
			job.RunAt = next
			heap.Push(s.queue, job)
		} else {
			delete(s.jobs, job.ID)
		}
	}
	return due
}

// nextWait returns how long the runner should sleep before the earliest
// job is due, or a long idle interval when the queue is empty.
func (s *Scheduler) nextWait(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() == 0 {
		return time.Hour
	}
	wait := (*s.queue)[0].RunAt.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Run fires due jobs until the context is canceled. Each job's Fire runs
// in its own goroutine so a slow announcement can't delay other jobs.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.stopped)

	timer := time.NewTimer(s.nextWait(time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-s.wake:
		case <-timer.C:
			for _, job := range s.popDue(time.Now()) {
				s.logger.Info("firing job", "job", job)
				go job.Fire(ctx, *job)
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.nextWait(time.Now()))
	}
}

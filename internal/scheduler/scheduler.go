// Package scheduler implements the Scheduler, per spec §4.13: a
// per-minute, wall-clock-aligned cron evaluator that emits synthetic
// messages into the Runtime Orchestrator. Cron matching uses
// github.com/adhocore/gronx, the teacher's declared (if previously unused)
// cron dependency, now actually exercised.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Delivery controls how a job's synthetic message is announced once the
// Orchestrator replies.
type Delivery struct {
	Mode     string `json:"mode"`
	MaxChars int    `json:"maxChars"`
}

// Job mirrors spec §3's Job record. Source's `schedule:<id>` prefix is
// reserved for scheduler-managed jobs; `/reload` merges only that subset,
// leaving user-authored jobs with other source values untouched.
type Job struct {
	ID       string   `json:"id"`
	Cron     string   `json:"cron"`
	Tz       string   `json:"tz"`
	ChatID   string   `json:"chatId"`
	Message  string   `json:"message"`
	Delivery Delivery `json:"delivery"`
	Enabled  bool     `json:"enabled"`
	Source   string   `json:"source"`
}

const scheduleSourcePrefix = "schedule:"

// Emit delivers a due job's synthetic message into the Runtime Orchestrator
// (spec §4.13: "enqueues a synthetic {source: schedule:<id>, chatId,
// message}").
type Emit func(ctx context.Context, chatID, message, source string) error

// Loader re-reads the job set from its backing store for /reload.
type Loader func() ([]Job, error)

// Scheduler wakes once a minute, aligned to the wall clock, and fires every
// job whose cron+timezone is due.
type Scheduler struct {
	mu            sync.Mutex
	jobs          map[string]Job
	firedThisTick map[string]time.Time // jobID -> minute it last fired, guards double-fire on tick jitter

	emit   Emit
	loader Loader

	stop chan struct{}
	done chan struct{}
}

// New constructs a Scheduler with an initial job set; Emit is called for
// every due job.
func New(initial []Job, emit Emit, loader Loader) *Scheduler {
	s := &Scheduler{
		jobs:          make(map[string]Job, len(initial)),
		firedThisTick: make(map[string]time.Time),
		emit:          emit,
		loader:        loader,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, j := range initial {
		s.jobs[j.ID] = j
	}
	return s
}

// Run blocks, ticking once a minute (aligned to the wall clock) until ctx
// is canceled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	for {
		wait := time.Until(nextMinuteBoundary(time.Now()))
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-time.After(wait):
		}
		s.tick(ctx)
	}
}

// Stop halts Run and waits for it to return.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func nextMinuteBoundary(now time.Time) time.Time {
	return now.Truncate(time.Minute).Add(time.Minute)
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	minute := now.Truncate(time.Minute)

	s.mu.Lock()
	due := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !j.Enabled {
			continue
		}
		if s.firedThisTick[j.ID].Equal(minute) {
			continue
		}
		loc, err := time.LoadLocation(j.Tz)
		if err != nil {
			loc = time.UTC
		}
		isDue, err := gronx.IsDue(j.Cron, now.In(loc))
		if err != nil {
			slog.Warn("scheduler: invalid cron expression, skipping", "jobId", j.ID, "cron", j.Cron, "error", err)
			continue
		}
		if isDue {
			s.firedThisTick[j.ID] = minute
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		job := j
		go func() {
			if err := s.emit(ctx, job.ChatID, job.Message, scheduleSourcePrefix+job.ID); err != nil {
				slog.Warn("scheduler: emit failed", "jobId", job.ID, "error", err)
			}
		}()
	}
}

// List implements command.ScheduleAdmin, returning a stable, human-readable
// summary line per job.
func (s *Scheduler) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		j := s.jobs[id]
		out = append(out, fmt.Sprintf("%s cron=%q tz=%s enabled=%v source=%s", j.ID, j.Cron, j.Tz, j.Enabled, j.Source))
	}
	return out
}

// Validate implements command.ScheduleAdmin, reporting the first invalid
// cron expression found.
func (s *Scheduler) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if _, err := gronx.IsDue(j.Cron, time.Now()); err != nil {
			return fmt.Errorf("job %s: invalid cron %q: %w", j.ID, j.Cron, err)
		}
	}
	return nil
}

// SetEnabled implements command.ScheduleAdmin.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	j.Enabled = enabled
	s.jobs[id] = j
	return nil
}

// Reload implements command.ScheduleAdmin: re-reads jobs from the loader
// and merges them in, overwriting only the `schedule:*` source subset so
// manually added user jobs survive a reload (spec §3: "/reload merges
// schedule-derived jobs with user jobs, overwriting only the schedule:*
// subset").
func (s *Scheduler) Reload() error {
	if s.loader == nil {
		return fmt.Errorf("scheduler: no loader configured")
	}
	fresh, err := s.loader()
	if err != nil {
		return fmt.Errorf("scheduler: reload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if len(j.Source) >= len(scheduleSourcePrefix) && j.Source[:len(scheduleSourcePrefix)] == scheduleSourcePrefix {
			delete(s.jobs, id)
		}
	}
	for _, j := range fresh {
		s.jobs[j.ID] = j
	}
	return nil
}

// Package scheduler runs the registered batch pipelines on their triggers and
// exposes the control surface behind the scheduler HTTP endpoints. One ticker
// loop drives every job: runs are serialized per job, missed runs coalesce
// into one, and fires older than the misfire window are skipped entirely.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/socialops/oversight-agent/internal/adapter/observability"
)

// misfireWindow is how stale a due fire may be before it is skipped instead
// of run late.
const misfireWindow = 60 * time.Second

// tickResolution bounds how late a fire can start under a healthy loop.
const tickResolution = time.Second

// Runner is one pipeline cycle. The error is recorded in status and logs; it
// never stops the scheduler.
type Runner func(ctx context.Context) error

// JobStatus is the control-surface view of one registered job.
type JobStatus struct {
	ID        string     `json:"id"`
	Trigger   string     `json:"trigger"`
	Paused    bool       `json:"paused"`
	Running   bool       `json:"running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	NextRun   time.Time  `json:"next_run"`
	TotalRuns int64      `json:"total_runs"`
}

type job struct {
	id      string
	trigger Trigger
	run     Runner

	paused    bool
	running   bool
	lastRun   time.Time
	lastError string
	nextRun   time.Time
	totalRuns int64
}

// Scheduler owns the job registry and the driving loop.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*job
	order  []string
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// New builds an empty scheduler.
func New() *Scheduler {
	return &Scheduler{jobs: map[string]*job{}, now: time.Now}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(id string, trigger Trigger, run Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = &job{
		id:      id,
		trigger: trigger,
		run:     run,
		nextRun: trigger.Next(s.now()),
	}
	s.order = append(s.order, id)
}

// Start launches the driving loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	slog.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
}

// Stop cancels the loop. In-flight runs keep their own contexts and drain
// under the process shutdown grace.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(tickResolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		j := s.jobs[id]
		if j.paused || j.running || now.Before(j.nextRun) {
			continue
		}
		late := now.Sub(j.nextRun)
		// Coalesce: however many fires were missed, advance past now once.
		for !j.nextRun.After(now) {
			j.nextRun = j.trigger.Next(j.nextRun)
		}
		if late > misfireWindow {
			slog.Warn("skipping misfired run",
				slog.String("job", j.id), slog.Duration("late", late))
			continue
		}
		s.launch(ctx, j)
	}
}

// launch starts one run. Caller holds the lock.
func (s *Scheduler) launch(ctx context.Context, j *job) {
	j.running = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		started := s.now()
		slog.Info("pipeline run started", slog.String("job", j.id))
		err := j.run(ctx)
		elapsed := s.now().Sub(started)

		status := "ok"
		if err != nil {
			status = "error"
			slog.Error("pipeline run failed",
				slog.String("job", j.id), slog.Duration("elapsed", elapsed), slog.Any("error", err))
		} else {
			slog.Info("pipeline run finished",
				slog.String("job", j.id), slog.Duration("elapsed", elapsed))
		}
		observability.PipelineRuns.WithLabelValues(j.id, status).Inc()
		observability.PipelineDuration.WithLabelValues(j.id).Observe(elapsed.Seconds())

		s.mu.Lock()
		j.running = false
		j.lastRun = started
		j.totalRuns++
		if err != nil {
			j.lastError = err.Error()
		} else {
			j.lastError = ""
		}
		s.mu.Unlock()
	}()
}

// TriggerNow runs a job immediately, outside its schedule. Returns false when
// the job is unknown or already running.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.running {
		return false
	}
	s.launch(ctx, j)
	return true
}

// Pause suspends future fires for a job.
func (s *Scheduler) Pause(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.paused = true
	return true
}

// Resume re-enables a paused job, recomputing its next fire from now.
func (s *Scheduler) Resume(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.paused = false
	j.nextRun = j.trigger.Next(s.now())
	return true
}

// Status reports one job's state.
func (s *Scheduler) Status(id string) (JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return s.statusLocked(j), true
}

// StatusAll reports every job in registration order.
func (s *Scheduler) StatusAll() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.statusLocked(s.jobs[id]))
	}
	return out
}

func (s *Scheduler) statusLocked(j *job) JobStatus {
	st := JobStatus{
		ID:        j.id,
		Trigger:   j.trigger.String(),
		Paused:    j.paused,
		Running:   j.running,
		LastError: j.lastError,
		NextRun:   j.nextRun,
		TotalRuns: j.totalRuns,
	}
	if !j.lastRun.IsZero() {
		t := j.lastRun
		st.LastRun = &t
	}
	return st
}

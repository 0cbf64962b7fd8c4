// Package scheduler runs periodic maintenance tasks (store cleanup,
// backups) on a cron schedule, on goroutines independent of the
// broker's polling loop, and tracks per-job run history so the
// monitoring API can report scheduled-job health.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named, schedulable unit of work.
type Job interface {
	Run() error
	Name() string
}

// JobStatus is the recorded outcome of a job's most recent run,
// exposed through the monitoring API's status endpoint.
type JobStatus struct {
	Name           string    `json:"name"`
	Schedule       string    `json:"schedule"`
	RunCount       int64     `json:"run_count"`
	LastRun        time.Time `json:"last_run"`
	LastDurationMS float64   `json:"last_duration_ms"`
	LastError      string    `json:"last_error,omitempty"`
}

// Scheduler manages background jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu       sync.Mutex
	statuses map[string]*JobStatus
}

// New creates a Scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		log:      log.With().Str("component", "scheduler").Logger(),
		statuses: make(map[string]*JobStatus),
	}
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop waits for in-flight jobs to finish, then returns.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job on schedule (standard cron syntax with seconds,
// or "@every 5s" style shorthand). Registering two jobs under the same
// name is rejected: statuses are keyed by name, and a silent overwrite
// would blur which job's history the monitoring API is reporting.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	if _, exists := s.statuses[job.Name()]; exists {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: job %q already registered", job.Name())
	}
	s.statuses[job.Name()] = &JobStatus{Name: job.Name(), Schedule: schedule}
	s.mu.Unlock()

	_, err := s.cron.AddFunc(schedule, func() {
		s.runAndRecord(job)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.statuses, job.Name())
		s.mu.Unlock()
		return err
	}

	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule, recording the
// outcome the same way a scheduled run would.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job immediately")
	return s.runAndRecord(job)
}

func (s *Scheduler) runAndRecord(job Job) error {
	s.log.Debug().Str("job", job.Name()).Msg("running job")

	start := time.Now()
	err := job.Run()
	duration := time.Since(start)

	s.mu.Lock()
	st, ok := s.statuses[job.Name()]
	if !ok {
		// RunNow on a job that was never registered still gets a row.
		st = &JobStatus{Name: job.Name()}
		s.statuses[job.Name()] = st
	}
	st.RunCount++
	st.LastRun = start
	st.LastDurationMS = float64(duration.Microseconds()) / 1000.0
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Dur("duration_ms", duration).Msg("job failed")
	} else {
		s.log.Debug().Str("job", job.Name()).Dur("duration_ms", duration).Msg("job completed")
	}
	return err
}

// Statuses returns a detached copy of every registered job's run
// history, ordered by name.
func (s *Scheduler) Statuses() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

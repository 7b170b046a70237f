// Package scheduler owns the recurring weekly comparables update job.
//
// It is a thin lifecycle wrapper around robfig/cron: one fixed weekly entry
// (Sunday 02:00 in the configured timezone) whose body delegates to the
// ingestion service. The scheduler is an explicit handle owned by the app,
// not process-global state, so tests can run isolated instances.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"compdb/internal/ingest"
	logx "compdb/pkg/logx"
)

const (
	jobID   = "weekly_comparables_update"
	jobName = "Weekly Comparables Database Update"

	// Every Sunday at 02:00 (minute hour dom month dow).
	weeklySpec = "0 2 * * 0"
)

// Ingestor is the delegated ingestion entry point.
type Ingestor interface {
	RunWeeklyIngestion(ctx context.Context) (*ingest.Result, error)
}

type JobInfo struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	NextRun *time.Time `json:"nextRun"`
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	Running bool       `json:"running"`
	NextRun *time.Time `json:"nextRun"`
	Jobs    []JobInfo  `json:"jobs"`
}

type Service struct {
	log      logx.Logger
	loc      *time.Location
	ingestor Ingestor
	schedule cron.Schedule

	mu      sync.Mutex
	c       *cron.Cron
	entryID cron.EntryID
}

// New creates a stopped scheduler. loc is the timezone the weekly trigger is
// evaluated in; nil means UTC.
func New(ingestor Ingestor, loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	// weeklySpec is a constant; a parse failure is a programming error.
	sched, err := cron.ParseStandard(weeklySpec)
	if err != nil {
		panic(err)
	}
	return &Service{
		log:      log,
		loc:      loc,
		ingestor: ingestor,
		schedule: sched,
	}
}

// Start registers the weekly job and starts the cron runtime.
//
// Idempotent: calling Start on a running scheduler logs a warning and leaves
// the existing job untouched. Each fresh Start builds a new cron instance, so
// re-registration replaces any prior definition rather than duplicating it.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c != nil {
		s.log.Warn("scheduler already running")
		return
	}

	c := cron.New(cron.WithLocation(s.loc))
	id, err := c.AddFunc(weeklySpec, func() {
		s.runWeeklyUpdate(context.Background())
	})
	if err != nil {
		// Unreachable with a constant spec; keep the scheduler stopped.
		s.log.Error("failed to register weekly job", logx.Err(err))
		return
	}
	s.c = c
	s.entryID = id
	c.Start()

	next := s.schedule.Next(time.Now().In(s.loc))
	s.log.Info("comparables update scheduler started",
		logx.String("job", jobID),
		logx.Time("next_run", next))
}

// Stop halts future firings and clears the running state. An execution already
// in progress runs to completion (cron's Stop contract). No-op when stopped.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c == nil {
		return
	}
	s.c.Stop()
	s.c = nil
	s.entryID = 0
	s.log.Info("comparables update scheduler stopped")
}

// Running reports whether the scheduler is currently started.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Status returns a snapshot of the scheduler state. Pure read.
func (s *Service) Status() Status {
	s.mu.Lock()
	c := s.c
	entryID := s.entryID
	s.mu.Unlock()

	if c == nil {
		return Status{Running: false}
	}

	st := Status{Running: true, Jobs: []JobInfo{}}
	for _, e := range c.Entries() {
		next := e.Next
		if next.IsZero() && e.ID == entryID {
			// The cron run loop computes Next asynchronously after Start();
			// fall back to evaluating the schedule directly.
			next = s.schedule.Next(time.Now().In(s.loc))
		}
		info := JobInfo{ID: jobID, Name: jobName}
		if !next.IsZero() {
			t := next
			info.NextRun = &t
		}
		st.Jobs = append(st.Jobs, info)
		if info.NextRun != nil && (st.NextRun == nil || info.NextRun.Before(*st.NextRun)) {
			st.NextRun = info.NextRun
		}
	}
	return st
}

// TriggerManual synchronously runs one update cycle outside the schedule,
// regardless of running state, and returns the ingestion result. Errors
// propagate unchanged to the caller; scheduler state is not touched.
func (s *Service) TriggerManual(ctx context.Context) (*ingest.Result, error) {
	s.log.Info("manual update triggered")
	return s.ingestor.RunWeeklyIngestion(ctx)
}

// runWeeklyUpdate is the scheduled job body. It never lets a fault escape to
// the cron runtime: an uncaught panic there would take down the process.
func (s *Service) runWeeklyUpdate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic during weekly update", logx.Any("panic", r))
		}
	}()

	s.log.Info("starting weekly comparables database update")
	res, err := s.ingestor.RunWeeklyIngestion(ctx)
	if err != nil {
		s.log.Error("error during weekly update", logx.Err(err))
		return
	}
	if res == nil {
		s.log.Error("weekly update returned no result")
		return
	}

	if res.Success {
		s.log.Info("weekly update completed",
			logx.Int("total", res.Total),
			logx.Int("successful", res.Successful),
			logx.Int("failed", res.Failed))
	} else {
		s.log.Error("weekly update failed", logx.String("err", res.Error))
	}
}

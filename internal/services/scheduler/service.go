// Package scheduler drives the periodic SLA scans. It is stateless between
// ticks: watermarks and pause history in the repository are the sole durable
// source of truth, so the scheduler can be restarted at any time.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Handler executes a scheduled job.
type Handler func(ctx context.Context) error

// Job is one recurring unit of work.
type Job struct {
	Slug           string
	Schedule       string
	Handler        string
	TimeoutSeconds int
	RunOnStartup   bool
}

// Service coordinates scheduled job execution.
type Service struct {
	cron      *cron.Cron
	parser    cron.Parser
	handlers  map[string]Handler
	entries   map[string]cron.EntryID
	jobs      map[string]*Job
	mu        sync.RWMutex
	handlerMu sync.RWMutex
	rootCtx   context.Context
	logger    *log.Logger
	startOnce sync.Once
	stopOnce  sync.Once
	now       func() time.Time
}

// NewService builds a scheduler with the given jobs.
func NewService(jobs []*Job, opts ...Option) *Service {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	location := options.Location
	if location == nil {
		location = time.UTC
	}
	cronEngine := options.Cron
	if cronEngine == nil {
		cronEngine = cron.New(cron.WithLocation(location))
	}
	var zeroParser cron.Parser
	parser := options.Parser
	if parser == zeroParser {
		parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	}

	jobMap := make(map[string]*Job)
	for _, job := range jobs {
		if job == nil || job.Slug == "" || job.Schedule == "" {
			continue
		}
		clone := *job
		jobMap[job.Slug] = &clone
	}

	return &Service{
		cron:     cronEngine,
		parser:   parser,
		handlers: make(map[string]Handler),
		entries:  make(map[string]cron.EntryID),
		jobs:     jobMap,
		logger:   options.Logger,
		now:      options.Now,
	}
}

// RegisterHandler binds a handler name to a function. Jobs referencing an
// unregistered handler fail at execution time, not at schedule time.
func (s *Service) RegisterHandler(name string, handler Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers[name] = handler
}

// Run starts the scheduler loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.rootCtx = ctx
		s.scheduleAllJobs()
		s.cron.Start()
		s.runStartupJobs()
	})

	<-ctx.Done()
	s.stopCron()
	return nil
}

func (s *Service) scheduleAllJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for slug, job := range s.jobs {
		if err := s.addJobLocked(job); err != nil {
			s.logger.Printf("scheduler: failed to schedule job %s: %v", slug, err)
		}
	}
}

func (s *Service) runStartupJobs() {
	s.mu.RLock()
	var startupJobs []string
	for slug, job := range s.jobs {
		if job.RunOnStartup {
			startupJobs = append(startupJobs, slug)
		}
	}
	s.mu.RUnlock()

	for _, slug := range startupJobs {
		go s.executeJob(slug)
	}
}

func (s *Service) addJobLocked(job *Job) error {
	schedule, err := s.parser.Parse(job.Schedule)
	if err != nil {
		return err
	}

	slug := job.Slug
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.executeJob(slug)
	}))
	s.entries[slug] = entryID
	return nil
}

func (s *Service) executeJob(slug string) {
	s.mu.RLock()
	job := s.jobs[slug]
	s.mu.RUnlock()
	if job == nil {
		return
	}

	s.handlerMu.RLock()
	handler := s.handlers[job.Handler]
	s.handlerMu.RUnlock()
	if handler == nil {
		s.logger.Printf("scheduler: job %s handler %s not registered", slug, job.Handler)
		return
	}

	ctx := s.rootCtx
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if job.TimeoutSeconds > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
	}

	start := s.now()
	var runErr error
	func() {
		defer func() {
			if cancel != nil {
				cancel()
			}
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = handler(ctx)
	}()

	if runErr != nil {
		s.logger.Printf("scheduler: job %s failed after %s: %v", slug, s.now().Sub(start).Round(time.Millisecond), runErr)
		return
	}
	s.logger.Printf("scheduler: job %s completed in %s", slug, s.now().Sub(start).Round(time.Millisecond))
}

func (s *Service) stopCron() {
	s.stopOnce.Do(func() {
		ctx := s.cron.Stop()
		if ctx == nil {
			return
		}
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			s.logger.Printf("scheduler: timed out waiting for jobs to finish")
		}
	})
}

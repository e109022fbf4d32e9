package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"netmaster/internal/logger"
)

// Scheduler runs named background jobs on cron specs. A job still running
// when its next tick arrives is skipped, and a panic is logged instead of
// killing the process.
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]cron.EntryID
}

func New(log *logger.Logger) *Scheduler {
	cl := cronLogger{log}
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:  log,
		ctx:  context.Background(),
		jobs: map[string]cron.EntryID{},
	}
}

func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("jobs: %s already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, func() {
		s.log.Debug("job started", "job", name)
		fn(s.context())
	})
	if err != nil {
		return fmt.Errorf("jobs: schedule %s: %w", name, err)
	}
	s.jobs[name] = id
	return nil
}

// RunNow runs a job synchronously through the same wrappers as a tick.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("jobs: unknown job %s", name)
	}
	s.cron.Entry(id).WrappedJob.Run()
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs or ctx, whichever ends
// first.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

type cronLogger struct{ log *logger.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.log.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.log.Error("cron: "+msg, append(kv, "err", err)...)
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	applogger "CatalystPull/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Task is a named periodic job. Runs of the same task may overlap.
type Task struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs tasks on standard five-field cron expressions.
type Scheduler struct {
	cron   *cron.Cron
	logger *applogger.Logger
	mu     sync.Mutex
	tasks  map[string]cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
}

func New(l *applogger.Logger) *Scheduler {
	if l == nil {
		l = applogger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{l}))),
		logger: l,
		tasks:  make(map[string]cron.EntryID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers t. An empty spec disables the task.
func (s *Scheduler) Add(t Task) error {
	if t.Spec == "" {
		s.logger.Info("task not scheduled", applogger.String("task", t.Name))
		return nil
	}
	if t.Timeout <= 0 {
		t.Timeout = 30 * time.Minute
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Name]; ok {
		return fmt.Errorf("task %s already registered", t.Name)
	}
	id, err := s.cron.AddFunc(t.Spec, func() { s.run(t) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", t.Name, t.Spec, err)
	}
	s.tasks[t.Name] = id
	return nil
}

// Next reports the next activation of the named task.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", applogger.Int("tasks", len(s.tasks)))
}

// Stop prevents new runs, cancels running ones and waits for them until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) run(t Task) {
	ctx, cancel := context.WithTimeout(s.ctx, t.Timeout)
	defer cancel()

	start := time.Now()
	if err := t.Run(ctx); err != nil {
		s.logger.Error("scheduled task failed",
			applogger.String("task", t.Name),
			applogger.Duration("elapsed", time.Since(start)),
			applogger.Error(err),
		)
		return
	}
	s.logger.Debug("scheduled task finished",
		applogger.String("task", t.Name),
		applogger.Duration("elapsed", time.Since(start)),
	)
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct{ l *applogger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(kvFields(keysAndValues), applogger.Error(err))...)
}

func kvFields(kv []interface{}) []applogger.Field {
	out := make([]applogger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, applogger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

// pattern: Imperative Shell

package process

import (
	"context"
	"errors"
	"sync"
	"time"

	"dashing/internal/logging"
)

// RestartPolicy controls when a task is restarted after it returns.
type RestartPolicy int

const (
	Never     RestartPolicy = iota // Never restart
	OnFailure                      // Restart only when the task returns an error
	Always                         // Always restart (unless Stop is called)
)

// Task is a long-running unit of work. It must return promptly once ctx is done.
type Task func(ctx context.Context) error

// Config describes a task to supervise.
type Config struct {
	Name       string
	Run        Task
	RestartOn  RestartPolicy
	MaxRetries int // 0 means unlimited
	RetryDelay time.Duration
}

// Supervisor runs a task in a goroutine and restarts it per its policy.
type Supervisor struct {
	cfg    Config
	logger *logging.ScopedLogger

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	stopped  bool
	restarts int
	lastErr  error
	done     chan struct{}
}

// NewSupervisor creates a new task supervisor.
func NewSupervisor(cfg Config, logger *logging.ScopedLogger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the task in a goroutine. Non-blocking.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return errors.New("supervisor: already started")
	}
	if s.cfg.Run == nil {
		s.mu.Unlock()
		return errors.New("supervisor: no task")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop cancels the task's context and waits for the supervisor to exit.
// Stopping a supervisor that was never started returns immediately.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	started := cancel != nil
	s.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-s.done
}

// Running returns whether the task is currently supervised.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Restarts returns how many times the task has been restarted.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Err returns the error from the task's last run, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Done returns a channel that is closed when the supervisor exits
// (either the task finished without restart or Stop was called).
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	retries := 0
	for {
		if s.isStopped() {
			return
		}

		err := s.runOnce(ctx)

		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()

		if s.isStopped() || ctx.Err() != nil {
			return
		}

		shouldRestart := false
		switch s.cfg.RestartOn {
		case Always:
			shouldRestart = true
		case OnFailure:
			shouldRestart = err != nil
		case Never:
			shouldRestart = false
		}

		if !shouldRestart {
			return
		}

		retries++
		if s.cfg.MaxRetries > 0 && retries > s.cfg.MaxRetries {
			s.logger.Error("max retries exceeded", "retries", retries-1, "task", s.cfg.Name, "error", err)
			return
		}

		delay := s.cfg.RetryDelay
		if delay == 0 {
			delay = time.Second
		}

		s.logger.Warn("restarting task", "task", s.cfg.Name, "attempt", retries, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
	}
}

func (s *Supervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "task", s.cfg.Name, "panic", r)
			err = errors.New("supervisor: task panicked")
		}
	}()

	s.logger.Debug("starting task", "task", s.cfg.Name)
	err = s.cfg.Run(ctx)
	if err != nil {
		s.logger.Warn("task exited", "task", s.cfg.Name, "error", err)
		return err
	}
	s.logger.Debug("task exited cleanly", "task", s.cfg.Name)
	return nil
}

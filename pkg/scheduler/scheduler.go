// Package scheduler runs periodic housekeeping jobs.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"media-resolver-go/pkg/logging"
)

// TaskFunc is the function signature for scheduled tasks.
type TaskFunc func(ctx context.Context) error

// TaskConfig contains configuration for a scheduled task.
type TaskConfig struct {
	ID          string
	Name        string
	Description string
	Interval    time.Duration
	Func        TaskFunc
	RunOnStart  bool
}

// TaskInfo describes a scheduled task for API responses.
type TaskInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Interval    string     `json:"interval"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Running     bool       `json:"running"`
}

type taskEntry struct {
	config  TaskConfig
	job     gocron.Job
	lastRun *time.Time
	lastErr error
	running bool
}

// Scheduler manages background tasks.
type Scheduler struct {
	gocron gocron.Scheduler
	clock  clockwork.Clock
	log    *logging.Logger

	mu    sync.RWMutex
	tasks map[string]*taskEntry
	wg    sync.WaitGroup
}

// New creates a Scheduler. A nil clock uses the real clock.
func New(clock clockwork.Clock, log *logging.Logger) (*Scheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	gs, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		gocron: gs,
		clock:  clock,
		log:    log.WithComponent("scheduler"),
		tasks:  make(map[string]*taskEntry),
	}, nil
}

// RegisterTask adds a task running every Interval.
func (s *Scheduler) RegisterTask(config TaskConfig) error {
	if config.Interval <= 0 {
		return fmt.Errorf("task %q needs a positive interval", config.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[config.ID]; exists {
		return fmt.Errorf("task with ID %q already registered", config.ID)
	}

	job, err := s.gocron.NewJob(
		gocron.DurationJob(config.Interval),
		gocron.NewTask(func() { s.executeTask(config.ID) }),
		gocron.WithName(config.Name),
		gocron.WithTags(config.ID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job for task %q: %w", config.ID, err)
	}

	s.tasks[config.ID] = &taskEntry{config: config, job: job}
	s.log.Info("registered task", "id", config.ID, "interval", config.Interval, "run_on_start", config.RunOnStart)
	return nil
}

// executeTask runs a task once unless it is already running.
func (s *Scheduler) executeTask(taskID string) {
	s.mu.Lock()
	entry, exists := s.tasks[taskID]
	if !exists || entry.running {
		s.mu.Unlock()
		return
	}
	entry.running = true
	s.mu.Unlock()

	start := s.clock.Now()
	err := entry.config.Func(context.Background())

	s.mu.Lock()
	entry.running = false
	entry.lastRun = &start
	entry.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.log.Error("task failed", "id", taskID, "duration", s.clock.Since(start), "error", err)
		return
	}
	s.log.Debug("task completed", "id", taskID, "duration", s.clock.Since(start))
}

// Start starts the scheduler and runs tasks marked RunOnStart.
func (s *Scheduler) Start() {
	s.log.Info("starting scheduler")
	s.gocron.Start()

	s.mu.RLock()
	var startup []string
	for id, entry := range s.tasks {
		if entry.config.RunOnStart {
			startup = append(startup, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range startup {
		s.goExecute(id)
	}
}

// Stop shuts the scheduler down and waits for manual runs.
func (s *Scheduler) Stop() error {
	s.log.Info("stopping scheduler")
	err := s.gocron.Shutdown()
	s.wg.Wait()
	return err
}

// RunNow triggers a task immediately.
func (s *Scheduler) RunNow(taskID string) error {
	s.mu.RLock()
	entry, exists := s.tasks[taskID]
	running := exists && entry.running
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if running {
		return fmt.Errorf("task %q is already running", taskID)
	}
	s.goExecute(taskID)
	return nil
}

func (s *Scheduler) goExecute(taskID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeTask(taskID)
	}()
}

// ListTasks returns all registered tasks sorted by id.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]TaskInfo, 0, len(s.tasks))
	for _, entry := range s.tasks {
		tasks = append(tasks, entry.info())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// GetTask returns one task.
func (s *Scheduler) GetTask(taskID string) (*TaskInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %q not found", taskID)
	}
	info := entry.info()
	return &info, nil
}

// info snapshots an entry. Callers hold mu.
func (e *taskEntry) info() TaskInfo {
	info := TaskInfo{
		ID:          e.config.ID,
		Name:        e.config.Name,
		Description: e.config.Description,
		Interval:    e.config.Interval.String(),
		LastRun:     e.lastRun,
		Running:     e.running,
	}
	if e.lastErr != nil {
		info.LastError = e.lastErr.Error()
	}
	if next, err := e.job.NextRun(); err == nil {
		info.NextRun = &next
	}
	return info
}

package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

var ErrTaskRunning = errors.New("task is already running")

// SchedulerService manages all scheduled tasks. The process entry point
// owns its lifecycle; tests build and stop their own instance.
type SchedulerService struct {
	scheduler *gocron.Scheduler
	logger    *zap.Logger

	mu              sync.Mutex
	registeredTasks map[string]*registeredTask
}

type registeredTask struct {
	Task
	running sync.Mutex

	statusMu sync.Mutex
	lastRun  time.Time
	lastErr  string
	runs     int
}

// TaskStatus is the listing view of a registered task.
type TaskStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"`
	Runs        int        `json:"runs"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// NewSchedulerService creates a new scheduler service
func NewSchedulerService(logger *zap.Logger) *SchedulerService {
	if logger == nil {
		logger = zap.L()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	return &SchedulerService{
		scheduler:       s,
		logger:          logger,
		registeredTasks: make(map[string]*registeredTask),
	}
}

// Start begins running the scheduler
func (s *SchedulerService) Start() {
	s.logger.Info("starting scheduler service", zap.Int("tasks", len(s.ListTasks())))
	s.scheduler.StartAsync()
}

// Stop halts all scheduled jobs and waits for running ones.
func (s *SchedulerService) Stop() {
	s.logger.Info("stopping scheduler service")
	s.scheduler.Stop()
}

// RegisterTasks registers every enabled task of the given groups.
func (s *SchedulerService) RegisterTasks(groups ...[]Task) error {
	for _, group := range groups {
		for _, task := range group {
			if !task.Enabled {
				s.logger.Info("skipping disabled task", zap.String("task", task.Name))
				continue
			}
			if err := s.AddTask(task); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddTask adds a new task to the scheduler dynamically
func (s *SchedulerService) AddTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.registeredTasks[task.Name]; exists {
		return fmt.Errorf("task with name '%s' already exists", task.Name)
	}

	rt := &registeredTask{Task: task}
	job, err := s.scheduler.Cron(task.Schedule).Do(func() {
		if err := s.run(rt); err != nil && !errors.Is(err, ErrTaskRunning) {
			s.logger.Error("scheduled task failed", zap.String("task", task.Name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule task %s: %w", task.Name, err)
	}
	job.Tag(task.Name)

	s.registeredTasks[task.Name] = rt
	s.logger.Debug("registered task", zap.String("task", task.Name), zap.String("schedule", task.Schedule))
	return nil
}

// RemoveTask removes a task from the scheduler by name
func (s *SchedulerService) RemoveTask(taskName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.registeredTasks[taskName]; !exists {
		return fmt.Errorf("task with name '%s' does not exist", taskName)
	}
	delete(s.registeredTasks, taskName)
	if err := s.scheduler.RemoveByTag(taskName); err != nil {
		return err
	}
	s.logger.Info("removed task", zap.String("task", taskName))
	return nil
}

// GetTaskByName returns a task by its name
func (s *SchedulerService) GetTaskByName(name string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, exists := s.registeredTasks[name]
	if !exists {
		return Task{}, false
	}
	return rt.Task, true
}

// ListTasks returns all registered tasks ordered by name.
func (s *SchedulerService) ListTasks() []TaskStatus {
	s.mu.Lock()
	tasks := make([]*registeredTask, 0, len(s.registeredTasks))
	for _, rt := range s.registeredTasks {
		tasks = append(tasks, rt)
	}
	s.mu.Unlock()

	statuses := make([]TaskStatus, 0, len(tasks))
	for _, rt := range tasks {
		rt.statusMu.Lock()
		st := TaskStatus{
			Name:        rt.Name,
			Description: rt.Description,
			Schedule:    rt.Schedule,
			Runs:        rt.runs,
			LastError:   rt.lastErr,
		}
		if !rt.lastRun.IsZero() {
			lastRun := rt.lastRun
			st.LastRun = &lastRun
		}
		rt.statusMu.Unlock()
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// RunTaskNow runs a task immediately by name. It fails with ErrTaskRunning
// while the same task is in progress.
func (s *SchedulerService) RunTaskNow(name string) error {
	s.mu.Lock()
	rt, exists := s.registeredTasks[name]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("task %s not found", name)
	}
	return s.run(rt)
}

func (s *SchedulerService) run(rt *registeredTask) error {
	if !rt.running.TryLock() {
		return ErrTaskRunning
	}
	defer rt.running.Unlock()

	start := time.Now()
	err := rt.Handler()

	rt.statusMu.Lock()
	rt.lastRun = start
	rt.runs++
	rt.lastErr = ""
	if err != nil {
		rt.lastErr = err.Error()
	}
	rt.statusMu.Unlock()

	s.logger.Debug("task finished",
		zap.String("task", rt.Name),
		zap.Duration("took", time.Since(start)),
		zap.Bool("ok", err == nil),
	)
	return err
}

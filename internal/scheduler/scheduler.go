// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Task is a named maintenance job registered with the scheduler.
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler fires periodic maintenance tasks (database backups,
// continuity document refreshes) while the hub runs in serve mode.
type Scheduler struct {
	tasks []Task
	cron  *cron.Cron
	ctx   context.Context
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a scheduler for the given tasks. Nothing runs until Start.
func New(tasks []Task) *Scheduler {
	return &Scheduler{
		tasks: tasks,
		cron:  cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers every task as a cron entry and starts the ticker. A
// task with an invalid schedule fails Start rather than being silently
// skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	for _, task := range s.tasks {
		name := task.Name
		run := task.Run

		_, err := s.cron.AddFunc(task.Schedule, func() {
			slog.Info("cron firing task", "name", name)
			if err := run(s.ctx); err != nil {
				slog.Error("scheduled task failed", "name", name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cron schedule for %s: %w", name, err)
		}
		slog.Info("scheduled task", "name", name, "schedule", task.Schedule)
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron ticker and waits for running tasks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

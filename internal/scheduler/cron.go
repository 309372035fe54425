package scheduler

import (
	"fmt"
	"os"
	"sync"
	"time"

	cronparse "github.com/robfig/cron/v3"

	"github.com/openagentkit/ci/internal/store"
)

// TaskStore is the persistence the cron dispatcher reads/writes,
// satisfied by *store.Store.
type TaskStore interface {
	DueScheduledTasks(now time.Time, limit int) ([]store.ScheduledTask, error)
	RescheduleTask(id string, lastRun, nextRun time.Time) error
}

// Dispatch is called for each due task. The daemon only owns scheduling
// state (spec.md §4.H); actually running the task is the OAK Agents
// runner's job, reached via an injection event the caller constructs.
type Dispatch func(task store.ScheduledTask) error

// Scheduler runs a fixed-interval tick loop that dispatches due cron
// tasks, gated by the power controller's current state.
type Scheduler struct {
	mu       sync.Mutex
	store    TaskStore
	power    *PowerController
	interval time.Duration
	dispatch Dispatch

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

func New(taskStore TaskStore, power *PowerController, interval time.Duration, dispatch Dispatch) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{store: taskStore, power: power, interval: interval, dispatch: dispatch}
}

// Start begins the background ticker loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	stop := s.stopCh
	done := s.doneCh
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		if err := s.RunOnce(time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "scheduler: initial run: %v\n", err)
		}
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.RunOnce(time.Now()); err != nil {
					fmt.Fprintf(os.Stderr, "scheduler: tick run: %v\n", err)
				}
			}
		}
	}()
}

// Stop stops the scheduler loop and waits for shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop := s.stopCh
	done := s.doneCh
	s.running = false
	s.mu.Unlock()
	close(stop)
	<-done
}

// RunOnce processes due scheduled tasks once, skipping entirely when the
// power state doesn't permit maintenance work (SLEEP/DEEP_SLEEP).
func (s *Scheduler) RunOnce(now time.Time) error {
	if s.power != nil && !StepsFor(s.power.State(now)).Maintenance {
		return nil
	}

	tasks, err := s.store.DueScheduledTasks(now, 25)
	if err != nil {
		return fmt.Errorf("due tasks: %w", err)
	}
	for _, task := range tasks {
		if s.dispatch != nil {
			if err := s.dispatch(task); err != nil {
				fmt.Fprintf(os.Stderr, "scheduler: dispatch %s: %v\n", task.Name, err)
				continue
			}
		}
		next, err := NextRun(task.CronExpr, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "scheduler: parse cron %q: %v\n", task.CronExpr, err)
			continue
		}
		if err := s.store.RescheduleTask(task.ID, now, next); err != nil {
			fmt.Fprintf(os.Stderr, "scheduler: reschedule %s: %v\n", task.Name, err)
		}
	}
	return nil
}

// NextRun computes the next scheduled run time after from for a
// standard 5-field cron expression.
func NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronparse.ParseStandard(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression: %w", err)
	}
	return schedule.Next(from), nil
}

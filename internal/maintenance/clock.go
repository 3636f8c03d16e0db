// Package maintenance schedules the assistant's recurring upkeep jobs.
package maintenance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one recurring background job. Every must be positive and
// Run non-nil for the task to be scheduled.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Clock drives each registered task on its own ticker, one goroutine
// per task. A failing iteration is logged and the schedule keeps
// going.
type Clock struct {
	mu     sync.Mutex
	tasks  []Task
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewClock creates an idle clock.
func NewClock(logger *zap.Logger) *Clock {
	return &Clock{logger: logger}
}

// Add registers a task. Tasks added while the clock runs start on the
// next Start.
func (c *Clock) Add(task Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, task)
}

// Start launches the task loops. Calling Start on a running clock is
// a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	started := 0
	for _, task := range c.tasks {
		if task.Every <= 0 || task.Run == nil {
			c.logger.Warn("skipping unschedulable task", zap.String("task", task.Name))
			continue
		}
		c.wg.Add(1)
		go c.loop(ctx, task)
		started++
	}
	c.logger.Info("maintenance clock started", zap.Int("tasks", started))
}

// Stop cancels every loop and waits for in-flight iterations to
// finish.
func (c *Clock) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.logger.Info("maintenance clock stopped")
}

func (c *Clock) loop(ctx context.Context, task Task) {
	defer c.wg.Done()
	ticker := time.NewTicker(task.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runOnce(ctx, task)
		}
	}
}

func (c *Clock) runOnce(ctx context.Context, task Task) {
	start := time.Now()
	if err := task.Run(ctx); err != nil {
		c.logger.Warn("maintenance task failed",
			zap.String("task", task.Name), zap.Error(err))
		return
	}
	c.logger.Debug("maintenance task finished",
		zap.String("task", task.Name),
		zap.Duration("took", time.Since(start)))
}

// Package scheduler runs background tasks on a fixed interval without
// overlapping runs.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one run of a periodic job.
type Task func(ctx context.Context) error

// Config configures a Periodic job.
type Config struct {
	Name     string
	Interval time.Duration
	// InitialDelay postpones the first run after Run is called.
	InitialDelay time.Duration
	Logger       logrus.FieldLogger
}

// Periodic runs a task every interval. A run that is still in progress
// when the next is due delays it; runs never overlap.
type Periodic struct {
	name         string
	interval     time.Duration
	initialDelay time.Duration
	task         Task
	log          logrus.FieldLogger

	running sync.Mutex
}

// New creates a Periodic job.
func New(cfg Config, task Task) (*Periodic, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%s: interval must be positive", cfg.Name)
	}
	if cfg.InitialDelay < 0 {
		return nil, fmt.Errorf("%s: initial delay must not be negative", cfg.Name)
	}
	if task == nil {
		return nil, fmt.Errorf("%s: task is required", cfg.Name)
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	return &Periodic{
		name:         cfg.Name,
		interval:     cfg.Interval,
		initialDelay: cfg.InitialDelay,
		task:         task,
		log:          cfg.Logger.WithField("job", cfg.Name),
	}, nil
}

// Name returns the job name.
func (p *Periodic) Name() string { return p.name }

// Run blocks, running the task until ctx is done. A run in progress when
// ctx is cancelled finishes before Run returns.
func (p *Periodic) Run(ctx context.Context) error {
	p.log.WithFields(logrus.Fields{
		"interval":      p.interval,
		"initial_delay": p.initialDelay,
	}).Info("scheduled job started")

	if p.initialDelay > 0 {
		timer := time.NewTimer(p.initialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.log.Info("scheduled job stopped")
			return nil
		case <-timer.C:
		}
	}
	p.RunOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("scheduled job stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			p.RunOnce(ctx)
		}
	}
}

// RunOnce runs the task now unless a run is already in progress. It
// reports whether the task ran.
func (p *Periodic) RunOnce(ctx context.Context) bool {
	if !p.running.TryLock() {
		p.log.Debug("previous run still in progress, skipping")
		return false
	}
	defer p.running.Unlock()

	start := time.Now()
	if err := p.task(ctx); err != nil {
		p.log.WithError(err).WithField("duration", time.Since(start)).Error("scheduled job failed")
		return true
	}
	p.log.WithField("duration", time.Since(start)).Debug("scheduled job completed")
	return true
}

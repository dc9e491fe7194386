package alerting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/good-yellow-bee/lognexus/internal/broadcast"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// Lifecycle moves alert instances through their states.
type Lifecycle struct {
	instances storage.InstanceRepository
	events    broadcast.Broadcaster
	clock     Clock
	log       logrus.FieldLogger
}

// LifecycleConfig configures a Lifecycle.
type LifecycleConfig struct {
	Clock  Clock
	Logger logrus.FieldLogger
}

// NewLifecycle creates a Lifecycle. events may be nil.
func NewLifecycle(instances storage.InstanceRepository, events broadcast.Broadcaster, cfg LifecycleConfig) *Lifecycle {
	if cfg.Clock == nil {
		cfg.Clock = systemClock
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	if events == nil {
		events = broadcast.Nop{}
	}
	return &Lifecycle{
		instances: instances,
		events:    events,
		clock:     cfg.Clock,
		log:       cfg.Logger.WithField("component", "lifecycle"),
	}
}

// Get returns an instance with its notification records.
func (l *Lifecycle) Get(ctx context.Context, id string) (*models.AlertInstance, error) {
	inst, err := l.instances.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	if inst == nil {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return inst, nil
}

// Acknowledge moves a New instance to Acknowledged.
func (l *Lifecycle) Acknowledge(ctx context.Context, id, actor, note string) (*models.AlertInstance, error) {
	return l.transition(ctx, id, models.InstanceAcknowledged, actor, note)
}

// Resolve moves a New or Acknowledged instance to Resolved.
func (l *Lifecycle) Resolve(ctx context.Context, id, actor, note string) (*models.AlertInstance, error) {
	return l.transition(ctx, id, models.InstanceResolved, actor, note)
}

// Suppress moves a New or Acknowledged instance to Suppressed.
func (l *Lifecycle) Suppress(ctx context.Context, id, actor, note string) (*models.AlertInstance, error) {
	return l.transition(ctx, id, models.InstanceSuppressed, actor, note)
}

func (l *Lifecycle) transition(ctx context.Context, id string, to models.InstanceStatus, actor, note string) (*models.AlertInstance, error) {
	now := l.clock()
	changed, err := l.instances.Transition(ctx, id, models.SourcesFor(to), models.Transition{
		To:    to,
		At:    now,
		Actor: actor,
		Note:  note,
	})
	if err != nil {
		return nil, fmt.Errorf("transition instance: %w", err)
	}

	inst, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("instance %s is %s, cannot move to %s: %w", id, inst.Status, to, ErrIllegalTransition)
	}

	metrics.AlertTransitionsTotal.WithLabelValues(string(to)).Inc()
	l.log.WithFields(logrus.Fields{
		"instance_id": id,
		"alert_id":    inst.AlertID,
		"status":      to,
		"actor":       actor,
	}).Info("alert instance transitioned")

	if err := l.events.Publish(ctx, broadcast.InstanceEvent(broadcast.TransitionEvent(to), inst, now)); err != nil {
		l.log.WithError(err).WithField("instance_id", id).Warn("failed to broadcast transition")
	}
	return inst, nil
}

// BulkResult reports the outcome of a bulk transition.
type BulkResult struct {
	Transitioned int      `json:"transitioned"`
	Skipped      []string `json:"skipped"`
}

// BulkAcknowledge acknowledges every eligible instance in ids. Missing and
// ineligible ids are reported as skipped.
func (l *Lifecycle) BulkAcknowledge(ctx context.Context, ids []string, actor, note string) (BulkResult, error) {
	return l.bulk(ctx, ids, models.InstanceAcknowledged, actor, note)
}

// BulkResolve resolves every eligible instance in ids. Missing and
// ineligible ids are reported as skipped.
func (l *Lifecycle) BulkResolve(ctx context.Context, ids []string, actor, note string) (BulkResult, error) {
	return l.bulk(ctx, ids, models.InstanceResolved, actor, note)
}

func (l *Lifecycle) bulk(ctx context.Context, ids []string, to models.InstanceStatus, actor, note string) (BulkResult, error) {
	result := BulkResult{Skipped: []string{}}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		_, err := l.transition(ctx, id, to, actor, note)
		switch {
		case err == nil:
			result.Transitioned++
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrIllegalTransition):
			result.Skipped = append(result.Skipped, id)
		default:
			return result, err
		}
	}
	return result, nil
}

// DeleteOldResolved purges Resolved and Suppressed instances triggered
// before cutoff.
func (l *Lifecycle) DeleteOldResolved(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := l.instances.DeleteOldResolved(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old instances: %w", err)
	}
	if n > 0 {
		l.log.WithFields(logrus.Fields{"deleted": n, "cutoff": cutoff}).Info("purged resolved alert instances")
	}
	return n, nil
}

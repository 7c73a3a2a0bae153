// Package controller runs control loops against the coordinator.
package controller

import (
	"context"
	"time"

	"zoneplane/internal/apperr"
	"zoneplane/internal/logging"
	"zoneplane/internal/metrics"
	"zoneplane/internal/models"
	"zoneplane/internal/service"
)

// DefaultActor is the actor the converger records on its events. With a
// static authorization file it must be listed under admins.
const DefaultActor = "converger"

// Coordinator is the part of the service the converger drives.
type Coordinator interface {
	ListQueued(ctx context.Context, kind models.Kind) ([]service.QueuedRef, error)
	Converge(ctx context.Context, actor string, kind models.Kind, id string, success bool) (service.Settlement, error)
}

// Verdict decides whether a queued change is reported as applied.
type Verdict func(ref service.QueuedRef) bool

// Succeed reports every queued change as applied.
func Succeed(service.QueuedRef) bool {
	return true
}

// Converger stands in for the external reconciler in development setups: it
// periodically settles every QUEUED record.
type Converger struct {
	coord    Coordinator
	actor    string
	interval time.Duration
	verdict  Verdict
	metrics  *metrics.Collector
	log      logging.Logger
}

// Option tunes a Converger.
type Option func(*Converger)

// WithActor sets the actor recorded on convergence events.
func WithActor(actor string) Option {
	return func(c *Converger) { c.actor = actor }
}

// WithVerdict replaces the default always-succeed verdict.
func WithVerdict(v Verdict) Option {
	return func(c *Converger) { c.verdict = v }
}

// WithMetrics reports queue depth per kind to m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Converger) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Converger) { c.log = l }
}

// WithInterval sets the time between passes.
func WithInterval(d time.Duration) Option {
	return func(c *Converger) { c.interval = d }
}

// NewConverger creates a Converger ticking every 5 seconds by default.
func NewConverger(coord Coordinator, opts ...Option) *Converger {
	c := &Converger{
		coord:    coord,
		actor:    DefaultActor,
		interval: 5 * time.Second,
		verdict:  Succeed,
		log:      logging.Noop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start runs the loop until ctx is cancelled.
func (c *Converger) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	c.log.Info(ctx, "converger started", logging.String("interval", c.interval.String()))
	for {
		select {
		case <-ctx.Done():
			c.log.Info(ctx, "converger stopped")
			return
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil {
				c.log.Error(ctx, "converge pass failed", logging.Err(err))
			}
		}
	}
}

// RunOnce settles the records that are QUEUED right now and returns how many
// it settled. Records settled concurrently by someone else are skipped.
func (c *Converger) RunOnce(ctx context.Context) (int, error) {
	refs, err := c.coord.ListQueued(ctx, "")
	if err != nil {
		return 0, err
	}
	c.reportQueued(refs)

	settled := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		s, err := c.coord.Converge(ctx, c.actor, ref.Kind, ref.ID, c.verdict(ref))
		switch {
		case err == nil:
			settled++
			c.log.Debug(ctx, "settled",
				logging.String("kind", string(s.Kind)),
				logging.String("id", s.ID),
				logging.String("status", string(s.Status)))
		case apperr.IsPrecondition(err), apperr.IsNotFound(err):
			c.log.Debug(ctx, "skipped", logging.String("id", ref.ID), logging.Err(err))
		default:
			c.log.Warn(ctx, "converge failed", logging.String("id", ref.ID), logging.Err(err))
		}
	}
	return settled, nil
}

func (c *Converger) reportQueued(refs []service.QueuedRef) {
	counts := make(map[models.Kind]int, len(models.Kinds))
	for _, ref := range refs {
		counts[ref.Kind]++
	}
	for _, k := range models.Kinds {
		c.metrics.SetQueued(string(k), counts[k])
	}
}

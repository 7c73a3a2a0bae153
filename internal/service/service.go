// Package service is the coordinator in front of the allocators, the
// lifecycle state machine and the audit trail. Every mutation runs as one
// store transaction: authorization and business rules are checked, the
// allocators and the state machine compute the new records, and exactly one
// audit event is appended before commit. Committed events are then handed to
// the notification publisher.
package service

import (
	"context"
	"time"

	"zoneplane/internal/allocator"
	"zoneplane/internal/apperr"
	"zoneplane/internal/audit"
	"zoneplane/internal/authz"
	"zoneplane/internal/db"
	"zoneplane/internal/logging"
	"zoneplane/internal/metrics"
	"zoneplane/internal/models"
	"zoneplane/internal/notify"
)

// DefaultMaxRetries bounds allocation attempts after uniqueness conflicts.
const DefaultMaxRetries = 5

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	Subnets    allocator.SubnetAllocator
	Authorizer authz.Authorizer
	Publisher  notify.Publisher
	Metrics    *metrics.Collector
	Logger     logging.Logger
	MaxRetries int
	Backoff    func(retry int) time.Duration
	Clock      func() time.Time
}

// Coordinator serves every read and mutation of the control plane.
type Coordinator struct {
	store      *db.Store
	subnets    allocator.SubnetAllocator
	authz      authz.Authorizer
	publisher  notify.Publisher
	metrics    *metrics.Collector
	log        logging.Logger
	maxRetries int
	backoff    func(retry int) time.Duration
	now        func() time.Time
}

// New builds a Coordinator over store.
func New(store *db.Store, opts Options) *Coordinator {
	c := &Coordinator{
		store:      store,
		subnets:    opts.Subnets,
		authz:      opts.Authorizer,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		now:        opts.Clock,
	}
	if c.subnets.Size == 0 {
		c.subnets = allocator.DefaultSubnetAllocator()
	}
	if c.authz == nil {
		c.authz = authz.AllowAll{}
	}
	if c.publisher == nil {
		c.publisher = notify.Discard{}
	}
	if c.log == nil {
		c.log = logging.Noop()
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.backoff == nil {
		c.backoff = backoffWithJitter
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Store exposes the underlying store for exports and backups.
func (c *Coordinator) Store() *db.Store { return c.store }

func (c *Coordinator) authorize(actor, company string) error {
	if actor == "" {
		return apperr.Validation("actor is required")
	}
	if company == "" {
		return apperr.Validation("company is required")
	}
	if !c.authz.CanAct(actor, company) {
		return apperr.Forbidden(actor, company)
	}
	return nil
}

// IsAdmin reports whether actor may reach operator endpoints.
func (c *Coordinator) IsAdmin(actor string) bool {
	return actor != "" && c.authz.IsAdmin(actor)
}

// unit is the state of one mutation attempt.
type unit struct {
	tx          *db.Tx
	now         time.Time
	events      []models.Event
	transitions []transition
	allocations []allocation
}

type transition struct {
	kind   models.Kind
	status models.Status
}

type allocation struct {
	kind   string
	reused bool
}

// record appends the mutation's audit event inside the transaction.
func (u *unit) record(ctx context.Context, change *audit.Change) error {
	ev, err := audit.Record(ctx, u.tx, change, u.now)
	if err != nil {
		return err
	}
	u.events = append(u.events, ev)
	return nil
}

// moved notes a status change for metrics when it actually changes.
func (u *unit) moved(kind models.Kind, from, to models.Status) {
	if from != to {
		u.transitions = append(u.transitions, transition{kind: kind, status: to})
	}
}

func (u *unit) allocated(kind string, reused bool) {
	u.allocations = append(u.allocations, allocation{kind: kind, reused: reused})
}

// mutate runs fn in a write transaction.
func (c *Coordinator) mutate(ctx context.Context, op string, fn func(u *unit) error) error {
	return c.commit(ctx, op, 1, fn)
}

// allocate is mutate for operations that carve subnets or addresses. A
// uniqueness conflict at commit means a concurrent writer took the same
// block; the attempt is recomputed from a fresh snapshot.
func (c *Coordinator) allocate(ctx context.Context, op string, fn func(u *unit) error) error {
	return c.commit(ctx, op, c.maxRetries, fn)
}

func (c *Coordinator) commit(ctx context.Context, op string, attempts int, fn func(u *unit) error) error {
	var u *unit
	err := retryOnConflict(ctx, attempts, c.backoff, func(retry int) {
		c.metrics.Retried()
		c.log.Debug(ctx, "retrying after uniqueness conflict", logging.String("op", op), logging.Int("retry", retry))
	}, func() error {
		u = &unit{now: c.now().UTC()}
		return c.store.Update(ctx, func(tx *db.Tx) error {
			u.tx = tx
			return fn(u)
		})
	})
	if err != nil {
		if apperr.IsExhausted(err) {
			c.metrics.Exhausted(exhaustedKind(op))
		}
		c.log.Debug(ctx, "mutation rejected", logging.String("op", op), logging.Err(err))
		return err
	}
	c.committed(ctx, op, u)
	return nil
}

func (c *Coordinator) committed(ctx context.Context, op string, u *unit) {
	for _, a := range u.allocations {
		c.metrics.Allocated(a.kind, a.reused)
	}
	for _, t := range u.transitions {
		c.metrics.Transitioned(string(t.kind), string(t.status))
	}
	for _, ev := range u.events {
		c.metrics.EventRecorded(string(ev.Type))
		c.log.Info(ctx, "mutation committed",
			logging.String("op", op),
			logging.String("event", string(ev.Type)),
			logging.String("event_id", ev.ID),
			logging.String("actor", ev.ActorID))
		if err := c.publisher.Publish(ctx, ev); err != nil {
			c.log.Warn(ctx, "event publish failed", logging.String("event_id", ev.ID), logging.Err(err))
		}
	}
}

func exhaustedKind(op string) string {
	if op == "create_zone" {
		return "subnet"
	}
	return "address"
}

// view runs fn in a read transaction. Reads never record events.
func (c *Coordinator) view(ctx context.Context, fn func(tx *db.Tx) error) error {
	return c.store.View(ctx, fn)
}

// live hides DELETED records from single-record lookups.
func live(kind models.Kind, id string, status models.Status, includeDeleted bool) error {
	if status == models.StatusDeleted && !includeDeleted {
		return apperr.NotFound(string(kind), id)
	}
	return nil
}

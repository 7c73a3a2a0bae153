package service

import (
	"context"

	"github.com/google/uuid"

	"zoneplane/internal/apperr"
	"zoneplane/internal/audit"
	"zoneplane/internal/db"
	"zoneplane/internal/lifecycle"
	"zoneplane/internal/models"
)

// CreateWorker registers a worker and queues it for provisioning.
func (c *Coordinator) CreateWorker(ctx context.Context, actor string, in WorkerInput) (models.Worker, error) {
	if err := validateName(models.KindWorker, in.Name); err != nil {
		return models.Worker{}, err
	}
	if err := c.authorize(actor, in.CompanyID); err != nil {
		return models.Worker{}, err
	}
	var w models.Worker
	err := c.mutate(ctx, "create_worker", func(u *unit) error {
		if err := workerNameFree(ctx, u.tx, in.CompanyID, in.Name, ""); err != nil {
			return err
		}
		lc, err := lifecycle.Initial(models.KindWorker)
		if err != nil {
			return err
		}
		w = models.Worker{
			ID:        uuid.NewString(),
			CompanyID: in.CompanyID,
			Name:      in.Name,
			CreatedAt: u.now,
			UpdatedAt: u.now,
			Lifecycle: lc,
		}
		if err := u.tx.CreateWorker(ctx, w); err != nil {
			return err
		}
		u.moved(models.KindWorker, "", w.Status)
		return u.record(ctx, audit.NewChange(models.EventWorkerCreate, actor, w.CompanyID).
			Link(models.KindWorker, w.ID).
			Set(models.PropNewName, w.Name))
	})
	return w, err
}

// UpdateWorker renames a worker. Names are bookkeeping only, so the status
// is unchanged.
func (c *Coordinator) UpdateWorker(ctx context.Context, actor, id, name string) (models.Worker, error) {
	if err := validateName(models.KindWorker, name); err != nil {
		return models.Worker{}, err
	}
	var w models.Worker
	err := c.mutate(ctx, "update_worker", func(u *unit) error {
		var err error
		if w, err = c.loadWorker(ctx, u.tx, actor, id); err != nil {
			return err
		}
		if w.Lifecycle, err = lifecycle.Begin(models.KindWorker, w.Lifecycle, models.OpEdit); err != nil {
			return err
		}
		if err := workerNameFree(ctx, u.tx, w.CompanyID, name, w.ID); err != nil {
			return err
		}
		w.Name = name
		w.UpdatedAt = u.now
		if err := u.tx.UpdateWorker(ctx, w); err != nil {
			return err
		}
		return u.record(ctx, audit.NewChange(models.EventWorkerUpdate, actor, w.CompanyID).
			Link(models.KindWorker, w.ID).
			Set(models.PropNewName, name))
	})
	return w, err
}

// EnableWorker queues an INACTIVE worker for reactivation.
func (c *Coordinator) EnableWorker(ctx context.Context, actor, id string) (models.Worker, error) {
	return c.transitionWorker(ctx, actor, id, models.OpEnable, models.EventWorkerEnable)
}

// DisableWorker queues an ACTIVE worker for deactivation.
func (c *Coordinator) DisableWorker(ctx context.Context, actor, id string) (models.Worker, error) {
	return c.transitionWorker(ctx, actor, id, models.OpDisable, models.EventWorkerDisable)
}

// DeleteWorker queues a worker for teardown. The worker must not hold an
// address or be the target of a transponder.
func (c *Coordinator) DeleteWorker(ctx context.Context, actor, id string) (models.Worker, error) {
	return c.transitionWorker(ctx, actor, id, models.OpDelete, models.EventWorkerDelete)
}

func (c *Coordinator) transitionWorker(ctx context.Context, actor, id string, op models.Op, typ models.EventType) (models.Worker, error) {
	var w models.Worker
	err := c.mutate(ctx, string(op)+"_worker", func(u *unit) error {
		var err error
		if w, err = c.loadWorker(ctx, u.tx, actor, id); err != nil {
			return err
		}
		if op == models.OpDelete {
			if err := workerUnused(ctx, u.tx, w); err != nil {
				return err
			}
		}
		prev := w.Status
		if w.Lifecycle, err = lifecycle.Begin(models.KindWorker, w.Lifecycle, op); err != nil {
			return err
		}
		w.UpdatedAt = u.now
		if err := u.tx.UpdateWorker(ctx, w); err != nil {
			return err
		}
		u.moved(models.KindWorker, prev, w.Status)
		return u.record(ctx, audit.NewChange(typ, actor, w.CompanyID).Link(models.KindWorker, w.ID))
	})
	return w, err
}

func workerUnused(ctx context.Context, tx *db.Tx, w models.Worker) error {
	nodes, err := tx.ListNodes(ctx, db.Filter{WorkerID: w.ID})
	if err != nil {
		return err
	}
	if err := lifecycle.Guard(len(nodes) > 0, "worker_has_node",
		"worker %q still holds %s", w.Name, firstAddress(nodes)); err != nil {
		return err
	}
	trs, err := tx.ListTransponders(ctx, db.Filter{WorkerID: w.ID})
	if err != nil {
		return err
	}
	return lifecycle.Guard(len(trs) > 0, "worker_has_transponders",
		"worker %q is the target of %d transponder(s)", w.Name, len(trs))
}

// GetWorker returns a worker. DELETED workers are reported as not found.
func (c *Coordinator) GetWorker(ctx context.Context, actor, id string) (models.Worker, error) {
	var w models.Worker
	err := c.view(ctx, func(tx *db.Tx) error {
		var err error
		w, err = c.loadWorker(ctx, tx, actor, id)
		return err
	})
	return w, err
}

// ListWorkers returns the company's workers ordered by name.
func (c *Coordinator) ListWorkers(ctx context.Context, actor string, opts ListOptions) ([]models.Worker, error) {
	if err := c.authorize(actor, opts.CompanyID); err != nil {
		return nil, err
	}
	var workers []models.Worker
	err := c.view(ctx, func(tx *db.Tx) error {
		var err error
		workers, err = tx.ListWorkers(ctx, filter(opts))
		return err
	})
	return workers, err
}

func (c *Coordinator) loadWorker(ctx context.Context, tx *db.Tx, actor, id string) (models.Worker, error) {
	if err := validateID(models.KindWorker, id); err != nil {
		return models.Worker{}, err
	}
	w, err := tx.GetWorker(ctx, id)
	if err != nil {
		return w, err
	}
	if err := live(models.KindWorker, id, w.Status, false); err != nil {
		return w, err
	}
	return w, c.authorize(actor, w.CompanyID)
}

func workerNameFree(ctx context.Context, tx *db.Tx, company, name, self string) error {
	workers, err := tx.ListWorkers(ctx, db.Filter{CompanyID: company})
	if err != nil {
		return err
	}
	for _, w := range workers {
		if w.Name == name && w.ID != self {
			return apperr.Conflict("worker %q already exists", name)
		}
	}
	return nil
}

func firstAddress(nodes []models.Node) string {
	if len(nodes) == 0 {
		return ""
	}
	return nodes[0].Address
}

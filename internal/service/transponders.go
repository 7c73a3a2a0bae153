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

// CreateTransponder maps protocol/port on a portal to a port on a worker.
// (portal, protocol, port, path) is unique among live transponders.
func (c *Coordinator) CreateTransponder(ctx context.Context, actor string, in TransponderInput) (models.Transponder, error) {
	in, err := in.normalize()
	if err != nil {
		return models.Transponder{}, err
	}
	if err := c.authorize(actor, in.CompanyID); err != nil {
		return models.Transponder{}, err
	}
	var tr models.Transponder
	err = c.mutate(ctx, "create_transponder", func(u *unit) error {
		if err := c.checkPortal(ctx, u.tx, actor, in.PortalID, in.CompanyID); err != nil {
			return err
		}
		if err := c.checkEndpoint(ctx, u.tx, actor, models.KindWorker, in.WorkerID, in.CompanyID); err != nil {
			return err
		}
		lc, err := lifecycle.Initial(models.KindTransponder)
		if err != nil {
			return err
		}
		tr = models.Transponder{
			ID:         uuid.NewString(),
			CompanyID:  in.CompanyID,
			PortalID:   in.PortalID,
			WorkerID:   in.WorkerID,
			Protocol:   in.Protocol,
			Port:       in.Port,
			TargetPort: in.TargetPort,
			Path:       in.Path,
			Priority:   in.Priority,
			CreatedAt:  u.now,
			UpdatedAt:  u.now,
			Lifecycle:  lc,
		}
		if err := bindingFree(ctx, u.tx, tr); err != nil {
			return err
		}
		if err := u.tx.CreateTransponder(ctx, tr); err != nil {
			return err
		}
		u.moved(models.KindTransponder, "", tr.Status)
		change := audit.NewChange(models.EventTransponderCreate, actor, tr.CompanyID).
			Link(models.KindTransponder, tr.ID).
			Link(models.KindPortal, tr.PortalID).
			Link(models.KindWorker, tr.WorkerID).
			Set(models.PropNewProtocol, tr.Protocol).
			Set(models.PropNewPort, itoa(tr.Port)).
			Set(models.PropNewTargetPort, itoa(tr.TargetPort))
		if tr.Path != "" {
			change.Set(models.PropNewPath, tr.Path)
		}
		return u.record(ctx, change)
	})
	return tr, err
}

// UpdateTransponder applies patch to an ACTIVE transponder and queues it.
// Each changed field is recorded on the event.
func (c *Coordinator) UpdateTransponder(ctx context.Context, actor, id string, patch TransponderPatch) (models.Transponder, error) {
	var tr models.Transponder
	err := c.mutate(ctx, "update_transponder", func(u *unit) error {
		var err error
		if tr, err = c.loadTransponder(ctx, u.tx, actor, id); err != nil {
			return err
		}
		lc, err := lifecycle.Begin(models.KindTransponder, tr.Lifecycle, models.OpUpdate)
		if err != nil {
			return err
		}
		next, change, err := c.applyPatch(ctx, u.tx, actor, tr, patch)
		if err != nil {
			return err
		}
		prev := tr.Status
		next.Lifecycle = lc
		if err := bindingFree(ctx, u.tx, next); err != nil {
			return err
		}
		next.UpdatedAt = u.now
		if err := u.tx.UpdateTransponder(ctx, next); err != nil {
			return err
		}
		tr = next
		u.moved(models.KindTransponder, prev, tr.Status)
		return u.record(ctx, change)
	})
	return tr, err
}

// applyPatch returns the patched transponder and the change describing it.
func (c *Coordinator) applyPatch(ctx context.Context, tx *db.Tx, actor string, tr models.Transponder, p TransponderPatch) (models.Transponder, *audit.Change, error) {
	next := tr
	if p.WorkerID != nil {
		next.WorkerID = *p.WorkerID
	}
	if p.Protocol != nil {
		next.Protocol = *p.Protocol
	}
	if p.Port != nil {
		next.Port = *p.Port
	}
	if p.TargetPort != nil {
		next.TargetPort = *p.TargetPort
	}
	if p.Path != nil {
		next.Path = *p.Path
	} else if p.Protocol != nil && *p.Protocol != "http" {
		next.Path = ""
	}
	if p.Priority != nil {
		next.Priority = *p.Priority
	}

	if err := validatePort("port", next.Port); err != nil {
		return tr, nil, err
	}
	if err := validatePort("target port", next.TargetPort); err != nil {
		return tr, nil, err
	}
	protocol, path, err := normalizeRoute(next.Protocol, next.Path, next.Priority)
	if err != nil {
		return tr, nil, err
	}
	next.Protocol, next.Path = protocol, path

	change := audit.NewChange(models.EventTransponderUpdate, actor, tr.CompanyID).
		Link(models.KindTransponder, tr.ID).
		Link(models.KindPortal, tr.PortalID)
	changed := false
	if next.WorkerID != tr.WorkerID {
		if err := c.checkEndpoint(ctx, tx, actor, models.KindWorker, next.WorkerID, tr.CompanyID); err != nil {
			return tr, nil, err
		}
		change.Link(models.KindWorker, next.WorkerID)
		changed = true
	}
	if next.Protocol != tr.Protocol {
		change.Set(models.PropNewProtocol, next.Protocol)
		changed = true
	}
	if next.Port != tr.Port {
		change.Set(models.PropNewPort, itoa(next.Port))
		changed = true
	}
	if next.TargetPort != tr.TargetPort {
		change.Set(models.PropNewTargetPort, itoa(next.TargetPort))
		changed = true
	}
	if next.Path != tr.Path {
		change.Set(models.PropNewPath, next.Path)
		changed = true
	}
	if next.Priority != tr.Priority {
		change.Set(models.PropNewPriority, itoa(next.Priority))
		changed = true
	}
	if !changed {
		return tr, nil, apperr.Validation("transponder update changes nothing")
	}
	return next, change, nil
}

// EnableTransponder queues an INACTIVE transponder for reactivation.
func (c *Coordinator) EnableTransponder(ctx context.Context, actor, id string) (models.Transponder, error) {
	return c.transitionTransponder(ctx, actor, id, models.OpEnable, models.EventTransponderEnable)
}

// DisableTransponder queues an ACTIVE transponder for deactivation.
func (c *Coordinator) DisableTransponder(ctx context.Context, actor, id string) (models.Transponder, error) {
	return c.transitionTransponder(ctx, actor, id, models.OpDisable, models.EventTransponderDisable)
}

// DeleteTransponder queues a transponder for teardown.
func (c *Coordinator) DeleteTransponder(ctx context.Context, actor, id string) (models.Transponder, error) {
	return c.transitionTransponder(ctx, actor, id, models.OpDelete, models.EventTransponderDelete)
}

func (c *Coordinator) transitionTransponder(ctx context.Context, actor, id string, op models.Op, typ models.EventType) (models.Transponder, error) {
	var tr models.Transponder
	err := c.mutate(ctx, string(op)+"_transponder", func(u *unit) error {
		var err error
		if tr, err = c.loadTransponder(ctx, u.tx, actor, id); err != nil {
			return err
		}
		prev := tr.Status
		if tr.Lifecycle, err = lifecycle.Begin(models.KindTransponder, tr.Lifecycle, op); err != nil {
			return err
		}
		tr.UpdatedAt = u.now
		if err := u.tx.UpdateTransponder(ctx, tr); err != nil {
			return err
		}
		u.moved(models.KindTransponder, prev, tr.Status)
		return u.record(ctx, audit.NewChange(typ, actor, tr.CompanyID).
			Link(models.KindTransponder, tr.ID).
			Link(models.KindPortal, tr.PortalID))
	})
	return tr, err
}

// GetTransponder returns a transponder. DELETED ones are reported as not
// found.
func (c *Coordinator) GetTransponder(ctx context.Context, actor, id string) (models.Transponder, error) {
	var tr models.Transponder
	err := c.view(ctx, func(tx *db.Tx) error {
		var err error
		tr, err = c.loadTransponder(ctx, tx, actor, id)
		return err
	})
	return tr, err
}

// ListTransponders returns the company's transponders.
func (c *Coordinator) ListTransponders(ctx context.Context, actor string, q TransponderQuery) ([]models.Transponder, error) {
	if err := c.authorize(actor, q.CompanyID); err != nil {
		return nil, err
	}
	f := filter(q.ListOptions)
	f.PortalID, f.WorkerID = q.PortalID, q.WorkerID
	var out []models.Transponder
	err := c.view(ctx, func(tx *db.Tx) error {
		var err error
		out, err = tx.ListTransponders(ctx, f)
		return err
	})
	return out, err
}

func (c *Coordinator) loadTransponder(ctx context.Context, tx *db.Tx, actor, id string) (models.Transponder, error) {
	if err := validateID(models.KindTransponder, id); err != nil {
		return models.Transponder{}, err
	}
	tr, err := tx.GetTransponder(ctx, id)
	if err != nil {
		return tr, err
	}
	if err := live(models.KindTransponder, id, tr.Status, false); err != nil {
		return tr, err
	}
	return tr, c.authorize(actor, tr.CompanyID)
}

// checkPortal verifies the portal belongs to company and is usable.
func (c *Coordinator) checkPortal(ctx context.Context, tx *db.Tx, actor, id, company string) error {
	return c.checkEndpoint(ctx, tx, actor, models.KindPortal, id, company)
}

func bindingFree(ctx context.Context, tx *db.Tx, tr models.Transponder) error {
	siblings, err := tx.ListTransponders(ctx, db.Filter{PortalID: tr.PortalID})
	if err != nil {
		return err
	}
	for _, s := range siblings {
		if s.ID == tr.ID {
			continue
		}
		if s.Protocol == tr.Protocol && s.Port == tr.Port && s.Path == tr.Path {
			if tr.Path != "" {
				return apperr.Conflict("%s port %d path %s is already mapped on this portal", tr.Protocol, tr.Port, tr.Path)
			}
			return apperr.Conflict("%s port %d is already mapped on this portal", tr.Protocol, tr.Port)
		}
	}
	return nil
}

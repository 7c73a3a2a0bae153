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

// CreatePortal registers a portal under a DNS hostname and queues it.
func (c *Coordinator) CreatePortal(ctx context.Context, actor string, in PortalInput) (models.Portal, error) {
	in, err := in.normalize()
	if err != nil {
		return models.Portal{}, err
	}
	if err := c.authorize(actor, in.CompanyID); err != nil {
		return models.Portal{}, err
	}
	var p models.Portal
	err = c.mutate(ctx, "create_portal", func(u *unit) error {
		if err := hostnameFree(ctx, u.tx, in.Hostname, ""); err != nil {
			return err
		}
		lc, err := lifecycle.Initial(models.KindPortal)
		if err != nil {
			return err
		}
		p = models.Portal{
			ID:        uuid.NewString(),
			CompanyID: in.CompanyID,
			Name:      in.Name,
			Hostname:  in.Hostname,
			CreatedAt: u.now,
			UpdatedAt: u.now,
			Lifecycle: lc,
		}
		if err := u.tx.CreatePortal(ctx, p); err != nil {
			return err
		}
		u.moved(models.KindPortal, "", p.Status)
		return u.record(ctx, audit.NewChange(models.EventPortalCreate, actor, p.CompanyID).
			Link(models.KindPortal, p.ID).
			Set(models.PropNewName, p.Name).
			Set(models.PropNewHostname, p.Hostname))
	})
	return p, err
}

// UpdatePortal changes the name and/or hostname. A hostname change is
// published through DNS: the portal is queued and the event asks the
// reconciler for a full resync. A rename alone keeps the status.
func (c *Coordinator) UpdatePortal(ctx context.Context, actor, id string, patch PortalPatch) (models.Portal, error) {
	if patch.Name != nil {
		if err := validateName(models.KindPortal, *patch.Name); err != nil {
			return models.Portal{}, err
		}
	}
	var hostname string
	if patch.Hostname != nil {
		h, err := normalizeHostname(*patch.Hostname)
		if err != nil {
			return models.Portal{}, err
		}
		hostname = h
	}

	var p models.Portal
	err := c.mutate(ctx, "update_portal", func(u *unit) error {
		var err error
		if p, err = c.loadPortal(ctx, u.tx, actor, id); err != nil {
			return err
		}
		change := audit.NewChange(models.EventPortalUpdate, actor, p.CompanyID).Link(models.KindPortal, p.ID)
		renamed := patch.Name != nil && *patch.Name != p.Name
		rehost := patch.Hostname != nil && hostname != p.Hostname
		if !renamed && !rehost {
			return apperr.Validation("portal update changes nothing")
		}

		op := models.OpEdit
		if rehost {
			op = models.OpUpdate
		}
		prev := p.Status
		if p.Lifecycle, err = lifecycle.Begin(models.KindPortal, p.Lifecycle, op); err != nil {
			return err
		}
		if renamed {
			p.Name = *patch.Name
			change.Set(models.PropNewName, p.Name)
		}
		if rehost {
			if err := hostnameFree(ctx, u.tx, hostname, p.ID); err != nil {
				return err
			}
			p.Hostname = hostname
			change.Set(models.PropNewHostname, hostname).Set(models.PropForceResync, "true")
		}
		p.UpdatedAt = u.now
		if err := u.tx.UpdatePortal(ctx, p); err != nil {
			return err
		}
		u.moved(models.KindPortal, prev, p.Status)
		return u.record(ctx, change)
	})
	return p, err
}

// EnablePortal queues an INACTIVE portal for reactivation.
func (c *Coordinator) EnablePortal(ctx context.Context, actor, id string) (models.Portal, error) {
	return c.transitionPortal(ctx, actor, id, models.OpEnable, models.EventPortalEnable)
}

// DisablePortal queues an ACTIVE portal for deactivation.
func (c *Coordinator) DisablePortal(ctx context.Context, actor, id string) (models.Portal, error) {
	return c.transitionPortal(ctx, actor, id, models.OpDisable, models.EventPortalDisable)
}

// DeletePortal queues a portal for teardown. It must have no live
// transponders and hold no address.
func (c *Coordinator) DeletePortal(ctx context.Context, actor, id string) (models.Portal, error) {
	return c.transitionPortal(ctx, actor, id, models.OpDelete, models.EventPortalDelete)
}

func (c *Coordinator) transitionPortal(ctx context.Context, actor, id string, op models.Op, typ models.EventType) (models.Portal, error) {
	var p models.Portal
	err := c.mutate(ctx, string(op)+"_portal", func(u *unit) error {
		var err error
		if p, err = c.loadPortal(ctx, u.tx, actor, id); err != nil {
			return err
		}
		if op == models.OpDelete {
			if err := portalUnused(ctx, u.tx, p); err != nil {
				return err
			}
		}
		prev := p.Status
		if p.Lifecycle, err = lifecycle.Begin(models.KindPortal, p.Lifecycle, op); err != nil {
			return err
		}
		p.UpdatedAt = u.now
		if err := u.tx.UpdatePortal(ctx, p); err != nil {
			return err
		}
		u.moved(models.KindPortal, prev, p.Status)
		return u.record(ctx, audit.NewChange(typ, actor, p.CompanyID).Link(models.KindPortal, p.ID))
	})
	return p, err
}

func portalUnused(ctx context.Context, tx *db.Tx, p models.Portal) error {
	trs, err := tx.ListTransponders(ctx, db.Filter{PortalID: p.ID})
	if err != nil {
		return err
	}
	if err := lifecycle.Guard(len(trs) > 0, "portal_has_transponders",
		"portal %q still has %d transponder(s)", p.Hostname, len(trs)); err != nil {
		return err
	}
	nodes, err := tx.ListNodes(ctx, db.Filter{PortalID: p.ID})
	if err != nil {
		return err
	}
	return lifecycle.Guard(len(nodes) > 0, "portal_has_node",
		"portal %q still holds %s", p.Hostname, firstAddress(nodes))
}

// GetPortal returns a portal. DELETED portals are reported as not found.
func (c *Coordinator) GetPortal(ctx context.Context, actor, id string) (models.Portal, error) {
	var p models.Portal
	err := c.view(ctx, func(tx *db.Tx) error {
		var err error
		p, err = c.loadPortal(ctx, tx, actor, id)
		return err
	})
	return p, err
}

// ListPortals returns the company's portals ordered by hostname.
func (c *Coordinator) ListPortals(ctx context.Context, actor string, opts ListOptions) ([]models.Portal, error) {
	if err := c.authorize(actor, opts.CompanyID); err != nil {
		return nil, err
	}
	var portals []models.Portal
	err := c.view(ctx, func(tx *db.Tx) error {
		var err error
		portals, err = tx.ListPortals(ctx, filter(opts))
		return err
	})
	return portals, err
}

func (c *Coordinator) loadPortal(ctx context.Context, tx *db.Tx, actor, id string) (models.Portal, error) {
	if err := validateID(models.KindPortal, id); err != nil {
		return models.Portal{}, err
	}
	p, err := tx.GetPortal(ctx, id)
	if err != nil {
		return p, err
	}
	if err := live(models.KindPortal, id, p.Status, false); err != nil {
		return p, err
	}
	return p, c.authorize(actor, p.CompanyID)
}

// hostnameFree checks hostnames across all companies: they are public DNS
// names.
func hostnameFree(ctx context.Context, tx *db.Tx, hostname, self string) error {
	portals, err := tx.ListPortals(ctx, db.Filter{})
	if err != nil {
		return err
	}
	for _, p := range portals {
		if p.Hostname == hostname && p.ID != self {
			return apperr.Conflict("hostname %q is already in use", hostname)
		}
	}
	return nil
}

package service

import (
	"context"

	"github.com/google/uuid"

	"zoneplane/internal/allocator"
	"zoneplane/internal/apperr"
	"zoneplane/internal/audit"
	"zoneplane/internal/db"
	"zoneplane/internal/lifecycle"
	"zoneplane/internal/models"
	"zoneplane/internal/netutil"
)

// AssignWorker binds a worker to an address in the zone, reusing a released
// node before minting a new one. A worker that already holds an address in
// another zone is moved: its previous node is released in the same unit of
// work.
func (c *Coordinator) AssignWorker(ctx context.Context, actor, zoneID, workerID string) (Assignment, error) {
	return c.assign(ctx, actor, zoneID, models.KindWorker, workerID)
}

// AssignPortal binds a portal to an address in the zone.
func (c *Coordinator) AssignPortal(ctx context.Context, actor, zoneID, portalID string) (Assignment, error) {
	return c.assign(ctx, actor, zoneID, models.KindPortal, portalID)
}

func (c *Coordinator) assign(ctx context.Context, actor, zoneID string, kind models.Kind, endpointID string) (Assignment, error) {
	if err := validateID(kind, endpointID); err != nil {
		return Assignment{}, err
	}
	var out Assignment
	err := c.allocate(ctx, "assign_"+string(kind), func(u *unit) error {
		out = Assignment{}
		zone, err := c.loadZone(ctx, u.tx, actor, zoneID)
		if err != nil {
			return err
		}
		if err := lifecycle.RequireActive(models.KindZone, zone.ID, zone.Status); err != nil {
			return err
		}
		if err := c.checkEndpoint(ctx, u.tx, actor, kind, endpointID, zone.CompanyID); err != nil {
			return err
		}

		f := db.Filter{WorkerID: endpointID}
		if kind == models.KindPortal {
			f = db.Filter{PortalID: endpointID}
		}
		held, err := u.tx.ListNodes(ctx, f)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			old := held[0]
			if old.ZoneID == zone.ID {
				return apperr.Conflict("%s %q already holds %s in zone %q", kind, endpointID, old.Address, zone.Name)
			}
			rel, err := c.release(ctx, u, old)
			if err != nil {
				return err
			}
			out.Released = &rel
		}

		node, reused, err := c.placeNode(ctx, u, zone, func(n *models.Node) {
			if kind == models.KindWorker {
				n.WorkerID = endpointID
			} else {
				n.PortalID = endpointID
			}
		})
		if err != nil {
			return err
		}
		out.Node, out.Reused = node, reused

		typ := models.EventNodeAssignWorker
		if kind == models.KindPortal {
			typ = models.EventNodeAssignPortal
		}
		change := audit.NewChange(typ, actor, zone.CompanyID).
			Link(models.KindNode, node.ID).
			Link(kind, endpointID).
			Link(models.KindZone, zone.ID).
			Set(models.PropNewAddress, node.Address)
		if out.Released != nil {
			change.Link(models.KindNode, out.Released.ID).
				Set(models.PropPreviousZone, out.Released.ZoneID)
		}
		return u.record(ctx, change)
	})
	return out, err
}

// checkEndpoint verifies the endpoint exists, belongs to company and is
// usable: ACTIVE, or still being created.
func (c *Coordinator) checkEndpoint(ctx context.Context, tx *db.Tx, actor string, kind models.Kind, id, company string) error {
	var owner string
	var lc models.Lifecycle
	switch kind {
	case models.KindWorker:
		w, err := c.loadWorker(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		owner, lc = w.CompanyID, w.Lifecycle
	case models.KindPortal:
		p, err := c.loadPortal(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		owner, lc = p.CompanyID, p.Lifecycle
	default:
		return apperr.Validation("%s cannot hold an address", kind)
	}
	if owner != company {
		return apperr.Precondition("company_mismatch", "%s %q belongs to another company", kind, id)
	}
	return lifecycle.RequireUsable(kind, id, lc)
}

// placeNode picks the next free address of zone and either recycles the
// released node at that address or mints a new one.
func (c *Coordinator) placeNode(ctx context.Context, u *unit, zone models.Zone, bind func(*models.Node)) (models.Node, bool, error) {
	sn, gw, err := zoneSubnet(zone)
	if err != nil {
		return models.Node{}, false, err
	}
	records, err := nodeRecords(ctx, u.tx, zone.ID)
	if err != nil {
		return models.Node{}, false, err
	}
	decision, err := allocator.NextAddress(sn, gw, records)
	if err != nil {
		return models.Node{}, false, err
	}

	if decision.Reuse() {
		node, err := u.tx.GetNode(ctx, decision.ReuseID)
		if err != nil {
			return node, false, err
		}
		prev := node.Status
		// A released node still waiting on its teardown keeps the queued
		// update; the reconciler picks up the new binding with it.
		if node.Status != models.StatusQueued {
			if node.Lifecycle, err = lifecycle.Begin(models.KindNode, node.Lifecycle, models.OpUpdate); err != nil {
				return node, false, err
			}
		}
		bind(&node)
		node.UpdatedAt = u.now
		if err := u.tx.UpdateNode(ctx, node); err != nil {
			return node, false, err
		}
		u.moved(models.KindNode, prev, node.Status)
		u.allocated("address", true)
		return node, true, nil
	}

	lc, err := lifecycle.Initial(models.KindNode)
	if err != nil {
		return models.Node{}, false, err
	}
	node := models.Node{
		ID:        uuid.NewString(),
		ZoneID:    zone.ID,
		CompanyID: zone.CompanyID,
		Address:   decision.Addr(),
		CreatedAt: u.now,
		UpdatedAt: u.now,
		Lifecycle: lc,
	}
	bind(&node)
	if err := u.tx.CreateNode(ctx, node); err != nil {
		return node, false, err
	}
	u.moved(models.KindNode, "", node.Status)
	u.allocated("address", false)
	return node, false, nil
}

// release detaches the endpoint of an ACTIVE node and queues the teardown.
// The node keeps its address until the reconciler confirms.
func (c *Coordinator) release(ctx context.Context, u *unit, node models.Node) (models.Node, error) {
	prev := node.Status
	var err error
	if node.Lifecycle, err = lifecycle.Begin(models.KindNode, node.Lifecycle, models.OpUpdate); err != nil {
		return node, err
	}
	node.WorkerID, node.PortalID = "", ""
	node.UpdatedAt = u.now
	if err := u.tx.UpdateNode(ctx, node); err != nil {
		return node, err
	}
	u.moved(models.KindNode, prev, node.Status)
	return node, nil
}

// UnassignNode detaches the node's endpoint. Once the reconciler confirms,
// the node is free and is reused by the next assignment in its zone.
func (c *Coordinator) UnassignNode(ctx context.Context, actor, id string) (models.Node, error) {
	var node models.Node
	err := c.mutate(ctx, "unassign_node", func(u *unit) error {
		var err error
		if node, err = c.loadNode(ctx, u.tx, actor, id); err != nil {
			return err
		}
		if err := lifecycle.Guard(!node.Bound(), "node_not_assigned", "node %s has no endpoint", node.Address); err != nil {
			return err
		}
		change := audit.NewChange(models.EventNodeUnassign, actor, node.CompanyID).
			Link(models.KindNode, node.ID).
			Link(models.KindZone, node.ZoneID)
		if node.WorkerID != "" {
			change.Link(models.KindWorker, node.WorkerID)
		} else {
			change.Link(models.KindPortal, node.PortalID)
		}
		if node, err = c.release(ctx, u, node); err != nil {
			return err
		}
		return u.record(ctx, change)
	})
	return node, err
}

// DeleteNode queues a free node for removal, returning its address to the
// zone once confirmed.
func (c *Coordinator) DeleteNode(ctx context.Context, actor, id string) (models.Node, error) {
	var node models.Node
	err := c.mutate(ctx, "delete_node", func(u *unit) error {
		var err error
		if node, err = c.loadNode(ctx, u.tx, actor, id); err != nil {
			return err
		}
		if err := lifecycle.Guard(node.Bound(), "node_assigned", "node %s is still assigned", node.Address); err != nil {
			return err
		}
		prev := node.Status
		if node.Lifecycle, err = lifecycle.Begin(models.KindNode, node.Lifecycle, models.OpDelete); err != nil {
			return err
		}
		node.UpdatedAt = u.now
		if err := u.tx.UpdateNode(ctx, node); err != nil {
			return err
		}
		u.moved(models.KindNode, prev, node.Status)
		return u.record(ctx, audit.NewChange(models.EventNodeDelete, actor, node.CompanyID).
			Link(models.KindNode, node.ID).
			Link(models.KindZone, node.ZoneID))
	})
	return node, err
}

// GetNode returns a node. DELETED nodes are reported as not found.
func (c *Coordinator) GetNode(ctx context.Context, actor, id string) (models.Node, error) {
	var node models.Node
	err := c.view(ctx, func(tx *db.Tx) error {
		var err error
		node, err = c.loadNode(ctx, tx, actor, id)
		return err
	})
	return node, err
}

// ListNodes returns the company's nodes ordered by zone and address.
func (c *Coordinator) ListNodes(ctx context.Context, actor string, q NodeQuery) ([]models.Node, error) {
	if err := c.authorize(actor, q.CompanyID); err != nil {
		return nil, err
	}
	f := filter(q.ListOptions)
	f.ZoneID, f.WorkerID, f.PortalID = q.ZoneID, q.WorkerID, q.PortalID
	var nodes []models.Node
	err := c.view(ctx, func(tx *db.Tx) error {
		var err error
		nodes, err = tx.ListNodes(ctx, f)
		return err
	})
	return nodes, err
}

func (c *Coordinator) loadNode(ctx context.Context, tx *db.Tx, actor, id string) (models.Node, error) {
	if err := validateID(models.KindNode, id); err != nil {
		return models.Node{}, err
	}
	node, err := tx.GetNode(ctx, id)
	if err != nil {
		return node, err
	}
	if err := live(models.KindNode, id, node.Status, false); err != nil {
		return node, err
	}
	return node, c.authorize(actor, node.CompanyID)
}

func zoneSubnet(zone models.Zone) (netutil.Subnet, uint32, error) {
	sn, err := netutil.ParseSubnet(zone.CIDR)
	if err != nil {
		return sn, 0, err
	}
	gw, err := netutil.ParseIPv4(zone.Gateway)
	return sn, gw, err
}

// nodeRecords is the allocator's view of the zone's non-deleted nodes.
func nodeRecords(ctx context.Context, tx *db.Tx, zoneID string) ([]allocator.NodeRecord, error) {
	nodes, err := tx.ListNodes(ctx, db.Filter{ZoneID: zoneID})
	if err != nil {
		return nil, err
	}
	records := make([]allocator.NodeRecord, 0, len(nodes))
	for _, n := range nodes {
		addr, err := netutil.ParseIPv4(n.Address)
		if err != nil {
			return nil, err
		}
		records = append(records, allocator.NodeRecord{ID: n.ID, Address: addr, Status: n.Status, Pending: n.Pending, Bound: n.Bound()})
	}
	return records, nil
}

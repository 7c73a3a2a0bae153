package service

import (
	"context"
	"time"

	"zoneplane/internal/apperr"
	"zoneplane/internal/audit"
	"zoneplane/internal/db"
	"zoneplane/internal/lifecycle"
	"zoneplane/internal/models"
)

// Settlement is the outcome of Converge.
type Settlement struct {
	Kind      models.Kind   `json:"kind"`
	ID        string        `json:"id"`
	CompanyID string        `json:"company_id"`
	Op        models.Op     `json:"op"`
	Success   bool          `json:"success"`
	Status    models.Status `json:"status"`
}

// Converge records the reconciler's verdict on a QUEUED record: success
// applies the pending operation, failure restores the previous status.
// Endpoint bindings are not rolled back; a node whose assignment failed
// keeps its pointer and can be unassigned once it is ACTIVE again.
func (c *Coordinator) Converge(ctx context.Context, actor string, kind models.Kind, id string, success bool) (Settlement, error) {
	if err := validateID(kind, id); err != nil {
		return Settlement{}, err
	}
	var out Settlement
	err := c.mutate(ctx, "converge_"+string(kind), func(u *unit) error {
		rec, err := loadTracked(ctx, u.tx, kind, id)
		if err != nil {
			return err
		}
		if err := c.authorize(actor, rec.company); err != nil {
			return err
		}
		next, err := lifecycle.Settle(rec.lc, success)
		if err != nil {
			return err
		}
		if err := rec.save(next, u.now); err != nil {
			return err
		}
		u.moved(kind, rec.lc.Status, next.Status)
		out = Settlement{Kind: kind, ID: id, CompanyID: rec.company, Op: rec.lc.Pending, Success: success, Status: next.Status}

		typ := models.EventResourceConverged
		if !success {
			typ = models.EventResourceRollback
		}
		return u.record(ctx, audit.NewChange(typ, actor, rec.company).
			Link(kind, id).
			Set(models.PropNewStatus, string(next.Status)).
			WithPayload(string(rec.lc.Pending)))
	})
	return out, err
}

// ListQueued returns records awaiting the reconciler across all companies,
// for one kind or every kind when kind is empty.
func (c *Coordinator) ListQueued(ctx context.Context, kind models.Kind) ([]QueuedRef, error) {
	kinds := models.Kinds
	if kind != "" {
		if !lifecycle.Supports(kind, models.OpCreate) {
			return nil, apperr.Validation("unknown resource kind %q", kind)
		}
		kinds = []models.Kind{kind}
	}
	var out []QueuedRef
	err := c.view(ctx, func(tx *db.Tx) error {
		f := db.Filter{Status: models.StatusQueued}
		for _, k := range kinds {
			refs, err := queued(ctx, tx, k, f)
			if err != nil {
				return err
			}
			out = append(out, refs...)
		}
		return nil
	})
	return out, err
}

func queued(ctx context.Context, tx *db.Tx, kind models.Kind, f db.Filter) ([]QueuedRef, error) {
	var refs []QueuedRef
	add := func(id, company string, lc models.Lifecycle) {
		refs = append(refs, QueuedRef{Kind: kind, ID: id, CompanyID: company, Pending: lc.Pending, Previous: lc.Previous})
	}
	switch kind {
	case models.KindZone:
		zones, err := tx.ListZones(ctx, f)
		for _, z := range zones {
			add(z.ID, z.CompanyID, z.Lifecycle)
		}
		return refs, err
	case models.KindNode:
		nodes, err := tx.ListNodes(ctx, f)
		for _, n := range nodes {
			add(n.ID, n.CompanyID, n.Lifecycle)
		}
		return refs, err
	case models.KindWorker:
		workers, err := tx.ListWorkers(ctx, f)
		for _, w := range workers {
			add(w.ID, w.CompanyID, w.Lifecycle)
		}
		return refs, err
	case models.KindPortal:
		portals, err := tx.ListPortals(ctx, f)
		for _, p := range portals {
			add(p.ID, p.CompanyID, p.Lifecycle)
		}
		return refs, err
	case models.KindTransponder:
		trs, err := tx.ListTransponders(ctx, f)
		for _, t := range trs {
			add(t.ID, t.CompanyID, t.Lifecycle)
		}
		return refs, err
	}
	return nil, apperr.Validation("unknown resource kind %q", kind)
}

// tracked is a kind-agnostic handle on a record's lifecycle.
type tracked struct {
	company string
	lc      models.Lifecycle
	save    func(lc models.Lifecycle, now time.Time) error
}

func loadTracked(ctx context.Context, tx *db.Tx, kind models.Kind, id string) (tracked, error) {
	switch kind {
	case models.KindZone:
		z, err := tx.GetZone(ctx, id)
		return tracked{z.CompanyID, z.Lifecycle, func(lc models.Lifecycle, now time.Time) error {
			z.Lifecycle, z.UpdatedAt = lc, now
			return tx.UpdateZone(ctx, z)
		}}, err
	case models.KindNode:
		n, err := tx.GetNode(ctx, id)
		return tracked{n.CompanyID, n.Lifecycle, func(lc models.Lifecycle, now time.Time) error {
			n.Lifecycle, n.UpdatedAt = lc, now
			return tx.UpdateNode(ctx, n)
		}}, err
	case models.KindWorker:
		w, err := tx.GetWorker(ctx, id)
		return tracked{w.CompanyID, w.Lifecycle, func(lc models.Lifecycle, now time.Time) error {
			w.Lifecycle, w.UpdatedAt = lc, now
			return tx.UpdateWorker(ctx, w)
		}}, err
	case models.KindPortal:
		p, err := tx.GetPortal(ctx, id)
		return tracked{p.CompanyID, p.Lifecycle, func(lc models.Lifecycle, now time.Time) error {
			p.Lifecycle, p.UpdatedAt = lc, now
			return tx.UpdatePortal(ctx, p)
		}}, err
	case models.KindTransponder:
		t, err := tx.GetTransponder(ctx, id)
		return tracked{t.CompanyID, t.Lifecycle, func(lc models.Lifecycle, now time.Time) error {
			t.Lifecycle, t.UpdatedAt = lc, now
			return tx.UpdateTransponder(ctx, t)
		}}, err
	}
	return tracked{}, apperr.Validation("unknown resource kind %q", kind)
}

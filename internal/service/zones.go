package service

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"zoneplane/internal/apperr"
	"zoneplane/internal/audit"
	"zoneplane/internal/db"
	"zoneplane/internal/lifecycle"
	"zoneplane/internal/models"
)

// CreateZone carves the next subnet of the pool and queues the zone for
// provisioning.
func (c *Coordinator) CreateZone(ctx context.Context, actor string, in ZoneInput) (models.Zone, error) {
	in, err := in.normalize()
	if err != nil {
		return models.Zone{}, err
	}
	if err := c.authorize(actor, in.CompanyID); err != nil {
		return models.Zone{}, err
	}

	var zone models.Zone
	err = c.allocate(ctx, "create_zone", func(u *unit) error {
		if err := c.zoneNameFree(ctx, u.tx, in.CompanyID, in.Name, ""); err != nil {
			return err
		}
		existing, err := u.tx.ZoneSubnets(ctx, in.Pool)
		if err != nil {
			return err
		}
		block, err := c.subnets.Next(existing, in.Size)
		if err != nil {
			return err
		}
		lc, err := lifecycle.Initial(models.KindZone)
		if err != nil {
			return err
		}

		zone = models.Zone{
			ID:        uuid.NewString(),
			CompanyID: in.CompanyID,
			Pool:      in.Pool,
			Name:      in.Name,
			CIDR:      block.CIDR(),
			Gateway:   block.GatewayAddr(),
			CreatedAt: u.now,
			UpdatedAt: u.now,
			Lifecycle: lc,
		}
		if err := u.tx.CreateZone(ctx, zone); err != nil {
			return err
		}
		u.allocated("subnet", false)
		u.moved(models.KindZone, "", lc.Status)
		return u.record(ctx, audit.NewChange(models.EventZoneCreate, actor, in.CompanyID).
			Link(models.KindZone, zone.ID).
			Set(models.PropNewName, zone.Name).
			Set(models.PropNewAddress, zone.CIDR))
	})
	return zone, err
}

// RenameZone changes the zone's bookkeeping name. The status is unchanged.
func (c *Coordinator) RenameZone(ctx context.Context, actor, id, name string) (models.Zone, error) {
	if err := validateName(models.KindZone, name); err != nil {
		return models.Zone{}, err
	}
	var zone models.Zone
	err := c.mutate(ctx, "rename_zone", func(u *unit) error {
		var err error
		if zone, err = c.loadZone(ctx, u.tx, actor, id); err != nil {
			return err
		}
		if zone.Lifecycle, err = lifecycle.Begin(models.KindZone, zone.Lifecycle, models.OpEdit); err != nil {
			return err
		}
		if err := c.zoneNameFree(ctx, u.tx, zone.CompanyID, name, zone.ID); err != nil {
			return err
		}
		zone.Name = name
		zone.UpdatedAt = u.now
		if err := u.tx.UpdateZone(ctx, zone); err != nil {
			return err
		}
		return u.record(ctx, audit.NewChange(models.EventZoneUpdate, actor, zone.CompanyID).
			Link(models.KindZone, zone.ID).
			Set(models.PropNewName, name))
	})
	return zone, err
}

// DeleteZone queues the zone for teardown. A zone with any non-deleted node
// cannot be deleted.
func (c *Coordinator) DeleteZone(ctx context.Context, actor, id string) (models.Zone, error) {
	var zone models.Zone
	err := c.mutate(ctx, "delete_zone", func(u *unit) error {
		var err error
		if zone, err = c.loadZone(ctx, u.tx, actor, id); err != nil {
			return err
		}
		nodes, err := u.tx.ListNodes(ctx, db.Filter{ZoneID: zone.ID})
		if err != nil {
			return err
		}
		if err := lifecycle.Guard(len(nodes) > 0, "zone_has_nodes",
			"zone %q still has %d node(s)", zone.Name, len(nodes)); err != nil {
			return err
		}
		prev := zone.Status
		if zone.Lifecycle, err = lifecycle.Begin(models.KindZone, zone.Lifecycle, models.OpDelete); err != nil {
			return err
		}
		zone.UpdatedAt = u.now
		if err := u.tx.UpdateZone(ctx, zone); err != nil {
			return err
		}
		u.moved(models.KindZone, prev, zone.Status)
		return u.record(ctx, audit.NewChange(models.EventZoneDelete, actor, zone.CompanyID).
			Link(models.KindZone, zone.ID).
			Set(models.PropNewStatus, string(zone.Status)))
	})
	return zone, err
}

// GetZone returns a zone. DELETED zones are reported as not found.
func (c *Coordinator) GetZone(ctx context.Context, actor, id string) (models.Zone, error) {
	var zone models.Zone
	err := c.view(ctx, func(tx *db.Tx) error {
		var err error
		zone, err = c.loadZone(ctx, tx, actor, id)
		return err
	})
	return zone, err
}

// ListZones returns the company's zones ordered by network address.
func (c *Coordinator) ListZones(ctx context.Context, actor string, opts ListOptions) ([]models.Zone, error) {
	if err := c.authorize(actor, opts.CompanyID); err != nil {
		return nil, err
	}
	var zones []models.Zone
	err := c.view(ctx, func(tx *db.Tx) error {
		var err error
		zones, err = tx.ListZones(ctx, filter(opts))
		return err
	})
	return zones, err
}

// ZoneUsage reports how many addresses of a zone are held.
type ZoneUsage struct {
	Zone      models.Zone `json:"zone"`
	Capacity  int         `json:"capacity"`
	Held      int         `json:"held"`
	Available int         `json:"available"`
}

// GetZoneUsage summarizes address consumption in a zone.
func (c *Coordinator) GetZoneUsage(ctx context.Context, actor, id string) (ZoneUsage, error) {
	var usage ZoneUsage
	err := c.view(ctx, func(tx *db.Tx) error {
		zone, err := c.loadZone(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		records, err := nodeRecords(ctx, tx, zone.ID)
		if err != nil {
			return err
		}
		sn, _, err := zoneSubnet(zone)
		if err != nil {
			return err
		}
		usage.Zone = zone
		if sn.Prefix < 31 {
			usage.Capacity = int(sn.Size()) - 3 // network, gateway, broadcast
		}
		for _, r := range records {
			if r.Holds() {
				usage.Held++
			}
		}
		usage.Available = usage.Capacity - usage.Held
		return nil
	})
	return usage, err
}

func (c *Coordinator) loadZone(ctx context.Context, tx *db.Tx, actor, id string) (models.Zone, error) {
	if err := validateID(models.KindZone, id); err != nil {
		return models.Zone{}, err
	}
	zone, err := tx.GetZone(ctx, id)
	if err != nil {
		return zone, err
	}
	if err := live(models.KindZone, id, zone.Status, false); err != nil {
		return zone, err
	}
	return zone, c.authorize(actor, zone.CompanyID)
}

func (c *Coordinator) zoneNameFree(ctx context.Context, tx *db.Tx, company, name, self string) error {
	zones, err := tx.ListZones(ctx, db.Filter{CompanyID: company})
	if err != nil {
		return err
	}
	for _, z := range zones {
		if z.Name == name && z.ID != self {
			return apperr.Conflict("zone %q already exists", name)
		}
	}
	return nil
}

func filter(opts ListOptions) db.Filter {
	return db.Filter{CompanyID: opts.CompanyID, Status: opts.Status, IncludeDeleted: opts.IncludeDeleted}
}

func itoa(n int) string { return strconv.Itoa(n) }

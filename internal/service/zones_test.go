package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneplane/internal/allocator"
	"zoneplane/internal/apperr"
	"zoneplane/internal/models"
	"zoneplane/internal/netutil"
)

func TestCreateZoneScenario(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	a, err := c.CreateZone(ctx, alice, ZoneInput{CompanyID: acme, Name: "zone-a"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.0/29", a.CIDR)
	assert.Equal(t, "10.0.1.1", a.Gateway)
	assert.Equal(t, models.StatusQueued, a.Status)
	assert.Equal(t, models.OpCreate, a.Pending)
	assert.Equal(t, "default", a.Pool)

	b, err := c.CreateZone(ctx, alice, ZoneInput{CompanyID: acme, Name: "zone-b"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.8/29", b.CIDR)
	assert.Equal(t, "10.0.1.9", b.Gateway)

	got, err := c.GetZone(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.CIDR, got.CIDR)
	assert.Equal(t, b.Gateway, got.Gateway)
}

func TestSequentialZonesNeverOverlap(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	sizes := []int{8, 16, 4, 64, 8, 32, 4, 256, 8}
	var zones []models.Zone
	for i, size := range sizes {
		z, err := c.CreateZone(ctx, alice, ZoneInput{CompanyID: acme, Name: fmt.Sprintf("z%d", i), Size: size})
		require.NoError(t, err)
		sn := netutil.MustParseSubnet(z.CIDR)
		assert.GreaterOrEqual(t, sn.Size(), uint64(size))
		gw, err := netutil.ParseIPv4(z.Gateway)
		require.NoError(t, err)
		assert.Equal(t, sn.Base+1, gw)
		zones = append(zones, z)
	}
	for i := range zones {
		for j := i + 1; j < len(zones); j++ {
			assert.False(t, netutil.CIDROverlaps(zones[i].CIDR, zones[j].CIDR), "%s overlaps %s", zones[i].CIDR, zones[j].CIDR)
		}
	}
}

func TestPoolsAllocateIndependently(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	a, err := c.CreateZone(ctx, alice, ZoneInput{CompanyID: acme, Name: "a", Pool: "blue"})
	require.NoError(t, err)
	b, err := c.CreateZone(ctx, alice, ZoneInput{CompanyID: acme, Name: "b", Pool: "green"})
	require.NoError(t, err)
	assert.Equal(t, a.CIDR, b.CIDR)
}

func TestZonePoolExhaustion(t *testing.T) {
	subnets, err := allocator.NewSubnetAllocator("192.168.0.0", "192.168.0.0/28", 8)
	require.NoError(t, err)
	c := newTestCoordinator(t, func(o *Options) { o.Subnets = subnets })
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		_, err := c.CreateZone(ctx, alice, ZoneInput{CompanyID: acme, Name: name})
		require.NoError(t, err)
	}
	_, err = c.CreateZone(ctx, alice, ZoneInput{CompanyID: acme, Name: "c"})
	assert.True(t, apperr.IsExhausted(err), "got %v", err)
	assert.Equal(t, 2, eventCount(t, c))
}

func TestZoneNamesAreUniquePerCompany(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.CreateZone(ctx, alice, ZoneInput{CompanyID: acme, Name: "edge"})
	require.NoError(t, err)
	_, err = c.CreateZone(ctx, alice, ZoneInput{CompanyID: acme, Name: "edge"})
	assert.True(t, apperr.IsConflict(err))
	_, err = c.CreateZone(ctx, alice, ZoneInput{CompanyID: "globex", Name: "edge"})
	assert.NoError(t, err)
}

func TestRenameZoneKeepsStatus(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	z := activeZone(t, c, "edge")
	other := activeZone(t, c, "core")
	before := eventCount(t, c)

	renamed, err := c.RenameZone(ctx, alice, z.ID, "edge-eu")
	require.NoError(t, err)
	assert.Equal(t, "edge-eu", renamed.Name)
	assert.Equal(t, models.StatusActive, renamed.Status)

	_, err = c.RenameZone(ctx, alice, z.ID, other.Name)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, before+1, eventCount(t, c))

	events, err := c.ListEvents(ctx, alice, EventQuery{CompanyID: acme, Type: models.EventZoneUpdate})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []models.EventProperty{{Key: models.PropNewName, Value: "edge-eu"}}, events[0].Properties)

	queued, err := c.CreateZone(ctx, alice, ZoneInput{CompanyID: acme, Name: "fresh"})
	require.NoError(t, err)
	_, err = c.RenameZone(ctx, alice, queued.ID, "stale")
	assert.Equal(t, "converging", apperr.ReasonOf(err))
}

func TestDeleteZoneWithLiveNodeIsRejectedWithoutEvent(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	z := activeZone(t, c, "edge")
	w := newWorker(t, c, "w1")
	_, err := c.AssignWorker(ctx, alice, z.ID, w.ID)
	require.NoError(t, err)
	before := eventCount(t, c)

	_, err = c.DeleteZone(ctx, alice, z.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsPrecondition(err))
	assert.Equal(t, "zone_has_nodes", apperr.ReasonOf(err))
	assert.Equal(t, before, eventCount(t, c))

	got, err := c.GetZone(ctx, alice, z.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestDeleteZoneQueuesThenHides(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	z := activeZone(t, c, "edge")
	deleted, err := c.DeleteZone(ctx, alice, z.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, deleted.Status)
	assert.Equal(t, models.OpDelete, deleted.Pending)
	assert.Equal(t, models.StatusActive, deleted.Previous)

	_, err = c.DeleteZone(ctx, alice, z.ID)
	assert.Equal(t, "converging", apperr.ReasonOf(err))

	converge(t, c, models.KindZone, z.ID)
	_, err = c.GetZone(ctx, alice, z.ID)
	assert.True(t, apperr.IsNotFound(err))

	zones, err := c.ListZones(ctx, alice, ListOptions{CompanyID: acme})
	require.NoError(t, err)
	assert.Empty(t, zones)
	zones, err = c.ListZones(ctx, alice, ListOptions{CompanyID: acme, IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, models.StatusDeleted, zones[0].Status)

	// Only non-deleted zones feed the allocator, so an emptied pool starts
	// over at the seed and the name is free again.
	next, err := c.CreateZone(ctx, alice, ZoneInput{CompanyID: acme, Name: "edge"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.0/29", next.CIDR)
}

func TestZoneUsage(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	z := activeZone(t, c, "edge")
	for i := 0; i < 2; i++ {
		w := newWorker(t, c, fmt.Sprintf("w%d", i))
		_, err := c.AssignWorker(ctx, alice, z.ID, w.ID)
		require.NoError(t, err)
	}

	usage, err := c.GetZoneUsage(ctx, alice, z.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, usage.Capacity)
	assert.Equal(t, 2, usage.Held)
	assert.Equal(t, 3, usage.Available)
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneplane/internal/apperr"
	"zoneplane/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestWorkerLifecycle(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	w := newWorker(t, c, "w1")
	assert.Equal(t, models.StatusQueued, w.Status)
	_, err := c.CreateWorker(ctx, alice, WorkerInput{CompanyID: acme, Name: "w1"})
	assert.True(t, apperr.IsConflict(err))

	_, err = c.DisableWorker(ctx, alice, w.ID)
	assert.Equal(t, "converging", apperr.ReasonOf(err))
	converge(t, c, models.KindWorker, w.ID)

	renamed, err := c.UpdateWorker(ctx, alice, w.ID, "w1-renamed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, renamed.Status)

	disabled, err := c.DisableWorker(ctx, alice, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, disabled.Status)
	assert.Equal(t, models.OpDisable, disabled.Pending)
	converge(t, c, models.KindWorker, w.ID)

	got, err := c.GetWorker(ctx, alice, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, got.Status)

	_, err = c.DisableWorker(ctx, alice, w.ID)
	assert.Equal(t, "invalid_transition", apperr.ReasonOf(err))

	_, err = c.EnableWorker(ctx, alice, w.ID)
	require.NoError(t, err)
	converge(t, c, models.KindWorker, w.ID)

	workers, err := c.ListWorkers(ctx, alice, ListOptions{CompanyID: acme, Status: models.StatusActive})
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "w1-renamed", workers[0].Name)

	_, err = c.DeleteWorker(ctx, alice, w.ID)
	require.NoError(t, err)
	converge(t, c, models.KindWorker, w.ID)
	_, err = c.GetWorker(ctx, alice, w.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestDeleteWorkerGuards(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	z := activeZone(t, c, "edge")
	w := activeWorker(t, c, "w1")
	a, err := c.AssignWorker(ctx, alice, z.ID, w.ID)
	require.NoError(t, err)
	converge(t, c, models.KindNode, a.Node.ID)

	before := eventCount(t, c)
	_, err = c.DeleteWorker(ctx, alice, w.ID)
	assert.Equal(t, "worker_has_node", apperr.ReasonOf(err))
	assert.Equal(t, before, eventCount(t, c))

	_, err = c.UnassignNode(ctx, alice, a.Node.ID)
	require.NoError(t, err)

	p := activePortal(t, c, "front", "front.example.com")
	tr, err := c.CreateTransponder(ctx, alice, TransponderInput{
		CompanyID: acme, PortalID: p.ID, WorkerID: w.ID, Protocol: "tcp", Port: 443, TargetPort: 8443,
	})
	require.NoError(t, err)

	_, err = c.DeleteWorker(ctx, alice, w.ID)
	assert.Equal(t, "worker_has_transponders", apperr.ReasonOf(err))

	converge(t, c, models.KindTransponder, tr.ID)
	_, err = c.DeleteTransponder(ctx, alice, tr.ID)
	require.NoError(t, err)
	converge(t, c, models.KindTransponder, tr.ID)

	_, err = c.DeleteWorker(ctx, alice, w.ID)
	assert.NoError(t, err)
}

func TestPortalHostnameChangeForcesResync(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	p := activePortal(t, c, "front", "Front.Example.com.")
	assert.Equal(t, "front.example.com", p.Hostname)

	moved, err := c.UpdatePortal(ctx, alice, p.ID, PortalPatch{Hostname: ptr("www.example.com")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, moved.Status)
	assert.Equal(t, models.OpUpdate, moved.Pending)
	assert.Equal(t, "www.example.com", moved.Hostname)

	events, err := c.ListEvents(ctx, alice, EventQuery{CompanyID: acme, Type: models.EventPortalUpdate})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []models.EventProperty{
		{Key: models.PropNewHostname, Value: "www.example.com"},
		{Key: models.PropForceResync, Value: "true"},
	}, events[0].Properties)

	// A second change has to wait for the reconciler.
	_, err = c.UpdatePortal(ctx, alice, p.ID, PortalPatch{Name: ptr("front-2")})
	assert.Equal(t, "converging", apperr.ReasonOf(err))
}

func TestPortalRenameIsAnEdit(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	p := activePortal(t, c, "front", "front.example.com")
	renamed, err := c.UpdatePortal(ctx, alice, p.ID, PortalPatch{Name: ptr("front-eu"), Hostname: ptr("front.example.com")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, renamed.Status)
	assert.Equal(t, "front-eu", renamed.Name)

	_, err = c.UpdatePortal(ctx, alice, p.ID, PortalPatch{Name: ptr("front-eu")})
	assert.True(t, apperr.IsValidation(err), "no-op patch")
}

func TestPortalHostnamesAreGlobal(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	activePortal(t, c, "front", "front.example.com")
	_, err := c.CreatePortal(ctx, alice, PortalInput{CompanyID: "globex", Name: "other", Hostname: "FRONT.example.com"})
	assert.True(t, apperr.IsConflict(err))

	_, err = c.CreatePortal(ctx, alice, PortalInput{CompanyID: acme, Name: "bad", Hostname: "-bad-.example.com"})
	assert.True(t, apperr.IsValidation(err))

	q := activePortal(t, c, "back", "back.example.com")
	_, err = c.UpdatePortal(ctx, alice, q.ID, PortalPatch{Hostname: ptr("front.example.com")})
	assert.True(t, apperr.IsConflict(err))
}

func TestDeletePortalGuards(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	p := activePortal(t, c, "front", "front.example.com")
	w := activeWorker(t, c, "w1")
	tr, err := c.CreateTransponder(ctx, alice, TransponderInput{
		CompanyID: acme, PortalID: p.ID, WorkerID: w.ID, Protocol: "http", Port: 80, TargetPort: 8080,
	})
	require.NoError(t, err)

	_, err = c.DeletePortal(ctx, alice, p.ID)
	assert.Equal(t, "portal_has_transponders", apperr.ReasonOf(err))

	converge(t, c, models.KindTransponder, tr.ID)
	_, err = c.DeleteTransponder(ctx, alice, tr.ID)
	require.NoError(t, err)
	converge(t, c, models.KindTransponder, tr.ID)

	z := activeZone(t, c, "edge")
	a, err := c.AssignPortal(ctx, alice, z.ID, p.ID)
	require.NoError(t, err)
	_, err = c.DeletePortal(ctx, alice, p.ID)
	assert.Equal(t, "portal_has_node", apperr.ReasonOf(err))

	converge(t, c, models.KindNode, a.Node.ID)
	_, err = c.UnassignNode(ctx, alice, a.Node.ID)
	require.NoError(t, err)
	deleted, err := c.DeletePortal(ctx, alice, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OpDelete, deleted.Pending)
}

func TestTransponderValidation(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	p := activePortal(t, c, "front", "front.example.com")
	w := activeWorker(t, c, "w1")
	base := TransponderInput{CompanyID: acme, PortalID: p.ID, WorkerID: w.ID, Protocol: "tcp", Port: 22, TargetPort: 2222}

	tests := []struct {
		name  string
		tweak func(*TransponderInput)
	}{
		{"unknown protocol", func(in *TransponderInput) { in.Protocol = "sctp" }},
		{"port zero", func(in *TransponderInput) { in.Port = 0 }},
		{"port too high", func(in *TransponderInput) { in.Port = 65536 }},
		{"target port zero", func(in *TransponderInput) { in.TargetPort = 0 }},
		{"negative priority", func(in *TransponderInput) { in.Priority = -1 }},
		{"priority too high", func(in *TransponderInput) { in.Priority = 1001 }},
		{"path on tcp", func(in *TransponderInput) { in.Path = "/api" }},
		{"relative http path", func(in *TransponderInput) { in.Protocol, in.Path = "http", "api" }},
		{"missing portal", func(in *TransponderInput) { in.PortalID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.tweak(&in)
			_, err := c.CreateTransponder(ctx, alice, in)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}
	assert.Equal(t, 4, eventCount(t, c), "only the portal and worker lifecycles were recorded")
}

func TestTransponderBindings(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	p := activePortal(t, c, "front", "front.example.com")
	w := activeWorker(t, c, "w1")
	http := TransponderInput{CompanyID: acme, PortalID: p.ID, WorkerID: w.ID, Protocol: "HTTP", Port: 80, TargetPort: 8080}

	root, err := c.CreateTransponder(ctx, alice, http)
	require.NoError(t, err)
	assert.Equal(t, "http", root.Protocol)
	assert.Equal(t, "/", root.Path)

	_, err = c.CreateTransponder(ctx, alice, http)
	assert.True(t, apperr.IsConflict(err), "same portal, protocol, port and path")

	api := http
	api.Path, api.Priority = "/api", 10
	_, err = c.CreateTransponder(ctx, alice, api)
	require.NoError(t, err)

	tcp := http
	tcp.Protocol = "tcp"
	_, err = c.CreateTransponder(ctx, alice, tcp)
	require.NoError(t, err, "another protocol on the same port is a distinct binding")

	trs, err := c.ListTransponders(ctx, alice, TransponderQuery{ListOptions: ListOptions{CompanyID: acme}, PortalID: p.ID})
	require.NoError(t, err)
	assert.Len(t, trs, 3)
}

func TestUpdateTransponder(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	p := activePortal(t, c, "front", "front.example.com")
	w1 := activeWorker(t, c, "w1")
	w2 := activeWorker(t, c, "w2")
	tr, err := c.CreateTransponder(ctx, alice, TransponderInput{
		CompanyID: acme, PortalID: p.ID, WorkerID: w1.ID, Protocol: "http", Port: 80, TargetPort: 8080, Path: "/app",
	})
	require.NoError(t, err)

	_, err = c.UpdateTransponder(ctx, alice, tr.ID, TransponderPatch{Port: ptr(0)})
	assert.Equal(t, "converging", apperr.ReasonOf(err), "pending creation wins over validation")
	converge(t, c, models.KindTransponder, tr.ID)

	_, err = c.UpdateTransponder(ctx, alice, tr.ID, TransponderPatch{Port: ptr(80)})
	assert.True(t, apperr.IsValidation(err), "no-op patch")

	updated, err := c.UpdateTransponder(ctx, alice, tr.ID, TransponderPatch{
		WorkerID: ptr(w2.ID), Protocol: ptr("tcp"), TargetPort: ptr(9090),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, updated.Status)
	assert.Equal(t, models.OpUpdate, updated.Pending)
	assert.Empty(t, updated.Path, "switching away from http drops the path")
	assert.Equal(t, w2.ID, updated.WorkerID)

	events, err := c.ListEvents(ctx, alice, EventQuery{CompanyID: acme, Type: models.EventTransponderUpdate})
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Contains(t, ev.Resources, models.EventResource{Type: models.KindWorker, ID: w2.ID})
	assert.ElementsMatch(t, []models.EventProperty{
		{Key: models.PropNewProtocol, Value: "tcp"},
		{Key: models.PropNewTargetPort, Value: "9090"},
		{Key: models.PropNewPath, Value: ""},
	}, ev.Properties)
}

func TestTransponderEnableDisable(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	p := activePortal(t, c, "front", "front.example.com")
	w := activeWorker(t, c, "w1")
	tr, err := c.CreateTransponder(ctx, alice, TransponderInput{
		CompanyID: acme, PortalID: p.ID, WorkerID: w.ID, Protocol: "udp", Port: 53, TargetPort: 5353,
	})
	require.NoError(t, err)
	converge(t, c, models.KindTransponder, tr.ID)

	_, err = c.EnableTransponder(ctx, alice, tr.ID)
	assert.Equal(t, "invalid_transition", apperr.ReasonOf(err))

	_, err = c.DisableTransponder(ctx, alice, tr.ID)
	require.NoError(t, err)
	converge(t, c, models.KindTransponder, tr.ID)
	got, err := c.GetTransponder(ctx, alice, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, got.Status)

	_, err = c.EnableTransponder(ctx, alice, tr.ID)
	require.NoError(t, err)
	converge(t, c, models.KindTransponder, tr.ID)
	got, err = c.GetTransponder(ctx, alice, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestTransponderRequiresUsableEndpoints(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	p := activePortal(t, c, "front", "front.example.com")
	w := activeWorker(t, c, "w1")
	_, err := c.DisablePortal(ctx, alice, p.ID)
	require.NoError(t, err)

	_, err = c.CreateTransponder(ctx, alice, TransponderInput{
		CompanyID: acme, PortalID: p.ID, WorkerID: w.ID, Protocol: "tcp", Port: 22, TargetPort: 22,
	})
	assert.Equal(t, "portal_not_usable", apperr.ReasonOf(err))
}

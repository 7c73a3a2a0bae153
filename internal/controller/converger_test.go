package controller

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneplane/internal/apperr"
	"zoneplane/internal/db"
	"zoneplane/internal/metrics"
	"zoneplane/internal/models"
	"zoneplane/internal/service"
)

func newCoordinator(t *testing.T) *service.Coordinator {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "zoneplane.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return service.New(store, service.Options{Backoff: func(int) time.Duration { return 0 }})
}

func TestRunOnceSettlesEverythingQueued(t *testing.T) {
	coord := newCoordinator(t)
	ctx := context.Background()

	z, err := coord.CreateZone(ctx, "alice", service.ZoneInput{CompanyID: "acme", Name: "edge"})
	require.NoError(t, err)
	w, err := coord.CreateWorker(ctx, "alice", service.WorkerInput{CompanyID: "acme", Name: "w1"})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m, err := metrics.NewCollector(reg)
	require.NoError(t, err)
	c := NewConverger(coord, WithMetrics(m))

	n, err := c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Queued.WithLabelValues("zone")))

	got, err := coord.GetZone(ctx, "alice", z.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)

	events, err := coord.ListEvents(ctx, "alice", service.EventQuery{CompanyID: "acme", ResourceType: models.KindWorker, ResourceID: w.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventResourceConverged, events[0].Type)
	assert.Equal(t, DefaultActor, events[0].ActorID)

	n, err = c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, testutil.ToFloat64(m.Queued.WithLabelValues("zone")))
}

func TestVerdictDrivesRollback(t *testing.T) {
	coord := newCoordinator(t)
	ctx := context.Background()

	w, err := coord.CreateWorker(ctx, "alice", service.WorkerInput{CompanyID: "acme", Name: "w1"})
	require.NoError(t, err)

	c := NewConverger(coord, WithVerdict(func(ref service.QueuedRef) bool { return ref.Kind != models.KindWorker }))
	_, err = c.RunOnce(ctx)
	require.NoError(t, err)

	_, err = coord.GetWorker(ctx, "alice", w.ID)
	assert.True(t, apperr.IsNotFound(err), "failed creation ends DELETED")
}

type fakeCoordinator struct {
	mu      sync.Mutex
	refs    []service.QueuedRef
	listErr error
	fail    map[string]error
	settled []string
}

func (f *fakeCoordinator) ListQueued(context.Context, models.Kind) ([]service.QueuedRef, error) {
	return f.refs, f.listErr
}

func (f *fakeCoordinator) Converge(_ context.Context, _ string, kind models.Kind, id string, success bool) (service.Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return service.Settlement{}, err
	}
	f.settled = append(f.settled, id)
	return service.Settlement{Kind: kind, ID: id, Success: success, Status: models.StatusActive}, nil
}

func (f *fakeCoordinator) settledSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.settled...)
}

func TestRunOnceSkipsRecordsSettledElsewhere(t *testing.T) {
	f := &fakeCoordinator{
		refs: []service.QueuedRef{
			{Kind: models.KindZone, ID: "a"},
			{Kind: models.KindZone, ID: "b"},
			{Kind: models.KindNode, ID: "c"},
		},
		fail: map[string]error{
			"a": apperr.Precondition("not_queued", "already settled"),
			"b": errors.New("database is locked"),
		},
	}
	n, err := NewConverger(f).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"c"}, f.settled)

	f.listErr = errors.New("boom")
	_, err = NewConverger(f).RunOnce(context.Background())
	assert.EqualError(t, err, "boom")
}

func TestStartStopsOnCancel(t *testing.T) {
	f := &fakeCoordinator{refs: []service.QueuedRef{{Kind: models.KindZone, ID: "a"}}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewConverger(f, WithInterval(time.Millisecond), WithVerdict(Succeed)).Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(f.settledSnapshot()) > 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("converger did not stop")
	}
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"

	"zoneplane/internal/models"
)

func sampleEvent() models.Event {
	return models.Event{
		ID:        "ev-1",
		Type:      models.EventZoneCreate,
		ActorID:   "alice",
		CompanyID: "acme",
		CreatedAt: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		Resources: []models.EventResource{{Type: models.KindZone, ID: "zone-1"}},
	}
}

func TestHubBroadcasts(t *testing.T) {
	h := NewHub(4)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelB()
	require.Equal(t, 2, h.Subscribers())

	require.NoError(t, h.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, "ev-1", (<-a).ID)
	assert.Equal(t, "ev-1", (<-b).ID)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Publish(context.Background(), sampleEvent()))
	}
	assert.Len(t, ch, 1)
}

type failing struct{ err error }

func (f failing) Publish(context.Context, models.Event) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	defer cancel()

	err := Multi{failing{boom}, nil, h, Discard{}}.Publish(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ch, 1, "later publishers still run")
}

type fakeKV struct {
	clientv3.KV
	puts map[string]string
	err  error
}

func (f *fakeKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.puts[key] = val
	return &clientv3.PutResponse{}, nil
}

type fakeLease struct {
	clientv3.Lease
	ttls []int64
}

func (f *fakeLease) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	f.ttls = append(f.ttls, ttl)
	return &clientv3.LeaseGrantResponse{ID: clientv3.LeaseID(len(f.ttls)), TTL: ttl}, nil
}

func TestEtcdPublisherWritesEventUnderPrefix(t *testing.T) {
	kv := &fakeKV{puts: map[string]string{}}
	lease := &fakeLease{}
	p := newEtcdPublisher(kv, lease, time.Hour)

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	raw, ok := kv.puts["/controlplane/v1/events/ev-1"]
	require.True(t, ok)
	var got models.Event
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, models.EventZoneCreate, got.Type)
	assert.Equal(t, []int64{4500}, lease.ttls, "ttl plus the sharing window")
	assert.Equal(t, "/controlplane/v1/events/", EventPrefix())
	assert.NoError(t, p.Close())
}

func TestEtcdPublisherSharesLeasePerWindow(t *testing.T) {
	kv := &fakeKV{puts: map[string]string{}}
	lease := &fakeLease{}
	p := newEtcdPublisher(kv, lease, time.Hour)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	ctx := context.Background()
	for i, id := range []string{"ev-1", "ev-2", "ev-3"} {
		ev := sampleEvent()
		ev.ID = id
		require.NoError(t, p.Publish(ctx, ev))
		now = now.Add(time.Duration(i+1) * time.Minute)
	}
	assert.Len(t, kv.puts, 3)
	assert.Len(t, lease.ttls, 1, "events inside one window share a lease")

	now = now.Add(15 * time.Minute)
	require.NoError(t, p.Publish(ctx, sampleEvent()))
	assert.Len(t, lease.ttls, 2, "a new window grants a new lease")

	kv.err = errors.New("lease not found")
	assert.Error(t, p.Publish(ctx, sampleEvent()))
	kv.err = nil
	require.NoError(t, p.Publish(ctx, sampleEvent()))
	assert.Len(t, lease.ttls, 3, "a failed put drops the cached lease")
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"zoneplane/internal/models"
)

const (
	keyPrefix       = "/controlplane/v1"
	defaultTTL      = 24 * time.Hour
	etcdDialTimeout = 5 * time.Second
)

// EventKey is the etcd key an event is published under.
func EventKey(id string) string {
	return fmt.Sprintf("%s/events/%s", keyPrefix, id)
}

// EventPrefix is the prefix external sync workers watch.
func EventPrefix() string {
	return keyPrefix + "/events/"
}

// EtcdPublisher writes each event as JSON under EventKey. Keys are attached
// to a lease so the prefix does not grow without bound. One lease is shared
// by every event of a window of ttl/4; it is granted for ttl plus the window
// so each key lives at least ttl.
type EtcdPublisher struct {
	kv     clientv3.KV
	lease  clientv3.Lease
	ttl    time.Duration
	window time.Duration
	client *clientv3.Client
	now    func() time.Time

	mu        sync.Mutex
	leaseID   clientv3.LeaseID
	leaseFrom time.Time
}

// NewEtcdPublisher dials the cluster at endpoints.
func NewEtcdPublisher(endpoints []string, ttl time.Duration) (*EtcdPublisher, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd dial: %w", err)
	}
	p := newEtcdPublisher(client, client, ttl)
	p.client = client
	return p, nil
}

func newEtcdPublisher(kv clientv3.KV, lease clientv3.Lease, ttl time.Duration) *EtcdPublisher {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	window := ttl / 4
	if window < time.Second {
		window = time.Second
	}
	return &EtcdPublisher{kv: kv, lease: lease, ttl: ttl, window: window, now: time.Now}
}

// currentLease returns the lease of the current window, granting a new one
// when the window has passed.
func (p *EtcdPublisher) currentLease(ctx context.Context) (clientv3.LeaseID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if p.leaseID != clientv3.NoLease && now.Sub(p.leaseFrom) < p.window {
		return p.leaseID, nil
	}
	grant, err := p.lease.Grant(ctx, int64((p.ttl+p.window)/time.Second))
	if err != nil {
		return clientv3.NoLease, fmt.Errorf("etcd lease grant: %w", err)
	}
	p.leaseID, p.leaseFrom = grant.ID, now
	return grant.ID, nil
}

// dropLease forgets id so the next event grants a fresh lease.
func (p *EtcdPublisher) dropLease(id clientv3.LeaseID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.leaseID == id {
		p.leaseID = clientv3.NoLease
	}
}

func (p *EtcdPublisher) Publish(ctx context.Context, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	id, err := p.currentLease(ctx)
	if err != nil {
		return err
	}
	k := EventKey(ev.ID)
	if _, err := p.kv.Put(ctx, k, string(data), clientv3.WithLease(id)); err != nil {
		// The lease may have been revoked or expired under us.
		p.dropLease(id)
		return fmt.Errorf("etcd put %q: %w", k, err)
	}
	return nil
}

// Close releases the etcd connection when the publisher owns it.
func (p *EtcdPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Package registry advertises and discovers XML-RPC servers by service name.
//
// The etcd implementation stores one key per server:
//
//	Key:   /xmlrpc-bridge/{service}/{addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL leases: if the process dies, the lease expires and the
// entry is removed without anyone deregistering it.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/juju/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/xmlrpc-bridge/"

func servicePrefix(service string) string {
	return keyPrefix + service + "/"
}

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // Safe for concurrent use
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // service/addr -> lease, revoked on Deregister
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if len(endpoints) == 0 {
		return nil, errors.NotValidf("empty etcd endpoints")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to etcd %v", endpoints)
	}
	return &EtcdRegistry{
		client: c,
		logger: logger,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

// Register stores the instance under a lease of ttl and keeps the lease alive
// until Deregister or Close.
//
// The lease id lives in a map guarded by mu rather than a single field, so one
// registry can advertise several servers.
func (r *EtcdRegistry) Register(ctx context.Context, service string, instance ServiceInstance, ttl time.Duration) error {
	if service == "" || instance.Addr == "" {
		return errors.NotValidf("registration %q/%q", service, instance.Addr)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	lease, err := r.client.Grant(ctx, seconds)
	if err != nil {
		return errors.Annotatef(err, "granting lease for %s", service)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err = r.client.Put(ctx, servicePrefix(service)+instance.Addr, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Annotatef(err, "registering %s at %s", service, instance.Addr)
	}

	// KeepAlive must outlive the registration call, so it gets its own context.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return errors.Annotatef(err, "keeping lease for %s alive", service)
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive ended", zap.String("service", service), zap.String("addr", instance.Addr))
	}()

	r.mu.Lock()
	r.leases[service+"/"+instance.Addr] = lease.ID
	r.mu.Unlock()
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	r.mu.Lock()
	id, ok := r.leases[service+"/"+addr]
	delete(r.leases, service+"/"+addr)
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, servicePrefix(service)+addr); err != nil {
		return errors.Annotatef(err, "deregistering %s at %s", service, addr)
	}
	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			return errors.Annotatef(err, "revoking lease for %s", service)
		}
	}
	return nil
}

// Watch uses etcd's server-push Watch and re-reads the whole prefix on each
// change, which is simpler than applying individual events.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, servicePrefix(service), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, service)
			if err != nil {
				r.logger.Warn("rediscovering service", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Discover returns all instances currently registered for service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Annotatef(err, "discovering %s", service)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close revokes outstanding leases and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	leases := r.leases
	r.leases = make(map[string]clientv3.LeaseID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for key, id := range leases {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			r.logger.Warn("revoking lease", zap.String("key", key), zap.Error(err))
		}
	}
	return errors.Trace(r.client.Close())
}

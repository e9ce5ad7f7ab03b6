package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// etcdEndpoints returns the endpoints from XMLRPC_BRIDGE_TEST_ETCD, skipping
// the test when no etcd is available.
func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	v := os.Getenv("XMLRPC_BRIDGE_TEST_ETCD")
	if v == "" {
		t.Skip("XMLRPC_BRIDGE_TEST_ETCD not set")
	}
	return strings.Split(v, ",")
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), 5*time.Second, nil)
	require.NoError(t, err)
	defer reg.Close()
	ctx := context.Background()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Path: "/", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Path: "/", Weight: 5, Version: "1.0"}

	require.NoError(t, reg.Register(ctx, "Arith", inst1, 10*time.Second))
	require.NoError(t, reg.Register(ctx, "Arith", inst2, 10*time.Second))

	instances, err := reg.Discover(ctx, "Arith")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	require.NoError(t, reg.Deregister(ctx, "Arith", inst1.Addr))

	instances, err = reg.Discover(ctx, "Arith")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2, instances[0])

	require.NoError(t, reg.Deregister(ctx, "Arith", inst2.Addr))
}

func TestEtcdRegistryValidation(t *testing.T) {
	_, err := NewEtcdRegistry(nil, time.Second, nil)
	assert.Error(t, err)
}

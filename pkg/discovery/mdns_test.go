package discovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnnounce_StopsOnCancel(t *testing.T) {
	// mDNS tests need a multicast-capable network.
	if testing.Short() {
		t.Skip("Skipping mDNS test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := &MDNSAdapter{}
	serviceInfo := ServiceInfo{
		Name:   "test-instance",
		Type:   "_test-relay._tcp",
		Domain: "local",
		PeerID: "peer-a",
		Port:   8080,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- adapter.Announce(ctx, serviceInfo)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err, "cancellation is normal shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("announcement did not stop in time")
	}
}

func TestMDNSAdapter_Discover(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping mDNS test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	adapter := &MDNSAdapter{}

	serviceInfo := ServiceInfo{
		Name:   "test-instance",
		Type:   "_test-relay._tcp",
		Domain: "local",
		PeerID: "peer-b",
		Port:   8080,
	}

	go func() {
		_ = adapter.Announce(ctx, serviceInfo)
	}()
	time.Sleep(300 * time.Millisecond)

	queryCtx, queryCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer queryCancel()

	service := fmt.Sprintf("%s.%s.", serviceInfo.Type, serviceInfo.Domain)
	result := <-adapter.Discover(queryCtx, service)
	if result.Error != nil {
		t.Fatalf("Failed to discover service: %v", result.Error)
	}

	found := result.Services
	if assert.NotEmpty(t, found) {
		assert.Equal(t, serviceInfo.Name, found[0].Name)
		assert.Equal(t, serviceInfo.Type, found[0].Type)
		assert.Equal(t, serviceInfo.Domain, found[0].Domain)
		assert.Equal(t, serviceInfo.PeerID, found[0].PeerID)
		assert.Equal(t, serviceInfo.Port, found[0].Port)
	}
}

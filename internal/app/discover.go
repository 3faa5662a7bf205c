package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rescp17/relaySharer/pkg/discovery"
)

// ResolvePeer browses mDNS for a receiver whose instance name or peer ID
// matches name, waiting up to timeout for it to appear.
func ResolvePeer(ctx context.Context, name string, timeout time.Duration) (discovery.ServiceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	adapter := &discovery.MDNSAdapter{}
	service := fmt.Sprintf("%s.%s.", discovery.DefaultServiceType, discovery.DefaultDomain)
	for result := range adapter.Discover(ctx, service) {
		if result.Error != nil {
			return discovery.ServiceInfo{}, result.Error
		}
		for _, svc := range result.Services {
			if svc.Name != name && svc.PeerID != name {
				continue
			}
			if svc.Addr == nil {
				continue
			}
			return svc, nil
		}
	}
	return discovery.ServiceInfo{}, fmt.Errorf("no receiver named %q found within %s", name, timeout)
}

package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/brutella/dnssd"
)

type MDNSAdapter struct{}

var _ Adapter = (*MDNSAdapter)(nil)

// Announce publishes the local peer until ctx is cancelled. The peer's
// relay identity rides in the TXT record so browsers can address it
// without a separate lookup.
func (m *MDNSAdapter) Announce(ctx context.Context, serviceInfo ServiceInfo) error {
	text := map[string]string{
		txtPeerID: serviceInfo.PeerID,
	}

	cfg := dnssd.Config{
		Name:   serviceInfo.Name,
		Type:   serviceInfo.Type,
		Domain: serviceInfo.Domain,
		// mDNS multicasts to the local network, so IPs can stay nil.
		IPs:  nil,
		Text: text,
		Port: serviceInfo.Port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	if err = rp.Respond(ctx); err != nil {
		// Context cancellation is normal shutdown, not an error.
		if err == context.Canceled {
			return nil
		}
		return fmt.Errorf("failed to respond to mDNS service: %w", err)
	}
	return nil
}

// Discover browses for peers of the given service and streams snapshots
// of the currently visible set. The channel closes when ctx ends.
func (m *MDNSAdapter) Discover(ctx context.Context, service string) <-chan DiscoveryResult {
	var (
		mu      sync.RWMutex
		entries = make(map[string]ServiceInfo)
		outCh   = make(chan DiscoveryResult, 10)
	)

	sendSnapshot := func() {
		mu.Lock()
		defer mu.Unlock()
		snapshot := make([]ServiceInfo, 0, len(entries))
		for _, entry := range entries {
			snapshot = append(snapshot, entry)
		}
		select {
		case outCh <- DiscoveryResult{Services: snapshot, Error: nil}:
		default:
		}
	}

	sendError := func(err error) {
		select {
		case outCh <- DiscoveryResult{Services: nil, Error: err}:
		default:
		}
	}

	addFn := func(e dnssd.BrowseEntry) {
		info := ServiceInfo{
			Name:   e.Name,
			Type:   e.Type,
			Domain: e.Domain,
			PeerID: e.Text[txtPeerID],
			Port:   e.Port,
		}
		if len(e.IPs) > 0 {
			info.Addr = e.IPs[0]
		}
		mu.Lock()
		entries[fmt.Sprintf("%s:%s:%s", e.Name, e.Type, e.Domain)] = info
		mu.Unlock()
		sendSnapshot()
	}

	rmvFn := func(e dnssd.BrowseEntry) {
		mu.Lock()
		delete(entries, fmt.Sprintf("%s:%s:%s", e.Name, e.Type, e.Domain))
		mu.Unlock()
		sendSnapshot()
	}

	go func() {
		defer close(outCh)
		if err := dnssd.LookupType(ctx, service, addFn, rmvFn); err != nil {
			sendError(fmt.Errorf("mDNS lookup failed: %w", err))
		}
	}()

	return outCh
}

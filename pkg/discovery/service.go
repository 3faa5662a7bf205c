package discovery

import (
	"context"
	"net"
)

const (
	// DefaultServiceType is the mDNS service peers announce under.
	DefaultServiceType = "_relay-sharer._tcp"
	DefaultDomain      = "local"

	// TXT record key carrying the peer's relay identity.
	txtPeerID = "peer_id"
)

// ServiceInfo describes one announced relay peer.
type ServiceInfo struct {
	Name   string // instance name
	Type   string // service type, e.g. "_relay-sharer._tcp"
	Domain string // domain, e.g. "local"
	PeerID string // relay identity from the TXT record
	Addr   net.IP
	Port   int
}

// DiscoveryResult carries a snapshot of known peers or a lookup error.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

// Adapter announces the local peer and browses for others.
type Adapter interface {
	Announce(ctx context.Context, service ServiceInfo) error
	Discover(ctx context.Context, service string) <-chan DiscoveryResult
}

package relay

import (
	"errors"
	"fmt"

	"github.com/rescp17/relaySharer/pkg/protocol"
	"github.com/rescp17/relaySharer/pkg/transfer"
)

// Link is one peer's sending side of the relay. It satisfies the
// transfer channel contract: envelopes are encoded here, checked against
// the ceiling by the router, and delivery failure surfaces synchronously.
type Link struct {
	router  *Router
	localID string
}

var _ transfer.Channel = (*Link)(nil)

// Send encodes one envelope and forwards it to the envelope's target
// peer. A vanished target is reported as channel unavailability so
// sessions pause instead of failing outright.
func (l *Link) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Kind(), err)
	}

	route := env.Route()
	if err := l.router.Forward(l.localID, route.TargetPeer, data); err != nil {
		if errors.Is(err, ErrUnknownPeer) {
			return fmt.Errorf("peer %s unreachable: %w", route.TargetPeer, transfer.ErrChannelUnavailable)
		}
		return err
	}
	return nil
}

// BufferedBytes is always zero: the in-memory router delivers
// synchronously and keeps no backlog.
func (l *Link) BufferedBytes() int { return 0 }

// PeerID returns the local peer this link sends as.
func (l *Link) PeerID() string { return l.localID }

package webrtc

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Signaler decouples connection setup from the signaling transport. The
// application provides a concrete implementation, e.g. over the relay's
// control plane or HTTP.
type Signaler interface {
	SendOffer(offer webrtc.SessionDescription) error
	WaitForAnswer(ctx context.Context) (*webrtc.SessionDescription, error)
	SendICECandidate(candidate webrtc.ICECandidateInit)
}

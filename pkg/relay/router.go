package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrUnknownPeer means the target peer is not registered on the relay.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrPeerExists means the peer ID is already registered.
	ErrPeerExists = errors.New("peer already registered")
	// ErrMessageTooLarge means the encoded message exceeds the relay's
	// hard per-message ceiling. The relay rejects, it never truncates.
	ErrMessageTooLarge = errors.New("message exceeds relay ceiling")
	// ErrDeliveryFailed means the target peer's handler reported an error.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Handler consumes one raw message delivered to a peer. A returned error
// surfaces to the forwarding caller as ErrDeliveryFailed.
type Handler func(data []byte) error

// DropRule inspects a message in flight and returns true to silently
// drop it. Tests use it to model lossy channels.
type DropRule func(from, to string, data []byte) bool

// Router is an in-memory relay between registered peers. It enforces the
// per-message size ceiling and serializes delivery per target peer, so a
// failed Forward is observable by the caller while successful messages
// may still interleave across peers.
type Router struct {
	mu      sync.RWMutex
	ceiling int32
	peers   map[string]*peerEntry
	drop    DropRule
	logger  *slog.Logger
}

type peerEntry struct {
	id      string
	handler Handler
	// deliverMu serializes handler invocations for this peer.
	deliverMu sync.Mutex
}

func NewRouter(ceiling int32, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		ceiling: ceiling,
		peers:   make(map[string]*peerEntry),
		logger:  logger,
	}
}

// Ceiling returns the hard per-message size limit in bytes.
func (r *Router) Ceiling() int32 { return r.ceiling }

// Register adds a peer and its message handler. The returned Link is the
// peer's sending side.
func (r *Router) Register(peerID string, h Handler) (*Link, error) {
	if peerID == "" || h == nil {
		return nil, fmt.Errorf("register peer: id and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[peerID]; exists {
		return nil, fmt.Errorf("register peer %s: %w", peerID, ErrPeerExists)
	}
	r.peers[peerID] = &peerEntry{id: peerID, handler: h}
	r.logger.Info("peer registered", "peerID", peerID)
	return &Link{router: r, localID: peerID}, nil
}

// Unregister removes a peer. Messages addressed to it afterwards fail
// with ErrUnknownPeer, which senders treat as channel loss.
func (r *Router) Unregister(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
	r.logger.Info("peer unregistered", "peerID", peerID)
}

// Registered reports whether a peer is currently reachable.
func (r *Router) Registered(peerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[peerID]
	return ok
}

// Peers lists the currently registered peer IDs.
func (r *Router) Peers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}

// SetDropRule installs a loss-injection rule. A nil rule delivers
// everything.
func (r *Router) SetDropRule(rule DropRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drop = rule
}

// Forward validates and delivers one raw message. Oversized messages are
// rejected before any lookup; both ends must be registered, and an
// unknown target fails so the sender can pause instead of sending into
// the void.
func (r *Router) Forward(from, to string, data []byte) error {
	if int32(len(data)) > r.ceiling {
		return fmt.Errorf("message of %d bytes over ceiling %d: %w", len(data), r.ceiling, ErrMessageTooLarge)
	}

	r.mu.RLock()
	_, senderOK := r.peers[from]
	entry, ok := r.peers[to]
	rule := r.drop
	r.mu.RUnlock()

	if !senderOK {
		return fmt.Errorf("forward from %s: %w", from, ErrUnknownPeer)
	}
	if !ok {
		return fmt.Errorf("forward to %s: %w", to, ErrUnknownPeer)
	}
	if rule != nil && rule(from, to, data) {
		// Injected loss mimics the real channel: dropped silently, the
		// sender finds out through missing acks.
		r.logger.Debug("message dropped by rule", "from", from, "to", to, "bytes", len(data))
		return nil
	}

	entry.deliverMu.Lock()
	defer entry.deliverMu.Unlock()
	if err := entry.handler(data); err != nil {
		return fmt.Errorf("deliver to %s: %w: %v", to, ErrDeliveryFailed, err)
	}
	return nil
}

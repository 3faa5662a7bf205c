package transfer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rescp17/relaySharer/pkg/protocol"
)

// SinkFactory builds the destination for an accepted inbound transfer.
type SinkFactory func(req protocol.TransferRequest) (PayloadSink, error)

// Endpoint binds one peer to its relay channel and routes every incoming
// envelope to the session it belongs to. Transfer requests spawn new
// receiver sessions; everything else resolves through the registry.
type Endpoint struct {
	peerID   string
	channel  Channel
	registry *Registry
	decider  Decider
	sinks    SinkFactory
	onDone   func(id string, err error)
	logger   *slog.Logger
}

func NewEndpoint(peerID string, ch Channel, reg *Registry, decider Decider, sinks SinkFactory, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	if decider == nil {
		decider = AcceptAll
	}
	return &Endpoint{
		peerID:   peerID,
		channel:  ch,
		registry: reg,
		decider:  decider,
		sinks:    sinks,
		logger:   logger.With("peerID", peerID),
	}
}

// SetDoneFunc installs a callback invoked when an inbound transfer
// reaches a terminal state.
func (ep *Endpoint) SetDoneFunc(fn func(id string, err error)) { ep.onDone = fn }

// Receive decodes one raw relay message and dispatches it. Envelopes for
// unknown transfers are dropped with a log line; the channel reorders and
// duplicates, so strays are expected, not errors.
func (ep *Endpoint) Receive(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		ep.logger.Warn("undecodable message dropped", "error", err)
		return
	}
	ep.Dispatch(env)
}

// Dispatch routes one decoded envelope.
func (ep *Endpoint) Dispatch(env protocol.Envelope) {
	if req, ok := env.(protocol.TransferRequest); ok {
		ep.handleRequest(req)
		return
	}

	session, err := ep.registry.Get(env.TransferID())
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			ep.logger.Debug("envelope for unknown transfer dropped",
				"kind", env.Kind(), "transferID", env.TransferID())
			return
		}
		ep.logger.Warn("dispatch failed", "kind", env.Kind(), "error", err)
		return
	}
	session.Handle(env)
}

// handleRequest runs the accept decision and, on accept, registers the
// receiver session before the response leaves. A duplicate request for a
// live transfer is re-rejected rather than respawning the session.
func (ep *Endpoint) handleRequest(req protocol.TransferRequest) {
	if _, err := ep.registry.Get(req.ID); err == nil {
		ep.logger.Debug("duplicate transfer request ignored", "transferID", req.ID)
		return
	}

	accepted, reason := ep.decider.Decide(req)
	if !accepted {
		ep.logger.Info("transfer declined", "transferID", req.ID, "fileName", req.FileName, "reason", reason)
		ep.respond(req, false, reason)
		return
	}

	if err := ep.acceptRequest(req); err != nil {
		ep.logger.Error("accept failed", "transferID", req.ID, "error", err)
		ep.respond(req, false, err.Error())
		return
	}
	ep.respond(req, true, "")
}

func (ep *Endpoint) acceptRequest(req protocol.TransferRequest) error {
	sink, err := ep.sinks(req)
	if err != nil {
		return fmt.Errorf("open sink for %q: %w", req.FileName, err)
	}

	session, err := NewReceiverSession(req, ep.channel, sink, ep.registry, ep.logger)
	if err != nil {
		_ = sink.Discard()
		return err
	}
	session.SetDoneFunc(ep.onDone)

	if err := ep.registry.Put(session); err != nil {
		_ = sink.Discard()
		return err
	}
	ep.logger.Info("transfer accepted",
		"transferID", req.ID, "fileName", req.FileName, "bytes", req.TotalLength)
	return nil
}

func (ep *Endpoint) respond(req protocol.TransferRequest, accepted bool, msg string) {
	resp := protocol.TransferResponse{
		Routing:  protocol.Routing{SenderPeer: ep.peerID, TargetPeer: req.SenderPeer},
		ID:       req.ID,
		Accepted: accepted,
		Message:  msg,
	}
	if err := ep.channel.Send(resp); err != nil {
		ep.logger.Error("response send failed", "transferID", req.ID, "error", err)
	}
}

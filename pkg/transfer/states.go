package transfer

// SenderState is the lifecycle state of an outbound transfer session.
type SenderState int

const (
	// SenderRequesting: the transfer request is out, awaiting accept/reject.
	SenderRequesting SenderState = iota
	// SenderSending: workers are streaming chunks through the pacing gate.
	SenderSending
	// SenderWaitingConfirmation: every chunk is confirmed, awaiting the
	// receiver's final integrity verdict.
	SenderWaitingConfirmation
	// SenderPaused: the channel reported unavailability; state is kept.
	SenderPaused
	// SenderRejected: the receiver declined the request.
	SenderRejected
	// SenderCompleted: the receiver confirmed integrity. Terminal.
	SenderCompleted
	// SenderFailed: a fatal error ended the session. Terminal.
	SenderFailed
	// SenderCancelled: an explicit cancel ended the session. Terminal.
	SenderCancelled
)

// String returns a human-readable representation of the sender state.
func (s SenderState) String() string {
	switch s {
	case SenderRequesting:
		return "requesting"
	case SenderSending:
		return "sending"
	case SenderWaitingConfirmation:
		return "waiting_confirmation"
	case SenderPaused:
		return "paused"
	case SenderRejected:
		return "rejected"
	case SenderCompleted:
		return "completed"
	case SenderFailed:
		return "failed"
	case SenderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the session can never change state again.
func (s SenderState) IsTerminal() bool {
	return s == SenderRejected || s == SenderCompleted || s == SenderFailed || s == SenderCancelled
}

// CanTransitionTo checks if a sender state transition is valid.
func (s SenderState) CanTransitionTo(next SenderState) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case SenderRequesting:
		return next == SenderSending || next == SenderRejected ||
			next == SenderFailed || next == SenderCancelled
	case SenderSending:
		return next == SenderWaitingConfirmation || next == SenderPaused ||
			next == SenderFailed || next == SenderCancelled
	case SenderWaitingConfirmation:
		return next == SenderCompleted || next == SenderFailed || next == SenderCancelled
	case SenderPaused:
		return next == SenderSending || next == SenderFailed || next == SenderCancelled
	default:
		return false
	}
}

// ReceiverState is the lifecycle state of an inbound transfer session.
type ReceiverState int

const (
	// ReceiverAwaitingRequest: created but the accept decision is pending.
	ReceiverAwaitingRequest ReceiverState = iota
	// ReceiverReceiving: chunks are being stored and acknowledged.
	ReceiverReceiving
	// ReceiverReassembling: all chunks present, concatenating and verifying.
	ReceiverReassembling
	// ReceiverRejected: the decider declined the request. Terminal.
	ReceiverRejected
	// ReceiverCompleted: payload reassembled and verified. Terminal.
	ReceiverCompleted
	// ReceiverFailed: a fatal error ended the session. Terminal.
	ReceiverFailed
	// ReceiverCancelled: an explicit cancel ended the session. Terminal.
	ReceiverCancelled
)

// String returns a human-readable representation of the receiver state.
func (s ReceiverState) String() string {
	switch s {
	case ReceiverAwaitingRequest:
		return "awaiting_request"
	case ReceiverReceiving:
		return "receiving"
	case ReceiverReassembling:
		return "reassembling"
	case ReceiverRejected:
		return "rejected"
	case ReceiverCompleted:
		return "completed"
	case ReceiverFailed:
		return "failed"
	case ReceiverCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the session can never change state again.
func (s ReceiverState) IsTerminal() bool {
	return s == ReceiverRejected || s == ReceiverCompleted ||
		s == ReceiverFailed || s == ReceiverCancelled
}

// CanTransitionTo checks if a receiver state transition is valid.
func (s ReceiverState) CanTransitionTo(next ReceiverState) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case ReceiverAwaitingRequest:
		return next == ReceiverReceiving || next == ReceiverRejected || next == ReceiverCancelled
	case ReceiverReceiving:
		return next == ReceiverReassembling || next == ReceiverFailed || next == ReceiverCancelled
	case ReceiverReassembling:
		return next == ReceiverCompleted || next == ReceiverFailed
	default:
		return false
	}
}

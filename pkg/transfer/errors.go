package transfer

import "errors"

// Error taxonomy for the transfer protocol. Chunk-level failures are
// absorbed and retried up to their ceiling; session-level failures surface
// once, through a single terminal state change.
var (
	// ErrInvalidMetadata marks a malformed transfer request; rejected
	// immediately, never retried.
	ErrInvalidMetadata = errors.New("invalid transfer metadata")

	// ErrTransferNotFound means no live session matches the transfer ID.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrTransferAlreadyExists means a session with this ID is already registered.
	ErrTransferAlreadyExists = errors.New("transfer already exists")

	// ErrInvalidStateTransition marks an illegal session state change.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrTransferRejected means the receiver declined the transfer request.
	ErrTransferRejected = errors.New("transfer rejected by receiver")

	// ErrTransferCancelled means the transfer was cancelled explicitly.
	ErrTransferCancelled = errors.New("transfer cancelled")

	// ErrAckTimeout is the recoverable per-chunk condition that drives a
	// bounded retry.
	ErrAckTimeout = errors.New("chunk acknowledgment timed out")

	// ErrMaxRetriesExceeded is fatal for a chunk and escalates the whole
	// session to Failed.
	ErrMaxRetriesExceeded = errors.New("max chunk retries exceeded")

	// ErrChannelUnavailable pauses a session; the resume coordinator
	// recovers it.
	ErrChannelUnavailable = errors.New("relay channel unavailable")

	// ErrIntegrityMismatch means the reassembled payload digest does not
	// match the declared digest. Fatal, not retried locally.
	ErrIntegrityMismatch = errors.New("payload integrity mismatch")

	// ErrChunkMissing marks a reassembly-time gap in the received set, a
	// protocol invariant violation.
	ErrChunkMissing = errors.New("chunk missing at reassembly")

	// ErrResumeRoundsExhausted means missing chunks persisted after the
	// resume round budget.
	ErrResumeRoundsExhausted = errors.New("resume rounds exhausted with chunks still missing")
)

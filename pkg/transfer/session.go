package transfer

import (
	"io"
	"time"

	"github.com/rescp17/relaySharer/pkg/protocol"
)

// Channel is the message-oriented pipe a session sends envelopes through.
// Implementations enforce the per-message size ceiling and surface
// delivery failure synchronously.
type Channel interface {
	// Send encodes and delivers a single envelope. It returns
	// ErrChannelUnavailable (possibly wrapped) once the underlying
	// transport is gone.
	Send(env protocol.Envelope) error
	// BufferedBytes reports how much data sits queued in the transport
	// awaiting delivery. Senders poll it for backpressure.
	BufferedBytes() int
}

// Decider answers an incoming transfer request. The accept decision is
// injected so callers can prompt, auto-accept or apply policy.
type Decider interface {
	Decide(req protocol.TransferRequest) (accepted bool, reason string)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(req protocol.TransferRequest) (bool, string)

func (f DeciderFunc) Decide(req protocol.TransferRequest) (bool, string) { return f(req) }

// AcceptAll is a Decider that accepts every request.
var AcceptAll = DeciderFunc(func(protocol.TransferRequest) (bool, string) { return true, "" })

// PendingAckRecord tracks one in-flight chunk awaiting acknowledgment.
type PendingAckRecord struct {
	Index   int
	Size    int
	SentAt  time.Time
	Attempt int
}

// Progress is a point-in-time snapshot of a session's advancement,
// reported through ProgressFunc callbacks.
type Progress struct {
	TransferID string
	TotalBytes int64
	DoneBytes  int64
	Throughput float64 // bytes per second
	State      string
}

// ProgressFunc receives progress snapshots. A nil ProgressFunc disables
// reporting.
type ProgressFunc func(p Progress)

// PayloadSource is the sender-side view of the payload being moved.
// ReadAt semantics allow concurrent workers to slice chunks without
// coordinating a shared offset.
type PayloadSource interface {
	io.ReaderAt
	Name() string
	Size() int64
	// Digest returns the SHA-256 digest of the whole payload as a hex
	// string.
	Digest() (string, error)
	MIMEType() string
}

// PayloadSink is the receiver-side destination for reassembled bytes.
type PayloadSink interface {
	io.WriterAt
	// Digest returns the SHA-256 digest of everything written so far,
	// as a hex string. Called once after the final chunk lands.
	Digest() (string, error)
	// Commit finalizes the payload after a successful integrity check.
	Commit() error
	// Discard abandons partial data after failure or cancellation.
	Discard() error
}

package transfer

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rescp17/relaySharer/pkg/protocol"
)

// ReceiverSession reassembles one inbound transfer. Chunks may arrive in
// any order, duplicated, or not at all; the session writes each exactly
// once at its fixed offset and answers status queries with its
// authoritative possession set.
type ReceiverSession struct {
	mu sync.Mutex

	id          string
	senderPeer  string
	localPeer   string
	fileName    string
	totalLength int64
	totalChunks int
	chunkLength int32
	digest      string

	state     ReceiverState
	received  map[int]struct{}
	doneBytes int64
	failure   error

	channel    Channel
	sink       PayloadSink
	registry   *Registry
	onProgress ProgressFunc
	onDone     func(id string, err error)
	logger     *slog.Logger
}

// NewReceiverSession accepts a transfer request and builds the session
// that will collect its chunks. The caller has already decided to accept;
// the response envelope is sent here so accept and registration cannot
// diverge.
func NewReceiverSession(req protocol.TransferRequest, ch Channel, sink PayloadSink, reg *Registry, logger *slog.Logger) (*ReceiverSession, error) {
	if req.ID == "" || req.TotalLength <= 0 || req.TotalChunks <= 0 || req.ChunkLength <= 0 {
		return nil, fmt.Errorf("transfer request %q: %w", req.ID, ErrInvalidMetadata)
	}
	if logger == nil {
		logger = slog.Default()
	}
	rs := &ReceiverSession{
		id:          req.ID,
		senderPeer:  req.SenderPeer,
		localPeer:   req.TargetPeer,
		fileName:    req.FileName,
		totalLength: req.TotalLength,
		totalChunks: req.TotalChunks,
		chunkLength: req.ChunkLength,
		digest:      req.Digest,
		state:       ReceiverReceiving,
		received:    make(map[int]struct{}, req.TotalChunks),
		channel:     ch,
		sink:        sink,
		registry:    reg,
		logger:      logger.With("transferID", req.ID, "role", "receiver"),
	}
	return rs, nil
}

// SetProgressFunc installs a progress callback. Must be called before the
// first chunk arrives.
func (rs *ReceiverSession) SetProgressFunc(fn ProgressFunc) { rs.onProgress = fn }

// SetDoneFunc installs a completion callback invoked once when the
// session reaches a terminal state. The error is nil on success.
func (rs *ReceiverSession) SetDoneFunc(fn func(id string, err error)) { rs.onDone = fn }

func (rs *ReceiverSession) ID() string { return rs.id }

// State returns the current session state.
func (rs *ReceiverSession) State() ReceiverState {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.state
}

// Err returns the failure that moved the session to a terminal error
// state, or nil.
func (rs *ReceiverSession) Err() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.failure
}

// Handle dispatches one incoming envelope. Unknown kinds and envelopes
// arriving after a terminal state are absorbed without effect.
func (rs *ReceiverSession) Handle(env protocol.Envelope) {
	switch e := env.(type) {
	case protocol.ChunkData:
		rs.handleChunk(e)
	case protocol.StatusQuery:
		rs.handleStatusQuery(e)
	case protocol.TransferCancel:
		rs.handleCancel(e)
	default:
		rs.logger.Warn("unexpected envelope kind", "kind", env.Kind())
	}
}

func (rs *ReceiverSession) handleChunk(chunk protocol.ChunkData) {
	rs.mu.Lock()

	if rs.state.IsTerminal() {
		rs.mu.Unlock()
		return
	}
	if chunk.Index < 0 || chunk.Index >= rs.totalChunks {
		rs.mu.Unlock()
		go rs.ackChunk(chunk.Index, false, fmt.Sprintf("chunk index %d out of range [0,%d)", chunk.Index, rs.totalChunks))
		return
	}

	if _, dup := rs.received[chunk.Index]; dup {
		// Duplicates are acknowledged again but never rewritten.
		rs.mu.Unlock()
		if chunk.RequireAck {
			go rs.ackChunk(chunk.Index, true, "")
		}
		return
	}

	offset := int64(chunk.Index) * int64(rs.chunkLength)
	if _, err := rs.sink.WriteAt(chunk.Payload, offset); err != nil {
		rs.failLocked(fmt.Errorf("write chunk %d: %w", chunk.Index, err))
		rs.mu.Unlock()
		return
	}
	rs.received[chunk.Index] = struct{}{}
	rs.doneBytes += int64(len(chunk.Payload))
	complete := len(rs.received) == rs.totalChunks
	rs.mu.Unlock()

	// Acks ride their own goroutine; a slow channel must not stall
	// ingestion of the next chunk arriving on the dispatch path.
	if chunk.RequireAck {
		go rs.ackChunk(chunk.Index, true, "")
	}
	rs.reportProgress()

	if complete {
		rs.finish()
	}
}

// finish runs reassembly verification and sends the final confirmation.
// Completion on the sender side exists only through that confirmation,
// never through the last ack.
func (rs *ReceiverSession) finish() {
	rs.mu.Lock()
	if !rs.state.CanTransitionTo(ReceiverReassembling) {
		rs.mu.Unlock()
		return
	}
	rs.state = ReceiverReassembling
	gap := -1
	for i := 0; i < rs.totalChunks; i++ {
		if _, ok := rs.received[i]; !ok {
			gap = i
			break
		}
	}
	rs.mu.Unlock()

	var err error
	if gap >= 0 {
		err = fmt.Errorf("reassembly gap at chunk %d of %d: %w", gap, rs.totalChunks, ErrChunkMissing)
	} else {
		var got string
		got, err = rs.sink.Digest()
		if err == nil && got != rs.digest {
			err = fmt.Errorf("digest %s does not match declared %s: %w", got, rs.digest, ErrIntegrityMismatch)
		}
	}
	if err != nil {
		rs.logger.Error("reassembly verification failed", "error", err)
		rs.sendConfirmation(false, err.Error())
		rs.mu.Lock()
		rs.failLocked(err)
		rs.mu.Unlock()
		_ = rs.sink.Discard()
		return
	}

	if err := rs.sink.Commit(); err != nil {
		rs.logger.Error("commit failed", "error", err)
		rs.sendConfirmation(false, err.Error())
		rs.mu.Lock()
		rs.failLocked(fmt.Errorf("commit payload: %w", err))
		rs.mu.Unlock()
		return
	}

	rs.sendConfirmation(true, "")
	rs.mu.Lock()
	rs.state = ReceiverCompleted
	rs.mu.Unlock()
	rs.logger.Info("transfer complete", "fileName", rs.fileName, "bytes", rs.totalLength)
	rs.reportProgress()
	rs.teardown(nil)
}

func (rs *ReceiverSession) handleStatusQuery(protocol.StatusQuery) {
	rs.mu.Lock()
	receivedSet := make([]int, 0, len(rs.received))
	for idx := range rs.received {
		receivedSet = append(receivedSet, idx)
	}
	missing := make([]int, 0, rs.totalChunks-len(rs.received))
	for i := 0; i < rs.totalChunks; i++ {
		if _, ok := rs.received[i]; !ok {
			missing = append(missing, i)
		}
	}
	total := len(rs.received)
	rs.mu.Unlock()

	sort.Ints(receivedSet)

	resp := protocol.StatusResponse{
		Routing:        rs.outbound(),
		ID:             rs.id,
		ReceivedChunks: receivedSet,
		MissingChunks:  missing,
		TotalReceived:  total,
	}
	if err := rs.channel.Send(resp); err != nil {
		rs.logger.Warn("status response send failed", "error", err)
	}
}

func (rs *ReceiverSession) handleCancel(cancel protocol.TransferCancel) {
	rs.mu.Lock()
	if !rs.state.CanTransitionTo(ReceiverCancelled) {
		rs.mu.Unlock()
		return
	}
	rs.state = ReceiverCancelled
	rs.failure = fmt.Errorf("cancelled by sender: %s: %w", cancel.Message, ErrTransferCancelled)
	rs.mu.Unlock()

	_ = rs.sink.Discard()
	rs.logger.Info("transfer cancelled by sender", "message", cancel.Message)
	rs.teardown(rs.Err())
}

// Cancel aborts the transfer locally and notifies the sender.
func (rs *ReceiverSession) Cancel(reason string) error {
	rs.mu.Lock()
	if !rs.state.CanTransitionTo(ReceiverCancelled) {
		rs.mu.Unlock()
		return fmt.Errorf("cancel in state %s: %w", rs.state, ErrInvalidStateTransition)
	}
	rs.state = ReceiverCancelled
	rs.failure = fmt.Errorf("cancelled: %s: %w", reason, ErrTransferCancelled)
	rs.mu.Unlock()

	_ = rs.sink.Discard()
	err := rs.channel.Send(protocol.TransferCancel{
		Routing: rs.outbound(),
		ID:      rs.id,
		Message: reason,
	})
	rs.teardown(rs.Err())
	return err
}

func (rs *ReceiverSession) ackChunk(index int, success bool, msg string) {
	ack := protocol.ChunkAck{
		Routing: rs.outbound(),
		ID:      rs.id,
		Index:   index,
		Success: success,
		Error:   msg,
	}
	if err := rs.channel.Send(ack); err != nil {
		rs.logger.Warn("ack send failed", "chunkIndex", index, "error", err)
	}
}

func (rs *ReceiverSession) sendConfirmation(success bool, msg string) {
	conf := protocol.TransferConfirmation{
		Routing: rs.outbound(),
		ID:      rs.id,
		Success: success,
		Message: msg,
	}
	if err := rs.channel.Send(conf); err != nil {
		rs.logger.Error("confirmation send failed", "error", err)
	}
}

// failLocked moves the session to Failed. Callers hold rs.mu.
func (rs *ReceiverSession) failLocked(err error) {
	if rs.state.IsTerminal() {
		return
	}
	rs.state = ReceiverFailed
	rs.failure = err
	go rs.teardown(err)
}

func (rs *ReceiverSession) teardown(err error) {
	if rs.registry != nil {
		rs.registry.MarkTerminal(rs.id)
	}
	if rs.onDone != nil {
		rs.onDone(rs.id, err)
	}
}

func (rs *ReceiverSession) reportProgress() {
	if rs.onProgress == nil {
		return
	}
	rs.mu.Lock()
	p := Progress{
		TransferID: rs.id,
		TotalBytes: rs.totalLength,
		DoneBytes:  rs.doneBytes,
		State:      rs.state.String(),
	}
	rs.mu.Unlock()
	rs.onProgress(p)
}

func (rs *ReceiverSession) outbound() protocol.Routing {
	return protocol.Routing{SenderPeer: rs.localPeer, TargetPeer: rs.senderPeer}
}

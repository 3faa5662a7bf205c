package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rescp17/relaySharer/pkg/protocol"
)

// SenderSession drives one outbound transfer through its full lifecycle:
// request, windowed chunk sending with per-chunk retries, pause on
// channel loss, resume reconciliation and the final confirmation wait.
type SenderSession struct {
	mu sync.Mutex

	id         string
	localPeer  string
	targetPeer string
	cfg        *TransferConfig

	source   PayloadSource
	channel  Channel
	registry *Registry
	flow     *FlowMonitor
	retries  *RetryQueue
	resume   *ResumeCoordinator
	logger   *slog.Logger

	chunkLength int32
	totalChunks int
	digest      string

	state     SenderState
	failure   error
	nextIndex int
	pending   map[int]*PendingAckRecord
	confirmed map[int]struct{}
	doneBytes int64

	responseCh chan protocol.TransferResponse
	statusCh   chan protocol.StatusResponse
	confirmCh  chan protocol.TransferConfirmation
	recoveryCh chan struct{}
	done       chan struct{}

	onProgress ProgressFunc
}

// NewSenderSession prepares an outbound transfer. The chunk geometry is
// computed here and fixed for the life of the transfer.
func NewSenderSession(id, localPeer, targetPeer string, source PayloadSource, ch Channel, reg *Registry, cfg *TransferConfig, logger *slog.Logger) (*SenderSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source.Size() <= 0 {
		return nil, fmt.Errorf("payload %q has no data: %w", source.Name(), ErrInvalidMetadata)
	}
	digest, err := source.Digest()
	if err != nil {
		return nil, fmt.Errorf("digest payload %q: %w", source.Name(), err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	chunkLength := ComputeChunkSize(source.Size(), cfg)
	ss := &SenderSession{
		id:          id,
		localPeer:   localPeer,
		targetPeer:  targetPeer,
		cfg:         cfg,
		source:      source,
		channel:     ch,
		registry:    reg,
		flow:        NewFlowMonitor(cfg),
		retries:     NewRetryQueue(),
		logger:      logger.With("transferID", id, "role", "sender"),
		chunkLength: chunkLength,
		totalChunks: ChunkCount(source.Size(), chunkLength),
		digest:      digest,
		state:       SenderRequesting,
		pending:     make(map[int]*PendingAckRecord),
		confirmed:   make(map[int]struct{}),
		responseCh:  make(chan protocol.TransferResponse, 1),
		statusCh:    make(chan protocol.StatusResponse, 1),
		confirmCh:   make(chan protocol.TransferConfirmation, 1),
		recoveryCh:  make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	ss.resume = NewResumeCoordinator(cfg, ss.logger)
	return ss, nil
}

// SetProgressFunc installs a progress callback. Must be called before Run.
func (ss *SenderSession) SetProgressFunc(fn ProgressFunc) { ss.onProgress = fn }

func (ss *SenderSession) ID() string { return ss.id }

// State returns the current session state.
func (ss *SenderSession) State() SenderState {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state
}

// Err returns the failure that terminated the session, or nil.
func (ss *SenderSession) Err() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.failure
}

// ChunkLength returns the negotiated chunk geometry.
func (ss *SenderSession) ChunkLength() int32 { return ss.chunkLength }

// TotalChunks returns the number of chunks the payload splits into.
func (ss *SenderSession) TotalChunks() int { return ss.totalChunks }

// Run executes the transfer to a terminal state. It blocks until the
// transfer completes, fails, is rejected or cancelled, or ctx expires.
func (ss *SenderSession) Run(ctx context.Context) error {
	defer func() {
		if ss.registry != nil {
			ss.registry.MarkTerminal(ss.id)
		}
	}()

	if err := ss.sendRequest(ctx); err != nil {
		return err
	}
	if err := ss.sendChunks(ctx); err != nil {
		return err
	}
	return ss.awaitConfirmation(ctx)
}

// sendRequest opens the transfer and waits for the accept decision.
func (ss *SenderSession) sendRequest(ctx context.Context) error {
	req := protocol.TransferRequest{
		Routing:     ss.outbound(),
		ID:          ss.id,
		FileName:    ss.source.Name(),
		TotalLength: ss.source.Size(),
		ContentType: ss.source.MIMEType(),
		TotalChunks: ss.totalChunks,
		ChunkLength: ss.chunkLength,
		Digest:      ss.digest,
	}
	ss.logger.Info("requesting transfer",
		"fileName", req.FileName, "bytes", req.TotalLength,
		"chunks", req.TotalChunks, "chunkLength", req.ChunkLength)
	if err := ss.channel.Send(req); err != nil {
		return ss.fail(fmt.Errorf("send transfer request: %w", err))
	}

	select {
	case resp := <-ss.responseCh:
		if !resp.Accepted {
			ss.transition(SenderRejected)
			err := fmt.Errorf("peer %s declined: %s: %w", ss.targetPeer, resp.Message, ErrTransferRejected)
			ss.setFailure(err)
			return err
		}
		ss.transition(SenderSending)
		return nil
	case <-time.After(ss.cfg.ResponseTimeout):
		return ss.fail(fmt.Errorf("no response within %s: %w", ss.cfg.ResponseTimeout, ErrAckTimeout))
	case <-ss.done:
		return ss.Err()
	case <-ctx.Done():
		return ss.fail(ctx.Err())
	}
}

// sendChunks runs the worker pool and the ack-timeout scanner until every
// chunk has been sent and either acknowledged or handed to the resume
// coordinator.
func (ss *SenderSession) sendChunks(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	scanCtx, stopScan := context.WithCancel(gctx)
	defer stopScan()

	go ss.scanAckTimeouts(scanCtx)

	for i := 0; i < ss.cfg.MaxWorkers; i++ {
		g.Go(func() error { return ss.workerLoop(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ss.reconcileIfNeeded(ctx)
}

// workerLoop claims work until the session drains or leaves the Sending
// state. Due retries are preferred over fresh indices so overdue chunks
// do not starve behind new data.
func (ss *SenderSession) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ss.done:
			return ss.Err()
		default:
		}

		if err := ss.waitWhilePaused(ctx); err != nil {
			return err
		}

		if index, attempt, ok := ss.retries.PopDue(); ok {
			if err := ss.sendChunk(ctx, index, attempt, true); err != nil {
				return err
			}
			continue
		}

		index, ok, drained := ss.claimFresh()
		if drained {
			return nil
		}
		if !ok {
			// Window full or only undue retries left.
			time.Sleep(ss.cfg.AckScanInterval / 4)
			continue
		}
		if err := ss.sendChunk(ctx, index, 1, true); err != nil {
			return err
		}
	}
}

// claimFresh reserves the next unsent index if the in-flight window has
// room. drained is true once nothing is left to send or retry.
func (ss *SenderSession) claimFresh() (index int, ok, drained bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.nextIndex >= ss.totalChunks {
		drained = len(ss.pending) == 0 && ss.retries.Len() == 0
		return 0, false, drained
	}
	if len(ss.pending) >= ss.flow.Window() {
		return 0, false, false
	}
	index = ss.nextIndex
	ss.nextIndex++
	ss.pending[index] = &PendingAckRecord{Index: index, Attempt: 1}
	return index, true, false
}

// sendChunk reads one chunk and delivers it, honoring backpressure and
// pacing. requireAck is false only for resume retransmissions.
func (ss *SenderSession) sendChunk(ctx context.Context, index, attempt int, requireAck bool) error {
	payload, err := ss.readChunk(index)
	if err != nil {
		return ss.fail(fmt.Errorf("read chunk %d: %w", index, err))
	}

	if err := ss.waitForBuffer(ctx); err != nil {
		return err
	}
	if delay := ss.flow.PacingDelay(); delay > 0 {
		time.Sleep(delay)
	}

	chunk := protocol.ChunkData{
		Routing:    ss.outbound(),
		ID:         ss.id,
		Index:      index,
		Payload:    payload,
		IsLast:     index == ss.totalChunks-1,
		RequireAck: requireAck,
	}

	ss.mu.Lock()
	if requireAck {
		// Retries re-enter the pending set here; fresh sends already
		// hold a placeholder from claimFresh.
		ss.pending[index] = &PendingAckRecord{
			Index:   index,
			Size:    len(payload),
			SentAt:  time.Now(),
			Attempt: attempt,
		}
	}
	ss.mu.Unlock()

	if err := ss.channel.Send(chunk); err != nil {
		if errors.Is(err, ErrChannelUnavailable) {
			ss.pause(index, requireAck)
			return nil
		}
		return ss.fail(fmt.Errorf("send chunk %d: %w", index, err))
	}
	return nil
}

func (ss *SenderSession) readChunk(index int) ([]byte, error) {
	offset := int64(index) * int64(ss.chunkLength)
	length := int64(ss.chunkLength)
	if remain := ss.source.Size() - offset; remain < length {
		length = remain
	}
	buf := make([]byte, length)
	if _, err := ss.source.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// waitForBuffer blocks while the transport's send buffer sits above the
// high watermark, resuming below the low watermark.
func (ss *SenderSession) waitForBuffer(ctx context.Context) error {
	if ss.channel.BufferedBytes() < ss.cfg.BufferHighWater {
		return nil
	}
	for ss.channel.BufferedBytes() > ss.cfg.BufferLowWater {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ss.done:
			return ss.Err()
		case <-time.After(ss.cfg.BufferPoll):
		}
	}
	return nil
}

// pause reacts to channel loss. The in-flight chunk goes back to the
// retry queue without consuming an attempt; progress so far is kept.
func (ss *SenderSession) pause(index int, tracked bool) {
	ss.mu.Lock()
	if !ss.state.CanTransitionTo(SenderPaused) {
		ss.mu.Unlock()
		return
	}
	ss.state = SenderPaused
	if tracked {
		if rec, ok := ss.pending[index]; ok {
			delete(ss.pending, index)
			ss.retries.Schedule(index, rec.Attempt, 0)
		}
	}
	ss.mu.Unlock()
	ss.logger.Warn("channel unavailable, transfer paused", "chunkIndex", index)
}

// ChannelRecovered signals that the relay channel is usable again.
// Paused workers resynchronize against the receiver before resuming.
func (ss *SenderSession) ChannelRecovered() {
	ss.mu.Lock()
	if ss.state != SenderPaused {
		ss.mu.Unlock()
		return
	}
	ss.state = SenderSending
	ss.mu.Unlock()

	select {
	case ss.recoveryCh <- struct{}{}:
	default:
	}
	ss.logger.Info("channel recovered, resuming transfer")
}

func (ss *SenderSession) waitWhilePaused(ctx context.Context) error {
	for ss.State() == SenderPaused {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ss.done:
			return ss.Err()
		case <-ss.recoveryCh:
			// Reconcile before sending anything new: acks may have
			// been lost while the channel was down.
			if err := ss.resume.Reconcile(ctx, ss); err != nil {
				return ss.fail(err)
			}
		}
	}
	return nil
}

// scanAckTimeouts periodically expires in-flight chunks whose ack
// deadline passed and feeds them to the retry queue.
func (ss *SenderSession) scanAckTimeouts(ctx context.Context) {
	ticker := time.NewTicker(ss.cfg.AckScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ss.done:
			return
		case <-ticker.C:
		}

		if ss.State() != SenderSending {
			continue
		}
		timeout := ss.flow.AckTimeout()
		now := time.Now()

		ss.mu.Lock()
		var expired []*PendingAckRecord
		for _, rec := range ss.pending {
			if !rec.SentAt.IsZero() && now.Sub(rec.SentAt) > timeout {
				expired = append(expired, rec)
			}
		}
		for _, rec := range expired {
			delete(ss.pending, rec.Index)
		}
		ss.mu.Unlock()

		for _, rec := range expired {
			ss.flow.ObserveFailure()
			if rec.Attempt >= ss.cfg.MaxChunkRetries {
				ss.fail(fmt.Errorf("chunk %d unacknowledged after %d attempts: %w",
					rec.Index, rec.Attempt, ErrMaxRetriesExceeded))
				return
			}
			ss.logger.Debug("ack timeout, scheduling retry",
				"chunkIndex", rec.Index, "attempt", rec.Attempt, "timeout", timeout)
			ss.retries.Schedule(rec.Index, rec.Attempt+1, ss.cfg.AckScanInterval)
		}
	}
}

// reconcileIfNeeded runs resume rounds when the drain left unconfirmed
// chunks behind, then hands off to the confirmation wait.
func (ss *SenderSession) reconcileIfNeeded(ctx context.Context) error {
	ss.mu.Lock()
	sentRatio := float64(ss.nextIndex) / float64(ss.totalChunks)
	incomplete := len(ss.confirmed) < ss.totalChunks
	ss.mu.Unlock()

	if incomplete && sentRatio >= ss.cfg.ResumeTriggerRatio {
		if err := ss.resume.Reconcile(ctx, ss); err != nil {
			return ss.fail(err)
		}
	}
	return nil
}

// awaitConfirmation blocks until the receiver's final verdict. The last
// chunk ack never completes a transfer; only an explicit confirmation
// with Success=true does.
func (ss *SenderSession) awaitConfirmation(ctx context.Context) error {
	if ss.State() == SenderSending {
		ss.transition(SenderWaitingConfirmation)
	}

	select {
	case conf := <-ss.confirmCh:
		if !conf.Success {
			return ss.fail(fmt.Errorf("receiver rejected payload: %s: %w", conf.Message, ErrIntegrityMismatch))
		}
		ss.transition(SenderCompleted)
		ss.logger.Info("transfer confirmed", "bytes", ss.source.Size())
		ss.reportProgress()
		return nil
	case <-time.After(ss.cfg.ResponseTimeout):
		return ss.fail(fmt.Errorf("no confirmation within %s: %w", ss.cfg.ResponseTimeout, ErrAckTimeout))
	case <-ss.done:
		return ss.Err()
	case <-ctx.Done():
		return ss.fail(ctx.Err())
	}
}

// Handle dispatches one incoming envelope from the relay.
func (ss *SenderSession) Handle(env protocol.Envelope) {
	switch e := env.(type) {
	case protocol.TransferResponse:
		select {
		case ss.responseCh <- e:
		default:
		}
	case protocol.ChunkAck:
		ss.handleAck(e)
	case protocol.StatusResponse:
		select {
		case ss.statusCh <- e:
		default:
		}
	case protocol.TransferConfirmation:
		select {
		case ss.confirmCh <- e:
		default:
		}
	case protocol.TransferCancel:
		ss.handleRemoteCancel(e)
	default:
		ss.logger.Warn("unexpected envelope kind", "kind", env.Kind())
	}
}

func (ss *SenderSession) handleAck(ack protocol.ChunkAck) {
	ss.mu.Lock()
	rec, inflight := ss.pending[ack.Index]
	if inflight {
		delete(ss.pending, ack.Index)
	}

	if ack.Success {
		// Duplicate acks and acks for resume retransmissions both land
		// here with no pending record; marking confirmed is idempotent.
		ss.confirmed[ack.Index] = struct{}{}
		if inflight {
			ss.doneBytes += int64(rec.Size)
		}
		ss.mu.Unlock()
		if inflight {
			ss.flow.ObserveAck(time.Since(rec.SentAt), rec.Size)
		}
		ss.reportProgress()
		return
	}
	ss.mu.Unlock()

	ss.flow.ObserveFailure()
	attempt := 1
	if inflight {
		attempt = rec.Attempt
	}
	if attempt >= ss.cfg.MaxChunkRetries {
		ss.fail(fmt.Errorf("chunk %d rejected after %d attempts: %s: %w",
			ack.Index, attempt, ack.Error, ErrMaxRetriesExceeded))
		return
	}
	ss.logger.Debug("negative ack, scheduling retry",
		"chunkIndex", ack.Index, "attempt", attempt, "error", ack.Error)
	ss.retries.Schedule(ack.Index, attempt+1, ss.cfg.AckScanInterval)
}

func (ss *SenderSession) handleRemoteCancel(cancel protocol.TransferCancel) {
	ss.mu.Lock()
	if !ss.state.CanTransitionTo(SenderCancelled) {
		ss.mu.Unlock()
		return
	}
	ss.state = SenderCancelled
	ss.failure = fmt.Errorf("cancelled by receiver: %s: %w", cancel.Message, ErrTransferCancelled)
	close(ss.done)
	ss.mu.Unlock()
	ss.logger.Info("transfer cancelled by receiver", "message", cancel.Message)
}

// Cancel aborts the transfer locally and notifies the receiver.
func (ss *SenderSession) Cancel(reason string) error {
	ss.mu.Lock()
	if !ss.state.CanTransitionTo(SenderCancelled) {
		ss.mu.Unlock()
		return fmt.Errorf("cancel in state %s: %w", ss.state, ErrInvalidStateTransition)
	}
	ss.state = SenderCancelled
	ss.failure = fmt.Errorf("cancelled: %s: %w", reason, ErrTransferCancelled)
	close(ss.done)
	ss.mu.Unlock()

	return ss.channel.Send(protocol.TransferCancel{
		Routing: ss.outbound(),
		ID:      ss.id,
		Message: reason,
	})
}

// QueryStatus implements ResumeTarget. It asks the receiver for its
// authoritative possession set and waits for the answer.
func (ss *SenderSession) QueryStatus(ctx context.Context) (protocol.StatusResponse, error) {
	query := protocol.StatusQuery{Routing: ss.outbound(), ID: ss.id}
	if err := ss.channel.Send(query); err != nil {
		return protocol.StatusResponse{}, fmt.Errorf("send status query: %w", err)
	}
	select {
	case resp := <-ss.statusCh:
		return resp, nil
	case <-time.After(ss.cfg.StatusQueryTimeout):
		return protocol.StatusResponse{}, fmt.Errorf("status query timed out after %s: %w",
			ss.cfg.StatusQueryTimeout, ErrAckTimeout)
	case <-ctx.Done():
		return protocol.StatusResponse{}, ctx.Err()
	}
}

// AdoptReceivedSet implements ResumeTarget. The receiver's set replaces
// local bookkeeping wholesale; locally tracked acks the receiver does not
// vouch for are dropped.
func (ss *SenderSession) AdoptReceivedSet(received []int) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.confirmed = make(map[int]struct{}, len(received))
	var bytes int64
	for _, idx := range received {
		ss.confirmed[idx] = struct{}{}
		bytes += int64(ss.chunkCapacity(idx))
	}
	ss.doneBytes = bytes
}

// Retransmit implements ResumeTarget. Resume resends skip acks; the next
// status round verifies receipt instead.
func (ss *SenderSession) Retransmit(ctx context.Context, index int) error {
	return ss.sendChunk(ctx, index, 1, false)
}

// ConfirmedCount reports how many chunks the receiver has vouched for.
func (ss *SenderSession) ConfirmedCount() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.confirmed)
}

// ConfirmedSet implements ResumeTarget: the sorted local confirmed set,
// used when a status query goes unanswered.
func (ss *SenderSession) ConfirmedSet() []int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make([]int, 0, len(ss.confirmed))
	for idx := range ss.confirmed {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func (ss *SenderSession) chunkCapacity(index int) int32 {
	if index == ss.totalChunks-1 {
		if rem := ss.source.Size() % int64(ss.chunkLength); rem != 0 {
			return int32(rem)
		}
	}
	return ss.chunkLength
}

func (ss *SenderSession) transition(next SenderState) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.state.CanTransitionTo(next) {
		ss.state = next
	}
}

func (ss *SenderSession) setFailure(err error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.failure == nil {
		ss.failure = err
	}
}

// fail moves the session to Failed exactly once and returns the stored
// failure so callers can propagate it directly.
func (ss *SenderSession) fail(err error) error {
	ss.mu.Lock()
	if ss.state.IsTerminal() {
		defer ss.mu.Unlock()
		return ss.failure
	}
	ss.state = SenderFailed
	ss.failure = err
	close(ss.done)
	ss.mu.Unlock()
	ss.logger.Error("transfer failed", "error", err)
	return err
}

func (ss *SenderSession) reportProgress() {
	if ss.onProgress == nil {
		return
	}
	ss.mu.Lock()
	p := Progress{
		TransferID: ss.id,
		TotalBytes: ss.source.Size(),
		DoneBytes:  ss.doneBytes,
		Throughput: ss.flow.Throughput(),
		State:      ss.state.String(),
	}
	ss.mu.Unlock()
	ss.onProgress(p)
}

func (ss *SenderSession) outbound() protocol.Routing {
	return protocol.Routing{SenderPeer: ss.localPeer, TargetPeer: ss.targetPeer}
}

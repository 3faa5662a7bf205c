package transfer

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/relaySharer/pkg/protocol"
)

func testRequest(data []byte, chunkLength int32) protocol.TransferRequest {
	return protocol.TransferRequest{
		Routing:     protocol.Routing{SenderPeer: "alice", TargetPeer: "bob"},
		ID:          "t-recv",
		FileName:    "payload.bin",
		TotalLength: int64(len(data)),
		ContentType: "application/octet-stream",
		TotalChunks: ChunkCount(int64(len(data)), chunkLength),
		ChunkLength: chunkLength,
		Digest:      hexDigest(data),
	}
}

func chunkOf(req protocol.TransferRequest, data []byte, index int) protocol.ChunkData {
	start := int64(index) * int64(req.ChunkLength)
	end := start + int64(req.ChunkLength)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return protocol.ChunkData{
		Routing:    protocol.Routing{SenderPeer: "alice", TargetPeer: "bob"},
		ID:         req.ID,
		Index:      index,
		Payload:    data[start:end],
		IsLast:     index == req.TotalChunks-1,
		RequireAck: true,
	}
}

func TestReceiverSession_OutOfOrderReassembly(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 64) // 512 bytes
	req := testRequest(data, 128)
	ch := &funcChannel{}
	sink := newMemorySink()
	reg := NewRegistry(time.Minute, testLogger())

	rs, err := NewReceiverSession(req, ch, sink, reg, testLogger())
	require.NoError(t, err)
	require.NoError(t, reg.Put(rs))

	for _, index := range []int{3, 0, 2, 1} {
		rs.Handle(chunkOf(req, data, index))
	}

	assert.Equal(t, ReceiverCompleted, rs.State())

	got, committed, discarded := sink.snapshot()
	assert.Equal(t, data, got)
	assert.True(t, committed)
	assert.False(t, discarded)

	require.Eventually(t, func() bool {
		return len(ch.sentOfKind(protocol.KindChunkAck)) == 4
	}, time.Second, 5*time.Millisecond)
	for _, env := range ch.sentOfKind(protocol.KindChunkAck) {
		assert.True(t, env.(protocol.ChunkAck).Success)
	}

	confs := ch.sentOfKind(protocol.KindTransferConfirmation)
	require.Len(t, confs, 1)
	assert.True(t, confs[0].(protocol.TransferConfirmation).Success)
}

func TestReceiverSession_DuplicateChunkAckedNotRewritten(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 512)
	req := testRequest(data, 128)
	ch := &funcChannel{}
	sink := newMemorySink()

	rs, err := NewReceiverSession(req, ch, sink, nil, testLogger())
	require.NoError(t, err)

	rs.Handle(chunkOf(req, data, 0))
	rs.Handle(chunkOf(req, data, 0))
	rs.Handle(chunkOf(req, data, 0))

	// Every delivery is acknowledged, the payload is written once.
	require.Eventually(t, func() bool {
		return len(ch.sentOfKind(protocol.KindChunkAck)) == 3
	}, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	writes := sink.writes[0]
	sink.mu.Unlock()
	assert.Equal(t, 1, writes)
	assert.Equal(t, ReceiverReceiving, rs.State())
}

func TestReceiverSession_ChunkIndexOutOfRange(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 256)
	req := testRequest(data, 128)
	ch := &funcChannel{}

	rs, err := NewReceiverSession(req, ch, newMemorySink(), nil, testLogger())
	require.NoError(t, err)

	bad := chunkOf(req, data, 0)
	bad.Index = 99
	bad.Payload = nil
	rs.Handle(bad)

	require.Eventually(t, func() bool {
		return len(ch.sentOfKind(protocol.KindChunkAck)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, ch.sentOfKind(protocol.KindChunkAck)[0].(protocol.ChunkAck).Success)
	assert.Equal(t, ReceiverReceiving, rs.State())
}

func TestReceiverSession_SlowAckDoesNotStallIngestion(t *testing.T) {
	data := bytes.Repeat([]byte{0x09}, 512)
	req := testRequest(data, 128) // 4 chunks
	sink := newMemorySink()

	release := make(chan struct{})
	ch := &funcChannel{
		onSend: func(env protocol.Envelope) error {
			if env.Kind() == protocol.KindChunkAck {
				<-release
			}
			return nil
		},
	}

	rs, err := NewReceiverSession(req, ch, sink, nil, testLogger())
	require.NoError(t, err)

	// All four chunks must land while every ack send is still blocked.
	for i := 0; i < req.TotalChunks; i++ {
		rs.Handle(chunkOf(req, data, i))
	}
	sink.mu.Lock()
	written := len(sink.writes)
	sink.mu.Unlock()
	assert.Equal(t, req.TotalChunks, written)

	close(release)
	require.Eventually(t, func() bool {
		return len(ch.sentOfKind(protocol.KindChunkAck)) == req.TotalChunks
	}, time.Second, 5*time.Millisecond)
}

func TestReceiverSession_DigestMismatchNeverCompletes(t *testing.T) {
	data := bytes.Repeat([]byte{0x07}, 512)
	req := testRequest(data, 128)
	req.Digest = hexDigest([]byte("something else entirely"))
	ch := &funcChannel{}
	sink := newMemorySink()

	rs, err := NewReceiverSession(req, ch, sink, nil, testLogger())
	require.NoError(t, err)

	for i := 0; i < req.TotalChunks; i++ {
		rs.Handle(chunkOf(req, data, i))
	}

	assert.Equal(t, ReceiverFailed, rs.State())
	assert.ErrorIs(t, rs.Err(), ErrIntegrityMismatch)

	_, committed, discarded := sink.snapshot()
	assert.False(t, committed)
	assert.True(t, discarded)

	confs := ch.sentOfKind(protocol.KindTransferConfirmation)
	require.Len(t, confs, 1)
	assert.False(t, confs[0].(protocol.TransferConfirmation).Success)
}

func TestReceiverSession_ReassemblyGapFails(t *testing.T) {
	data := bytes.Repeat([]byte{0x0a}, 512)
	req := testRequest(data, 128) // 4 chunks
	ch := &funcChannel{}
	sink := newMemorySink()

	rs, err := NewReceiverSession(req, ch, sink, nil, testLogger())
	require.NoError(t, err)

	// Possession bookkeeping with a hole at index 1; verification must
	// refuse to hash, confirm failure, and discard the partial payload.
	rs.mu.Lock()
	rs.received[0] = struct{}{}
	rs.received[2] = struct{}{}
	rs.received[3] = struct{}{}
	rs.mu.Unlock()
	rs.finish()

	assert.Equal(t, ReceiverFailed, rs.State())
	assert.ErrorIs(t, rs.Err(), ErrChunkMissing)

	_, committed, discarded := sink.snapshot()
	assert.False(t, committed)
	assert.True(t, discarded)

	confs := ch.sentOfKind(protocol.KindTransferConfirmation)
	require.Len(t, confs, 1)
	assert.False(t, confs[0].(protocol.TransferConfirmation).Success)
}

func TestReceiverSession_StatusQueryReportsPossessionSet(t *testing.T) {
	data := bytes.Repeat([]byte{0x03}, 512)
	req := testRequest(data, 128) // 4 chunks
	ch := &funcChannel{}

	rs, err := NewReceiverSession(req, ch, newMemorySink(), nil, testLogger())
	require.NoError(t, err)

	rs.Handle(chunkOf(req, data, 0))
	rs.Handle(chunkOf(req, data, 2))
	rs.Handle(protocol.StatusQuery{ID: req.ID})

	responses := ch.sentOfKind(protocol.KindStatusResponse)
	require.Len(t, responses, 1)
	resp := responses[0].(protocol.StatusResponse)
	assert.Equal(t, []int{0, 2}, resp.ReceivedChunks)
	assert.Equal(t, []int{1, 3}, resp.MissingChunks)
	assert.Equal(t, 2, resp.TotalReceived)
}

func TestReceiverSession_CancelBySender(t *testing.T) {
	data := bytes.Repeat([]byte{0x05}, 256)
	req := testRequest(data, 128)
	sink := newMemorySink()

	rs, err := NewReceiverSession(req, &funcChannel{}, sink, nil, testLogger())
	require.NoError(t, err)

	rs.Handle(chunkOf(req, data, 0))
	rs.Handle(protocol.TransferCancel{ID: req.ID, Message: "user aborted"})

	assert.Equal(t, ReceiverCancelled, rs.State())
	assert.ErrorIs(t, rs.Err(), ErrTransferCancelled)
	_, _, discarded := sink.snapshot()
	assert.True(t, discarded)

	// Late chunks after cancellation are absorbed silently.
	rs.Handle(chunkOf(req, data, 1))
	assert.Equal(t, ReceiverCancelled, rs.State())
}

func TestReceiverSession_LocalCancelNotifiesSender(t *testing.T) {
	data := bytes.Repeat([]byte{0x06}, 256)
	req := testRequest(data, 128)
	ch := &funcChannel{}

	rs, err := NewReceiverSession(req, ch, newMemorySink(), nil, testLogger())
	require.NoError(t, err)

	require.NoError(t, rs.Cancel("disk full"))
	assert.Equal(t, ReceiverCancelled, rs.State())

	cancels := ch.sentOfKind(protocol.KindTransferCancel)
	require.Len(t, cancels, 1)
	assert.Equal(t, "disk full", cancels[0].(protocol.TransferCancel).Message)
}

func TestNewReceiverSession_RejectsBadMetadata(t *testing.T) {
	req := testRequest([]byte("data"), 128)
	req.TotalChunks = 0

	_, err := NewReceiverSession(req, &funcChannel{}, newMemorySink(), nil, testLogger())
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

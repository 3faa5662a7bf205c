package webrtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/relaySharer/pkg/protocol"
)

type mockSignaler struct {
	offerChan     chan webrtc.SessionDescription
	answerChan    chan webrtc.SessionDescription
	candidateChan chan webrtc.ICECandidateInit
}

func newMockSignaler() *mockSignaler {
	return &mockSignaler{
		offerChan:     make(chan webrtc.SessionDescription, 1),
		answerChan:    make(chan webrtc.SessionDescription, 1),
		candidateChan: make(chan webrtc.ICECandidateInit, 20),
	}
}

func (m *mockSignaler) SendOffer(offer webrtc.SessionDescription) error {
	m.offerChan <- offer
	return nil
}

func (m *mockSignaler) SendICECandidate(candidate webrtc.ICECandidateInit) {
	m.candidateChan <- candidate
}

func (m *mockSignaler) WaitForAnswer(ctx context.Context) (*webrtc.SessionDescription, error) {
	select {
	case answer := <-m.answerChan:
		return &answer, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestDataChannelAdapter_EnvelopeRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	signaler := newMockSignaler()
	api := NewWebRTCAPI()
	require.NotNil(t, api)
	config := Config{}

	senderConn, err := api.NewSenderConnection(config, signaler)
	require.NoError(t, err)
	defer senderConn.Close()

	receiverConn, err := api.NewReceiverConnection(config)
	require.NoError(t, err)
	defer receiverConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	received := make(chan protocol.Envelope, 1)

	receiverConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		assert.Equal(t, ChannelLabel, dc.Label())
		adapter := NewDataChannelAdapter(dc, 256*1024, nil)
		dc.OnOpen(func() { wg.Done() })
		adapter.OnReceive(func(data []byte) {
			env, err := protocol.Decode(data)
			if err == nil {
				received <- env
			}
		})
	})
	receiverConn.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			_ = senderConn.AddICECandidate(candidate.ToJSON())
		}
	})

	dc, err := senderConn.CreateDataChannel(ChannelLabel, nil)
	require.NoError(t, err)
	senderAdapter := NewDataChannelAdapter(dc, 256*1024, nil)
	dc.OnOpen(func() { wg.Done() })

	go func() {
		for candidate := range signaler.candidateChan {
			_ = receiverConn.AddICECandidate(candidate)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	go func() {
		offer := <-signaler.offerChan
		answer, err := receiverConn.HandleOfferAndCreateAnswer(offer)
		if err == nil {
			signaler.answerChan <- *answer
		}
	}()
	require.NoError(t, senderConn.Establish(ctx))

	opened := make(chan struct{})
	go func() {
		wg.Wait()
		close(opened)
	}()
	select {
	case <-opened:
	case <-ctx.Done():
		t.Fatal("data channels never opened")
	}

	want := protocol.ChunkAck{
		Routing: protocol.Routing{SenderPeer: "alice", TargetPeer: "bob"},
		ID:      "t-adapter",
		Index:   3,
		Success: true,
	}
	require.NoError(t, senderAdapter.Send(want))

	select {
	case env := <-received:
		assert.Equal(t, want, env)
	case <-ctx.Done():
		t.Fatal("envelope never arrived")
	}

	assert.GreaterOrEqual(t, senderAdapter.BufferedBytes(), 0)
}

package webrtc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/rescp17/relaySharer/pkg/protocol"
	"github.com/rescp17/relaySharer/pkg/transfer"
)

// DataChannelAdapter turns a pion data channel into a transfer channel.
// BufferedAmount is the backpressure gauge senders poll; once the
// channel closes every Send reports channel unavailability so sessions
// pause rather than fail.
type DataChannelAdapter struct {
	mu     sync.Mutex
	dc     *webrtc.DataChannel
	closed bool
	logger *slog.Logger

	onDown func()
	onUp   func()
}

var _ transfer.Channel = (*DataChannelAdapter)(nil)

// NewDataChannelAdapter wraps an open or opening data channel. The low
// watermark arms the buffered-amount-low callback used for logging and
// wakeups; polling BufferedBytes stays correct either way.
func NewDataChannelAdapter(dc *webrtc.DataChannel, lowWater int, logger *slog.Logger) *DataChannelAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &DataChannelAdapter{dc: dc, logger: logger}

	dc.SetBufferedAmountLowThreshold(uint64(lowWater))
	dc.OnBufferedAmountLow(func() {
		a.logger.Debug("send buffer drained below low watermark", "label", dc.Label())
	})
	dc.OnClose(func() {
		a.mu.Lock()
		a.closed = true
		down := a.onDown
		a.mu.Unlock()
		a.logger.Warn("data channel closed", "label", dc.Label())
		if down != nil {
			down()
		}
	})
	dc.OnOpen(func() {
		a.mu.Lock()
		a.closed = false
		up := a.onUp
		a.mu.Unlock()
		a.logger.Info("data channel open", "label", dc.Label())
		if up != nil {
			up()
		}
	})
	return a
}

// OnReceive installs the consumer for raw inbound messages, typically an
// endpoint's Receive.
func (a *DataChannelAdapter) OnReceive(fn func(data []byte)) {
	a.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

// OnDown installs a callback fired when the channel closes mid-transfer.
func (a *DataChannelAdapter) OnDown(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onDown = fn
}

// OnUp installs a callback fired when the channel (re)opens.
func (a *DataChannelAdapter) OnUp(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onUp = fn
}

// Send encodes and ships one envelope over the data channel.
func (a *DataChannelAdapter) Send(env protocol.Envelope) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return fmt.Errorf("data channel %s closed: %w", a.dc.Label(), transfer.ErrChannelUnavailable)
	}

	data, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Kind(), err)
	}
	if err := a.dc.Send(data); err != nil {
		return fmt.Errorf("data channel send: %w: %v", transfer.ErrChannelUnavailable, err)
	}
	return nil
}

// BufferedBytes reports the transport's queued outbound bytes.
func (a *DataChannelAdapter) BufferedBytes() int {
	return int(a.dc.BufferedAmount())
}

// Close tears the data channel down.
func (a *DataChannelAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.dc.Close()
}

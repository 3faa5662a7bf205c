package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rescp17/relaySharer/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hexDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// memorySource is an in-memory PayloadSource.
type memorySource struct {
	name string
	data []byte
}

func (m *memorySource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memorySource) Name() string            { return m.name }
func (m *memorySource) Size() int64             { return int64(len(m.data)) }
func (m *memorySource) Digest() (string, error) { return hexDigest(m.data), nil }
func (m *memorySource) MIMEType() string        { return "application/octet-stream" }

// memorySink is an in-memory PayloadSink that counts writes per offset.
type memorySink struct {
	mu        sync.Mutex
	buf       []byte
	writes    map[int64]int
	committed bool
	discarded bool
}

func newMemorySink() *memorySink {
	return &memorySink{writes: make(map[int64]int)}
}

func (m *memorySink) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if need := off + int64(len(p)); need > int64(len(m.buf)) {
		m.buf = append(m.buf, make([]byte, need-int64(len(m.buf)))...)
	}
	copy(m.buf[off:], p)
	m.writes[off]++
	return len(p), nil
}

func (m *memorySink) Digest() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return hexDigest(m.buf), nil
}

func (m *memorySink) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = true
	return nil
}

func (m *memorySink) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discarded = true
	return nil
}

func (m *memorySink) snapshot() ([]byte, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.buf))
	copy(out, m.buf)
	return out, m.committed, m.discarded
}

// funcChannel is a Channel whose delivery behavior is a closure.
type funcChannel struct {
	mu       sync.Mutex
	sent     []protocol.Envelope
	onSend   func(env protocol.Envelope) error
	buffered int
}

func (c *funcChannel) Send(env protocol.Envelope) error {
	c.mu.Lock()
	c.sent = append(c.sent, env)
	fn := c.onSend
	c.mu.Unlock()
	if fn != nil {
		return fn(env)
	}
	return nil
}

func (c *funcChannel) BufferedBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *funcChannel) sentOfKind(kind protocol.Kind) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range c.sent {
		if env.Kind() == kind {
			out = append(out, env)
		}
	}
	return out
}

// fastConfig shrinks all timing knobs so failure paths resolve quickly.
func fastConfig() *TransferConfig {
	cfg := DefaultTransferConfig()
	cfg.AckTimeoutMin = 40 * time.Millisecond
	cfg.AckTimeoutMax = 80 * time.Millisecond
	cfg.AckScanInterval = 10 * time.Millisecond
	cfg.ResponseTimeout = 2 * time.Second
	cfg.StatusQueryTimeout = 300 * time.Millisecond
	cfg.TerminalGracePeriod = 50 * time.Millisecond
	cfg.BufferPoll = time.Millisecond
	return cfg
}

package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/relaySharer/pkg/protocol"
)

type stubSession struct {
	id      string
	handled []protocol.Envelope
}

func (s *stubSession) ID() string                   { return s.id }
func (s *stubSession) Handle(env protocol.Envelope) { s.handled = append(s.handled, env) }

func TestRegistry_PutGetRemove(t *testing.T) {
	reg := NewRegistry(time.Minute, testLogger())
	session := &stubSession{id: "t1"}

	require.NoError(t, reg.Put(session))
	assert.Equal(t, 1, reg.Len())

	got, err := reg.Get("t1")
	require.NoError(t, err)
	assert.Same(t, session, got.(*stubSession))

	reg.Remove("t1")
	_, err = reg.Get("t1")
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestRegistry_RejectsDuplicateID(t *testing.T) {
	reg := NewRegistry(time.Minute, testLogger())
	require.NoError(t, reg.Put(&stubSession{id: "t1"}))

	err := reg.Put(&stubSession{id: "t1"})
	assert.ErrorIs(t, err, ErrTransferAlreadyExists)
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry(time.Minute, testLogger())
	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestRegistry_TerminalSessionsLingerThenPurge(t *testing.T) {
	reg := NewRegistry(30*time.Millisecond, testLogger())
	require.NoError(t, reg.Put(&stubSession{id: "t1"}))

	reg.MarkTerminal("t1")

	// Still resolvable during the grace period so late duplicates land.
	_, err := reg.Get("t1")
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := reg.Get("t1")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestRegistry_MarkTerminalUnknownIsNoop(t *testing.T) {
	reg := NewRegistry(time.Millisecond, testLogger())
	reg.MarkTerminal("nope")
	assert.Zero(t, reg.Len())
}

package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSenderState_Transitions(t *testing.T) {
	assert.True(t, SenderRequesting.CanTransitionTo(SenderSending))
	assert.True(t, SenderRequesting.CanTransitionTo(SenderRejected))
	assert.True(t, SenderSending.CanTransitionTo(SenderPaused))
	assert.True(t, SenderSending.CanTransitionTo(SenderWaitingConfirmation))
	assert.True(t, SenderPaused.CanTransitionTo(SenderSending))
	assert.True(t, SenderWaitingConfirmation.CanTransitionTo(SenderCompleted))

	// Completion never happens straight from sending; the confirmation
	// wait is mandatory.
	assert.False(t, SenderSending.CanTransitionTo(SenderCompleted))
	assert.False(t, SenderRequesting.CanTransitionTo(SenderCompleted))
	assert.False(t, SenderPaused.CanTransitionTo(SenderCompleted))
}

func TestSenderState_TerminalStatesAreSticky(t *testing.T) {
	terminals := []SenderState{SenderRejected, SenderCompleted, SenderFailed, SenderCancelled}
	all := []SenderState{
		SenderRequesting, SenderSending, SenderWaitingConfirmation, SenderPaused,
		SenderRejected, SenderCompleted, SenderFailed, SenderCancelled,
	}
	for _, term := range terminals {
		assert.True(t, term.IsTerminal(), term.String())
		for _, next := range all {
			assert.False(t, term.CanTransitionTo(next),
				"%s must not leave terminal state for %s", term, next)
		}
	}
}

func TestReceiverState_Transitions(t *testing.T) {
	assert.True(t, ReceiverAwaitingRequest.CanTransitionTo(ReceiverReceiving))
	assert.True(t, ReceiverAwaitingRequest.CanTransitionTo(ReceiverRejected))
	assert.True(t, ReceiverReceiving.CanTransitionTo(ReceiverReassembling))
	assert.True(t, ReceiverReassembling.CanTransitionTo(ReceiverCompleted))
	assert.True(t, ReceiverReassembling.CanTransitionTo(ReceiverFailed))

	// Reassembly only starts once every chunk is present, and cannot be
	// cancelled mid-verification.
	assert.False(t, ReceiverAwaitingRequest.CanTransitionTo(ReceiverReassembling))
	assert.False(t, ReceiverReceiving.CanTransitionTo(ReceiverCompleted))
	assert.False(t, ReceiverReassembling.CanTransitionTo(ReceiverCancelled))
}

func TestReceiverState_TerminalStatesAreSticky(t *testing.T) {
	terminals := []ReceiverState{ReceiverRejected, ReceiverCompleted, ReceiverFailed, ReceiverCancelled}
	for _, term := range terminals {
		assert.True(t, term.IsTerminal(), term.String())
		assert.False(t, term.CanTransitionTo(ReceiverReceiving))
	}
}

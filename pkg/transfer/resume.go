package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rescp17/relaySharer/pkg/protocol"
)

// ResumeTarget is the sender-side surface the coordinator drives. The
// receiver's answer is authoritative: whatever it reports received
// replaces the target's local bookkeeping.
type ResumeTarget interface {
	QueryStatus(ctx context.Context) (protocol.StatusResponse, error)
	AdoptReceivedSet(received []int)
	Retransmit(ctx context.Context, index int) error
	TotalChunks() int
	// ConfirmedSet is the target's local bookkeeping, the fallback when
	// a status query goes unanswered.
	ConfirmedSet() []int
}

// ResumeCoordinator reconciles sender and receiver after channel loss or
// a stalled tail. Each round queries the receiver, adopts its possession
// set and retransmits the gaps in bounded batches; the next round's query
// verifies those retransmissions instead of per-chunk acks.
type ResumeCoordinator struct {
	cfg    *TransferConfig
	logger *slog.Logger
}

func NewResumeCoordinator(cfg *TransferConfig, logger *slog.Logger) *ResumeCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeCoordinator{cfg: cfg, logger: logger}
}

// Reconcile runs status rounds until the receiver reports a complete set
// or the round budget is spent. A target that stops making progress
// within the budget fails with ErrResumeRoundsExhausted.
func (rc *ResumeCoordinator) Reconcile(ctx context.Context, target ResumeTarget) error {
	total := target.TotalChunks()

	for round := 1; round <= rc.cfg.MaxResumeRounds; round++ {
		resp, err := target.QueryStatus(ctx)
		switch {
		case err == nil:
			target.AdoptReceivedSet(resp.ReceivedChunks)
		case ctx.Err() != nil:
			return fmt.Errorf("resume round %d: %w", round, err)
		default:
			// Unanswered query: fall back to what the target already has
			// confirmed and retransmit the rest best-effort. The round is
			// still consumed; the next query verifies the result.
			rc.logger.Warn("status query unanswered, using local bookkeeping",
				"round", round, "error", err)
			resp = localStatus(target)
		}

		if len(resp.MissingChunks) == 0 && resp.TotalReceived == total {
			rc.logger.Info("resume reconciled", "rounds", round)
			return nil
		}

		rc.logger.Info("resume round",
			"round", round, "received", resp.TotalReceived,
			"missing", len(resp.MissingChunks), "total", total)

		for len(resp.MissingChunks) > 0 {
			batch := resp.MissingChunks
			if len(batch) > rc.cfg.ResumeBatchSize {
				batch = batch[:rc.cfg.ResumeBatchSize]
			}
			resp.MissingChunks = resp.MissingChunks[len(batch):]

			for _, index := range batch {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := target.Retransmit(ctx, index); err != nil {
					return fmt.Errorf("resume retransmit chunk %d: %w", index, err)
				}
			}
		}
	}

	return fmt.Errorf("receiver still incomplete after %d rounds: %w",
		rc.cfg.MaxResumeRounds, ErrResumeRoundsExhausted)
}

// localStatus reconstructs a status response from the target's own
// confirmed set, for rounds where the receiver never answered.
func localStatus(target ResumeTarget) protocol.StatusResponse {
	confirmed := target.ConfirmedSet()
	total := target.TotalChunks()

	have := make(map[int]struct{}, len(confirmed))
	for _, idx := range confirmed {
		have[idx] = struct{}{}
	}
	missing := make([]int, 0, total-len(have))
	for i := 0; i < total; i++ {
		if _, ok := have[i]; !ok {
			missing = append(missing, i)
		}
	}
	return protocol.StatusResponse{
		ReceivedChunks: confirmed,
		MissingChunks:  missing,
		TotalReceived:  len(have),
	}
}

package transfer

import (
	"errors"
	"time"
)

// TransferConfig holds all tunables for the chunked transfer protocol.
// Both endpoints use the same defaults; only the sender's chunk geometry
// is authoritative, declared once in the transfer request.
type TransferConfig struct {
	// Message size budget
	MessageCeiling int32 `json:"message_ceiling"` // hard per-message ceiling of the relay channel
	MinChunkSize   int32 `json:"min_chunk_size"`
	MaxChunkSize   int32 `json:"max_chunk_size"`

	// Sending pipeline
	MaxWorkers      int `json:"max_workers"`    // concurrent chunk-sending workers per session
	WindowStart     int `json:"window_start"`   // initial in-flight window
	WindowFloor     int `json:"window_floor"`   // never narrower than this
	WindowCeiling   int `json:"window_ceiling"` // never wider than this
	MaxChunkRetries int `json:"max_chunk_retries"`

	// Ack timing
	AckTimeoutMin    time.Duration `json:"ack_timeout_min"`
	AckTimeoutMax    time.Duration `json:"ack_timeout_max"`
	AckRTTMultiplier float64       `json:"ack_rtt_multiplier"` // timeout = multiplier x smoothed RTT, clamped
	AckScanInterval  time.Duration `json:"ack_scan_interval"`
	ResponseTimeout  time.Duration `json:"response_timeout"` // accept/reject and final confirmation wait

	// Flow monitor
	SampleWindowSize int           `json:"sample_window_size"` // bounded rolling sample count
	RecalcEvery      int           `json:"recalc_every"`       // recompute knobs every N samples
	BufferHighWater  int           `json:"buffer_high_water"`  // outbound buffered bytes that trigger a wait
	BufferLowWater   int           `json:"buffer_low_water"`   // resume sending below this
	BufferPoll       time.Duration `json:"buffer_poll"`

	// Resume coordinator
	ResumeTriggerRatio float64       `json:"resume_trigger_ratio"` // optimistically-sent fraction that triggers reconciliation
	MaxResumeRounds    int           `json:"max_resume_rounds"`
	ResumeBatchSize    int           `json:"resume_batch_size"`
	StatusQueryTimeout time.Duration `json:"status_query_timeout"`

	// Session registry
	TerminalGracePeriod time.Duration `json:"terminal_grace_period"` // tolerate late duplicates before purge
}

// DefaultTransferConfig returns a configuration with sensible defaults.
func DefaultTransferConfig() *TransferConfig {
	return &TransferConfig{
		MessageCeiling: 256 * 1024,
		MinChunkSize:   4 * 1024,
		MaxChunkSize:   128 * 1024,

		MaxWorkers:      4,
		WindowStart:     4,
		WindowFloor:     1,
		WindowCeiling:   32,
		MaxChunkRetries: 3,

		AckTimeoutMin:    2 * time.Second,
		AckTimeoutMax:    30 * time.Second,
		AckRTTMultiplier: 4.0,
		AckScanInterval:  250 * time.Millisecond,
		ResponseTimeout:  30 * time.Second,

		SampleWindowSize: 64,
		RecalcEvery:      16,
		BufferHighWater:  1 << 20, // 1 MiB
		BufferLowWater:   256 * 1024,
		BufferPoll:       20 * time.Millisecond,

		ResumeTriggerRatio: 0.95,
		MaxResumeRounds:    5,
		ResumeBatchSize:    32,
		StatusQueryTimeout: 10 * time.Second,

		TerminalGracePeriod: 30 * time.Second,
	}
}

// Validate checks if the configuration values are consistent.
func (tc *TransferConfig) Validate() error {
	if tc.MessageCeiling <= 0 {
		return errors.New("message_ceiling must be positive")
	}
	if tc.MinChunkSize <= 0 {
		return errors.New("min_chunk_size must be positive")
	}
	if tc.MaxChunkSize < tc.MinChunkSize {
		return errors.New("max_chunk_size cannot be less than min_chunk_size")
	}
	if int32(float64(tc.MaxChunkSize)*encodedOverhead) > tc.MessageCeiling {
		return errors.New("max_chunk_size does not fit under message_ceiling after encoding")
	}
	if tc.MaxWorkers <= 0 {
		return errors.New("max_workers must be positive")
	}
	if tc.WindowFloor < 1 {
		return errors.New("window_floor must be at least 1")
	}
	if tc.WindowCeiling < tc.WindowFloor {
		return errors.New("window_ceiling cannot be less than window_floor")
	}
	if tc.WindowStart < tc.WindowFloor || tc.WindowStart > tc.WindowCeiling {
		return errors.New("window_start must lie within the window bounds")
	}
	if tc.MaxChunkRetries < 0 {
		return errors.New("max_chunk_retries cannot be negative")
	}
	if tc.AckTimeoutMin <= 0 || tc.AckTimeoutMax < tc.AckTimeoutMin {
		return errors.New("ack timeout bounds are inconsistent")
	}
	if tc.AckRTTMultiplier < 1 {
		return errors.New("ack_rtt_multiplier must be at least 1")
	}
	if tc.SampleWindowSize <= 0 || tc.RecalcEvery <= 0 {
		return errors.New("flow sample settings must be positive")
	}
	if tc.BufferLowWater < 0 || tc.BufferHighWater < tc.BufferLowWater {
		return errors.New("buffer watermarks are inconsistent")
	}
	if tc.ResumeTriggerRatio <= 0 || tc.ResumeTriggerRatio > 1 {
		return errors.New("resume_trigger_ratio must be in (0, 1]")
	}
	if tc.MaxResumeRounds <= 0 {
		return errors.New("max_resume_rounds must be positive")
	}
	if tc.ResumeBatchSize <= 0 {
		return errors.New("resume_batch_size must be positive")
	}
	if tc.StatusQueryTimeout <= 0 {
		return errors.New("status_query_timeout must be positive")
	}
	if tc.TerminalGracePeriod < 0 {
		return errors.New("terminal_grace_period cannot be negative")
	}
	return nil
}

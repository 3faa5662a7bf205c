package transfer

import (
	"sync"
	"time"
)

// BandwidthSample is one observed throughput measurement.
type BandwidthSample struct {
	Bytes int
	RTT   time.Duration
	At    time.Time
}

// FlowMonitor tracks acknowledgment round trips and derives the three
// sending knobs: in-flight window, pacing delay and ack timeout. The knobs
// are recomputed every RecalcEvery samples from the same rolling window,
// not on every chunk, to avoid oscillation.
type FlowMonitor struct {
	mu  sync.Mutex
	cfg *TransferConfig

	samples []BandwidthSample // rolling window, oldest evicted first
	srtt    time.Duration     // smoothed round-trip time

	window    int
	pace      time.Duration
	lastRate  float64 // throughput at the previous recompute
	sinceCalc int
}

// NewFlowMonitor creates a monitor starting at the configured initial window.
func NewFlowMonitor(cfg *TransferConfig) *FlowMonitor {
	return &FlowMonitor{
		cfg:    cfg,
		window: cfg.WindowStart,
	}
}

// ObserveAck records a successful acknowledgment round trip.
func (fm *FlowMonitor) ObserveAck(rtt time.Duration, bytes int) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if fm.srtt == 0 {
		fm.srtt = rtt
	} else {
		// Standard exponential smoothing, 1/8 gain.
		fm.srtt = fm.srtt + (rtt-fm.srtt)/8
	}

	fm.samples = append(fm.samples, BandwidthSample{Bytes: bytes, RTT: rtt, At: time.Now()})
	if len(fm.samples) > fm.cfg.SampleWindowSize {
		fm.samples = fm.samples[len(fm.samples)-fm.cfg.SampleWindowSize:]
	}

	fm.sinceCalc++
	if fm.sinceCalc >= fm.cfg.RecalcEvery {
		fm.recomputeLocked()
		fm.sinceCalc = 0
	}
}

// ObserveFailure records an acknowledgment failure or timeout and narrows
// the window multiplicatively.
func (fm *FlowMonitor) ObserveFailure() {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	fm.window /= 2
	if fm.window < fm.cfg.WindowFloor {
		fm.window = fm.cfg.WindowFloor
	}
}

// Window returns the current maximum number of unacknowledged chunks.
func (fm *FlowMonitor) Window() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.window
}

// PacingDelay returns the inter-send delay a worker honors between
// consecutive chunk transmissions.
func (fm *FlowMonitor) PacingDelay() time.Duration {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.pace
}

// AckTimeout derives the per-chunk acknowledgment deadline from the
// smoothed RTT, clamped to the configured bounds.
func (fm *FlowMonitor) AckTimeout() time.Duration {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if fm.srtt == 0 {
		return fm.cfg.AckTimeoutMax
	}
	timeout := time.Duration(float64(fm.srtt) * fm.cfg.AckRTTMultiplier)
	if timeout < fm.cfg.AckTimeoutMin {
		timeout = fm.cfg.AckTimeoutMin
	}
	if timeout > fm.cfg.AckTimeoutMax {
		timeout = fm.cfg.AckTimeoutMax
	}
	return timeout
}

// Throughput returns the moving-average acknowledged throughput in
// bytes per second over the sample window.
func (fm *FlowMonitor) Throughput() float64 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.throughputLocked()
}

func (fm *FlowMonitor) throughputLocked() float64 {
	if len(fm.samples) == 0 {
		return 0
	}
	var bytes int
	for _, s := range fm.samples {
		bytes += s.Bytes
	}
	span := time.Since(fm.samples[0].At)
	if span <= 0 {
		return 0
	}
	return float64(bytes) / span.Seconds()
}

// recomputeLocked adjusts window and pacing from the rolling window.
// Additive widen while the channel looks healthy, step-function pacing
// against the observed throughput.
func (fm *FlowMonitor) recomputeLocked() {
	rate := fm.throughputLocked()

	lowRTT := fm.srtt > 0 && fm.srtt < 200*time.Millisecond
	rising := rate >= fm.lastRate

	switch {
	case lowRTT && rising:
		fm.window++
	case fm.srtt > time.Second:
		fm.window /= 2
	}
	if fm.window < fm.cfg.WindowFloor {
		fm.window = fm.cfg.WindowFloor
	}
	if fm.window > fm.cfg.WindowCeiling {
		fm.window = fm.cfg.WindowCeiling
	}

	switch {
	case rate >= 1<<20: // >= 1 MiB/s
		fm.pace = 0
	case rate >= 256<<10:
		fm.pace = 5 * time.Millisecond
	case rate >= 64<<10:
		fm.pace = 20 * time.Millisecond
	case rate > 0:
		fm.pace = 50 * time.Millisecond
	default:
		fm.pace = 0
	}

	fm.lastRate = rate
}

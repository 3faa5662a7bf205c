package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/relaySharer/api"
	"github.com/rescp17/relaySharer/internal/util"
	"github.com/rescp17/relaySharer/pkg/discovery"
	"github.com/rescp17/relaySharer/pkg/payload"
	"github.com/rescp17/relaySharer/pkg/protocol"
	"github.com/rescp17/relaySharer/pkg/transfer"
	pwebrtc "github.com/rescp17/relaySharer/pkg/webrtc"
)

// ReceiverOptions configures a receiving peer.
type ReceiverOptions struct {
	PeerID  string // relay identity, generated when empty
	Name    string // mDNS instance name, hostname when empty
	Port    int    // signaling port
	DestDir string // where completed payloads land

	// MaxAcceptBytes declines announced transfers above this size.
	// Zero means no limit.
	MaxAcceptBytes int64

	Transfer *transfer.TransferConfig
}

// Receiver runs the receiving side end to end: it announces itself over
// mDNS, serves the signaling API, answers WebRTC offers, and hands the
// resulting data channel to a transfer endpoint that reassembles
// payloads into DestDir.
type Receiver struct {
	opts     ReceiverOptions
	logger   *slog.Logger
	registry *transfer.Registry
	rtc      *pwebrtc.WebRTCAPI

	mu   sync.Mutex
	conn *pwebrtc.ReceiverConn
	done chan struct{}
}

var _ api.Negotiator = (*Receiver)(nil)

func NewReceiver(opts ReceiverOptions, logger *slog.Logger) (*Receiver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PeerID == "" {
		opts.PeerID = uuid.NewString()
	}
	if opts.Name == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve instance name: %w", err)
		}
		opts.Name = host
	}
	if opts.Transfer == nil {
		opts.Transfer = transfer.DefaultTransferConfig()
	}
	if err := opts.Transfer.Validate(); err != nil {
		return nil, err
	}
	if opts.DestDir == "" {
		opts.DestDir = "."
	}
	exists, isDir, err := util.CheckDirectory(opts.DestDir)
	if err != nil {
		return nil, fmt.Errorf("check destination directory: %w", err)
	}
	if exists && !isDir {
		return nil, fmt.Errorf("destination %q is not a directory", opts.DestDir)
	}

	return &Receiver{
		opts:     opts,
		logger:   logger.With("peerID", opts.PeerID),
		registry: transfer.NewRegistry(opts.Transfer.TerminalGracePeriod, logger),
		rtc:      pwebrtc.NewWebRTCAPI(),
	}, nil
}

// PeerID reports the receiver's relay identity.
func (r *Receiver) PeerID() string { return r.opts.PeerID }

// Run announces the peer and serves the signaling API until ctx ends.
func (r *Receiver) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		adapter := &discovery.MDNSAdapter{}
		return adapter.Announce(ctx, discovery.ServiceInfo{
			Name:   r.opts.Name,
			Type:   discovery.DefaultServiceType,
			Domain: discovery.DefaultDomain,
			PeerID: r.opts.PeerID,
			Port:   r.opts.Port,
		})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", r.opts.Port),
		Handler: api.NewAPI(r, r.logger),
	}
	g.Go(func() error {
		r.logger.Info("signaling API listening", "addr", srv.Addr, "name", r.opts.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Decide reports whether the announced transfer is welcome.
func (r *Receiver) Decide(ask api.AskPayload) bool {
	if r.opts.MaxAcceptBytes > 0 && ask.Size > r.opts.MaxAcceptBytes {
		r.logger.Info("transfer declined, payload too large",
			"fileName", ask.FileName, "size", util.FormatSize(ask.Size))
		return false
	}
	r.logger.Info("transfer accepted",
		"fileName", ask.FileName, "size", util.FormatSize(ask.Size))
	return true
}

// Answer builds a fresh peer connection for the offer and wires its data
// channel into a transfer endpoint.
func (r *Receiver) Answer(ask api.AskPayload) (*webrtc.SessionDescription, <-chan webrtc.ICECandidateInit, error) {
	conn, err := r.rtc.NewReceiverConnection(pwebrtc.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("create receiver connection: %w", err)
	}

	done := make(chan struct{})
	var doneOnce sync.Once

	candidates := make(chan webrtc.ICECandidateInit, 8)
	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(candidates)
			return
		}
		candidates <- c.ToJSON()
	})
	conn.OnDataChannel(func(dc *webrtc.DataChannel) {
		r.logger.Info("data channel arrived", "label", dc.Label())
		adapter := pwebrtc.NewDataChannelAdapter(dc, r.opts.Transfer.BufferLowWater, r.logger)
		ep := transfer.NewEndpoint(r.opts.PeerID, adapter, r.registry, transfer.DeciderFunc(r.decide), r.makeSink, r.logger)
		ep.SetDoneFunc(func(id string, err error) {
			if err != nil {
				r.logger.Error("transfer finished with error", "transferID", id, "error", err)
			} else {
				r.logger.Info("transfer complete", "transferID", id)
			}
			doneOnce.Do(func() { close(done) })
		})
		adapter.OnReceive(ep.Receive)
	})

	answer, err := conn.HandleOfferAndCreateAnswer(ask.Offer)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.conn = conn
	r.done = done
	r.mu.Unlock()

	return answer, candidates, nil
}

// AddRemoteCandidate feeds a sender candidate into the active connection.
func (r *Receiver) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no active connection")
	}
	return conn.AddICECandidate(candidate)
}

// TransferDone closes when the most recently answered transfer reaches a
// terminal state.
func (r *Receiver) TransferDone() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// decide is the envelope-level accept decision. The signaling exchange
// already vetted the transfer, so requests arriving on an established
// channel for a different payload still go through the size check.
func (r *Receiver) decide(req protocol.TransferRequest) (bool, string) {
	if r.opts.MaxAcceptBytes > 0 && req.TotalLength > r.opts.MaxAcceptBytes {
		return false, "payload too large"
	}
	return true, ""
}

func (r *Receiver) makeSink(req protocol.TransferRequest) (transfer.PayloadSink, error) {
	name := filepath.Base(req.FileName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return nil, fmt.Errorf("unusable file name %q", req.FileName)
	}
	return payload.CreateFile(filepath.Join(r.opts.DestDir, name))
}

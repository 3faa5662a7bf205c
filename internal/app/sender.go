package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/rescp17/relaySharer/api"
	"github.com/rescp17/relaySharer/internal/util"
	"github.com/rescp17/relaySharer/pkg/payload"
	"github.com/rescp17/relaySharer/pkg/protocol"
	"github.com/rescp17/relaySharer/pkg/transfer"
	pwebrtc "github.com/rescp17/relaySharer/pkg/webrtc"
)

// SenderOptions configures one outbound transfer.
type SenderOptions struct {
	PeerID   string // relay identity, generated when empty
	FilePath string // payload to send

	// TargetURL addresses the receiver's signaling API directly. When
	// empty, TargetName is resolved over mDNS.
	TargetURL  string
	TargetName string

	DiscoveryTimeout time.Duration

	Transfer *transfer.TransferConfig
}

// Sender drives one transfer end to end: resolve the receiver, signal,
// establish the WebRTC channel, and run the sending session until the
// receiver confirms.
type Sender struct {
	opts   SenderOptions
	logger *slog.Logger
}

func NewSender(opts SenderOptions, logger *slog.Logger) (*Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PeerID == "" {
		opts.PeerID = uuid.NewString()
	}
	if opts.FilePath == "" {
		return nil, fmt.Errorf("no payload file given")
	}
	if opts.TargetURL == "" && opts.TargetName == "" {
		return nil, fmt.Errorf("no receiver given: set a URL or a discoverable name")
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = 10 * time.Second
	}
	if opts.Transfer == nil {
		opts.Transfer = transfer.DefaultTransferConfig()
	}
	if err := opts.Transfer.Validate(); err != nil {
		return nil, err
	}
	return &Sender{
		opts:   opts,
		logger: logger.With("peerID", opts.PeerID),
	}, nil
}

// Run performs the transfer. It returns nil only after the receiver
// confirmed successful reassembly.
func (s *Sender) Run(ctx context.Context) error {
	targetURL := s.opts.TargetURL
	targetPeer := s.opts.TargetName
	if targetURL == "" {
		info, err := ResolvePeer(ctx, s.opts.TargetName, s.opts.DiscoveryTimeout)
		if err != nil {
			return err
		}
		targetURL = fmt.Sprintf("http://%s:%d", info.Addr, info.Port)
		if info.PeerID != "" {
			targetPeer = info.PeerID
		}
		s.logger.Info("receiver resolved", "name", info.Name, "url", targetURL)
	}
	if targetPeer == "" {
		targetPeer = "receiver"
	}

	source, err := payload.OpenFile(s.opts.FilePath)
	if err != nil {
		return err
	}
	defer source.Close()

	client := api.NewClient(s.opts.PeerID)
	client.SetReceiverURL(targetURL)

	transferID := uuid.NewString()
	ask := api.AskPayload{
		TransferID:  transferID,
		FileName:    source.Name(),
		Size:        source.Size(),
		ContentType: source.MIMEType(),
	}

	// The signaler needs the connection for inbound candidates, and the
	// connection needs the signaler; the closure breaks the cycle.
	var conn *pwebrtc.SenderConn
	signaler := api.NewAPISignaler(ctx, client, ask, func(c webrtc.ICECandidateInit) error {
		return conn.AddICECandidate(c)
	}, s.logger)

	conn, err = pwebrtc.NewWebRTCAPI().NewSenderConnection(pwebrtc.Config{}, signaler)
	if err != nil {
		return err
	}
	defer conn.Close()

	dc, err := conn.CreateDataChannel(pwebrtc.ChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	adapter := pwebrtc.NewDataChannelAdapter(dc, s.opts.Transfer.BufferLowWater, s.logger)

	session, err := transfer.NewSenderSession(
		transferID, s.opts.PeerID, targetPeer, source, adapter, nil, s.opts.Transfer, s.logger)
	if err != nil {
		return err
	}
	session.SetProgressFunc(s.logProgress)

	opened := make(chan struct{})
	var openOnce sync.Once
	adapter.OnUp(func() {
		openOnce.Do(func() { close(opened) })
		// No-op before the first pause; afterwards it resumes the
		// session with a status reconciliation.
		session.ChannelRecovered()
	})
	adapter.OnReceive(func(data []byte) {
		env, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("undecodable message dropped", "error", err)
			return
		}
		session.Handle(env)
	})

	if err := conn.Establish(ctx); err != nil {
		return fmt.Errorf("establish connection: %w", err)
	}
	select {
	case <-opened:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("transfer starting",
		"transferID", transferID,
		"file", source.Name(),
		"size", util.FormatSize(source.Size()),
		"chunks", session.TotalChunks())
	return session.Run(ctx)
}

func (s *Sender) logProgress(p transfer.Progress) {
	s.logger.Info("transfer progress",
		"transferID", p.TransferID,
		"done", util.FormatSize(p.DoneBytes),
		"total", util.FormatSize(p.TotalBytes),
		"rate", fmt.Sprintf("%s/s", util.FormatSize(int64(p.Throughput))),
		"state", p.State)
}

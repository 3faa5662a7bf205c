package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rescp17/relaySharer/internal/app"
	"github.com/rescp17/relaySharer/pkg/transfer"
)

func main() {
	var (
		port    int
		peerID  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "relaysharer",
		Short: "Reliable chunked file transfer between peers on the local network",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	cmd.PersistentFlags().IntVar(&port, "port", 8080, "Signaling port")
	cmd.PersistentFlags().StringVar(&peerID, "peer-id", "", "Peer identity (generated when empty)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	var (
		destDir  string
		name     string
		maxBytes int64
	)
	receiveCmd := &cobra.Command{
		Use:   "receive",
		Short: "Announce this peer and accept incoming transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			receiver, err := app.NewReceiver(app.ReceiverOptions{
				PeerID:         peerID,
				Name:           name,
				Port:           port,
				DestDir:        destDir,
				MaxAcceptBytes: maxBytes,
				Transfer:       transfer.DefaultTransferConfig(),
			}, slog.Default())
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return receiver.Run(ctx)
		},
	}
	receiveCmd.Flags().StringVar(&destDir, "dir", ".", "Directory completed files land in")
	receiveCmd.Flags().StringVar(&name, "name", "", "Announced instance name (hostname when empty)")
	receiveCmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "Decline transfers above this size (0 = no limit)")

	var (
		targetURL  string
		targetName string
		timeout    time.Duration
	)
	sendCmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a file to a receiving peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := app.NewSender(app.SenderOptions{
				PeerID:           peerID,
				FilePath:         args[0],
				TargetURL:        targetURL,
				TargetName:       targetName,
				DiscoveryTimeout: timeout,
			}, slog.Default())
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			if err := sender.Run(ctx); err != nil {
				return err
			}
			fmt.Println("transfer confirmed by the receiver")
			return nil
		},
	}
	sendCmd.Flags().StringVar(&targetURL, "to", "", "Receiver signaling URL, e.g. http://192.168.1.10:8080")
	sendCmd.Flags().StringVar(&targetName, "peer", "", "Receiver instance name or peer ID to resolve over mDNS")
	sendCmd.Flags().DurationVar(&timeout, "discovery-timeout", 10*time.Second, "How long to wait for the receiver to appear")

	cmd.AddCommand(receiveCmd)
	cmd.AddCommand(sendCmd)

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/samsamfire/canflash/internal/bar"
	"github.com/samsamfire/canflash/internal/emulator"
	can "github.com/samsamfire/canflash/pkg/can"
	// Local bus used by --emulate
	_ "github.com/samsamfire/canflash/pkg/can/virtual"
	"github.com/samsamfire/canflash/pkg/config"
	"github.com/samsamfire/canflash/pkg/link"
	"github.com/samsamfire/canflash/pkg/protocol"
	"github.com/samsamfire/canflash/pkg/transfer"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	flagDelay           = "delay"
	flagThreshold       = "threshold"
	flagTimeout         = "timeout"
	flagAnnounceSize    = "announce-size"
	flagCloseFinalBlock = "close-final-block"
	flagEmulate         = "emulate"
	flagNoProgress      = "no-progress"

	emulatedChannel = "canflash-emulated"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <filename>",
		Short: "send an image to the receiver",
		Args:  cobra.ExactArgs(1),
		RunE:  runSend,
	}
	defaults := config.Default()
	flags := cmd.Flags()
	flags.Duration(flagDelay, defaults.Transfer.FrameDelay, "delay between two frames, 0 to disable pacing")
	flags.Int(flagThreshold, defaults.Transfer.BlockThreshold, "image bytes per block")
	flags.Duration(flagTimeout, defaults.Transfer.AckTimeout, "acknowledgment timeout, measured from the last bus activity")
	flags.Bool(flagAnnounceSize, defaults.Transfer.AnnounceSize, "announce the image size in 512 byte blocks")
	flags.Bool(flagCloseFinalBlock, defaults.Transfer.CloseFinalBlock, "send end-of-block for a final partial block")
	flags.Bool(flagEmulate, false, "transfer to an emulated receiver on the local bus")
	flags.Bool(flagFlushPartial, false, "with --emulate, write the final partial block")
	flags.Bool(flagNoProgress, false, "do not show the progress bar")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyTransferFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	debug, _ := cmd.Flags().GetBool(flagDebug)
	emulate, _ := cmd.Flags().GetBool(flagEmulate)
	flushPartial, _ := cmd.Flags().GetBool(flagFlushPartial)
	noProgress, _ := cmd.Flags().GetBool(flagNoProgress)

	filename := args[0]
	info, err := os.Stat(filename)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if emulate {
		cfg.Can.Interface = "local"
		cfg.Can.Channel = emulatedChannel
		receiver, err := startEmulator(cfg, emulator.WithFlushPartial(flushPartial))
		if err != nil {
			return err
		}
		defer func() {
			_ = receiver.Stop()
			log.Infof("[EMULATOR] %v", receiver.Report())
		}()
	}

	var pacer link.Pacer = link.NopPacer{}
	if cfg.Transfer.FrameDelay > 0 {
		pacer = link.NewRatePacer(cfg.Transfer.FrameDelay, nil)
	}
	opts := []link.Option{
		link.WithAckID(protocol.AckID(cfg.Can.ID)),
		link.WithPacer(pacer),
	}
	if debug {
		out := cmd.ErrOrStderr()
		opts = append(opts, link.WithBusWrapper(func(bus can.Bus) can.Bus { return newDumpBus(bus, out) }))
	}
	transport, err := link.Open(ctx, link.BusConfig{
		Interface: cfg.Can.Interface,
		Channel:   cfg.Can.Channel,
		Bitrate:   cfg.Can.Bitrate,
	}, opts...)
	if err != nil {
		log.Errorf("[CAN] cannot open %v %v : %v", cfg.Can.Interface, cfg.Can.Channel, err)
		return err
	}
	defer transport.Close()

	session := protocol.NewSession(transport,
		protocol.WithBaseID(cfg.Can.ID),
		protocol.WithAckTimeout(cfg.Transfer.AckTimeout),
	)
	transferOpts := []transfer.Option{
		transfer.WithBlockThreshold(cfg.Transfer.BlockThreshold),
		transfer.WithAnnounceSize(cfg.Transfer.AnnounceSize),
		transfer.WithCloseFinalBlock(cfg.Transfer.CloseFinalBlock),
	}
	if !noProgress && !debug {
		progress := bar.New(info.Size(), "sending")
		transferOpts = append(transferOpts, transfer.WithProgress(func(sent int64, _ int64) {
			_ = progress.Set64(sent)
		}))
	}
	log.Infof("sending %v (%d bytes) on %v %v, id x%03x", filename, info.Size(), cfg.Can.Interface, cfg.Can.Channel, cfg.Can.ID)
	stats, err := transfer.NewDriver(session, transferOpts...).TransferFile(ctx, filename)
	if err != nil {
		return fmt.Errorf("transfer aborted after %d bytes : %w", stats.Bytes, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), green("done: %v", stats))
	return nil
}

func applyTransferFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed(flagDelay) {
		cfg.Transfer.FrameDelay, _ = flags.GetDuration(flagDelay)
	}
	if flags.Changed(flagThreshold) {
		cfg.Transfer.BlockThreshold, _ = flags.GetInt(flagThreshold)
	}
	if flags.Changed(flagTimeout) {
		cfg.Transfer.AckTimeout, _ = flags.GetDuration(flagTimeout)
	}
	if flags.Changed(flagAnnounceSize) {
		cfg.Transfer.AnnounceSize, _ = flags.GetBool(flagAnnounceSize)
	}
	if flags.Changed(flagCloseFinalBlock) {
		cfg.Transfer.CloseFinalBlock, _ = flags.GetBool(flagCloseFinalBlock)
	}
}

// In-process receiver on the local bus
func startEmulator(cfg *config.Config, opts ...emulator.Option) (*emulator.Emulator, error) {
	bus, err := can.NewBus("local", emulatedChannel, 0)
	if err != nil {
		return nil, err
	}
	receiver := emulator.New(bus, append([]emulator.Option{emulator.WithBaseID(cfg.Can.ID)}, opts...)...)
	if err := receiver.Start(context.Background()); err != nil {
		return nil, err
	}
	return receiver, nil
}

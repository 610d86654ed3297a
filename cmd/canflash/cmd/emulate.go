package cmd

import (
	"errors"
	"os"

	"github.com/samsamfire/canflash/internal/emulator"
	can "github.com/samsamfire/canflash/pkg/can"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	flagOutput       = "output"
	flagOnce         = "once"
	flagFlushPartial = "flush-partial"
)

var errRunDone = errors.New("run done")

func newEmulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "act as the receiver, acknowledging frames and rebuilding the image",
		Args:  cobra.NoArgs,
		RunE:  runEmulate,
	}
	flags := cmd.Flags()
	flags.StringP(flagOutput, "o", "", "write the received image to this file after each run")
	flags.Bool(flagOnce, false, "exit after the first run")
	flags.Bool(flagFlushPartial, false, "write the final partial block, the device only writes full 512 byte blocks")
	return cmd
}

func runEmulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString(flagOutput)
	once, _ := cmd.Flags().GetBool(flagOnce)
	flushPartial, _ := cmd.Flags().GetBool(flagFlushPartial)
	debug, _ := cmd.Flags().GetBool(flagDebug)

	bus, err := can.NewBus(cfg.Can.Interface, cfg.Can.Channel, cfg.Can.Bitrate)
	if err != nil {
		return err
	}
	if debug {
		bus = newDumpBus(bus, cmd.ErrOrStderr())
	}
	reports := make(chan emulator.Report, 1)
	receiver := emulator.New(bus,
		emulator.WithBaseID(cfg.Can.ID),
		emulator.WithFlushPartial(flushPartial),
		emulator.WithOnRunEnd(func(report emulator.Report) {
			select {
			case reports <- report:
			default:
				log.Warnf("[EMULATOR] report dropped : %v", report)
			}
		}),
	)
	g, ctx := errgroup.WithContext(cmd.Context())
	if err := receiver.Start(ctx); err != nil {
		return err
	}
	log.Infof("[EMULATOR] listening on %v %v, id x%03x", cfg.Can.Interface, cfg.Can.Channel, cfg.Can.ID)

	g.Go(func() error {
		<-ctx.Done()
		return receiver.Stop()
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case report := <-reports:
				if report.Complete() {
					log.Infof("[EMULATOR] run ended : %v", report)
				} else {
					log.Warnf("[EMULATOR] run ended with missing or extra blocks : %v", report)
				}
				if output != "" {
					if err := os.WriteFile(output, receiver.Image(), 0o644); err != nil {
						return err
					}
					log.Infof("[EMULATOR] image written to %v", output)
				}
				if once {
					return errRunDone
				}
			}
		}
	})
	err = g.Wait()
	if errors.Is(err, errRunDone) {
		return nil
	}
	return err
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/fatih/color"
	"github.com/samsamfire/canflash/pkg/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	red   = color.New(color.FgRed).SprintfFunc()
	green = color.New(color.FgGreen).SprintfFunc()
)

// Execute builds the command tree and runs it with the process arguments.
// This is called by main.main().
func Execute(ctx context.Context) error {
	return execute(ctx, newRootCmd())
}

func execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), red("error: %v", err))
	}
	return err
}

const (
	flagConfig    = "config"
	flagInterface = "interface"
	flagChannel   = "channel"
	flagBitrate   = "bitrate"
	flagID        = "id"
	flagDebug     = "debug"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "canflash",
		Short:        "Transfer images to a device over CAN",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug, _ := cmd.Flags().GetBool(flagDebug)
			if debug {
				log.SetLevel(log.DebugLevel)
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
		},
	}
	pf := root.PersistentFlags()
	pf.StringP(flagConfig, "c", "", "ini configuration file")
	pf.StringP(flagInterface, "i", "socketcan", "CAN backend (socketcan, socketcanv2, einride, virtual, local)")
	pf.StringP(flagChannel, "C", "can0", "CAN channel, e.g. can0 or localhost:18888 for virtual")
	pf.IntP(flagBitrate, "b", 500000, "CAN bitrate, used by backends able to configure the interface")
	pf.String(flagID, "0x000", "base frame identifier, acknowledgments are expected on id + 0x40")
	pf.BoolP(flagDebug, "d", false, "debug mode")

	root.AddCommand(
		newSendCmd(),
		newEmulateCmd(),
		newConfigCmd(),
		newInterfacesCmd(),
		newVersionCmd(),
	)
	return root
}

// Configuration from file or defaults, overridden by flags set on the command line
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	path, _ := cmd.Flags().GetString(flagConfig)
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("loading %v : %w", path, err)
		}
	}
	flags := cmd.Flags()
	if flags.Changed(flagInterface) {
		cfg.Can.Interface, _ = flags.GetString(flagInterface)
	}
	if flags.Changed(flagChannel) {
		cfg.Can.Channel, _ = flags.GetString(flagChannel)
	}
	if flags.Changed(flagBitrate) {
		cfg.Can.Bitrate, _ = flags.GetInt(flagBitrate)
	}
	if flags.Changed(flagID) {
		raw, _ := flags.GetString(flagID)
		id, err := strconv.ParseUint(raw, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("%w : --id %v", config.ErrInvalidConfig, raw)
		}
		cfg.Can.ID = uint32(id)
	}
	return cfg, nil
}

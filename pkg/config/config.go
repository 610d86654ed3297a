// Package config holds the bus and transfer settings of canflash, read
// from an ini file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	can "github.com/samsamfire/canflash/pkg/can"
	"github.com/samsamfire/canflash/pkg/protocol"
	"github.com/samsamfire/canflash/pkg/transfer"
	"gopkg.in/ini.v1"
)

const (
	SectionCan      = "can"
	SectionTransfer = "transfer"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Can struct {
	Interface string
	Channel   string
	Bitrate   int
	// Identifier every frame is sent on, acknowledgments come on ID + 0x40
	ID uint32
}

type Transfer struct {
	FrameDelay      time.Duration
	BlockThreshold  int
	AckTimeout      time.Duration
	AnnounceSize    bool
	CloseFinalBlock bool
}

type Config struct {
	Can      Can
	Transfer Transfer
}

func Default() *Config {
	return &Config{
		Can: Can{
			Interface: "socketcan",
			Channel:   "can0",
			Bitrate:   500000,
			ID:        0x000,
		},
		Transfer: Transfer{
			FrameDelay:      time.Millisecond,
			BlockThreshold:  transfer.DefaultBlockThreshold,
			AckTimeout:      protocol.DefaultAckTimeout,
			AnnounceSize:    true,
			CloseFinalBlock: false,
		},
	}
}

// Load reads an ini configuration on top of the defaults.
// file can be either a path or an *os.File or []byte
func Load(file any) (*Config, error) {
	iniFile, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	cfg := Default()

	section := iniFile.Section(SectionCan)
	cfg.Can.Interface = section.Key("interface").MustString(cfg.Can.Interface)
	cfg.Can.Channel = section.Key("channel").MustString(cfg.Can.Channel)
	cfg.Can.Bitrate = section.Key("bitrate").MustInt(cfg.Can.Bitrate)
	if section.HasKey("id") {
		id, err := strconv.ParseUint(section.Key("id").String(), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("%w : [can] id : %v", ErrInvalidConfig, err)
		}
		cfg.Can.ID = uint32(id)
	}

	section = iniFile.Section(SectionTransfer)
	cfg.Transfer.FrameDelay = section.Key("frame_delay").MustDuration(cfg.Transfer.FrameDelay)
	cfg.Transfer.BlockThreshold = section.Key("block_threshold").MustInt(cfg.Transfer.BlockThreshold)
	cfg.Transfer.AckTimeout = section.Key("ack_timeout").MustDuration(cfg.Transfer.AckTimeout)
	cfg.Transfer.AnnounceSize = section.Key("announce_size").MustBool(cfg.Transfer.AnnounceSize)
	cfg.Transfer.CloseFinalBlock = section.Key("close_final_block").MustBool(cfg.Transfer.CloseFinalBlock)

	return cfg, cfg.Validate()
}

func (cfg *Config) Validate() error {
	if cfg.Can.Interface == "" {
		return fmt.Errorf("%w : no interface", ErrInvalidConfig)
	}
	if protocol.AckID(cfg.Can.ID) > can.CanSffMask {
		return fmt.Errorf("%w : id x%x leaves no room for acknowledgment id", ErrInvalidConfig, cfg.Can.ID)
	}
	if cfg.Can.Bitrate < 0 {
		return fmt.Errorf("%w : bitrate %d", ErrInvalidConfig, cfg.Can.Bitrate)
	}
	if cfg.Transfer.BlockThreshold <= 0 {
		return fmt.Errorf("%w : block threshold %d", ErrInvalidConfig, cfg.Transfer.BlockThreshold)
	}
	if cfg.Transfer.AckTimeout <= 0 {
		return fmt.Errorf("%w : ack timeout %v", ErrInvalidConfig, cfg.Transfer.AckTimeout)
	}
	if cfg.Transfer.FrameDelay < 0 {
		return fmt.Errorf("%w : frame delay %v", ErrInvalidConfig, cfg.Transfer.FrameDelay)
	}
	return nil
}

// Save writes the configuration as an ini file
func (cfg *Config) Save(filename string) error {
	file := ini.Empty()
	section, err := file.NewSection(SectionCan)
	if err != nil {
		return err
	}
	values := [][2]string{
		{"interface", cfg.Can.Interface},
		{"channel", cfg.Can.Channel},
		{"bitrate", strconv.Itoa(cfg.Can.Bitrate)},
		{"id", fmt.Sprintf("0x%03x", cfg.Can.ID)},
	}
	for _, kv := range values {
		if _, err := section.NewKey(kv[0], kv[1]); err != nil {
			return err
		}
	}
	section, err = file.NewSection(SectionTransfer)
	if err != nil {
		return err
	}
	values = [][2]string{
		{"frame_delay", cfg.Transfer.FrameDelay.String()},
		{"block_threshold", strconv.Itoa(cfg.Transfer.BlockThreshold)},
		{"ack_timeout", cfg.Transfer.AckTimeout.String()},
		{"announce_size", strconv.FormatBool(cfg.Transfer.AnnounceSize)},
		{"close_final_block", strconv.FormatBool(cfg.Transfer.CloseFinalBlock)},
	}
	for _, kv := range values {
		if _, err := section.NewKey(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return file.SaveTo(filename)
}

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cfg, err := Load([]byte(`
[can]
interface = local
channel   = bench
bitrate   = 250000
id        = 0x100

[transfer]
frame_delay       = 2ms
block_threshold   = 256
ack_timeout       = 500ms
announce_size     = false
close_final_block = true
`))
	require.Nil(t, err)
	assert.Equal(t, Can{Interface: "local", Channel: "bench", Bitrate: 250000, ID: 0x100}, cfg.Can)
	assert.Equal(t, Transfer{
		FrameDelay:      2 * time.Millisecond,
		BlockThreshold:  256,
		AckTimeout:      500 * time.Millisecond,
		AnnounceSize:    false,
		CloseFinalBlock: true,
	}, cfg.Transfer)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]byte("[can]\nchannel = can1\n"))
	require.Nil(t, err)
	expected := Default()
	expected.Can.Channel = "can1"
	assert.Equal(t, expected, cfg)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load([]byte("[can]\nid = nope\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Load([]byte("[can]\nid = 0x7F0\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Load([]byte("[transfer]\nblock_threshold = -1\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.NotNil(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.Validate())
	cfg.Can.ID = 0x7BF
	assert.Nil(t, cfg.Validate())
	cfg.Can.ID = 0x7C0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	cfg = Default()
	cfg.Transfer.AckTimeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestSaveLoad(t *testing.T) {
	cfg := Default()
	cfg.Can.ID = 0x123
	cfg.Transfer.FrameDelay = 0
	path := filepath.Join(t.TempDir(), "canflash.ini")
	require.Nil(t, cfg.Save(path))
	loaded, err := Load(path)
	require.Nil(t, err)
	assert.Equal(t, cfg, loaded)
}

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samsamfire/canflash/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func runContext(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := execute(ctx, root)
	return out.String(), err
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runContext(context.Background(), args...)
}

func TestSendEmulated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	image := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 300)
	require.Nil(t, os.WriteFile(path, image, 0o644))
	out, err := run(t, "send", path, "--emulate", "--no-progress", "--delay", "0", "--timeout", "500ms")
	require.Nil(t, err)
	assert.Contains(t, out, "done: 1200 bytes in 150 frames, 3 blocks")
}

func TestSendMissingFile(t *testing.T) {
	_, err := run(t, "send", filepath.Join(t.TempDir(), "missing.bin"), "--emulate", "--no-progress")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canflash.ini")
	_, err := run(t, "config", path, "--id", "0x100", "--interface", "local")
	require.Nil(t, err)
	cfg, err := config.Load(path)
	require.Nil(t, err)
	assert.EqualValues(t, 0x100, cfg.Can.ID)
	assert.Equal(t, "local", cfg.Can.Interface)

	_, err = run(t, "config", path, "--id", "nope")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestInterfacesCommand(t *testing.T) {
	out, err := run(t, "interfaces")
	require.Nil(t, err)
	assert.Contains(t, out, "local")
}

// Flags set by a previous invocation must not leak into the next one
func TestFlagsDoNotLeak(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canflash.ini")
	_, err := run(t, "config", path, "--id", "nope")
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	image := filepath.Join(t.TempDir(), "image.bin")
	require.Nil(t, os.WriteFile(image, make([]byte, 64), 0o644))
	out, err := run(t, "send", image, "--emulate", "--no-progress", "--delay", "0", "--timeout", "500ms")
	require.Nil(t, err)
	assert.Contains(t, out, "done: 64 bytes")
}

func TestEmulateAndSend(t *testing.T) {
	dir := t.TempDir()
	image := bytes.Repeat([]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}, 128)
	input := filepath.Join(dir, "image.bin")
	output := filepath.Join(dir, "received.bin")
	require.Nil(t, os.WriteFile(input, image, 0o644))
	bus := []string{"--interface", "local", "--channel", t.Name(), "--id", "0x100"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := runContext(ctx, append([]string{"emulate", "--once", "--output", output}, bus...)...)
		return err
	})
	g.Go(func() error {
		// Let the receiver join the bus first
		time.Sleep(200 * time.Millisecond)
		_, err := runContext(ctx, append([]string{"send", input, "--no-progress", "--delay", "0", "--timeout", "500ms"}, bus...)...)
		return err
	})
	require.Nil(t, g.Wait())

	received, err := os.ReadFile(output)
	require.Nil(t, err)
	assert.Equal(t, image, received)
}

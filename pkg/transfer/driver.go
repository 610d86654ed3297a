// Package transfer streams an image through a protocol session.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/samsamfire/canflash/pkg/codec"
	"github.com/samsamfire/canflash/pkg/protocol"
)

const DefaultBlockThreshold = protocol.BlockSize

var ErrImageTooLarge = errors.New("image exceeds announceable block count")

type Stats struct {
	Bytes         int64
	DataFrames    int
	BlocksOpened  int
	BlocksClosed  int
	AnnouncedSize uint16
	Elapsed       time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("%d bytes in %d frames, %d blocks, %v", s.Bytes, s.DataFrames, s.BlocksOpened, s.Elapsed.Round(time.Millisecond))
}

type Driver struct {
	session         *protocol.Session
	logger          *slog.Logger
	threshold       int
	announceSize    bool
	closeFinalBlock bool
	progress        func(sent int64, total int64)
}

func NewDriver(session *protocol.Session, opts ...Option) *Driver {
	d := &Driver{
		session:   session,
		logger:    slog.Default(),
		threshold: DefaultBlockThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Number of receiver storage blocks needed for size bytes
func BlockCount(size int64) (uint16, error) {
	if size < 0 {
		return 0, fmt.Errorf("invalid image size %d", size)
	}
	blocks := (size + protocol.BlockSize - 1) / protocol.BlockSize
	if blocks > math.MaxUint16 {
		return 0, fmt.Errorf("%w : %d blocks", ErrImageTooLarge, blocks)
	}
	return uint16(blocks), nil
}

// Transfer sends size bytes read from image as one run.
// Blocks are opened only when data follows. A final block shorter than the
// threshold stays open unless the driver closes final blocks.
func (d *Driver) Transfer(ctx context.Context, image io.Reader, size int64) (stats Stats, err error) {
	start := time.Now()
	defer func() { stats.Elapsed = time.Since(start) }()

	var blocks uint16
	if d.announceSize {
		if blocks, err = BlockCount(size); err != nil {
			return stats, err
		}
	}

	d.logger.Info("[TX] starting run", "size", size, "threshold", d.threshold)
	if err := d.session.StartRun(ctx); err != nil {
		return stats, err
	}
	if d.announceSize {
		if err := d.session.AnnounceSize(ctx, blocks); err != nil {
			return stats, err
		}
		stats.AnnouncedSize = blocks
	}

	reader := codec.NewReader(image)
	blockOpen := false
	inBlock := 0
	for {
		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("reading image : %w", err)
		}
		if !blockOpen {
			if err := d.session.StartBlock(ctx); err != nil {
				return stats, err
			}
			blockOpen = true
			stats.BlocksOpened++
		}
		if err := d.session.SendData(ctx, chunk.Payload); err != nil {
			return stats, err
		}
		stats.DataFrames++
		stats.Bytes += int64(chunk.Length)
		inBlock += chunk.Length
		if d.progress != nil {
			d.progress(stats.Bytes, size)
		}
		if inBlock >= d.threshold {
			if err := d.session.EndBlock(ctx); err != nil {
				return stats, err
			}
			blockOpen = false
			inBlock = 0
			stats.BlocksClosed++
		}
	}
	if blockOpen && d.closeFinalBlock {
		if err := d.session.EndBlock(ctx); err != nil {
			return stats, err
		}
		stats.BlocksClosed++
	}
	if err := d.session.EndRun(ctx); err != nil {
		return stats, err
	}
	if stats.Bytes != size {
		d.logger.Warn("[TX] image size differs from announced size", "sent", stats.Bytes, "size", size)
	}
	d.logger.Info("[TX] run finished", "bytes", stats.Bytes, "frames", stats.DataFrames, "blocks", stats.BlocksOpened)
	return stats, nil
}

// TransferFile sends the content of the file at path
func (d *Driver) TransferFile(ctx context.Context, path string) (Stats, error) {
	file, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return Stats{}, err
	}
	return d.Transfer(ctx, file, info.Size())
}

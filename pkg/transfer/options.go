package transfer

import "log/slog"

type Option func(d *Driver)

// Image bytes sent between start-of-block and end-of-block
func WithBlockThreshold(threshold int) Option {
	return func(d *Driver) {
		if threshold > 0 {
			d.threshold = threshold
		}
	}
}

// Send the block count right after start-of-run
func WithAnnounceSize(announce bool) Option {
	return func(d *Driver) { d.announceSize = announce }
}

// Send end-of-block for a final block shorter than the threshold
func WithCloseFinalBlock(enabled bool) Option {
	return func(d *Driver) { d.closeFinalBlock = enabled }
}

// Called after every data frame with the bytes sent so far
func WithProgress(progress func(sent int64, total int64)) Option {
	return func(d *Driver) { d.progress = progress }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

//go:build linux

package socketcanv2

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	can "github.com/samsamfire/canflash/pkg/can"
	"golang.org/x/sys/unix"
)

const (
	SocketCANFrameSize = 16
	DefaultRcvTimeout  = 100 * time.Millisecond
)

func init() {
	can.RegisterInterface("socketcanv2", NewSocketCanBus)
}

type SocketcanBus struct {
	mu         sync.Mutex
	f          *os.File
	fd         int
	channel    string
	rxCallback can.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// Layout of struct can_frame : id (host order), dlc, pad, res0, res1, data
func encodeFrame(frame can.Frame) [SocketCANFrameSize]byte {
	var raw [SocketCANFrameSize]byte
	binary.NativeEndian.PutUint32(raw[0:4], frame.ID)
	raw[4] = frame.DLC
	raw[5] = frame.Flags
	copy(raw[8:], frame.Data[:])
	return raw
}

func decodeFrame(raw []byte) can.Frame {
	frame := can.Frame{
		ID:    binary.NativeEndian.Uint32(raw[0:4]),
		DLC:   raw[4],
		Flags: raw[5],
	}
	copy(frame.Data[:], raw[8:SocketCANFrameSize])
	return frame
}

// Create a new SocketCAN bus. This expects the CAN channel to be up.
// e.g. running "ip a" should show can0 or something similar.
func NewSocketCanBus(channel string, _ int) (can.Bus, error) {
	return &SocketcanBus{channel: channel, fd: -1, logger: slog.Default()}, nil
}

// "Connect" opens and binds the raw socket, then starts reception
func (s *SocketcanBus) Connect(...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		return nil
	}
	iface, err := net.InterfaceByName(s.channel)
	if err != nil {
		return err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("failed to create CAN socket : %v", err)
	}
	tv := unix.NsecToTimeval(DefaultRcvTimeout.Nanoseconds())
	err = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("failed to set read timeout %v", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		_ = unix.Close(fd)
		return err
	}
	s.fd = fd
	s.f = os.NewFile(uintptr(fd), fmt.Sprintf("fd %d", fd))

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processIncoming(ctx)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (s *SocketcanBus) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	err := s.f.Close()
	s.f = nil
	s.fd = -1
	return err
}

// "Send" implementation of Bus interface
func (s *SocketcanBus) Send(frame can.Frame) error {
	if s.f == nil {
		return fmt.Errorf("socket %v not connected", s.channel)
	}
	raw := encodeFrame(frame)
	n, err := s.f.Write(raw[:])
	if err != nil {
		return err
	}
	if n != SocketCANFrameSize {
		return fmt.Errorf("short write : %v bytes", n)
	}
	return nil
}

// process incoming frames. This is meant to be run inside of a goroutine
func (s *SocketcanBus) processIncoming(ctx context.Context) {
	rxFrame := make([]byte, SocketCANFrameSize)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("exiting CAN bus reception, closed")
			return
		default:
			n, err := unix.Read(s.fd, rxFrame)
			if err == unix.EAGAIN || err == unix.EINTR {
				// Receive timeout, check for exit
				continue
			}
			if n != SocketCANFrameSize || err != nil {
				s.logger.Info("exiting CAN bus reception", "err", err)
				return
			}
			if s.rxCallback != nil {
				s.rxCallback.Handle(decodeFrame(rxFrame))
			}
		}
	}
}

// "Subscribe" implementation of Bus interface
func (s *SocketcanBus) Subscribe(rxCallback can.FrameListener) error {
	s.rxCallback = rxCallback
	return nil
}

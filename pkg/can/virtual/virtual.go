package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	can "github.com/samsamfire/canflash/pkg/can"
)

// Virtual CAN bus implementation with TCP primarily used for testing
// This needs a broker server to send CAN frames to all connected clients
// More information : https://github.com/windelbouwman/virtualcan

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

var ErrNoConnection = errors.New("no active connection")

type Bus struct {
	logger        *slog.Logger
	mu            sync.Mutex
	channel       string
	conn          net.Conn
	framehandler  can.FrameListener
	stopChan      chan bool
	wg            sync.WaitGroup
	isRunning     bool
	errSubscriber bool
}

func NewVirtualCanBus(channel string, _ int) (can.Bus, error) {
	return &Bus{
		logger:   slog.Default(),
		channel:  channel,
		stopChan: make(chan bool),
	}, nil
}

// Helper function for serializing a CAN frame into the expected binary format
func serializeFrame(frame can.Frame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	err := binary.Write(buffer, binary.BigEndian, frame)
	if err != nil {
		return nil, err
	}
	dataBytes := buffer.Bytes()
	frameBytes := make([]byte, 4, 4+len(dataBytes))
	binary.BigEndian.PutUint32(frameBytes, uint32(len(dataBytes)))
	frameBytes = append(frameBytes, dataBytes...)
	return frameBytes, nil
}

// Helper function for deserializing a CAN frame from expected binary format
func deserializeFrame(buffer []byte) (*can.Frame, error) {
	var frame can.Frame
	buf := bytes.NewBuffer(buffer)
	err := binary.Read(buf, binary.BigEndian, &frame)
	if err != nil {
		return nil, err
	}
	return &frame, nil
}

// "Connect" to server e.g. localhost:18000
func (b *Bus) Connect(...any) error {
	conn, err := net.DialTimeout("tcp", b.channel, 2*time.Second)
	if err != nil {
		return err
	}
	b.conn = conn
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		err := tcpConn.SetNoDelay(true)
		if err != nil {
			return err
		}
	}
	return nil
}

// "Disconnect" from server
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	running := !b.errSubscriber && b.isRunning
	b.mu.Unlock()
	if running {
		b.stopChan <- true
		b.wg.Wait()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		return err
	}
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame can.Frame) error {
	if b.conn == nil {
		return fmt.Errorf("%w, abort send", ErrNoConnection)
	}
	frameBytes, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = b.conn.Write(frameBytes)
	return err
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	if b.isRunning || b.conn == nil {
		return nil
	}
	// Start go routine that receives incoming traffic and passes it to frameHandler
	b.wg.Add(1)
	b.isRunning = true
	b.errSubscriber = false
	go b.handleReception()
	return nil
}

// Receive new CAN message
func (b *Bus) Recv() (*can.Frame, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("%w, abort receive", ErrNoConnection)
	}
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	headerBytes := make([]byte, 4)
	n, err := b.conn.Read(headerBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return nil, err
	}
	if n < 4 || err != nil {
		return nil, fmt.Errorf("error deserializing : expected %v, got %v, err : %v", 4, n, err)
	}
	length := binary.BigEndian.Uint32(headerBytes)
	frameBytes := make([]byte, length)
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err = b.conn.Read(frameBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return nil, err
	}
	if n != int(length) || err != nil {
		return nil, fmt.Errorf("error deserializing : expected %v, got %v", length, n)
	}
	return deserializeFrame(frameBytes)
}

// Handle incoming traffic
func (b *Bus) handleReception() {
	defer func() {
		b.mu.Lock()
		b.isRunning = false
		b.mu.Unlock()
		b.wg.Done()
	}()
	for {
		select {
		case <-b.stopChan:
			return
		default:
			// Avoid blocking if lock is already taken (in particular for disconnect, subscribe, etc)
			if !b.mu.TryLock() {
				break
			}
			frame, err := b.Recv()
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// No message received, this is OK
			} else if err != nil {
				b.logger.Error("listening routine has closed because", "err", err)
				b.errSubscriber = true
				b.mu.Unlock()
				return
			} else if b.framehandler != nil {
				b.framehandler.Handle(*frame)
			}
			b.mu.Unlock()
		}
	}
}


// Package protocol implements the control flow of an image transfer: runs
// and blocks delimited by acknowledged control frames, with data frames in
// between.
package protocol

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	can "github.com/samsamfire/canflash/pkg/can"
	"github.com/samsamfire/canflash/pkg/codec"
)

const DefaultAckTimeout = 2 * time.Second

type State uint8

const (
	Idle State = iota
	RunStarted
	BlockStarted
	DataStreaming
	BlockEnded
	RunEnded
	Aborted
)

var stateNames = map[State]string{
	Idle:          "IDLE",
	RunStarted:    "RUN STARTED",
	BlockStarted:  "BLOCK STARTED",
	DataStreaming: "DATA STREAMING",
	BlockEnded:    "BLOCK ENDED",
	RunEnded:      "RUN ENDED",
	Aborted:       "ABORTED",
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
	return name
}

// Link is the transport a session drives
type Link interface {
	Send(ctx context.Context, id uint32, payload [codec.FrameSize]byte) error
	Receive(ctx context.Context, expected byte, timeout time.Duration) (can.Frame, error)
}

// Session runs one transfer over a link. It is not safe for concurrent use.
// Any failure aborts the session and every later call returns ErrAborted.
type Session struct {
	link       Link
	logger     *slog.Logger
	baseID     uint32
	ackTimeout time.Duration
	state      State
}

type Option func(s *Session)

// Identifier every frame is sent on
func WithBaseID(id uint32) Option {
	return func(s *Session) { s.baseID = id & can.CanSffMask }
}

// Maximum bus silence while waiting for an acknowledgment
func WithAckTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout > 0 {
			s.ackTimeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSession(link Link, opts ...Option) *Session {
	s := &Session{
		link:       link,
		logger:     slog.Default(),
		ackTimeout: DefaultAckTimeout,
		state:      Idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) check(allowed ...State) error {
	if s.state == Aborted {
		return ErrAborted
	}
	for _, state := range allowed {
		if s.state == state {
			return nil
		}
	}
	return fmt.Errorf("%w : %v", ErrInvalidState, s.state)
}

func (s *Session) abort(err error) error {
	s.logger.Warn("[TX] aborting", "state", s.state, "err", err)
	s.state = Aborted
	return err
}

// Send a control frame and wait for its acknowledgment
func (s *Session) control(ctx context.Context, op Opcode, args ...byte) error {
	payload, err := codec.Pad(append([]byte{byte(op)}, args...))
	if err != nil {
		return err
	}
	s.logger.Debug("[TX] control", "op", op, "payload", fmt.Sprintf("% x", payload))
	if err := s.link.Send(ctx, s.baseID, payload); err != nil {
		return s.abort(fmt.Errorf("%v : %w", op, err))
	}
	if _, err := s.link.Receive(ctx, op.Response(), s.ackTimeout); err != nil {
		return s.abort(&AckError{Op: op, Err: err})
	}
	s.logger.Debug("[RX] acknowledged", "op", op)
	return nil
}

// Open a run, data may only flow once it is acknowledged
func (s *Session) StartRun(ctx context.Context) error {
	if err := s.check(Idle); err != nil {
		return err
	}
	if err := s.control(ctx, StartOfRun); err != nil {
		return err
	}
	s.state = RunStarted
	return nil
}

// Announce the image size in storage blocks, big-endian.
// Only allowed right after the run started.
func (s *Session) AnnounceSize(ctx context.Context, blocks uint16) error {
	if err := s.check(RunStarted); err != nil {
		return err
	}
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], blocks)
	return s.control(ctx, SizeInfo, count[:]...)
}

func (s *Session) StartBlock(ctx context.Context) error {
	if err := s.check(RunStarted, BlockEnded); err != nil {
		return err
	}
	if err := s.control(ctx, StartOfBlock); err != nil {
		return err
	}
	s.state = BlockStarted
	return nil
}

// Send one data payload, never acknowledged
func (s *Session) SendData(ctx context.Context, payload [codec.FrameSize]byte) error {
	if err := s.check(BlockStarted, DataStreaming); err != nil {
		return err
	}
	if err := s.link.Send(ctx, s.baseID, payload); err != nil {
		return s.abort(fmt.Errorf("data : %w", err))
	}
	s.state = DataStreaming
	return nil
}

func (s *Session) EndBlock(ctx context.Context) error {
	if err := s.check(BlockStarted, DataStreaming); err != nil {
		return err
	}
	if err := s.control(ctx, EndOfBlock); err != nil {
		return err
	}
	s.state = BlockEnded
	return nil
}

// Close the run. An open block is left for the receiver to flush.
func (s *Session) EndRun(ctx context.Context) error {
	if err := s.check(RunStarted, BlockStarted, DataStreaming, BlockEnded); err != nil {
		return err
	}
	if err := s.control(ctx, EndOfRun); err != nil {
		return err
	}
	s.state = RunEnded
	return nil
}

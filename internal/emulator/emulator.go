// Package emulator behaves like the receiving device: it acknowledges
// control frames and rebuilds the image from data frames.
package emulator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	canflash "github.com/samsamfire/canflash"
	"github.com/samsamfire/canflash/internal/fifo"
	can "github.com/samsamfire/canflash/pkg/can"
	"github.com/samsamfire/canflash/pkg/codec"
	"github.com/samsamfire/canflash/pkg/link"
	"github.com/samsamfire/canflash/pkg/protocol"
)

var ErrNotStarted = errors.New("emulator not started")

// Misbehaviour injected for a given opcode
type Fault uint8

const (
	// Answer with a negative acknowledgment
	Reject Fault = iota + 1
	// Do not answer at all
	Silence
)

func (f Fault) String() string {
	switch f {
	case Reject:
		return "reject"
	case Silence:
		return "silence"
	}
	return "none"
}

// Summary of a finished run
type Report struct {
	Announced uint16 // Block count announced by the sender, 0 if none
	Blocks    int    // Storage blocks written
	Bytes     int    // Data bytes received
	Pending   int    // Bytes received but never written, short of a full block
	Lost      int    // Announced blocks never written
	Extra     int    // Blocks written beyond the announced count
}

// Whether the written block count matches the announced one
func (r Report) Complete() bool {
	return r.Blocks == int(r.Announced)
}

func (r Report) String() string {
	return fmt.Sprintf("blocks %d/%d, %d bytes, %d pending, %d lost, %d extra",
		r.Blocks, r.Announced, r.Bytes, r.Pending, r.Lost, r.Extra)
}

type Emulator struct {
	logger   *slog.Logger
	bm       *canflash.BusManager
	baseID   uint32
	faults   map[protocol.Opcode]Fault
	onRunEnd func(Report)
	flush    bool

	mu        sync.Mutex
	started   bool
	ring      *fifo.Fifo
	block     []byte
	image     []byte
	controls  []protocol.Opcode
	announced uint16
	blocks    int
	bytes     int
	inBlock   bool
	done      chan struct{}
	report    Report
}

type Option func(e *Emulator)

// Identifier the sender transmits on, answers go to base + 0x40
func WithBaseID(id uint32) Option {
	return func(e *Emulator) { e.baseID = id & can.CanSffMask }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Emulator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithFault(op protocol.Opcode, fault Fault) Option {
	return func(e *Emulator) { e.faults[op] = fault }
}

// Write a partial block on end-of-block and end-of-run. The device only
// writes full 512-byte blocks, this is off by default.
func WithFlushPartial(flush bool) Option {
	return func(e *Emulator) { e.flush = flush }
}

// Called from the reception goroutine once a run ends
func WithOnRunEnd(callback func(Report)) Option {
	return func(e *Emulator) { e.onRunEnd = callback }
}

func New(bus can.Bus, opts ...Option) *Emulator {
	e := &Emulator{
		logger: slog.Default(),
		bm:     canflash.NewBusManager(bus),
		faults: map[protocol.Opcode]Fault{},
		ring:   fifo.NewFifo(protocol.BlockSize + 1),
		block:  make([]byte, protocol.BlockSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start listening on the bus
func (e *Emulator) Start(args ...any) error {
	err := e.bm.Subscribe(e.baseID, can.CanSffMask, false, e)
	if err != nil {
		return err
	}
	if err := e.bm.Connect(args...); err != nil {
		return err
	}
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	e.logger.Info("emulated receiver listening", "id", fmt.Sprintf("x%03x", e.baseID), "ack", fmt.Sprintf("x%03x", protocol.AckID(e.baseID)))
	return nil
}

func (e *Emulator) Stop() error {
	e.mu.Lock()
	started := e.started
	e.started = false
	e.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	e.bm.Unsubscribe(e)
	return e.bm.Disconnect()
}

// Implements can.FrameListener
func (e *Emulator) Handle(frame can.Frame) {
	if codec.HasSentinel(frame.Data) {
		e.handleControl(protocol.Opcode(frame.Data[0]), frame.Data)
		return
	}
	e.handleData(frame.Data)
}

func (e *Emulator) handleData(payload [codec.FrameSize]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inBlock {
		e.logger.Debug("[RX] data outside of a block", "payload", fmt.Sprintf("% x", payload))
	}
	chunk := codec.Decode(payload)
	e.bytes += len(chunk)
	written := e.ring.Write(chunk[:])
	if e.ring.GetOccupied() >= protocol.BlockSize {
		e.store(protocol.BlockSize)
	}
	if written < len(chunk) {
		e.ring.Write(chunk[written:])
	}
}

// Move n bytes from the ring into a storage block
func (e *Emulator) store(n int) {
	read := e.ring.Read(e.block[:n])
	e.image = append(e.image, e.block[:read]...)
	e.blocks++
	e.logger.Debug("[RX] block stored", "block", e.blocks, "size", read)
}

func (e *Emulator) storePartial() {
	if occupied := e.ring.GetOccupied(); occupied > 0 {
		e.store(occupied)
	}
}

func (e *Emulator) handleControl(op protocol.Opcode, data [codec.FrameSize]byte) {
	e.mu.Lock()
	e.controls = append(e.controls, op)
	fault := e.faults[op]
	if !op.Valid() {
		e.mu.Unlock()
		e.logger.Warn("[RX] unknown control opcode", "op", op)
		e.reply(link.NegativeAck)
		return
	}
	if fault != 0 {
		e.mu.Unlock()
		e.logger.Info("[RX] injected fault", "op", op, "fault", fault)
		if fault == Reject {
			e.reply(link.NegativeAck)
		}
		return
	}

	var (
		ended  bool
		report Report
	)
	switch op {
	case protocol.StartOfRun:
		e.ring.Reset()
		e.image = nil
		e.announced = 0
		e.blocks = 0
		e.bytes = 0
		e.inBlock = false
		select {
		case <-e.done:
			e.done = make(chan struct{})
		default:
		}
	case protocol.SizeInfo:
		e.announced = uint16(data[1])<<8 | uint16(data[2])
	case protocol.StartOfBlock:
		e.inBlock = true
	case protocol.EndOfBlock:
		if e.flush {
			e.storePartial()
		}
		e.inBlock = false
	case protocol.EndOfRun:
		if e.flush {
			e.storePartial()
		}
		e.inBlock = false
		report = Report{Announced: e.announced, Blocks: e.blocks, Bytes: e.bytes, Pending: e.ring.GetOccupied()}
		if diff := int(e.announced) - e.blocks; diff > 0 {
			report.Lost = diff
		} else {
			report.Extra = -diff
		}
		e.report = report
		ended = true
		select {
		case <-e.done:
		default:
			close(e.done)
		}
	}
	e.mu.Unlock()

	e.logger.Debug("[RX] control", "op", op)
	e.reply(op.Response())
	if ended {
		if !report.Complete() {
			e.logger.Warn("[RX] block count mismatch", "written", report.Blocks, "announced", report.Announced, "pending", report.Pending)
		}
		e.logger.Info("[RX] run ended", "report", report.String())
		if e.onRunEnd != nil {
			e.onRunEnd(report)
		}
	}
}

func (e *Emulator) reply(code byte) {
	payload, _ := codec.Pad([]byte{code})
	frame := can.Frame{ID: protocol.AckID(e.baseID), DLC: codec.FrameSize, Data: payload}
	if err := e.bm.Send(frame); err != nil {
		e.logger.Warn("[TX] failed to answer", "code", fmt.Sprintf("x%02x", code), "err", err)
	}
}

// Control opcodes received so far, in order
func (e *Emulator) Controls() []protocol.Opcode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]protocol.Opcode(nil), e.controls...)
}

func (e *Emulator) Announced() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.announced
}

func (e *Emulator) Blocks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocks
}

// Image written so far, whole blocks only unless partial blocks are flushed.
// A flushed last block is a multiple of 8 bytes long as the sender zero
// fills its last chunk.
func (e *Emulator) Image() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.image...)
}

// Closed once the current run ended
func (e *Emulator) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Report of the last finished run
func (e *Emulator) Report() Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	can "github.com/samsamfire/canflash/pkg/can"
)

var (
	blue = color.New(color.FgHiBlue).SprintfFunc()
	cyan = color.New(color.FgCyan).SprintfFunc()
)

// Bus printing every frame it sends and receives
type dumpBus struct {
	can.Bus
	mu  sync.Mutex
	out io.Writer
}

func newDumpBus(bus can.Bus, out io.Writer) *dumpBus {
	return &dumpBus{Bus: bus, out: out}
}

type dumpListener struct {
	bus      *dumpBus
	listener can.FrameListener
}

func (l *dumpListener) Handle(frame can.Frame) {
	l.bus.print("<i>", frame)
	l.listener.Handle(frame)
}

func (b *dumpBus) Send(frame can.Frame) error {
	b.print("<o>", frame)
	return b.Bus.Send(frame)
}

func (b *dumpBus) Subscribe(listener can.FrameListener) error {
	return b.Bus.Subscribe(&dumpListener{bus: b, listener: listener})
}

func (b *dumpBus) print(direction string, frame can.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintln(b.out, formatFrame(direction, frame))
}

func formatFrame(direction string, frame can.Frame) string {
	var out strings.Builder
	out.WriteString(direction + " || ")
	out.WriteString(blue("0x%03X", frame.StandardID()) + " || ")
	out.WriteString(fmt.Sprintf("%d || ", frame.DLC))
	hexView := make([]string, 0, can.MaxDLC)
	for _, b := range frame.Data[:min(int(frame.DLC), can.MaxDLC)] {
		hexView = append(hexView, fmt.Sprintf("%02X", b))
	}
	out.WriteString(cyan("%-23s", strings.Join(hexView, " ")))
	return out.String()
}

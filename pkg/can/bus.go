package can

import (
	"fmt"
	"sort"
	"sync"
)

const CanRtrFlag uint32 = 0x40000000
const CanEffFlag uint32 = 0x80000000
const CanSffMask uint32 = 0x000007FF

// Payload length of a classic CAN frame
const MaxDLC = 8

// A CAN frame
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

func NewFrame(id uint32, flags uint8, dlc uint8) Frame {
	return Frame{ID: id, Flags: flags, DLC: dlc}
}

// StandardID returns the 11 bit identifier, without any flag bits
func (f Frame) StandardID() uint32 {
	return f.ID & CanSffMask
}

func (f Frame) String() string {
	return fmt.Sprintf("x%03x [%d] % x", f.ID, f.DLC, f.Data[:min(int(f.DLC), MaxDLC)])
}

// Interface for handling a received CAN frame
type FrameListener interface {
	Handle(frame Frame)
}

// A CAN Bus interface
type Bus interface {
	Connect(...any) error                   // Connect to the CAN bus
	Disconnect() error                      // Disconnect from CAN bus
	Send(frame Frame) error                 // Send a frame on the bus
	Subscribe(callback FrameListener) error // Subscribe to all received CAN frames
}

type NewInterfaceFunc func(channel string, bitrate int) (Bus, error)

var (
	registryMu        sync.RWMutex
	interfaceRegistry = make(map[string]NewInterfaceFunc)
)

// Register a new CAN bus interface type
// This should be called inside an init() function of plugin
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	interfaceRegistry[interfaceType] = newInterface
}

// Names of all registered interfaces, sorted
func Interfaces() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(interfaceRegistry))
	for name := range interfaceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create a new CAN bus with given interface
// Available interfaces depend on the imported backends
// e.g. socketcan, socketcanv2, einride, virtual, local
func NewBus(canInterface string, channel string, bitrate int) (Bus, error) {
	registryMu.RLock()
	createInterface, ok := interfaceRegistry[canInterface]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported interface : %v", canInterface)
	}
	return createInterface(channel, bitrate)
}

package canopen

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

// Command is anything the protocol layer can serialize onto the bus.
type Command interface {
	Frame() (can.Frame, error)
}

var (
	// ErrNodeOutOfRange is returned when a command targets a node above
	// MaxNodeID.
	ErrNodeOutOfRange = errors.New("canopen: node id out of range")
	// ErrBadChannel is returned for PDO channels outside 1..4.
	ErrBadChannel = errors.New("canopen: pdo channel out of range")
	// ErrBadNMTCode is returned for command codes outside the fixed table.
	ErrBadNMTCode = errors.New("canopen: unknown nmt command code")
	// ErrTooMuchSDOData is returned when an expedited transfer carries
	// more than four data bytes.
	ErrTooMuchSDOData = errors.New("canopen: expedited sdo carries at most 4 bytes")
)

// NMTCode is a network-management command code.
type NMTCode uint8

const (
	GoToOperational    NMTCode = 0x01
	GoToStopped        NMTCode = 0x02
	GoToPreOperational NMTCode = 0x80
	ResetNode          NMTCode = 0x81
	ResetCommunication NMTCode = 0x82
)

func (c NMTCode) valid() bool {
	switch c {
	case GoToOperational, GoToStopped, GoToPreOperational, ResetNode, ResetCommunication:
		return true
	}
	return false
}

func (c NMTCode) String() string {
	switch c {
	case GoToOperational:
		return "go-to-operational"
	case GoToStopped:
		return "go-to-stopped"
	case GoToPreOperational:
		return "go-to-pre-operational"
	case ResetNode:
		return "reset-node"
	case ResetCommunication:
		return "reset-communication"
	default:
		return fmt.Sprintf("nmt(0x%02X)", uint8(c))
	}
}

// PDOCommand sends process data to a node on one of the four to-device
// channels (bases 0x200/0x300/0x400/0x500).
type PDOCommand struct {
	Node    uint8
	Channel uint8 // 1..4
	Data    []byte
}

func (c PDOCommand) Frame() (can.Frame, error) {
	if c.Node > MaxNodeID {
		return can.Frame{}, fmt.Errorf("%w: %d", ErrNodeOutOfRange, c.Node)
	}
	if c.Channel < 1 || c.Channel > 4 {
		return can.Frame{}, fmt.Errorf("%w: %d", ErrBadChannel, c.Channel)
	}
	base := uint32(0x200) + uint32(c.Channel-1)*0x100
	return can.New(base|uint32(c.Node), c.Data, false, false)
}

// NMTCommand drives a node's network-management state machine.
type NMTCommand struct {
	Node uint8
	Code NMTCode
}

func (c NMTCommand) Frame() (can.Frame, error) {
	if c.Node > MaxNodeID {
		return can.Frame{}, fmt.Errorf("%w: %d", ErrNodeOutOfRange, c.Node)
	}
	if !c.Code.valid() {
		return can.Frame{}, fmt.Errorf("%w: 0x%02X", ErrBadNMTCode, uint8(c.Code))
	}
	return can.New(idNMT|uint32(c.Node), []byte{byte(c.Code)}, false, false)
}

// SDOCommand issues one expedited service-data transfer: control fields,
// dictionary address and up to four data bytes. The expedited bit is
// always set; Unused and SizeIndicated are derived from len(Data).
type SDOCommand struct {
	Node     uint8
	CCS      uint8
	Index    uint16
	SubIndex uint8
	Data     []byte
}

func (c SDOCommand) Frame() (can.Frame, error) {
	if c.Node > MaxNodeID {
		return can.Frame{}, fmt.Errorf("%w: %d", ErrNodeOutOfRange, c.Node)
	}
	if len(c.Data) > 4 {
		return can.Frame{}, fmt.Errorf("%w: %d", ErrTooMuchSDOData, len(c.Data))
	}
	ctrl := SDOControl{
		CCS:           c.CCS,
		Expedited:     true,
		SizeIndicated: true,
		Unused:        uint8(4 - len(c.Data)),
	}
	payload := make([]byte, 8)
	payload[0] = ctrl.Byte()
	payload[1] = byte(c.Index)
	payload[2] = byte(c.Index >> 8)
	payload[3] = c.SubIndex
	copy(payload[4:], c.Data)
	return can.New(idSDO|uint32(c.Node), payload, false, false)
}

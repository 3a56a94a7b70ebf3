// Package canopen maps raw CAN frames to typed application messages and
// application commands back to frames. The function code lives in the top
// bits of the 11-bit identifier (id & 0xF80), the node address in the low
// seven (id & 0x7F).
package canopen

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

// Function-code bases.
const (
	idSync = 0x080
	idNMT  = 0x700
	idSDO  = 0x580

	funcMask = 0xF80
	nodeMask = 0x7F

	// MaxNodeID is the highest addressable node.
	MaxNodeID = 0x7F
)

// Message is the closed set of bus messages Classify can produce.
type Message interface {
	isMessage()
}

// Sync is the bus-wide synchronization pulse (id 0x080, empty payload).
type Sync struct{}

// SyncFrame returns the frame a sync producer transmits each period.
func SyncFrame() can.Frame {
	fr, _ := can.New(idSync, nil, false, false)
	return fr
}

// PDODirection tells which half of a PDO channel a frame used.
type PDODirection uint8

const (
	// FromDevice marks transmit-PDOs (bases 0x180/0x280/0x380/0x480).
	FromDevice PDODirection = iota
	// ToDevice marks receive-PDOs (bases 0x200/0x300/0x400/0x500).
	ToDevice
)

func (d PDODirection) String() string {
	if d == ToDevice {
		return "to-device"
	}
	return "from-device"
}

// PDO is raw process data on one of four channels. Data carries the full
// frame buffer; Len is the valid prefix.
type PDO struct {
	Channel uint8 // 1..4
	Node    uint8
	Dir     PDODirection
	Data    [8]byte
	Len     uint8
}

// NMTState is a node's network-management state as reported by its
// heartbeat.
type NMTState uint8

const (
	Initializing   NMTState = 0x00
	Stopped        NMTState = 0x04
	Operational    NMTState = 0x05
	PreOperational NMTState = 0x7F
)

func (s NMTState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Operational:
		return "operational"
	case PreOperational:
		return "pre-operational"
	default:
		return "initializing"
	}
}

// stateFromByte maps a heartbeat payload byte to a state. Unknown values
// collapse to Initializing rather than failing; bootup frames carry 0x00
// and vendors ship oddballs.
func stateFromByte(b byte) NMTState {
	switch NMTState(b) {
	case Stopped, Operational, PreOperational:
		return NMTState(b)
	default:
		return Initializing
	}
}

// StateReport is a heartbeat: node and its current state.
type StateReport struct {
	Node  uint8
	State NMTState
}

// NMTRequest is a network-management command observed on the bus. Command
// codes and heartbeat state codes are disjoint, so both decode from the
// same function code without ambiguity.
type NMTRequest struct {
	Node uint8
	Code NMTCode
}

// SDOControl is the decoded command byte of an expedited service-data
// transfer.
type SDOControl struct {
	CCS           uint8 // client/server command specifier, bits 7-5
	Expedited     bool  // bit 1
	SizeIndicated bool  // bit 0
	Unused        uint8 // bits 3-2, bytes of Data not holding payload
}

const (
	sdoCCSMask      = 0xE0
	sdoCCSShift     = 5
	sdoUnusedMask   = 0x0C
	sdoUnusedShift  = 2
	sdoExpeditedBit = 0x02
	sdoSizeBit      = 0x01
)

// Byte packs the control fields back into wire form.
func (c SDOControl) Byte() byte {
	b := (c.CCS << sdoCCSShift) | ((c.Unused << sdoUnusedShift) & sdoUnusedMask)
	if c.Expedited {
		b |= sdoExpeditedBit
	}
	if c.SizeIndicated {
		b |= sdoSizeBit
	}
	return b
}

func controlFromByte(b byte) SDOControl {
	return SDOControl{
		CCS:           (b & sdoCCSMask) >> sdoCCSShift,
		Expedited:     b&sdoExpeditedBit != 0,
		SizeIndicated: b&sdoSizeBit != 0,
		Unused:        (b & sdoUnusedMask) >> sdoUnusedShift,
	}
}

// SDOTransfer is one expedited service-data exchange: a dictionary address
// (index, sub-index) plus up to four payload bytes.
type SDOTransfer struct {
	Node     uint8
	Control  SDOControl
	Index    uint16
	SubIndex uint8
	Data     [4]byte
	Len      uint8
}

func (Sync) isMessage()        {}
func (PDO) isMessage()         {}
func (StateReport) isMessage() {}
func (NMTRequest) isMessage()  {}
func (SDOTransfer) isMessage() {}

// UnknownIDError reports a frame whose masked function code matches no
// known message family.
type UnknownIDError struct {
	ID uint32 // masked function code, not the full identifier
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("canopen: unrecognized function code 0x%03X", e.ID)
}

var (
	// ErrShortPayload is returned when a frame's payload is too short for
	// its message family (empty heartbeat, truncated SDO).
	ErrShortPayload = errors.New("canopen: payload too short")
	// ErrSDOSegmentedUnsupported is returned for SDO frames without the
	// expedited bit. Segmented transfers are out of scope.
	ErrSDOSegmentedUnsupported = errors.New("canopen: segmented SDO transfer not supported")
)

// pdoChannel resolves a masked function code to a PDO channel, or 0.
func pdoChannel(base uint32) (ch uint8, dir PDODirection) {
	switch base {
	case 0x180:
		return 1, FromDevice
	case 0x280:
		return 2, FromDevice
	case 0x380:
		return 3, FromDevice
	case 0x480:
		return 4, FromDevice
	case 0x200:
		return 1, ToDevice
	case 0x300:
		return 2, ToDevice
	case 0x400:
		return 3, ToDevice
	case 0x500:
		return 4, ToDevice
	}
	return 0, FromDevice
}

// Classify decodes one frame into a typed message. It is pure: the frame
// is never mutated and no state is carried between calls. Unrecognized
// function codes fail with *UnknownIDError carrying the masked code.
func Classify(fr can.Frame) (Message, error) {
	base := fr.ID() & funcMask
	node := uint8(fr.ID() & nodeMask)

	if ch, dir := pdoChannel(base); ch != 0 {
		return PDO{
			Channel: ch,
			Node:    node,
			Dir:     dir,
			Data:    fr.RawData(),
			Len:     uint8(fr.Len()),
		}, nil
	}

	switch base {
	case idSync:
		return Sync{}, nil

	case idNMT:
		if fr.Len() == 0 {
			return nil, ErrShortPayload
		}
		b := fr.Data()[0]
		if code := NMTCode(b); code.valid() {
			return NMTRequest{Node: node, Code: code}, nil
		}
		return StateReport{Node: node, State: stateFromByte(b)}, nil

	case idSDO:
		return classifySDO(node, fr)

	default:
		return nil, &UnknownIDError{ID: base}
	}
}

func classifySDO(node uint8, fr can.Frame) (Message, error) {
	data := fr.Data()
	if len(data) < 4 {
		return nil, ErrShortPayload
	}
	ctrl := controlFromByte(data[0])
	if !ctrl.Expedited {
		return nil, ErrSDOSegmentedUnsupported
	}
	t := SDOTransfer{
		Node:     node,
		Control:  ctrl,
		Index:    uint16(data[1]) | uint16(data[2])<<8,
		SubIndex: data[3],
	}
	n := copy(t.Data[:], data[4:])
	if ctrl.SizeIndicated {
		t.Len = 4 - ctrl.Unused
	} else {
		t.Len = uint8(n)
	}
	return t, nil
}

package can

import (
	"errors"
	"fmt"
)

// Error frame decoding based on <linux/can/error.h>. An error frame packs
// an error class bitmask into the identifier and qualifies it with payload
// bytes: data[0] for arbitration loss, data[1] for controller problems,
// data[2]/data[3] for protocol violation type and location, data[4] for
// transceiver status.

// ErrorKind is the top-level error class of a decoded error frame.
type ErrorKind int

const (
	ErrorTransmitTimeout ErrorKind = iota
	ErrorLostArbitration
	ErrorController
	ErrorProtocolViolation
	ErrorTransceiver
	ErrorNoAck
	ErrorBusOff
	ErrorBus
	ErrorRestarted
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransmitTimeout:
		return "transmit-timeout"
	case ErrorLostArbitration:
		return "lost-arbitration"
	case ErrorController:
		return "controller-problem"
	case ErrorProtocolViolation:
		return "protocol-violation"
	case ErrorTransceiver:
		return "transceiver-error"
	case ErrorNoAck:
		return "no-ack"
	case ErrorBusOff:
		return "bus-off"
	case ErrorBus:
		return "bus-error"
	case ErrorRestarted:
		return "restarted"
	}
	return "unknown"
}

// ControllerProblem qualifies ErrorController reports.
type ControllerProblem uint8

const (
	ControllerUnspecified ControllerProblem = 0x00
	ControllerRxOverflow  ControllerProblem = 0x01
	ControllerTxOverflow  ControllerProblem = 0x02
	ControllerRxWarning   ControllerProblem = 0x04
	ControllerTxWarning   ControllerProblem = 0x08
	ControllerRxPassive   ControllerProblem = 0x10
	ControllerTxPassive   ControllerProblem = 0x20
	ControllerActive      ControllerProblem = 0x40
)

// ViolationType qualifies ErrorProtocolViolation reports.
type ViolationType uint8

const (
	ViolationUnspecified    ViolationType = 0x00
	ViolationSingleBit      ViolationType = 0x01
	ViolationFrameFormat    ViolationType = 0x02
	ViolationBitStuffing    ViolationType = 0x04
	ViolationNoDominantBit  ViolationType = 0x08
	ViolationNoRecessiveBit ViolationType = 0x10
	ViolationBusOverload    ViolationType = 0x20
	ViolationActive         ViolationType = 0x40
	ViolationTransmission   ViolationType = 0x80
)

// ViolationLocation pins a protocol violation to a position in the frame.
type ViolationLocation uint8

const (
	LocationUnspecified   ViolationLocation = 0x00
	LocationId2821        ViolationLocation = 0x02
	LocationStartOfFrame  ViolationLocation = 0x03
	LocationSubstituteRtr ViolationLocation = 0x04
	LocationIdeBit        ViolationLocation = 0x05
	LocationId2018        ViolationLocation = 0x06
	LocationId1713        ViolationLocation = 0x07
	LocationCrcSequence   ViolationLocation = 0x08
	LocationReserved0     ViolationLocation = 0x09
	LocationDataSection   ViolationLocation = 0x0A
	LocationDataLength    ViolationLocation = 0x0B
	LocationRtrBit        ViolationLocation = 0x0C
	LocationReserved1     ViolationLocation = 0x0D
	LocationId0400        ViolationLocation = 0x0E
	LocationId1205        ViolationLocation = 0x0F
	LocationIntermission  ViolationLocation = 0x12
	LocationCrcDelimiter  ViolationLocation = 0x18
	LocationAckSlot       ViolationLocation = 0x19
	LocationEndOfFrame    ViolationLocation = 0x1A
	LocationAckDelimiter  ViolationLocation = 0x1B
)

// TransceiverStatus qualifies ErrorTransceiver reports.
type TransceiverStatus uint8

const (
	TransceiverUnspecified    TransceiverStatus = 0x00
	TransceiverHighNoWire     TransceiverStatus = 0x04
	TransceiverHighShortToBat TransceiverStatus = 0x05
	TransceiverHighShortToVcc TransceiverStatus = 0x06
	TransceiverHighShortToGnd TransceiverStatus = 0x07
	TransceiverLowNoWire      TransceiverStatus = 0x40
	TransceiverLowShortToBat  TransceiverStatus = 0x50
	TransceiverLowShortToVcc  TransceiverStatus = 0x60
	TransceiverLowShortToGnd  TransceiverStatus = 0x70
	TransceiverLowShortToHigh TransceiverStatus = 0x80
)

// ErrorReport is the structured interpretation of one error frame. Only the
// fields matching Kind carry meaning.
type ErrorReport struct {
	Kind ErrorKind
	// ArbitrationBit is the bit number at which arbitration was lost,
	// 0 if unspecified. Set for ErrorLostArbitration.
	ArbitrationBit uint8
	// Controller is set for ErrorController.
	Controller ControllerProblem
	// Violation and Location are set for ErrorProtocolViolation.
	Violation ViolationType
	Location  ViolationLocation
	// Transceiver is set for ErrorTransceiver.
	Transceiver TransceiverStatus
}

// Decoding failures. Each one carries the offending value so the caller can
// log or act without re-parsing the frame.
var (
	ErrNotErrorFrame = errors.New("can: frame is not an error frame")
	// ErrInvalidControllerProblem flags an unrecognized data[1] value.
	ErrInvalidControllerProblem = errors.New("can: invalid controller problem")
	// ErrInvalidViolationType flags an unrecognized data[2] value.
	ErrInvalidViolationType = errors.New("can: invalid protocol violation type")
	// ErrInvalidViolationLocation flags an unrecognized data[3] value.
	ErrInvalidViolationLocation = errors.New("can: invalid protocol violation location")
	// ErrInvalidTransceiverStatus flags an unrecognized data[4] value.
	ErrInvalidTransceiverStatus = errors.New("can: invalid transceiver status")
)

// UnknownClassError reports an error frame whose class bits match none of
// the defined classes.
type UnknownClassError struct {
	Class uint32
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("can: unknown error class 0x%X", e.Class)
}

// ShortPayloadError reports a payload too short for the byte index the
// error class requires.
type ShortPayloadError struct {
	Index int
}

func (e *ShortPayloadError) Error() string {
	return fmt.Sprintf("can: payload too short for error byte %d", e.Index)
}

func errData(f Frame, idx int) (byte, error) {
	if f.Len() <= idx {
		return 0, &ShortPayloadError{Index: idx}
	}
	return f.Data()[idx], nil
}

// DecodeError interprets an error frame into an ErrorReport. It fails for
// frames without the error flag, for unknown error classes, for payloads
// too short for the class, and for sub-codes outside the fixed tables.
// No fallback value is ever invented.
func DecodeError(f Frame) (ErrorReport, error) {
	if !f.IsError() {
		return ErrorReport{}, ErrNotErrorFrame
	}
	switch class := f.ErrClass(); class {
	case 0x00000001:
		return ErrorReport{Kind: ErrorTransmitTimeout}, nil
	case 0x00000002:
		bit, err := errData(f, 0)
		if err != nil {
			return ErrorReport{}, err
		}
		return ErrorReport{Kind: ErrorLostArbitration, ArbitrationBit: bit}, nil
	case 0x00000004:
		b, err := errData(f, 1)
		if err != nil {
			return ErrorReport{}, err
		}
		cp, err := controllerProblem(b)
		if err != nil {
			return ErrorReport{}, err
		}
		return ErrorReport{Kind: ErrorController, Controller: cp}, nil
	case 0x00000008:
		tb, err := errData(f, 2)
		if err != nil {
			return ErrorReport{}, err
		}
		vt, err := violationType(tb)
		if err != nil {
			return ErrorReport{}, err
		}
		lb, err := errData(f, 3)
		if err != nil {
			return ErrorReport{}, err
		}
		loc, err := violationLocation(lb)
		if err != nil {
			return ErrorReport{}, err
		}
		return ErrorReport{Kind: ErrorProtocolViolation, Violation: vt, Location: loc}, nil
	case 0x00000010:
		b, err := errData(f, 4)
		if err != nil {
			return ErrorReport{}, err
		}
		ts, err := transceiverStatus(b)
		if err != nil {
			return ErrorReport{}, err
		}
		return ErrorReport{Kind: ErrorTransceiver, Transceiver: ts}, nil
	case 0x00000020:
		return ErrorReport{Kind: ErrorNoAck}, nil
	case 0x00000040:
		return ErrorReport{Kind: ErrorBusOff}, nil
	case 0x00000080:
		return ErrorReport{Kind: ErrorBus}, nil
	case 0x00000100:
		return ErrorReport{Kind: ErrorRestarted}, nil
	default:
		return ErrorReport{}, &UnknownClassError{Class: class}
	}
}

func controllerProblem(b byte) (ControllerProblem, error) {
	switch cp := ControllerProblem(b); cp {
	case ControllerUnspecified, ControllerRxOverflow, ControllerTxOverflow,
		ControllerRxWarning, ControllerTxWarning, ControllerRxPassive,
		ControllerTxPassive, ControllerActive:
		return cp, nil
	}
	return 0, fmt.Errorf("%w (0x%02X)", ErrInvalidControllerProblem, b)
}

func violationType(b byte) (ViolationType, error) {
	switch vt := ViolationType(b); vt {
	case ViolationUnspecified, ViolationSingleBit, ViolationFrameFormat,
		ViolationBitStuffing, ViolationNoDominantBit, ViolationNoRecessiveBit,
		ViolationBusOverload, ViolationActive, ViolationTransmission:
		return vt, nil
	}
	return 0, fmt.Errorf("%w (0x%02X)", ErrInvalidViolationType, b)
}

func violationLocation(b byte) (ViolationLocation, error) {
	switch loc := ViolationLocation(b); loc {
	case LocationUnspecified, LocationId2821, LocationStartOfFrame,
		LocationSubstituteRtr, LocationIdeBit, LocationId2018, LocationId1713,
		LocationCrcSequence, LocationReserved0, LocationDataSection,
		LocationDataLength, LocationRtrBit, LocationReserved1, LocationId0400,
		LocationId1205, LocationIntermission, LocationCrcDelimiter,
		LocationAckSlot, LocationEndOfFrame, LocationAckDelimiter:
		return loc, nil
	}
	return 0, fmt.Errorf("%w (0x%02X)", ErrInvalidViolationLocation, b)
}

func transceiverStatus(b byte) (TransceiverStatus, error) {
	switch ts := TransceiverStatus(b); ts {
	case TransceiverUnspecified, TransceiverHighNoWire, TransceiverHighShortToBat,
		TransceiverHighShortToVcc, TransceiverHighShortToGnd, TransceiverLowNoWire,
		TransceiverLowShortToBat, TransceiverLowShortToVcc, TransceiverLowShortToGnd,
		TransceiverLowShortToHigh:
		return ts, nil
	}
	return 0, fmt.Errorf("%w (0x%02X)", ErrInvalidTransceiverStatus, b)
}

package can

import (
	"errors"
	"fmt"
)

// SocketCAN flag bits and masks for can_id (same values as <linux/can.h>).
const (
	EFFFlag uint32 = 0x80000000 // extended (29-bit) frame format
	RTRFlag uint32 = 0x40000000 // remote transmission request
	ERRFlag uint32 = 0x20000000 // error message frame
	SFFMask uint32 = 0x000007FF
	EFFMask uint32 = 0x1FFFFFFF
	ERRMask uint32 = 0x1FFFFFFF
)

// MaxDataLen is the classic CAN payload limit.
const MaxDataLen = 8

var (
	// ErrTooMuchData is returned when more than 8 payload bytes are supplied.
	ErrTooMuchData = errors.New("can: payload exceeds 8 bytes")
	// ErrIDTooLarge is returned when the identifier exceeds the 29-bit range.
	ErrIDTooLarge = errors.New("can: identifier exceeds extended range")
	// ErrWouldBlock is returned by non-blocking device operations when no
	// frame can be transferred right now. Callers retry at their own cadence.
	ErrWouldBlock = errors.New("can: operation would block")
)

// Frame is a single classic CAN frame. The raw identifier field packs the
// EFF/RTR/ERR flag bits into its top bits exactly like the kernel's can_id.
//
// A Frame is an immutable value: it is built only through New (which
// validates and never clamps) or by unmarshalling a kernel record, and is
// inspected through the accessors below.
type Frame struct {
	id   uint32
	len  uint8
	data [MaxDataLen]byte
}

// New builds a frame from a numeric identifier and payload. Identifiers
// above the standard 11-bit range are promoted to the extended format; an
// identifier above the extended range or a payload longer than 8 bytes is
// rejected outright.
func New(id uint32, data []byte, rtr, errFrame bool) (Frame, error) {
	if len(data) > MaxDataLen {
		return Frame{}, fmt.Errorf("%w (%d)", ErrTooMuchData, len(data))
	}
	if id > EFFMask {
		return Frame{}, fmt.Errorf("%w (0x%X)", ErrIDTooLarge, id)
	}
	if id > SFFMask {
		id |= EFFFlag
	}
	if rtr {
		id |= RTRFlag
	}
	if errFrame {
		id |= ERRFlag
	}
	f := Frame{id: id, len: uint8(len(data))}
	copy(f.data[:], data)
	return f, nil
}

// NewRaw builds a frame from an already flag-packed identifier, as carried
// on a wire or read back from the kernel. Only the payload length is
// validated; the flag bits are taken as-is.
func NewRaw(raw uint32, data []byte) (Frame, error) {
	if len(data) > MaxDataLen {
		return Frame{}, fmt.Errorf("%w (%d)", ErrTooMuchData, len(data))
	}
	f := Frame{id: raw, len: uint8(len(data))}
	copy(f.data[:], data)
	return f, nil
}

// ID returns the numeric identifier with the flag bits masked off,
// using the standard mask unless the frame is extended.
func (f Frame) ID() uint32 {
	if f.IsExtended() {
		return f.id & EFFMask
	}
	return f.id & SFFMask
}

// Raw returns the full 32-bit identifier including flag bits.
func (f Frame) Raw() uint32 { return f.id }

// IsExtended reports whether the frame uses the 29-bit identifier format.
func (f Frame) IsExtended() bool { return f.id&EFFFlag != 0 }

// IsRemote reports whether the frame is a remote transmission request.
func (f Frame) IsRemote() bool { return f.id&RTRFlag != 0 }

// IsError reports whether the frame is an error message frame.
func (f Frame) IsError() bool { return f.id&ERRFlag != 0 }

// ErrClass returns the error class bits of an error frame's identifier.
func (f Frame) ErrClass() uint32 { return f.id & ERRMask }

// Len returns the payload length in bytes (0..8).
func (f Frame) Len() int { return int(f.len) }

// Data returns the valid payload bytes. The slice aliases a copy of the
// frame value, so the caller may keep it.
func (f Frame) Data() []byte { return f.data[:f.len] }

// RawData returns the full 8-byte payload buffer regardless of length.
func (f Frame) RawData() [MaxDataLen]byte { return f.data }

func (f Frame) String() string {
	return fmt.Sprintf("ID: %#x RTR: %v DATA: % X", f.ID(), f.IsRemote(), f.Data())
}

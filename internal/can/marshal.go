package can

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RecordLen is the size of struct can_frame (linux/can.h):
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// The kernel exchanges this record verbatim on raw CAN sockets, so the
// layout here must match it byte for byte. Fields are in host byte order;
// on the Linux targets we support that is little-endian.
const RecordLen = 16

// ErrShortRecord is returned when a kernel record is shorter than 16 bytes.
var ErrShortRecord = errors.New("can: short frame record")

// ErrBadRecordLen is returned when a record carries a DLC above 8.
var ErrBadRecordLen = errors.New("can: record length exceeds 8")

// Marshal writes the frame into buf in the kernel record layout.
func (f Frame) Marshal(buf *[RecordLen]byte) {
	binary.LittleEndian.PutUint32(buf[0:4], f.id)
	buf[4] = f.len
	buf[5], buf[6], buf[7] = 0, 0, 0
	copy(buf[8:], f.data[:])
}

// Unmarshal decodes one kernel frame record. A truncated record or a DLC
// above 8 is rejected, never clamped.
func Unmarshal(buf []byte) (Frame, error) {
	if len(buf) < RecordLen {
		return Frame{}, fmt.Errorf("%w (%d bytes)", ErrShortRecord, len(buf))
	}
	dlc := buf[4]
	if dlc > MaxDataLen {
		return Frame{}, fmt.Errorf("%w (%d)", ErrBadRecordLen, dlc)
	}
	f := Frame{id: binary.LittleEndian.Uint32(buf[0:4]), len: dlc}
	copy(f.data[:], buf[8:8+dlc])
	return f, nil
}

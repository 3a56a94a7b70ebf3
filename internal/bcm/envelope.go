// Package bcm drives the Linux CAN broadcast manager (CAN_BCM): an
// in-kernel scheduler that retransmits a fixed frame at a fixed interval
// without per-tick application involvement.
package bcm

import (
	"encoding/binary"
	"time"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

// Opcode and flag values from <linux/can/bcm.h>.
const (
	opTxSetup      = 1
	flagSetTimer   = 0x0001
	flagStartTimer = 0x0002
)

// EnvelopeLen is the size of struct bcm_msg_head followed by one frame
// record, on 64-bit Linux:
//
//	opcode  u32       [0:4]
//	flags   u32       [4:8]
//	count   u32       [8:12]
//	pad     4B        [12:16]  (timeval forces 8-byte alignment)
//	ival1   2x i64    [16:32]  (seconds, microseconds)
//	ival2   2x i64    [32:48]
//	can_id  u32       [48:52]
//	nframes u32       [52:56]
//	frames  16B       [56:72]
//
// The kernel consumes this block verbatim, so the layout must match
// bit for bit. Host byte order; little-endian on supported targets.
const EnvelopeLen = 56 + can.RecordLen

// Envelope is one TX_SETUP request: install and start a kernel timer that
// retransmits Frame every Interval. It is sent once; the kernel handles
// every subsequent tick.
type Envelope struct {
	Interval time.Duration
	Frame    can.Frame
}

// Marshal encodes the envelope as the single atomic block written to a BCM
// socket.
func (e Envelope) Marshal() [EnvelopeLen]byte {
	var buf [EnvelopeLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], opTxSetup)
	binary.LittleEndian.PutUint32(buf[4:8], flagSetTimer|flagStartTimer)
	binary.LittleEndian.PutUint32(buf[8:12], 0) // count: repeat forever
	// ival1 stays zero: no initial burst phase.
	usec := e.Interval.Microseconds()
	binary.LittleEndian.PutUint64(buf[32:40], uint64(usec/1e6))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(usec%1e6))
	binary.LittleEndian.PutUint32(buf[48:52], e.Frame.ID())
	binary.LittleEndian.PutUint32(buf[52:56], 1)
	var rec [can.RecordLen]byte
	e.Frame.Marshal(&rec)
	copy(buf[56:], rec[:])
	return buf
}

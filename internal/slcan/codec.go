// Package slcan speaks the Lawicel serial-line CAN protocol: one ASCII
// record per frame, carriage-return terminated. It adapts USB-serial CAN
// dongles to the same device contract the SocketCAN backend provides.
package slcan

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

const terminator = '\r'

var (
	// ErrUnsupportedFrame is returned for frames the ASCII protocol
	// cannot carry (error frames).
	ErrUnsupportedFrame = errors.New("slcan: frame not representable")
	// ErrBadRecord is returned for malformed inbound records.
	ErrBadRecord = errors.New("slcan: malformed record")
)

// Marshal renders one frame as a Lawicel record including the trailing CR.
// Record kinds: 't' std data, 'T' ext data, 'r' std RTR, 'R' ext RTR.
func Marshal(fr can.Frame) ([]byte, error) {
	if fr.IsError() {
		return nil, ErrUnsupportedFrame
	}
	ext := fr.IsExtended()
	var kind byte
	switch {
	case fr.IsRemote() && ext:
		kind = 'R'
	case fr.IsRemote():
		kind = 'r'
	case ext:
		kind = 'T'
	default:
		kind = 't'
	}
	idDigits := 3
	if ext {
		idDigits = 8
	}
	out := make([]byte, 0, 1+idDigits+1+2*fr.Len()+1)
	out = append(out, kind)
	out = appendHexID(out, fr.ID(), idDigits)
	out = append(out, hexDigit(uint32(fr.Len())))
	if !fr.IsRemote() {
		for _, b := range fr.Data() {
			out = append(out, hexDigit(uint32(b>>4)), hexDigit(uint32(b&0x0F)))
		}
	}
	return append(out, terminator), nil
}

// Unmarshal parses one record (with or without the trailing CR).
func Unmarshal(rec []byte) (can.Frame, error) {
	if n := len(rec); n > 0 && rec[n-1] == terminator {
		rec = rec[:n-1]
	}
	if len(rec) < 1 {
		return can.Frame{}, fmt.Errorf("%w: empty", ErrBadRecord)
	}
	var (
		idDigits int
		remote   bool
		ext      bool
	)
	switch rec[0] {
	case 't':
		idDigits = 3
	case 'T':
		idDigits, ext = 8, true
	case 'r':
		idDigits, remote = 3, true
	case 'R':
		idDigits, remote, ext = 8, true, true
	default:
		return can.Frame{}, fmt.Errorf("%w: kind %q", ErrBadRecord, rec[0])
	}
	if len(rec) < 1+idDigits+1 {
		return can.Frame{}, fmt.Errorf("%w: short header", ErrBadRecord)
	}
	id, err := parseHexID(rec[1 : 1+idDigits])
	if err != nil {
		return can.Frame{}, err
	}
	dlc := hexValue(rec[1+idDigits])
	if dlc < 0 || dlc > can.MaxDataLen {
		return can.Frame{}, fmt.Errorf("%w: dlc %q", ErrBadRecord, rec[1+idDigits])
	}
	var data []byte
	if remote {
		// RTR records carry a length but no data; the frame keeps the
		// DLC via a zero-filled payload of that length.
		data = make([]byte, dlc)
	} else {
		body := rec[1+idDigits+1:]
		if len(body) != 2*dlc {
			return can.Frame{}, fmt.Errorf("%w: body %d chars, dlc %d", ErrBadRecord, len(body), dlc)
		}
		data = make([]byte, dlc)
		if _, err := hex.Decode(data, body); err != nil {
			return can.Frame{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
		}
	}
	if ext {
		// Force the extended flag even for ids inside the standard range.
		fr, err := can.NewRaw(can.EFFFlag|setRTR(id, remote), data)
		if err != nil {
			return can.Frame{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
		}
		return fr, nil
	}
	fr, err := can.New(id, data, remote, false)
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	return fr, nil
}

func setRTR(id uint32, remote bool) uint32 {
	if remote {
		return id | can.RTRFlag
	}
	return id
}

func appendHexID(dst []byte, id uint32, digits int) []byte {
	for i := digits - 1; i >= 0; i-- {
		dst = append(dst, hexDigit((id>>(uint(i)*4))&0xF))
	}
	return dst
}

func hexDigit(v uint32) byte {
	const digits = "0123456789ABCDEF"
	return digits[v&0xF]
}

func hexValue(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10
	}
	return -1
}

func parseHexID(b []byte) (uint32, error) {
	var id uint32
	for _, c := range b {
		v := hexValue(c)
		if v < 0 {
			return 0, fmt.Errorf("%w: id digit %q", ErrBadRecord, c)
		}
		id = id<<4 | uint32(v)
	}
	return id, nil
}

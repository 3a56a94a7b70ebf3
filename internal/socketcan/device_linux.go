//go:build linux

// Package socketcan binds the hub to the kernel's raw CAN sockets.
package socketcan

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

// ErrLookup wraps interface-name resolution failures so callers can tell
// "no such device" from socket I/O failures.
var ErrLookup = errors.New("socketcan: interface lookup")

// Filter is one kernel receive filter: a frame matches when
// received_id & Mask == ID & Mask.
type Filter struct {
	ID   uint32
	Mask uint32
}

// Device is a raw CAN socket bound to one interface.
type Device struct {
	fd int
}

// Open binds a raw CAN socket to the named interface.
func Open(iface string) (*Device, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrLookup, iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// SetNonblock switches the socket to non-blocking mode; ReadFrame and
// WriteFrame then report can.ErrWouldBlock instead of blocking.
func (d *Device) SetNonblock() error { return unix.SetNonblock(d.fd, true) }

// ReadFrame reads one classic CAN frame from the socket into fr.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [can.RecordLen]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return can.ErrWouldBlock
		}
		return err
	}
	if n != can.RecordLen {
		return fmt.Errorf("socketcan: short read: %d", n)
	}
	f, err := can.Unmarshal(buf[:])
	if err != nil {
		return err
	}
	*fr = f
	return nil
}

// WriteFrame writes one classic CAN frame to the socket.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [can.RecordLen]byte
	fr.Marshal(&buf)
	n, err := unix.Write(d.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return can.ErrWouldBlock
		}
		return err
	}
	if n != can.RecordLen {
		return fmt.Errorf("socketcan: short write: %d", n)
	}
	return nil
}

// SetFilters installs kernel receive filters. An empty list drops all
// traffic.
func (d *Device) SetFilters(filters []Filter) error {
	if len(filters) == 0 {
		return unix.SetsockoptString(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, "")
	}
	raw := make([]unix.CanFilter, len(filters))
	for i, f := range filters {
		raw[i] = unix.CanFilter{Id: f.ID, Mask: f.Mask}
	}
	return unix.SetsockoptCanRawFilter(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, raw)
}

// AcceptAll installs the pass-everything filter.
func (d *Device) AcceptAll() error { return d.SetFilters([]Filter{{ID: 0, Mask: 0}}) }

// SetErrorFilter selects which error frame classes the kernel delivers;
// can.ERRMask subscribes to all of them, 0 to none.
func (d *Device) SetErrorFilter(mask uint32) error {
	return unix.SetsockoptInt(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, int(mask))
}

// SetReadTimeout bounds blocking reads. Timeouts surface as
// can.ErrWouldBlock from ReadFrame.
func (d *Device) SetReadTimeout(to time.Duration) error {
	tv := unix.NsecToTimeval(to.Nanoseconds())
	return unix.SetsockoptTimeval(d.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

// SetWriteTimeout bounds blocking writes.
func (d *Device) SetWriteTimeout(to time.Duration) error {
	tv := unix.NsecToTimeval(to.Nanoseconds())
	return unix.SetsockoptTimeval(d.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
}

//go:build linux

package bcm

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

// Socket is a connected CAN_BCM socket for one interface.
type Socket struct {
	fd int
}

// Open creates a BCM socket and connects it to the named CAN interface.
func Open(iface string) (*Socket, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_DGRAM, unix.CAN_BCM)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN, CAN_BCM): %w", err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connect(bcm@%s): %w", iface, err)
	}
	return &Socket{fd: fd}, nil
}

// InstallPeriodic asks the kernel to transmit frame every interval. The
// whole setup block is written in one call; a short write is an I/O
// failure, never silently retried.
func (s *Socket) InstallPeriodic(interval time.Duration, frame can.Frame) error {
	buf := Envelope{Interval: interval, Frame: frame}.Marshal()
	n, err := unix.Write(s.fd, buf[:])
	if err != nil {
		return fmt.Errorf("bcm tx_setup: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("bcm tx_setup: short write (%d of %d)", n, len(buf))
	}
	return nil
}

// Close releases the socket; installed timers die with it.
func (s *Socket) Close() error { return unix.Close(s.fd) }

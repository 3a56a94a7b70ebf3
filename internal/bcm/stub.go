//go:build !linux

package bcm

import (
	"errors"
	"time"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

// ErrUnsupported is returned on platforms without CAN_BCM so callers can
// compile and fail at open time.
var ErrUnsupported = errors.New("bcm: not supported on this platform")

type Socket struct{}

func Open(iface string) (*Socket, error) { return nil, ErrUnsupported }

func (s *Socket) InstallPeriodic(interval time.Duration, frame can.Frame) error {
	return ErrUnsupported
}

func (s *Socket) Close() error { return nil }

//go:build !linux

package socketcan

import (
	"context"
	"errors"
	"time"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

// Stubs so the hub and server packages compile on non-linux development
// machines; every operation fails at open time.

var (
	ErrLookup      = errors.New("socketcan: interface lookup")
	ErrUnsupported = errors.New("socketcan: not supported on this platform")
)

type Filter struct {
	ID   uint32
	Mask uint32
}

type Device struct{}

func Open(iface string) (*Device, error) { return nil, ErrUnsupported }

func (d *Device) Close() error                        { return nil }
func (d *Device) SetNonblock() error                  { return ErrUnsupported }
func (d *Device) ReadFrame(fr *can.Frame) error       { return ErrUnsupported }
func (d *Device) WriteFrame(fr can.Frame) error       { return ErrUnsupported }
func (d *Device) SetFilters(filters []Filter) error   { return ErrUnsupported }
func (d *Device) AcceptAll() error                    { return ErrUnsupported }
func (d *Device) SetErrorFilter(mask uint32) error    { return ErrUnsupported }
func (d *Device) SetReadTimeout(time.Duration) error  { return ErrUnsupported }
func (d *Device) SetWriteTimeout(time.Duration) error { return ErrUnsupported }

type Async struct{}

func NewAsync(iface string) (*Async, error) { return nil, ErrUnsupported }

func (a *Async) Read(ctx context.Context) (can.Frame, error) { return can.Frame{}, ErrUnsupported }
func (a *Async) Write(ctx context.Context, fr can.Frame) error {
	return ErrUnsupported
}
func (a *Async) Close() error { return nil }

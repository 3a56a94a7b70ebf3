//go:build linux

package socketcan

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

// Async exposes the raw CAN socket through a readiness-driven, one-shot
// contract: each Read/Write registers interest in the socket becoming
// readable/writable, parks until the kernel reports readiness, then makes
// exactly one non-blocking attempt. When that attempt loses the race to
// another consumer it returns can.ErrWouldBlock; retrying is the caller's
// business, never this layer's.
//
// Only one read and one write may be in flight at a time; the adapter
// serializes each direction internally. Cancellation is per-call via ctx;
// the interrupted call returns ctx.Err() and the socket stays usable.
type Async struct {
	dev *Device

	rmu   sync.Mutex
	wmu   sync.Mutex
	rwake [2]int
	wwake [2]int
}

// NewAsync opens the interface in non-blocking mode.
func NewAsync(iface string) (*Async, error) {
	dev, err := Open(iface)
	if err != nil {
		return nil, err
	}
	return newAsync(dev)
}

func newAsync(dev *Device) (*Async, error) {
	if err := dev.SetNonblock(); err != nil {
		_ = dev.Close()
		return nil, err
	}
	a := &Async{dev: dev}
	if err := unix.Pipe2(a.rwake[:], unix.O_NONBLOCK); err != nil {
		_ = dev.Close()
		return nil, err
	}
	if err := unix.Pipe2(a.wwake[:], unix.O_NONBLOCK); err != nil {
		_ = dev.Close()
		_ = unix.Close(a.rwake[0])
		_ = unix.Close(a.rwake[1])
		return nil, err
	}
	return a, nil
}

// Read waits until the socket is readable and attempts one frame read.
func (a *Async) Read(ctx context.Context) (can.Frame, error) {
	a.rmu.Lock()
	defer a.rmu.Unlock()
	if err := a.wait(ctx, unix.POLLIN, a.rwake); err != nil {
		return can.Frame{}, err
	}
	var fr can.Frame
	if err := a.dev.ReadFrame(&fr); err != nil {
		return can.Frame{}, err
	}
	return fr, nil
}

// Write waits until the socket is writable and attempts one frame write.
func (a *Async) Write(ctx context.Context, fr can.Frame) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	if err := a.wait(ctx, unix.POLLOUT, a.wwake); err != nil {
		return err
	}
	return a.dev.WriteFrame(fr)
}

// wait blocks in poll(2) until the socket reports events or the wake pipe
// fires because ctx was cancelled.
func (a *Async) wait(ctx context.Context, events int16, wake [2]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_, _ = unix.Write(wake[1], []byte{0})
		case <-stop:
		}
	}()
	fds := []unix.PollFd{
		{Fd: int32(a.dev.fd), Events: events},
		{Fd: int32(wake[0]), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		break
	}
	var b [8]byte
	for {
		if _, err := unix.Read(wake[0], b[:]); err != nil {
			break
		}
	}
	return ctx.Err()
}

// Close releases the socket and the wake pipes. In-flight operations fail;
// callers should cancel them first.
func (a *Async) Close() error {
	_, _ = unix.Write(a.rwake[1], []byte{0})
	_, _ = unix.Write(a.wwake[1], []byte{0})
	err := a.dev.Close()
	_ = unix.Close(a.rwake[0])
	_ = unix.Close(a.rwake[1])
	_ = unix.Close(a.wwake[0])
	_ = unix.Close(a.wwake[1])
	return err
}

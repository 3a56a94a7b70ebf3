package slcan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-canopen-hub/internal/can"
	"github.com/kstaniek/go-canopen-hub/internal/logging"
	"github.com/kstaniek/go-canopen-hub/internal/metrics"
	"github.com/kstaniek/go-canopen-hub/internal/transport"
	"github.com/tarm/serial"
)

// ErrBadBitrate is returned for bus bitrates the adapter cannot be
// programmed to.
var ErrBadBitrate = errors.New("slcan: unsupported bitrate")

// bitrateCommand maps a bus bitrate to the adapter's Sn setup command.
func bitrateCommand(bps int) (string, error) {
	codes := map[int]byte{
		10000:   '0',
		20000:   '1',
		50000:   '2',
		100000:  '3',
		125000:  '4',
		250000:  '5',
		500000:  '6',
		800000:  '7',
		1000000: '8',
	}
	c, ok := codes[bps]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrBadBitrate, bps)
	}
	return string([]byte{'S', c, terminator}), nil
}

// Config describes the serial attachment.
type Config struct {
	Path    string // serial device, e.g. /dev/ttyACM0
	Baud    int    // serial line speed
	Bitrate int    // CAN bus bitrate programmed into the adapter
	RxBuf   int    // inbound frame buffer (frames), default 512
	TxBuf   int    // outbound funnel buffer (frames), default 256
}

// Device adapts a Lawicel dongle to the hub's device contract. A reader
// goroutine turns the serial stream into buffered frames so ReadFrame can
// stay non-blocking; writes run through a single-worker funnel so many
// producers never interleave partial records on the line.
type Device struct {
	port *serial.Port
	rx   chan can.Frame
	tx   *transport.AsyncTx

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Open configures the adapter (close, bitrate, open channel) and starts
// the reader.
func Open(cfg Config) (*Device, error) {
	setBitrate, err := bitrateCommand(cfg.Bitrate)
	if err != nil {
		return nil, err
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Path, Baud: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("slcan open %s: %w", cfg.Path, err)
	}
	// Close a possibly-open channel first; a stale open channel rejects
	// setup commands.
	for _, cmd := range []string{"C\r", setBitrate, "O\r"} {
		if _, err := port.Write([]byte(cmd)); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("slcan setup: %w", err)
		}
	}
	rxBuf := cfg.RxBuf
	if rxBuf <= 0 {
		rxBuf = 512
	}
	txBuf := cfg.TxBuf
	if txBuf <= 0 {
		txBuf = 256
	}
	d := &Device{
		port: port,
		rx:   make(chan can.Frame, rxBuf),
		done: make(chan struct{}),
	}
	d.tx = transport.NewAsyncTx(context.Background(), txBuf, d.writeRecord, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSlcanWrite)
			logging.L().Warn("slcan_write_error", "error", err)
		},
		OnAfter: metrics.IncDeviceTx,
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSlcanOver)
			return can.ErrWouldBlock
		},
	})
	go d.readLoop()
	return d, nil
}

func (d *Device) writeRecord(fr can.Frame) error {
	rec, err := Marshal(fr)
	if err != nil {
		return err
	}
	_, err = d.port.Write(rec)
	return err
}

// readLoop splits the serial stream on CR and buffers decoded frames.
// Adapter status records (version, flags) and garbage are skipped; the
// loop ends when the port is closed under it.
func (d *Device) readLoop() {
	defer close(d.done)
	br := bufio.NewReader(d.port)
	for {
		rec, err := br.ReadBytes(terminator)
		if err != nil {
			if !d.closing.Load() {
				metrics.IncError(metrics.ErrSlcanRead)
				logging.L().Warn("slcan_read_error", "error", err)
			}
			return
		}
		fr, err := Unmarshal(rec)
		if err != nil {
			metrics.IncMalformed()
			continue
		}
		select {
		case d.rx <- fr:
			metrics.IncDeviceRx()
		default:
			metrics.IncHubDrop()
		}
	}
}

// ReadFrame pops one buffered inbound frame, or reports can.ErrWouldBlock.
func (d *Device) ReadFrame(fr *can.Frame) error {
	select {
	case f := <-d.rx:
		*fr = f
		return nil
	default:
		return can.ErrWouldBlock
	}
}

// WriteFrame enqueues one frame for transmission. A full funnel reports
// can.ErrWouldBlock rather than blocking the caller.
func (d *Device) WriteFrame(fr can.Frame) error {
	return d.tx.SendFrame(fr)
}

// Close drains the funnel, closes the channel on the adapter and releases
// the port.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		d.tx.Close()
		_, _ = d.port.Write([]byte("C\r"))
		d.closeErr = d.port.Close()
		<-d.done
	})
	return d.closeErr
}

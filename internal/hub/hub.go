// Package hub turns one physical CAN channel into a multi-subscriber,
// multi-producer bus. A single background pump owns the device: it drains
// inbound frames and republishes them to every subscribed node, and drains
// a shared outbound queue onto the wire. Nodes never touch the device.
package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-canopen-hub/internal/bcm"
	"github.com/kstaniek/go-canopen-hub/internal/can"
	"github.com/kstaniek/go-canopen-hub/internal/logging"
	"github.com/kstaniek/go-canopen-hub/internal/metrics"
	"github.com/kstaniek/go-canopen-hub/internal/socketcan"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Dev is the minimal device contract the pump needs. ReadFrame must be
// non-blocking: it returns can.ErrWouldBlock when no frame is pending.
// Implemented by *socketcan.Device, *slcan.Device and by fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

var (
	// ErrTxOverflow is returned by Node.Send when the shared outbound
	// queue is full. Enqueue never blocks the caller.
	ErrTxOverflow = errors.New("hub: tx queue overflow")
	// ErrClosed is returned by Node.Send after the hub shut down.
	ErrClosed = errors.New("hub: closed")
)

const (
	defaultOutBufSize = 512
	defaultTxQueue    = 1024
	defaultIdle       = 300 * time.Microsecond
	// maxRxBatch bounds one inbound drain so a flooded bus cannot starve
	// the outbound queue.
	maxRxBatch = 256
)

// Hub owns the device and fans frames out to subscribed nodes.
type Hub struct {
	mu    sync.RWMutex
	nodes map[*Node]struct{}

	dev Dev
	bcm *bcm.Socket // kernel periodic timer, socketcan only

	tx   chan can.Frame
	stop chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	outBufSize    int
	txQueue       int
	policy        BackpressurePolicy
	idle          time.Duration
	periodicFrame can.Frame
	periodicEvery time.Duration
	logger        *slog.Logger
}

type Option func(*Hub)

// WithOutBufSize sets the per-node inbound buffer (frames).
func WithOutBufSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.outBufSize = n
		}
	}
}

// WithTxQueueSize sets the shared outbound queue capacity.
func WithTxQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.txQueue = n
		}
	}
}

// WithPolicy selects what happens to a node whose buffer is full.
func WithPolicy(p BackpressurePolicy) Option { return func(h *Hub) { h.policy = p } }

// WithIdleInterval tunes the pump's idle pause. Shorter means lower
// latency at higher CPU cost.
func WithIdleInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.idle = d
		}
	}
}

// WithPeriodic installs a repeating transmission of fr every interval.
// Open hands it to the kernel broadcast manager; New falls back to a
// ticker goroutine feeding the outbound queue.
func WithPeriodic(fr can.Frame, every time.Duration) Option {
	return func(h *Hub) {
		h.periodicFrame = fr
		h.periodicEvery = every
	}
}

// WithLogger overrides the hub's diagnostic sink.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func newHub(dev Dev, opts []Option) *Hub {
	h := &Hub{
		nodes:      make(map[*Node]struct{}),
		dev:        dev,
		outBufSize: defaultOutBufSize,
		txQueue:    defaultTxQueue,
		idle:       defaultIdle,
		logger:     logging.L(),
	}
	for _, o := range opts {
		o(h)
	}
	h.tx = make(chan can.Frame, h.txQueue)
	h.stop = make(chan struct{})
	return h
}

// Open binds the hub to a SocketCAN interface. Open failures and periodic
// setup failures are fatal; nothing is left running.
func Open(iface string, opts ...Option) (*Hub, error) {
	dev, err := socketcan.Open(iface)
	if err != nil {
		return nil, err
	}
	if err := dev.SetNonblock(); err != nil {
		_ = dev.Close()
		return nil, err
	}
	h := newHub(dev, opts)
	if h.periodicEvery > 0 {
		b, err := bcm.Open(iface)
		if err != nil {
			_ = dev.Close()
			return nil, err
		}
		if err := b.InstallPeriodic(h.periodicEvery, h.periodicFrame); err != nil {
			metrics.IncError(metrics.ErrBCMSetup)
			_ = b.Close()
			_ = dev.Close()
			return nil, err
		}
		h.bcm = b
	}
	h.start()
	return h, nil
}

// New wraps an already opened device. The device must honor the
// non-blocking ReadFrame contract; the hub closes it on Close.
func New(dev Dev, opts ...Option) *Hub {
	h := newHub(dev, opts)
	if h.periodicEvery > 0 {
		h.wg.Add(1)
		go h.tickPeriodic()
	}
	h.start()
	return h
}

func (h *Hub) start() {
	h.wg.Add(1)
	go h.pump()
}

// Subscribe attaches a new node. Its Frames channel sees every inbound
// frame from this moment on, in arrival order.
func (h *Hub) Subscribe() *Node {
	n := &Node{
		hub:    h,
		out:    make(chan can.Frame, h.outBufSize),
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.nodes[n] = struct{}{}
	cur := len(h.nodes)
	h.mu.Unlock()
	metrics.SetHubNodes(cur)
	return n
}

func (h *Hub) remove(n *Node) {
	h.mu.Lock()
	_, existed := h.nodes[n]
	if existed {
		delete(h.nodes, n)
	}
	cur := len(h.nodes)
	h.mu.Unlock()
	n.markClosed()
	if existed {
		metrics.SetHubNodes(cur)
	}
}

// Count returns the number of subscribed nodes.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.nodes); h.mu.RUnlock(); return n }

// OutBufSize reports the per-node buffer capacity (used by the TCP server
// to size its own client buffers consistently).
func (h *Hub) OutBufSize() int { return h.outBufSize }

func (h *Hub) snapshot() []*Node {
	h.mu.RLock()
	nodes := make([]*Node, 0, len(h.nodes))
	for n := range h.nodes {
		nodes = append(nodes, n)
	}
	h.mu.RUnlock()
	return nodes
}

func (h *Hub) broadcast(fr can.Frame) {
	nodes := h.snapshot()
	metrics.SetBroadcastFanout(len(nodes))
	for _, n := range nodes {
		select {
		case n.out <- fr:
		default:
			if h.policy == PolicyKick {
				metrics.IncHubKick()
				n.Close()
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// pump is the hub's only toucher of the device. Each iteration drains all
// pending inbound frames, then all queued outbound frames, then idles
// briefly. A failed write is reported and skipped; one bad frame does not
// take the channel down.
func (h *Hub) pump() {
	defer h.wg.Done()
	defer h.logger.Info("hub_pump_end")
	for {
		select {
		case <-h.stop:
			return
		default:
		}
		for i := 0; i < maxRxBatch; i++ {
			var fr can.Frame
			err := h.dev.ReadFrame(&fr)
			if errors.Is(err, can.ErrWouldBlock) {
				break
			}
			if err != nil {
				select {
				case <-h.stop:
					return
				default:
				}
				metrics.IncError(metrics.ErrDeviceRead)
				h.logger.Warn("device_read_error", "error", err)
				break
			}
			metrics.IncDeviceRx()
			if fr.IsError() {
				metrics.IncErrorFrame()
			}
			h.broadcast(fr)
		}
	drain:
		for {
			select {
			case fr := <-h.tx:
				if err := h.dev.WriteFrame(fr); err != nil {
					metrics.IncError(metrics.ErrDeviceWrite)
					h.logger.Warn("device_write_error", "error", err, "can_id", fr.ID())
					continue
				}
				metrics.IncDeviceTx()
			default:
				break drain
			}
		}
		time.Sleep(h.idle)
	}
}

// tickPeriodic emulates the kernel broadcast manager for devices without
// one: it enqueues the periodic frame through the regular outbound path.
func (h *Hub) tickPeriodic() {
	defer h.wg.Done()
	t := time.NewTicker(h.periodicEvery)
	defer t.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-t.C:
			select {
			case h.tx <- h.periodicFrame:
			default:
				metrics.IncTxOverflow()
			}
		}
	}
}

// Close signals the pump, waits until it has fully exited, then releases
// the device. It is the primary teardown path and is idempotent; it never
// returns before the pump stops touching the device.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		close(h.stop)
		h.wg.Wait()
		for _, n := range h.snapshot() {
			h.remove(n)
		}
		if h.bcm != nil {
			_ = h.bcm.Close()
		}
		h.closeErr = h.dev.Close()
	})
	return h.closeErr
}

// Node is one logical participant on the bus: a broadcast receiver plus a
// handle into the shared outbound queue.
type Node struct {
	hub       *Hub
	out       chan can.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

// Frames yields every inbound frame broadcast since subscription.
func (n *Node) Frames() <-chan can.Frame { return n.out }

// Done is closed when the node is detached (by Close, a backpressure kick,
// or hub shutdown).
func (n *Node) Done() <-chan struct{} { return n.closed }

// Send enqueues one outbound frame. It never blocks: a full queue returns
// ErrTxOverflow immediately.
func (n *Node) Send(fr can.Frame) error {
	select {
	case <-n.closed:
		return ErrClosed
	default:
	}
	select {
	case <-n.hub.stop:
		return ErrClosed
	case n.hub.tx <- fr:
		return nil
	default:
		metrics.IncTxOverflow()
		return ErrTxOverflow
	}
}

// Close detaches the node from the hub (idempotent). The pump is never
// blocked by subscription changes.
func (n *Node) Close() { n.hub.remove(n) }

func (n *Node) markClosed() {
	n.closeOnce.Do(func() { close(n.closed) })
}

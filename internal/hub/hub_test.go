package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-canopen-hub/internal/can"
)

// fakeDev implements Dev with an in-memory rx queue and a recorded tx log.
type fakeDev struct {
	mu       sync.Mutex
	rx       []can.Frame
	tx       []can.Frame
	writeErr error
	closed   bool
}

func (d *fakeDev) push(fr can.Frame) {
	d.mu.Lock()
	d.rx = append(d.rx, fr)
	d.mu.Unlock()
}

func (d *fakeDev) ReadFrame(fr *can.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rx) == 0 {
		return can.ErrWouldBlock
	}
	*fr = d.rx[0]
	d.rx = d.rx[1:]
	return nil
}

func (d *fakeDev) WriteFrame(fr can.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	d.tx = append(d.tx, fr)
	return nil
}

func (d *fakeDev) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDev) written() []can.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]can.Frame, len(d.tx))
	copy(out, d.tx)
	return out
}

func (d *fakeDev) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func mustFrame(t testing.TB, id uint32, data []byte) can.Frame {
	t.Helper()
	fr, err := can.New(id, data, false, false)
	if err != nil {
		t.Fatal(err)
	}
	return fr
}

func waitFrame(t *testing.T, n *Node) can.Frame {
	t.Helper()
	select {
	case fr := <-n.Frames():
		return fr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return can.Frame{}
}

func TestHubBroadcastsToAllSubscribers(t *testing.T) {
	dev := &fakeDev{}
	h := New(dev, WithIdleInterval(100*time.Microsecond))
	defer h.Close()

	a := h.Subscribe()
	b := h.Subscribe()
	defer a.Close()
	defer b.Close()

	want := mustFrame(t, 0x181, []byte{1, 2, 3})
	dev.push(want)

	for _, n := range []*Node{a, b} {
		got := waitFrame(t, n)
		if got.ID() != want.ID() || got.Len() != want.Len() {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestHubLateSubscriberMissesEarlierFrames(t *testing.T) {
	dev := &fakeDev{}
	h := New(dev, WithIdleInterval(100*time.Microsecond))
	defer h.Close()

	early := h.Subscribe()
	defer early.Close()

	first := mustFrame(t, 0x201, []byte{0xAA})
	dev.push(first)
	if got := waitFrame(t, early); got.ID() != first.ID() {
		t.Fatalf("early subscriber got %v, want id 0x%X", got, first.ID())
	}

	late := h.Subscribe()
	defer late.Close()

	second := mustFrame(t, 0x202, []byte{0xBB})
	dev.push(second)
	if got := waitFrame(t, late); got.ID() != second.ID() {
		t.Fatalf("late subscriber got %v, want id 0x%X", got, second.ID())
	}
	select {
	case fr := <-late.Frames():
		t.Fatalf("late subscriber saw pre-subscription frame %v", fr)
	default:
	}
}

func TestHubSendReachesDevice(t *testing.T) {
	dev := &fakeDev{}
	h := New(dev, WithIdleInterval(100*time.Microsecond))
	defer h.Close()

	n := h.Subscribe()
	defer n.Close()

	out := mustFrame(t, 0x601, []byte{0x40, 0x00, 0x10, 0x00})
	if err := n.Send(out); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w := dev.written(); len(w) == 1 {
			if w[0].ID() != out.ID() {
				t.Fatalf("device saw id 0x%X, want 0x%X", w[0].ID(), out.ID())
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("frame never reached device")
}

func TestHubCloseJoinsPumpBeforeDevice(t *testing.T) {
	dev := &fakeDev{}
	h := New(dev, WithIdleInterval(100*time.Microsecond))

	n := h.Subscribe()
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !dev.isClosed() {
		t.Fatal("device not closed")
	}
	select {
	case <-n.Done():
	default:
		t.Fatal("node not detached on hub close")
	}
	if err := n.Send(can.Frame{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close: got %v, want ErrClosed", err)
	}
	// Idempotent.
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestHubWriteErrorDoesNotStopPump(t *testing.T) {
	dev := &fakeDev{writeErr: errors.New("tx fault")}
	h := New(dev, WithIdleInterval(100*time.Microsecond))
	defer h.Close()

	n := h.Subscribe()
	defer n.Close()

	if err := n.Send(mustFrame(t, 0x100, nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	// The failed write is skipped; inbound traffic keeps flowing.
	in := mustFrame(t, 0x181, []byte{7})
	dev.push(in)
	if got := waitFrame(t, n); got.ID() != in.ID() {
		t.Fatalf("got %v after write error, want id 0x%X", got, in.ID())
	}
}

func TestHubDropPolicyKeepsNodeAttached(t *testing.T) {
	dev := &fakeDev{}
	h := New(dev, WithIdleInterval(100*time.Microsecond), WithOutBufSize(1), WithPolicy(PolicyDrop))
	defer h.Close()

	n := h.Subscribe()
	defer n.Close()

	dev.push(mustFrame(t, 0x101, nil))
	dev.push(mustFrame(t, 0x102, nil))
	dev.push(mustFrame(t, 0x103, nil))

	// At least one frame arrives, overflow is dropped, node stays live.
	_ = waitFrame(t, n)
	time.Sleep(10 * time.Millisecond)
	select {
	case <-n.Done():
		t.Fatal("node detached under drop policy")
	default:
	}
	if h.Count() != 1 {
		t.Fatalf("count = %d, want 1", h.Count())
	}
}

func TestHubKickPolicyDetachesSlowNode(t *testing.T) {
	dev := &fakeDev{}
	h := New(dev, WithIdleInterval(100*time.Microsecond), WithOutBufSize(1), WithPolicy(PolicyKick))
	defer h.Close()

	n := h.Subscribe()

	for i := 0; i < 8; i++ {
		dev.push(mustFrame(t, 0x100+uint32(i), nil))
	}

	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow node never kicked")
	}
	if h.Count() != 0 {
		t.Fatalf("count = %d after kick, want 0", h.Count())
	}
}

func TestHubSoftwarePeriodicEnqueues(t *testing.T) {
	dev := &fakeDev{}
	tick := mustFrame(t, 0x080, nil)
	h := New(dev, WithIdleInterval(100*time.Microsecond), WithPeriodic(tick, 5*time.Millisecond))
	defer h.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, fr := range dev.written() {
			if fr.ID() == 0x080 {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("periodic frame never written")
}

package canopen

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-canopen-hub/internal/can"
	"github.com/kstaniek/go-canopen-hub/internal/hub"
)

func frame(t testing.TB, id uint32, data []byte) can.Frame {
	t.Helper()
	fr, err := can.New(id, data, false, false)
	if err != nil {
		t.Fatal(err)
	}
	return fr
}

func TestClassifySync(t *testing.T) {
	msg, err := Classify(frame(t, 0x080, nil))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if _, ok := msg.(Sync); !ok {
		t.Fatalf("got %T, want Sync", msg)
	}
}

func TestClassifyHeartbeat(t *testing.T) {
	cases := []struct {
		b    byte
		want NMTState
	}{
		{0x04, Stopped},
		{0x05, Operational},
		{0x7F, PreOperational},
		{0x00, Initializing},
		{0x33, Initializing}, // unknown value collapses, not an error
	}
	for _, tc := range cases {
		msg, err := Classify(frame(t, 0x705, []byte{tc.b}))
		if err != nil {
			t.Fatalf("byte 0x%02X: %v", tc.b, err)
		}
		sr, ok := msg.(StateReport)
		if !ok {
			t.Fatalf("byte 0x%02X: got %T, want StateReport", tc.b, msg)
		}
		if sr.Node != 5 || sr.State != tc.want {
			t.Fatalf("byte 0x%02X: got node=%d state=%v, want node=5 state=%v", tc.b, sr.Node, sr.State, tc.want)
		}
	}
}

func TestClassifyEmptyHeartbeatFails(t *testing.T) {
	if _, err := Classify(frame(t, 0x701, nil)); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("got %v, want ErrShortPayload", err)
	}
}

func TestClassifyUnknownID(t *testing.T) {
	_, err := Classify(frame(t, 0x999, nil))
	var unk *UnknownIDError
	if !errors.As(err, &unk) {
		t.Fatalf("got %v, want *UnknownIDError", err)
	}
	if unk.ID != 0x980 {
		t.Fatalf("got masked id 0x%03X, want 0x980", unk.ID)
	}
}

func TestClassifyFromDevicePDO(t *testing.T) {
	msg, err := Classify(frame(t, 0x281, []byte{0xDE, 0xAD}))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	pdo, ok := msg.(PDO)
	if !ok {
		t.Fatalf("got %T, want PDO", msg)
	}
	if pdo.Channel != 2 || pdo.Node != 1 || pdo.Dir != FromDevice || pdo.Len != 2 {
		t.Fatalf("got %+v", pdo)
	}
	if !bytes.Equal(pdo.Data[:pdo.Len], []byte{0xDE, 0xAD}) {
		t.Fatalf("payload %x", pdo.Data[:pdo.Len])
	}
}

// Serialization and classification are exact inverses for process data
// across the whole address space.
func TestPDORoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	for node := uint8(0); node <= MaxNodeID; node++ {
		for ch := uint8(1); ch <= 4; ch++ {
			fr, err := PDOCommand{Node: node, Channel: ch, Data: payload}.Frame()
			if err != nil {
				t.Fatalf("node=%d ch=%d: %v", node, ch, err)
			}
			msg, err := Classify(fr)
			if err != nil {
				t.Fatalf("node=%d ch=%d classify: %v", node, ch, err)
			}
			pdo, ok := msg.(PDO)
			if !ok {
				t.Fatalf("node=%d ch=%d: got %T", node, ch, msg)
			}
			if pdo.Node != node || pdo.Channel != ch || pdo.Dir != ToDevice {
				t.Fatalf("got %+v, want node=%d ch=%d to-device", pdo, node, ch)
			}
			if pdo.Len != uint8(len(payload)) || !bytes.Equal(pdo.Data[:pdo.Len], payload) {
				t.Fatalf("payload mismatch: %x", pdo.Data[:pdo.Len])
			}
		}
	}
}

func TestNMTCommandRoundTrip(t *testing.T) {
	codes := []NMTCode{GoToOperational, GoToStopped, GoToPreOperational, ResetNode, ResetCommunication}
	for _, code := range codes {
		fr, err := NMTCommand{Node: 0x23, Code: code}.Frame()
		if err != nil {
			t.Fatalf("%v: %v", code, err)
		}
		msg, err := Classify(fr)
		if err != nil {
			t.Fatalf("%v classify: %v", code, err)
		}
		req, ok := msg.(NMTRequest)
		if !ok {
			t.Fatalf("%v: got %T, want NMTRequest", code, msg)
		}
		if req.Node != 0x23 || req.Code != code {
			t.Fatalf("got %+v, want node=0x23 code=%v", req, code)
		}
	}
}

func TestSDOExpeditedRoundTrip(t *testing.T) {
	cmd := SDOCommand{
		Node:     0x11,
		CCS:      1, // initiate download
		Index:    0x1017,
		SubIndex: 0x02,
		Data:     []byte{0xE8, 0x03},
	}
	fr, err := cmd.Frame()
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if fr.ID() != 0x591 {
		t.Fatalf("id 0x%03X, want 0x591", fr.ID())
	}
	msg, err := Classify(fr)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	tr, ok := msg.(SDOTransfer)
	if !ok {
		t.Fatalf("got %T, want SDOTransfer", msg)
	}
	if tr.Node != 0x11 || tr.Index != 0x1017 || tr.SubIndex != 0x02 {
		t.Fatalf("address mismatch: %+v", tr)
	}
	if tr.Control.CCS != 1 || !tr.Control.Expedited || !tr.Control.SizeIndicated {
		t.Fatalf("control mismatch: %+v", tr.Control)
	}
	if tr.Len != 2 || !bytes.Equal(tr.Data[:tr.Len], []byte{0xE8, 0x03}) {
		t.Fatalf("data mismatch: len=%d %x", tr.Len, tr.Data)
	}
}

func TestClassifySegmentedSDORejected(t *testing.T) {
	// Control byte with expedited bit clear.
	fr := frame(t, 0x581, []byte{0x00, 0x17, 0x10, 0x00, 0, 0, 0, 0})
	if _, err := Classify(fr); !errors.Is(err, ErrSDOSegmentedUnsupported) {
		t.Fatalf("got %v, want ErrSDOSegmentedUnsupported", err)
	}
}

func TestClassifyTruncatedSDORejected(t *testing.T) {
	if _, err := Classify(frame(t, 0x581, []byte{0x43})); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("got %v, want ErrShortPayload", err)
	}
}

func TestCommandValidation(t *testing.T) {
	if _, err := (PDOCommand{Node: 0x80, Channel: 1}).Frame(); !errors.Is(err, ErrNodeOutOfRange) {
		t.Fatalf("pdo node: %v", err)
	}
	if _, err := (PDOCommand{Node: 1, Channel: 5}).Frame(); !errors.Is(err, ErrBadChannel) {
		t.Fatalf("pdo channel: %v", err)
	}
	if _, err := (NMTCommand{Node: 1, Code: 0x42}).Frame(); !errors.Is(err, ErrBadNMTCode) {
		t.Fatalf("nmt code: %v", err)
	}
	if _, err := (SDOCommand{Node: 1, Data: []byte{1, 2, 3, 4, 5}}).Frame(); !errors.Is(err, ErrTooMuchSDOData) {
		t.Fatalf("sdo data: %v", err)
	}
}

// loopDev echoes nothing; the test pushes inbound frames directly.
type loopDev struct {
	mu sync.Mutex
	rx []can.Frame
	tx []can.Frame
}

func (d *loopDev) push(fr can.Frame) {
	d.mu.Lock()
	d.rx = append(d.rx, fr)
	d.mu.Unlock()
}

func (d *loopDev) ReadFrame(fr *can.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rx) == 0 {
		return can.ErrWouldBlock
	}
	*fr = d.rx[0]
	d.rx = d.rx[1:]
	return nil
}

func (d *loopDev) WriteFrame(fr can.Frame) error {
	d.mu.Lock()
	d.tx = append(d.tx, fr)
	d.mu.Unlock()
	return nil
}

func (d *loopDev) Close() error { return nil }

func (d *loopDev) lastWritten() (can.Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tx) == 0 {
		return can.Frame{}, false
	}
	return d.tx[len(d.tx)-1], true
}

func TestNodeOverHub(t *testing.T) {
	dev := &loopDev{}
	h := hub.New(dev, hub.WithIdleInterval(100*time.Microsecond))
	defer h.Close()

	n := Attach(h)
	defer n.Close()

	dev.push(frame(t, 0x705, []byte{0x05}))
	msg, err := n.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sr, ok := msg.(StateReport)
	if !ok || sr.State != Operational {
		t.Fatalf("got %T %+v, want operational StateReport", msg, msg)
	}

	if err := n.Send(NMTCommand{Node: 5, Code: GoToOperational}); err != nil {
		t.Fatalf("send: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fr, ok := dev.lastWritten(); ok {
			if fr.ID() != 0x705 {
				t.Fatalf("device saw id 0x%03X, want 0x705", fr.ID())
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("command never reached device")
}

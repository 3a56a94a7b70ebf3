package canopen

import (
	"errors"

	"github.com/kstaniek/go-canopen-hub/internal/can"
	"github.com/kstaniek/go-canopen-hub/internal/hub"
	"github.com/kstaniek/go-canopen-hub/internal/metrics"
)

// ErrDetached is returned by Node operations after the underlying hub
// subscription is gone.
var ErrDetached = errors.New("canopen: node detached from bus")

// Node is a typed view of one hub subscription: frames in, messages out,
// commands in the other direction. Many nodes may share one hub.
type Node struct {
	sub *hub.Node
}

// Attach subscribes a new typed node to the bus.
func Attach(h *hub.Hub) *Node {
	return &Node{sub: h.Subscribe()}
}

// ReadMessage blocks until the next classifiable frame arrives and returns
// its decoded form. Frames that fail classification are returned as
// errors; the subscription stays usable afterwards.
func (n *Node) ReadMessage() (Message, error) {
	select {
	case fr := <-n.sub.Frames():
		msg, err := Classify(fr)
		if err != nil {
			metrics.IncClassifyError()
			return nil, err
		}
		return msg, nil
	case <-n.sub.Done():
		return nil, ErrDetached
	}
}

// Send serializes a command and hands it to the bus. Enqueue never blocks;
// a full outbound queue surfaces as hub.ErrTxOverflow.
func (n *Node) Send(c Command) error {
	fr, err := c.Frame()
	if err != nil {
		return err
	}
	return n.sub.Send(fr)
}

// SendFrame bypasses the protocol layer for callers holding a raw frame.
func (n *Node) SendFrame(fr can.Frame) error {
	return n.sub.Send(fr)
}

// Done is closed when the subscription is detached.
func (n *Node) Done() <-chan struct{} { return n.sub.Done() }

// Close detaches the node from the bus.
func (n *Node) Close() { n.sub.Close() }

package server

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-canopen-hub/internal/can"
	"github.com/kstaniek/go-canopen-hub/internal/hub"
	"github.com/kstaniek/go-canopen-hub/internal/metrics"
)

// startWriter launches the goroutine pushing bus frames to a single client
// connection, batched and flushed on a short ticker.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, node *hub.Node, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.dropClient(node)
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]can.Frame, 0, s.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n := len(batch)
			_, err := s.Codec.EncodeTo(conn, batch)
			batch = batch[:0]
			if err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return wrap
			}
			metrics.AddTCPTx(n)
			return nil
		}
		for {
			select {
			case fr := <-node.Frames():
				batch = append(batch, fr)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-node.Done():
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}

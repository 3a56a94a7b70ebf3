package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-canopen-hub/internal/can"
	"github.com/kstaniek/go-canopen-hub/internal/hub"
	"github.com/kstaniek/go-canopen-hub/internal/metrics"
)

// startReader launches the goroutine feeding one client's frames onto the
// bus. An overflowing bus queue drops the frame and keeps the connection;
// a read error or EOF ends it.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, node *hub.Node, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			count, err := s.Codec.DecodeN(conn, 16, func(fr can.Frame) {
				if s.frameFilter != nil && !s.frameFilter(&fr) {
					return
				}
				metrics.IncTCPRx()
				if err := node.Send(fr); err != nil {
					if errors.Is(err, hub.ErrTxOverflow) {
						s.totalBusOverflow.Add(1)
						logger.Debug("bus_overflow_drop", "can_id", fmt.Sprintf("0x%X", fr.ID()), "len", fr.Len())
						return
					}
					s.totalBusErrors.Add(1)
					wrap := fmt.Errorf("%w: %v", ErrBusTx, err)
					s.setError(wrap)
					logger.Error("bus_tx_error", "error", wrap, "can_id", fmt.Sprintf("0x%X", fr.ID()))
				}
			})
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			case <-node.Done():
				return
			default:
			}
		}
	}()
}

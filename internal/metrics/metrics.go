package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-canopen-hub/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	DeviceRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_rx_frames_total",
		Help: "Total CAN frames read from the physical device.",
	})
	DeviceTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_tx_frames_total",
		Help: "Total CAN frames written to the physical device.",
	})
	ErrorFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_error_frames_total",
		Help: "Total error frames observed on the bus.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "Total CAN frames received from TCP subscribers.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "Total CAN frames sent to TCP subscribers.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total CAN frames dropped by the hub due to slow subscribers.",
	})
	HubKickedNodes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_nodes_total",
		Help: "Total subscribers detached due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total connection attempts rejected (e.g., max-clients).",
	})
	HubTxOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_tx_overflow_total",
		Help: "Total outbound frames dropped because the hub TX queue was full.",
	})
	HubActiveNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_nodes",
		Help: "Current number of subscribed nodes.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of nodes targeted in the most recent broadcast.",
	})
	ClassifyErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canopen_classify_errors_total",
		Help: "Total frames the CANopen layer failed to classify.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (invalid length, truncated).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrDeviceRead  = "device_read"
	ErrDeviceWrite = "device_write"
	ErrTxOverflow  = "tx_overflow"
	ErrTCPRead     = "tcp_read"
	ErrTCPWrite    = "tcp_write"
	ErrSlcanRead   = "slcan_read"
	ErrSlcanWrite  = "slcan_write"
	ErrSlcanOver   = "slcan_tx_overflow"
	ErrBCMSetup    = "bcm_setup"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localDeviceRx   uint64
	localDeviceTx   uint64
	localErrFrames  uint64
	localTCPRx      uint64
	localTCPTx      uint64
	localHubDrop    uint64
	localHubKick    uint64
	localHubReject  uint64
	localTxOverflow uint64
	localErrors     uint64
	localNodes      uint64
	localFanout     uint64
	localClassify   uint64
	localMalformed  uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	DeviceRx    uint64
	DeviceTx    uint64
	ErrorFrames uint64
	TCPRx       uint64
	TCPTx       uint64
	HubDrops    uint64
	HubKicks    uint64
	HubRejects  uint64
	TxOverflow  uint64
	Errors      uint64 // sum across error labels
	Nodes       uint64
	Fanout      uint64
	Classify    uint64
	Malformed   uint64
}

func Snap() Snapshot {
	return Snapshot{
		DeviceRx:    atomic.LoadUint64(&localDeviceRx),
		DeviceTx:    atomic.LoadUint64(&localDeviceTx),
		ErrorFrames: atomic.LoadUint64(&localErrFrames),
		TCPRx:       atomic.LoadUint64(&localTCPRx),
		TCPTx:       atomic.LoadUint64(&localTCPTx),
		HubDrops:    atomic.LoadUint64(&localHubDrop),
		HubKicks:    atomic.LoadUint64(&localHubKick),
		HubRejects:  atomic.LoadUint64(&localHubReject),
		TxOverflow:  atomic.LoadUint64(&localTxOverflow),
		Errors:      atomic.LoadUint64(&localErrors),
		Nodes:       atomic.LoadUint64(&localNodes),
		Fanout:      atomic.LoadUint64(&localFanout),
		Classify:    atomic.LoadUint64(&localClassify),
		Malformed:   atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncDeviceRx() {
	DeviceRxFrames.Inc()
	atomic.AddUint64(&localDeviceRx, 1)
}

func IncDeviceTx() {
	DeviceTxFrames.Inc()
	atomic.AddUint64(&localDeviceTx, 1)
}

func IncErrorFrame() {
	ErrorFrames.Inc()
	atomic.AddUint64(&localErrFrames, 1)
}

func IncTCPRx() {
	TCPRxFrames.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedNodes.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func IncTxOverflow() {
	HubTxOverflow.Inc()
	atomic.AddUint64(&localTxOverflow, 1)
}

func SetHubNodes(n int) {
	HubActiveNodes.Set(float64(n))
	atomic.StoreUint64(&localNodes, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncClassifyError() {
	ClassifyErrors.Inc()
	atomic.AddUint64(&localClassify, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrDeviceRead, ErrDeviceWrite, ErrTxOverflow,
		ErrTCPRead, ErrTCPWrite,
		ErrSlcanRead, ErrSlcanWrite, ErrSlcanOver,
		ErrBCMSetup,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

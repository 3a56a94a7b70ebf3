package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	backend         string
	canIf           string
	serialDev       string
	baud            int
	bitrate         int
	listenAddr      string
	syncPeriod      time.Duration
	hubBuffer       int
	hubPolicy       string
	txQueue         int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	maxClients      int
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	backend := flag.String("backend", "socketcan", "CAN backend: socketcan|slcan")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	serialDev := flag.String("serial", "/dev/ttyACM0", "Serial device path (when --backend=slcan)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	bitrate := flag.Int("bitrate", 500000, "CAN bus bitrate programmed into slcan adapters")
	listen := flag.String("listen", ":20000", "TCP listen address")
	syncPeriod := flag.Duration("sync-period", 0, "Periodic sync transmission interval (0 disables)")
	hubBuf := flag.Int("hub-buffer", 512, "Per-client hub buffer (frames)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	txQueue := flag.Int("tx-queue", 1024, "Shared outbound queue capacity (frames)")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default canopen-hub-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.bitrate = *bitrate
	cfg.listenAddr = *listen
	cfg.syncPeriod = *syncPeriod
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.txQueue = *txQueue
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxClients = *maxClients
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "socketcan", "slcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.txQueue <= 0 {
		return fmt.Errorf("tx-queue must be > 0 (got %d)", c.txQueue)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.bitrate <= 0 {
		return fmt.Errorf("bitrate must be > 0 (got %d)", c.bitrate)
	}
	if c.syncPeriod < 0 {
		return fmt.Errorf("sync-period must be >= 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps CANOPEN_HUB_* environment variables to config
// fields unless a corresponding flag was explicitly set. Empty values are
// ignored; durations accept Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["backend"]; !ok {
		if v, ok := get("CANOPEN_HUB_BACKEND"); ok && v != "" {
			c.backend = v
		}
	}
	if _, ok := set["can-if"]; !ok {
		if v, ok := get("CANOPEN_HUB_IF"); ok && v != "" {
			c.canIf = v
		}
	}
	if _, ok := set["serial"]; !ok {
		if v, ok := get("CANOPEN_HUB_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("CANOPEN_HUB_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANOPEN_HUB_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["bitrate"]; !ok {
		if v, ok := get("CANOPEN_HUB_BITRATE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.bitrate = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANOPEN_HUB_BITRATE: %w", err)
			}
		}
	}
	if _, ok := set["listen"]; !ok {
		if v, ok := get("CANOPEN_HUB_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["sync-period"]; !ok {
		if v, ok := get("CANOPEN_HUB_SYNC_PERIOD"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.syncPeriod = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANOPEN_HUB_SYNC_PERIOD: %w", err)
			}
		}
	}
	if _, ok := set["hub-buffer"]; !ok {
		if v, ok := get("CANOPEN_HUB_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.hubBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANOPEN_HUB_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["hub-policy"]; !ok {
		if v, ok := get("CANOPEN_HUB_POLICY"); ok && v != "" {
			c.hubPolicy = v
		}
	}
	if _, ok := set["tx-queue"]; !ok {
		if v, ok := get("CANOPEN_HUB_TX_QUEUE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.txQueue = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANOPEN_HUB_TX_QUEUE: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("CANOPEN_HUB_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("CANOPEN_HUB_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CANOPEN_HUB_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("CANOPEN_HUB_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANOPEN_HUB_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("CANOPEN_HUB_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANOPEN_HUB_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["client-read-timeout"]; !ok {
		if v, ok := get("CANOPEN_HUB_CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.clientReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANOPEN_HUB_CLIENT_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CANOPEN_HUB_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("CANOPEN_HUB_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}

package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		backend:      "socketcan",
		canIf:        "can0",
		serialDev:    "/dev/null",
		baud:         115200,
		bitrate:      500000,
		listenAddr:   ":20000",
		syncPeriod:   0,
		hubBuffer:    8,
		hubPolicy:    "drop",
		txQueue:      64,
		logFormat:    "text",
		logLevel:     "info",
		maxClients:   0,
		clientReadTO: time.Second,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badTxQueue", func(c *appConfig) { c.txQueue = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badBitrate", func(c *appConfig) { c.bitrate = 0 }},
		{"badSyncPeriod", func(c *appConfig) { c.syncPeriod = -time.Second }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
	}
	for _, tc := range tests {
		base := baseConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

package service

import (
	"log/slog"
	"path/filepath"
	"time"
)

type Config struct {
	// DataDir holds the outbox and watermark stores.
	DataDir string
	// RingSize bounds events recorded between flushes. Power of two.
	RingSize uint64
	// MaxPools bounds how many pools can be registered.
	MaxPools int
	// FlushInterval is how often Run moves events into the outbox.
	FlushInterval time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = "./ballast_data"
	}
	if c.RingSize == 0 {
		c.RingSize = 1 << 12
	}
	if c.MaxPools <= 0 {
		c.MaxPools = 64
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (c Config) OutboxDir() string    { return filepath.Join(c.DataDir, "outbox") }
func (c Config) WatermarkDir() string { return filepath.Join(c.DataDir, "watermark") }

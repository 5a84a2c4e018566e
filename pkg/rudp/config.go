package rudp

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds the tunables of spec.md §6, loadable from the environment the
// way pkg/client/envconfig.go and cmd/traffic/cmd/manager/envconfig.go load
// theirs.
type Config struct {
	// Chunk is the maximum payload bytes per DATA packet.
	Chunk int `env:"RUDP_CHUNK,default=1024"`

	// Window is the number of DATA packets the sender keeps outstanding.
	Window int `env:"RUDP_WINDOW,default=10"`

	// AckTimeout is the retransmit interval for both the data window and the FIN.
	AckTimeout time.Duration `env:"RUDP_ACK_TIMEOUT,default=200ms"`

	// GracePeriod is the post-FIN-ACK dwell before the initiator tears down.
	GracePeriod time.Duration `env:"RUDP_GRACE_PERIOD,default=2s"`

	// MaxFinRetries bounds the FIN stop-and-wait loop (spec.md §4.4, §7's
	// permitted "peer unreachable" extension). Zero means unbounded.
	MaxFinRetries int `env:"RUDP_MAX_FIN_RETRIES,default=30"`

	// ReadPollInterval is the nap between polls of the receive buffer in Read.
	ReadPollInterval time.Duration `env:"RUDP_READ_POLL_INTERVAL,default=10ms"`
}

// DefaultConfig returns the reference tunables of spec.md §4.2/§6 without
// touching the environment.
func DefaultConfig() Config {
	return Config{
		Chunk:            1024,
		Window:           10,
		AckTimeout:       200 * time.Millisecond,
		GracePeriod:      2 * time.Second,
		MaxFinRetries:    30,
		ReadPollInterval: 10 * time.Millisecond,
	}
}

// LoadConfig overlays environment variables onto DefaultConfig.
func LoadConfig(ctx context.Context) (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Chunk <= 0 {
		c.Chunk = d.Chunk
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.ReadPollInterval <= 0 {
		c.ReadPollInterval = d.ReadPollInterval
	}
	return c
}

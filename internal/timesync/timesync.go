// Package timesync provides the SNTP gate some activation flows require:
// agents whose handshakes involve signed or expiring credentials refuse to
// activate until wall time is trustworthy.
package timesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"github.com/quieloop/sonus/pkg/Logger"
)

// Config selects the NTP server and the query budget.
type Config struct {
	Server  string        `mapstructure:"server"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig points at the public pool.
func DefaultConfig() Config {
	return Config{Server: "pool.ntp.org", Timeout: 5 * time.Second}
}

// Syncer is a one-shot SNTP client remembering the measured offset.
type Syncer struct {
	cfg    Config
	logger *Logger.Logger

	mu     sync.RWMutex
	offset time.Duration
	synced bool
}

func New(cfg Config, logger *Logger.Logger) *Syncer {
	if cfg.Server == "" {
		cfg.Server = DefaultConfig().Server
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Syncer{cfg: cfg, logger: logger}
}

// Sync queries the configured server and records the clock offset.
// Blocking; respects ctx cancellation via the query timeout.
func (s *Syncer) Sync(ctx context.Context) error {
	timeout := s.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	resp, err := ntp.QueryWithOptions(s.cfg.Server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("ntp query %s: %w", s.cfg.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("ntp response invalid: %w", err)
	}

	s.mu.Lock()
	s.offset = resp.ClockOffset
	s.synced = true
	s.mu.Unlock()

	s.logger.Infof("time synced against %s, offset %s", s.cfg.Server, resp.ClockOffset)
	return nil
}

// Synced is the non-blocking query the activating path consults.
func (s *Syncer) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// Now returns wall time corrected by the measured offset.
func (s *Syncer) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Now().Add(s.offset)
}

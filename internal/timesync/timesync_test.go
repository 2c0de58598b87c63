package timesync

import (
	"context"
	"testing"
	"time"

	"github.com/quieloop/sonus/pkg/Logger"
)

func TestConfigDefaultsFilled(t *testing.T) {
	s := New(Config{}, Logger.Nop())
	if s.cfg.Server != DefaultConfig().Server {
		t.Errorf("server = %q, want %q", s.cfg.Server, DefaultConfig().Server)
	}
	if s.cfg.Timeout != DefaultConfig().Timeout {
		t.Errorf("timeout = %s, want %s", s.cfg.Timeout, DefaultConfig().Timeout)
	}
}

func TestNotSyncedInitially(t *testing.T) {
	s := New(DefaultConfig(), Logger.Nop())
	if s.Synced() {
		t.Error("fresh syncer reports synced")
	}
}

func TestSyncHonorsExpiredContext(t *testing.T) {
	s := New(DefaultConfig(), Logger.Nop())
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	if err := s.Sync(ctx); err == nil {
		t.Error("sync succeeded against an expired deadline")
	}
	if s.Synced() {
		t.Error("syncer reports synced after failed query")
	}
}

func TestNowWithoutSyncMatchesWallClock(t *testing.T) {
	s := New(DefaultConfig(), Logger.Nop())
	drift := s.Now().Sub(time.Now())
	if drift < -time.Second || drift > time.Second {
		t.Errorf("unsynced Now drifted by %s", drift)
	}
}

package agent

import (
	"strings"
	"sync/atomic"
)

// StateFlagBit names one bit of the lifecycle flag word.
type StateFlagBit uint32

const (
	FlagTimeSyncing StateFlagBit = 1 << iota
	FlagReady
	FlagActivating
	FlagActivated
	FlagStarting
	FlagStopping
	FlagStarted
	FlagSleeping
	FlagWakingUp
	FlagSlept
	FlagError
)

// transientFlags are mutually exclusive: only one action runs at a time.
const transientFlags = FlagActivating | FlagStarting | FlagStopping | FlagSleeping | FlagWakingUp

var flagNames = []struct {
	bit  StateFlagBit
	name string
}{
	{FlagTimeSyncing, "time_syncing"},
	{FlagReady, "ready"},
	{FlagActivating, "activating"},
	{FlagActivated, "activated"},
	{FlagStarting, "starting"},
	{FlagStopping, "stopping"},
	{FlagStarted, "started"},
	{FlagSleeping, "sleeping"},
	{FlagWakingUp, "waking_up"},
	{FlagSlept, "slept"},
	{FlagError, "error"},
}

// StateFlags is a lifecycle flag word readable from any goroutine. Audio
// I/O callbacks consult it concurrently with the action execution path, so
// it lives in a single atomic word instead of a plain bitset.
type StateFlags struct {
	bits atomic.Uint32
}

func (f *StateFlags) Set(bits StateFlagBit) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, old|uint32(bits)) {
			return
		}
	}
}

func (f *StateFlags) Clear(bits StateFlagBit) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, old&^uint32(bits)) {
			return
		}
	}
}

func (f *StateFlags) Has(bits StateFlagBit) bool {
	return f.bits.Load()&uint32(bits) != 0
}

// Snapshot returns the current flag word.
func (f *StateFlags) Snapshot() StateFlagBit {
	return StateFlagBit(f.bits.Load())
}

// Reset clears every bit, including the latched error bit.
func (f *StateFlags) Reset() {
	f.bits.Store(0)
}

// Names lists the set bits, for logging and status endpoints.
func (f *StateFlags) Names() []string {
	snap := f.Snapshot()
	out := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if snap&fn.bit != 0 {
			out = append(out, fn.name)
		}
	}
	return out
}

func (f *StateFlags) String() string {
	return strings.Join(f.Names(), "|")
}

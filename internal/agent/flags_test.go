package agent

import (
	"sync"
	"testing"
)

func TestFlagsSetClearHas(t *testing.T) {
	var f StateFlags

	f.Set(FlagReady | FlagActivated)
	if !f.Has(FlagReady) || !f.Has(FlagActivated) {
		t.Errorf("flags = %s, want ready|activated", &f)
	}

	f.Clear(FlagActivated)
	if f.Has(FlagActivated) {
		t.Error("activated still set after clear")
	}
	if !f.Has(FlagReady) {
		t.Error("clear touched an unrelated bit")
	}

	f.Reset()
	if f.Snapshot() != 0 {
		t.Errorf("flags after reset = %s", &f)
	}
}

func TestFlagNames(t *testing.T) {
	var f StateFlags
	f.Set(FlagStarted | FlagError)

	got := f.String()
	if got != "started|error" {
		t.Errorf("String() = %q, want %q", got, "started|error")
	}
	if len(f.Names()) != 2 {
		t.Errorf("Names() = %v, want two entries", f.Names())
	}
}

func TestFlagsConcurrentUpdates(t *testing.T) {
	var f StateFlags
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				f.Set(FlagStarted)
				f.Clear(FlagStarted)
				f.Set(FlagReady)
			}
		}()
	}
	wg.Wait()

	if !f.Has(FlagReady) {
		t.Error("ready lost under concurrent updates")
	}
}

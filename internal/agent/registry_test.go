package agent

import (
	"testing"

	"github.com/quieloop/sonus/pkg/Logger"
	"github.com/quieloop/sonus/pkg/audio"
)

func TestRegistryRegisterAndCreate(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register("stub", func(p *audio.Pipeline, l *Logger.Logger) (Agent, error) {
		return newStubAgent(), nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ag, err := reg.Create("stub", audio.NewPipeline(1024, Logger.Nop()), Logger.Nop())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ag.Attributes().Name != "stub" {
		t.Errorf("created agent %q, want stub", ag.Attributes().Name)
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	f := func(p *audio.Pipeline, l *Logger.Logger) (Agent, error) { return newStubAgent(), nil }

	if err := reg.Register("dup", f); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := reg.Register("dup", f); err == nil {
		t.Error("duplicate registration accepted")
	}
}

func TestRegistryUnknownAgent(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Create("ghost", audio.NewPipeline(1024, Logger.Nop()), Logger.Nop()); err == nil {
		t.Error("unknown agent created")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	f := func(p *audio.Pipeline, l *Logger.Logger) (Agent, error) { return newStubAgent(), nil }
	for _, n := range []string{"zulu", "alpha", "mike"} {
		if err := reg.Register(n, f); err != nil {
			t.Fatalf("Register %s: %v", n, err)
		}
	}

	names := reg.Names()
	want := []string{"alpha", "mike", "zulu"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

package diagnosis

import (
	"testing"

	"github.com/hooop/vex/internal/owner"
)

func TestFromRootCause(t *testing.T) {
	path, _ := owner.ParseAccessPath("t")
	cause := owner.RootCause{
		File: "leak.c", Line: 3,
		Kind:             owner.MissingFree,
		LastRootsAtLeak:  []owner.AccessPath{path},
		WitnessEventKind: "ScopeExit",
	}

	d := FromRootCause(1, 128, "leak.c", cause)
	if d.Site != "leak.c:3" {
		t.Fatalf("unexpected site: %s", d.Site)
	}
	if d.Severity != SeverityError || d.Inconclusive {
		t.Fatalf("unexpected severity/inconclusive: %+v", d)
	}
	if len(d.RootsAtLeak) != 1 || d.RootsAtLeak[0] != "t" {
		t.Fatalf("unexpected roots-at-leak: %+v", d.RootsAtLeak)
	}
}

func TestFromInconclusive(t *testing.T) {
	d := FromInconclusive(2, 64, "NoDebugInfo")
	if !d.Inconclusive || d.InconclusiveWhy != "NoDebugInfo" {
		t.Fatalf("unexpected diagnosis: %+v", d)
	}
	if d.Severity != SeverityWarning {
		t.Fatalf("expected warning severity, got %s", d.Severity)
	}
}

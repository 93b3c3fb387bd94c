package owner

import (
	"reflect"
	"testing"

	"github.com/hooop/vex/internal/report"
	"github.com/hooop/vex/internal/trace"
)

func recordAt(file string, line int) report.LeakRecord {
	return report.LeakRecord{
		LossRecordIndex: 1,
		LossRecordTotal: 1,
		CategoryHint:    report.Definitely,
		AllocStack:      []report.Frame{{Function: "malloc", File: file, Line: line}},
	}
}

// scenario 1: scope leak.
//
//	void init(void){ char *t = malloc(128); strcpy(t,"x"); }
//	int main(void){ init(); return 0; }
func TestScopeLeak(t *testing.T) {
	const file = "leak.c"
	tr := trace.ExecTrace{Events: []trace.Event{
		trace.EnterEvent(trace.Enter{Function: "malloc", File: file, Line: 1, AllocAddr: 0x1000}),
		trace.ReturnEvent(trace.Return{Function: "malloc", Line: 1, ReturnHolder: "t"}),
		trace.EnterEvent(trace.Enter{
			Function: "strcpy", File: file, Line: 2, Opaque: true,
			ArgBindings: []trace.ArgBinding{{Param: "dest", Expr: "t"}, {Param: "src", Expr: `"x"`}},
			CallerFile:  file, CallerLine: 2,
		}),
		trace.ReturnEvent(trace.Return{Function: "strcpy", Line: 2}),
		trace.ScopeExitEvent(trace.ScopeExit{File: file, Line: 3, BindingsDying: []string{"t"}}),
	}}

	cause, err := New().Run(recordAt(file, 1), tr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cause.Kind != MissingFree || cause.Line != 3 || cause.WitnessEventKind != "ScopeExit" {
		t.Fatalf("unexpected cause: %+v", cause)
	}
	if len(cause.LastRootsAtLeak) != 1 || cause.LastRootsAtLeak[0].String() != "t" {
		t.Fatalf("unexpected roots-at-leak: %+v", cause.LastRootsAtLeak)
	}
}

// scenario 2: pointer reuse.
//
//	int main(void){ char *p = malloc(32); strcpy(p,"a");
//	                p = malloc(64); strcpy(p,"b"); free(p); return 0; }
func TestPointerReuse(t *testing.T) {
	const file = "leak.c"
	tr := trace.ExecTrace{Events: []trace.Event{
		trace.EnterEvent(trace.Enter{Function: "malloc", File: file, Line: 1, AllocAddr: 0x1000}),
		trace.ReturnEvent(trace.Return{Function: "malloc", Line: 1, ReturnHolder: "p"}),
		trace.EnterEvent(trace.Enter{
			Function: "strcpy", File: file, Line: 1, Opaque: true,
			ArgBindings: []trace.ArgBinding{{Param: "dest", Expr: "p"}, {Param: "src", Expr: `"a"`}},
			CallerFile:  file, CallerLine: 1,
		}),
		trace.ReturnEvent(trace.Return{Function: "strcpy", Line: 1}),
		trace.EnterEvent(trace.Enter{Function: "malloc", File: file, Line: 2, AllocAddr: 0x2000}),
		trace.ReturnEvent(trace.Return{Function: "malloc", Line: 2, ReturnHolder: "p"}),
		trace.EnterEvent(trace.Enter{
			Function: "strcpy", File: file, Line: 2, Opaque: true,
			ArgBindings: []trace.ArgBinding{{Param: "dest", Expr: "p"}, {Param: "src", Expr: `"b"`}},
			CallerFile:  file, CallerLine: 2,
		}),
		trace.ReturnEvent(trace.Return{Function: "strcpy", Line: 2}),
		trace.FreeEvent(trace.Free{File: file, Line: 2, ArgumentExpr: "p"}),
	}}

	cause, err := New().Run(recordAt(file, 1), tr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cause.Kind != PathLossByReassignment || cause.Line != 2 || cause.WitnessEventKind != "Assign" {
		t.Fatalf("unexpected cause: %+v", cause)
	}
	if len(cause.LastRootsAtLeak) != 1 || cause.LastRootsAtLeak[0].String() != "p" {
		t.Fatalf("unexpected roots-at-leak: %+v", cause.LastRootsAtLeak)
	}
}

// scenario 3: container freed first.
//
//	typedef struct{ char *k; char *v; } Pair;
//	Pair *mk(const char*a,const char*b){ Pair *p=malloc(sizeof*p);
//	  p->k=malloc(strlen(a)+1); strcpy(p->k,a);
//	  p->v=malloc(strlen(b)+1); strcpy(p->v,b); return p; }
//	int main(void){ Pair *q=mk("n","a"); free(q->k); free(q); return 0; }
func TestContainerFreedFirst(t *testing.T) {
	const file = "leak.c"
	tr := trace.ExecTrace{Events: []trace.Event{
		trace.EnterEvent(trace.Enter{Function: "malloc", File: file, Line: 4, AllocAddr: 0x2000}),
		trace.ReturnEvent(trace.Return{Function: "malloc", Line: 4, ReturnHolder: "p->v"}),
		trace.EnterEvent(trace.Enter{
			Function: "strcpy", File: file, Line: 4, Opaque: true,
			ArgBindings: []trace.ArgBinding{{Param: "dest", Expr: "p->v"}, {Param: "src", Expr: "b"}},
			CallerFile:  file, CallerLine: 4,
		}),
		trace.ReturnEvent(trace.Return{Function: "strcpy", Line: 4}),
		trace.ReturnEvent(trace.Return{Function: "mk", Line: 5, ReturnExpr: "p", ReturnHolder: "q"}),
		trace.FreeEvent(trace.Free{File: file, Line: 6, ArgumentExpr: "q->k"}),
		trace.FreeEvent(trace.Free{File: file, Line: 6, ArgumentExpr: "q"}),
	}}

	cause, err := New().Run(recordAt(file, 4), tr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cause.Kind != ContainerFreedFirst || cause.Line != 6 || cause.WitnessEventKind != "Free" {
		t.Fatalf("unexpected cause: %+v", cause)
	}
	if len(cause.LastRootsAtLeak) != 1 || cause.LastRootsAtLeak[0].String() != "q->v" {
		t.Fatalf("unexpected roots-at-leak: %+v", cause.LastRootsAtLeak)
	}
}

// scenario 4: array partial cleanup (off-by-one). Five strings allocated
// into arr[0..4], only arr[0..3] freed in a cleanup() loop.
func TestArrayPartialCleanup(t *testing.T) {
	const file = "leak.c"
	tr := trace.ExecTrace{Events: []trace.Event{
		trace.EnterEvent(trace.Enter{Function: "malloc", File: file, Line: 2, AllocAddr: 0x5000}),
		trace.ReturnEvent(trace.Return{Function: "malloc", Line: 2, ReturnHolder: "arr[4]"}),
		trace.ScopeExitEvent(trace.ScopeExit{File: file, Line: 10, BindingsDying: []string{"arr"}}),
	}}

	cause, err := New().Run(recordAt(file, 2), tr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cause.Kind != MissingFree || cause.Line != 10 {
		t.Fatalf("unexpected cause: %+v", cause)
	}
	if len(cause.LastRootsAtLeak) != 1 || cause.LastRootsAtLeak[0].String() != "arr[4]" {
		t.Fatalf("unexpected roots-at-leak: %+v", cause.LastRootsAtLeak)
	}
}

// scenario 5: conditional not taken.
//
//	char *buf=create_buffer(64); if(should_free) free(buf);
//
// called with should_free=0: the tracer only ever observes the branch
// not taken, so no Free event appears in the trace at all.
func TestConditionalNotTaken(t *testing.T) {
	const file = "leak.c"
	tr := trace.ExecTrace{Events: []trace.Event{
		trace.EnterEvent(trace.Enter{Function: "malloc", File: file, Line: 1, AllocAddr: 0x9000}),
		trace.ReturnEvent(trace.Return{Function: "malloc", Line: 1, ReturnHolder: "buf"}),
		trace.CondEvent(trace.Cond{File: file, Line: 2, Taken: false, Text: "if(should_free)"}),
		trace.ScopeExitEvent(trace.ScopeExit{File: file, Line: 3, BindingsDying: []string{"buf"}}),
	}}

	cause, err := New().Run(recordAt(file, 1), tr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cause.Kind != MissingFree || cause.Line != 3 {
		t.Fatalf("unexpected cause: %+v", cause)
	}
}

// scenario 6: chained returns. Allocation in level_5, returned through
// level_4..level_2, stored into node->data inside level_3, node freed in
// level_1 without freeing node->data.
func TestChainedReturns(t *testing.T) {
	const file = "leak.c"
	tr := trace.ExecTrace{Events: []trace.Event{
		trace.EnterEvent(trace.Enter{Function: "malloc", File: file, Line: 50, AllocAddr: 0x7000}),
		trace.ReturnEvent(trace.Return{Function: "malloc", Line: 50, ReturnHolder: "buf"}),
		trace.ReturnEvent(trace.Return{Function: "level_5", Line: 51, ReturnExpr: "buf", ReturnHolder: "r4"}),
		trace.ReturnEvent(trace.Return{Function: "level_4", Line: 40, ReturnExpr: "r4", ReturnHolder: "r3"}),
		trace.AliasEvent(trace.Alias{File: file, Line: 30, LHS: "node->data", RHS: "r3"}),
		trace.ReturnEvent(trace.Return{Function: "level_3", Line: 31, ReturnExpr: "node", ReturnHolder: "r2"}),
		trace.ReturnEvent(trace.Return{Function: "level_2", Line: 20, ReturnExpr: "r2", ReturnHolder: "node"}),
		trace.FreeEvent(trace.Free{File: file, Line: 10, ArgumentExpr: "node"}),
	}}

	cause, err := New().Run(recordAt(file, 50), tr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cause.Kind != ContainerFreedFirst || cause.Line != 10 || cause.WitnessEventKind != "Free" {
		t.Fatalf("unexpected cause: %+v", cause)
	}
	if len(cause.LastRootsAtLeak) != 1 || cause.LastRootsAtLeak[0].String() != "node->data" {
		t.Fatalf("unexpected roots-at-leak: %+v", cause.LastRootsAtLeak)
	}
}

// TestDiscardedAllocationIsImmediateMissingFree covers the initialization
// short-circuit: a discarded malloc() result is MissingFree at the
// allocation site with no further trace processing required.
func TestDiscardedAllocationIsImmediateMissingFree(t *testing.T) {
	const file = "leak.c"
	tr := trace.ExecTrace{Events: []trace.Event{
		trace.EnterEvent(trace.Enter{Function: "malloc", File: file, Line: 7, AllocAddr: 0x1}),
		trace.ReturnEvent(trace.Return{Function: "malloc", Line: 7}),
	}}

	cause, err := New().Run(recordAt(file, 7), tr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cause.Kind != MissingFree || cause.Line != 7 {
		t.Fatalf("unexpected cause: %+v", cause)
	}
}

// TestDirectFreeContradictsDefinitelyLostReport covers I3: a Free that
// resolves directly to the tracked allocation settles `freed` but
// contradicts a report that called it definitely lost, surfacing as a
// ReasonMismatch Inconclusive rather than a fabricated RootCause.
func TestDirectFreeContradictsDefinitelyLostReport(t *testing.T) {
	const file = "leak.c"
	tr := trace.ExecTrace{Events: []trace.Event{
		trace.EnterEvent(trace.Enter{Function: "malloc", File: file, Line: 1, AllocAddr: 0x1}),
		trace.ReturnEvent(trace.Return{Function: "malloc", Line: 1, ReturnHolder: "p"}),
		trace.FreeEvent(trace.Free{File: file, Line: 2, ArgumentExpr: "p"}),
	}}

	_, err := New().Run(recordAt(file, 1), tr)
	if err == nil {
		t.Fatalf("expected a ReasonMismatch Inconclusive error")
	}
}

// TestNoDebugInfoRecordIsInconclusive covers the NoDebugInfo failure
// mode: a LeakRecord whose innermost frame lacks source coordinates
// can't be analyzed at all.
func TestNoDebugInfoRecordIsInconclusive(t *testing.T) {
	rec := report.LeakRecord{
		AllocStack: []report.Frame{{Function: "malloc", File: "?", Line: 0}},
	}
	tr := trace.ExecTrace{Events: []trace.Event{
		trace.EnterEvent(trace.Enter{Function: "malloc", File: "?", Line: 0, AllocAddr: 0x1}),
		trace.ReturnEvent(trace.Return{Function: "malloc", ReturnHolder: "p"}),
	}}
	_, err := New().Run(rec, tr)
	if err == nil {
		t.Fatalf("expected a NoDebugInfo Inconclusive error")
	}
}

// TestDeterministic covers the round-trip/idempotence property (spec §8):
// re-running the tracker on an identical (LeakRecord, ExecTrace) yields
// an identical RootCause.
func TestDeterministic(t *testing.T) {
	const file = "leak.c"
	tr := trace.ExecTrace{Events: []trace.Event{
		trace.EnterEvent(trace.Enter{Function: "malloc", File: file, Line: 1, AllocAddr: 0x1000}),
		trace.ReturnEvent(trace.Return{Function: "malloc", Line: 1, ReturnHolder: "t"}),
		trace.ScopeExitEvent(trace.ScopeExit{File: file, Line: 3, BindingsDying: []string{"t"}}),
	}}
	rec := recordAt(file, 1)

	first, err := New().Run(rec, tr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := New().Run(rec, tr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("non-deterministic result: %+v vs %+v", first, second)
	}
}

func TestAccessPathEqualAndPrefix(t *testing.T) {
	a, _ := ParseAccessPath("q->v")
	b, _ := ParseAccessPath("q->v")
	if !a.Equal(b) {
		t.Fatalf("expected q->v to equal itself structurally")
	}
	c, _ := ParseAccessPath("q")
	if !a.HasPrefix(c) {
		t.Fatalf("expected q to be a strict prefix of q->v")
	}
	if a.HasPrefix(b) {
		t.Fatalf("a path is not a strict prefix of itself")
	}
}

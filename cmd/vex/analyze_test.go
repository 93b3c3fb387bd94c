package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hooop/vex/internal/report"
	"github.com/hooop/vex/internal/source"
	"github.com/hooop/vex/internal/trace"
)

// scriptedAdapter is an in-memory trace.Adapter driving a scripted
// sequence of StopFrames, standing in for a real debugger subprocess —
// the end-to-end wiring this test exercises (checker report parsing,
// dynamic trace, ownership tracking, classification) never touches a
// real valgrind or gdb binary.
type scriptedAdapter struct {
	stops []trace.StopFrame
	idx   int
}

func (a *scriptedAdapter) Version(ctx context.Context) (string, error) { return "12.1", nil }

func (a *scriptedAdapter) Run(ctx context.Context) (trace.StopFrame, error) {
	s := a.stops[a.idx]
	a.idx++
	return s, nil
}

func (a *scriptedAdapter) Step(ctx context.Context) (trace.StopFrame, error) {
	if a.idx >= len(a.stops) {
		return trace.StopFrame{Exited: true}, nil
	}
	s := a.stops[a.idx]
	a.idx++
	return s, nil
}

func (a *scriptedAdapter) Next(ctx context.Context) (trace.StopFrame, error) { return a.Step(ctx) }
func (a *scriptedAdapter) Finish(ctx context.Context) (trace.StopFrame, error) {
	return a.Step(ctx)
}
func (a *scriptedAdapter) Print(ctx context.Context, expr string) (string, error) { return "", nil }
func (a *scriptedAdapter) Backtrace(ctx context.Context) ([]trace.StopFrame, error) {
	return nil, nil
}
func (a *scriptedAdapter) InfoLocals(ctx context.Context) (map[string]string, error) {
	return nil, nil
}
func (a *scriptedAdapter) Close() error { return nil }

// TestAnalyzeRecordsEndToEnd wires the checker report parser, the
// dynamic tracer (against a scripted fake debugger), the ownership
// tracker, and the classifier together the way runAnalyze does,
// confirming a straight-line MissingFree is diagnosed correctly.
func TestAnalyzeRecordsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "leak.c")
	src := "void main(void) {\n    char *buf = malloc(16);\n}\n"
	if err := os.WriteFile(srcPath, []byte(src), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	checkerReport := fmt.Sprintf(`==1== 16 (16 direct, 0 indirect) bytes in 1 blocks are definitely lost in loss record 1 of 1
==1==    at 0x483B7F3: malloc (%s:2)
==1==    by 0x1091C0: main (%s:2)
`, srcPath, srcPath)

	rep, err := report.NewParser().Parse(strings.NewReader(checkerReport))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	eligible := rep.DeepAnalysisRecords()
	if len(eligible) != 1 {
		t.Fatalf("expected 1 eligible record, got %d", len(eligible))
	}

	stops := []trace.StopFrame{
		{Function: "main", File: srcPath, Line: 2, Depth: 1},
		{Function: "main", File: srcPath, Line: 3, Depth: 1},
		{Exited: true},
	}
	adapter := &scriptedAdapter{stops: stops}
	cache := source.NewCache()
	drv, err := trace.NewDriver(context.Background(), adapter, cache, trace.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	full, err := drv.Trace(context.Background())
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	diagnoses := analyzeRecords(context.Background(), eligible, full, nil)
	if len(diagnoses) != 1 {
		t.Fatalf("expected 1 diagnosis, got %d", len(diagnoses))
	}
	d := diagnoses[0]
	if d.Inconclusive {
		t.Fatalf("expected a settled diagnosis, got inconclusive: %s", d.InconclusiveWhy)
	}
	if d.Kind.String() != "MissingFree" {
		t.Errorf("kind = %s, want MissingFree", d.Kind)
	}
	if d.Bytes != 16 {
		t.Errorf("bytes = %d, want 16", d.Bytes)
	}
	if len(d.RootsAtLeak) != 1 || d.RootsAtLeak[0] != "buf" {
		t.Errorf("roots at leak = %#v, want [buf]", d.RootsAtLeak)
	}
}

// TestAnalyzeRecordsNoDebugInfoExcludedFromDeepAnalysis confirms a record
// the parser dropped for missing debug info is not among the records
// handed to analyzeRecords, so it never reaches the tracer at all.
func TestAnalyzeRecordsNoDebugInfoExcludedFromDeepAnalysis(t *testing.T) {
	const noSrc = `==1== 64 (64 direct, 0 indirect) bytes in 1 blocks are definitely lost in loss record 1 of 1
==1==    at 0x483B7F3: malloc (in /usr/lib/libc.so)
==1==    by 0x1091A8: ??? (in /usr/bin/prog)
`
	rep, err := report.NewParser().Parse(strings.NewReader(noSrc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rep.DeepAnalysisRecords()) != 0 {
		t.Fatalf("expected the no-debug-info record to be excluded from deep analysis")
	}
}

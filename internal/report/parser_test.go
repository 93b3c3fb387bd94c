package report

import (
	"strings"
	"testing"
)

const sampleReport = `==1234== HEAP SUMMARY:
==1234==     in use at exit: 160 bytes in 2 blocks
==1234==   total heap usage: 4 allocs, 2 frees, 1,184 bytes allocated
==1234==
==1234== 128 (128 direct, 0 indirect) bytes in 1 blocks are definitely lost in loss record 1 of 2
==1234==    at 0x483B7F3: malloc (vg_replace_malloc.c:307)
==1234==    by 0x1091A8: init (leak.c:1)
==1234==    by 0x1091C0: main (leak.c:2)
==1234==
==1234== 32 (32 direct, 0 indirect) bytes in 1 blocks are still reachable in loss record 2 of 2
==1234==    at 0x483B7F3: malloc (vg_replace_malloc.c:307)
==1234==    by 0x1091D0: cache_init (cache.c:10)
==1234==
==1234== LEAK SUMMARY:
==1234==    definitely lost: 128 bytes in 1 blocks
==1234==    still reachable: 32 bytes in 1 blocks
`

func TestParseDefinitelyLost(t *testing.T) {
	p := NewParser()
	rep, err := p.Parse(strings.NewReader(sampleReport))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deep := rep.DeepAnalysisRecords()
	if len(deep) != 1 {
		t.Fatalf("expected 1 deep-analysis record, got %d", len(deep))
	}
	rec := deep[0]
	if rec.BytesDirect != 128 {
		t.Errorf("bytes direct = %d, want 128", rec.BytesDirect)
	}
	if len(rec.AllocStack) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(rec.AllocStack))
	}
	if rec.AllocStack[0].Function != "malloc" {
		t.Errorf("innermost frame = %s, want malloc", rec.AllocStack[0].Function)
	}
	if rec.InnermostFrame().File != "vg_replace_malloc.c" || rec.InnermostFrame().Line != 307 {
		t.Errorf("innermost frame site = %s:%d", rec.InnermostFrame().File, rec.InnermostFrame().Line)
	}

	if rep.Summary.StillReachableCount != 1 || rep.Summary.StillReachableBytes != 32 {
		t.Errorf("still-reachable summary = %+v", rep.Summary)
	}
}

func TestParseEmptyReport(t *testing.T) {
	p := NewParser()
	rep, err := p.Parse(strings.NewReader("==1234== HEAP SUMMARY:\n==1234== All heap blocks were freed -- no leaks are possible\n"))
	if err != nil {
		t.Fatalf("empty report should not be a hard error: %v", err)
	}
	if len(rep.Records) != 0 {
		t.Errorf("expected no records, got %d", len(rep.Records))
	}
}

func TestParseNoDebugInfoDropped(t *testing.T) {
	const noSrc = `==1== 64 (64 direct, 0 indirect) bytes in 1 blocks are definitely lost in loss record 1 of 1
==1==    at 0x483B7F3: malloc (in /usr/lib/libc.so)
==1==    by 0x1091A8: ??? (in /usr/bin/prog)
`
	p := NewParser()
	rep, err := p.Parse(strings.NewReader(noSrc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(rep.Records))
	}
	if rep.Records[0].DropReason != "NoDebugInfo" {
		t.Errorf("drop reason = %q, want NoDebugInfo", rep.Records[0].DropReason)
	}
	if len(rep.DeepAnalysisRecords()) != 0 {
		t.Errorf("record without debug info must not reach deep analysis")
	}
}

func TestMalformedBlockRecoversNextBlock(t *testing.T) {
	const malformed = `==1== 64 (64 direct, 0 indirect) bytes in 1 blocks are definitely lost in loss record 1 of 2
==1== this line does not look like a stack frame at all
==1==
==1== 96 (96 direct, 0 indirect) bytes in 1 blocks are definitely lost in loss record 2 of 2
==1==    at 0x1: leaker (leak.c:5)
`
	p := NewParser()
	rep, err := p.Parse(strings.NewReader(malformed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deep := rep.DeepAnalysisRecords()
	if len(deep) != 1 {
		t.Fatalf("expected to recover the second block only, got %d records", len(deep))
	}
	if deep[0].BytesDirect != 96 {
		t.Errorf("recovered record bytes = %d, want 96", deep[0].BytesDirect)
	}
}

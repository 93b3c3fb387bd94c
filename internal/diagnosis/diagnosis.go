// Package diagnosis holds the renderer-facing record the pipeline
// produces for each analyzed allocation (spec §6), and the boundary
// types an external LLM collaborator and terminal renderer are defined
// against. Modeled after the teacher's DiagnosticLevel/Diagnostic split
// in internal/diagnostics: a small closed Severity enum plus a flat
// record, not a builder hierarchy.
package diagnosis

import (
	"fmt"

	"github.com/hooop/vex/internal/owner"
)

// Severity is independent of internal/errs' error taxonomy: it describes
// how the renderer should present a Diagnosis, not what went wrong
// internally producing it.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Diagnosis is the spec §6 external record: `{leak_id, bytes, kind, site,
// witness_line, roots_at_leak, narrative}`, plus a Severity and an
// Inconclusive reason for the records the tracker or classifier could
// not settle.
type Diagnosis struct {
	LeakID          int
	Bytes           int
	Kind            owner.Kind
	Severity        Severity
	Site            string // "file:line"
	WitnessLine     int
	RootsAtLeak     []string
	Narrative       string // filled by internal/llm; empty on LLMError
	Inconclusive    bool
	InconclusiveWhy string
}

// FromRootCause builds the structural portion of a Diagnosis (everything
// but Narrative, which the caller fills in separately after an
// internal/llm.Client call, per spec §7: LLM failure must never block the
// structural diagnosis).
func FromRootCause(leakID, bytes int, file string, cause owner.RootCause) Diagnosis {
	roots := make([]string, len(cause.LastRootsAtLeak))
	for i, r := range cause.LastRootsAtLeak {
		roots[i] = r.String()
	}
	return Diagnosis{
		LeakID:      leakID,
		Bytes:       bytes,
		Kind:        cause.Kind,
		Severity:    SeverityError,
		Site:        fmt.Sprintf("%s:%d", file, cause.Line),
		WitnessLine: cause.Line,
		RootsAtLeak: roots,
	}
}

// FromInconclusive builds a Diagnosis for a record the deeper pipeline could
// not settle (NoDebugInfo, TraceTruncated, OpaqueCritical, ReasonMismatch,
// ClassifierMismatch) — still reported, never silently dropped (spec §7).
func FromInconclusive(leakID, bytes int, reason string) Diagnosis {
	return Diagnosis{
		LeakID:          leakID,
		Bytes:           bytes,
		Severity:        SeverityWarning,
		Inconclusive:    true,
		InconclusiveWhy: reason,
	}
}

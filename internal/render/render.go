// Package render provides one concrete terminal renderer against the
// diagnosis.Diagnosis input contract (spec §1, §6: the renderer itself
// stays an external collaborator; this is a good-enough plain-text
// implementation to drive the CLI and tests). Grounded on the teacher's
// fmt.Printf-based layout in internal/clihelp.PrintUsage — no color
// library, no templating engine, direct Fprintf calls to an io.Writer.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/hooop/vex/internal/diagnosis"
	"github.com/hooop/vex/internal/report"
)

// Plain writes one plain-text report of a run's diagnoses plus the
// checker's retained summary counts, deterministic and colorless.
func Plain(w io.Writer, diagnoses []diagnosis.Diagnosis, summary report.Summary) {
	if len(diagnoses) == 0 {
		fmt.Fprintln(w, "vex: no definitely-lost allocations found.")
	}
	for i, d := range diagnoses {
		if i > 0 {
			fmt.Fprintln(w)
		}
		writeOne(w, d)
	}
	writeSummary(w, summary)
}

func writeOne(w io.Writer, d diagnosis.Diagnosis) {
	fmt.Fprintf(w, "leak #%d (%d bytes)\n", d.LeakID, d.Bytes)
	if d.Inconclusive {
		fmt.Fprintf(w, "  inconclusive: %s\n", d.InconclusiveWhy)
		return
	}
	fmt.Fprintf(w, "  [%s] %s at %s\n", strings.ToUpper(d.Severity.String()), d.Kind, d.Site)
	if len(d.RootsAtLeak) > 0 {
		fmt.Fprintf(w, "  last live path(s): %s\n", strings.Join(d.RootsAtLeak, ", "))
	}
	if d.Narrative != "" {
		fmt.Fprintf(w, "  %s\n", d.Narrative)
	}
}

func writeSummary(w io.Writer, s report.Summary) {
	fmt.Fprintln(w, "\nsummary:")
	fmt.Fprintf(w, "  definitely lost:   %d blocks, %d bytes\n", s.DefinitelyCount, s.DefinitelyBytes)
	fmt.Fprintf(w, "  indirectly lost:   %d blocks, %d bytes\n", s.IndirectlyCount, s.IndirectlyBytes)
	fmt.Fprintf(w, "  possibly lost:     %d blocks, %d bytes\n", s.PossiblyCount, s.PossiblyBytes)
	fmt.Fprintf(w, "  still reachable:   %d blocks, %d bytes\n", s.StillReachableCount, s.StillReachableBytes)
}

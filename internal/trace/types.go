// Package trace drives a debugger through a program's actual execution
// path and emits a linear ExecTrace of TraceEvents (spec §4.C). The
// TraceEvent union is a closed discriminated union: a Kind tag plus one
// populated payload, exhaustively switched by every consumer (Design
// Notes §9) so a new variant can't be silently ignored.
package trace

// Kind discriminates the TraceEvent union.
type Kind int

const (
	KindEnter Kind = iota
	KindReturn
	KindAssign
	KindAlias
	KindFree
	KindCond
	KindLoopIter
	KindScopeExit
)

func (k Kind) String() string {
	switch k {
	case KindEnter:
		return "Enter"
	case KindReturn:
		return "Return"
	case KindAssign:
		return "Assign"
	case KindAlias:
		return "Alias"
	case KindFree:
		return "Free"
	case KindCond:
		return "Cond"
	case KindLoopIter:
		return "LoopIter"
	case KindScopeExit:
		return "ScopeExit"
	default:
		return "Unknown"
	}
}

// ArgBinding pairs a callee parameter name with the caller-side source
// expression it was bound to.
type ArgBinding struct {
	Param string
	Expr  string
}

// Enter is emitted when a function call is entered.
type Enter struct {
	Function    string
	File        string
	Line        int
	ArgBindings []ArgBinding
	// AllocAddr is non-zero when this Enter is a call to malloc/calloc/
	// realloc that returns the address of the allocation under analysis.
	AllocAddr uint64
	// Opaque is true when the callee's source body could not be
	// extracted (spec §4.D, Opaque Frames).
	Opaque bool
	// CallerFile/CallerLine are the call site's coordinates in the
	// caller, used by internal/owner as the witness location when a
	// Return later drops the frame's roots without rebinding them.
	CallerFile string
	CallerLine int
}

// Return is emitted when a function call returns.
type Return struct {
	Function     string
	Line         int
	ReturnExpr   string // Source text or synthesized name of the returned value.
	ReturnHolder string // Caller-side LHS receiving the result; "" if discarded.
}

// Assign is `lhs = rhs;`.
type Assign struct {
	File          string
	Line          int
	LHS           string
	RHS           string
	IsDeclaration bool
}

// Alias is the subset of Assign where rhs is a pure variable or field
// access (no computation), e.g. `q = p;` or `x = c->f;`.
type Alias struct {
	File string
	Line int
	LHS  string
	RHS  string
}

// Free is `free(expr)` or a recognized free-wrapper call.
type Free struct {
	File         string
	Line         int
	ArgumentExpr string
}

// Cond is one observed branch outcome.
type Cond struct {
	File  string
	Line  int
	Taken bool
	Text  string
}

// LoopIter is a single observed iteration of a loop: exactly the
// iterations actually executed are emitted, never unrolled or bounded
// replay (spec §4.C).
type LoopIter struct {
	File          string
	Line          int
	IterationIndex int
	BodyEvents     []Event
}

// ScopeExit marks a block close; the named locals go out of scope.
type ScopeExit struct {
	File          string
	Line          int
	BindingsDying []string
}

// Event is one TraceEvent: Kind selects which payload field is populated.
// Callers must switch exhaustively on Kind (Design Notes §9).
type Event struct {
	Kind Kind

	Enter     Enter
	Return    Return
	Assign    Assign
	Alias     Alias
	Free      Free
	Cond      Cond
	LoopIter  LoopIter
	ScopeExit ScopeExit
}

func EnterEvent(e Enter) Event         { return Event{Kind: KindEnter, Enter: e} }
func ReturnEvent(r Return) Event       { return Event{Kind: KindReturn, Return: r} }
func AssignEvent(a Assign) Event       { return Event{Kind: KindAssign, Assign: a} }
func AliasEvent(a Alias) Event         { return Event{Kind: KindAlias, Alias: a} }
func FreeEvent(f Free) Event           { return Event{Kind: KindFree, Free: f} }
func CondEvent(c Cond) Event           { return Event{Kind: KindCond, Cond: c} }
func LoopIterEvent(l LoopIter) Event   { return Event{Kind: KindLoopIter, LoopIter: l} }
func ScopeExitEvent(s ScopeExit) Event { return Event{Kind: KindScopeExit, ScopeExit: s} }

// ExecTrace is the ordered finite sequence of TraceEvents produced by one
// Driver run, rooted at main.
type ExecTrace struct {
	Events []Event
}

// SubTraceFrom returns the events starting at the Enter of the given
// allocation call site (spec §5: "per-record analyses derive sub-traces
// starting at each allocation's Enter"), matched by file:line and the
// n-th occurrence (to disambiguate loops producing several allocations
// at the same call site).
func (t ExecTrace) SubTraceFrom(file string, line int, occurrence int) ExecTrace {
	seen := 0
	for i, ev := range t.Events {
		if ev.Kind == KindEnter && ev.Enter.File == file && ev.Enter.Line == line {
			if seen == occurrence {
				return ExecTrace{Events: t.Events[i:]}
			}
			seen++
		}
	}
	return ExecTrace{}
}

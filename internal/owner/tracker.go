package owner

import (
	"github.com/hooop/vex/internal/errs"
	"github.com/hooop/vex/internal/report"
	"github.com/hooop/vex/internal/trace"
)

// frameRec is one activation record on the tracker's own frame stack. It
// owns the subset of roots whose head variable is local to it; when the
// frame unwinds (Return), those roots die unless rebound. callerFile/
// callerLine are the call site coordinates in the frame that made this
// call — the witness location used when a Return drops roots without
// rebinding them (opaque or transparent alike; spec §4.D treats both the
// same way once the Enter/Return bookkeeping is done).
type frameRec struct {
	id         int
	opaque     bool
	callerFile string
	callerLine int
}

// state is the tracker's mutable working set while replaying one
// sub-trace. Once cause or mismatch is set, no further event may alter
// it (spec invariant I2).
type state struct {
	roots    []Root
	freed    bool
	frames   []frameRec
	nextID   int
	cause    *RootCause
	mismatch bool
}

func (s *state) topID() int {
	if len(s.frames) == 0 {
		s.frames = append(s.frames, frameRec{id: s.nextID})
		s.nextID++
	}
	return s.frames[len(s.frames)-1].id
}

func (s *state) popFrame(fallbackLine int) frameRec {
	if len(s.frames) == 0 {
		return frameRec{id: -1, callerLine: fallbackLine}
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

// Tracker implements the ownership-tracking contract of spec §4.D. It is
// stateless between calls — every Run is a pure function of its inputs,
// safe to invoke concurrently across records (spec §5).
type Tracker struct{}

// New returns a ready Tracker.
func New() *Tracker { return &Tracker{} }

// Run analyzes one allocation: sub must be the ExecTrace slice starting
// at the allocation's own Enter event (see trace.ExecTrace.SubTraceFrom),
// and rec is the LeakRecord the checker reported for it.
func (t *Tracker) Run(rec report.LeakRecord, sub trace.ExecTrace) (RootCause, error) {
	events := sub.Events
	if len(events) < 2 || events[0].Kind != trace.KindEnter || events[1].Kind != trace.KindReturn {
		return RootCause{}, errs.Inconclusive(errs.ReasonTraceTruncated, map[string]interface{}{
			"reason": "sub-trace does not begin with the allocation's Enter/Return pair",
		})
	}
	allocReturn := events[1].Return

	site := rec.InnermostFrame()
	if !site.HasDebugInfo() {
		return RootCause{}, errs.Inconclusive(errs.ReasonNoDebugInfo, map[string]interface{}{
			"record": rec.LossRecordIndex,
		})
	}

	// Initialization (spec §4.D): a discarded allocation result is an
	// immediate, certain MissingFree at the allocation site.
	if allocReturn.ReturnHolder == "" {
		return RootCause{
			File: site.File, Line: site.Line,
			Kind:             MissingFree,
			WitnessEventKind: "Return",
		}, nil
	}

	holderPath, ok := ParseAccessPath(allocReturn.ReturnHolder)
	if !ok {
		return RootCause{}, errs.Inconclusive(errs.ReasonTraceTruncated, map[string]interface{}{
			"holder": allocReturn.ReturnHolder,
		})
	}

	s := &state{
		roots:  []Root{{Path: holderPath, Origin: Origin{Kind: OriginAllocation}, Scope: 0}},
		frames: []frameRec{{id: 0, callerFile: site.File, callerLine: site.Line}},
		nextID: 1,
	}

	for _, ev := range normalize(events[2:]) {
		if s.cause != nil || s.mismatch {
			break
		}
		t.process(s, ev)
	}

	switch {
	case s.mismatch:
		return RootCause{}, errs.Inconclusive(errs.ReasonMismatch, map[string]interface{}{
			"record": rec.LossRecordIndex,
		})
	case s.cause != nil:
		return *s.cause, nil
	default:
		return RootCause{}, errs.Inconclusive(errs.ReasonTraceTruncated, map[string]interface{}{
			"reason": "trace ended before the allocation's roots were resolved",
		})
	}
}

// allocFunctionNames mirrors trace.DefaultConfig's AllocWrappers: the
// names internal/trace tags an Enter's AllocAddr for. A later Enter/
// Return pair for one of these functions within the same sub-trace is
// not a real call frame from the tracker's point of view — it is a
// different allocation's Enter/Return, synthesized by the driver purely
// to carry the runtime address — and is normalized below into the plain
// overwrite it represents for any root at its ReturnHolder.
var allocFunctionNames = map[string]bool{"malloc": true, "calloc": true, "realloc": true}

// normalize rewrites every later (non-tracked) allocation Enter/Return
// pair into a single Assign event carrying a RHS that can never resolve
// to the allocation under analysis, so handleAssign's ordinary
// overwrite rule applies uniformly. A later allocation whose result is
// discarded has no effect on this record and is dropped entirely.
// LoopIter bodies are normalized recursively.
func normalize(events []trace.Event) []trace.Event {
	out := make([]trace.Event, 0, len(events))
	for i := 0; i < len(events); i++ {
		ev := events[i]
		if ev.Kind == trace.KindEnter && allocFunctionNames[ev.Enter.Function] &&
			i+1 < len(events) && events[i+1].Kind == trace.KindReturn &&
			events[i+1].Return.Function == ev.Enter.Function {
			ret := events[i+1].Return
			i++
			if ret.ReturnHolder == "" {
				continue
			}
			out = append(out, trace.AssignEvent(trace.Assign{
				File: ev.Enter.File, Line: ev.Enter.Line,
				LHS: ret.ReturnHolder, RHS: "<fresh-allocation>",
			}))
			continue
		}
		if ev.Kind == trace.KindLoopIter {
			li := ev.LoopIter
			li.BodyEvents = normalize(li.BodyEvents)
			out = append(out, trace.LoopIterEvent(li))
			continue
		}
		out = append(out, ev)
	}
	return out
}

// process dispatches one TraceEvent by Kind. Every consumer of the
// closed TraceEvent union must switch exhaustively (Design Notes §9); an
// unrecognized Kind is a programming error, not a data error, so it is
// silently a no-op rather than panicking mid-analysis.
func (t *Tracker) process(s *state, ev trace.Event) {
	switch ev.Kind {
	case trace.KindEnter:
		t.handleEnter(s, ev.Enter)
	case trace.KindReturn:
		t.handleReturn(s, ev.Return)
	case trace.KindAssign:
		t.handleAssign(s, ev.Assign)
	case trace.KindAlias:
		t.handleAlias(s, ev.Alias)
	case trace.KindFree:
		t.handleFree(s, ev.Free)
	case trace.KindCond:
		// Structural only (spec §4.D): branch direction carries no
		// ownership effect by itself.
	case trace.KindLoopIter:
		for _, inner := range ev.LoopIter.BodyEvents {
			if s.cause != nil || s.mismatch {
				return
			}
			t.process(s, inner)
		}
	case trace.KindScopeExit:
		t.handleScopeExit(s, ev.ScopeExit)
	}
}

// handleEnter pushes a new frame. A parameter bound to a caller
// expression that exactly names a live root grows a new root for that
// parameter in the callee's frame, aliasing the caller's (spec §4.D
// Enter rule; other parameters add nothing).
func (t *Tracker) handleEnter(s *state, e trace.Enter) {
	newID := s.nextID
	s.nextID++

	for _, ab := range e.ArgBindings {
		argPath, ok := ParseAccessPath(ab.Expr)
		if !ok {
			continue
		}
		for _, root := range s.roots {
			if root.Path.Equal(argPath) {
				s.roots = append(s.roots, Root{
					Path:   AccessPath{Base: ab.Param},
					Origin: Origin{Kind: OriginAlias, AliasOf: root.Path},
					Scope:  newID,
				})
				break
			}
		}
	}

	s.frames = append(s.frames, frameRec{
		id: newID, opaque: e.Opaque,
		callerFile: e.CallerFile, callerLine: e.CallerLine,
	})
}

// rebase replaces path's leading oldPrefix with newBase, keeping any
// trailing segments — used to carry a root across a `return x;` that
// hands back a container (or the allocation itself) under a new name.
func rebase(path, oldPrefix AccessPath, newBase string) (AccessPath, bool) {
	if path.Equal(oldPrefix) {
		return AccessPath{Base: newBase}, true
	}
	if path.HasPrefix(oldPrefix) {
		extra := append([]Segment{}, path.Segments[len(oldPrefix.Segments):]...)
		return AccessPath{Base: newBase, Segments: extra}, true
	}
	return AccessPath{}, false
}

// handleReturn pops the callee's frame. If ret_expr names or reaches a
// root owned by that frame and ret_holder is present, the root is
// rebound into the caller's frame under the new name; otherwise it dies
// with the frame (spec §4.D Return rule; applies identically whether the
// popped frame was opaque or transparent).
func (t *Tracker) handleReturn(s *state, r trace.Return) {
	popped := s.popFrame(r.Line)

	var kept []Root
	var dying []Root
	for _, root := range s.roots {
		if root.Scope != popped.id {
			kept = append(kept, root)
		} else {
			dying = append(dying, root)
		}
	}
	rebound := map[int]bool{}

	if r.ReturnHolder != "" {
		if retPath, ok := ParseAccessPath(r.ReturnExpr); ok {
			callerScope := s.topID()
			for i, root := range dying {
				rebased, ok := rebase(root.Path, retPath, r.ReturnHolder)
				if !ok {
					continue
				}
				rebound[i] = true
				kept = append(kept, Root{
					Path:   rebased,
					Origin: Origin{Kind: OriginAlias, AliasOf: root.Path},
					Scope:  callerScope,
				})
			}
		}
	}

	s.roots = kept
	if len(s.roots) == 0 && !s.freed && s.cause == nil {
		s.cause = &RootCause{
			File: popped.callerFile, Line: popped.callerLine,
			Kind: PathLossByReassignment, WitnessEventKind: "Return",
			LastRootsAtLeak: unreboundPaths(dying, rebound),
		}
	}
}

func unreboundPaths(dying []Root, rebound map[int]bool) []AccessPath {
	var out []AccessPath
	for i, r := range dying {
		if !rebound[i] {
			out = append(out, r.Path)
		}
	}
	return out
}

// resolvesToAllocation reports whether rhs, parsed as an access path,
// names a currently live root — i.e. still reaches the tracked
// allocation.
func resolvesToAllocation(rhs string, roots []Root) bool {
	path, ok := ParseAccessPath(rhs)
	if !ok {
		return false
	}
	for _, r := range roots {
		if r.Path.Equal(path) {
			return true
		}
	}
	return false
}

// handleAssign applies `lhs = rhs;` (spec §4.D Assign rule): a root
// exactly overwritten or collapsed by a shorter prefix assignment
// survives only if rhs still resolves to the allocation; otherwise it is
// removed. An assignment unrelated to any root changes nothing.
func (t *Tracker) handleAssign(s *state, a trace.Assign) {
	lhsPath, ok := ParseAccessPath(a.LHS)
	if !ok {
		return
	}
	stillReaches := resolvesToAllocation(a.RHS, s.roots)

	var kept, removed []Root
	for _, root := range s.roots {
		switch {
		case root.Path.Equal(lhsPath), root.Path.HasPrefix(lhsPath):
			if stillReaches {
				kept = append(kept, root)
			} else {
				removed = append(removed, root)
			}
		default:
			kept = append(kept, root)
		}
	}
	s.roots = kept

	if len(removed) > 0 && len(s.roots) == 0 && !s.freed && s.cause == nil {
		s.cause = &RootCause{
			File: a.File, Line: a.Line,
			Kind: PathLossByReassignment, WitnessEventKind: "Assign",
			LastRootsAtLeak: paths(removed),
		}
	}
}

func paths(roots []Root) []AccessPath {
	out := make([]AccessPath, len(roots))
	for i, r := range roots {
		out[i] = r.Path
	}
	return out
}

// handleAlias applies `lhs = rhs;` where rhs is a pure access path (spec
// §4.D Alias rule): if rhs still reaches the allocation, lhs becomes a
// new root aliasing it; the source root is never removed by an Alias.
func (t *Tracker) handleAlias(s *state, a trace.Alias) {
	if !resolvesToAllocation(a.RHS, s.roots) {
		return
	}
	lhsPath, ok := ParseAccessPath(a.LHS)
	if !ok {
		return
	}
	rhsPath, _ := ParseAccessPath(a.RHS)
	s.roots = append(s.roots, Root{
		Path:   lhsPath,
		Origin: Origin{Kind: OriginAlias, AliasOf: rhsPath},
		Scope:  s.topID(),
	})
}

// handleFree applies `free(expr);` (spec §4.D Free rule). A direct free
// of the allocation itself settles `freed` and contradicts the input
// report (the checker said this allocation was definitely lost); that
// outcome is recorded as a mismatch, not a RootCause. Freeing a
// container that dominates the remaining roots removes them all and may
// conclude ContainerFreedFirst; freeing an unrelated pointer changes
// nothing.
func (t *Tracker) handleFree(s *state, f trace.Free) {
	path, ok := ParseAccessPath(f.ArgumentExpr)
	if !ok {
		return
	}

	directMatch := false
	var kept, removed []Root
	anyContainer := false
	for _, root := range s.roots {
		switch {
		case root.Path.Equal(path):
			directMatch = true
		case root.Path.HasPrefix(path):
			anyContainer = true
			removed = append(removed, root)
		default:
			kept = append(kept, root)
		}
	}

	if directMatch {
		s.freed = true
		s.roots = kept
		s.mismatch = true
		return
	}

	if anyContainer {
		s.roots = kept
		if len(s.roots) == 0 && !s.freed && s.cause == nil {
			s.cause = &RootCause{
				File: f.File, Line: f.Line,
				Kind: ContainerFreedFirst, WitnessEventKind: "Free",
				LastRootsAtLeak: paths(removed),
			}
		}
	}
}

// handleScopeExit applies a block close (spec §4.D ScopeExit rule): any
// root whose head variable is named in bindings_dying and whose scope is
// the currently exiting frame dies. If that empties R with the
// allocation still unfreed, the cause is MissingFree — unless a cause
// was already recorded for this record (the "subsequent event cannot
// alter an already-emitted cause" rule, enforced by the caller's
// s.cause == nil check throughout this package).
func (t *Tracker) handleScopeExit(s *state, se trace.ScopeExit) {
	dying := make(map[string]bool, len(se.BindingsDying))
	for _, n := range se.BindingsDying {
		dying[n] = true
	}
	current := s.topID()

	var kept, removed []Root
	for _, root := range s.roots {
		if root.Scope == current && dying[root.Path.Base] {
			removed = append(removed, root)
			continue
		}
		kept = append(kept, root)
	}
	s.roots = kept

	if len(removed) > 0 && len(s.roots) == 0 && !s.freed && s.cause == nil {
		s.cause = &RootCause{
			File: se.File, Line: se.Line,
			Kind: MissingFree, WitnessEventKind: "ScopeExit",
			LastRootsAtLeak: paths(removed),
		}
	}
}

package trace

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hooop/vex/internal/source"
)

// Driver is the cooperative producer of the trace, never a coroutine. It
// translates the Adapter's stream of StopFrames into the TraceEvent
// union by reading the source line at each stop and classifying it. Its
// one entry point is Trace, which drains the whole run into a single
// ExecTrace; it has no per-event pull method.
type Driver struct {
	adapter Adapter
	cache   *source.Cache
	cfg     Config

	frames    []frameState
	steps     int
	cancelled bool
}

type frameState struct {
	function string
	file     string
	depth    int
	locals   map[string]bool // declared names, for ScopeExit's bindings_dying
	loop     *loopState

	// callerFile/callerLine are the call site's coordinates in the
	// caller, captured at push time so the receiving variable of this
	// frame's eventual Return can be read back from the exact statement
	// that called it — the callee's own last-executed line (its `return
	// expr;`) never names the caller-side variable.
	callerFile string
	callerLine int
}

// loopState accumulates one frame's current loop iteration. Only one
// loop is tracked per frame (the first for/while head seen owns the
// frame's buffering until it closes); nested loops within a single
// frame are not distinguished, matching the heuristic, text-level scope
// of the rest of this package's line classification.
type loopState struct {
	headFile  string
	headLine  int
	iteration int
	body      []Event
}

// NewDriver validates the Adapter's version against cfg and returns a
// ready Driver.
func NewDriver(ctx context.Context, adapter Adapter, cache *source.Cache, cfg Config) (*Driver, error) {
	version, err := adapter.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("trace: DebuggerUnavailable: %w", err)
	}
	if err := cfg.CheckDebuggerVersion(version); err != nil {
		return nil, err
	}
	return &Driver{adapter: adapter, cache: cache, cfg: cfg}, nil
}

// Cancel requests cooperative cancellation; the next step of Trace's loop
// closes all open frames with a synthetic Return (innermost first) and
// stops (spec §4.C Cancellation).
func (d *Driver) Cancel() {
	d.cancelled = true
}

// Trace drains the full execution to produce one ExecTrace, rooted at
// main, stopping at program exit, StepLimitExceeded, or cancellation.
func (d *Driver) Trace(ctx context.Context) (ExecTrace, error) {
	var out ExecTrace

	stop, err := d.adapter.Run(ctx)
	if err != nil {
		return out, fmt.Errorf("trace: DebuggerUnavailable: %w", err)
	}
	if stop.Exited {
		return out, nil
	}
	d.pushFrame(stop.Function, stop.File, stop.Depth, "", 0)

	for {
		select {
		case <-ctx.Done():
			out.Events = append(out.Events, d.closeAllFrames()...)
			return out, ctx.Err()
		default:
		}

		if d.cancelled {
			out.Events = append(out.Events, d.closeAllFrames()...)
			return out, nil
		}

		d.steps++
		if d.steps > d.cfg.StepCap {
			return out, fmt.Errorf("trace: StepLimitExceeded: exceeded %d steps", d.cfg.StepCap)
		}

		events, next, done, err := d.advance(ctx, stop)
		out.Events = append(out.Events, events...)
		if err != nil {
			return out, err
		}
		if done {
			return out, nil
		}
		stop = next
	}
}

// advance executes exactly one logical step: it classifies the source
// line at stop, decides which debugger command to issue, and returns the
// TraceEvents produced plus the next StopFrame.
func (d *Driver) advance(ctx context.Context, stop StopFrame) (events []Event, next StopFrame, done bool, err error) {
	cur := d.top()
	line := d.lineText(stop.File, stop.Line)
	kind := classifyLine(line)
	if name, _, ok := splitCall(strings.TrimSpace(line)); ok && d.cfg.isFreeWrapper(name) {
		kind = lineFreeCall
	}

	if cur != nil {
		events = append(events, d.handleLoopHead(cur, kind, stop)...)
	}

	if name, argText, ok := splitCall(strings.TrimSpace(line)); ok && d.cfg.isAllocWrapper(name) {
		// A bare allocation-wrapper statement with no receiving
		// assignment: the Ownership Tracker's initialization rule treats
		// a discarded allocation result as an immediate MissingFree, so
		// the accompanying Return carries no ReturnHolder.
		events = append(events, d.emitAllocation(name, argText, "", stop)...)
		n, err := d.adapter.Step(ctx)
		if err != nil {
			return events, StopFrame{}, false, err
		}
		if n.Exited {
			events = append(events, d.closeAllFrames()...)
			return events, StopFrame{}, true, nil
		}
		return events, n, false, nil
	}

	switch kind {
	case lineFreeCall:
		name, argText, _ := splitCall(line)
		if d.cfg.isFreeWrapper(name) {
			n, err := d.adapter.Next(ctx)
			if err != nil {
				return nil, StopFrame{}, false, err
			}
			ev := FreeEvent(Free{File: stop.File, Line: stop.Line, ArgumentExpr: strings.TrimSpace(argText)})
			events = append(events, d.recordOrEmit(ev)...)
			if n.Exited {
				events = append(events, d.closeAllFrames()...)
			} else {
				events = append(events, d.handleTransition(ctx, stop, n)...)
			}
			return events, d.handleStop(n, cur), n.Exited, nil
		}

	case lineAssign:
		lhs, rhs, isDecl, _ := splitAssignment(line)
		if cur != nil {
			if isDecl && cur.locals != nil {
				cur.locals[lhs] = true
			}
		}
		if name, argText, ok := splitCall(rhs); ok {
			if d.cfg.isAllocWrapper(name) {
				events = append(events, d.emitAllocation(name, argText, lhs, stop)...)
			}
			// Any other call-valued RHS (lhs = someFunc(...)) produces no
			// event here: the callee's Enter/Return sequence, driven by
			// handleTransition, is what carries the allocation (if any)
			// back through lhs as ReturnHolder. Emitting a plain Assign
			// here would make owner.handleAssign see RHS="someFunc(...)"
			// as an unresolvable expression and spuriously kill any
			// existing root on lhs before the call even runs.
		} else if isPureAccessPath(rhs) {
			events = append(events, d.recordOrEmit(AliasEvent(Alias{File: stop.File, Line: stop.Line, LHS: lhs, RHS: rhs}))...)
		} else {
			events = append(events, d.recordOrEmit(AssignEvent(Assign{
				File: stop.File, Line: stop.Line, LHS: lhs, RHS: rhs, IsDeclaration: isDecl,
			}))...)
		}

	case lineCond:
		events = append(events, d.recordOrEmit(CondEvent(Cond{File: stop.File, Line: stop.Line, Taken: true, Text: line}))...)

	case lineScopeClose:
		if cur != nil && len(cur.locals) > 0 {
			names := make([]string, 0, len(cur.locals))
			for n := range cur.locals {
				names = append(names, n)
			}
			events = append(events, d.recordOrEmit(ScopeExitEvent(ScopeExit{File: stop.File, Line: stop.Line, BindingsDying: names}))...)
			cur.locals = map[string]bool{}
		}
	}

	n, err := d.adapter.Step(ctx)
	if err != nil {
		return events, StopFrame{}, false, err
	}
	if n.Exited {
		events = append(events, d.closeAllFrames()...)
		return events, StopFrame{}, true, nil
	}

	transitionEvents := d.handleTransition(ctx, stop, n)
	events = append(events, transitionEvents...)
	return events, n, false, nil
}

// emitAllocation handles a call to malloc/calloc/realloc: tag the Enter
// with the runtime address, and lower realloc(p,n) into Free(p) followed
// by the new allocation's Enter (spec §9, resolved Open Question). holder
// is the assignment's LHS, or "" when the result is discarded — carried
// on the accompanying Return as ReturnHolder, which is what
// internal/owner's initialization rule seeds the first root from.
func (d *Driver) emitAllocation(name, argText, holder string, stop StopFrame) []Event {
	var out []Event
	if name == "realloc" {
		args := splitTopLevelArgs(argText)
		if len(args) > 0 {
			out = append(out, d.recordOrEmit(FreeEvent(Free{File: stop.File, Line: stop.Line, ArgumentExpr: strings.TrimSpace(args[0])}))...)
		}
	}

	addr := d.readAllocAddr(stop)
	out = append(out, d.recordOrEmit(EnterEvent(Enter{
		Function: name, File: stop.File, Line: stop.Line, AllocAddr: addr,
	}))...)
	out = append(out, d.recordOrEmit(ReturnEvent(Return{Function: name, Line: stop.Line, ReturnHolder: holder}))...)
	return out
}

// readAllocAddr asks the debugger for the just-returned allocation
// address. Best-effort: a failure to parse yields 0, which simply means
// the trace carries no runtime-address hint for disambiguating repeated
// allocations at the same call site (the tracker falls back to
// occurrence ordering via ExecTrace.SubTraceFrom).
func (d *Driver) readAllocAddr(stop StopFrame) uint64 {
	raw, err := d.adapter.Print(context.Background(), "$ret")
	if err != nil || raw == "" {
		return 0
	}
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	v, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return 0
	}
	return v
}

// handleTransition emits Enter/Return for a call-depth change observed
// between two consecutive stops.
func (d *Driver) handleTransition(ctx context.Context, prev, cur StopFrame) []Event {
	switch {
	case cur.Depth > prev.Depth:
		fv, err := d.cache.FunctionViewAt(cur.File, cur.Line)
		opaque := err != nil
		bindings := d.argBindings(prev, cur, fv)
		d.pushFrame(cur.Function, cur.File, cur.Depth, prev.File, prev.Line)
		return d.recordOrEmit(EnterEvent(Enter{
			Function: cur.Function, File: cur.File, Line: cur.Line,
			ArgBindings: bindings, Opaque: opaque,
			CallerFile: prev.File, CallerLine: prev.Line,
		}))

	case cur.Depth < prev.Depth:
		var events []Event
		for len(d.frames) > 0 && d.frames[len(d.frames)-1].depth > cur.Depth {
			popped := d.popFrame()
			for _, ev := range flushLoop(popped) {
				events = append(events, d.recordOrEmit(ev)...)
			}
			events = append(events, d.recordOrEmit(ReturnEvent(Return{
				Function: popped.function, Line: prev.Line,
				ReturnExpr:   d.returnExpr(prev),
				ReturnHolder: d.returnHolder(popped.callerFile, popped.callerLine),
			}))...)
		}
		return events
	}
	return nil
}

// handleStop is used after a step-over (Next) for a free-wrapper call,
// where no Enter/Return pair is emitted for the callee at all; it returns
// the stop the step-over reached. A frame the step-over itself unwound
// (e.g. the free() call was the frame's last statement) is reconciled by
// the handleTransition call advance makes just before it.
func (d *Driver) handleStop(n StopFrame, cur *frameState) StopFrame {
	return n
}

func (d *Driver) argBindings(caller, callee StopFrame, fv source.FunctionView) []ArgBinding {
	callLine := d.lineText(caller.File, caller.Line)
	_, argText, ok := splitCall(callLine)
	if !ok {
		return nil
	}
	args := splitTopLevelArgs(argText)
	params := paramNames(fv.Signature)
	var out []ArgBinding
	for i, p := range params {
		if i < len(args) {
			out = append(out, ArgBinding{Param: p, Expr: strings.TrimSpace(args[i])})
		}
	}
	return out
}

// returnExpr reads the callee's own last-executed line (at, the StopFrame
// just before the pop) and extracts the expression named in its `return
// expr;` statement, if any.
func (d *Driver) returnExpr(at StopFrame) string {
	s := strings.TrimSpace(d.lineText(at.File, at.Line))
	if strings.HasPrefix(s, "return") {
		return strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(s, "return")), ";")
	}
	return ""
}

// returnHolder reads the call site in the *caller* — captured on the
// frame at push time, not the callee's own line — and extracts the
// receiving variable of `lhs = call(...);`, if the call was made in an
// assignment context. This is what lets internal/owner's rebind path
// (handleReturn) recover the variable a returned allocation is handed
// back through.
func (d *Driver) returnHolder(callerFile string, callerLine int) string {
	if callerFile == "" {
		return ""
	}
	s := strings.TrimSpace(d.lineText(callerFile, callerLine))
	lhs, rhs, _, ok := splitAssignment(s)
	if !ok {
		return ""
	}
	if _, _, isCall := splitCall(rhs); !isCall {
		return ""
	}
	return lhs
}

func (d *Driver) lineText(file string, line int) string {
	f, err := d.cache.Load(file)
	if err != nil {
		return ""
	}
	return f.GetLine(line)
}

func (d *Driver) pushFrame(function, file string, depth int, callerFile string, callerLine int) {
	d.frames = append(d.frames, frameState{
		function: function, file: file, depth: depth, locals: map[string]bool{},
		callerFile: callerFile, callerLine: callerLine,
	})
}

func (d *Driver) popFrame() frameState {
	f := d.frames[len(d.frames)-1]
	d.frames = d.frames[:len(d.frames)-1]
	return f
}

func (d *Driver) top() *frameState {
	if len(d.frames) == 0 {
		return nil
	}
	return &d.frames[len(d.frames)-1]
}

// recordOrEmit threads an event through the current frame's loop
// grouping, if one is open (spec §4.C.2: repeated visits to a source
// line inside the same frame are grouped into LoopIter): while a loop is
// open, every event is buffered into the loop's body instead of being
// emitted directly, to be released as one LoopIterEvent by
// handleLoopHead on the next revisit of the loop head (or by flushLoop
// when the frame closes first).
func (d *Driver) recordOrEmit(ev Event) []Event {
	if cur := d.top(); cur != nil && cur.loop != nil {
		cur.loop.body = append(cur.loop.body, ev)
		return nil
	}
	return []Event{ev}
}

// handleLoopHead detects revisits to a for/while line within the same
// frame and groups the events executed between two consecutive visits
// into a LoopIterEvent (spec §4.C.2). The first visit opens the loop;
// each subsequent visit to the same (file, line) flushes the buffered
// body of the iteration that just finished. Only one loop is tracked
// per frame — a different loop head line seen while one is already open
// is ignored, since the Driver's line classification has no way to tell
// whether it's a nested loop or a sibling one at the same depth.
func (d *Driver) handleLoopHead(cur *frameState, kind lineKind, stop StopFrame) []Event {
	if kind != lineLoopHead {
		return nil
	}
	if cur.loop == nil {
		cur.loop = &loopState{headFile: stop.File, headLine: stop.Line}
		return nil
	}
	if cur.loop.headFile != stop.File || cur.loop.headLine != stop.Line {
		return nil
	}
	if len(cur.loop.body) == 0 {
		return nil
	}
	ev := LoopIterEvent(LoopIter{
		File: cur.loop.headFile, Line: cur.loop.headLine,
		IterationIndex: cur.loop.iteration,
		BodyEvents:     cur.loop.body,
	})
	cur.loop.iteration++
	cur.loop.body = nil
	return []Event{ev}
}

// flushLoop returns the final, possibly-partial iteration a frame's loop
// had buffered when the frame closed, so events that ran mid-loop are
// never silently dropped (spec §4.C.2: "exactly the iterations actually
// executed are emitted").
func flushLoop(f frameState) []Event {
	if f.loop == nil || len(f.loop.body) == 0 {
		return nil
	}
	return []Event{LoopIterEvent(LoopIter{
		File: f.loop.headFile, Line: f.loop.headLine,
		IterationIndex: f.loop.iteration,
		BodyEvents:     f.loop.body,
	})}
}

// closeAllFrames synthesizes a Return for every open frame, innermost
// first, for cancellation or program-exit cleanup (spec §4.C
// Cancellation).
func (d *Driver) closeAllFrames() []Event {
	var out []Event
	for len(d.frames) > 0 {
		f := d.popFrame()
		out = append(out, flushLoop(f)...)
		out = append(out, ReturnEvent(Return{Function: f.function}))
	}
	return out
}

// splitTopLevelArgs splits a call's argument text on top-level commas
// (not nested inside parens/brackets).
func splitTopLevelArgs(argText string) []string {
	var args []string
	depth := 0
	start := 0
	for i := 0; i < len(argText); i++ {
		switch argText[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, argText[start:i])
				start = i + 1
			}
		}
	}
	if start < len(argText) {
		args = append(args, argText[start:])
	}
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	if len(args) == 1 && args[0] == "" {
		return nil
	}
	return args
}

// paramNames extracts parameter names from a "name(type a, type *b)"
// style signature, best-effort (spec §4.B: the context extractor does
// not parse types, so this takes the trailing identifier of each
// comma-separated parameter).
func paramNames(signature string) []string {
	open := strings.IndexByte(signature, '(')
	close := strings.LastIndexByte(signature, ')')
	if open < 0 || close <= open {
		return nil
	}
	raw := signature[open+1 : close]
	if strings.TrimSpace(raw) == "void" || strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := splitTopLevelArgs(raw)
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		fields := strings.Fields(strings.ReplaceAll(p, "*", " * "))
		if len(fields) == 0 {
			continue
		}
		names = append(names, fields[len(fields)-1])
	}
	return names
}

// Package classify is the final checkpoint before a RootCause is handed to
// the diagnosis layer (spec §4.E). It re-derives, from the same sub-trace
// the tracker consumed, whether the post-conditions for the claimed Kind
// actually hold — a second, independent read of the trace against a
// narrower set of closed-form rules, grounded on the teacher's
// DiagnosticCategory/DiagnosticLevel pairing style in
// internal/diagnostics: a small closed enum plus a verifying method rather
// than free-form validation.
package classify

import (
	"github.com/hooop/vex/internal/errs"
	"github.com/hooop/vex/internal/owner"
	"github.com/hooop/vex/internal/trace"
)

// Confirm checks cause against the witness event it claims emptied the
// root set. It does not re-run ownership tracking; it verifies the single
// structural fact the Kind depends on, reading backward from cause.Line
// and cause.WitnessEventKind into sub. Disagreement returns
// Inconclusive(ClassifierMismatch) rather than a silently-adjusted cause
// (spec §4.E: the classifier never repairs a bad cause, only rejects it).
//
// A Return witness is checked by existence rather than by line: a
// trace.Return event carries the callee's own line (and no file at all),
// while cause.Line/cause.File for a Return-caused cause name the call
// site in the caller (see owner.handleReturn) — the two can never be
// compared directly, so the classifier instead confirms some Return
// event actually unwound a frame in this sub-trace.
func Confirm(cause owner.RootCause, sub trace.ExecTrace) (owner.RootCause, error) {
	if cause.WitnessEventKind == "Return" {
		if !anyReturn(sub.Events) {
			return owner.RootCause{}, mismatch(cause, "no Return event unwound a frame in this sub-trace")
		}
		return cause, nil
	}

	witness, ok := findWitness(sub, cause)
	if !ok {
		return owner.RootCause{}, errs.Inconclusive(errs.ReasonClassifierMism, map[string]interface{}{
			"reason": "no event at the claimed witness location",
			"line":   cause.Line,
			"kind":   cause.WitnessEventKind,
		})
	}

	switch cause.Kind {
	case owner.MissingFree:
		if ok := checkMissingFree(witness); !ok {
			return owner.RootCause{}, mismatch(cause, "witness event does not end a scope or the trace without a free")
		}
	case owner.PathLossByReassignment:
		if ok := checkPathLoss(witness); !ok {
			return owner.RootCause{}, mismatch(cause, "witness event is not an Assign or Return that drops every remaining root")
		}
	case owner.ContainerFreedFirst:
		if ok := checkContainerFreedFirst(witness); !ok {
			return owner.RootCause{}, mismatch(cause, "witness event is not a Free of a dominating container")
		}
	default:
		return owner.RootCause{}, mismatch(cause, "unrecognized leak kind")
	}

	return cause, nil
}

func mismatch(cause owner.RootCause, reason string) error {
	return errs.Inconclusive(errs.ReasonClassifierMism, map[string]interface{}{
		"reason": reason,
		"kind":   cause.Kind.String(),
		"line":   cause.Line,
	})
}

// findWitness returns the event at cause.Line whose Kind string matches
// cause.WitnessEventKind, searching LoopIter bodies recursively. Never
// called for a Return witness; see Confirm. An Assign witness may also be
// an allocation Enter/Return pair whose Return names a holder: the tracker
// reads such a pair as a plain overwrite of that holder, so it is returned
// here as the equivalent Assign event.
func findWitness(sub trace.ExecTrace, cause owner.RootCause) (trace.Event, bool) {
	return findWitnessIn(sub.Events, cause)
}

// allocFunctions are the allocation functions whose Enter/Return pair the
// tracker treats as an overwrite of the Return's holder.
var allocFunctions = map[string]bool{"malloc": true, "calloc": true, "realloc": true}

func findWitnessIn(events []trace.Event, cause owner.RootCause) (trace.Event, bool) {
	for i, ev := range events {
		if ev.Kind.String() == cause.WitnessEventKind && eventLine(ev) == cause.Line {
			return ev, true
		}
		if cause.WitnessEventKind == trace.KindAssign.String() && ev.Kind == trace.KindEnter &&
			allocFunctions[ev.Enter.Function] && ev.Enter.Line == cause.Line &&
			i+1 < len(events) && events[i+1].Kind == trace.KindReturn && events[i+1].Return.ReturnHolder != "" {
			return trace.AssignEvent(trace.Assign{
				File: ev.Enter.File, Line: ev.Enter.Line, LHS: events[i+1].Return.ReturnHolder,
			}), true
		}
		if ev.Kind == trace.KindLoopIter {
			if found, ok := findWitnessIn(ev.LoopIter.BodyEvents, cause); ok {
				return found, true
			}
		}
	}
	return trace.Event{}, false
}

func eventLine(ev trace.Event) int {
	switch ev.Kind {
	case trace.KindEnter:
		return ev.Enter.Line
	case trace.KindReturn:
		return ev.Return.Line
	case trace.KindAssign:
		return ev.Assign.Line
	case trace.KindAlias:
		return ev.Alias.Line
	case trace.KindFree:
		return ev.Free.Line
	case trace.KindCond:
		return ev.Cond.Line
	case trace.KindLoopIter:
		return ev.LoopIter.Line
	case trace.KindScopeExit:
		return ev.ScopeExit.Line
	default:
		return -1
	}
}

func checkMissingFree(ev trace.Event) bool {
	return ev.Kind == trace.KindScopeExit && len(ev.ScopeExit.BindingsDying) > 0
}

func checkPathLoss(ev trace.Event) bool {
	return ev.Kind == trace.KindAssign
}

func checkContainerFreedFirst(ev trace.Event) bool {
	return ev.Kind == trace.KindFree
}

func anyReturn(events []trace.Event) bool {
	for _, ev := range events {
		if ev.Kind == trace.KindReturn {
			return true
		}
		if ev.Kind == trace.KindLoopIter && anyReturn(ev.LoopIter.BodyEvents) {
			return true
		}
	}
	return false
}

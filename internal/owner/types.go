// Package owner is the ownership tracker — the heart of the system (spec
// §4.D). Given one LeakRecord and the ExecTrace restricted to frames
// reachable from main, it returns exactly one RootCause or an
// Inconclusive error naming the missing precondition. It performs no I/O
// and never suspends: it is a pure function of its two inputs.
package owner

import "strings"

// SegmentKind discriminates one AccessPath segment.
type SegmentKind int

const (
	SegField  SegmentKind = iota // ".f"
	SegArrow                     // "->f"
	SegIndex                     // "[i]"
)

// Segment is one field-access or indirection step past the base name.
type Segment struct {
	Kind  SegmentKind
	Field string // for SegField/SegArrow
	Index string // for SegIndex, the index expression text verbatim
}

func (s Segment) String() string {
	switch s.Kind {
	case SegField:
		return "." + s.Field
	case SegArrow:
		return "->" + s.Field
	case SegIndex:
		return "[" + s.Index + "]"
	default:
		return ""
	}
}

// AccessPath is a non-empty ordered sequence beginning with a live local
// or parameter name and continuing with field-access or indirection
// segments. Two paths are equal if their normalized segment sequences are
// equal (spec §3 Root) — comparison is always structural, never by
// runtime pointer identity (Design Notes §9, cyclic structures).
type AccessPath struct {
	Base     string
	Segments []Segment
}

// ParseAccessPath parses a source-level lvalue/rvalue expression such as
// "p", "q->k", "node->data", "arr[4]", "c.f" into an AccessPath. Returns
// ok=false if expr is not a pure access-path expression (a call,
// arithmetic, or literal).
func ParseAccessPath(expr string) (AccessPath, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return AccessPath{}, false
	}
	if !isIdentStartByte(expr[0]) {
		return AccessPath{}, false
	}

	i := 0
	for i < len(expr) && isIdentByte(expr[i]) {
		i++
	}
	path := AccessPath{Base: expr[:i]}

	for i < len(expr) {
		switch {
		case strings.HasPrefix(expr[i:], "->"):
			i += 2
			start := i
			for i < len(expr) && isIdentByte(expr[i]) {
				i++
			}
			if start == i {
				return AccessPath{}, false
			}
			path.Segments = append(path.Segments, Segment{Kind: SegArrow, Field: expr[start:i]})
		case expr[i] == '.':
			i++
			start := i
			for i < len(expr) && isIdentByte(expr[i]) {
				i++
			}
			if start == i {
				return AccessPath{}, false
			}
			path.Segments = append(path.Segments, Segment{Kind: SegField, Field: expr[start:i]})
		case expr[i] == '[':
			close := strings.IndexByte(expr[i:], ']')
			if close < 0 {
				return AccessPath{}, false
			}
			idx := expr[i+1 : i+close]
			path.Segments = append(path.Segments, Segment{Kind: SegIndex, Index: strings.TrimSpace(idx)})
			i += close + 1
		default:
			return AccessPath{}, false
		}
	}
	return path, true
}

func isIdentStartByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// String reconstructs the canonical source-level rendering.
func (p AccessPath) String() string {
	var b strings.Builder
	b.WriteString(p.Base)
	for _, s := range p.Segments {
		b.WriteString(s.String())
	}
	return b.String()
}

// Equal reports whether two access paths name the same normalized
// segment sequence.
func (p AccessPath) Equal(other AccessPath) bool {
	if p.Base != other.Base || len(p.Segments) != len(other.Segments) {
		return false
	}
	for i := range p.Segments {
		if p.Segments[i] != other.Segments[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a strict prefix of p — i.e. p
// reaches into prefix's container (e.g. "c->f" has prefix "c").
func (p AccessPath) HasPrefix(prefix AccessPath) bool {
	if p.Base != prefix.Base || len(p.Segments) <= len(prefix.Segments) {
		return false
	}
	for i := range prefix.Segments {
		if p.Segments[i] != prefix.Segments[i] {
			return false
		}
	}
	return true
}

// WithBase returns a copy of p with its base variable renamed, keeping
// all segments — used when rebinding a root across a return or alias.
func (p AccessPath) WithBase(base string) AccessPath {
	segs := make([]Segment, len(p.Segments))
	copy(segs, p.Segments)
	return AccessPath{Base: base, Segments: segs}
}

// OriginKind discriminates a Root's origin tag.
type OriginKind int

const (
	OriginAllocation OriginKind = iota // the root was born when the allocation was created
	OriginAlias                        // the root was derived from another root, named by AliasOf
)

// Origin records how a root came to exist (spec §3 Root).
type Origin struct {
	Kind    OriginKind
	AliasOf AccessPath
}

// Root is one live access path the tracker believes currently reaches
// the allocation under analysis.
type Root struct {
	Path   AccessPath
	Origin Origin
	Scope  int // the owning frame's id; see frameRec.id
}

// Kind is the classifier's closed leak-kind set (spec §3).
type Kind int

const (
	MissingFree Kind = iota
	PathLossByReassignment
	ContainerFreedFirst
)

func (k Kind) String() string {
	switch k {
	case MissingFree:
		return "MissingFree"
	case PathLossByReassignment:
		return "PathLossByReassignment"
	case ContainerFreedFirst:
		return "ContainerFreedFirst"
	default:
		return "Unknown"
	}
}

// RootCause is the tracker's verdict for one allocation.
type RootCause struct {
	File             string
	Line             int
	Kind             Kind
	LastRootsAtLeak  []AccessPath
	WitnessEventKind string // the trace.Kind.String() of the event that emptied R
}

package trace

import "strings"

// lineKind is a coarse syntactic classification of one C statement's
// source text, used to turn a debugger stop location into the right
// TraceEvent shape. It is a heuristic, text-level classification — the
// tracer reasons about expressions as written, never about runtime
// values beyond branch direction and allocation identity (spec §4.C.4).
type lineKind int

const (
	lineOther lineKind = iota
	lineAssign
	lineFreeCall
	lineCond
	lineReturn
	lineScopeClose
	lineLoopHead
)

func classifyLine(text string) lineKind {
	s := strings.TrimSpace(text)
	if s == "" {
		return lineOther
	}
	if s == "}" || strings.HasPrefix(s, "} ") {
		return lineScopeClose
	}
	if strings.HasPrefix(s, "if") || strings.HasPrefix(s, "else if") || strings.HasPrefix(s, "switch") {
		return lineCond
	}
	if strings.HasPrefix(s, "for") || strings.HasPrefix(s, "while") {
		return lineLoopHead
	}
	if strings.HasPrefix(s, "return") {
		return lineReturn
	}
	if name, _, ok := splitCall(s); ok && isFreeWrapperName(name) {
		return lineFreeCall
	}
	if lhs, rhs, isDecl, ok := splitAssignment(s); ok {
		_ = lhs
		_ = rhs
		_ = isDecl
		return lineAssign
	}
	return lineOther
}

// isFreeWrapperName is overridden per-Driver via Config.FreeWrappers; this
// default recognizes only the literal "free" (spec §9 Open Questions:
// user-defined wrappers not on the configured list are conservatively
// modeled as doing nothing, so the Driver consults its own Config list
// rather than this package-level default when deciding whether to
// descend into a call).
func isFreeWrapperName(name string) bool {
	return name == "free"
}

// splitCall recognizes `name(args)` possibly followed by `;`, returning
// the callee name and the raw (unparsed) argument text.
func splitCall(s string) (name, args string, ok bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), ";")
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", "", false
	}
	candidate := s[:open]
	for i := 0; i < len(candidate); i++ {
		c := candidate[i]
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return "", "", false
		}
	}
	if candidate == "" {
		return "", "", false
	}
	return candidate, s[open+1 : len(s)-1], true
}

// splitAssignment recognizes `lhs = rhs;` (and `type lhs = rhs;`
// declarations), rejecting `==`, `!=`, `<=`, `>=` and compound-assignment
// operators aren't handled — those are out of scope for leak tracking,
// which only cares about pointer-valued assignment.
func splitAssignment(s string) (lhs, rhs string, isDecl bool, ok bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), ";")
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(s) && s[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && (s[i-1] == '!' || s[i-1] == '<' || s[i-1] == '>' || s[i-1] == '+' || s[i-1] == '-' || s[i-1] == '*' || s[i-1] == '/') {
				return "", "", false, false
			}
			left := strings.TrimSpace(s[:i])
			right := strings.TrimSpace(s[i+1:])
			if left == "" || right == "" {
				return "", "", false, false
			}
			decl := looksLikeDeclaration(left)
			return normalizeLHS(left), right, decl, true
		}
	}
	return "", "", false, false
}

// looksLikeDeclaration reports whether lhs text includes a type
// specifier/pointer star before the variable name, e.g. "char *t" vs "t".
func looksLikeDeclaration(lhs string) bool {
	fields := strings.Fields(strings.ReplaceAll(lhs, "*", " * "))
	return len(fields) > 1
}

// normalizeLHS strips a leading type/pointer-star declaration prefix,
// leaving just the access-path text ("char *t" -> "t", "p->k" -> "p->k").
func normalizeLHS(lhs string) string {
	if !looksLikeDeclaration(lhs) {
		return lhs
	}
	fields := strings.Fields(strings.ReplaceAll(lhs, "*", " * "))
	return fields[len(fields)-1]
}

// isPureAccessPath reports whether rhs is a plain variable/field/index
// access with no call or arithmetic — the Alias subset of Assign (spec
// §3 TraceEvent table).
func isPureAccessPath(rhs string) bool {
	rhs = strings.TrimSpace(rhs)
	if rhs == "" {
		return false
	}
	for i := 0; i < len(rhs); i++ {
		c := rhs[i]
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
		case c == '.' || c == '[' || c == ']':
		case c == '-' && i+1 < len(rhs) && rhs[i+1] == '>':
		case c == '>' && i > 0 && rhs[i-1] == '-':
		default:
			return false
		}
	}
	return true
}

package source

// SyntacticExtractor is the external-collaborator interface for a real
// multi-line C syntactic extractor (a clang-AST or tree-sitter backed
// implementation), per spec §1: its interface is specified, its
// internals are not. Extractor above is the default, line-oriented
// implementation that satisfies this interface for single-function
// bodies; a richer implementation can be substituted without changing
// any caller.
type SyntacticExtractor interface {
	// Extract returns the FunctionView enclosing (file, line), or
	// ErrUnresolved if it cannot be determined.
	Extract(f *File, line int) (FunctionView, error)
}

var _ SyntacticExtractor = (*Extractor)(nil)

// Package source extracts the FunctionView enclosing a given source
// location: the function's signature, file, line range, and body text
// (spec §4.B). It partitions C source into top-level functions by
// brace-balanced scanning; it does not parse types.
package source

import "strings"

// Line is one (1-based line number, verbatim text) pair.
type Line struct {
	No   int
	Text string
}

// FunctionView is the enclosing function body delivered to the dynamic
// tracer, which reads parameter names from it and marks a frame opaque
// when none can be extracted.
type FunctionView struct {
	Signature string
	File      string
	StartLine int
	EndLine   int
	BodyLines []Line
}

// Contains reports whether line falls within this function's body.
func (fv FunctionView) Contains(line int) bool {
	return line >= fv.StartLine && line <= fv.EndLine
}

// Text reconstructs the verbatim body text from BodyLines.
func (fv FunctionView) Text() string {
	var b strings.Builder
	for i, l := range fv.BodyLines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Text)
	}
	return b.String()
}

// File is a loaded source file: its raw content plus a line index for
// O(1) line access, mirroring the teacher's position.SourceFile.
type File struct {
	Path    string
	Content string
	Lines   []string
}

func NewFile(path, content string) *File {
	return &File{Path: path, Content: content, Lines: strings.Split(content, "\n")}
}

func (f *File) GetLine(n int) string {
	if n < 1 || n > len(f.Lines) {
		return ""
	}
	return f.Lines[n-1]
}

func (f *File) LineCount() int {
	return len(f.Lines)
}

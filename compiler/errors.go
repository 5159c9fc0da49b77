package compiler

import "fmt"

// SyntaxError is raised when the lexer or parser refuses its input. It
// carries the extent of the offending token and the grammar rule that was
// being parsed. The first error terminates parsing; there is no recovery.
type SyntaxError struct {
	Extent Extent
	Rule   string
	Msg    string
}

func (e *SyntaxError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s: %s in %s", e.Extent, e.Msg, e.Rule)
	}
	return fmt.Sprintf("%s: %s", e.Extent, e.Msg)
}

func syntaxErrorf(extent Extent, rule, format string, args ...any) *SyntaxError {
	return &SyntaxError{Extent: extent, Rule: rule, Msg: fmt.Sprintf(format, args...)}
}

package parser

import "fmt"

// ErrorKind classifies parse failures.
type ErrorKind int

const (
	// MalformedAlert: the text matched a rule but not the line shape it needs
	MalformedAlert ErrorKind = iota + 1
	// UnresolvedIndex: neither the text nor the context names an index
	UnresolvedIndex
)

func (k ErrorKind) String() string {
	switch k {
	case MalformedAlert:
		return "MalformedAlert"
	case UnresolvedIndex:
		return "UnresolvedIndex"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ParseError is returned when a message cannot become an instruction.
type ParseError struct {
	Kind   ErrorKind
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (%s): %s", e.Kind, e.Reason)
}

// Is matches on Kind, so errors.Is(err, ErrUnresolvedIndex) works.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrMalformedAlert  = &ParseError{Kind: MalformedAlert}
	ErrUnresolvedIndex = &ParseError{Kind: UnresolvedIndex}
)

func malformed(format string, args ...any) *ParseError {
	return &ParseError{Kind: MalformedAlert, Reason: fmt.Sprintf(format, args...)}
}

func unresolved(reason string) *ParseError {
	return &ParseError{Kind: UnresolvedIndex, Reason: reason}
}

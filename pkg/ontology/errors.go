package ontology

import (
	"fmt"
	"strings"
)

// MalformedDocumentError reports a syntax error in an ontology document.
// Line and Column are 1-based, Offset is the 0-based byte offset.
type MalformedDocumentError struct {
	Line   int
	Column int
	Offset int
	Msg    string
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed ontology document at line %d, column %d (offset %d): %s",
		e.Line, e.Column, e.Offset, e.Msg)
}

// UnsupportedConstructError reports an ontology feature outside the supported
// subset, such as anonymous class expressions or property restrictions.
type UnsupportedConstructError struct {
	Construct string
	Line      int
	Column    int
	Offset    int
}

func (e *UnsupportedConstructError) Error() string {
	return fmt.Sprintf("unsupported ontology construct %s at line %d, column %d",
		e.Construct, e.Line, e.Column)
}

// CycleDetectedError reports a cycle in the class hierarchy. Cycle lists the
// class identifiers along the cycle; the first element is repeated at the end.
type CycleDetectedError struct {
	Cycle []string
}

func (e *CycleDetectedError) Error() string {
	return "cycle detected in class hierarchy: " + strings.Join(e.Cycle, " -> ")
}

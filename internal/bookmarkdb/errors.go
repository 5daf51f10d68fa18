package bookmarkdb

import "fmt"

// ValidationError reports a malformed call: an unknown column or a value
// whose runtime type does not match the column's declared type. It is the
// only error the controller ever returns to callers; storage failures
// degrade silently per the package contract.
type ValidationError struct {
	Table  string
	Column string
	Msg    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Msg)
}

func unknownColumn(table, column string) *ValidationError {
	return &ValidationError{Table: table, Column: column, Msg: "unknown column"}
}

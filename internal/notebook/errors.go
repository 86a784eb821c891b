package notebook

import "fmt"

// LoadError reports a notebook that could not be read or decoded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load notebook: %v", e.Err)
	}
	return fmt.Sprintf("load notebook %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// MalformedDocumentError reports a cell that lacks a required field.
type MalformedDocumentError struct {
	Index int
	Field string
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed notebook: cell %d is missing %q", e.Index, e.Field)
}

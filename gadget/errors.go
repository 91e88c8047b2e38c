package gadget

import "fmt"

// AnnotationError indicates a malformed or inconsistent matchi_* annotation.
// It is fatal: no simulation is attempted on a badly annotated design.
type AnnotationError struct {
	Module string
	Port   string
	Attr   string
	Reason string
}

func (e *AnnotationError) Error() string {
	where := e.Module
	if e.Port != "" {
		where += "." + e.Port
	}
	return fmt.Sprintf("gadget: %s: bad annotation %s: %s", where, e.Attr, e.Reason)
}

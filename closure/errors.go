package closure

import "fmt"

// UnsupportedDependencyError reports a discovered dependency that cannot
// travel with the closure: a class defined in another module, a runtime-only
// value bound as a global, or a literal that the wire encoding rejects.
// Surfaced at publish time; never retried.
type UnsupportedDependencyError struct {
	Name   string // the global binding that was being captured
	Kind   string // runtime kind of the offending value
	Reason string
}

func (e *UnsupportedDependencyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("closure: cannot capture dependency %q (%s): %s", e.Name, e.Kind, e.Reason)
	}
	return fmt.Sprintf("closure: cannot capture dependency %q (%s)", e.Name, e.Kind)
}

// ReconstructionError reports a blob that cannot be rebuilt: bad magic or
// version, an unknown node kind, a missing base class, or a module that is
// not registered in this process. Indicates version skew or corruption.
type ReconstructionError struct {
	Reason string
	Err    error
}

func (e *ReconstructionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("closure: cannot reconstruct: %s: %v", e.Reason, e.Err)
	}
	return "closure: cannot reconstruct: " + e.Reason
}

func (e *ReconstructionError) Unwrap() error {
	return e.Err
}

func reconstructErr(format string, args ...any) *ReconstructionError {
	return &ReconstructionError{Reason: fmt.Sprintf(format, args...)}
}

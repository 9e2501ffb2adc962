package packager

import "fmt"

// ResolutionError reports that the dependency collector could not resolve
// one or more imports of an entry file. Detail carries the collector's
// diagnostic, which names the unresolved import and the file requiring it.
type ResolutionError struct {
	Entry  string
	Detail string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve dependencies of %s: %s", e.Entry, e.Detail)
}

// IOError reports a filesystem failure during staging, stubbing or
// normalization.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// BuildError reports a failed archive construction step.
type BuildError struct {
	Dest string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building archive %s: %v", e.Dest, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

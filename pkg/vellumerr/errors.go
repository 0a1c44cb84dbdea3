// Package vellumerr collects the sentinel error kinds the back-end
// reports to its caller. There is no internal recovery: every pass
// either completes or returns one of these wrapped in context via
// fmt.Errorf("%w", ...).
package vellumerr

import "errors"

// Sentinel error kinds, one per fatal failure class of the pipeline.
var (
	// ErrBadIndex is returned when a GEP or struct-field query violates
	// its preconditions (non-immediate struct index, index past the end
	// of an aggregate, ...).
	ErrBadIndex = errors.New("bad index")

	// ErrBadType is returned when a type query is asked to act on a
	// type it cannot (e.g. element_ty on a scalar).
	ErrBadType = errors.New("bad type")

	// ErrUnmatchedPattern is returned when instruction selection finds
	// no rule for a DAG node.
	ErrUnmatchedPattern = errors.New("unmatched instruction selection pattern")

	// ErrSpillImpossible names the case where the register allocator
	// can't make further progress because every spill candidate is
	// already a short-lived reload. pkg/regalloc never returns it: its
	// reloads use reserved scratch registers rather than intervals, and
	// its scan can always spill the current interval.
	ErrSpillImpossible = errors.New("no further register to spill")

	// ErrInvariantViolation is returned, in every build, when pkg/mirgen
	// or pkg/finalize finds its input breaking an internal invariant (a
	// node left unselected, a register used before its definition, a
	// malformed operand). No pass runs a separate back-link, dominance or
	// terminator-count check.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Is reports whether err is, or wraps, one of the sentinel kinds above.
// It exists purely so callers can write vellumerr.Is(err, vellumerr.ErrBadIndex)
// without importing the stdlib errors package themselves.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

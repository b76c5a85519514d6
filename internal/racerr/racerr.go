// Package racerr declares the typed error kinds racgo surfaces across the
// lexer, parser, compiler, interpreter, and native backend. Each kind is a
// gopkg.in/src-d/go-errors.v1 Kind: callers classify failures with the
// Kind's own Is method (for example ErrParse.Is(err)) rather than
// type-asserting concrete structs, and every instance carries a stack trace
// from the point it was raised.
package racerr

import errors "gopkg.in/src-d/go-errors.v1"

var (
	// ErrParse covers lexing and parsing failures.
	ErrParse = errors.NewKind("parse error at %d:%d: %s")

	// ErrDuplicateDeclaration is raised when a variable path is declared
	// more than once in the merged module set (amendments excepted).
	ErrDuplicateDeclaration = errors.NewKind("duplicate declaration of %q")

	// ErrUnknownAmendmentTarget is raised when an amendment names a path
	// with no prior variable declaration.
	ErrUnknownAmendmentTarget = errors.NewKind("amendment targets unknown path %q")

	// ErrNoTemporalValue is raised when no interval covers the
	// compilation date for a declared variable.
	ErrNoTemporalValue = errors.NewKind("no value for %q at %s")

	// ErrFieldTypeConflict is raised when the same field is declared with
	// incompatible types across merged modules.
	ErrFieldTypeConflict = errors.NewKind("field %q.%q declared as both %s and %s")

	// ErrCircularDependency is raised when the dependency graph contains
	// a cycle; the message names one path on the cycle.
	ErrCircularDependency = errors.NewKind("circular dependency involving %q")

	// ErrUndefinedReference is raised at evaluation time when a Var path
	// is neither computed nor present on the current row.
	ErrUndefinedReference = errors.NewKind("undefined reference: %q")

	// ErrUnknownBuiltin is raised when a Call names a function outside
	// the fixed built-in table.
	ErrUnknownBuiltin = errors.NewKind("unknown built-in function: %q")

	// ErrNonExhaustiveMatch is raised when a Match has no matching
	// pattern and no default case.
	ErrNonExhaustiveMatch = errors.NewKind("non-exhaustive match: no case matched and no default")

	// ErrInvalidData is raised when an input row is missing a declared
	// non-nullable field, carries an out-of-range integer, or an FK
	// references an absent primary key.
	ErrInvalidData = errors.NewKind("invalid data: %s")

	// ErrBuildFailure is raised when the native backend's toolchain
	// invocation returns nonzero; the wrapped error carries the tool's
	// diagnostics verbatim.
	ErrBuildFailure = errors.NewKind("native build failed: %s")
)

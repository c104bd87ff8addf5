// Package errors classifies failures into the error kinds
// (Auth, NotFound, Transient, RangeConflict, Truncation, Schema,
// DuplicateSibling, PartialUpload), each a sentinel wrapped with
// github.com/pkg/errors so callers can both test kind (via errors.Is-style
// helpers below) and print a full cause chain.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package errors

import (
	"github.com/pkg/errors"
)

type Kind int

const (
	KindAuth Kind = iota
	KindNotFound
	KindTransient
	KindRangeConflict
	KindTruncation
	KindSchema
	KindDuplicateSibling
	KindPartialUpload
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not-found"
	case KindTransient:
		return "transient"
	case KindRangeConflict:
		return "range-conflict"
	case KindTruncation:
		return "truncation"
	case KindSchema:
		return "schema"
	case KindDuplicateSibling:
		return "duplicate-sibling"
	case KindPartialUpload:
		return "partial-upload"
	default:
		return "unknown"
	}
}

// KindError carries a Kind alongside the wrapped cause so the propagation
// policy ("recoverable errors are swallowed inside the component
// that can recover them; everything else is surfaced") can be implemented
// with a single type switch at the boundary.
type KindError struct {
	Kind  Kind
	cause error
}

func (e *KindError) Error() string { return e.Kind.String() + ": " + e.cause.Error() }
func (e *KindError) Unwrap() error { return e.cause }
func (e *KindError) Cause() error  { return e.cause }

func New(kind Kind, msg string) error {
	return &KindError{Kind: kind, cause: errors.New(msg)}
}

func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, cause: errors.Wrap(err, msg)}
}

// Is reports whether err (or anything it wraps) is a KindError of kind k.
func Is(err error, k Kind) bool {
	var ke *KindError
	for err != nil {
		if e, ok := err.(*KindError); ok {
			ke = e
			break
		}
		err = errors.Unwrap(err)
	}
	return ke != nil && ke.Kind == k
}

// Recoverable reports whether the error kind is one the component owning
// the operation should retry/swallow rather than surface.
func Recoverable(err error) bool {
	return Is(err, KindTransient) || Is(err, KindRangeConflict) || Is(err, KindTruncation) || Is(err, KindDuplicateSibling)
}

// Cause unwraps to the deepest github.com/pkg/errors cause, for logging.
func Cause(err error) error { return errors.Cause(err) }

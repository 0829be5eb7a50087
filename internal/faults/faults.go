// Package faults carries the error taxonomy shared by every component:
// validation, not-found, conflict and upstream-unavailable. Handlers use the
// kind to pick a user-visible outcome without matching on message text.
package faults

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream_unavailable"
	default:
		return "unknown"
	}
}

type Fault struct {
	Kind Kind
	// Status carries the current trip status on conflicting transitions so
	// callers can report it back to the client.
	Status string
	msg    string
	cause  error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return f.msg + ": " + f.cause.Error()
	}
	return f.msg
}

func (f *Fault) Unwrap() error { return f.cause }

func Validationf(format string, args ...any) error {
	return &Fault{Kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Fault{Kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Fault{Kind: KindConflict, msg: fmt.Sprintf(format, args...)}
}

// ConflictStatus is Conflictf with the current entity status attached.
func ConflictStatus(status, format string, args ...any) error {
	return &Fault{Kind: KindConflict, Status: status, msg: fmt.Sprintf(format, args...)}
}

func Upstreamf(format string, args ...any) error {
	return &Fault{Kind: KindUpstream, msg: fmt.Sprintf(format, args...)}
}

// Upstream wraps err as an upstream-unavailable fault, preserving the cause.
func Upstream(err error, msg string) error {
	return &Fault{Kind: KindUpstream, msg: msg, cause: err}
}

// KindOf extracts the fault kind from err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsUpstream(err error) bool   { return KindOf(err) == KindUpstream }

// StatusOf returns the attached entity status on a conflict fault.
func StatusOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Status
	}
	return ""
}

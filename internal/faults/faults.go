// Package faults carries the error taxonomy shared by the service layer and
// the HTTP boundary. Every public operation recovers into one of these kinds;
// the API maps kinds to response codes.
package faults

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	// KindConfig: a required setting is missing. Fatal to the operation,
	// never retried; the message names the missing setting.
	KindConfig Kind = "CONFIG"
	// KindValidation: malformed or missing request fields. Client fault.
	KindValidation Kind = "VALIDATION"
	// KindNotFound: a referenced entity (order, profile, directory row) is
	// not known locally. Client fault, often "run a sync first".
	KindNotFound Kind = "NOT_FOUND"
	// KindCarrier: non-success response or HTTP failure from the carrier.
	KindCarrier Kind = "CARRIER"
	// KindTimeout: the carrier call hit its deadline. Distinct from
	// KindCarrier so read-only calls can be retried on the next run.
	KindTimeout Kind = "TIMEOUT"
)

type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Kind() Kind { return e.kind }

func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// KindOf walks the wrap chain (pkg/errors compatible) and returns the kind of
// the innermost *Error, or "" when the error carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

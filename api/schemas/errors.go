// api/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind is the explicit discriminant for every failure that crosses the
// public Login/GetVehicleLocation boundary. Callers branch on the kind, never
// on message text.
type FailureKind string

const (
	// FailureTransient covers UI steps that did not land within their budget
	// (element missing, click not registered, menu not expanded). Retried
	// locally a bounded number of times before it is surfaced.
	FailureTransient FailureKind = "transient"
	// FailureServerDown means the remote portal itself is broken (HTTP error
	// signatures, page never ready, connection-level browser error). Never
	// retried locally; always propagated unmodified.
	FailureServerDown FailureKind = "server_down"
	// FailureConfigInvalid means authentication succeeded but the requested
	// plate is not in this account's visible fleet. KnownPlates carries the
	// plates that ARE visible so an operator can tell "wrong account" apart
	// from a transient lookup failure.
	FailureConfigInvalid FailureKind = "config_invalid"
	// FailureFatal covers construction failures (browser would not start) and
	// contract violations. No degraded mode exists.
	FailureFatal FailureKind = "fatal"
	// FailureExtraction means the detail text was captured but the mandatory
	// coordinates could not be parsed. RawText carries the captured text for
	// diagnosis of upstream UI changes.
	FailureExtraction FailureKind = "extraction"
)

// ScrapeError is the tagged failure type for the extraction engine.
type ScrapeError struct {
	Kind  FailureKind
	Op    string // operation label, e.g. "movilsat.login"
	Plate string // plate in flight when the failure occurred, if any

	// KnownPlates is populated for FailureConfigInvalid.
	KnownPlates []string
	// RawText is populated for FailureExtraction.
	RawText string

	Err error
}

func (e *ScrapeError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Plate != "" {
		fmt.Fprintf(&b, " [plate %s]", e.Plate)
	}
	if len(e.KnownPlates) > 0 {
		fmt.Fprintf(&b, " (visible plates: %s)", strings.Join(e.KnownPlates, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// NewScrapeError builds a tagged failure.
func NewScrapeError(kind FailureKind, op string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, Op: op, Err: err}
}

// NewServerDown builds the distinguished server-down failure. context names
// the check that tripped (URL, signature, step label).
func NewServerDown(op, context string) *ScrapeError {
	return &ScrapeError{Kind: FailureServerDown, Op: op, Err: errors.New(context)}
}

// NewConfigInvalid builds the "plate not in this account's fleet" failure.
func NewConfigInvalid(op, plate string, knownPlates []string) *ScrapeError {
	return &ScrapeError{Kind: FailureConfigInvalid, Op: op, Plate: plate, KnownPlates: knownPlates}
}

// NewExtractionFailure attaches the raw captured text verbatim.
func NewExtractionFailure(op, rawText string, err error) *ScrapeError {
	return &ScrapeError{Kind: FailureExtraction, Op: op, RawText: rawText, Err: err}
}

// KindOf extracts the failure kind from an error chain. Errors that are not
// ScrapeErrors classify as transient: they come from helpers that already
// exhausted their local retries.
func KindOf(err error) FailureKind {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return FailureTransient
}

// IsServerDown reports whether the error chain carries the server-down kind.
// Every caller treats this specially: propagate immediately, never retry.
func IsServerDown(err error) bool {
	return KindOf(err) == FailureServerDown
}

// Package export turns persona and ICP data into downloadable artifacts.
// All adapters are pure: they never mutate their input and never panic,
// every failure comes back as a typed *Error the caller can show directly.
package export

import "revintel/pkg/domain"

// ErrorKind classifies export failures.
type ErrorKind string

const (
	KindEmptyPayload ErrorKind = "empty_payload"
	KindRender       ErrorKind = "render"
)

// Error is the single failure shape shared by all export adapters.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func emptyErr(msg string) *Error {
	return &Error{Kind: KindEmptyPayload, Message: msg}
}

func renderErr(msg string) *Error {
	return &Error{Kind: KindRender, Message: msg}
}

// validatePayload rejects payloads that would produce a malformed artifact.
func validatePayload(p domain.ExportPayload) *Error {
	if len(p.Personas) == 0 {
		return emptyErr("no personas to export, generate an ICP analysis first")
	}
	return nil
}

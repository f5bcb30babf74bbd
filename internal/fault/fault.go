// Package fault classifies pipeline failures into a fixed set of kinds so the
// command and transport layers can report them without parsing messages.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the failure class of a pipeline error.
type Kind int

const (
	Unknown Kind = iota
	IO
	UnsupportedFormat
	UnsupportedCodec
	DecodeStream
	Resample
	Encode
	ModelLoad
	EngineInit
	EngineRun
)

var kindNames = map[Kind]string{
	Unknown:           "unknown",
	IO:                "io",
	UnsupportedFormat: "unsupported_format",
	UnsupportedCodec:  "unsupported_codec",
	DecodeStream:      "decode_stream",
	Resample:          "resample",
	Encode:            "encode",
	ModelLoad:         "model_load",
	EngineInit:        "engine_init",
	EngineRun:         "engine_run",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error lets a bare Kind be used as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// MarshalText renders the kind name for JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is a classified failure. Op names the step that failed, Detail is an
// optional human-readable hint.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a target Kind, so errors.Is(err, fault.ModelLoad) works through
// any amount of wrapping.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in the chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Package recovery lets callers choose how the parser reacts to
// damaged input: fail fast, or note the problem and keep going.
package recovery

import "fmt"

// Strategy decides what to do when the parser hits malformed data.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location pins an error to a byte offset and, when known, an object.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

// Action is the strategy's verdict.
type Action int

const (
	// ActionFail aborts parsing with the original error.
	ActionFail Action = iota
	// ActionSkip drops the offending object and continues.
	ActionSkip
)

// Strict fails on the first error.
type Strict struct{}

func (Strict) OnError(err error, _ Location) Action { return ActionFail }

// Lenient records every error and keeps going.
type Lenient struct {
	Errors []error
}

func (l *Lenient) OnError(err error, loc Location) Action {
	l.Errors = append(l.Errors, fmt.Errorf("%s at offset %d (obj %d %d): %w",
		loc.Component, loc.ByteOffset, loc.ObjectNum, loc.ObjectGen, err))
	return ActionSkip
}

// Package raw defines the low-level PDF object model used by the writer,
// the parser and the cross-reference machinery. Values are modeled as a
// closed set of concrete types behind the Object interface; consumers
// dispatch on the concrete type.
package raw

import "fmt"

// ObjectRef identifies an indirect PDF object by number and generation.
// Identity is by value.
type ObjectRef struct {
	Num int
	Gen int
}

// FreeGeneration is the generation number reserved for free-list
// terminator entries in a cross-reference section.
const FreeGeneration = 65535

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is implemented by every raw PDF value.
type Object interface {
	Kind() Kind
}

// Kind tags the concrete type of an Object.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindReal
	KindString
	KindName
	KindArray
	KindDict
	KindStream
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	case KindName:
		return "name"
	case KindArray:
		return "array"
	case KindDict:
		return "dictionary"
	case KindStream:
		return "stream"
	case KindRef:
		return "reference"
	}
	return "unknown"
}

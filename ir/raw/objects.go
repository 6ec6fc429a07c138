package raw

import (
	"sort"

	"golang.org/x/text/encoding/unicode"
)

// Null is the PDF null object.
type Null struct{}

func (Null) Kind() Kind { return KindNull }

// Bool is a PDF boolean.
type Bool bool

func (Bool) Kind() Kind { return KindBool }

// Integer is a PDF integer number.
type Integer int64

func (Integer) Kind() Kind { return KindInteger }

// Real is a PDF real number.
type Real float64

func (Real) Kind() Kind { return KindReal }

// Name is a PDF name object without the leading slash.
type Name string

func (Name) Kind() Kind { return KindName }

// String is a PDF string. Hex selects hexadecimal output form; the
// semantics of the bytes are identical either way.
type String struct {
	Data []byte
	Hex  bool
}

func (String) Kind() Kind { return KindString }

// Ref is an indirect reference value appearing inside other objects.
type Ref ObjectRef

func (Ref) Kind() Kind { return KindRef }

// MakeRef builds a reference value.
func MakeRef(num, gen int) Ref { return Ref{Num: num, Gen: gen} }

// Array is a PDF array.
type Array []Object

func (Array) Kind() Kind { return KindArray }

// Dict is a PDF dictionary. Keys iterate in sorted order so that
// serialization is deterministic.
type Dict struct {
	kv map[Name]Object
}

func (*Dict) Kind() Kind { return KindDict }

// NewDict builds an empty dictionary.
func NewDict() *Dict { return &Dict{kv: make(map[Name]Object)} }

func (d *Dict) Get(key Name) (Object, bool) {
	o, ok := d.kv[key]
	return o, ok
}

func (d *Dict) Set(key Name, value Object) {
	if d.kv == nil {
		d.kv = make(map[Name]Object)
	}
	d.kv[key] = value
}

func (d *Dict) Delete(key Name) { delete(d.kv, key) }

func (d *Dict) Len() int { return len(d.kv) }

// Keys returns the dictionary keys in sorted order.
func (d *Dict) Keys() []Name {
	keys := make([]Name, 0, len(d.kv))
	for k := range d.kv {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Clone returns a shallow copy. Values are shared; the key set is not.
func (d *Dict) Clone() *Dict {
	out := NewDict()
	for k, v := range d.kv {
		out.kv[k] = v
	}
	return out
}

// Int reads an integer-valued entry.
func (d *Dict) Int(key Name) (int64, bool) {
	o, ok := d.kv[key]
	if !ok {
		return 0, false
	}
	n, ok := o.(Integer)
	return int64(n), ok
}

// NameValue reads a name-valued entry.
func (d *Dict) NameValue(key Name) (Name, bool) {
	o, ok := d.kv[key]
	if !ok {
		return "", false
	}
	n, ok := o.(Name)
	return n, ok
}

// Stream is a PDF stream: a header dictionary plus raw payload bytes.
// Data holds the bytes exactly as they will appear between the stream
// and endstream keywords; filters are applied by the caller.
type Stream struct {
	Header *Dict
	Data   []byte
}

func (*Stream) Kind() Kind { return KindStream }

// NewStream builds a stream around the given header dictionary.
func NewStream(header *Dict, data []byte) *Stream {
	if header == nil {
		header = NewDict()
	}
	return &Stream{Header: header, Data: data}
}

var utf16be = unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()

// TextString builds a string object holding human-readable text. Plain
// ASCII is stored as-is; anything else is encoded as BOM-prefixed
// UTF-16BE, which every conforming reader accepts for text strings.
func TextString(s string) String {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return String{Data: []byte(s)}
	}
	data, err := utf16be.Bytes([]byte(s))
	if err != nil {
		// The UTF-16 encoder only fails on invalid UTF-8 input; fall
		// back to the raw bytes rather than dropping the value.
		return String{Data: []byte(s)}
	}
	return String{Data: data}
}

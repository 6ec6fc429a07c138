package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/security"
)

// ErrNestedStream reports a stream object appearing inside another
// value; streams only exist as top-level indirect objects.
var ErrNestedStream = errors.New("writer: stream objects must be indirect")

// Serializer encodes raw objects into PDF syntax bytes. Serialize and
// SerializeTo handle bare values; SerializeIndirect wraps a value in
// "<num> <gen> obj ... endobj" and applies the encryption transform,
// when one is configured, to strings and stream payloads.
type Serializer interface {
	Serialize(obj raw.Object) ([]byte, error)
	SerializeTo(w io.Writer, obj raw.Object) error
	SerializeIndirect(w io.Writer, ref raw.ObjectRef, obj raw.Object) error
}

// NewSerializer returns the default serializer. enc may be nil for
// unencrypted output.
func NewSerializer(enc security.Handler) Serializer {
	return &serializer{enc: enc}
}

type serializer struct {
	enc security.Handler
}

// transform encrypts string and stream payload bytes for one indirect
// object; identity when no handler is configured.
type transform func(data []byte, class security.DataClass) ([]byte, error)

func (s *serializer) objectTransform(ref raw.ObjectRef) transform {
	if s.enc == nil {
		return nil
	}
	return func(data []byte, class security.DataClass) ([]byte, error) {
		return s.enc.Encrypt(ref.Num, ref.Gen, data, class)
	}
}

func (s *serializer) Serialize(obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, obj, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *serializer) SerializeTo(w io.Writer, obj raw.Object) error {
	var buf bytes.Buffer
	if err := writeValue(&buf, obj, nil); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (s *serializer) SerializeIndirect(w io.Writer, ref raw.ObjectRef, obj raw.Object) error {
	tr := s.objectTransform(ref)
	if st, ok := obj.(*raw.Stream); ok {
		// Cross-reference streams must stay readable before any key
		// material is known, so they are never encrypted.
		if t, _ := st.Header.NameValue("Type"); t == "XRef" {
			tr = nil
		}
		return s.writeIndirectStream(w, ref, st, tr)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	if err := writeValue(&buf, obj, tr); err != nil {
		return err
	}
	buf.WriteString("\nendobj\n")
	_, err := w.Write(buf.Bytes())
	return err
}

func (s *serializer) writeIndirectStream(w io.Writer, ref raw.ObjectRef, st *raw.Stream, tr transform) error {
	data := st.Data
	if tr != nil {
		var err error
		data, err = tr(data, security.DataClassStream)
		if err != nil {
			return fmt.Errorf("writer: encrypt stream %s: %w", ref, err)
		}
	}
	header := st.Header.Clone()
	header.Set("Length", raw.Integer(len(data)))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	if err := writeValue(&buf, header, tr); err != nil {
		return err
	}
	buf.WriteString("stream\n")
	buf.Write(data)
	buf.WriteString("\nendstream\nendobj\n")
	_, err := w.Write(buf.Bytes())
	return err
}

func writeValue(buf *bytes.Buffer, obj raw.Object, tr transform) error {
	switch v := obj.(type) {
	case nil, raw.Null:
		buf.WriteString("null")
	case raw.Bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case raw.Integer:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case raw.Real:
		// The format forbids exponent notation for reals.
		buf.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 64))
	case raw.Name:
		writeName(buf, string(v))
	case raw.String:
		return writeString(buf, v, tr)
	case raw.Ref:
		fmt.Fprintf(buf, "%d %d R", v.Num, v.Gen)
	case raw.Array:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(' ')
			}
			if err := writeValue(buf, item, tr); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *raw.Dict:
		buf.WriteString("<<")
		for _, key := range v.Keys() {
			writeName(buf, string(key))
			buf.WriteByte(' ')
			val, _ := v.Get(key)
			if err := writeValue(buf, val, tr); err != nil {
				return err
			}
		}
		buf.WriteString(">>")
	case *raw.Stream:
		return ErrNestedStream
	default:
		return fmt.Errorf("writer: cannot serialize %T", obj)
	}
	return nil
}

func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7f || isDelimiter(c) || c == '#' {
			fmt.Fprintf(buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func writeString(buf *bytes.Buffer, s raw.String, tr transform) error {
	data := s.Data
	if tr != nil {
		var err error
		data, err = tr(data, security.DataClassString)
		if err != nil {
			return fmt.Errorf("writer: encrypt string: %w", err)
		}
	}
	if s.Hex {
		buf.WriteByte('<')
		for _, c := range data {
			fmt.Fprintf(buf, "%02X", c)
		}
		buf.WriteByte('>')
		return nil
	}
	buf.WriteByte('(')
	for _, c := range data {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
	return nil
}

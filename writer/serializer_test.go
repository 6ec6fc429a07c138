package writer

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/security"
)

func TestSerializeValues(t *testing.T) {
	arr := raw.Array{raw.Integer(1), raw.Name("Two"), raw.Bool(false)}
	dict := raw.NewDict()
	dict.Set("Zeta", raw.Integer(2))
	dict.Set("Alpha", raw.Ref{Num: 3, Gen: 0})

	cases := []struct {
		obj  raw.Object
		want string
	}{
		{raw.Null{}, "null"},
		{nil, "null"},
		{raw.Bool(true), "true"},
		{raw.Integer(-17), "-17"},
		{raw.Real(3.5), "3.5"},
		{raw.Real(0.000001), "0.000001"}, // no exponent notation
		{raw.Name("Catalog"), "/Catalog"},
		{raw.Name("With Space"), "/With#20Space"},
		{raw.Name("Odd#Char"), "/Odd#23Char"},
		{raw.String{Data: []byte("a(b)c\\")}, `(a\(b\)c\\)`},
		{raw.String{Data: []byte("line\nbreak")}, `(line\nbreak)`},
		{raw.String{Data: []byte{0xAB, 0x01}, Hex: true}, "<AB01>"},
		{raw.Ref{Num: 12, Gen: 1}, "12 1 R"},
		{arr, "[1 /Two false]"},
		{dict, "<</Alpha 3 0 R/Zeta 2>>"},
	}

	ser := NewSerializer(nil)
	for _, c := range cases {
		got, err := ser.Serialize(c.obj)
		if err != nil {
			t.Fatalf("serialize %v: %v", c.obj, err)
		}
		if string(got) != c.want {
			t.Fatalf("serialize %v: expected %q, got %q", c.obj, c.want, got)
		}
	}
}

func TestSerializeRejectsNestedStream(t *testing.T) {
	inner := raw.NewStream(raw.NewDict(), []byte("x"))
	_, err := NewSerializer(nil).Serialize(raw.Array{inner})
	if !errors.Is(err, ErrNestedStream) {
		t.Fatalf("expected ErrNestedStream, got %v", err)
	}
}

func TestSerializeIndirectLayout(t *testing.T) {
	var buf bytes.Buffer
	err := NewSerializer(nil).SerializeIndirect(&buf, raw.ObjectRef{Num: 5, Gen: 1}, raw.Integer(42))
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if got := buf.String(); got != "5 1 obj\n42\nendobj\n" {
		t.Fatalf("unexpected layout %q", got)
	}
}

func TestSerializeIndirectStreamSetsLength(t *testing.T) {
	header := raw.NewDict()
	header.Set("Length", raw.Integer(999)) // stale, must be recomputed
	st := raw.NewStream(header, []byte("payload"))

	var buf bytes.Buffer
	if err := NewSerializer(nil).SerializeIndirect(&buf, raw.ObjectRef{Num: 2}, st); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "/Length 7") {
		t.Fatalf("stale /Length survived: %q", out)
	}
	if !strings.Contains(out, "stream\npayload\nendstream\nendobj\n") {
		t.Fatalf("stream layout wrong: %q", out)
	}
	// The source object keeps its own header untouched.
	if n, _ := header.Int("Length"); n != 999 {
		t.Fatalf("source header mutated: /Length %d", n)
	}
}

func TestSerializeIndirectEncryptsStreamsAndStrings(t *testing.T) {
	enc, err := (&security.HandlerBuilder{}).WithKey([]byte("file key")).Build()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	ser := NewSerializer(enc)

	st := raw.NewStream(raw.NewDict(), []byte("secret payload"))
	var buf bytes.Buffer
	if err := ser.SerializeIndirect(&buf, raw.ObjectRef{Num: 9}, st); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if bytes.Contains(buf.Bytes(), []byte("secret payload")) {
		t.Fatal("stream payload written in the clear")
	}
	want, _ := enc.Encrypt(9, 0, []byte("secret payload"), security.DataClassStream)
	if !bytes.Contains(buf.Bytes(), want) {
		t.Fatal("stream payload not encrypted with the per-object key")
	}

	// Cross-reference streams stay plaintext regardless of handler.
	xh := raw.NewDict()
	xh.Set("Type", raw.Name("XRef"))
	buf.Reset()
	if err := ser.SerializeIndirect(&buf, raw.ObjectRef{Num: 10}, raw.NewStream(xh, []byte("rows"))); err != nil {
		t.Fatalf("serialize xref stream: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("rows")) {
		t.Fatal("cross-reference stream was encrypted")
	}
}

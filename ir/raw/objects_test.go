package raw_test

import (
	"bytes"
	"testing"

	"github.com/wudi/pdfrev/ir/raw"
)

func TestDictKeysSorted(t *testing.T) {
	d := raw.NewDict()
	d.Set("Zebra", raw.Integer(1))
	d.Set("Alpha", raw.Integer(2))
	d.Set("Mid", raw.Integer(3))

	keys := d.Keys()
	want := []raw.Name{"Alpha", "Mid", "Zebra"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key %d: expected %s, got %s", i, want[i], keys[i])
		}
	}
}

func TestDictCloneIsIndependent(t *testing.T) {
	d := raw.NewDict()
	d.Set("Size", raw.Integer(3))
	c := d.Clone()
	c.Set("Size", raw.Integer(9))
	c.Set("Extra", raw.Bool(true))

	if n, _ := d.Int("Size"); n != 3 {
		t.Fatalf("original mutated: Size = %d", n)
	}
	if _, ok := d.Get("Extra"); ok {
		t.Fatal("original gained a key from the clone")
	}
}

func TestTextStringASCII(t *testing.T) {
	s := raw.TextString("Hello World")
	if string(s.Data) != "Hello World" {
		t.Fatalf("ascii text re-encoded: %q", s.Data)
	}
}

func TestTextStringUnicode(t *testing.T) {
	s := raw.TextString("Grüße")
	if !bytes.HasPrefix(s.Data, []byte{0xFE, 0xFF}) {
		t.Fatalf("expected UTF-16BE BOM, got % x", s.Data[:2])
	}
	// ü is U+00FC.
	if !bytes.Contains(s.Data, []byte{0x00, 0xFC}) {
		t.Fatalf("missing UTF-16BE code unit in % x", s.Data)
	}
}

func TestRefString(t *testing.T) {
	ref := raw.ObjectRef{Num: 12, Gen: 1}
	if got := ref.String(); got != "12 1 R" {
		t.Fatalf("expected %q, got %q", "12 1 R", got)
	}
}

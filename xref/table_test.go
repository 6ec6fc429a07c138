package xref_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/wudi/pdfrev/xref"
)

func buildClassicTable() ([]byte, int64) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	offset := int64(buf.Len())
	buf.WriteString("xref\n")
	buf.WriteString("0 3\n")
	buf.WriteString("0000000000 65535 f \n")
	buf.WriteString("0000000015 00000 n \n")
	buf.WriteString("0000000099 00002 n \n")
	buf.WriteString("7 1\n")
	buf.WriteString("0000000123 00000 n \n")
	buf.WriteString("trailer\n<< /Size 8 /Root 1 0 R >>\n")
	return buf.Bytes(), offset
}

func TestParseClassicTable(t *testing.T) {
	data, offset := buildClassicTable()
	table, trailerAt, err := xref.ParseClassic(data, offset)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	checks := []struct {
		num    int
		kind   xref.EntryKind
		offset int64
		gen    int
	}{
		{0, xref.Free, 0, 65535},
		{1, xref.InUse, 15, 0},
		{2, xref.InUse, 99, 2},
		{7, xref.InUse, 123, 0},
	}
	for _, c := range checks {
		e, ok := table.Lookup(c.num)
		if !ok {
			t.Fatalf("missing entry for object %d", c.num)
		}
		if e.Kind != c.kind || e.Offset != c.offset || e.Gen != c.gen {
			t.Fatalf("object %d: expected (%v,%d,%d), got (%v,%d,%d)",
				c.num, c.kind, c.offset, c.gen, e.Kind, e.Offset, e.Gen)
		}
	}

	if !bytes.HasPrefix(data[trailerAt:], []byte("trailer")) {
		t.Fatalf("trailer offset %d points at %q", trailerAt, data[trailerAt:trailerAt+7])
	}
}

func TestParseClassicRejectsMissingKeyword(t *testing.T) {
	data := []byte("%PDF-1.7\nnot a table\n")
	if _, _, err := xref.ParseClassic(data, 9); err == nil {
		t.Fatal("expected error for missing xref keyword")
	}
	if _, _, err := xref.ParseClassic(data, int64(len(data)+5)); err == nil {
		t.Fatal("expected error for out-of-range offset")
	}
}

func TestParseClassicCRLFLines(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("xref\r\n0 2\r\n")
	buf.WriteString("0000000000 65535 f\r\n")
	fmt.Fprintf(buf, "%010d %05d n\r\n", 42, 0)
	buf.WriteString("trailer\r\n")
	table, _, err := xref.ParseClassic(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e, ok := table.Lookup(1)
	if !ok || e.Offset != 42 {
		t.Fatalf("object 1 decoded as %+v", e)
	}
}

func TestDecodeStreamDefaultsAndBounds(t *testing.T) {
	// Zero-width type field: every row is an in-use entry.
	data := []byte{
		0x00, 0x00, 0x00, 0x10, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x20, 0x00, 0x01,
	}
	table, err := xref.DecodeStream([]int{0, 4, 2}, []int{5, 2}, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	e, ok := table.Lookup(6)
	if !ok || e.Kind != xref.InUse || e.Offset != 0x20 || e.Gen != 1 {
		t.Fatalf("object 6 decoded as %+v", e)
	}

	if _, err := xref.DecodeStream([]int{1, 4, 2}, []int{0, 3}, data); err == nil {
		t.Fatal("expected error for short stream data")
	}
	if _, err := xref.DecodeStream([]int{1, 4}, nil, nil); err == nil {
		t.Fatal("expected error for bad /W")
	}
	if _, err := xref.DecodeStream([]int{1, 4, 2}, []int{0}, nil); err == nil {
		t.Fatal("expected error for odd /Index")
	}
}

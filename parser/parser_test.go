package parser_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/pdfrev/filters"
	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/parser"
	"github.com/wudi/pdfrev/recovery"
)

func newTestParser(t *testing.T, cfg parser.Config) parser.Parser {
	t.Helper()
	p, err := (&parser.Builder{}).WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("build parser: %v", err)
	}
	return p
}

// buildClassicPDF assembles a small single-revision file with a classic
// table: a catalog, a pages node and one freed object number.
func buildClassicPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	xrefAt := buf.Len()
	buf.WriteString("xref\n0 4\n")
	buf.WriteString("0000000000 65535 f \n")
	fmt.Fprintf(buf, "%010d %05d n \n", off1, 0)
	fmt.Fprintf(buf, "%010d %05d n \n", off2, 0)
	buf.WriteString("0000000000 00001 f \n")
	buf.WriteString("trailer\n<< /Size 4 /Root 1 0 R >>\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefAt)
	return buf.Bytes()
}

func TestParseClassicFile(t *testing.T) {
	data := buildClassicPDF()
	doc, err := newTestParser(t, parser.Config{}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if doc.Version() != "1.7" {
		t.Fatalf("version %q", doc.Version())
	}
	if len(doc.Revisions()) != 1 {
		t.Fatalf("expected 1 revision, got %d", len(doc.Revisions()))
	}

	obj, ok := doc.Object(raw.ObjectRef{Num: 1})
	if !ok {
		t.Fatal("catalog missing")
	}
	cat := obj.(*raw.Dict)
	if typ, _ := cat.NameValue("Type"); typ != "Catalog" {
		t.Fatalf("catalog type /%s", typ)
	}
	if pages, _ := cat.Get("Pages"); pages != (raw.Ref{Num: 2}) {
		t.Fatalf("/Pages %v", pages)
	}

	rev := doc.Current()
	if !rev.IsFree(3) {
		t.Fatal("freed object number not restored")
	}
	if _, gen, _ := rev.FreeEntry(3); gen != 1 {
		t.Fatalf("free generation %d", gen)
	}
	// The head of the free list is the writer's job, never state.
	if rev.IsFree(0) {
		t.Fatal("free-list head restored as document state")
	}

	// Parsed revisions carry no modification marks.
	if n := len(rev.ModifiedRefs()); n != 0 {
		t.Fatalf("%d refs marked modified after parse", n)
	}

	src := doc.Source()
	if src == nil {
		t.Fatal("source not bound")
	}
	if src.XRefStream {
		t.Fatal("classic file flagged as stream form")
	}
	if src.Size != 4 {
		t.Fatalf("source size %d", src.Size)
	}
	if !bytes.HasPrefix(data[src.StartXRef:], []byte("xref")) {
		t.Fatalf("startxref %d does not point at the table", src.StartXRef)
	}
	if !bytes.Equal(src.Data, data) {
		t.Fatal("source bytes not retained")
	}
}

// appendUpdate adds an incremental revision redefining object 1.
func appendUpdate(base []byte, prev int) []byte {
	buf := bytes.NewBuffer(append([]byte(nil), base...))
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R /PageMode /UseOutlines >>\nendobj\n")
	xrefAt := buf.Len()
	buf.WriteString("xref\n1 1\n")
	fmt.Fprintf(buf, "%010d %05d n \n", off1, 0)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\n", prev)
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefAt)
	return buf.Bytes()
}

func TestParseIncrementalChain(t *testing.T) {
	base := buildClassicPDF()
	baseXRef := bytes.LastIndex(base, []byte("xref\n0 4"))
	data := appendUpdate(base, baseXRef)

	doc, err := newTestParser(t, parser.Config{}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(doc.Revisions()) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(doc.Revisions()))
	}

	obj, _ := doc.Object(raw.ObjectRef{Num: 1})
	if mode, _ := obj.(*raw.Dict).NameValue("PageMode"); mode != "UseOutlines" {
		t.Fatal("update did not shadow the base object")
	}
	// The older value stays reachable through its own revision.
	old, ok := doc.Revisions()[0].Object(raw.ObjectRef{Num: 1})
	if !ok {
		t.Fatal("base revision lost its object")
	}
	if _, found := old.(*raw.Dict).Get("PageMode"); found {
		t.Fatal("base revision holds the updated value")
	}
}

func TestParseRecoveryStrategies(t *testing.T) {
	data := buildClassicPDF()
	// Corrupt object 2 in place; offsets stay valid.
	at := bytes.Index(data, []byte("2 0 obj"))
	copy(data[at:], []byte("garbage"))

	if _, err := newTestParser(t, parser.Config{}).Parse(context.Background(), data); err == nil {
		t.Fatal("strict parse accepted a corrupt object")
	}

	lenient := &recovery.Lenient{}
	doc, err := newTestParser(t, parser.Config{Recovery: lenient}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("lenient parse: %v", err)
	}
	if len(lenient.Errors) == 0 {
		t.Fatal("lenient strategy recorded no errors")
	}
	if _, ok := doc.Object(raw.ObjectRef{Num: 2}); ok {
		t.Fatal("corrupt object resolved anyway")
	}
	if _, ok := doc.Object(raw.ObjectRef{Num: 1}); !ok {
		t.Fatal("healthy object lost during recovery")
	}
}

func TestParseStructuralErrors(t *testing.T) {
	p := newTestParser(t, parser.Config{})

	if _, err := p.Parse(context.Background(), []byte("not a pdf")); !errors.Is(err, parser.ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
	if _, err := p.Parse(context.Background(), []byte("%PDF-1.7\nno footer")); !errors.Is(err, parser.ErrNoStartXRef) {
		t.Fatalf("expected ErrNoStartXRef, got %v", err)
	}

	// A /Prev pointing at its own section must not loop forever.
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	xrefAt := buf.Len()
	buf.WriteString("xref\n0 1\n0000000000 65535 f \n")
	fmt.Fprintf(buf, "trailer\n<< /Size 1 /Prev %d >>\n", xrefAt)
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefAt)
	if _, err := p.Parse(context.Background(), buf.Bytes()); !errors.Is(err, parser.ErrChainLoop) {
		t.Fatalf("expected ErrChainLoop, got %v", err)
	}
}

func TestParseStreamWithScannedLength(t *testing.T) {
	// /Length given as an unresolvable indirect reference forces the
	// endstream scan fallback.
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Length 9 0 R >>\nstream\npayload\nendstream\nendobj\n")
	xrefAt := buf.Len()
	buf.WriteString("xref\n0 2\n0000000000 65535 f \n")
	fmt.Fprintf(buf, "%010d %05d n \n", off1, 0)
	buf.WriteString("trailer\n<< /Size 2 >>\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefAt)

	doc, err := newTestParser(t, parser.Config{}).Parse(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	obj, ok := doc.Object(raw.ObjectRef{Num: 1})
	if !ok {
		t.Fatal("stream object missing")
	}
	st := obj.(*raw.Stream)
	if string(st.Data) != "payload" {
		t.Fatalf("stream data %q", st.Data)
	}
	if n, _ := st.Header.Int("Length"); n != 7 {
		t.Fatalf("recomputed /Length %d", n)
	}
}

// buildXRefStreamPDF assembles a single-revision file whose table is a
// cross-reference stream: a catalog plus the stream itself. code, when
// set, transforms the row data before compression; extras is spliced
// into the stream dictionary.
func buildXRefStreamPDF(t *testing.T, widths, extras string, code func([]byte) []byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")

	catOff := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	stmOff := buf.Len()

	row := func(typ byte, f2 uint32, f3 uint16) []byte {
		b := make([]byte, 7)
		b[0] = typ
		binary.BigEndian.PutUint32(b[1:5], f2)
		binary.BigEndian.PutUint16(b[5:7], f3)
		return b
	}
	rows := row(0, 0, 65535)
	rows = append(rows, row(1, uint32(catOff), 0)...)
	rows = append(rows, row(1, uint32(stmOff), 0)...)
	if code != nil {
		rows = code(rows)
	}
	data, err := filters.Flate().Encode(rows)
	if err != nil {
		t.Fatalf("flate: %v", err)
	}

	fmt.Fprintf(buf, "2 0 obj\n<< /Type /XRef /Size 3 /Root 1 0 R /W %s /Filter /FlateDecode%s /Length %d >>\nstream\n",
		widths, extras, len(data))
	buf.Write(data)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", stmOff)
	return buf.Bytes()
}

func TestParseXRefStreamWithPredictor(t *testing.T) {
	parms := " /DecodeParms << /Predictor 12 /Columns 7 >>"
	data := buildXRefStreamPDF(t, "[1 4 2]", parms, func(rows []byte) []byte {
		// PNG Up filtering: each stored row is the delta against the
		// previous plain row behind a tag byte of 2.
		var coded []byte
		prev := make([]byte, 7)
		for at := 0; at < len(rows); at += 7 {
			coded = append(coded, 2)
			for i := 0; i < 7; i++ {
				coded = append(coded, rows[at+i]-prev[i])
			}
			prev = rows[at : at+7]
		}
		return coded
	})

	doc, err := newTestParser(t, parser.Config{}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	obj, ok := doc.Object(raw.ObjectRef{Num: 1})
	if !ok {
		t.Fatal("catalog missing")
	}
	if typ, _ := obj.(*raw.Dict).NameValue("Type"); typ != "Catalog" {
		t.Fatalf("catalog type /%s", typ)
	}
	if src := doc.Source(); src == nil || !src.XRefStream {
		t.Fatal("source not bound as a cross-reference stream file")
	}
}

func TestParseXRefStreamRejectsBadFieldWidths(t *testing.T) {
	data := buildXRefStreamPDF(t, "[1 9 2]", "", nil)
	if _, err := newTestParser(t, parser.Config{}).Parse(context.Background(), data); err == nil {
		t.Fatal("expected error for /W field wider than 8 bytes")
	}
}

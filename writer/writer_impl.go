package writer

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/wudi/pdfrev/document"
	"github.com/wudi/pdfrev/filters"
	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/objstm"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/xref"
)

// binaryMarker is the comment line after the header: four bytes with
// the high bit set so transfer tools treat the file as binary.
var binaryMarker = []byte{'%', 0xE2, 0xE3, 0xCF, 0xD3, '\n'}

type impl struct {
	cfg    Config
	log    observability.Logger
	tracer observability.Tracer
	ser    Serializer
	pipe   *filters.Pipeline
}

// countingWriter tracks the absolute byte offset of everything written,
// which becomes the in-use entry offsets and startxref values.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// revisionScan is the pre-pass over one revision: the cross-reference
// stream object to use (nil for a classic table) and the object-stream
// containers to pack.
type revisionScan struct {
	xrefStream *raw.ObjectRef
	containers []raw.ObjectRef
}

func (w *impl) Write(ctx context.Context, doc *document.Document, out io.Writer) error {
	ctx, span := w.tracer.StartSpan(ctx, "pdfrev.write")
	defer span.Finish()

	revisions := doc.Revisions()
	// Validate every revision before the first byte goes out; a
	// structural violation must not leave partial output behind.
	scans := make([]revisionScan, len(revisions))
	for i, rev := range revisions {
		scan, err := w.scanRevision(rev)
		if err != nil {
			span.SetError(err)
			return err
		}
		scans[i] = scan
	}

	w.stampProducer(doc)

	cw := &countingWriter{w: out}
	version := w.cfg.Version
	if version == "" {
		version = doc.Version()
	}
	if _, err := fmt.Fprintf(cw, "%%PDF-%s\n", version); err != nil {
		return err
	}
	if _, err := cw.Write(binaryMarker); err != nil {
		return err
	}

	prevXRefPos := int64(-1)
	runningSize := 0
	for i, rev := range revisions {
		if err := ctx.Err(); err != nil {
			return err
		}
		pos, err := w.writeRevision(cw, rev, scans[i], prevXRefPos, &runningSize)
		if err != nil {
			span.SetError(err)
			return err
		}
		w.log.Debug("revision written",
			observability.Int("revision", i),
			observability.Int64("startxref", pos),
			observability.Int("size", runningSize))
		prevXRefPos = pos
	}
	span.SetTag(observability.MetricWriteBytes, cw.n)
	span.SetTag(observability.MetricRevisionCount, len(revisions))
	return nil
}

func (w *impl) WriteIncremental(ctx context.Context, doc *document.Document, out io.Writer) error {
	ctx, span := w.tracer.StartSpan(ctx, "pdfrev.write_incremental")
	defer span.Finish()

	src := doc.Source()
	if src == nil {
		span.SetError(ErrNoSource)
		return ErrNoSource
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.stampProducer(doc)
	rev := doc.SynthesizeUpdate()
	rev.SetNextObjectNumber(src.Size)
	if src.XRefStream && !hasXRefStream(rev) {
		// The source chain ends in a cross-reference stream, so the
		// appended section must be one as well.
		ref := doc.AllocateRef()
		header := raw.NewDict()
		header.Set("Type", raw.Name("XRef"))
		rev.Put(ref, raw.NewStream(header, nil))
	}
	if err := refreshFileID(rev.Trailer()); err != nil {
		span.SetError(err)
		return err
	}

	scan, err := w.scanRevision(rev)
	if err != nil {
		span.SetError(err)
		return err
	}

	cw := &countingWriter{w: out}
	if _, err := cw.Write(src.Data); err != nil {
		return err
	}

	runningSize := src.Size
	pos, err := w.writeRevision(cw, rev, scan, src.StartXRef, &runningSize)
	if err != nil {
		span.SetError(err)
		return err
	}
	w.log.Debug("incremental update written",
		observability.Int64("startxref", pos),
		observability.Int("size", runningSize),
		observability.Int("objects", len(rev.Refs())))
	return nil
}

// scanRevision locates the cross-reference stream object (first one in
// object-number order wins; the format tolerates extras) and checks the
// object-stream precondition.
func (w *impl) scanRevision(rev *document.Revision) (revisionScan, error) {
	var scan revisionScan
	for _, ref := range rev.Refs() {
		obj, ok := rev.Object(ref)
		if !ok {
			continue
		}
		st, ok := obj.(*raw.Stream)
		if !ok {
			continue
		}
		if t, _ := st.Header.NameValue("Type"); t != "XRef" {
			continue
		}
		if scan.xrefStream == nil {
			r := ref
			scan.xrefStream = &r
		} else {
			w.log.Warn("ignoring additional cross-reference stream object",
				observability.String("ref", ref.String()))
		}
	}
	scan.containers = rev.ObjectStreams()
	if len(scan.containers) > 0 && scan.xrefStream == nil {
		return scan, ErrObjectStreamsRequireXRefStream
	}
	return scan, nil
}

// writeRevision emits one revision: packed object streams, directly
// written objects, cross-reference data and trailer, and the startxref
// footer. It returns the offset of the cross-reference data, which the
// next revision chains to via /Prev.
func (w *impl) writeRevision(cw *countingWriter, rev *document.Revision, scan revisionScan, prevXRefPos int64, runningSize *int) (int64, error) {
	placements := make(map[raw.ObjectRef]objstm.Placement)
	for _, cref := range scan.containers {
		obj, ok := rev.Object(cref)
		if !ok {
			return 0, fmt.Errorf("writer: object stream container %s missing from revision", cref)
		}
		st, ok := obj.(*raw.Stream)
		if !ok {
			return 0, fmt.Errorf("writer: object stream container %s is not a stream", cref)
		}
		container := &objstm.Container{Ref: cref, Stream: st, Members: rev.StreamMembers(cref)}
		placed, err := container.WriteMembers(rev.Object, w.ser, w.pipe)
		if err != nil {
			return 0, err
		}
		for ref, p := range placed {
			placements[ref] = p
		}
	}

	section := xref.NewSection()
	if prevXRefPos < 0 {
		// Free-list head, mandatory only on the file's first section.
		if err := section.AddFree(0, 0, raw.FreeGeneration); err != nil {
			return 0, err
		}
	}

	for _, ref := range rev.Refs() {
		if rev.IsFree(ref.Num) {
			nextFree, gen, _ := rev.FreeEntry(ref.Num)
			if err := section.AddFree(ref.Num, nextFree, gen); err != nil {
				return 0, err
			}
			continue
		}
		if p, ok := placements[ref]; ok {
			if err := section.AddCompressed(ref.Num, p.Container.Num, p.Index); err != nil {
				return 0, err
			}
			continue
		}
		if scan.xrefStream != nil && ref == *scan.xrefStream {
			// Its own offset is not known yet; written below.
			continue
		}
		obj, _ := rev.Object(ref)
		pos := cw.n
		if err := w.ser.SerializeIndirect(cw, ref, obj); err != nil {
			return 0, err
		}
		if err := section.AddInUse(ref.Num, ref.Gen, pos); err != nil {
			return 0, err
		}
	}

	trailer := rev.Trailer().Clone()
	trailer.Delete("XRefStm") // only meaningful when reading hybrid files
	if prevXRefPos >= 0 {
		trailer.Set("Prev", raw.Integer(prevXRefPos))
	} else {
		trailer.Delete("Prev")
	}
	size := rev.NextObjectNumber()
	if *runningSize > size {
		size = *runningSize
	}
	trailer.Set("Size", raw.Integer(size))
	*runningSize = size

	xrefPos := cw.n
	if scan.xrefStream != nil {
		if err := w.writeXRefStream(cw, rev, *scan.xrefStream, section, trailer, xrefPos); err != nil {
			return 0, err
		}
	} else {
		if err := w.writeClassicTable(cw, section, trailer); err != nil {
			return 0, err
		}
	}

	if _, err := fmt.Fprintf(cw, "startxref\n%d\n%%%%EOF\n", xrefPos); err != nil {
		return 0, err
	}
	return xrefPos, nil
}

// writeXRefStream absorbs the sealed section and trailer into the
// revision's cross-reference stream object and writes it at xrefPos.
func (w *impl) writeXRefStream(cw *countingWriter, rev *document.Revision, ref raw.ObjectRef, section *xref.Section, trailer *raw.Dict, xrefPos int64) error {
	if err := section.AddInUse(ref.Num, ref.Gen, xrefPos); err != nil {
		return err
	}
	index, rows, err := section.EncodeStream()
	if err != nil {
		return err
	}
	encoded, err := w.pipe.Encode(rows, []string{"FlateDecode"})
	if err != nil {
		return err
	}

	obj, _ := rev.Object(ref)
	st := obj.(*raw.Stream)
	header := st.Header
	for _, key := range trailer.Keys() {
		val, _ := trailer.Get(key)
		header.Set(key, val)
	}
	header.Set("Type", raw.Name("XRef"))
	header.Set("W", raw.Array{
		raw.Integer(xref.StreamFieldWidths[0]),
		raw.Integer(xref.StreamFieldWidths[1]),
		raw.Integer(xref.StreamFieldWidths[2]),
	})
	indexArr := make(raw.Array, len(index))
	for i, v := range index {
		indexArr[i] = raw.Integer(v)
	}
	header.Set("Index", indexArr)
	header.Set("Filter", raw.Name("FlateDecode"))
	header.Set("Length", raw.Integer(len(encoded)))
	st.Data = encoded

	return w.ser.SerializeIndirect(cw, ref, st)
}

// writeClassicTable emits the xref keyword, the sealed subsections with
// their fixed 20-byte entry lines, and the trailer dictionary.
func (w *impl) writeClassicTable(cw *countingWriter, section *xref.Section, trailer *raw.Dict) error {
	if _, err := io.WriteString(cw, "xref\n"); err != nil {
		return err
	}
	for _, sub := range section.Seal() {
		if _, err := fmt.Fprintf(cw, "%d %d\n", sub.First, len(sub.Entries)); err != nil {
			return err
		}
		for _, e := range sub.Entries {
			var err error
			if e.Kind == xref.InUse {
				_, err = fmt.Fprintf(cw, "%010d %05d n \n", e.Offset, e.Gen)
			} else {
				// Free entries keep their recorded free-list link, so a
				// rewrite of a parsed file reproduces its chain.
				_, err = fmt.Fprintf(cw, "%010d %05d f \n", e.NextFree, e.Gen)
			}
			if err != nil {
				return err
			}
		}
	}
	if _, err := io.WriteString(cw, "trailer\n"); err != nil {
		return err
	}
	if err := w.ser.SerializeTo(cw, trailer); err != nil {
		return err
	}
	_, err := io.WriteString(cw, "\n")
	return err
}

// stampProducer forces the engine's producer string into the /Info
// dictionary, creating one when the trailer has none.
func (w *impl) stampProducer(doc *document.Document) {
	producer := w.cfg.Producer
	if producer == "" {
		producer = defaultProducer
	}
	trailer := doc.Current().Trailer()
	if obj, ok := trailer.Get("Info"); ok {
		if ref, isRef := obj.(raw.Ref); isRef {
			if info, found := doc.Object(raw.ObjectRef(ref)); found {
				if dict, isDict := info.(*raw.Dict); isDict {
					dict.Set("Producer", raw.TextString(producer))
					doc.Touch(raw.ObjectRef(ref))
					return
				}
			}
		}
	}
	ref := doc.AllocateRef()
	info := raw.NewDict()
	info.Set("Producer", raw.TextString(producer))
	doc.Current().Put(ref, info)
	trailer.Set("Info", raw.Ref(ref))
}

func hasXRefStream(rev *document.Revision) bool {
	for _, ref := range rev.Refs() {
		if obj, ok := rev.Object(ref); ok {
			if st, isStream := obj.(*raw.Stream); isStream {
				if t, _ := st.Header.NameValue("Type"); t == "XRef" {
					return true
				}
			}
		}
	}
	return false
}

// refreshFileID regenerates the second half of the trailer /ID while
// preserving the first, which encryption key derivation depends on.
func refreshFileID(trailer *raw.Dict) error {
	second := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, second); err != nil {
		return fmt.Errorf("writer: generate /ID: %w", err)
	}

	var first raw.String
	if obj, ok := trailer.Get("ID"); ok {
		if arr, isArr := obj.(raw.Array); isArr && len(arr) > 0 {
			if s, isStr := arr[0].(raw.String); isStr {
				first = s
			}
		}
	}
	if first.Data == nil {
		firstBytes := make([]byte, 16)
		if _, err := io.ReadFull(rand.Reader, firstBytes); err != nil {
			return fmt.Errorf("writer: generate /ID: %w", err)
		}
		first = raw.String{Data: firstBytes, Hex: true}
	}
	trailer.Set("ID", raw.Array{first, raw.String{Data: second, Hex: true}})
	return nil
}

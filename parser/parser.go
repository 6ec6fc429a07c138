// Package parser rebuilds a document's revision graph from existing
// PDF file bytes. It reads the header, walks the cross-reference chain
// backwards from the final startxref, and restores every revision with
// its trailer, free marks and object-stream membership, so the result
// can be rewritten or incrementally updated.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/pdfrev/document"
	"github.com/wudi/pdfrev/filters"
	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/objstm"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/recovery"
	"github.com/wudi/pdfrev/security"
	"github.com/wudi/pdfrev/xref"
)

var (
	// ErrNoHeader reports input that does not begin with %PDF-.
	ErrNoHeader = errors.New("parser: missing %PDF header")

	// ErrNoStartXRef reports a file without a startxref footer.
	ErrNoStartXRef = errors.New("parser: startxref not found")

	// ErrChainLoop reports a /Prev chain that revisits an offset.
	ErrChainLoop = errors.New("parser: cross-reference chain loops")

	// ErrChainTooDeep reports a /Prev chain longer than the configured
	// maximum.
	ErrChainTooDeep = errors.New("parser: cross-reference chain too deep")
)

// defaultMaxChainDepth bounds the /Prev walk for damaged files.
const defaultMaxChainDepth = 64

// Config carries per-parser settings. The zero value parses strictly
// and without decryption.
type Config struct {
	// Recovery decides how malformed objects are handled. Nil means
	// strict: the first error aborts the parse.
	Recovery recovery.Strategy
	// Security decrypts strings and stream payloads while objects are
	// loaded. Nil means the file is treated as unencrypted.
	Security security.Handler
	// MaxChainDepth bounds the /Prev chain walk. Zero means the
	// default of 64.
	MaxChainDepth int
}

// Parser restores a document from file bytes.
type Parser interface {
	Parse(ctx context.Context, data []byte) (*document.Document, error)
}

// Builder assembles a Parser.
type Builder struct {
	cfg    Config
	log    observability.Logger
	tracer observability.Tracer
}

func (b *Builder) WithConfig(cfg Config) *Builder { b.cfg = cfg; return b }

func (b *Builder) WithLogger(log observability.Logger) *Builder { b.log = log; return b }

func (b *Builder) WithTracer(tr observability.Tracer) *Builder { b.tracer = tr; return b }

// Build validates the configuration and returns the parser.
func (b *Builder) Build() (Parser, error) {
	log := b.log
	if log == nil {
		log = observability.NopLogger{}
	}
	tracer := b.tracer
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	cfg := b.cfg
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.Strict{}
	}
	if cfg.MaxChainDepth <= 0 {
		cfg.MaxChainDepth = defaultMaxChainDepth
	}
	return &impl{cfg: cfg, log: log, tracer: tracer, pipe: filters.Default()}, nil
}

type impl struct {
	cfg    Config
	log    observability.Logger
	tracer observability.Tracer
	pipe   *filters.Pipeline
}

// section is one parsed cross-reference section, before it becomes a
// revision.
type section struct {
	offset  int64
	table   *xref.Table
	trailer *raw.Dict
	stream  bool
}

func (p *impl) Parse(ctx context.Context, data []byte) (*document.Document, error) {
	ctx, span := p.tracer.StartSpan(ctx, "pdfrev.parse")
	defer span.Finish()

	version, err := parseHeader(data)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	startXRef, err := findStartXRef(data)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	// Newest section first; the revision list is built in reverse.
	sections, err := p.readChain(data, startXRef)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	doc := document.New(version)
	for i := len(sections) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rev *document.Revision
		if i == len(sections)-1 {
			rev = doc.Revisions()[0]
		} else {
			rev = doc.AddRevision()
		}
		if err := p.loadRevision(doc, rev, data, sections[i]); err != nil {
			span.SetError(err)
			return nil, err
		}
		rev.ClearModified()
		p.log.Debug("revision restored",
			observability.Int("revision", len(sections)-1-i),
			observability.Int64("offset", sections[i].offset),
			observability.Int("size", rev.NextObjectNumber()))
	}
	doc.NoteAllocated(doc.Current().NextObjectNumber() - 1)

	size := doc.Current().NextObjectNumber()
	if n, ok := doc.Current().Trailer().Int("Size"); ok {
		size = int(n)
	}
	doc.BindSource(&document.Source{
		Data:       data,
		StartXRef:  startXRef,
		Size:       size,
		XRefStream: sections[0].stream,
	})
	span.SetTag(observability.MetricRevisionCount, len(sections))
	return doc, nil
}

// parseHeader reads the %PDF-<version> marker.
func parseHeader(data []byte) (string, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", ErrNoHeader
	}
	end := 5
	for end < len(data) && !isWhitespace(data[end]) {
		end++
	}
	v := string(data[5:end])
	if v == "" {
		return "", ErrNoHeader
	}
	return v, nil
}

// findStartXRef locates the last startxref keyword and returns the
// offset it records.
func findStartXRef(data []byte) (int64, error) {
	at := bytes.LastIndex(data, []byte("startxref"))
	if at < 0 {
		return 0, ErrNoStartXRef
	}
	l := &lexer{data: data, pos: at + len("startxref")}
	off, err := l.expectInt()
	if err != nil {
		return 0, fmt.Errorf("parser: startxref value: %w", err)
	}
	if off < 0 || off >= int64(len(data)) {
		return 0, fmt.Errorf("parser: startxref offset %d out of range", off)
	}
	return off, nil
}

// readChain walks the /Prev chain from the newest section backwards.
func (p *impl) readChain(data []byte, start int64) ([]section, error) {
	var sections []section
	visited := make(map[int64]bool)
	offset := start
	for {
		if visited[offset] {
			return nil, ErrChainLoop
		}
		if len(sections) >= p.cfg.MaxChainDepth {
			return nil, ErrChainTooDeep
		}
		visited[offset] = true

		sec, err := p.readSection(data, offset)
		if err != nil {
			return nil, err
		}
		sections = append(sections, sec)

		prev, ok := sec.trailer.Int("Prev")
		if !ok {
			return sections, nil
		}
		offset = prev
	}
}

// readSection parses one cross-reference section, classic or stream.
func (p *impl) readSection(data []byte, offset int64) (section, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return section{}, fmt.Errorf("parser: section offset %d out of range", offset)
	}
	probe := &lexer{data: data, pos: int(offset)}
	probe.skipWS()
	if bytes.HasPrefix(data[probe.pos:], []byte("xref")) {
		return p.readClassicSection(data, offset)
	}
	table, trailer, err := p.readStreamSection(data, offset)
	if err != nil {
		return section{}, err
	}
	return section{offset: offset, table: table, trailer: trailer, stream: true}, nil
}

func (p *impl) readClassicSection(data []byte, offset int64) (section, error) {
	table, trailerAt, err := xref.ParseClassic(data, offset)
	if err != nil {
		return section{}, err
	}
	l := &lexer{data: data, pos: int(trailerAt)}
	if err := l.expectKeyword("trailer"); err != nil {
		return section{}, err
	}
	val, err := l.parseValue()
	if err != nil {
		return section{}, fmt.Errorf("parser: trailer dictionary: %w", err)
	}
	trailer, ok := val.(*raw.Dict)
	if !ok {
		return section{}, fmt.Errorf("parser: trailer is %s, want dictionary", val.Kind())
	}

	// Hybrid file: the /XRefStm stream carries the entries readers of
	// cross-reference streams should prefer.
	if stmAt, ok := trailer.Int("XRefStm"); ok {
		stmTable, _, err := p.readStreamSection(data, stmAt)
		if err != nil {
			return section{}, fmt.Errorf("parser: hybrid /XRefStm: %w", err)
		}
		for _, num := range stmTable.Numbers() {
			e, _ := stmTable.Lookup(num)
			table.Set(e)
		}
	}
	return section{offset: offset, table: table, trailer: trailer}, nil
}

func (p *impl) readStreamSection(data []byte, offset int64) (*xref.Table, *raw.Dict, error) {
	_, _, obj, err := p.parseIndirectAt(data, offset)
	if err != nil {
		return nil, nil, err
	}
	stm, ok := obj.(*raw.Stream)
	if !ok {
		return nil, nil, fmt.Errorf("parser: object at offset %d is not a cross-reference stream", offset)
	}
	if typ, _ := stm.Header.NameValue("Type"); typ != "XRef" {
		return nil, nil, fmt.Errorf("parser: stream at offset %d has /Type /%s, want /XRef", offset, typ)
	}

	decoded, err := p.decodeStream(stm)
	if err != nil {
		return nil, nil, fmt.Errorf("parser: decode cross-reference stream: %w", err)
	}
	w, err := intSlice(stm.Header, "W")
	if err != nil {
		return nil, nil, err
	}
	size, ok := stm.Header.Int("Size")
	if !ok {
		return nil, nil, errors.New("parser: cross-reference stream without /Size")
	}
	index, err := intSlice(stm.Header, "Index")
	if err != nil {
		return nil, nil, err
	}
	if index == nil {
		index = []int{0, int(size)}
	}
	table, err := xref.DecodeStream(w, index, decoded)
	if err != nil {
		return nil, nil, err
	}

	trailer := stm.Header.Clone()
	for _, key := range []raw.Name{"Type", "W", "Index", "Filter", "DecodeParms", "Length"} {
		trailer.Delete(key)
	}
	return table, trailer, nil
}

// loadRevision restores one revision's objects from a parsed section.
func (p *impl) loadRevision(doc *document.Document, rev *document.Revision, data []byte, sec section) error {
	rev.SetTrailer(sec.trailer)
	if size, ok := sec.trailer.Int("Size"); ok {
		rev.SetNextObjectNumber(int(size))
	}

	nums := sec.table.Numbers()
	sort.Ints(nums)

	// Compressed entries wait until their containers are loaded.
	compressed := make(map[int][]xref.Entry)

	for _, num := range nums {
		e, _ := sec.table.Lookup(num)
		switch e.Kind {
		case xref.Free:
			// The free-list head is seeded by the writer; restoring it
			// would duplicate the entry on rewrite.
			if e.Num == 0 {
				continue
			}
			rev.RestoreFree(e.Num, e.NextFree, e.Gen)
		case xref.InUse:
			if err := p.loadObjectAt(rev, data, e); err != nil {
				return err
			}
		case xref.Compressed:
			compressed[e.Container] = append(compressed[e.Container], e)
		}
	}

	containers := make([]int, 0, len(compressed))
	for num := range compressed {
		containers = append(containers, num)
	}
	sort.Ints(containers)
	for _, num := range containers {
		if err := p.loadContainer(doc, rev, compressed[num], num); err != nil {
			return err
		}
	}
	return nil
}

// loadObjectAt parses one in-use object and stores it in the revision.
func (p *impl) loadObjectAt(rev *document.Revision, data []byte, e xref.Entry) error {
	loc := recovery.Location{ByteOffset: e.Offset, ObjectNum: e.Num, ObjectGen: e.Gen, Component: "object"}
	num, gen, obj, err := p.parseIndirectAt(data, e.Offset)
	if err == nil && (num != e.Num || gen != e.Gen) {
		err = fmt.Errorf("parser: object at offset %d is %d %d, table says %d %d",
			e.Offset, num, gen, e.Num, e.Gen)
	}
	if err == nil && p.cfg.Security != nil {
		obj, err = decryptValue(p.cfg.Security, e.Num, e.Gen, obj)
	}
	if err != nil {
		if p.cfg.Recovery.OnError(err, loc) == recovery.ActionSkip {
			p.log.Warn("object skipped", observability.Int("num", e.Num), observability.Error("err", err))
			return nil
		}
		return err
	}
	rev.Put(raw.ObjectRef{Num: e.Num, Gen: e.Gen}, obj)
	return nil
}

// loadContainer decodes one object-stream container and loads the
// members the cross-reference section maps to it.
func (p *impl) loadContainer(doc *document.Document, rev *document.Revision, entries []xref.Entry, containerNum int) error {
	containerRef := raw.ObjectRef{Num: containerNum}
	obj, ok := rev.Object(containerRef)
	if !ok {
		obj, ok = doc.Object(containerRef)
	}
	if !ok {
		return fmt.Errorf("parser: object-stream container %d not found", containerNum)
	}
	stm, isStream := obj.(*raw.Stream)
	if !isStream {
		return fmt.Errorf("parser: container %d is %s, want stream", containerNum, obj.Kind())
	}
	if typ, _ := stm.Header.NameValue("Type"); typ != "ObjStm" {
		return fmt.Errorf("parser: container %d has /Type /%s, want /ObjStm", containerNum, typ)
	}

	decoded, err := p.decodeStream(stm)
	if err != nil {
		return fmt.Errorf("parser: decode container %d: %w", containerNum, err)
	}
	n, ok := stm.Header.Int("N")
	if !ok {
		return fmt.Errorf("parser: container %d without /N", containerNum)
	}
	first, ok := stm.Header.Int("First")
	if !ok {
		return fmt.Errorf("parser: container %d without /First", containerNum)
	}
	members, err := objstm.Layout(decoded, int(n), int(first))
	if err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	var loaded []raw.ObjectRef
	for _, e := range entries {
		loc := recovery.Location{ObjectNum: e.Num, Component: "objstm member"}
		var val raw.Object
		err := func() error {
			if e.Index < 0 || e.Index >= len(members) {
				return fmt.Errorf("parser: member index %d outside container %d", e.Index, containerNum)
			}
			m := members[e.Index]
			if m.Num != e.Num {
				return fmt.Errorf("parser: container %d slot %d holds object %d, table says %d",
					containerNum, e.Index, m.Num, e.Num)
			}
			l := &lexer{data: decoded, pos: int(first) + m.Offset}
			var perr error
			val, perr = l.parseValue()
			return perr
		}()
		if err != nil {
			if p.cfg.Recovery.OnError(err, loc) == recovery.ActionSkip {
				p.log.Warn("member skipped", observability.Int("num", e.Num), observability.Error("err", err))
				continue
			}
			return err
		}
		ref := raw.ObjectRef{Num: e.Num}
		rev.Put(ref, val)
		loaded = append(loaded, ref)
	}
	if len(loaded) > 0 {
		rev.AddObjectStream(containerRef, loaded...)
	}
	return nil
}

// parseIndirectAt reads "num gen obj ... endobj" at an absolute offset.
func (p *impl) parseIndirectAt(data []byte, offset int64) (num, gen int, obj raw.Object, err error) {
	if offset < 0 || offset >= int64(len(data)) {
		return 0, 0, nil, fmt.Errorf("parser: object offset %d out of range", offset)
	}
	l := &lexer{data: data, pos: int(offset)}
	n, err := l.expectInt()
	if err != nil {
		return 0, 0, nil, err
	}
	g, err := l.expectInt()
	if err != nil {
		return 0, 0, nil, err
	}
	if err := l.expectKeyword("obj"); err != nil {
		return 0, 0, nil, err
	}
	val, err := l.parseValue()
	if err != nil {
		return 0, 0, nil, err
	}

	l.skipWS()
	save := l.pos
	switch kw := l.keyword(); kw {
	case "endobj":
		return int(n), int(g), val, nil
	case "stream":
		dict, ok := val.(*raw.Dict)
		if !ok {
			return 0, 0, nil, fmt.Errorf("parser: stream at offset %d without dictionary", offset)
		}
		l.eol()
		payload, after, err := streamPayload(data, l.pos, dict)
		if err != nil {
			return 0, 0, nil, err
		}
		l.pos = after
		if err := l.expectKeyword("endstream"); err != nil {
			return 0, 0, nil, err
		}
		if err := l.expectKeyword("endobj"); err != nil {
			return 0, 0, nil, err
		}
		return int(n), int(g), raw.NewStream(dict, payload), nil
	default:
		return 0, 0, nil, fmt.Errorf("parser: expected endobj or stream at offset %d, got %q", save, kw)
	}
}

// streamPayload slices the stream data. A direct /Length is trusted;
// an indirect or missing one falls back to scanning for endstream.
func streamPayload(data []byte, start int, dict *raw.Dict) ([]byte, int, error) {
	if n, ok := dict.Int("Length"); ok && start+int(n) <= len(data) {
		return data[start : start+int(n)], start + int(n), nil
	}
	end := bytes.Index(data[start:], []byte("endstream"))
	if end < 0 {
		return nil, 0, errors.New("parser: endstream not found")
	}
	payload := data[start : start+end]
	// The marker is preceded by an end-of-line that is not stream data.
	if len(payload) > 0 && payload[len(payload)-1] == '\n' {
		payload = payload[:len(payload)-1]
	}
	if len(payload) > 0 && payload[len(payload)-1] == '\r' {
		payload = payload[:len(payload)-1]
	}
	dict.Set("Length", raw.Integer(len(payload)))
	return payload, start + end, nil
}

// decodeStream applies the stream's /Filter chain with the matching
// /DecodeParms entries. Predictor-coded data is undone after its
// filter, which is how writers layer the two.
func (p *impl) decodeStream(stm *raw.Stream) ([]byte, error) {
	names := filterNames(stm.Header)
	parms := parmsFor(stm.Header, len(names))
	data := stm.Data
	for i, name := range names {
		c, ok := p.pipe.Get(name)
		if !ok {
			return nil, fmt.Errorf("filters: unknown filter %q", name)
		}
		out, err := c.Decode(data)
		if err != nil {
			return nil, err
		}
		if d := parms[i]; d != nil {
			out, err = undoPredictor(d, out)
			if err != nil {
				return nil, err
			}
		}
		data = out
	}
	return data, nil
}

// parmsFor aligns /DecodeParms with the filter list: a single
// dictionary applies to the only filter, an array pairs up by index.
func parmsFor(header *raw.Dict, n int) []*raw.Dict {
	out := make([]*raw.Dict, n)
	val, ok := header.Get("DecodeParms")
	if !ok {
		return out
	}
	switch v := val.(type) {
	case *raw.Dict:
		if n > 0 {
			out[0] = v
		}
	case raw.Array:
		for i := 0; i < n && i < len(v); i++ {
			if d, isDict := v[i].(*raw.Dict); isDict {
				out[i] = d
			}
		}
	}
	return out
}

func undoPredictor(parms *raw.Dict, data []byte) ([]byte, error) {
	pred, ok := parms.Int("Predictor")
	if !ok || pred <= 1 {
		return data, nil
	}
	pp := filters.PredictorParams{Predictor: int(pred)}
	if v, ok := parms.Int("Colors"); ok {
		pp.Colors = int(v)
	}
	if v, ok := parms.Int("BitsPerComponent"); ok {
		pp.BitsPerComponent = int(v)
	}
	if v, ok := parms.Int("Columns"); ok {
		pp.Columns = int(v)
	}
	return pp.Decode(data)
}

// filterNames flattens /Filter into codec names in application order.
func filterNames(header *raw.Dict) []string {
	val, ok := header.Get("Filter")
	if !ok {
		return nil
	}
	switch v := val.(type) {
	case raw.Name:
		return []string{string(v)}
	case raw.Array:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if name, ok := item.(raw.Name); ok {
				names = append(names, string(name))
			}
		}
		return names
	}
	return nil
}

// intSlice reads an integer array key; a missing key returns nil.
func intSlice(dict *raw.Dict, key raw.Name) ([]int, error) {
	val, ok := dict.Get(key)
	if !ok {
		return nil, nil
	}
	arr, ok := val.(raw.Array)
	if !ok {
		return nil, fmt.Errorf("parser: /%s is %s, want array", key, val.Kind())
	}
	out := make([]int, 0, len(arr))
	for _, item := range arr {
		n, ok := item.(raw.Integer)
		if !ok {
			return nil, fmt.Errorf("parser: /%s holds %s, want integers", key, item.Kind())
		}
		out = append(out, int(n))
	}
	return out, nil
}

// decryptValue applies the security handler to every string and stream
// payload inside one indirect object. Cross-reference streams are never
// encrypted.
func decryptValue(h security.Handler, num, gen int, obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.String:
		dec, err := h.Decrypt(num, gen, v.Data, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.String{Data: dec, Hex: v.Hex}, nil
	case raw.Array:
		for i, item := range v {
			dec, err := decryptValue(h, num, gen, item)
			if err != nil {
				return nil, err
			}
			v[i] = dec
		}
		return v, nil
	case *raw.Dict:
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			dec, err := decryptValue(h, num, gen, item)
			if err != nil {
				return nil, err
			}
			v.Set(key, dec)
		}
		return v, nil
	case *raw.Stream:
		if typ, _ := v.Header.NameValue("Type"); typ == "XRef" {
			return v, nil
		}
		if _, err := decryptValue(h, num, gen, v.Header); err != nil {
			return nil, err
		}
		dec, err := h.Decrypt(num, gen, v.Data, security.DataClassStream)
		if err != nil {
			return nil, err
		}
		v.Data = dec
		v.Header.Set("Length", raw.Integer(len(dec)))
		return v, nil
	default:
		return obj, nil
	}
}

// Package document models a PDF document as an ordered list of
// revisions over indirect objects. The writer reads this graph; the
// parser rebuilds it from existing file bytes.
package document

import (
	"github.com/wudi/pdfrev/ir/raw"
)

// Source binds a document to the file bytes it was parsed from. It is
// required for incremental updates: the original bytes are reproduced
// verbatim and the new revision chains to StartXRef.
type Source struct {
	// Data holds the complete original file, byte for byte.
	Data []byte
	// StartXRef is the offset of the newest cross-reference section in
	// Data, exactly as the file's final startxref records it.
	StartXRef int64
	// Size is the original file's /Size: one more than the highest
	// object number it ever allocated.
	Size int
	// XRefStream records whether the newest revision of the source used
	// a cross-reference stream rather than a classic table.
	XRefStream bool
}

// Document is a revision history plus allocation bookkeeping. Object
// numbers increase monotonically across revisions and are never reused
// within one document instance.
type Document struct {
	version   string
	revisions []*Revision
	source    *Source
	nextNum   int
}

// New returns an empty document with a single fresh revision.
func New(version string) *Document {
	if version == "" {
		version = "1.7"
	}
	doc := &Document{version: version, nextNum: 1}
	doc.AddRevision()
	return doc
}

// Version is the header version marker, e.g. "1.7".
func (d *Document) Version() string { return d.version }

// SetVersion overrides the header version marker.
func (d *Document) SetVersion(v string) { d.version = v }

// Revisions returns the revision list, oldest first.
func (d *Document) Revisions() []*Revision { return d.revisions }

// Current returns the newest revision.
func (d *Document) Current() *Revision {
	return d.revisions[len(d.revisions)-1]
}

// AddRevision appends a new empty revision. Its trailer starts as a
// copy of the previous revision's trailer and its watermark carries
// forward, so /Size never shrinks.
func (d *Document) AddRevision() *Revision {
	rev := newRevision()
	if len(d.revisions) > 0 {
		prev := d.Current()
		rev.SetTrailer(prev.Trailer().Clone())
		rev.SetNextObjectNumber(prev.NextObjectNumber())
	}
	d.revisions = append(d.revisions, rev)
	return rev
}

// AllocateRef hands out the next unused object number.
func (d *Document) AllocateRef() raw.ObjectRef {
	ref := raw.ObjectRef{Num: d.nextNum}
	d.nextNum++
	return ref
}

// NoteAllocated raises the allocation counter past an externally chosen
// object number. The parser calls this while restoring a document.
func (d *Document) NoteAllocated(num int) {
	if num+1 > d.nextNum {
		d.nextNum = num + 1
	}
}

// Object resolves a reference against the revision history, newest
// revision first. A tombstone in a newer revision hides older values.
func (d *Document) Object(ref raw.ObjectRef) (raw.Object, bool) {
	for i := len(d.revisions) - 1; i >= 0; i-- {
		rev := d.revisions[i]
		if obj, ok := rev.Object(ref); ok {
			return obj, true
		}
		if rev.IsFree(ref.Num) {
			return nil, false
		}
	}
	return nil, false
}

// Touch re-registers an object as modified in the newest revision that
// holds it. It reports whether the reference resolved.
func (d *Document) Touch(ref raw.ObjectRef) bool {
	for i := len(d.revisions) - 1; i >= 0; i-- {
		if obj, ok := d.revisions[i].Object(ref); ok {
			d.revisions[i].Put(ref, obj)
			return true
		}
	}
	return false
}

// SynthesizeUpdate builds the transient revision an incremental update
// writes: the union, across all revisions, of every object modified
// since the source was parsed, with newer revisions shadowing older
// ones. Its trailer is a copy of the current trailer. The revision is
// not appended to the document.
func (d *Document) SynthesizeUpdate() *Revision {
	rev := newRevision()
	rev.SetTrailer(d.Current().Trailer().Clone())
	for _, src := range d.revisions {
		rev.SetNextObjectNumber(src.NextObjectNumber())
		for _, ref := range src.ModifiedRefs() {
			if src.IsFree(ref.Num) {
				nf, gen, _ := src.FreeEntry(ref.Num)
				rev.MarkFree(raw.ObjectRef{Num: ref.Num, Gen: gen})
				rev.free[ref.Num] = freeMark{gen: gen, nextFree: nf}
				continue
			}
			if obj, ok := src.Object(ref); ok {
				rev.Put(ref, obj)
			}
		}
		for container, members := range src.objStreams {
			if rev.modified[container] {
				rev.objStreams[container] = append([]raw.ObjectRef(nil), members...)
			}
		}
	}
	return rev
}

// BindSource attaches parsed-source information for incremental mode.
func (d *Document) BindSource(src *Source) {
	d.source = src
	if src != nil {
		d.NoteAllocated(src.Size - 1)
	}
}

// Source returns the parsed-source binding, or nil for a from-scratch
// document.
func (d *Document) Source() *Source { return d.source }

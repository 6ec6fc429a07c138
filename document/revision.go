package document

import (
	"sort"

	"github.com/wudi/pdfrev/ir/raw"
)

// freeMark records a tombstoned object number.
type freeMark struct {
	gen      int
	nextFree int
}

// Revision is one incremental layer of a document: a set of live
// objects, free marks for deleted ones, the object-stream membership
// for this layer, and the trailer dictionary that terminates it.
type Revision struct {
	objects    map[raw.ObjectRef]raw.Object
	free       map[int]freeMark
	objStreams map[raw.ObjectRef][]raw.ObjectRef
	modified   map[raw.ObjectRef]bool
	trailer    *raw.Dict
	nextNum    int
}

func newRevision() *Revision {
	return &Revision{
		objects:    make(map[raw.ObjectRef]raw.Object),
		free:       make(map[int]freeMark),
		objStreams: make(map[raw.ObjectRef][]raw.ObjectRef),
		modified:   make(map[raw.ObjectRef]bool),
		trailer:    raw.NewDict(),
	}
}

// Put stores or replaces an object in this revision and marks it
// modified relative to any parsed source.
func (r *Revision) Put(ref raw.ObjectRef, obj raw.Object) {
	r.objects[ref] = obj
	r.modified[ref] = true
	delete(r.free, ref.Num)
	if ref.Num+1 > r.nextNum {
		r.nextNum = ref.Num + 1
	}
}

// MarkFree tombstones an object number in this revision. The free
// entry keeps the reference's generation and terminates the free list.
func (r *Revision) MarkFree(ref raw.ObjectRef) {
	r.free[ref.Num] = freeMark{gen: ref.Gen}
	for held := range r.objects {
		if held.Num == ref.Num {
			delete(r.objects, held)
		}
	}
	r.modified[ref] = true
	if ref.Num+1 > r.nextNum {
		r.nextNum = ref.Num + 1
	}
}

// RestoreFree records a tombstone with an explicit free-list link. The
// parser uses it to preserve the free chain of an existing file.
func (r *Revision) RestoreFree(num, nextFree, gen int) {
	r.free[num] = freeMark{gen: gen, nextFree: nextFree}
	if num+1 > r.nextNum {
		r.nextNum = num + 1
	}
}

// Object returns the live object stored under ref.
func (r *Revision) Object(ref raw.ObjectRef) (raw.Object, bool) {
	obj, ok := r.objects[ref]
	return obj, ok
}

// IsFree reports whether the object number is tombstoned here.
func (r *Revision) IsFree(num int) bool {
	_, ok := r.free[num]
	return ok
}

// FreeEntry returns the free-list data recorded for a tombstoned
// number: the next free object number and the generation.
func (r *Revision) FreeEntry(num int) (nextFree, gen int, ok bool) {
	m, found := r.free[num]
	if !found {
		return 0, 0, false
	}
	return m.nextFree, m.gen, true
}

// Refs returns every reference held by this revision, live and
// tombstoned, in ascending object-number order.
func (r *Revision) Refs() []raw.ObjectRef {
	refs := make([]raw.ObjectRef, 0, len(r.objects)+len(r.free))
	for ref := range r.objects {
		refs = append(refs, ref)
	}
	for num, m := range r.free {
		refs = append(refs, raw.ObjectRef{Num: num, Gen: m.gen})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})
	return refs
}

// Trailer returns the revision's trailer dictionary.
func (r *Revision) Trailer() *raw.Dict { return r.trailer }

// SetTrailer replaces the revision's trailer dictionary.
func (r *Revision) SetTrailer(t *raw.Dict) {
	if t == nil {
		t = raw.NewDict()
	}
	r.trailer = t
}

// NextObjectNumber is the revision's next-free-object-number watermark:
// one more than the highest object number seen by this revision.
func (r *Revision) NextObjectNumber() int { return r.nextNum }

// SetNextObjectNumber raises the watermark; it never shrinks.
func (r *Revision) SetNextObjectNumber(n int) {
	if n > r.nextNum {
		r.nextNum = n
	}
}

// AddObjectStream declares that the stream object held under container
// packs the given member objects. Members must already be present in
// the revision; the writer emits them through the container instead of
// directly.
func (r *Revision) AddObjectStream(container raw.ObjectRef, members ...raw.ObjectRef) {
	r.objStreams[container] = append(r.objStreams[container], members...)
}

// ObjectStreams returns the container references declared on this
// revision in ascending object-number order.
func (r *Revision) ObjectStreams() []raw.ObjectRef {
	refs := make([]raw.ObjectRef, 0, len(r.objStreams))
	for ref := range r.objStreams {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })
	return refs
}

// StreamMembers returns the member references of one container.
func (r *Revision) StreamMembers(container raw.ObjectRef) []raw.ObjectRef {
	return r.objStreams[container]
}

// ModifiedRefs returns the references touched in this revision since
// the document was parsed, in ascending object-number order. For a
// document built from scratch this is every reference.
func (r *Revision) ModifiedRefs() []raw.ObjectRef {
	refs := make([]raw.ObjectRef, 0, len(r.modified))
	for ref := range r.modified {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})
	return refs
}

// ClearModified forgets modification tracking. The parser calls this
// after restoring a revision from existing file bytes.
func (r *Revision) ClearModified() {
	r.modified = make(map[raw.ObjectRef]bool)
}

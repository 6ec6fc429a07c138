// Package xref builds and decodes PDF cross-reference data. A Section
// accumulates the entries of one revision in arbitrary order and seals
// them into the contiguous subsections the file format requires, in
// either classic-table or stream-encoded form.
package xref

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicateEntry reports two entries registered for the same object
// number within one section. This is a caller bug, not a recoverable
// condition.
var ErrDuplicateEntry = errors.New("xref: duplicate entry for object number")

// EntryKind tags the three cross-reference entry types.
type EntryKind int

const (
	// Free marks an object number that carries no object in this revision.
	Free EntryKind = iota
	// InUse locates an object at an absolute byte offset in the file.
	InUse
	// Compressed locates an object inside an object stream.
	Compressed
)

// Entry is one cross-reference record. Which fields are meaningful
// depends on Kind: Free uses NextFree and Gen, InUse uses Offset and
// Gen, Compressed uses Container and Index.
type Entry struct {
	Num       int
	Kind      EntryKind
	Offset    int64
	Gen       int
	NextFree  int
	Container int
	Index     int
}

// Section collects the entries of a single revision.
type Section struct {
	entries map[int]Entry
}

// NewSection returns an empty section.
func NewSection() *Section {
	return &Section{entries: make(map[int]Entry)}
}

func (s *Section) add(e Entry) error {
	if _, ok := s.entries[e.Num]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateEntry, e.Num)
	}
	s.entries[e.Num] = e
	return nil
}

// AddFree registers a free entry. nextFree is the object number of the
// next free object on the free list.
func (s *Section) AddFree(num, nextFree, gen int) error {
	return s.add(Entry{Num: num, Kind: Free, NextFree: nextFree, Gen: gen})
}

// AddInUse registers an in-use entry at the given absolute byte offset.
func (s *Section) AddInUse(num, gen int, offset int64) error {
	return s.add(Entry{Num: num, Kind: InUse, Offset: offset, Gen: gen})
}

// AddCompressed registers an entry for an object stored at the given
// index inside the object stream numbered container.
func (s *Section) AddCompressed(num, container, index int) error {
	return s.add(Entry{Num: num, Kind: Compressed, Container: container, Index: index})
}

// Len reports the number of registered entries.
func (s *Section) Len() int { return len(s.entries) }

// Entry returns the registered entry for an object number.
func (s *Section) Entry(num int) (Entry, bool) {
	e, ok := s.entries[num]
	return e, ok
}

// MaxObjectNumber returns the highest registered object number, or -1
// for an empty section.
func (s *Section) MaxObjectNumber() int {
	max := -1
	for num := range s.entries {
		if num > max {
			max = num
		}
	}
	return max
}

// Subsection is a maximal run of entries with contiguous object
// numbers, matching the "<first> <count>" header of the classic table
// format and the /Index pairs of the stream format.
type Subsection struct {
	First   int
	Entries []Entry
}

// Seal groups the accumulated entries into subsections ordered by
// ascending starting object number. Entries within a subsection are in
// strictly ascending, contiguous object-number order.
func (s *Section) Seal() []Subsection {
	if len(s.entries) == 0 {
		return nil
	}
	nums := make([]int, 0, len(s.entries))
	for num := range s.entries {
		nums = append(nums, num)
	}
	sort.Ints(nums)

	var subs []Subsection
	cur := Subsection{First: nums[0], Entries: []Entry{s.entries[nums[0]]}}
	for _, num := range nums[1:] {
		if num == cur.First+len(cur.Entries) {
			cur.Entries = append(cur.Entries, s.entries[num])
			continue
		}
		subs = append(subs, cur)
		cur = Subsection{First: num, Entries: []Entry{s.entries[num]}}
	}
	return append(subs, cur)
}

// StreamFieldWidths is the /W array used for stream-encoded sections:
// one byte for the entry type, four for the offset or container number,
// two for the generation or index.
var StreamFieldWidths = [3]int{1, 4, 2}

// EncodeStream seals the section and encodes it as cross-reference
// stream rows. It returns the flattened /Index pairs and the
// uncompressed row data; callers apply stream filters themselves.
// Entries whose values do not fit the fixed field widths are rejected
// rather than truncated.
func (s *Section) EncodeStream() (index []int, data []byte, err error) {
	subs := s.Seal()
	rowLen := StreamFieldWidths[0] + StreamFieldWidths[1] + StreamFieldWidths[2]
	for _, sub := range subs {
		index = append(index, sub.First, len(sub.Entries))
		for _, e := range sub.Entries {
			row := make([]byte, rowLen)
			switch e.Kind {
			case Free:
				row[0] = 0
				binary.BigEndian.PutUint32(row[1:5], uint32(e.NextFree))
				binary.BigEndian.PutUint16(row[5:7], uint16(e.Gen))
			case InUse:
				if e.Offset < 0 || e.Offset > 1<<32-1 {
					return nil, nil, fmt.Errorf("xref: offset %d of object %d exceeds the 4-byte stream field", e.Offset, e.Num)
				}
				row[0] = 1
				binary.BigEndian.PutUint32(row[1:5], uint32(e.Offset))
				binary.BigEndian.PutUint16(row[5:7], uint16(e.Gen))
			case Compressed:
				row[0] = 2
				binary.BigEndian.PutUint32(row[1:5], uint32(e.Container))
				binary.BigEndian.PutUint16(row[5:7], uint16(e.Index))
			}
			data = append(data, row...)
		}
	}
	return index, data, nil
}

// Package objstm packs indirect objects into object-stream containers.
// A container multiplexes the serialized values of several objects into
// one compressed stream; the cross-reference data then records each
// member as (container, index) instead of a byte offset.
package objstm

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/wudi/pdfrev/filters"
	"github.com/wudi/pdfrev/ir/raw"
)

// ErrStreamMember reports an attempt to pack a stream object; the
// format only allows non-stream values inside a container.
var ErrStreamMember = errors.New("objstm: stream objects cannot live in an object stream")

// ErrMemberGeneration reports a member with a non-zero generation;
// compressed entries carry no generation field.
var ErrMemberGeneration = errors.New("objstm: members must have generation 0")

// Serializer turns one object value into PDF syntax bytes. The writer's
// byte serializer satisfies this.
type Serializer interface {
	Serialize(obj raw.Object) ([]byte, error)
}

// Placement locates one member inside its container.
type Placement struct {
	Container raw.ObjectRef
	Index     int
}

// Container pairs a container stream object with its member set.
type Container struct {
	Ref     raw.ObjectRef
	Stream  *raw.Stream
	Members []raw.ObjectRef
}

// WriteMembers serializes every member into the container stream now,
// fills in the container's header dictionary (/Type /ObjStm /N /First
// /Filter /Length) and returns the placement of each member. After this
// call the container is ready to be written as a normal indirect
// object.
func (c *Container) WriteMembers(lookup func(raw.ObjectRef) (raw.Object, bool), ser Serializer, pipe *filters.Pipeline) (map[raw.ObjectRef]Placement, error) {
	var header bytes.Buffer
	var body bytes.Buffer
	placements := make(map[raw.ObjectRef]Placement, len(c.Members))

	for i, ref := range c.Members {
		if ref.Gen != 0 {
			return nil, fmt.Errorf("%w: %s", ErrMemberGeneration, ref)
		}
		obj, ok := lookup(ref)
		if !ok {
			return nil, fmt.Errorf("objstm: member %s not present in revision", ref)
		}
		if _, isStream := obj.(*raw.Stream); isStream {
			return nil, fmt.Errorf("%w: %s", ErrStreamMember, ref)
		}
		data, err := ser.Serialize(obj)
		if err != nil {
			return nil, fmt.Errorf("objstm: serialize member %s: %w", ref, err)
		}
		if i > 0 {
			header.WriteByte(' ')
			body.WriteByte(' ')
		}
		header.WriteString(strconv.Itoa(ref.Num))
		header.WriteByte(' ')
		header.WriteString(strconv.FormatInt(int64(body.Len()), 10))
		body.Write(data)
		placements[ref] = Placement{Container: c.Ref, Index: i}
	}
	header.WriteByte(' ')

	first := header.Len()
	payload := append(header.Bytes(), body.Bytes()...)
	encoded, err := pipe.Encode(payload, []string{"FlateDecode"})
	if err != nil {
		return nil, fmt.Errorf("objstm: %w", err)
	}

	h := c.Stream.Header
	h.Set("Type", raw.Name("ObjStm"))
	h.Set("N", raw.Integer(len(c.Members)))
	h.Set("First", raw.Integer(first))
	h.Set("Filter", raw.Name("FlateDecode"))
	h.Set("Length", raw.Integer(len(encoded)))
	c.Stream.Data = encoded
	return placements, nil
}

// Member records one entry of a decoded container header.
type Member struct {
	Num    int
	Offset int
}

// Layout parses the pair table of a decoded container payload: n pairs
// of object number and byte offset relative to first.
func Layout(decoded []byte, n, first int) ([]Member, error) {
	if first < 0 || first > len(decoded) {
		return nil, fmt.Errorf("objstm: /First %d outside payload of %d bytes", first, len(decoded))
	}
	fields := bytes.Fields(decoded[:first])
	if len(fields) < 2*n {
		return nil, fmt.Errorf("objstm: header holds %d fields, need %d", len(fields), 2*n)
	}
	members := make([]Member, 0, n)
	for i := 0; i < n; i++ {
		num, err := strconv.Atoi(string(fields[2*i]))
		if err != nil {
			return nil, fmt.Errorf("objstm: parse member number: %w", err)
		}
		off, err := strconv.Atoi(string(fields[2*i+1]))
		if err != nil {
			return nil, fmt.Errorf("objstm: parse member offset: %w", err)
		}
		if first+off > len(decoded) {
			return nil, fmt.Errorf("objstm: member %d offset %d outside payload", num, off)
		}
		members = append(members, Member{Num: num, Offset: off})
	}
	return members, nil
}

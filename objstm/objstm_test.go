package objstm_test

import (
	"errors"
	"testing"

	"github.com/wudi/pdfrev/filters"
	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/objstm"
	"github.com/wudi/pdfrev/writer"
)

func memberLookup(objects map[raw.ObjectRef]raw.Object) func(raw.ObjectRef) (raw.Object, bool) {
	return func(ref raw.ObjectRef) (raw.Object, bool) {
		obj, ok := objects[ref]
		return obj, ok
	}
}

func TestWriteMembersLayout(t *testing.T) {
	font := raw.NewDict()
	font.Set("Type", raw.Name("Font"))
	objects := map[raw.ObjectRef]raw.Object{
		{Num: 4}: font,
		{Num: 5}: raw.Integer(7),
	}

	c := &objstm.Container{
		Ref:     raw.ObjectRef{Num: 2},
		Stream:  raw.NewStream(raw.NewDict(), nil),
		Members: []raw.ObjectRef{{Num: 4}, {Num: 5}},
	}
	placed, err := c.WriteMembers(memberLookup(objects), writer.NewSerializer(nil), filters.Default())
	if err != nil {
		t.Fatalf("write members: %v", err)
	}

	if p := placed[raw.ObjectRef{Num: 4}]; p.Container.Num != 2 || p.Index != 0 {
		t.Fatalf("object 4 placed at %+v", p)
	}
	if p := placed[raw.ObjectRef{Num: 5}]; p.Index != 1 {
		t.Fatalf("object 5 placed at %+v", p)
	}

	if typ, _ := c.Stream.Header.NameValue("Type"); typ != "ObjStm" {
		t.Fatalf("container type is /%s", typ)
	}
	n, _ := c.Stream.Header.Int("N")
	if n != 2 {
		t.Fatalf("container /N = %d", n)
	}

	// Decode and walk the pair table back to the members.
	decoded, err := filters.Flate().Decode(c.Stream.Data)
	if err != nil {
		t.Fatalf("decode container: %v", err)
	}
	first, _ := c.Stream.Header.Int("First")
	members, err := objstm.Layout(decoded, int(n), int(first))
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	if members[0].Num != 4 || members[1].Num != 5 {
		t.Fatalf("member numbers %d, %d", members[0].Num, members[1].Num)
	}
	body := decoded[int(first)+members[1].Offset:]
	if string(body) != "7" {
		t.Fatalf("member 5 body is %q", body)
	}
}

func TestWriteMembersRejectsStreams(t *testing.T) {
	objects := map[raw.ObjectRef]raw.Object{
		{Num: 4}: raw.NewStream(raw.NewDict(), []byte("data")),
	}
	c := &objstm.Container{
		Ref:     raw.ObjectRef{Num: 2},
		Stream:  raw.NewStream(raw.NewDict(), nil),
		Members: []raw.ObjectRef{{Num: 4}},
	}
	_, err := c.WriteMembers(memberLookup(objects), writer.NewSerializer(nil), filters.Default())
	if !errors.Is(err, objstm.ErrStreamMember) {
		t.Fatalf("expected ErrStreamMember, got %v", err)
	}
}

func TestWriteMembersRejectsNonZeroGeneration(t *testing.T) {
	objects := map[raw.ObjectRef]raw.Object{
		{Num: 4, Gen: 1}: raw.Integer(1),
	}
	c := &objstm.Container{
		Ref:     raw.ObjectRef{Num: 2},
		Stream:  raw.NewStream(raw.NewDict(), nil),
		Members: []raw.ObjectRef{{Num: 4, Gen: 1}},
	}
	_, err := c.WriteMembers(memberLookup(objects), writer.NewSerializer(nil), filters.Default())
	if !errors.Is(err, objstm.ErrMemberGeneration) {
		t.Fatalf("expected ErrMemberGeneration, got %v", err)
	}
}

func TestLayoutBoundsChecks(t *testing.T) {
	if _, err := objstm.Layout([]byte("4 0 "), 1, 99); err == nil {
		t.Fatal("expected error for /First outside payload")
	}
	if _, err := objstm.Layout([]byte("4 0 "), 2, 4); err == nil {
		t.Fatal("expected error for short pair table")
	}
	if _, err := objstm.Layout([]byte("4 900 "), 1, 6); err == nil {
		t.Fatal("expected error for member offset outside payload")
	}
}

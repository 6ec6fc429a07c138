package xref

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Table is the read-side view of one cross-reference section.
type Table struct {
	entries map[int]Entry
}

// NewTable returns an empty table.
func NewTable() *Table { return &Table{entries: make(map[int]Entry)} }

// Lookup returns the entry recorded for the given object number.
func (t *Table) Lookup(num int) (Entry, bool) {
	e, ok := t.entries[num]
	return e, ok
}

// Set records an entry, replacing any previous one for that number.
func (t *Table) Set(e Entry) { t.entries[e.Num] = e }

// Numbers returns the object numbers present in the table, unsorted.
func (t *Table) Numbers() []int {
	out := make([]int, 0, len(t.entries))
	for num := range t.entries {
		out = append(out, num)
	}
	return out
}

// ParseClassic reads a classic cross-reference table starting at the
// xref keyword. It returns the parsed table and the absolute offset of
// the trailer keyword that follows it.
func ParseClassic(data []byte, offset int64) (*Table, int64, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, 0, fmt.Errorf("xref: table offset out of range: %d", offset)
	}
	rd := bufio.NewReader(bytes.NewReader(data[offset:]))
	pos := offset

	line, n, err := readLine(rd)
	if err != nil {
		return nil, 0, err
	}
	pos += int64(n)
	if strings.TrimSpace(line) != "xref" {
		return nil, 0, errors.New("xref: keyword not found at table offset")
	}

	table := NewTable()
	for {
		line, n, err = readLine(rd)
		if err != nil {
			return nil, 0, errors.New("xref: unexpected end of table")
		}
		header := strings.TrimSpace(line)
		if header == "" {
			pos += int64(n)
			continue
		}
		if strings.HasPrefix(header, "trailer") {
			return table, pos, nil
		}
		pos += int64(n)

		fields := strings.Fields(header)
		if len(fields) != 2 {
			return nil, 0, fmt.Errorf("xref: invalid subsection header %q", header)
		}
		first, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, 0, fmt.Errorf("xref: parse subsection start: %w", err)
		}
		count, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, 0, fmt.Errorf("xref: parse subsection count: %w", err)
		}

		for i := 0; i < count; i++ {
			line, n, err = readLine(rd)
			if err != nil {
				return nil, 0, errors.New("xref: unexpected end of subsection")
			}
			pos += int64(n)
			fields = strings.Fields(strings.TrimSpace(line))
			if len(fields) < 3 {
				return nil, 0, fmt.Errorf("xref: invalid entry line %q", line)
			}
			val, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return nil, 0, fmt.Errorf("xref: parse entry offset: %w", err)
			}
			gen, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, 0, fmt.Errorf("xref: parse entry generation: %w", err)
			}
			num := first + i
			switch fields[2] {
			case "n":
				table.Set(Entry{Num: num, Kind: InUse, Offset: val, Gen: gen})
			case "f":
				table.Set(Entry{Num: num, Kind: Free, NextFree: int(val), Gen: gen})
			default:
				return nil, 0, fmt.Errorf("xref: invalid entry type %q", fields[2])
			}
		}
	}
}

// readLine consumes one line terminated by LF, CR or CRLF and reports
// how many bytes it consumed, terminator included.
func readLine(rd *bufio.Reader) (string, int, error) {
	var sb strings.Builder
	n := 0
	for {
		c, err := rd.ReadByte()
		if err != nil {
			if n > 0 {
				return sb.String(), n, nil
			}
			return "", 0, err
		}
		n++
		if c == '\n' {
			return sb.String(), n, nil
		}
		if c == '\r' {
			if next, err := rd.ReadByte(); err == nil {
				if next == '\n' {
					n++
				} else {
					rd.UnreadByte()
				}
			}
			return sb.String(), n, nil
		}
		sb.WriteByte(c)
	}
}

// DecodeStream decodes cross-reference stream rows. w holds the field
// widths from /W, index the flattened subsection pairs from /Index, and
// data the decoded stream payload.
func DecodeStream(w []int, index []int, data []byte) (*Table, error) {
	if len(w) != 3 {
		return nil, fmt.Errorf("xref: /W must have 3 elements, got %d", len(w))
	}
	for i, width := range w {
		// Each field is read into a uint64, so 8 bytes is the ceiling.
		if width < 0 || width > 8 {
			return nil, fmt.Errorf("xref: /W field %d has width %d, want 0..8", i, width)
		}
	}
	if len(index)%2 != 0 {
		return nil, errors.New("xref: /Index must hold pairs")
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, errors.New("xref: zero-width rows")
	}

	table := NewTable()
	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(data) {
				return nil, errors.New("xref: stream data shorter than /Index claims")
			}
			row := data[pos : pos+rowLen]
			pos += rowLen

			typ := uint64(1) // a missing type field defaults to in-use
			if w[0] > 0 {
				typ = fieldValue(row[:w[0]])
			}
			f2 := fieldValue(row[w[0] : w[0]+w[1]])
			f3 := fieldValue(row[w[0]+w[1]:])

			num := first + j
			switch typ {
			case 0:
				table.Set(Entry{Num: num, Kind: Free, NextFree: int(f2), Gen: int(f3)})
			case 1:
				table.Set(Entry{Num: num, Kind: InUse, Offset: int64(f2), Gen: int(f3)})
			case 2:
				table.Set(Entry{Num: num, Kind: Compressed, Container: int(f2), Index: int(f3)})
			default:
				// Unknown types are treated as references to null per
				// the format's forward-compatibility rule: skip them.
			}
		}
	}
	return table, nil
}

func fieldValue(b []byte) uint64 {
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf[:])
}

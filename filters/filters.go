// Package filters implements the stream filter codecs the serializer
// and parser need: FlateDecode for object and cross-reference streams,
// ASCIIHexDecode for debug-friendly output. Each codec works on whole
// in-memory payloads; chaining happens through Pipeline.
package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"fmt"
	"io"
)

// Codec encodes and decodes one stream filter.
type Codec interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

type flateCodec struct{}

// Flate returns the FlateDecode codec (zlib-wrapped deflate).
func Flate() Codec { return flateCodec{} }

func (flateCodec) Name() string { return "FlateDecode" }

func (flateCodec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("flate encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flate encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (flateCodec) Decode(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("flate decode: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("flate decode: %w", err)
	}
	return out, nil
}

type asciiHexCodec struct{}

// ASCIIHex returns the ASCIIHexDecode codec.
func ASCIIHex() Codec { return asciiHexCodec{} }

func (asciiHexCodec) Name() string { return "ASCIIHexDecode" }

func (asciiHexCodec) Encode(data []byte) ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(data))+1)
	hex.Encode(out, data)
	out[len(out)-1] = '>'
	return out, nil
}

func (asciiHexCodec) Decode(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if i := bytes.IndexByte(trimmed, '>'); i >= 0 {
		trimmed = trimmed[:i]
	}
	var compact []byte
	for _, c := range trimmed {
		switch c {
		case ' ', '\t', '\r', '\n', '\f', 0x00:
			continue
		}
		compact = append(compact, c)
	}
	if len(compact)%2 == 1 {
		compact = append(compact, '0') // odd count implies a trailing zero
	}
	out := make([]byte, hex.DecodedLen(len(compact)))
	if _, err := hex.Decode(out, compact); err != nil {
		return nil, fmt.Errorf("asciihex decode: %w", err)
	}
	return out, nil
}

// Pipeline resolves filter names to codecs and applies chains.
type Pipeline struct {
	codecs map[string]Codec
}

// NewPipeline returns a pipeline holding the given codecs.
func NewPipeline(codecs ...Codec) *Pipeline {
	p := &Pipeline{codecs: make(map[string]Codec)}
	for _, c := range codecs {
		p.codecs[c.Name()] = c
	}
	return p
}

// Default returns a pipeline with every codec this package implements.
func Default() *Pipeline {
	return NewPipeline(Flate(), ASCIIHex())
}

// Get looks up a codec by its filter name.
func (p *Pipeline) Get(name string) (Codec, bool) {
	c, ok := p.codecs[name]
	return c, ok
}

// Decode applies the named filters in order, as a reader would.
func (p *Pipeline) Decode(data []byte, names []string) ([]byte, error) {
	for _, name := range names {
		c, ok := p.codecs[name]
		if !ok {
			return nil, fmt.Errorf("filters: unknown filter %q", name)
		}
		out, err := c.Decode(data)
		if err != nil {
			return nil, err
		}
		data = out
	}
	return data, nil
}

// Encode applies the named filters in reverse, producing bytes a reader
// will decode with the same filter list.
func (p *Pipeline) Encode(data []byte, names []string) ([]byte, error) {
	for i := len(names) - 1; i >= 0; i-- {
		c, ok := p.codecs[names[i]]
		if !ok {
			return nil, fmt.Errorf("filters: unknown filter %q", names[i])
		}
		out, err := c.Encode(data)
		if err != nil {
			return nil, err
		}
		data = out
	}
	return data, nil
}

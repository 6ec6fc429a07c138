// Command pdfrev inspects and rewrites PDF revision chains. It can dump
// the cross-reference structure of a file as JSON, rewrite the file
// from scratch as a single revision, or append an incremental update.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/wudi/pdfrev/document"
	"github.com/wudi/pdfrev/parser"
	"github.com/wudi/pdfrev/recovery"
	"github.com/wudi/pdfrev/security"
	"github.com/wudi/pdfrev/writer"
)

type options struct {
	pdfPath  string
	info     bool
	rewrite  string
	update   string
	producer string
	lenient  bool
	keyHex   string
	aes      bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfrev: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdfrev: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: pdfrev [flags] <pdf>\n")
		flag.PrintDefaults()
	}
	flag.BoolVar(&opts.info, "info", false, "Dump the revision chain as JSON")
	flag.StringVar(&opts.rewrite, "rewrite", "", "Rewrite the whole file to the given path")
	flag.StringVar(&opts.update, "update", "", "Append an incremental update and write to the given path")
	flag.StringVar(&opts.producer, "producer", "", "Override the /Producer string on output")
	flag.BoolVar(&opts.lenient, "lenient", false, "Skip damaged objects instead of failing")
	flag.StringVar(&opts.keyHex, "key", "", "Hex-encoded file encryption key")
	flag.BoolVar(&opts.aes, "aes", false, "Use AES instead of RC4 with -key")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.pdfPath = flag.Arg(0)
	if !opts.info && opts.rewrite == "" && opts.update == "" {
		opts.info = true
	}
	return opts, nil
}

func run(opts options) error {
	data, err := os.ReadFile(opts.pdfPath)
	if err != nil {
		return err
	}

	cfg := parser.Config{}
	var lenient *recovery.Lenient
	if opts.lenient {
		lenient = &recovery.Lenient{}
		cfg.Recovery = lenient
	}
	var key []byte
	algo := security.RC4
	if opts.aes {
		algo = security.AESV2
	}
	if opts.keyHex != "" {
		key, err = hex.DecodeString(opts.keyHex)
		if err != nil {
			return fmt.Errorf("decode -key: %w", err)
		}
		cfg.Security, err = (&security.HandlerBuilder{}).WithKey(key).WithAlgorithm(algo).Build()
		if err != nil {
			return err
		}
	}

	p, err := (&parser.Builder{}).WithConfig(cfg).Build()
	if err != nil {
		return err
	}
	ctx := context.Background()
	doc, err := p.Parse(ctx, data)
	if err != nil {
		return err
	}
	if lenient != nil {
		for _, perr := range lenient.Errors {
			fmt.Fprintf(os.Stderr, "pdfrev: recovered: %v\n", perr)
		}
	}

	if opts.info {
		if err := dumpInfo(doc, os.Stdout); err != nil {
			return err
		}
	}

	if opts.rewrite == "" && opts.update == "" {
		return nil
	}
	wb := (&writer.Builder{}).WithConfig(writer.Config{Producer: opts.producer})
	if key != nil {
		wb = wb.WithEncryptionKey(key, algo)
	}
	w, err := wb.Build()
	if err != nil {
		return err
	}

	if opts.rewrite != "" {
		if err := writeTo(opts.rewrite, func(out *os.File) error {
			return w.Write(ctx, doc, out)
		}); err != nil {
			return err
		}
	}
	if opts.update != "" {
		if err := writeTo(opts.update, func(out *os.File) error {
			return w.WriteIncremental(ctx, doc, out)
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeTo(path string, fn func(*os.File) error) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(out); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	return out.Close()
}

type revisionInfo struct {
	Objects       int      `json:"objects"`
	Freed         int      `json:"freed"`
	ObjectStreams int      `json:"object_streams,omitempty"`
	Size          int64    `json:"size"`
	TrailerKeys   []string `json:"trailer_keys"`
}

type fileInfo struct {
	Version    string         `json:"version"`
	XRefStream bool           `json:"xref_stream"`
	StartXRef  int64          `json:"startxref"`
	Revisions  []revisionInfo `json:"revisions"`
}

func dumpInfo(doc *document.Document, out io.Writer) error {
	info := fileInfo{Version: doc.Version()}
	if src := doc.Source(); src != nil {
		info.XRefStream = src.XRefStream
		info.StartXRef = src.StartXRef
	}
	for _, rev := range doc.Revisions() {
		ri := revisionInfo{ObjectStreams: len(rev.ObjectStreams())}
		for _, ref := range rev.Refs() {
			if rev.IsFree(ref.Num) {
				ri.Freed++
			} else {
				ri.Objects++
			}
		}
		if size, ok := rev.Trailer().Int("Size"); ok {
			ri.Size = size
		}
		for _, key := range rev.Trailer().Keys() {
			ri.TrailerKeys = append(ri.TrailerKeys, string(key))
		}
		info.Revisions = append(info.Revisions, ri)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

// Package writer serializes a document's revision graph into PDF file
// bytes: a full rewrite with Write, or an appended update with
// WriteIncremental that reproduces the source bytes untouched. It owns
// the revision-write algorithm: object emission, cross-reference
// section building in classic-table or stream form, trailer chaining
// via /Prev and the startxref footer.
package writer

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/pdfrev/document"
	"github.com/wudi/pdfrev/filters"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/security"
)

// Structural errors: caller or document invariant violations that abort
// the write before the affected bytes are emitted.
var (
	// ErrObjectStreamsRequireXRefStream reports a revision holding
	// object-stream containers but no cross-reference stream object;
	// the classic table format cannot express compressed entries.
	ErrObjectStreamsRequireXRefStream = errors.New("writer: object streams require a cross-reference stream")

	// ErrNoSource reports an incremental update on a document that was
	// not parsed from an existing file.
	ErrNoSource = errors.New("writer: incremental update requires a parsed source")
)

// defaultProducer identifies this engine in the /Info dictionary.
const defaultProducer = "pdfrev 1.2.0"

// Config carries per-writer settings. The zero value is usable.
type Config struct {
	// Version overrides the document's header version marker.
	Version string
	// Producer overrides the /Producer string stamped into /Info.
	Producer string
	// StrictEncryption makes the encryption handler built by the
	// Builder reject malformed padding instead of passing data through.
	StrictEncryption bool
}

// Writer emits a document to a byte sink. Both methods perform a
// single synchronous pass; on error the sink holds a truncated,
// unusable prefix and the caller must discard it.
type Writer interface {
	Write(ctx context.Context, doc *document.Document, w io.Writer) error
	WriteIncremental(ctx context.Context, doc *document.Document, w io.Writer) error
}

// Builder assembles a Writer.
type Builder struct {
	cfg     Config
	log     observability.Logger
	tracer  observability.Tracer
	encKey  []byte
	encAlgo security.Algorithm
}

func (b *Builder) WithConfig(cfg Config) *Builder { b.cfg = cfg; return b }

func (b *Builder) WithLogger(log observability.Logger) *Builder { b.log = log; return b }

func (b *Builder) WithTracer(tr observability.Tracer) *Builder { b.tracer = tr; return b }

// WithEncryptionKey enables output encryption with the standard
// security handler using the given file key and cipher.
func (b *Builder) WithEncryptionKey(key []byte, algo security.Algorithm) *Builder {
	b.encKey = key
	b.encAlgo = algo
	return b
}

// Build validates the configuration and returns the writer.
func (b *Builder) Build() (Writer, error) {
	log := b.log
	if log == nil {
		log = observability.NopLogger{}
	}
	tracer := b.tracer
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	var enc security.Handler
	if b.encKey != nil {
		var err error
		enc, err = (&security.HandlerBuilder{}).
			WithKey(b.encKey).
			WithAlgorithm(b.encAlgo).
			WithStrict(b.cfg.StrictEncryption).
			Build()
		if err != nil {
			return nil, err
		}
	}
	return &impl{
		cfg:    b.cfg,
		log:    log,
		tracer: tracer,
		ser:    NewSerializer(enc),
		pipe:   filters.Default(),
	}, nil
}

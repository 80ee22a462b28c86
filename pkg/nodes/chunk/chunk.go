// Package chunk provides a text chunking node for retrieval pipelines. It
// splits a document into overlapping chunks by fixed size, sentence, or
// paragraph boundaries.
package chunk

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// Strategy selects how text is split.
type Strategy string

const (
	// FixedSize splits at a byte-size budget, preferring whitespace breaks
	FixedSize Strategy = "fixed_size"

	// Sentence splits at sentence boundaries, packing sentences up to the
	// size budget
	Sentence Strategy = "sentence"

	// Paragraph splits at blank-line boundaries
	Paragraph Strategy = "paragraph"
)

// State is the chunk node's routing state.
type State int

const (
	// StateDefault ends the flow when no chunked edge is declared
	StateDefault State = iota

	// StateChunked routes on "chunked" after a successful split
	StateChunked

	// StateFailed routes on "chunking_error"
	StateFailed
)

// IsDefault reports whether the state is the default variant.
func (s State) IsDefault() bool { return s == StateDefault }

// Condition returns the condition label for the state.
func (s State) Condition() string {
	switch s {
	case StateChunked:
		return "chunked"
	case StateFailed:
		return "chunking_error"
	default:
		return flow.DefaultCondition
	}
}

// Options configures the chunker.
type Options struct {
	// ChunkSize is the target chunk size in bytes; defaults to 1000
	ChunkSize int

	// Overlap is how many trailing bytes of one chunk repeat at the start
	// of the next; defaults to 100
	Overlap int

	// Strategy selects the split algorithm; defaults to FixedSize
	Strategy Strategy

	// Normalize applies NFC normalization before splitting
	Normalize bool
}

// DefaultOptions returns the stock chunking options.
func DefaultOptions() Options {
	return Options{ChunkSize: 1000, Overlap: 100, Strategy: FixedSize}
}

var (
	sentenceRe  = regexp.MustCompile(`[.!?]+\s+`)
	paragraphRe = regexp.MustCompile(`\n\s*\n`)
)

// Node splits the text under SourceKey into chunks stored under OutputKey.
// A successful split routes on "chunked"; a failure routes on
// "chunking_error" so flows can send bad documents to a recovery branch.
type Node struct {
	flow.BaseNode
	sourceKey string
	outputKey string
	opts      Options
}

// New creates a chunk node reading from sourceKey and writing to outputKey.
func New(sourceKey, outputKey string, opts Options) *Node {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		opts.Overlap = 0
	}
	if opts.Strategy == "" {
		opts.Strategy = FixedSize
	}
	return &Node{sourceKey: sourceKey, outputKey: outputKey, opts: opts}
}

// Execute splits the source text and returns the chunks.
func (n *Node) Execute(ctx context.Context, c *flow.Context) (any, error) {
	text := c.GetString(n.sourceKey)
	if text == "" {
		return nil, fmt.Errorf("no text under key %q", n.sourceKey)
	}
	if n.opts.Normalize {
		text = norm.NFC.String(text)
	}

	var chunks []string
	switch n.opts.Strategy {
	case Sentence:
		chunks = n.chunkByBoundary(sentenceRe.Split(text, -1), " ")
	case Paragraph:
		chunks = n.chunkByBoundary(paragraphRe.Split(text, -1), "\n\n")
	default:
		chunks = n.chunkBySize(text)
	}

	out := make([]any, len(chunks))
	for i, ch := range chunks {
		out[i] = ch
	}
	return out, nil
}

// PostProcess stores the chunks and routes on the outcome.
func (n *Node) PostProcess(ctx context.Context, c *flow.Context, output any, execErr error) (flow.ProcessResult, error) {
	if execErr != nil {
		c.Set("error", execErr.Error())
		return flow.NewResult(StateFailed, execErr.Error()), nil
	}
	c.Set(n.outputKey, output)
	return flow.NewResult(StateChunked, fmt.Sprintf("%d chunks", len(output.([]any)))), nil
}

// chunkBySize splits text at the size budget, backing up to the nearest
// whitespace so words stay intact, and carrying Overlap bytes forward.
func (n *Node) chunkBySize(text string) []string {
	var chunks []string
	start := 0
	for start < len(text) {
		end := start + n.opts.ChunkSize
		if end >= len(text) {
			chunks = append(chunks, strings.TrimSpace(text[start:]))
			break
		}

		actual := end
		for actual > start && !unicode.IsSpace(rune(text[actual])) {
			actual--
		}
		if actual == start {
			actual = end // no break point; hard split
		}

		chunk := strings.TrimSpace(text[start:actual])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := actual - n.opts.Overlap
		if next <= start {
			next = actual
		}
		start = next
	}
	return chunks
}

// chunkByBoundary packs boundary-split pieces into chunks up to the size
// budget, joining with sep.
func (n *Node) chunkByBoundary(pieces []string, sep string) []string {
	var chunks []string
	var current strings.Builder
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(sep)+len(piece) > n.opts.ChunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

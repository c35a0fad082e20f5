// Package chunker splits corpus text into overlapping chunks for embedding.
// Splitting is recursive: the text is cut at the coarsest separator it
// contains (paragraph, line, sentence punctuation, comma, space), pieces are
// merged back up to the chunk size, and pieces still too long are split again
// with the next finer separator. All lengths are counted in runes.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the default maximum number of runes per chunk.
const DefaultChunkSize = 1500

// DefaultChunkOverlap is the default number of runes carried over from the
// end of one chunk into the next.
const DefaultChunkOverlap = 200

// DefaultSeparators are tried in order, coarsest first. The empty separator
// splits into single runes and always applies.
var DefaultSeparators = []string{"\n\n", "\n", ".", "!", "?", ",", " ", ""}

// Splitter is a recursive character splitter. It is safe for concurrent use.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the maximum chunk length in runes.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in runes.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// WithSeparators replaces the separator list.
func WithSeparators(seps []string) Option {
	return func(s *Splitter) {
		if len(seps) > 0 {
			s.separators = append([]string(nil), seps...)
		}
	}
}

// New creates a Splitter with the given options.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

// Split returns the chunks of text in order. Each chunk is trimmed of
// surrounding whitespace; empty chunks are dropped. A chunk is longer than
// the chunk size only when no separator can break it, which cannot happen
// while the empty separator is in the list.
func (s *Splitter) Split(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var finer []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			finer = separators[i+1:]
			break
		}
	}

	var (
		out  []string
		good []string
	)
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(finer) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, finer)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge joins consecutive pieces into chunks no longer than the chunk size,
// starting each new chunk with the trailing pieces of the previous one that
// fit within the overlap.
func (s *Splitter) merge(pieces []string) []string {
	var (
		chunks  []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.chunkSize && len(current) > 0 {
			if c := join(current); c != "" {
				chunks = append(chunks, c)
			}
			for total > s.overlap || (total+n > s.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if c := join(current); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

// splitKeepingSeparator cuts text at every occurrence of sep, attaching the
// separator to the start of the piece that follows it. The empty separator
// yields single runes. Empty pieces are dropped.
func splitKeepingSeparator(text, sep string) []string {
	var pieces []string
	if sep == "" {
		pieces = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	parts := strings.Split(text, sep)
	pieces = make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func join(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

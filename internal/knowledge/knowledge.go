// Package knowledge loads the static lookup tables that sit in front of
// retrieval: the full law text, the curated question/answer pairs and the
// concept dictionary. All three are read from a single corpus directory:
//
//	law.txt       full statute text, searched for "Điều N" markers
//	qa.txt        "Q:" lines each followed by an "A:" line
//	concepts.txt  blank-line separated blocks, first line "K: <term>"
//
// A missing or unreadable file yields an empty table rather than an error so
// the service can still answer through retrieval.
package knowledge

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Corpus file names inside the knowledge directory.
const (
	LawFile      = "law.txt"
	QAFile       = "qa.txt"
	ConceptsFile = "concepts.txt"
)

// QAPair is one curated question with its canned answer.
type QAPair struct {
	// Question is the trimmed question text with the "Q:" prefix removed.
	Question string
	// Answer is the trimmed answer text with the "A:" prefix removed.
	Answer string
}

// Concept is one dictionary entry from concepts.txt.
type Concept struct {
	// Key is the lowercased, trimmed term.
	Key string
	// Definition is the block body joined into a single line.
	Definition string
}

// Knowledge is an immutable snapshot of the three lookup tables.
type Knowledge struct {
	// LawText is the whole of law.txt, lowercased and NFC normalised.
	LawText string
	// QA holds the curated pairs in file order.
	QA []QAPair
	// Concepts holds dictionary entries in first-seen order.
	Concepts []Concept
}

// Normalize lowercases s and converts it to Unicode NFC so that text typed
// with combining diacritics compares equal to precomposed corpus text.
func Normalize(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

// Load reads the corpus tables from dir. It only fails when dir itself is
// missing or not a directory; problems with individual files are logged and
// produce empty tables.
func Load(dir string, log *slog.Logger) (*Knowledge, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge: %s is not a directory", dir)
	}

	k := &Knowledge{}

	if raw, ok := readOptional(filepath.Join(dir, LawFile), log); ok {
		k.LawText = Normalize(raw)
	}
	if raw, ok := readOptional(filepath.Join(dir, QAFile), log); ok {
		k.QA = ParseQA(raw)
	}
	if raw, ok := readOptional(filepath.Join(dir, ConceptsFile), log); ok {
		k.Concepts = ParseConcepts(raw)
	}

	log.Info("knowledge: loaded",
		slog.String("dir", dir),
		slog.Int("law_chars", len([]rune(k.LawText))),
		slog.Int("qa_pairs", len(k.QA)),
		slog.Int("concepts", len(k.Concepts)),
	)
	return k, nil
}

// readOptional returns the file contents, or false when the file is absent
// or unreadable.
func readOptional(path string, log *slog.Logger) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("knowledge: file not found, table left empty", slog.String("path", path))
		} else {
			log.Warn("knowledge: failed to read file, table left empty",
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
		return "", false
	}
	return string(data), true
}

// ParseQA extracts question/answer pairs. A "Q:" line sets the pending
// question; the next "A:" line completes the pair. An "A:" line with no
// pending question is ignored.
func ParseQA(raw string) []QAPair {
	var (
		pairs   []QAPair
		pending string
	)
	for _, line := range splitLines(raw) {
		switch {
		case strings.HasPrefix(line, "Q:"):
			pending = strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "A:") && pending != "":
			pairs = append(pairs, QAPair{
				Question: norm.NFC.String(pending),
				Answer:   strings.TrimSpace(line[2:]),
			})
			pending = ""
		}
	}
	return pairs
}

// ParseConcepts extracts dictionary entries from blank-line separated
// blocks. A repeated key keeps its original position but takes the later
// definition.
func ParseConcepts(raw string) []Concept {
	var concepts []Concept
	index := make(map[string]int)

	for _, block := range strings.Split(raw, "\n\n") {
		lines := splitLines(strings.TrimSpace(block))
		if len(lines) < 2 || !strings.HasPrefix(strings.ToLower(lines[0]), "k:") {
			continue
		}
		key := Normalize(strings.TrimSpace(lines[0][2:]))
		def := strings.TrimSpace(strings.Join(lines[1:], " "))

		if i, ok := index[key]; ok {
			concepts[i].Definition = def
			continue
		}
		index[key] = len(concepts)
		concepts = append(concepts, Concept{Key: key, Definition: def})
	}
	return concepts
}

// splitLines splits on \n, \r\n and lone \r.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// LookupConcept returns the definition of the first concept whose key
// contains term.
func (k *Knowledge) LookupConcept(term string) (string, bool) {
	for _, c := range k.Concepts {
		if strings.Contains(c.Key, term) {
			return c.Definition, true
		}
	}
	return "", false
}

// LookupQA returns the answer of the first pair whose question equals q
// after lowercasing and trimming. q is expected to be normalised already.
func (k *Knowledge) LookupQA(q string) (string, bool) {
	for _, p := range k.QA {
		if Normalize(strings.TrimSpace(p.Question)) == q {
			return p.Answer, true
		}
	}
	return "", false
}

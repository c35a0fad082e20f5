// Package resolver answers questions directly from the static knowledge
// tables, without embeddings or a language model. It runs an ordered chain
// of lookups (concept dictionary, curated Q&A, raw article extraction) and
// returns the first hit.
package resolver

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/54b3r/lawbot-go/internal/knowledge"
	"github.com/54b3r/lawbot-go/internal/logging"
)

// NoDefinitionMessage is returned for a "k:" query whose term matches no
// concept. It is a final answer, not a fall-through.
const NoDefinitionMessage = "Không tìm thấy định nghĩa phù hợp trong Luật BHYT."

// maxArticleRunes bounds an extracted article when the following article
// marker cannot be found.
const maxArticleRunes = 2500

// Query prefixes recognised by the resolver.
const (
	conceptPrefix  = "k:"
	questionPrefix = "q:"
)

// articleSep matches the whitespace between "điều" and its number. Law text
// pasted from documents often carries a non-breaking space there.
const articleSep = `[\s\p{Zs}]+`

// articleRef finds the first "điều N" reference in a normalised query.
var articleRef = regexp.MustCompile(`điều` + articleSep + `(\d+)`)

// Source identifies which lookup produced a Result.
type Source string

const (
	// SourceConcept is the concept dictionary.
	SourceConcept Source = "concept"
	// SourceQA is the curated question/answer table.
	SourceQA Source = "qa"
	// SourceArticle is raw article extraction from the law text.
	SourceArticle Source = "article"
)

// Result is the outcome of a resolution. When Found is false the caller
// should fall through to retrieval; Text and Source are empty.
type Result struct {
	// Text is the answer text.
	Text string
	// Found reports whether a lookup produced an answer.
	Found bool
	// Source names the lookup that produced Text.
	Source Source
}

// NotFound is the zero Result.
var NotFound = Result{}

// step is one lookup in the chain. It receives the normalised query and the
// knowledge snapshot taken for this call. A step that returns stop=true ends
// the chain even when the Result is a miss.
type step struct {
	name string
	fn   func(q string, k *knowledge.Knowledge) (res Result, stop bool)
}

// Resolver runs the lookup chain against the current knowledge snapshot.
// It is safe for concurrent use.
type Resolver struct {
	holder *knowledge.Holder
	chain  []step
}

// New constructs a Resolver reading tables from h.
func New(h *knowledge.Holder) *Resolver {
	return &Resolver{
		holder: h,
		chain: []step{
			{name: "qa", fn: lookupQA},
			{name: "article", fn: lookupArticle},
		},
	}
}

// Resolve answers query from the static tables.
//
// A query starting with "k:" is a definition request and always terminates
// here, either with the definition or with NoDefinitionMessage. Otherwise a
// leading "q:" is stripped and the Q&A table and article extraction are
// tried in that order.
func (r *Resolver) Resolve(ctx context.Context, query string) Result {
	log := logging.FromContext(ctx)
	k := r.holder.Current()
	q := knowledge.Normalize(strings.TrimSpace(query))

	if strings.HasPrefix(q, conceptPrefix) {
		res := lookupConcept(strings.TrimSpace(q[len(conceptPrefix):]), k)
		log.Debug("resolver: concept lookup", slog.Bool("matched", res.Text != NoDefinitionMessage))
		return res
	}

	if strings.HasPrefix(q, questionPrefix) {
		q = strings.TrimSpace(q[len(questionPrefix):])
	}

	return r.run(ctx, q, k)
}

// Article looks up article n the same way Resolve handles the query
// "Điều n": a curated answer for that exact question wins over extraction.
func (r *Resolver) Article(ctx context.Context, n int) Result {
	q := knowledge.Normalize("điều " + strconv.Itoa(n))
	return r.run(ctx, q, r.holder.Current())
}

func (r *Resolver) run(ctx context.Context, q string, k *knowledge.Knowledge) Result {
	log := logging.FromContext(ctx)
	for _, s := range r.chain {
		res, stop := s.fn(q, k)
		if res.Found {
			log.Debug("resolver: answered without retrieval", slog.String("step", s.name))
			return res
		}
		if stop {
			log.Debug("resolver: chain stopped without an answer", slog.String("step", s.name))
			return NotFound
		}
	}
	return NotFound
}

func lookupConcept(term string, k *knowledge.Knowledge) Result {
	if def, ok := k.LookupConcept(term); ok {
		return Result{Text: def, Found: true, Source: SourceConcept}
	}
	return Result{Text: NoDefinitionMessage, Found: true, Source: SourceConcept}
}

// lookupQA answers from the first Q&A pair whose question matches. A pair
// with a blank answer still claims the question but yields a miss, so the
// caller falls through to retrieval.
func lookupQA(q string, k *knowledge.Knowledge) (Result, bool) {
	ans, ok := k.LookupQA(q)
	if !ok {
		return NotFound, false
	}
	ans = strings.TrimSpace(ans)
	if ans == "" {
		return NotFound, true
	}
	return Result{Text: ans, Found: true, Source: SourceQA}, true
}

func lookupArticle(q string, k *knowledge.Knowledge) (Result, bool) {
	m := articleRef.FindStringSubmatch(q)
	if m == nil {
		return NotFound, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return NotFound, false
	}
	return extractArticle(n, k.LawText), true
}

// extractArticle returns the span of law starting at the first occurrence
// of "điều n" and ending where "điều n+1" begins, or after maxArticleRunes
// characters when no such marker follows. The search for "điều n" is not
// anchored on the right, so "điều 5" also matches the start of "điều 50".
func extractArticle(n int, law string) Result {
	if law == "" || n < 0 {
		return NotFound
	}
	first := regexp.MustCompile(`điều` + articleSep + strconv.Itoa(n))
	loc := first.FindStringIndex(law)
	if loc == nil {
		return NotFound
	}

	rest := law[loc[0]:]
	next := regexp.MustCompile(`điều` + articleSep + strconv.Itoa(n+1) + `(?:[^\p{L}\p{N}_]|$)`)

	var span string
	if loc := next.FindStringIndex(rest); loc != nil {
		span = rest[:loc[0]]
	} else {
		span = truncateRunes(rest, maxArticleRunes)
	}

	span = strings.TrimSpace(span)
	if span == "" {
		return NotFound
	}
	return Result{Text: span, Found: true, Source: SourceArticle}
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

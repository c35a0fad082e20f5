package resolver

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/54b3r/lawbot-go/internal/knowledge"
)

const testLaw = "chương i\n" +
	"điều 4. giải thích từ ngữ\nnội dung điều bốn.\n" +
	"điều 5. đối tượng tham gia\nngười lao động làm việc theo hợp đồng.\n" +
	"điều 6. trách nhiệm\nbộ y tế chịu trách nhiệm.\n"

func newTestResolver(k *knowledge.Knowledge) *Resolver {
	return New(knowledge.NewHolder(k))
}

func fixture() *knowledge.Knowledge {
	return &knowledge.Knowledge{
		LawText: testLaw,
		QA: []knowledge.QAPair{
			{Question: "Ai phải đóng BHYT?", Answer: "Người lao động và người sử dụng lao động."},
			{Question: "Điều 5 nói gì?", Answer: "canned answer"},
		},
		Concepts: []knowledge.Concept{
			{Key: "bảo hiểm y tế", Definition: "Bảo hiểm y tế là hình thức bảo hiểm bắt buộc."},
			{Key: "quỹ bảo hiểm y tế", Definition: "Quỹ tài chính hình thành từ tiền đóng."},
		},
	}
}

func TestResolve_ConceptPrefix(t *testing.T) {
	t.Parallel()
	r := newTestResolver(fixture())

	res := r.Resolve(context.Background(), "K: Bảo hiểm")

	if !res.Found {
		t.Fatal("expected concept lookup to answer")
	}
	if res.Source != SourceConcept {
		t.Errorf("Source = %q, want %q", res.Source, SourceConcept)
	}
	if want := "Bảo hiểm y tế là hình thức bảo hiểm bắt buộc."; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
}

func TestResolve_ConceptMissIsTerminal(t *testing.T) {
	t.Parallel()
	r := newTestResolver(fixture())

	// Even though the term mentions an article, "k:" never falls through.
	res := r.Resolve(context.Background(), "k: không tồn tại điều 5")

	if !res.Found {
		t.Fatal("expected a terminal answer")
	}
	if res.Text != NoDefinitionMessage {
		t.Errorf("Text = %q, want %q", res.Text, NoDefinitionMessage)
	}
}

func TestResolve_QAExactMatch(t *testing.T) {
	t.Parallel()
	r := newTestResolver(fixture())

	for _, q := range []string{"ai phải đóng bhyt?", "  AI PHẢI ĐÓNG BHYT?  ", "Q: ai phải đóng bhyt?"} {
		res := r.Resolve(context.Background(), q)
		if !res.Found || res.Source != SourceQA {
			t.Errorf("Resolve(%q) = %+v, want a qa answer", q, res)
			continue
		}
		if want := "Người lao động và người sử dụng lao động."; res.Text != want {
			t.Errorf("Resolve(%q).Text = %q, want %q", q, res.Text, want)
		}
	}
}

func TestResolve_QABeatsArticle(t *testing.T) {
	t.Parallel()
	r := newTestResolver(fixture())

	res := r.Resolve(context.Background(), "Điều 5 nói gì?")

	if res.Source != SourceQA {
		t.Errorf("Source = %q, want %q", res.Source, SourceQA)
	}
	if res.Text != "canned answer" {
		t.Errorf("Text = %q, want %q", res.Text, "canned answer")
	}
}

func TestResolve_EmptyQAAnswerIsAMiss(t *testing.T) {
	t.Parallel()
	qa := knowledge.ParseQA("Q: Mức đóng BHYT?\nA:\n")
	r := newTestResolver(&knowledge.Knowledge{LawText: testLaw, QA: qa})

	if got := r.Resolve(context.Background(), "Mức đóng BHYT?"); got != NotFound {
		t.Errorf("Resolve = %+v, want NotFound", got)
	}
}

func TestResolve_ArticleEndsAtNextArticle(t *testing.T) {
	t.Parallel()
	r := newTestResolver(fixture())

	res := r.Resolve(context.Background(), "Cho tôi xem Điều 5")

	if !res.Found {
		t.Fatal("expected article 5 to be found")
	}
	if res.Source != SourceArticle {
		t.Errorf("Source = %q, want %q", res.Source, SourceArticle)
	}
	if want := "điều 5. đối tượng tham gia\nngười lao động làm việc theo hợp đồng."; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
}

func TestResolve_ArticleWithNonBreakingSpace(t *testing.T) {
	t.Parallel()
	law := "điều 5. a\nbody five.\nđiều\u00a06. b\nbody six."
	r := newTestResolver(&knowledge.Knowledge{LawText: law})

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "ends before nbsp marker", query: "Điều 5", want: "điều 5. a\nbody five."},
		{name: "nbsp in query", query: "Điều\u00a05 nói gì", want: "điều 5. a\nbody five."},
		{name: "nbsp in law text", query: "điều 6", want: "điều\u00a06. b\nbody six."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := r.Resolve(context.Background(), tc.query)
			if !res.Found {
				t.Fatalf("Resolve(%q) not found", tc.query)
			}
			if res.Text != tc.want {
				t.Errorf("Resolve(%q).Text = %q, want %q", tc.query, res.Text, tc.want)
			}
		})
	}
}

func TestResolve_NextMarkerNeedsNumberBoundary(t *testing.T) {
	t.Parallel()
	law := "điều 5. năm\nxem điều 60.\nđiều 6. sáu"
	r := newTestResolver(&knowledge.Knowledge{LawText: law})

	res := r.Resolve(context.Background(), "điều 5")

	if want := "điều 5. năm\nxem điều 60."; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
}

func TestResolve_ArticleWithoutNextMarkerCapsAt2500Runes(t *testing.T) {
	t.Parallel()
	law := "điều 9. cuối cùng " + strings.Repeat("ệ", 5000)
	r := newTestResolver(&knowledge.Knowledge{LawText: law})

	res := r.Resolve(context.Background(), "điều 9")

	if !res.Found {
		t.Fatal("expected article 9 to be found")
	}
	if got := utf8.RuneCountInString(res.Text); got != maxArticleRunes {
		t.Errorf("rune count = %d, want %d", got, maxArticleRunes)
	}
	if !strings.HasPrefix(res.Text, "điều 9.") {
		t.Errorf("Text does not start with the article heading: %q", res.Text[:20])
	}
}

func TestResolve_ArticleNotInLaw(t *testing.T) {
	t.Parallel()
	r := newTestResolver(fixture())

	if r.Resolve(context.Background(), "điều 99").Found {
		t.Error("expected article 99 to be missing")
	}
}

func TestResolve_NoArticleReference(t *testing.T) {
	t.Parallel()
	r := newTestResolver(fixture())

	if got := r.Resolve(context.Background(), "mức hưởng bảo hiểm là gì"); got != NotFound {
		t.Errorf("Resolve = %+v, want NotFound", got)
	}
}

func TestResolve_EmptyLawText(t *testing.T) {
	t.Parallel()
	r := newTestResolver(&knowledge.Knowledge{})

	if r.Resolve(context.Background(), "điều 5").Found {
		t.Error("expected a miss with no law text")
	}
}

func TestResolve_SubstringMatchesLongerNumber(t *testing.T) {
	t.Parallel()
	law := "điều 50. năm mươi\nđiều 51. năm mốt\nđiều 5. năm\nđiều 6. sáu"
	r := newTestResolver(&knowledge.Knowledge{LawText: law})

	// "điều 5" first occurs as the prefix of "điều 50"; the span runs to
	// the first "điều 6" after it.
	res := r.Resolve(context.Background(), "điều 5")

	if !res.Found {
		t.Fatal("expected a match")
	}
	if !strings.HasPrefix(res.Text, "điều 50.") || !strings.HasSuffix(res.Text, "điều 5. năm") {
		t.Errorf("Text = %q, want the span from điều 50 to điều 5", res.Text)
	}
}

func TestResolve_ReadsCurrentSnapshot(t *testing.T) {
	t.Parallel()
	h := knowledge.NewHolder(&knowledge.Knowledge{})
	r := New(h)

	if r.Resolve(context.Background(), "ai phải đóng bhyt?").Found {
		t.Fatal("expected a miss before the swap")
	}

	h.Swap(fixture())
	if !r.Resolve(context.Background(), "ai phải đóng bhyt?").Found {
		t.Error("expected a hit after the swap")
	}
}

func TestArticle(t *testing.T) {
	t.Parallel()
	r := newTestResolver(fixture())

	res := r.Article(context.Background(), 6)
	if !res.Found {
		t.Fatal("expected article 6 to be found")
	}
	if want := "điều 6. trách nhiệm\nbộ y tế chịu trách nhiệm."; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}

	if r.Article(context.Background(), 7).Found {
		t.Error("article 7 should be missing")
	}
	if r.Article(context.Background(), -1).Found {
		t.Error("article -1 should be missing")
	}
}

func TestArticle_CuratedAnswerFirst(t *testing.T) {
	t.Parallel()
	k := fixture()
	k.QA = append(k.QA,
		knowledge.QAPair{Question: "Điều 6", Answer: "Điều 6 quy định trách nhiệm của Bộ Y tế."},
		knowledge.QAPair{Question: "Điều 4", Answer: ""},
	)
	r := newTestResolver(k)

	res := r.Article(context.Background(), 6)
	if res.Source != SourceQA || res.Text != "Điều 6 quy định trách nhiệm của Bộ Y tế." {
		t.Errorf("Article(6) = %+v, want the curated answer", res)
	}

	if got := r.Article(context.Background(), 4); got.Found {
		t.Errorf("Article(4) = %+v, want a miss for a blank curated answer", got)
	}

	if got := r.Article(context.Background(), 5); got.Source != SourceArticle {
		t.Errorf("Article(5).Source = %q, want %q", got.Source, SourceArticle)
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"điều", 2, "đi"},
		{"điều", 10, "điều"},
		{"điều", 0, ""},
	}
	for _, tc := range tests {
		if got := truncateRunes(tc.in, tc.n); got != tc.want {
			t.Errorf("truncateRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

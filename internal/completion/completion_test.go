package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/lawbot-go/internal/retryhttp"
)

// compactJSON strips insignificant whitespace so encoded states compare
// as strings.
func compactJSON(t *testing.T, raw []byte) string {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		t.Fatalf("compact %q: %v", raw, err)
	}
	return buf.String()
}

// wantErrContaining fails the test unless err is non-nil and mentions each
// of substrs.
func wantErrContaining(t *testing.T, err error, substrs ...string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error containing %q, got nil", substrs)
	}
	for _, s := range substrs {
		if !strings.Contains(err.Error(), s) {
			t.Errorf("error %q does not contain %q", err, s)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()
	p := BuildPrompt("Điều 22. Mức hưởng", "Mức hưởng BHYT là bao nhiêu?")
	if !strings.HasPrefix(p, "Bạn là chuyên gia rất am hiểu về Luật BHYT.") {
		t.Errorf("prompt lacks the role preamble: %q", p)
	}
	if !strings.Contains(p, "Ngữ cảnh:\nĐiều 22. Mức hưởng") {
		t.Errorf("prompt lacks the context block: %q", p)
	}
	if !strings.HasSuffix(p, "Câu hỏi: Mức hưởng BHYT là bao nhiêu?") {
		t.Errorf("prompt does not end with the question: %q", p)
	}
	for _, placeholder := range []string{"{context}", "{query}"} {
		if strings.Contains(p, placeholder) {
			t.Errorf("prompt still contains %s", placeholder)
		}
	}
}

func TestOllamaGenerator_SendsStateAndReturnsNewState(t *testing.T) {
	t.Parallel()
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q, want /api/generate", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{"response":"Theo Điều 22...","context":[4,5,6],"done":true}`)
	}))
	t.Cleanup(srv.Close)

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL})
	resp, err := g.Complete(t.Context(), Request{Prompt: "p", State: State(`[1,2,3]`)})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if got.Model != DefaultOllamaModel || got.Prompt != "p" || got.Stream {
		t.Errorf("request = {model:%q prompt:%q stream:%v}", got.Model, got.Prompt, got.Stream)
	}
	if c := compactJSON(t, got.Context); c != `[1,2,3]` {
		t.Errorf("sent context = %s, want [1,2,3]", c)
	}
	if resp.Text != "Theo Điều 22..." {
		t.Errorf("Text = %q", resp.Text)
	}
	if st := compactJSON(t, resp.State); st != `[4,5,6]` {
		t.Errorf("State = %s, want [4,5,6]", st)
	}
}

func TestOllamaGenerator_FreshConversationSendsNullContext(t *testing.T) {
	t.Parallel()
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{"response":"ok"}`)
	}))
	t.Cleanup(srv.Close)

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL})
	resp, err := g.Complete(t.Context(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c := string(raw["context"]); c != "null" {
		t.Errorf("context = %s, want null", c)
	}
	if resp.State != nil {
		t.Errorf("State = %s, want nil", resp.State)
	}
}

func TestOllamaGenerator_FallsBackToOutputField(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"response":"","output":"from output"}`)
	}))
	t.Cleanup(srv.Close)

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL})
	resp, err := g.Complete(t.Context(), Request{Prompt: "p", State: State(`[9]`)})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "from output" {
		t.Errorf("Text = %q, want %q", resp.Text, "from output")
	}
	if st := compactJSON(t, resp.State); st != `[9]` {
		t.Errorf("missing context should keep previous state, got %s", st)
	}
}

func TestOllamaGenerator_NeitherFieldYieldsEmptyText(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	resp, err := NewOllamaGenerator(OllamaConfig{Host: srv.URL}).Complete(t.Context(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "" {
		t.Errorf("Text = %q, want empty", resp.Text)
	}
}

func TestOllamaGenerator_ErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model 'llama3.1' not found"}`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewOllamaGenerator(OllamaConfig{Host: srv.URL}).Complete(t.Context(), Request{Prompt: "p"})
	wantErrContaining(t, err, "404", "not found")
}

func TestOllamaGenerator_RetriesGatewayErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"response":"recovered"}`)
	}))
	t.Cleanup(srv.Close)

	rt := retryhttp.New(nil)
	rt.InitialInterval = time.Millisecond
	rt.MaxInterval = time.Millisecond
	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, HTTPClient: &http.Client{Transport: rt}})

	resp, err := g.Complete(t.Context(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "recovered" {
		t.Errorf("Text = %q, want recovered", resp.Text)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestOllamaGenerator_EmptyPrompt(t *testing.T) {
	t.Parallel()
	_, err := NewOllamaGenerator(OllamaConfig{}).Complete(t.Context(), Request{Prompt: "  "})
	if !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("err = %v, want ErrEmptyPrompt", err)
	}
}

// fakeChatModel records the messages it receives and answers with a fixed
// reply.
type fakeChatModel struct {
	reply string
	err   error
	seen  [][]*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.seen = append(f.seen, in)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

// newTestChatCompleter builds a ChatCompleter and fails the test on error.
func newTestChatCompleter(t *testing.T, cfg ChatConfig) *ChatCompleter {
	t.Helper()
	c, err := NewChatCompleter(cfg)
	if err != nil {
		t.Fatalf("NewChatCompleter: %v", err)
	}
	return c
}

// decodeTurns unmarshals a chat state.
func decodeTurns(t *testing.T, st State) []turn {
	t.Helper()
	var turns []turn
	if err := json.Unmarshal(st, &turns); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return turns
}

func TestChatCompleter_CarriesHistory(t *testing.T) {
	t.Parallel()
	fm := &fakeChatModel{reply: "trả lời"}
	c := newTestChatCompleter(t, ChatConfig{Model: fm})

	first, err := c.Complete(t.Context(), Request{Prompt: "câu hỏi 1"})
	if err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if first.Text != "trả lời" {
		t.Errorf("Text = %q", first.Text)
	}
	if len(fm.seen[0]) != 1 {
		t.Fatalf("first call sent %d messages, want 1", len(fm.seen[0]))
	}

	second, err := c.Complete(t.Context(), Request{Prompt: "câu hỏi 2", State: first.State})
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	msgs := fm.seen[1]
	if len(msgs) != 3 {
		t.Fatalf("second call sent %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "câu hỏi 1" || msgs[1].Role != schema.Assistant || msgs[2].Content != "câu hỏi 2" {
		t.Errorf("unexpected history: %q/%s/%q", msgs[0].Content, msgs[1].Role, msgs[2].Content)
	}

	if n := len(decodeTurns(t, second.State)); n != 4 {
		t.Errorf("state holds %d turns, want 4", n)
	}
}

func TestChatCompleter_CapsHistory(t *testing.T) {
	t.Parallel()
	fm := &fakeChatModel{reply: "a"}
	c := newTestChatCompleter(t, ChatConfig{Model: fm, HistoryMessages: 2})

	var state State
	for range 3 {
		resp, err := c.Complete(t.Context(), Request{Prompt: "q", State: state})
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		state = resp.State
	}
	if n := len(decodeTurns(t, state)); n != 2 {
		t.Errorf("state holds %d turns, want 2", n)
	}
}

func TestChatCompleter_TrimsHistoryToBudget(t *testing.T) {
	t.Parallel()
	fm := &fakeChatModel{reply: "a"}
	c := newTestChatCompleter(t, ChatConfig{Model: fm, MaxContextTokens: 20})

	old, _ := json.Marshal([]turn{
		{Role: "user", Content: strings.Repeat("x", 400)},
		{Role: "assistant", Content: "short"},
	})
	if _, err := c.Complete(t.Context(), Request{Prompt: "q", State: old}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(fm.seen[0]) != 2 {
		t.Fatalf("sent %d messages, want 2 (oversized oldest turn dropped)", len(fm.seen[0]))
	}
	if fm.seen[0][0].Content != "short" {
		t.Errorf("first kept message = %q, want short", fm.seen[0][0].Content)
	}
}

func TestChatCompleter_UnreadableStateStartsFresh(t *testing.T) {
	t.Parallel()
	fm := &fakeChatModel{reply: "a"}
	c := newTestChatCompleter(t, ChatConfig{Model: fm})

	if _, err := c.Complete(t.Context(), Request{Prompt: "q", State: State(`[1,2,3]`)}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(fm.seen[0]) != 1 {
		t.Errorf("sent %d messages, want 1", len(fm.seen[0]))
	}
}

func TestChatCompleter_ModelError(t *testing.T) {
	t.Parallel()
	c := newTestChatCompleter(t, ChatConfig{Model: &fakeChatModel{err: errors.New("boom")}})
	_, err := c.Complete(t.Context(), Request{Prompt: "q"})
	wantErrContaining(t, err, "boom")
}

func TestNewChatCompleter_NilModel(t *testing.T) {
	t.Parallel()
	if _, err := NewChatCompleter(ChatConfig{}); err == nil {
		t.Error("expected an error for a nil model")
	}
}

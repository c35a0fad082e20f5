package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/lawbot-go/internal/budget"
	"github.com/54b3r/lawbot-go/internal/logging"
)

// DefaultHistoryMessages caps how many prior messages a ChatCompleter keeps
// in its continuation state.
const DefaultHistoryMessages = 10

// ChatConfig holds the settings for constructing a ChatCompleter.
type ChatConfig struct {
	// Model is the eino chat model built by the provider package.
	Model model.BaseChatModel
	// MaxContextTokens is the estimated input budget. History is trimmed
	// oldest-first to fit. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int
	// HistoryMessages caps the stored history. Defaults to DefaultHistoryMessages.
	HistoryMessages int
}

// ChatCompleter implements Completer over an eino chat model. Its
// continuation state is the JSON-encoded recent message history, so any
// backend the provider package supports can hold a conversation.
type ChatCompleter struct {
	model           model.BaseChatModel
	maxTokens       int
	historyMessages int
}

// NewChatCompleter constructs a ChatCompleter.
func NewChatCompleter(cfg ChatConfig) (*ChatCompleter, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("completion: chat model must not be nil")
	}
	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}
	hist := cfg.HistoryMessages
	if hist <= 0 {
		hist = DefaultHistoryMessages
	}
	return &ChatCompleter{model: cfg.Model, maxTokens: maxTokens, historyMessages: hist}, nil
}

// turn is the persisted form of one history message.
type turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete implements Completer.
func (c *ChatCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, ErrEmptyPrompt
	}
	log := logging.FromContext(ctx)

	history := decodeHistory(req.State, log)
	current := schema.UserMessage(req.Prompt)

	before := len(history)
	history = budget.TrimHistory([]*schema.Message{current}, history, c.maxTokens)
	if dropped := before - len(history); dropped > 0 {
		log.Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
			slog.Int("max_tokens", c.maxTokens),
		)
	}

	msgs := make([]*schema.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, current)

	out, err := c.model.Generate(ctx, msgs)
	if err != nil {
		return Response{}, fmt.Errorf("completion: chat generate: %w", err)
	}
	text := ""
	if out != nil {
		text = out.Content
	}

	msgs = append(msgs, schema.AssistantMessage(text, nil))
	if len(msgs) > c.historyMessages {
		msgs = msgs[len(msgs)-c.historyMessages:]
	}
	state, err := encodeHistory(msgs)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text, State: state}, nil
}

// decodeHistory parses a continuation state. Unreadable state starts a fresh
// conversation rather than failing the request.
func decodeHistory(state State, log *slog.Logger) []*schema.Message {
	if len(state) == 0 {
		return nil
	}
	var turns []turn
	if err := json.Unmarshal(state, &turns); err != nil {
		log.Warn("completion: discarding unreadable chat state", slog.Any("error", err))
		return nil
	}
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch schema.RoleType(t.Role) {
		case schema.User:
			msgs = append(msgs, schema.UserMessage(t.Content))
		case schema.Assistant:
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		}
	}
	return msgs
}

func encodeHistory(msgs []*schema.Message) (State, error) {
	turns := make([]turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, turn{Role: string(m.Role), Content: m.Content})
	}
	b, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("completion: encode chat state: %w", err)
	}
	return b, nil
}

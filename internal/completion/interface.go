// Package completion defines the completion-model collaborator that turns a
// prompt built from retrieved law text into an answer, together with its
// implementations: the Ollama generate endpoint and an adapter over any eino
// chat model.
package completion

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrEmptyPrompt is returned by Complete when the request carries no prompt.
var ErrEmptyPrompt = errors.New("completion: empty prompt")

// State is the opaque continuation token a model returns with each answer.
// Callers store it per conversation and echo it back on the next request;
// its content is backend specific.
type State = json.RawMessage

// Request is a single completion call.
type Request struct {
	// Prompt is the full instruction text, context included.
	Prompt string
	// State is the continuation state returned by the previous call in the
	// same conversation. Nil starts a fresh conversation.
	State State
}

// Response is the model's answer to a Request.
type Response struct {
	// Text is the answer. It may be empty when the model returned nothing.
	Text string
	// State is the continuation state to send with the next Request.
	State State
}

// Completer produces answers from prompts.
// Implementations must be safe to call from multiple goroutines.
type Completer interface {
	// Complete sends the request to the model and blocks until the full
	// answer is available or ctx is done.
	Complete(ctx context.Context, req Request) (Response, error)
}

package llm

import (
	"context"

	"github.com/rendis/chatflow/pkg/schema"
)

// Collaborator is the external language model behind llm nodes. The engine
// makes a single attempt per node; timeouts and transport failures surface
// as external-call errors.
type Collaborator interface {
	Complete(ctx context.Context, req Request) (*Reply, error)
}

// Request carries the interpolated node prompt and conversation context.
type Request struct {
	SystemPrompt string
	Prompt       string
	Transcript   []schema.Message
	Slots        map[string]any
}

// Reply is the parsed model output: optional slot updates and the text to
// transcribe.
type Reply struct {
	Text  string
	Slots map[string]any
}

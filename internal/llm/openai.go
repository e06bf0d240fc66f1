package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rendis/chatflow/pkg/schema"
)

// systemPreamble instructs the model to emit slot updates ahead of the
// visible text, separated by the protocol marker.
const systemPreamble = `You are a conversation assistant inside a scripted scenario.
When you need to store information, reply in the exact format:
{"slots":{"name":"value"}}|||your visible answer
If there is nothing to store, reply with the visible answer only.
Never mention the slots or the format to the user.`

// OpenAICollaborator implements Collaborator using the OpenAI chat
// completions API in streaming mode. Chunks are accumulated and the full
// output parsed once the stream ends.
type OpenAICollaborator struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// Config holds the OpenAI connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAICollaborator creates a collaborator for the configured model.
func NewOpenAICollaborator(cfg Config, logger *slog.Logger) *OpenAICollaborator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &OpenAICollaborator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}
}

// Complete sends the prompt with conversation context and returns the parsed
// reply. A context deadline or transport failure returns an external-call
// error; the caller decides routing.
func (c *OpenAICollaborator) Complete(ctx context.Context, req Request) (*Reply, error) {
	messages := c.buildMessages(req)

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall,
			"llm request failed: %s", err.Error()).WithCause(err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			c.logger.Debug("close llm stream", "error", cerr)
		}
	}()

	var full string
	chunks := 0
	for {
		select {
		case <-ctx.Done():
			return nil, schema.NewErrorf(schema.ErrCodeExternalCall,
				"llm request canceled after %d chunks: %s", chunks, ctx.Err().Error()).WithCause(ctx.Err())
		default:
		}

		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExternalCall,
				"llm stream failed after %d chunks: %s", chunks, err.Error()).WithCause(err)
		}
		chunks++
		if len(response.Choices) > 0 {
			full += response.Choices[0].Delta.Content
		}
	}

	c.logger.DebugContext(ctx, "llm stream completed", "chunks", chunks, "length", len(full))

	slots, text := ParseOutput(full)
	return &Reply{Text: text, Slots: slots}, nil
}

// buildMessages assembles the chat history: protocol preamble, node system
// prompt, current slots, recent transcript, and the node prompt last.
func (c *OpenAICollaborator) buildMessages(req Request) []openai.ChatCompletionMessage {
	system := systemPreamble
	if req.SystemPrompt != "" {
		system += "\n\n" + req.SystemPrompt
	}
	if len(req.Slots) > 0 {
		if b, err := json.Marshal(req.Slots); err == nil {
			system += fmt.Sprintf("\n\nCurrent slots: %s", b)
		}
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}

	// Keep the tail of the transcript as context.
	transcript := req.Transcript
	const maxContext = 20
	if len(transcript) > maxContext {
		transcript = transcript[len(transcript)-maxContext:]
	}
	for _, m := range transcript {
		role := openai.ChatMessageRoleAssistant
		if m.Role == schema.RoleUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	return messages
}

var _ Collaborator = (*OpenAICollaborator)(nil)

package llmloop

import (
	"context"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIModel adapts the OpenAI Chat Completions streaming API to
// LanguageModel. Grounded on features/model/openai/client.go's
// ChatClient-interface/Options/New/NewFromAPIKey shape, rebuilt against
// github.com/openai/openai-go (the official SDK, which supports streaming)
// in place of the teacher's non-streaming sashabaranov/go-openai client.
type OpenAIModel struct {
	chat  ChatCompletionsClient
	model string
}

// ChatCompletionsClient captures the subset of the OpenAI SDK client this
// adapter uses, satisfied by *openai.ChatCompletionService.
type ChatCompletionsClient interface {
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// OpenAIOptions configures an OpenAIModel.
type OpenAIOptions struct {
	Client ChatCompletionsClient
	Model  string
}

// NewOpenAIModel builds an OpenAIModel over an already-constructed client.
func NewOpenAIModel(opts OpenAIOptions) *OpenAIModel {
	return &OpenAIModel{chat: opts.Client, model: opts.Model}
}

// NewOpenAIModelFromAPIKey is the convenience constructor mirroring
// features/model/openai/client.go's NewFromAPIKey.
func NewOpenAIModelFromAPIKey(apiKey, model string) *OpenAIModel {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIModel(OpenAIOptions{Client: client.Chat.Completions, Model: model})
}

// Stream implements LanguageModel.
func (m *OpenAIModel) Stream(ctx context.Context, systemPrompt string, history []Message) (<-chan Part, <-chan error, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, h := range history {
		switch h.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(h.Content))
		default:
			messages = append(messages, openai.UserMessage(h.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    m.model,
		Messages: messages,
	}

	stream := m.chat.NewStreaming(ctx, params)

	partsCh := make(chan Part, 32)
	errCh := make(chan error, 1)

	go runOpenAIStream(ctx, stream, partsCh, errCh)

	return partsCh, errCh, nil
}

func runOpenAIStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], partsCh chan<- Part, errCh chan<- error) {
	defer close(partsCh)
	defer close(errCh)
	defer func() { _ = stream.Close() }()

	emit := func(p Part) bool {
		select {
		case partsCh <- p:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var started bool
	var usage Usage

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta != "" {
			if !started {
				started = true
				if !emit(Part{Kind: PartTextStart}) {
					return
				}
			}
			if !emit(Part{Kind: PartTextDelta, Delta: delta}) {
				return
			}
		}
		if chunk.Usage.TotalTokens != 0 {
			usage = Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:  int(chunk.Usage.TotalTokens),
			}
		}
	}

	if err := stream.Err(); err != nil {
		select {
		case errCh <- err:
		case <-ctx.Done():
		}
		return
	}

	if started {
		emit(Part{Kind: PartTextEnd})
	}
	emit(Part{Kind: PartFinish, Usage: &usage})
}

package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/generative-ai-go/genai"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"google.golang.org/api/iterator"
	googleoption "google.golang.org/api/option"
)

// openAIBackend serves OpenAI and OpenAI-compatible endpoints.
type openAIBackend struct {
	client    openai.Client
	model     string
	maxTokens int64
}

func newOpenAI(apiKey, model, baseURL string, maxTokens int64) *openAIBackend {
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	return &openAIBackend{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (b *openAIBackend) complete(ctx context.Context, system string, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(b.model),
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system)},
		MaxCompletionTokens: openai.Int(b.maxTokens),
	}
	for _, msg := range messages {
		if msg.Role == "assistant" {
			params.Messages = append(params.Messages, openai.ChatCompletionMessageParamOfAssistant[string](msg.Content))
		} else {
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}

	completion, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("generate error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return completion.Choices[0].Message.Content, nil
}

// googleBackend serves Gemini models.
type googleBackend struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

func newGoogle(ctx context.Context, apiKey, model string, maxTokens int64) (*googleBackend, error) {
	client, err := genai.NewClient(ctx, googleoption.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google AI client: %w", err)
	}
	return &googleBackend{client: client, model: model, maxTokens: int32(maxTokens)}, nil
}

func (b *googleBackend) complete(ctx context.Context, system string, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	model := b.client.GenerativeModel(b.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	model.SetMaxOutputTokens(b.maxTokens)

	// Gemini splits the conversation into history plus the message being sent.
	chat := model.StartChat()
	for _, msg := range messages[:len(messages)-1] {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		chat.History = append(chat.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}

	iter := chat.SendMessageStream(ctx, genai.Text(messages[len(messages)-1].Content))
	var sb strings.Builder
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("stream error: %w", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if txt, ok := part.(genai.Text); ok {
					sb.WriteString(string(txt))
				}
			}
			break
		}
	}
	return sb.String(), nil
}

// Close releases the Gemini client.
func (b *googleBackend) Close() error {
	return b.client.Close()
}

// anthropicBackend serves Claude models through the Messages API.
type anthropicBackend struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func newAnthropic(apiKey, model string, maxTokens int64) *anthropicBackend {
	return &anthropicBackend{
		client:    anthropic.NewClient(anthropicoption.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (b *anthropicBackend) complete(ctx context.Context, system string, messages []Message) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: b.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
	}
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("generate error: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

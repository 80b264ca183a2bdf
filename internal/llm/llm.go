package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/pavelanni/dictation/internal/model"
)

// Image is a binary attachment sent as a vision part.
type Image struct {
	MIMEType string
	Data     []byte
}

// CompletionRequest describes one structured completion.
type CompletionRequest struct {
	System string
	Text   string
	Images []Image
	// Schema, when set, requests JSON output matching it.
	Schema     *jsonschema.Definition
	SchemaName string
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api      *openai.Client
	model    string
	ttsModel string
	ttsVoice string
}

// Option configures a Client.
type Option func(*Client)

// WithSpeech sets the text-to-speech model and voice used by Synthesize.
func WithSpeech(modelName, voice string) Option {
	return func(c *Client) {
		if modelName != "" {
			c.ttsModel = modelName
		}
		if voice != "" {
			c.ttsVoice = voice
		}
	}
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, opts ...Option) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	c := &Client{
		api:      openai.NewClientWithConfig(config),
		model:    modelName,
		ttsModel: string(openai.TTSModel1),
		ttsVoice: string(openai.VoiceAlloy),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Complete sends one system + user turn and returns the raw reply text.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			userMessage(req.Text, req.Images),
		},
		Temperature: 0.2,
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "items"
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: req.Schema,
			},
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return raw, nil
}

// Chat produces a plain-text assistant reply from the history window and the
// new user message.
func (c *Client) Chat(ctx context.Context, system string, history []model.ChatMessage, message string) (string, error) {
	chatMsgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	chatMsgs = append(chatMsgs, toChatMessages(history)...)
	chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMsgs,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("LLM chat call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices for chat")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("LLM returned an empty reply")
	}
	return reply, nil
}

// Synthesize renders text to an mp3 asset.
func (c *Client) Synthesize(ctx context.Context, text string) (model.Asset, error) {
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.ttsVoice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return model.Asset{}, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return model.Asset{}, fmt.Errorf("read speech: %w", err)
	}
	if len(data) == 0 {
		return model.Asset{}, fmt.Errorf("speech endpoint returned no audio")
	}
	return model.Asset{MIMEType: "audio/mpeg", Data: data}, nil
}

func userMessage(text string, images []Image) openai.ChatCompletionMessage {
	if len(images) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}
	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: text},
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(img),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func dataURL(img Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func toChatMessages(history []model.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == model.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	return out
}

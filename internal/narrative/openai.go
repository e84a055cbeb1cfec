package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAIConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	GenreTemperature float64
	SceneTemperature float64
	GenreMaxTokens   int64
	SceneMaxTokens   int64
	MaxRetries       int
}

// OpenAI is a Generator backed by the chat completions API.
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI returns nil when no API key is configured so callers can fall
// back without a network round trip.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

func (o *OpenAI) complete(ctx context.Context, prompt string, temperature float64, maxTokens int64) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", errors.New("no response from model")
	}
	return completion.Choices[0].Message.Content, nil
}

func (o *OpenAI) SuggestGenre(ctx context.Context, roster []Member) (GenreSuggestion, error) {
	reply, err := o.complete(ctx, genrePrompt(roster), o.cfg.GenreTemperature, o.cfg.GenreMaxTokens)
	if err != nil {
		return GenreSuggestion{}, err
	}
	var s GenreSuggestion
	if err := json.Unmarshal([]byte(extractJSON(reply)), &s); err != nil {
		return GenreSuggestion{}, fmt.Errorf("decode genre reply: %w", err)
	}
	return s, nil
}

func (o *OpenAI) Opening(ctx context.Context, req OpeningRequest) (Scene, error) {
	return o.scene(ctx, openingPrompt(req))
}

func (o *OpenAI) Continuation(ctx context.Context, req ContinuationRequest) (Scene, error) {
	return o.scene(ctx, continuationPrompt(req))
}

func (o *OpenAI) scene(ctx context.Context, prompt string) (Scene, error) {
	reply, err := o.complete(ctx, prompt, o.cfg.SceneTemperature, o.cfg.SceneMaxTokens)
	if err != nil {
		return Scene{}, err
	}
	var s Scene
	if err := json.Unmarshal([]byte(extractJSON(reply)), &s); err != nil {
		return Scene{}, fmt.Errorf("decode scene reply: %w", err)
	}
	return s, nil
}

package predict

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"

	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/models"
)

const llmSystemPrompt = `You score short-horizon crypto perpetual setups.
Reply with a single JSON object and nothing else:
{"confidence": <number 0..1>, "direction": "Long" | "Short", "expected_move": <signed fraction>}`

// ChatCompleter is the subset of the OpenAI client used by LLMPredictor.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMPredictor asks a chat model for a prediction.
type LLMPredictor struct {
	client ChatCompleter
	model  string
}

type llmAnswer struct {
	Confidence   float64 `json:"confidence"`
	Direction    string  `json:"direction"`
	ExpectedMove float64 `json:"expected_move"`
}

// NewOpenAIPredictor creates an LLM predictor backed by the OpenAI API. An
// empty baseURL uses the default endpoint.
func NewOpenAIPredictor(apiKey, baseURL, model string) (*LLMPredictor, error) {
	if apiKey == "" {
		return nil, apperrors.NewValidationError("predictor.api_key", "", "required for the openai predictor")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewLLMPredictor(openai.NewClientWithConfig(cfg), model), nil
}

// NewLLMPredictor creates an LLM predictor over any chat completer.
func NewLLMPredictor(client ChatCompleter, model string) *LLMPredictor {
	return &LLMPredictor{client: client, model: model}
}

// Predict implements Predictor.
func (p *LLMPredictor) Predict(ctx context.Context, symbol string, price decimal.Decimal, volatility float64) (models.Prediction, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(
				"symbol=%s price=%s volatility_24h=%.4f", symbol, price.String(), volatility)},
		},
	})
	if err != nil {
		return models.Prediction{}, apperrors.NewProviderError(SourceOpenAI, "predict", symbol, err)
	}
	if len(resp.Choices) == 0 {
		return models.Prediction{}, apperrors.NewProviderError(SourceOpenAI, "predict", symbol, fmt.Errorf("no response from openai"))
	}
	return parseAnswer(symbol, resp.Choices[0].Message.Content)
}

func parseAnswer(symbol, content string) (models.Prediction, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var ans llmAnswer
	if err := sonic.UnmarshalString(strings.TrimSpace(content), &ans); err != nil {
		return models.Prediction{}, apperrors.NewProviderError(SourceOpenAI, "parse", symbol, err)
	}

	var dir models.Direction
	switch strings.ToLower(ans.Direction) {
	case "long", "buy":
		dir = models.DirectionLong
	case "short", "sell":
		dir = models.DirectionShort
	default:
		return models.Prediction{}, apperrors.NewProviderError(SourceOpenAI, "parse", symbol,
			fmt.Errorf("unknown direction %q", ans.Direction))
	}

	return models.Prediction{
		Confidence:   clamp01(ans.Confidence),
		Direction:    dir,
		ExpectedMove: ans.ExpectedMove,
		Source:       SourceOpenAI,
	}, nil
}

package querygen

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const anthropicMaxTokens = 1024

// Anthropic generates queries with the Messages API.
type Anthropic struct {
	client      sdk.Client
	model       string
	temperature float64
}

var _ Generator = (*Anthropic)(nil)

func NewAnthropic(cfg Config) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}

	return &Anthropic{
		client:      sdk.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
	}
}

func (g *Anthropic) Generate(ctx context.Context, intent string) ([]QuerySet, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(g.model),
		MaxTokens:   anthropicMaxTokens,
		System:      []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(userPrompt(intent)))},
		Temperature: sdk.Float(g.temperature),
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "querygen: anthropic message")
	}

	var text strings.Builder

	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return Parse(text.String())
}

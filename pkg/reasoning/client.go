// Package reasoning wraps the external reasoning service behind a small
// client interface. The pipeline only ever sends a single instruction plus
// gathered input and expects free-form text back; parsing the structured
// payload out of that text is the caller's concern.
package reasoning

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the reasoning-service operations used by the stages.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is a single completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature *float64
}

// Response is the service's reply.
type Response struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// TokenUsage tracks token consumption for a call.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client  sdk.Client
	model   string
	limiter *rate.Limiter
}

// NewClient creates a reasoning client backed by the SDK. If rps is positive,
// calls are rate limited to that many requests per second.
func NewClient(apiKey, model string, rps float64) Client {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &sdkClient{
		client:  sdk.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		limiter: limiter,
	}
}

func (c *sdkClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "reasoning: rate limit wait")
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "reasoning: create message")
	}
	return fromSDKMessage(msg), nil
}

func fromSDKMessage(msg *sdk.Message) *Response {
	var parts []string
	for _, b := range msg.Content {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return &Response{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       strings.Join(parts, "\n"),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
}

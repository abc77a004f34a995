package reasoning

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockClient implements Client for tests in this package and downstream.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

func TestFromSDKMessage(t *testing.T) {
	msg := &sdk.Message{
		ID:    "msg_01",
		Model: "claude-haiku-4-5-20251001",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "first"},
			{Type: "text", Text: "second"},
			{Type: "tool_use"},
		},
		StopReason: "end_turn",
	}
	msg.Usage.InputTokens = 100
	msg.Usage.OutputTokens = 20

	resp := fromSDKMessage(msg)
	assert.Equal(t, "msg_01", resp.ID)
	assert.Equal(t, "first\nsecond", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
	assert.Equal(t, int64(20), resp.Usage.OutputTokens)
}

func TestMockClientRoundTrip(t *testing.T) {
	mc := new(MockClient)
	mc.On("Complete", mock.Anything, mock.Anything).Return(&Response{Text: "{}"}, nil)

	resp, err := mc.Complete(context.Background(), Request{Prompt: "hello"})
	assert.NoError(t, err)
	assert.Equal(t, "{}", resp.Text)
	mc.AssertExpectations(t)
}

package langchain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/orderguardian/internal/capability"
)

type fakeModel struct {
	resp     *llms.ContentResponse
	err      error
	lastMsgs []llms.MessageContent
	lastOpts llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.lastMsgs = msgs
	f.lastOpts = llms.CallOptions{}
	for _, o := range options {
		o(&f.lastOpts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

type embeddingModel struct {
	fakeModel
}

func (e *embeddingModel) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func TestCompleteReturnsToolCall(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           "call_1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: "route_to_monitor", Arguments: `{"query_type":"status"}`},
		}},
	}}}}
	c := NewWithModel(m, Options{Provider: ProviderOpenAI, Temperature: 0.3, MaxTokens: 200})

	out, err := c.Complete(context.Background(), capability.CompletionRequest{
		SystemPrompt: "route",
		UserPrompt:   "where is my order",
		Tools:        []capability.Tool{{Name: "route_to_monitor", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	require.NotNil(t, out.ToolCall)
	assert.Equal(t, "route_to_monitor", out.ToolCall.Name)
	assert.JSONEq(t, `{"query_type":"status"}`, out.ToolCall.Arguments)

	require.Len(t, m.lastMsgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.lastMsgs[0].Role)
	require.Len(t, m.lastOpts.Tools, 1)
	assert.Equal(t, "route_to_monitor", m.lastOpts.Tools[0].Function.Name)
	assert.Equal(t, 0.3, m.lastOpts.Temperature)
	assert.Equal(t, 200, m.lastOpts.MaxTokens)
}

func TestCompleteTextAndEmptyResponses(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Happy to help!"}}}}
	c := NewWithModel(m, Options{Provider: ProviderClaude})

	out, err := c.Complete(context.Background(), capability.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Happy to help!", out.Text)
	assert.Nil(t, out.ToolCall)

	m.resp = &llms.ContentResponse{}
	_, err = c.Complete(context.Background(), capability.CompletionRequest{UserPrompt: "hi"})
	assert.ErrorIs(t, err, capability.ErrValidation)

	m.err = errors.New("503 service unavailable")
	_, err = c.Complete(context.Background(), capability.CompletionRequest{UserPrompt: "hi"})
	assert.EqualError(t, err, "503 service unavailable")
}

func TestAnalyzeImageSendsBinaryPart(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Defect present: yes"}}}}
	c := NewWithModel(m, Options{Provider: ProviderOpenAI, VisionModel: "gpt-4o"})

	png := []byte("\x89PNG\r\n\x1a\n0000")
	out, err := c.AnalyzeImage(context.Background(), png, "describe defects")
	require.NoError(t, err)
	assert.Equal(t, "Defect present: yes", out)

	require.Len(t, m.lastMsgs, 1)
	require.Len(t, m.lastMsgs[0].Parts, 2)
	bin, ok := m.lastMsgs[0].Parts[0].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", bin.MIMEType)
	assert.Equal(t, "gpt-4o", m.lastOpts.Model)
}

func TestEmbedSupport(t *testing.T) {
	plain := NewWithModel(&fakeModel{}, Options{Provider: ProviderClaude})
	assert.False(t, plain.SupportsEmbeddings())
	_, err := plain.Embed(context.Background(), "shirt", 3)
	assert.ErrorIs(t, err, capability.ErrUnavailable)

	withEmb := NewWithModel(&embeddingModel{}, Options{Provider: ProviderOpenAI})
	require.True(t, withEmb.SupportsEmbeddings())
	v, err := withEmb.Embed(context.Background(), "shirt", 3)
	require.NoError(t, err)
	assert.Len(t, v, 3)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "watson"})
	assert.Error(t, err)
}

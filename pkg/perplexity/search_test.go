package perplexity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChatCompletionResponse), args.Error(1)
}

func answer(content string) *ChatCompletionResponse {
	return &ChatCompletionResponse{Choices: []Choice{{Message: Message{Role: "assistant", Content: content}}}}
}

func TestSearch_FormatsSearchResults(t *testing.T) {
	mc := new(mockClient)
	resp := answer("- OPEC+ extends cuts (2026-02-13)")
	resp.SearchResults = []SearchResult{
		{Title: "OPEC+ extends output cuts", URL: "https://news.example/opec", Date: "2026-02-13"},
		{Title: "EIA weekly stocks", URL: "https://news.example/eia"},
	}
	resp.Citations = []string{"https://ignored.example"}
	mc.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req ChatCompletionRequest) bool {
		return len(req.Messages) == 2 &&
			req.Messages[1].Content == "WTI crude oil price news 2026-02-14" &&
			req.SearchRecencyFilter == "week"
	})).Return(resp, nil)

	out, err := NewSearcher(mc, 0).Search(context.Background(), "WTI crude oil price news 2026-02-14")
	require.NoError(t, err)
	assert.Equal(t, "- OPEC+ extends cuts (2026-02-13)\n\nSources:\n"+
		"[1] OPEC+ extends output cuts (2026-02-13) https://news.example/opec\n"+
		"[2] EIA weekly stocks https://news.example/eia", out)
	mc.AssertExpectations(t)
}

func TestSearch_FallsBackToCitations(t *testing.T) {
	mc := new(mockClient)
	resp := answer("brent steady")
	resp.Citations = []string{"https://a.example", "https://b.example"}
	mc.On("ChatCompletion", mock.Anything, mock.Anything).Return(resp, nil)

	out, err := NewSearcher(mc, 0).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "[1] https://a.example\n[2] https://b.example"))
}

func TestSearch_NoSources(t *testing.T) {
	mc := new(mockClient)
	mc.On("ChatCompletion", mock.Anything, mock.Anything).Return(answer("  quiet day  "), nil)

	out, err := NewSearcher(mc, 0).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "quiet day", out)
}

func TestSearch_Truncates(t *testing.T) {
	mc := new(mockClient)
	mc.On("ChatCompletion", mock.Anything, mock.Anything).Return(answer(strings.Repeat("原油", 100)), nil)

	out, err := NewSearcher(mc, 50).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, TruncationMarker))
	assert.Equal(t, 50+utf8.RuneCountInString(TruncationMarker), utf8.RuneCountInString(out))
}

func TestSearch_Errors(t *testing.T) {
	mc := new(mockClient)
	mc.On("ChatCompletion", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()
	mc.On("ChatCompletion", mock.Anything, mock.Anything).Return(&ChatCompletionResponse{}, nil).Once()

	s := NewSearcher(mc, 0)
	_, err := s.Search(context.Background(), "q")
	assert.ErrorContains(t, err, "perplexity: search")

	_, err = s.Search(context.Background(), "q")
	assert.ErrorContains(t, err, "no choices")
}

package perplexity

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultMaxChars bounds the news context handed to the LLM.
const DefaultMaxChars = 3000

// TruncationMarker is appended when search output is cut at MaxChars.
const TruncationMarker = "\n...(truncated)"

const searchSystemPrompt = "You are a news researcher for commodity markets. " +
	"List the most relevant recent news items for the query as short bullet points, " +
	"each with its date and source. Do not speculate."

// Searcher turns a free-text query into a news digest.
type Searcher struct {
	client   Client
	maxChars int
	recency  string
}

// NewSearcher wraps client. maxChars <= 0 uses DefaultMaxChars.
func NewSearcher(client Client, maxChars int) *Searcher {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Searcher{client: client, maxChars: maxChars, recency: "week"}
}

// Search returns the answer text followed by its sources, truncated to
// maxChars runes.
func (s *Searcher) Search(ctx context.Context, query string) (string, error) {
	resp, err := s.client.ChatCompletion(ctx, ChatCompletionRequest{
		Messages: []Message{
			{Role: "system", Content: searchSystemPrompt},
			{Role: "user", Content: query},
		},
		SearchRecencyFilter: s.recency,
	})
	if err != nil {
		return "", eris.Wrap(err, "perplexity: search")
	}
	if len(resp.Choices) == 0 {
		return "", eris.New("perplexity: search returned no choices")
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(resp.Choices[0].Message.Content))
	if sources := formatSources(resp); sources != "" {
		b.WriteString("\n\nSources:\n")
		b.WriteString(sources)
	}
	return truncate(b.String(), s.maxChars), nil
}

func formatSources(resp *ChatCompletionResponse) string {
	var lines []string
	if len(resp.SearchResults) > 0 {
		for i, r := range resp.SearchResults {
			line := fmt.Sprintf("[%d] %s", i+1, r.Title)
			if r.Date != "" {
				line += " (" + r.Date + ")"
			}
			lines = append(lines, line+" "+r.URL)
		}
	} else {
		for i, u := range resp.Citations {
			lines = append(lines, fmt.Sprintf("[%d] %s", i+1, u))
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars]) + TruncationMarker
}

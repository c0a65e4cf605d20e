package coretools

import (
	"context"

	"github.com/rs/zerolog/log"
)

// MaxArticleChars bounds the article text handed back to the model.
const MaxArticleChars = 8000

const summarizeFailureMessage = "Could not fetch article content for summarization"

// SummarizeInput is the summarize_article tool's input.
type SummarizeInput struct {
	ArticleURL   string `json:"articleUrl"`
	ArticleTitle string `json:"articleTitle"`
}

// SummarizeSuccess carries fetched article text; the model writes the summary.
type SummarizeSuccess struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Summary *string `json:"summary"`
}

// SummarizeFailure is returned when the article could not be fetched.
type SummarizeFailure struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content *string `json:"content"`
	Error   string  `json:"error"`
}

// Summarizer fetches article text for the model to summarize.
type Summarizer struct {
	Extractor Extractor
}

// Fetch returns SummarizeSuccess or SummarizeFailure. Only cancellation of
// ctx surfaces as an error.
func (s Summarizer) Fetch(ctx context.Context, in SummarizeInput) (interface{}, error) {
	text, err := s.Extractor.Extract(ctx, in.ArticleURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Str("url", in.ArticleURL).Msg("Article fetch failed")
		return SummarizeFailure{
			Title: in.ArticleTitle,
			URL:   in.ArticleURL,
			Error: summarizeFailureMessage,
		}, nil
	}

	return SummarizeSuccess{
		Title:   in.ArticleTitle,
		URL:     in.ArticleURL,
		Content: Truncate(text, MaxArticleChars),
	}, nil
}

// Truncate returns the first max characters (runes) of s.
func Truncate(s string, max int) string {
	if max < 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}

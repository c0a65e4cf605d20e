package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/briefing/pkg/conversation"
)

// SummaryStyle selects the shape of a requested summary.
type SummaryStyle string

const (
	StyleParagraph   SummaryStyle = "paragraph"
	StyleBullets     SummaryStyle = "bullets"
	StyleOneSentence SummaryStyle = "one-sentence"
)

var summaryPrompts = map[SummaryStyle]string{
	StyleParagraph:   "Please provide a one paragraph TLDR summary of this article:",
	StyleBullets:     "Please provide a concise bulleted list summary of the key points for this article:",
	StyleOneSentence: "Please provide a single, punchy TLDR sentence for this article:",
}

// Styles lists the summary styles.
func Styles() []SummaryStyle {
	return []SummaryStyle{StyleParagraph, StyleBullets, StyleOneSentence}
}

// ParseSummaryStyle accepts a style name, case-insensitively.
func ParseSummaryStyle(s string) (SummaryStyle, error) {
	style := SummaryStyle(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := summaryPrompts[style]; !ok {
		return "", fmt.Errorf("unknown summary style %q (want paragraph, bullets or one-sentence)", s)
	}
	return style, nil
}

// Article is a news result that can be summarized.
type Article struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// SummaryRequest builds the user message asking for a summary of article.
func SummaryRequest(article Article, style SummaryStyle) (string, error) {
	prompt, ok := summaryPrompts[style]
	if !ok {
		return "", fmt.Errorf("unknown summary style %q", style)
	}
	if article.Link == "" {
		return "", fmt.Errorf("article has no link")
	}
	return prompt + ` "` + article.Title + `" at ` + article.Link, nil
}

// SummaryState is the state of one article's summary.
type SummaryState string

const (
	SummaryInFlight    SummaryState = "in-flight"
	SummaryReady       SummaryState = "ready"
	SummaryFailed      SummaryState = "failed"
	SummaryInterrupted SummaryState = "interrupted"
)

// Summary is the index entry for one article.
type Summary struct {
	URL   string       `json:"url"`
	Title string       `json:"title,omitempty"`
	State SummaryState `json:"state"`
	// Text is the model's summary, written after the tool output.
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// SummaryIndex maps article URLs to their latest summary. It is computed
// from the stored messages on every call, so it always agrees with the
// tool parts it is derived from.
func (s *Store) SummaryIndex() map[string]Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := BuildSummaryIndex(s.messages, s.status.Busy())
	if s.pending != nil {
		if !s.hasSummaryPartLocked(s.pending.Link) {
			index[s.pending.Link] = Summary{URL: s.pending.Link, Title: s.pending.Title, State: SummaryInFlight}
		}
	}
	return index
}

// hasSummaryPartLocked reports whether the reply in flight already has a
// summarize part for url.
func (s *Store) hasSummaryPartLocked(url string) bool {
	if s.asm == nil {
		return false
	}
	for _, p := range s.messages[len(s.messages)-1].Parts {
		if in, ok := summarizeInput(p); ok && in.ArticleURL == url {
			return true
		}
	}
	return false
}

// BuildSummaryIndex derives the summary index from messages. busy says
// whether the last message may still be streaming; non-terminal parts
// elsewhere are interrupted.
func BuildSummaryIndex(messages []conversation.Message, busy bool) map[string]Summary {
	index := make(map[string]Summary)
	for mi, m := range messages {
		if m.Role != conversation.RoleAssistant {
			continue
		}
		live := busy && mi == len(messages)-1

		for pi, p := range m.Parts {
			in, ok := summarizeInput(p)
			if !ok || in.ArticleURL == "" {
				continue
			}
			entry := Summary{URL: in.ArticleURL, Title: in.ArticleTitle}

			switch conversation.DisplayState(p, live) {
			case conversation.DisplayActive:
				entry.State = SummaryInFlight
			case conversation.DisplayInterrupted:
				entry.State = SummaryInterrupted
			case conversation.DisplayFailed:
				entry.State = SummaryFailed
				entry.Error = p.ErrorText
			case conversation.DisplayDone:
				if msg := outputError(p.Output); msg != "" {
					entry.State = SummaryFailed
					entry.Error = msg
					break
				}
				entry.Text = textAfter(m.Parts[pi+1:])
				entry.State = SummaryReady
				if entry.Text == "" && live {
					entry.State = SummaryInFlight
				}
			}
			index[entry.URL] = entry
		}
	}
	return index
}

type summarizeArgs struct {
	ArticleURL   string `json:"articleUrl"`
	ArticleTitle string `json:"articleTitle"`
}

func summarizeInput(p conversation.Part) (summarizeArgs, bool) {
	var in summarizeArgs
	if !p.IsTool() || p.ToolName() != "summarize_article" {
		return in, false
	}
	if err := json.Unmarshal(p.Input, &in); err != nil {
		return in, false
	}
	return in, true
}

// outputError returns the error field of a tool output, if any.
func outputError(output json.RawMessage) string {
	var out struct {
		Error string `json:"error"`
	}
	if len(output) == 0 || json.Unmarshal(output, &out) != nil {
		return ""
	}
	return out.Error
}

func textAfter(parts []conversation.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.IsTool() {
			break
		}
		if p.IsText() {
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// NewsArticles returns the articles of the most recent successful news
// search, for picking one to summarize.
func (s *Store) NewsArticles() []Article {
	s.mu.Lock()
	defer s.mu.Unlock()

	for mi := len(s.messages) - 1; mi >= 0; mi-- {
		parts := s.messages[mi].Parts
		for pi := len(parts) - 1; pi >= 0; pi-- {
			p := parts[pi]
			if !p.IsTool() || p.ToolName() != "news" || p.State != conversation.ToolOutputAvailable {
				continue
			}
			var articles []Article
			if err := json.Unmarshal(p.Output, &articles); err != nil {
				continue
			}
			return articles
		}
	}
	return nil
}

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"

	"github.com/harun/briefing/pkg/client"
	"github.com/harun/briefing/pkg/conversation"
	"github.com/harun/briefing/pkg/stream"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	chatURL    string
	chatSecret string
	chatModel  string
	chatID     string
	chatStyle  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running server",
	Long: `Open an interactive chat against a running server.

Commands:
  /suggest [n]       list starter prompts, or send prompt n
  /news              list the articles of the last news search
  /tldr <n> [style]  summarize article n (paragraph, bullets, one-sentence)
  /style <style>     set the default summary style
  /model <model>     switch model
  /summaries         show article summaries
  /quit              leave

Ctrl-C stops the reply in progress.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatURL, "url", "", "server URL (default from config)")
	chatCmd.Flags().StringVar(&chatSecret, "secret", "", "shared secret (default from config)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model id (server default when empty)")
	chatCmd.Flags().StringVar(&chatID, "id", "", "resume the chat with this id")
	chatCmd.Flags().StringVar(&chatStyle, "style", string(client.StyleParagraph), "summary style")
	addCommand(groupClient, chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	style, err := client.ParseSummaryStyle(chatStyle)
	if err != nil {
		return err
	}
	base, err := resolveServerURL(cmd, chatURL)
	if err != nil {
		return err
	}
	secret, err := resolveSecret(cmd, chatSecret)
	if err != nil {
		return err
	}

	transport := client.NewHTTPTransport(base, secret, zerolog.Nop())
	r := newREPL(cmd.OutOrStdout(), style)
	store, err := client.New(client.Config{
		ChatID:    chatID,
		Model:     chatModel,
		Transport: transport,
		Logger:    zerolog.Nop(),
		OnEvent:   r.render,
	})
	if err != nil {
		return err
	}
	r.store = store

	if chatID != "" {
		history, err := transport.History(cmd.Context(), chatID)
		if err != nil {
			return fmt.Errorf("failed to load chat %s: %w", chatID, err)
		}
		if err := store.Replay(history); err != nil {
			return err
		}
		r.printHistory()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			if !store.Stop() {
				fmt.Fprintln(r.out, "\nbye")
				os.Exit(130)
			}
		}
	}()

	fmt.Fprintf(r.out, "Chat %s on %s. /quit to leave.\n", store.ChatID(), base)
	return r.run(cmd.Context(), cmd.InOrStdin())
}

type suggestion struct {
	group  string
	label  string
	prompt string
}

// suggestions are the starter prompts offered by /suggest.
var suggestions = []suggestion{
	{"Global News", "AI Developments", "What's new in AI?"},
	{"Global News", "Premier League", "What's new in Premier League"},
	{"Technical Changelogs", "Django Updates", "What's new in Django"},
	{"Technical Changelogs", "React Features", "What's new in react"},
}

// repl drives a client.Store from line input.
type repl struct {
	store *client.Store
	out   io.Writer
	style client.SummaryStyle
	// inText is set while a text part is being printed.
	inText bool
}

func newREPL(out io.Writer, style client.SummaryStyle) *repl {
	return &repl{out: out, style: style}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		quit, err := r.handleLine(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handleLine runs one line of input and reports whether to quit.
func (r *repl) handleLine(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		err := r.store.Send(ctx, line)
		r.endReply()
		return false, err
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/suggest":
		if len(fields) < 2 {
			r.printSuggestions()
			return false, nil
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > len(suggestions) {
			return false, fmt.Errorf("no suggestion %s (see /suggest)", fields[1])
		}
		prompt := suggestions[n-1].prompt
		fmt.Fprintf(r.out, "> %s\n", prompt)
		err = r.store.Send(ctx, prompt)
		r.endReply()
		return false, err

	case "/news":
		articles := r.store.NewsArticles()
		if len(articles) == 0 {
			fmt.Fprintln(r.out, "No articles yet. Ask for some news first.")
			return false, nil
		}
		for i, a := range articles {
			fmt.Fprintf(r.out, "%2d. %s\n    %s\n", i+1, a.Title, a.Link)
		}

	case "/tldr":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /tldr <n> [style]")
		}
		n, err := strconv.Atoi(fields[1])
		articles := r.store.NewsArticles()
		if err != nil || n < 1 || n > len(articles) {
			return false, fmt.Errorf("no article %s (see /news)", fields[1])
		}
		style := r.style
		if len(fields) > 2 {
			if style, err = client.ParseSummaryStyle(fields[2]); err != nil {
				return false, err
			}
		}
		err = r.store.Summarize(ctx, articles[n-1], style)
		r.endReply()
		return false, err

	case "/style":
		if len(fields) < 2 {
			fmt.Fprintf(r.out, "Summary style: %s\n", r.style)
			return false, nil
		}
		style, err := client.ParseSummaryStyle(fields[1])
		if err != nil {
			return false, err
		}
		r.style = style
		fmt.Fprintf(r.out, "Summary style set to %s\n", style)

	case "/model":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /model <model>")
		}
		r.store.SetModel(fields[1])
		fmt.Fprintf(r.out, "Model set to %s\n", fields[1])

	case "/summaries":
		r.printSummaries()

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

// render prints events as they arrive.
func (r *repl) render(ev stream.Event) {
	switch ev.Type {
	case stream.EventTextDelta:
		r.inText = true
		fmt.Fprint(r.out, ev.Delta)
	case stream.EventTextEnd:
		if r.inText {
			fmt.Fprintln(r.out)
			r.inText = false
		}
	case stream.EventToolInputAvailable:
		fmt.Fprintf(r.out, "[%s %s]\n", ev.ToolName, string(ev.Input))
	case stream.EventToolOutputAvailable:
		fmt.Fprintln(r.out, "[tool done]")
	case stream.EventToolOutputError:
		fmt.Fprintf(r.out, "[tool failed: %s]\n", ev.ErrorText)
	case stream.EventError:
		fmt.Fprintf(r.out, "\n[error: %s]\n", ev.ErrorText)
	case stream.EventAbort:
		fmt.Fprintln(r.out, "\n[stopped]")
	}
}

func (r *repl) endReply() {
	if r.inText {
		fmt.Fprintln(r.out)
		r.inText = false
	}
	if r.store.Status() == client.StatusCancelled {
		fmt.Fprintln(r.out, "[stopped]")
	}
}

func (r *repl) printHistory() {
	for _, m := range r.store.Messages() {
		switch m.Role {
		case conversation.RoleUser:
			fmt.Fprintf(r.out, "> %s\n", m.Text())
		case conversation.RoleAssistant:
			for _, p := range m.Parts {
				switch {
				case p.IsText():
					fmt.Fprintln(r.out, p.Text)
				case p.IsTool():
					fmt.Fprintf(r.out, "[%s: %s]\n", p.ToolName(), r.store.ToolDisplay(m.ID, p))
				}
			}
		}
	}
}

func (r *repl) printSuggestions() {
	group := ""
	for i, sg := range suggestions {
		if sg.group != group {
			group = sg.group
			fmt.Fprintf(r.out, "%s:\n", group)
		}
		fmt.Fprintf(r.out, "%2d. %s: %s\n", i+1, sg.label, sg.prompt)
	}
}

func (r *repl) printSummaries() {
	index := r.store.SummaryIndex()
	if len(index) == 0 {
		fmt.Fprintln(r.out, "No summaries yet.")
		return
	}
	urls := make([]string, 0, len(index))
	for url := range index {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	for _, url := range urls {
		s := index[url]
		fmt.Fprintf(r.out, "%s [%s]\n", url, s.State)
		switch {
		case s.Text != "":
			fmt.Fprintf(r.out, "  %s\n", s.Text)
		case s.Error != "":
			fmt.Fprintf(r.out, "  %s\n", s.Error)
		}
	}
}

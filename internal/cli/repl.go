package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"scribe-backend/internal/config"
)

const replHelp = `Commands:
  /new            start a new chat and clear the document
  /clear          clear the chat history and the document
  /doc            show the working document
  /model <id>     switch model
  /models         list models
  /quit           exit
Press Ctrl-C while a reply is pending to cancel it.`

func newChatCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			line := liner.NewLiner()
			line.SetCtrlCAborts(true)
			history := historyPath()
			if f, err := os.Open(history); err == nil {
				line.ReadHistory(f)
				f.Close()
			}
			defer func() {
				if f, err := os.OpenFile(history, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
					line.WriteHistory(f)
					f.Close()
				}
				line.Close()
			}()

			r := &repl{app: app, out: cmd.OutOrStdout(), model: opts.modelFor(app)}
			return r.run(ctx, line)
		},
	}
}

func historyPath() string {
	dir, err := config.ClientDir()
	if err != nil {
		dir = os.TempDir()
	}
	os.MkdirAll(dir, 0o700)
	return filepath.Join(dir, "repl_history")
}

type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type repl struct {
	app   *App
	out   io.Writer
	model string
}

func (r *repl) run(ctx context.Context, line prompter) error {
	for _, m := range r.app.Window.Recent(0) {
		renderMessage(r.out, m)
	}
	fmt.Fprintln(r.out, dimStyle.Render("Type /help for commands. Model: "+r.model))

	for {
		input, err := line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(r.out, dimStyle.Render("(use /quit to exit)"))
			continue
		}
		if err != nil {
			// EOF (Ctrl-D)
			fmt.Fprintln(r.out)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := r.command(ctx, input)
			if err != nil {
				fmt.Fprintln(r.out, errorStyle.Render("[Error]")+" "+err.Error())
			}
			if quit {
				return nil
			}
			continue
		}

		renderOutcome(r.out, runTurn(ctx, r.app, input, r.model))
		fmt.Fprintln(r.out)
	}
}

// command runs a slash command and reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	name, args := fields[0], fields[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help":
		fmt.Fprintln(r.out, replHelp)

	case "/new":
		if err := r.app.Window.Reset(ctx, &Welcome); err != nil {
			return false, err
		}
		if err := r.app.Doc.Set(ctx, ""); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, noticeStyle.Render("New chat started."))
		for _, m := range r.app.Window.Recent(0) {
			renderMessage(r.out, m)
		}

	case "/clear":
		if err := r.app.Window.Clear(ctx); err != nil {
			return false, err
		}
		if err := r.app.Doc.Set(ctx, ""); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, noticeStyle.Render("Chat history cleared."))

	case "/doc":
		content, err := r.app.Doc.Get(ctx)
		if err != nil {
			return false, err
		}
		if content == "" {
			fmt.Fprintln(r.out, dimStyle.Render("(no document yet)"))
		} else {
			fmt.Fprintln(r.out, documentStyle.Render(content))
		}

	case "/model":
		if len(args) != 1 {
			fmt.Fprintln(r.out, "Current model: "+r.model)
			return false, nil
		}
		resp, err := r.app.API.ListModels(ctx)
		if err != nil {
			return false, err
		}
		if !modelKnown(resp, args[0]) {
			return false, fmt.Errorf("unknown model %q (see /models)", args[0])
		}
		r.model = args[0]
		fmt.Fprintln(r.out, noticeStyle.Render("Model set to "+r.model))

	case "/models":
		resp, err := r.app.API.ListModels(ctx)
		if err != nil {
			return false, err
		}
		renderModels(r.out, resp, r.model)

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"scribe-backend/internal/orchestrator"
)

// ErrTurnFailed is returned by ask after the failure has been shown to the user.
var ErrTurnFailed = errors.New("turn failed")

func newLoginCommand(opts *options) *cobra.Command {
	var email string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the scribe server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if email == "" {
				return errors.New("--email is required")
			}

			var password string
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			} else {
				state := liner.NewLiner()
				password, err = state.PasswordPrompt("Password: ")
				state.Close()
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
			}

			cred, err := app.Session.SignIn(ctx, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (session valid until %s)\n",
				email, cred.ExpiresAt.Local().Format("15:04"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func newLogoutCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Session.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newAskCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Run a single turn of the conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			out := runTurn(cmd.Context(), app, strings.Join(args, " "), opts.modelFor(app))
			if renderOutcome(cmd.OutOrStdout(), out) {
				return ErrTurnFailed
			}
			return nil
		},
	}
}

// runTurn handles one input. An interrupt while it runs cancels the turn.
func runTurn(ctx context.Context, app *App, input, model string) orchestrator.Outcome {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Orch.Handle(ctx, input, model)
}

func newModelsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models and whether you can use them",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			resp, err := app.API.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			renderModels(cmd.OutOrStdout(), resp, opts.modelFor(app))
			return nil
		},
	}
}

func newDocCommand(opts *options) *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Show the working document",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if clear {
				return app.Doc.Set(cmd.Context(), "")
			}
			content, err := app.Doc.Get(cmd.Context())
			if err != nil {
				return err
			}
			if content == "" {
				fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("(no document yet)"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), content)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Discard the working document")
	return cmd
}

func newHistoryCommand(opts *options) *cobra.Command {
	var clear bool
	var last int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recent conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if clear {
				if err := app.Window.Clear(cmd.Context()); err != nil {
					return err
				}
				return app.Doc.Set(cmd.Context(), "")
			}
			for _, m := range app.Window.Recent(last) {
				renderMessage(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the conversation and the document")
	cmd.Flags().IntVarP(&last, "last", "n", 0, "Only show the last n messages")
	return cmd
}

package cli

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"scribe-backend/internal/config"
	"scribe-backend/internal/logger"
)

type options struct {
	configPath string
	verbose    bool
	model      string

	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	httpClient *http.Client
}

// NewRootCommand builds the scribe command tree writing to stdout and stderr.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stdin: stdin, stdout: stdout, stderr: stderr}
	return newRootCommand(opts)
}

func newRootCommand(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "scribe",
		Short: "Chat with an AI writing assistant from the terminal",
		Long: `scribe talks to a scribe server to generate, edit and discuss content.

Configuration is read from ~/.scribe/config.toml.

Environment Variables:
  SCRIBE_SERVER_URL  Server URL (overrides server_url in the config file)`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(opts.stdin)
	root.SetOut(opts.stdout)
	root.SetErr(opts.stderr)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ~/.scribe/config.toml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log requests and retries to stderr")
	root.PersistentFlags().StringVarP(&opts.model, "model", "m", "", "Model to use (overrides the config file)")

	root.AddCommand(
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newChatCommand(opts),
		newAskCommand(opts),
		newModelsCommand(opts),
		newDocCommand(opts),
		newHistoryCommand(opts),
	)
	return root
}

func (o *options) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	w := o.stderr
	if w == nil {
		w = os.Stderr
	}
	return logger.Setup(w, level)
}

func (o *options) open(ctx context.Context) (*App, error) {
	cfg, err := config.LoadClient(o.configPath)
	if err != nil {
		return nil, err
	}
	return OpenApp(ctx, cfg, o.httpClient, o.logger())
}

func (o *options) modelFor(app *App) string {
	if o.model != "" {
		return o.model
	}
	return app.Config.Model
}

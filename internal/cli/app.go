// Package cli is the scribe terminal client: a chat REPL and one-shot commands over the
// generation pipeline.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"scribe-backend/internal/apiclient"
	"scribe-backend/internal/config"
	"scribe-backend/internal/conversation"
	"scribe-backend/internal/credential"
	"scribe-backend/internal/document"
	"scribe-backend/internal/executor"
	"scribe-backend/internal/kv"
	"scribe-backend/internal/orchestrator"
)

// Welcome is shown when there is no unexpired conversation.
var Welcome = conversation.Message{
	Role:    conversation.RoleAssistant,
	Content: "Hello! How can I help you today?",
}

// App holds the client-side pipeline for one process.
type App struct {
	Config  *config.ClientConfig
	Session *credential.SessionClient
	Creds   *credential.Store
	API     *apiclient.Client
	Window  *conversation.Window
	Doc     *document.Store
	Orch    *orchestrator.Orchestrator

	closers []func() error
}

// OpenApp builds the pipeline. A nil httpClient uses http.DefaultClient.
func OpenApp(ctx context.Context, cfg *config.ClientConfig, httpClient *http.Client, logger *slog.Logger) (*App, error) {
	store, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app, err := newApp(ctx, cfg, store, httpClient, logger)
	if err != nil {
		if closer != nil {
			closer()
		}
		return nil, err
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	return app, nil
}

func newApp(ctx context.Context, cfg *config.ClientConfig, store kv.Store, httpClient *http.Client, logger *slog.Logger) (*App, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	session := credential.NewSessionClient(cfg.ServerURL, store, httpClient)
	creds := credential.NewStore(session, credential.WithSkew(cfg.Skew))

	exec := executor.New(cfg.ServerURL, creds,
		executor.WithHTTPClient(httpClient),
		executor.WithLogger(logger),
	)
	api := apiclient.New(exec, policyFrom(cfg))

	window, err := conversation.Open(ctx, store, conversation.WithSeed(Welcome))
	if err != nil {
		creds.Close()
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	doc := document.NewStore(store)

	return &App{
		Config:  cfg,
		Session: session,
		Creds:   creds,
		API:     api,
		Window:  window,
		Doc:     doc,
		Orch:    orchestrator.New(api, window, doc, logger),
	}, nil
}

func (a *App) Close() error {
	a.Creds.Close()
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func policyFrom(cfg *config.ClientConfig) executor.Policy {
	return executor.Policy{
		Timeout:    cfg.Policy.Timeout,
		MaxRetries: cfg.Policy.MaxRetries,
		BaseDelay:  cfg.Policy.BaseDelay,
		MaxDelay:   cfg.Policy.MaxDelay,
	}
}

func openStore(ctx context.Context, cfg *config.ClientConfig) (kv.Store, func() error, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := kv.OpenSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StoreRedis:
		s, err := kv.OpenRedisStore(ctx, cfg.RedisURL, "scribe:")
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StoreMemory:
		return kv.NewMemoryStore(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

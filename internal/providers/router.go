// Package providers dispatches generation requests to upstream model providers and
// substitutes the fallback provider when the default one refuses on safety grounds.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"scribe-backend/internal/metrics"
)

// SystemPrompt is sent to providers that accept a separate system instruction.
const SystemPrompt = "Generate content that is SEO-optimized and human-like. Keep the content professional and safe."

// Call is one upstream request.
type Call struct {
	APIKey  string
	BaseURL string
	Model   string
	Prompt  string
}

// Backend talks to one kind of provider API.
type Backend interface {
	Generate(ctx context.Context, call Call) (string, error)
}

// KeyStore returns API keys users stored for providers. Provider ids are lowercase.
type KeyStore interface {
	ProviderKey(ctx context.Context, userID uuid.UUID, provider string) (string, error)
	ProvidersWithKeys(ctx context.Context, userID uuid.UUID) (map[string]bool, error)
}

type Result struct {
	Content   string
	ModelUsed string
	Provider  string
	FellBack  bool
}

type Router struct {
	catalog  *Catalog
	envKeys  map[string]string
	keys     KeyStore
	backends map[Kind]Backend
	metrics  metrics.Recorder
	logger   *slog.Logger
}

type Option func(*Router)

func WithRecorder(m metrics.Recorder) Option {
	return func(r *Router) { r.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

func NewRouter(catalog *Catalog, envKeys map[string]string, keys KeyStore, backends map[Kind]Backend, opts ...Option) *Router {
	r := &Router{
		catalog:  catalog,
		envKeys:  envKeys,
		keys:     keys,
		backends: backends,
		metrics:  metrics.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Catalog() *Catalog { return r.catalog }

// RequiresUserKey reports whether callers must bring their own key for p.
func (r *Router) RequiresUserKey(p *Descriptor) bool {
	return p.RequiresUserKey || r.envKeys[p.EnvKey] == ""
}

func (r *Router) resolveKey(ctx context.Context, userID uuid.UUID, p *Descriptor, modelID string) (string, error) {
	if !r.RequiresUserKey(p) {
		return r.envKeys[p.EnvKey], nil
	}
	key, err := r.keys.ProviderKey(ctx, userID, p.ID)
	if err != nil {
		return "", fmt.Errorf("failed to look up %s key: %w", p.ID, err)
	}
	if key == "" {
		return "", &UnavailableError{Provider: p.Name, Model: modelID}
	}
	return key, nil
}

// Generate serves prompt with modelID on behalf of userID. ModelUsed differs from
// modelID only when the fallback provider answered.
func (r *Router) Generate(ctx context.Context, userID uuid.UUID, prompt, modelID string) (*Result, error) {
	p, model, ok := r.catalog.Lookup(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	key, err := r.resolveKey(ctx, userID, p, modelID)
	if err != nil {
		return nil, err
	}

	content, err := r.call(ctx, p, model, key, prompt)
	if err == nil {
		return &Result{Content: content, ModelUsed: model.ID, Provider: p.ID}, nil
	}

	var se *SafetyError
	if !errors.As(err, &se) || p.ID != r.catalog.Default {
		return nil, asUpstream(p.ID, err)
	}

	fp, fmodel, _ := r.catalog.Lookup(r.catalog.Fallback.Model)
	fkey, kerr := r.resolveKey(ctx, userID, fp, fmodel.ID)
	if kerr != nil {
		r.logger.Warn("fallback provider unavailable",
			slog.String("provider", fp.ID),
			slog.String("error", kerr.Error()),
		)
		return nil, asUpstream(p.ID, err)
	}

	r.logger.Info("safety rejection, using fallback provider",
		slog.String("from", p.ID),
		slog.String("to", fp.ID),
		slog.String("reason", se.Reason),
	)
	r.metrics.RecordFallback(p.ID, fp.ID)

	content, err = r.call(ctx, fp, fmodel, fkey, prompt)
	if err != nil {
		return nil, asUpstream(fp.ID, err)
	}
	return &Result{Content: content, ModelUsed: fmodel.ID, Provider: fp.ID, FellBack: true}, nil
}

func (r *Router) call(ctx context.Context, p *Descriptor, model Model, key, prompt string) (string, error) {
	backend, ok := r.backends[p.Kind]
	if !ok {
		return "", fmt.Errorf("no backend configured for %s", p.Kind)
	}

	start := time.Now()
	content, err := backend.Generate(ctx, Call{
		APIKey:  key,
		BaseURL: p.BaseURL,
		Model:   model.UpstreamName(),
		Prompt:  prompt,
	})
	if err == nil && strings.TrimSpace(content) == "" {
		err = ErrEmptyContent
	}

	outcome := "ok"
	var se *SafetyError
	switch {
	case errors.As(err, &se):
		se.Provider = p.ID
		outcome = "safety"
	case err != nil:
		outcome = "error"
	}
	r.metrics.RecordProviderCall(p.ID, outcome, time.Since(start))

	if err != nil {
		r.logger.Warn("provider call failed",
			slog.String("provider", p.ID),
			slog.String("model", model.ID),
			slog.String("error", err.Error()),
		)
	}
	return content, err
}

// Availability is one catalog entry annotated for a particular user.
type Availability struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Models         []string `json:"models"`
	RequiresAPIKey bool     `json:"requiresApiKey"`
	Available      bool     `json:"available"`
}

// Available lists every provider and whether userID may use its models.
func (r *Router) Available(ctx context.Context, userID uuid.UUID) ([]Availability, error) {
	held, err := r.keys.ProvidersWithKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored keys: %w", err)
	}

	out := make([]Availability, 0, len(r.catalog.Providers))
	for i := range r.catalog.Providers {
		p := &r.catalog.Providers[i]
		requires := r.RequiresUserKey(p)
		out = append(out, Availability{
			ID:             p.ID,
			Name:           p.Name,
			Description:    p.Description,
			Models:         p.ModelIDs(),
			RequiresAPIKey: requires,
			Available:      !requires || held[p.ID],
		})
	}
	return out, nil
}

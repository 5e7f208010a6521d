package providers

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type Kind string

const (
	KindGemini    Kind = "gemini"
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
)

// Model maps a public model id to the name sent upstream. An empty Upstream means the
// id is sent as is.
type Model struct {
	ID       string `yaml:"id"`
	Upstream string `yaml:"upstream"`
}

func (m Model) UpstreamName() string {
	if m.Upstream != "" {
		return m.Upstream
	}
	return m.ID
}

type Descriptor struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	Kind            Kind    `yaml:"kind"`
	BaseURL         string  `yaml:"base_url"`
	EnvKey          string  `yaml:"env_key"`
	RequiresUserKey bool    `yaml:"requires_user_key"`
	Description     string  `yaml:"description"`
	Models          []Model `yaml:"models"`
}

func (d *Descriptor) ModelIDs() []string {
	ids := make([]string, len(d.Models))
	for i, m := range d.Models {
		ids[i] = m.ID
	}
	return ids
}

type Catalog struct {
	Default  string `yaml:"default"`
	Fallback struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
	} `yaml:"fallback"`
	Providers []Descriptor `yaml:"providers"`

	byModel map[string]modelRef
}

type modelRef struct {
	provider int
	model    int
}

// DefaultCatalog parses the embedded catalog.yaml.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse provider catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.byModel = make(map[string]modelRef)
	seen := make(map[string]bool)
	for pi, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %q has no id", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Kind {
		case KindGemini, KindOpenAI, KindAnthropic:
		default:
			return fmt.Errorf("provider %q has unknown kind %q", p.ID, p.Kind)
		}
		if p.Kind == KindOpenAI && p.BaseURL == "" {
			return fmt.Errorf("provider %q needs a base_url", p.ID)
		}
		for mi, m := range p.Models {
			if _, dup := c.byModel[m.ID]; dup {
				return fmt.Errorf("model %q listed twice", m.ID)
			}
			c.byModel[m.ID] = modelRef{provider: pi, model: mi}
		}
	}

	if _, ok := c.Provider(c.Default); !ok {
		return fmt.Errorf("default provider %q not in catalog", c.Default)
	}
	fp, _, ok := c.Lookup(c.Fallback.Model)
	if !ok || fp.ID != c.Fallback.Provider {
		return fmt.Errorf("fallback model %q is not served by provider %q", c.Fallback.Model, c.Fallback.Provider)
	}
	if c.Fallback.Provider == c.Default {
		return fmt.Errorf("fallback provider must differ from the default provider")
	}
	return nil
}

// Lookup resolves a public model id to its provider.
func (c *Catalog) Lookup(modelID string) (*Descriptor, Model, bool) {
	ref, ok := c.byModel[modelID]
	if !ok {
		return nil, Model{}, false
	}
	p := &c.Providers[ref.provider]
	return p, p.Models[ref.model], true
}

func (c *Catalog) Provider(id string) (*Descriptor, bool) {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// DefaultModel is the first model of the default provider.
func (c *Catalog) DefaultModel() string {
	p, _ := c.Provider(c.Default)
	if p == nil || len(p.Models) == 0 {
		return ""
	}
	return p.Models[0].ID
}

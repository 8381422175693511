package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/basel-ax/imagegate/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultCatalogYAML []byte

//go:embed models_openai.yaml
var openAICatalogYAML []byte

// Catalog is the ordered set of models clients may request
type Catalog struct {
	models []domain.ModelInfo
	index  map[string]int
}

type catalogFile struct {
	Models []domain.ModelInfo `yaml:"models"`
}

// DefaultCatalog returns the built-in Hugging Face catalog
func DefaultCatalog() *Catalog {
	return BuiltinCatalog(BackendHuggingFace)
}

// BuiltinCatalog returns the embedded catalog for a backend
func BuiltinCatalog(backend string) *Catalog {
	data := defaultCatalogYAML
	if backend == BackendOpenAI {
		data = openAICatalogYAML
	}
	c, err := ParseCatalog(data)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog for %s is invalid: %v", backend, err))
	}
	return c
}

// LoadCatalog reads a catalog file; an empty path yields the built-in
// catalog of the backend
func LoadCatalog(path, backend string) (*Catalog, error) {
	if path == "" {
		return BuiltinCatalog(backend), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and checks a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode models file: %w", err)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("models file lists no models")
	}

	c := &Catalog{
		models: make([]domain.ModelInfo, 0, len(f.Models)),
		index:  make(map[string]int, len(f.Models)),
	}
	for i, m := range f.Models {
		m.Key = strings.TrimSpace(m.Key)
		m.BackendID = strings.TrimSpace(m.BackendID)
		if m.Key == "" {
			return nil, fmt.Errorf("model %d: key is required", i+1)
		}
		if m.BackendID == "" {
			return nil, fmt.Errorf("model %q: id is required", m.Key)
		}
		if _, dup := c.index[m.Key]; dup {
			return nil, fmt.Errorf("model %q is listed twice", m.Key)
		}
		if m.DisplayName == "" {
			m.DisplayName = m.Key
		}
		c.index[m.Key] = len(c.models)
		c.models = append(c.models, m)
	}
	return c, nil
}

// Lookup returns the model registered under key
func (c *Catalog) Lookup(key string) (domain.ModelInfo, bool) {
	i, ok := c.index[key]
	if !ok {
		return domain.ModelInfo{}, false
	}
	return c.models[i], true
}

// Keys returns model keys in catalog order
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.models))
	for i, m := range c.models {
		keys[i] = m.Key
	}
	return keys
}

// Models returns a copy of the catalog entries in order
func (c *Catalog) Models() []domain.ModelInfo {
	return append([]domain.ModelInfo(nil), c.models...)
}

// Default returns the model used when a request names none: preferred when it
// is in the catalog, the first entry otherwise.
func (c *Catalog) Default(preferred string) domain.ModelInfo {
	if m, ok := c.Lookup(preferred); ok {
		return m
	}
	return c.models[0]
}

package detection

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ModelNone is the reserved model name meaning "skip detection".
const ModelNone = "None"

// Model describes one detection model offered by sage.
type Model struct {
	Name     string                 `yaml:"name"`
	Endpoint string                 `yaml:"endpoint"`
	Input    map[string]interface{} `yaml:"input,omitempty"`
}

// Catalog is the site's set of usable detection models, loaded from a
// YAML file at startup.
type Catalog struct {
	byName map[string]Model
}

type catalogFile struct {
	Models []Model `yaml:"models"`
}

// LoadCatalog reads the model catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read detection model catalog")
	}

	var file catalogFile
	if err = yaml.Unmarshal(buf, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse detection model catalog")
	}

	return NewCatalog(file.Models...), nil
}

// NewCatalog builds a catalog from explicit models.
func NewCatalog(models ...Model) *Catalog {
	byName := make(map[string]Model, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}
	return &Catalog{byName: byName}
}

// Get returns the named model.
func (c *Catalog) Get(name string) (Model, bool) {
	m, ok := c.byName[name]
	return m, ok
}

// Names lists the known model names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

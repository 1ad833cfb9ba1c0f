package generator

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultCatalogYAML []byte

// Catalog is the set of titles and story bodies the stub generator draws from.
type Catalog struct {
	Titles  []string `yaml:"titles"`
	Stories []string `yaml:"stories"`
}

// DefaultCatalog parses the catalogue compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalogue file from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read story catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a catalogue with strict field checking. Unknown keys
// are rejected and both lists must be non-empty.
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&catalog); err != nil {
		return nil, fmt.Errorf("failed to parse story catalog: %w", err)
	}

	if len(catalog.Titles) == 0 {
		return nil, fmt.Errorf("story catalog missing required field: titles")
	}
	if len(catalog.Stories) == 0 {
		return nil, fmt.Errorf("story catalog missing required field: stories")
	}

	return &catalog, nil
}

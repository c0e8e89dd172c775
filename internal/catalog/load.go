package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultDefinitions []byte

// Definitions is the on-disk shape of a catalog file.
type Definitions struct {
	Features []Feature `yaml:"features" json:"features"`
	Plans    []Plan    `yaml:"plans" json:"plans"`
}

// LoadDefault loads the catalogs compiled into the binary.
func LoadDefault() (*FeatureCatalog, *PlanCatalog, error) {
	var defs Definitions
	if err := yaml.Unmarshal(defaultDefinitions, &defs); err != nil {
		return nil, nil, fmt.Errorf("%w: failed to parse embedded catalog: %v", ErrConfig, err)
	}
	return Load(defs)
}

// LoadFile loads catalogs from a YAML or JSON file. The format is chosen by extension,
// defaulting to YAML.
func LoadFile(path string) (*FeatureCatalog, *PlanCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var defs Definitions
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := json.Unmarshal(data, &defs); err != nil {
			return nil, nil, fmt.Errorf("%w: failed to parse JSON catalog: %v", ErrConfig, err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&defs); err != nil {
			return nil, nil, fmt.Errorf("%w: failed to parse YAML catalog: %v", ErrConfig, err)
		}
	}

	return Load(defs)
}

// Load builds both catalogs from already-decoded definitions.
func Load(defs Definitions) (*FeatureCatalog, *PlanCatalog, error) {
	features, err := LoadFeatures(defs.Features)
	if err != nil {
		return nil, nil, err
	}

	plans, err := LoadPlans(features, defs.Plans)
	if err != nil {
		return nil, nil, err
	}

	return features, plans, nil
}

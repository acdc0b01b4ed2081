package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maltedev/supplier-scraper/internal/models"
	"gopkg.in/yaml.v3"
)

// DefaultSupplier is the supplier selected when nothing else is configured.
const DefaultSupplier = "Scooter Center"

// Selectors maps a field to the selector expression used to extract it.
type Selectors map[models.Field]string

// Supplier describes the extraction rules for one supplier storefront.
type Supplier struct {
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Selectors   Selectors `json:"selectors" yaml:"selectors"`
}

// RuleSet maps supplier names to their extraction rules.
type RuleSet struct {
	Suppliers map[string]Supplier `json:"suppliers" yaml:"suppliers"`
}

// Default returns the built-in rule set so the scraper works without configuration.
func Default() *RuleSet {
	return &RuleSet{
		Suppliers: map[string]Supplier{
			DefaultSupplier: {
				Description: "Scooter Center storefront",
				Selectors: Selectors{
					models.FieldTitle:       ".p-name h1 a",
					models.FieldProductCode: ".model-name",
					models.FieldPrice:       ".product-price span",
					models.FieldDescription: ".product-description, .desc",
					models.FieldStockLevel:  ".detail-versand",
				},
			},
		},
	}
}

// Lookup returns the selectors for supplier. The second result is false when
// the rule set has no entry for it.
func (rs *RuleSet) Lookup(supplier string) (Selectors, bool) {
	if rs == nil || rs.Suppliers == nil {
		return nil, false
	}
	s, ok := rs.Suppliers[supplier]
	if !ok {
		return nil, false
	}
	return s.Selectors, true
}

// Names returns the supplier names in sorted order.
func (rs *RuleSet) Names() []string {
	if rs == nil {
		return nil
	}
	names := make([]string, 0, len(rs.Suppliers))
	for name := range rs.Suppliers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy so callers can hand out a rule set that stays
// read-only for the duration of a batch.
func (rs *RuleSet) Clone() *RuleSet {
	if rs == nil {
		return nil
	}
	out := &RuleSet{Suppliers: make(map[string]Supplier, len(rs.Suppliers))}
	for name, s := range rs.Suppliers {
		sel := make(Selectors, len(s.Selectors))
		for f, expr := range s.Selectors {
			sel[f] = expr
		}
		out.Suppliers[name] = Supplier{Description: s.Description, Selectors: sel}
	}
	return out
}

// Validate checks supplier names and field names.
func (rs *RuleSet) Validate() error {
	if rs == nil || len(rs.Suppliers) == 0 {
		return fmt.Errorf("rule set has no suppliers")
	}
	for name, s := range rs.Suppliers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("rule set contains a supplier with an empty name")
		}
		for f := range s.Selectors {
			if !f.IsKnown() {
				return fmt.Errorf("supplier %q: unknown field %q", name, f)
			}
		}
	}
	return nil
}

// Parse decodes a rule set from JSON.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules json: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// ParseYAML decodes a rule set from YAML.
func ParseYAML(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Load reads a rule file. Files ending in .yaml or .yml are decoded as YAML,
// everything else as JSON.
func Load(path string) (*RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(b)
	default:
		return Parse(b)
	}
}

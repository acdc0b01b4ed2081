package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maltedev/supplier-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	rs := Default()
	require.NoError(t, rs.Validate())

	sel, ok := rs.Lookup(DefaultSupplier)
	require.True(t, ok)
	assert.Equal(t, ".p-name h1 a", sel[models.FieldTitle])
	assert.Equal(t, ".product-description, .desc", sel[models.FieldDescription])
	assert.Equal(t, []string{DefaultSupplier}, rs.Names())
}

func TestLookup(t *testing.T) {
	rs := Default()

	_, ok := rs.Lookup("Unknown Supplier")
	assert.False(t, ok)

	var nilSet *RuleSet
	_, ok = nilSet.Lookup(DefaultSupplier)
	assert.False(t, ok)
}

func TestCloneIsIndependent(t *testing.T) {
	rs := Default()
	clone := rs.Clone()

	clone.Suppliers[DefaultSupplier].Selectors[models.FieldTitle] = "h1"

	sel, _ := rs.Lookup(DefaultSupplier)
	assert.Equal(t, ".p-name h1 a", sel[models.FieldTitle])
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:  "Valid rule set",
			input: `{"suppliers":{"Acme":{"description":"Acme shop","selectors":{"title":"h1","price":".price"}}}}`,
		},
		{
			name:    "Unknown field",
			input:   `{"suppliers":{"Acme":{"selectors":{"colour":".c"}}}}`,
			wantErr: `unknown field "colour"`,
		},
		{
			name:    "No suppliers",
			input:   `{"suppliers":{}}`,
			wantErr: "no suppliers",
		},
		{
			name:    "Malformed json",
			input:   `{"suppliers":`,
			wantErr: "parse rules json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := Parse([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			sel, ok := rs.Lookup("Acme")
			require.True(t, ok)
			assert.Equal(t, "h1", sel[models.FieldTitle])
			assert.Equal(t, "", sel[models.FieldDescription])
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"suppliers":{"Acme":{"selectors":{"title":"h1"}}}}`), 0644))

	yamlPath := filepath.Join(dir, "rules.yaml")
	yamlDoc := "suppliers:\n  Acme:\n    description: Acme shop\n    selectors:\n      title: h1\n      stockLevel: .stock\n"
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlDoc), 0644))

	rs, err := Load(jsonPath)
	require.NoError(t, err)
	sel, _ := rs.Lookup("Acme")
	assert.Equal(t, "h1", sel[models.FieldTitle])

	rs, err = Load(yamlPath)
	require.NoError(t, err)
	sel, _ = rs.Lookup("Acme")
	assert.Equal(t, ".stock", sel[models.FieldStockLevel])
	assert.Equal(t, "Acme shop", rs.Suppliers["Acme"].Description)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "read rules file")
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"gopkg.in/yaml.v3"
)

// importPlan is the on-disk YAML description of an import. Flags given on
// the command line override its scalar settings.
type importPlan struct {
	Model      string          `yaml:"model"`
	Policy     string          `yaml:"policy"`
	BatchSize  int             `yaml:"batch_size"`
	SkipErrors bool            `yaml:"skip_errors"`
	Mappings   []columnMapping `yaml:"mappings"`
	Options    planOptions     `yaml:"options"`
}

type columnMapping struct {
	Column  string `yaml:"column"`
	Field   string `yaml:"field"`
	Default string `yaml:"default"`
}

type planOptions struct {
	ValidationLevel string `yaml:"validation_level"`
	SkipDuplicates  bool   `yaml:"skip_duplicates"`
	UpdateExisting  bool   `yaml:"update_existing"`
	ContinueOnError bool   `yaml:"continue_on_error"`
}

func loadPlan(path string) (*importPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return parsePlan(data)
}

func parsePlan(data []byte) (*importPlan, error) {
	var p importPlan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	seen := make(map[string]bool, len(p.Mappings))
	for i, m := range p.Mappings {
		col := strings.TrimSpace(m.Column)
		if col == "" {
			return nil, fmt.Errorf("mapping %d: column is required", i+1)
		}
		if seen[col] {
			return nil, fmt.Errorf("column %q mapped more than once", col)
		}
		seen[col] = true
		p.Mappings[i].Column = col
		p.Mappings[i].Field = strings.TrimSpace(m.Field)
	}
	return &p, nil
}

// fieldMappings converts the plan's mappings for Pipeline.SetMapping.
func (p *importPlan) fieldMappings() []accounting.FieldMapping {
	out := make([]accounting.FieldMapping, 0, len(p.Mappings))
	for _, m := range p.Mappings {
		out = append(out, accounting.FieldMapping{Column: m.Column, Field: m.Field, DefaultValue: m.Default})
	}
	return out
}

func (p *importPlan) importOptions() accounting.ImportOptions {
	return accounting.ImportOptions{
		ValidationLevel: p.Options.ValidationLevel,
		SkipDuplicates:  p.Options.SkipDuplicates,
		UpdateExisting:  p.Options.UpdateExisting,
		ContinueOnError: p.Options.ContinueOnError,
	}
}

// planFromMappings renders the current mapping of a session as a plan, so
// a suggested mapping can be saved, edited and replayed.
func planFromMappings(model string, ms []accounting.FieldMapping) ([]byte, error) {
	p := importPlan{Model: model}
	for _, m := range ms {
		if m.Field == "" && m.DefaultValue == "" {
			continue
		}
		p.Mappings = append(p.Mappings, columnMapping{Column: m.Column, Field: m.Field, Default: m.DefaultValue})
	}
	return yaml.Marshal(&p)
}

package core

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

// FetchSuggestions asks the backend for ranked column suggestions. A failed
// fetch is logged and yields an empty list; suggestions are optional.
func (p *Pipeline) FetchSuggestions(ctx context.Context) []accounting.Suggestion {
	p.mu.Lock()
	if err := p.checkLocked("fetch suggestions for", StateCreated, StateMapped, StatePreviewed); err != nil {
		p.mu.Unlock()
		return nil
	}
	token := p.info.Token
	p.mu.Unlock()

	sugs, err := p.backend.Suggestions(ctx, token)
	if err != nil {
		p.logger.Warn("mapping suggestions unavailable", "error", err)
		sugs = nil
	}

	p.mu.Lock()
	p.suggestions = sugs
	p.mu.Unlock()
	return slices.Clone(sugs)
}

// ApplySuggestions maps every column whose best fetched suggestion has a
// confidence above the configured threshold, overwriting that column's
// current target. A field held by another column is never taken from it,
// and no field is assigned twice. It returns the number of columns changed.
func (p *Pipeline) ApplySuggestions() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkLocked("apply suggestions to", StateCreated, StateMapped, StatePreviewed); err != nil {
		return 0, err
	}

	ranked := slices.Clone(p.suggestions)
	slices.SortStableFunc(ranked, func(a, b accounting.Suggestion) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})

	decided := make(map[int]bool)
	applied := 0
	for _, s := range ranked {
		if s.Confidence <= p.cfg.SuggestionThreshold || s.Field == "" {
			continue
		}
		if len(p.meta.Fields) > 0 {
			if _, ok := p.meta.Field(s.Field); !ok {
				continue
			}
		}
		i := p.columnIndexLocked(s.Column)
		if i < 0 || decided[i] {
			continue
		}
		if j := p.fieldHolderLocked(s.Field); j >= 0 && j != i {
			continue
		}
		decided[i] = true
		if p.mappings[i].Field == s.Field {
			continue
		}
		p.mappings[i].Field = s.Field
		applied++
	}

	if applied > 0 {
		p.mappingRev++
		p.state = StateMapped
	}
	return applied, nil
}

// fieldHolderLocked returns the index of the column mapped to field, or -1.
func (p *Pipeline) fieldHolderLocked(field string) int {
	for i, m := range p.mappings {
		if m.Field == field {
			return i
		}
	}
	return -1
}

// SetMapping replaces the whole mapping. Columns absent from ms become
// unmapped. It is a local update; nothing is sent to the backend.
func (p *Pipeline) SetMapping(ms []accounting.FieldMapping) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkLocked("change the mapping of", StateCreated, StateMapped, StatePreviewed); err != nil {
		return err
	}

	next := make([]accounting.FieldMapping, len(p.mappings))
	for i, m := range p.mappings {
		next[i] = accounting.FieldMapping{Column: m.Column}
	}
	seen := make(map[string]bool, len(ms))
	for _, m := range ms {
		i := p.columnIndexLocked(m.Column)
		if i < 0 {
			return fmt.Errorf("unknown column %q", m.Column)
		}
		if seen[m.Column] {
			return fmt.Errorf("column %q mapped more than once", m.Column)
		}
		seen[m.Column] = true
		next[i] = m
	}
	if err := p.validateTargetsLocked(next); err != nil {
		return err
	}

	p.mappings = next
	p.mappingRev++
	p.state = StateMapped
	return nil
}

// MapColumn changes the mapping of one column. An empty field unmaps it.
func (p *Pipeline) MapColumn(column, field, defaultValue string) error {
	p.mu.Lock()
	ms := slices.Clone(p.mappings)
	p.mu.Unlock()

	found := false
	for i := range ms {
		if ms[i].Column == column {
			ms[i].Field, ms[i].DefaultValue = field, defaultValue
			found = true
		}
	}
	if !found {
		return fmt.Errorf("unknown column %q", column)
	}
	return p.SetMapping(ms)
}

// Mappings returns a copy of the current mapping, one entry per column.
func (p *Pipeline) Mappings() []accounting.FieldMapping {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.mappings)
}

// UnmappedRequired lists required target fields no column maps to.
func (p *Pipeline) UnmappedRequired() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unmappedLocked()
}

func (p *Pipeline) unmappedLocked() []string {
	mapped := make(map[string]bool, len(p.mappings))
	for _, m := range p.mappings {
		if m.Field != "" {
			mapped[m.Field] = true
		}
	}
	var missing []string
	for _, f := range p.meta.RequiredFields() {
		if !mapped[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

// activeMappingsLocked returns the entries that target a field.
func (p *Pipeline) activeMappingsLocked() []accounting.FieldMapping {
	out := make([]accounting.FieldMapping, 0, len(p.mappings))
	for _, m := range p.mappings {
		if m.Field != "" {
			out = append(out, m)
		}
	}
	return out
}

func (p *Pipeline) columnIndexLocked(column string) int {
	return slices.IndexFunc(p.mappings, func(m accounting.FieldMapping) bool {
		return m.Column == column
	})
}

func (p *Pipeline) validateTargetsLocked(ms []accounting.FieldMapping) error {
	targets := make(map[string]string, len(ms))
	for _, m := range ms {
		if m.Field == "" {
			continue
		}
		if len(p.meta.Fields) > 0 {
			if _, ok := p.meta.Field(m.Field); !ok {
				return fmt.Errorf("unknown field %q for model %s", m.Field, p.meta.Model)
			}
		}
		if prev, dup := targets[m.Field]; dup {
			return fmt.Errorf("field %q is mapped from both %q and %q", m.Field, prev, m.Column)
		}
		targets[m.Field] = m.Column
	}
	return nil
}

package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

// TemplateMatchThreshold is the minimum header overlap for a template to be offered.
const TemplateMatchThreshold = 0.5

// MappingTemplate is a saved column mapping for a model.
type MappingTemplate struct {
	ID        string                    `json:"id"`
	Model     string                    `json:"model"`
	Name      string                    `json:"name"`
	Mappings  []accounting.FieldMapping `json:"mappings"`
	Headers   []string                  `json:"headers"`
	CreatedAt time.Time                 `json:"createdAt"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

// TemplateMatch is a template scored against a file's headers.
type TemplateMatch struct {
	Template   MappingTemplate `json:"template"`
	MatchScore float64         `json:"matchScore"`
}

// TemplateStore persists mapping templates. Create and Update return
// ErrTemplateExists on a (model, name) clash; Get, Update and Delete return
// ErrTemplateNotFound for unknown ids.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *MappingTemplate) error
	GetTemplate(ctx context.Context, id string) (*MappingTemplate, error)
	ListTemplates(ctx context.Context, model string) ([]MappingTemplate, error)
	UpdateTemplate(ctx context.Context, t *MappingTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
}

// CreateTemplate saves a new mapping template.
func (s *Service) CreateTemplate(ctx context.Context, model, name string, mappings []accounting.FieldMapping, headers []string) (*MappingTemplate, error) {
	t := &MappingTemplate{
		Model:    model,
		Name:     strings.TrimSpace(name),
		Mappings: activeOnly(mappings),
		Headers:  headers,
	}
	if err := validateTemplate(t); err != nil {
		return nil, err
	}
	if err := s.templates.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	RecordAudit(ctx, s.audit, AuditEntry{
		Action:  ActionTemplateCreate,
		Model:   model,
		Details: map[string]any{"template_id": t.ID, "name": t.Name},
	})
	return t, nil
}

// SaveSessionAsTemplate stores a session's current mapping under name.
func (s *Service) SaveSessionAsTemplate(ctx context.Context, sessionID, name string) (*MappingTemplate, error) {
	p, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	info := p.Info()
	headers := make([]string, len(info.Columns))
	for i, c := range info.Columns {
		headers[i] = c.Name
	}
	return s.CreateTemplate(ctx, p.Model(), name, p.Mappings(), headers)
}

// GetTemplate retrieves a template by ID.
func (s *Service) GetTemplate(ctx context.Context, id string) (*MappingTemplate, error) {
	return s.templates.GetTemplate(ctx, id)
}

// ListTemplates returns all templates for a model, sorted by name.
func (s *Service) ListTemplates(ctx context.Context, model string) ([]MappingTemplate, error) {
	ts, err := s.templates.ListTemplates(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name < ts[j].Name })
	return ts, nil
}

// UpdateTemplate renames a template and replaces its mapping.
func (s *Service) UpdateTemplate(ctx context.Context, id, name string, mappings []accounting.FieldMapping, headers []string) (*MappingTemplate, error) {
	t, err := s.templates.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Name = strings.TrimSpace(name)
	t.Mappings = activeOnly(mappings)
	if headers != nil {
		t.Headers = headers
	}
	if err := validateTemplate(t); err != nil {
		return nil, err
	}
	if err := s.templates.UpdateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	RecordAudit(ctx, s.audit, AuditEntry{
		Action:  ActionTemplateUpdate,
		Model:   t.Model,
		Details: map[string]any{"template_id": t.ID, "name": t.Name},
	})
	return t, nil
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	t, err := s.templates.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	if err := s.templates.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	RecordAudit(ctx, s.audit, AuditEntry{
		Action:  ActionTemplateDelete,
		Model:   t.Model,
		Details: map[string]any{"template_id": id, "name": t.Name},
	})
	return nil
}

// MatchTemplates finds templates whose headers overlap the given ones by at
// least TemplateMatchThreshold, best match first.
func (s *Service) MatchTemplates(ctx context.Context, model string, headers []string) ([]TemplateMatch, error) {
	templates, err := s.ListTemplates(ctx, model)
	if err != nil {
		return nil, err
	}

	var matches []TemplateMatch
	for _, t := range templates {
		score := matchTemplateHeaders(headers, t.Headers)
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{Template: t, MatchScore: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches, nil
}

// ApplyTemplate maps a session's columns from a template. Template columns
// are matched to file columns by normalized header; columns the template
// does not mention keep their current mapping. Returns the number of
// columns the template mapped.
func (s *Service) ApplyTemplate(ctx context.Context, sessionID, templateID string) (int, error) {
	p, err := s.Session(sessionID)
	if err != nil {
		return 0, err
	}
	t, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return 0, err
	}
	if t.Model != p.Model() {
		return 0, fmt.Errorf("%w: %q is for %s, not %s", ErrInvalidTemplate, t.Name, t.Model, p.Model())
	}

	byHeader := make(map[string]accounting.FieldMapping, len(t.Mappings))
	for _, m := range t.Mappings {
		byHeader[normalizeHeader(m.Column)] = m
	}

	current := p.Mappings()
	applied := 0
	for i, m := range current {
		if tm, ok := byHeader[normalizeHeader(m.Column)]; ok {
			current[i].Field, current[i].DefaultValue = tm.Field, tm.DefaultValue
			applied++
		}
	}
	if err := p.SetMapping(current); err != nil {
		return 0, err
	}
	return applied, nil
}

// matchTemplateHeaders is the share of template headers present in headers.
func matchTemplateHeaders(headers, templateHeaders []string) float64 {
	if len(templateHeaders) == 0 {
		return 0
	}
	set := make(map[string]bool, len(headers))
	for _, h := range headers {
		set[normalizeHeader(h)] = true
	}
	matched := 0
	for _, h := range templateHeaders {
		if set[normalizeHeader(h)] {
			matched++
		}
	}
	return float64(matched) / float64(len(templateHeaders))
}

// normalizeHeader strips spreadsheet quoting so "=""Name""" and " name " compare equal.
func normalizeHeader(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	}
	return strings.ToLower(strings.Trim(s, `"'`))
}

func validateTemplate(t *MappingTemplate) error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if t.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidTemplate)
	}
	if len(t.Mappings) == 0 {
		return fmt.Errorf("%w: %q maps no columns", ErrInvalidTemplate, t.Name)
	}
	return nil
}

func activeOnly(ms []accounting.FieldMapping) []accounting.FieldMapping {
	out := make([]accounting.FieldMapping, 0, len(ms))
	for _, m := range ms {
		if m.Field != "" {
			out = append(out, m)
		}
	}
	return out
}

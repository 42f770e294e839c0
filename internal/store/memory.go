package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/core"
	"github.com/google/uuid"
)

// MemoryAudit keeps audit entries in process memory. Entries are lost on
// restart.
type MemoryAudit struct {
	mu      sync.RWMutex
	entries []core.AuditEntry
}

// NewMemoryAudit creates an empty in-memory audit store.
func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

// Append stores a copy of e, assigning ID and CreatedAt when empty.
func (m *MemoryAudit) Append(_ context.Context, e *core.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.entries = append(m.entries, *e)
	m.mu.Unlock()
	return nil
}

// List returns entries matching f, newest first.
func (m *MemoryAudit) List(_ context.Context, f core.AuditFilter) ([]core.AuditEntry, error) {
	m.mu.RLock()
	var out []core.AuditEntry
	for _, e := range m.entries {
		if f.Model != "" && e.Model != f.Model {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	start := min(max(f.Offset, 0), len(out))
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return out[start:min(start+limit, len(out))], nil
}

// Get returns one entry, or core.ErrEntryNotFound.
func (m *MemoryAudit) Get(_ context.Context, id string) (*core.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, core.ErrEntryNotFound
}

// MemoryTemplates keeps mapping templates in process memory.
type MemoryTemplates struct {
	mu   sync.RWMutex
	byID map[string]core.MappingTemplate
}

// NewMemoryTemplates creates an empty in-memory template store.
func NewMemoryTemplates() *MemoryTemplates {
	return &MemoryTemplates{byID: make(map[string]core.MappingTemplate)}
}

func (m *MemoryTemplates) nameTakenLocked(t *core.MappingTemplate) bool {
	for id, x := range m.byID {
		if id != t.ID && x.Model == t.Model && x.Name == t.Name {
			return true
		}
	}
	return false
}

// CreateTemplate stores t and fills in its ID and timestamps.
func (m *MemoryTemplates) CreateTemplate(_ context.Context, t *core.MappingTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nameTakenLocked(t) {
		return core.ErrTemplateExists
	}
	t.ID = uuid.NewString()
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	m.byID[t.ID] = cloneTemplate(*t)
	return nil
}

// GetTemplate returns a copy of a template, or core.ErrTemplateNotFound.
func (m *MemoryTemplates) GetTemplate(_ context.Context, id string) (*core.MappingTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, core.ErrTemplateNotFound
	}
	c := cloneTemplate(t)
	return &c, nil
}

// ListTemplates returns every template for model, sorted by name.
func (m *MemoryTemplates) ListTemplates(_ context.Context, model string) ([]core.MappingTemplate, error) {
	m.mu.RLock()
	var out []core.MappingTemplate
	for _, t := range m.byID {
		if t.Model == model {
			out = append(out, cloneTemplate(t))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateTemplate replaces a stored template.
func (m *MemoryTemplates) UpdateTemplate(_ context.Context, t *core.MappingTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.byID[t.ID]
	if !ok {
		return core.ErrTemplateNotFound
	}
	if m.nameTakenLocked(t) {
		return core.ErrTemplateExists
	}
	t.CreatedAt = prev.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	m.byID[t.ID] = cloneTemplate(*t)
	return nil
}

// DeleteTemplate removes a template.
func (m *MemoryTemplates) DeleteTemplate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return core.ErrTemplateNotFound
	}
	delete(m.byID, id)
	return nil
}

func cloneTemplate(t core.MappingTemplate) core.MappingTemplate {
	t.Mappings = slices.Clone(t.Mappings)
	t.Headers = slices.Clone(t.Headers)
	return t
}

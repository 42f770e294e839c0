package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/config"
	"github.com/google/uuid"
)

// Controller holds one model's visible entity list, the user's selection
// over it and the last validation and result.
type Controller struct {
	id        string
	model     string
	backend   Backend
	cfg       config.BulkConfig
	rules     Rules
	logger    *slog.Logger
	createdAt time.Time

	mu             sync.Mutex
	entities       []accounting.Entity
	page           int
	total          int
	selection      *Selection
	processing     bool
	stale          bool
	lastValidation *Validation
	lastResult     *Result
	lastActivity   time.Time
}

// NewController creates a controller with an empty list. A nil rules uses
// DefaultRules.
func NewController(model string, backend Backend, cfg config.BulkConfig, rules Rules) *Controller {
	if rules == nil {
		rules = DefaultRules()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	now := time.Now()
	id := uuid.NewString()
	return &Controller{
		id:           id,
		model:        model,
		backend:      backend,
		cfg:          cfg,
		rules:        rules,
		logger:       slog.Default().With(slog.String("bulk_id", id), slog.String("model", model)),
		createdAt:    now,
		page:         1,
		selection:    NewSelection(nil),
		lastActivity: now,
	}
}

// ID returns the controller's id.
func (c *Controller) ID() string { return c.id }

// Model returns the entity model this controller operates on.
func (c *Controller) Model() string { return c.model }

// Load replaces the visible list. Selected ids no longer visible are dropped.
func (c *Controller) Load(entities []accounting.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(entities)
	c.total = len(entities)
}

func (c *Controller) loadLocked(entities []accounting.Entity) {
	c.entities = append([]accounting.Entity(nil), entities...)
	ids := make([]accounting.EntityID, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	c.selection.SetVisible(ids)
	c.stale = false
	c.lastActivity = time.Now()
}

// Refresh reloads the current page from the backend.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()
	return c.LoadPage(ctx, page)
}

// LoadPage fetches one page of the entity list and makes it visible.
func (c *Controller) LoadPage(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	res, err := c.backend.ListEntities(ctx, c.model, page, c.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("list %s: %w", c.model, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(res.Items)
	c.page = page
	if res.Page > 0 {
		c.page = res.Page
	}
	c.total = max(res.Total, len(res.Items))
	return nil
}

// Toggle flips the selection of one visible entity.
func (c *Controller) Toggle(id accounting.EntityID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing {
		return ErrBusy
	}
	c.lastActivity = time.Now()
	return c.selection.Toggle(id)
}

// ToggleAll inverts the selection against the visible list. An empty
// selection becomes full and a full one empty; a partial selection is
// inverted, so {a} of {a, b, c} becomes {b, c}.
func (c *Controller) ToggleAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing {
		return ErrBusy
	}
	c.lastActivity = time.Now()
	c.selection.ToggleAll()
	return nil
}

// Selected returns the selected ids in list order.
func (c *Controller) Selected() []accounting.EntityID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection.IDs()
}

// Hints applies the local eligibility rules for op to every visible entity.
// The result is for display only.
func (c *Controller) Hints(op Operation) map[accounting.EntityID]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[accounting.EntityID]string)
	for _, e := range c.entities {
		if ok, reason := c.rules.Check(op, e); !ok {
			out[e.ID] = reason
		}
	}
	return out
}

// begin claims the controller for a backend call and returns the selection.
func (c *Controller) begin() ([]accounting.EntityID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing {
		return nil, ErrBusy
	}
	ids := c.selection.IDs()
	if len(ids) == 0 {
		return nil, ErrEmptySelection
	}
	c.processing = true
	c.lastActivity = time.Now()
	return ids, nil
}

// Validate asks the backend which selected entities are eligible for op.
// The answer is advisory and replaces the previous validation.
func (c *Controller) Validate(ctx context.Context, op Operation) (*Validation, error) {
	ids, err := c.begin()
	if err != nil {
		return nil, err
	}

	res, err := c.backend.BulkValidate(ctx, c.model, accounting.BulkRequest{
		Operation: string(op),
		IDs:       ids,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing = false
	if err != nil {
		c.logger.Warn("bulk validate failed", "operation", op, "selected", len(ids), "error", err)
		return nil, fmt.Errorf("validate %s: %w", op, err)
	}
	v := toValidation(op, len(ids), res, time.Now())
	c.lastValidation = &v
	return &v, nil
}

// Execute runs op over the whole selection, not just the ids validation
// called eligible. The selection is cleared and the list marked stale
// whatever the outcome. A failed call returns an error and no result;
// per-item failures are part of a normal result.
func (c *Controller) Execute(ctx context.Context, op Operation, opts Options) (*Result, error) {
	ids, err := c.begin()
	if err != nil {
		return nil, err
	}

	skip := c.cfg.SkipIneligible
	if opts.SkipIneligible != nil {
		skip = *opts.SkipIneligible
	}
	started := time.Now()

	out, err := c.backend.BulkExecute(ctx, c.model, accounting.BulkRequest{
		Operation: string(op),
		IDs:       ids,
		Options:   opts.payload(op, skip),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing = false
	c.selection.Clear()
	c.stale = true
	c.lastValidation = nil
	if err != nil {
		c.logger.Warn("bulk execute failed", "operation", op, "selected", len(ids), "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := reconcile(op, ids, out, skip)
	res.StartedAt, res.CompletedAt = started, time.Now()
	c.lastResult = &res
	c.logger.Info("bulk operation completed",
		"operation", op,
		"selected", res.Selected,
		"successful", res.Successful,
		"failed", res.Failed,
		"skipped", res.Skipped)
	return &res, nil
}

// Processing reports whether a backend call is in flight.
func (c *Controller) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Stale reports whether the list changed server-side since it was loaded.
func (c *Controller) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// LastActivity is the time of the most recent user-driven operation.
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Snapshot is a point-in-time copy of a controller's state.
type Snapshot struct {
	ID             string                `json:"id"`
	Model          string                `json:"model"`
	Entities       []accounting.Entity   `json:"entities"`
	Page           int                   `json:"page"`
	Total          int                   `json:"total"`
	Selected       []accounting.EntityID `json:"selected"`
	Processing     bool                  `json:"processing"`
	Stale          bool                  `json:"stale"`
	LastValidation *Validation           `json:"lastValidation,omitempty"`
	LastResult     *Result               `json:"lastResult,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
}

// Snapshot copies the controller's state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:             c.id,
		Model:          c.model,
		Entities:       append([]accounting.Entity(nil), c.entities...),
		Page:           c.page,
		Total:          c.total,
		Selected:       c.selection.IDs(),
		Processing:     c.processing,
		Stale:          c.stale,
		LastValidation: c.lastValidation,
		LastResult:     c.lastResult,
		CreatedAt:      c.createdAt,
	}
}

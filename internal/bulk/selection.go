package bulk

import (
	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
)

// Selection is a set of ids drawn from a visible list. It is not safe for
// concurrent use; Controller guards it.
type Selection struct {
	visible []accounting.EntityID
	index   map[accounting.EntityID]bool
	chosen  map[accounting.EntityID]bool
}

// NewSelection creates an empty selection over visible.
func NewSelection(visible []accounting.EntityID) *Selection {
	s := &Selection{chosen: make(map[accounting.EntityID]bool)}
	s.SetVisible(visible)
	return s
}

// SetVisible replaces the visible list and drops chosen ids that are no
// longer in it.
func (s *Selection) SetVisible(visible []accounting.EntityID) {
	s.visible = s.visible[:0]
	s.index = make(map[accounting.EntityID]bool, len(visible))
	for _, id := range visible {
		if !s.index[id] {
			s.index[id] = true
			s.visible = append(s.visible, id)
		}
	}
	for id := range s.chosen {
		if !s.index[id] {
			delete(s.chosen, id)
		}
	}
}

// Toggle flips one id. Ids outside the visible list are rejected.
func (s *Selection) Toggle(id accounting.EntityID) error {
	if !s.index[id] {
		return ErrUnknownEntity
	}
	if s.chosen[id] {
		delete(s.chosen, id)
	} else {
		s.chosen[id] = true
	}
	return nil
}

// ToggleAll inverts the selection against the visible list: an empty
// selection becomes full and a full one becomes empty. A partial selection
// is inverted rather than cleared or filled. Applying it twice always
// restores the original selection.
func (s *Selection) ToggleAll() {
	for _, id := range s.visible {
		if s.chosen[id] {
			delete(s.chosen, id)
		} else {
			s.chosen[id] = true
		}
	}
}

// Clear empties the selection.
func (s *Selection) Clear() { clear(s.chosen) }

// Has reports whether id is selected.
func (s *Selection) Has(id accounting.EntityID) bool { return s.chosen[id] }

// Len is the number of selected ids.
func (s *Selection) Len() int { return len(s.chosen) }

// IDs returns the selected ids in visible-list order.
func (s *Selection) IDs() []accounting.EntityID {
	out := make([]accounting.EntityID, 0, len(s.chosen))
	for _, id := range s.visible {
		if s.chosen[id] {
			out = append(out, id)
		}
	}
	return out
}

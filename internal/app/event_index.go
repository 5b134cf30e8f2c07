package app

import (
	"sync"

	"polyhawk/clients/polymarketapi"
)

// EventMetadata is the display metadata attached to a whale alert.
type EventMetadata struct {
	Title    string
	Slug     string
	EventID  string
	Category string
	Icon     string
}

// EventIndex maps every identifier a trade may carry (condition ID, market
// ID, asset ID, CLOB token IDs) to the metadata of the owning event.
type EventIndex struct {
	mu   sync.RWMutex
	byID map[string]*EventMetadata
}

func NewEventIndex() *EventIndex {
	return &EventIndex{byID: make(map[string]*EventMetadata)}
}

// BuildEventIndex indexes the given events. The same metadata value is
// registered under every candidate key of every market; earlier
// registrations win.
func BuildEventIndex(events []polymarketapi.GammaEvent) *EventIndex {
	ix := NewEventIndex()
	for i := range events {
		ev := &events[i]
		for j := range ev.Markets {
			m := &ev.Markets[j]
			meta := metadataFor(ev, m)
			for _, key := range marketKeys(m) {
				ix.register(key, meta)
			}
		}
	}
	return ix
}

func metadataFor(ev *polymarketapi.GammaEvent, m *polymarketapi.GammaMarket) *EventMetadata {
	title := ev.Title
	if title == "" {
		title = m.Question
	}

	category := ev.FirstTagLabel()
	if category == "" {
		category = ev.Category
	}
	if category == "" {
		category = "Other"
	}

	icon := ev.Icon
	if icon == "" {
		icon = ev.Image
	}
	if icon == "" {
		icon = m.Icon
	}
	if icon == "" {
		icon = m.Image
	}

	return &EventMetadata{
		Title:    title,
		Slug:     ev.Slug,
		EventID:  ev.ID,
		Category: category,
		Icon:     icon,
	}
}

// marketKeys returns every identifier the market can be looked up by.
func marketKeys(m *polymarketapi.GammaMarket) []string {
	keys := make([]string, 0, 4)
	for _, k := range []string{m.ConditionID, m.ID, m.AssetID} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	for _, tok := range m.GetTokenIDs() {
		if tok != "" {
			keys = append(keys, tok)
		}
	}
	return keys
}

func (ix *EventIndex) register(key string, meta *EventMetadata) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.byID[key]; exists {
		return
	}
	ix.byID[key] = meta
}

// Lookup returns the metadata for an identifier.
func (ix *EventIndex) Lookup(id string) (*EventMetadata, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	meta, ok := ix.byID[id]
	return meta, ok
}

// Put memoizes metadata under an identifier, overwriting any previous
// entry. Used for fallback lookup results.
func (ix *EventIndex) Put(id string, meta *EventMetadata) {
	if id == "" || meta == nil {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.byID[id] = meta
}

// Size returns the number of indexed identifiers.
func (ix *EventIndex) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.byID)
}

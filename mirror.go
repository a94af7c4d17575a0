package roomsync

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tablekit/roomsync/pkg/models"
)

// Mirror is the local ordered cache of one collection, kept in lockstep with
// the server via a standing subscription. Only the owning Collection's
// subscription handler mutates it; everything else reads.
type Mirror[T any] struct {
	mu   sync.RWMutex
	docs []models.Document[T]
}

func newMirror[T any](docs []models.Document[T]) *Mirror[T] {
	return &Mirror[T]{docs: docs}
}

func (m *Mirror[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// All returns a copy of the mirrored sequence in its current order.
func (m *Mirror[T]) All() []models.Document[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Document[T], len(m.docs))
	copy(out, m.docs)
	return out
}

// Get returns a copy of the document with the given id, or nil.
func (m *Mirror[T]) Get(id string) *models.Document[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.docs {
		if m.docs[i].ID == id {
			doc := m.docs[i]
			return &doc
		}
	}
	return nil
}

// Find returns copies of every document matching the predicate, in mirror
// order.
func (m *Mirror[T]) Find(pred func(*models.Document[T]) bool) []models.Document[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Document[T]
	for i := range m.docs {
		if pred(&m.docs[i]) {
			out = append(out, m.docs[i])
		}
	}
	return out
}

// First returns a copy of the first document matching the predicate, or nil.
func (m *Mirror[T]) First(pred func(*models.Document[T]) bool) *models.Document[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.docs {
		if pred(&m.docs[i]) {
			doc := m.docs[i]
			return &doc
		}
	}
	return nil
}

func (m *Mirror[T]) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, len(m.docs))
	for i := range m.docs {
		ids[i] = m.docs[i].ID
	}
	return ids
}

// apply patches the mirror in place from one pushed batch, in arrival order.
// Patches preserve position; new documents are inserted at the head. No
// re-sort happens here, only on the initial fetch.
func (m *Mirror[T]) apply(changes []models.Change, logger zerolog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, change := range changes {
		index := -1
		for i := range m.docs {
			if m.docs[i].ID == change.Ref.ID {
				index = i
				break
			}
		}

		if change.Type == models.ChangeRemoved {
			if index >= 0 {
				m.docs = append(m.docs[:index], m.docs[index+1:]...)
			}
			continue
		}

		var doc models.Document[T]
		if err := json.Unmarshal(change.Data, &doc); err != nil {
			logger.Error().Err(err).Str("id", change.Ref.ID).Msg("undecodable change")
			continue
		}
		if doc.IsReservation() {
			continue
		}
		if index >= 0 {
			m.docs[index] = doc
		} else {
			m.docs = append([]models.Document[T]{doc}, m.docs...)
		}
	}
}

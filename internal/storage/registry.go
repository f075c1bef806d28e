package storage

import (
	"sync"

	logx "veloxbot/pkg/logx"
)

// Registry is the single owner of the in-memory subscriber state.
//
// Command handlers and the pipeline share it, so all access goes through
// the RWMutex. Mutations copy the map out under the lock and persist
// outside it; a slow disk write never blocks readers. A failed persist is
// logged but not rolled back: the user already saw the acknowledgement,
// so the in-memory state stays authoritative until the next save.
type Registry struct {
	mu   sync.RWMutex
	subs map[int64]Prefs

	st  Store
	log logx.Logger
}

// NewRegistry loads the persisted subscriber set. A load error is fatal
// at startup; the operator must fix or remove the document.
func NewRegistry(st Store, log logx.Logger) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	subs, err := st.LoadSubscribers()
	if err != nil {
		return nil, err
	}
	return &Registry{subs: subs, st: st, log: log}, nil
}

// Add registers a subscriber with default preferences. It reports whether
// the id was new.
func (r *Registry) Add(id int64) bool {
	r.mu.Lock()
	if _, ok := r.subs[id]; ok {
		r.mu.Unlock()
		return false
	}
	r.subs[id] = DefaultPrefs()
	snapshot := r.copyLocked()
	r.mu.Unlock()

	r.persist(snapshot)
	r.log.Info("subscriber added", logx.Int64("chat_id", id), logx.Int("total", len(snapshot)))
	return true
}

// Remove drops a subscriber. It reports whether the id was present.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	if _, ok := r.subs[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.subs, id)
	snapshot := r.copyLocked()
	r.mu.Unlock()

	r.persist(snapshot)
	r.log.Info("subscriber removed", logx.Int64("chat_id", id), logx.Int("total", len(snapshot)))
	return true
}

// Toggle flips the named preference, creating the subscriber with
// defaults first if unknown. It returns the new value of the field.
func (r *Registry) Toggle(id int64, field PrefField) bool {
	r.mu.Lock()
	p, ok := r.subs[id]
	if !ok {
		p = DefaultPrefs()
	}
	var val bool
	switch field {
	case PrefNotifyNoChange:
		p.NotifyNoChange = !p.NotifyNoChange
		val = p.NotifyNoChange
	case PrefWithImages:
		p.WithImages = !p.WithImages
		val = p.WithImages
	}
	r.subs[id] = p
	snapshot := r.copyLocked()
	r.mu.Unlock()

	r.persist(snapshot)
	r.log.Info("preference toggled",
		logx.Int64("chat_id", id), logx.String("field", field.String()), logx.Bool("value", val))
	return val
}

// Snapshot returns a point-in-time copy safe to iterate while mutations
// continue concurrently.
func (r *Registry) Snapshot() map[int64]Prefs {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Registry) copyLocked() map[int64]Prefs {
	cp := make(map[int64]Prefs, len(r.subs))
	for id, p := range r.subs {
		cp[id] = p
	}
	return cp
}

func (r *Registry) persist(snapshot map[int64]Prefs) {
	if err := r.st.SaveSubscribers(snapshot); err != nil {
		r.log.Error("persisting subscribers failed", logx.Err(err))
	}
}

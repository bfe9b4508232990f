package memory

import "sync"

// Registry is the write-once store of memory records.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register stores r. A memory id can be registered only once.
func (r *Registry) Register(rec *Record) error {
	if rec == nil {
		return &RecordError{Field: "record", Message: "must not be nil"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.memoryID]; ok {
		return &DuplicateError{Code: CodeDuplicate, MemoryID: rec.memoryID}
	}
	r.records[rec.memoryID] = rec
	r.order = append(r.order, rec.memoryID)
	return nil
}

// Get returns the record for id or a NotFoundError.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, notFound(id)
	}
	return rec, nil
}

func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok
}

// All returns every record in registration order.
func (r *Registry) All() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, len(r.order))
	for i, id := range r.order {
		out[i] = r.records[id]
	}
	return out
}

// Snapshot returns a copy of the id to record mapping.
func (r *Registry) Snapshot() map[string]*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Record, len(r.records))
	for id, rec := range r.records {
		out[id] = rec
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/infra/storage"
)

type MemoryStorage struct {
	sessions  map[string]*storage.SessionRecord
	counters  map[string]uint64
	offences  []*domain.Offence
	processed map[domain.EventID]uint64
	ranges    map[domain.InstanceID]domain.ActiveRange
	mu        sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions:  make(map[string]*storage.SessionRecord),
		counters:  make(map[string]uint64),
		processed: make(map[domain.EventID]uint64),
		ranges:    make(map[domain.InstanceID]domain.ActiveRange),
	}
}

// NewStore returns every repository backed by a fresh MemoryStorage.
func NewStore() *storage.Store {
	s := NewMemoryStorage()
	return &storage.Store{
		Sessions:  NewSessionRepo(s),
		Counters:  NewCounterRepo(s),
		Offences:  NewOffenceRepo(s),
		Processed: NewProcessedRepo(s),
		Ranges:    NewRangeRepo(s),
	}
}

func sessionKey(kind domain.ActionKind, id domain.ActionID) string {
	return string(kind) + "|" + id.String()
}

func cloneRecord(rec *storage.SessionRecord) *storage.SessionRecord {
	c := *rec
	c.Session = *rec.Session.Clone()
	c.Payload = append([]byte(nil), rec.Payload...)
	return &c
}

// -----------------------------------------------------------------------------
// Session Repository
// -----------------------------------------------------------------------------

type SessionRepo struct {
	store *MemoryStorage
}

func NewSessionRepo(store *MemoryStorage) *SessionRepo {
	return &SessionRepo{store: store}
}

func (r *SessionRepo) Save(ctx context.Context, rec *storage.SessionRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.sessions[sessionKey(rec.Kind, rec.Session.ActionID)] = cloneRecord(rec)
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, kind domain.ActionKind, id domain.ActionID) (*storage.SessionRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.sessions[sessionKey(kind, id)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (r *SessionRepo) Delete(ctx context.Context, kind domain.ActionKind, id domain.ActionID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.sessions, sessionKey(kind, id))
	return nil
}

func (r *SessionRepo) ListOpen(ctx context.Context, kind domain.ActionKind) ([]*storage.SessionRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*storage.SessionRecord
	for _, rec := range r.store.sessions {
		if rec.Kind == kind && rec.Session.State == domain.SessionOpen {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Session.ActionID.String() < out[j].Session.ActionID.String()
	})
	return out, nil
}

func (r *SessionRepo) DeleteConcludedBefore(ctx context.Context, block uint64) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := 0
	for k, rec := range r.store.sessions {
		if rec.Session.State != domain.SessionOpen && rec.Session.CreatedAt < block {
			delete(r.store.sessions, k)
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Counter Repository
// -----------------------------------------------------------------------------

type CounterRepo struct {
	store *MemoryStorage
}

func NewCounterRepo(store *MemoryStorage) *CounterRepo {
	return &CounterRepo{store: store}
}

func (r *CounterRepo) Get(ctx context.Context, scope, key string) (uint64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.counters[scope+"|"+key], nil
}

func (r *CounterRepo) Set(ctx context.Context, scope, key string, value uint64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.counters[scope+"|"+key] = value
	return nil
}

// -----------------------------------------------------------------------------
// Offence Repository
// -----------------------------------------------------------------------------

type OffenceRepo struct {
	store *MemoryStorage
}

func NewOffenceRepo(store *MemoryStorage) *OffenceRepo {
	return &OffenceRepo{store: store}
}

func (r *OffenceRepo) Exists(ctx context.Context, kind domain.OffenceKind, id domain.ActionID, offender domain.AccountID) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, o := range r.store.offences {
		if o.Kind != kind || o.ActionID != id {
			continue
		}
		for _, a := range o.Offenders {
			if a == offender {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *OffenceRepo) Save(ctx context.Context, o *domain.Offence) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *o
	c.Offenders = append([]domain.AccountID(nil), o.Offenders...)
	r.store.offences = append(r.store.offences, &c)
	return nil
}

func (r *OffenceRepo) List(ctx context.Context) ([]*domain.Offence, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Offence, len(r.store.offences))
	copy(out, r.store.offences)
	return out, nil
}

// -----------------------------------------------------------------------------
// Processed Event Repository
// -----------------------------------------------------------------------------

type ProcessedRepo struct {
	store *MemoryStorage
}

func NewProcessedRepo(store *MemoryStorage) *ProcessedRepo {
	return &ProcessedRepo{store: store}
}

func (r *ProcessedRepo) MarkProcessed(ctx context.Context, id domain.EventID, block uint64) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.processed[id]; ok {
		return false, nil
	}
	r.store.processed[id] = block
	return true, nil
}

func (r *ProcessedRepo) IsProcessed(ctx context.Context, id domain.EventID) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.processed[id]
	return ok, nil
}

func (r *ProcessedRepo) DeleteBefore(ctx context.Context, block uint64) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := 0
	for id, b := range r.store.processed {
		if b < block {
			delete(r.store.processed, id)
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Range Repository
// -----------------------------------------------------------------------------

type RangeRepo struct {
	store *MemoryStorage
}

func NewRangeRepo(store *MemoryStorage) *RangeRepo {
	return &RangeRepo{store: store}
}

func (r *RangeRepo) GetActive(ctx context.Context, instance domain.InstanceID) (*domain.ActiveRange, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ar, ok := r.store.ranges[instance]
	if !ok {
		return nil, nil
	}
	return &ar, nil
}

func (r *RangeRepo) SetActive(ctx context.Context, instance domain.InstanceID, ar domain.ActiveRange) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.ranges[instance] = ar
	return nil
}

func (r *RangeRepo) Clear(ctx context.Context, instance domain.InstanceID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.ranges, instance)
	return nil
}

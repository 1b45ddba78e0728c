package bridge

import (
	"bytes"
	"sort"
	"sync"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

// ValidatorSet is the active validator set. It has its own lock so the voting
// managers can query it while the runtime lock is held.
type ValidatorSet struct {
	mu      sync.RWMutex
	members map[domain.AccountID]struct{}
}

func NewValidatorSet(ids ...domain.AccountID) *ValidatorSet {
	v := &ValidatorSet{members: make(map[domain.AccountID]struct{}, len(ids))}
	for _, id := range ids {
		v.members[id] = struct{}{}
	}
	return v
}

func (v *ValidatorSet) IsValidator(id domain.AccountID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.members[id]
	return ok
}

func (v *ValidatorSet) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.members)
}

func (v *ValidatorSet) Add(id domain.AccountID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.members[id] = struct{}{}
}

func (v *ValidatorSet) Remove(id domain.AccountID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.members, id)
}

// List returns the members in address order.
func (v *ValidatorSet) List() []domain.AccountID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.AccountID, 0, len(v.members))
	for id := range v.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

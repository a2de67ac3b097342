package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"custody-ledger/internal/address"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// ActivityJournal is an in-memory implementation of storage.ActivityJournal.
type ActivityJournal struct {
	mu    sync.RWMutex
	order []*domain.Activity // append order
	ids   map[uuid.UUID]struct{}
}

// NewActivityJournal creates a new in-memory activity journal.
func NewActivityJournal() *ActivityJournal {
	return &ActivityJournal{
		ids: make(map[uuid.UUID]struct{}),
	}
}

// Append adds an activity. Returns ErrDuplicateKey if the ID exists.
func (j *ActivityJournal) Append(_ context.Context, a *domain.Activity) error {
	if a == nil || a.ID == uuid.Nil {
		return storage.ErrInvalidInput
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.ids[a.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *a
	j.order = append(j.order, &copy)
	j.ids[a.ID] = struct{}{}
	return nil
}

// ListByOwner returns an owner's activities, newest first.
func (j *ActivityJournal) ListByOwner(_ context.Context, owner address.Address, limit int) ([]*domain.Activity, error) {
	return j.collect(limit, func(a *domain.Activity) bool { return a.Owner == owner }), nil
}

// ListRecent returns the newest activities across all owners.
func (j *ActivityJournal) ListRecent(_ context.Context, limit int) ([]*domain.Activity, error) {
	return j.collect(limit, func(*domain.Activity) bool { return true }), nil
}

func (j *ActivityJournal) collect(limit int, keep func(*domain.Activity) bool) []*domain.Activity {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*domain.Activity
	for i := len(j.order) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		if keep(j.order[i]) {
			copy := *j.order[i]
			result = append(result, &copy)
		}
	}
	return result
}

var _ storage.ActivityJournal = (*ActivityJournal)(nil)

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/porthorian/sessionguard/pkg/storage"
)

type Adapter struct {
	mu     sync.RWMutex
	events map[string][]storage.LoginEvent
}

var _ storage.Store = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		events: map[string][]storage.LoginEvent{},
	}
}

func (a *Adapter) PutLoginEvent(ctx context.Context, event storage.LoginEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	a.mu.Lock()
	a.events[event.Fingerprint] = append(a.events[event.Fingerprint], event)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) ListLoginEventsByFingerprint(ctx context.Context, fingerprint string) ([]storage.LoginEvent, error) {
	a.mu.RLock()
	stored := a.events[fingerprint]
	events := make([]storage.LoginEvent, len(stored))
	copy(events, stored)
	a.mu.RUnlock()

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
	return events, nil
}

func (a *Adapter) Close() error {
	return nil
}

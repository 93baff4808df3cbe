package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"emotrack-go/internal/types"
)

// MemoryStore is an in-process UnitOfWork for tests and single-node dev.
// Transactions are serialized and roll back by restoring a snapshot; writes
// outside a transaction wait for it so a rollback cannot erase them.
type MemoryStore struct {
	mu        sync.Mutex
	txMu      sync.Mutex
	responses map[int64]types.ResponseRecord
	alerts    []types.AlertRecord
	config    map[string]string
	nextResp  int64
	nextAlert int64
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		responses: map[int64]types.ResponseRecord{},
		config:    map[string]string{},
		now:       time.Now,
	}
}

// SetClock overrides the timestamp source for created records.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

type memorySnapshot struct {
	responses map[int64]types.ResponseRecord
	alerts    []types.AlertRecord
	config    map[string]string
	nextResp  int64
	nextAlert int64
}

func (s *MemoryStore) snapshot() memorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memorySnapshot{
		responses: maps.Clone(s.responses),
		alerts:    append([]types.AlertRecord(nil), s.alerts...),
		config:    maps.Clone(s.config),
		nextResp:  s.nextResp,
		nextAlert: s.nextAlert,
	}
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = snap.responses
	s.alerts = snap.alerts
	s.config = snap.config
	s.nextResp = snap.nextResp
	s.nextAlert = snap.nextAlert
}

func (s *MemoryStore) Transaction(_ context.Context, fn func(tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(memoryTx{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *MemoryStore) GetResponse(_ context.Context, id int64) (*types.ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := r.Clone()
	return &out, nil
}

func (s *MemoryStore) CreateResponse(_ context.Context, r *types.ResponseRecord) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.createResponse(r)
}

func (s *MemoryStore) createResponse(r *types.ResponseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextResp++
	r.ID = s.nextResp
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.responses[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, r *types.ResponseRecord) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.saveResponse(r)
}

func (s *MemoryStore) saveResponse(r *types.ResponseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.responses[r.ID]; !ok {
		return fmt.Errorf("save response %d: %w", r.ID, ErrNotFound)
	}
	s.responses[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) RecentResponses(_ context.Context, childID int64, limit int) ([]types.ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.ResponseRecord
	for _, r := range s.responses {
		if r.ChildID != nil && *r.ChildID == childID && r.Status == types.StatusCompleted {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) CreateAlert(_ context.Context, a *types.AlertRecord) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.createAlert(a)
}

func (s *MemoryStore) createAlert(a *types.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAlert++
	a.ID = s.nextAlert
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	s.alerts = append(s.alerts, *a)
	return nil
}

func (s *MemoryStore) RecentAlertExists(_ context.Context, childID int64, ruleType types.RuleType, ruleVersion string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ChildID == childID && a.Type == ruleType && a.RuleVersion == ruleVersion && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, childID int64, limit int) ([]types.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.AlertRecord
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if s.alerts[i].ChildID == childID {
			out = append(out, s.alerts[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) ConfigOverrides(_ context.Context, prefix string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.config {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) SetConfig(_ context.Context, key, value string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.setConfig(key, value)
}

func (s *MemoryStore) setConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}

// memoryTx is the Store handed to a transaction body. Its writes skip txMu,
// which the enclosing Transaction already holds.
type memoryTx struct{ *MemoryStore }

func (t memoryTx) CreateResponse(_ context.Context, r *types.ResponseRecord) error {
	return t.createResponse(r)
}

func (t memoryTx) SaveResponse(_ context.Context, r *types.ResponseRecord) error {
	return t.saveResponse(r)
}

func (t memoryTx) CreateAlert(_ context.Context, a *types.AlertRecord) error {
	return t.createAlert(a)
}

func (t memoryTx) SetConfig(_ context.Context, key, value string) error {
	return t.setConfig(key, value)
}

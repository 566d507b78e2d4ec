// Package snapshot holds the observed and desired port configuration
// captured for a single reconciliation window.
package snapshot

import (
	"errors"
	"sort"
	"sync"

	"github.com/signalsfoundry/warmsync/model"
)

// ErrWindowClosed is returned when the desired snapshot is mutated after it
// has been frozen.
var ErrWindowClosed = errors.New("reconciliation window closed")

// Snapshot is an immutable view of the ports provisioned on a device.
// A key that is absent means the port is not provisioned.
//
// The zero value is an empty snapshot.
type Snapshot struct {
	records map[model.PortKey]model.PortRecord
}

// New copies records into a Snapshot. Later changes to the map or to the
// records in it are not visible through the returned value.
func New(records map[model.PortKey]model.PortRecord) Snapshot {
	out := make(map[model.PortKey]model.PortRecord, len(records))
	for k, rec := range records {
		out[k] = rec.Clone()
	}
	return Snapshot{records: out}
}

// Empty returns a snapshot with no ports.
func Empty() Snapshot { return Snapshot{} }

// Get returns a copy of the record for key.
func (s Snapshot) Get(key model.PortKey) (model.PortRecord, bool) {
	rec, ok := s.records[key]
	if !ok {
		return model.PortRecord{}, false
	}
	return rec.Clone(), true
}

// Has reports whether key is provisioned.
func (s Snapshot) Has(key model.PortKey) bool {
	_, ok := s.records[key]
	return ok
}

// Len returns the number of provisioned ports.
func (s Snapshot) Len() int { return len(s.records) }

// Keys returns the provisioned keys in ascending order.
func (s Snapshot) Keys() []model.PortKey {
	keys := make([]model.PortKey, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Range calls fn for every port in ascending key order until fn returns
// false. The record passed to fn must not be modified.
func (s Snapshot) Range(fn func(key model.PortKey, rec model.PortRecord) bool) {
	for _, k := range s.Keys() {
		if !fn(k, s.records[k]) {
			return
		}
	}
}

// Records returns a deep copy of the snapshot contents.
func (s Snapshot) Records() map[model.PortKey]model.PortRecord {
	out := make(map[model.PortKey]model.PortRecord, len(s.records))
	for k, rec := range s.records {
		out[k] = rec.Clone()
	}
	return out
}

// lookup returns the stored record without copying. Callers must treat it
// as read-only.
func (s Snapshot) lookup(key model.PortKey) (model.PortRecord, bool) {
	rec, ok := s.records[key]
	return rec, ok
}

// Union returns the ascending set of keys present in either snapshot.
func Union(a, b Snapshot) []model.PortKey {
	seen := make(map[model.PortKey]struct{}, len(a.records)+len(b.records))
	for k := range a.records {
		seen[k] = struct{}{}
	}
	for k := range b.records {
		seen[k] = struct{}{}
	}
	keys := make([]model.PortKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Pair returns the observed and desired records for key without copying.
// The engine uses it to avoid cloning every record twice.
func Pair(observed, desired Snapshot, key model.PortKey) (obs *model.PortRecord, des *model.PortRecord) {
	if rec, ok := observed.lookup(key); ok {
		obs = &rec
	}
	if rec, ok := desired.lookup(key); ok {
		des = &rec
	}
	return obs, des
}

// Store is the snapshot pair for one reconciliation window. Observed is
// fixed at construction; Desired accumulates replayed provisioning calls
// until Freeze.
type Store struct {
	observed Snapshot

	mu      sync.RWMutex
	desired map[model.PortKey]model.PortRecord
	frozen  *Snapshot
}

// NewStore creates a store around the captured observed snapshot with an
// empty desired side.
func NewStore(observed Snapshot) *Store {
	return &Store{
		observed: observed,
		desired:  make(map[model.PortKey]model.PortRecord),
	}
}

// Observed returns the hardware readback captured at lock time.
func (s *Store) Observed() Snapshot {
	return s.observed
}

// Desired returns a point-in-time copy of the desired side. After Freeze it
// returns the frozen snapshot.
func (s *Store) Desired() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frozen != nil {
		return *s.frozen
	}
	return New(s.desired)
}

// DesiredLen returns the number of ports currently in the desired side.
func (s *Store) DesiredLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frozen != nil {
		return s.frozen.Len()
	}
	return len(s.desired)
}

// Upsert records rec as the desired configuration of key, replacing any
// earlier entry.
func (s *Store) Upsert(key model.PortKey, rec model.PortRecord) error {
	rec = rec.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen != nil {
		return ErrWindowClosed
	}
	s.desired[key] = rec
	return nil
}

// Remove drops key from the desired side. Removing an absent key is not an
// error.
func (s *Store) Remove(key model.PortKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen != nil {
		return ErrWindowClosed
	}
	delete(s.desired, key)
	return nil
}

// Freeze closes the desired side to further mutation and returns it.
// Calling Freeze again returns the same snapshot.
func (s *Store) Freeze() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen == nil {
		// The map is handed over without a copy; nothing writes to it again.
		frozen := Snapshot{records: s.desired}
		s.frozen = &frozen
		s.desired = nil
	}
	return *s.frozen
}

// Frozen reports whether Freeze has been called.
func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen != nil
}

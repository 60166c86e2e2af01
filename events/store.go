// Package events implements the per-destination event store: fan-out by
// scope (destination, group, global), delayed activation, TTL expiration,
// single-consumer semantics, and a bounded consumed/expired history.
//
// Grounded on the teacher's harpoon-scheduler/registry.go for the
// lock-guarded-map-of-maps shape, and on state_machine.go's FIFO-by-arrival
// bookkeeping for container instances.
package events

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gjbm2/screen-machine-sub000/corelock"
	"github.com/gjbm2/screen-machine-sub000/metrics"
	"github.com/gjbm2/screen-machine-sub000/model"
)

// GlobalScope fans an event out to every known destination.
const GlobalScope = "global"

// GroupMembership resolves scope strings to destination sets.
type GroupMembership interface {
	DestinationsOf(group string) []string
	AllDestinations() []string
	IsGroup(name string) bool
}

// ThrowOptions carries the optional fields of a throw() call.
type ThrowOptions struct {
	Delay          *time.Duration
	FutureTime     *time.Time
	DisplayName    string
	Payload        model.Value
	SingleConsumer bool
}

// ThrowResult is returned by Throw.
type ThrowResult struct {
	Destinations []string
	UniqueID     string // only meaningful for a single-destination throw
	ActiveFrom   time.Time
}

// Store is the process-wide, lock-guarded event store.
type Store struct {
	lock *corelock.Lock

	active  map[string]map[string][]model.Event // destination -> key -> FIFO
	history map[string][]model.Event            // destination -> bounded ring, oldest first

	membership GroupMembership
	persist    func(dest string)
	newUUID    func() string
}

// New constructs an empty store.
func New(lock *corelock.Lock, membership GroupMembership, persist func(dest string)) *Store {
	return &Store{
		lock:       lock,
		active:     map[string]map[string][]model.Event{},
		history:    map[string][]model.Event{},
		membership: membership,
		persist:    persist,
		newUUID:    uuid.NewString,
	}
}

// Throw creates one or more event entries per spec.md §4.3 scope semantics.
func (s *Store) Throw(scope, key string, ttl time.Duration, now time.Time, opts ThrowOptions) (ThrowResult, error) {
	if key == "" {
		return ThrowResult{}, fmt.Errorf("events: empty key")
	}

	activeFrom := now
	if opts.FutureTime != nil && opts.FutureTime.After(activeFrom) {
		activeFrom = *opts.FutureTime
	}
	if opts.Delay != nil {
		if withDelay := now.Add(*opts.Delay); withDelay.After(activeFrom) {
			activeFrom = withDelay
		}
	}
	expires := activeFrom.Add(ttl)

	dests := s.resolveScope(scope)
	if len(dests) == 0 {
		return ThrowResult{}, fmt.Errorf("events: scope %q resolves to no destinations", scope)
	}

	familyID := s.newUUID()

	s.lock.Lock()
	defer s.lock.Unlock()

	var lastUniqueID string
	for _, dest := range dests {
		ev := model.Event{
			Key:            key,
			ActiveFrom:     activeFrom,
			Expires:        expires,
			DisplayName:    opts.DisplayName,
			Payload:        opts.Payload,
			SingleConsumer: opts.SingleConsumer,
			CreatedAt:      now,
			UniqueID:       s.newUUID(),
			FamilyID:       familyID,
			Status:         model.EventActive,
		}
		lastUniqueID = ev.UniqueID
		m, ok := s.active[dest]
		if !ok {
			m = map[string][]model.Event{}
			s.active[dest] = m
		}
		m[key] = append(m[key], ev)
		s.persistLocked(dest)
		metrics.EventThrown()
	}

	return ThrowResult{Destinations: dests, UniqueID: lastUniqueID, ActiveFrom: activeFrom}, nil
}

func (s *Store) resolveScope(scope string) []string {
	if scope == GlobalScope {
		return s.membership.AllDestinations()
	}
	if s.membership.IsGroup(scope) {
		return s.membership.DestinationsOf(scope)
	}
	return []string{scope}
}

// PopNext returns the earliest live entry (active_from <= now < expires)
// for (dest, key), FIFO by active_from then created_at. Entries whose TTL
// has lapsed are moved to history as EXPIRED and skipped. The returned
// entry is marked CONSUMED and recorded in history; if it is a
// single-consumer event, logically-equivalent entries (same FamilyID) on
// peer destinations are purged.
func (s *Store) PopNext(dest, key string, now time.Time) *model.Event {
	s.lock.Lock()
	defer s.lock.Unlock()

	m, ok := s.active[dest]
	if !ok {
		return nil
	}
	queue := m[key]
	if len(queue) == 0 {
		return nil
	}

	sorted := make([]model.Event, len(queue))
	copy(sorted, queue)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ActiveFrom.Equal(sorted[j].ActiveFrom) {
			return sorted[i].ActiveFrom.Before(sorted[j].ActiveFrom)
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	var (
		chosen  *model.Event
		remain  []model.Event
	)
	for i := range sorted {
		ev := sorted[i]
		switch {
		case ev.IsExpired(now):
			ev.Status = model.EventExpired
			s.appendHistoryLocked(dest, ev)
			metrics.EventExpired()
		case chosen == nil && ev.IsLive(now):
			ev.Status = model.EventConsumed
			ev.ConsumedBy = dest
			t := now
			ev.ConsumedAt = &t
			chosen = &ev
			s.appendHistoryLocked(dest, ev)
		default:
			remain = append(remain, ev)
		}
	}
	if len(remain) == 0 {
		delete(m, key)
	} else {
		m[key] = remain
	}
	if len(m) == 0 {
		delete(s.active, dest)
	}
	s.persistLocked(dest)

	if chosen != nil && chosen.SingleConsumer {
		s.purgeFamilyLocked(chosen.FamilyID, dest)
	}
	return chosen
}

// purgeFamilyLocked removes every active entry sharing familyID from every
// destination other than exceptDest (the one that just consumed it).
func (s *Store) purgeFamilyLocked(familyID, exceptDest string) {
	for dest, byKey := range s.active {
		if dest == exceptDest {
			continue
		}
		changed := false
		for key, entries := range byKey {
			kept := entries[:0:0]
			for _, ev := range entries {
				if ev.FamilyID == familyID {
					changed = true
					continue
				}
				kept = append(kept, ev)
			}
			if len(kept) == 0 {
				delete(byKey, key)
			} else {
				byKey[key] = kept
			}
		}
		if len(byKey) == 0 {
			delete(s.active, dest)
		}
		if changed {
			s.persistLocked(dest)
		}
	}
}

// Clear removes active events for (dest, key); if key is empty, clears all
// keys for dest.
func (s *Store) Clear(dest, key string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if key == "" {
		delete(s.active, dest)
	} else if m, ok := s.active[dest]; ok {
		delete(m, key)
		if len(m) == 0 {
			delete(s.active, dest)
		}
	}
	s.persistLocked(dest)
}

// ExpireAll scans every destination's active events and moves lapsed ones
// to history. Invoked periodically by the runtime (~every 30s per
// spec.md §4.7).
func (s *Store) ExpireAll(now time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for dest, byKey := range s.active {
		changed := false
		for key, entries := range byKey {
			var kept []model.Event
			for _, ev := range entries {
				if ev.IsExpired(now) {
					ev.Status = model.EventExpired
					s.appendHistoryLocked(dest, ev)
					changed = true
					metrics.EventExpired()
					continue
				}
				kept = append(kept, ev)
			}
			if len(kept) == 0 {
				delete(byKey, key)
			} else {
				byKey[key] = kept
			}
		}
		if len(byKey) == 0 {
			delete(s.active, dest)
		}
		if changed {
			s.persistLocked(dest)
		}
	}
}

// Active returns a snapshot of dest's active events, grouped by key.
func (s *Store) Active(dest string) map[string][]model.Event {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := map[string][]model.Event{}
	for k, v := range s.active[dest] {
		cp := make([]model.Event, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// History returns a snapshot of dest's bounded history, oldest first.
func (s *Store) History(dest string) []model.Event {
	s.lock.Lock()
	defer s.lock.Unlock()
	cp := make([]model.Event, len(s.history[dest]))
	copy(cp, s.history[dest])
	return cp
}

// LoadSnapshot seeds the store's in-memory state for dest from persisted
// state on startup recovery.
func (s *Store) LoadSnapshot(dest string, active map[string][]model.Event, history []model.Event) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(active) > 0 {
		s.active[dest] = active
	}
	s.history[dest] = history
}

func (s *Store) appendHistoryLocked(dest string, ev model.Event) {
	h := append(s.history[dest], ev)
	if len(h) > model.MaxEventHistory {
		h = h[len(h)-model.MaxEventHistory:]
	}
	s.history[dest] = h
}

func (s *Store) persistLocked(dest string) {
	if s.persist != nil {
		s.persist(dest)
	}
}

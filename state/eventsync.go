package state

import (
	"log"

	"github.com/gjbm2/screen-machine-sub000/events"
	"github.com/gjbm2/screen-machine-sub000/model"
)

// EventPersistFunc adapts an events.Store into the persist callback it
// expects: on every mutation to one destination's active/history events,
// fold the current in-memory view back into that destination's full state
// snapshot and write it out. Event data lives embedded in model.State
// rather than its own file, so this is the seam between the two stores.
func (s *Store) EventPersistFunc(evStore *events.Store) func(dest string) {
	return func(dest string) {
		if _, err := s.Update(dest, func(st *model.State) {
			st.EventsActive = evStore.Active(dest)
			st.EventsHistory = evStore.History(dest)
		}); err != nil {
			log.Printf("state: failed to persist events for %s: %s", dest, err)
		}
	}
}

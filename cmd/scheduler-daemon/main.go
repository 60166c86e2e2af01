// Command scheduler-daemon wires every destination's runtime, the shared
// variable registry and event store, persistence, instrumentation, and the
// Control API into one process and serves it until interrupted.
//
// Wiring order and flag/log style follow the teacher's
// harpoon-scheduler/main.go.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gjbm2/screen-machine-sub000/config"
	"github.com/gjbm2/screen-machine-sub000/corelock"
	"github.com/gjbm2/screen-machine-sub000/events"
	"github.com/gjbm2/screen-machine-sub000/handlers"
	"github.com/gjbm2/screen-machine-sub000/httpapi"
	"github.com/gjbm2/screen-machine-sub000/metrics"
	"github.com/gjbm2/screen-machine-sub000/model"
	"github.com/gjbm2/screen-machine-sub000/scheduler"
	"github.com/gjbm2/screen-machine-sub000/state"
	"github.com/gjbm2/screen-machine-sub000/vars"
)

func main() {
	var (
		listen     = flag.String("listen", ":8080", "HTTP listen address")
		fleetPath  = flag.String("fleet", "fleet.yaml", "path to the fleet configuration document")
		expiryScan = flag.Duration("event.expiry.interval", 30*time.Second, "how often to scan for expired events")
	)
	flag.Parse()

	log.SetOutput(os.Stdout)
	log.SetFlags(log.Lmicroseconds)

	fleet, err := config.LoadFleet(*fleetPath)
	if err != nil {
		log.Fatal(err)
	}
	groups := config.NewGroups(fleet)
	tick, err := fleet.TickDuration()
	if err != nil {
		log.Fatal(err)
	}

	lock := corelock.New()

	store, err := state.New(fleet.StateDir, lock)
	if err != nil {
		log.Fatal(err)
	}

	var eventStore *events.Store
	eventStore = events.New(lock, groups, func(dest string) {
		store.EventPersistFunc(eventStore)(dest)
	})

	registrySnapshot, err := store.LoadRegistry()
	if err != nil {
		log.Fatal(err)
	}

	var runtimeRegistry *scheduler.Registry
	varRegistry := vars.New(lock, writerFunc(func(importerDest, localName string, value model.Value) error {
		return runtimeRegistry.SetImportedVar(importerDest, localName, value)
	}), groups, func(snap vars.Snapshot) {
		if err := store.SaveRegistry(snap); err != nil {
			log.Printf("scheduler-daemon: saving variable registry: %s", err)
		}
	})
	varRegistry.Restore(registrySnapshot)

	deps := scheduler.Deps{
		Handlers:            handlers.New(),
		Collabs:             handlers.LoggingStubs(),
		Registry:            varRegistry,
		Events:              eventStore,
		Store:               store,
		GroupsOf:            groups,
		TickInterval:        tick,
		EventExpiryInterval: *expiryScan,
	}
	runtimeRegistry = scheduler.NewRegistry(deps)

	for _, dest := range fleet.Destinations {
		active, history, err := loadEventSnapshot(store, dest.ID)
		if err != nil {
			log.Printf("scheduler-daemon: %s: loading event snapshot: %s", dest.ID, err)
		} else {
			eventStore.LoadSnapshot(dest.ID, active, history)
		}
	}

	if err := runtimeRegistry.Recover(); err != nil {
		log.Fatal(err)
	}

	for _, dest := range fleet.Destinations {
		if !dest.AutoStart {
			continue
		}
		rt, err := runtimeRegistry.GetOrCreate(dest.ID)
		if err != nil {
			log.Printf("scheduler-daemon: %s: %s", dest.ID, err)
			continue
		}
		if dest.ScheduleFile != "" {
			sched, err := config.LoadSchedule(dest.ScheduleFile)
			if err != nil {
				log.Printf("scheduler-daemon: %s: %s", dest.ID, err)
				continue
			}
			if err := rt.PushSchedule(sched); err != nil {
				log.Printf("scheduler-daemon: %s: pushing schedule: %s", dest.ID, err)
				continue
			}
		}
		if err := rt.Start(); err != nil {
			log.Printf("scheduler-daemon: %s: starting: %s", dest.ID, err)
		}
	}
	defer runtimeRegistry.Shutdown()

	metrics.Register(prometheus.DefaultRegisterer)

	api := &httpapi.API{Runtimes: runtimeRegistry, Events: eventStore}
	log.Printf("listening on %s", *listen)
	go log.Print(http.ListenAndServe(*listen, api.Router()))

	<-interrupt()
}

// loadEventSnapshot reads a destination's persisted active/history event
// slices straight off its state file, ahead of the runtime registry
// constructing its Runtime.
func loadEventSnapshot(store *state.Store, dest string) (map[string][]model.Event, []model.Event, error) {
	st, err := store.Load(dest)
	if err != nil {
		return nil, nil, err
	}
	return st.EventsActive, st.EventsHistory, nil
}

// writerFunc adapts a plain function to vars.ContextWriter, letting main
// close over runtimeRegistry before it exists (the registry itself needs
// the variable registry in its Deps, and the variable registry needs a
// writer back into the runtime registry).
type writerFunc func(importerDest, localName string, value model.Value) error

func (f writerFunc) SetImportedVar(importerDest, localName string, value model.Value) error {
	return f(importerDest, localName, value)
}

func interrupt() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, os.Kill)
	return c
}

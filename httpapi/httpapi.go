// Package httpapi implements the scheduler's Control API: a small
// httprouter-routed HTTP surface for starting, pausing, stopping, and
// pushing schedules onto destinations, and for throwing events from
// outside the scheduler (an upstream webhook, an operator's curl).
//
// Grounded on the teacher's harpoon-scheduler/main.go: httprouter for
// routing, streadway/handy/report wrapping every handler for access
// logging, and the same errorResponse/successResponse envelope pair.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/streadway/handy/report"

	"github.com/gjbm2/screen-machine-sub000/durationstr"
	"github.com/gjbm2/screen-machine-sub000/events"
	"github.com/gjbm2/screen-machine-sub000/model"
	"github.com/gjbm2/screen-machine-sub000/scheduler"
)

// API wires the runtime registry and event store into an http.Handler.
type API struct {
	Runtimes *scheduler.Registry
	Events   *events.Store
}

// Router builds the routed handler. Call once at startup.
func (a *API) Router() http.Handler {
	router := httprouter.New()

	router.POST("/destinations/:dest/start", a.wrap(a.handleStart))
	router.POST("/destinations/:dest/pause", a.wrap(a.handlePause))
	router.POST("/destinations/:dest/stop", a.wrap(a.handleStop))
	router.POST("/destinations/:dest/schedule", a.wrap(a.handlePushSchedule))
	router.GET("/destinations/:dest/status", a.wrap(a.handleStatus))
	router.GET("/status", a.wrap(a.handleStatusAll))
	router.POST("/events", a.wrap(a.handleThrowEvent))

	return router
}

func (a *API) wrap(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		report.JSON(logWriter{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h(w, r, ps)
		})).ServeHTTP(w, r)
	}
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	dest := ps.ByName("dest")
	rt, err := a.Runtimes.GetOrCreate(dest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := rt.Start(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, fmt.Sprintf("%s started", dest))
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	dest := ps.ByName("dest")
	rt, err := a.Runtimes.Get(dest)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err := rt.Pause(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, fmt.Sprintf("%s paused", dest))
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	dest := ps.ByName("dest")
	rt, err := a.Runtimes.Get(dest)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err := rt.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, fmt.Sprintf("%s stopped", dest))
}

func (a *API) handlePushSchedule(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	dest := ps.ByName("dest")
	defer r.Body.Close()

	var sched model.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := sched.Valid(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid schedule: %w", err))
		return
	}

	rt, err := a.Runtimes.GetOrCreate(dest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := rt.PushSchedule(sched); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, fmt.Sprintf("schedule pushed onto %s", dest))
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	dest := ps.ByName("dest")
	rt, err := a.Runtimes.Get(dest)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.Status())
}

func (a *API) handleStatusAll(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeJSON(w, http.StatusOK, a.Runtimes.StatusAll())
}

// throwEventRequest is the wire shape for POST /events.
type throwEventRequest struct {
	Scope          string       `json:"scope"`
	Key            string       `json:"key"`
	TTL            string       `json:"ttl,omitempty"`
	Delay          string       `json:"delay,omitempty"`
	DisplayName    string       `json:"display_name,omitempty"`
	Payload        model.Value  `json:"payload,omitempty"`
	SingleConsumer bool         `json:"single_consumer,omitempty"`
}

func (a *API) handleThrowEvent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	defer r.Body.Close()
	var req throwEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Key == "" || req.Scope == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("scope and key are required"))
		return
	}

	ttl := 60 * time.Second
	if req.TTL != "" {
		parsed, err := durationstr.ParseTTL(req.TTL)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ttl = parsed
	}
	opts := events.ThrowOptions{
		DisplayName:    req.DisplayName,
		Payload:        req.Payload,
		SingleConsumer: req.SingleConsumer,
	}
	if req.Delay != "" {
		d, err := durationstr.ParseWait(req.Delay)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts.Delay = &d
	}

	result, err := a.Events.Throw(req.Scope, req.Key, ttl, time.Now().UTC(), opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- response envelope, matching the teacher's errorResponse/successResponse pair ---

type errorResponse struct {
	StatusCode int    `json:"status_code"`
	StatusText string `json:"status_text"`
	Error      string `json:"error"`
}

type successResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		StatusCode: code,
		StatusText: http.StatusText(code),
		Error:      err.Error(),
	})
}

func writeSuccess(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, successResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Print(string(p))
	return len(p), nil
}

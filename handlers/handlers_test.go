package handlers

import (
	"testing"
	"time"

	"github.com/gjbm2/screen-machine-sub000/corelock"
	"github.com/gjbm2/screen-machine-sub000/events"
	"github.com/gjbm2/screen-machine-sub000/model"
	"github.com/gjbm2/screen-machine-sub000/vars"
)

type noopWriter struct{}

func (noopWriter) SetImportedVar(dest, name string, v model.Value) error { return nil }

type noGroups struct{}

func (noGroups) DestinationsOf(group string) []string { return nil }
func (noGroups) AllDestinations() []string             { return []string{"d1"} }
func (noGroups) IsGroup(name string) bool              { return false }

func newEnv(dest string) *Env {
	lock := corelock.New()
	reg := vars.New(lock, noopWriter{}, nil, nil)
	evs := events.New(lock, noGroups{}, nil)
	return &Env{
		Dest:     dest,
		Now:      time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		Ctx:      model.NewContext(dest),
		Registry: reg,
		Events:   evs,
		Collabs:  LoggingStubs(),
	}
}

func TestSetVarCoercesAndStores(t *testing.T) {
	h := New()
	env := newEnv("d1")
	_, err := h.Execute(env, model.Instruction{Action: model.ActionSetVar, Params: map[string]model.Value{"var": "n", "value": "42"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Ctx.Vars["n"] != int64(42) {
		t.Fatalf("expected coerced int64(42), got %#v", env.Ctx.Vars["n"])
	}
}

func TestSetVarNullClearsSingleVar(t *testing.T) {
	h := New()
	env := newEnv("d1")
	env.Ctx.Vars["n"] = 1
	_, err := h.Execute(env, model.Instruction{Action: model.ActionSetVar, Params: map[string]model.Value{"var": "n", "value": nil}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.Ctx.Vars["n"]; ok {
		t.Fatalf("expected n to be cleared")
	}
}

func TestSetVarNoNameClearsAll(t *testing.T) {
	h := New()
	env := newEnv("d1")
	env.Ctx.Vars["a"] = 1
	env.Ctx.Vars["b"] = 2
	_, err := h.Execute(env, model.Instruction{Action: model.ActionSetVar, Params: map[string]model.Value{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.Ctx.Vars) != 0 {
		t.Fatalf("expected all vars cleared, got %v", env.Ctx.Vars)
	}
}

func TestWaitSetsWaitUntil(t *testing.T) {
	h := New()
	env := newEnv("d1")
	_, err := h.Execute(env, model.Instruction{Action: model.ActionWait, Params: map[string]model.Value{"duration": "90s"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Ctx.WaitUntil == nil || !env.Ctx.WaitUntil.Equal(env.Now.Add(90*time.Second)) {
		t.Fatalf("expected wait_until 90s out, got %v", env.Ctx.WaitUntil)
	}
}

func TestUnloadReturnsUnloadOutcome(t *testing.T) {
	h := New()
	env := newEnv("d1")
	outcome, err := h.Execute(env, model.Instruction{Action: model.ActionUnload})
	if err != nil || outcome != Unload {
		t.Fatalf("expected Unload, got %v, err=%v", outcome, err)
	}
}

func TestTerminateModesMapToOutcomes(t *testing.T) {
	h := New()
	cases := []struct {
		mode string
		want Outcome
	}{
		{"", Terminate},        // default mode is "normal"
		{"normal", Terminate},
		{"immediate", TerminateImmediate},
		{"block", ExitBlock},
	}
	for _, c := range cases {
		env := newEnv("d1")
		params := map[string]model.Value{}
		if c.mode != "" {
			params["mode"] = c.mode
		}
		outcome, err := h.Execute(env, model.Instruction{Action: model.ActionTerminate, Params: params})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome != c.want {
			t.Errorf("mode %q: got %v, want %v", c.mode, outcome, c.want)
		}
	}
}

func TestReasonFallsBackOnReasonerError(t *testing.T) {
	h := New()
	env := newEnv("d1")
	_, err := h.Execute(env, model.Instruction{Action: model.ActionReason, Params: map[string]model.Value{
		"var": "answer", "fallback": "default-answer",
	}})
	if err != nil {
		t.Fatalf("expected fallback to absorb reasoner error, got %v", err)
	}
	if env.Ctx.Vars["answer"] != "default-answer" {
		t.Fatalf("expected fallback value bound, got %#v", env.Ctx.Vars["answer"])
	}
	hist, _ := env.Ctx.Vars[historyVarKey].([]model.Value)
	if len(hist) != 1 || hist[0] != "default-answer" {
		t.Fatalf("expected history to record fallback value, got %v", hist)
	}
}

func TestReasonHistoryBounded(t *testing.T) {
	h := New()
	env := newEnv("d1")
	for i := 0; i < maxReasonHistory+5; i++ {
		_, _ = h.Execute(env, model.Instruction{Action: model.ActionReason, Params: map[string]model.Value{
			"fallback": i,
		}})
	}
	hist, _ := env.Ctx.Vars[historyVarKey].([]model.Value)
	if len(hist) != maxReasonHistory {
		t.Fatalf("expected history capped at %d, got %d", maxReasonHistory, len(hist))
	}
	if hist[len(hist)-1] != maxReasonHistory+4 {
		t.Fatalf("expected most recent entry retained, got %v", hist[len(hist)-1])
	}
}

func TestThrowEventAndPurge(t *testing.T) {
	h := New()
	env := newEnv("d1")
	_, err := h.Execute(env, model.Instruction{Action: model.ActionThrowEvent, Params: map[string]model.Value{"key": "k"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	active := env.Events.Active("d1")
	if len(active["k"]) != 1 {
		t.Fatalf("expected one active event, got %v", active)
	}
	_, err = h.Execute(env, model.Instruction{Action: model.ActionPurge, Params: map[string]model.Value{"key": "k"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.Events.Active("d1")["k"]) != 0 {
		t.Fatalf("expected event purged")
	}
}

func TestExportThenImportPropagates(t *testing.T) {
	lock := corelock.New()
	var lastImporter, lastName string
	var lastValue model.Value
	writer := writerFunc(func(dest, name string, v model.Value) error {
		lastImporter, lastName, lastValue = dest, name, v
		return nil
	})
	reg := vars.New(lock, writer, nil, nil)

	owner := &Env{Dest: "owner", Now: time.Now().UTC(), Ctx: model.NewContext("owner"), Registry: reg, Collabs: LoggingStubs()}
	importer := &Env{Dest: "importer", Now: owner.Now, Ctx: model.NewContext("importer"), Registry: reg, Collabs: LoggingStubs()}

	h := New()
	if _, err := h.Execute(importer, model.Instruction{Action: model.ActionImportVar, Params: map[string]model.Value{"var": "n", "from": "owner"}}); err != nil {
		t.Fatalf("import_var: %v", err)
	}
	if _, err := h.Execute(owner, model.Instruction{Action: model.ActionSetVar, Params: map[string]model.Value{"var": "n", "value": 7}}); err != nil {
		t.Fatalf("set_var: %v", err)
	}
	if lastImporter != "importer" || lastName != "n" || lastValue != 7 {
		t.Fatalf("expected propagation to importer, got dest=%s name=%s value=%#v", lastImporter, lastName, lastValue)
	}
}

type writerFunc func(dest, name string, v model.Value) error

func (f writerFunc) SetImportedVar(dest, name string, v model.Value) error { return f(dest, name, v) }

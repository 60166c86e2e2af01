// Package trigger implements the trigger resolver: a function from
// (schedule, now, context, event store) to an ordered list of instruction
// blocks with urgency flags. It holds no state of its own — the execution
// log and event consumption are both passed in, and new execution-log
// entries are handed back for the caller (the scheduler runtime) to
// persist — matching the teacher's scheduling_algorithms.go, which is
// likewise a pure function factored out of the stateful loop that calls
// it.
package trigger

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gjbm2/screen-machine-sub000/model"
)

// EventConsumer is the event store surface the resolver needs: attempt to
// consume the next live event for (dest, key).
type EventConsumer interface {
	PopNext(dest, key string, now time.Time) *model.Event
}

// Options bundles the resolver's non-schedule inputs.
type Options struct {
	Dest             string
	IncludeInitial   bool
	ApplyGracePeriod bool
	// Lookback is how far back, from Now, a missed candidate is still
	// considered fireable. 5 minutes when ApplyGracePeriod is true (the
	// "catch up once" policy); otherwise the caller passes the elapsed
	// time since the previous tick's evaluation, so only a candidate
	// boundary crossed since last tick fires.
	Lookback time.Duration
	Now      time.Time
	// ExecutionLog is the destination's persisted
	// schedule-hash+candidate-time -> fired-at record. Read-only; new
	// entries earned this call are returned separately.
	ExecutionLog map[string]time.Time
}

// Result is what one Resolve call produces.
type Result struct {
	Blocks        []model.Block
	NewExecutions map[string]time.Time
}

// Resolve implements spec.md §4.4 steps 2-6. Step 1 (an important trigger
// from a past cycle still pending) needs no resolver support: the
// instruction queue's admission rules already keep an important block in
// place until it is popped, so it simply survives until the runtime drains
// it — see queue.Queue.
func Resolve(sched model.Schedule, ctx *model.Context, consumer EventConsumer, opts Options) Result {
	result := Result{NewExecutions: map[string]time.Time{}}

	if opts.IncludeInitial && len(sched.InitialActions) > 0 {
		result.Blocks = append(result.Blocks, model.Block{
			Instructions: sched.InitialActions,
			Source:       "initial",
		})
	}

	hash := scheduleHash(sched)

	for _, trig := range sched.Triggers {
		switch trig.Kind {
		case model.TriggerDate:
			if !dateMatches(trig.Date, opts.Now) {
				continue
			}
			result.Blocks = append(result.Blocks, resolveScheduledActions(trig, hash, "date", opts, result.NewExecutions)...)

		case model.TriggerDayOfWeek:
			if !dayOfWeekMatches(trig.Days, opts.Now) {
				continue
			}
			result.Blocks = append(result.Blocks, resolveScheduledActions(trig, hash, "day_of_week", opts, result.NewExecutions)...)

		case model.TriggerEvent:
			ev := consumer.PopNext(opts.Dest, trig.EventKey, opts.Now)
			if ev == nil {
				continue
			}
			urgent, important := inheritFlags(trig.TriggerActions, trig.Urgent, trig.Important)
			ctx.Vars[model.EventVarKey] = eventToVars(*ev)
			result.Blocks = append(result.Blocks, model.Block{
				Instructions: trig.TriggerActions.InstructionsBlock,
				Urgent:       urgent,
				Important:    important,
				Source:       "event",
			})
		}
	}

	if len(result.Blocks) == 0 && len(sched.FinalActions) > 0 {
		result.Blocks = append(result.Blocks, model.Block{
			Instructions: sched.FinalActions,
			Source:       "final",
		})
	}

	return result
}

func resolveScheduledActions(trig model.Trigger, scheduleHash, source string, opts Options, newExecutions map[string]time.Time) []model.Block {
	var blocks []model.Block
	for _, sa := range trig.ScheduledActions {
		candidate, ok := matchCandidate(sa, scheduleHash, opts, newExecutions)
		if !ok {
			continue
		}
		_ = candidate
		urgent, important := inheritFlags(sa.TriggerActions, trig.Urgent, trig.Important)
		blocks = append(blocks, model.Block{
			Instructions: sa.TriggerActions.InstructionsBlock,
			Urgent:       urgent,
			Important:    important,
			Source:       source,
		})
	}
	return blocks
}

// matchCandidate walks the T, T+every, ... candidate series for one
// scheduled action and returns the earliest candidate that both falls in
// the lookback window and hasn't already fired, recording it in
// newExecutions. At most one candidate fires per call.
func matchCandidate(sa model.ScheduledAction, scheduleHash string, opts Options, newExecutions map[string]time.Time) (time.Time, bool) {
	base, err := parseTimeOfDay(sa.Time, opts.Now)
	if err != nil {
		return time.Time{}, false
	}

	until := endOfDay(opts.Now)
	if sa.RepeatSchedule != nil && sa.RepeatSchedule.Until != "" {
		if u, err := parseTimeOfDay(sa.RepeatSchedule.Until, opts.Now); err == nil {
			until = u
		}
	}

	every := 0.0
	if sa.RepeatSchedule != nil {
		every = sa.RepeatSchedule.Every
	}

	windowStart := opts.Now.Add(-opts.Lookback)

	for candidate := base; !candidate.After(until); {
		if candidate.After(opts.Now) {
			break
		}
		if !candidate.Before(windowStart) {
			key := executionKey(scheduleHash, candidate)
			if _, already := opts.ExecutionLog[key]; !already {
				if _, already := newExecutions[key]; !already {
					newExecutions[key] = opts.Now
					return candidate, true
				}
			}
		}
		if every <= 0 {
			break
		}
		candidate = candidate.Add(time.Duration(every * float64(time.Minute)))
	}
	return time.Time{}, false
}

func parseTimeOfDay(hhmm string, ref time.Time) (time.Time, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("trigger: invalid time %q", hhmm)
	}
	var hh, mm int
	if _, err := fmt.Sscanf(parts[0], "%d", &hh); err != nil {
		return time.Time{}, err
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &mm); err != nil {
		return time.Time{}, err
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), hh, mm, 0, 0, ref.Location()), nil
}

func endOfDay(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), 23, 59, 59, 0, ref.Location())
}

func dateMatches(dateSpec string, now time.Time) bool {
	t, err := time.Parse("02-Jan", dateSpec)
	if err != nil {
		return false
	}
	return t.Month() == now.Month() && t.Day() == now.Day()
}

func dayOfWeekMatches(days []string, now time.Time) bool {
	today := now.Weekday().String()
	for _, d := range days {
		if strings.EqualFold(d, today) {
			return true
		}
	}
	return false
}

func inheritFlags(ta model.TriggerActions, enclosingUrgent, enclosingImportant bool) (urgent, important bool) {
	urgent = enclosingUrgent
	if ta.Urgent != nil {
		urgent = *ta.Urgent
	}
	important = enclosingImportant
	if ta.Important != nil {
		important = *ta.Important
	}
	return urgent, important
}

func eventToVars(ev model.Event) map[string]model.Value {
	return map[string]model.Value{
		"key":          ev.Key,
		"display_name": ev.DisplayName,
		"payload":      ev.Payload,
		"unique_id":    ev.UniqueID,
		"created_at":   ev.CreatedAt,
	}
}

func executionKey(scheduleHash string, candidate time.Time) string {
	return fmt.Sprintf("%s@%s", scheduleHash, candidate.UTC().Format(time.RFC3339))
}

func scheduleHash(sched model.Schedule) string {
	h := md5.New()
	// Errors from json.Encoder writing into an md5.Hash never occur in
	// practice (Write never fails); ignore per the teacher's refHash.
	_ = json.NewEncoder(h).Encode(sched)
	return fmt.Sprintf("%x", h.Sum(nil))
}

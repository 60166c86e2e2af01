package trigger

import (
	"testing"
	"time"

	"github.com/gjbm2/screen-machine-sub000/model"
)

type noEvents struct{}

func (noEvents) PopNext(dest, key string, now time.Time) *model.Event { return nil }

func dayOfWeekSchedule(today string) model.Schedule {
	return model.Schedule{
		Triggers: []model.Trigger{
			{
				Kind: model.TriggerDayOfWeek,
				Days: []string{today},
				ScheduledActions: []model.ScheduledAction{
					{
						Time:           "08:00",
						RepeatSchedule: &model.RepeatSchedule{Every: 1},
						TriggerActions: model.TriggerActions{
							InstructionsBlock: []model.Instruction{{Action: "set_var", Params: map[string]model.Value{"var": "c"}}},
						},
					},
				},
			},
		},
	}
}

func TestRepeatingTriggerFiresOncePerCandidateAcrossTicks(t *testing.T) {
	day := time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC) // a Monday
	sched := dayOfWeekSchedule(day.Weekday().String())
	ctx := model.NewContext("d1")
	execLog := map[string]time.Time{}
	fireCount := 0

	tick := func(now time.Time, lookback time.Duration, grace bool) {
		res := Resolve(sched, ctx, noEvents{}, Options{
			Dest: "d1", Now: now, Lookback: lookback, ApplyGracePeriod: grace,
			ExecutionLog: execLog,
		})
		for k, v := range res.NewExecutions {
			execLog[k] = v
		}
		if len(res.Blocks) > 0 {
			fireCount++
		}
	}

	base := time.Date(2026, 7, 27, 8, 0, 5, 0, time.UTC)
	tick(base, 5*time.Minute, true) // grace catches the 08:00 candidate
	if fireCount != 1 {
		t.Fatalf("after first tick, fireCount = %d, want 1", fireCount)
	}

	t2 := time.Date(2026, 7, 27, 8, 0, 55, 0, time.UTC)
	tick(t2, t2.Sub(base), false)
	if fireCount != 1 {
		t.Fatalf("after second tick, fireCount = %d, want 1 (no new candidate crossed)", fireCount)
	}

	t3 := time.Date(2026, 7, 27, 8, 1, 5, 0, time.UTC)
	tick(t3, t3.Sub(t2), false)
	if fireCount != 2 {
		t.Fatalf("after third tick, fireCount = %d, want 2 (08:01 candidate crossed)", fireCount)
	}
}

func TestHalfMinuteRepeatBoundary(t *testing.T) {
	sched := model.Schedule{
		Triggers: []model.Trigger{{
			Kind: model.TriggerDayOfWeek,
			Days: []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"},
			ScheduledActions: []model.ScheduledAction{{
				Time:           "00:00",
				RepeatSchedule: &model.RepeatSchedule{Every: 0.5},
				TriggerActions: model.TriggerActions{
					InstructionsBlock: []model.Instruction{{Action: "log"}},
				},
			}},
		}},
	}
	day := time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC)
	execLog := map[string]time.Time{}
	ctx := model.NewContext("d1")

	prev := day
	fires := map[int]bool{}
	for _, sec := range []int{0, 10, 20, 30, 40, 50, 60, 90} {
		now := day.Add(time.Duration(sec) * time.Second)
		res := Resolve(sched, ctx, noEvents{}, Options{
			Dest: "d1", Now: now, Lookback: now.Sub(prev), ExecutionLog: execLog,
		})
		for k, v := range res.NewExecutions {
			execLog[k] = v
		}
		fires[sec] = len(res.Blocks) > 0
		prev = now
	}

	for _, sec := range []int{0, 30, 60, 90} {
		if !fires[sec] {
			t.Errorf("expected a fire at t=%ds", sec)
		}
	}
	for _, sec := range []int{10, 20, 40, 50} {
		if fires[sec] {
			t.Errorf("did not expect a fire at t=%ds", sec)
		}
	}
}

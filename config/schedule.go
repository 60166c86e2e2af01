package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gjbm2/screen-machine-sub000/model"
)

// LoadSchedule reads and validates a schedule document from path. On
// failure the caller is expected to leave whatever schedule is already on
// a destination's stack untouched — this function has no side effects of
// its own to undo.
func LoadSchedule(path string) (model.Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Schedule{}, fmt.Errorf("config: reading schedule %s: %w", path, err)
	}
	var sched model.Schedule
	if err := yaml.Unmarshal(data, &sched); err != nil {
		return model.Schedule{}, fmt.Errorf("config: parsing schedule %s: %w", path, err)
	}
	if err := sched.Valid(); err != nil {
		return model.Schedule{}, fmt.Errorf("config: schedule %s invalid: %w", path, err)
	}
	return sched, nil
}

// Package config loads the fleet's static configuration: the set of known
// destinations, their group memberships, and where each one's starting
// schedule document lives on disk. It mirrors the teacher's
// harpoon-configstore validation style (a Valid() method, fail fast, one
// joined error message) over gopkg.in/yaml.v3 documents rather than JSON,
// matching how fleet operators hand-author these files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gjbm2/screen-machine-sub000/durationstr"
)

// DestinationConfig describes one managed destination.
type DestinationConfig struct {
	ID           string `yaml:"id"`
	ScheduleFile string `yaml:"schedule_file,omitempty"`
	AutoStart    bool   `yaml:"auto_start,omitempty"`
}

// Fleet is the top-level configuration document.
type Fleet struct {
	StateDir     string              `yaml:"state_dir"`
	TickInterval string              `yaml:"tick_interval,omitempty"`
	Destinations []DestinationConfig `yaml:"destinations"`
	Groups       map[string][]string `yaml:"groups,omitempty"` // group name -> member destination ids
}

// Valid performs structural validation: every group member must name a
// known destination, and every destination needs a non-empty id.
func (f Fleet) Valid() error {
	var errs []string
	if f.StateDir == "" {
		errs = append(errs, "state_dir not set")
	}
	if len(f.Destinations) == 0 {
		errs = append(errs, "no destinations defined")
	}
	known := map[string]bool{}
	for i, d := range f.Destinations {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("destination %d: id not set", i))
			continue
		}
		if known[d.ID] {
			errs = append(errs, fmt.Sprintf("destination %q: duplicate", d.ID))
		}
		known[d.ID] = true
	}
	for group, members := range f.Groups {
		for _, m := range members {
			if !known[m] {
				errs = append(errs, fmt.Sprintf("group %q: unknown destination %q", group, m))
			}
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// TickDuration parses TickInterval, defaulting to 2s when unset.
func (f Fleet) TickDuration() (time.Duration, error) {
	if f.TickInterval == "" {
		return 2 * time.Second, nil
	}
	return durationstr.ParseWait(f.TickInterval)
}

// LoadFleet reads and validates a fleet document from path.
func LoadFleet(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var f Fleet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := f.Valid(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &f, nil
}

package events

import (
	"testing"
	"time"

	"github.com/gjbm2/screen-machine-sub000/corelock"
)

type fakeMembership struct {
	groups map[string][]string
	all    []string
}

func (m fakeMembership) DestinationsOf(group string) []string { return m.groups[group] }
func (m fakeMembership) AllDestinations() []string             { return m.all }
func (m fakeMembership) IsGroup(name string) bool              { _, ok := m.groups[name]; return ok }

func TestThrowDelayedEventNotConsumableUntilActiveFrom(t *testing.T) {
	membership := fakeMembership{all: []string{"d1"}}
	s := New(corelock.New(), membership, nil)

	base := time.Unix(1000, 0)
	delay := 5 * time.Second
	_, err := s.Throw("d1", "poke", 60*time.Second, base, ThrowOptions{Delay: &delay})
	if err != nil {
		t.Fatalf("throw: %s", err)
	}

	if ev := s.PopNext("d1", "poke", base); ev != nil {
		t.Fatalf("expected no consumable event at t=0, got %+v", ev)
	}
	if ev := s.PopNext("d1", "poke", base.Add(5*time.Second)); ev == nil {
		t.Fatalf("expected event consumable at t+5s")
	}
}

func TestSingleConsumerFanOutPurgesPeers(t *testing.T) {
	membership := fakeMembership{groups: map[string][]string{"G": {"a", "b", "c"}}}
	s := New(corelock.New(), membership, nil)

	now := time.Unix(0, 0)
	res, err := s.Throw("G", "k", 60*time.Second, now, ThrowOptions{SingleConsumer: true})
	if err != nil {
		t.Fatalf("throw: %s", err)
	}
	if len(res.Destinations) != 3 {
		t.Fatalf("expected fan-out to 3 destinations, got %d", len(res.Destinations))
	}

	hits := 0
	for _, dest := range []string{"a", "b", "c"} {
		if ev := s.PopNext(dest, "k", now); ev != nil {
			hits++
		}
	}
	if hits != 1 {
		t.Fatalf("expected exactly 1 consumption across the fan-out set, got %d", hits)
	}
}

func TestExpiredEventsMoveToHistoryAndAreSkipped(t *testing.T) {
	membership := fakeMembership{all: []string{"d1"}}
	s := New(corelock.New(), membership, nil)

	now := time.Unix(0, 0)
	if _, err := s.Throw("d1", "k", 1*time.Second, now, ThrowOptions{}); err != nil {
		t.Fatalf("throw: %s", err)
	}

	later := now.Add(10 * time.Second)
	if ev := s.PopNext("d1", "k", later); ev != nil {
		t.Fatalf("expected no consumable event after expiry, got %+v", ev)
	}
	history := s.History("d1")
	if len(history) != 1 || history[0].Status != "EXPIRED" {
		t.Fatalf("expected 1 EXPIRED history entry, got %+v", history)
	}
}

func TestFIFOOrderByActiveFromThenCreatedAt(t *testing.T) {
	membership := fakeMembership{all: []string{"d1"}}
	s := New(corelock.New(), membership, nil)

	now := time.Unix(0, 0)
	if _, err := s.Throw("d1", "k", 60*time.Second, now, ThrowOptions{}); err != nil {
		t.Fatalf("throw 1: %s", err)
	}
	if _, err := s.Throw("d1", "k", 60*time.Second, now.Add(time.Millisecond), ThrowOptions{}); err != nil {
		t.Fatalf("throw 2: %s", err)
	}

	first := s.PopNext("d1", "k", now.Add(2*time.Millisecond))
	if first == nil || !first.CreatedAt.Equal(now) {
		t.Fatalf("expected first-created event to pop first, got %+v", first)
	}
}

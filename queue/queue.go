// Package queue implements the per-destination priority instruction queue:
// urgent preemption, important-preservation, and a normal-push drop policy
// that relies on triggers re-evaluating every tick.
//
// Grounded on the teacher's harpoon-scheduler/registry.go map-mutation
// style, adapted to a doubly-linked list since admission needs O(1) pushes
// at both ends plus an O(n) single-pass filter (remove_non_important) —
// container/list is the standard-library fit for that shape.
package queue

import (
	"container/list"
	"sync"

	"github.com/gjbm2/screen-machine-sub000/metrics"
	"github.com/gjbm2/screen-machine-sub000/model"
)

// Entry is one queued instruction plus the flags of the block it came
// from, and the sequence number of that block (used by RemoveBlock to
// discard a block's remaining instructions on exit_block without
// disturbing other queued blocks).
type Entry struct {
	Instruction model.Instruction
	Important  bool
	Urgent     bool
	BlockSeq   uint64
}

// Queue is a single destination's instruction queue. It is safe for
// concurrent use, though in practice only the owning runtime goroutine
// touches it.
type Queue struct {
	mu       sync.Mutex
	l        *list.List
	nextSeq  uint64
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{l: list.New()}
}

// PushBlock admits a block of instructions per the rules in spec.md §4.5,
// returning the sequence number assigned to the block (0 if dropped).
func (q *Queue) PushBlock(instrs []model.Instruction, important, urgent bool) uint64 {
	if len(instrs) == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case urgent:
		q.removeNonImportantLocked()
		seq := q.nextSeqLocked()
		// Prepend at the front, preserving internal order: insert in
		// reverse so repeated PushFront calls land in original order.
		for i := len(instrs) - 1; i >= 0; i-- {
			q.l.PushFront(Entry{Instruction: instrs[i], Important: important, Urgent: urgent, BlockSeq: seq})
		}
		return seq
	case important:
		seq := q.nextSeqLocked()
		for _, instr := range instrs {
			q.l.PushBack(Entry{Instruction: instr, Important: important, Urgent: urgent, BlockSeq: seq})
		}
		return seq
	case q.l.Len() == 0:
		seq := q.nextSeqLocked()
		for _, instr := range instrs {
			q.l.PushBack(Entry{Instruction: instr, Important: important, Urgent: urgent, BlockSeq: seq})
		}
		return seq
	default:
		// Normal push onto a non-empty queue: dropped by design. Triggers
		// re-evaluate every tick, so a still-valid block is re-offered
		// next time; accepting it now would interleave stale and fresh
		// work.
		metrics.QueueDropped()
		return 0
	}
}

func (q *Queue) nextSeqLocked() uint64 {
	q.nextSeq++
	return q.nextSeq
}

// RemoveBlock drops every remaining entry sharing seq, used when a block's
// instructions end early via exit_block.
func (q *Queue) RemoveBlock(seq uint64) {
	if seq == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var next *list.Element
	for e := q.l.Front(); e != nil; e = next {
		next = e.Next()
		if e.Value.(Entry).BlockSeq == seq {
			q.l.Remove(e)
		}
	}
}

// HasSeq reports whether any entry sharing seq remains queued, used to
// detect when a tracked block (a final_actions drain, an event trigger's
// block) has fully drained.
func (q *Queue) HasSeq(seq uint64) bool {
	if seq == 0 {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.l.Front(); e != nil; e = e.Next() {
		if e.Value.(Entry).BlockSeq == seq {
			return true
		}
	}
	return false
}

// PopNext removes and returns the front entry. If urgentOnly is true, it
// instead removes and returns the first urgent entry anywhere in the
// queue (used to interrupt an active wait), leaving everything before it
// in place.
func (q *Queue) PopNext(urgentOnly bool) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if urgentOnly {
		for e := q.l.Front(); e != nil; e = e.Next() {
			entry := e.Value.(Entry)
			if entry.Urgent {
				q.l.Remove(e)
				return entry, true
			}
		}
		return Entry{}, false
	}

	front := q.l.Front()
	if front == nil {
		return Entry{}, false
	}
	q.l.Remove(front)
	return front.Value.(Entry), true
}

// PeekNextUrgent returns the first urgent entry without removing it.
func (q *Queue) PeekNextUrgent() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for e := q.l.Front(); e != nil; e = e.Next() {
		entry := e.Value.(Entry)
		if entry.Urgent {
			return entry, true
		}
	}
	return Entry{}, false
}

// RemoveNonImportant drops every non-important entry, used by urgent
// admission and by the terminate "block" pathway.
func (q *Queue) RemoveNonImportant() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeNonImportantLocked()
}

func (q *Queue) removeNonImportantLocked() {
	var next *list.Element
	for e := q.l.Front(); e != nil; e = next {
		next = e.Next()
		if !e.Value.(Entry).Important {
			q.l.Remove(e)
		}
	}
}

// Clear empties the queue (e.g. on unload).
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.l.Init()
}

// IsEmpty reports whether the queue has no entries.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.l.Len() == 0
}

// Len reports the current queue size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.l.Len()
}

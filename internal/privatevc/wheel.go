package privatevc

import (
	"container/heap"
	"time"
)

type TimerKind int

const (
	TimerCooldown TimerKind = iota + 1
	TimerLeave
	TimerOwnerAbsence
)

func (k TimerKind) String() string {
	switch k {
	case TimerCooldown:
		return "cooldown"
	case TimerLeave:
		return "leave"
	case TimerOwnerAbsence:
		return "owner_absence"
	default:
		return "unknown"
	}
}

// TimerKey identifies a scheduled timer. Two keys of the same shape refer
// to the same timer, so scheduling again replaces the earlier deadline.
type TimerKey struct {
	Kind      TimerKind
	ChannelID string
	UserID    string
}

func CooldownKey(userID string) TimerKey {
	return TimerKey{Kind: TimerCooldown, UserID: userID}
}

func LeaveKey(channelID string) TimerKey {
	return TimerKey{Kind: TimerLeave, ChannelID: channelID}
}

func OwnerAbsenceKey(channelID, userID string) TimerKey {
	return TimerKey{Kind: TimerOwnerAbsence, ChannelID: channelID, UserID: userID}
}

type wheelEntry struct {
	key   TimerKey
	at    time.Time
	seq   uint64
	index int
}

type entryHeap []*wheelEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*wheelEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is a min-heap of deadlines with O(log n) cancel by key.
// It is not safe for concurrent use; the lifecycle loop owns it.
type Wheel struct {
	entries entryHeap
	byKey   map[TimerKey]*wheelEntry
	seq     uint64
}

func NewWheel() *Wheel {
	return &Wheel{byKey: make(map[TimerKey]*wheelEntry)}
}

// Insert schedules key at the given instant, replacing any pending timer
// with the same key.
func (w *Wheel) Insert(key TimerKey, at time.Time) {
	w.seq++
	if e, ok := w.byKey[key]; ok {
		e.at = at
		e.seq = w.seq
		heap.Fix(&w.entries, e.index)
		return
	}
	e := &wheelEntry{key: key, at: at, seq: w.seq}
	heap.Push(&w.entries, e)
	w.byKey[key] = e
}

// Cancel removes a pending timer. It reports whether one was pending.
func (w *Wheel) Cancel(key TimerKey) bool {
	e, ok := w.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&w.entries, e.index)
	delete(w.byKey, key)
	return true
}

// Reschedule moves an already pending timer. Unknown keys are ignored.
func (w *Wheel) Reschedule(key TimerKey, at time.Time) bool {
	if _, ok := w.byKey[key]; !ok {
		return false
	}
	w.Insert(key, at)
	return true
}

// Deadline returns when key fires, if it is pending.
func (w *Wheel) Deadline(key TimerKey) (time.Time, bool) {
	e, ok := w.byKey[key]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Next returns the earliest pending deadline.
func (w *Wheel) Next() (time.Time, bool) {
	if len(w.entries) == 0 {
		return time.Time{}, false
	}
	return w.entries[0].at, true
}

// PopDue removes and returns every key whose deadline is not after now,
// earliest first.
func (w *Wheel) PopDue(now time.Time) []TimerKey {
	var due []TimerKey
	for len(w.entries) > 0 && !w.entries[0].at.After(now) {
		e := heap.Pop(&w.entries).(*wheelEntry)
		delete(w.byKey, e.key)
		due = append(due, e.key)
	}
	return due
}

func (w *Wheel) Len() int { return len(w.entries) }

/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scheduler

import (
	"container/heap"
	"time"
)

// firing is one registered upcoming firing of a task.
// ScheduledAt is the instant the cron expression selected; FireAt is when
// the loop should process it (later than ScheduledAt only after a
// transient-failure requeue).
type firing struct {
	TaskUUID    string
	ScheduledAt time.Time
	FireAt      time.Time
}

// firingHeap is a min-heap keyed by FireAt, ties broken by TaskUUID lex
// order. At most one entry per task; the index map supports O(log n)
// removal by uuid.
type firingHeap struct {
	entries []*firing
	index   map[string]int // TaskUUID -> position in entries
}

func newFiringHeap() *firingHeap {
	return &firingHeap{index: make(map[string]int)}
}

func (h *firingHeap) Len() int { return len(h.entries) }

func (h *firingHeap) Less(i, j int) bool {
	if h.entries[i].FireAt.Equal(h.entries[j].FireAt) {
		return h.entries[i].TaskUUID < h.entries[j].TaskUUID
	}
	return h.entries[i].FireAt.Before(h.entries[j].FireAt)
}

func (h *firingHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.index[h.entries[i].TaskUUID] = i
	h.index[h.entries[j].TaskUUID] = j
}

func (h *firingHeap) Push(x any) {
	f := x.(*firing)
	h.index[f.TaskUUID] = len(h.entries)
	h.entries = append(h.entries, f)
}

func (h *firingHeap) Pop() any {
	old := h.entries
	n := len(old)
	f := old[n-1]
	old[n-1] = nil
	h.entries = old[:n-1]
	delete(h.index, f.TaskUUID)
	return f
}

// upsert inserts or replaces the entry for f.TaskUUID
func (h *firingHeap) upsert(f *firing) {
	if pos, ok := h.index[f.TaskUUID]; ok {
		h.entries[pos] = f
		heap.Fix(h, pos)
		return
	}
	heap.Push(h, f)
}

// remove deletes the entry for taskUUID if present
func (h *firingHeap) remove(taskUUID string) bool {
	pos, ok := h.index[taskUUID]
	if !ok {
		return false
	}
	heap.Remove(h, pos)
	return true
}

// peek returns the root without removing it, or nil when empty
func (h *firingHeap) peek() *firing {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[0]
}

// popDue removes and returns the root if FireAt <= now
func (h *firingHeap) popDue(now time.Time) *firing {
	root := h.peek()
	if root == nil || root.FireAt.After(now) {
		return nil
	}
	return heap.Pop(h).(*firing)
}

// contains reports whether an entry exists for taskUUID
func (h *firingHeap) contains(taskUUID string) bool {
	_, ok := h.index[taskUUID]
	return ok
}

package events

import (
	"context"
	"sync"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	KindProgress   Kind = "progress"
	KindState      Kind = "state"
	KindCheckpoint Kind = "checkpoint"
)

// Event is one progress or lifecycle notification for a job.
type Event struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	JobID     string    `json:"job_id"`
	Kind      Kind      `json:"kind"`
	Current   int       `json:"current,omitempty"`
	Total     int       `json:"total,omitempty"`
	Item      string    `json:"item,omitempty"`
	State     string    `json:"state,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Terminal reports whether the event announces the end of a run.
func (e Event) Terminal() bool {
	if e.Kind != KindState {
		return false
	}
	switch e.State {
	case "completed", "stopped", "error":
		return true
	default:
		return false
	}
}

// Hub stores recent events and wakes waiters when new events arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
}

// NewHub constructs a bounded in-memory event buffer.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 1024
	}
	h := &Hub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends evt and returns it with its assigned sequence.
func (h *Hub) Publish(evt Event) Event {
	if h == nil {
		return evt
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
	h.mu.Unlock()
	return evt
}

// Fetch returns events with sequence greater than since, limited to jobID
// when it is non-empty. When wait is true, Fetch blocks until at least one
// matching event is available or ctx ends. The returned cursor is the
// hub's latest sequence.
func (h *Hub) Fetch(ctx context.Context, jobID string, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	stopWake := make(chan struct{})
	if wait {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-stopWake:
			}
		}()
	}
	defer close(stopWake)

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events, next := h.snapshotLocked(jobID, since, limit)
		if len(events) > 0 || !wait {
			return events, next, ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		since = next
		h.cond.Wait()
	}
}

// Tail returns the most recent limit events for jobID (all jobs when empty)
// without blocking.
func (h *Hub) Tail(jobID string, limit int) ([]Event, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for i := len(h.buffer) - 1; i >= 0 && len(out) < limit; i-- {
		if jobID == "" || h.buffer[i].JobID == jobID {
			out = append(out, h.buffer[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, h.nextSeq
}

func (h *Hub) snapshotLocked(jobID string, since uint64, limit int) ([]Event, uint64) {
	var out []Event
	for _, evt := range h.buffer {
		if evt.Sequence <= since {
			continue
		}
		if jobID != "" && evt.JobID != jobID {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			return out, evt.Sequence
		}
	}
	return out, h.nextSeq
}

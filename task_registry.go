package mqttc

import (
	"sync"
	"time"
)

// MatchResult is the outcome of offering an inbound packet to a task's
// predicate.
type MatchResult int

const (
	// NoMatch means the predicate does not claim this packet; the
	// packet is offered to the next task.
	NoMatch MatchResult = iota
	// Match means the predicate claims this packet; the task
	// completes with it and is removed from the registry.
	Match
	// MatchErr means the predicate claims this packet but it
	// represents a failure; the task completes with the accompanying
	// error and is removed from the registry.
	MatchErr
)

// Predicate decides whether an inbound packet completes a pending
// task. It returns the result and, for MatchErr, the error to
// complete the task with.
type Predicate func(pkt Packet) (MatchResult, error)

// TaskHandle refers to a task registered with a Registry. Cancel
// removes the task without affecting any wire exchange already in
// flight.
type TaskHandle struct {
	id       uint64
	registry *TaskRegistry
}

// Cancel removes the task from the registry. If a matching
// acknowledgement later arrives, it is discarded as unmatched.
func (h *TaskHandle) Cancel() {
	h.registry.cancel(h.id)
}

type task struct {
	id        uint64
	predicate Predicate
	done      chan taskResult
	deadline  time.Time
	timer     *time.Timer
}

type taskResult struct {
	pkt Packet
	err error
}

// TaskRegistry correlates inbound control packets with pending
// outbound requests: CONNACK with CONNECT, PUBACK/PUBREC/PUBCOMP with
// PUBLISH, SUBACK/UNSUBACK with SUBSCRIBE/UNSUBSCRIBE, PINGRESP with
// PINGREQ. Exactly one task may claim a given inbound packet.
type TaskRegistry struct {
	mu     sync.Mutex
	tasks  []*task
	nextID uint64
	closed bool
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{}
}

// Register adds a task with an optional deadline (zero means no
// timeout) and returns a handle plus an error channel and a packet
// channel. Exactly one of the two receives exactly one value: the
// matched packet on the packet channel, or a predicate error, a
// Timeout, or a ConnectionClosed from a registry-wide teardown on the
// error channel.
func (r *TaskRegistry) Register(deadline time.Duration, predicate Predicate) (*TaskHandle, <-chan error, <-chan Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID

	t := &task{
		id:        id,
		predicate: predicate,
		done:      make(chan taskResult, 1),
	}

	if r.closed {
		t.done <- taskResult{err: &ConnectionClosed{}}
	} else {
		r.tasks = append(r.tasks, t)

		if deadline > 0 {
			t.deadline = time.Now().Add(deadline)
			t.timer = time.AfterFunc(deadline, func() {
				r.expire(id)
			})
		}
	}

	errCh := make(chan error, 1)
	pktCh := make(chan Packet, 1)
	go func() {
		res := <-t.done
		if res.err != nil {
			errCh <- res.err
			return
		}
		pktCh <- res.pkt
	}()

	return &TaskHandle{id: id, registry: r}, errCh, pktCh
}

// Match offers an inbound packet to every registered task in
// registration order. The first task whose predicate reports Match or
// MatchErr is completed and removed. Returns true if some task
// claimed the packet.
func (r *TaskRegistry) Match(pkt Packet) bool {
	r.mu.Lock()

	for i, t := range r.tasks {
		result, err := t.predicate(pkt)
		switch result {
		case Match:
			r.removeLocked(i)
			r.mu.Unlock()
			r.complete(t, taskResult{pkt: pkt})
			return true
		case MatchErr:
			r.removeLocked(i)
			r.mu.Unlock()
			r.complete(t, taskResult{err: err})
			return true
		}
	}

	r.mu.Unlock()
	return false
}

// CancelAll completes every outstanding task with cause wrapped in
// ConnectionClosed, and marks the registry closed so further
// Register calls fail immediately. Used on connection teardown.
func (r *TaskRegistry) CancelAll(cause error) {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.closed = true
	r.mu.Unlock()

	for _, t := range tasks {
		if t.timer != nil {
			t.timer.Stop()
		}
		r.complete(t, taskResult{err: &ConnectionClosed{Underlying: cause}})
	}
}

// Reopen clears the closed flag so the registry can be reused after a
// successful reconnect.
func (r *TaskRegistry) Reopen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = false
}

func (r *TaskRegistry) cancel(id uint64) {
	r.mu.Lock()
	for i, t := range r.tasks {
		if t.id == id {
			r.removeLocked(i)
			if t.timer != nil {
				t.timer.Stop()
			}
			break
		}
	}
	r.mu.Unlock()
}

func (r *TaskRegistry) expire(id uint64) {
	r.mu.Lock()
	var found *task
	for i, t := range r.tasks {
		if t.id == id {
			found = t
			r.removeLocked(i)
			break
		}
	}
	r.mu.Unlock()

	if found != nil {
		r.complete(found, taskResult{err: Timeout})
	}
}

func (r *TaskRegistry) removeLocked(i int) {
	r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
}

func (r *TaskRegistry) complete(t *task, res taskResult) {
	select {
	case t.done <- res:
	default:
	}
}

// Len returns the number of outstanding tasks.
func (r *TaskRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package scheduler

import (
	"sync"
	"time"
)

// JobState is the scheduling state of one statement of a batch.
type JobState string

const (
	JobPending   JobState = "pending"
	JobSubmitted JobState = "submitted"
	JobDone      JobState = "done"
	JobFailed    JobState = "failed"
)

// Job is one statement of a batch. Slot is its position in the input and the index of the
// worker that runs it.
type Job struct {
	SQL       string
	Slot      int
	State     JobState
	Reason    string
	Submitted time.Time
	Finished  time.Time
}

// Tracker records the state of every job of a batch. It is safe for concurrent use, so a
// caller can pass one in RunOptions and read it from OnProgress or after the batch.
type Tracker struct {
	mu        sync.Mutex
	jobs      []Job
	doneOrder []int
	inFlight  int
	maxFlight int
}

// NewTracker creates a tracker with every statement pending.
func NewTracker(sqls []string) *Tracker {
	jobs := make([]Job, len(sqls))
	for i, sql := range sqls {
		jobs[i] = Job{SQL: sql, Slot: i, State: JobPending}
	}
	return &Tracker{jobs: jobs}
}

// Submit marks slot as holding a scheduler slot.
func (t *Tracker) Submit(slot int, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[slot].State = JobSubmitted
	t.jobs[slot].Submitted = at
	t.inFlight++
	t.maxFlight = max(t.maxFlight, t.inFlight)
}

// Done marks slot as finished successfully.
func (t *Tracker) Done(slot int, at time.Time) {
	t.finish(slot, JobDone, "", at)
}

// Fail marks slot as failed with a reason.
func (t *Tracker) Fail(slot int, reason string, at time.Time) {
	t.finish(slot, JobFailed, reason, at)
}

func (t *Tracker) finish(slot int, state JobState, reason string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jobs[slot].State == JobSubmitted {
		t.inFlight--
	}
	t.jobs[slot].State = state
	t.jobs[slot].Reason = reason
	t.jobs[slot].Finished = at
	t.doneOrder = append(t.doneOrder, slot)
}

// Len returns the number of jobs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Job returns a copy of job slot.
func (t *Tracker) Job(slot int) Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobs[slot]
}

// Jobs returns a snapshot of every job in input order.
func (t *Tracker) Jobs() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Job(nil), t.jobs...)
}

// Counts returns how many jobs are in each state.
func (t *Tracker) Counts() map[JobState]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := map[JobState]int{JobPending: 0, JobSubmitted: 0, JobDone: 0, JobFailed: 0}
	for _, j := range t.jobs {
		out[j.State]++
	}
	return out
}

// Settled returns the number of jobs in a final state.
func (t *Tracker) Settled() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.doneOrder)
}

// InFlight returns the number of jobs currently holding a slot.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// MaxInFlight returns the highest InFlight value seen.
func (t *Tracker) MaxInFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxFlight
}

// DoneOrder returns slots in the order they reached a final state.
func (t *Tracker) DoneOrder() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.doneOrder...)
}

// HasFailures reports whether any job failed.
func (t *Tracker) HasFailures() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.jobs {
		if j.State == JobFailed {
			return true
		}
	}
	return false
}

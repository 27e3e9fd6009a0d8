// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerLifecycle(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker([]string{"a", "b", "c"})

	assert.Equal(t, 3, tr.Counts()[JobPending])

	tr.Submit(0, at)
	tr.Submit(1, at)
	assert.Equal(t, 2, tr.InFlight())

	tr.Fail(1, "boom", at.Add(time.Second))
	tr.Fail(2, "rejected", at.Add(time.Second))
	tr.Done(0, at.Add(2*time.Second))

	assert.Equal(t, 0, tr.InFlight())
	assert.Equal(t, 2, tr.MaxInFlight())
	assert.Equal(t, []int{1, 2, 0}, tr.DoneOrder())
	assert.Equal(t, 3, tr.Settled())
	assert.True(t, tr.HasFailures())

	counts := tr.Counts()
	assert.Equal(t, 1, counts[JobDone])
	assert.Equal(t, 2, counts[JobFailed])
	assert.Equal(t, 0, counts[JobPending])

	job := tr.Job(1)
	assert.Equal(t, "b", job.SQL)
	assert.Equal(t, "boom", job.Reason)
	assert.Equal(t, time.Second, job.Finished.Sub(job.Submitted))
}

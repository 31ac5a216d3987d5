package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusTransitions(t *testing.T) {
	allowed := map[TaskStatus][]TaskStatus{
		TaskStatusWaiting:   {TaskStatusScheduled, TaskStatusRunning},
		TaskStatusScheduled: {TaskStatusRunning, TaskStatusFailed},
		TaskStatusRunning:   {TaskStatusComplete, TaskStatusFailed},
		TaskStatusComplete:  {TaskStatusWaiting},
		TaskStatusFailed:    {TaskStatusWaiting},
	}
	all := []TaskStatus{
		TaskStatusWaiting, TaskStatusScheduled, TaskStatusRunning,
		TaskStatusComplete, TaskStatusFailed,
	}

	// Every arc outside the allowed map must be rejected.
	for _, from := range all {
		for _, to := range all {
			expected := false
			for _, next := range allowed[from] {
				if next == to {
					expected = true
				}
			}
			assert.Equal(t, expected, from.CanTransitionTo(to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestParseTaskStatus(t *testing.T) {
	status, err := ParseTaskStatus("Scheduled")
	assert.NoError(t, err)
	assert.Equal(t, TaskStatusScheduled, status)

	_, err = ParseTaskStatus("scheduled")
	assert.Error(t, err)

	_, err = ParseTaskStatus("")
	assert.Error(t, err)
}

func TestTerminal(t *testing.T) {
	assert.True(t, TaskStatusComplete.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.False(t, TaskStatusWaiting.Terminal())
	assert.False(t, TaskStatusScheduled.Terminal())
	assert.False(t, TaskStatusRunning.Terminal())
}

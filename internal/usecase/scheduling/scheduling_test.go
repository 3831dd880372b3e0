package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionPortCleanup, func(context.Context) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, s.AddTask(Task{Name: "ports", Schedule: "50ms", Action: ActionPortCleanup}))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.GreaterOrEqual(t, count.Load(), int32(1))
}

func TestSchedulerFailingTaskKeepsRunning(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionDecisionSweep, func(context.Context) error {
		count.Add(1)
		return errors.New("boom")
	})
	require.NoError(t, s.AddTask(Task{Name: "sweep", Schedule: "40ms", Action: ActionDecisionSweep}))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(250 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.GreaterOrEqual(t, count.Load(), int32(2))
}

func TestSchedulerAddTaskErrors(t *testing.T) {
	s := NewScheduler(newTestLogger())
	assert.Error(t, s.AddTask(Task{Name: "x", Schedule: "1s", Action: "does_not_exist"}))

	s.RegisterAction(ActionSessionEvict, func(context.Context) error { return nil })
	assert.Error(t, s.AddTask(Task{Name: "x", Schedule: "whenever", Action: ActionSessionEvict}))
	require.NoError(t, s.AddTask(Task{Name: "x", Schedule: "1m", Action: ActionSessionEvict}))
	assert.Error(t, s.AddTask(Task{Name: "x", Schedule: "1m", Action: ActionSessionEvict}))
}

func TestAddTasksSkipsUnregistered(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionPortCleanup, func(context.Context) error { return nil })
	require.NoError(t, s.AddTasks(DefaultTasks()))

	_, ok := s.NextRun("cleanup-stale-ports")
	assert.True(t, ok)
	_, ok = s.NextRun("agent-health")
	assert.False(t, ok)
}

func TestSchedulerContextCancellation(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionPendingFlush, func(context.Context) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, s.AddTask(Task{Name: "flush", Schedule: "50ms", Action: ActionPendingFlush}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	time.Sleep(150 * time.Millisecond)
	cancel()
	require.NoError(t, s.Stop())

	after := count.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, count.Load())
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"@hourly", false},
		{"30s", false},
		{"100ms", false},
		{"", true},
		{"-1s", true},
		{"0s", true},
		{"not-a-schedule", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseSchedule(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConstantDelayNext(t *testing.T) {
	s, err := ParseSchedule("250ms")
	require.NoError(t, err)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(250*time.Millisecond), s.Next(base))
}

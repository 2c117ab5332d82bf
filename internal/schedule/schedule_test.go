package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appLog "ttcal/internal/log"
)

func TestNewRejectsBadSpec(t *testing.T) {
	job := func(context.Context) error { return nil }

	_, err := New("every hour", time.UTC, job, appLog.Discard())
	assert.ErrorContains(t, err, "invalid spec")

	_, err = New("0 */6 * * *", time.UTC, nil, appLog.Discard())
	assert.Error(t, err)

	s, err := New("0 */6 * * *", nil, job, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Local, s.loc)
}

func TestRunStartsImmediatelyAndStopsOnCancel(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New("@every 1s", time.UTC, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, appLog.Discard())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunLogsJobErrors(t *testing.T) {
	rec := appLog.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	s, err := New("0 0 1 1 *", time.UTC, func(context.Context) error {
		cancel()
		return errors.New("boom")
	}, appLog.New(rec, appLog.LevelDebug))
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx))
	failed := rec.Find("scheduled job failed")
	require.Len(t, failed, 1)
	trigger, _ := failed[0].Value("trigger")
	assert.Equal(t, "startup", trigger)
}

package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/riskscan/internal/notify"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisNotifier_DeliversToSubscriber(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan notify.Event, 16)
	go func() {
		_ = notify.Subscribe(ctx, client, func(ev notify.Event) { received <- ev })
	}()

	resultID := uuid.New()
	ev := notify.Event{
		Type:            notify.EventJobCompleted,
		JobID:           uuid.New(),
		UserID:          uuid.New(),
		ResultID:        &resultID,
		OverallRisk:     75,
		OverallSeverity: "HIGH",
	}

	n := notify.NewRedisNotifier(client)
	// The subscriber may not be registered yet, so publish until it sees one.
	require.Eventually(t, func() bool {
		assert.NoError(t, n.Publish(ctx, ev))
		select {
		case got := <-received:
			assert.Equal(t, ev.JobID, got.JobID)
			assert.Equal(t, resultID, *got.ResultID)
			assert.Equal(t, notify.EventJobCompleted, got.Type)
			assert.False(t, got.At.IsZero())
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisNotifier_FailureDoesNotPanic(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()

	n := notify.NewRedisNotifier(client)
	err := n.Publish(context.Background(), notify.Event{Type: notify.EventJobFailed, JobID: uuid.New()})
	assert.Error(t, err)

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), notify.Event{Type: notify.EventJobFailed, JobID: uuid.New()})
	})
}

func TestRedisNotifier_IgnoresCancelledCaller(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := notify.NewRedisNotifier(client).Publish(ctx, notify.Event{Type: notify.EventJobCompleted, JobID: uuid.New()})
	assert.NoError(t, err)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		notify.Nop{}.Notify(context.Background(), notify.Event{})
	})
}

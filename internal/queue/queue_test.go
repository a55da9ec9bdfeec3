package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

func TestMemoryQueueReceiveDelete(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryBroker(10, time.Minute, 0).Queue("requests.s100")

	msg, err := q.ReceiveOne(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg, "empty queue yields no message")

	require.NoError(t, q.Enqueue(ctx, "job-1", []byte(`{"job_id":"job-1"}`)))
	require.NoError(t, q.Enqueue(ctx, "job-2", []byte(`{"job_id":"job-2"}`)))

	first, err := q.ReceiveOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "job-1", first.ID)
	assert.Equal(t, 1, first.Deliveries)
	assert.Equal(t, "requests.s100", first.Queue)

	ready, inFlight := q.Len()
	assert.Equal(t, 1, ready)
	assert.Equal(t, 1, inFlight)

	require.NoError(t, q.Delete(ctx, first))
	require.NoError(t, q.Delete(ctx, first), "deleting twice is a no-op")

	ready, inFlight = q.Len()
	assert.Equal(t, 1, ready)
	assert.Zero(t, inFlight)
}

func TestMemoryQueueRedeliversUnacknowledged(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryBroker(10, time.Second, 0).Queue("intake")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	require.NoError(t, q.Enqueue(ctx, "a", []byte("a")))
	msg, err := q.ReceiveOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	again, err := q.ReceiveOne(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "reserved message is invisible until ack wait passes")

	now = now.Add(2 * time.Second)
	again, err = q.ReceiveOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "a", again.ID)
	assert.Equal(t, 2, again.Deliveries)
}

func TestMemoryQueueDropsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryBroker(10, time.Minute, 0).Queue("requests.s100")

	require.NoError(t, q.Enqueue(ctx, "job-1:request", []byte("first")))
	require.NoError(t, q.Enqueue(ctx, "job-1:request", []byte("second")))
	ready, _ := q.Len()
	assert.Equal(t, 1, ready)

	msg, err := q.ReceiveOne(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, "job-1:request", []byte("third")))
	ready, inFlight := q.Len()
	assert.Zero(t, ready, "in-flight id is still held")
	assert.Equal(t, 1, inFlight)

	require.NoError(t, q.Delete(ctx, msg))
	require.NoError(t, q.Enqueue(ctx, "job-1:request", []byte("fourth")))
	ready, _ = q.Len()
	assert.Equal(t, 1, ready)
}

func TestMemoryQueueFullIsTransient(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryBroker(1, time.Minute, 0).Queue("intake")

	require.NoError(t, q.Enqueue(ctx, "a", nil))
	err := q.Enqueue(ctx, "b", nil)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryQueue))
	assert.True(t, errors.IsTransient(err))
}

func TestMemoryQueueLongPollWakesOnEnqueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryBroker(10, time.Minute, 5*time.Second).Queue("responses.s57")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, "late", []byte("x"))
	}()

	start := time.Now()
	msg, err := q.ReceiveOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "late", msg.ID)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMemoryQueueReceiveHonoursCancellation(t *testing.T) {
	q := NewMemoryBroker(10, time.Minute, time.Minute).Queue("intake")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, err := q.ReceiveOne(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, msg)
}

func TestDeleteRejectsForeignMessage(t *testing.T) {
	q := NewMemoryBroker(10, time.Minute, 0).Queue("intake")
	require.Error(t, q.Delete(context.Background(), &Message{ID: "x"}))
	require.Error(t, q.Delete(context.Background(), nil))
}

func TestRouterResolvesPerStandardChannels(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker(10, time.Minute, 0)
	r := NewRouter(broker)

	req, err := r.Requests(ctx, jobs.S100)
	require.NoError(t, err)
	assert.Equal(t, "requests.s100", req.Name())

	resp, err := r.Responses(ctx, jobs.S57)
	require.NoError(t, err)
	assert.Equal(t, "responses.s57", resp.Name())

	intake, err := r.Intake(ctx)
	require.NoError(t, err)
	assert.Equal(t, IntakeName, intake.Name())

	again, err := r.Requests(ctx, jobs.S100)
	require.NoError(t, err)
	assert.Same(t, req, again)
	assert.Same(t, broker.Queue("requests.s100"), req)
}

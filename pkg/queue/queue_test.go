package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	t.Cleanup(func() {
		client.Del(ctx, QueueActivity, QueueDLQ)
		client.Close()
	})
	client.Del(ctx, QueueActivity, QueueDLQ)
	return client
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := NewQueue(testClient(t), nil)
	ctx := context.Background()

	payload := ActivityPayload{
		SessionID:     "abc1234567",
		ParticipantID: uuid.New(),
		JoinedAt:      time.Now().UTC().Truncate(time.Second),
	}
	if err := q.EnqueueActivity(ctx, JobTypeActivityJoin, payload); err != nil {
		t.Fatalf("EnqueueActivity: %v", err)
	}

	dqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	job, key, err := q.Dequeue(dqCtx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job == nil {
		t.Fatal("Dequeue returned no job")
	}
	if key != QueueActivity {
		t.Errorf("queue key = %q, want %q", key, QueueActivity)
	}
	if job.Type != JobTypeActivityJoin {
		t.Errorf("job type = %q", job.Type)
	}

	var got ActivityPayload
	if err := json.Unmarshal(job.Payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.SessionID != payload.SessionID || got.ParticipantID != payload.ParticipantID {
		t.Errorf("payload = %+v, want %+v", got, payload)
	}
	if !got.JoinedAt.Equal(payload.JoinedAt) {
		t.Errorf("joined_at = %v, want %v", got.JoinedAt, payload.JoinedAt)
	}
}

func TestRetryMovesToDLQAfterMaxAttempts(t *testing.T) {
	client := testClient(t)
	q := NewQueue(client, nil)
	ctx := context.Background()

	job := &Job{
		ID:        uuid.NewString(),
		Type:      JobTypeActivityLeave,
		Payload:   json.RawMessage(`{}`),
		Attempt:   0,
		CreatedAt: time.Now(),
	}

	for i := 0; i < MaxRetries-1; i++ {
		if err := q.Retry(ctx, job); err != nil {
			t.Fatalf("Retry %d: %v", i, err)
		}
		if n, _ := client.LLen(ctx, QueueDLQ).Result(); n != 0 {
			t.Fatalf("job in DLQ after %d attempts", job.Attempt)
		}
		client.Del(ctx, QueueActivity)
	}

	if err := q.Retry(ctx, job); err != nil {
		t.Fatalf("final Retry: %v", err)
	}
	if n, _ := client.LLen(ctx, QueueDLQ).Result(); n != 1 {
		t.Errorf("DLQ length = %d after max retries, want 1", n)
	}
	if n, _ := client.LLen(ctx, QueueActivity).Result(); n != 0 {
		t.Errorf("activity queue length = %d, want 0", n)
	}
}

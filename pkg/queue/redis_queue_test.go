package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"revintel/pkg/domain"
)

func TestEnqueueWritesWaitingJob(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, domain.KindGenerateICP, "cust-1", map[string]string{"productName": "Acme"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != domain.JobWaiting {
		t.Fatalf("expected waiting status, got %s", job.Status)
	}

	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.Kind != domain.KindGenerateICP || got.CustomerID != "cust-1" {
		t.Fatalf("unexpected job: %+v", got)
	}
	var payload map[string]string
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["productName"] != "Acme" {
		t.Fatalf("payload not preserved: %+v", payload)
	}
}

func TestJobLifecycleToCompleted(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, domain.KindGenerateICP, "cust-1", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	active, err := q.markActive(ctx, job.ID)
	if err != nil {
		t.Fatalf("mark active: %v", err)
	}
	if active.Status != domain.JobActive || active.Attempts != 1 {
		t.Fatalf("unexpected active job: %+v", active)
	}

	if err := q.SetProgress(ctx, job.ID, 45); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	got, _, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Progress != 45 {
		t.Fatalf("expected progress 45, got %d", got.Progress)
	}

	result := json.RawMessage(`{"segment":"mid-market"}`)
	if err := q.markCompleted(ctx, job.ID, result); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	got, _, err = q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != domain.JobCompleted || got.Progress != 100 {
		t.Fatalf("expected terminal completed at 100, got %+v", got)
	}
	if string(got.Result) != `{"segment":"mid-market"}` {
		t.Fatalf("result not preserved: %s", got.Result)
	}
}

func TestFailureMessagePreservedVerbatim(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, domain.KindProductExtraction, "cust-1", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.markFailed(ctx, job.ID, "quota exceeded"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, _, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != domain.JobFailed {
		t.Fatalf("expected failed status, got %s", got.Status)
	}
	if got.ErrorMessage != "quota exceeded" {
		t.Fatalf("error message altered: %q", got.ErrorMessage)
	}
}

func TestSetProgressIgnoresTerminalJob(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, domain.KindGenerateICP, "cust-1", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.markCompleted(ctx, job.ID, nil); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := q.SetProgress(ctx, job.ID, 10); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	got, _, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Progress != 100 {
		t.Fatalf("terminal progress must stay at 100, got %d", got.Progress)
	}
}

func TestRequeueAndAckMovesMessageBack(t *testing.T) {
	q, ctx := newTestQueue(t)
	q.ensureGroup(ctx)

	job, err := q.Enqueue(ctx, domain.KindGenerateICP, "cust-1", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	msg := streams[0].Messages[0]

	if err := q.requeueAndAck(ctx, msg.ID, job.ID, string(job.Kind)); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err = q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != job.ID {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func newTestQueue(t *testing.T) (*RedisJobQueue, context.Context) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:jobs",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q, context.Background()
}

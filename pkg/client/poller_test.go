package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"revintel/pkg/domain"
)

// scriptedFetcher replays replies in order, repeating the last one,
// and counts every fetch.
func scriptedFetcher(replies []JobStatusReply) (StatusFetcher, *atomic.Int64) {
	var calls atomic.Int64
	fetch := func(_ context.Context, _ string) (*JobStatusReply, error) {
		n := calls.Add(1)
		idx := int(n) - 1
		if idx >= len(replies) {
			idx = len(replies) - 1
		}
		r := replies[idx]
		return &r, nil
	}
	return fetch, &calls
}

func fastConfig() PollerConfig {
	return PollerConfig{Interval: time.Millisecond, MaxPolls: 60}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDisplayedProgressNeverDecreases(t *testing.T) {
	fetch, _ := scriptedFetcher([]JobStatusReply{
		{Status: domain.JobActive, Progress: 90},
		{Status: domain.JobActive, Progress: 40},
		{Status: domain.JobWaiting},
		{Status: domain.JobCompleted},
	})
	p := NewPoller(fetch, fastConfig())

	var updates []int
	done := make(chan struct{})
	stop := p.Watch(context.Background(), "job-1", WatchCallbacks{
		OnStatusUpdate: func(u StatusUpdate) { updates = append(updates, u.Progress) },
		OnComplete:     func(json.RawMessage) { close(done) },
	})
	defer stop()
	waitFor(t, done, "completion")

	for i := 1; i < len(updates); i++ {
		if updates[i] < updates[i-1] {
			t.Fatalf("progress decreased: %v", updates)
		}
	}
	if last := updates[len(updates)-1]; last != 100 {
		t.Fatalf("final progress = %d, want 100", last)
	}
}

func TestActiveProgressIsBanded(t *testing.T) {
	fetch, _ := scriptedFetcher([]JobStatusReply{
		{Status: domain.JobWaiting},
		{Status: domain.JobActive, Progress: 50},
		{Status: domain.JobCompleted},
	})
	p := NewPoller(fetch, fastConfig())

	var updates []StatusUpdate
	done := make(chan struct{})
	stop := p.Watch(context.Background(), "job-1", WatchCallbacks{
		OnStatusUpdate: func(u StatusUpdate) { updates = append(updates, u) },
		OnComplete:     func(json.RawMessage) { close(done) },
	})
	defer stop()
	waitFor(t, done, "completion")

	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	if updates[0].Progress != 10 || updates[0].Stage != "queued" {
		t.Fatalf("waiting update = %+v", updates[0])
	}
	// 30 + 50*0.6
	if updates[1].Progress != 60 || updates[1].Stage != "processing" {
		t.Fatalf("active update = %+v", updates[1])
	}
	if updates[2].Progress != 100 {
		t.Fatalf("completed update = %+v", updates[2])
	}
}

func TestTerminalStatusStopsPolling(t *testing.T) {
	fetch, calls := scriptedFetcher([]JobStatusReply{
		{Status: domain.JobActive, Progress: 10},
		{Status: domain.JobCompleted},
	})
	p := NewPoller(fetch, fastConfig())

	done := make(chan struct{})
	stop := p.Watch(context.Background(), "job-1", WatchCallbacks{
		OnComplete: func(json.RawMessage) { close(done) },
	})
	defer stop()
	waitFor(t, done, "completion")

	settled := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if after := calls.Load(); after != settled {
		t.Fatalf("polling continued after terminal status: %d -> %d", settled, after)
	}
}

func TestStopSilencesCallbacks(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	fetch := func(ctx context.Context, _ string) (*JobStatusReply, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &JobStatusReply{Status: domain.JobCompleted}, nil
	}
	p := NewPoller(fetch, fastConfig())

	var fired atomic.Int64
	stop := p.Watch(context.Background(), "job-1", WatchCallbacks{
		OnStatusUpdate: func(StatusUpdate) { fired.Add(1) },
		OnComplete:     func(json.RawMessage) { fired.Add(1) },
		OnError:        func(string) { fired.Add(1) },
	})

	// Let the first fetch start, then stop mid-poll.
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	stop()
	close(release)
	time.Sleep(30 * time.Millisecond)

	if n := fired.Load(); n != 0 {
		t.Fatalf("callbacks fired %d times after stop", n)
	}
}

func TestNewWatchReplacesStaleOne(t *testing.T) {
	release := make(chan struct{})
	fetchSlow := func(ctx context.Context, _ string) (*JobStatusReply, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &JobStatusReply{Status: domain.JobCompleted}, nil
	}
	p := NewPoller(fetchSlow, fastConfig())

	var staleFired atomic.Int64
	p.Watch(context.Background(), "job-old", WatchCallbacks{
		OnStatusUpdate: func(StatusUpdate) { staleFired.Add(1) },
		OnComplete:     func(json.RawMessage) { staleFired.Add(1) },
		OnError:        func(string) { staleFired.Add(1) },
	})

	done := make(chan struct{})
	stop := p.Watch(context.Background(), "job-new", WatchCallbacks{
		OnComplete: func(json.RawMessage) { close(done) },
	})
	defer stop()

	close(release)
	waitFor(t, done, "replacement watch completion")

	if n := staleFired.Load(); n != 0 {
		t.Fatalf("stale watch fired %d callbacks after replacement", n)
	}
}

func TestTransientErrorsRetryUntilBudget(t *testing.T) {
	var calls atomic.Int64
	fetch := func(_ context.Context, _ string) (*JobStatusReply, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	}
	cfg := fastConfig()
	cfg.MaxPolls = 5
	p := NewPoller(fetch, cfg)

	errCh := make(chan string, 1)
	stop := p.Watch(context.Background(), "job-1", WatchCallbacks{
		OnError: func(msg string) { errCh <- msg },
	})
	defer stop()

	select {
	case msg := <-errCh:
		if msg != "timed out waiting for job job-1" {
			t.Fatalf("unexpected error message %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for budget failure")
	}
	if n := calls.Load(); n != 5 {
		t.Fatalf("expected exactly 5 polls, got %d", n)
	}
}

func TestFailureMessageSurfacedVerbatim(t *testing.T) {
	fetch, calls := scriptedFetcher([]JobStatusReply{
		{Status: domain.JobActive, Progress: 20},
		{Status: domain.JobFailed, Error: "quota exceeded"},
	})
	p := NewPoller(fetch, fastConfig())

	errCh := make(chan string, 1)
	stop := p.Watch(context.Background(), "job-1", WatchCallbacks{
		OnError: func(msg string) { errCh <- msg },
	})
	defer stop()

	select {
	case msg := <-errCh:
		if msg != "quota exceeded" {
			t.Fatalf("error message = %q, want verbatim server message", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure")
	}

	settled := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if after := calls.Load(); after != settled {
		t.Fatalf("polling continued after failure: %d -> %d", settled, after)
	}
}

func TestContextCancelStopsWatch(t *testing.T) {
	fetch, calls := scriptedFetcher([]JobStatusReply{
		{Status: domain.JobActive, Progress: 10},
	})
	p := NewPoller(fetch, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	var fired atomic.Int64
	p.Watch(ctx, "job-1", WatchCallbacks{
		OnError: func(string) { fired.Add(1) },
	})

	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(30 * time.Millisecond)

	if after := calls.Load(); after != settled {
		t.Fatalf("polling continued after cancel: %d -> %d", settled, after)
	}
	if fired.Load() != 0 {
		t.Fatal("cancellation must not surface as a job error")
	}
}

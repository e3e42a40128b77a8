package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"revintel/pkg/domain"
)

// StatusFetcher fetches one job status snapshot. Client.JobStatus
// satisfies this.
type StatusFetcher func(ctx context.Context, jobID string) (*JobStatusReply, error)

// PollerConfig tunes polling cadence and the cosmetic progress bands.
// The band constants carry no server-side meaning; they only shape the
// progress bar.
type PollerConfig struct {
	// Interval between polls. Defaults to 1500ms.
	Interval time.Duration
	// MaxPolls bounds the total number of polls before the watch is
	// failed client-side. Defaults to 60.
	MaxPolls int
	// WaitingProgress is shown while the job is queued. Default 10.
	WaitingProgress int
	// ActiveBase and ActiveScale map server sub-progress into the
	// mid-band: displayed = ActiveBase + serverProgress*ActiveScale.
	// Defaults 30 and 0.6.
	ActiveBase  int
	ActiveScale float64
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = 1500 * time.Millisecond
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 60
	}
	if c.WaitingProgress <= 0 {
		c.WaitingProgress = 10
	}
	if c.ActiveBase <= 0 {
		c.ActiveBase = 30
	}
	if c.ActiveScale <= 0 {
		c.ActiveScale = 0.6
	}
	return c
}

// StatusUpdate is the normalized progress/stage model handed to the UI.
type StatusUpdate struct {
	Status   domain.JobStatus
	Progress int
	Stage    string
}

// WatchCallbacks receive poll outcomes. Any field may be nil.
type WatchCallbacks struct {
	OnStatusUpdate func(StatusUpdate)
	OnComplete     func(result json.RawMessage)
	OnError        func(message string)
}

// Poller watches one job at a time. Starting a new watch replaces the
// previous one: the stale watch stops and none of its callbacks fire
// again. Safe for concurrent use; instantiate one per widget.
type Poller struct {
	fetch StatusFetcher
	cfg   PollerConfig

	mu     sync.Mutex
	gen    int
	cancel context.CancelFunc
}

// NewPoller builds a poller over fetch with cfg (zero values take
// defaults).
func NewPoller(fetch StatusFetcher, cfg PollerConfig) *Poller {
	return &Poller{fetch: fetch, cfg: cfg.withDefaults()}
}

// Watch starts polling jobID until a terminal status, the poll budget,
// or cancellation. It returns a stop function; calling it (or
// cancelling ctx, or starting another Watch) guarantees no further
// callbacks from this watch.
func (p *Poller) Watch(ctx context.Context, jobID string, cb WatchCallbacks) (stop func()) {
	watchCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(watchCtx, gen, jobID, cb)

	return func() {
		p.mu.Lock()
		if p.gen == gen {
			p.gen++
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
	}
}

// Stop cancels the current watch, if any.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.gen++
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Poller) run(ctx context.Context, gen int, jobID string, cb WatchCallbacks) {
	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.cancel = nil
		}
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	floor := 0
	for polls := 1; ; polls++ {
		reply, err := p.fetch(ctx, jobID)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			displayed := p.bandProgress(reply)
			if displayed < floor {
				displayed = floor
			}
			floor = displayed

			if !p.emitUpdate(gen, cb, StatusUpdate{
				Status:   reply.Status,
				Progress: displayed,
				Stage:    stageFor(reply.Status),
			}) {
				return
			}
			switch reply.Status {
			case domain.JobCompleted:
				p.emitComplete(gen, cb, reply.Result)
				return
			case domain.JobFailed:
				msg := reply.Error
				if msg == "" {
					msg = "job failed"
				}
				p.emitError(gen, cb, msg)
				return
			}
		}
		// Transport errors are transient: keep the last displayed
		// progress and retry on the next tick.

		if polls >= p.cfg.MaxPolls {
			p.emitError(gen, cb, fmt.Sprintf("timed out waiting for job %s", jobID))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) bandProgress(reply *JobStatusReply) int {
	switch reply.Status {
	case domain.JobWaiting:
		return p.cfg.WaitingProgress
	case domain.JobActive:
		server := reply.Progress
		if server < 0 {
			server = 0
		}
		if server > 100 {
			server = 100
		}
		return p.cfg.ActiveBase + int(float64(server)*p.cfg.ActiveScale)
	case domain.JobCompleted:
		return 100
	default:
		return 0
	}
}

func stageFor(status domain.JobStatus) string {
	switch status {
	case domain.JobWaiting:
		return "queued"
	case domain.JobActive:
		return "processing"
	case domain.JobCompleted:
		return "done"
	case domain.JobFailed:
		return "failed"
	default:
		return ""
	}
}

// emit helpers deliver a callback only while this watch is still the
// poller's current generation, so a replaced or stopped watch goes
// silent immediately.

func (p *Poller) emitUpdate(gen int, cb WatchCallbacks, u StatusUpdate) bool {
	p.mu.Lock()
	live := p.gen == gen
	p.mu.Unlock()
	if !live {
		return false
	}
	if cb.OnStatusUpdate != nil {
		cb.OnStatusUpdate(u)
	}
	return true
}

func (p *Poller) emitComplete(gen int, cb WatchCallbacks, result json.RawMessage) {
	p.mu.Lock()
	live := p.gen == gen
	p.mu.Unlock()
	if live && cb.OnComplete != nil {
		cb.OnComplete(result)
	}
}

func (p *Poller) emitError(gen int, cb WatchCallbacks, message string) {
	p.mu.Lock()
	live := p.gen == gen
	p.mu.Unlock()
	if live && cb.OnError != nil {
		cb.OnError(message)
	}
}

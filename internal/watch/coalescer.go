// Package watch translates file-system and configuration events into
// synchronizer calls, coalescing bursts of redundant work.
package watch

import (
	"context"
	"sync"

	"github.com/standardbeagle/testmap/internal/debug"
)

// Input carries the payload of one resync request. Contents is an
// optional in-memory override of the file's on-disk contents.
type Input struct {
	Contents []byte
}

// SyncFunc performs one synchronization of key with the given input.
type SyncFunc func(ctx context.Context, key string, input Input) error

// Coalescer collapses bursts of repeated resync requests for the same
// key into a single in-flight run plus at most one queued follow-up
// carrying the latest input. Intermediate inputs are dropped, never
// queued in order: latest wins. No two runs for the same key ever
// overlap; runs for different keys proceed independently.
type Coalescer struct {
	run SyncFunc

	mu    sync.Mutex
	slots map[string]*slot
}

// slot is the per-key state machine: idle (absent or running=false),
// running, or running with one pending follow-up.
type slot struct {
	running bool
	pending *pendingRun
}

// pendingRun is the single "latest pending input" cell. Every caller
// that scheduled while a run was in flight waits on the same follow-up.
type pendingRun struct {
	input   Input
	waiters []chan<- error
}

// NewCoalescer wraps a sync function.
func NewCoalescer(run SyncFunc) *Coalescer {
	return &Coalescer{run: run, slots: make(map[string]*slot)}
}

// Schedule requests a synchronization covering at least input. The
// returned channel yields the result of a run that started at or after
// this call and is then closed. N rapid calls cause at most two
// underlying runs: the one already in flight plus one more with the
// newest input.
func (c *Coalescer) Schedule(ctx context.Context, key string, input Input) <-chan error {
	ch := make(chan error, 1)

	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}

	if !s.running {
		s.running = true
		c.mu.Unlock()
		go c.execute(ctx, key, input, []chan<- error{ch})
		return ch
	}

	if s.pending == nil {
		s.pending = &pendingRun{input: input}
	} else {
		// Latest wins; the earlier queued input is dropped but its
		// waiters stay attached to the follow-up run.
		s.pending.input = input
	}
	s.pending.waiters = append(s.pending.waiters, ch)
	c.mu.Unlock()

	debug.LogWatch("%s: coalesced into pending slot\n", key)
	return ch
}

// execute runs the sync, then promotes a pending follow-up if one
// arrived meanwhile. Only this goroutine clears the running flag, so a
// slot never has two executors.
func (c *Coalescer) execute(ctx context.Context, key string, input Input, waiters []chan<- error) {
	for {
		err := c.run(ctx, key, input)
		for _, w := range waiters {
			w <- err
			close(w)
		}

		c.mu.Lock()
		s := c.slots[key]
		if s.pending == nil {
			s.running = false
			delete(c.slots, key)
			c.mu.Unlock()
			return
		}
		input = s.pending.input
		waiters = s.pending.waiters
		s.pending = nil
		c.mu.Unlock()
	}
}

// PendingCount reports keys with work in flight or queued (for tests).
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

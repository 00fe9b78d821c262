// Copyright 2024 the qptrie authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package qpqsbr implements quiescent-state-based reclamation: the
// facility a trie's writer uses to find out when it is safe to recycle
// a chunk that lock-free query readers may still be walking.
//
// The trie itself only ever calls the five methods of the QSBR
// interface: Enter/Exit around a reader's traversal, CurrentPhase and
// AdvancePhase at each commit, and DeferUntilQuiescent to ask "tell me
// once every reader that was active is gone." Everything else
// here is this package's own default implementation of that contract —
// a host embedding the trie in, say, an io_uring event loop or a
// thread-per-core server is expected to supply a QSBR tuned to its own
// scheduler instead.
package qpqsbr

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// Phase is a monotonically increasing generation counter. A reader
// active during phase P may still observe memory state from phase P-1;
// it is safe to reclaim anything retired strictly before the oldest
// phase any reader is currently (or was ever, since entering) active in.
type Phase uint64

// QSBR is the collaborator the trie depends on for safe reclamation.
type QSBR interface {
	// Enter marks the calling goroutine as an active reader and
	// returns a token to pass to Exit.
	Enter() Token
	// Exit retires a reader token obtained from Enter.
	Exit(Token)
	// CurrentPhase returns the generation the writer is currently
	// allocating into.
	CurrentPhase() Phase
	// AdvancePhase starts a new generation and returns it.
	AdvancePhase() Phase
	// DeferUntilQuiescent arranges for fn to run once every reader
	// active at call time has exited (or a newer one now dominates
	// the retired phase). fn must not block.
	DeferUntilQuiescent(retired Phase, fn func())
}

// Token identifies one Enter/Exit pairing.
type Token uint64

type readerSlot struct {
	active atomic.Bool
	phase  atomic.Uint64
}

// Default is the package's built-in QSBR: a fixed-size table of reader
// slots (grown under a mutex on overflow) plus a background goroutine
// pool, managed by an errgroup, that polls for quiescence using
// exponential backoff rather than busy-spinning.
type Default struct {
	mu      sync.Mutex
	slots   []*readerSlot
	phase   atomic.Uint64
	nextTok atomic.Uint64

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDefault returns a QSBR ready for use. Call Close when the trie
// holding it is destroyed, to stop its background reclaim workers.
func NewDefault() *Default {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &Default{group: group, ctx: ctx, cancel: cancel}
}

// Close stops background reclaim polling and waits for any in-flight
// DeferUntilQuiescent callbacks to finish.
func (d *Default) Close() error {
	d.cancel()
	return d.group.Wait()
}

func (d *Default) slotFor(tok Token) *readerSlot {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := int(tok)
	if idx >= len(d.slots) {
		grown := make([]*readerSlot, idx+1)
		copy(grown, d.slots)
		for i := len(d.slots); i <= idx; i++ {
			grown[i] = &readerSlot{}
		}
		d.slots = grown
	}
	return d.slots[idx]
}

// Enter implements QSBR.
func (d *Default) Enter() Token {
	tok := Token(d.nextTok.Add(1) - 1)
	slot := d.slotFor(tok)
	slot.phase.Store(d.phase.Load())
	slot.active.Store(true)
	return tok
}

// Exit implements QSBR.
func (d *Default) Exit(tok Token) {
	d.slotFor(tok).active.Store(false)
}

// CurrentPhase implements QSBR.
func (d *Default) CurrentPhase() Phase { return Phase(d.phase.Load()) }

// AdvancePhase implements QSBR.
func (d *Default) AdvancePhase() Phase {
	return Phase(d.phase.Add(1))
}

// quiescent reports whether every active reader has moved past
// retired: no slot is both active and still parked at a phase <=
// retired.
func (d *Default) quiescent(retired Phase) bool {
	d.mu.Lock()
	slots := d.slots
	d.mu.Unlock()
	for _, s := range slots {
		if s.active.Load() && Phase(s.phase.Load()) <= retired {
			return false
		}
	}
	return true
}

// DeferUntilQuiescent implements QSBR: it launches a poll loop, backed
// by exponential backoff, that invokes fn the first time quiescent(retired)
// holds, or immediately if it already does.
func (d *Default) DeferUntilQuiescent(retired Phase, fn func()) {
	if d.quiescent(retired) {
		fn()
		return
	}
	d.group.Go(func() error {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = backoff.DefaultInitialInterval
		b.MaxInterval = backoff.DefaultMaxInterval
		ticker := backoff.NewTicker(b)
		defer ticker.Stop()
		for {
			select {
			case <-d.ctx.Done():
				return nil
			case _, ok := <-ticker.C:
				if !ok {
					return nil
				}
				if d.quiescent(retired) {
					fn()
					return nil
				}
			}
		}
	})
}

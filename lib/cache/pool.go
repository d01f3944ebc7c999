// Copyright 2026 The Flkit Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"sync"

	"github.com/flkit/flkit/lib/blob"
)

// DefaultWorkers is the download pool size when the caller does not
// choose one.
const DefaultWorkers = 20

// Result carries one finished fetch back to its requester.
type Result struct {
	Data []byte
	Err  error
}

type job struct {
	ctx   context.Context
	block blob.Block
	run   FetchFunc
	out   chan Result
}

// Pool is a fixed-size worker pool servicing block fetches. It
// imposes no ordering across jobs; callers that need ordered bytes
// collect results in their own order. A requester that abandons its
// result channel does not cancel the fetch — the buffered channel
// lets the worker complete and move on, and the completed block has
// already been admitted to the cache by the fetch function.
type Pool struct {
	jobs      chan job
	waitGroup sync.WaitGroup
	closeOnce sync.Once
}

// NewPool starts a pool with the given number of workers (zero means
// DefaultWorkers).
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	pool := &Pool{jobs: make(chan job)}
	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}
	return pool
}

func (p *Pool) worker() {
	defer p.waitGroup.Done()
	for pending := range p.jobs {
		data, err := pending.run(pending.ctx, pending.block)
		pending.out <- Result{Data: data, Err: err}
	}
}

// Submit enqueues a fetch and returns the channel its result will
// arrive on. The job runs with a context detached from cancellation:
// an aborted read drops the channel, the download completes anyway,
// and the admit makes the work useful for the next reader.
func (p *Pool) Submit(ctx context.Context, block blob.Block, run FetchFunc) <-chan Result {
	out := make(chan Result, 1)
	p.jobs <- job{
		ctx:   context.WithoutCancel(ctx),
		block: block,
		run:   run,
		out:   out,
	}
	return out
}

// Close stops accepting jobs and waits for in-flight fetches to
// finish. Idempotent.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
		p.waitGroup.Wait()
	})
}

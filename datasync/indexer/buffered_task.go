// Copyright 2019 The klaytn Authors
// This file is part of the chainscope library.
//
// The chainscope library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The chainscope library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the chainscope library. If not, see <http://www.gnu.org/licenses/>.

package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/klaytn/chainscope/log"
	"github.com/klaytn/chainscope/networks/rpc"
	"github.com/pkg/errors"
)

// RunResult is the outcome a task runner reports for one batch.
type RunResult int

const (
	// RunOK marks the batch done.
	RunOK RunResult = iota
	// RunRetry re-queues the batch with an incremented retry counter.
	// Retries are unbounded; a runner that wants to give up returns
	// RunHalt instead.
	RunRetry
	// RunHalt drops the batch for good.
	RunHalt
)

// TaskRunner is the polymorphic callback of a BufferedTask.
type TaskRunner interface {
	Name() string
	// InitStream streams unfinished entries out of the store in chunks of
	// chunkSize. Called once at boot; entries land in the buffer as if an
	// external producer had pushed them.
	InitStream(ctx context.Context, chunkSize int, sink func(entries []interface{})) error
	// Run processes one batch. retries counts how often this batch came
	// back already.
	Run(ctx context.Context, batch []interface{}, retries int) (RunResult, error)
}

// BufferedTaskConfig carries the recognized options of a BufferedTask.
type BufferedTaskConfig struct {
	FlushInterval  time.Duration
	MaxBatchSize   int
	MaxConcurrency int
	InitChunkSize  int
	// Shrinkable queues may drop half their backlog under memory
	// pressure; the init scan re-derives the dropped work later.
	Shrinkable bool
}

// DefaultBufferedTaskConfig returns the options used when the operator
// configures none.
func DefaultBufferedTaskConfig() BufferedTaskConfig {
	return BufferedTaskConfig{
		FlushInterval:  3 * time.Second,
		MaxBatchSize:   100,
		MaxConcurrency: 4,
		InitChunkSize:  1000,
		Shrinkable:     true,
	}
}

type taskBatch struct {
	entries []interface{}
	retries int
}

// BufferedTask is a batching work queue: producers push entries at any rate,
// a flush timer re-chunks them into batches of at most MaxBatchSize, and at
// most MaxConcurrency batches run at a time. Failed batches re-enter the
// queue; order across batches is not preserved.
type BufferedTask struct {
	cfg    BufferedTaskConfig
	runner TaskRunner
	logger log.Logger

	mu       sync.Mutex
	buffer   []interface{}
	batches  []*taskBatch
	inFlight int

	notify  chan struct{}
	stopCh  chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewBufferedTask builds the queue; Start must be called before entries
// flow.
func NewBufferedTask(runner TaskRunner, cfg BufferedTaskConfig, logger log.Logger) *BufferedTask {
	def := DefaultBufferedTaskConfig()
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.InitChunkSize == 0 {
		cfg.InitChunkSize = def.InitChunkSize
	}
	return &BufferedTask{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Start seeds the queue from the store and begins scheduling.
func (t *BufferedTask) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.Errorf("buffered task %s is already started", t.runner.Name())
	}
	t.started = true
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.runner.InitStream(ctx, t.cfg.InitChunkSize, func(entries []interface{}) {
			t.Buffer(entries)
		}); err != nil {
			t.logger.Error("initial stream failed; queued work will be limited to live pushes", "err", err)
		}
	}()

	t.wg.Add(1)
	go t.scheduleLoop(ctx)
	t.logger.Info("buffered task started", "flushInterval", t.cfg.FlushInterval,
		"maxBatchSize", t.cfg.MaxBatchSize, "maxConcurrency", t.cfg.MaxConcurrency)
	return nil
}

// Stop halts scheduling. In-flight batches finish; queued batches are
// dropped (the init scan recovers them on the next start).
func (t *BufferedTask) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// Buffer accepts entries from an external producer. Never blocks.
func (t *BufferedTask) Buffer(entries []interface{}) {
	if len(entries) == 0 {
		return
	}
	t.mu.Lock()
	t.buffer = append(t.buffer, entries...)
	flushNow := len(t.buffer) >= t.cfg.MaxBatchSize
	if flushNow {
		t.flushLocked()
	}
	t.mu.Unlock()
	if flushNow {
		t.kick()
	}
}

// BacklogCount returns the number of entries waiting in the buffer and in
// queued batches.
func (t *BufferedTask) BacklogCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.buffer)
	for _, b := range t.batches {
		n += len(b.entries)
	}
	return n
}

// Shrinkable reports whether the memory monitor may shed this queue.
func (t *BufferedTask) Shrinkable() bool { return t.cfg.Shrinkable }

// Name returns the runner's name for monitoring.
func (t *BufferedTask) Name() string { return t.runner.Name() }

// ShedHalf drops half the backlog and returns how many entries went. The
// dropped work is re-derived from the store by a later init scan.
func (t *BufferedTask) ShedHalf() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0

	keepBatches := len(t.batches) / 2
	for _, b := range t.batches[keepBatches:] {
		dropped += len(b.entries)
	}
	t.batches = t.batches[:keepBatches]

	keepBuffer := len(t.buffer) / 2
	dropped += len(t.buffer) - keepBuffer
	t.buffer = t.buffer[:keepBuffer]

	if dropped > 0 {
		t.logger.Warn("shed backlog under memory pressure", "droppedEntries", dropped)
	}
	return dropped
}

func (t *BufferedTask) kick() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *BufferedTask) scheduleLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			t.flushLocked()
			t.mu.Unlock()
			t.dispatch(ctx)
		case <-t.notify:
			t.dispatch(ctx)
		}
	}
}

// flushLocked re-chunks the accumulation buffer into run-sized batches.
func (t *BufferedTask) flushLocked() {
	for len(t.buffer) > 0 {
		n := t.cfg.MaxBatchSize
		if n > len(t.buffer) {
			n = len(t.buffer)
		}
		entries := make([]interface{}, n)
		copy(entries, t.buffer[:n])
		t.buffer = t.buffer[n:]
		t.batches = append(t.batches, &taskBatch{entries: entries})
	}
}

func (t *BufferedTask) dispatch(ctx context.Context) {
	t.mu.Lock()
	for t.inFlight < t.cfg.MaxConcurrency && len(t.batches) > 0 {
		b := t.batches[0]
		t.batches = t.batches[1:]
		t.inFlight++
		t.wg.Add(1)
		go t.runBatch(ctx, b)
	}
	t.mu.Unlock()
}

func (t *BufferedTask) runBatch(ctx context.Context, b *taskBatch) {
	defer t.wg.Done()
	result, err := t.safeRun(ctx, b)

	t.mu.Lock()
	t.inFlight--
	switch result {
	case RunOK:
	case RunRetry:
		t.logger.Warn("batch failed; re-queueing", "entries", len(b.entries), "retries", b.retries, "err", err)
		t.batches = append(t.batches, &taskBatch{entries: b.entries, retries: b.retries + 1})
	case RunHalt:
		t.logger.Error("batch halted; dropping", "entries", len(b.entries), "retries", b.retries, "err", err)
	}
	t.mu.Unlock()
	t.kick()
}

// retryOrHalt maps an RPC failure onto the batch outcome. Malformed
// responses get one more attempt and are then dropped; everything else is
// retried until it sticks.
func retryOrHalt(err error, retries int) (RunResult, error) {
	if rpc.KindOf(err) == rpc.ErrorKindDecode && retries > 0 {
		return RunHalt, err
	}
	return RunRetry, err
}

// safeRun shields the scheduler from a crashing runner; a panic counts as a
// retry.
func (t *BufferedTask) safeRun(ctx context.Context, b *taskBatch) (result RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = RunRetry
			err = errors.Errorf("task runner panicked: %v", r)
		}
	}()
	return t.runner.Run(ctx, b.entries, b.retries)
}

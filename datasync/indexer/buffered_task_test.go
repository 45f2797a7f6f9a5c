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
	"testing"
	"time"

	"github.com/klaytn/chainscope/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu        sync.Mutex
	batches   [][]interface{}
	retries   []int
	inFlight  int
	maxSeen   int
	initSeed  []interface{}
	outcome   func(batch []interface{}, retries int) (RunResult, error)
	slowdown  time.Duration
	ranSignal chan struct{}
}

func (r *recordingRunner) Name() string { return "recording" }

func (r *recordingRunner) InitStream(ctx context.Context, chunkSize int, sink func([]interface{})) error {
	for start := 0; start < len(r.initSeed); start += chunkSize {
		end := start + chunkSize
		if end > len(r.initSeed) {
			end = len(r.initSeed)
		}
		sink(r.initSeed[start:end])
	}
	return nil
}

func (r *recordingRunner) Run(ctx context.Context, batch []interface{}, retries int) (RunResult, error) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxSeen {
		r.maxSeen = r.inFlight
	}
	r.batches = append(r.batches, batch)
	r.retries = append(r.retries, retries)
	outcome := r.outcome
	r.mu.Unlock()

	if r.slowdown > 0 {
		time.Sleep(r.slowdown)
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	if r.ranSignal != nil {
		select {
		case r.ranSignal <- struct{}{}:
		default:
		}
	}
	if outcome != nil {
		return outcome(batch, retries)
	}
	return RunOK, nil
}

func (r *recordingRunner) totalEntries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func testTaskConfig() BufferedTaskConfig {
	return BufferedTaskConfig{
		FlushInterval:  10 * time.Millisecond,
		MaxBatchSize:   3,
		MaxConcurrency: 2,
		InitChunkSize:  5,
		Shrinkable:     true,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestBufferedTaskBatchesBySize(t *testing.T) {
	runner := &recordingRunner{}
	task := NewBufferedTask(runner, testTaskConfig(), log.NewModuleLogger(log.Indexer))
	require.NoError(t, task.Start(context.Background()))
	defer task.Stop()

	task.Buffer([]interface{}{1, 2, 3, 4, 5, 6, 7})
	waitFor(t, func() bool { return runner.totalEntries() == 7 })

	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, b := range runner.batches {
		assert.LessOrEqual(t, len(b), 3)
	}
}

func TestBufferedTaskSeedsFromInitStream(t *testing.T) {
	runner := &recordingRunner{initSeed: []interface{}{"a", "b", "c", "d"}}
	task := NewBufferedTask(runner, testTaskConfig(), log.NewModuleLogger(log.Indexer))
	require.NoError(t, task.Start(context.Background()))
	defer task.Stop()

	waitFor(t, func() bool { return runner.totalEntries() == 4 })
}

func TestBufferedTaskRetryIncrementsCounter(t *testing.T) {
	var once sync.Once
	runner := &recordingRunner{}
	runner.outcome = func(batch []interface{}, retries int) (RunResult, error) {
		failed := false
		once.Do(func() { failed = true })
		if failed {
			return RunRetry, assert.AnError
		}
		return RunOK, nil
	}
	task := NewBufferedTask(runner, testTaskConfig(), log.NewModuleLogger(log.Indexer))
	require.NoError(t, task.Start(context.Background()))
	defer task.Stop()

	task.Buffer([]interface{}{1})
	waitFor(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		for _, r := range runner.retries {
			if r == 1 {
				return true
			}
		}
		return false
	})
}

func TestBufferedTaskPanicCountsAsRetry(t *testing.T) {
	var once sync.Once
	runner := &recordingRunner{}
	runner.outcome = func(batch []interface{}, retries int) (RunResult, error) {
		crashed := false
		once.Do(func() { crashed = true })
		if crashed {
			panic("runner crash")
		}
		return RunOK, nil
	}
	task := NewBufferedTask(runner, testTaskConfig(), log.NewModuleLogger(log.Indexer))
	require.NoError(t, task.Start(context.Background()))
	defer task.Stop()

	task.Buffer([]interface{}{1})
	waitFor(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.retries) >= 2 && runner.retries[len(runner.retries)-1] == 1
	})
}

func TestBufferedTaskHaltDrops(t *testing.T) {
	runner := &recordingRunner{}
	runner.outcome = func(batch []interface{}, retries int) (RunResult, error) {
		return RunHalt, assert.AnError
	}
	task := NewBufferedTask(runner, testTaskConfig(), log.NewModuleLogger(log.Indexer))
	require.NoError(t, task.Start(context.Background()))
	defer task.Stop()

	task.Buffer([]interface{}{1, 2, 3})
	waitFor(t, func() bool { return runner.totalEntries() == 3 })
	time.Sleep(50 * time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Len(t, runner.batches, 1, "halted batch must not come back")
}

func TestBufferedTaskConcurrencyBound(t *testing.T) {
	runner := &recordingRunner{slowdown: 20 * time.Millisecond}
	task := NewBufferedTask(runner, testTaskConfig(), log.NewModuleLogger(log.Indexer))
	require.NoError(t, task.Start(context.Background()))
	defer task.Stop()

	entries := make([]interface{}, 30)
	for i := range entries {
		entries[i] = i
	}
	task.Buffer(entries)
	waitFor(t, func() bool { return runner.totalEntries() == 30 })

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.LessOrEqual(t, runner.maxSeen, 2, "in-flight batches exceeded max concurrency")
}

func TestBufferedTaskShedHalf(t *testing.T) {
	runner := &recordingRunner{}
	cfg := testTaskConfig()
	cfg.FlushInterval = time.Hour // keep everything in the backlog
	cfg.MaxBatchSize = 2
	task := NewBufferedTask(runner, cfg, log.NewModuleLogger(log.Indexer))

	entries := make([]interface{}, 10)
	for i := range entries {
		entries[i] = i
	}
	task.Buffer(entries) // size-triggered flush chunks these into batches
	before := task.BacklogCount()
	require.Equal(t, 10, before)

	dropped := task.ShedHalf()
	assert.Equal(t, before-task.BacklogCount(), dropped)
	assert.LessOrEqual(t, task.BacklogCount(), 5)
	assert.Greater(t, dropped, 0)
}

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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkRangesAscending(t *testing.T) {
	got := chunkRanges([]Range{{First: 0, Last: 9}}, 4)
	assert.Equal(t, []Range{{0, 3}, {4, 7}, {8, 9}}, got)
}

func TestChunkRangesDescending(t *testing.T) {
	got := chunkRanges([]Range{{First: 9, Last: 6}}, -4)
	assert.Equal(t, []Range{{9, 6}}, got)

	got = chunkRanges([]Range{{First: 9, Last: 0}}, -4)
	assert.Equal(t, []Range{{9, 6}, {5, 2}, {1, 0}}, got)
}

// A re-queued range smaller than the step must come back as a single chunk.
func TestChunkRangesSmallerThanStep(t *testing.T) {
	got := chunkRanges([]Range{{First: 2, Last: 0}}, -10)
	assert.Equal(t, []Range{{2, 0}}, got)

	got = chunkRanges([]Range{{First: 5, Last: 5}}, -10)
	assert.Equal(t, []Range{{5, 5}}, got)
}

func TestFiniteSequenceDrains(t *testing.T) {
	seq, err := NewFiniteSequence([]Range{{9, 0}}, -4)
	require.NoError(t, err)

	var popped []Range
	for {
		r, ok := seq.Pop()
		if !ok {
			break
		}
		popped = append(popped, r)
	}
	assert.Equal(t, []Range{{9, 6}, {5, 2}, {1, 0}}, popped)

	_, ok := seq.Pop()
	assert.False(t, ok, "a drained finite sequence stays halted")
}

func TestSequenceQueueRequeuesAtTail(t *testing.T) {
	seq, err := NewFiniteSequence([]Range{{9, 6}, {5, 2}}, -4)
	require.NoError(t, err)

	first, ok := seq.Pop()
	require.True(t, ok)
	seq.Queue(first)

	second, ok := seq.Pop()
	require.True(t, ok)
	assert.Equal(t, Range{5, 2}, second)

	retried, ok := seq.Pop()
	require.True(t, ok)
	assert.Equal(t, first, retried)
}

func TestInfiniteSequenceCap(t *testing.T) {
	seq, err := NewInfiniteSequence(100, 2)
	require.NoError(t, err)

	r, ok := seq.Pop()
	require.True(t, ok)
	assert.Equal(t, Range{100, 101}, r)

	r, ok = seq.Pop()
	require.True(t, ok)
	assert.Equal(t, Range{102, 103}, r)

	seq.Cap()
	seq.Queue(Range{100, 101})

	r, ok = seq.Pop()
	require.True(t, ok)
	assert.Equal(t, Range{100, 101}, r, "capped sequence still drains its queue")

	_, ok = seq.Pop()
	assert.False(t, ok)
}

func TestZeroStepRejected(t *testing.T) {
	_, err := NewFiniteSequence(nil, 0)
	assert.Equal(t, ErrZeroStep, err)
	_, err = NewInfiniteSequence(0, 0)
	assert.Equal(t, ErrZeroStep, err)
}

// Concurrent consumers must never receive the same range twice.
func TestSequenceConcurrentPop(t *testing.T) {
	var ranges []Range
	for i := uint64(0); i < 100; i++ {
		ranges = append(ranges, Range{i * 10, i*10 + 9})
	}
	seq, err := NewFiniteSequence(ranges, 10)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[Range]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				r, ok := seq.Pop()
				if !ok {
					return
				}
				mu.Lock()
				seen[r]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	for r, n := range seen {
		assert.Equal(t, 1, n, "range %v popped more than once", r)
	}
}

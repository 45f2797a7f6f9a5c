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

	"github.com/pkg/errors"
)

// Range is an inclusive span of block numbers. First > Last means the range
// is walked downwards.
type Range struct {
	First uint64
	Last  uint64
}

// Len returns the number of block numbers the range covers.
func (r Range) Len() uint64 {
	if r.First <= r.Last {
		return r.Last - r.First + 1
	}
	return r.First - r.Last + 1
}

// Descending reports whether the range is walked downwards.
func (r Range) Descending() bool { return r.First > r.Last }

var ErrZeroStep = errors.New("sequence step must be nonzero")

// Sequence hands out work ranges to concurrent consumers. A finite sequence
// drains a fixed queue; an infinite one extends an open tail until capped.
// Failed ranges go back in via Queue.
type Sequence struct {
	mu       sync.Mutex
	queue    []Range
	step     int64
	infinite bool
	current  uint64
}

// NewFiniteSequence pre-chunks the given ranges by |step|, preserving each
// range's direction, and serves them first-in first-out.
func NewFiniteSequence(ranges []Range, step int64) (*Sequence, error) {
	if step == 0 {
		return nil, ErrZeroStep
	}
	return &Sequence{queue: chunkRanges(ranges, step), step: step}, nil
}

// NewInfiniteSequence serves |step|-sized ranges from first upwards without
// end, until Cap is called.
func NewInfiniteSequence(first uint64, step int64) (*Sequence, error) {
	if step == 0 {
		return nil, ErrZeroStep
	}
	return &Sequence{step: step, infinite: true, current: first}, nil
}

// Pop hands out the next range. The second return is false once a finite
// sequence is exhausted; concurrent callers always receive distinct ranges.
func (s *Sequence) Pop() (Range, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		r := s.queue[0]
		s.queue = s.queue[1:]
		return r, true
	}
	if !s.infinite {
		return Range{}, false
	}
	size := s.step
	if size < 0 {
		size = -size
	}
	r := Range{First: s.current, Last: s.current + uint64(size) - 1}
	s.current = r.Last + 1
	return r, true
}

// Queue re-inserts a range at the tail, re-chunked in case the caller hands
// back something wider than the step.
func (s *Sequence) Queue(r Range) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, chunkRanges([]Range{r}, s.step)...)
}

// Cap turns an infinite sequence finite. Pop drains whatever is queued and
// then halts.
func (s *Sequence) Cap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infinite = false
}

// chunkRanges splits every range into |step|-sized pieces. Both endpoints of
// the input are preserved and the walk direction of each range is kept.
func chunkRanges(ranges []Range, step int64) []Range {
	size := step
	if size < 0 {
		size = -size
	}
	chunk := uint64(size)

	var out []Range
	for _, r := range ranges {
		if r.Descending() {
			cur := r.First
			for {
				last := r.Last
				if cur-r.Last+1 > chunk {
					last = cur - chunk + 1
				}
				out = append(out, Range{First: cur, Last: last})
				if last == r.Last {
					break
				}
				cur = last - 1
			}
		} else {
			cur := r.First
			for {
				last := r.Last
				if r.Last-cur+1 > chunk {
					last = cur + chunk - 1
				}
				out = append(out, Range{First: cur, Last: last})
				if last == r.Last {
					break
				}
				cur = last + 1
			}
		}
	}
	return out
}

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
	"time"
)

// BoundedInterval produces the catch-up timer period. The period doubles
// while the chain has nothing missing and snaps back to the minimum as soon
// as gaps reappear.
type BoundedInterval struct {
	mu  sync.Mutex
	lo  time.Duration
	hi  time.Duration
	cur time.Duration
}

func NewBoundedInterval(lo, hi time.Duration) *BoundedInterval {
	if hi < lo {
		hi = lo
	}
	return &BoundedInterval{lo: lo, hi: hi, cur: lo}
}

// Current returns the period without changing it.
func (b *BoundedInterval) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// Increase doubles the period, capped at the upper bound, and returns it.
func (b *BoundedInterval) Increase() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cur *= 2
	if b.cur > b.hi {
		b.cur = b.hi
	}
	return b.cur
}

// Decrease resets the period to the lower bound and returns it.
func (b *BoundedInterval) Decrease() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cur = b.lo
	return b.cur
}

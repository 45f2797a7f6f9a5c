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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBoundedInterval(t *testing.T) {
	b := NewBoundedInterval(time.Second, 10*time.Second)
	assert.Equal(t, time.Second, b.Current())

	assert.Equal(t, 2*time.Second, b.Increase())
	assert.Equal(t, 4*time.Second, b.Increase())
	assert.Equal(t, 8*time.Second, b.Increase())
	assert.Equal(t, 10*time.Second, b.Increase(), "period is capped at the upper bound")
	assert.Equal(t, 10*time.Second, b.Increase())

	assert.Equal(t, time.Second, b.Decrease(), "decrease resets to the lower bound")
	assert.Equal(t, 2*time.Second, b.Increase())
}

func TestBoundedIntervalDegenerateBounds(t *testing.T) {
	b := NewBoundedInterval(5*time.Second, time.Second)
	assert.Equal(t, 5*time.Second, b.Increase(), "hi below lo collapses to lo")
}

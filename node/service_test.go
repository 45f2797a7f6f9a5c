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

package node

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeService struct {
	name     string
	events   *[]string
	startErr error
}

func (s *probeService) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	*s.events = append(*s.events, "start:"+s.name)
	return nil
}

func (s *probeService) Stop() error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestNodeLifecycleOrder(t *testing.T) {
	var events []string
	n := New()
	require.NoError(t, n.Register("a", &probeService{name: "a", events: &events}))
	require.NoError(t, n.Register("b", &probeService{name: "b", events: &events}))

	require.NoError(t, n.Start())
	assert.Error(t, n.Start(), "double start is rejected")
	require.NoError(t, n.Stop())
	assert.Error(t, n.Stop(), "double stop is rejected")

	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, events)
}

func TestNodeStartFailureUnwinds(t *testing.T) {
	var events []string
	n := New()
	require.NoError(t, n.Register("a", &probeService{name: "a", events: &events}))
	require.NoError(t, n.Register("boom", &probeService{name: "boom", events: &events, startErr: errors.New("no")}))

	require.Error(t, n.Start())
	assert.Equal(t, []string{"start:a", "stop:a"}, events)
}

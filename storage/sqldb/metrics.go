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

package sqldb

import (
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
)

var (
	importTimer = metrics.NewRegisteredTimer("chainscope/importer/all", nil)

	runnerTimerMu sync.Mutex
	runnerTimers  = map[string]metrics.Timer{}
)

func observeRunner(name string, elapsed time.Duration) {
	runnerTimerMu.Lock()
	timer, ok := runnerTimers[name]
	if !ok {
		timer = metrics.NewRegisteredTimer("chainscope/importer/runner/"+name, nil)
		runnerTimers[name] = timer
	}
	runnerTimerMu.Unlock()
	timer.Update(elapsed)
}

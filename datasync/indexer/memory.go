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
	"runtime"
	"sync"
	"time"

	"github.com/klaytn/chainscope/log"
	"github.com/pbnjay/memory"
)

const (
	// DefaultMemoryLimit is the soft limit on aggregate queue memory.
	DefaultMemoryLimit = 1 << 30
	// memoryProbeInterval is how often usage is sampled.
	memoryProbeInterval = time.Minute
)

// ShrinkableQueue is a work queue the monitor may shed under pressure.
type ShrinkableQueue interface {
	Name() string
	BacklogCount() int
	Shrinkable() bool
	ShedHalf() int
}

// MemoryMonitor samples heap usage once a minute. Above the soft limit,
// every shrinkable queue drops half its backlog; the dropped work is
// re-derived from the store by later init scans. When every queue is
// already empty there is nothing to shed and an error is logged instead.
type MemoryMonitor struct {
	limit  uint64
	logger log.Logger

	mu     sync.Mutex
	queues []ShrinkableQueue

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewMemoryMonitor builds a monitor with the given soft limit; zero selects
// the default, bounded by a quarter of system memory on small hosts.
func NewMemoryMonitor(limit uint64) *MemoryMonitor {
	if limit == 0 {
		limit = DefaultMemoryLimit
		if total := memory.TotalMemory(); total > 0 && total/4 < limit {
			limit = total / 4
		}
	}
	return &MemoryMonitor{
		limit:  limit,
		logger: log.NewModuleLogger(log.Indexer),
		quit:   make(chan struct{}),
	}
}

// Register adds a queue to the monitored set.
func (m *MemoryMonitor) Register(q ShrinkableQueue) {
	m.mu.Lock()
	m.queues = append(m.queues, q)
	m.mu.Unlock()
}

// Start launches the probe loop.
func (m *MemoryMonitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(memoryProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.quit:
				return
			case <-ticker.C:
				m.probe()
			}
		}
	}()
	m.logger.Info("memory monitor started", "softLimit", m.limit)
}

// Stop halts the probe loop.
func (m *MemoryMonitor) Stop() {
	close(m.quit)
	m.wg.Wait()
}

func (m *MemoryMonitor) probe() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	memoryUsageGauge.Update(int64(stats.HeapAlloc))
	if stats.HeapAlloc <= m.limit {
		return
	}

	m.mu.Lock()
	queues := append([]ShrinkableQueue{}, m.queues...)
	m.mu.Unlock()

	shed := 0
	for _, q := range queues {
		if !q.Shrinkable() || q.BacklogCount() == 0 {
			continue
		}
		dropped := q.ShedHalf()
		shed += dropped
		m.logger.Warn("queue backlog halved", "queue", q.Name(), "droppedEntries", dropped)
	}
	if shed == 0 {
		m.logger.Error("memory over soft limit but all queues are minimal",
			"heapAlloc", stats.HeapAlloc, "softLimit", m.limit)
		return
	}
	memoryShedCounter.Inc(int64(shed))
}

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
	"fmt"
	"sync"

	"github.com/klaytn/chainscope/log"
	"github.com/pkg/errors"
)

// Config aggregates every indexer tunable.
type Config struct {
	BlockFetcher     BlockFetcherConfig
	BalanceTask      BufferedTaskConfig
	InternalTxTask   BufferedTaskConfig
	TokenBalanceTask BufferedTaskConfig
	// MemoryLimit is the soft limit on queue memory; zero selects the
	// default.
	MemoryLimit uint64
	// NoDefaultStart keeps Start from launching the block fetcher loops;
	// blocks are then only imported through ImportRange.
	NoDefaultStart bool
}

// DefaultConfig returns the tunables used when the operator configures
// none.
func DefaultConfig() *Config {
	return &Config{
		BlockFetcher:     DefaultBlockFetcherConfig(),
		BalanceTask:      DefaultBufferedTaskConfig(),
		InternalTxTask:   DefaultBufferedTaskConfig(),
		TokenBalanceTask: DefaultBufferedTaskConfig(),
	}
}

// Service assembles and supervises the whole indexing pipeline. Worker
// crashes stay local: pipeline loops recover and resume on the next tick,
// buffered-task batches re-enter their queue.
type Service struct {
	cfg    *Config
	logger log.Logger

	blockFetcher        *BlockFetcher
	balanceFetcher      *BalanceFetcher
	itxFetcher          *InternalTransactionFetcher
	tokenBalanceFetcher *TokenBalanceFetcher
	memMonitor          *MemoryMonitor

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	rangeWg sync.WaitGroup
}

// New wires the service out of its collaborators.
func New(cfg *Config, reader ChainReader, store ChainStore, importer ChainImporter) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	balanceFetcher := NewBalanceFetcher(reader, store, importer, cfg.BalanceTask)
	itxFetcher := NewInternalTransactionFetcher(reader, store, importer, balanceFetcher, cfg.InternalTxTask)
	tokenBalanceFetcher := NewTokenBalanceFetcher(reader, store, importer, cfg.TokenBalanceTask)
	blockFetcher := NewBlockFetcher(cfg.BlockFetcher, reader, store, importer,
		balanceFetcher, itxFetcher, tokenBalanceFetcher)

	memMonitor := NewMemoryMonitor(cfg.MemoryLimit)
	memMonitor.Register(balanceFetcher.Task())
	memMonitor.Register(itxFetcher.Task())
	memMonitor.Register(tokenBalanceFetcher.Task())

	return &Service{
		cfg:                 cfg,
		logger:              log.NewModuleLogger(log.Indexer),
		blockFetcher:        blockFetcher,
		balanceFetcher:      balanceFetcher,
		itxFetcher:          itxFetcher,
		tokenBalanceFetcher: tokenBalanceFetcher,
		memMonitor:          memMonitor,
	}
}

// Start launches every subsystem.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("indexer is already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.balanceFetcher.Task().Start(ctx); err != nil {
		return err
	}
	if err := s.itxFetcher.Task().Start(ctx); err != nil {
		return err
	}
	if err := s.tokenBalanceFetcher.Task().Start(ctx); err != nil {
		return err
	}
	if !s.cfg.NoDefaultStart {
		s.blockFetcher.Start(ctx)
	}
	s.memMonitor.Start()

	s.started = true
	s.logger.Info("indexer service started")
	return nil
}

// Stop terminates every subsystem, waiting for in-flight work.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("indexer is not running")
	}
	s.cancel()
	s.memMonitor.Stop()
	s.blockFetcher.Stop()
	s.rangeWg.Wait()
	s.tokenBalanceFetcher.Task().Stop()
	s.itxFetcher.Task().Stop()
	s.balanceFetcher.Task().Stop()
	s.started = false
	s.logger.Info("indexer service stopped")
	return nil
}

// ImportRange imports an explicit block range once, outside the regular
// loops, reusing the catch-up pipeline. The first failing chunk ends the
// import and its error is returned; that chunk is not retried.
func (s *Service) ImportRange(ctx context.Context, first, last uint64) error {
	step := int64(s.blockFetcher.cfg.BlocksBatchSize)
	if first > last {
		step = -step
	}
	seq, err := NewFiniteSequence([]Range{{First: first, Last: last}}, step)
	if err != nil {
		return err
	}
	s.rangeWg.Add(1)
	defer s.rangeWg.Done()
	for {
		r, ok := seq.Pop()
		if !ok {
			return nil
		}
		if err := s.blockFetcher.importRange(ctx, seq, r, broadcastCatchup); err != nil {
			return err
		}
	}
}

// Status summarizes the service state for operators.
func (s *Service) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("{started: %v, balanceBacklog: %d, traceBacklog: %d, tokenBalanceBacklog: %d}",
		s.started, s.balanceFetcher.Task().BacklogCount(),
		s.itxFetcher.Task().BacklogCount(), s.tokenBalanceFetcher.Task().BacklogCount())
}

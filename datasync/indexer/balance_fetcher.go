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

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/client"
	"github.com/klaytn/chainscope/common"
	"github.com/klaytn/chainscope/log"
	"github.com/klaytn/chainscope/storage/sqldb"
)

// BalanceFetcher resolves native-coin balances for addresses the pipeline
// has seen, off the hot import path.
type BalanceFetcher struct {
	task     *BufferedTask
	client   ChainReader
	store    ChainStore
	importer ChainImporter
	logger   log.Logger
}

// NewBalanceFetcher builds the fetcher and its queue.
func NewBalanceFetcher(reader ChainReader, store ChainStore, importer ChainImporter, cfg BufferedTaskConfig) *BalanceFetcher {
	f := &BalanceFetcher{
		client:   reader,
		store:    store,
		importer: importer,
		logger:   log.NewModuleLogger(log.BalanceFetcher),
	}
	f.task = NewBufferedTask(f, cfg, f.logger)
	return f
}

func (f *BalanceFetcher) Name() string { return "balance_fetcher" }

// Task exposes the underlying queue for lifecycle and memory management.
func (f *BalanceFetcher) Task() *BufferedTask { return f.task }

// AsyncFetch enqueues balance lookups.
func (f *BalanceFetcher) AsyncFetch(refs []client.BalanceRef) {
	entries := make([]interface{}, len(refs))
	for i, ref := range refs {
		entries[i] = ref
	}
	f.task.Buffer(entries)
}

// InitStream seeds the queue with every stored coin balance whose value was
// never fetched.
func (f *BalanceFetcher) InitStream(ctx context.Context, chunkSize int, sink func([]interface{})) error {
	return f.store.StreamUnfetchedBalances(ctx, chunkSize, func(page []sqldb.UnfetchedBalance) {
		entries := make([]interface{}, len(page))
		for i, row := range page {
			entries[i] = client.BalanceRef{Address: row.AddressHash, BlockNumber: row.BlockNumber}
		}
		sink(entries)
	})
}

// Run fetches one batch. Duplicate addresses collapse to their highest
// block number first; the producer sees the same address once per
// neighbouring block and fanning every sighting into an upsert would grow
// quadratically.
func (f *BalanceFetcher) Run(ctx context.Context, batch []interface{}, retries int) (RunResult, error) {
	byAddress := map[common.Address]uint64{}
	for _, entry := range batch {
		ref, ok := entry.(client.BalanceRef)
		if !ok {
			f.logger.Error("dropping entry of unexpected type", "entry", entry)
			continue
		}
		if blockNumber, seen := byAddress[ref.Address]; !seen || ref.BlockNumber > blockNumber {
			byAddress[ref.Address] = ref.BlockNumber
		}
	}
	if len(byAddress) == 0 {
		return RunOK, nil
	}
	refs := make([]client.BalanceRef, 0, len(byAddress))
	for addr, blockNumber := range byAddress {
		refs = append(refs, client.BalanceRef{Address: addr, BlockNumber: blockNumber})
	}

	balances, err := f.client.FetchBalances(ctx, refs)
	if err != nil {
		return retryOrHalt(err, retries)
	}

	addresses := make([]*types.Account, 0, len(balances))
	for _, b := range balances {
		blockNumber := b.BlockNumber
		addresses = append(addresses, &types.Account{
			Hash:                      b.AddressHash,
			FetchedBalance:            b.Value,
			FetchedBalanceBlockNumber: &blockNumber,
		})
	}
	_, err = f.importer.All(ctx, &sqldb.Options{
		Addresses:    addresses,
		CoinBalances: balances,
	})
	if err != nil {
		return RunRetry, err
	}
	balanceBatchMeter.Mark(int64(len(balances)))
	return RunOK, nil
}

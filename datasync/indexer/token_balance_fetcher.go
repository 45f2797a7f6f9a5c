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
	"github.com/klaytn/chainscope/log"
	"github.com/klaytn/chainscope/storage/sqldb"
)

// TokenBalanceFetcher resolves balanceOf values for transfer participants
// and keeps the current-balance projection fresh.
type TokenBalanceFetcher struct {
	task     *BufferedTask
	client   ChainReader
	store    ChainStore
	importer ChainImporter
	logger   log.Logger
}

// NewTokenBalanceFetcher builds the fetcher and its queue.
func NewTokenBalanceFetcher(reader ChainReader, store ChainStore, importer ChainImporter, cfg BufferedTaskConfig) *TokenBalanceFetcher {
	f := &TokenBalanceFetcher{
		client:   reader,
		store:    store,
		importer: importer,
		logger:   log.NewModuleLogger(log.TokenBalanceFetcher),
	}
	f.task = NewBufferedTask(f, cfg, f.logger)
	return f
}

func (f *TokenBalanceFetcher) Name() string { return "token_balance_fetcher" }

// Task exposes the underlying queue for lifecycle and memory management.
func (f *TokenBalanceFetcher) Task() *BufferedTask { return f.task }

// AsyncFetch enqueues token-balance lookups.
func (f *TokenBalanceFetcher) AsyncFetch(refs []client.TokenBalanceRef) {
	entries := make([]interface{}, len(refs))
	for i, ref := range refs {
		entries[i] = ref
	}
	f.task.Buffer(entries)
}

// InitStream seeds the queue with every stored token balance whose value
// was never fetched.
func (f *TokenBalanceFetcher) InitStream(ctx context.Context, chunkSize int, sink func([]interface{})) error {
	return f.store.StreamUnfetchedTokenBalances(ctx, chunkSize, func(page []sqldb.UnfetchedTokenBalance) {
		entries := make([]interface{}, len(page))
		for i, row := range page {
			entries[i] = client.TokenBalanceRef{
				Address:              row.AddressHash,
				TokenContractAddress: row.TokenContractAddress,
				BlockNumber:          row.BlockNumber,
			}
		}
		sink(entries)
	})
}

// Run fetches one batch, deduplicated on the full (address, token, block)
// key.
func (f *TokenBalanceFetcher) Run(ctx context.Context, batch []interface{}, retries int) (RunResult, error) {
	seen := map[client.TokenBalanceRef]struct{}{}
	var refs []client.TokenBalanceRef
	for _, entry := range batch {
		ref, ok := entry.(client.TokenBalanceRef)
		if !ok {
			f.logger.Error("dropping entry of unexpected type", "entry", entry)
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return RunOK, nil
	}

	balances, err := f.client.FetchTokenBalances(ctx, refs)
	if err != nil {
		return retryOrHalt(err, retries)
	}

	var addresses []*types.Account
	var currents []*types.CurrentTokenBalance
	for _, b := range balances {
		addresses = append(addresses, &types.Account{Hash: b.AddressHash}, &types.Account{Hash: b.TokenContractAddress})
		if b.ValueFetchedAt != nil {
			currents = append(currents, &types.CurrentTokenBalance{
				AddressHash:          b.AddressHash,
				TokenContractAddress: b.TokenContractAddress,
				BlockNumber:          b.BlockNumber,
				Value:                b.Value,
			})
		}
	}
	_, err = f.importer.All(ctx, &sqldb.Options{
		Addresses:            addresses,
		TokenBalances:        balances,
		CurrentTokenBalances: currents,
	})
	if err != nil {
		return RunRetry, err
	}
	tokenBalanceBatchMeter.Mark(int64(len(balances)))
	return RunOK, nil
}

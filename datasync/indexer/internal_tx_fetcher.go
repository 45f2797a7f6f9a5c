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

	"github.com/klaytn/chainscope/client"
	"github.com/klaytn/chainscope/common"
	"github.com/klaytn/chainscope/log"
	"github.com/klaytn/chainscope/storage/sqldb"
)

// InternalTransactionFetcher traces collated transactions and indexes the
// resulting internal transactions. Addresses discovered inside traces are
// handed to the balance fetcher.
type InternalTransactionFetcher struct {
	task           *BufferedTask
	client         ChainReader
	store          ChainStore
	importer       ChainImporter
	balanceFetcher *BalanceFetcher
	logger         log.Logger
}

// NewInternalTransactionFetcher builds the fetcher and its queue.
// balanceFetcher may be nil; derived balance work is then skipped.
func NewInternalTransactionFetcher(reader ChainReader, store ChainStore, importer ChainImporter,
	balanceFetcher *BalanceFetcher, cfg BufferedTaskConfig) *InternalTransactionFetcher {
	f := &InternalTransactionFetcher{
		client:         reader,
		store:          store,
		importer:       importer,
		balanceFetcher: balanceFetcher,
		logger:         log.NewModuleLogger(log.InternalTxFetcher),
	}
	f.task = NewBufferedTask(f, cfg, f.logger)
	return f
}

func (f *InternalTransactionFetcher) Name() string { return "internal_transaction_fetcher" }

// Task exposes the underlying queue for lifecycle and memory management.
func (f *InternalTransactionFetcher) Task() *BufferedTask { return f.task }

// AsyncFetch enqueues trace lookups.
func (f *InternalTransactionFetcher) AsyncFetch(refs []client.TxRef) {
	entries := make([]interface{}, len(refs))
	for i, ref := range refs {
		entries[i] = ref
	}
	f.task.Buffer(entries)
}

// InitStream seeds the queue with every collated transaction whose trace
// was never indexed.
func (f *InternalTransactionFetcher) InitStream(ctx context.Context, chunkSize int, sink func([]interface{})) error {
	return f.store.StreamUnindexedTransactions(ctx, chunkSize, func(page []sqldb.UnindexedTransaction) {
		entries := make([]interface{}, len(page))
		for i, row := range page {
			entries[i] = client.TxRef{Hash: row.Hash, BlockNumber: row.BlockNumber}
		}
		sink(entries)
	})
}

// Run traces one batch. Duplicate transaction hashes collapse to a single
// entry; the producer may hand the same transaction from overlapping
// realtime and catch-up ranges.
func (f *InternalTransactionFetcher) Run(ctx context.Context, batch []interface{}, retries int) (RunResult, error) {
	byHash := map[common.Hash]client.TxRef{}
	for _, entry := range batch {
		ref, ok := entry.(client.TxRef)
		if !ok {
			f.logger.Error("dropping entry of unexpected type", "entry", entry)
			continue
		}
		if _, seen := byHash[ref.Hash]; seen {
			f.logger.Warn("duplicate transaction in trace batch", "hash", ref.Hash)
			continue
		}
		byHash[ref.Hash] = ref
	}
	if len(byHash) == 0 {
		return RunOK, nil
	}
	refs := make([]client.TxRef, 0, len(byHash))
	for _, ref := range byHash {
		refs = append(refs, ref)
	}

	itxs, err := f.client.FetchInternalTransactions(ctx, refs)
	if err != nil {
		return retryOrHalt(err, retries)
	}

	entries := ExtractAddresses(ExtractionInput{InternalTransactions: itxs})
	_, err = f.importer.All(ctx, &sqldb.Options{
		Addresses:            accounts(entries),
		InternalTransactions: itxs,
	})
	if err != nil {
		return RunRetry, err
	}
	internalTxBatchMeter.Mark(int64(len(itxs)))

	// Addresses first seen inside a trace still need a balance.
	if f.balanceFetcher != nil && len(entries) > 0 {
		balanceRefs := make([]client.BalanceRef, 0, len(entries))
		for _, e := range entries {
			balanceRefs = append(balanceRefs, client.BalanceRef{Address: e.Hash, BlockNumber: e.BlockNumber})
		}
		f.balanceFetcher.AsyncFetch(balanceRefs)
	}
	return RunOK, nil
}

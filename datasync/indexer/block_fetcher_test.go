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
	"sync"
	"testing"
	"time"

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/client"
	"github.com/klaytn/chainscope/common"
	"github.com/klaytn/chainscope/networks/rpc"
	"github.com/klaytn/chainscope/storage/sqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu           sync.Mutex
	blocksResult *client.BlocksResult
	blocksErr    error
	receipts     map[common.Hash]*types.Receipt
	receiptsErr  error
	latest       uint64
}

func (f *fakeReader) FetchBlocksByRange(ctx context.Context, first, last uint64) (*client.BlocksResult, error) {
	if f.blocksErr != nil {
		return nil, f.blocksErr
	}
	return f.blocksResult, nil
}

func (f *fakeReader) FetchBlockNumberByTag(ctx context.Context, tag string) (uint64, error) {
	return f.latest, nil
}

func (f *fakeReader) FetchTransactionReceipts(ctx context.Context, refs []client.ReceiptRef) (*client.ReceiptsResult, error) {
	if f.receiptsErr != nil {
		return nil, f.receiptsErr
	}
	out := &client.ReceiptsResult{}
	for _, ref := range refs {
		if r, ok := f.receipts[ref.Hash]; ok {
			out.Receipts = append(out.Receipts, r)
			out.Logs = append(out.Logs, r.Logs...)
		}
	}
	return out, nil
}

func (f *fakeReader) FetchBalances(ctx context.Context, refs []client.BalanceRef) ([]*types.CoinBalance, error) {
	return nil, nil
}

func (f *fakeReader) FetchInternalTransactions(ctx context.Context, refs []client.TxRef) ([]*types.InternalTransaction, error) {
	return nil, nil
}

func (f *fakeReader) FetchTokenBalances(ctx context.Context, refs []client.TokenBalanceRef) ([]*types.TokenBalance, error) {
	return nil, nil
}

func (f *fakeReader) SubscribeNewHeads(ctx context.Context, ch chan<- client.Head) (*rpc.ClientSubscription, error) {
	return nil, rpc.ErrNoWebSocket
}

type fakeImporter struct {
	mu   sync.Mutex
	opts []*sqldb.Options
	err  error
}

func (f *fakeImporter) All(ctx context.Context, opts *sqldb.Options) (*sqldb.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.opts = append(f.opts, opts)
	return &sqldb.Result{}, nil
}

func (f *fakeImporter) lastOptions() *sqldb.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opts) == 0 {
		return nil
	}
	return f.opts[len(f.opts)-1]
}

type fakeStore struct{}

func (fakeStore) MaxBlockNumber() (uint64, bool, error) { return 0, false, nil }
func (fakeStore) MissingBlockNumberRanges(from, to uint64) ([]sqldb.BlockRange, error) {
	return nil, nil
}
func (fakeStore) StreamUnfetchedBalances(ctx context.Context, chunkSize int, sink func([]sqldb.UnfetchedBalance)) error {
	return nil
}
func (fakeStore) StreamUnindexedTransactions(ctx context.Context, chunkSize int, sink func([]sqldb.UnindexedTransaction)) error {
	return nil
}
func (fakeStore) StreamUnfetchedTokenBalances(ctx context.Context, chunkSize int, sink func([]sqldb.UnfetchedTokenBalance)) error {
	return nil
}

// seededStore serves stored coin-balance rows whose value was never
// fetched, as left behind by the placeholder seeding at import time.
type seededStore struct {
	fakeStore
	unfetched []sqldb.UnfetchedBalance
}

func (s seededStore) StreamUnfetchedBalances(ctx context.Context, chunkSize int, sink func([]sqldb.UnfetchedBalance)) error {
	for start := 0; start < len(s.unfetched); start += chunkSize {
		end := start + chunkSize
		if end > len(s.unfetched) {
			end = len(s.unfetched)
		}
		sink(s.unfetched[start:end])
	}
	return nil
}

func TestBalanceFetcherInitStreamReemitsUnfetchedRows(t *testing.T) {
	store := seededStore{unfetched: []sqldb.UnfetchedBalance{
		{AddressHash: common.HexToAddress("0xab"), BlockNumber: 100},
		{AddressHash: common.HexToAddress("0xcd"), BlockNumber: 101},
		{AddressHash: common.HexToAddress("0xef"), BlockNumber: 102},
	}}
	fetcher := NewBalanceFetcher(&fakeReader{}, store, &fakeImporter{}, testTaskConfig())

	var entries []interface{}
	err := fetcher.InitStream(context.Background(), 2, func(page []interface{}) {
		entries = append(entries, page...)
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	ref, ok := entries[0].(client.BalanceRef)
	require.True(t, ok, "init entries must be balance refs, got %T", entries[0])
	assert.Equal(t, common.HexToAddress("0xab"), ref.Address)
	assert.Equal(t, uint64(100), ref.BlockNumber)
}

func testChain() (*client.BlocksResult, map[common.Hash]*types.Receipt) {
	blockHash := common.HexToHash("0xb1")
	txHash := common.HexToHash("0xa1")
	number := uint64(100)
	index := uint32(0)
	miner := common.HexToAddress("0x00000000000000000000000000000000000000cd")
	to := common.HexToAddress("0x00000000000000000000000000000000000000ab")

	block := &types.Block{
		Hash:       blockHash,
		Number:     number,
		ParentHash: common.HexToHash("0xb0"),
		Miner:      miner,
		Timestamp:  time.Unix(1550000000, 0),
		GasLimit:   8000000,
		GasUsed:    21000,
		Consensus:  true,
	}
	tx := &types.Transaction{
		Hash:        txHash,
		From:        common.HexToAddress("0x00000000000000000000000000000000000000ef"),
		To:          &to,
		Gas:         50000,
		BlockHash:   &blockHash,
		BlockNumber: &number,
		Index:       &index,
	}
	status := uint64(1)
	receipt := &types.Receipt{
		TransactionHash:   txHash,
		BlockHash:         blockHash,
		BlockNumber:       number,
		CumulativeGasUsed: 21000,
		GasUsed:           21000,
		RawStatus:         &status,
		Logs: []*types.Log{{
			TransactionHash: txHash,
			Index:           0,
			BlockNumber:     number,
			Address:         to,
			Topics:          []common.Hash{common.HexToHash("0x1234")},
		}},
	}
	return &client.BlocksResult{
			Blocks:       []*types.Block{block},
			Transactions: []*types.Transaction{tx},
			Next:         client.NextMore,
		}, map[common.Hash]*types.Receipt{
			txHash: receipt,
		}
}

func newTestFetcher(reader ChainReader, importer ChainImporter) *BlockFetcher {
	cfg := DefaultBlockFetcherConfig()
	cfg.ReceiptsBatchSize = 2
	cfg.ReceiptsConcurrency = 2
	return NewBlockFetcher(cfg, reader, fakeStore{}, importer, nil, nil, nil)
}

func TestImportRangeAssemblesBatch(t *testing.T) {
	blocksResult, receipts := testChain()
	reader := &fakeReader{blocksResult: blocksResult, receipts: receipts}
	importer := &fakeImporter{}
	f := newTestFetcher(reader, importer)

	require.NoError(t, f.importRange(context.Background(), nil, Range{100, 100}, broadcastCatchup))

	opts := importer.lastOptions()
	require.NotNil(t, opts)
	assert.Len(t, opts.Blocks, 1)
	assert.Len(t, opts.Transactions, 1)
	assert.Len(t, opts.Logs, 1)
	assert.Equal(t, broadcastCatchup, opts.Broadcast)

	tx := opts.Transactions[0]
	assert.Equal(t, types.TxStatusOk, tx.Status, "receipt status must be merged before import")
	require.NotNil(t, tx.GasUsed)
	assert.Equal(t, uint64(21000), *tx.GasUsed)

	// miner, from, to addresses extracted
	assert.Len(t, opts.Addresses, 3)

	// every extracted address gets an unfetched coin-balance row so init
	// scans can recover balance work lost to a crash or a shed
	require.Len(t, opts.CoinBalances, 3)
	for _, cb := range opts.CoinBalances {
		assert.Equal(t, uint64(100), cb.BlockNumber)
		assert.Nil(t, cb.Value)
		assert.Nil(t, cb.ValueFetchedAt)
	}
}

func TestImportRangeRequeuesOnBlockError(t *testing.T) {
	reader := &fakeReader{blocksErr: &rpc.Error{Kind: rpc.ErrorKindTransport, Message: "boom"}}
	importer := &fakeImporter{}
	f := newTestFetcher(reader, importer)

	seq, err := NewFiniteSequence([]Range{{100, 91}}, -10)
	require.NoError(t, err)
	r, ok := seq.Pop()
	require.True(t, ok)

	require.Error(t, f.importRange(context.Background(), seq, r, broadcastCatchup))

	requeued, ok := seq.Pop()
	require.True(t, ok, "failed range must be re-queued")
	assert.Equal(t, r, requeued)
	assert.Nil(t, importer.lastOptions())
}

func TestImportRangeRequeuesOnReceiptError(t *testing.T) {
	blocksResult, _ := testChain()
	reader := &fakeReader{blocksResult: blocksResult, receiptsErr: client.ErrReceiptNotMined}
	importer := &fakeImporter{}
	f := newTestFetcher(reader, importer)

	seq, err := NewFiniteSequence([]Range{{100, 100}}, -10)
	require.NoError(t, err)
	r, ok := seq.Pop()
	require.True(t, ok)

	require.Error(t, f.importRange(context.Background(), seq, r, broadcastCatchup))
	_, ok = seq.Pop()
	assert.True(t, ok, "failed range must be re-queued")
}

func TestImportRangeCapsSequenceAtEndOfChain(t *testing.T) {
	blocksResult, receipts := testChain()
	blocksResult.Next = client.NextEndOfChain
	reader := &fakeReader{blocksResult: blocksResult, receipts: receipts}
	importer := &fakeImporter{}
	f := newTestFetcher(reader, importer)

	seq, err := NewInfiniteSequence(100, 10)
	require.NoError(t, err)
	r, ok := seq.Pop()
	require.True(t, ok)

	require.NoError(t, f.importRange(context.Background(), seq, r, broadcastRealtime))
	_, ok = seq.Pop()
	assert.False(t, ok, "sequence must be capped after end of chain")
}

func TestImportRangeFatalOnMissingReceipt(t *testing.T) {
	blocksResult, _ := testChain()
	reader := &fakeReader{blocksResult: blocksResult, receipts: map[common.Hash]*types.Receipt{}}
	importer := &fakeImporter{}
	f := newTestFetcher(reader, importer)

	seq, err := NewFiniteSequence([]Range{{100, 100}}, -10)
	require.NoError(t, err)
	r, ok := seq.Pop()
	require.True(t, ok)

	require.Error(t, f.importRange(context.Background(), seq, r, broadcastCatchup))
	_, ok = seq.Pop()
	assert.False(t, ok, "an incomplete join is fatal, not retryable")
	assert.Nil(t, importer.lastOptions())
}

func TestJoinReceiptsDerivesPreByzantiumStatus(t *testing.T) {
	hash := common.HexToHash("0x01")
	blockHash := common.HexToHash("0x02")
	number := uint64(1)
	index := uint32(0)
	tx := &types.Transaction{
		Hash: hash, Gas: 21000,
		BlockHash: &blockHash, BlockNumber: &number, Index: &index,
	}
	// gas_used == gas budget means failure when status is absent
	receipt := &types.Receipt{TransactionHash: hash, GasUsed: 21000, CumulativeGasUsed: 21000}
	require.NoError(t, joinReceipts([]*types.Transaction{tx}, []*types.Receipt{receipt}))
	assert.Equal(t, types.TxStatusError, tx.Status)

	tx2 := &types.Transaction{
		Hash: hash, Gas: 50000,
		BlockHash: &blockHash, BlockNumber: &number, Index: &index,
	}
	receipt2 := &types.Receipt{TransactionHash: hash, GasUsed: 21000, CumulativeGasUsed: 21000}
	require.NoError(t, joinReceipts([]*types.Transaction{tx2}, []*types.Receipt{receipt2}))
	assert.Equal(t, types.TxStatusOk, tx2.Status)
}

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
	"time"

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/client"
	"github.com/klaytn/chainscope/common"
	"github.com/klaytn/chainscope/log"
	"github.com/klaytn/chainscope/networks/rpc"
	"github.com/klaytn/chainscope/storage/sqldb"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ChainReader is the JSON-RPC surface the indexer consumes.
type ChainReader interface {
	FetchBlocksByRange(ctx context.Context, first, last uint64) (*client.BlocksResult, error)
	FetchBlockNumberByTag(ctx context.Context, tag string) (uint64, error)
	FetchTransactionReceipts(ctx context.Context, refs []client.ReceiptRef) (*client.ReceiptsResult, error)
	FetchBalances(ctx context.Context, refs []client.BalanceRef) ([]*types.CoinBalance, error)
	FetchInternalTransactions(ctx context.Context, refs []client.TxRef) ([]*types.InternalTransaction, error)
	FetchTokenBalances(ctx context.Context, refs []client.TokenBalanceRef) ([]*types.TokenBalance, error)
	SubscribeNewHeads(ctx context.Context, ch chan<- client.Head) (*rpc.ClientSubscription, error)
}

// ChainStore is the read surface of the persistent store the indexer needs.
type ChainStore interface {
	MaxBlockNumber() (uint64, bool, error)
	MissingBlockNumberRanges(from, to uint64) ([]sqldb.BlockRange, error)
	StreamUnfetchedBalances(ctx context.Context, chunkSize int, sink func([]sqldb.UnfetchedBalance)) error
	StreamUnindexedTransactions(ctx context.Context, chunkSize int, sink func([]sqldb.UnindexedTransaction)) error
	StreamUnfetchedTokenBalances(ctx context.Context, chunkSize int, sink func([]sqldb.UnfetchedTokenBalance)) error
}

// ChainImporter is the write surface.
type ChainImporter interface {
	All(ctx context.Context, opts *sqldb.Options) (*sqldb.Result, error)
}

const (
	broadcastCatchup  = "catchup"
	broadcastRealtime = "realtime"

	// realtimeOverlap makes every realtime task fetch the head and its
	// successor; overlapping tasks deduplicate through the block upsert.
	realtimeOverlap = 2
)

// BlockFetcherConfig carries the fetcher's tunables.
type BlockFetcherConfig struct {
	BlockInterval       time.Duration
	BlocksBatchSize     int
	BlocksConcurrency   int
	ReceiptsBatchSize   int
	ReceiptsConcurrency int
}

// DefaultBlockFetcherConfig returns the tunables used when the operator
// configures none.
func DefaultBlockFetcherConfig() BlockFetcherConfig {
	return BlockFetcherConfig{
		BlockInterval:       5 * time.Second,
		BlocksBatchSize:     10,
		BlocksConcurrency:   10,
		ReceiptsBatchSize:   250,
		ReceiptsConcurrency: 10,
	}
}

func (cfg *BlockFetcherConfig) withDefaults() BlockFetcherConfig {
	def := DefaultBlockFetcherConfig()
	out := *cfg
	if out.BlockInterval == 0 {
		out.BlockInterval = def.BlockInterval
	}
	if out.BlocksBatchSize == 0 {
		out.BlocksBatchSize = def.BlocksBatchSize
	}
	if out.BlocksConcurrency == 0 {
		out.BlocksConcurrency = def.BlocksConcurrency
	}
	if out.ReceiptsBatchSize == 0 {
		out.ReceiptsBatchSize = def.ReceiptsBatchSize
	}
	if out.ReceiptsConcurrency == 0 {
		out.ReceiptsConcurrency = def.ReceiptsConcurrency
	}
	return out
}

// BlockFetcher drives the two ingestion loops: a catch-up loop that works
// through every missing block range on an adaptive timer, and a realtime
// loop that polls the tip at half the nominal block interval.
type BlockFetcher struct {
	cfg      BlockFetcherConfig
	client   ChainReader
	store    ChainStore
	importer ChainImporter

	balanceFetcher      *BalanceFetcher
	itxFetcher          *InternalTransactionFetcher
	tokenBalanceFetcher *TokenBalanceFetcher

	interval *BoundedInterval
	logger   log.Logger

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewBlockFetcher wires the fetcher. The async fetchers may be nil in
// reduced deployments; hand-offs are then skipped.
func NewBlockFetcher(cfg BlockFetcherConfig, reader ChainReader, store ChainStore, importer ChainImporter,
	balanceFetcher *BalanceFetcher, itxFetcher *InternalTransactionFetcher, tokenBalanceFetcher *TokenBalanceFetcher) *BlockFetcher {
	c := cfg.withDefaults()
	return &BlockFetcher{
		cfg:                 c,
		client:              reader,
		store:               store,
		importer:            importer,
		balanceFetcher:      balanceFetcher,
		itxFetcher:          itxFetcher,
		tokenBalanceFetcher: tokenBalanceFetcher,
		interval:            NewBoundedInterval(c.BlockInterval, 20*c.BlockInterval),
		logger:              log.NewModuleLogger(log.BlockFetcher),
		quit:                make(chan struct{}),
	}
}

// Start launches the catch-up and realtime loops and, best effort, the
// newHeads subscription that nudges the realtime loop.
func (f *BlockFetcher) Start(ctx context.Context) {
	headCh := make(chan client.Head, 8)
	if sub, err := f.client.SubscribeNewHeads(ctx, headCh); err != nil {
		if err != rpc.ErrNoWebSocket {
			f.logger.Warn("newHeads subscription unavailable; relying on polling", "err", err)
		}
	} else {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			defer sub.Unsubscribe()
			<-f.quit
		}()
	}

	f.wg.Add(2)
	go f.catchupLoop(ctx)
	go f.realtimeLoop(ctx, headCh)
	f.logger.Info("block fetcher started", "blockInterval", f.cfg.BlockInterval,
		"blocksBatchSize", f.cfg.BlocksBatchSize, "blocksConcurrency", f.cfg.BlocksConcurrency)
}

// Stop terminates both loops, waiting for in-flight ranges.
func (f *BlockFetcher) Stop() {
	close(f.quit)
	f.wg.Wait()
}

func (f *BlockFetcher) catchupLoop(ctx context.Context) {
	defer f.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-f.quit:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		missing := f.runCatchup(ctx)
		if missing == 0 {
			timer.Reset(f.interval.Increase())
		} else {
			timer.Reset(f.interval.Decrease())
		}
	}
}

// runCatchup imports every block range missing below the current tip and
// returns how many block numbers were missing.
func (f *BlockFetcher) runCatchup(ctx context.Context) (missing uint64) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("catch-up crashed; resuming on next tick", "panic", r)
			missing = 0
		}
	}()

	latest, err := f.client.FetchBlockNumberByTag(ctx, "latest")
	if err != nil {
		f.logger.Warn("cannot resolve chain tip", "err", err)
		return 1 // keep the timer aggressive
	}
	end := uint64(0)
	if latest > 0 {
		end = latest - 1
	}
	storeRanges, err := f.store.MissingBlockNumberRanges(end, 0)
	if err != nil {
		f.logger.Error("missing range query failed", "err", err)
		return 1
	}

	ranges := make([]Range, 0, len(storeRanges))
	for _, r := range storeRanges {
		ranges = append(ranges, Range{First: r.First, Last: r.Last})
		missing += Range{First: r.First, Last: r.Last}.Len()
	}
	if latest == 0 && len(ranges) == 0 {
		// Genesis-only chain: the missing-range scan found nothing below
		// the tip, but block zero itself may still be absent.
		if _, ok, err := f.store.MaxBlockNumber(); err == nil && !ok {
			ranges = append(ranges, Range{First: 0, Last: 0})
			missing++
		}
	}
	catchupMissingGauge.Update(int64(missing))
	if len(ranges) == 0 {
		return 0
	}

	seq, err := NewFiniteSequence(ranges, -int64(f.cfg.BlocksBatchSize))
	if err != nil {
		f.logger.Error("catch-up sequence rejected", "err", err)
		return 0
	}
	f.logger.Info("catch-up started", "latest", latest, "missing", missing, "ranges", len(ranges))

	var wg sync.WaitGroup
	for i := 0; i < f.cfg.BlocksConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-f.quit:
					return
				case <-ctx.Done():
					return
				default:
				}
				r, ok := seq.Pop()
				if !ok {
					return
				}
				if err := f.importRange(ctx, seq, r, broadcastCatchup); err != nil {
					f.logger.Warn("range import failed", "first", r.First, "last", r.Last, "err", err)
				}
			}
		}()
	}
	wg.Wait()
	return missing
}

func (f *BlockFetcher) realtimeLoop(ctx context.Context, headCh <-chan client.Head) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.BlockInterval / 2)
	defer ticker.Stop()

	task := func() {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					f.logger.Error("realtime task crashed", "panic", r)
				}
			}()
			latest, err := f.client.FetchBlockNumberByTag(ctx, "latest")
			if err != nil {
				f.logger.Debug("realtime tip poll failed", "err", err)
				return
			}
			r := Range{First: latest, Last: latest + realtimeOverlap - 1}
			if err := f.importRange(ctx, nil, r, broadcastRealtime); err != nil {
				f.logger.Debug("realtime import failed", "first", r.First, "err", err)
			}
			realtimeHeadGauge.Update(int64(latest))
		}()
	}

	for {
		select {
		case <-f.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			task()
		case <-headCh:
			task()
		}
	}
}

// importRange runs one range through the pipeline: blocks, receipts, join,
// extraction, import, async hand-offs. Block, receipt and import failures
// re-queue the range on seq (when the range came from a sequence); an
// incomplete receipt join abandons the range without re-queueing it.
func (f *BlockFetcher) importRange(ctx context.Context, seq *Sequence, r Range, broadcastType string) error {
	started := time.Now()

	blocksResult, err := f.client.FetchBlocksByRange(ctx, r.First, r.Last)
	if err != nil {
		if seq != nil {
			seq.Queue(r)
		}
		return errors.Wrap(err, "blocks")
	}
	if blocksResult.Next == client.NextEndOfChain && seq != nil {
		seq.Cap()
	}
	if len(blocksResult.Blocks) == 0 {
		return nil
	}

	receipts, logs, err := f.fetchReceipts(ctx, blocksResult.Transactions)
	if err != nil {
		if seq != nil {
			seq.Queue(r)
		}
		return errors.Wrap(err, "receipts")
	}

	if err := joinReceipts(blocksResult.Transactions, receipts); err != nil {
		// A receipt missing from the join map breaks an invariant; the
		// range is abandoned, not retried.
		f.logger.Error("receipt join incomplete", "first", r.First, "last", r.Last, "err", err)
		return err
	}

	tokenTransfers, tokens := ParseTokenTransfers(logs)
	entries := ExtractAddresses(ExtractionInput{
		Blocks:         blocksResult.Blocks,
		Transactions:   blocksResult.Transactions,
		Logs:           logs,
		TokenTransfers: tokenTransfers,
	})
	balanceNumbers := balanceBlockNumbers(entries)

	blockNumberByTx := make(map[common.Hash]uint64, len(blocksResult.Transactions))
	for _, tx := range blocksResult.Transactions {
		if tx.BlockNumber != nil {
			blockNumberByTx[tx.Hash] = *tx.BlockNumber
		}
	}

	var relations []*types.BlockSecondDegreeRelation
	for _, b := range blocksResult.Blocks {
		for _, uncle := range b.Uncles {
			relations = append(relations, &types.BlockSecondDegreeRelation{NephewHash: b.Hash, UncleHash: uncle})
		}
	}

	opts := &sqldb.Options{
		Addresses:                  accounts(entries),
		CoinBalances:               placeholderCoinBalances(balanceNumbers),
		Blocks:                     blocksResult.Blocks,
		BlockSecondDegreeRelations: relations,
		Transactions:               blocksResult.Transactions,
		Logs:                       logs,
		Tokens:                     tokens,
		TokenTransfers:             tokenTransfers,
		TokenBalances:              placeholderTokenBalances(tokenTransfers),
		Broadcast:                  broadcastType,
	}
	if _, err := f.importer.All(ctx, opts); err != nil {
		if seq != nil {
			seq.Queue(r)
		}
		return err
	}

	importedBlocksMeter.Mark(int64(len(blocksResult.Blocks)))
	importRangeTimer.UpdateSince(started)

	// Async hand-offs; the fetchers re-derive anything lost from the store.
	if f.balanceFetcher != nil {
		refs := make([]client.BalanceRef, 0, len(balanceNumbers))
		for addr, blockNumber := range balanceNumbers {
			refs = append(refs, client.BalanceRef{Address: addr, BlockNumber: blockNumber})
		}
		f.balanceFetcher.AsyncFetch(refs)
	}
	if f.itxFetcher != nil {
		refs := make([]client.TxRef, 0, len(blockNumberByTx))
		for hash, blockNumber := range blockNumberByTx {
			refs = append(refs, client.TxRef{Hash: hash, BlockNumber: blockNumber})
		}
		f.itxFetcher.AsyncFetch(refs)
	}
	if f.tokenBalanceFetcher != nil {
		f.tokenBalanceFetcher.AsyncFetch(tokenBalanceRefs(tokenTransfers))
	}
	return nil
}

// fetchReceipts resolves the receipts of the given collated transactions,
// chunked and bounded by the receipt settings. The first failing chunk
// cancels the rest.
func (f *BlockFetcher) fetchReceipts(ctx context.Context, txs []*types.Transaction) ([]*types.Receipt, []*types.Log, error) {
	if len(txs) == 0 {
		return nil, nil, nil
	}
	refs := make([]client.ReceiptRef, 0, len(txs))
	for _, tx := range txs {
		ref := client.ReceiptRef{Hash: tx.Hash}
		if tx.BlockNumber != nil {
			ref.BlockNumber = *tx.BlockNumber
		}
		refs = append(refs, ref)
	}

	var mu sync.Mutex
	var receipts []*types.Receipt
	var logs []*types.Log

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.ReceiptsConcurrency)
	for start := 0; start < len(refs); start += f.cfg.ReceiptsBatchSize {
		end := start + f.cfg.ReceiptsBatchSize
		if end > len(refs) {
			end = len(refs)
		}
		chunk := refs[start:end]
		g.Go(func() error {
			result, err := f.client.FetchTransactionReceipts(gctx, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			receipts = append(receipts, result.Receipts...)
			logs = append(logs, result.Logs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return receipts, logs, nil
}

// joinReceipts merges each receipt into its transaction. The join must be
// total in both directions.
func joinReceipts(txs []*types.Transaction, receipts []*types.Receipt) error {
	byHash := make(map[common.Hash]*types.Receipt, len(receipts))
	for _, r := range receipts {
		byHash[r.TransactionHash] = r
	}
	for _, tx := range txs {
		receipt, ok := byHash[tx.Hash]
		if !ok {
			return errors.Errorf("no receipt for transaction %s", tx.Hash)
		}
		if err := tx.MergeReceipt(receipt); err != nil {
			return errors.Wrapf(err, "transaction %s", tx.Hash)
		}
		delete(byHash, tx.Hash)
	}
	if len(byHash) > 0 {
		return errors.Errorf("%d receipts without a transaction", len(byHash))
	}
	return nil
}

// placeholderCoinBalances turns every extracted address into an unfetched
// coin-balance row at its latest seen block. The balance fetcher fills the
// value later; until then the NULL value_fetched_at keeps the row visible
// to init scans, so work lost to a crash or a memory shed is re-derived
// from the store.
func placeholderCoinBalances(balanceNumbers map[common.Address]uint64) []*types.CoinBalance {
	out := make([]*types.CoinBalance, 0, len(balanceNumbers))
	for addr, blockNumber := range balanceNumbers {
		out = append(out, &types.CoinBalance{AddressHash: addr, BlockNumber: blockNumber})
	}
	return out
}

// placeholderTokenBalances turns every transfer participant into an
// unfetched token-balance row so the init scan can recover the work even if
// the async hand-off is lost.
func placeholderTokenBalances(transfers []*types.TokenTransfer) []*types.TokenBalance {
	type balanceKey struct {
		addr, token common.Address
		blockNumber uint64
	}
	seen := map[balanceKey]struct{}{}
	var out []*types.TokenBalance
	add := func(addr common.Address, tt *types.TokenTransfer) {
		if addr.IsZero() {
			return
		}
		key := balanceKey{addr, tt.TokenContractAddress, tt.BlockNumber}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, &types.TokenBalance{
			AddressHash:          addr,
			TokenContractAddress: tt.TokenContractAddress,
			BlockNumber:          tt.BlockNumber,
		})
	}
	for _, tt := range transfers {
		add(tt.From, tt)
		add(tt.To, tt)
	}
	return out
}

func tokenBalanceRefs(transfers []*types.TokenTransfer) []client.TokenBalanceRef {
	seen := map[client.TokenBalanceRef]struct{}{}
	var out []client.TokenBalanceRef
	for _, tt := range transfers {
		for _, addr := range []common.Address{tt.From, tt.To} {
			if addr.IsZero() {
				continue
			}
			ref := client.TokenBalanceRef{
				Address:              addr,
				TokenContractAddress: tt.TokenContractAddress,
				BlockNumber:          tt.BlockNumber,
			}
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	}
	return out
}

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
//
// This file is derived from client/bridge_client.go (2019/03/18).
// Modified and improved for the chainscope development.

package client

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/common"
	"github.com/klaytn/chainscope/log"
	"github.com/klaytn/chainscope/networks/rpc"
)

var logger = log.NewModuleLogger(log.RPCClient)

// balanceOfSelector is the 4-byte selector of balanceOf(address).
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// TracerConfig selects the node's trace method. The default drives
// debug_traceTransaction with the fastCallTracer; chains exposing the parity
// surface can point Method at trace_replayTransaction instead.
type TracerConfig struct {
	Method  string
	Tracer  string
	Timeout string
}

// DefaultTracerConfig returns the tracer arguments used when the operator
// configures none.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Method:  "debug_traceTransaction",
		Tracer:  "fastCallTracer",
		Timeout: "60s",
	}
}

// Client decodes the well-known EVM JSON-RPC method shapes on top of the
// transport-level rpc.Client.
type Client struct {
	c      *rpc.Client
	tracer TracerConfig
}

// NewClient wraps the given transport client.
func NewClient(c *rpc.Client, tracer TracerConfig) *Client {
	if tracer.Method == "" {
		tracer = DefaultTracerConfig()
	}
	return &Client{c: c, tracer: tracer}
}

// NextState tells the block fetcher whether the chain continues past the
// requested range.
type NextState int

const (
	NextMore NextState = iota
	NextEndOfChain
)

// BlocksResult is the outcome of FetchBlocksByRange.
type BlocksResult struct {
	Blocks       []*types.Block
	Transactions []*types.Transaction
	Next         NextState
}

// FetchBlocksByRange fetches the blocks numbered first..last (either
// direction) with full transaction bodies in one batch. A null block means
// the node's chain ends before the range does.
func (ec *Client) FetchBlocksByRange(ctx context.Context, first, last uint64) (*BlocksResult, error) {
	numbers := rangeNumbers(first, last)
	batch := make([]rpc.BatchElem, len(numbers))
	results := make([]rpcBlock, len(numbers))
	for i, n := range numbers {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{common.EncodeUint64(n), true},
			Result: &results[i],
		}
	}
	if err := ec.c.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}

	out := &BlocksResult{Next: NextMore}
	for i := range batch {
		if batch[i].Error == rpc.ErrNoResult {
			out.Next = NextEndOfChain
			continue
		}
		if batch[i].Error != nil {
			return nil, batch[i].Error
		}
		block, txs, err := results[i].toBlock()
		if err != nil {
			return nil, err
		}
		out.Blocks = append(out.Blocks, block)
		out.Transactions = append(out.Transactions, txs...)
	}
	return out, nil
}

// FetchBlockNumberByTag resolves a block tag ("earliest", "latest",
// "pending") to its number.
func (ec *Client) FetchBlockNumberByTag(ctx context.Context, tag string) (uint64, error) {
	var head rpcHead
	if err := ec.c.CallContext(ctx, &head, "eth_getBlockByNumber", tag, false); err != nil {
		return 0, err
	}
	return decodeQuantity(head.Number, "head number")
}

// ReceiptRef names a mined transaction whose receipt is wanted.
type ReceiptRef struct {
	Hash        common.Hash
	BlockNumber uint64
}

// ReceiptsResult is the outcome of FetchTransactionReceipts.
type ReceiptsResult struct {
	Receipts []*types.Receipt
	Logs     []*types.Log
}

// ErrReceiptNotMined is returned when the node has no receipt yet for a
// transaction the fetcher believes is mined. Classified retryable so the
// range is re-queued.
var ErrReceiptNotMined = &rpc.Error{Kind: rpc.ErrorKindTransport, Message: "transaction receipt not available yet"}

// FetchTransactionReceipts fetches the receipts of the referenced
// transactions in one batch and splits out their logs.
func (ec *Client) FetchTransactionReceipts(ctx context.Context, refs []ReceiptRef) (*ReceiptsResult, error) {
	batch := make([]rpc.BatchElem, len(refs))
	results := make([]rpcReceipt, len(refs))
	for i, ref := range refs {
		batch[i] = rpc.BatchElem{
			Method: "eth_getTransactionReceipt",
			Args:   []interface{}{ref.Hash},
			Result: &results[i],
		}
	}
	if err := ec.c.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}

	out := &ReceiptsResult{}
	for i := range batch {
		if batch[i].Error == rpc.ErrNoResult {
			return nil, ErrReceiptNotMined
		}
		if batch[i].Error != nil {
			return nil, batch[i].Error
		}
		receipt, err := results[i].toReceipt()
		if err != nil {
			return nil, err
		}
		if receipt.BlockNumber == 0 {
			receipt.BlockNumber = refs[i].BlockNumber
		}
		out.Receipts = append(out.Receipts, receipt)
		out.Logs = append(out.Logs, receipt.Logs...)
	}
	return out, nil
}

// BalanceRef names an address whose balance at a block is wanted.
type BalanceRef struct {
	Address     common.Address
	BlockNumber uint64
}

// FetchBalances fetches the native-coin balances of the referenced
// addresses at their respective blocks.
func (ec *Client) FetchBalances(ctx context.Context, refs []BalanceRef) ([]*types.CoinBalance, error) {
	batch := make([]rpc.BatchElem, len(refs))
	results := make([]string, len(refs))
	for i, ref := range refs {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBalance",
			Args:   []interface{}{ref.Address, common.EncodeUint64(ref.BlockNumber)},
			Result: &results[i],
		}
	}
	if err := ec.c.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]*types.CoinBalance, 0, len(refs))
	for i := range batch {
		if batch[i].Error != nil {
			return nil, batch[i].Error
		}
		value, err := decodeBig(results[i], "balance")
		if err != nil {
			return nil, err
		}
		fetchedAt := now
		out = append(out, &types.CoinBalance{
			AddressHash:    refs[i].Address,
			BlockNumber:    refs[i].BlockNumber,
			Value:          value,
			ValueFetchedAt: &fetchedAt,
		})
	}
	return out, nil
}

// TxRef names a transaction whose internal transactions are wanted.
type TxRef struct {
	Hash        common.Hash
	BlockNumber uint64
}

// FetchInternalTransactions traces the referenced transactions and flattens
// each call tree into internal-transaction entries.
func (ec *Client) FetchInternalTransactions(ctx context.Context, refs []TxRef) ([]*types.InternalTransaction, error) {
	batch := make([]rpc.BatchElem, len(refs))
	results := make([]rpcCallFrame, len(refs))
	for i, ref := range refs {
		batch[i] = rpc.BatchElem{
			Method: ec.tracer.Method,
			Args: []interface{}{ref.Hash, map[string]string{
				"tracer":  ec.tracer.Tracer,
				"timeout": ec.tracer.Timeout,
			}},
			Result: &results[i],
		}
	}
	if err := ec.c.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}

	var out []*types.InternalTransaction
	for i := range batch {
		if batch[i].Error != nil {
			return nil, batch[i].Error
		}
		itxs, err := results[i].flatten(refs[i].Hash, refs[i].BlockNumber)
		if err != nil {
			return nil, err
		}
		out = append(out, itxs...)
	}
	return out, nil
}

// TokenBalanceRef names an (address, token) pair whose balance at a block is
// wanted.
type TokenBalanceRef struct {
	Address              common.Address
	TokenContractAddress common.Address
	BlockNumber          uint64
}

// FetchTokenBalances resolves balanceOf(address) on each referenced token
// contract via eth_call.
func (ec *Client) FetchTokenBalances(ctx context.Context, refs []TokenBalanceRef) ([]*types.TokenBalance, error) {
	batch := make([]rpc.BatchElem, len(refs))
	results := make([]string, len(refs))
	for i, ref := range refs {
		data := make([]byte, 0, 36)
		data = append(data, balanceOfSelector...)
		data = append(data, make([]byte, 12)...)
		data = append(data, ref.Address.Bytes()...)
		batch[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []interface{}{map[string]string{
				"to":   ref.TokenContractAddress.Hex(),
				"data": common.Encode(data),
			}, common.EncodeUint64(ref.BlockNumber)},
			Result: &results[i],
		}
	}
	if err := ec.c.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]*types.TokenBalance, 0, len(refs))
	for i := range batch {
		balance := &types.TokenBalance{
			AddressHash:          refs[i].Address,
			TokenContractAddress: refs[i].TokenContractAddress,
			BlockNumber:          refs[i].BlockNumber,
		}
		if batch[i].Error != nil {
			// Contracts without balanceOf reject the call; the row is
			// returned with no value and no fetched-at time rather than
			// poisoning the batch.
			logger.Warn("token balance call rejected", "token", refs[i].TokenContractAddress, "err", batch[i].Error)
			out = append(out, balance)
			continue
		}
		raw, err := decodeBytes(results[i], "token balance")
		if err != nil {
			return nil, err
		}
		fetchedAt := now
		balance.Value = new(big.Int).SetBytes(raw)
		balance.ValueFetchedAt = &fetchedAt
		out = append(out, balance)
	}
	return out, nil
}

// Head is a newHeads notification reduced to what the realtime loop needs.
type Head struct {
	Number uint64
}

// SubscribeNewHeads nudges ch with each new chain head. Best effort; an
// error return means the caller should rely on polling alone.
func (ec *Client) SubscribeNewHeads(ctx context.Context, ch chan<- Head) (*rpc.ClientSubscription, error) {
	raw := make(chan json.RawMessage, 8)
	sub, err := ec.c.Subscribe(ctx, "newHeads", raw)
	if err != nil {
		return nil, err
	}
	go func() {
		for payload := range raw {
			var head rpcHead
			if err := json.Unmarshal(payload, &head); err != nil {
				logger.Warn("dropping undecodable head notification", "err", err)
				continue
			}
			number, err := decodeQuantity(head.Number, "head number")
			if err != nil {
				logger.Warn("dropping head with bad number", "err", err)
				continue
			}
			select {
			case ch <- Head{Number: number}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

func rangeNumbers(first, last uint64) []uint64 {
	var out []uint64
	if first <= last {
		for n := first; n <= last; n++ {
			out = append(out, n)
		}
	} else {
		for n := first; ; n-- {
			out = append(out, n)
			if n == last {
				break
			}
		}
	}
	return out
}

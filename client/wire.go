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

package client

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/common"
	"github.com/klaytn/chainscope/networks/rpc"
	"github.com/pkg/errors"
)

// Wire shapes of the well-known JSON-RPC results. Quantities arrive as hex
// strings and are decoded into integers here; anything malformed surfaces as
// a decode-classified error.

type rpcBlock struct {
	Hash            common.Hash      `json:"hash"`
	Number          string           `json:"number"`
	ParentHash      common.Hash      `json:"parentHash"`
	Miner           common.Address   `json:"miner"`
	Timestamp       string           `json:"timestamp"`
	Difficulty      string           `json:"difficulty"`
	TotalDifficulty string           `json:"totalDifficulty"`
	GasUsed         string           `json:"gasUsed"`
	GasLimit        string           `json:"gasLimit"`
	Size            string           `json:"size"`
	Nonce           string           `json:"nonce"`
	Uncles          []common.Hash    `json:"uncles"`
	Transactions    []rpcTransaction `json:"transactions"`
}

type rpcTransaction struct {
	Hash             common.Hash     `json:"hash"`
	Nonce            string          `json:"nonce"`
	From             common.Address  `json:"from"`
	To               *common.Address `json:"to"`
	Value            string          `json:"value"`
	Gas              string          `json:"gas"`
	GasPrice         string          `json:"gasPrice"`
	Input            string          `json:"input"`
	V                string          `json:"v"`
	R                string          `json:"r"`
	S                string          `json:"s"`
	BlockHash        *common.Hash    `json:"blockHash"`
	BlockNumber      *string         `json:"blockNumber"`
	TransactionIndex *string         `json:"transactionIndex"`
}

type rpcReceipt struct {
	TransactionHash   common.Hash     `json:"transactionHash"`
	TransactionIndex  string          `json:"transactionIndex"`
	BlockHash         common.Hash     `json:"blockHash"`
	BlockNumber       string          `json:"blockNumber"`
	CumulativeGasUsed string          `json:"cumulativeGasUsed"`
	GasUsed           string          `json:"gasUsed"`
	ContractAddress   *common.Address `json:"contractAddress"`
	Status            *string         `json:"status"`
	Logs              []rpcLog        `json:"logs"`
}

type rpcLog struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        string         `json:"data"`
	LogIndex    string         `json:"logIndex"`
	TxHash      common.Hash    `json:"transactionHash"`
	BlockNumber string         `json:"blockNumber"`
}

type rpcCallFrame struct {
	Type    string          `json:"type"`
	From    common.Address  `json:"from"`
	To      *common.Address `json:"to"`
	Value   string          `json:"value"`
	Gas     string          `json:"gas"`
	GasUsed string          `json:"gasUsed"`
	Input   string          `json:"input"`
	Output  string          `json:"output"`
	Error   string          `json:"error"`
	Calls   []rpcCallFrame  `json:"calls"`
}

type rpcHead struct {
	Number string `json:"number"`
}

func decodeErr(err error, what string) error {
	return &rpc.Error{Kind: rpc.ErrorKindDecode, Message: errors.Wrap(err, what).Error()}
}

func decodeQuantity(s, what string) (uint64, error) {
	v, err := common.DecodeUint64(s)
	if err != nil {
		return 0, decodeErr(err, what)
	}
	return v, nil
}

func decodeOptQuantity(s, what string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return decodeQuantity(s, what)
}

func decodeBig(s, what string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := common.DecodeBig(s)
	if err != nil {
		return nil, decodeErr(err, what)
	}
	return v, nil
}

func decodeBytes(s, what string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := common.Decode(s)
	if err != nil {
		return nil, decodeErr(err, what)
	}
	return b, nil
}

// decodeBlockNonce handles the block nonce, which is fixed-width 8-byte DATA
// rather than a quantity.
func decodeBlockNonce(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	b, err := common.Decode(s)
	if err != nil || len(b) > 8 {
		return 0, decodeErr(errors.New(s), "block nonce")
	}
	padded := make([]byte, 8)
	copy(padded[8-len(b):], b)
	return binary.BigEndian.Uint64(padded), nil
}

func (rb *rpcBlock) toBlock() (*types.Block, []*types.Transaction, error) {
	number, err := decodeQuantity(rb.Number, "block number")
	if err != nil {
		return nil, nil, err
	}
	ts, err := decodeQuantity(rb.Timestamp, "block timestamp")
	if err != nil {
		return nil, nil, err
	}
	gasUsed, err := decodeOptQuantity(rb.GasUsed, "block gas used")
	if err != nil {
		return nil, nil, err
	}
	gasLimit, err := decodeOptQuantity(rb.GasLimit, "block gas limit")
	if err != nil {
		return nil, nil, err
	}
	size, err := decodeOptQuantity(rb.Size, "block size")
	if err != nil {
		return nil, nil, err
	}
	nonce, err := decodeBlockNonce(rb.Nonce)
	if err != nil {
		return nil, nil, err
	}
	difficulty, err := decodeBig(rb.Difficulty, "block difficulty")
	if err != nil {
		return nil, nil, err
	}
	totalDifficulty, err := decodeBig(rb.TotalDifficulty, "block total difficulty")
	if err != nil {
		return nil, nil, err
	}

	block := &types.Block{
		Hash:            rb.Hash,
		Number:          number,
		ParentHash:      rb.ParentHash,
		Miner:           rb.Miner,
		Timestamp:       time.Unix(int64(ts), 0).UTC(),
		Difficulty:      difficulty,
		TotalDifficulty: totalDifficulty,
		GasUsed:         gasUsed,
		GasLimit:        gasLimit,
		Size:            size,
		Nonce:           nonce,
		Consensus:       true,
		Uncles:          rb.Uncles,
	}

	txs := make([]*types.Transaction, 0, len(rb.Transactions))
	for i := range rb.Transactions {
		tx, err := rb.Transactions[i].toTransaction()
		if err != nil {
			return nil, nil, err
		}
		txs = append(txs, tx)
	}
	return block, txs, nil
}

func (rt *rpcTransaction) toTransaction() (*types.Transaction, error) {
	nonce, err := decodeQuantity(rt.Nonce, "tx nonce")
	if err != nil {
		return nil, err
	}
	gas, err := decodeOptQuantity(rt.Gas, "tx gas")
	if err != nil {
		return nil, err
	}
	value, err := decodeBig(rt.Value, "tx value")
	if err != nil {
		return nil, err
	}
	gasPrice, err := decodeBig(rt.GasPrice, "tx gas price")
	if err != nil {
		return nil, err
	}
	input, err := decodeBytes(rt.Input, "tx input")
	if err != nil {
		return nil, err
	}
	v, err := decodeBig(rt.V, "tx v")
	if err != nil {
		return nil, err
	}
	r, err := decodeBig(rt.R, "tx r")
	if err != nil {
		return nil, err
	}
	s, err := decodeBig(rt.S, "tx s")
	if err != nil {
		return nil, err
	}

	tx := &types.Transaction{
		Hash:     rt.Hash,
		Nonce:    nonce,
		From:     rt.From,
		To:       rt.To,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Input:    input,
		V:        v,
		R:        r,
		S:        s,
	}
	if rt.BlockHash != nil {
		tx.BlockHash = rt.BlockHash
		if rt.BlockNumber != nil {
			bn, err := decodeQuantity(*rt.BlockNumber, "tx block number")
			if err != nil {
				return nil, err
			}
			tx.BlockNumber = &bn
		}
		if rt.TransactionIndex != nil {
			idx, err := decodeQuantity(*rt.TransactionIndex, "tx index")
			if err != nil {
				return nil, err
			}
			idx32 := uint32(idx)
			tx.Index = &idx32
		}
	}
	return tx, nil
}

func (rr *rpcReceipt) toReceipt() (*types.Receipt, error) {
	txIndex, err := decodeOptQuantity(rr.TransactionIndex, "receipt tx index")
	if err != nil {
		return nil, err
	}
	blockNumber, err := decodeOptQuantity(rr.BlockNumber, "receipt block number")
	if err != nil {
		return nil, err
	}
	cumulative, err := decodeOptQuantity(rr.CumulativeGasUsed, "receipt cumulative gas")
	if err != nil {
		return nil, err
	}
	gasUsed, err := decodeOptQuantity(rr.GasUsed, "receipt gas used")
	if err != nil {
		return nil, err
	}

	receipt := &types.Receipt{
		TransactionHash:   rr.TransactionHash,
		TransactionIndex:  uint32(txIndex),
		BlockHash:         rr.BlockHash,
		BlockNumber:       blockNumber,
		CumulativeGasUsed: cumulative,
		GasUsed:           gasUsed,
		ContractAddress:   rr.ContractAddress,
	}
	if rr.Status != nil {
		status, err := decodeQuantity(*rr.Status, "receipt status")
		if err != nil {
			return nil, err
		}
		receipt.RawStatus = &status
	}

	for i := range rr.Logs {
		l, err := rr.Logs[i].toLog()
		if err != nil {
			return nil, err
		}
		receipt.Logs = append(receipt.Logs, l)
	}
	return receipt, nil
}

func (rl *rpcLog) toLog() (*types.Log, error) {
	index, err := decodeOptQuantity(rl.LogIndex, "log index")
	if err != nil {
		return nil, err
	}
	blockNumber, err := decodeOptQuantity(rl.BlockNumber, "log block number")
	if err != nil {
		return nil, err
	}
	data, err := decodeBytes(rl.Data, "log data")
	if err != nil {
		return nil, err
	}
	return &types.Log{
		TransactionHash: rl.TxHash,
		Index:           uint32(index),
		BlockNumber:     blockNumber,
		Address:         rl.Address,
		Data:            data,
		Topics:          rl.Topics,
	}, nil
}

// flatten converts a call-frame tree into the internal-transaction list.
// Entries are numbered in pre-order; the trace address of a child extends
// its parent's with the child's position.
func (rf *rpcCallFrame) flatten(txHash common.Hash, blockNumber uint64) ([]*types.InternalTransaction, error) {
	var out []*types.InternalTransaction
	var index uint32
	var walk func(frame *rpcCallFrame, traceAddr []uint32) error
	walk = func(frame *rpcCallFrame, traceAddr []uint32) error {
		itx, err := frame.toInternalTransaction(txHash, blockNumber, index, traceAddr)
		if err != nil {
			return err
		}
		index++
		out = append(out, itx)
		for i := range frame.Calls {
			child := append(append([]uint32{}, traceAddr...), uint32(i))
			if err := walk(&frame.Calls[i], child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rf, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (rf *rpcCallFrame) toInternalTransaction(txHash common.Hash, blockNumber uint64, index uint32, traceAddr []uint32) (*types.InternalTransaction, error) {
	itxType, err := types.ITxTypeFromString(rf.Type)
	if err != nil {
		return nil, decodeErr(err, "trace frame type")
	}
	value, err := decodeBig(rf.Value, "trace value")
	if err != nil {
		return nil, err
	}
	input, err := decodeBytes(rf.Input, "trace input")
	if err != nil {
		return nil, err
	}
	output, err := decodeBytes(rf.Output, "trace output")
	if err != nil {
		return nil, err
	}

	itx := &types.InternalTransaction{
		TransactionHash: txHash,
		Index:           index,
		BlockNumber:     blockNumber,
		Type:            itxType,
		CallType:        rf.Type,
		From:            rf.From,
		Value:           value,
		TraceAddress:    traceAddr,
	}
	if rf.Gas != "" {
		gas, err := decodeQuantity(rf.Gas, "trace gas")
		if err != nil {
			return nil, err
		}
		itx.Gas = &gas
	}
	if rf.GasUsed != "" {
		gasUsed, err := decodeQuantity(rf.GasUsed, "trace gas used")
		if err != nil {
			return nil, err
		}
		itx.GasUsed = &gasUsed
	}
	if rf.Error != "" {
		reason := rf.Error
		itx.Error = &reason
	}

	if itxType == types.ITxTypeCreate {
		itx.Init = input
		itx.CreatedContractAddressHash = rf.To
		itx.CreatedContractCode = output
	} else {
		itx.To = rf.To
		itx.Input = input
		itx.Output = output
	}
	return itx, nil
}

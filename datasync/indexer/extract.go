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
	"bytes"
	"sort"

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/common"
)

// AddressEntry is one extracted address with the highest block number it was
// seen in. ContractCode is set when a successful create trace revealed the
// deployed code.
type AddressEntry struct {
	Hash         common.Address
	BlockNumber  uint64
	ContractCode []byte
}

// ExtractionInput is the composite bag the block fetcher hands to address
// extraction. Any field may be nil.
type ExtractionInput struct {
	Blocks               []*types.Block
	Transactions         []*types.Transaction
	InternalTransactions []*types.InternalTransaction
	Logs                 []*types.Log
	TokenTransfers       []*types.TokenTransfer
}

// ExtractAddresses derives every address touched by the input together with
// the maximum block number it appears in, deduplicated across sources.
// Extraction distributes over input union: merging two extractions by
// max block number gives the extraction of the combined input.
func ExtractAddresses(in ExtractionInput) []*AddressEntry {
	acc := map[common.Address]*AddressEntry{}

	see := func(addr *common.Address, blockNumber uint64) {
		if addr == nil || addr.IsZero() {
			return
		}
		entry, ok := acc[*addr]
		if !ok {
			acc[*addr] = &AddressEntry{Hash: *addr, BlockNumber: blockNumber}
			return
		}
		if blockNumber > entry.BlockNumber {
			entry.BlockNumber = blockNumber
		}
	}

	for _, b := range in.Blocks {
		miner := b.Miner
		see(&miner, b.Number)
	}

	for _, tx := range in.Transactions {
		var blockNumber uint64
		if tx.BlockNumber != nil {
			blockNumber = *tx.BlockNumber
		}
		from := tx.From
		see(&from, blockNumber)
		see(tx.To, blockNumber)
		see(tx.CreatedContractAddress, blockNumber)
	}

	for _, itx := range in.InternalTransactions {
		from := itx.From
		see(&from, itx.BlockNumber)
		see(itx.To, itx.BlockNumber)
		see(itx.CreatedContractAddressHash, itx.BlockNumber)
		if itx.Type == types.ITxTypeCreate && itx.Succeeded() && itx.CreatedContractAddressHash != nil {
			entry := acc[*itx.CreatedContractAddressHash]
			if entry != nil && len(itx.CreatedContractCode) > 0 {
				entry.ContractCode = itx.CreatedContractCode
			}
		}
	}

	for _, l := range in.Logs {
		addr := l.Address
		see(&addr, l.BlockNumber)
	}

	for _, tt := range in.TokenTransfers {
		from, to, token := tt.From, tt.To, tt.TokenContractAddress
		see(&from, tt.BlockNumber)
		see(&to, tt.BlockNumber)
		see(&token, tt.BlockNumber)
	}

	out := make([]*AddressEntry, 0, len(acc))
	for _, entry := range acc {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Hash.Bytes(), out[j].Hash.Bytes()) < 0
	})
	return out
}

// MergeAddressEntries folds extractions of disjoint inputs into one, keeping
// the maximum block number per hash and any contract code seen.
func MergeAddressEntries(parts ...[]*AddressEntry) []*AddressEntry {
	acc := map[common.Address]*AddressEntry{}
	for _, part := range parts {
		for _, e := range part {
			cur, ok := acc[e.Hash]
			if !ok {
				copied := *e
				acc[e.Hash] = &copied
				continue
			}
			if e.BlockNumber > cur.BlockNumber {
				cur.BlockNumber = e.BlockNumber
			}
			if len(e.ContractCode) > 0 {
				cur.ContractCode = e.ContractCode
			}
		}
	}
	out := make([]*AddressEntry, 0, len(acc))
	for _, entry := range acc {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Hash.Bytes(), out[j].Hash.Bytes()) < 0
	})
	return out
}

// accounts strips the balance block numbers off the entries; the address
// rows themselves never carry them at insert time.
func accounts(entries []*AddressEntry) []*types.Account {
	out := make([]*types.Account, 0, len(entries))
	for _, e := range entries {
		out = append(out, &types.Account{Hash: e.Hash, ContractCode: e.ContractCode})
	}
	return out
}

// balanceBlockNumbers pops the per-address balance block number map out of
// the entries for the balance fetcher hand-off.
func balanceBlockNumbers(entries []*AddressEntry) map[common.Address]uint64 {
	out := make(map[common.Address]uint64, len(entries))
	for _, e := range entries {
		out[e.Hash] = e.BlockNumber
	}
	return out
}

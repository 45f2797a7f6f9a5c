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
	"math/big"
	"testing"

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	addrB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	addrC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func entryByHash(entries []*AddressEntry, hash common.Address) *AddressEntry {
	for _, e := range entries {
		if e.Hash == hash {
			return e
		}
	}
	return nil
}

func TestExtractAddressesMaxBlockNumberWins(t *testing.T) {
	ten := uint64(10)
	twenty := uint64(20)
	in := ExtractionInput{
		Blocks: []*types.Block{{Number: 10, Miner: addrA}},
		Transactions: []*types.Transaction{
			{Hash: common.HexToHash("0x01"), From: addrA, To: &addrB, BlockNumber: &twenty},
			{Hash: common.HexToHash("0x02"), From: addrB, BlockNumber: &ten},
		},
	}
	entries := ExtractAddresses(in)
	require.Len(t, entries, 2)

	a := entryByHash(entries, addrA)
	require.NotNil(t, a)
	assert.Equal(t, uint64(20), a.BlockNumber, "later sighting must win")

	b := entryByHash(entries, addrB)
	require.NotNil(t, b)
	assert.Equal(t, uint64(20), b.BlockNumber)
}

func TestExtractAddressesContractCode(t *testing.T) {
	code := []byte{0x60, 0x80}
	in := ExtractionInput{
		InternalTransactions: []*types.InternalTransaction{{
			TransactionHash:            common.HexToHash("0x01"),
			BlockNumber:                5,
			Type:                       types.ITxTypeCreate,
			From:                       addrA,
			CreatedContractAddressHash: &addrC,
			CreatedContractCode:        code,
		}},
	}
	entries := ExtractAddresses(in)
	c := entryByHash(entries, addrC)
	require.NotNil(t, c)
	assert.Equal(t, code, c.ContractCode)
}

func TestExtractAddressesFailedCreateKeepsNoCode(t *testing.T) {
	reason := "out of gas"
	in := ExtractionInput{
		InternalTransactions: []*types.InternalTransaction{{
			TransactionHash:            common.HexToHash("0x01"),
			BlockNumber:                5,
			Type:                       types.ITxTypeCreate,
			From:                       addrA,
			CreatedContractAddressHash: &addrC,
			CreatedContractCode:        []byte{0x01},
			Error:                      &reason,
		}},
	}
	entries := ExtractAddresses(in)
	c := entryByHash(entries, addrC)
	require.NotNil(t, c)
	assert.Nil(t, c.ContractCode)
}

// Extracting the union must equal the max-merge of extracting each part.
func TestExtractionDistributesOverUnion(t *testing.T) {
	five := uint64(5)
	part1 := ExtractionInput{
		Transactions: []*types.Transaction{{Hash: common.HexToHash("0x01"), From: addrA, To: &addrB, BlockNumber: &five}},
	}
	part2 := ExtractionInput{
		Logs:   []*types.Log{{TransactionHash: common.HexToHash("0x02"), Address: addrB, BlockNumber: 7}},
		Blocks: []*types.Block{{Number: 9, Miner: addrA}},
	}
	union := ExtractionInput{
		Transactions: part1.Transactions,
		Logs:         part2.Logs,
		Blocks:       part2.Blocks,
	}

	merged := MergeAddressEntries(ExtractAddresses(part1), ExtractAddresses(part2))
	direct := ExtractAddresses(union)
	require.Equal(t, len(direct), len(merged))
	for i := range direct {
		assert.Equal(t, direct[i].Hash, merged[i].Hash)
		assert.Equal(t, direct[i].BlockNumber, merged[i].BlockNumber)
	}
}

func TestParseTokenTransfers(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	fromTopic := common.BytesToHash(addrA.Bytes())
	toTopic := common.BytesToHash(addrB.Bytes())

	logs := []*types.Log{
		{ // fungible transfer
			TransactionHash: common.HexToHash("0x01"),
			Index:           0,
			BlockNumber:     12,
			Address:         token,
			Topics:          []common.Hash{transferEventTopic, fromTopic, toTopic},
			Data:            big.NewInt(1000).Bytes(),
		},
		{ // non-fungible transfer
			TransactionHash: common.HexToHash("0x01"),
			Index:           1,
			BlockNumber:     12,
			Address:         token,
			Topics:          []common.Hash{transferEventTopic, fromTopic, toTopic, common.HexToHash("0x2a")},
		},
		{ // unrelated event
			TransactionHash: common.HexToHash("0x01"),
			Index:           2,
			Address:         token,
			Topics:          []common.Hash{common.HexToHash("0x1234")},
		},
	}

	transfers, tokens := ParseTokenTransfers(logs)
	require.Len(t, transfers, 2)
	require.Len(t, tokens, 1)

	assert.Equal(t, addrA, transfers[0].From)
	assert.Equal(t, addrB, transfers[0].To)
	assert.Zero(t, transfers[0].Amount.Cmp(big.NewInt(1000)))
	assert.Nil(t, transfers[0].TokenID)

	assert.Nil(t, transfers[1].Amount)
	assert.Zero(t, transfers[1].TokenID.Cmp(big.NewInt(42)))
}

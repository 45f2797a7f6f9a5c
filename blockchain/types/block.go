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

package types

import (
	"math/big"
	"time"

	"github.com/klaytn/chainscope/common"
	"github.com/pkg/errors"
)

// Block is a normalized chain block as kept by the explorer. At most one
// block per number may hold Consensus == true in the store.
type Block struct {
	Hash            common.Hash
	Number          uint64
	ParentHash      common.Hash
	Miner           common.Address
	Timestamp       time.Time
	Difficulty      *big.Int
	TotalDifficulty *big.Int
	GasUsed         uint64
	GasLimit        uint64
	Size            uint64
	Nonce           uint64
	Consensus       bool

	// Uncles holds the hashes of the referenced second-degree blocks.
	Uncles []common.Hash
}

// ValidateForImport reports whether the block can enter the importer.
func (b *Block) ValidateForImport() error {
	if b.Hash.IsZero() {
		return errors.New("block: hash is required")
	}
	if b.ParentHash.IsZero() && b.Number != 0 {
		return errors.Errorf("block %d: parent hash is required", b.Number)
	}
	if b.GasLimit != 0 && b.GasUsed > b.GasLimit {
		return errors.Errorf("block %d: gas used %d exceeds gas limit %d", b.Number, b.GasUsed, b.GasLimit)
	}
	if b.Timestamp.IsZero() {
		return errors.Errorf("block %d: timestamp is required", b.Number)
	}
	return nil
}

// BlockSecondDegreeRelation links a canonical nephew block to one of its
// uncles. UncleFetchedAt stays nil until the uncle body itself is ingested.
type BlockSecondDegreeRelation struct {
	NephewHash     common.Hash
	UncleHash      common.Hash
	UncleFetchedAt *time.Time
}

// BlockReward is the payout record for a block, keyed by
// (address, address_type, block_hash).
type BlockReward struct {
	AddressHash common.Hash
	AddressType string
	BlockHash   common.Hash
	Reward      *big.Int
}

// TransactionFork records a transaction that was collated into a block that
// lost consensus, keyed by (uncle_hash, index).
type TransactionFork struct {
	UncleHash common.Hash
	Index     uint32
	Hash      common.Hash
}

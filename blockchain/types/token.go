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

// Token is a token contract, keyed by its contract address. Metadata fields
// are enriched out of band and may lag behind the first transfer sighting.
type Token struct {
	ContractAddressHash common.Address
	Name                string
	Symbol              string
	Decimals            uint8
	TokenType           string
}

func (t *Token) ValidateForImport() error {
	if t.ContractAddressHash.IsZero() {
		return errors.New("token: contract address is required")
	}
	return nil
}

// TokenTransfer is one Transfer event decoded from a log, keyed by
// (transaction_hash, log_index).
type TokenTransfer struct {
	TransactionHash      common.Hash
	LogIndex             uint32
	BlockNumber          uint64
	TokenContractAddress common.Address
	From                 common.Address
	To                   common.Address
	Amount               *big.Int
	TokenID              *big.Int
}

func (tt *TokenTransfer) ValidateForImport() error {
	if tt.TransactionHash.IsZero() {
		return errors.New("token transfer: transaction hash is required")
	}
	if tt.TokenContractAddress.IsZero() {
		return errors.Errorf("token transfer %s/%d: token contract is required", tt.TransactionHash, tt.LogIndex)
	}
	if tt.Amount == nil && tt.TokenID == nil {
		return errors.Errorf("token transfer %s/%d: amount or token id is required", tt.TransactionHash, tt.LogIndex)
	}
	return nil
}

// TokenBalance is the balance of an address in a token at a block, keyed by
// (address_hash, token_contract_address_hash, block_number). Value stays nil
// until the token balance fetcher has resolved it.
type TokenBalance struct {
	AddressHash          common.Address
	TokenContractAddress common.Address
	BlockNumber          uint64
	Value                *big.Int
	ValueFetchedAt       *time.Time
}

// CurrentTokenBalance is the derived per-(address, token) projection keeping
// the row with the maximum block number.
type CurrentTokenBalance struct {
	AddressHash          common.Address
	TokenContractAddress common.Address
	BlockNumber          uint64
	Value                *big.Int
}

// Account is the explorer's address record. FetchedBalance and its block
// number are written by the balance fetcher, not at extraction time.
type Account struct {
	Hash                      common.Address
	FetchedBalance            *big.Int
	FetchedBalanceBlockNumber *uint64
	ContractCode              []byte
}

func (a *Account) ValidateForImport() error {
	if a.Hash.IsZero() {
		return errors.New("address: hash is required")
	}
	return nil
}

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

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/common"
)

// transferEventTopic is keccak256("Transfer(address,address,uint256)"),
// shared by the fungible and non-fungible token standards.
var transferEventTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const (
	tokenTypeERC20  = "ERC-20"
	tokenTypeERC721 = "ERC-721"
)

// ParseTokenTransfers decodes Transfer events out of the given logs. A
// three-topic event is a fungible transfer with the amount in the data; a
// four-topic event is a non-fungible transfer with the token id in the last
// topic. One Token row per distinct emitting contract is returned alongside.
func ParseTokenTransfers(logs []*types.Log) ([]*types.TokenTransfer, []*types.Token) {
	var transfers []*types.TokenTransfer
	tokens := map[common.Address]*types.Token{}

	for _, l := range logs {
		if l.FirstTopic() != transferEventTopic {
			continue
		}
		switch len(l.Topics) {
		case 3:
			if len(l.Data) == 0 {
				continue
			}
			transfers = append(transfers, &types.TokenTransfer{
				TransactionHash:      l.TransactionHash,
				LogIndex:             l.Index,
				BlockNumber:          l.BlockNumber,
				TokenContractAddress: l.Address,
				From:                 common.BytesToAddress(l.Topics[1].Bytes()),
				To:                   common.BytesToAddress(l.Topics[2].Bytes()),
				Amount:               new(big.Int).SetBytes(l.Data),
			})
			if _, ok := tokens[l.Address]; !ok {
				tokens[l.Address] = &types.Token{ContractAddressHash: l.Address, TokenType: tokenTypeERC20}
			}
		case 4:
			transfers = append(transfers, &types.TokenTransfer{
				TransactionHash:      l.TransactionHash,
				LogIndex:             l.Index,
				BlockNumber:          l.BlockNumber,
				TokenContractAddress: l.Address,
				From:                 common.BytesToAddress(l.Topics[1].Bytes()),
				To:                   common.BytesToAddress(l.Topics[2].Bytes()),
				TokenID:              new(big.Int).SetBytes(l.Topics[3].Bytes()),
			})
			if _, ok := tokens[l.Address]; !ok {
				tokens[l.Address] = &types.Token{ContractAddressHash: l.Address, TokenType: tokenTypeERC721}
			}
		}
	}

	tokenList := make([]*types.Token, 0, len(tokens))
	for _, tok := range tokens {
		tokenList = append(tokenList, tok)
	}
	return transfers, tokenList
}

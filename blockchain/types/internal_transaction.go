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

	"github.com/klaytn/chainscope/common"
	"github.com/pkg/errors"
)

// InternalTransaction is one entry of a transaction's execution trace, keyed
// by (transaction_hash, index). Depending on Type, either the call fields
// (Input/Output/To) or the create fields (Init/CreatedContract*) are set.
type InternalTransaction struct {
	TransactionHash common.Hash
	Index           uint32
	BlockNumber     uint64
	Type            ITxType
	CallType        string
	From            common.Address
	To              *common.Address
	Value           *big.Int
	Gas             *uint64
	GasUsed         *uint64

	Input  []byte
	Output []byte

	Init                       []byte
	CreatedContractAddressHash *common.Address
	CreatedContractCode        []byte

	TraceAddress []uint32
	Error        *string
}

// Succeeded reports whether the traced frame completed without error.
func (itx *InternalTransaction) Succeeded() bool { return itx.Error == nil }

// ValidateForImport reports whether the internal transaction can enter the
// importer.
func (itx *InternalTransaction) ValidateForImport() error {
	if itx.TransactionHash.IsZero() {
		return errors.New("internal transaction: transaction hash is required")
	}
	switch itx.Type {
	case ITxTypeCall:
		if itx.To == nil && itx.Succeeded() {
			return errors.Errorf("internal transaction %s/%d: call without callee", itx.TransactionHash, itx.Index)
		}
	case ITxTypeCreate:
		if itx.Succeeded() && itx.CreatedContractAddressHash == nil {
			return errors.Errorf("internal transaction %s/%d: successful create without contract address", itx.TransactionHash, itx.Index)
		}
	case ITxTypeReward, ITxTypeSuicide:
	default:
		return errors.Wrapf(ErrUnknownITxType, "internal transaction %s/%d", itx.TransactionHash, itx.Index)
	}
	return nil
}

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
	"testing"
	"time"

	"github.com/klaytn/chainscope/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiptDeriveStatus(t *testing.T) {
	one := uint64(1)
	zero := uint64(0)

	r := &Receipt{RawStatus: &one}
	status, err := r.DeriveStatus(21000)
	require.NoError(t, err)
	assert.Equal(t, TxStatusOk, status)

	r = &Receipt{RawStatus: &zero}
	status, err = r.DeriveStatus(21000)
	require.NoError(t, err)
	assert.Equal(t, TxStatusError, status)

	// pre-Byzantium: the whole budget spent means failure
	r = &Receipt{GasUsed: 21000}
	status, err = r.DeriveStatus(21000)
	require.NoError(t, err)
	assert.Equal(t, TxStatusError, status)

	r = &Receipt{GasUsed: 21000}
	status, err = r.DeriveStatus(50000)
	require.NoError(t, err)
	assert.Equal(t, TxStatusOk, status)

	// nothing to derive from at all
	r = &Receipt{}
	_, err = r.DeriveStatus(0)
	assert.Equal(t, ErrNoReceiptStatus, err)
}

func TestTransactionValidateForImport(t *testing.T) {
	blockHash := common.HexToHash("0xb1")
	number := uint64(1)
	index := uint32(0)
	gasUsed := uint64(21000)

	collated := &Transaction{
		Hash: common.HexToHash("0xa1"), BlockHash: &blockHash, BlockNumber: &number, Index: &index,
		GasUsed: &gasUsed, CumulativeGasUsed: &gasUsed, Status: TxStatusOk,
	}
	assert.NoError(t, collated.ValidateForImport())

	missingStatus := &Transaction{
		Hash: common.HexToHash("0xa1"), BlockHash: &blockHash, BlockNumber: &number, Index: &index,
		GasUsed: &gasUsed, CumulativeGasUsed: &gasUsed,
	}
	assert.Error(t, missingStatus.ValidateForImport(), "collated transactions need a status")

	pending := &Transaction{Hash: common.HexToHash("0xa1")}
	assert.NoError(t, pending.ValidateForImport())

	halfPending := &Transaction{Hash: common.HexToHash("0xa1"), Index: &index}
	assert.Error(t, halfPending.ValidateForImport(), "pending transactions must have no collation fields")
}

func TestBlockValidateForImport(t *testing.T) {
	valid := &Block{
		Hash: common.HexToHash("0xb1"), Number: 5, ParentHash: common.HexToHash("0xb0"),
		Timestamp: time.Unix(1550000000, 0), GasLimit: 1000, GasUsed: 500,
	}
	assert.NoError(t, valid.ValidateForImport())

	genesis := &Block{Hash: common.HexToHash("0xb1"), Timestamp: time.Unix(0, 1)}
	assert.NoError(t, genesis.ValidateForImport(), "the genesis block has no parent")

	noParent := &Block{Hash: common.HexToHash("0xb1"), Number: 5, Timestamp: time.Unix(0, 1)}
	assert.Error(t, noParent.ValidateForImport())

	overGas := &Block{
		Hash: common.HexToHash("0xb1"), Number: 5, ParentHash: common.HexToHash("0xb0"),
		Timestamp: time.Unix(0, 1), GasLimit: 100, GasUsed: 200,
	}
	assert.Error(t, overGas.ValidateForImport())
}

func TestInternalTransactionValidateForImport(t *testing.T) {
	to := common.HexToAddress("0x02")
	created := common.HexToAddress("0x03")

	call := &InternalTransaction{TransactionHash: common.HexToHash("0xa1"), Type: ITxTypeCall, To: &to}
	assert.NoError(t, call.ValidateForImport())

	badCall := &InternalTransaction{TransactionHash: common.HexToHash("0xa1"), Type: ITxTypeCall}
	assert.Error(t, badCall.ValidateForImport())

	create := &InternalTransaction{
		TransactionHash: common.HexToHash("0xa1"), Type: ITxTypeCreate,
		CreatedContractAddressHash: &created,
	}
	assert.NoError(t, create.ValidateForImport())

	reason := "out of gas"
	failedCreate := &InternalTransaction{
		TransactionHash: common.HexToHash("0xa1"), Type: ITxTypeCreate, Error: &reason,
	}
	assert.NoError(t, failedCreate.ValidateForImport(), "failed creates have no contract address")
}

func TestITxTypeFromString(t *testing.T) {
	for in, want := range map[string]ITxType{
		"call": ITxTypeCall, "CALL": ITxTypeCall, "delegatecall": ITxTypeCall,
		"create": ITxTypeCreate, "CREATE2": ITxTypeCreate,
		"suicide": ITxTypeSuicide, "SELFDESTRUCT": ITxTypeSuicide,
		"reward": ITxTypeReward,
	} {
		got, err := ITxTypeFromString(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ITxTypeFromString("warp")
	assert.Error(t, err)
}

func TestTxStatusDBValue(t *testing.T) {
	assert.Equal(t, int64(1), TxStatusOk.DBValue())
	assert.Equal(t, int64(0), TxStatusError.DBValue())
	assert.Nil(t, TxStatusPending.DBValue())
}
